package classfile

import (
	"encoding/binary"
	"fmt"
)

const AttrRuntimeInvisibleAnnotations = "RuntimeInvisibleAnnotations"

// AnnotationElement is a string-valued element_value_pair.
type AnnotationElement struct {
	Name  string
	Value string
}

// AnnotationTypes lists the type descriptors of the annotations in a
// Runtime*Annotations attribute body.
func (cf *ClassFile) AnnotationTypes(data []byte) ([]string, error) {
	r := &reader{buf: data}
	n := int(r.u2())
	out := make([]string, 0, n)
	for i := 0; i < n && r.err == nil; i++ {
		t := r.annotation()
		if r.err != nil {
			break
		}
		name, err := cf.Pool.Utf8(t)
		if err != nil {
			return nil, err
		}
		out = append(out, name)
	}
	if r.err != nil {
		return nil, r.err
	}
	return out, nil
}

// annotation skips one annotation structure and returns its type index.
func (r *reader) annotation() uint16 {
	t := r.u2()
	pairs := int(r.u2())
	for i := 0; i < pairs && r.err == nil; i++ {
		r.u2()
		r.elementValue()
	}
	return t
}

func (r *reader) elementValue() {
	switch tag := r.u1(); tag {
	case 'B', 'C', 'D', 'F', 'I', 'J', 'S', 'Z', 's', 'c':
		r.u2()
	case 'e':
		r.u2()
		r.u2()
	case '@':
		r.annotation()
	case '[':
		n := int(r.u2())
		for i := 0; i < n && r.err == nil; i++ {
			r.elementValue()
		}
	default:
		r.fail("unknown element value tag %q", tag)
	}
}

// AddInvisibleAnnotation appends an annotation with string elements to the
// RuntimeInvisibleAnnotations attribute in attrs, creating it when missing.
// It returns false when an annotation of the same type is already present.
func (cf *ClassFile) AddInvisibleAnnotation(attrs *[]*Attribute, typeDesc string, elems []AnnotationElement) (bool, error) {
	w := &writer{}
	t, err := cf.Pool.InternUtf8(typeDesc)
	if err != nil {
		return false, err
	}
	w.u2(t)
	w.u2(uint16(len(elems)))
	for _, e := range elems {
		n, err := cf.Pool.InternUtf8(e.Name)
		if err != nil {
			return false, err
		}
		v, err := cf.Pool.InternUtf8(EncodeMUTF8(e.Value))
		if err != nil {
			return false, err
		}
		w.u2(n)
		w.u1('s')
		w.u2(v)
	}

	if a := cf.Attribute(*attrs, AttrRuntimeInvisibleAnnotations); a != nil {
		types, err := cf.AnnotationTypes(a.Data)
		if err != nil {
			return false, fmt.Errorf("%s: %w", AttrRuntimeInvisibleAnnotations, err)
		}
		for _, existing := range types {
			if existing == typeDesc {
				return false, nil
			}
		}
		count := binary.BigEndian.Uint16(a.Data)
		data := make([]byte, 0, len(a.Data)+w.buf.Len())
		data = binary.BigEndian.AppendUint16(data, count+1)
		data = append(data, a.Data[2:]...)
		a.Data = append(data, w.buf.Bytes()...)
		return true, nil
	}

	name, err := cf.Pool.InternUtf8(AttrRuntimeInvisibleAnnotations)
	if err != nil {
		return false, err
	}
	data := binary.BigEndian.AppendUint16(nil, 1)
	*attrs = append(*attrs, &Attribute{Name: name, Data: append(data, w.buf.Bytes()...)})
	return true, nil
}

// AnnotationStrings returns the string elements of the first annotation of
// the given type in a Runtime*Annotations attribute.
func (cf *ClassFile) AnnotationStrings(data []byte, typeDesc string) (map[string]string, bool, error) {
	r := &reader{buf: data}
	n := int(r.u2())
	for i := 0; i < n && r.err == nil; i++ {
		t := r.u2()
		pairs := int(r.u2())
		name, _ := cf.Pool.Utf8(t)
		out := map[string]string{}
		for j := 0; j < pairs && r.err == nil; j++ {
			k := r.u2()
			start := r.off
			r.elementValue()
			if r.err != nil || data[start] != 's' {
				continue
			}
			key, err := cf.Pool.Utf8(k)
			if err != nil {
				return nil, false, err
			}
			val, err := cf.Pool.Utf8(binary.BigEndian.Uint16(data[start+1:]))
			if err != nil {
				return nil, false, err
			}
			out[key] = val
		}
		if name == typeDesc && r.err == nil {
			return out, true, nil
		}
	}
	if r.err != nil {
		return nil, false, r.err
	}
	return nil, false, nil
}
