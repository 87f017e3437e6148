package rename

import (
	"encoding/binary"
	"fmt"
	"strings"

	"jremap/internal/classfile"
	"jremap/internal/container"
	"jremap/internal/graph"
)

const (
	attrSignature      = "Signature"
	attrCode           = "Code"
	attrLocalVars      = "LocalVariableTable"
	attrLocalVarTypes  = "LocalVariableTypeTable"
	attrEnclosing      = "EnclosingMethod"
	attrInnerClasses   = "InnerClasses"
	annotationValue    = "value"
	annotationDescElem = "descriptor"
)

// rewriter applies committed edits to a clone of one class file. Utf8
// entries are never changed in place: new names are interned and the
// referring entries repointed, so constants that happen to share a Utf8
// with a renamed symbol keep their value.
type rewriter struct {
	e    *edits
	opts Options
	t    *container.Type
	tid  graph.SymbolID
	cf   *classfile.ClassFile
	pool *classfile.Pool

	annotated int
}

func (e *edits) rewrite(t *container.Type, opts Options) (*classfile.ClassFile, int, error) {
	cf := t.ClassFile().Clone()
	w := &rewriter{e: e, opts: opts, t: t, tid: graph.TypeID(t.Position()), cf: cf, pool: cf.Pool}
	// Snapshot the pool size: entries interned below are already final.
	n := w.pool.Count()

	for i, f := range cf.Fields {
		if err := w.member(f, graph.FieldID(w.tid, i, t.Fields()[i].Descriptor()), false); err != nil {
			return nil, 0, err
		}
	}
	for i, m := range cf.Methods {
		if err := w.member(m, graph.MethodID(w.tid, i, t.Methods()[i].Descriptor()), true); err != nil {
			return nil, 0, err
		}
	}
	if err := w.attributes(cf.Attributes); err != nil {
		return nil, 0, err
	}
	if err := w.innerClasses(); err != nil {
		return nil, 0, err
	}
	if err := w.enclosingMethod(); err != nil {
		return nil, 0, err
	}
	if to, ok := e.types[t.Name()]; ok && to != t.Name() && opts.Annotate {
		if err := w.annotate(&cf.Attributes, t.Name(), ""); err != nil {
			return nil, 0, err
		}
	}
	if err := w.constants(n); err != nil {
		return nil, 0, err
	}
	return cf, w.annotated, nil
}

func (w *rewriter) utf8(raw string) (uint16, error) {
	return w.pool.InternUtf8(raw)
}

func (w *rewriter) mapDescriptor(desc string) (string, error) {
	return classfile.MapDescriptor(desc, w.e.mapClass)
}

func (w *rewriter) member(m *classfile.Member, id graph.SymbolID, method bool) error {
	name, err := w.pool.Utf8(m.Name)
	if err != nil {
		return err
	}
	desc, err := w.pool.Utf8(m.Descriptor)
	if err != nil {
		return err
	}
	if to, ok := w.e.decls[id]; ok && to != name {
		if m.Name, err = w.utf8(to); err != nil {
			return err
		}
		if w.opts.Annotate {
			if err := w.annotate(&m.Attributes, name, desc); err != nil {
				return err
			}
		}
	}
	mapped, err := w.mapDescriptor(desc)
	if err != nil {
		return fmt.Errorf("%s: %w", id, err)
	}
	if mapped != desc {
		if m.Descriptor, err = w.utf8(mapped); err != nil {
			return err
		}
	}
	if err := w.attributes(m.Attributes); err != nil {
		return fmt.Errorf("%s: %w", id, err)
	}
	return nil
}

func (w *rewriter) annotate(attrs *[]*classfile.Attribute, from, desc string) error {
	elems := []classfile.AnnotationElement{{Name: annotationValue, Value: display(from)}}
	if desc != "" {
		elems = append(elems, classfile.AnnotationElement{Name: annotationDescElem, Value: display(desc)})
	}
	added, err := w.cf.AddInvisibleAnnotation(attrs, w.opts.AnnotationDescriptor, elems)
	if err != nil {
		return err
	}
	if added {
		w.annotated++
	}
	return nil
}

func (w *rewriter) attributes(attrs []*classfile.Attribute) error {
	for _, a := range attrs {
		name, err := w.pool.Utf8(a.Name)
		if err != nil {
			return err
		}
		switch name {
		case attrSignature:
			if err := w.signature(a, classfile.MapSignature); err != nil {
				return err
			}
		case attrCode:
			if err := w.code(a); err != nil {
				return err
			}
		}
	}
	return nil
}

// signature rewrites an attribute whose body is one Utf8 index.
func (w *rewriter) signature(a *classfile.Attribute, mapFn func(string, func(string) string) (string, error)) error {
	if len(a.Data) != 2 {
		return fmt.Errorf("signature attribute of %d bytes", len(a.Data))
	}
	sig, err := w.pool.Utf8(binary.BigEndian.Uint16(a.Data))
	if err != nil {
		return err
	}
	mapped, err := mapFn(sig, w.e.mapClass)
	if err != nil {
		return err
	}
	if mapped == sig {
		return nil
	}
	idx, err := w.utf8(mapped)
	if err != nil {
		return err
	}
	a.Data = binary.BigEndian.AppendUint16(nil, idx)
	return nil
}

func (w *rewriter) code(a *classfile.Attribute) error {
	code, err := classfile.ParseCode(a.Data)
	if err != nil {
		return err
	}
	changed := false
	for _, sub := range code.Attributes {
		name, err := w.pool.Utf8(sub.Name)
		if err != nil {
			return err
		}
		var mapFn func(string, func(string) string) (string, error)
		switch name {
		case attrLocalVars:
			mapFn = classfile.MapDescriptor
		case attrLocalVarTypes:
			mapFn = classfile.MapSignature
		default:
			continue
		}
		vars, err := classfile.ParseLocalVariables(sub.Data)
		if err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		dirty := false
		for i, v := range vars {
			d, err := w.pool.Utf8(v.Descriptor)
			if err != nil {
				return err
			}
			mapped, err := mapFn(d, w.e.mapClass)
			if err != nil {
				return fmt.Errorf("%s: %w", name, err)
			}
			if mapped == d {
				continue
			}
			if vars[i].Descriptor, err = w.utf8(mapped); err != nil {
				return err
			}
			dirty = true
		}
		if dirty {
			sub.Data = classfile.EncodeLocalVariables(vars)
			changed = true
		}
	}
	if changed {
		a.Data = code.Encode()
	}
	return nil
}

// innerClasses keeps the simple names of renamed nested classes in step
// with their new binary names.
func (w *rewriter) innerClasses() error {
	a := w.cf.Attribute(w.cf.Attributes, attrInnerClasses)
	if a == nil || len(a.Data) < 2 {
		return nil
	}
	n := int(binary.BigEndian.Uint16(a.Data))
	if len(a.Data) != 2+8*n {
		return fmt.Errorf("%s attribute of %d bytes for %d classes", attrInnerClasses, len(a.Data), n)
	}
	for i := 0; i < n; i++ {
		row := a.Data[2+8*i : 2+8*(i+1)]
		inner := binary.BigEndian.Uint16(row[0:])
		outer := binary.BigEndian.Uint16(row[2:])
		simple := binary.BigEndian.Uint16(row[4:])
		if simple == 0 {
			continue
		}
		name, err := w.pool.ClassName(inner)
		if err != nil {
			return err
		}
		to := w.e.mapClass(name)
		if to == name {
			continue
		}
		short := to[strings.LastIndexAny(to, "/$")+1:]
		if outer != 0 {
			o, err := w.pool.ClassName(outer)
			if err != nil {
				return err
			}
			if prefix := w.e.mapClass(o) + "$"; strings.HasPrefix(to, prefix) {
				short = strings.TrimPrefix(to, prefix)
			}
		}
		idx, err := w.utf8(short)
		if err != nil {
			return err
		}
		binary.BigEndian.PutUint16(row[4:], idx)
	}
	return nil
}

func (w *rewriter) enclosingMethod() error {
	a := w.cf.Attribute(w.cf.Attributes, attrEnclosing)
	if a == nil {
		return nil
	}
	if len(a.Data) != 4 {
		return fmt.Errorf("%s attribute of %d bytes", attrEnclosing, len(a.Data))
	}
	nat := binary.BigEndian.Uint16(a.Data[2:])
	if nat == 0 {
		return nil
	}
	owner, err := w.pool.ClassName(binary.BigEndian.Uint16(a.Data))
	if err != nil {
		return err
	}
	name, desc, err := w.pool.NameAndType(nat)
	if err != nil {
		return err
	}
	newName := name
	if to, ok := w.e.methodName(owner, name, desc); ok {
		newName = to
	}
	newDesc, err := w.mapDescriptor(desc)
	if err != nil {
		return err
	}
	if newName == name && newDesc == desc {
		return nil
	}
	idx, err := w.pool.InternNameAndType(newName, newDesc)
	if err != nil {
		return err
	}
	binary.BigEndian.PutUint16(a.Data[2:], idx)
	return nil
}

// constants repoints the first n pool entries at renamed names.
func (w *rewriter) constants(n int) error {
	renamedRefs := w.e.refs[w.tid]
	for i := 1; i < n; i++ {
		idx := uint16(i)
		c, err := w.pool.At(idx)
		if err != nil {
			continue
		}
		switch c.Tag {
		case classfile.TagClass:
			name, err := w.pool.Utf8(c.A)
			if err != nil {
				return err
			}
			mapped, err := classfile.MapClassName(name, w.e.mapClass)
			if err != nil {
				return fmt.Errorf("constant %d: %w", i, err)
			}
			if mapped == name {
				continue
			}
			u, err := w.utf8(mapped)
			if err != nil {
				return err
			}
			if err := w.pool.SetRefs(idx, u, 0); err != nil {
				return err
			}
		case classfile.TagFieldref, classfile.TagMethodref, classfile.TagInterfaceMethodref:
			name, desc, err := w.pool.NameAndType(c.B)
			if err != nil {
				return err
			}
			newName := name
			if to, ok := renamedRefs[idx]; ok {
				newName = to
			}
			if err := w.repointNameAndType(idx, c, name, desc, newName); err != nil {
				return err
			}
		case classfile.TagMethodType:
			desc, err := w.pool.Utf8(c.A)
			if err != nil {
				return err
			}
			mapped, err := w.mapDescriptor(desc)
			if err != nil {
				return fmt.Errorf("constant %d: %w", i, err)
			}
			if mapped == desc {
				continue
			}
			u, err := w.utf8(mapped)
			if err != nil {
				return err
			}
			if err := w.pool.SetRefs(idx, u, 0); err != nil {
				return err
			}
		case classfile.TagDynamic, classfile.TagInvokeDynamic:
			name, desc, err := w.pool.NameAndType(c.B)
			if err != nil {
				return err
			}
			newName := name
			if c.Tag == classfile.TagInvokeDynamic {
				newName = w.samName(name, desc)
			}
			if err := w.repointNameAndType(idx, c, name, desc, newName); err != nil {
				return err
			}
		}
	}
	return nil
}

func (w *rewriter) repointNameAndType(idx uint16, c classfile.Constant, name, desc, newName string) error {
	newDesc, err := w.mapDescriptor(desc)
	if err != nil {
		return fmt.Errorf("constant %d: %w", idx, err)
	}
	if newName == name && newDesc == desc {
		return nil
	}
	nat, err := w.pool.InternNameAndType(newName, newDesc)
	if err != nil {
		return err
	}
	return w.pool.SetRefs(idx, c.A, nat)
}

// samName follows a lambda's interface method when the functional
// interface lives in the container and its method was renamed.
func (w *rewriter) samName(name, desc string) string {
	md, err := classfile.ParseMethodDescriptor(desc)
	if err != nil || md.Return.Base != 'L' || md.Return.Dims > 0 {
		return name
	}
	if to, ok := w.e.methodName(md.Return.Class, name, ""); ok {
		return to
	}
	return name
}
