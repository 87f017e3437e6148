// Package classfile reads and writes JVM class files.
package classfile

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// Magic is the first four bytes of every class file.
const Magic = 0xCAFEBABE

const (
	AccPublic     uint16 = 0x0001
	AccPrivate    uint16 = 0x0002
	AccProtected  uint16 = 0x0004
	AccStatic     uint16 = 0x0008
	AccFinal      uint16 = 0x0010
	AccSuper      uint16 = 0x0020
	AccVolatile   uint16 = 0x0040
	AccBridge     uint16 = 0x0040
	AccTransient  uint16 = 0x0080
	AccVarargs    uint16 = 0x0080
	AccNative     uint16 = 0x0100
	AccInterface  uint16 = 0x0200
	AccAbstract   uint16 = 0x0400
	AccSynthetic  uint16 = 0x1000
	AccAnnotation uint16 = 0x2000
	AccEnum       uint16 = 0x4000
)

// FormatError reports a malformed class file and the byte offset where
// decoding stopped.
type FormatError struct {
	Offset int
	Msg    string
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("class file: offset %d: %s", e.Offset, e.Msg)
}

type Attribute struct {
	Name uint16
	Data []byte
}

type Member struct {
	Access     uint16
	Name       uint16
	Descriptor uint16
	Attributes []*Attribute
}

type ClassFile struct {
	Minor      uint16
	Major      uint16
	Pool       *Pool
	Access     uint16
	ThisClass  uint16
	SuperClass uint16
	Interfaces []uint16
	Fields     []*Member
	Methods    []*Member
	Attributes []*Attribute
}

// Parse decodes a complete class file. Trailing bytes are an error.
func Parse(data []byte) (*ClassFile, error) {
	r := &reader{buf: data}
	if r.u4() != Magic {
		return nil, &FormatError{Offset: 0, Msg: "bad magic"}
	}
	cf := &ClassFile{}
	cf.Minor = r.u2()
	cf.Major = r.u2()
	cf.Pool = r.pool()
	cf.Access = r.u2()
	cf.ThisClass = r.u2()
	cf.SuperClass = r.u2()
	n := int(r.u2())
	for i := 0; i < n && r.err == nil; i++ {
		cf.Interfaces = append(cf.Interfaces, r.u2())
	}
	cf.Fields = r.members()
	cf.Methods = r.members()
	cf.Attributes = r.attributes()
	if r.err != nil {
		return nil, r.err
	}
	if r.off != len(data) {
		return nil, &FormatError{Offset: r.off, Msg: "trailing bytes after class file"}
	}
	if err := cf.validate(); err != nil {
		return nil, &FormatError{Offset: 8, Msg: err.Error()}
	}
	return cf, nil
}

func (cf *ClassFile) validate() error {
	if err := cf.Pool.validate(); err != nil {
		return err
	}
	if _, err := cf.Pool.ClassName(cf.ThisClass); err != nil {
		return fmt.Errorf("this_class: %w", err)
	}
	if cf.SuperClass != 0 {
		if _, err := cf.Pool.ClassName(cf.SuperClass); err != nil {
			return fmt.Errorf("super_class: %w", err)
		}
	}
	for _, i := range cf.Interfaces {
		if _, err := cf.Pool.ClassName(i); err != nil {
			return fmt.Errorf("interface: %w", err)
		}
	}
	check := func(attrs []*Attribute) error {
		for _, a := range attrs {
			if _, err := cf.Pool.Utf8(a.Name); err != nil {
				return fmt.Errorf("attribute name: %w", err)
			}
		}
		return nil
	}
	for _, list := range [][]*Member{cf.Fields, cf.Methods} {
		for _, m := range list {
			if _, err := cf.Pool.Utf8(m.Name); err != nil {
				return fmt.Errorf("member name: %w", err)
			}
			if _, err := cf.Pool.Utf8(m.Descriptor); err != nil {
				return fmt.Errorf("member descriptor: %w", err)
			}
			if err := check(m.Attributes); err != nil {
				return err
			}
		}
	}
	return check(cf.Attributes)
}

func (cf *ClassFile) Name() (string, error) {
	return cf.Pool.ClassName(cf.ThisClass)
}

// SuperName returns "" for java/lang/Object and module-info.
func (cf *ClassFile) SuperName() (string, error) {
	if cf.SuperClass == 0 {
		return "", nil
	}
	return cf.Pool.ClassName(cf.SuperClass)
}

func (cf *ClassFile) InterfaceNames() ([]string, error) {
	names := make([]string, 0, len(cf.Interfaces))
	for _, i := range cf.Interfaces {
		n, err := cf.Pool.ClassName(i)
		if err != nil {
			return nil, err
		}
		names = append(names, n)
	}
	return names, nil
}

// Attribute returns the first attribute in attrs with the given name.
func (cf *ClassFile) Attribute(attrs []*Attribute, name string) *Attribute {
	for _, a := range attrs {
		if n, err := cf.Pool.Utf8(a.Name); err == nil && n == name {
			return a
		}
	}
	return nil
}

// Bytes serializes the class file.
func (cf *ClassFile) Bytes() []byte {
	w := &writer{}
	w.u4(Magic)
	w.u2(cf.Minor)
	w.u2(cf.Major)
	w.pool(cf.Pool)
	w.u2(cf.Access)
	w.u2(cf.ThisClass)
	w.u2(cf.SuperClass)
	w.u2(uint16(len(cf.Interfaces)))
	for _, i := range cf.Interfaces {
		w.u2(i)
	}
	w.members(cf.Fields)
	w.members(cf.Methods)
	w.attributes(cf.Attributes)
	return w.buf.Bytes()
}

// Clone returns a deep copy that shares nothing with cf.
func (cf *ClassFile) Clone() *ClassFile {
	out := *cf
	out.Pool = cf.Pool.clone()
	out.Interfaces = append([]uint16(nil), cf.Interfaces...)
	out.Fields = cloneMembers(cf.Fields)
	out.Methods = cloneMembers(cf.Methods)
	out.Attributes = cloneAttributes(cf.Attributes)
	return &out
}

func cloneMembers(in []*Member) []*Member {
	out := make([]*Member, len(in))
	for i, m := range in {
		c := *m
		c.Attributes = cloneAttributes(m.Attributes)
		out[i] = &c
	}
	return out
}

func cloneAttributes(in []*Attribute) []*Attribute {
	out := make([]*Attribute, len(in))
	for i, a := range in {
		out[i] = &Attribute{Name: a.Name, Data: append([]byte(nil), a.Data...)}
	}
	return out
}

type reader struct {
	buf []byte
	off int
	err error
}

func (r *reader) fail(format string, args ...any) {
	if r.err == nil {
		r.err = &FormatError{Offset: r.off, Msg: fmt.Sprintf(format, args...)}
	}
}

func (r *reader) take(n int) []byte {
	if r.err != nil {
		return nil
	}
	if n < 0 || r.off+n > len(r.buf) {
		r.fail("unexpected end of data (need %d bytes)", n)
		return nil
	}
	b := r.buf[r.off : r.off+n]
	r.off += n
	return b
}

func (r *reader) u1() uint8 {
	b := r.take(1)
	if b == nil {
		return 0
	}
	return b[0]
}

func (r *reader) u2() uint16 {
	b := r.take(2)
	if b == nil {
		return 0
	}
	return binary.BigEndian.Uint16(b)
}

func (r *reader) u4() uint32 {
	b := r.take(4)
	if b == nil {
		return 0
	}
	return binary.BigEndian.Uint32(b)
}

func (r *reader) pool() *Pool {
	count := int(r.u2())
	if r.err != nil {
		return newPool(1)
	}
	if count == 0 {
		r.fail("constant pool count is zero")
		return newPool(1)
	}
	p := newPool(count)
	for i := 1; i < count && r.err == nil; i++ {
		start := r.off
		tag := Tag(r.u1())
		c := Constant{Tag: tag}
		switch tag {
		case TagUtf8:
			n := int(r.u2())
			c.Utf8 = string(r.take(n))
		case TagInteger, TagFloat:
			c.Value = uint64(r.u4())
		case TagLong, TagDouble:
			hi := r.u4()
			lo := r.u4()
			c.Value = uint64(hi)<<32 | uint64(lo)
		case TagClass, TagString, TagMethodType, TagModule, TagPackage:
			c.A = r.u2()
		case TagFieldref, TagMethodref, TagInterfaceMethodref, TagNameAndType, TagDynamic, TagInvokeDynamic:
			c.A = r.u2()
			c.B = r.u2()
		case TagMethodHandle:
			c.RefKind = r.u1()
			c.A = r.u2()
		default:
			r.off = start
			r.fail("constant pool entry %d: unknown tag %d", i, tag)
			return p
		}
		p.entries = append(p.entries, c)
		if tag == TagLong || tag == TagDouble {
			p.entries = append(p.entries, Constant{})
			i++
		}
	}
	if r.err == nil && len(p.entries) != count {
		r.fail("constant pool: wide entry overruns count %d", count)
	}
	return p
}

func (r *reader) members() []*Member {
	n := int(r.u2())
	var out []*Member
	for i := 0; i < n && r.err == nil; i++ {
		m := &Member{Access: r.u2(), Name: r.u2(), Descriptor: r.u2()}
		m.Attributes = r.attributes()
		out = append(out, m)
	}
	return out
}

func (r *reader) attributes() []*Attribute {
	n := int(r.u2())
	var out []*Attribute
	for i := 0; i < n && r.err == nil; i++ {
		name := r.u2()
		size := r.u4()
		if r.err == nil && int64(size) > int64(len(r.buf)-r.off) {
			r.fail("attribute length %d exceeds remaining data", size)
			return out
		}
		data := r.take(int(size))
		out = append(out, &Attribute{Name: name, Data: append([]byte(nil), data...)})
	}
	return out
}

type writer struct {
	buf bytes.Buffer
}

func (w *writer) u1(v uint8) { w.buf.WriteByte(v) }

func (w *writer) u2(v uint16) {
	var b [2]byte
	binary.BigEndian.PutUint16(b[:], v)
	w.buf.Write(b[:])
}

func (w *writer) u4(v uint32) {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	w.buf.Write(b[:])
}

func (w *writer) pool(p *Pool) {
	w.u2(uint16(len(p.entries)))
	for i := 1; i < len(p.entries); i++ {
		c := p.entries[i]
		if c.Tag == 0 {
			continue
		}
		w.u1(uint8(c.Tag))
		switch c.Tag {
		case TagUtf8:
			w.u2(uint16(len(c.Utf8)))
			w.buf.WriteString(c.Utf8)
		case TagInteger, TagFloat:
			w.u4(uint32(c.Value))
		case TagLong, TagDouble:
			w.u4(uint32(c.Value >> 32))
			w.u4(uint32(c.Value))
		case TagClass, TagString, TagMethodType, TagModule, TagPackage:
			w.u2(c.A)
		case TagMethodHandle:
			w.u1(c.RefKind)
			w.u2(c.A)
		default:
			w.u2(c.A)
			w.u2(c.B)
		}
	}
}

func (w *writer) members(ms []*Member) {
	w.u2(uint16(len(ms)))
	for _, m := range ms {
		w.u2(m.Access)
		w.u2(m.Name)
		w.u2(m.Descriptor)
		w.attributes(m.Attributes)
	}
}

func (w *writer) attributes(as []*Attribute) {
	w.u2(uint16(len(as)))
	for _, a := range as {
		w.u2(a.Name)
		w.u4(uint32(len(a.Data)))
		w.buf.Write(a.Data)
	}
}
