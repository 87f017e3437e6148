package container

import (
	"encoding/binary"
	"fmt"
	"math"

	"jremap/internal/classfile"
)

type MemberKind int

const (
	KindField MemberKind = iota
	KindMethod
)

func (k MemberKind) String() string {
	if k == KindField {
		return "field"
	}
	return "method"
}

// Type is one class or interface declared in the container.
type Type struct {
	pos        int
	entry      *Entry
	cf         *classfile.ClassFile
	name       string
	super      string
	interfaces []string
	fields     []*Member
	methods    []*Member
}

func newType(pos int, e *Entry) (*Type, error) {
	cf := e.Class
	t := &Type{pos: pos, entry: e, cf: cf}
	var err error
	if t.name, err = cf.Name(); err != nil {
		return nil, err
	}
	if t.super, err = cf.SuperName(); err != nil {
		return nil, err
	}
	if t.interfaces, err = cf.InterfaceNames(); err != nil {
		return nil, err
	}
	for i, f := range cf.Fields {
		m, err := newMember(t, KindField, i, f)
		if err != nil {
			return nil, err
		}
		t.fields = append(t.fields, m)
	}
	for i, f := range cf.Methods {
		m, err := newMember(t, KindMethod, i, f)
		if err != nil {
			return nil, err
		}
		t.methods = append(t.methods, m)
	}
	return t, nil
}

func (t *Type) Name() string         { return t.name }
func (t *Type) Super() string        { return t.super }
func (t *Type) Interfaces() []string { return t.interfaces }
func (t *Type) Fields() []*Member    { return t.fields }
func (t *Type) Methods() []*Member   { return t.methods }
func (t *Type) Position() int        { return t.pos }
func (t *Type) Access() uint16       { return t.cf.Access }
func (t *Type) EntryName() string    { return t.entry.Name }

func (t *Type) IsInterface() bool {
	return t.cf.Access&classfile.AccInterface != 0
}

// ClassFile exposes the parsed class. Callers must not modify it; clone it
// first.
func (t *Type) ClassFile() *classfile.ClassFile {
	return t.cf
}

// Ref is an in-binary reference token resolved to names.
type Ref struct {
	Tag        classfile.Tag
	Owner      string
	Name       string
	Descriptor string
}

// Ref resolves a constant pool index holding a Class or member reference.
func (t *Type) Ref(index uint16) (Ref, error) {
	c, err := t.cf.Pool.At(index)
	if err != nil {
		return Ref{}, err
	}
	switch c.Tag {
	case classfile.TagClass:
		name, err := t.cf.Pool.ClassName(index)
		return Ref{Tag: c.Tag, Owner: name}, err
	case classfile.TagFieldref, classfile.TagMethodref, classfile.TagInterfaceMethodref:
		mr, err := t.cf.Pool.MemberRef(index)
		return Ref{Tag: mr.Tag, Owner: mr.Owner, Name: mr.Name, Descriptor: mr.Descriptor}, err
	}
	return Ref{}, fmt.Errorf("%s: constant %d (tag %d) is not a reference", t.name, index, c.Tag)
}

// Member is a declared field or method.
type Member struct {
	owner      *Type
	kind       MemberKind
	pos        int
	raw        *classfile.Member
	name       string
	descriptor string
}

func newMember(t *Type, kind MemberKind, pos int, raw *classfile.Member) (*Member, error) {
	name, err := t.cf.Pool.Utf8(raw.Name)
	if err != nil {
		return nil, err
	}
	desc, err := t.cf.Pool.Utf8(raw.Descriptor)
	if err != nil {
		return nil, err
	}
	if kind == KindField {
		_, err = classfile.ParseFieldDescriptor(desc)
	} else {
		_, err = classfile.ParseMethodDescriptor(desc)
	}
	if err != nil {
		return nil, fmt.Errorf("%s.%s: %w", t.name, name, err)
	}
	return &Member{owner: t, kind: kind, pos: pos, raw: raw, name: name, descriptor: desc}, nil
}

func (m *Member) Owner() *Type        { return m.owner }
func (m *Member) Kind() MemberKind    { return m.kind }
func (m *Member) Position() int       { return m.pos }
func (m *Member) Name() string        { return m.name }
func (m *Member) Descriptor() string  { return m.descriptor }
func (m *Member) Access() uint16      { return m.raw.Access }
func (m *Member) IsStatic() bool      { return m.raw.Access&classfile.AccStatic != 0 }
func (m *Member) IsPrivate() bool     { return m.raw.Access&classfile.AccPrivate != 0 }
func (m *Member) Raw() *classfile.Member { return m.raw }

// Code returns the decoded Code attribute, or nil for bodiless methods.
func (m *Member) Code() (*classfile.Code, error) {
	a := m.owner.cf.Attribute(m.raw.Attributes, "Code")
	if a == nil {
		return nil, nil
	}
	return classfile.ParseCode(a.Data)
}

// Instructions decodes the method body. Fields and bodiless methods have none.
func (m *Member) Instructions() ([]classfile.Instruction, error) {
	code, err := m.Code()
	if err != nil || code == nil {
		return nil, err
	}
	ins, err := classfile.Decode(code.Code)
	if err != nil {
		return nil, fmt.Errorf("%s.%s%s: %w", m.owner.name, m.name, m.descriptor, err)
	}
	return ins, nil
}

// ConstantValue returns a printable form of a field's ConstantValue.
func (m *Member) ConstantValue() (string, bool) {
	a := m.owner.cf.Attribute(m.raw.Attributes, "ConstantValue")
	if a == nil || len(a.Data) != 2 {
		return "", false
	}
	c, err := m.owner.cf.Pool.At(binary.BigEndian.Uint16(a.Data))
	if err != nil {
		return "", false
	}
	switch c.Tag {
	case classfile.TagInteger:
		return fmt.Sprintf("i:%d", int32(uint32(c.Value))), true
	case classfile.TagLong:
		return fmt.Sprintf("j:%d", int64(c.Value)), true
	case classfile.TagFloat:
		return fmt.Sprintf("f:%v", math.Float32frombits(uint32(c.Value))), true
	case classfile.TagDouble:
		return fmt.Sprintf("d:%v", math.Float64frombits(c.Value)), true
	case classfile.TagString:
		s, err := m.owner.cf.Pool.Utf8(c.A)
		return "s:" + s, err == nil
	}
	return "", false
}
