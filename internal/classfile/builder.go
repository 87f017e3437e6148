package classfile

import (
	"encoding/binary"
	"fmt"
)

// Builder assembles class files programmatically. The first error sticks and
// is returned by Build.
type Builder struct {
	cf  *ClassFile
	err error
}

// NewBuilder starts a Java 8 class. An empty super yields no superclass.
func NewBuilder(name, super string) *Builder {
	b := &Builder{cf: &ClassFile{Major: 52, Pool: newPool(16), Access: AccPublic | AccSuper}}
	b.cf.ThisClass = b.class(name)
	if super != "" {
		b.cf.SuperClass = b.class(super)
	}
	return b
}

func (b *Builder) fail(err error) {
	if b.err == nil && err != nil {
		b.err = err
	}
}

func (b *Builder) class(name string) uint16 {
	i, err := b.cf.Pool.InternClass(EncodeMUTF8(name))
	b.fail(err)
	return i
}

func (b *Builder) utf8(s string) uint16 {
	i, err := b.cf.Pool.InternUtf8(EncodeMUTF8(s))
	b.fail(err)
	return i
}

func (b *Builder) Access(flags uint16) *Builder {
	b.cf.Access = flags
	return b
}

func (b *Builder) Interface(name string) *Builder {
	b.cf.Interfaces = append(b.cf.Interfaces, b.class(name))
	return b
}

func (b *Builder) Field(access uint16, name, desc string) *Builder {
	b.cf.Fields = append(b.cf.Fields, &Member{Access: access, Name: b.utf8(name), Descriptor: b.utf8(desc)})
	return b
}

// ConstantField declares a static field with an int ConstantValue.
func (b *Builder) ConstantField(access uint16, name, desc string, value int32) *Builder {
	v, err := b.cf.Pool.InternInteger(value)
	b.fail(err)
	data := binary.BigEndian.AppendUint16(nil, v)
	b.cf.Fields = append(b.cf.Fields, &Member{
		Access:     access | AccStatic,
		Name:       b.utf8(name),
		Descriptor: b.utf8(desc),
		Attributes: []*Attribute{{Name: b.utf8("ConstantValue"), Data: data}},
	})
	return b
}

// Method declares a method. A nil body declares an abstract or native method.
func (b *Builder) Method(access uint16, name, desc string, body func(*CodeBuilder)) *Builder {
	m := &Member{Access: access, Name: b.utf8(name), Descriptor: b.utf8(desc)}
	if body != nil {
		md, err := ParseMethodDescriptor(desc)
		b.fail(err)
		locals := md.ArgSlots()
		if access&AccStatic == 0 {
			locals++
		}
		c := &CodeBuilder{pool: b.cf.Pool}
		body(c)
		b.fail(c.err)
		if c.maxLocals > locals {
			locals = c.maxLocals
		}
		code := &Code{MaxStack: 8, MaxLocals: uint16(locals), Code: c.buf, Attributes: c.attrs}
		m.Attributes = append(m.Attributes, &Attribute{Name: b.utf8("Code"), Data: code.Encode()})
	}
	b.cf.Methods = append(b.cf.Methods, m)
	return b
}

// Attribute adds a class attribute whose body is a single Utf8 index, such
// as Signature or SourceFile.
func (b *Builder) Attribute(name, value string) *Builder {
	data := binary.BigEndian.AppendUint16(nil, b.utf8(value))
	b.cf.Attributes = append(b.cf.Attributes, &Attribute{Name: b.utf8(name), Data: data})
	return b
}

// MemberAttribute adds a Utf8-valued attribute to the last declared method
// (or field when method is false).
func (b *Builder) MemberAttribute(method bool, name, value string) *Builder {
	list := b.cf.Fields
	if method {
		list = b.cf.Methods
	}
	if len(list) == 0 {
		b.fail(fmt.Errorf("no member to attach %s to", name))
		return b
	}
	m := list[len(list)-1]
	data := binary.BigEndian.AppendUint16(nil, b.utf8(value))
	m.Attributes = append(m.Attributes, &Attribute{Name: b.utf8(name), Data: data})
	return b
}

func (b *Builder) Build() (*ClassFile, error) {
	if b.err != nil {
		return nil, b.err
	}
	return b.cf, nil
}

func (b *Builder) Bytes() ([]byte, error) {
	cf, err := b.Build()
	if err != nil {
		return nil, err
	}
	return cf.Bytes(), nil
}

// CodeBuilder emits bytecode into a method body.
type CodeBuilder struct {
	pool      *Pool
	buf       []byte
	attrs     []*Attribute
	maxLocals int
	err       error
}

func (c *CodeBuilder) fail(err error) {
	if c.err == nil && err != nil {
		c.err = err
	}
}

func (c *CodeBuilder) u2(v uint16) {
	c.buf = binary.BigEndian.AppendUint16(c.buf, v)
}

// Offset is the position the next instruction will be written at.
func (c *CodeBuilder) Offset() int {
	return len(c.buf)
}

func (c *CodeBuilder) Op(op Opcode) *CodeBuilder {
	c.buf = append(c.buf, byte(op))
	return c
}

// Int pushes an int constant using the shortest encoding.
func (c *CodeBuilder) Int(v int32) *CodeBuilder {
	switch {
	case v >= -1 && v <= 5:
		c.Op(Opcode(int32(Iconst0) + v))
	case v >= -128 && v <= 127:
		c.buf = append(c.buf, byte(Bipush), byte(int8(v)))
	case v >= -32768 && v <= 32767:
		c.Op(Sipush)
		c.u2(uint16(int16(v)))
	default:
		i, err := c.pool.InternInteger(v)
		c.fail(err)
		c.ldc(i)
	}
	return c
}

func (c *CodeBuilder) Long(v int64) *CodeBuilder {
	i, err := c.pool.InternLong(v)
	c.fail(err)
	c.Op(Ldc2W)
	c.u2(i)
	return c
}

func (c *CodeBuilder) String(s string) *CodeBuilder {
	i, err := c.pool.InternString(EncodeMUTF8(s))
	c.fail(err)
	c.ldc(i)
	return c
}

func (c *CodeBuilder) ldc(i uint16) {
	if i < 256 {
		c.buf = append(c.buf, byte(Ldc), byte(i))
		return
	}
	c.Op(LdcW)
	c.u2(i)
}

// Local emits a one-byte-index load or store (iload, astore, ...).
func (c *CodeBuilder) Local(op Opcode, index uint8) *CodeBuilder {
	c.buf = append(c.buf, byte(op), index)
	if int(index)+2 > c.maxLocals {
		c.maxLocals = int(index) + 2
	}
	return c
}

func (c *CodeBuilder) Field(op Opcode, owner, name, desc string) *CodeBuilder {
	i, err := c.pool.InternMemberRef(TagFieldref, EncodeMUTF8(owner), EncodeMUTF8(name), desc)
	c.fail(err)
	c.Op(op)
	c.u2(i)
	return c
}

func (c *CodeBuilder) Invoke(op Opcode, owner, name, desc string) *CodeBuilder {
	tag := TagMethodref
	if op == Invokeinterface {
		tag = TagInterfaceMethodref
	}
	i, err := c.pool.InternMemberRef(tag, EncodeMUTF8(owner), EncodeMUTF8(name), desc)
	c.fail(err)
	c.Op(op)
	c.u2(i)
	if op == Invokeinterface {
		md, err := ParseMethodDescriptor(desc)
		c.fail(err)
		c.buf = append(c.buf, byte(md.ArgSlots()+1), 0)
	}
	return c
}

// Type emits new, anewarray, checkcast or instanceof.
func (c *CodeBuilder) Type(op Opcode, class string) *CodeBuilder {
	i, err := c.pool.InternClass(EncodeMUTF8(class))
	c.fail(err)
	c.Op(op)
	c.u2(i)
	return c
}

// Jump emits a two-byte branch relative to the branch instruction itself.
func (c *CodeBuilder) Jump(op Opcode, rel int16) *CodeBuilder {
	c.Op(op)
	c.u2(uint16(rel))
	return c
}

// LocalVariable records a LocalVariableTable row covering the whole body.
// Call it after the body has been emitted.
func (c *CodeBuilder) LocalVariable(index uint16, name, desc string) *CodeBuilder {
	n, err := c.pool.InternUtf8(EncodeMUTF8(name))
	c.fail(err)
	d, err := c.pool.InternUtf8(desc)
	c.fail(err)
	attr, err := c.pool.InternUtf8("LocalVariableTable")
	c.fail(err)
	row := LocalVariable{Length: uint16(len(c.buf)), Name: n, Descriptor: d, Index: index}
	for _, a := range c.attrs {
		if a.Name == attr {
			vars, err := ParseLocalVariables(a.Data)
			c.fail(err)
			a.Data = EncodeLocalVariables(append(vars, row))
			return c
		}
	}
	c.attrs = append(c.attrs, &Attribute{Name: attr, Data: EncodeLocalVariables([]LocalVariable{row})})
	return c
}
