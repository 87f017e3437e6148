package classfile

import (
	"encoding/binary"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildSample(t *testing.T) *ClassFile {
	t.Helper()
	cf, err := NewBuilder("a", "java/lang/Object").
		Interface("java/lang/Runnable").
		Field(AccPrivate, "b", "I").
		ConstantField(AccPublic, "c", "I", 42).
		Method(AccPublic, "run", "()V", func(c *CodeBuilder) {
			c.Op(Aload0).Field(Getfield, "a", "b", "I").Int(7).Op(Imul).Op(Pop)
			c.String("hello").Op(Pop)
			c.Long(1 << 40).Op(Pop)
			c.Op(Return)
		}).
		Method(AccPublic|AccStatic, "d", "(La;I)La;", func(c *CodeBuilder) {
			c.Local(Aload, 0).Op(Areturn)
			c.LocalVariable(0, "self", "La;")
		}).
		Attribute("Signature", "Ljava/lang/Object;Ljava/lang/Runnable;").
		Build()
	require.NoError(t, err)
	return cf
}

func TestParseRoundTrip(t *testing.T) {
	cf := buildSample(t)
	data := cf.Bytes()

	parsed, err := Parse(data)
	require.NoError(t, err)
	assert.Equal(t, data, parsed.Bytes())

	name, err := parsed.Name()
	require.NoError(t, err)
	assert.Equal(t, "a", name)

	super, err := parsed.SuperName()
	require.NoError(t, err)
	assert.Equal(t, "java/lang/Object", super)

	ifaces, err := parsed.InterfaceNames()
	require.NoError(t, err)
	assert.Equal(t, []string{"java/lang/Runnable"}, ifaces)
	assert.Len(t, parsed.Fields, 2)
	assert.Len(t, parsed.Methods, 2)
}

func TestParseErrorsCarryOffset(t *testing.T) {
	data := buildSample(t).Bytes()

	t.Run("bad magic", func(t *testing.T) {
		bad := append([]byte{0, 0, 0, 0}, data[4:]...)
		_, err := Parse(bad)
		var fe *FormatError
		require.True(t, errors.As(err, &fe))
		assert.Equal(t, 0, fe.Offset)
	})

	t.Run("truncated", func(t *testing.T) {
		_, err := Parse(data[:len(data)-3])
		var fe *FormatError
		require.True(t, errors.As(err, &fe))
		assert.Greater(t, fe.Offset, 8)
	})

	t.Run("trailing bytes", func(t *testing.T) {
		_, err := Parse(append(append([]byte(nil), data...), 0))
		var fe *FormatError
		require.True(t, errors.As(err, &fe))
		assert.Equal(t, len(data), fe.Offset)
	})

	t.Run("truncated header", func(t *testing.T) {
		for n := 4; n <= 10; n++ {
			var err error
			require.NotPanics(t, func() { _, err = Parse(data[:n]) }, "length %d", n)
			var fe *FormatError
			require.True(t, errors.As(err, &fe), "length %d", n)
			assert.LessOrEqual(t, fe.Offset, n)
		}
	})

	t.Run("zero pool count", func(t *testing.T) {
		bad := append(append([]byte(nil), data[:8]...), 0, 0)
		_, err := Parse(bad)
		var fe *FormatError
		require.True(t, errors.As(err, &fe))
		assert.Contains(t, fe.Msg, "constant pool count is zero")
	})

	t.Run("unknown tag", func(t *testing.T) {
		bad := append([]byte(nil), data...)
		bad[10] = 2
		_, err := Parse(bad)
		var fe *FormatError
		require.True(t, errors.As(err, &fe))
		assert.Equal(t, 10, fe.Offset)
	})
}

func TestCloneIsIndependent(t *testing.T) {
	cf := buildSample(t)
	before := cf.Bytes()

	c := cf.Clone()
	_, err := c.Pool.InternUtf8("fresh")
	require.NoError(t, err)
	c.Methods[0].Attributes[0].Data[0] = 0xFF

	assert.Equal(t, before, cf.Bytes())
}

func TestPoolInternReusesEntries(t *testing.T) {
	cf := buildSample(t)
	count := cf.Pool.Count()

	i, err := cf.Pool.InternClass("a")
	require.NoError(t, err)
	assert.Equal(t, cf.ThisClass, i)

	j, err := cf.Pool.InternMemberRef(TagFieldref, "a", "b", "I")
	require.NoError(t, err)
	ref, err := cf.Pool.MemberRef(j)
	require.NoError(t, err)
	assert.Equal(t, MemberRef{Tag: TagFieldref, Owner: "a", Name: "b", Descriptor: "I"}, ref)
	assert.Equal(t, count, cf.Pool.Count())

	_, err = cf.Pool.InternLong(99)
	require.NoError(t, err)
	assert.Equal(t, count+2, cf.Pool.Count())
}

func TestPoolSetRefsRepoints(t *testing.T) {
	cf := buildSample(t)
	n, err := cf.Pool.InternUtf8("Renamed")
	require.NoError(t, err)
	require.NoError(t, cf.Pool.SetRefs(cf.ThisClass, n, 0))

	name, err := cf.Name()
	require.NoError(t, err)
	assert.Equal(t, "Renamed", name)

	again, err := cf.Pool.InternClass("Renamed")
	require.NoError(t, err)
	assert.Equal(t, cf.ThisClass, again)
}

func TestPoolOverflow(t *testing.T) {
	p := newPool(1)
	var err error
	for i := 0; i < MaxPoolEntries && err == nil; i++ {
		_, err = p.InternInteger(int32(i))
	}
	assert.ErrorIs(t, err, ErrPoolOverflow)
	assert.Equal(t, MaxPoolEntries, p.Count())
}

func TestDescriptors(t *testing.T) {
	md, err := ParseMethodDescriptor("(I[[La/b;J)Ljava/lang/String;")
	require.NoError(t, err)
	require.Len(t, md.Params, 3)
	assert.Equal(t, FieldType{Dims: 2, Base: 'L', Class: "a/b"}, md.Params[1])
	assert.Equal(t, 4, md.ArgSlots())
	assert.Equal(t, "(I[[La/b;J)Ljava/lang/String;", md.String())

	_, err = ParseMethodDescriptor("(V)V")
	assert.Error(t, err)
	_, err = ParseFieldDescriptor("Lfoo")
	assert.Error(t, err)
	_, err = ParseFieldDescriptor("II")
	assert.Error(t, err)

	out, err := MapDescriptor("(La;[Lb;)La;", func(c string) string { return "x/" + c })
	require.NoError(t, err)
	assert.Equal(t, "(Lx/a;[Lx/b;)Lx/a;", out)

	assert.Equal(t, "(L;[L;I)L;", EraseDescriptor("(La;[Lb;I)Lc;"))

	classes, err := DescriptorClasses("(La;I)Lb;")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, classes)

	arr, err := MapClassName("[[La;", func(string) string { return "Z" })
	require.NoError(t, err)
	assert.Equal(t, "[[LZ;", arr)

	elem, ok := ElementClass("[I")
	assert.False(t, ok)
	assert.Empty(t, elem)
}

func TestMapSignature(t *testing.T) {
	rename := func(c string) string {
		if c == "a" {
			return "Client"
		}
		return c
	}
	cases := map[string]string{
		"<LT:Ljava/lang/Object;>La<TLT;>;Ljava/util/List<La;>;": "<LT:Ljava/lang/Object;>LClient<TLT;>;Ljava/util/List<LClient;>;",
		"<T::Ljava/lang/Comparable<-La;>;>(TT;[La;)V^La;":       "<T::Ljava/lang/Comparable<-LClient;>;>(TT;[LClient;)V^LClient;",
		"Ljava/util/Map<+La;*>;":                                "Ljava/util/Map<+LClient;*>;",
		"La<La;>.Inner<TX;>;":                                   "LClient<LClient;>.Inner<TX;>;",
	}
	for in, want := range cases {
		got, err := MapSignature(in, rename)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := MapSignature("La<", rename)
	assert.Error(t, err)
}

func TestDecodeInstructions(t *testing.T) {
	code := []byte{
		byte(Iload1),
		byte(Tableswitch), 0, 0, // pad to offset 4
		0, 0, 0, 0x20, // default
		0, 0, 0, 1, // low
		0, 0, 0, 2, // high
		0, 0, 0, 0x20, 0, 0, 0, 0x20,
		byte(Wide), byte(Iinc), 0x01, 0x00, 0xFF, 0xFE,
		byte(Lookupswitch), 0, // pad to offset 32
		0, 0, 0, 0x10, // default
		0, 0, 0, 1, // npairs
		0, 0, 0, 5, 0, 0, 0, 0x10,
		byte(Bipush), 0xF9,
		byte(Invokeinterface), 0, 3, 1, 0,
		byte(Return),
	}
	ins, err := Decode(code)
	require.NoError(t, err)
	require.Len(t, ins, 7)

	assert.Equal(t, uint16(1), ins[0].Local)
	assert.Equal(t, Tableswitch, ins[1].Opcode)
	assert.Equal(t, 23, ins[1].Len)
	assert.True(t, ins[2].Wide)
	assert.Equal(t, uint16(256), ins[2].Local)
	assert.Equal(t, int32(-2), ins[2].Value)
	assert.Equal(t, 18, ins[3].Len)
	v, ok := ins[4].IntConstant()
	assert.True(t, ok)
	assert.Equal(t, int32(-7), v)
	assert.Equal(t, uint16(3), ins[5].Index)
	assert.True(t, ins[6].Opcode.IsReturn())

	_, err = Decode([]byte{byte(Nop), 0xCB})
	var fe *FormatError
	require.True(t, errors.As(err, &fe))
	assert.Equal(t, 1, fe.Offset)

	_, err = Decode([]byte{byte(Sipush), 1})
	assert.Error(t, err)
}

func TestCodeAndLocalVariables(t *testing.T) {
	cf := buildSample(t)
	m := cf.Methods[1]
	attr := cf.Attribute(m.Attributes, "Code")
	require.NotNil(t, attr)

	code, err := ParseCode(attr.Data)
	require.NoError(t, err)
	assert.Equal(t, attr.Data, code.Encode())
	assert.EqualValues(t, 2, code.MaxLocals)

	lvt := cf.Attribute(code.Attributes, "LocalVariableTable")
	require.NotNil(t, lvt)
	vars, err := ParseLocalVariables(lvt.Data)
	require.NoError(t, err)
	require.Len(t, vars, 1)
	name, err := cf.Pool.Utf8(vars[0].Name)
	require.NoError(t, err)
	assert.Equal(t, "self", name)
	assert.Equal(t, lvt.Data, EncodeLocalVariables(vars))
}

func TestInvisibleAnnotations(t *testing.T) {
	cf := buildSample(t)
	added, err := cf.AddInvisibleAnnotation(&cf.Attributes, "LObfuscatedName;", []AnnotationElement{{Name: "value", Value: "a"}})
	require.NoError(t, err)
	assert.True(t, added)

	added, err = cf.AddInvisibleAnnotation(&cf.Attributes, "LObfuscatedName;", []AnnotationElement{{Name: "value", Value: "zz"}})
	require.NoError(t, err)
	assert.False(t, added)

	added, err = cf.AddInvisibleAnnotation(&cf.Attributes, "LOther;", nil)
	require.NoError(t, err)
	assert.True(t, added)

	attr := cf.Attribute(cf.Attributes, AttrRuntimeInvisibleAnnotations)
	require.NotNil(t, attr)
	assert.EqualValues(t, 2, binary.BigEndian.Uint16(attr.Data))

	types, err := cf.AnnotationTypes(attr.Data)
	require.NoError(t, err)
	assert.Equal(t, []string{"LObfuscatedName;", "LOther;"}, types)

	vals, ok, err := cf.AnnotationStrings(attr.Data, "LObfuscatedName;")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "a", vals["value"])

	_, err = Parse(cf.Bytes())
	require.NoError(t, err)
}

func TestMUTF8(t *testing.T) {
	for _, s := range []string{"plain", "nul\x00byte", "é", "€", "😀"} {
		raw := EncodeMUTF8(s)
		for i := 0; i < len(raw); i++ {
			assert.NotZero(t, raw[i])
		}
		back, err := DecodeMUTF8(raw)
		require.NoError(t, err)
		assert.Equal(t, s, back)
	}
	assert.Len(t, EncodeMUTF8("😀"), 6)
	_, err := DecodeMUTF8("\xff")
	assert.Error(t, err)
}
