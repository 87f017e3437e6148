package multiplier

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"jremap/internal/classfile"
	"jremap/internal/container"
	"jremap/internal/graph"
	"jremap/internal/index"
)

var (
	decode32 int32 = -1640531535
	encode32 int32 = 244002641
	decode64 int64 = -7046029254386353131
	encode64 int64 = -1018231460777725123
)

func getter(field, desc string, k func(*classfile.CodeBuilder), mul, ret classfile.Opcode) func(*classfile.CodeBuilder) {
	return func(c *classfile.CodeBuilder) {
		c.Op(classfile.Aload0).Field(classfile.Getfield, "a", field, desc)
		k(c)
		c.Op(mul).Op(ret)
	}
}

func scrambledModel(t *testing.T) *container.Model {
	t.Helper()
	k32 := func(v int32) func(*classfile.CodeBuilder) {
		return func(c *classfile.CodeBuilder) { c.Int(v) }
	}
	cf, err := classfile.NewBuilder("a", "java/lang/Object").
		Field(0, "x", "I").
		Field(0, "y", "J").
		Field(0, "z", "I").
		Field(0, "w", "I").
		Method(0, "g1", "()I", getter("x", "I", k32(decode32), classfile.Imul, classfile.Ireturn)).
		Method(0, "g2", "()I", getter("x", "I", k32(decode32), classfile.Imul, classfile.Ireturn)).
		Method(0, "g3", "()I", getter("x", "I", k32(1234567891), classfile.Imul, classfile.Ireturn)).
		Method(0, "g4", "()J", getter("y", "J", func(c *classfile.CodeBuilder) { c.Long(decode64) }, classfile.Lmul, classfile.Lreturn)).
		Method(0, "s1", "(I)V", func(c *classfile.CodeBuilder) {
			c.Op(classfile.Aload0).Local(classfile.Iload, 1).Int(encode32).Op(classfile.Imul).
				Field(classfile.Putfield, "a", "z", "I").Op(classfile.Return)
		}).
		Method(0, "g5", "()I", func(c *classfile.CodeBuilder) {
			// constant first, then the read
			c.Int(1000000).Op(classfile.Aload0).Field(classfile.Getfield, "a", "w", "I").Op(classfile.Imul).Op(classfile.Ireturn)
		}).
		Build()
	require.NoError(t, err)
	m, err := container.FromClasses([]*classfile.ClassFile{cf})
	require.NoError(t, err)
	return m
}

func TestScan(t *testing.T) {
	m := scrambledModel(t)
	g, err := index.Build(m)
	require.NoError(t, err)

	muls, err := Scan(context.Background(), m, g)
	require.NoError(t, err)

	x, ok := muls[graph.SymbolID("t0.f0:I")]
	require.True(t, ok)
	assert.Equal(t, 32, x.Bits)
	assert.Equal(t, int64(decode32), x.Decode, "majority vote")
	assert.Equal(t, int64(encode32), x.Encode)

	y, ok := muls[graph.SymbolID("t0.f1:J")]
	require.True(t, ok)
	assert.Equal(t, 64, y.Bits)
	assert.Equal(t, decode64, y.Decode)
	assert.Equal(t, encode64, y.Encode)

	z, ok := muls[graph.SymbolID("t0.f2:I")]
	require.True(t, ok, "decode derived from the setter")
	assert.Equal(t, int64(decode32), z.Decode)

	_, ok = muls[graph.SymbolID("t0.f3:I")]
	assert.False(t, ok, "even constants have no inverse")
}

func TestScan_Cancelled(t *testing.T) {
	m := scrambledModel(t)
	g, err := index.Build(m)
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = Scan(ctx, m, g)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNoiseOffsets(t *testing.T) {
	m := scrambledModel(t)
	ty := m.Types()[0]
	meth := ty.Methods()[0]
	ins, err := meth.Instructions()
	require.NoError(t, err)

	noise := NoiseOffsets(ty.ClassFile().Pool, ins)
	require.Len(t, noise, 1)
	// aload_0 (1) + getfield (3)
	assert.True(t, noise[4])

	uses := Find(ty.ClassFile().Pool, ins)
	require.Len(t, uses, 1)
	assert.False(t, uses[0].Encode)
	assert.Equal(t, 1, uses[0].FieldOffset)
}

func TestInverse(t *testing.T) {
	inv, ok := Inverse(uint64(uint32(decode32)), 32)
	require.True(t, ok)
	assert.Equal(t, uint64(encode32), inv)

	inv, ok = Inverse(uint64(decode64), 64)
	require.True(t, ok)
	assert.Equal(t, uint64(encode64), inv)
	assert.Equal(t, uint64(1), uint64(decode64)*inv)

	_, ok = Inverse(42, 32)
	assert.False(t, ok)
}
