package signature

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

type build struct {
	a, b             string
	field, get, hook string
	mul, guard       int32
	greeting         string
}

func (p build) model(t *testing.T) *container.Model {
	t.Helper()
	a, err := classfile.NewBuilder(p.a, "java/lang/Object").
		Field(0, p.field, "I").
		Method(0, p.get, "()I", func(c *classfile.CodeBuilder) {
			c.Op(classfile.Aload0).Field(classfile.Getfield, p.a, p.field, "I").Int(p.mul).Op(classfile.Imul).Op(classfile.Ireturn)
		}).
		Method(0, p.hook, "(I)V", func(c *classfile.CodeBuilder) {
			c.Local(classfile.Iload, 1).Int(p.guard).Jump(classfile.IfIcmpeq, 11)
			c.Type(classfile.New, "java/lang/IllegalStateException").Op(classfile.Dup).
				Invoke(classfile.Invokespecial, "java/lang/IllegalStateException", "<init>", "()V").Op(classfile.Athrow)
			c.String(p.greeting).Op(classfile.Pop).Op(classfile.Return)
		}).
		Build()
	require.NoError(t, err)

	b, err := classfile.NewBuilder(p.b, p.a).
		Method(0, "x", "(L"+p.a+";)V", func(c *classfile.CodeBuilder) {
			c.Op(classfile.Aload0).Invoke(classfile.Invokevirtual, p.a, p.get, "()I").Op(classfile.Pop).Op(classfile.Return)
		}).
		Build()
	require.NoError(t, err)

	m, err := container.FromClasses([]*classfile.ClassFile{a, b})
	require.NoError(t, err)
	return m
}

func extract(t *testing.T, p build, workers int) *Table {
	t.Helper()
	m := p.model(t)
	g, err := index.Build(m)
	require.NoError(t, err)
	table, err := Extract(context.Background(), g, m, Options{Workers: workers, Version: p.a})
	require.NoError(t, err)
	return table
}

var (
	first  = build{a: "a", b: "b", field: "f", get: "g", hook: "h", mul: 1640531527, guard: 70001, greeting: "hello"}
	second = build{a: "zq", b: "zr", field: "k", get: "l", hook: "m", mul: 1013904223, guard: 91237, greeting: "hello"}
)

func TestExtract_StableAcrossBuilds(t *testing.T) {
	one := extract(t, first, 2)
	two := extract(t, second, 2)
	require.Len(t, one.Features, len(two.Features))

	for i := range one.Features {
		f1, f2 := &one.Features[i], &two.Features[i]
		require.Equal(t, f1.ID, f2.ID)
		assert.Equal(t, f1.Shape, f2.Shape, f1.ID)
		assert.Equal(t, f1.Literals, f2.Literals, f1.ID)
		assert.Equal(t, f1.Base, f2.Base, f1.ID)
		assert.Equal(t, one.Key(f1, Unmatched), two.Key(f2, Unmatched), f1.ID)
	}
}

func TestExtract_Features(t *testing.T) {
	table := extract(t, first, 1)

	hook, ok := table.Get("t0.m1:(I)V")
	require.True(t, ok)
	assert.Contains(t, hook.Literals, LiteralToken("s:hello"))
	assert.NotContains(t, hook.Literals, LiteralToken("i:70001"), "opaque guard constant")
	for _, tok := range hook.OutFixed {
		assert.NotContains(t, tok, "IllegalStateException", "guard exit block is noise")
	}

	get, ok := table.Get("t0.m0:()I")
	require.True(t, ok)
	assert.NotContains(t, get.Literals, LiteralToken("i:1640531527"), "field multiplier")
	assert.Equal(t, []graph.SymbolID{"t0.f0:I"}, get.Out)
	assert.Contains(t, get.In, graph.SymbolID("t1.m0:(L;)V"))

	caller, ok := table.Get("t1.m0:(L;)V")
	require.True(t, ok)
	assert.Equal(t, "(L?;)V", caller.Shape)

	ty, ok := table.Get("t1")
	require.True(t, ok)
	assert.Equal(t, "class:?:", ty.Shape)
	assert.Equal(t, graph.SymbolID(""), ty.Owner)
}

func TestExtract_Deterministic(t *testing.T) {
	serial, err := extract(t, first, 1).Marshal()
	require.NoError(t, err)
	parallel, err := extract(t, first, 8).Marshal()
	require.NoError(t, err)
	assert.Equal(t, string(serial), string(parallel))
}

func TestExtract_LiteralChangeMovesBase(t *testing.T) {
	changed := first
	changed.greeting = "goodbye"
	one := extract(t, first, 0)
	two := extract(t, changed, 0)

	f1, _ := one.Get("t0.m1:(I)V")
	f2, _ := two.Get("t0.m1:(I)V")
	assert.NotEqual(t, f1.Base, f2.Base)

	g1, _ := one.Get("t0.m0:()I")
	g2, _ := two.Get("t0.m0:()I")
	assert.Equal(t, g1.Base, g2.Base)
}

func TestExtract_Cancelled(t *testing.T) {
	m := first.model(t)
	g, err := index.Build(m)
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = Extract(ctx, g, m, Options{})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestKey_View(t *testing.T) {
	table := extract(t, first, 1)
	get, _ := table.Get("t0.m0:()I")

	before := table.Key(get, Unmatched)
	view := ViewFunc(func(id graph.SymbolID) (string, bool) {
		if id == "t0.f0:I" {
			return "n:counter", true
		}
		return "", false
	})
	assert.NotEqual(t, before, table.Key(get, view))
	assert.Contains(t, table.Neighbours(get, view), "on:counter")
	assert.Equal(t, "b:"+mustGet(t, table, "t0").Base, table.OwnerToken(get, view))
}

func mustGet(t *testing.T, table *Table, id graph.SymbolID) *Features {
	t.Helper()
	f, ok := table.Get(id)
	require.True(t, ok)
	return f
}

func TestShape(t *testing.T) {
	internal := func(c string) bool { return c == "a" }
	assert.Equal(t, "(L?;Ljava/lang/String;[L?;)V", Shape("(La;Ljava/lang/String;[La;)V", internal))
	assert.Equal(t, "J", Shape("J", internal))
	assert.Equal(t, "interface:java/lang/Object:?,java/lang/Runnable",
		TypeShape(classfile.AccInterface, "java/lang/Object", []string{"java/lang/Runnable", "a"}, internal))
}

func TestTableSnapshot(t *testing.T) {
	table := extract(t, first, 1)
	raw, err := table.Marshal()
	require.NoError(t, err)

	back, err := UnmarshalTable(raw)
	require.NoError(t, err)
	assert.Equal(t, table.Features, back.Features)
	f, ok := back.Get("t0.f0:I")
	require.True(t, ok)
	assert.Equal(t, graph.KindField, f.Kind)
}
