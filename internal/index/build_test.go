package index

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"jremap/internal/classfile"
	"jremap/internal/container"
	"jremap/internal/graph"
)

func hierarchyModel(t *testing.T) *container.Model {
	t.Helper()
	a, err := classfile.NewBuilder("a", "java/lang/Object").
		Interface("b").
		Field(classfile.AccProtected, "f", "I").
		Method(classfile.AccPublic, "m", "()V", func(c *classfile.CodeBuilder) { c.Op(classfile.Return) }).
		Method(classfile.AccPublic|classfile.AccStatic, "s", "(La;)I", func(c *classfile.CodeBuilder) {
			c.Int(1).Op(classfile.Ireturn)
		}).
		Method(classfile.AccPublic, "<init>", "()V", func(c *classfile.CodeBuilder) {
			c.Op(classfile.Aload0).Invoke(classfile.Invokespecial, "java/lang/Object", "<init>", "()V").Op(classfile.Return)
		}).
		Build()
	require.NoError(t, err)

	b, err := classfile.NewBuilder("b", "java/lang/Object").
		Access(classfile.AccPublic|classfile.AccInterface|classfile.AccAbstract).
		Method(classfile.AccPublic|classfile.AccAbstract, "m", "()V", nil).
		Build()
	require.NoError(t, err)

	c, err := classfile.NewBuilder("c", "a").
		Method(classfile.AccPublic, "m", "()V", func(c *classfile.CodeBuilder) {
			c.Op(classfile.Aload0).Field(classfile.Getfield, "c", "f", "I").Op(classfile.Pop)
			c.Op(classfile.Aload0).Invoke(classfile.Invokevirtual, "c", "toString", "()Ljava/lang/String;").Op(classfile.Pop)
			c.Op(classfile.Aload0).Invoke(classfile.Invokeinterface, "b", "m", "()V")
			c.Op(classfile.Aload0).Field(classfile.Getfield, "c", "missing", "I").Op(classfile.Pop)
			c.Op(classfile.Aload0).Type(classfile.Checkcast, "a").Op(classfile.Pop)
			c.Op(classfile.Return)
		}).
		Build()
	require.NoError(t, err)

	d, err := classfile.NewBuilder("d", "java/awt/Canvas").
		Method(classfile.AccPublic, "paint", "(Ljava/awt/Graphics;)V", func(c *classfile.CodeBuilder) { c.Op(classfile.Return) }).
		Method(classfile.AccPublic, "m", "()V", func(c *classfile.CodeBuilder) { c.Op(classfile.Return) }).
		Build()
	require.NoError(t, err)

	m, err := container.FromClasses([]*classfile.ClassFile{a, b, c, d})
	require.NoError(t, err)
	return m
}

func TestBuild_Declarations(t *testing.T) {
	g, err := Build(hierarchyModel(t))
	require.NoError(t, err)

	a, ok := g.TypeByName("a")
	require.True(t, ok)
	assert.Equal(t, graph.SymbolID("t0"), a.ID)
	assert.False(t, a.External)

	members := g.Members(a.ID)
	require.Len(t, members, 4)
	assert.Equal(t, graph.SymbolID("t0.f0:I"), members[0].ID)
	assert.Equal(t, graph.SymbolID("t0.m1:(L;)I"), members[2].ID)

	for _, s := range g.Internal() {
		_, ok := g.Declaration(s.ID)
		assert.True(t, ok, "declaring reference for %s", s.ID)
	}

	obj, ok := g.TypeByName("java/lang/Object")
	require.True(t, ok)
	assert.True(t, obj.External)
	_, ok = g.Declaration(obj.ID)
	assert.False(t, ok)
}

func TestBuild_ChainWalk(t *testing.T) {
	g, err := Build(hierarchyModel(t))
	require.NoError(t, err)

	cm := graph.SymbolID("t2.m0:()V")
	deps := g.GetDependencies(cm)
	var ids []graph.SymbolID
	for _, d := range deps {
		ids = append(ids, d.ID)
	}
	assert.Contains(t, ids, graph.SymbolID("t0.f0:I"), "c.f resolves to a.f")
	assert.Contains(t, ids, graph.SymbolID("t1.m0:()V"), "b.m is the interface method")
	assert.Contains(t, ids, graph.SymbolID("x:java/lang/Object.toString()Ljava/lang/String;"))
	assert.Contains(t, ids, graph.SymbolID("t0"), "checkcast a")

	require.Len(t, g.Unresolved, 1)
	assert.Equal(t, "missing", g.Unresolved[0].Name)
	assert.Equal(t, "c", g.Unresolved[0].Owner)
	assert.Equal(t, graph.ReasonNoCandidate, g.Unresolved[0].Reason)
	assert.Equal(t, graph.SymbolID("t2.m0:()V"), g.Unresolved[0].Site.Member, "reported at the getfield")
	assert.Positive(t, g.Unresolved[0].Site.Offset)

	// one member-ref pool entry plus one getfield instruction
	assert.Equal(t, 2, g.UseSites("t0.f0:I"))

	counts := g.ReferenceKindCounts()
	assert.Positive(t, counts[graph.RefSupertype])
	assert.Positive(t, counts[graph.RefDescriptor])
	assert.Positive(t, counts[graph.RefClassConstant])
}

func TestBuild_Families(t *testing.T) {
	g, err := Build(hierarchyModel(t))
	require.NoError(t, err)

	root := graph.SymbolID("t0.m0:()V")
	family := g.Family(root)
	var ids []graph.SymbolID
	for _, s := range family {
		ids = append(ids, s.ID)
		assert.False(t, s.Pinned)
	}
	assert.ElementsMatch(t, []graph.SymbolID{"t0.m0:()V", "t1.m0:()V", "t2.m0:()V"}, ids)
	assert.Contains(t, g.FamilyRoots(), root)

	static := g.Symbols["t0.m1:(L;)I"]
	assert.Equal(t, static.ID, static.Family)

	ctor := g.Symbols["t0.m2:()V"]
	assert.True(t, ctor.Pinned)

	paint := g.Symbols["t3.m0:(L;)V"]
	assert.True(t, paint.Pinned, "may override a library method")
	assert.True(t, g.Symbols["t3.m1:()V"].Pinned)
}

func TestIndexer_SaveGraph(t *testing.T) {
	idx := NewIndexer()
	g, err := idx.BuildGraph(hierarchyModel(t))
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "graph.json")
	require.NoError(t, idx.SaveGraph(g, path))
	assert.FileExists(t, path)
}

func TestSiteString(t *testing.T) {
	g, err := Build(hierarchyModel(t))
	require.NoError(t, err)
	s := SiteString(g, g.Unresolved[0].Site)
	assert.Contains(t, s, "c.m()V@")
	assert.Equal(t, "c#3", SiteString(g, graph.Site{Type: "t2", PoolIndex: 3, Offset: -1}))
}

func TestBuild_DanglingPoolEntryWithoutUse(t *testing.T) {
	a, err := classfile.NewBuilder("a", "java/lang/Object").Build()
	require.NoError(t, err)
	bc, err := classfile.NewBuilder("b", "java/lang/Object").Build()
	require.NoError(t, err)
	idx, err := bc.Pool.InternMemberRef(classfile.TagFieldref, "a", "gone", "J")
	require.NoError(t, err)
	m, err := container.FromClasses([]*classfile.ClassFile{a, bc})
	require.NoError(t, err)

	g, err := Build(m)
	require.NoError(t, err)
	require.Len(t, g.Unresolved, 1)
	assert.Empty(t, g.Unresolved[0].Site.Member)
	assert.Equal(t, idx, g.Unresolved[0].Site.PoolIndex)
}
