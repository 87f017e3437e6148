package graph

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGraph_References(t *testing.T) {
	g := NewGraph()

	// 1. Define sample symbols
	typeA := &Symbol{ID: "t0", Kind: KindType, Name: "a"}
	methodA := &Symbol{ID: "t0.m0:()V", Kind: KindMethod, Owner: "t0", Name: "b", Descriptor: "()V"}
	methodB := &Symbol{ID: "t0.m1:()V", Kind: KindMethod, Owner: "t0", Name: "c", Descriptor: "()V"}
	str := &Symbol{ID: "x:java/lang/String", Kind: KindType, Name: "java/lang/String", External: true}

	for _, s := range []*Symbol{typeA, methodA, methodB, str} {
		require.NoError(t, g.AddSymbol(s))
	}
	assert.Error(t, g.AddSymbol(&Symbol{ID: "t0"}))

	// 2. Link them
	require.NoError(t, g.AddReference(Reference{Kind: RefDeclaring, Target: "t0", Site: Site{Type: "t0", Offset: -1}}))
	require.NoError(t, g.AddReference(Reference{Kind: RefDeclaring, Target: methodA.ID, Site: Site{Type: "t0", Member: methodA.ID, Offset: -1}}))
	require.NoError(t, g.AddReference(Reference{Kind: RefInstruction, Target: methodB.ID, Site: Site{Type: "t0", Member: methodA.ID, Offset: 1}}))
	require.NoError(t, g.AddReference(Reference{Kind: RefInstruction, Target: str.ID, Site: Site{Type: "t0", Member: methodA.ID, Offset: 4}}))
	require.NoError(t, g.AddReference(Reference{Kind: RefInstruction, Target: methodB.ID, Site: Site{Type: "t0", Member: methodA.ID, Offset: 7}}))

	// 3. Verify
	t.Run("Declaration rules", func(t *testing.T) {
		assert.Error(t, g.AddReference(Reference{Kind: RefDeclaring, Target: "t0", Site: Site{Type: "t0"}}))
		assert.Error(t, g.AddReference(Reference{Kind: RefDeclaring, Target: str.ID}))
		assert.Error(t, g.AddReference(Reference{Kind: RefInstruction, Target: "missing"}))

		decl, ok := g.Declaration(methodA.ID)
		require.True(t, ok)
		assert.Equal(t, RefDeclaring, decl.Kind)
		_, ok = g.Declaration(methodB.ID)
		assert.False(t, ok)
	})

	t.Run("Dependency lookup", func(t *testing.T) {
		deps := g.GetDependencies(methodA.ID)
		require.Len(t, deps, 2)
		assert.Equal(t, methodB.ID, deps[0].ID)
		assert.Equal(t, str.ID, deps[1].ID)
	})

	t.Run("Dependent lookup", func(t *testing.T) {
		dependents := g.GetDependents(methodB.ID)
		require.Len(t, dependents, 1)
		assert.Equal(t, "b", dependents[0].Name)
		assert.Empty(t, g.GetDependents(methodA.ID))
	})

	t.Run("Use sites", func(t *testing.T) {
		assert.Equal(t, 2, g.UseSites(methodB.ID))
		assert.Equal(t, 0, g.UseSites(methodA.ID))
		assert.Len(t, g.ReferencesTo(methodA.ID), 1)
		assert.Equal(t, 3, g.ReferenceKindCounts()[RefInstruction])
	})

	t.Run("Members and names", func(t *testing.T) {
		members := g.Members("t0")
		require.Len(t, members, 2)
		assert.Equal(t, "b", members[0].Name)

		s, ok := g.TypeByName("java/lang/String")
		require.True(t, ok)
		assert.True(t, s.External)
		assert.Len(t, g.Internal(), 3)
	})
}

func TestGraph_Families(t *testing.T) {
	g := NewGraph()
	for _, id := range []SymbolID{"t0.m0:()V", "t1.m0:()V", "t2.m0:()V"} {
		require.NoError(t, g.AddSymbol(&Symbol{ID: id, Kind: KindMethod, Name: "run"}))
	}
	assert.Empty(t, g.FamilyRoots())

	g.SetFamily("t1.m0:()V", "t0.m0:()V")
	g.SetFamily("t2.m0:()V", "t0.m0:()V")

	assert.Equal(t, []SymbolID{"t0.m0:()V"}, g.FamilyRoots())
	assert.Len(t, g.Family("t0.m0:()V"), 3)
	assert.Empty(t, g.Family("t1.m0:()V"))
	assert.Equal(t, SymbolID("t0.m0:()V"), g.Symbols["t2.m0:()V"].Family)
}

func TestGraph_UnresolvedReasonCounts(t *testing.T) {
	g := NewGraph()
	g.Unresolved = []UnresolvedRef{
		{Owner: "a", Name: "x", Reason: ReasonNoCandidate},
		{Owner: "a", Name: "y"},
	}
	assert.Equal(t, 2, g.UnresolvedReasonCounts()[ReasonNoCandidate])

	var nilGraph *Graph
	assert.Empty(t, nilGraph.UnresolvedReasonCounts())
}
