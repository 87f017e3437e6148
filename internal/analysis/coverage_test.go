package analysis

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"jremap/internal/classfile"
	"jremap/internal/container"
	"jremap/internal/graph"
	"jremap/internal/index"
	"jremap/internal/mapping"
)

func counterGraph(t *testing.T) *graph.Graph {
	t.Helper()
	a, err := classfile.NewBuilder("a", "java/lang/Object").
		Field(0, "f", "I").
		Method(0, "g", "()I", func(c *classfile.CodeBuilder) {
			c.Op(classfile.Aload0).Field(classfile.Getfield, "a", "f", "I").Op(classfile.Ireturn)
		}).
		Method(0, "h", "(I)V", func(c *classfile.CodeBuilder) {
			c.Op(classfile.Return)
		}).
		Build()
	require.NoError(t, err)
	b, err := classfile.NewBuilder("b", "a").
		Method(0, "x", "(La;)V", func(c *classfile.CodeBuilder) {
			c.Local(classfile.Aload, 1).Invoke(classfile.Invokevirtual, "a", "g", "()I").Op(classfile.Pop).Op(classfile.Return)
		}).
		Build()
	require.NoError(t, err)

	m, err := container.FromClasses([]*classfile.ClassFile{a, b})
	require.NoError(t, err)
	g, err := index.Build(m)
	require.NoError(t, err)
	return g
}

func TestAnalyzer_Coverage(t *testing.T) {
	g := counterGraph(t)
	m := &mapping.Mapping{Version: "v2", Revision: 3, Entries: []mapping.Entry{
		{ID: "t0", Kind: graph.KindType, Obfuscated: "a", Status: mapping.StatusAmbiguous},
		{ID: "t0.f0:I", Kind: graph.KindField, Obfuscated: "f", Name: "value", Status: mapping.StatusSignature},
		{ID: "t0.m0:()I", Kind: graph.KindMethod, Obfuscated: "g", Name: "get", Status: mapping.StatusAnchor},
		{ID: "t0.m1:(I)V", Kind: graph.KindMethod, Obfuscated: "h", Status: mapping.StatusUnresolved},
		{ID: "t1", Kind: graph.KindType, Obfuscated: "b", Name: "client/Sub", Status: mapping.StatusManual},
		{ID: "t1.m0:(L;)V", Kind: graph.KindMethod, Obfuscated: "x", Name: "use", Status: mapping.StatusManual},
	}, Unresolved: []mapping.Unresolved{
		{ID: "t0", Kind: graph.KindType, Obfuscated: "a", Reason: graph.ReasonAmbiguous, Candidates: []string{"x/A", "x/B"}},
	}}

	r := NewAnalyzer(g).Coverage(m)
	assert.Equal(t, "v2", r.Version)
	assert.Equal(t, 3, r.Revision)
	assert.Equal(t, 6, r.Total)
	assert.Equal(t, 4, r.Resolved)
	assert.InDelta(t, 4.0/6.0, r.Ratio(), 1e-9)
	assert.Equal(t, 2, r.ByStatus[mapping.StatusManual])
	assert.Equal(t, &KindCoverage{Total: 3, Resolved: 2}, r.ByKind[graph.KindMethod])
	assert.Equal(t, &KindCoverage{Total: 2, Resolved: 1}, r.ByKind[graph.KindType])

	require.Len(t, r.Gaps, 2)
	assert.Equal(t, graph.SymbolID("t0"), r.Gaps[0].ID)
	assert.Equal(t, graph.ReasonAmbiguous, r.Gaps[0].Reason)
	assert.Equal(t, []string{"x/A", "x/B"}, r.Gaps[0].Candidates)
	assert.Equal(t, g.UseSites("t0"), r.Gaps[0].UseSites)
	assert.Positive(t, r.Gaps[0].UseSites)
	assert.Positive(t, r.Gaps[0].Dependents)

	assert.Equal(t, graph.SymbolID("t0.m1:(I)V"), r.Gaps[1].ID)
	assert.Equal(t, graph.ReasonNoCandidate, r.Gaps[1].Reason)
	assert.Zero(t, r.Gaps[1].UseSites)
}

func TestAnalyzer_CoverageEmpty(t *testing.T) {
	r := NewAnalyzer(graph.NewGraph()).Coverage(&mapping.Mapping{Version: "v1"})
	assert.Zero(t, r.Total)
	assert.Equal(t, 1.0, r.Ratio())
	assert.Empty(t, r.Gaps)
}
