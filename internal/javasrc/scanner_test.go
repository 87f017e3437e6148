package javasrc

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"jremap/internal/graph"
	"jremap/internal/mapping"
)

func TestScanner_ScanFile(t *testing.T) {
	path := filepath.Join("testdata", "Client.java")
	got, err := NewScanner("").ScanFile(context.Background(), path)
	require.NoError(t, err)

	at := func(line string) string { return path + ":" + line }
	want := []mapping.Correction{
		{Kind: graph.KindType, Obfuscated: "a", Name: "net/game/Client", Source: at("5")},
		{Kind: graph.KindField, Owner: "a", Obfuscated: "f", Descriptor: "I", Name: "cycle", Source: at("8")},
		{Kind: graph.KindMethod, Owner: "a", Obfuscated: "h", Descriptor: "(I)V", Name: "tick", Source: at("16")},
		{Kind: graph.KindType, Obfuscated: "c", Name: "net/game/Client$Region", Source: at("24")},
		{Kind: graph.KindMethod, Owner: "c", Obfuscated: "k", Descriptor: "()La;", Name: "owner", Source: at("27")},
		{Kind: graph.KindField, Owner: "net/game/Client$Mode", Obfuscated: "p", Name: "ONLINE", Source: at("34")},
	}
	assert.Equal(t, want, got)
}

func TestScanner_DefaultPackageAndCustomAnnotation(t *testing.T) {
	src := []byte(`
@Obf("b")
class Thing {
	@Obf("q") void run() {}
	@ObfuscatedName("z") void ignored() {}
}
`)
	got, err := NewScanner("Obf").Scan(context.Background(), src, "Thing.java")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "Thing", got[0].Name)
	assert.Equal(t, "b", got[0].Obfuscated)
	assert.Equal(t, "b", got[1].Owner)
	assert.Equal(t, "run", got[1].Name)
	assert.Empty(t, got[1].Descriptor)
}

func TestScanner_NoAnnotations(t *testing.T) {
	got, err := NewScanner("").Scan(context.Background(), []byte("class A { int x; void m() {} }"), "A.java")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestAnnotationName(t *testing.T) {
	assert.Equal(t, "ObfuscatedName", AnnotationName("Ljremap/ObfuscatedName;"))
	assert.Equal(t, "Name", AnnotationName("Lx/Outer$Name;"))
	assert.Equal(t, "Plain", AnnotationName("LPlain;"))
}
