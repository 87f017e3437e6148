package crawler

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"jremap/internal/javasrc"
	"jremap/internal/mapping"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestCrawler_ScanTree(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "net", "game", "Client.java"), `package net.game;
@ObfuscatedName("a")
class Client {
	@ObfuscatedName(value = "f", descriptor = "I") int cycle;
}
`)
	writeFile(t, filepath.Join(root, "net", "game", "Npc.java"), `package net.game;
@ObfuscatedName("b")
class Npc {}
`)
	writeFile(t, filepath.Join(root, "build", "Stale.java"), `@ObfuscatedName("z") class Stale {}`)
	writeFile(t, filepath.Join(root, "README.md"), `@ObfuscatedName("y")`)

	var got []mapping.Correction
	files, err := NewCrawler(javasrc.NewScanner("")).ScanTree(context.Background(), root, func(c mapping.Correction) {
		got = append(got, c)
	})
	require.NoError(t, err)
	assert.Equal(t, 2, files)

	require.Len(t, got, 3)
	assert.Equal(t, "net/game/Client", got[0].Name)
	assert.Equal(t, "cycle", got[1].Name)
	assert.Equal(t, "a", got[1].Owner)
	assert.Equal(t, "net/game/Npc", got[2].Name)
}

func TestCrawler_Cancelled(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "A.java"), `class A {}`)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewCrawler(javasrc.NewScanner("")).ScanTree(ctx, root, func(mapping.Correction) {})
	assert.ErrorIs(t, err, context.Canceled)
}
