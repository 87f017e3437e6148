package decompile

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func requireShell(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
}

func TestNewCommandDecompiler_Placeholders(t *testing.T) {
	_, err := NewCommandDecompiler(nil, 0)
	assert.Error(t, err)
	_, err = NewCommandDecompiler([]string{"cfr", "{in}"}, 0)
	assert.Error(t, err)

	d, err := NewCommandDecompiler([]string{"cfr", "{in}", "--outputdir", "{out}"}, 0)
	require.NoError(t, err)
	assert.Equal(t, defaultTimeout, d.Timeout)
}

func TestCommandDecompiler_CollectsSources(t *testing.T) {
	requireShell(t)
	script := `test -s "$0" && mkdir -p "$1/net/game" && echo 'class Client {}' > "$1/net/game/Client.java" && echo notes > "$1/README"`
	d, err := NewCommandDecompiler([]string{"sh", "-c", script, "{in}", "{out}"}, time.Minute)
	require.NoError(t, err)

	sources, err := d.Decompile(context.Background(), []byte("PK\x03\x04"))
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"net/game/Client.java": "class Client {}\n"}, sources)
}

func TestCommandDecompiler_Failure(t *testing.T) {
	requireShell(t)
	d, err := NewCommandDecompiler([]string{"sh", "-c", `echo broken jar >&2; exit 3`, "{in}", "{out}"}, time.Minute)
	require.NoError(t, err)

	_, err = d.Decompile(context.Background(), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broken jar")
}

func TestCommandDecompiler_Cancelled(t *testing.T) {
	requireShell(t)
	d, err := NewCommandDecompiler([]string{"sh", "-c", `sleep 5`, "{in}", "{out}"}, time.Minute)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = d.Decompile(ctx, nil)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestWriteTree(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, WriteTree(dir, map[string]string{"a/B.java": "class B {}"}))
	body, err := os.ReadFile(filepath.Join(dir, "a", "B.java"))
	require.NoError(t, err)
	assert.Equal(t, "class B {}", string(body))

	assert.Error(t, WriteTree(dir, map[string]string{"../escape.java": ""}))
}
