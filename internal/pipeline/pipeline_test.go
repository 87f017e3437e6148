package pipeline

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"jremap/internal/classfile"
	"jremap/internal/config"
	"jremap/internal/container"
	"jremap/internal/mapping"
	"jremap/internal/signature"
	"jremap/internal/storage"
)

func writeJar(t *testing.T, dir string) string {
	t.Helper()
	a, err := classfile.NewBuilder("a", "java/lang/Object").
		Field(0, "f", "I").
		Method(0, "g", "()I", func(c *classfile.CodeBuilder) {
			c.Op(classfile.Aload0).Field(classfile.Getfield, "a", "f", "I").Op(classfile.Ireturn)
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
	data, err := m.Serialize()
	require.NoError(t, err)
	path := filepath.Join(dir, "client.jar")
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func newPipeline(t *testing.T) (*Pipeline, storage.VersionStore, *bytes.Buffer) {
	t.Helper()
	store, err := storage.NewSQLiteStore(filepath.Join(t.TempDir(), "jremap.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	var out bytes.Buffer
	return New(store, config.Default(), &out), store, &out
}

func writeSource(t *testing.T, dir string) {
	t.Helper()
	path := filepath.Join(dir, "client", "Counter.java")
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(`package client;

@ObfuscatedName("a")
public class Counter {
	@ObfuscatedName(value = "f", descriptor = "I")
	int value;

	@ObfuscatedName(value = "zz")
	void missing() {}
}
`), 0o644))
}

func TestPipeline_RemapCorrectRemap(t *testing.T) {
	dir := t.TempDir()
	jar := writeJar(t, dir)
	p, store, out := newPipeline(t)
	ctx := context.Background()

	// First build: nothing is known yet.
	first, err := p.Remap(ctx, RemapRequest{
		Input: jar, Output: filepath.Join(dir, "v1.jar"), Version: "v1",
		MappingOut: filepath.Join(dir, "v1.json"),
	})
	require.NoError(t, err)
	assert.Equal(t, 1, first.Revision)
	assert.Zero(t, first.Mapping.Resolved())
	assert.Empty(t, first.Rename.Renamed)
	assert.Contains(t, out.String(), "No prior build")

	written, err := mapping.ReadFile(filepath.Join(dir, "v1.json"))
	require.NoError(t, err)
	assert.Equal(t, 1, written.Revision)

	// Hand corrections name the counter and its field.
	src := filepath.Join(dir, "src")
	writeSource(t, src)
	corrected, err := p.Correct(ctx, CorrectRequest{Version: "v1", Sources: src})
	require.NoError(t, err)
	assert.Equal(t, 1, corrected.Files)
	assert.Equal(t, 3, corrected.Found)
	require.Len(t, corrected.Rejected, 1)
	assert.Equal(t, "zz", corrected.Rejected[0].Obfuscated)
	assert.Equal(t, 2, corrected.Revision)
	byID := corrected.Mapping.Lookup()
	assert.Equal(t, "client/Counter", byID["t0"].Name)
	assert.Equal(t, mapping.StatusManual, byID["t0"].Status)
	assert.Equal(t, "value", byID["t0.f0:I"].Name)

	// The next build carries the names forward.
	output := filepath.Join(dir, "v2.jar")
	second, err := p.Remap(ctx, RemapRequest{Input: jar, Output: output, Version: "v2"})
	require.NoError(t, err)
	assert.Equal(t, "v1", second.Mapping.Parent)
	byID = second.Mapping.Lookup()
	assert.Equal(t, "client/Counter", byID["t0"].Name)
	assert.Equal(t, mapping.StatusSignature, byID["t0"].Status)
	assert.Equal(t, "value", byID["t0.f0:I"].Name)
	assert.Len(t, second.Rename.Renamed, 2)

	data, err := os.ReadFile(output)
	require.NoError(t, err)
	model, err := container.Load(data)
	require.NoError(t, err)
	_, ok := model.Type("client/Counter")
	assert.True(t, ok)
	_, ok = model.Type("a")
	assert.False(t, ok)
	sub, ok := model.Type("b")
	require.True(t, ok)
	assert.Equal(t, "client/Counter", sub.Super())

	revs, err := store.Revisions(ctx, "v1")
	require.NoError(t, err)
	assert.Len(t, revs, 2)

	report, err := p.Coverage(ctx, output, "v2", 0)
	require.NoError(t, err)
	assert.Equal(t, second.Mapping.Resolved(), report.Resolved)
	assert.NotEmpty(t, report.Gaps)
}

func TestPipeline_CorrectNothingApplies(t *testing.T) {
	dir := t.TempDir()
	p, store, _ := newPipeline(t)
	ctx := context.Background()
	_, err := p.Remap(ctx, RemapRequest{Input: writeJar(t, dir), Output: filepath.Join(dir, "out.jar"), Version: "v1"})
	require.NoError(t, err)

	src := filepath.Join(dir, "src")
	require.NoError(t, os.MkdirAll(src, 0o755))
	res, err := p.Correct(ctx, CorrectRequest{Version: "v1", Sources: src})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Revision)

	revs, err := store.Revisions(ctx, "v1")
	require.NoError(t, err)
	assert.Len(t, revs, 1)
}

func TestPipeline_RemapWritesNothingOnFailure(t *testing.T) {
	dir := t.TempDir()
	p, store, _ := newPipeline(t)
	output := filepath.Join(dir, "out.jar")

	_, err := p.Remap(context.Background(), RemapRequest{Input: writeJar(t, dir), Output: output, Version: "v2", Prior: "v1"})
	assert.ErrorIs(t, err, storage.ErrNotFound)
	assert.NoFileExists(t, output)
	_, err = store.Head(context.Background())
	assert.ErrorIs(t, err, storage.ErrNotFound)

	jar := filepath.Join(dir, "broken.jar")
	require.NoError(t, os.WriteFile(jar, []byte("not a jar"), 0o644))
	_, err = p.Remap(context.Background(), RemapRequest{Input: jar, Output: output, Version: "v2"})
	assert.ErrorIs(t, err, container.ErrMalformedContainer)
	assert.NoFileExists(t, output)
}

type failingStore struct {
	storage.VersionStore
	err error
}

func (s failingStore) Put(context.Context, string, *mapping.Mapping, *signature.Table) (int, error) {
	return 0, s.err
}

func TestPipeline_RemapStoreFailureLeavesNoOutput(t *testing.T) {
	dir := t.TempDir()
	_, store, _ := newPipeline(t)
	locked := errors.New("database is locked")
	var out bytes.Buffer
	p := New(failingStore{VersionStore: store, err: locked}, config.Default(), &out)
	output := filepath.Join(dir, "out.jar")

	_, err := p.Remap(context.Background(), RemapRequest{Input: writeJar(t, dir), Output: output, Version: "v1"})
	assert.ErrorIs(t, err, locked)
	assert.NoFileExists(t, output)

	leftovers, err := filepath.Glob(filepath.Join(dir, ".out.jar-*"))
	require.NoError(t, err)
	assert.Empty(t, leftovers)
}

func TestPipeline_RemapCancelled(t *testing.T) {
	dir := t.TempDir()
	p, _, _ := newPipeline(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	output := filepath.Join(dir, "out.jar")
	_, err := p.Remap(ctx, RemapRequest{Input: writeJar(t, dir), Output: output, Version: "v1"})
	assert.ErrorIs(t, err, context.Canceled)
	assert.NoFileExists(t, output)
}

func TestPipeline_DecompileNeedsCommand(t *testing.T) {
	p, _, _ := newPipeline(t)
	_, err := p.Decompile(context.Background(), "in.jar", t.TempDir())
	assert.Error(t, err)
}
