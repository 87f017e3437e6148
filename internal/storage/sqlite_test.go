package storage

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"jremap/internal/graph"
	"jremap/internal/mapping"
	"jremap/internal/signature"
)

func openStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func testMapping(name string) *mapping.Mapping {
	return &mapping.Mapping{
		Version:    "ignored",
		Provenance: "test",
		Entries: []mapping.Entry{
			{ID: "t0", Kind: graph.KindType, Obfuscated: "a", Name: name, Status: mapping.StatusManual, Confidence: 1, Signature: "s0"},
			{ID: "t0.m0:()V", Kind: graph.KindMethod, Owner: "t0", Obfuscated: "b", Descriptor: "()V", Status: mapping.StatusUnresolved, Signature: "s1"},
		},
		Unresolved: []mapping.Unresolved{
			{ID: "t0.m0:()V", Kind: graph.KindMethod, Obfuscated: "b", Reason: graph.ReasonNoCandidate},
		},
	}
}

func TestSQLiteStore_PutAssignsRevisions(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()

	rev, err := store.Put(ctx, "v1", testMapping("Client"), nil)
	require.NoError(t, err)
	assert.Equal(t, 1, rev)
	rev, err = store.Put(ctx, "v1", testMapping("Game"), nil)
	require.NoError(t, err)
	assert.Equal(t, 2, rev)
	rev, err = store.Put(ctx, "v2", testMapping("Game"), nil)
	require.NoError(t, err)
	assert.Equal(t, 1, rev)

	latest, err := store.Get(ctx, "v1")
	require.NoError(t, err)
	assert.Equal(t, 2, latest.Revision)
	assert.Equal(t, "v1", latest.Mapping.Version)
	assert.Equal(t, 2, latest.Mapping.Revision)
	assert.Equal(t, "Game", latest.Mapping.Entries[0].Name)
	assert.Nil(t, latest.Snapshot)

	first, err := store.GetRevision(ctx, "v1", 1)
	require.NoError(t, err)
	assert.Equal(t, "Client", first.Mapping.Entries[0].Name)

	revs, err := store.Revisions(ctx, "v1")
	require.NoError(t, err)
	require.Len(t, revs, 2)
	assert.Equal(t, 1, revs[0].Revision)
	assert.Equal(t, 1, revs[0].Resolved)
	assert.Equal(t, 1, revs[0].Unresolved)
	assert.Equal(t, "test", revs[1].Provenance)
}

func TestSQLiteStore_PutDoesNotModifyInput(t *testing.T) {
	store := openStore(t)
	m := testMapping("Client")
	_, err := store.Put(context.Background(), "v1", m, nil)
	require.NoError(t, err)
	assert.Equal(t, "ignored", m.Version)
	assert.Equal(t, 0, m.Revision)
}

func TestSQLiteStore_Snapshot(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()

	table := signature.NewTable("v1", []signature.Features{
		{ID: "t0", Kind: graph.KindType, Name: "a", Shape: "class", Base: "b0"},
	})
	_, err := store.Put(ctx, "v1", testMapping("Client"), table)
	require.NoError(t, err)

	rec, err := store.Get(ctx, "v1")
	require.NoError(t, err)
	require.NotNil(t, rec.Snapshot)
	f, ok := rec.Snapshot.Get("t0")
	require.True(t, ok)
	assert.Equal(t, "b0", f.Base)
}

func TestSQLiteStore_VersionsAndHead(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	tick := 0
	store.now = func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Minute)
	}

	_, err := store.Head(ctx)
	assert.ErrorIs(t, err, ErrNotFound)

	for _, v := range []string{"v1", "v2", "v1"} {
		_, err := store.Put(ctx, v, testMapping("Client"), nil)
		require.NoError(t, err)
	}

	versions, err := store.Versions(ctx)
	require.NoError(t, err)
	require.Len(t, versions, 2)
	assert.Equal(t, "v2", versions[0].Version)
	assert.Equal(t, "v1", versions[1].Version)
	assert.Equal(t, 2, versions[1].Revisions)
	assert.Equal(t, base.Add(3*time.Minute), versions[1].UpdatedAt)

	head, err := store.Head(ctx)
	require.NoError(t, err)
	assert.Equal(t, "v1", head.Version)
	assert.Equal(t, 2, head.Revision)
	assert.Equal(t, base.Add(3*time.Minute), head.CreatedAt)
}

func TestSQLiteStore_AppendOnly(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()
	_, err := store.Put(ctx, "v1", testMapping("Client"), signature.NewTable("v1", nil))
	require.NoError(t, err)

	for _, q := range []string{
		`UPDATE mappings SET provenance = 'x'`,
		`DELETE FROM mappings`,
		`UPDATE snapshots SET body = x'00'`,
		`DELETE FROM snapshots`,
	} {
		_, err := store.db.ExecContext(ctx, q)
		require.Error(t, err, q)
		assert.Contains(t, err.Error(), "append-only")
	}

	rec, err := store.Get(ctx, "v1")
	require.NoError(t, err)
	assert.Equal(t, "test", rec.Provenance)
}

func TestSQLiteStore_NotFound(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()

	_, err := store.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = store.GetRevision(ctx, "missing", 1)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = store.Revisions(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = store.Put(ctx, "", testMapping("Client"), nil)
	assert.Error(t, err)
}

func TestSQLiteStore_ConcurrentPuts(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()

	const writers = 8
	revs := make([]int, writers)
	var g errgroup.Group
	for i := 0; i < writers; i++ {
		g.Go(func() error {
			rev, err := store.Put(ctx, "v1", testMapping(fmt.Sprintf("C%d", i)), nil)
			revs[i] = rev
			return err
		})
	}
	require.NoError(t, g.Wait())

	seen := make(map[int]bool)
	for _, r := range revs {
		seen[r] = true
	}
	assert.Len(t, seen, writers)
	for r := 1; r <= writers; r++ {
		assert.True(t, seen[r], "revision %d", r)
	}
}

func TestSQLiteStore_Reopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")
	store, err := NewSQLiteStore(path)
	require.NoError(t, err)
	_, err = store.Put(context.Background(), "v1", testMapping("Client"), nil)
	require.NoError(t, err)
	require.NoError(t, store.Close())

	store, err = NewSQLiteStore(path)
	require.NoError(t, err)
	defer store.Close()
	rev, err := store.Put(context.Background(), "v1", testMapping("Client"), nil)
	require.NoError(t, err)
	assert.Equal(t, 2, rev)
}
