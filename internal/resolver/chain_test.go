package resolver

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"jremap/internal/graph"
	"jremap/internal/signature"
)

type fakePass struct {
	name string
	fn   func(s *State) (PassStats, error)
}

func (f fakePass) Name() string { return f.name }
func (f fakePass) Run(_ context.Context, s *State) (PassStats, error) {
	return f.fn(s)
}

func TestChain_Run(t *testing.T) {
	table := signature.NewTable("v1", []signature.Features{
		{ID: "t0", Kind: graph.KindType, Name: "a"},
		{ID: "t1", Kind: graph.KindType, Name: "b"},
	})
	s := NewState(table, nil, nil, nil)

	r1 := fakePass{name: "r1", fn: func(s *State) (PassStats, error) {
		s.assign("t0", Match{Name: "client/A"})
		return PassStats{Attempted: 2, Resolved: 1, Skipped: 1}, nil
	}}
	r2 := fakePass{name: "r2", fn: func(s *State) (PassStats, error) {
		s.assign("t1", Match{Name: "client/B"})
		return PassStats{Attempted: 1, Resolved: 1}, nil
	}}

	results := NewChain(r1, r2).Run(context.Background(), s, 1)
	require.Len(t, results, 2)
	assert.Equal(t, "r1", results[0].Pass)
	assert.Equal(t, "r2", results[1].Pass)
	assert.Equal(t, 2, results[0].UnresolvedBefore)
	assert.Equal(t, 1, results[0].UnresolvedAfter)
	assert.Equal(t, 1, results[1].UnresolvedBefore)
	assert.Equal(t, 0, results[1].UnresolvedAfter)
	assert.Equal(t, 1, results[1].Iteration)
}

func TestChain_StopsOnError(t *testing.T) {
	s := NewState(signature.NewTable("v1", nil), nil, nil, nil)
	boom := errors.New("boom")
	called := false
	results := NewChain(
		fakePass{name: "bad", fn: func(*State) (PassStats, error) { return PassStats{}, boom }},
		fakePass{name: "never", fn: func(*State) (PassStats, error) { called = true; return PassStats{}, nil }},
	).Run(context.Background(), s, 1)

	require.Len(t, results, 1)
	assert.ErrorIs(t, results[0].Err, boom)
	assert.False(t, called)
	assert.Nil(t, NewChain().Run(context.Background(), nil, 1))
}
