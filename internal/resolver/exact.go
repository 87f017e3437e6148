package resolver

import (
	"context"
	"runtime"
	"sort"

	"golang.org/x/sync/errgroup"

	"jremap/internal/graph"
	"jremap/internal/mapping"
	"jremap/internal/signature"
)

// ExactPass carries a prior name forward when a current symbol's key is
// shared with exactly one prior symbol and nothing else.
type ExactPass struct {
	workers int
}

func NewExactPass(opts Options) *ExactPass {
	return &ExactPass{workers: opts.Workers}
}

func (p *ExactPass) Name() string { return "exact" }

func (p *ExactPass) Run(ctx context.Context, s *State) (PassStats, error) {
	cur := s.Unmatched()
	prior := s.UnmatchedPrior()
	if len(cur) == 0 || len(prior) == 0 {
		return PassStats{Skipped: len(cur)}, nil
	}

	curKeys, err := computeKeys(ctx, s.Current, cur, s.CurrentView(), p.workers)
	if err != nil {
		return PassStats{}, err
	}
	priorKeys, err := computeKeys(ctx, s.Prior, prior, s.PriorView(), p.workers)
	if err != nil {
		return PassStats{}, err
	}

	type group struct {
		cur, prior []graph.SymbolID
	}
	groups := make(map[string]*group)
	get := func(k string) *group {
		g := groups[k]
		if g == nil {
			g = &group{}
			groups[k] = g
		}
		return g
	}
	for i, f := range cur {
		g := get(curKeys[i])
		g.cur = append(g.cur, f.ID)
	}
	for i, f := range prior {
		if g, ok := groups[priorKeys[i]]; ok {
			g.prior = append(g.prior, f.ID)
		}
	}

	keys := make([]string, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	stats := PassStats{Attempted: len(cur)}
	for _, k := range keys {
		g := groups[k]
		switch {
		case len(g.prior) == 0:
			stats.Skipped += len(g.cur)
		case len(g.cur) == 1 && len(g.prior) == 1:
			pid := g.prior[0]
			s.assign(g.cur[0], Match{
				Prior:      pid,
				Name:       s.PriorName(pid),
				Status:     mapping.StatusSignature,
				Confidence: ConfidenceExact,
				Provenance: "exact:" + string(pid),
			})
			stats.Resolved++
		default:
			labels := make([]string, 0, len(g.prior))
			for _, pid := range g.prior {
				labels = append(labels, s.Label(pid))
			}
			for _, id := range g.cur {
				s.markAmbiguous(id, labels)
			}
			stats.Skipped += len(g.cur)
		}
	}
	return stats, nil
}

// computeKeys evaluates the per-round key of every feature on a bounded
// worker pool. keys[i] belongs to features[i].
func computeKeys(ctx context.Context, t *signature.Table, features []*signature.Features, v signature.View, workers int) ([]string, error) {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	keys := make([]string, len(features))
	eg, ctx := errgroup.WithContext(ctx)
	eg.SetLimit(workers)
	for i, f := range features {
		eg.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			keys[i] = t.Key(f, v)
			return nil
		})
	}
	return keys, eg.Wait()
}
