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

// SimilarityPass scores unmatched symbols against unmatched prior symbols
// of the same kind and shape and accepts a pair only when it is clearly
// better than the runner-up on both sides.
type SimilarityPass struct {
	opts Options
}

func NewSimilarityPass(opts Options) *SimilarityPass {
	return &SimilarityPass{opts: opts.withDefaults()}
}

func (p *SimilarityPass) Name() string { return "similarity" }

type profile struct {
	f          *signature.Features
	bucket     string
	neighbours map[string]bool
	literals   map[string]bool
	owner      string
}

func newProfile(t *signature.Table, f *signature.Features, v signature.View) profile {
	static := "i"
	if f.Static {
		static = "s"
	}
	return profile{
		f:          f,
		bucket:     string(f.Kind) + "|" + static + "|" + f.Shape,
		neighbours: set(t.Neighbours(f, v)),
		literals:   set(f.Literals),
		owner:      t.OwnerToken(f, v),
	}
}

func set(items []string) map[string]bool {
	out := make(map[string]bool, len(items))
	for _, it := range items {
		out[it] = true
	}
	return out
}

// jaccard is 1 for two empty sets.
func jaccard(a, b map[string]bool) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 1
	}
	inter := 0
	for k := range a {
		if b[k] {
			inter++
		}
	}
	return float64(inter) / float64(len(a)+len(b)-inter)
}

func (p *SimilarityPass) score(a, b profile) float64 {
	w := p.opts.Weights
	score := w.Neighbour*jaccard(a.neighbours, b.neighbours) + w.Literal*jaccard(a.literals, b.literals)
	if a.owner == b.owner {
		score += w.Owner
	}
	if a.f.Position == b.f.Position {
		score += w.Position
	}
	return score
}

type ranking struct {
	best, second float64
	bestIdx      int
	scores       []float64
}

func rank(scores []float64) ranking {
	r := ranking{bestIdx: -1, scores: scores}
	for i, sc := range scores {
		switch {
		case r.bestIdx < 0 || sc > r.best:
			r.second = r.best
			r.best, r.bestIdx = sc, i
		case sc > r.second:
			r.second = sc
		}
	}
	if len(scores) < 2 {
		r.second = 0
	}
	return r
}

func (p *SimilarityPass) Run(ctx context.Context, s *State) (PassStats, error) {
	anchored := newAnchorIndex(s.Anchors)
	var cur []*signature.Features
	for _, f := range s.Unmatched() {
		if !anchored.eligible(f) {
			cur = append(cur, f)
		}
	}
	prior := s.UnmatchedPrior()
	stats := PassStats{Attempted: len(cur)}
	if len(cur) == 0 || len(prior) == 0 {
		stats.Skipped = len(cur)
		return stats, nil
	}

	curView, priorView := s.CurrentView(), s.PriorView()
	curProfiles := make([]profile, len(cur))
	for i, f := range cur {
		curProfiles[i] = newProfile(s.Current, f, curView)
	}
	buckets := make(map[string][]profile)
	for _, f := range prior {
		pr := newProfile(s.Prior, f, priorView)
		buckets[pr.bucket] = append(buckets[pr.bucket], pr)
	}

	workers := p.opts.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	rankings := make([]ranking, len(cur))
	eg, ctx := errgroup.WithContext(ctx)
	eg.SetLimit(workers)
	for i := range curProfiles {
		eg.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			cands := buckets[curProfiles[i].bucket]
			scores := make([]float64, len(cands))
			for j, c := range cands {
				scores[j] = p.score(curProfiles[i], c)
			}
			rankings[i] = rank(scores)
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return stats, err
	}

	// best current symbol per prior symbol, -1 on a tie
	type claim struct {
		score float64
		idx   int
	}
	priorBest := make(map[graph.SymbolID]claim)
	for i, r := range rankings {
		cands := buckets[curProfiles[i].bucket]
		for j, sc := range r.scores {
			pid := cands[j].f.ID
			c, ok := priorBest[pid]
			switch {
			case !ok || sc > c.score:
				priorBest[pid] = claim{score: sc, idx: i}
			case sc == c.score:
				priorBest[pid] = claim{score: sc, idx: -1}
			}
		}
	}

	for i, r := range rankings {
		id := cur[i].ID
		if r.bestIdx < 0 || r.best < p.opts.Threshold {
			stats.Skipped++
			continue
		}
		cands := buckets[curProfiles[i].bucket]
		pid := cands[r.bestIdx].f.ID
		if r.best-r.second >= p.opts.Margin && priorBest[pid].idx == i {
			s.assign(id, Match{
				Prior:      pid,
				Name:       s.PriorName(pid),
				Status:     mapping.StatusSignature,
				Confidence: ConfidenceSimilarity * r.best,
				Provenance: "similarity:" + string(pid),
			})
			stats.Resolved++
			continue
		}
		var labels []string
		for j, sc := range r.scores {
			if r.best-sc < p.opts.Margin {
				labels = append(labels, s.Label(cands[j].f.ID))
			}
		}
		sort.Strings(labels)
		s.markAmbiguous(id, labels)
		stats.Skipped++
	}
	return stats, nil
}
