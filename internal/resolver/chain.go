package resolver

import "context"

type PassStats struct {
	Attempted int
	Resolved  int
	Skipped   int
}

// Pass is one matching strategy run once per iteration.
type Pass interface {
	Name() string
	Run(ctx context.Context, s *State) (PassStats, error)
}

type StageResult struct {
	Pass             string
	Iteration        int
	Stats            PassStats
	UnresolvedBefore int
	UnresolvedAfter  int
	Err              error
}

type Chain struct {
	passes []Pass
}

func NewChain(passes ...Pass) *Chain {
	return &Chain{passes: passes}
}

// NewDefaultChain runs exact, similarity, anchor and family passes in that
// order.
func NewDefaultChain(opts Options) *Chain {
	return NewChain(
		NewExactPass(opts),
		NewSimilarityPass(opts),
		NewAnchorPass(opts),
		NewFamilyPass(),
	)
}

// Run executes every pass once. It stops at the first failing pass.
func (c *Chain) Run(ctx context.Context, s *State, iteration int) []StageResult {
	if s == nil {
		return nil
	}

	var out []StageResult
	for _, p := range c.passes {
		before := s.UnresolvedCount()
		stats, err := p.Run(ctx, s)
		if err == nil {
			err = ctx.Err()
		}
		out = append(out, StageResult{
			Pass:             p.Name(),
			Iteration:        iteration,
			Stats:            stats,
			UnresolvedBefore: before,
			UnresolvedAfter:  s.UnresolvedCount(),
			Err:              err,
		})
		if err != nil {
			break
		}
	}
	return out
}
