package resolver

import (
	"context"
	"sort"

	"jremap/internal/graph"
	"jremap/internal/signature"
)

// FamilyPass gives every method of an override family the name one of its
// members resolved to. A family whose members resolved to different names
// is demoted to ambiguous for the rest of the run.
type FamilyPass struct{}

func NewFamilyPass() *FamilyPass {
	return &FamilyPass{}
}

func (p *FamilyPass) Name() string { return "family" }

func (p *FamilyPass) Run(ctx context.Context, s *State) (PassStats, error) {
	families := make(map[graph.SymbolID][]*signature.Features)
	for _, f := range s.Symbols() {
		if f.Family != "" {
			families[f.Family] = append(families[f.Family], f)
		}
	}
	roots := make([]graph.SymbolID, 0, len(families))
	for r := range families {
		roots = append(roots, r)
	}
	sort.Slice(roots, func(i, j int) bool { return roots[i] < roots[j] })

	stats := PassStats{}
	for _, root := range roots {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		members := families[root]
		if _, demoted := s.conflicts[members[0].ID]; demoted {
			continue
		}
		var source *Match
		var sourceID graph.SymbolID
		names := make(map[string]bool)
		for _, f := range members {
			if m, ok := s.Match(f.ID); ok && m.Name != "" {
				names[m.Name] = true
				if source == nil {
					source, sourceID = m, f.ID
				}
			}
		}
		if len(names) == 0 {
			continue
		}
		stats.Attempted += len(members)
		if len(names) > 1 {
			candidates := make([]string, 0, len(names))
			for n := range names {
				candidates = append(candidates, n)
			}
			for _, f := range members {
				s.demote(f.ID, candidates)
			}
			stats.Skipped += len(members)
			continue
		}
		for _, f := range members {
			m, ok := s.Match(f.ID)
			if ok && m.Name != "" {
				continue
			}
			if ok {
				m.Name, m.Status, m.Confidence = source.Name, source.Status, source.Confidence
				m.Provenance = "family:" + string(sourceID)
				delete(s.ambiguous, f.ID)
			} else {
				s.assign(f.ID, Match{
					Name:       source.Name,
					Status:     source.Status,
					Confidence: source.Confidence,
					Provenance: "family:" + string(sourceID),
				})
			}
			stats.Resolved++
		}
	}
	return stats, nil
}
