package resolver

import (
	"context"
	"strings"

	"jremap/internal/graph"
	"jremap/internal/mapping"
	"jremap/internal/signature"
)

type anchorEntry struct {
	mapping.Anchor
	literals string
}

type anchorIndex struct {
	entries []anchorEntry
}

func newAnchorIndex(anchors []mapping.Anchor) *anchorIndex {
	idx := &anchorIndex{}
	for _, a := range anchors {
		idx.entries = append(idx.entries, anchorEntry{Anchor: a, literals: strings.Join(signature.LiteralBag(a.Literals), ",")})
	}
	return idx
}

func (a anchorEntry) fingerprint(f *signature.Features) bool {
	return a.Kind == f.Kind && a.Descriptor == f.Shape && a.literals == strings.Join(f.Literals, ",")
}

// eligible reports whether some anchor's fingerprint fits f, owner aside.
func (idx *anchorIndex) eligible(f *signature.Features) bool {
	for _, a := range idx.entries {
		if a.fingerprint(f) {
			return true
		}
	}
	return false
}

// AnchorPass names symbols that carry an anchor's exact fingerprint. An
// anchor with an owner only applies once that owner has been named.
type AnchorPass struct{}

func NewAnchorPass(Options) *AnchorPass {
	return &AnchorPass{}
}

func (p *AnchorPass) Name() string { return "anchor" }

func (p *AnchorPass) Run(ctx context.Context, s *State) (PassStats, error) {
	idx := newAnchorIndex(s.Anchors)
	unmatched := s.Unmatched()
	stats := PassStats{}
	if len(idx.entries) == 0 {
		stats.Skipped = len(unmatched)
		return stats, nil
	}

	hits := make(map[graph.SymbolID][]string)
	var order []graph.SymbolID
	for _, a := range idx.entries {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		var found []*signature.Features
		for _, f := range unmatched {
			if !a.fingerprint(f) {
				continue
			}
			if a.Owner != "" && f.Kind != graph.KindType {
				m, ok := s.Match(f.Owner)
				if !ok || m.Name != a.Owner {
					continue
				}
			}
			found = append(found, f)
		}
		stats.Attempted += len(found)
		if len(found) > 1 {
			for _, f := range found {
				s.markAmbiguous(f.ID, []string{a.Name})
			}
			stats.Skipped += len(found)
			continue
		}
		if len(found) == 1 {
			id := found[0].ID
			if _, seen := hits[id]; !seen {
				order = append(order, id)
			}
			hits[id] = append(hits[id], a.Name)
		}
	}

	for _, id := range order {
		names := uniqueStrings(hits[id])
		if len(names) > 1 {
			s.markAmbiguous(id, names)
			stats.Skipped++
			continue
		}
		f, _ := s.Current.Get(id)
		s.assign(id, Match{
			Prior:      s.priorNamed(f, names[0]),
			Name:       names[0],
			Status:     mapping.StatusAnchor,
			Confidence: ConfidenceAnchor,
			Provenance: "anchor",
		})
		stats.Resolved++
	}
	return stats, nil
}

// priorNamed finds the one unpaired prior symbol of f's kind that carried
// name, so that both builds read the anchored symbol the same way.
func (s *State) priorNamed(f *signature.Features, name string) graph.SymbolID {
	var found graph.SymbolID
	n := 0
	for _, p := range s.UnmatchedPrior() {
		if p.Kind == f.Kind && p.Shape == f.Shape && s.priorNames[p.ID] == name {
			found = p.ID
			n++
		}
	}
	if n != 1 {
		return ""
	}
	return found
}

func uniqueStrings(in []string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, s := range in {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}
