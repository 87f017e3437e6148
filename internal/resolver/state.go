package resolver

import (
	"sort"

	"jremap/internal/graph"
	"jremap/internal/mapping"
	"jremap/internal/signature"
)

// Match pairs a current symbol with its prior counterpart and/or a name.
// Prior is empty for anchor matches with no prior counterpart; Name is
// empty when the prior symbol never had one.
type Match struct {
	Prior      graph.SymbolID
	Name       string
	Status     mapping.Status
	Confidence float64
	Provenance string
}

// State is the resolver's working set for one run. Passes read it through
// views and record matches between views, never during one.
type State struct {
	Current *signature.Table
	Prior   *signature.Table
	Anchors []mapping.Anchor

	priorNames map[graph.SymbolID]string
	matches    map[graph.SymbolID]*Match
	taken      map[graph.SymbolID]graph.SymbolID
	ambiguous  map[graph.SymbolID][]string
	// conflicts are permanent: a family or symbol demoted once stays
	// ambiguous for the rest of the run.
	conflicts map[graph.SymbolID][]string

	current []*signature.Features
	prior   []*signature.Features
}

// NewState prepares a run. prior and priorNames may be empty.
func NewState(current, prior *signature.Table, priorNames map[graph.SymbolID]string, anchors []mapping.Anchor) *State {
	if prior == nil {
		prior = signature.NewTable("", nil)
	}
	s := &State{
		Current:    current,
		Prior:      prior,
		Anchors:    anchors,
		priorNames: priorNames,
		matches:    make(map[graph.SymbolID]*Match),
		taken:      make(map[graph.SymbolID]graph.SymbolID),
		ambiguous:  make(map[graph.SymbolID][]string),
		conflicts:  make(map[graph.SymbolID][]string),
	}
	for i := range current.Features {
		if f := &current.Features[i]; !f.Pinned {
			s.current = append(s.current, f)
		}
	}
	for i := range prior.Features {
		if f := &prior.Features[i]; !f.Pinned {
			s.prior = append(s.prior, f)
		}
	}
	return s
}

// Symbols lists the renamable current symbols, ordered by ID.
func (s *State) Symbols() []*signature.Features {
	return s.current
}

// Unmatched lists current symbols without a match, ordered by ID.
func (s *State) Unmatched() []*signature.Features {
	var out []*signature.Features
	for _, f := range s.current {
		if _, ok := s.matches[f.ID]; !ok {
			out = append(out, f)
		}
	}
	return out
}

// UnmatchedPrior lists prior symbols not yet paired, ordered by ID.
func (s *State) UnmatchedPrior() []*signature.Features {
	var out []*signature.Features
	for _, f := range s.prior {
		if _, ok := s.taken[f.ID]; !ok {
			out = append(out, f)
		}
	}
	return out
}

func (s *State) Match(id graph.SymbolID) (*Match, bool) {
	m, ok := s.matches[id]
	return m, ok
}

// PriorName returns the canonical name a prior symbol carried.
func (s *State) PriorName(id graph.SymbolID) string {
	return s.priorNames[id]
}

// Label names a prior symbol in candidate lists.
func (s *State) Label(prior graph.SymbolID) string {
	if n := s.priorNames[prior]; n != "" {
		return n
	}
	return string(prior)
}

func (s *State) assign(id graph.SymbolID, m Match) {
	if m.Prior == "" && m.Name == "" {
		return
	}
	s.matches[id] = &m
	if m.Prior != "" {
		s.taken[m.Prior] = id
	}
	delete(s.ambiguous, id)
}

func (s *State) markAmbiguous(id graph.SymbolID, candidates []string) {
	seen := make(map[string]bool)
	var uniq []string
	for _, c := range append(s.ambiguous[id], candidates...) {
		if !seen[c] {
			seen[c] = true
			uniq = append(uniq, c)
		}
	}
	sort.Strings(uniq)
	s.ambiguous[id] = uniq
}

// demote keeps the pairing but drops the name for good.
func (s *State) demote(id graph.SymbolID, candidates []string) {
	if m, ok := s.matches[id]; ok {
		m.Name = ""
		m.Status = mapping.StatusAmbiguous
		m.Confidence = 0
	} else {
		s.matches[id] = &Match{Status: mapping.StatusAmbiguous}
	}
	s.conflicts[id] = append([]string(nil), candidates...)
	sort.Strings(s.conflicts[id])
}

func (s *State) resetAmbiguity() {
	s.ambiguous = make(map[graph.SymbolID][]string)
}

// UnresolvedCount counts renamable current symbols without a name.
func (s *State) UnresolvedCount() int {
	n := 0
	for _, f := range s.current {
		if m, ok := s.matches[f.ID]; !ok || m.Name == "" {
			n++
		}
	}
	return n
}

func (s *State) token(id graph.SymbolID) (string, bool) {
	m, ok := s.matches[id]
	if !ok {
		return "", false
	}
	if m.Name != "" {
		return "n:" + m.Name, true
	}
	if m.Prior != "" {
		return "m:" + string(m.Prior), true
	}
	return "", false
}

// CurrentView reports current symbols by their match.
func (s *State) CurrentView() signature.View {
	return signature.ViewFunc(s.token)
}

// PriorView reports a paired prior symbol by the token of its partner, so
// that both sides of a match read the same.
func (s *State) PriorView() signature.View {
	return signature.ViewFunc(func(id graph.SymbolID) (string, bool) {
		cur, ok := s.taken[id]
		if !ok {
			return "", false
		}
		return s.token(cur)
	})
}
