package graph

func (g *Graph) UnresolvedReasonCounts() map[UnresolvedReason]int {
	counts := make(map[UnresolvedReason]int)
	if g == nil {
		return counts
	}
	for _, u := range g.Unresolved {
		reason := u.Reason
		if reason == "" {
			reason = ReasonNoCandidate
		}
		counts[reason]++
	}
	return counts
}

// ReferenceKindCounts tallies references by kind.
func (g *Graph) ReferenceKindCounts() map[RefKind]int {
	counts := make(map[RefKind]int)
	if g == nil {
		return counts
	}
	for _, r := range g.References {
		counts[r.Kind]++
	}
	return counts
}

// UseSites counts the references to id other than its declaration.
func (g *Graph) UseSites(id SymbolID) int {
	n := 0
	for _, i := range g.byTarget[id] {
		if g.References[i].Kind != RefDeclaring {
			n++
		}
	}
	return n
}
