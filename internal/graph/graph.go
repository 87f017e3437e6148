// Package graph holds the Reference Index: every symbol of a container and
// every place that refers to it.
package graph

import (
	"fmt"
	"sort"
)

// Graph manages symbols and the references between them.
type Graph struct {
	Symbols    map[SymbolID]*Symbol
	References []Reference
	Unresolved []UnresolvedRef

	order     []SymbolID
	byTarget  map[SymbolID][]int
	byMember  map[SymbolID][]int
	members   map[SymbolID][]SymbolID
	typeNames map[string]SymbolID
	declared  map[SymbolID]int
	families  map[SymbolID][]SymbolID
}

// NewGraph creates an empty graph.
func NewGraph() *Graph {
	return &Graph{
		Symbols:   make(map[SymbolID]*Symbol),
		byTarget:  make(map[SymbolID][]int),
		byMember:  make(map[SymbolID][]int),
		members:   make(map[SymbolID][]SymbolID),
		typeNames: make(map[string]SymbolID),
		declared:  make(map[SymbolID]int),
		families:  make(map[SymbolID][]SymbolID),
	}
}

// AddSymbol registers a symbol. IDs must be unique.
func (g *Graph) AddSymbol(s *Symbol) error {
	if _, dup := g.Symbols[s.ID]; dup {
		return fmt.Errorf("duplicate symbol %s", s.ID)
	}
	if s.Family == "" {
		s.Family = s.ID
	}
	g.Symbols[s.ID] = s
	g.order = append(g.order, s.ID)
	if s.Kind == KindType {
		g.typeNames[s.Name] = s.ID
	} else if s.Owner != "" {
		g.members[s.Owner] = append(g.members[s.Owner], s.ID)
	}
	if s.Kind == KindMethod {
		g.families[s.Family] = append(g.families[s.Family], s.ID)
	}
	return nil
}

// AddReference records a reference. A symbol has at most one declaring
// reference and only internal symbols have one.
func (g *Graph) AddReference(r Reference) error {
	target, ok := g.Symbols[r.Target]
	if !ok {
		return fmt.Errorf("reference to unknown symbol %s", r.Target)
	}
	if r.Kind == RefDeclaring {
		if target.External {
			return fmt.Errorf("external symbol %s cannot be declared", r.Target)
		}
		if _, dup := g.declared[r.Target]; dup {
			return fmt.Errorf("symbol %s declared twice", r.Target)
		}
		g.declared[r.Target] = len(g.References)
	}
	i := len(g.References)
	g.References = append(g.References, r)
	g.byTarget[r.Target] = append(g.byTarget[r.Target], i)
	src := r.Site.Member
	if src == "" {
		src = r.Site.Type
	}
	if src != "" && r.Kind != RefDeclaring {
		g.byMember[src] = append(g.byMember[src], i)
	}
	return nil
}

func (g *Graph) Symbol(id SymbolID) (*Symbol, bool) {
	s, ok := g.Symbols[id]
	return s, ok
}

// TypeByName finds a type symbol (internal or external) by internal name.
func (g *Graph) TypeByName(name string) (*Symbol, bool) {
	id, ok := g.typeNames[name]
	if !ok {
		return nil, false
	}
	return g.Symbols[id], true
}

// Ordered returns every symbol in insertion order.
func (g *Graph) Ordered() []*Symbol {
	out := make([]*Symbol, 0, len(g.order))
	for _, id := range g.order {
		out = append(out, g.Symbols[id])
	}
	return out
}

// Internal returns the declared symbols in insertion order.
func (g *Graph) Internal() []*Symbol {
	var out []*Symbol
	for _, id := range g.order {
		if s := g.Symbols[id]; !s.External {
			out = append(out, s)
		}
	}
	return out
}

// Members returns the fields and methods owned by a type, in declaration order.
func (g *Graph) Members(typeID SymbolID) []*Symbol {
	ids := g.members[typeID]
	out := make([]*Symbol, 0, len(ids))
	for _, id := range ids {
		out = append(out, g.Symbols[id])
	}
	return out
}

// Declaration returns the declaring reference of an internal symbol.
func (g *Graph) Declaration(id SymbolID) (Reference, bool) {
	i, ok := g.declared[id]
	if !ok {
		return Reference{}, false
	}
	return g.References[i], true
}

// ReferencesTo returns every reference targeting id, declaring one included.
func (g *Graph) ReferencesTo(id SymbolID) []Reference {
	idx := g.byTarget[id]
	out := make([]Reference, 0, len(idx))
	for _, i := range idx {
		out = append(out, g.References[i])
	}
	return out
}

// ReferencesFrom returns the references made from a member body or, for a
// type, from its class-level sites.
func (g *Graph) ReferencesFrom(id SymbolID) []Reference {
	idx := g.byMember[id]
	out := make([]Reference, 0, len(idx))
	for _, i := range idx {
		out = append(out, g.References[i])
	}
	return out
}

// GetDependencies returns the distinct symbols referenced from id, sorted by ID.
func (g *Graph) GetDependencies(id SymbolID) []*Symbol {
	seen := make(map[SymbolID]bool)
	var deps []*Symbol
	for _, r := range g.ReferencesFrom(id) {
		if r.Target == id || seen[r.Target] {
			continue
		}
		seen[r.Target] = true
		deps = append(deps, g.Symbols[r.Target])
	}
	sortSymbols(deps)
	return deps
}

// GetDependents returns the distinct symbols whose bodies or class-level
// sites refer to id, sorted by ID.
func (g *Graph) GetDependents(id SymbolID) []*Symbol {
	seen := make(map[SymbolID]bool)
	var deps []*Symbol
	for _, r := range g.ReferencesTo(id) {
		if r.Kind == RefDeclaring {
			continue
		}
		src := r.Site.Member
		if src == "" {
			src = r.Site.Type
		}
		if src == id || seen[src] {
			continue
		}
		if s, ok := g.Symbols[src]; ok {
			seen[src] = true
			deps = append(deps, s)
		}
	}
	sortSymbols(deps)
	return deps
}

// SetFamily moves a method into the override family rooted at root.
func (g *Graph) SetFamily(id, root SymbolID) {
	s, ok := g.Symbols[id]
	if !ok || s.Family == root {
		return
	}
	old := g.families[s.Family]
	for i, m := range old {
		if m == id {
			g.families[s.Family] = append(old[:i:i], old[i+1:]...)
			break
		}
	}
	if len(g.families[s.Family]) == 0 {
		delete(g.families, s.Family)
	}
	s.Family = root
	g.families[root] = append(g.families[root], id)
}

// Family returns the methods of the override family rooted at root, in
// insertion order.
func (g *Graph) Family(root SymbolID) []*Symbol {
	ids := g.families[root]
	out := make([]*Symbol, 0, len(ids))
	for _, id := range ids {
		out = append(out, g.Symbols[id])
	}
	return out
}

// FamilyRoots lists the roots of families with more than one method, sorted.
func (g *Graph) FamilyRoots() []SymbolID {
	var roots []SymbolID
	for root, ids := range g.families {
		if len(ids) > 1 {
			roots = append(roots, root)
		}
	}
	sort.Slice(roots, func(i, j int) bool { return roots[i] < roots[j] })
	return roots
}

func sortSymbols(s []*Symbol) {
	sort.Slice(s, func(i, j int) bool { return s[i].ID < s[j].ID })
}
