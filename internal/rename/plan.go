package rename

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"jremap/internal/classfile"
	"jremap/internal/container"
	"jremap/internal/graph"
	"jremap/internal/index"
	"jremap/internal/mapping"
)

// rename is one symbol whose raw name changes.
type rename struct {
	sym  *graph.Symbol
	from string
	to   string
}

// plan is a validated mapping: every rename in it can be applied without
// breaking the container.
type plan struct {
	g       *graph.Graph
	model   *container.Model
	renames []*rename
	byID    map[graph.SymbolID]*rename
	types   map[string]string

	kept       int
	unresolved int
}

func newPlan(g *graph.Graph, model *container.Model, m *mapping.Mapping) (*plan, error) {
	p := &plan{
		g:     g,
		model: model,
		byID:  make(map[graph.SymbolID]*rename),
		types: make(map[string]string),
	}
	if len(g.Unresolved) > 0 {
		u := g.Unresolved[0]
		id := u.Site.Member
		if id == "" {
			id = u.Site.Type
		}
		return nil, inconsistent(id, "dangling reference at %s to %s.%s%s",
			index.SiteString(g, u.Site), display(u.Owner), display(u.Name), u.Descriptor)
	}

	seen := make(map[graph.SymbolID]bool)
	for _, e := range m.Entries {
		if seen[e.ID] {
			return nil, inconsistent(e.ID, "duplicate entry")
		}
		seen[e.ID] = true
		sym, ok := g.Symbol(e.ID)
		if !ok || sym.External {
			return nil, inconsistent(e.ID, "no such symbol in the container")
		}
		if e.Kind != "" && e.Kind != sym.Kind {
			return nil, inconsistent(e.ID, "entry is a %s, container declares a %s", e.Kind, sym.Kind)
		}
		if !e.Status.Resolved() || e.Name == "" {
			p.unresolved++
			continue
		}
		if err := checkIdentifier(sym.Kind, e.Name); err != nil {
			return nil, inconsistent(e.ID, "%v", err)
		}
		to := classfile.EncodeMUTF8(e.Name)
		if e.Obfuscated != "" && sym.Name != to && sym.Name != classfile.EncodeMUTF8(e.Obfuscated) {
			return nil, inconsistent(e.ID, "entry renames %q but the container declares %q", e.Obfuscated, display(sym.Name))
		}
		if to == sym.Name {
			p.kept++
			continue
		}
		if sym.Pinned {
			return nil, inconsistent(e.ID, "%s is pinned and cannot be renamed", display(sym.Name))
		}
		r := &rename{sym: sym, from: sym.Name, to: to}
		p.renames = append(p.renames, r)
		p.byID[sym.ID] = r
		if sym.Kind == graph.KindType {
			p.types[sym.Name] = to
		}
	}
	sort.Slice(p.renames, func(i, j int) bool { return p.renames[i].sym.ID < p.renames[j].sym.ID })

	if err := p.checkFamilies(); err != nil {
		return nil, err
	}
	if err := p.checkTypeCollisions(); err != nil {
		return nil, err
	}
	if err := p.checkMemberCollisions(); err != nil {
		return nil, err
	}
	return p, nil
}

func checkIdentifier(kind graph.Kind, name string) error {
	if name == "" {
		return errors.New("empty name")
	}
	switch kind {
	case graph.KindType:
		for _, part := range strings.Split(name, "/") {
			if part == "" || strings.ContainsAny(part, ".;[") {
				return fmt.Errorf("invalid class name %q", name)
			}
		}
	case graph.KindMethod:
		if strings.ContainsAny(name, ".;[/<>") {
			return fmt.Errorf("invalid method name %q", name)
		}
	default:
		if strings.ContainsAny(name, ".;[/") {
			return fmt.Errorf("invalid field name %q", name)
		}
	}
	return nil
}

func display(raw string) string {
	if s, err := classfile.DecodeMUTF8(raw); err == nil {
		return s
	}
	return raw
}

func (p *plan) mapClass(c string) string {
	if n, ok := p.types[c]; ok {
		return n
	}
	return c
}

// finalName is the raw name a symbol carries once the plan is applied.
func (p *plan) finalName(s *graph.Symbol) string {
	if r, ok := p.byID[s.ID]; ok {
		return r.to
	}
	return s.Name
}

func (p *plan) finalDescriptor(s *graph.Symbol) string {
	d, err := classfile.MapDescriptor(s.Descriptor, p.mapClass)
	if err != nil {
		return s.Descriptor
	}
	return d
}

func (p *plan) checkFamilies() error {
	for _, root := range p.g.FamilyRoots() {
		members := p.g.Family(root)
		if len(members) < 2 {
			continue
		}
		want := p.finalName(members[0])
		for _, s := range members[1:] {
			if got := p.finalName(s); got != want {
				return inconsistent(s.ID, "override family %s would be named both %q and %q", root, display(want), display(got))
			}
		}
	}
	return nil
}

func (p *plan) checkTypeCollisions() error {
	final := make(map[string]graph.SymbolID)
	for _, s := range p.g.Internal() {
		if s.Kind != graph.KindType {
			continue
		}
		name := p.finalName(s)
		if other, ok := final[name]; ok {
			return inconsistent(s.ID, "type name %q collides with %s", display(name), other)
		}
		final[name] = s.ID
	}
	for _, r := range p.renames {
		if r.sym.Kind != graph.KindType {
			continue
		}
		if s, ok := p.g.TypeByName(r.to); ok && s.External {
			return inconsistent(r.sym.ID, "type name %q collides with a library type", display(r.to))
		}
	}
	return nil
}

type memberSig struct {
	kind       graph.Kind
	name, desc string
}

func (p *plan) sig(s *graph.Symbol) memberSig {
	return memberSig{kind: s.Kind, name: p.finalName(s), desc: p.finalDescriptor(s)}
}

// checkMemberCollisions rejects two members of one type with the same final
// name and descriptor, and renames that would make a member hide or
// override an inherited member it did not relate to before.
func (p *plan) checkMemberCollisions() error {
	for _, t := range p.g.Internal() {
		if t.Kind != graph.KindType {
			continue
		}
		own := make(map[memberSig]graph.SymbolID)
		for _, s := range p.g.Members(t.ID) {
			k := p.sig(s)
			if other, ok := own[k]; ok {
				return inconsistent(s.ID, "%s %s%s collides with %s", s.Kind, display(k.name), k.desc, other)
			}
			own[k] = s.ID
		}

		inherited := make(map[memberSig]*graph.Symbol)
		for _, a := range p.ancestors(t) {
			for _, s := range p.g.Members(a.ID) {
				if _, ok := inherited[p.sig(s)]; !ok {
					inherited[p.sig(s)] = s
				}
			}
		}
		for _, s := range p.g.Members(t.ID) {
			k := p.sig(s)
			other, ok := inherited[k]
			if !ok {
				continue
			}
			_, renamed := p.byID[s.ID]
			_, otherRenamed := p.byID[other.ID]
			if !renamed && !otherRenamed {
				continue
			}
			if s.Kind == graph.KindMethod && s.Family != "" && s.Family == other.Family {
				continue
			}
			return inconsistent(s.ID, "%s %s%s would shadow %s", s.Kind, display(k.name), k.desc, other.ID)
		}
	}
	return nil
}

// ancestors walks the declared supertypes of t that live in the container.
func (p *plan) ancestors(t *graph.Symbol) []*graph.Symbol {
	var out []*graph.Symbol
	seen := map[string]bool{t.Name: true}
	queue := p.supertypes(t.Name)
	for len(queue) > 0 {
		c := queue[0]
		queue = queue[1:]
		if seen[c] {
			continue
		}
		seen[c] = true
		s, ok := p.g.TypeByName(c)
		if !ok || s.External {
			continue
		}
		out = append(out, s)
		queue = append(queue, p.supertypes(c)...)
	}
	return out
}

func (p *plan) supertypes(name string) []string {
	t, ok := p.model.Type(name)
	if !ok {
		return nil
	}
	var out []string
	if t.Super() != "" {
		out = append(out, t.Super())
	}
	return append(out, t.Interfaces()...)
}
