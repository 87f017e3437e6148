package signature

import (
	"sort"
	"strings"

	"jremap/internal/graph"
)

// View reports the identity token of a symbol already matched in the
// current round, for example "n:<canonical name>".
type View interface {
	Token(id graph.SymbolID) (string, bool)
}

type ViewFunc func(id graph.SymbolID) (string, bool)

func (f ViewFunc) Token(id graph.SymbolID) (string, bool) { return f(id) }

// Unmatched is the view of the first round, where nothing is matched yet.
var Unmatched View = ViewFunc(func(graph.SymbolID) (string, bool) { return "", false })

// Token is the identity of id under v: its match token once matched, its
// base hash before.
func (t *Table) Token(id graph.SymbolID, v View) string {
	if tok, ok := v.Token(id); ok {
		return tok
	}
	if f, ok := t.Get(id); ok {
		if f.Pinned {
			return "p:" + f.Name + f.Shape
		}
		return "b:" + f.Base
	}
	return "u:" + string(id)
}

// Neighbours lists the tokens of f's neighbours under v, sorted. Out
// neighbours are prefixed "o", in neighbours "i".
func (t *Table) Neighbours(f *Features, v View) []string {
	out := make([]string, 0, len(f.Out)+len(f.In)+len(f.OutFixed)+len(f.InFixed))
	for _, id := range f.Out {
		out = append(out, "o"+t.Token(id, v))
	}
	for _, tok := range f.OutFixed {
		out = append(out, "o"+tok)
	}
	for _, id := range f.In {
		out = append(out, "i"+t.Token(id, v))
	}
	for _, tok := range f.InFixed {
		out = append(out, "i"+tok)
	}
	sort.Strings(out)
	return out
}

func (t *Table) OwnerToken(f *Features, v View) string {
	if f.Owner == "" {
		return ""
	}
	return t.Token(f.Owner, v)
}

// Key is the per-round signature key of f. Two symbols of different builds
// with equal keys agree on every feature given what has been matched so far.
func (t *Table) Key(f *Features, v View) string {
	static := "i"
	if f.Static {
		static = "s"
	}
	return digest(
		string(f.Kind), f.Shape, static,
		strings.Join(f.Literals, ","),
		strings.Join(t.Neighbours(f, v), ","),
		t.OwnerToken(f, v),
	)
}
