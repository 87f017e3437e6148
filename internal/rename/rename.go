// Package rename applies a mapping to a container. A mapping is validated
// in full before anything is written; every renamed symbol is rewritten at
// all of its reference sites or not at all.
package rename

import (
	"context"
	"fmt"

	"github.com/apex/log"

	"jremap/internal/classfile"
	"jremap/internal/container"
	"jremap/internal/graph"
	"jremap/internal/index"
	"jremap/internal/mapping"
)

const DefaultAnnotationDescriptor = "Ljremap/ObfuscatedName;"

type Options struct {
	// Annotate records the obfuscated name of every renamed declaration in
	// an invisible annotation.
	Annotate             bool
	AnnotationDescriptor string
	// OnStage runs after a symbol's edits are staged and before they
	// commit. An error aborts the run.
	OnStage func(id graph.SymbolID) error
}

type Renamed struct {
	ID    graph.SymbolID `json:"id"`
	Kind  graph.Kind     `json:"kind"`
	From  string         `json:"from"`
	To    string         `json:"to"`
	Sites int            `json:"sites"`
}

type Report struct {
	Renamed    []Renamed `json:"renamed"`
	Kept       int       `json:"kept"`
	Unresolved int       `json:"unresolved"`
	Sites      int       `json:"sites"`
	Annotated  int       `json:"annotated"`
}

type Engine struct {
	opts Options
}

func NewEngine(opts Options) *Engine {
	if opts.AnnotationDescriptor == "" {
		opts.AnnotationDescriptor = DefaultAnnotationDescriptor
	}
	return &Engine{opts: opts}
}

// Apply is NewEngine(opts).Apply.
func Apply(ctx context.Context, model *container.Model, m *mapping.Mapping, opts Options) (*container.Model, *Report, error) {
	return NewEngine(opts).Apply(ctx, model, m)
}

// Apply returns a renamed copy of model. model itself is never modified.
// Symbols the mapping leaves unresolved keep their names.
func (e *Engine) Apply(ctx context.Context, model *container.Model, m *mapping.Mapping) (*container.Model, *Report, error) {
	g, err := index.Build(model)
	if err != nil {
		return nil, nil, fmt.Errorf("rename: index input: %w", err)
	}
	p, err := newPlan(g, model, m)
	if err != nil {
		return nil, nil, err
	}
	report := &Report{Kept: p.kept, Unresolved: p.unresolved}

	st := newStager(g, model)
	committed := newEdits()
	for _, r := range p.renames {
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}
		t, err := st.stage(r)
		if err != nil {
			return nil, nil, err
		}
		if e.opts.OnStage != nil {
			if err := e.opts.OnStage(r.sym.ID); err != nil {
				return nil, nil, fmt.Errorf("rename %s: %w", r.sym.ID, err)
			}
		}
		committed.commit(g, t)
		report.Renamed = append(report.Renamed, Renamed{
			ID: r.sym.ID, Kind: r.sym.Kind, From: display(r.from), To: display(r.to), Sites: len(t.edits),
		})
	}
	report.Sites = committed.sites
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}

	classes := make([]*classfile.ClassFile, 0, len(model.Types()))
	for _, t := range model.Types() {
		cf, annotated, err := committed.rewrite(t, e.opts)
		if err != nil {
			return nil, nil, fmt.Errorf("rename: rewrite %s: %w", display(t.Name()), err)
		}
		report.Annotated += annotated
		classes = append(classes, cf)
	}
	out, err := model.Replace(classes)
	if err != nil {
		return nil, nil, fmt.Errorf("rename: %w", err)
	}
	if err := verify(g, out, committed); err != nil {
		return nil, nil, err
	}

	log.WithFields(log.Fields{
		"renamed":    len(report.Renamed),
		"sites":      report.Sites,
		"kept":       report.Kept,
		"unresolved": report.Unresolved,
		"annotated":  report.Annotated,
	}).Info("mapping applied")
	return out, report, nil
}

// verify re-indexes the output: every reference must still resolve and
// every internal symbol must keep its reference count and carry the name
// the edits gave it.
func verify(before *graph.Graph, out *container.Model, e *edits) error {
	after, err := index.Build(out)
	if err != nil {
		return fmt.Errorf("rename: index output: %w", err)
	}
	if len(after.Unresolved) > 0 {
		u := after.Unresolved[0]
		return inconsistent(u.Site.Type, "output leaves a dangling reference at %s to %s.%s%s",
			index.SiteString(after, u.Site), display(u.Owner), display(u.Name), u.Descriptor)
	}
	for _, s := range before.Internal() {
		got, ok := after.Symbol(s.ID)
		if !ok {
			return inconsistent(s.ID, "symbol missing from output")
		}
		want := s.Name
		if s.Kind == graph.KindType {
			want = e.mapClass(s.Name)
		} else if to, ok := e.decls[s.ID]; ok {
			want = to
		}
		if got.Name != want {
			return inconsistent(s.ID, "output names it %q, want %q", display(got.Name), display(want))
		}
		if b, a := len(before.ReferencesTo(s.ID)), len(after.ReferencesTo(s.ID)); b != a {
			return inconsistent(s.ID, "reference count changed from %d to %d", b, a)
		}
	}
	if b, a := len(before.References), len(after.References); b != a {
		return fmt.Errorf("rename: output has %d references, input had %d", a, b)
	}
	return nil
}
