// Package resolver matches the symbols of a new build against a prior
// build's signatures and an anchor table, iterating to a fixed point.
// Anything it cannot decide is reported, never guessed.
package resolver

import (
	"context"
	"fmt"

	"github.com/apex/log"

	"jremap/internal/classfile"
	"jremap/internal/graph"
	"jremap/internal/mapping"
	"jremap/internal/signature"
)

const (
	ConfidenceExact      = 0.99
	ConfidenceAnchor     = 0.95
	ConfidenceSimilarity = 0.9
)

type Weights struct {
	Neighbour float64 `yaml:"neighbour"`
	Literal   float64 `yaml:"literal"`
	Owner     float64 `yaml:"owner"`
	Position  float64 `yaml:"position"`
}

type Options struct {
	MaxIterations int     `yaml:"max_iterations"`
	Threshold     float64 `yaml:"threshold"`
	Margin        float64 `yaml:"margin"`
	Weights       Weights `yaml:"weights"`
	Workers       int     `yaml:"workers"`
}

func DefaultOptions() Options {
	return Options{
		MaxIterations: 10,
		Threshold:     0.55,
		Margin:        0.10,
		Weights:       Weights{Neighbour: 0.50, Literal: 0.30, Owner: 0.15, Position: 0.05},
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.MaxIterations <= 0 {
		o.MaxIterations = d.MaxIterations
	}
	if o.Threshold <= 0 {
		o.Threshold = d.Threshold
	}
	if o.Margin <= 0 {
		o.Margin = d.Margin
	}
	if o.Weights == (Weights{}) {
		o.Weights = d.Weights
	}
	return o
}

// Prior is what is known about the previous build. Either field may be nil.
type Prior struct {
	Mapping *mapping.Mapping
	Table   *signature.Table
}

type Result struct {
	Mapping    *mapping.Mapping
	Unresolved []mapping.Unresolved
	Stages     []StageResult
	Iterations int
}

// Resolve runs the default chain until an iteration changes nothing or the
// iteration cap is hit, then drops names that would collide.
func Resolve(ctx context.Context, table *signature.Table, prior Prior, anchors *mapping.AnchorTable, opts Options) (*Result, error) {
	opts = opts.withDefaults()
	var priorNames map[graph.SymbolID]string
	if prior.Mapping != nil {
		priorNames = prior.Mapping.Names()
	}
	var anchorList []mapping.Anchor
	if anchors != nil {
		anchorList = anchors.Anchors
	}
	s := NewState(table, prior.Table, priorNames, anchorList)
	chain := NewDefaultChain(opts)

	res := &Result{}
	for it := 1; it <= opts.MaxIterations; it++ {
		matched, unresolved := len(s.matches), s.UnresolvedCount()
		s.resetAmbiguity()
		stages := chain.Run(ctx, s, it)
		res.Stages = append(res.Stages, stages...)
		res.Iterations = it
		for _, st := range stages {
			if st.Err != nil {
				return nil, fmt.Errorf("resolve iteration %d, %s pass: %w", it, st.Pass, st.Err)
			}
		}
		log.WithFields(log.Fields{
			"iteration":  it,
			"matched":    len(s.matches),
			"unresolved": s.UnresolvedCount(),
		}).Debug("resolver iteration")
		if len(s.matches) == matched && s.UnresolvedCount() == unresolved {
			break
		}
	}
	s.dropCollisions()

	var parent string
	if prior.Mapping != nil {
		parent = prior.Mapping.Version
	}
	res.Mapping = s.Mapping(table.Version, parent)
	res.Unresolved = res.Mapping.Unresolved
	log.WithFields(log.Fields{
		"version":    table.Version,
		"iterations": res.Iterations,
		"resolved":   res.Mapping.Resolved(),
		"unresolved": len(res.Unresolved),
	}).Info("resolution finished")
	return res, nil
}

// effectiveName is the raw name a symbol will carry after renaming.
func (s *State) effectiveName(f *signature.Features) string {
	if m, ok := s.matches[f.ID]; ok && m.Name != "" {
		return classfile.EncodeMUTF8(m.Name)
	}
	return f.Name
}

// dropCollisions demotes named symbols that would end up sharing a name
// with another type, or a name and descriptor with another member of the
// same type. Demoting a type renames it back, which can expose new
// collisions, so the sweep repeats until nothing changes.
func (s *State) dropCollisions() {
	all := make([]*signature.Features, 0, len(s.Current.Features))
	for i := range s.Current.Features {
		all = append(all, &s.Current.Features[i])
	}
	for round := 0; round <= len(all); round++ {
		typeNames := make(map[string]string)
		for _, f := range all {
			if f.Kind == graph.KindType {
				typeNames[f.Name] = s.effectiveName(f)
			}
		}
		mapClass := func(c string) string {
			if n, ok := typeNames[c]; ok {
				return n
			}
			return c
		}

		groups := make(map[string][]*signature.Features)
		var keys []string
		for _, f := range all {
			key := "t|" + s.effectiveName(f)
			if f.Kind != graph.KindType {
				desc, err := classfile.MapDescriptor(f.Descriptor, mapClass)
				if err != nil {
					desc = f.Descriptor
				}
				key = string(f.Kind) + "|" + string(f.Owner) + "|" + s.effectiveName(f) + "|" + desc
			}
			if _, ok := groups[key]; !ok {
				keys = append(keys, key)
			}
			groups[key] = append(groups[key], f)
		}

		changed := false
		for _, key := range keys {
			g := groups[key]
			if len(g) < 2 {
				continue
			}
			for _, f := range g {
				m, ok := s.matches[f.ID]
				if !ok || m.Name == "" {
					continue
				}
				name := m.Name
				s.demoteWithFamily(f, []string{name})
				changed = true
			}
		}
		if !changed {
			return
		}
	}
}

func (s *State) demoteWithFamily(f *signature.Features, candidates []string) {
	if f.Family == "" {
		s.demote(f.ID, candidates)
		return
	}
	for _, g := range s.current {
		if g.Family == f.Family {
			s.demote(g.ID, candidates)
		}
	}
}

func display(raw string) string {
	if s, err := classfile.DecodeMUTF8(raw); err == nil {
		return s
	}
	return raw
}

// Mapping renders the state as a mapping artifact. Pinned symbols are left
// out: their names are not the mapping's to give.
func (s *State) Mapping(version, parent string) *mapping.Mapping {
	out := &mapping.Mapping{Version: version, Parent: parent, Provenance: "resolver"}
	for _, f := range s.current {
		e := mapping.Entry{
			ID:         f.ID,
			Kind:       f.Kind,
			Owner:      f.Owner,
			Obfuscated: display(f.Name),
			Descriptor: f.Descriptor,
			Static:     f.Static,
			Family:     f.Family,
			Status:     mapping.StatusUnresolved,
			Signature:  f.Base,
		}
		m, matched := s.matches[f.ID]
		if matched && m.Name != "" {
			e.Name, e.Status, e.Confidence, e.Provenance = m.Name, m.Status, m.Confidence, m.Provenance
			out.Entries = append(out.Entries, e)
			continue
		}

		u := mapping.Unresolved{ID: f.ID, Kind: f.Kind, Obfuscated: e.Obfuscated, Reason: graph.ReasonNoCandidate}
		switch {
		case len(s.conflicts[f.ID]) > 0:
			e.Status = mapping.StatusAmbiguous
			u.Reason, u.Candidates = graph.ReasonAmbiguous, s.conflicts[f.ID]
		case len(s.ambiguous[f.ID]) > 0:
			e.Status = mapping.StatusAmbiguous
			u.Reason, u.Candidates = graph.ReasonAmbiguous, s.ambiguous[f.ID]
		case matched && m.Prior != "":
			u.Reason = mapping.ReasonUnnamed
			e.Provenance = m.Provenance
		}
		out.Entries = append(out.Entries, e)
		out.Unresolved = append(out.Unresolved, u)
	}
	out.Normalize()
	return out
}
