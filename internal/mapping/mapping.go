package mapping

import (
	"math"
	"sort"

	"jremap/internal/graph"
)

// Normalize sorts entries and unresolved records by ID and rounds
// confidences so that equal mappings serialize to equal bytes.
func (m *Mapping) Normalize() {
	sort.Slice(m.Entries, func(i, j int) bool { return m.Entries[i].ID < m.Entries[j].ID })
	sort.Slice(m.Unresolved, func(i, j int) bool { return m.Unresolved[i].ID < m.Unresolved[j].ID })
	for i := range m.Entries {
		m.Entries[i].Confidence = math.Round(m.Entries[i].Confidence*1e4) / 1e4
	}
	for i := range m.Unresolved {
		sort.Strings(m.Unresolved[i].Candidates)
	}
	if m.Entries == nil {
		m.Entries = []Entry{}
	}
	if m.Unresolved == nil {
		m.Unresolved = []Unresolved{}
	}
}

// Clone returns a deep copy.
func (m *Mapping) Clone() *Mapping {
	out := *m
	out.Entries = make([]Entry, len(m.Entries))
	for i, e := range m.Entries {
		if e.Multiplier != nil {
			mul := *e.Multiplier
			e.Multiplier = &mul
		}
		out.Entries[i] = e
	}
	out.Unresolved = make([]Unresolved, len(m.Unresolved))
	for i, u := range m.Unresolved {
		u.Candidates = append([]string(nil), u.Candidates...)
		out.Unresolved[i] = u
	}
	return &out
}

// Lookup indexes entries by symbol ID. The returned pointers alias m.
func (m *Mapping) Lookup() map[graph.SymbolID]*Entry {
	out := make(map[graph.SymbolID]*Entry, len(m.Entries))
	for i := range m.Entries {
		out[m.Entries[i].ID] = &m.Entries[i]
	}
	return out
}

// Names returns the canonical name of every resolved entry.
func (m *Mapping) Names() map[graph.SymbolID]string {
	out := make(map[graph.SymbolID]string)
	for _, e := range m.Entries {
		if e.Status.Resolved() && e.Name != "" {
			out[e.ID] = e.Name
		}
	}
	return out
}

// StatusCounts counts entries per status.
func (m *Mapping) StatusCounts() map[Status]int {
	out := make(map[Status]int)
	for _, e := range m.Entries {
		out[e.Status]++
	}
	return out
}

func (m *Mapping) Resolved() int {
	n := 0
	for _, e := range m.Entries {
		if e.Status.Resolved() {
			n++
		}
	}
	return n
}

// WithCorrections applies hand corrections and returns the next revision.
// A correction names a symbol by its obfuscated owner, name and (optionally)
// descriptor; it must match exactly one entry. Method corrections extend to
// the whole override family. Corrections that match nothing, or more than
// one entry, are returned unapplied. m itself is not modified.
func (m *Mapping) WithCorrections(corrections []Correction, provenance string) (*Mapping, []Correction) {
	out := m.Clone()
	out.Revision = m.Revision + 1
	if provenance != "" {
		out.Provenance = provenance
	}

	typeNames := make(map[graph.SymbolID]string)
	for _, e := range out.Entries {
		if e.Kind == graph.KindType {
			typeNames[e.ID] = e.Obfuscated
		}
	}
	byFamily := make(map[graph.SymbolID][]int)
	for i, e := range out.Entries {
		if e.Family != "" {
			byFamily[e.Family] = append(byFamily[e.Family], i)
		}
	}

	var rejected []Correction
	fixed := make(map[graph.SymbolID]bool)
	for _, c := range corrections {
		var hits []int
		for i, e := range out.Entries {
			if correctionMatches(c, e, typeNames) {
				hits = append(hits, i)
			}
		}
		if len(hits) != 1 || c.Name == "" {
			rejected = append(rejected, c)
			continue
		}
		targets := []int{hits[0]}
		if fam := out.Entries[hits[0]].Family; fam != "" {
			targets = byFamily[fam]
		}
		source := c.Source
		if source == "" {
			source = provenance
		}
		for _, i := range targets {
			e := &out.Entries[i]
			e.Name = c.Name
			e.Status = StatusManual
			e.Confidence = 1.0
			e.Provenance = source
			fixed[e.ID] = true
		}
	}

	kept := out.Unresolved[:0]
	for _, u := range out.Unresolved {
		if !fixed[u.ID] {
			kept = append(kept, u)
		}
	}
	out.Unresolved = kept
	out.Normalize()
	return out, rejected
}

func correctionMatches(c Correction, e Entry, typeNames map[graph.SymbolID]string) bool {
	if c.Kind != e.Kind || c.Obfuscated != e.Obfuscated {
		return false
	}
	if e.Kind == graph.KindType {
		return true
	}
	if c.Owner != "" && typeNames[e.Owner] != c.Owner {
		return false
	}
	return c.Descriptor == "" || c.Descriptor == e.Descriptor
}
