// Package analysis reports how much of a build a mapping names and where
// hand correction pays off most.
package analysis

import (
	"sort"

	"jremap/internal/graph"
	"jremap/internal/mapping"
)

type KindCoverage struct {
	Total    int `json:"total"`
	Resolved int `json:"resolved"`
}

// Gap is an internal symbol without a canonical name.
type Gap struct {
	ID         graph.SymbolID         `json:"id"`
	Kind       graph.Kind             `json:"kind"`
	Obfuscated string                 `json:"obfuscated"`
	Reason     graph.UnresolvedReason `json:"reason"`
	Candidates []string               `json:"candidates,omitempty"`
	UseSites   int                    `json:"use_sites"`
	Dependents int                    `json:"dependents"`
}

type CoverageReport struct {
	Version  string                       `json:"version"`
	Revision int                          `json:"revision"`
	Total    int                          `json:"total"`
	Resolved int                          `json:"resolved"`
	ByStatus map[mapping.Status]int       `json:"by_status"`
	ByKind   map[graph.Kind]*KindCoverage `json:"by_kind"`
	Gaps     []Gap                        `json:"gaps"`
}

// Ratio is the resolved share of symbols, 1 for an empty build.
func (r *CoverageReport) Ratio() float64 {
	if r.Total == 0 {
		return 1
	}
	return float64(r.Resolved) / float64(r.Total)
}

// Analyzer reads use sites from the Reference Index of the mapped build.
type Analyzer struct {
	g *graph.Graph
}

func NewAnalyzer(g *graph.Graph) *Analyzer {
	return &Analyzer{g: g}
}

// Coverage tallies m per status and kind. Gaps are ordered by use sites,
// most referenced first, then by ID. Pinned symbols keep their names and
// are not counted.
func (a *Analyzer) Coverage(m *mapping.Mapping) *CoverageReport {
	report := &CoverageReport{
		Version:  m.Version,
		Revision: m.Revision,
		ByStatus: make(map[mapping.Status]int),
		ByKind:   make(map[graph.Kind]*KindCoverage),
		Gaps:     []Gap{},
	}
	reasons := make(map[graph.SymbolID]mapping.Unresolved, len(m.Unresolved))
	for _, u := range m.Unresolved {
		reasons[u.ID] = u
	}

	for _, e := range m.Entries {
		if s, ok := a.g.Symbol(e.ID); ok && s.Pinned {
			continue
		}
		report.Total++
		report.ByStatus[e.Status]++
		kc := report.ByKind[e.Kind]
		if kc == nil {
			kc = &KindCoverage{}
			report.ByKind[e.Kind] = kc
		}
		kc.Total++
		if e.Status.Resolved() {
			report.Resolved++
			kc.Resolved++
			continue
		}

		gap := Gap{ID: e.ID, Kind: e.Kind, Obfuscated: e.Obfuscated, Reason: graph.ReasonNoCandidate}
		if u, ok := reasons[e.ID]; ok {
			gap.Reason = u.Reason
			gap.Candidates = u.Candidates
		}
		gap.UseSites = a.g.UseSites(e.ID)
		gap.Dependents = len(a.g.GetDependents(e.ID))
		report.Gaps = append(report.Gaps, gap)
	}

	sort.SliceStable(report.Gaps, func(i, j int) bool {
		if report.Gaps[i].UseSites != report.Gaps[j].UseSites {
			return report.Gaps[i].UseSites > report.Gaps[j].UseSites
		}
		return report.Gaps[i].ID < report.Gaps[j].ID
	})
	return report
}
