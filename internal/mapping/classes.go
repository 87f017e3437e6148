package mapping

import (
	"sort"

	"jremap/internal/graph"
)

// ClassMapping is the grouped export consumed by tooling that expects one
// record per class with its members nested.
type ClassMapping struct {
	Obfuscated string          `json:"obfuscatedName"`
	Name       string          `json:"name,omitempty"`
	Fields     []MemberMapping `json:"fields"`
	Methods    []MemberMapping `json:"methods"`
}

type MemberMapping struct {
	Obfuscated string `json:"obfuscatedName"`
	Name       string `json:"name,omitempty"`
	Descriptor string `json:"descriptor"`
	Static     bool   `json:"static"`
	Getter     *int64 `json:"getter,omitempty"`
	Setter     *int64 `json:"setter,omitempty"`
}

// Classes groups entries by owning type, in entry order. Unresolved members
// are listed without a name.
func (m *Mapping) Classes() []ClassMapping {
	var out []ClassMapping
	pos := make(map[graph.SymbolID]int)
	for _, e := range m.Entries {
		if e.Kind != graph.KindType {
			continue
		}
		pos[e.ID] = len(out)
		out = append(out, ClassMapping{Obfuscated: e.Obfuscated, Name: resolvedName(e), Fields: []MemberMapping{}, Methods: []MemberMapping{}})
	}
	for _, e := range m.Entries {
		i, ok := pos[e.Owner]
		if !ok || e.Kind == graph.KindType {
			continue
		}
		mm := MemberMapping{Obfuscated: e.Obfuscated, Name: resolvedName(e), Descriptor: e.Descriptor, Static: e.Static}
		if e.Multiplier != nil {
			dec, enc := e.Multiplier.Decode, e.Multiplier.Encode
			mm.Getter, mm.Setter = &dec, &enc
		}
		if e.Kind == graph.KindField {
			out[i].Fields = append(out[i].Fields, mm)
		} else {
			out[i].Methods = append(out[i].Methods, mm)
		}
	}
	sort.SliceStable(out, func(a, b int) bool { return out[a].Obfuscated < out[b].Obfuscated })
	return out
}

func resolvedName(e Entry) string {
	if e.Status.Resolved() {
		return e.Name
	}
	return ""
}
