// Package mapping holds the versioned artifact that pairs symbol identities
// of one build with canonical names.
package mapping

import "jremap/internal/graph"

type Status string

const (
	StatusUnresolved Status = "unresolved"
	StatusSignature  Status = "resolved-by-signature"
	StatusAnchor     Status = "resolved-by-anchor"
	StatusManual     Status = "resolved-manually"
	StatusAmbiguous  Status = "ambiguous"
)

// Resolved reports whether the status carries a canonical name.
func (s Status) Resolved() bool {
	return s == StatusSignature || s == StatusAnchor || s == StatusManual
}

// Multiplier is the decode/encode pair an obfuscator applied to an integer
// field. Decode*Encode == 1 modulo 2^Bits.
type Multiplier struct {
	Bits   int   `json:"bits"`
	Decode int64 `json:"decode"`
	Encode int64 `json:"encode"`
}

type Entry struct {
	ID         graph.SymbolID `json:"id"`
	Kind       graph.Kind     `json:"kind"`
	Owner      graph.SymbolID `json:"owner,omitempty"`
	Obfuscated string         `json:"obfuscated"`
	Descriptor string         `json:"descriptor,omitempty"`
	Static     bool           `json:"static,omitempty"`
	Family     graph.SymbolID `json:"family,omitempty"`
	Name       string         `json:"name,omitempty"`
	Status     Status         `json:"status"`
	Confidence float64        `json:"confidence"`
	Provenance string         `json:"provenance,omitempty"`
	Signature  string         `json:"signature"`
	Multiplier *Multiplier    `json:"multiplier,omitempty"`
}

// ReasonUnnamed marks a symbol matched to a prior symbol that itself had no
// canonical name.
const ReasonUnnamed graph.UnresolvedReason = "unnamed"

// Unresolved explains why a symbol carries no name.
type Unresolved struct {
	ID         graph.SymbolID         `json:"id"`
	Kind       graph.Kind             `json:"kind"`
	Obfuscated string                 `json:"obfuscated"`
	Reason     graph.UnresolvedReason `json:"reason"`
	Candidates []string               `json:"candidates,omitempty"`
}

// Mapping is immutable once built: corrections produce a new revision.
type Mapping struct {
	Version    string       `json:"version"`
	Revision   int          `json:"revision"`
	Parent     string       `json:"parent,omitempty"`
	Provenance string       `json:"provenance,omitempty"`
	Entries    []Entry      `json:"entries"`
	Unresolved []Unresolved `json:"unresolved"`
}

// Anchor pins a canonical name to whatever symbol exhibits a fixed
// structural fingerprint. Descriptor is in shape form: library classes by
// name, container classes as L?;.
type Anchor struct {
	Kind       graph.Kind `json:"kind"`
	Descriptor string     `json:"descriptor"`
	Literals   []string   `json:"literals,omitempty"`
	Owner      string     `json:"owner,omitempty"`
	Name       string     `json:"name"`
}

type AnchorTable struct {
	Version string   `json:"version,omitempty"`
	Anchors []Anchor `json:"anchors"`
}

// Correction is a hand-supplied name for a symbol identified by its
// obfuscated names in one build.
type Correction struct {
	Kind       graph.Kind `json:"kind"`
	Owner      string     `json:"owner,omitempty"`
	Obfuscated string     `json:"obfuscated"`
	Descriptor string     `json:"descriptor,omitempty"`
	Name       string     `json:"name"`
	Source     string     `json:"source,omitempty"`
}
