// Package signature computes build-independent fingerprints of symbols:
// the facts about a type, field or method that survive re-obfuscation.
package signature

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"jremap/internal/classfile"
	"jremap/internal/graph"
)

// Features is the fingerprint of one internal symbol. Out and In list the
// renamable neighbours; OutFixed and InFixed hold tokens of neighbours whose
// names never change (library symbols and pinned members).
type Features struct {
	ID         graph.SymbolID   `json:"id"`
	Kind       graph.Kind       `json:"kind"`
	Owner      graph.SymbolID   `json:"owner,omitempty"`
	Name       string           `json:"name"`
	Descriptor string           `json:"descriptor,omitempty"`
	Shape      string           `json:"shape"`
	Static     bool             `json:"static,omitempty"`
	Pinned     bool             `json:"pinned,omitempty"`
	Family     graph.SymbolID   `json:"family,omitempty"`
	Position   int              `json:"position"`
	Literals   []string         `json:"literals,omitempty"`
	Out        []graph.SymbolID `json:"out,omitempty"`
	In         []graph.SymbolID `json:"in,omitempty"`
	OutFixed   []string         `json:"out_fixed,omitempty"`
	InFixed    []string         `json:"in_fixed,omitempty"`
	Base       string           `json:"base"`
}

// Table holds the features of every internal symbol of one build, ordered
// by symbol ID.
type Table struct {
	Version  string     `json:"version"`
	Features []Features `json:"features"`

	byID map[graph.SymbolID]int
}

func NewTable(version string, features []Features) *Table {
	sort.Slice(features, func(i, j int) bool { return features[i].ID < features[j].ID })
	t := &Table{Version: version, Features: features}
	t.index()
	return t
}

func (t *Table) index() {
	t.byID = make(map[graph.SymbolID]int, len(t.Features))
	for i := range t.Features {
		t.byID[t.Features[i].ID] = i
	}
}

func (t *Table) Get(id graph.SymbolID) (*Features, bool) {
	i, ok := t.byID[id]
	if !ok {
		return nil, false
	}
	return &t.Features[i], true
}

// Marshal encodes the table as a snapshot.
func (t *Table) Marshal() ([]byte, error) {
	return json.Marshal(t)
}

func UnmarshalTable(raw []byte) (*Table, error) {
	var t Table
	if err := json.Unmarshal(raw, &t); err != nil {
		return nil, fmt.Errorf("decode signature table: %w", err)
	}
	return NewTable(t.Version, t.Features), nil
}

const tokenBytes = 8

func digest(parts ...string) string {
	sum := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(sum[:tokenBytes])
}

// LiteralToken hashes one literal. Raw literals are written as
// "s:<string>", "i:<int>", "j:<long>", "f:<float>", "d:<double>",
// "c:<class shape>" and, for type members, "f:<shape>" or "m:<shape>".
func LiteralToken(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:6])
}

// LiteralBag hashes, dedups and sorts raw literals.
func LiteralBag(raw []string) []string {
	seen := make(map[string]bool, len(raw))
	var out []string
	for _, r := range raw {
		tok := LiteralToken(r)
		if !seen[tok] {
			seen[tok] = true
			out = append(out, tok)
		}
	}
	sort.Strings(out)
	return out
}

// Shape rewrites a descriptor so that container classes read L?; while
// library classes keep their names.
func Shape(desc string, internal func(class string) bool) string {
	out, err := classfile.MapDescriptor(desc, func(c string) string {
		if internal(c) {
			return "?"
		}
		return c
	})
	if err != nil {
		return desc
	}
	return out
}

func classShape(name string, internal func(string) bool) string {
	if strings.HasPrefix(name, "[") {
		return Shape(name, internal)
	}
	if internal(name) {
		return "?"
	}
	return name
}

// TypeShape describes a class by its flavour and its supertypes, with
// container supertypes erased.
func TypeShape(access uint16, super string, interfaces []string, internal func(string) bool) string {
	flavour := "class"
	switch {
	case access&classfile.AccAnnotation != 0:
		flavour = "annotation"
	case access&classfile.AccInterface != 0:
		flavour = "interface"
	case access&classfile.AccEnum != 0:
		flavour = "enum"
	case access&classfile.AccAbstract != 0:
		flavour = "abstract"
	}
	ifaces := make([]string, 0, len(interfaces))
	for _, i := range interfaces {
		ifaces = append(ifaces, classShape(i, internal))
	}
	sort.Strings(ifaces)
	sup := ""
	if super != "" {
		sup = classShape(super, internal)
	}
	return flavour + ":" + sup + ":" + strings.Join(ifaces, ",")
}

func (f *Features) base() string {
	static := "i"
	if f.Static {
		static = "s"
	}
	return digest(
		string(f.Kind), f.Shape, static,
		strings.Join(f.Literals, ","),
		strings.Join(f.OutFixed, ","),
		strings.Join(f.InFixed, ","),
	)
}
