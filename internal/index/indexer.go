// Package index builds the Reference Index of a container.
package index

import (
	"encoding/json"
	"fmt"
	"os"

	"jremap/internal/container"
	"jremap/internal/graph"
)

// Indexer builds and persists Reference Index graphs.
type Indexer struct{}

// NewIndexer creates a new indexer.
func NewIndexer() *Indexer {
	return &Indexer{}
}

// BuildGraph indexes every declaration and reference of the model.
func (i *Indexer) BuildGraph(m *container.Model) (*graph.Graph, error) {
	return Build(m)
}

// SaveGraph writes the symbols, references and dangling references as JSON.
func (i *Indexer) SaveGraph(g *graph.Graph, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create graph file: %w", err)
	}
	defer f.Close()

	encoder := json.NewEncoder(f)
	encoder.SetIndent("", "  ")
	dump := struct {
		Symbols    []*graph.Symbol       `json:"symbols"`
		References []graph.Reference     `json:"references"`
		Unresolved []graph.UnresolvedRef `json:"unresolved"`
	}{g.Ordered(), g.References, g.Unresolved}
	if err := encoder.Encode(dump); err != nil {
		return fmt.Errorf("failed to encode graph: %w", err)
	}
	return nil
}
