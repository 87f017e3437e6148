package mapping

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"
	"os"
	"sync"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v5"
)

const (
	mappingSchema = "schema/mapping.schema.json"
	anchorsSchema = "schema/anchors.schema.json"
)

//go:embed schema/*.json
var schemaFS embed.FS

var (
	schemaCacheMu sync.Mutex
	schemaCache   = make(map[string]*jsonschema.Schema)
)

func loadCompiledSchema(name string) (*jsonschema.Schema, error) {
	schemaCacheMu.Lock()
	defer schemaCacheMu.Unlock()
	if cached, ok := schemaCache[name]; ok {
		return cached, nil
	}

	raw, err := schemaFS.ReadFile(name)
	if err != nil {
		return nil, err
	}
	url := "file:///jremap/" + name
	compiler := jsonschema.NewCompiler()
	compiler.Draft = jsonschema.Draft7
	if err := compiler.AddResource(url, bytes.NewReader(raw)); err != nil {
		return nil, err
	}
	compiled, err := compiler.Compile(url)
	if err != nil {
		return nil, err
	}
	schemaCache[name] = compiled
	return compiled, nil
}

func validate(schemaName string, raw []byte) error {
	schema, err := loadCompiledSchema(schemaName)
	if err != nil {
		return fmt.Errorf("compile %s: %w", schemaName, err)
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return fmt.Errorf("decode json: %w", err)
	}
	if err := schema.Validate(v); err != nil {
		return fmt.Errorf("schema validation failed: %w", err)
	}
	return nil
}

// Marshal writes a normalized copy of m. The output has no timestamps and
// sorted entries, so equal mappings give equal bytes.
func Marshal(m *Mapping) ([]byte, error) {
	c := m.Clone()
	c.Normalize()
	b, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(b, '\n'), nil
}

// Unmarshal validates raw against the mapping schema before decoding.
func Unmarshal(raw []byte) (*Mapping, error) {
	if err := validate(mappingSchema, raw); err != nil {
		return nil, fmt.Errorf("invalid mapping: %w", err)
	}
	var m Mapping
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("invalid mapping: %w", err)
	}
	m.Normalize()
	return &m, nil
}

func ReadFile(path string) (*Mapping, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	m, err := Unmarshal(raw)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return m, nil
}

func UnmarshalAnchors(raw []byte) (*AnchorTable, error) {
	if err := validate(anchorsSchema, raw); err != nil {
		return nil, fmt.Errorf("invalid anchor table: %w", err)
	}
	var t AnchorTable
	if err := json.Unmarshal(raw, &t); err != nil {
		return nil, fmt.Errorf("invalid anchor table: %w", err)
	}
	return &t, nil
}

func ReadAnchorTable(path string) (*AnchorTable, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	t, err := UnmarshalAnchors(raw)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return t, nil
}

func MarshalAnchors(t *AnchorTable) ([]byte, error) {
	b, err := json.MarshalIndent(t, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(b, '\n'), nil
}
