// Package javasrc reads hand corrections out of Java sources. A declaration
// annotated with its obfuscated name, as the rename engine emits it, names
// the symbol; the declaration's own identifier is the corrected name.
package javasrc

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/apex/log"
	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/java"

	"jremap/internal/graph"
	"jremap/internal/mapping"
)

const DefaultAnnotation = "ObfuscatedName"

// Element names read from the annotation. obfuscatedName is accepted as an
// alias of value.
const (
	elemValue      = "value"
	elemObfuscated = "obfuscatedName"
	elemDescriptor = "descriptor"
)

type Scanner struct {
	annotation string
}

// NewScanner matches annotations by simple name, so both
// @ObfuscatedName and @jremap.ObfuscatedName are read.
func NewScanner(annotation string) *Scanner {
	if annotation == "" {
		annotation = DefaultAnnotation
	}
	return &Scanner{annotation: annotation}
}

// AnnotationName returns the simple name of a descriptor such as
// Ljremap/ObfuscatedName;.
func AnnotationName(descriptor string) string {
	name := strings.TrimSuffix(strings.TrimPrefix(descriptor, "L"), ";")
	return name[strings.LastIndexAny(name, "/$")+1:]
}

func (s *Scanner) ScanFile(ctx context.Context, path string) ([]mapping.Correction, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read file %s: %w", path, err)
	}
	return s.Scan(ctx, src, path)
}

// Scan parses one compilation unit. source is recorded on every correction.
func (s *Scanner) Scan(ctx context.Context, src []byte, source string) ([]mapping.Correction, error) {
	parser := sitter.NewParser()
	parser.SetLanguage(java.GetLanguage())
	tree, err := parser.ParseCtx(ctx, nil, src)
	if err != nil {
		return nil, fmt.Errorf("failed to parse file %s: %w", source, err)
	}
	root := tree.RootNode()

	w := &walker{s: s, src: src, source: source, pkg: packageName(root, src)}
	w.bodyOf(root, "", nil)
	return w.out, nil
}

func packageName(root *sitter.Node, src []byte) string {
	query, err := sitter.NewQuery([]byte(`(package_declaration [(identifier) (scoped_identifier)] @pkg)`), java.GetLanguage())
	if err != nil {
		return ""
	}
	qc := sitter.NewQueryCursor()
	qc.Exec(query, root)
	if m, ok := qc.NextMatch(); ok && len(m.Captures) > 0 {
		return strings.ReplaceAll(m.Captures[0].Node.Content(src), ".", "/")
	}
	return ""
}

type walker struct {
	s      *Scanner
	src    []byte
	source string
	pkg    string
	out    []mapping.Correction
}

// owner is the obfuscated binary name of a declared class, as corrections
// identify it.
type owner struct {
	obfuscated string
}

var typeDecls = map[string]bool{
	"class_declaration":           true,
	"interface_declaration":       true,
	"enum_declaration":            true,
	"record_declaration":          true,
	"annotation_type_declaration": true,
}

func (w *walker) bodyOf(n *sitter.Node, outer string, o *owner) {
	for i := 0; i < int(n.NamedChildCount()); i++ {
		child := n.NamedChild(i)
		switch t := child.Type(); {
		case typeDecls[t]:
			w.typeDecl(child, outer)
		case o == nil:
			continue
		case t == "field_declaration" || t == "constant_declaration":
			w.field(child, o)
		case t == "method_declaration":
			w.method(child, o)
		case t == "enum_constant":
			w.enumConstant(child, o)
		case t == "enum_body_declarations":
			w.bodyOf(child, outer, o)
		}
	}
}

func (w *walker) typeDecl(n *sitter.Node, outer string) {
	nameNode := n.ChildByFieldName("name")
	if nameNode == nil {
		return
	}
	simple := nameNode.Content(w.src)
	binary := simple
	switch {
	case outer != "":
		binary = outer + "$" + simple
	case w.pkg != "":
		binary = w.pkg + "/" + simple
	}

	obf := binary
	if values, line, ok := w.annotation(n); ok {
		if v := obfuscatedValue(values); v != "" {
			obf = v
			w.emit(mapping.Correction{Kind: graph.KindType, Obfuscated: v, Name: binary}, line)
		}
	}

	body := n.ChildByFieldName("body")
	if body == nil {
		return
	}
	w.bodyOf(body, binary, &owner{obfuscated: obf})
}

func (w *walker) field(n *sitter.Node, o *owner) {
	values, line, ok := w.annotation(n)
	if !ok {
		return
	}
	var names []string
	for i := 0; i < int(n.NamedChildCount()); i++ {
		if d := n.NamedChild(i); d.Type() == "variable_declarator" {
			if name := d.ChildByFieldName("name"); name != nil {
				names = append(names, name.Content(w.src))
			}
		}
	}
	if len(names) != 1 {
		log.WithFields(log.Fields{"source": w.source, "line": line, "declarators": len(names)}).
			Warn("annotated field declaration must declare one field")
		return
	}
	w.member(graph.KindField, values, names[0], o, line)
}

func (w *walker) method(n *sitter.Node, o *owner) {
	values, line, ok := w.annotation(n)
	if !ok {
		return
	}
	if name := n.ChildByFieldName("name"); name != nil {
		w.member(graph.KindMethod, values, name.Content(w.src), o, line)
	}
}

func (w *walker) enumConstant(n *sitter.Node, o *owner) {
	values, line, ok := w.annotation(n)
	if !ok {
		return
	}
	if name := n.ChildByFieldName("name"); name != nil {
		w.member(graph.KindField, values, name.Content(w.src), o, line)
	}
}

func (w *walker) member(kind graph.Kind, values map[string]string, name string, o *owner, line int) {
	v := obfuscatedValue(values)
	if v == "" {
		return
	}
	w.emit(mapping.Correction{
		Kind:       kind,
		Owner:      o.obfuscated,
		Obfuscated: v,
		Descriptor: values[elemDescriptor],
		Name:       name,
	}, line)
}

func (w *walker) emit(c mapping.Correction, line int) {
	c.Source = fmt.Sprintf("%s:%d", w.source, line)
	w.out = append(w.out, c)
}

func obfuscatedValue(values map[string]string) string {
	if v := values[elemValue]; v != "" {
		return v
	}
	return values[elemObfuscated]
}

// annotation finds the scanner's annotation among a declaration's modifiers
// and returns its string elements and 1-based line.
func (w *walker) annotation(decl *sitter.Node) (map[string]string, int, bool) {
	for i := 0; i < int(decl.NamedChildCount()); i++ {
		mods := decl.NamedChild(i)
		if mods.Type() != "modifiers" {
			continue
		}
		for j := 0; j < int(mods.NamedChildCount()); j++ {
			a := mods.NamedChild(j)
			if a.Type() != "annotation" && a.Type() != "marker_annotation" {
				continue
			}
			name := a.ChildByFieldName("name")
			if name == nil || simpleName(name.Content(w.src)) != w.s.annotation {
				continue
			}
			return w.elements(a.ChildByFieldName("arguments")), int(a.StartPoint().Row) + 1, true
		}
	}
	return nil, 0, false
}

func simpleName(qualified string) string {
	return qualified[strings.LastIndex(qualified, ".")+1:]
}

func (w *walker) elements(args *sitter.Node) map[string]string {
	values := make(map[string]string)
	if args == nil {
		return values
	}
	for i := 0; i < int(args.NamedChildCount()); i++ {
		arg := args.NamedChild(i)
		switch arg.Type() {
		case "element_value_pair":
			key, value := arg.ChildByFieldName("key"), arg.ChildByFieldName("value")
			if key == nil || value == nil {
				continue
			}
			if s, ok := w.stringLiteral(value); ok {
				values[key.Content(w.src)] = s
			}
		default:
			if s, ok := w.stringLiteral(arg); ok {
				values[elemValue] = s
			}
		}
	}
	return values
}

func (w *walker) stringLiteral(n *sitter.Node) (string, bool) {
	if n.Type() != "string_literal" {
		return "", false
	}
	raw := n.Content(w.src)
	if s, err := strconv.Unquote(raw); err == nil {
		return s, true
	}
	return strings.TrimSuffix(strings.TrimPrefix(raw, `"`), `"`), true
}
