package classfile

import (
	"fmt"
	"strings"
)

// FieldType is one parsed field descriptor. Base is a primitive letter, 'L'
// for a class type or 'V' for a void return.
type FieldType struct {
	Dims  int
	Base  byte
	Class string
}

func (t FieldType) String() string {
	var b strings.Builder
	t.write(&b)
	return b.String()
}

func (t FieldType) write(b *strings.Builder) {
	for i := 0; i < t.Dims; i++ {
		b.WriteByte('[')
	}
	b.WriteByte(t.Base)
	if t.Base == 'L' {
		b.WriteString(t.Class)
		b.WriteByte(';')
	}
}

// Slots is the number of local variable slots the type occupies.
func (t FieldType) Slots() int {
	if t.Dims == 0 && (t.Base == 'J' || t.Base == 'D') {
		return 2
	}
	if t.Base == 'V' && t.Dims == 0 {
		return 0
	}
	return 1
}

// IsIntLike reports whether the type is stored as a JVM int.
func (t FieldType) IsIntLike() bool {
	if t.Dims != 0 {
		return false
	}
	switch t.Base {
	case 'I', 'S', 'B', 'C', 'Z':
		return true
	}
	return false
}

type MethodDescriptor struct {
	Params []FieldType
	Return FieldType
}

func (d MethodDescriptor) String() string {
	var b strings.Builder
	b.WriteByte('(')
	for _, p := range d.Params {
		p.write(&b)
	}
	b.WriteByte(')')
	d.Return.write(&b)
	return b.String()
}

// ArgSlots is the number of slots taken by the parameters alone.
func (d MethodDescriptor) ArgSlots() int {
	n := 0
	for _, p := range d.Params {
		n += p.Slots()
	}
	return n
}

func parseFieldType(s string, i int, void bool) (FieldType, int, error) {
	var t FieldType
	for i < len(s) && s[i] == '[' {
		t.Dims++
		i++
	}
	if t.Dims > 255 {
		return t, i, fmt.Errorf("descriptor %q: too many array dimensions", s)
	}
	if i >= len(s) {
		return t, i, fmt.Errorf("descriptor %q: truncated", s)
	}
	t.Base = s[i]
	switch t.Base {
	case 'B', 'C', 'D', 'F', 'I', 'J', 'S', 'Z':
		return t, i + 1, nil
	case 'V':
		if !void || t.Dims > 0 {
			return t, i, fmt.Errorf("descriptor %q: void not allowed at %d", s, i)
		}
		return t, i + 1, nil
	case 'L':
		end := strings.IndexByte(s[i:], ';')
		if end <= 1 {
			return t, i, fmt.Errorf("descriptor %q: bad class type at %d", s, i)
		}
		t.Class = s[i+1 : i+end]
		return t, i + end + 1, nil
	}
	return t, i, fmt.Errorf("descriptor %q: unexpected %q at %d", s, t.Base, i)
}

func ParseFieldDescriptor(s string) (FieldType, error) {
	t, n, err := parseFieldType(s, 0, false)
	if err != nil {
		return t, err
	}
	if n != len(s) {
		return t, fmt.Errorf("descriptor %q: trailing data", s)
	}
	return t, nil
}

func ParseMethodDescriptor(s string) (MethodDescriptor, error) {
	var d MethodDescriptor
	if len(s) == 0 || s[0] != '(' {
		return d, fmt.Errorf("method descriptor %q: missing '('", s)
	}
	i := 1
	for i < len(s) && s[i] != ')' {
		t, n, err := parseFieldType(s, i, false)
		if err != nil {
			return d, err
		}
		d.Params = append(d.Params, t)
		i = n
	}
	if i >= len(s) {
		return d, fmt.Errorf("method descriptor %q: missing ')'", s)
	}
	ret, n, err := parseFieldType(s, i+1, true)
	if err != nil {
		return d, err
	}
	if n != len(s) {
		return d, fmt.Errorf("method descriptor %q: trailing data", s)
	}
	d.Return = ret
	return d, nil
}

// DescriptorClasses lists every class named by a field or method descriptor,
// in order of appearance.
func DescriptorClasses(desc string) ([]string, error) {
	var out []string
	_, err := MapDescriptor(desc, func(c string) string {
		out = append(out, c)
		return c
	})
	return out, err
}

// MapDescriptor rewrites every class name in a field or method descriptor.
func MapDescriptor(desc string, fn func(class string) string) (string, error) {
	if strings.HasPrefix(desc, "(") {
		d, err := ParseMethodDescriptor(desc)
		if err != nil {
			return "", err
		}
		for i := range d.Params {
			if d.Params[i].Base == 'L' {
				d.Params[i].Class = fn(d.Params[i].Class)
			}
		}
		if d.Return.Base == 'L' {
			d.Return.Class = fn(d.Return.Class)
		}
		return d.String(), nil
	}
	t, err := ParseFieldDescriptor(desc)
	if err != nil {
		return "", err
	}
	if t.Base == 'L' {
		t.Class = fn(t.Class)
	}
	return t.String(), nil
}

// MapClassName rewrites a Class constant name, which is either an internal
// name or an array descriptor.
func MapClassName(name string, fn func(class string) string) (string, error) {
	if strings.HasPrefix(name, "[") {
		return MapDescriptor(name, fn)
	}
	return fn(name), nil
}

// ElementClass returns the class an array Class constant is built from, or
// name itself. ok is false for primitive arrays.
func ElementClass(name string) (string, bool) {
	if !strings.HasPrefix(name, "[") {
		return name, true
	}
	t, err := ParseFieldDescriptor(name)
	if err != nil || t.Base != 'L' {
		return "", false
	}
	return t.Class, true
}

// EraseDescriptor replaces every class name with the empty name. The result
// does not change when classes are renamed.
func EraseDescriptor(desc string) string {
	out, err := MapDescriptor(desc, func(string) string { return "" })
	if err != nil {
		return desc
	}
	return out
}

// MapSignature rewrites the class names in a generic Signature attribute
// (class, method or field form). Type variables and the simple names of
// inner class suffixes are left alone.
func MapSignature(sig string, fn func(class string) string) (string, error) {
	p := &sigMapper{s: sig, fn: fn}
	if err := p.run(); err != nil {
		return "", fmt.Errorf("signature %q: %w", sig, err)
	}
	return p.out.String(), nil
}

type sigMapper struct {
	s   string
	i   int
	out strings.Builder
	fn  func(string) string
}

func (p *sigMapper) run() error {
	if p.peek() == '<' {
		if err := p.typeParams(); err != nil {
			return err
		}
	}
	for p.i < len(p.s) {
		if err := p.next(); err != nil {
			return err
		}
	}
	return nil
}

func (p *sigMapper) peek() byte {
	if p.i < len(p.s) {
		return p.s[p.i]
	}
	return 0
}

func (p *sigMapper) copyUntil(stop string) error {
	j := strings.IndexAny(p.s[p.i:], stop)
	if j < 0 {
		return fmt.Errorf("unterminated at %d", p.i)
	}
	p.out.WriteString(p.s[p.i : p.i+j])
	p.i += j
	return nil
}

func (p *sigMapper) typeParams() error {
	p.out.WriteByte('<')
	p.i++
	for p.peek() != '>' {
		if p.i >= len(p.s) {
			return fmt.Errorf("unterminated type parameters")
		}
		if err := p.copyUntil(":"); err != nil {
			return err
		}
		for p.peek() == ':' {
			p.out.WriteByte(':')
			p.i++
			switch p.peek() {
			case ':', '>':
			default:
				if err := p.refType(); err != nil {
					return err
				}
			}
		}
	}
	p.out.WriteByte('>')
	p.i++
	return nil
}

func (p *sigMapper) next() error {
	switch c := p.peek(); c {
	case 'L', 'T', '[':
		return p.refType()
	default:
		p.out.WriteByte(c)
		p.i++
		return nil
	}
}

func (p *sigMapper) refType() error {
	switch p.peek() {
	case 'L':
		return p.classType()
	case 'T':
		if err := p.copyUntil(";"); err != nil {
			return err
		}
		p.out.WriteByte(';')
		p.i++
		return nil
	case '[':
		p.out.WriteByte('[')
		p.i++
		if c := p.peek(); c == 'L' || c == 'T' || c == '[' {
			return p.refType()
		}
		if p.i >= len(p.s) {
			return fmt.Errorf("truncated array type")
		}
		p.out.WriteByte(p.s[p.i])
		p.i++
		return nil
	}
	return fmt.Errorf("unexpected %q at %d", p.peek(), p.i)
}

func (p *sigMapper) classType() error {
	p.i++
	j := strings.IndexAny(p.s[p.i:], "<.;")
	if j < 0 {
		return fmt.Errorf("unterminated class type")
	}
	p.out.WriteByte('L')
	p.out.WriteString(p.fn(p.s[p.i : p.i+j]))
	p.i += j
	for {
		switch p.peek() {
		case '<':
			if err := p.typeArgs(); err != nil {
				return err
			}
		case '.':
			p.out.WriteByte('.')
			p.i++
			if err := p.copyUntil("<.;"); err != nil {
				return err
			}
		case ';':
			p.out.WriteByte(';')
			p.i++
			return nil
		default:
			return fmt.Errorf("unterminated class type")
		}
	}
}

func (p *sigMapper) typeArgs() error {
	p.out.WriteByte('<')
	p.i++
	for p.peek() != '>' {
		switch p.peek() {
		case 0:
			return fmt.Errorf("unterminated type arguments")
		case '*':
			p.out.WriteByte('*')
			p.i++
		case '+', '-':
			p.out.WriteByte(p.peek())
			p.i++
			if err := p.refType(); err != nil {
				return err
			}
		default:
			if err := p.refType(); err != nil {
				return err
			}
		}
	}
	p.out.WriteByte('>')
	p.i++
	return nil
}
