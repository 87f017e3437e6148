// Package container loads a jar (or a bare class file) into an immutable
// model of its types and members.
package container

import (
	"archive/zip"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"jremap/internal/classfile"
)

var ErrMalformedContainer = errors.New("malformed container")

// MalformedError names the entry and byte offset where decoding failed.
// Offset is relative to the start of the input.
type MalformedError struct {
	Entry  string
	Offset int64
	Err    error
}

func (e *MalformedError) Error() string {
	if e.Entry == "" {
		return fmt.Sprintf("malformed container at offset %d: %v", e.Offset, e.Err)
	}
	return fmt.Sprintf("malformed container: entry %q at offset %d: %v", e.Entry, e.Offset, e.Err)
}

func (e *MalformedError) Unwrap() error { return e.Err }

func (e *MalformedError) Is(target error) bool { return target == ErrMalformedContainer }

// Entry is one archive member. Exactly one of Class and Data is set for
// files; directories carry neither.
type Entry struct {
	Name     string
	Method   uint16
	Modified time.Time
	Comment  string
	Data     []byte
	Class    *classfile.ClassFile
}

// Model is the parsed container. Nothing mutates a Model once Load returns;
// Replace derives a new one.
type Model struct {
	entries []*Entry
	types   []*Type
	byName  map[string]*Type
	comment string
	single  bool
}

// Load parses a jar or a single class file.
func Load(data []byte) (*Model, error) {
	if len(data) >= 4 && binary.BigEndian.Uint32(data) == classfile.Magic {
		cf, err := classfile.Parse(data)
		if err != nil {
			return nil, malformed("", 0, err)
		}
		m := &Model{single: true, entries: []*Entry{{Class: cf}}}
		if err := m.index(); err != nil {
			return nil, err
		}
		m.entries[0].Name = m.types[0].name + ".class"
		return m, nil
	}

	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, malformed("", 0, err)
	}
	m := &Model{comment: zr.Comment}
	for _, f := range zr.File {
		e := &Entry{Name: f.Name, Method: f.Method, Modified: f.Modified, Comment: f.Comment}
		offset, _ := f.DataOffset()
		if !f.FileInfo().IsDir() {
			b, err := readEntry(f)
			if err != nil {
				return nil, malformed(f.Name, offset, err)
			}
			if isClassEntry(f.Name) {
				cf, err := classfile.Parse(b)
				if err != nil {
					return nil, malformed(f.Name, offset, err)
				}
				e.Class = cf
			} else {
				e.Data = b
			}
		}
		m.entries = append(m.entries, e)
	}
	if err := m.index(); err != nil {
		return nil, err
	}
	return m, nil
}

func isClassEntry(name string) bool {
	return strings.HasSuffix(name, ".class") && !strings.HasSuffix(name, "module-info.class")
}

func readEntry(f *zip.File) ([]byte, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

func malformed(entry string, base int64, err error) error {
	off := base
	var fe *classfile.FormatError
	if errors.As(err, &fe) {
		off += int64(fe.Offset)
	}
	return &MalformedError{Entry: entry, Offset: off, Err: err}
}

func (m *Model) index() error {
	m.byName = make(map[string]*Type)
	for _, e := range m.entries {
		if e.Class == nil {
			continue
		}
		t, err := newType(len(m.types), e)
		if err != nil {
			return malformed(e.Name, 0, err)
		}
		if _, dup := m.byName[t.name]; dup {
			return malformed(e.Name, 0, fmt.Errorf("duplicate class %q", t.name))
		}
		m.byName[t.name] = t
		m.types = append(m.types, t)
	}
	return nil
}

// Types returns the declared types in container order.
func (m *Model) Types() []*Type {
	return m.types
}

func (m *Model) Type(name string) (*Type, bool) {
	t, ok := m.byName[name]
	return t, ok
}

func (m *Model) Entries() []*Entry {
	return m.entries
}

// Serialize writes the model back out. Entries keep their order, method and
// timestamps, so serializing a model twice yields identical bytes.
func (m *Model) Serialize() ([]byte, error) {
	if m.single {
		return m.types[0].cf.Bytes(), nil
	}
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, e := range m.entries {
		hdr := &zip.FileHeader{
			Name:     e.Name,
			Method:   e.Method,
			Modified: e.Modified,
			Comment:  e.Comment,
		}
		w, err := zw.CreateHeader(hdr)
		if err != nil {
			return nil, fmt.Errorf("write entry %s: %w", e.Name, err)
		}
		data := e.Data
		if e.Class != nil {
			data = e.Class.Bytes()
		}
		if _, err := w.Write(data); err != nil {
			return nil, fmt.Errorf("write entry %s: %w", e.Name, err)
		}
	}
	if m.comment != "" {
		if err := zw.SetComment(m.comment); err != nil {
			return nil, err
		}
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Replace builds a new model in which the i-th type's class file is
// classes[i]. Class entries are renamed after their new this_class name,
// keeping any path prefix in front of the old name.
func (m *Model) Replace(classes []*classfile.ClassFile) (*Model, error) {
	if len(classes) != len(m.types) {
		return nil, fmt.Errorf("replace: got %d classes for %d types", len(classes), len(m.types))
	}
	out := &Model{comment: m.comment, single: m.single}
	byEntry := make(map[*Entry]*classfile.ClassFile, len(classes))
	oldNames := make(map[*Entry]string, len(classes))
	for i, t := range m.types {
		byEntry[t.entry] = classes[i]
		oldNames[t.entry] = t.name
	}
	for _, e := range m.entries {
		c := *e
		if cf, ok := byEntry[e]; ok {
			name, err := cf.Name()
			if err != nil {
				return nil, fmt.Errorf("replace %s: %w", e.Name, err)
			}
			var prefix string
			if old := oldNames[e] + ".class"; strings.HasSuffix(e.Name, old) {
				prefix = strings.TrimSuffix(e.Name, old)
			}
			c.Name = prefix + name + ".class"
			c.Class = cf
		}
		out.entries = append(out.entries, &c)
	}
	if err := out.index(); err != nil {
		return nil, err
	}
	return out, nil
}

// defaultModified stamps synthesized entries that carry no time of their own.
var defaultModified = time.Date(2000, time.January, 1, 0, 0, 0, 0, time.UTC)

// FromClasses assembles a jar model from class files, naming each entry after
// its class. Resources are appended after the classes in the given order.
func FromClasses(classes []*classfile.ClassFile, resources ...Entry) (*Model, error) {
	m := &Model{}
	for _, cf := range classes {
		name, err := cf.Name()
		if err != nil {
			return nil, err
		}
		m.entries = append(m.entries, &Entry{Name: name + ".class", Method: zip.Deflate, Modified: defaultModified, Class: cf})
	}
	for i := range resources {
		r := resources[i]
		if r.Modified.IsZero() {
			r.Modified = defaultModified
		}
		m.entries = append(m.entries, &r)
	}
	if err := m.index(); err != nil {
		return nil, err
	}
	return m, nil
}
