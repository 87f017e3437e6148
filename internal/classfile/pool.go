package classfile

import (
	"errors"
	"fmt"
	"math"
)

type Tag uint8

const (
	TagUtf8               Tag = 1
	TagInteger            Tag = 3
	TagFloat              Tag = 4
	TagLong               Tag = 5
	TagDouble             Tag = 6
	TagClass              Tag = 7
	TagString             Tag = 8
	TagFieldref           Tag = 9
	TagMethodref          Tag = 10
	TagInterfaceMethodref Tag = 11
	TagNameAndType        Tag = 12
	TagMethodHandle       Tag = 15
	TagMethodType         Tag = 16
	TagDynamic            Tag = 17
	TagInvokeDynamic      Tag = 18
	TagModule             Tag = 19
	TagPackage            Tag = 20
)

// MaxPoolEntries is the largest constant_pool_count a class file can carry.
const MaxPoolEntries = math.MaxUint16

var ErrPoolOverflow = errors.New("constant pool overflow")

// Constant is one constant pool slot.
//
// Utf8 entries keep their raw modified UTF-8 bytes in Utf8. Numeric entries
// keep their big-endian bits in Value. A and B hold the pool indices a
// constant refers to: Class/String/MethodType/Module/Package use A; member
// refs use A=class and B=name-and-type; NameAndType uses A=name and
// B=descriptor; MethodHandle uses RefKind and A=reference; Dynamic and
// InvokeDynamic use A=bootstrap method and B=name-and-type.
type Constant struct {
	Tag     Tag
	Utf8    string
	Value   uint64
	A, B    uint16
	RefKind uint8
}

type internKey struct {
	tag  Tag
	s    string
	a, b uint16
	v    uint64
}

// Pool is a constant pool. Index 0 and the slot after each Long/Double are
// unusable and hold a zero Constant.
type Pool struct {
	entries []Constant
	index   map[internKey]uint16
}

func newPool(count int) *Pool {
	return &Pool{entries: make([]Constant, 1, max(count, 1))}
}

// Count returns constant_pool_count (one more than the highest index).
func (p *Pool) Count() int {
	return len(p.entries)
}

func (p *Pool) At(i uint16) (Constant, error) {
	if i == 0 || int(i) >= len(p.entries) || p.entries[i].Tag == 0 {
		return Constant{}, fmt.Errorf("constant pool index %d out of range", i)
	}
	return p.entries[i], nil
}

func (p *Pool) expect(i uint16, tag Tag) (Constant, error) {
	c, err := p.At(i)
	if err != nil {
		return c, err
	}
	if c.Tag != tag {
		return c, fmt.Errorf("constant pool index %d: expected tag %d, got %d", i, tag, c.Tag)
	}
	return c, nil
}

// Utf8 returns the raw modified UTF-8 contents of a Utf8 entry.
func (p *Pool) Utf8(i uint16) (string, error) {
	c, err := p.expect(i, TagUtf8)
	if err != nil {
		return "", err
	}
	return c.Utf8, nil
}

// ClassName returns the internal name referenced by a Class entry.
func (p *Pool) ClassName(i uint16) (string, error) {
	c, err := p.expect(i, TagClass)
	if err != nil {
		return "", err
	}
	return p.Utf8(c.A)
}

func (p *Pool) NameAndType(i uint16) (name, desc string, err error) {
	c, err := p.expect(i, TagNameAndType)
	if err != nil {
		return "", "", err
	}
	if name, err = p.Utf8(c.A); err != nil {
		return "", "", err
	}
	if desc, err = p.Utf8(c.B); err != nil {
		return "", "", err
	}
	return name, desc, nil
}

// MemberRef is a resolved Fieldref, Methodref or InterfaceMethodref.
type MemberRef struct {
	Tag        Tag
	Owner      string
	Name       string
	Descriptor string
}

func (p *Pool) MemberRef(i uint16) (MemberRef, error) {
	c, err := p.At(i)
	if err != nil {
		return MemberRef{}, err
	}
	switch c.Tag {
	case TagFieldref, TagMethodref, TagInterfaceMethodref:
	default:
		return MemberRef{}, fmt.Errorf("constant pool index %d: tag %d is not a member reference", i, c.Tag)
	}
	owner, err := p.ClassName(c.A)
	if err != nil {
		return MemberRef{}, err
	}
	name, desc, err := p.NameAndType(c.B)
	if err != nil {
		return MemberRef{}, err
	}
	return MemberRef{Tag: c.Tag, Owner: owner, Name: name, Descriptor: desc}, nil
}

// SetRefs repoints the index fields of an existing entry. Entries are never
// moved or removed, so every index held elsewhere stays valid.
func (p *Pool) SetRefs(i uint16, a, b uint16) error {
	c, err := p.At(i)
	if err != nil {
		return err
	}
	if c.Tag == TagUtf8 || c.Tag == TagInteger || c.Tag == TagFloat || c.Tag == TagLong || c.Tag == TagDouble {
		return fmt.Errorf("constant pool index %d: tag %d has no references", i, c.Tag)
	}
	if p.index != nil && p.index[keyOf(c)] == i {
		delete(p.index, keyOf(c))
	}
	c.A, c.B = a, b
	p.entries[i] = c
	if p.index != nil {
		if _, ok := p.index[keyOf(c)]; !ok {
			p.index[keyOf(c)] = i
		}
	}
	return nil
}

func keyOf(c Constant) internKey {
	return internKey{tag: c.Tag, s: c.Utf8, a: c.A, b: c.B, v: c.Value | uint64(c.RefKind)<<56}
}

func (p *Pool) buildIndex() {
	p.index = make(map[internKey]uint16, len(p.entries))
	for i := 1; i < len(p.entries); i++ {
		c := p.entries[i]
		if c.Tag == 0 {
			continue
		}
		k := keyOf(c)
		if _, ok := p.index[k]; !ok {
			p.index[k] = uint16(i)
		}
	}
}

// intern returns the index of an entry equal to c, appending one if none exists.
func (p *Pool) intern(c Constant) (uint16, error) {
	if p.index == nil {
		p.buildIndex()
	}
	k := keyOf(c)
	if i, ok := p.index[k]; ok {
		return i, nil
	}
	wide := c.Tag == TagLong || c.Tag == TagDouble
	need := len(p.entries) + 1
	if wide {
		need++
	}
	if need > MaxPoolEntries {
		return 0, ErrPoolOverflow
	}
	i := uint16(len(p.entries))
	p.entries = append(p.entries, c)
	if wide {
		p.entries = append(p.entries, Constant{})
	}
	p.index[k] = i
	return i, nil
}

// InternUtf8 returns a Utf8 entry holding raw modified UTF-8 bytes.
func (p *Pool) InternUtf8(raw string) (uint16, error) {
	return p.intern(Constant{Tag: TagUtf8, Utf8: raw})
}

func (p *Pool) InternClass(name string) (uint16, error) {
	n, err := p.InternUtf8(name)
	if err != nil {
		return 0, err
	}
	return p.intern(Constant{Tag: TagClass, A: n})
}

func (p *Pool) InternString(raw string) (uint16, error) {
	n, err := p.InternUtf8(raw)
	if err != nil {
		return 0, err
	}
	return p.intern(Constant{Tag: TagString, A: n})
}

func (p *Pool) InternInteger(v int32) (uint16, error) {
	return p.intern(Constant{Tag: TagInteger, Value: uint64(uint32(v))})
}

func (p *Pool) InternLong(v int64) (uint16, error) {
	return p.intern(Constant{Tag: TagLong, Value: uint64(v)})
}

func (p *Pool) InternNameAndType(name, desc string) (uint16, error) {
	n, err := p.InternUtf8(name)
	if err != nil {
		return 0, err
	}
	d, err := p.InternUtf8(desc)
	if err != nil {
		return 0, err
	}
	return p.intern(Constant{Tag: TagNameAndType, A: n, B: d})
}

func (p *Pool) InternMemberRef(tag Tag, owner, name, desc string) (uint16, error) {
	switch tag {
	case TagFieldref, TagMethodref, TagInterfaceMethodref:
	default:
		return 0, fmt.Errorf("tag %d is not a member reference", tag)
	}
	c, err := p.InternClass(owner)
	if err != nil {
		return 0, err
	}
	nt, err := p.InternNameAndType(name, desc)
	if err != nil {
		return 0, err
	}
	return p.intern(Constant{Tag: tag, A: c, B: nt})
}

func (p *Pool) clone() *Pool {
	entries := make([]Constant, len(p.entries))
	copy(entries, p.entries)
	return &Pool{entries: entries}
}

// validate checks every cross-reference between entries.
func (p *Pool) validate() error {
	for i := 1; i < len(p.entries); i++ {
		c := p.entries[i]
		var err error
		switch c.Tag {
		case TagClass, TagString, TagMethodType, TagModule, TagPackage:
			_, err = p.expect(c.A, TagUtf8)
		case TagFieldref, TagMethodref, TagInterfaceMethodref:
			if _, err = p.expect(c.A, TagClass); err == nil {
				_, err = p.expect(c.B, TagNameAndType)
			}
		case TagNameAndType:
			if _, err = p.expect(c.A, TagUtf8); err == nil {
				_, err = p.expect(c.B, TagUtf8)
			}
		case TagMethodHandle:
			if c.RefKind < 1 || c.RefKind > 9 {
				err = fmt.Errorf("invalid method handle kind %d", c.RefKind)
			} else {
				_, err = p.MemberRef(c.A)
			}
		case TagDynamic, TagInvokeDynamic:
			_, err = p.expect(c.B, TagNameAndType)
		}
		if err != nil {
			return fmt.Errorf("constant pool entry %d: %w", i, err)
		}
	}
	return nil
}
