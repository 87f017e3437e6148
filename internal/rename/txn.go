package rename

import (
	"fmt"

	"jremap/internal/classfile"
	"jremap/internal/container"
	"jremap/internal/graph"
	"jremap/internal/index"
)

// txn holds every reference edit one rename needs. It commits as a whole
// or not at all.
type txn struct {
	r     *rename
	edits []graph.Reference
}

// edits is the committed state materialization reads from. Nothing in it is
// half of a rename.
type edits struct {
	types   map[string]string
	decls   map[graph.SymbolID]string
	refs    map[graph.SymbolID]map[uint16]string
	methods map[string]map[string][]string
	done    []*rename
	sites   int
}

func newEdits() *edits {
	return &edits{
		types:   make(map[string]string),
		decls:   make(map[graph.SymbolID]string),
		refs:    make(map[graph.SymbolID]map[uint16]string),
		methods: make(map[string]map[string][]string),
	}
}

func (e *edits) mapClass(c string) string {
	if n, ok := e.types[c]; ok {
		return n
	}
	return c
}

// stager checks reference sites against the class files they point into.
type stager struct {
	g     *graph.Graph
	model *container.Model
	code  map[graph.SymbolID][]classfile.Instruction
}

func newStager(g *graph.Graph, model *container.Model) *stager {
	return &stager{g: g, model: model, code: make(map[graph.SymbolID][]classfile.Instruction)}
}

func (st *stager) stage(r *rename) (*txn, error) {
	t := &txn{r: r}
	for _, ref := range st.g.ReferencesTo(r.sym.ID) {
		if err := st.check(r, ref); err != nil {
			return nil, inconsistent(r.sym.ID, "reference at %s: %v", index.SiteString(st.g, ref.Site), err)
		}
		t.edits = append(t.edits, ref)
	}
	return t, nil
}

func (st *stager) classFile(id graph.SymbolID) (*container.Type, error) {
	s, ok := st.g.Symbol(id)
	if !ok || s.External || s.Position < 0 || s.Position >= len(st.model.Types()) {
		return nil, fmt.Errorf("site type %s is not in the container", id)
	}
	return st.model.Types()[s.Position], nil
}

func (st *stager) instructions(t *container.Type, member graph.SymbolID) ([]classfile.Instruction, error) {
	if ins, ok := st.code[member]; ok {
		return ins, nil
	}
	s, ok := st.g.Symbol(member)
	if !ok || s.Kind != graph.KindMethod || s.Position >= len(t.Methods()) {
		return nil, fmt.Errorf("site method %s is not in the container", member)
	}
	ins, err := t.Methods()[s.Position].Instructions()
	if err != nil {
		return nil, err
	}
	st.code[member] = ins
	return ins, nil
}

func (st *stager) check(r *rename, ref graph.Reference) error {
	t, err := st.classFile(ref.Site.Type)
	if err != nil {
		return err
	}
	pool := t.ClassFile().Pool
	switch ref.Kind {
	case graph.RefDeclaring:
		if r.sym.Kind == graph.KindType {
			return expectClass(pool, ref.Site.PoolIndex, r.from)
		}
		name, err := pool.Utf8(ref.Site.PoolIndex)
		if err != nil {
			return err
		}
		if name != r.from {
			return fmt.Errorf("declares %q", display(name))
		}
	case graph.RefSupertype, graph.RefClassConstant:
		return expectClass(pool, ref.Site.PoolIndex, r.from)
	case graph.RefDescriptor:
		desc, err := descriptorAt(pool, ref.Site.PoolIndex)
		if err != nil {
			return err
		}
		classes, err := classfile.DescriptorClasses(desc)
		if err != nil {
			return err
		}
		for _, c := range classes {
			if c == r.from {
				return nil
			}
		}
		return fmt.Errorf("descriptor %s does not name %s", desc, display(r.from))
	case graph.RefMemberRef:
		mr, err := pool.MemberRef(ref.Site.PoolIndex)
		if err != nil {
			return err
		}
		if mr.Name != r.from || classfile.EraseDescriptor(mr.Descriptor) != classfile.EraseDescriptor(r.sym.Descriptor) {
			return fmt.Errorf("refers to %s%s", display(mr.Name), mr.Descriptor)
		}
	case graph.RefInstruction:
		ins, err := st.instructions(t, ref.Site.Member)
		if err != nil {
			return err
		}
		for _, in := range ins {
			if in.Offset == ref.Site.Offset {
				if !in.HasPoolIndex() || in.Index != ref.Site.PoolIndex {
					return fmt.Errorf("instruction does not load constant %d", ref.Site.PoolIndex)
				}
				return nil
			}
		}
		return fmt.Errorf("no instruction at offset %d", ref.Site.Offset)
	default:
		return fmt.Errorf("unknown reference kind %q", ref.Kind)
	}
	return nil
}

func expectClass(pool *classfile.Pool, idx uint16, name string) error {
	c, err := pool.ClassName(idx)
	if err != nil {
		return err
	}
	if elem, ok := classfile.ElementClass(c); !ok || elem != name {
		return fmt.Errorf("class constant names %q", display(c))
	}
	return nil
}

// descriptorAt reads the descriptor a descriptor reference site points at:
// a member's own descriptor, a member reference, a MethodType or a dynamic
// constant.
func descriptorAt(pool *classfile.Pool, idx uint16) (string, error) {
	c, err := pool.At(idx)
	if err != nil {
		return "", err
	}
	switch c.Tag {
	case classfile.TagUtf8:
		return c.Utf8, nil
	case classfile.TagFieldref, classfile.TagMethodref, classfile.TagInterfaceMethodref:
		mr, err := pool.MemberRef(idx)
		return mr.Descriptor, err
	case classfile.TagMethodType:
		return pool.Utf8(c.A)
	case classfile.TagDynamic, classfile.TagInvokeDynamic:
		_, desc, err := pool.NameAndType(c.B)
		return desc, err
	}
	return "", fmt.Errorf("constant %d (tag %d) carries no descriptor", idx, c.Tag)
}

// commit records a staged rename. Member references are keyed by the type
// whose pool holds them.
func (e *edits) commit(g *graph.Graph, t *txn) {
	r := t.r
	switch r.sym.Kind {
	case graph.KindType:
		e.types[r.from] = r.to
	default:
		e.decls[r.sym.ID] = r.to
		for _, ref := range t.edits {
			if ref.Kind != graph.RefMemberRef {
				continue
			}
			if e.refs[ref.Site.Type] == nil {
				e.refs[ref.Site.Type] = make(map[uint16]string)
			}
			e.refs[ref.Site.Type][ref.Site.PoolIndex] = r.to
		}
		if r.sym.Kind == graph.KindMethod {
			if owner, ok := g.Symbol(r.sym.Owner); ok {
				if e.methods[owner.Name] == nil {
					e.methods[owner.Name] = make(map[string][]string)
				}
				key := r.from + r.sym.Descriptor
				e.methods[owner.Name][key] = append(e.methods[owner.Name][key], r.to)
				e.methods[owner.Name][r.from] = append(e.methods[owner.Name][r.from], r.to)
			}
		}
	}
	e.done = append(e.done, r)
	e.sites += len(t.edits)
}

// methodName returns the new name of a method of class owner, matched by
// name and descriptor, or by name alone when desc is empty. It gives up when
// the match is not unique.
func (e *edits) methodName(owner, name, desc string) (string, bool) {
	names := e.methods[owner][name+desc]
	if len(names) == 0 {
		return "", false
	}
	for _, n := range names[1:] {
		if n != names[0] {
			return "", false
		}
	}
	return names[0], true
}
