package index

import (
	"fmt"
	"strings"

	"github.com/apex/log"

	"jremap/internal/classfile"
	"jremap/internal/container"
	"jremap/internal/graph"
)

const objectClass = "java/lang/Object"

var objectMethods = map[string]bool{
	"hashCode()I":                  true,
	"equals(Ljava/lang/Object;)Z":  true,
	"toString()Ljava/lang/String;": true,
	"clone()Ljava/lang/Object;":    true,
	"finalize()V":                  true,
	"getClass()Ljava/lang/Class;":  true,
	"notify()V":                    true,
	"notifyAll()V":                 true,
	"wait()V":                      true,
	"wait(J)V":                     true,
	"wait(JI)V":                    true,
}

type memberKey struct {
	owner, name, desc string
}

type builder struct {
	m       *container.Model
	g       *graph.Graph
	types   map[string]graph.SymbolID
	members map[memberKey]graph.SymbolID
}

// Build indexes every declaration and reference of the model. Member
// references are resolved along the declared supertype chain once, here.
func Build(m *container.Model) (*graph.Graph, error) {
	b := &builder{
		m:       m,
		g:       graph.NewGraph(),
		types:   make(map[string]graph.SymbolID),
		members: make(map[memberKey]graph.SymbolID),
	}
	if err := b.declare(); err != nil {
		return nil, err
	}
	for _, t := range m.Types() {
		if err := b.link(t); err != nil {
			return nil, err
		}
	}
	b.families()

	log.WithFields(log.Fields{
		"types":      len(m.Types()),
		"symbols":    len(b.g.Symbols),
		"references": len(b.g.References),
		"dangling":   len(b.g.Unresolved),
	}).Debug("reference index built")
	return b.g, nil
}

func (b *builder) declare() error {
	for _, t := range b.m.Types() {
		tid := graph.TypeID(t.Position())
		if err := b.g.AddSymbol(&graph.Symbol{
			ID: tid, Kind: graph.KindType, Name: t.Name(), Access: t.Access(), Position: t.Position(),
		}); err != nil {
			return err
		}
		b.types[t.Name()] = tid
		cf := t.ClassFile()
		if err := b.g.AddReference(graph.Reference{
			Kind: graph.RefDeclaring, Target: tid,
			Site: graph.Site{Type: tid, PoolIndex: cf.ThisClass, Offset: -1},
		}); err != nil {
			return err
		}
		for _, f := range t.Fields() {
			if err := b.declareMember(tid, f, graph.FieldID(tid, f.Position(), f.Descriptor()), graph.KindField); err != nil {
				return err
			}
		}
		for _, mm := range t.Methods() {
			if err := b.declareMember(tid, mm, graph.MethodID(tid, mm.Position(), mm.Descriptor()), graph.KindMethod); err != nil {
				return err
			}
		}
	}
	return nil
}

func (b *builder) declareMember(owner graph.SymbolID, m *container.Member, id graph.SymbolID, kind graph.Kind) error {
	s := &graph.Symbol{
		ID: id, Kind: kind, Owner: owner, Name: m.Name(), Descriptor: m.Descriptor(),
		Access: m.Access(), Position: m.Position(),
		Pinned: pinnedMember(m),
	}
	if err := b.g.AddSymbol(s); err != nil {
		return err
	}
	b.members[memberKey{m.Owner().Name(), m.Name(), m.Descriptor()}] = id
	return b.g.AddReference(graph.Reference{
		Kind: graph.RefDeclaring, Target: id,
		Site: graph.Site{Type: owner, Member: id, PoolIndex: m.Raw().Name, Offset: -1},
	})
}

// pinnedMember reports members whose names are fixed by the JVM itself.
func pinnedMember(m *container.Member) bool {
	switch {
	case m.Name() == "<init>" || m.Name() == "<clinit>":
		return true
	case m.Access()&classfile.AccNative != 0:
		return true
	case m.Kind() == container.KindMethod && m.IsStatic() && m.Name() == "main" && m.Descriptor() == "([Ljava/lang/String;)V":
		return true
	case m.Kind() == container.KindField && m.Name() == "serialVersionUID":
		return true
	}
	return false
}

func (b *builder) typeRef(name string) graph.SymbolID {
	if id, ok := b.types[name]; ok {
		return id
	}
	id := graph.ExternalTypeID(name)
	if _, ok := b.g.Symbol(id); !ok {
		_ = b.g.AddSymbol(&graph.Symbol{ID: id, Kind: graph.KindType, Name: name, External: true, Position: -1})
		b.types[name] = id
	}
	return id
}

func (b *builder) externalMember(kind graph.Kind, owner, name, desc string) graph.SymbolID {
	id := graph.ExternalMemberID(kind, owner, name, desc)
	if _, ok := b.g.Symbol(id); !ok {
		_ = b.g.AddSymbol(&graph.Symbol{
			ID: id, Kind: kind, Owner: b.typeRef(owner), Name: name, Descriptor: desc,
			External: true, Pinned: true, Position: -1,
		})
	}
	return id
}

func (b *builder) add(kind graph.RefKind, target graph.SymbolID, site graph.Site) error {
	return b.g.AddReference(graph.Reference{Kind: kind, Target: target, Site: site})
}

func (b *builder) descriptorRefs(desc string, site graph.Site) error {
	classes, err := classfile.DescriptorClasses(desc)
	if err != nil {
		return err
	}
	for _, c := range classes {
		if err := b.add(graph.RefDescriptor, b.typeRef(c), site); err != nil {
			return err
		}
	}
	return nil
}

func malformed(t *container.Type, err error) error {
	return &container.MalformedError{Entry: t.EntryName(), Err: err}
}

func (b *builder) link(t *container.Type) error {
	tid := b.types[t.Name()]
	cf := t.ClassFile()
	pool := cf.Pool
	targets := make(map[uint16]graph.SymbolID)
	dangling := make(map[uint16]graph.UnresolvedRef)
	var danglingOrder []uint16

	skip := map[uint16]bool{cf.ThisClass: true}
	if t.Super() != "" {
		skip[cf.SuperClass] = true
		if err := b.add(graph.RefSupertype, b.typeRef(t.Super()), graph.Site{Type: tid, PoolIndex: cf.SuperClass, Offset: -1}); err != nil {
			return err
		}
	}
	for i, iface := range t.Interfaces() {
		skip[cf.Interfaces[i]] = true
		if err := b.add(graph.RefSupertype, b.typeRef(iface), graph.Site{Type: tid, PoolIndex: cf.Interfaces[i], Offset: -1}); err != nil {
			return err
		}
	}

	for i := 1; i < pool.Count(); i++ {
		idx := uint16(i)
		c, err := pool.At(idx)
		if err != nil {
			continue
		}
		site := graph.Site{Type: tid, PoolIndex: idx, Offset: -1}
		switch c.Tag {
		case classfile.TagClass:
			name, err := pool.ClassName(idx)
			if err != nil {
				return malformed(t, err)
			}
			elem, ok := classfile.ElementClass(name)
			if !ok {
				continue
			}
			target := b.typeRef(elem)
			targets[idx] = target
			if skip[idx] {
				continue
			}
			if err := b.add(graph.RefClassConstant, target, site); err != nil {
				return err
			}
		case classfile.TagFieldref, classfile.TagMethodref, classfile.TagInterfaceMethodref:
			mr, err := pool.MemberRef(idx)
			if err != nil {
				return malformed(t, err)
			}
			if err := b.descriptorRefs(mr.Descriptor, site); err != nil {
				return malformed(t, err)
			}
			target, ok := b.resolveMember(mr)
			if !ok {
				dangling[idx] = graph.UnresolvedRef{
					Site: site, Owner: mr.Owner, Name: mr.Name, Descriptor: mr.Descriptor,
					Reason: graph.ReasonNoCandidate,
				}
				danglingOrder = append(danglingOrder, idx)
				continue
			}
			targets[idx] = target
			if err := b.add(graph.RefMemberRef, target, site); err != nil {
				return err
			}
		case classfile.TagMethodType:
			desc, err := pool.Utf8(c.A)
			if err != nil {
				return malformed(t, err)
			}
			if err := b.descriptorRefs(desc, site); err != nil {
				return malformed(t, err)
			}
		case classfile.TagDynamic, classfile.TagInvokeDynamic:
			_, desc, err := pool.NameAndType(c.B)
			if err != nil {
				return malformed(t, err)
			}
			if err := b.descriptorRefs(desc, site); err != nil {
				return malformed(t, err)
			}
		}
	}

	for _, f := range t.Fields() {
		id := graph.FieldID(tid, f.Position(), f.Descriptor())
		if err := b.descriptorRefs(f.Descriptor(), graph.Site{Type: tid, Member: id, PoolIndex: f.Raw().Descriptor, Offset: -1}); err != nil {
			return malformed(t, err)
		}
	}
	used := make(map[uint16]bool)
	for _, m := range t.Methods() {
		id := graph.MethodID(tid, m.Position(), m.Descriptor())
		if err := b.descriptorRefs(m.Descriptor(), graph.Site{Type: tid, Member: id, PoolIndex: m.Raw().Descriptor, Offset: -1}); err != nil {
			return malformed(t, err)
		}
		ins, err := m.Instructions()
		if err != nil {
			return malformed(t, err)
		}
		for _, in := range ins {
			if !in.HasPoolIndex() {
				continue
			}
			site := graph.Site{Type: tid, Member: id, PoolIndex: in.Index, Offset: in.Offset, Opcode: uint8(in.Opcode)}
			if u, ok := dangling[in.Index]; ok {
				u.Site = site
				b.g.Unresolved = append(b.g.Unresolved, u)
				used[in.Index] = true
				continue
			}
			target, ok := targets[in.Index]
			if !ok {
				continue
			}
			if err := b.add(graph.RefInstruction, target, site); err != nil {
				return err
			}
		}
	}

	// Dangling entries no instruction loads are reported at the pool.
	for _, idx := range danglingOrder {
		if !used[idx] {
			b.g.Unresolved = append(b.g.Unresolved, dangling[idx])
		}
	}
	return nil
}

func (b *builder) resolveMember(mr classfile.MemberRef) (graph.SymbolID, bool) {
	kind := graph.KindMethod
	if mr.Tag == classfile.TagFieldref {
		kind = graph.KindField
	}
	if strings.HasPrefix(mr.Owner, "[") {
		return b.externalMember(kind, objectClass, mr.Name, mr.Descriptor), true
	}
	if _, internal := b.m.Type(mr.Owner); !internal {
		return b.externalMember(kind, mr.Owner, mr.Name, mr.Descriptor), true
	}
	switch mr.Tag {
	case classfile.TagFieldref:
		return b.findField(mr.Owner, mr.Name, mr.Descriptor, map[string]bool{})
	case classfile.TagMethodref:
		return b.findMethod(mr.Owner, mr.Name, mr.Descriptor)
	default:
		return b.findInterfaceMethod(mr.Owner, mr.Name, mr.Descriptor)
	}
}

// findField searches the class, its superinterfaces, then its superclass.
func (b *builder) findField(class, name, desc string, seen map[string]bool) (graph.SymbolID, bool) {
	if seen[class] {
		return "", false
	}
	seen[class] = true
	t, ok := b.m.Type(class)
	if !ok {
		if class == objectClass {
			return "", false
		}
		return b.externalMember(graph.KindField, class, name, desc), true
	}
	if id, ok := b.members[memberKey{class, name, desc}]; ok {
		return id, true
	}
	for _, iface := range t.Interfaces() {
		if id, ok := b.findField(iface, name, desc, seen); ok {
			return id, true
		}
	}
	if t.Super() != "" {
		return b.findField(t.Super(), name, desc, seen)
	}
	return "", false
}

// findMethod walks the superclass chain, then every superinterface reachable
// from it, then java/lang/Object.
func (b *builder) findMethod(class, name, desc string) (graph.SymbolID, bool) {
	seen := map[string]bool{}
	for c := class; c != "" && !seen[c]; {
		seen[c] = true
		t, ok := b.m.Type(c)
		if !ok {
			if c == objectClass {
				break
			}
			return b.externalMember(graph.KindMethod, c, name, desc), true
		}
		if id, ok := b.members[memberKey{c, name, desc}]; ok {
			return id, true
		}
		c = t.Super()
	}
	if id, ok := b.searchInterfaces(b.chainInterfaces(class), name, desc); ok {
		return id, true
	}
	if objectMethods[name+desc] {
		return b.externalMember(graph.KindMethod, objectClass, name, desc), true
	}
	return "", false
}

func (b *builder) findInterfaceMethod(iface, name, desc string) (graph.SymbolID, bool) {
	if id, ok := b.members[memberKey{iface, name, desc}]; ok {
		return id, true
	}
	t, _ := b.m.Type(iface)
	if id, ok := b.searchInterfaces(t.Interfaces(), name, desc); ok {
		return id, true
	}
	if objectMethods[name+desc] {
		return b.externalMember(graph.KindMethod, objectClass, name, desc), true
	}
	return "", false
}

// chainInterfaces lists the direct interfaces of every class on the
// superclass chain of class, nearest first.
func (b *builder) chainInterfaces(class string) []string {
	var out []string
	seen := map[string]bool{}
	for c := class; c != "" && !seen[c]; {
		seen[c] = true
		t, ok := b.m.Type(c)
		if !ok {
			break
		}
		out = append(out, t.Interfaces()...)
		c = t.Super()
	}
	return out
}

// searchInterfaces does a breadth-first search through interfaces and their
// superinterfaces. An external interface on the way is taken as the
// declaring library type.
func (b *builder) searchInterfaces(start []string, name, desc string) (graph.SymbolID, bool) {
	queue := append([]string(nil), start...)
	seen := map[string]bool{}
	var external string
	for len(queue) > 0 {
		c := queue[0]
		queue = queue[1:]
		if seen[c] {
			continue
		}
		seen[c] = true
		t, ok := b.m.Type(c)
		if !ok {
			if external == "" {
				external = c
			}
			continue
		}
		if id, ok := b.members[memberKey{c, name, desc}]; ok {
			return id, true
		}
		queue = append(queue, t.Interfaces()...)
	}
	if external != "" {
		return b.externalMember(graph.KindMethod, external, name, desc), true
	}
	return "", false
}

// ancestors returns the internal supertypes of a type (transitively) and
// whether any external supertype other than java/lang/Object was reached.
func (b *builder) ancestors(t *container.Type) ([]*container.Type, bool) {
	var out []*container.Type
	external := false
	seen := map[string]bool{t.Name(): true}
	queue := append([]string{}, t.Interfaces()...)
	if t.Super() != "" {
		queue = append([]string{t.Super()}, queue...)
	}
	for len(queue) > 0 {
		c := queue[0]
		queue = queue[1:]
		if seen[c] {
			continue
		}
		seen[c] = true
		a, ok := b.m.Type(c)
		if !ok {
			if c != objectClass {
				external = true
			}
			continue
		}
		out = append(out, a)
		if a.Super() != "" {
			queue = append(queue, a.Super())
		}
		queue = append(queue, a.Interfaces()...)
	}
	return out, external
}

func virtual(m *container.Member) bool {
	return m.Kind() == container.KindMethod && !m.IsStatic() && !m.IsPrivate() &&
		m.Name() != "<init>" && m.Name() != "<clinit>"
}

// families links methods with equal name and descriptor across each type's
// supertype closure into override families, and pins the families that may
// override library methods.
func (b *builder) families() {
	order := make(map[graph.SymbolID]int)
	parent := make(map[graph.SymbolID]graph.SymbolID)
	var find func(graph.SymbolID) graph.SymbolID
	find = func(id graph.SymbolID) graph.SymbolID {
		p, ok := parent[id]
		if !ok || p == id {
			return id
		}
		r := find(p)
		parent[id] = r
		return r
	}
	union := func(a, c graph.SymbolID) {
		ra, rc := find(a), find(c)
		if ra == rc {
			return
		}
		if order[rc] < order[ra] {
			ra, rc = rc, ra
		}
		parent[rc] = ra
	}

	idOf := func(m *container.Member) graph.SymbolID {
		return graph.MethodID(graph.TypeID(m.Owner().Position()), m.Position(), m.Descriptor())
	}
	for i, s := range b.g.Ordered() {
		order[s.ID] = i
	}

	pinnedSigs := make(map[graph.SymbolID]bool)
	for _, t := range b.m.Types() {
		anc, external := b.ancestors(t)
		closure := append([]*container.Type{t}, anc...)
		bySig := make(map[string][]graph.SymbolID)
		var sigs []string
		for _, u := range closure {
			for _, m := range u.Methods() {
				if !virtual(m) {
					continue
				}
				sig := m.Name() + m.Descriptor()
				if _, ok := bySig[sig]; !ok {
					sigs = append(sigs, sig)
				}
				bySig[sig] = append(bySig[sig], idOf(m))
			}
		}
		for _, sig := range sigs {
			ids := bySig[sig]
			for _, id := range ids[1:] {
				union(ids[0], id)
			}
			if external || objectMethods[sig] {
				pinnedSigs[ids[0]] = true
			}
		}
	}

	pinnedRoots := make(map[graph.SymbolID]bool)
	for id := range pinnedSigs {
		pinnedRoots[find(id)] = true
	}
	for _, s := range b.g.Internal() {
		if s.Kind != graph.KindMethod {
			continue
		}
		root := find(s.ID)
		b.g.SetFamily(s.ID, root)
		if pinnedRoots[root] {
			s.Pinned = true
		}
	}
}

// SiteString renders a site for error messages.
func SiteString(g *graph.Graph, s graph.Site) string {
	owner := string(s.Type)
	if t, ok := g.Symbol(s.Type); ok {
		owner = t.Name
	}
	if s.Member == "" {
		return fmt.Sprintf("%s#%d", owner, s.PoolIndex)
	}
	m, _ := g.Symbol(s.Member)
	if m == nil {
		return fmt.Sprintf("%s.%s@%d", owner, s.Member, s.Offset)
	}
	return fmt.Sprintf("%s.%s%s@%d", owner, m.Name, m.Descriptor, s.Offset)
}
