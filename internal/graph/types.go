package graph

type SymbolID string

type Kind string

const (
	KindType   Kind = "type"
	KindField  Kind = "field"
	KindMethod Kind = "method"
)

type RefKind string

const (
	RefDeclaring     RefKind = "declaring"
	RefClassConstant RefKind = "class_constant"
	RefMemberRef     RefKind = "member_ref"
	RefDescriptor    RefKind = "descriptor"
	RefSupertype     RefKind = "supertype"
	RefInstruction   RefKind = "instruction"
)

type UnresolvedReason string

const (
	ReasonNoCandidate UnresolvedReason = "no_candidate"
	ReasonAmbiguous   UnresolvedReason = "ambiguous"
)

// Symbol is a declared type, field or method, or a placeholder for a library
// symbol referenced from the container.
type Symbol struct {
	ID         SymbolID `json:"id"`
	Kind       Kind     `json:"kind"`
	Owner      SymbolID `json:"owner,omitempty"`
	Name       string   `json:"name"`
	Descriptor string   `json:"descriptor,omitempty"`
	Access     uint16   `json:"access"`
	Position   int      `json:"position"`
	External   bool     `json:"external,omitempty"`
	// Family is the root of the override family for virtual methods and the
	// symbol's own ID otherwise.
	Family SymbolID `json:"family,omitempty"`
	Pinned bool     `json:"pinned,omitempty"`
}

func (s *Symbol) IsStatic() bool {
	return s.Access&0x0008 != 0
}

// Site locates a reference inside the container. Member is empty for
// class-level sites; Offset is -1 outside method bodies.
type Site struct {
	Type      SymbolID `json:"type"`
	Member    SymbolID `json:"member,omitempty"`
	PoolIndex uint16   `json:"pool_index,omitempty"`
	Offset    int      `json:"offset"`
	Opcode    uint8    `json:"opcode,omitempty"`
}

type Reference struct {
	Kind   RefKind  `json:"kind"`
	Target SymbolID `json:"target"`
	Site   Site     `json:"site"`
}

// UnresolvedRef is a reference whose owner is declared in the container
// but whose member could not be found along the supertype chain.
type UnresolvedRef struct {
	Site       Site             `json:"site"`
	Owner      string           `json:"owner"`
	Name       string           `json:"name"`
	Descriptor string           `json:"descriptor"`
	Reason     UnresolvedReason `json:"reason"`
}
