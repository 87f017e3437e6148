package graph

import (
	"fmt"

	"jremap/internal/classfile"
)

// Internal symbol IDs are structural: they are built from the type's
// position in the container, the member's position in its type and the
// descriptor with every class name erased. Renaming never changes them.

func TypeID(pos int) SymbolID {
	return SymbolID(fmt.Sprintf("t%d", pos))
}

func FieldID(owner SymbolID, pos int, desc string) SymbolID {
	return SymbolID(fmt.Sprintf("%s.f%d:%s", owner, pos, classfile.EraseDescriptor(desc)))
}

func MethodID(owner SymbolID, pos int, desc string) SymbolID {
	return SymbolID(fmt.Sprintf("%s.m%d:%s", owner, pos, classfile.EraseDescriptor(desc)))
}

// External symbols are library names, which never change, so their IDs
// carry the names themselves.

func ExternalTypeID(name string) SymbolID {
	return SymbolID("x:" + name)
}

func ExternalMemberID(kind Kind, owner, name, desc string) SymbolID {
	if kind == KindField {
		return SymbolID(fmt.Sprintf("x:%s.%s:%s", owner, name, desc))
	}
	return SymbolID(fmt.Sprintf("x:%s.%s%s", owner, name, desc))
}
