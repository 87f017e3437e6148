package classfile

type Opcode uint8

const (
	Nop             Opcode = 0x00
	AconstNull      Opcode = 0x01
	IconstM1        Opcode = 0x02
	Iconst0         Opcode = 0x03
	Iconst1         Opcode = 0x04
	Iconst2         Opcode = 0x05
	Iconst3         Opcode = 0x06
	Iconst4         Opcode = 0x07
	Iconst5         Opcode = 0x08
	Lconst0         Opcode = 0x09
	Lconst1         Opcode = 0x0a
	Fconst0         Opcode = 0x0b
	Fconst1         Opcode = 0x0c
	Fconst2         Opcode = 0x0d
	Dconst0         Opcode = 0x0e
	Dconst1         Opcode = 0x0f
	Bipush          Opcode = 0x10
	Sipush          Opcode = 0x11
	Ldc             Opcode = 0x12
	LdcW            Opcode = 0x13
	Ldc2W           Opcode = 0x14
	Iload           Opcode = 0x15
	Lload           Opcode = 0x16
	Fload           Opcode = 0x17
	Dload           Opcode = 0x18
	Aload           Opcode = 0x19
	Iload0          Opcode = 0x1a
	Iload1          Opcode = 0x1b
	Iload2          Opcode = 0x1c
	Iload3          Opcode = 0x1d
	Aload0          Opcode = 0x2a
	Istore          Opcode = 0x36
	Lstore          Opcode = 0x37
	Fstore          Opcode = 0x38
	Dstore          Opcode = 0x39
	Astore          Opcode = 0x3a
	Pop             Opcode = 0x57
	Dup             Opcode = 0x59
	Iadd            Opcode = 0x60
	Ladd            Opcode = 0x61
	Imul            Opcode = 0x68
	Lmul            Opcode = 0x69
	Iinc            Opcode = 0x84
	Ifeq            Opcode = 0x99
	Ifne            Opcode = 0x9a
	Iflt            Opcode = 0x9b
	Ifge            Opcode = 0x9c
	Ifgt            Opcode = 0x9d
	Ifle            Opcode = 0x9e
	IfIcmpeq        Opcode = 0x9f
	IfIcmpne        Opcode = 0xa0
	IfIcmplt        Opcode = 0xa1
	IfIcmpge        Opcode = 0xa2
	IfIcmpgt        Opcode = 0xa3
	IfIcmple        Opcode = 0xa4
	Goto            Opcode = 0xa7
	Ret             Opcode = 0xa9
	Tableswitch     Opcode = 0xaa
	Lookupswitch    Opcode = 0xab
	Ireturn         Opcode = 0xac
	Lreturn         Opcode = 0xad
	Freturn         Opcode = 0xae
	Dreturn         Opcode = 0xaf
	Areturn         Opcode = 0xb0
	Return          Opcode = 0xb1
	Getstatic       Opcode = 0xb2
	Putstatic       Opcode = 0xb3
	Getfield        Opcode = 0xb4
	Putfield        Opcode = 0xb5
	Invokevirtual   Opcode = 0xb6
	Invokespecial   Opcode = 0xb7
	Invokestatic    Opcode = 0xb8
	Invokeinterface Opcode = 0xb9
	Invokedynamic   Opcode = 0xba
	New             Opcode = 0xbb
	Newarray        Opcode = 0xbc
	Anewarray       Opcode = 0xbd
	Arraylength     Opcode = 0xbe
	Athrow          Opcode = 0xbf
	Checkcast       Opcode = 0xc0
	Instanceof      Opcode = 0xc1
	Wide            Opcode = 0xc4
	Multianewarray  Opcode = 0xc5
	Ifnull          Opcode = 0xc6
	Ifnonnull       Opcode = 0xc7
	GotoW           Opcode = 0xc8
	JsrW            Opcode = 0xc9
)

const (
	widthInvalid  int8 = -1
	widthVariable int8 = -2
)

// operandWidths holds the fixed operand length of each opcode.
var operandWidths [256]int8

func init() {
	for i := range operandWidths {
		operandWidths[i] = widthInvalid
	}
	set := func(lo, hi Opcode, w int8) {
		for op := int(lo); op <= int(hi); op++ {
			operandWidths[op] = w
		}
	}
	set(0x00, 0x0f, 0)
	set(Bipush, Bipush, 1)
	set(Sipush, Sipush, 2)
	set(Ldc, Ldc, 1)
	set(LdcW, Ldc2W, 2)
	set(Iload, Aload, 1)
	set(0x1a, 0x35, 0)
	set(Istore, Astore, 1)
	set(0x3b, 0x83, 0)
	set(Iinc, Iinc, 2)
	set(0x85, 0x98, 0)
	set(Ifeq, 0xa8, 2)
	set(Ret, Ret, 1)
	set(Tableswitch, Lookupswitch, widthVariable)
	set(Ireturn, Return, 0)
	set(Getstatic, Invokestatic, 2)
	set(Invokeinterface, Invokedynamic, 4)
	set(New, New, 2)
	set(Newarray, Newarray, 1)
	set(Anewarray, Anewarray, 2)
	set(Arraylength, Athrow, 0)
	set(Checkcast, Instanceof, 2)
	set(0xc2, 0xc3, 0)
	set(Wide, Wide, widthVariable)
	set(Multianewarray, Multianewarray, 3)
	set(Ifnull, Ifnonnull, 2)
	set(GotoW, JsrW, 4)
	set(0xca, 0xca, 0)
	set(0xfe, 0xff, 0)
}

// IsReturn reports whether op ends a method normally.
func (op Opcode) IsReturn() bool {
	return op >= Ireturn && op <= Return
}

// IsIntCompareBranch reports whether op compares two ints and branches.
func (op Opcode) IsIntCompareBranch() bool {
	return op >= IfIcmpeq && op <= IfIcmple
}

func (op Opcode) IsFieldAccess() bool {
	return op >= Getstatic && op <= Putfield
}

func (op Opcode) IsInvoke() bool {
	return op >= Invokevirtual && op <= Invokeinterface
}

// IsBranch reports whether op transfers control to another offset.
func (op Opcode) IsBranch() bool {
	switch {
	case op >= Ifeq && op <= 0xa8, op >= Ifnull && op <= JsrW:
		return true
	case op == Tableswitch || op == Lookupswitch || op == Ret:
		return true
	}
	return false
}
