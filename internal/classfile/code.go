package classfile

import (
	"encoding/binary"
	"fmt"
)

type ExceptionHandler struct {
	StartPC   uint16
	EndPC     uint16
	HandlerPC uint16
	CatchType uint16
}

// Code is a decoded Code attribute.
type Code struct {
	MaxStack   uint16
	MaxLocals  uint16
	Code       []byte
	Exceptions []ExceptionHandler
	Attributes []*Attribute
}

func ParseCode(data []byte) (*Code, error) {
	r := &reader{buf: data}
	c := &Code{MaxStack: r.u2(), MaxLocals: r.u2()}
	n := r.u4()
	if r.err == nil && int64(n) > int64(len(data)-r.off) {
		return nil, &FormatError{Offset: r.off, Msg: "code length exceeds attribute"}
	}
	c.Code = append([]byte(nil), r.take(int(n))...)
	handlers := int(r.u2())
	for i := 0; i < handlers && r.err == nil; i++ {
		c.Exceptions = append(c.Exceptions, ExceptionHandler{
			StartPC: r.u2(), EndPC: r.u2(), HandlerPC: r.u2(), CatchType: r.u2(),
		})
	}
	c.Attributes = r.attributes()
	if r.err != nil {
		return nil, r.err
	}
	if r.off != len(data) {
		return nil, &FormatError{Offset: r.off, Msg: "trailing bytes in Code attribute"}
	}
	return c, nil
}

func (c *Code) Encode() []byte {
	w := &writer{}
	w.u2(c.MaxStack)
	w.u2(c.MaxLocals)
	w.u4(uint32(len(c.Code)))
	w.buf.Write(c.Code)
	w.u2(uint16(len(c.Exceptions)))
	for _, h := range c.Exceptions {
		w.u2(h.StartPC)
		w.u2(h.EndPC)
		w.u2(h.HandlerPC)
		w.u2(h.CatchType)
	}
	w.attributes(c.Attributes)
	return w.buf.Bytes()
}

// LocalVariable is one row of a LocalVariableTable or LocalVariableTypeTable.
// Descriptor holds the signature index in the type table.
type LocalVariable struct {
	StartPC    uint16
	Length     uint16
	Name       uint16
	Descriptor uint16
	Index      uint16
}

func ParseLocalVariables(data []byte) ([]LocalVariable, error) {
	r := &reader{buf: data}
	n := int(r.u2())
	out := make([]LocalVariable, 0, n)
	for i := 0; i < n && r.err == nil; i++ {
		out = append(out, LocalVariable{
			StartPC: r.u2(), Length: r.u2(), Name: r.u2(), Descriptor: r.u2(), Index: r.u2(),
		})
	}
	if r.err != nil {
		return nil, r.err
	}
	if r.off != len(data) {
		return nil, &FormatError{Offset: r.off, Msg: "trailing bytes in local variable table"}
	}
	return out, nil
}

func EncodeLocalVariables(vars []LocalVariable) []byte {
	w := &writer{}
	w.u2(uint16(len(vars)))
	for _, v := range vars {
		w.u2(v.StartPC)
		w.u2(v.Length)
		w.u2(v.Name)
		w.u2(v.Descriptor)
		w.u2(v.Index)
	}
	return w.buf.Bytes()
}

// Instruction is one decoded bytecode instruction. Index is set for
// instructions with a constant pool operand, Local for local variable
// instructions (including the _0.._3 short forms of iload), Value for
// immediates (bipush, sipush, iinc delta, newarray type, dimensions) and
// for the relative target of two-byte branches.
type Instruction struct {
	Offset int
	Len    int
	Opcode Opcode
	Wide   bool
	Index  uint16
	Local  uint16
	Value  int32
}

// HasPoolIndex reports whether the instruction carries a constant pool operand.
func (in Instruction) HasPoolIndex() bool {
	switch in.Opcode {
	case Ldc, LdcW, Ldc2W, Getstatic, Putstatic, Getfield, Putfield,
		Invokevirtual, Invokespecial, Invokestatic, Invokeinterface, Invokedynamic,
		New, Anewarray, Checkcast, Instanceof, Multianewarray:
		return true
	}
	return false
}

// Decode splits a method body into instructions. Unknown opcodes and
// truncated operands are reported with their offset.
func Decode(code []byte) ([]Instruction, error) {
	var out []Instruction
	for off := 0; off < len(code); {
		in, err := decodeAt(code, off)
		if err != nil {
			return nil, err
		}
		out = append(out, in)
		off += in.Len
	}
	return out, nil
}

func decodeAt(code []byte, off int) (Instruction, error) {
	op := Opcode(code[off])
	in := Instruction{Offset: off, Opcode: op}
	bad := func(msg string) (Instruction, error) {
		return in, &FormatError{Offset: off, Msg: fmt.Sprintf("opcode 0x%02x: %s", uint8(op), msg)}
	}
	u2 := func(at int) uint16 { return binary.BigEndian.Uint16(code[at:]) }
	u4 := func(at int) int32 { return int32(binary.BigEndian.Uint32(code[at:])) }

	w := operandWidths[op]
	switch {
	case w == widthInvalid:
		return bad("invalid opcode")
	case op == Tableswitch || op == Lookupswitch:
		pad := (4 - (off+1)%4) % 4
		p := off + 1 + pad
		head := 12
		if op == Lookupswitch {
			head = 8
		}
		if p+head > len(code) {
			return bad("truncated switch")
		}
		var size int
		if op == Tableswitch {
			low, high := u4(p+4), u4(p+8)
			if high < low {
				return bad("tableswitch high < low")
			}
			size = 1 + pad + 12 + 4*int(int64(high)-int64(low)+1)
		} else {
			npairs := u4(p + 4)
			if npairs < 0 {
				return bad("negative lookupswitch pair count")
			}
			size = 1 + pad + 8 + 8*int(npairs)
		}
		if off+size > len(code) {
			return bad("truncated switch table")
		}
		in.Len = size
		return in, nil
	case op == Wide:
		if off+2 > len(code) {
			return bad("truncated wide")
		}
		sub := Opcode(code[off+1])
		in.Opcode, in.Wide = sub, true
		switch {
		case sub == Iinc:
			if off+6 > len(code) {
				return bad("truncated wide iinc")
			}
			in.Local, in.Value, in.Len = u2(off+2), int32(int16(u2(off+4))), 6
		case (sub >= Iload && sub <= Aload) || (sub >= Istore && sub <= Astore) || sub == Ret:
			if off+4 > len(code) {
				return bad("truncated wide operand")
			}
			in.Local, in.Len = u2(off+2), 4
		default:
			return bad("invalid wide target")
		}
		return in, nil
	}

	in.Len = 1 + int(w)
	if off+in.Len > len(code) {
		return bad("truncated operand")
	}
	switch {
	case op == Bipush:
		in.Value = int32(int8(code[off+1]))
	case op == Sipush:
		in.Value = int32(int16(u2(off + 1)))
	case op == Ldc:
		in.Index = uint16(code[off+1])
	case op == Newarray:
		in.Value = int32(code[off+1])
	case op == Iinc:
		in.Local, in.Value = uint16(code[off+1]), int32(int8(code[off+2]))
	case (op >= Iload && op <= Aload) || (op >= Istore && op <= Astore) || op == Ret:
		in.Local = uint16(code[off+1])
	case op >= Iload0 && op <= Iload3:
		in.Local = uint16(op - Iload0)
	case op == Multianewarray:
		in.Index, in.Value = u2(off+1), int32(code[off+3])
	case (op >= Ifeq && op <= 0xa8) || op == Ifnull || op == Ifnonnull:
		in.Value = int32(int16(u2(off + 1)))
	case in.HasPoolIndex():
		in.Index = u2(off + 1)
	}
	return in, nil
}

// IntConstant returns the value pushed by iconst_*, bipush and sipush.
func (in Instruction) IntConstant() (int32, bool) {
	switch {
	case in.Opcode >= IconstM1 && in.Opcode <= Iconst5:
		return int32(in.Opcode) - int32(Iconst0), true
	case in.Opcode == Bipush || in.Opcode == Sipush:
		return in.Value, true
	}
	return 0, false
}
