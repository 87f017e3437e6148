package signature

import (
	"jremap/internal/classfile"
	"jremap/internal/multiplier"
)

// guardWindow bounds how far an opaque guard's exit may lie from its test.
const guardWindow = 8

// noiseOffsets returns the instruction offsets whose literals and
// references an obfuscator regenerates on every build: field multiplier
// constants and opaque predicates on the trailing dummy parameter.
func noiseOffsets(pool *classfile.Pool, desc string, static bool, ins []classfile.Instruction) map[int]bool {
	noise := multiplier.NoiseOffsets(pool, ins)
	for off := range opaqueGuards(pool, desc, static, ins) {
		noise[off] = true
	}
	return noise
}

// opaqueGuards finds tests of the form "if (p OP K) throw/return" where p
// is the last int parameter. The constant and the exit block are reported.
func opaqueGuards(pool *classfile.Pool, desc string, static bool, ins []classfile.Instruction) map[int]bool {
	out := make(map[int]bool)
	md, err := classfile.ParseMethodDescriptor(desc)
	if err != nil || len(md.Params) == 0 {
		return out
	}
	last := md.Params[len(md.Params)-1]
	if !last.IsIntLike() {
		return out
	}
	slot := 0
	if !static {
		slot = 1
	}
	for _, p := range md.Params[:len(md.Params)-1] {
		slot += p.Slots()
	}

	byOffset := make(map[int]int, len(ins))
	for i, in := range ins {
		byOffset[in.Offset] = i
	}

	for i := 2; i < len(ins); i++ {
		if !ins[i].Opcode.IsIntCompareBranch() {
			continue
		}
		a, b := ins[i-2], ins[i-1]
		var k classfile.Instruction
		switch {
		case loadsLocal(a, slot) && isIntConstant(pool, b):
			k = b
		case loadsLocal(b, slot) && isIntConstant(pool, a):
			k = a
		default:
			continue
		}
		exit := earlyExit(ins, i+1)
		if exit == nil {
			if t, ok := byOffset[ins[i].Offset+int(ins[i].Value)]; ok {
				exit = earlyExit(ins, t)
			}
		}
		if exit == nil {
			continue
		}
		out[k.Offset] = true
		for _, in := range exit {
			out[in.Offset] = true
		}
	}
	return out
}

func loadsLocal(in classfile.Instruction, slot int) bool {
	isLoad := in.Opcode == classfile.Iload || (in.Opcode >= classfile.Iload0 && in.Opcode <= classfile.Iload3)
	return isLoad && int(in.Local) == slot
}

func isIntConstant(pool *classfile.Pool, in classfile.Instruction) bool {
	if _, ok := in.IntConstant(); ok {
		return true
	}
	if in.Opcode != classfile.Ldc && in.Opcode != classfile.LdcW {
		return false
	}
	c, err := pool.At(in.Index)
	return err == nil && c.Tag == classfile.TagInteger
}

// earlyExit returns the straight-line block starting at ins[from] when it
// ends in athrow or a return within guardWindow instructions.
func earlyExit(ins []classfile.Instruction, from int) []classfile.Instruction {
	for i := from; i < len(ins) && i < from+guardWindow; i++ {
		op := ins[i].Opcode
		if op == classfile.Athrow || op.IsReturn() {
			return ins[from : i+1]
		}
		if op.IsBranch() {
			return nil
		}
	}
	return nil
}
