// Package multiplier recovers the constant pairs an obfuscator uses to
// scramble integer fields: every read is multiplied by a decode constant,
// every write by its inverse.
package multiplier

import (
	"context"
	"math/big"
	"sort"

	"github.com/apex/log"

	"jremap/internal/classfile"
	"jremap/internal/container"
	"jremap/internal/graph"
	"jremap/internal/mapping"
)

// Use is one multiplication of a field value by a constant.
type Use struct {
	// Offset of the constant-loading instruction.
	Offset int
	// FieldOffset is the offset of the get or put instruction.
	FieldOffset int
	Encode      bool
	Bits        int
	Value       uint64
}

// Find lists the multiplier patterns in one method body:
//
//	getfield F; ldc k; imul   (decode)
//	ldc k; aload; getfield F; imul   (decode)
//	...; ldc k; imul; putfield F   (encode)
//
// and the long forms with ldc2_w and lmul.
func Find(pool *classfile.Pool, ins []classfile.Instruction) []Use {
	var out []Use
	for i, in := range ins {
		bits := 0
		switch in.Opcode {
		case classfile.Imul:
			bits = 32
		case classfile.Lmul:
			bits = 64
		default:
			continue
		}
		if i < 2 {
			continue
		}
		if v, ok := constant(pool, ins[i-1], bits); ok {
			k, other := ins[i-1], ins[i-2]
			if i+1 < len(ins) && isPut(ins[i+1].Opcode) {
				out = append(out, Use{Offset: k.Offset, FieldOffset: ins[i+1].Offset, Encode: true, Bits: bits, Value: v})
			}
			if isGet(other.Opcode) {
				out = append(out, Use{Offset: k.Offset, FieldOffset: other.Offset, Bits: bits, Value: v})
			}
			continue
		}
		if !isGet(ins[i-1].Opcode) {
			continue
		}
		j := i - 2
		if ins[i-1].Opcode == classfile.Getfield && isAload(ins[j].Opcode) {
			j--
		}
		if j < 0 {
			continue
		}
		if v, ok := constant(pool, ins[j], bits); ok {
			out = append(out, Use{Offset: ins[j].Offset, FieldOffset: ins[i-1].Offset, Bits: bits, Value: v})
		}
	}
	return out
}

// NoiseOffsets returns the offsets of constants that take part in a
// multiplier pattern. Such constants change on every build.
func NoiseOffsets(pool *classfile.Pool, ins []classfile.Instruction) map[int]bool {
	out := make(map[int]bool)
	for _, u := range Find(pool, ins) {
		out[u.Offset] = true
	}
	return out
}

func isGet(op classfile.Opcode) bool { return op == classfile.Getfield || op == classfile.Getstatic }
func isPut(op classfile.Opcode) bool { return op == classfile.Putfield || op == classfile.Putstatic }

func isAload(op classfile.Opcode) bool {
	return op == classfile.Aload || (op >= classfile.Aload0 && op <= classfile.Aload0+3)
}

func constant(pool *classfile.Pool, in classfile.Instruction, bits int) (uint64, bool) {
	switch in.Opcode {
	case classfile.Ldc, classfile.LdcW, classfile.Ldc2W:
	default:
		return 0, false
	}
	c, err := pool.At(in.Index)
	if err != nil {
		return 0, false
	}
	if bits == 32 && c.Tag == classfile.TagInteger {
		return c.Value & 0xffffffff, true
	}
	if bits == 64 && c.Tag == classfile.TagLong {
		return c.Value, true
	}
	return 0, false
}

type votes struct {
	bits   int
	decode map[uint64]int
	encode map[uint64]int
}

// Scan collects multiplier votes over every method body and settles one
// pair per int or long field. A field whose winning constant is even (not
// invertible) gets none.
func Scan(ctx context.Context, m *container.Model, g *graph.Graph) (map[graph.SymbolID]mapping.Multiplier, error) {
	byField := make(map[graph.SymbolID]*votes)
	for _, t := range m.Types() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		tid := graph.TypeID(t.Position())
		pool := t.ClassFile().Pool
		for _, meth := range t.Methods() {
			ins, err := meth.Instructions()
			if err != nil {
				return nil, err
			}
			uses := Find(pool, ins)
			if len(uses) == 0 {
				continue
			}
			mid := graph.MethodID(tid, meth.Position(), meth.Descriptor())
			targets := make(map[int]graph.SymbolID)
			for _, r := range g.ReferencesFrom(mid) {
				if r.Kind == graph.RefInstruction {
					targets[r.Site.Offset] = r.Target
				}
			}
			for _, u := range uses {
				fid, ok := targets[u.FieldOffset]
				if !ok {
					continue
				}
				s, ok := g.Symbol(fid)
				if !ok || s.External || fieldBits(s.Descriptor) != u.Bits {
					continue
				}
				v := byField[fid]
				if v == nil {
					v = &votes{bits: u.Bits, decode: map[uint64]int{}, encode: map[uint64]int{}}
					byField[fid] = v
				}
				if u.Encode {
					v.encode[u.Value]++
				} else {
					v.decode[u.Value]++
				}
			}
		}
	}

	out := make(map[graph.SymbolID]mapping.Multiplier, len(byField))
	for fid, v := range byField {
		if mul, ok := settle(v); ok {
			out[fid] = mul
		}
	}
	log.WithFields(log.Fields{"fields": len(byField), "multipliers": len(out)}).Debug("multiplier scan done")
	return out, nil
}

func fieldBits(desc string) int {
	switch desc {
	case "I":
		return 32
	case "J":
		return 64
	}
	return 0
}

func settle(v *votes) (mapping.Multiplier, bool) {
	dec, dn := winner(v.decode)
	enc, en := winner(v.encode)
	var d, e uint64
	switch {
	case dn > 0 && dn >= en:
		inv, ok := Inverse(dec, v.bits)
		if !ok {
			return mapping.Multiplier{}, false
		}
		d, e = dec, inv
	case en > 0:
		inv, ok := Inverse(enc, v.bits)
		if !ok {
			return mapping.Multiplier{}, false
		}
		d, e = inv, enc
	default:
		return mapping.Multiplier{}, false
	}
	return mapping.Multiplier{Bits: v.bits, Decode: signed(d, v.bits), Encode: signed(e, v.bits)}, true
}

// winner picks the most voted value, the smallest one on a tie.
func winner(counts map[uint64]int) (uint64, int) {
	keys := make([]uint64, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	var best uint64
	n := 0
	for _, k := range keys {
		if counts[k] > n {
			best, n = k, counts[k]
		}
	}
	return best, n
}

// Inverse returns the multiplicative inverse of v modulo 2^bits.
func Inverse(v uint64, bits int) (uint64, bool) {
	if v&1 == 0 {
		return 0, false
	}
	mod := new(big.Int).Lsh(big.NewInt(1), uint(bits))
	x := new(big.Int).SetUint64(v)
	inv := new(big.Int).ModInverse(x, mod)
	if inv == nil {
		return 0, false
	}
	return inv.Uint64(), true
}

func signed(v uint64, bits int) int64 {
	if bits == 32 {
		return int64(int32(uint32(v)))
	}
	return int64(v)
}
