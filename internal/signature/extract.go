package signature

import (
	"context"
	"fmt"
	"math"
	"runtime"
	"sort"

	"github.com/apex/log"
	"golang.org/x/sync/errgroup"

	"jremap/internal/classfile"
	"jremap/internal/container"
	"jremap/internal/graph"
)

type Options struct {
	// Workers bounds the extraction pool. Zero means runtime.NumCPU().
	Workers int
	Version string
}

// Extract computes the features of every internal symbol. Symbols are
// processed in parallel; the table is ordered by ID whatever the schedule.
func Extract(ctx context.Context, g *graph.Graph, m *container.Model, opts Options) (*Table, error) {
	workers := opts.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	x := &extractor{g: g, m: m}
	symbols := g.Internal()
	features := make([]Features, len(symbols))

	eg, ctx := errgroup.WithContext(ctx)
	eg.SetLimit(workers)
	for i, s := range symbols {
		eg.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			f, err := x.extract(s)
			if err != nil {
				return fmt.Errorf("extract %s: %w", s.ID, err)
			}
			features[i] = f
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}

	log.WithFields(log.Fields{
		"symbols": len(features),
		"workers": workers,
	}).Debug("signatures extracted")
	return NewTable(opts.Version, features), nil
}

type extractor struct {
	g *graph.Graph
	m *container.Model
}

func (x *extractor) internal(name string) bool {
	s, ok := x.g.TypeByName(name)
	return ok && !s.External
}

func (x *extractor) extract(s *graph.Symbol) (Features, error) {
	f := Features{
		ID:         s.ID,
		Kind:       s.Kind,
		Owner:      s.Owner,
		Name:       s.Name,
		Descriptor: s.Descriptor,
		Static:     s.IsStatic(),
		Pinned:     s.Pinned,
		Position:   s.Position,
	}
	if s.Family != s.ID || len(x.g.Family(s.ID)) > 1 {
		f.Family = s.Family
	}

	var noise map[int]bool
	var raw []string
	switch s.Kind {
	case graph.KindType:
		t := x.m.Types()[s.Position]
		f.Shape = TypeShape(t.Access(), t.Super(), t.Interfaces(), x.internal)
		for _, fl := range t.Fields() {
			raw = append(raw, "f:"+staticMark(fl.IsStatic())+Shape(fl.Descriptor(), x.internal))
		}
		for _, mt := range t.Methods() {
			raw = append(raw, "m:"+staticMark(mt.IsStatic())+Shape(mt.Descriptor(), x.internal))
		}
	case graph.KindField:
		mem, err := x.member(s)
		if err != nil {
			return f, err
		}
		f.Shape = Shape(s.Descriptor, x.internal)
		if v, ok := mem.ConstantValue(); ok {
			raw = append(raw, v)
		}
	case graph.KindMethod:
		mem, err := x.member(s)
		if err != nil {
			return f, err
		}
		f.Shape = Shape(s.Descriptor, x.internal)
		ins, err := mem.Instructions()
		if err != nil {
			return f, err
		}
		pool := mem.Owner().ClassFile().Pool
		noise = noiseOffsets(pool, s.Descriptor, mem.IsStatic(), ins)
		raw = x.methodLiterals(pool, ins, noise)
	}
	f.Literals = LiteralBag(raw)

	out := make(map[graph.SymbolID]bool)
	for _, r := range x.g.ReferencesFrom(s.ID) {
		if r.Kind == graph.RefDeclaring || r.Target == s.ID || (r.Site.Offset >= 0 && noise[r.Site.Offset]) {
			continue
		}
		out[r.Target] = true
	}
	f.Out, f.OutFixed = x.split(out)

	in := make(map[graph.SymbolID]bool)
	for _, d := range x.g.GetDependents(s.ID) {
		in[d.ID] = true
	}
	f.In, f.InFixed = x.split(in)

	f.Base = f.base()
	return f, nil
}

func (x *extractor) member(s *graph.Symbol) (*container.Member, error) {
	owner, ok := x.g.Symbol(s.Owner)
	if !ok {
		return nil, fmt.Errorf("unknown owner %s", s.Owner)
	}
	t := x.m.Types()[owner.Position]
	list := t.Fields()
	if s.Kind == graph.KindMethod {
		list = t.Methods()
	}
	if s.Position >= len(list) {
		return nil, fmt.Errorf("member position %d out of range", s.Position)
	}
	return list[s.Position], nil
}

func staticMark(static bool) string {
	if static {
		return "static "
	}
	return ""
}

func (x *extractor) methodLiterals(pool *classfile.Pool, ins []classfile.Instruction, noise map[int]bool) []string {
	var raw []string
	for _, in := range ins {
		if noise[in.Offset] {
			continue
		}
		if v, ok := in.IntConstant(); ok {
			raw = append(raw, fmt.Sprintf("i:%d", v))
			continue
		}
		switch in.Opcode {
		case classfile.Ldc, classfile.LdcW, classfile.Ldc2W:
		default:
			continue
		}
		c, err := pool.At(in.Index)
		if err != nil {
			continue
		}
		switch c.Tag {
		case classfile.TagInteger:
			raw = append(raw, fmt.Sprintf("i:%d", int32(uint32(c.Value))))
		case classfile.TagLong:
			raw = append(raw, fmt.Sprintf("j:%d", int64(c.Value)))
		case classfile.TagFloat:
			raw = append(raw, fmt.Sprintf("f:%v", math.Float32frombits(uint32(c.Value))))
		case classfile.TagDouble:
			raw = append(raw, fmt.Sprintf("d:%v", math.Float64frombits(c.Value)))
		case classfile.TagString:
			if s, err := pool.Utf8(c.A); err == nil {
				if dec, err := classfile.DecodeMUTF8(s); err == nil {
					s = dec
				}
				raw = append(raw, "s:"+s)
			}
		case classfile.TagClass:
			if name, err := pool.ClassName(in.Index); err == nil {
				raw = append(raw, "c:"+classShape(name, x.internal))
			}
		}
	}
	return raw
}

// split separates renamable neighbours from those with stable tokens.
func (x *extractor) split(ids map[graph.SymbolID]bool) ([]graph.SymbolID, []string) {
	var renamable []graph.SymbolID
	var fixed []string
	for id := range ids {
		s, ok := x.g.Symbol(id)
		if !ok {
			continue
		}
		if tok, ok := x.fixedToken(s); ok {
			fixed = append(fixed, tok)
			continue
		}
		renamable = append(renamable, id)
	}
	sort.Slice(renamable, func(i, j int) bool { return renamable[i] < renamable[j] })
	sort.Strings(fixed)
	return renamable, fixed
}

func (x *extractor) fixedToken(s *graph.Symbol) (string, bool) {
	if s.External {
		return string(s.ID), true
	}
	if s.Pinned {
		return "p:" + s.Name + Shape(s.Descriptor, x.internal), true
	}
	return "", false
}
