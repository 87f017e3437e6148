// Package pipeline runs the stages of a remap and of a hand correction
// against a version store.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/apex/log"

	"jremap/internal/config"
	"jremap/internal/graph"
	"jremap/internal/index"
	"jremap/internal/mapping"
	"jremap/internal/multiplier"
	"jremap/internal/rename"
	"jremap/internal/resolver"
	"jremap/internal/signature"
	"jremap/internal/storage"
)

type Pipeline struct {
	store storage.VersionStore
	cfg   *config.Config
	out   io.Writer
}

// New returns a pipeline that prints progress lines to out.
func New(store storage.VersionStore, cfg *config.Config, out io.Writer) *Pipeline {
	if cfg == nil {
		cfg = config.Default()
	}
	if out == nil {
		out = io.Discard
	}
	return &Pipeline{store: store, cfg: cfg, out: out}
}

type RemapRequest struct {
	Input   string
	Output  string
	Version string
	// Prior names the version to carry names from. Empty means the most
	// recently stored one, if any.
	Prior string
	// Anchors overrides the configured anchor table path.
	Anchors string
	// MappingOut, when set, receives the stored mapping as JSON.
	MappingOut string
	// IndexOut, when set, receives the Reference Index of the input.
	IndexOut string
}

type RemapResult struct {
	Mapping     *mapping.Mapping
	Revision    int
	Resolve     *resolver.Result
	Rename      *rename.Report
	Multipliers int
	Elapsed     time.Duration
}

// Remap resolves a new build against the store and writes the renamed
// container. Nothing is written or stored unless renaming succeeds.
func (p *Pipeline) Remap(ctx context.Context, req RemapRequest) (*RemapResult, error) {
	if req.Version == "" {
		return nil, errors.New("remap: version is required")
	}
	if req.Input == "" || req.Output == "" {
		return nil, errors.New("remap: input and output are required")
	}
	start := time.Now()
	res := &RemapResult{}

	// 1. Load and index
	model, err := loadContainer(req.Input)
	if err != nil {
		return nil, err
	}
	indexer := index.NewIndexer()
	g, err := indexer.BuildGraph(model)
	if err != nil {
		return nil, fmt.Errorf("index %s: %w", req.Input, err)
	}
	fmt.Fprintf(p.out, "📦 Loaded %d classes: %d symbols, %d references\n",
		len(model.Types()), len(g.Internal()), len(g.References))
	if len(g.Unresolved) > 0 {
		fmt.Fprintf(p.out, "  -> %d references point at missing members\n", len(g.Unresolved))
	}
	log.WithFields(log.Fields{
		"kinds":    g.ReferenceKindCounts(),
		"dangling": g.UnresolvedReasonCounts(),
	}).Debug("index built")
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// 2. Extract signatures
	table, err := signature.Extract(ctx, g, model, signature.Options{Workers: p.cfg.Signature.Workers, Version: req.Version})
	if err != nil {
		return nil, fmt.Errorf("extract signatures: %w", err)
	}

	// 3. Prior build and anchors
	prior, err := p.prior(ctx, req.Prior)
	if err != nil {
		return nil, err
	}
	anchors, err := p.anchors(req.Anchors)
	if err != nil {
		return nil, err
	}

	// 4. Resolve
	res.Resolve, err = resolver.Resolve(ctx, table, prior, anchors, p.cfg.Resolver)
	if err != nil {
		return nil, err
	}
	m := res.Resolve.Mapping
	fmt.Fprintf(p.out, "🧭 Resolved %d of %d symbols in %d iterations\n",
		m.Resolved(), len(m.Entries), res.Resolve.Iterations)

	// 5. Multipliers
	muls, err := multiplier.Scan(ctx, model, g)
	if err != nil {
		return nil, fmt.Errorf("scan multipliers: %w", err)
	}
	res.Multipliers = attachMultipliers(m, muls)

	// 6. Rename
	out, report, err := rename.Apply(ctx, model, m, p.cfg.RenameOptions())
	if err != nil {
		return nil, err
	}
	res.Rename = report
	fmt.Fprintf(p.out, "✏️  Renamed %d symbols at %d sites\n", len(report.Renamed), report.Sites)
	data, err := out.Serialize()
	if err != nil {
		return nil, fmt.Errorf("serialize output: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// 7. Stage, store, then publish the output
	staged, err := stageFile(req.Output, data)
	if err != nil {
		return nil, fmt.Errorf("write %s: %w", req.Output, err)
	}
	defer staged.Discard()
	res.Revision, err = p.store.Put(ctx, req.Version, m, table)
	if err != nil {
		return nil, fmt.Errorf("store mapping: %w", err)
	}
	if err := staged.Commit(); err != nil {
		return nil, fmt.Errorf("write %s (stored as %s revision %d): %w", req.Output, req.Version, res.Revision, err)
	}
	m.Revision = res.Revision
	res.Mapping = m
	if req.MappingOut != "" {
		if err := writeMapping(req.MappingOut, m); err != nil {
			return nil, fmt.Errorf("write mapping: %w", err)
		}
	}
	if req.IndexOut != "" {
		if err := indexer.SaveGraph(g, req.IndexOut); err != nil {
			return nil, err
		}
	}

	res.Elapsed = time.Since(start)
	fmt.Fprintf(p.out, "✅ Stored %s revision %d (%v)\n", req.Version, res.Revision, res.Elapsed.Round(time.Millisecond))
	log.WithFields(log.Fields{
		"version":     req.Version,
		"revision":    res.Revision,
		"parent":      m.Parent,
		"resolved":    m.Resolved(),
		"unresolved":  len(m.Unresolved),
		"multipliers": res.Multipliers,
	}).Info("remap finished")
	return res, nil
}

func (p *Pipeline) prior(ctx context.Context, version string) (resolver.Prior, error) {
	var rec *storage.Record
	var err error
	if version != "" {
		rec, err = p.store.Get(ctx, version)
	} else {
		rec, err = p.store.Head(ctx)
		if errors.Is(err, storage.ErrNotFound) {
			fmt.Fprintln(p.out, "🆕 No prior build stored, resolving from anchors only")
			return resolver.Prior{}, nil
		}
	}
	if err != nil {
		return resolver.Prior{}, fmt.Errorf("load prior: %w", err)
	}
	fmt.Fprintf(p.out, "🔗 Prior build %s revision %d\n", rec.Version, rec.Revision)
	if rec.Snapshot == nil {
		log.WithField("version", rec.Version).Warn("prior build has no signature snapshot")
	}
	return resolver.Prior{Mapping: rec.Mapping, Table: rec.Snapshot}, nil
}

func (p *Pipeline) anchors(path string) (*mapping.AnchorTable, error) {
	if path == "" {
		path = p.cfg.Anchors.Path
	}
	if path == "" {
		return nil, nil
	}
	t, err := mapping.ReadAnchorTable(path)
	if err != nil {
		return nil, fmt.Errorf("load anchors: %w", err)
	}
	return t, nil
}

// attachMultipliers records each field's multiplier pair on its entry.
func attachMultipliers(m *mapping.Mapping, muls map[graph.SymbolID]mapping.Multiplier) int {
	n := 0
	for i := range m.Entries {
		mul, ok := muls[m.Entries[i].ID]
		if !ok {
			continue
		}
		m.Entries[i].Multiplier = &mul
		n++
	}
	return n
}
