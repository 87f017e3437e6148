package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"

	"jremap/internal/analysis"
	"jremap/internal/decompile"
	"jremap/internal/index"
	"jremap/internal/storage"
)

// Coverage reports how much of a stored mapping is named. input is the
// build the mapping describes, before or after renaming: symbol identities
// are positional and survive it. A zero revision means the latest.
func (p *Pipeline) Coverage(ctx context.Context, input, version string, revision int) (*analysis.CoverageReport, error) {
	rec, err := p.record(ctx, version, revision)
	if err != nil {
		return nil, err
	}
	model, err := loadContainer(input)
	if err != nil {
		return nil, err
	}
	g, err := index.Build(model)
	if err != nil {
		return nil, fmt.Errorf("index %s: %w", input, err)
	}
	return analysis.NewAnalyzer(g).Coverage(rec.Mapping), nil
}

func (p *Pipeline) record(ctx context.Context, version string, revision int) (*storage.Record, error) {
	if revision > 0 {
		return p.store.GetRevision(ctx, version, revision)
	}
	return p.store.Get(ctx, version)
}

// Show returns a stored mapping; a zero revision means the latest.
func (p *Pipeline) Show(ctx context.Context, version string, revision int) (*storage.Record, error) {
	return p.record(ctx, version, revision)
}

// Decompile runs the configured decompiler over input and writes the
// sources under dir. It returns the number of files written.
func (p *Pipeline) Decompile(ctx context.Context, input, dir string) (int, error) {
	if len(p.cfg.Decompiler.Command) == 0 {
		return 0, errors.New("decompile: no decompiler.command configured")
	}
	timeout, err := p.cfg.DecompilerTimeout()
	if err != nil {
		return 0, err
	}
	d, err := decompile.NewCommandDecompiler(p.cfg.Decompiler.Command, timeout)
	if err != nil {
		return 0, err
	}
	jar, err := os.ReadFile(input)
	if err != nil {
		return 0, err
	}
	sources, err := d.Decompile(ctx, jar)
	if err != nil {
		return 0, err
	}
	if err := decompile.WriteTree(dir, sources); err != nil {
		return 0, err
	}
	fmt.Fprintf(p.out, "📄 Decompiled %d sources into %s\n", len(sources), dir)
	return len(sources), nil
}
