package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/apex/log"

	"jremap/internal/crawler"
	"jremap/internal/javasrc"
	"jremap/internal/mapping"
	"jremap/internal/rename"
)

type CorrectRequest struct {
	Version string
	// Sources is a tree of Java sources carrying obfuscated-name
	// annotations.
	Sources    string
	Provenance string
	// Input and Output, when both set, re-apply the corrected mapping to
	// the build's original container.
	Input      string
	Output     string
	MappingOut string
}

type CorrectResult struct {
	Mapping  *mapping.Mapping
	Revision int
	Files    int
	Found    int
	Rejected []mapping.Correction
	Rename   *rename.Report
}

// Correct folds hand corrections into a new revision of a stored mapping.
// When no correction applies nothing is stored.
func (p *Pipeline) Correct(ctx context.Context, req CorrectRequest) (*CorrectResult, error) {
	if req.Version == "" || req.Sources == "" {
		return nil, errors.New("correct: version and sources are required")
	}
	rec, err := p.store.Get(ctx, req.Version)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", req.Version, err)
	}

	scanner := javasrc.NewScanner(javasrc.AnnotationName(p.cfg.RenameOptions().AnnotationDescriptor))
	var corrections []mapping.Correction
	files, err := crawler.NewCrawler(scanner).ScanTree(ctx, req.Sources, func(c mapping.Correction) {
		corrections = append(corrections, c)
	})
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", req.Sources, err)
	}
	res := &CorrectResult{Files: files, Found: len(corrections)}
	fmt.Fprintf(p.out, "🔍 Found %d corrections in %d source files\n", len(corrections), files)

	provenance := req.Provenance
	if provenance == "" {
		provenance = "correct:" + req.Sources
	}
	next, rejected := rec.Mapping.WithCorrections(corrections, provenance)
	res.Rejected = rejected
	for _, c := range rejected {
		log.WithFields(log.Fields{
			"kind":       c.Kind,
			"owner":      c.Owner,
			"obfuscated": c.Obfuscated,
			"source":     c.Source,
		}).Warn("correction matches no single symbol")
	}
	if len(rejected) == len(corrections) {
		fmt.Fprintln(p.out, "✅ No corrections to apply.")
		res.Mapping, res.Revision = rec.Mapping, rec.Revision
		return res, nil
	}

	var output []byte
	if req.Input != "" && req.Output != "" {
		model, err := loadContainer(req.Input)
		if err != nil {
			return nil, err
		}
		out, report, err := rename.Apply(ctx, model, next, p.cfg.RenameOptions())
		if err != nil {
			return nil, err
		}
		if output, err = out.Serialize(); err != nil {
			return nil, fmt.Errorf("serialize output: %w", err)
		}
		res.Rename = report
	}

	var staged *stagedFile
	if output != nil {
		if staged, err = stageFile(req.Output, output); err != nil {
			return nil, fmt.Errorf("write %s: %w", req.Output, err)
		}
		defer staged.Discard()
	}
	res.Revision, err = p.store.Put(ctx, req.Version, next, rec.Snapshot)
	if err != nil {
		return nil, fmt.Errorf("store mapping: %w", err)
	}
	if staged != nil {
		if err := staged.Commit(); err != nil {
			return nil, fmt.Errorf("write %s (stored as %s revision %d): %w", req.Output, req.Version, res.Revision, err)
		}
	}
	next.Revision = res.Revision
	res.Mapping = next
	if req.MappingOut != "" {
		if err := writeMapping(req.MappingOut, next); err != nil {
			return nil, fmt.Errorf("write mapping: %w", err)
		}
	}
	fmt.Fprintf(p.out, "✅ Applied %d corrections, stored %s revision %d\n",
		len(corrections)-len(rejected), req.Version, res.Revision)
	return res, nil
}
