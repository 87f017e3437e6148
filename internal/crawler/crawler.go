package crawler

import (
	"context"
	"io/fs"
	"path/filepath"
	"strings"

	"github.com/apex/log"

	"jremap/internal/javasrc"
	"jremap/internal/mapping"
)

// Crawler scans a source tree for hand corrections.
type Crawler struct {
	scanner *javasrc.Scanner
	ignored []string
}

func NewCrawler(scanner *javasrc.Scanner) *Crawler {
	return &Crawler{
		scanner: scanner,
		ignored: []string{".git", "build", "target", "out", ".gradle"},
	}
}

// ScanTree walks root and streams the corrections of every .java file to
// onCorrection, in path order. Files that fail to parse are logged and
// skipped. It returns the number of files scanned.
func (c *Crawler) ScanTree(ctx context.Context, root string, onCorrection func(mapping.Correction)) (int, error) {
	files := 0
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		if d.IsDir() {
			for _, ign := range c.ignored {
				if d.Name() == ign && path != root {
					return filepath.SkipDir
				}
			}
			return nil
		}

		if !strings.HasSuffix(d.Name(), ".java") {
			return nil
		}

		corrections, err := c.scanner.ScanFile(ctx, path)
		if err != nil {
			log.WithError(err).WithField("path", path).Warn("skipping source file")
			return nil
		}
		files++

		for _, corr := range corrections {
			onCorrection(corr)
		}
		return nil
	})
	return files, err
}
