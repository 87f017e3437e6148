// Package decompile runs an external decompiler over a container. The tool
// is opaque: a jar goes in, Java sources come out or the run fails.
package decompile

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/apex/log"
)

const (
	PlaceholderIn  = "{in}"
	PlaceholderOut = "{out}"

	defaultTimeout = 10 * time.Minute
	maxOutput      = 4096
)

type Decompiler interface {
	// Decompile returns Java sources keyed by slash-separated relative path.
	Decompile(ctx context.Context, jar []byte) (map[string]string, error)
}

// CommandDecompiler runs Command with {in} replaced by the jar path and
// {out} by an empty output directory.
type CommandDecompiler struct {
	Command []string
	Timeout time.Duration
}

var _ Decompiler = (*CommandDecompiler)(nil)

func NewCommandDecompiler(command []string, timeout time.Duration) (*CommandDecompiler, error) {
	if len(command) == 0 {
		return nil, errors.New("decompile: empty command")
	}
	if !hasPlaceholder(command, PlaceholderIn) || !hasPlaceholder(command, PlaceholderOut) {
		return nil, fmt.Errorf("decompile: command must contain %s and %s", PlaceholderIn, PlaceholderOut)
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &CommandDecompiler{Command: command, Timeout: timeout}, nil
}

func hasPlaceholder(command []string, p string) bool {
	for _, arg := range command {
		if strings.Contains(arg, p) {
			return true
		}
	}
	return false
}

func (d *CommandDecompiler) Decompile(ctx context.Context, jar []byte) (map[string]string, error) {
	work, err := os.MkdirTemp("", "jremap-decompile-")
	if err != nil {
		return nil, err
	}
	defer os.RemoveAll(work)

	in := filepath.Join(work, "input.jar")
	out := filepath.Join(work, "src")
	if err := os.WriteFile(in, jar, 0o600); err != nil {
		return nil, err
	}
	if err := os.Mkdir(out, 0o755); err != nil {
		return nil, err
	}

	args := make([]string, len(d.Command))
	for i, arg := range d.Command {
		args[i] = strings.NewReplacer(PlaceholderIn, in, PlaceholderOut, out).Replace(arg)
	}

	timeout := d.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	cmdCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	started := time.Now()
	cmd := exec.CommandContext(cmdCtx, args[0], args[1:]...)
	cmd.Dir = work
	var buf bytes.Buffer
	cmd.Stdout = &buf
	cmd.Stderr = &buf
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("decompile: %s: %w: %s", args[0], err, tail(buf.String()))
	}

	sources, err := collect(out)
	if err != nil {
		return nil, fmt.Errorf("decompile: collect output: %w", err)
	}
	log.WithFields(log.Fields{
		"command": args[0],
		"sources": len(sources),
		"elapsed": time.Since(started).Round(time.Millisecond).String(),
	}).Info("decompiled")
	return sources, nil
}

func collect(root string) (map[string]string, error) {
	sources := make(map[string]string)
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(d.Name(), ".java") {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		body, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		sources[filepath.ToSlash(rel)] = string(body)
		return nil
	})
	return sources, err
}

func tail(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > maxOutput {
		s = "..." + s[len(s)-maxOutput:]
	}
	return s
}

// WriteTree writes sources under dir, creating directories as needed.
func WriteTree(dir string, sources map[string]string) error {
	for rel, body := range sources {
		path := filepath.Join(dir, filepath.FromSlash(rel))
		if !strings.HasPrefix(path, filepath.Clean(dir)+string(os.PathSeparator)) {
			return fmt.Errorf("decompile: source path %q escapes %s", rel, dir)
		}
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return err
		}
		if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
			return err
		}
	}
	return nil
}
