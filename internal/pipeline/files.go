package pipeline

import (
	"fmt"
	"os"
	"path/filepath"

	"jremap/internal/container"
	"jremap/internal/mapping"
)

func loadContainer(path string) (*container.Model, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	m, err := container.Load(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return m, nil
}

// stagedFile is data written and synced beside its destination but not yet
// visible there.
type stagedFile struct {
	tmp  string
	path string
}

func stageFile(path string, data []byte) (*stagedFile, error) {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+"-*")
	if err != nil {
		return nil, err
	}
	s := &stagedFile{tmp: tmp.Name(), path: path}

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		s.Discard()
		return nil, err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		s.Discard()
		return nil, err
	}
	if err := tmp.Close(); err != nil {
		s.Discard()
		return nil, err
	}
	if err := os.Chmod(s.tmp, 0o644); err != nil {
		s.Discard()
		return nil, err
	}
	return s, nil
}

// Commit renames the staged file into place, so readers see the old file or
// the new one and never a partial write.
func (s *stagedFile) Commit() error {
	return os.Rename(s.tmp, s.path)
}

// Discard removes the staged file. It is a no-op after Commit.
func (s *stagedFile) Discard() {
	_ = os.Remove(s.tmp)
}

func writeFileAtomic(path string, data []byte) error {
	staged, err := stageFile(path, data)
	if err != nil {
		return err
	}
	defer staged.Discard()
	return staged.Commit()
}

func writeMapping(path string, m *mapping.Mapping) error {
	data, err := mapping.Marshal(m)
	if err != nil {
		return err
	}
	return writeFileAtomic(path, data)
}
