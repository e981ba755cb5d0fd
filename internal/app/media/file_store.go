package media

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"

	"github.com/spf13/afero"
)

type fileStore struct {
	fs afero.Fs
}

// NewFileStore returns a Store keeping objects as files below root, so
// stored images survive restarts. root is created when missing.
func NewFileStore(root string) (Store, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("media: resolve root %q: %w", root, err)
	}
	osFs := afero.NewOsFs()
	if err := osFs.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("media: create root %q: %w", abs, err)
	}
	return newFileStore(afero.NewBasePathFs(osFs, abs)), nil
}

func newFileStore(fs afero.Fs) *fileStore {
	return &fileStore{fs: fs}
}

func (s *fileStore) Put(_ context.Context, name string, data []byte) error {
	if !ValidName(name) {
		return fmt.Errorf("media: invalid name %q", name)
	}
	p := filepath.FromSlash(name)
	if err := s.fs.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return fmt.Errorf("media: put %s: %w", name, err)
	}

	// Readers never observe a partially written image.
	tmp := p + ".tmp"
	if err := afero.WriteFile(s.fs, tmp, data, 0o644); err != nil {
		return fmt.Errorf("media: put %s: %w", name, err)
	}
	if err := s.fs.Rename(tmp, p); err != nil {
		_ = s.fs.Remove(tmp)
		return fmt.Errorf("media: put %s: %w", name, err)
	}
	return nil
}

func (s *fileStore) Get(_ context.Context, name string) ([]byte, error) {
	if !ValidName(name) || path.Ext(name) == ".tmp" {
		return nil, ErrNotFound
	}
	data, err := afero.ReadFile(s.fs, filepath.FromSlash(name))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("media: get %s: %w", name, err)
	}
	return data, nil
}

func (s *fileStore) Delete(_ context.Context, name string) error {
	if !ValidName(name) {
		return nil
	}
	if err := s.fs.Remove(filepath.FromSlash(name)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("media: delete %s: %w", name, err)
	}
	return nil
}
