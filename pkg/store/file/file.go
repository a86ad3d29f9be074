package file

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/insightlab/causal/backend/pkg/causal"
	"github.com/insightlab/causal/backend/pkg/store"
)

// Source reads a graph document from the local filesystem. The format is
// chosen by the file extension.
type Source struct {
	path string
}

func NewSource(path string) *Source {
	return &Source{path: path}
}

func (s *Source) Name() string {
	return "file:" + s.path
}

// Path is the watched document.
func (s *Source) Path() string {
	return s.path
}

func (s *Source) LoadDefinition(ctx context.Context) (*causal.Definition, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("graph file %s: %w", s.path, store.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to read graph file %s: %w", s.path, err)
	}

	return store.ParseDefinition(data, store.FormatFromPath(s.path))
}

// Save writes def to the source path in its format, replacing the file
// atomically.
func (s *Source) Save(def *causal.Definition) error {
	data, err := store.EncodeDefinition(def, store.FormatFromPath(s.path))
	if err != nil {
		return err
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write graph file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to replace graph file: %w", err)
	}
	return nil
}
