package store

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/insightlab/causal/backend/pkg/causal"

	"gopkg.in/yaml.v3"
)

// ErrNotFound is returned when a source has no graph document to offer.
var ErrNotFound = errors.New("graph definition not found")

// Format names a serialization of a graph definition.
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// FormatFromPath picks the format by file extension. Anything that is not
// .yaml or .yml is treated as JSON.
func FormatFromPath(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML
	default:
		return FormatJSON
	}
}

// ParseDefinition decodes a graph document. YAML documents are normalized
// to JSON first so both formats share the same lenient record decoding.
func ParseDefinition(data []byte, format Format) (*causal.Definition, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, fmt.Errorf("empty graph document: %w", ErrNotFound)
	}

	if format == FormatYAML {
		var doc any
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("failed to parse yaml graph document: %w", err)
		}
		normalized, err := json.Marshal(doc)
		if err != nil {
			return nil, fmt.Errorf("failed to normalize yaml graph document: %w", err)
		}
		data = normalized
	}

	var def causal.Definition
	if err := json.Unmarshal(data, &def); err != nil {
		return nil, fmt.Errorf("failed to parse graph document: %w", err)
	}
	return &def, nil
}

// EncodeDefinition serializes def in the given format.
func EncodeDefinition(def *causal.Definition, format Format) ([]byte, error) {
	if def == nil {
		def = &causal.Definition{}
	}
	data, err := json.MarshalIndent(def, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode graph document: %w", err)
	}
	if format != FormatYAML {
		return data, nil
	}

	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to encode graph document: %w", err)
	}
	out, err := yaml.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("failed to encode yaml graph document: %w", err)
	}
	return out, nil
}

// MemorySource serves a fixed definition. Useful for tests and for wiring a
// graph that was already parsed elsewhere.
type MemorySource struct {
	name string
	def  *causal.Definition
}

func NewMemorySource(name string, def *causal.Definition) *MemorySource {
	return &MemorySource{name: name, def: def}
}

func (m *MemorySource) Name() string {
	return m.name
}

func (m *MemorySource) LoadDefinition(ctx context.Context) (*causal.Definition, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if m.def == nil {
		return nil, ErrNotFound
	}
	return m.def, nil
}
