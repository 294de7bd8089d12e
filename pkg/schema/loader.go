package schema

import (
	"embed"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/oarkflow/bcl"
	"github.com/oarkflow/errors"
	"github.com/oarkflow/json"
	"gopkg.in/yaml.v3"
)

//go:embed tables/*.yaml
var embeddedTables embed.FS

// Table is the on-disk form of a schema: descriptors are lists so files keep the order
// they were written in.
type Table struct {
	Version    string                 `json:"version" yaml:"version"`
	Extends    string                 `json:"extends,omitempty" yaml:"extends,omitempty"`
	Composites []*CompositeDescriptor `json:"composites" yaml:"composites"`
	Segments   []*SegmentDescriptor   `json:"segments" yaml:"segments"`
}

// Schema converts the table into a Schema, normalising every descriptor.
func (t *Table) Schema() *Schema {
	s := New(t.Version)
	for _, c := range t.Composites {
		if c != nil {
			s.AddComposite(c)
		}
	}
	for _, d := range t.Segments {
		if d != nil {
			s.AddSegment(d)
		}
	}
	return s
}

// ParseTable decodes a table document in yaml, json or bcl format.
func ParseTable(data []byte, format string) (*Table, error) {
	var t Table
	var err error
	switch strings.ToLower(strings.TrimPrefix(format, ".")) {
	case "yaml", "yml":
		err = yaml.Unmarshal(data, &t)
	case "json":
		err = json.Unmarshal(data, &t)
	case "bcl":
		_, err = bcl.Unmarshal(data, &t)
	default:
		return nil, fmt.Errorf("unsupported schema format: %s", format)
	}
	if err != nil {
		return nil, fmt.Errorf("schema: decode %s table: %w", format, err)
	}
	if strings.TrimSpace(t.Version) == "" {
		return nil, errors.New("schema: table does not declare a version")
	}
	return &t, nil
}

// ReadTable loads a table document from a file.
func ReadTable(file string) (*Table, error) {
	raw, err := os.ReadFile(file)
	if err != nil {
		return nil, err
	}
	return ParseTable(raw, filepath.Ext(file))
}

func loadEmbedded() (*Registry, error) {
	entries, err := embeddedTables.ReadDir("tables")
	if err != nil {
		return nil, err
	}
	pending := make([]*Table, 0, len(entries))
	for _, entry := range entries {
		raw, err := embeddedTables.ReadFile(path.Join("tables", entry.Name()))
		if err != nil {
			return nil, err
		}
		t, err := ParseTable(raw, path.Ext(entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("%s: %w", entry.Name(), err)
		}
		pending = append(pending, t)
	}

	// tables may extend each other in any file order
	r := NewRegistry()
	for len(pending) > 0 {
		var next []*Table
		for _, t := range pending {
			if t.Extends != "" {
				if _, err := r.Lookup(t.Extends); err != nil {
					next = append(next, t)
					continue
				}
			}
			if err := r.register(t); err != nil {
				return nil, err
			}
		}
		if len(next) == len(pending) {
			return nil, fmt.Errorf("%w: version %s extends unknown version %s", ErrUnknownVersion, next[0].Version, next[0].Extends)
		}
		pending = next
	}
	return r, nil
}
