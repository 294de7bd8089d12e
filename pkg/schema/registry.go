package schema

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Registry holds one Schema per protocol version. Registration happens at start-up;
// lookups afterwards are read-only and safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	schemas map[string]*Schema
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{schemas: make(map[string]*Schema)}
}

// Register validates s and stores it under its version, replacing any previous schema.
func (r *Registry) Register(s *Schema) error {
	if s == nil {
		return fmt.Errorf("%w: nil schema", ErrInvalidSchema)
	}
	s.Version = NormalizeVersion(s.Version)
	if s.Version == "" {
		return fmt.Errorf("%w: schema has no version", ErrInvalidSchema)
	}
	if err := s.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	r.schemas[s.Version] = s
	r.mu.Unlock()
	return nil
}

// Lookup returns the schema for version. Patch levels fall back to their parent version,
// so "2.5.1.3" resolves to "2.5.1" and then "2.5" when the finer one is not registered.
func (r *Registry) Lookup(version string) (*Schema, error) {
	v := NormalizeVersion(version)
	r.mu.RLock()
	defer r.mu.RUnlock()
	for v != "" {
		if s, ok := r.schemas[v]; ok {
			return s, nil
		}
		idx := strings.LastIndex(v, ".")
		if idx < 0 {
			break
		}
		v = v[:idx]
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownVersion, version)
}

// Versions lists registered versions in sorted order.
func (r *Registry) Versions() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	versions := make([]string, 0, len(r.schemas))
	for v := range r.schemas {
		versions = append(versions, v)
	}
	sort.Strings(versions)
	return versions
}

// Load parses a table document and registers it. A document that names a base version in
// "extends" starts from a copy of that schema.
func (r *Registry) Load(data []byte, format string) error {
	table, err := ParseTable(data, format)
	if err != nil {
		return err
	}
	return r.register(table)
}

// LoadFile reads a table document from path, choosing the format by extension.
func (r *Registry) LoadFile(path string) error {
	table, err := ReadTable(path)
	if err != nil {
		return err
	}
	return r.register(table)
}

func (r *Registry) register(t *Table) error {
	s := New(t.Version)
	if t.Extends != "" {
		base, err := r.Lookup(t.Extends)
		if err != nil {
			return fmt.Errorf("schema %s extends %s: %w", t.Version, t.Extends, err)
		}
		s.Merge(base)
	}
	s.Merge(t.Schema())
	return r.Register(s)
}

var (
	defaultOnce     sync.Once
	defaultRegistry *Registry
	defaultErr      error
)

// Default returns the registry built from the embedded tables. It is built once; a
// failure here means the embedded data is broken and is reported on every call.
func Default() (*Registry, error) {
	defaultOnce.Do(func() {
		defaultRegistry, defaultErr = loadEmbedded()
	})
	return defaultRegistry, defaultErr
}

// NewDefaultRegistry builds a separate copy of the embedded tables that callers may
// register further tables into without touching the shared Default registry.
func NewDefaultRegistry() (*Registry, error) {
	return loadEmbedded()
}

// MustDefault is Default for package initialisation and tests.
func MustDefault() *Registry {
	r, err := Default()
	if err != nil {
		panic(err)
	}
	return r
}
