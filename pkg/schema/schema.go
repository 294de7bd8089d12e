package schema

import (
	sterrors "errors"
	"fmt"
	"sort"
	"strings"
)

var (
	ErrUnknownVersion   = sterrors.New("schema: unknown version")
	ErrUnknownSegment   = sterrors.New("schema: unknown segment")
	ErrUnknownComposite = sterrors.New("schema: unknown composite")
	ErrInvalidSchema    = sterrors.New("schema: invalid descriptor")
)

// ValidationError reports a problem with one descriptor of a schema.
type ValidationError struct {
	Version    string
	Descriptor string
	Field      string
	Reason     string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("schema: version=%s %s: %s", e.Version, e.Descriptor, e.Reason)
	}
	return fmt.Sprintf("schema: version=%s %s.%s: %s", e.Version, e.Descriptor, e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error {
	return ErrInvalidSchema
}

// Schema holds every segment and composite descriptor of one protocol version.
type Schema struct {
	Version    string                          `json:"version" yaml:"version"`
	Segments   map[string]*SegmentDescriptor   `json:"segments" yaml:"segments"`
	Composites map[string]*CompositeDescriptor `json:"composites" yaml:"composites"`
}

// New returns an empty schema for version.
func New(version string) *Schema {
	return &Schema{
		Version:    NormalizeVersion(version),
		Segments:   make(map[string]*SegmentDescriptor),
		Composites: make(map[string]*CompositeDescriptor),
	}
}

// AddSegment registers d, normalising ids and ordinals.
func (s *Schema) AddSegment(d *SegmentDescriptor) {
	d.ID = strings.ToUpper(strings.TrimSpace(d.ID))
	normalizeFields(d.Fields, d.StartOrdinal)
	if d.StartOrdinal == 0 && len(d.Fields) > 0 {
		d.StartOrdinal = d.Fields[0].Ordinal
	}
	s.Segments[d.ID] = d
}

// AddComposite registers d, normalising ids and ordinals.
func (s *Schema) AddComposite(d *CompositeDescriptor) {
	d.TypeID = strings.ToUpper(strings.TrimSpace(d.TypeID))
	normalizeFields(d.Components, 1)
	s.Composites[d.TypeID] = d
}

// Segment looks up a segment descriptor by its three letter id.
func (s *Schema) Segment(id string) (*SegmentDescriptor, error) {
	d, ok := s.Segments[strings.ToUpper(id)]
	if !ok {
		return nil, fmt.Errorf("%w: %s (version %s)", ErrUnknownSegment, id, s.Version)
	}
	return d, nil
}

// Composite looks up a composite descriptor by type id.
func (s *Schema) Composite(typeID string) (*CompositeDescriptor, error) {
	d, ok := s.Composites[strings.ToUpper(typeID)]
	if !ok {
		return nil, fmt.Errorf("%w: %s (version %s)", ErrUnknownComposite, typeID, s.Version)
	}
	return d, nil
}

// SegmentIDs lists the registered segment ids in sorted order.
func (s *Schema) SegmentIDs() []string {
	ids := make([]string, 0, len(s.Segments))
	for id := range s.Segments {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Merge copies every descriptor of other into s, replacing existing ids.
func (s *Schema) Merge(other *Schema) {
	for id, d := range other.Segments {
		s.Segments[id] = d
	}
	for id, d := range other.Composites {
		s.Composites[id] = d
	}
}

// Validate checks ordinals, type references and the composite graph. Descriptor data can
// come from files, so a cycle (CE -> XX -> CE) has to be rejected before any decode runs.
func (s *Schema) Validate() error {
	var errs []error
	for _, id := range s.SegmentIDs() {
		d := s.Segments[id]
		if len(d.ID) != 3 {
			errs = append(errs, &ValidationError{Version: s.Version, Descriptor: d.ID, Reason: "segment id must be three characters"})
		}
		errs = append(errs, s.validateFields(d.ID, d.Fields, d.Header)...)
	}
	typeIDs := make([]string, 0, len(s.Composites))
	for id := range s.Composites {
		typeIDs = append(typeIDs, id)
	}
	sort.Strings(typeIDs)
	for _, id := range typeIDs {
		errs = append(errs, s.validateFields(id, s.Composites[id].Components, false)...)
	}
	if len(errs) == 0 {
		errs = append(errs, s.detectCycles(typeIDs)...)
	}
	if len(errs) == 0 {
		return nil
	}
	return sterrors.Join(errs...)
}

func (s *Schema) validateFields(owner string, fields []FieldDescriptor, header bool) []error {
	var errs []error
	last := 0
	seen := make(map[string]bool, len(fields))
	for _, f := range fields {
		fail := func(reason string) {
			errs = append(errs, &ValidationError{Version: s.Version, Descriptor: owner, Field: f.Name, Reason: reason})
		}
		switch {
		case f.Name == "":
			fail(fmt.Sprintf("field at ordinal %d has no name", f.Ordinal))
		case seen[f.Name]:
			fail("duplicate field name")
		}
		seen[f.Name] = true
		if f.Ordinal <= last {
			fail(fmt.Sprintf("ordinal %d is not greater than %d", f.Ordinal, last))
		}
		last = f.Ordinal
		if header && f.Ordinal <= 2 && (f.IsComposite() || f.Repeatable) {
			fail("header separator fields must be plain strings")
		}
		if f.IsComposite() {
			if _, ok := s.Composites[f.Composite]; !ok {
				fail(fmt.Sprintf("unknown composite %s", f.Composite))
			}
			continue
		}
		switch f.Scalar {
		case ScalarString, ScalarRaw, ScalarInt, ScalarUint, ScalarDecimal:
		case ScalarDateTime:
			if f.Precision < PrecisionYear || f.Precision > PrecisionSecond {
				fail("datetime field needs a precision")
			}
		default:
			fail(fmt.Sprintf("unknown scalar type %q", f.Scalar))
		}
	}
	return errs
}

func (s *Schema) detectCycles(typeIDs []string) []error {
	const (
		unvisited = iota
		visiting
		done
	)
	state := make(map[string]int, len(typeIDs))
	var errs []error
	var visit func(id string, path []string)
	visit = func(id string, path []string) {
		switch state[id] {
		case visiting:
			errs = append(errs, &ValidationError{
				Version:    s.Version,
				Descriptor: id,
				Reason:     "composite cycle " + strings.Join(append(path, id), " -> "),
			})
			return
		case done:
			return
		}
		state[id] = visiting
		for _, c := range s.Composites[id].Components {
			if c.IsComposite() {
				visit(c.Composite, append(path, id))
			}
		}
		state[id] = done
	}
	for _, id := range typeIDs {
		if state[id] == unvisited {
			visit(id, nil)
		}
	}
	return errs
}

// NormalizeVersion strips the optional "V"/"v" prefix and turns "V251" or "2_5_1" style
// identifiers into dotted form.
func NormalizeVersion(version string) string {
	v := strings.TrimSpace(version)
	v = strings.TrimPrefix(strings.TrimPrefix(v, "V"), "v")
	v = strings.ReplaceAll(v, "_", ".")
	if !strings.Contains(v, ".") && len(v) >= 2 {
		digits := strings.Split(v, "")
		v = strings.Join(digits, ".")
	}
	return v
}
