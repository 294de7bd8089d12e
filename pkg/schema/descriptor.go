package schema

import (
	"fmt"
	"strings"
)

// ScalarType is the runtime representation a scalar field decodes into.
type ScalarType string

const (
	ScalarString   ScalarType = "string"
	ScalarInt      ScalarType = "int"
	ScalarUint     ScalarType = "uint"
	ScalarDecimal  ScalarType = "decimal"
	ScalarDateTime ScalarType = "datetime"
	// ScalarRaw keeps the text verbatim, delimiters included. Used for OBX-5 style
	// fields whose real type is named by another field.
	ScalarRaw ScalarType = "raw"
)

// Precision is the finest timestamp component a date/time field carries.
type Precision int

const (
	PrecisionUnspecified Precision = iota
	PrecisionYear
	PrecisionMonth
	PrecisionDay
	PrecisionHour
	PrecisionMinute
	PrecisionSecond
)

var precisionNames = [...]string{
	PrecisionUnspecified: "unspecified",
	PrecisionYear:        "year",
	PrecisionMonth:       "month",
	PrecisionDay:         "day",
	PrecisionHour:        "hour",
	PrecisionMinute:      "minute",
	PrecisionSecond:      "second",
}

func (p Precision) String() string {
	if p < 0 || int(p) >= len(precisionNames) {
		return "invalid"
	}
	return precisionNames[p]
}

// MarshalText renders the precision by name.
func (p Precision) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// UnmarshalText accepts a precision name.
func (p *Precision) UnmarshalText(text []byte) error {
	v, ok := ParsePrecision(string(text))
	if !ok {
		return fmt.Errorf("unknown precision %q", string(text))
	}
	*p = v
	return nil
}

// ParsePrecision maps a precision name ("day", "second", ...) to its value.
func ParsePrecision(name string) (Precision, bool) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return PrecisionUnspecified, true
	}
	for i, n := range precisionNames {
		if n == name {
			return Precision(i), true
		}
	}
	return PrecisionUnspecified, false
}

// primitiveTypes maps HL7 primitive data type codes to their scalar representation.
var primitiveTypes = map[string]struct {
	scalar    ScalarType
	precision Precision
}{
	"ST":  {ScalarString, PrecisionUnspecified},
	"ID":  {ScalarString, PrecisionUnspecified},
	"IS":  {ScalarString, PrecisionUnspecified},
	"TX":  {ScalarString, PrecisionUnspecified},
	"FT":  {ScalarString, PrecisionUnspecified},
	"GTS": {ScalarString, PrecisionUnspecified},
	"SI":  {ScalarUint, PrecisionUnspecified},
	"NM":  {ScalarDecimal, PrecisionUnspecified},
	"INT": {ScalarInt, PrecisionUnspecified},
	"DT":  {ScalarDateTime, PrecisionDay},
	"DTM": {ScalarDateTime, PrecisionSecond},
	"TS":  {ScalarDateTime, PrecisionSecond},
	"TM":  {ScalarString, PrecisionUnspecified},

	"VARIES": {ScalarRaw, PrecisionUnspecified},
}

// IsPrimitive reports whether code names an HL7 primitive data type.
func IsPrimitive(code string) bool {
	_, ok := primitiveTypes[strings.ToUpper(code)]
	return ok
}

// FieldDescriptor describes one slot of a segment or composite.
type FieldDescriptor struct {
	Name       string     `json:"name" yaml:"name"`
	Ordinal    int        `json:"ordinal,omitempty" yaml:"ordinal,omitempty"`
	Type       string     `json:"type" yaml:"type"`
	Scalar     ScalarType `json:"scalar,omitempty" yaml:"scalar,omitempty"`
	Precision  Precision  `json:"precision,omitempty" yaml:"precision,omitempty"`
	Composite  string     `json:"composite,omitempty" yaml:"composite,omitempty"`
	Repeatable bool       `json:"repeatable,omitempty" yaml:"repeatable,omitempty"`
	Table      string     `json:"table,omitempty" yaml:"table,omitempty"`
}

// IsComposite reports whether the field decodes into a nested record.
func (f FieldDescriptor) IsComposite() bool {
	return f.Composite != ""
}

// SegmentDescriptor describes the field layout of one segment kind.
type SegmentDescriptor struct {
	ID           string            `json:"id" yaml:"id"`
	Description  string            `json:"description,omitempty" yaml:"description,omitempty"`
	Header       bool              `json:"header,omitempty" yaml:"header,omitempty"`
	StartOrdinal int               `json:"start_ordinal,omitempty" yaml:"start_ordinal,omitempty"`
	Fields       []FieldDescriptor `json:"fields" yaml:"fields"`
}

// Field returns the descriptor declared at ordinal.
func (d *SegmentDescriptor) Field(ordinal int) (FieldDescriptor, bool) {
	return fieldAt(d.Fields, ordinal)
}

// FieldByName returns the descriptor with the given name.
func (d *SegmentDescriptor) FieldByName(name string) (FieldDescriptor, bool) {
	return fieldNamed(d.Fields, name)
}

// MaxOrdinal is the highest ordinal declared by the segment.
func (d *SegmentDescriptor) MaxOrdinal() int {
	return maxOrdinal(d.Fields)
}

// CompositeDescriptor describes the component layout of one composite type.
type CompositeDescriptor struct {
	TypeID      string            `json:"type_id" yaml:"type_id"`
	Description string            `json:"description,omitempty" yaml:"description,omitempty"`
	Components  []FieldDescriptor `json:"components" yaml:"components"`
}

// Component returns the descriptor declared at ordinal.
func (d *CompositeDescriptor) Component(ordinal int) (FieldDescriptor, bool) {
	return fieldAt(d.Components, ordinal)
}

// ComponentByName returns the descriptor with the given name.
func (d *CompositeDescriptor) ComponentByName(name string) (FieldDescriptor, bool) {
	return fieldNamed(d.Components, name)
}

// MaxOrdinal is the highest ordinal declared by the composite.
func (d *CompositeDescriptor) MaxOrdinal() int {
	return maxOrdinal(d.Components)
}

func fieldAt(fields []FieldDescriptor, ordinal int) (FieldDescriptor, bool) {
	// fields are sorted by ordinal after normalize, but tables built in code may not be
	for _, f := range fields {
		if f.Ordinal == ordinal {
			return f, true
		}
	}
	return FieldDescriptor{}, false
}

func fieldNamed(fields []FieldDescriptor, name string) (FieldDescriptor, bool) {
	for _, f := range fields {
		if strings.EqualFold(f.Name, name) {
			return f, true
		}
	}
	return FieldDescriptor{}, false
}

func maxOrdinal(fields []FieldDescriptor) int {
	max := 0
	for _, f := range fields {
		if f.Ordinal > max {
			max = f.Ordinal
		}
	}
	return max
}

// normalizeFields assigns positional ordinals to fields that omit one and resolves the
// HL7 type code into scalar/composite form. Explicit ordinals restart the sequence, so
// a table can skip numbers.
func normalizeFields(fields []FieldDescriptor, start int) {
	next := start
	if next < 1 {
		next = 1
	}
	for i := range fields {
		f := &fields[i]
		if f.Ordinal == 0 {
			f.Ordinal = next
		}
		next = f.Ordinal + 1
		resolveType(f)
	}
}

func resolveType(f *FieldDescriptor) {
	code := strings.ToUpper(strings.TrimSpace(f.Type))
	if f.Composite != "" {
		f.Composite = strings.ToUpper(f.Composite)
		if code == "" {
			f.Type = f.Composite
		}
		return
	}
	if p, ok := primitiveTypes[code]; ok {
		f.Type = code
		if f.Scalar == "" {
			f.Scalar = p.scalar
		}
		if f.Precision == PrecisionUnspecified {
			f.Precision = p.precision
		}
		return
	}
	if code == "" {
		if f.Scalar == "" {
			f.Scalar = ScalarString
		}
		return
	}
	// any other code names a composite type
	f.Type = code
	if f.Scalar == "" {
		f.Composite = code
	}
}
