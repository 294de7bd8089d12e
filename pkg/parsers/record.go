package parsers

import (
	"time"

	"github.com/oarkflow/convert"
	"github.com/oarkflow/date"
	"github.com/oarkflow/dipper"
)

// Record is a decoded segment or composite keyed by descriptor field name. Absent fields
// have no key. Values are string, int64, uint64, float64, DateTime, Record, or []any for
// repeatable fields, where a nil entry is an empty repetition.
type Record map[string]any

// String returns the field as text. Timestamps render in HL7 form and repeated fields
// yield their first entry.
func (r Record) String(name string) string {
	return valueString(r[name])
}

func valueString(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case DateTime:
		return val.String()
	case []any:
		if len(val) == 0 {
			return ""
		}
		return valueString(val[0])
	case Record:
		for _, key := range []string{"Identifier", "IDNumber", "EntityIdentifier", "NamespaceID"} {
			if s, ok := val[key].(string); ok {
				return s
			}
		}
		return ""
	}
	s, _ := convert.ToString(v)
	return s
}

// Float returns a numeric field.
func (r Record) Float(name string) (float64, bool) {
	v, ok := r[name]
	if !ok || v == nil {
		return 0, false
	}
	if s, isString := v.(string); isString {
		return DecodeDecimal(s)
	}
	return convert.ToFloat64(v)
}

// Time returns a timestamp field. Text values that are not HL7 timestamps go through a
// free-form date parser.
func (r Record) Time(name string) (time.Time, bool) {
	switch v := r[name].(type) {
	case DateTime:
		return v.Time, !v.IsZero()
	case time.Time:
		return v, !v.IsZero()
	case string:
		if dt, ok := DecodeDateTime(v, 0); ok {
			return dt.Time, true
		}
		t, err := date.Parse(v)
		if err != nil {
			return time.Time{}, false
		}
		return t, true
	case []any:
		if len(v) > 0 {
			return Record{"v": v[0]}.Time("v")
		}
	}
	return time.Time{}, false
}

// Composite returns a nested record. For repeated fields it is the first repetition.
func (r Record) Composite(name string) (Record, bool) {
	return asRecord(r[name])
}

func asRecord(v any) (Record, bool) {
	switch val := v.(type) {
	case Record:
		return val, true
	case map[string]any:
		return Record(val), true
	case []any:
		if len(val) > 0 {
			return asRecord(val[0])
		}
	}
	return nil, false
}

// List returns the repetitions of a field. A single value is returned as a one-element list.
func (r Record) List(name string) []any {
	switch v := r[name].(type) {
	case nil:
		return nil
	case []any:
		return v
	default:
		return []any{v}
	}
}

// Lookup resolves a dotted path such as "PatientName.0.FamilyName.Surname".
func (r Record) Lookup(path string) (any, bool) {
	v, err := dipper.Get(r.Map(), path)
	if err != nil || v == nil {
		return nil, false
	}
	return v, true
}

// Map converts the record into plain maps and slices, with timestamps in HL7 text form.
func (r Record) Map() map[string]any {
	out := make(map[string]any, len(r))
	for k, v := range r {
		out[k] = plainValue(v)
	}
	return out
}

func plainValue(v any) any {
	switch val := v.(type) {
	case Record:
		return val.Map()
	case map[string]any:
		return Record(val).Map()
	case []any:
		items := make([]any, len(val))
		for i, item := range val {
			items[i] = plainValue(item)
		}
		return items
	case DateTime:
		return val.String()
	default:
		return v
	}
}
