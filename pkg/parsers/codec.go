package parsers

import (
	sterrors "errors"
	"strconv"
	"strings"
	"time"

	"github.com/oarkflow/log"

	"github.com/oarkflow/hl7/pkg/schema"
)

// CodecOptions controls how scalar content is treated.
type CodecOptions struct {
	// Strict reports malformed scalars as *FieldError instead of dropping them.
	Strict bool
	// Escaping translates escape sequences in text fields on decode and escapes
	// delimiters on encode.
	Escaping bool
	Logger   *log.Logger
}

// Codec decodes and encodes segments and composites described by one schema. A Codec is
// read-only after construction and may be shared between goroutines.
type Codec struct {
	schema   *schema.Schema
	strict   bool
	escaping bool
	logger   *log.Logger
}

// NewCodec returns a codec resolving composite references through s.
func NewCodec(s *schema.Schema, opts CodecOptions) *Codec {
	logger := opts.Logger
	if logger == nil {
		logger = &log.DefaultLogger
	}
	return &Codec{
		schema:   s,
		strict:   opts.Strict,
		escaping: opts.Escaping,
		logger:   logger,
	}
}

// Schema returns the schema the codec resolves composites through.
func (c *Codec) Schema() *schema.Schema {
	return c.schema
}

// decodeState collects malformed scalars found during one decode call.
type decodeState struct {
	segment string
	errs    []error
}

func (st *decodeState) malformed(c *Codec, path string, f schema.FieldDescriptor, token string) {
	if c.strict {
		st.errs = append(st.errs, &FieldError{Segment: st.segment, Path: path, Type: f.Type, Token: token})
		return
	}
	c.logger.Warn().
		Str("segment", st.segment).
		Str("field", path).
		Str("type", f.Type).
		Str("token", token).
		Msg("dropping malformed HL7 value")
}

func (st *decodeState) err() error {
	if len(st.errs) == 0 {
		return nil
	}
	return sterrors.Join(st.errs...)
}

func (c *Codec) composite(typeID string) *schema.CompositeDescriptor {
	if c.schema == nil {
		return nil
	}
	d, err := c.schema.Composite(typeID)
	if err != nil {
		return nil
	}
	return d
}

// decodeField decodes one field or component token, splitting repetitions first when
// the slot repeats.
func (c *Codec) decodeField(st *decodeState, path, token string, f schema.FieldDescriptor, seps Separators, depth int) any {
	if token == "" {
		return nil
	}
	if !f.Repeatable {
		return c.decodeValue(st, path, token, f, seps, depth)
	}
	pieces := splitOn(token, seps.Repetition)
	items := make([]any, len(pieces))
	for i, piece := range pieces {
		items[i] = c.decodeValue(st, path+"("+strconv.Itoa(i)+")", piece, f, seps, depth)
	}
	return items
}

func (c *Codec) decodeValue(st *decodeState, path, token string, f schema.FieldDescriptor, seps Separators, depth int) any {
	if token == "" {
		return nil
	}
	if f.IsComposite() {
		d := c.composite(f.Composite)
		if d == nil {
			return token
		}
		rec := c.decodeComposite(st, path, token, d, seps, depth)
		if len(rec) == 0 {
			return nil
		}
		return rec
	}
	return c.decodeScalar(st, path, token, f, seps)
}

func (c *Codec) decodeScalar(st *decodeState, path, token string, f schema.FieldDescriptor, seps Separators) any {
	// "" is the HL7 explicit null; only text fields can carry it through
	if token == `""` && f.Scalar != schema.ScalarString && f.Scalar != schema.ScalarRaw {
		return nil
	}
	switch f.Scalar {
	case schema.ScalarRaw:
		return token
	case schema.ScalarInt:
		if v, ok := DecodeInt(token); ok {
			return v
		}
	case schema.ScalarUint:
		if v, ok := DecodeUint(token); ok {
			return v
		}
	case schema.ScalarDecimal:
		if v, ok := DecodeDecimal(token); ok {
			return v
		}
	case schema.ScalarDateTime:
		if v, ok := DecodeDateTime(token, f.Precision); ok {
			return v
		}
	default:
		if c.escaping {
			return Unescape(token, seps)
		}
		return token
	}
	st.malformed(c, path, f, token)
	return nil
}

// encodeField renders a field or component value, joining repetitions.
func (c *Codec) encodeField(v any, f schema.FieldDescriptor, seps Separators, depth int) string {
	if v == nil {
		return ""
	}
	if items, ok := asList(v); ok {
		if !f.Repeatable {
			if len(items) == 0 {
				return ""
			}
			return c.encodeValue(items[0], f, seps, depth)
		}
		parts := make([]string, len(items))
		for i, item := range items {
			parts[i] = c.encodeValue(item, f, seps, depth)
		}
		return joinRunes(parts, seps.Repetition)
	}
	return c.encodeValue(v, f, seps, depth)
}

func (c *Codec) encodeValue(v any, f schema.FieldDescriptor, seps Separators, depth int) string {
	if v == nil {
		return ""
	}
	if f.IsComposite() {
		d := c.composite(f.Composite)
		rec, ok := asRecord(v)
		if d == nil || !ok {
			// pre-encoded text passes through
			s, _ := v.(string)
			return s
		}
		return c.encodeComposite(rec, d, seps, depth)
	}
	return c.encodeScalar(v, f, seps)
}

func (c *Codec) encodeScalar(v any, f schema.FieldDescriptor, seps Separators) string {
	switch val := v.(type) {
	case string:
		if c.escaping && f.Scalar == schema.ScalarString {
			return Escape(val, seps)
		}
		return val
	case DateTime:
		return EncodeDateTime(val, f.Precision)
	case *DateTime:
		if val == nil {
			return ""
		}
		return EncodeDateTime(*val, f.Precision)
	case int64:
		return EncodeInt(val)
	case int:
		return EncodeInt(int64(val))
	case int32:
		return EncodeInt(int64(val))
	case uint64:
		return EncodeUint(val)
	case uint:
		return EncodeUint(uint64(val))
	case uint32:
		return EncodeUint(uint64(val))
	case float64:
		return EncodeDecimal(val)
	case float32:
		return EncodeDecimal(float64(val))
	case time.Time:
		if val.IsZero() {
			return ""
		}
		return EncodeDateTime(DateTime{Time: val}, f.Precision)
	}
	return valueString(v)
}

func asList(v any) ([]any, bool) {
	switch val := v.(type) {
	case []any:
		return val, true
	case []string:
		items := make([]any, len(val))
		for i, s := range val {
			items[i] = s
		}
		return items, true
	case []Record:
		items := make([]any, len(val))
		for i, r := range val {
			items[i] = r
		}
		return items, true
	case []map[string]any:
		items := make([]any, len(val))
		for i, r := range val {
			items[i] = r
		}
		return items, true
	}
	return nil, false
}

func joinRunes(parts []string, sep rune) string {
	return strings.Join(parts, string(sep))
}

// trimTrailing drops trailing empty entries, keeping at least keep of them.
func trimTrailing(parts []string, keep int) []string {
	n := len(parts)
	for n > keep && parts[n-1] == "" {
		n--
	}
	return parts[:n]
}
