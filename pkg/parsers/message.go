package parsers

import (
	sterrors "errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/oarkflow/errors"

	"github.com/oarkflow/hl7/pkg/schema"
)

// Segment is one line of a message. Fields is nil for segments the schema does not
// describe (site specific Z segments and the like); those are carried as Raw only.
type Segment struct {
	ID     string `json:"id"`
	Raw    string `json:"raw"`
	Fields Record `json:"fields,omitempty"`
}

// Message is a decoded HL7 v2 message.
type Message struct {
	Separators Separators `json:"separators"`
	Version    string     `json:"version"`
	Segments   []Segment  `json:"segments"`

	codec *Codec
}

// ParseString decodes a raw message. MLLP framing and any mix of CR, LF and CRLF
// segment terminators are accepted. The delimiters come from the header and the
// descriptor tables from MSH-12. In strict mode the message is returned together with
// the malformed field errors.
func (p *HL7Parser) ParseString(raw string) (*Message, error) {
	lines := splitSegments(raw)
	if len(lines) == 0 {
		return nil, errors.New("empty HL7 message")
	}
	if len(lines[0]) < 3 || !isHeaderID(lines[0][:3]) {
		return nil, ErrNoHeader
	}
	seps, err := SeparatorsFromHeader(lines[0])
	if err != nil {
		return nil, err
	}

	version := ""
	for _, line := range lines {
		if strings.HasPrefix(line, "MSH") {
			version = headerVersion(line, seps)
			break
		}
	}
	codec, err := p.Codec(version)
	if err != nil {
		return nil, err
	}
	msg := &Message{
		Separators: seps,
		Version:    codec.Schema().Version,
		Segments:   make([]Segment, 0, len(lines)),
		codec:      codec,
	}

	var errs []error
	for _, line := range lines {
		id := segmentID(line, seps)
		seg := Segment{ID: id, Raw: line}
		if d, err := codec.Schema().Segment(id); err == nil {
			rec, err := codec.DecodeSegment(line, d, seps)
			if err != nil {
				errs = append(errs, err)
			}
			seg.Fields = rec
		}
		msg.Segments = append(msg.Segments, seg)
	}
	if len(errs) > 0 {
		return msg, sterrors.Join(errs...)
	}
	return msg, nil
}

func segmentID(line string, seps Separators) string {
	if idx := strings.IndexRune(line, seps.Field); idx >= 0 {
		return strings.ToUpper(line[:idx])
	}
	return strings.ToUpper(line)
}

// headerVersion reads the first component of MSH-12.
func headerVersion(line string, seps Separators) string {
	tokens := splitOn(line, seps.Field)
	if len(tokens) < 12 {
		return ""
	}
	v := tokens[11]
	if idx := strings.IndexRune(v, seps.Component); idx >= 0 {
		v = v[:idx]
	}
	return strings.TrimSpace(v)
}

// Append encodes rec against the descriptor for id and adds it to the message.
func (m *Message) Append(id string, rec Record) error {
	d, err := m.codec.Schema().Segment(id)
	if err != nil {
		return err
	}
	m.Segments = append(m.Segments, Segment{
		ID:     d.ID,
		Raw:    m.codec.EncodeSegment(rec, d, m.Separators),
		Fields: rec,
	})
	return nil
}

// Encode re-encodes every described segment from its fields and joins the segments with
// CR. Fields the descriptor does not declare are not carried over; undescribed segments
// are written as received.
func (m *Message) Encode() string {
	lines := make([]string, len(m.Segments))
	for i, seg := range m.Segments {
		lines[i] = seg.Raw
		if seg.Fields == nil || m.codec == nil {
			continue
		}
		if d, err := m.codec.Schema().Segment(seg.ID); err == nil {
			lines[i] = m.codec.EncodeSegment(seg.Fields, d, m.Separators)
		}
	}
	return strings.Join(lines, "\r")
}

// String returns the message as received or built.
func (m *Message) String() string {
	lines := make([]string, len(m.Segments))
	for i, seg := range m.Segments {
		lines[i] = seg.Raw
	}
	return strings.Join(lines, "\r")
}

// All returns every segment with the given id in message order.
func (m *Message) All(id string) []Segment {
	id = strings.ToUpper(id)
	var out []Segment
	for _, seg := range m.Segments {
		if seg.ID == id {
			out = append(out, seg)
		}
	}
	return out
}

// First returns the first segment with the given id.
func (m *Message) First(id string) (Segment, bool) {
	id = strings.ToUpper(id)
	for _, seg := range m.Segments {
		if seg.ID == id {
			return seg, true
		}
	}
	return Segment{}, false
}

// Type returns the message code and trigger event, e.g. "ADT^A01".
func (m *Message) Type() string {
	code, _ := m.Get("MSH-9-1")
	event, _ := m.Get("MSH-9-2")
	if event == "" {
		return code
	}
	return code + string(m.Separators.Component) + event
}

// ControlID returns MSH-10.
func (m *Message) ControlID() string {
	id, _ := m.Get("MSH-10")
	return id
}

// Timestamp returns MSH-7.
func (m *Message) Timestamp() (time.Time, bool) {
	ts, _ := m.Get("MSH-7-1")
	dt, ok := DecodeDateTime(ts, schema.PrecisionSecond)
	if !ok {
		return time.Time{}, false
	}
	return dt.Time, true
}

var terserPattern = regexp.MustCompile(`^([A-Za-z0-9]{3})(?:\((\d+)\))?(?:-(\d+)(?:\((\d+)\))?(?:-(\d+)(?:-(\d+))?)?)?$`)

type terserPath struct {
	segment      string
	occurrence   int
	field        int
	repetition   int
	repeatGiven  bool
	component    int
	subcomponent int
}

func parseTerserPath(path string) (terserPath, error) {
	m := terserPattern.FindStringSubmatch(strings.TrimSpace(path))
	if m == nil {
		return terserPath{}, fmt.Errorf("invalid HL7 path %q", path)
	}
	atoi := func(s string, def int) int {
		if s == "" {
			return def
		}
		n, _ := strconv.Atoi(s)
		return n
	}
	tp := terserPath{
		segment:      strings.ToUpper(m[1]),
		occurrence:   atoi(m[2], 1),
		field:        atoi(m[3], 0),
		repetition:   atoi(m[4], 0),
		repeatGiven:  m[4] != "",
		component:    atoi(m[5], 0),
		subcomponent: atoi(m[6], 0),
	}
	if tp.occurrence < 1 {
		return terserPath{}, fmt.Errorf("invalid HL7 path %q: segment occurrences start at 1", path)
	}
	return tp, nil
}

// Get reads a value by terser path over the raw segment text:
//
//	PID-5-1      first component of the first PID-5 repetition
//	OBX(2)-5     OBX-5 of the second OBX segment
//	PID-3(1)-4-2 second subcomponent of PID-3, repetition 1 (0 based), component 4
//
// A path without a field returns the whole segment. Missing fields and components are
// empty; a missing segment is ErrPathNotFound.
func (m *Message) Get(path string) (string, error) {
	tp, err := parseTerserPath(path)
	if err != nil {
		return "", err
	}
	seen := 0
	var line string
	for _, seg := range m.Segments {
		if seg.ID != tp.segment {
			continue
		}
		seen++
		if seen == tp.occurrence {
			line = seg.Raw
			break
		}
	}
	if line == "" {
		return "", fmt.Errorf("%w: %s", ErrPathNotFound, path)
	}
	if tp.field == 0 {
		return line, nil
	}

	seps := m.Separators
	tokens := splitOn(line, seps.Field)
	idx := tp.field
	if isHeaderID(tp.segment) {
		switch tp.field {
		case 1:
			return string(seps.Field), nil
		case 2:
			return seps.EncodingCharacters(), nil
		}
		idx = tp.field - 1
	}
	if idx >= len(tokens) {
		return "", nil
	}
	value := tokens[idx]
	if tp.repeatGiven || tp.component > 0 {
		reps := splitOn(value, seps.Repetition)
		if tp.repetition >= len(reps) {
			return "", nil
		}
		value = reps[tp.repetition]
	}
	if tp.component > 0 {
		value = pick(value, seps.Component, tp.component)
	}
	if tp.subcomponent > 0 {
		value = pick(value, seps.Subcomponent, tp.subcomponent)
	}
	if m.codec != nil && m.codec.escaping {
		value = Unescape(value, seps)
	}
	return value, nil
}

func pick(text string, sep rune, ordinal int) string {
	parts := splitOn(text, sep)
	if ordinal < 1 || ordinal > len(parts) {
		return ""
	}
	return parts[ordinal-1]
}
