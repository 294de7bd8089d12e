package parsers

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/oarkflow/json"
)

// Document is a parsed HL7 message with JSON and XML renderings.
type Document struct {
	MessageType string         `json:"message_type"`
	ControlID   string         `json:"control_id"`
	Version     string         `json:"version"`
	Timestamp   time.Time      `json:"timestamp"`
	Segments    map[string]any `json:"segments"`
	Message     *Message       `json:"-"`
	JSON        []byte         `json:"-"`
	XML         []byte         `json:"-"`
}

// ParseDocument parses the HL7 message and prepares JSON/XML renderings.
func (p *HL7Parser) ParseDocument(message string) (*Document, error) {
	msg, err := p.ParseString(message)
	if err != nil {
		return nil, err
	}
	return NewDocument(msg)
}

// NewDocument renders an already parsed message.
func NewDocument(msg *Message) (*Document, error) {
	named := namedSegments(msg)
	jsonBytes, err := json.MarshalIndent(named, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal HL7 JSON: %w", err)
	}
	xmlBytes, err := buildHL7XML(msg)
	if err != nil {
		return nil, fmt.Errorf("failed to build HL7 XML: %w", err)
	}
	doc := &Document{
		MessageType: msg.Type(),
		ControlID:   msg.ControlID(),
		Version:     msg.Version,
		Segments:    named,
		Message:     msg,
		JSON:        jsonBytes,
		XML:         xmlBytes,
	}
	if ts, ok := msg.Timestamp(); ok {
		doc.Timestamp = ts
	}
	return doc, nil
}

// ToJSON renders an HL7 message directly to JSON bytes.
func (p *HL7Parser) ToJSON(message string) ([]byte, error) {
	doc, err := p.ParseDocument(message)
	if err != nil {
		return nil, err
	}
	return doc.JSON, nil
}

// ToXML renders an HL7 message to XML bytes.
func (p *HL7Parser) ToXML(message string) ([]byte, error) {
	doc, err := p.ParseDocument(message)
	if err != nil {
		return nil, err
	}
	return doc.XML, nil
}

// namedSegments groups segment field maps by segment id. Undescribed segments are keyed
// by field position.
func namedSegments(msg *Message) map[string]any {
	grouped := make(map[string][]map[string]any)
	for _, seg := range msg.Segments {
		grouped[seg.ID] = append(grouped[seg.ID], segmentMap(seg, msg.Separators))
	}
	named := make(map[string]any, len(grouped))
	for id, list := range grouped {
		named[id] = list
	}
	return named
}

func segmentMap(seg Segment, seps Separators) map[string]any {
	if seg.Fields != nil {
		return seg.Fields.Map()
	}
	tokens := splitOn(seg.Raw, seps.Field)
	fields := make(map[string]any, len(tokens))
	for i, token := range tokens[1:] {
		if token == "" {
			continue
		}
		fields[strconv.Itoa(i+1)] = token
	}
	return fields
}

func buildHL7XML(msg *Message) ([]byte, error) {
	buf := &bytes.Buffer{}
	buf.WriteString(xml.Header)
	encoder := xml.NewEncoder(buf)
	encoder.Indent("", "  ")

	root := xml.StartElement{
		Name: xml.Name{Local: "HL7Message"},
		Attr: []xml.Attr{{Name: xml.Name{Local: "version"}, Value: msg.Version}},
	}
	if err := encoder.EncodeToken(root); err != nil {
		return nil, err
	}
	for _, seg := range msg.Segments {
		if err := encodeHL7Segment(encoder, seg.ID, segmentMap(seg, msg.Separators)); err != nil {
			return nil, err
		}
	}
	if err := encoder.EncodeToken(root.End()); err != nil {
		return nil, err
	}
	if err := encoder.Flush(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func encodeHL7Segment(encoder *xml.Encoder, name string, fields map[string]any) error {
	start := xml.StartElement{Name: xml.Name{Local: sanitizeXMLName(name)}}
	if err := encoder.EncodeToken(start); err != nil {
		return err
	}
	for _, key := range sortedKeys(fields) {
		fieldName := key
		if _, err := strconv.Atoi(key); err == nil {
			fieldName = "Field" + key
		}
		if err := encodeHL7Value(encoder, fieldName, fields[key]); err != nil {
			return err
		}
	}
	return encoder.EncodeToken(start.End())
}

func encodeHL7Value(encoder *xml.Encoder, name string, value any) error {
	switch v := value.(type) {
	case nil:
		return nil
	case string:
		return encodeSimpleElement(encoder, name, v)
	case []any:
		for _, item := range v {
			if item == nil {
				// keep the repetition position
				if err := encodeSimpleElement(encoder, name, ""); err != nil {
					return err
				}
				continue
			}
			if err := encodeHL7Value(encoder, name, item); err != nil {
				return err
			}
		}
		return nil
	case map[string]any:
		start := xml.StartElement{Name: xml.Name{Local: sanitizeXMLName(name)}}
		if err := encoder.EncodeToken(start); err != nil {
			return err
		}
		for _, key := range sortedKeys(v) {
			if err := encodeHL7Value(encoder, key, v[key]); err != nil {
				return err
			}
		}
		return encoder.EncodeToken(start.End())
	default:
		return encodeSimpleElement(encoder, name, valueString(v))
	}
}

func encodeSimpleElement(encoder *xml.Encoder, name, value string) error {
	start := xml.StartElement{Name: xml.Name{Local: sanitizeXMLName(name)}}
	if err := encoder.EncodeToken(start); err != nil {
		return err
	}
	if err := encoder.EncodeToken(xml.CharData([]byte(value))); err != nil {
		return err
	}
	return encoder.EncodeToken(start.End())
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

func sanitizeXMLName(name string) string {
	if name == "" {
		return "Field"
	}
	var builder strings.Builder
	runes := []rune(name)
	if !isXMLNameStart(runes[0]) {
		builder.WriteRune('_')
	}
	for _, r := range runes {
		if isXMLNameChar(r) {
			builder.WriteRune(r)
		} else {
			builder.WriteRune('_')
		}
	}
	return builder.String()
}

func isXMLNameStart(r rune) bool {
	return unicode.IsLetter(r) || r == '_'
}

func isXMLNameChar(r rune) bool {
	return isXMLNameStart(r) || unicode.IsDigit(r) || r == '-' || r == '.'
}
