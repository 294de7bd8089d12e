package transformers

import (
	"context"
	"fmt"
	"strings"

	"github.com/oarkflow/convert"

	"github.com/oarkflow/hl7/pkg/contracts"
	"github.com/oarkflow/hl7/pkg/parsers"
)

// HL7TransformerOptions controls how HL7 transformations populate records. Empty output
// keys take the defaults below; set a key to "-" to leave that output out.
type HL7TransformerOptions struct {
	InputField          string
	OutputJSONField     string
	OutputXMLField      string
	OutputSegmentsField string
	OutputDocumentField string
	MessageTypeField    string
	ControlIDField      string
	TimestampField      string
	VersionField        string
	// AckField receives an AA acknowledgment for every decoded message when set.
	AckField string
	// Metadata is copied into every decoded record. Keys already present are kept.
	Metadata map[string]string
}

const disabledField = "-"

// HL7Transformer parses HL7 payloads and generates JSON/XML/metadata outputs.
type HL7Transformer struct {
	parser *parsers.HL7Parser
	opts   HL7TransformerOptions
}

// NewHL7Transformer builds a transformer with sane defaults. A nil parser uses the
// embedded descriptor tables with lenient decoding.
func NewHL7Transformer(parser *parsers.HL7Parser, opts HL7TransformerOptions) *HL7Transformer {
	if parser == nil {
		parser = parsers.NewHL7Parser()
	}
	defaults := []struct {
		target *string
		value  string
	}{
		{&opts.InputField, "raw_message"},
		{&opts.OutputJSONField, "hl7_json"},
		{&opts.OutputXMLField, "hl7_xml"},
		{&opts.OutputSegmentsField, "hl7_segments"},
		{&opts.OutputDocumentField, "hl7_document"},
		{&opts.MessageTypeField, "hl7_message_type"},
		{&opts.ControlIDField, "hl7_control_id"},
		{&opts.TimestampField, "hl7_timestamp"},
		{&opts.VersionField, "hl7_version"},
	}
	for _, d := range defaults {
		if *d.target == "" {
			*d.target = d.value
		}
	}
	return &HL7Transformer{
		parser: parser,
		opts:   opts,
	}
}

// Name returns the human friendly transformer name.
func (t *HL7Transformer) Name() string {
	return "HL7Transformer"
}

// Transform parses the HL7 message stored in InputField and enriches the record.
func (t *HL7Transformer) Transform(ctx context.Context, rec contracts.Record) (contracts.Record, error) {
	if err := ctx.Err(); err != nil {
		return rec, err
	}
	rawValue, ok := rec[t.opts.InputField]
	if !ok {
		return rec, fmt.Errorf("hl7 transformer: missing input field %s", t.opts.InputField)
	}
	rawMessage, err := toString(rawValue)
	if err != nil {
		return rec, fmt.Errorf("hl7 transformer: %w", err)
	}
	if strings.TrimSpace(rawMessage) == "" {
		return rec, fmt.Errorf("hl7 transformer: input field %s is empty", t.opts.InputField)
	}

	doc, err := t.parser.ParseDocument(rawMessage)
	if err != nil {
		return rec, fmt.Errorf("hl7 transformer: %w", err)
	}

	set := func(key string, value any) {
		if key != "" && key != disabledField {
			rec[key] = value
		}
	}
	set(t.opts.OutputJSONField, string(doc.JSON))
	set(t.opts.OutputXMLField, string(doc.XML))
	set(t.opts.OutputSegmentsField, doc.Segments)
	set(t.opts.OutputDocumentField, doc)
	set(t.opts.MessageTypeField, doc.MessageType)
	set(t.opts.ControlIDField, doc.ControlID)
	set(t.opts.TimestampField, doc.Timestamp)
	set(t.opts.VersionField, doc.Version)
	for key, value := range t.opts.Metadata {
		if _, exists := rec[key]; !exists {
			rec[key] = value
		}
	}

	if t.opts.AckField != "" && t.opts.AckField != disabledField {
		ack, err := t.parser.BuildACK(doc.Message, parsers.AckAccept, "")
		if err != nil {
			return rec, fmt.Errorf("hl7 transformer: %w", err)
		}
		rec[t.opts.AckField] = ack.Encode()
	}
	return rec, nil
}

func toString(val any) (string, error) {
	switch v := val.(type) {
	case string:
		return v, nil
	case []byte:
		return string(v), nil
	case nil:
		return "", fmt.Errorf("input is nil")
	}
	s, ok := convert.ToString(val)
	if !ok {
		return "", fmt.Errorf("input of type %T is not text", val)
	}
	return s, nil
}

var _ contracts.Transformer = (*HL7Transformer)(nil)
