package parsers

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/oarkflow/errors"
	"github.com/oarkflow/xid"

	"github.com/oarkflow/hl7/pkg/schema"
)

// Acknowledgment codes for MSA-1.
const (
	AckAccept       = "AA"
	AckError        = "AE"
	AckReject       = "AR"
	AckCommitAccept = "CA"
	AckCommitError  = "CE"
	AckCommitReject = "CR"
)

const (
	ackMessageCode      = "ACK"
	ackMessageStructure = "ACK"
	// MSA-3 is an ST of at most 80 characters
	maxAckTextLength = 80
)

var ackCodes = map[string]bool{
	AckAccept: true, AckError: true, AckReject: true,
	AckCommitAccept: true, AckCommitError: true, AckCommitReject: true,
}

// header field ordinals copied into an acknowledgment, receiver and sender swapped
var ackRouting = []struct{ from, to int }{
	{3, 5}, {4, 6}, {5, 3}, {6, 4},
}

// BuildACK answers msg with an MSH/MSA acknowledgment. Sender and receiver are swapped,
// the reply gets a fresh control id and MSA-2 echoes the original control id.
func (p *HL7Parser) BuildACK(msg *Message, code, text string) (*Message, error) {
	if !ackCodes[code] {
		return nil, fmt.Errorf("unknown acknowledgment code %q", code)
	}
	if msg == nil || msg.codec == nil {
		return nil, errors.New("acknowledge: message was not parsed")
	}
	origin, ok := msg.First("MSH")
	if !ok || origin.Fields == nil {
		return nil, fmt.Errorf("acknowledge: %w", ErrNoHeader)
	}
	codec := msg.codec
	s := codec.Schema()
	mshDesc, err := s.Segment("MSH")
	if err != nil {
		return nil, err
	}
	msaDesc, err := s.Segment("MSA")
	if err != nil {
		return nil, err
	}

	msh := Record{}
	for _, route := range ackRouting {
		from, okFrom := mshDesc.Field(route.from)
		to, okTo := mshDesc.Field(route.to)
		if !okFrom || !okTo {
			continue
		}
		if v, ok := origin.Fields[from.Name]; ok {
			msh[to.Name] = v
		}
	}
	for _, ordinal := range []int{11, 12} {
		if f, ok := mshDesc.Field(ordinal); ok {
			if v, ok := origin.Fields[f.Name]; ok {
				msh[f.Name] = v
			}
		}
	}
	if f, ok := mshDesc.Field(7); ok {
		msh[f.Name] = DateTime{Time: p.now(), Precision: schema.PrecisionSecond}
	}
	if f, ok := mshDesc.Field(9); ok {
		trigger, _ := msg.Get("MSH-9-2")
		msh[f.Name] = ackMessageType(s, f, trigger)
	}
	if f, ok := mshDesc.Field(10); ok {
		msh[f.Name] = xid.New().String()
	}

	msa := Record{}
	if f, ok := msaDesc.Field(1); ok {
		msa[f.Name] = code
	}
	if f, ok := msaDesc.Field(2); ok {
		msa[f.Name] = msg.ControlID()
	}
	if f, ok := msaDesc.Field(3); ok && text != "" {
		msa[f.Name] = ackText(text, msg.Separators, codec.escaping)
	}

	ack := &Message{Separators: msg.Separators, Version: msg.Version, codec: codec}
	if err := ack.Append("MSH", msh); err != nil {
		return nil, err
	}
	if err := ack.Append("MSA", msa); err != nil {
		return nil, err
	}
	return ack, nil
}

// ackText folds line breaks, cuts text to maxAckTextLength characters and escapes the
// delimiters. A codec with escaping on escapes the value itself when encoding.
func ackText(text string, seps Separators, escaping bool) string {
	text = strings.Join(strings.FieldsFunc(text, func(r rune) bool {
		return r == '\r' || r == '\n'
	}), "; ")
	if utf8.RuneCountInString(text) > maxAckTextLength {
		text = string([]rune(text)[:maxAckTextLength])
	}
	if escaping {
		return text
	}
	return Escape(text, seps)
}

// ackMessageType fills MSH-9 for the reply: ACK, the original trigger event and the ACK
// structure when the version's message type composite has room for it.
func ackMessageType(s *schema.Schema, f schema.FieldDescriptor, trigger string) any {
	if !f.IsComposite() {
		return ackMessageCode
	}
	d, err := s.Composite(f.Composite)
	if err != nil {
		return ackMessageCode
	}
	rec := Record{}
	values := []string{ackMessageCode, trigger, ackMessageStructure}
	for i, v := range values {
		if c, ok := d.Component(i + 1); ok && v != "" {
			rec[c.Name] = v
		}
	}
	return rec
}
