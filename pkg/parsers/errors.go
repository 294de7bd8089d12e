package parsers

import (
	sterrors "errors"
	"fmt"
	"strings"
)

var (
	ErrWrongSegmentID     = sterrors.New("hl7: wrong segment id")
	ErrMalformedScalar    = sterrors.New("hl7: malformed scalar")
	ErrInvalidSeparators  = sterrors.New("hl7: invalid separators")
	ErrDefaultsConfigured = sterrors.New("hl7: default separators already configured")
	ErrNoHeader           = sterrors.New("hl7: message does not start with a header segment")
	ErrPathNotFound       = sterrors.New("hl7: path not found")
)

// SegmentIDError is returned when a line does not start with the id its descriptor expects.
type SegmentIDError struct {
	Expected string
	Got      string
}

func (e *SegmentIDError) Error() string {
	return fmt.Sprintf("hl7: expected segment %s, got %q", e.Expected, e.Got)
}

func (e *SegmentIDError) Unwrap() error {
	return ErrWrongSegmentID
}

// FieldError reports a token that could not be read as its declared scalar type. Only
// produced in strict mode.
type FieldError struct {
	Segment string
	Path    string
	Type    string
	Token   string
}

func (e *FieldError) Error() string {
	var b strings.Builder
	b.WriteString("hl7: ")
	if e.Segment != "" {
		b.WriteString(e.Segment)
		b.WriteString(".")
	}
	b.WriteString(e.Path)
	fmt.Fprintf(&b, ": malformed %s value %q", e.Type, e.Token)
	return b.String()
}

func (e *FieldError) Unwrap() error {
	return ErrMalformedScalar
}
