package parsers

import (
	"fmt"
	"strings"
	"sync"
	"unicode/utf8"
)

// Separators is the delimiter set in effect for one message. It is a plain value: copy it
// freely, it is never mutated after construction.
type Separators struct {
	Field        rune `json:"field"`
	Repetition   rune `json:"repetition"`
	Component    rune `json:"component"`
	Subcomponent rune `json:"subcomponent"`
	Escape       rune `json:"escape"`
}

var standardSeparators = Separators{
	Field:        '|',
	Repetition:   '~',
	Component:    '^',
	Subcomponent: '&',
	Escape:       '\\',
}

var (
	defaultsMu         sync.RWMutex
	defaultSeparators  = standardSeparators
	defaultsConfigured bool
)

// DefaultSeparators returns the process-wide default delimiters, "|^~\&" unless
// ConfigureDefaults replaced them.
func DefaultSeparators() Separators {
	defaultsMu.RLock()
	defer defaultsMu.RUnlock()
	return defaultSeparators
}

// ConfigureDefaults replaces the process-wide defaults. It may be called once, at start-up.
func ConfigureDefaults(seps Separators) error {
	if err := seps.Validate(); err != nil {
		return err
	}
	defaultsMu.Lock()
	defer defaultsMu.Unlock()
	if defaultsConfigured {
		return ErrDefaultsConfigured
	}
	defaultSeparators = seps
	defaultsConfigured = true
	return nil
}

// ResolveSeparators returns explicit when given, otherwise a copy of the defaults.
func ResolveSeparators(explicit *Separators) Separators {
	if explicit != nil {
		return *explicit
	}
	return DefaultSeparators()
}

// Validate checks that all five delimiters are set and distinct.
func (s Separators) Validate() error {
	chars := []struct {
		name string
		r    rune
	}{
		{"field", s.Field},
		{"repetition", s.Repetition},
		{"component", s.Component},
		{"subcomponent", s.Subcomponent},
		{"escape", s.Escape},
	}
	seen := make(map[rune]string, len(chars))
	for _, c := range chars {
		if c.r == 0 {
			return fmt.Errorf("%w: %s separator is empty", ErrInvalidSeparators, c.name)
		}
		if c.r == '\r' || c.r == '\n' {
			return fmt.Errorf("%w: %s separator is a segment terminator", ErrInvalidSeparators, c.name)
		}
		if other, ok := seen[c.r]; ok {
			return fmt.Errorf("%w: %s and %s separators are both %q", ErrInvalidSeparators, other, c.name, c.r)
		}
		seen[c.r] = c.name
	}
	return nil
}

// EncodingCharacters renders the header encoding field: component, repetition, escape
// and subcomponent characters in that order.
func (s Separators) EncodingCharacters() string {
	return string([]rune{s.Component, s.Repetition, s.Escape, s.Subcomponent})
}

// String renders the separators as they appear after a header segment id, e.g. "|^~\&".
func (s Separators) String() string {
	return string(s.Field) + s.EncodingCharacters()
}

// SeparatorsFromHeader reads the delimiters declared by an MSH, FHS or BHS line.
func SeparatorsFromHeader(line string) (Separators, error) {
	line = strings.TrimLeft(line, "\r\n\t ")
	if len(line) < 4 || !isHeaderID(line[:3]) {
		return Separators{}, ErrNoHeader
	}
	field, size := utf8.DecodeRuneInString(line[3:])
	rest := line[3+size:]
	encoding := rest
	if idx := strings.IndexRune(rest, field); idx >= 0 {
		encoding = rest[:idx]
	}
	if idx := strings.IndexAny(encoding, "\r\n"); idx >= 0 {
		encoding = encoding[:idx]
	}
	return SeparatorsFromTokens(string(field), encoding)
}

// SeparatorsFromTokens builds a separator set from the header's field separator and
// encoding characters. Legacy senders sometimes send only two or three encoding
// characters; the missing ones fall back to the defaults when those do not collide.
func SeparatorsFromTokens(fieldSep, encodingChars string) (Separators, error) {
	if utf8.RuneCountInString(fieldSep) != 1 {
		return Separators{}, fmt.Errorf("%w: field separator %q must be one character", ErrInvalidSeparators, fieldSep)
	}
	enc := []rune(encodingChars)
	if len(enc) < 2 || len(enc) > 4 {
		return Separators{}, fmt.Errorf("%w: encoding characters %q", ErrInvalidSeparators, encodingChars)
	}
	defaults := DefaultSeparators()
	seps := Separators{
		Field:        []rune(fieldSep)[0],
		Component:    enc[0],
		Repetition:   enc[1],
		Escape:       defaults.Escape,
		Subcomponent: defaults.Subcomponent,
	}
	if len(enc) > 2 {
		seps.Escape = enc[2]
	}
	if len(enc) > 3 {
		seps.Subcomponent = enc[3]
	}
	if err := seps.Validate(); err != nil {
		return Separators{}, err
	}
	return seps, nil
}

func isHeaderID(id string) bool {
	switch id {
	case "MSH", "FHS", "BHS":
		return true
	}
	return false
}

func splitOn(text string, sep rune) []string {
	return strings.Split(text, string(sep))
}
