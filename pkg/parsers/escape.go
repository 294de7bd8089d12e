package parsers

import (
	"encoding/hex"
	"strings"
	"unicode/utf8"
)

// Unescape translates the delimiter escape sequences (\F\ \S\ \T\ \R\ \E\) and hex
// data (\Xhh..\) back into text. Formatting sequences such as \H\, \N\ or \.br\ are
// kept as written, and so is an unterminated escape.
func Unescape(text string, seps Separators) string {
	esc := string(seps.Escape)
	if !strings.Contains(text, esc) {
		return text
	}
	var b strings.Builder
	b.Grow(len(text))
	for {
		start := strings.Index(text, esc)
		if start < 0 {
			b.WriteString(text)
			return b.String()
		}
		b.WriteString(text[:start])
		rest := text[start+len(esc):]
		end := strings.Index(rest, esc)
		if end < 0 {
			b.WriteString(text[start:])
			return b.String()
		}
		seq := rest[:end]
		if out, ok := translateEscape(seq, seps); ok {
			b.WriteString(out)
		} else {
			b.WriteString(esc)
			b.WriteString(seq)
			b.WriteString(esc)
		}
		text = rest[end+len(esc):]
	}
}

func translateEscape(seq string, seps Separators) (string, bool) {
	switch seq {
	case "F":
		return string(seps.Field), true
	case "S":
		return string(seps.Component), true
	case "T":
		return string(seps.Subcomponent), true
	case "R":
		return string(seps.Repetition), true
	case "E":
		return string(seps.Escape), true
	}
	if len(seq) > 1 && seq[0] == 'X' && len(seq)%2 == 1 {
		raw, err := hex.DecodeString(seq[1:])
		if err == nil {
			return string(raw), true
		}
	}
	return "", false
}

// formatting commands kept as written by both Unescape and Escape
var formattingEscapes = []string{"H", "N", ".br", ".sp", ".in", ".ti", ".sk", ".ce", ".fi", ".nf"}

func isFormattingEscape(seq string) bool {
	for _, f := range formattingEscapes {
		if seq == f || (len(f) > 2 && strings.HasPrefix(seq, f) && isSignedDigits(seq[len(f):])) {
			return true
		}
	}
	return false
}

func isSignedDigits(s string) bool {
	s = strings.TrimPrefix(strings.TrimPrefix(s, "+"), "-")
	return s != "" && allDigits(s)
}

// formattingEscapeLen returns the byte length of the formatting sequence text starts
// with, or 0 when text does not start with one.
func formattingEscapeLen(text string, seps Separators) int {
	escLen := utf8.RuneLen(seps.Escape)
	rest := text[escLen:]
	end := strings.IndexRune(rest, seps.Escape)
	if end <= 0 {
		return 0
	}
	seq := rest[:end]
	if strings.ContainsAny(seq, string([]rune{seps.Field, seps.Component, seps.Subcomponent, seps.Repetition})) {
		return 0
	}
	if !isFormattingEscape(seq) {
		return 0
	}
	return escLen + end + escLen
}

// Escape replaces every delimiter and the escape character in text with its escape
// sequence so the text can be placed in a single component. CR and LF become hex data
// so the text never ends a segment. Formatting sequences (\H\, \N\, \.br\ and the
// other dot commands) are written unchanged.
func Escape(text string, seps Separators) string {
	if !strings.ContainsAny(text, string([]rune{seps.Field, seps.Component, seps.Subcomponent, seps.Repetition, seps.Escape, '\r', '\n'})) {
		return text
	}
	esc := string(seps.Escape)
	var b strings.Builder
	b.Grow(len(text) + 8)
	for i := 0; i < len(text); {
		r, size := utf8.DecodeRuneInString(text[i:])
		switch r {
		case seps.Escape:
			if n := formattingEscapeLen(text[i:], seps); n > 0 {
				b.WriteString(text[i : i+n])
				i += n
				continue
			}
			b.WriteString(esc + "E" + esc)
		case seps.Field:
			b.WriteString(esc + "F" + esc)
		case seps.Component:
			b.WriteString(esc + "S" + esc)
		case seps.Subcomponent:
			b.WriteString(esc + "T" + esc)
		case seps.Repetition:
			b.WriteString(esc + "R" + esc)
		case '\r':
			b.WriteString(esc + "X0D" + esc)
		case '\n':
			b.WriteString(esc + "X0A" + esc)
		default:
			b.WriteString(text[i : i+size])
		}
		i += size
	}
	return b.String()
}
