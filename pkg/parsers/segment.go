package parsers

import (
	"strconv"
	"strings"

	"github.com/oarkflow/hl7/pkg/schema"
)

// DecodeSegment decodes one segment line against d. An empty line decodes to an empty
// record. A line that starts with another segment id fails with a *SegmentIDError. In
// strict mode malformed scalars are joined into the error and the partial record is
// still returned.
func (c *Codec) DecodeSegment(line string, d *schema.SegmentDescriptor, seps Separators) (Record, error) {
	rec := Record{}
	line = strings.TrimRight(line, "\r\n")
	if line == "" {
		return rec, nil
	}
	tokens := splitOn(line, seps.Field)
	if !strings.EqualFold(tokens[0], d.ID) {
		return nil, &SegmentIDError{Expected: d.ID, Got: tokens[0]}
	}
	st := &decodeState{segment: d.ID}
	for _, f := range d.Fields {
		idx := f.Ordinal
		if d.Header {
			// MSH-1 and MSH-2 are the separators themselves
			switch f.Ordinal {
			case 1:
				rec[f.Name] = string(seps.Field)
				continue
			case 2:
				rec[f.Name] = seps.EncodingCharacters()
				continue
			}
			idx = f.Ordinal - 1
		}
		if idx < 1 || idx >= len(tokens) {
			continue
		}
		if v := c.decodeField(st, d.ID+"-"+strconv.Itoa(f.Ordinal), tokens[idx], f, seps, 0); v != nil {
			rec[f.Name] = v
		}
	}
	return rec, st.err()
}

// EncodeSegment renders rec as a segment line, trimming trailing empty fields. Header
// segments take their first two fields from seps, whatever rec holds.
func (c *Codec) EncodeSegment(rec Record, d *schema.SegmentDescriptor, seps Separators) string {
	max := d.MaxOrdinal()
	tokens := make([]string, max+1)
	tokens[0] = d.ID
	keep := 1
	if d.Header {
		tokens[1] = seps.EncodingCharacters()
		keep = 2
	}
	for _, f := range d.Fields {
		idx := f.Ordinal
		if d.Header {
			if f.Ordinal <= 2 {
				continue
			}
			idx = f.Ordinal - 1
		}
		if idx < 1 || idx >= len(tokens) {
			continue
		}
		tokens[idx] = c.encodeField(rec[f.Name], f, seps, 0)
	}
	return joinRunes(trimTrailing(tokens, keep), seps.Field)
}
