package parsers

import (
	"strconv"

	"github.com/oarkflow/hl7/pkg/schema"
)

// DecodeComposite splits token into the components of d. A composite nested inside
// another one is split on the subcomponent delimiter instead. Components missing from
// the token are absent; the error is only set in strict mode.
func (c *Codec) DecodeComposite(token string, d *schema.CompositeDescriptor, seps Separators, nested bool) (Record, error) {
	st := &decodeState{segment: d.TypeID}
	depth := 0
	if nested {
		depth = 1
	}
	rec := c.decodeComposite(st, "", token, d, seps, depth)
	return rec, st.err()
}

// EncodeComposite joins the components of rec in descriptor order and drops trailing
// empty components along with their delimiters.
func (c *Codec) EncodeComposite(rec Record, d *schema.CompositeDescriptor, seps Separators, nested bool) string {
	depth := 0
	if nested {
		depth = 1
	}
	return c.encodeComposite(rec, d, seps, depth)
}

func componentDelimiter(seps Separators, depth int) (rune, bool) {
	switch depth {
	case 0:
		return seps.Component, true
	case 1:
		return seps.Subcomponent, true
	}
	return 0, false
}

func (c *Codec) decodeComposite(st *decodeState, path, token string, d *schema.CompositeDescriptor, seps Separators, depth int) Record {
	rec := Record{}
	if token == "" || len(d.Components) == 0 {
		return rec
	}
	delim, ok := componentDelimiter(seps, depth)
	if !ok {
		// no delimiter left at this depth: the text belongs to the first component
		first := d.Components[0]
		if v := c.decodeField(st, joinPath(path, first.Ordinal), token, first, seps, depth+1); v != nil {
			rec[first.Name] = v
		}
		return rec
	}
	tokens := splitOn(token, delim)
	for _, comp := range d.Components {
		idx := comp.Ordinal - 1
		if idx < 0 || idx >= len(tokens) {
			continue
		}
		if v := c.decodeField(st, joinPath(path, comp.Ordinal), tokens[idx], comp, seps, depth+1); v != nil {
			rec[comp.Name] = v
		}
	}
	return rec
}

func (c *Codec) encodeComposite(rec Record, d *schema.CompositeDescriptor, seps Separators, depth int) string {
	if len(rec) == 0 || len(d.Components) == 0 {
		return ""
	}
	delim, ok := componentDelimiter(seps, depth)
	if !ok {
		first := d.Components[0]
		return c.encodeField(rec[first.Name], first, seps, depth+1)
	}
	parts := make([]string, d.MaxOrdinal())
	for _, comp := range d.Components {
		if comp.Ordinal < 1 {
			continue
		}
		parts[comp.Ordinal-1] = c.encodeField(rec[comp.Name], comp, seps, depth+1)
	}
	return joinRunes(trimTrailing(parts, 0), delim)
}

func joinPath(path string, ordinal int) string {
	if path == "" {
		return strconv.Itoa(ordinal)
	}
	return path + "-" + strconv.Itoa(ordinal)
}
