package parsers

// Parser is implemented by every wire format decoder the pipeline can route input to.
type Parser interface {
	// Parse decodes data into the parser's message type
	Parse(data []byte) (any, error)
	// Name returns the name of the parser
	Name() string
	// Detect reports whether data looks like this parser's format
	Detect(data []byte) bool
}

// Select returns the first parser that recognises data.
func Select(data []byte, parsers ...Parser) (Parser, bool) {
	for _, p := range parsers {
		if p != nil && p.Detect(data) {
			return p, true
		}
	}
	return nil, false
}
