package parsers

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"github.com/oarkflow/log"

	"github.com/oarkflow/hl7/pkg/schema"
)

const defaultVersion = "2.5"

// HL7Parser decodes HL7 v2 messages using the descriptor tables of a schema registry.
type HL7Parser struct {
	registry       *schema.Registry
	separators     *Separators
	strict         bool
	escaping       bool
	logger         *log.Logger
	defaultVersion string
	now            func() time.Time
	initErr        error
}

// Option configures an HL7Parser.
type Option func(*HL7Parser)

// WithRegistry replaces the embedded descriptor tables.
func WithRegistry(r *schema.Registry) Option {
	return func(p *HL7Parser) {
		p.registry = r
	}
}

// WithSeparators sets the delimiters used for messages built by the parser. Parsed
// messages always use the delimiters their header declares.
func WithSeparators(seps Separators) Option {
	return func(p *HL7Parser) {
		p.separators = &seps
	}
}

// WithStrict reports malformed scalars instead of dropping them.
func WithStrict(strict bool) Option {
	return func(p *HL7Parser) {
		p.strict = strict
	}
}

// WithEscaping turns escape sequence translation on for text fields.
func WithEscaping(escaping bool) Option {
	return func(p *HL7Parser) {
		p.escaping = escaping
	}
}

func WithLogger(logger *log.Logger) Option {
	return func(p *HL7Parser) {
		p.logger = logger
	}
}

// WithDefaultVersion sets the version used when MSH-12 is empty or names a version the
// registry does not know.
func WithDefaultVersion(version string) Option {
	return func(p *HL7Parser) {
		p.defaultVersion = schema.NormalizeVersion(version)
	}
}

// NewHL7Parser creates a new HL7 parser
func NewHL7Parser(opts ...Option) *HL7Parser {
	p := &HL7Parser{
		logger:         &log.DefaultLogger,
		defaultVersion: defaultVersion,
		now:            time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.registry == nil {
		p.registry, p.initErr = schema.Default()
	}
	return p
}

// Name returns the parser name
func (p *HL7Parser) Name() string {
	return "HL7"
}

// Detect checks if the data is an HL7 v2 message or batch
func (p *HL7Parser) Detect(data []byte) bool {
	data = bytes.TrimLeft(data, "\x0b\r\n\t ")
	if len(data) < 8 {
		return false
	}
	_, err := SeparatorsFromHeader(string(data[:min(len(data), 16)]))
	return err == nil
}

// Parse parses the data into a *Message.
func (p *HL7Parser) Parse(data []byte) (any, error) {
	return p.ParseString(string(data))
}

// Registry returns the descriptor tables versions are resolved against. It is nil when
// the embedded tables failed to load.
func (p *HL7Parser) Registry() *schema.Registry {
	return p.registry
}

// Separators returns the delimiters used for messages the parser builds.
func (p *HL7Parser) Separators() Separators {
	return ResolveSeparators(p.separators)
}

// Schema returns the descriptor set for version, falling back to the default version.
func (p *HL7Parser) Schema(version string) (*schema.Schema, error) {
	if p.initErr != nil {
		return nil, fmt.Errorf("load descriptor tables: %w", p.initErr)
	}
	if version != "" {
		s, err := p.registry.Lookup(version)
		if err == nil {
			return s, nil
		}
		p.logger.Warn().Str("version", version).Str("fallback", p.defaultVersion).Msg("unknown HL7 version, using fallback tables")
	}
	return p.registry.Lookup(p.defaultVersion)
}

// Codec returns a codec bound to the descriptors of version.
func (p *HL7Parser) Codec(version string) (*Codec, error) {
	s, err := p.Schema(version)
	if err != nil {
		return nil, err
	}
	return NewCodec(s, CodecOptions{Strict: p.strict, Escaping: p.escaping, Logger: p.logger}), nil
}

// NewMessage starts an empty message for version using the parser's separators.
func (p *HL7Parser) NewMessage(version string) (*Message, error) {
	codec, err := p.Codec(version)
	if err != nil {
		return nil, err
	}
	return &Message{
		Separators: p.Separators(),
		Version:    codec.Schema().Version,
		codec:      codec,
	}, nil
}

// splitSegments strips MLLP framing and splits on any line ending.
func splitSegments(raw string) []string {
	raw = strings.TrimLeft(raw, "\x0b")
	if idx := strings.IndexByte(raw, 0x1c); idx >= 0 {
		raw = raw[:idx]
	}
	raw = strings.ReplaceAll(raw, "\r\n", "\r")
	raw = strings.ReplaceAll(raw, "\n", "\r")
	lines := strings.Split(raw, "\r")
	out := lines[:0]
	for _, line := range lines {
		if strings.TrimSpace(line) == "" {
			continue
		}
		out = append(out, strings.TrimLeft(line, " \t"))
	}
	return out
}
