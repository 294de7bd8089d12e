package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/oarkflow/bcl"
	"github.com/oarkflow/errors"
	"github.com/oarkflow/json"
	"github.com/oarkflow/log"
	"gopkg.in/yaml.v3"

	"github.com/oarkflow/hl7/pkg/parsers"
	"github.com/oarkflow/hl7/pkg/schema"
)

// CodecConfig describes how HL7 messages are read, decoded and rendered.
type CodecConfig struct {
	DefaultVersion string                  `json:"default_version" yaml:"default_version"`
	Strict         bool                    `json:"strict" yaml:"strict"`
	Escaping       bool                    `json:"escaping" yaml:"escaping"`
	Schemas        []string                `json:"schemas" yaml:"schemas"`
	Separators     *SeparatorSpec          `json:"separators" yaml:"separators"`
	Sources        map[string]SourceConfig `json:"sources" yaml:"sources"`
	Output         OutputSpec              `json:"output" yaml:"output"`
	Filter         string                  `json:"filter" yaml:"filter"`
	Dedup          *DedupSpec              `json:"dedup" yaml:"dedup"`
	Pipeline       PipelineSpec            `json:"pipeline" yaml:"pipeline"`
	Metadata       map[string]string       `json:"metadata" yaml:"metadata"`
}

// SeparatorSpec overrides the delimiters used for messages the parser builds. Each value
// is a single character; empty values keep the HL7 default.
type SeparatorSpec struct {
	Field        string `json:"field" yaml:"field"`
	Repetition   string `json:"repetition" yaml:"repetition"`
	Component    string `json:"component" yaml:"component"`
	Subcomponent string `json:"subcomponent" yaml:"subcomponent"`
	Escape       string `json:"escape" yaml:"escape"`
}

// SourceConfig describes where messages come from.
type SourceConfig struct {
	Type         string `json:"type" yaml:"type"`
	Path         string `json:"path" yaml:"path"`
	SkipEnvelope bool   `json:"skip_envelope" yaml:"skip_envelope"`
	BlankLines   *bool  `json:"blank_lines" yaml:"blank_lines"`
	Limit        int    `json:"limit" yaml:"limit"`
	URL          string `json:"url" yaml:"url"`
	Queue        string `json:"queue" yaml:"queue"`
}

// OutputSpec names the record keys the HL7 transformer reads and writes.
type OutputSpec struct {
	InputField          string `json:"input_field" yaml:"input_field"`
	OutputJSONField     string `json:"json_field" yaml:"json_field"`
	OutputXMLField      string `json:"xml_field" yaml:"xml_field"`
	OutputSegmentsField string `json:"segments_field" yaml:"segments_field"`
	MessageTypeField    string `json:"message_type_field" yaml:"message_type_field"`
	ControlIDField      string `json:"control_id_field" yaml:"control_id_field"`
	TimestampField      string `json:"timestamp_field" yaml:"timestamp_field"`
	AckField            string `json:"ack_field" yaml:"ack_field"`
	Format              string `json:"format" yaml:"format"`
	Path                string `json:"path" yaml:"path"`
	URL                 string `json:"url" yaml:"url"`
	Queue               string `json:"queue" yaml:"queue"`
}

// DedupSpec drops messages whose key fields were already seen.
type DedupSpec struct {
	Fields  []string `json:"fields" yaml:"fields"`
	MaxKeys int      `json:"max_keys" yaml:"max_keys"`
}

// PipelineSpec tunes the source to loader run. Zero values take the pipeline defaults.
type PipelineSpec struct {
	Workers       int    `json:"workers" yaml:"workers"`
	BatchSize     int    `json:"batch_size" yaml:"batch_size"`
	RetryCount    int    `json:"retry_count" yaml:"retry_count"`
	RetryDelay    string `json:"retry_delay" yaml:"retry_delay"`
	DeadLetterCap int    `json:"dead_letter_cap" yaml:"dead_letter_cap"`
}

var sourceTypes = map[string]bool{"file": true, "mllp": true, "stdin": true, "amqp": true}

// Load reads a config file, choosing the decoder by extension.
func Load(path string) (*CodecConfig, error) {
	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".yaml", ".yml", ".json", ".bcl":
	default:
		return nil, fmt.Errorf("unsupported codec config format: %s", ext)
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg, err := LoadFromString(string(raw), ext)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	// schema paths are relative to the config file
	dir := filepath.Dir(path)
	for i, file := range cfg.Schemas {
		if file != "" && !filepath.IsAbs(file) {
			cfg.Schemas[i] = filepath.Join(dir, file)
		}
	}
	return cfg, nil
}

// LoadFromString loads the config from raw text, useful for tests.
func LoadFromString(content, format string) (*CodecConfig, error) {
	var cfg CodecConfig
	var err error
	switch strings.TrimPrefix(strings.ToLower(format), ".") {
	case "yaml", "yml":
		err = yaml.Unmarshal([]byte(content), &cfg)
	case "json":
		err = json.Unmarshal([]byte(content), &cfg)
	case "bcl":
		_, err = bcl.Unmarshal([]byte(content), &cfg)
	default:
		return nil, fmt.Errorf("unsupported format: %s", format)
	}
	if err != nil {
		return nil, err
	}
	if cfg.Sources == nil {
		cfg.Sources = make(map[string]SourceConfig)
	}
	return &cfg, cfg.Validate()
}

// Validate checks separators, source declarations and output settings. The default
// version is checked against the registry in Build.
func (cfg *CodecConfig) Validate() error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	if cfg.Separators != nil {
		if _, err := cfg.Separators.Resolve(); err != nil {
			return err
		}
	}
	for name, src := range cfg.Sources {
		if !sourceTypes[strings.ToLower(src.Type)] {
			return fmt.Errorf("source %s has unsupported type %q", name, src.Type)
		}
		if strings.EqualFold(src.Type, "file") && src.Path == "" {
			return fmt.Errorf("source %s is missing a path", name)
		}
		if strings.EqualFold(src.Type, "amqp") && src.URL == "" {
			return fmt.Errorf("source %s is missing a url", name)
		}
		if src.Limit < 0 {
			return fmt.Errorf("source %s has a negative limit", name)
		}
	}
	for idx, file := range cfg.Schemas {
		if strings.TrimSpace(file) == "" {
			return fmt.Errorf("schema at index %d has an empty path", idx)
		}
	}
	if cfg.Dedup != nil && len(cfg.Dedup.Fields) == 0 {
		return errors.New("dedup requires at least one key field")
	}
	p := cfg.Pipeline
	if p.Workers < 0 || p.BatchSize < 0 || p.RetryCount < 0 || p.DeadLetterCap < 0 {
		return errors.New("pipeline settings must not be negative")
	}
	if p.RetryDelay != "" {
		if _, err := time.ParseDuration(p.RetryDelay); err != nil {
			return fmt.Errorf("pipeline retry_delay: %w", err)
		}
	}
	switch strings.ToLower(cfg.Output.Format) {
	case "", "hl7", "mllp", "json":
	case "amqp":
		if cfg.Output.URL == "" {
			return errors.New("amqp output is missing a url")
		}
	default:
		return fmt.Errorf("unsupported output format %q", cfg.Output.Format)
	}
	return nil
}

// Resolve fills empty slots from the HL7 defaults and validates the result.
func (s SeparatorSpec) Resolve() (parsers.Separators, error) {
	seps := parsers.DefaultSeparators()
	slots := []struct {
		name  string
		value string
		dst   *rune
	}{
		{"field", s.Field, &seps.Field},
		{"repetition", s.Repetition, &seps.Repetition},
		{"component", s.Component, &seps.Component},
		{"subcomponent", s.Subcomponent, &seps.Subcomponent},
		{"escape", s.Escape, &seps.Escape},
	}
	for _, slot := range slots {
		if slot.value == "" {
			continue
		}
		if utf8.RuneCountInString(slot.value) != 1 {
			return parsers.Separators{}, fmt.Errorf("%w: %s separator %q must be one character", parsers.ErrInvalidSeparators, slot.name, slot.value)
		}
		r, _ := utf8.DecodeRuneInString(slot.value)
		*slot.dst = r
	}
	if err := seps.Validate(); err != nil {
		return parsers.Separators{}, err
	}
	return seps, nil
}

// Registry returns the embedded descriptor tables plus any configured schema files. Files
// are registered in order so later ones may extend earlier ones.
func (cfg *CodecConfig) Registry() (*schema.Registry, error) {
	if len(cfg.Schemas) == 0 {
		return schema.Default()
	}
	r, err := schema.NewDefaultRegistry()
	if err != nil {
		return nil, err
	}
	for _, file := range cfg.Schemas {
		if err := r.LoadFile(file); err != nil {
			return nil, fmt.Errorf("load schema %s: %w", file, err)
		}
	}
	return r, nil
}

// Build returns a parser configured from cfg.
func (cfg *CodecConfig) Build(logger *log.Logger) (*parsers.HL7Parser, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	registry, err := cfg.Registry()
	if err != nil {
		return nil, err
	}
	opts := []parsers.Option{
		parsers.WithRegistry(registry),
		parsers.WithStrict(cfg.Strict),
		parsers.WithEscaping(cfg.Escaping),
	}
	if cfg.DefaultVersion != "" {
		if _, err := registry.Lookup(cfg.DefaultVersion); err != nil {
			return nil, fmt.Errorf("default_version: %w", err)
		}
		opts = append(opts, parsers.WithDefaultVersion(cfg.DefaultVersion))
	}
	if cfg.Separators != nil {
		seps, err := cfg.Separators.Resolve()
		if err != nil {
			return nil, err
		}
		opts = append(opts, parsers.WithSeparators(seps))
	}
	if logger != nil {
		opts = append(opts, parsers.WithLogger(logger))
	}
	return parsers.NewHL7Parser(opts...), nil
}
