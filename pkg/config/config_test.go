package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/oarkflow/hl7/pkg/parsers"
)

const yamlConfig = `
default_version: "2.5.1"
strict: true
escaping: true
separators:
  component: "*"
sources:
  inbox:
    type: file
    path: /var/hl7/inbox.hl7
    skip_envelope: true
  feed:
    type: mllp
output:
  input_field: payload
  json_field: document
  format: json
metadata:
  owner: integration
`

func TestLoadFromStringYAML(t *testing.T) {
	cfg, err := LoadFromString(yamlConfig, "yaml")
	if err != nil {
		t.Fatalf("LoadFromString returned error: %v", err)
	}
	if cfg.DefaultVersion != "2.5.1" || !cfg.Strict || !cfg.Escaping {
		t.Fatalf("unexpected codec settings %+v", cfg)
	}
	inbox, ok := cfg.Sources["inbox"]
	if !ok || inbox.Type != "file" || !inbox.SkipEnvelope {
		t.Fatalf("unexpected inbox source %+v", inbox)
	}
	if cfg.Output.InputField != "payload" || cfg.Output.OutputJSONField != "document" {
		t.Fatalf("unexpected output spec %+v", cfg.Output)
	}
	seps, err := cfg.Separators.Resolve()
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if seps.String() != "|*~\\&" {
		t.Fatalf("unexpected separators %q", seps.String())
	}
}

func TestLoadFromStringJSON(t *testing.T) {
	cfg, err := LoadFromString(`{"default_version":"2.3","sources":{"in":{"type":"stdin"}}}`, ".json")
	if err != nil {
		t.Fatalf("LoadFromString returned error: %v", err)
	}
	if cfg.DefaultVersion != "2.3" || cfg.Sources["in"].Type != "stdin" {
		t.Fatalf("unexpected config %+v", cfg)
	}
	if _, err := LoadFromString(`version = 1`, "toml"); err == nil {
		t.Fatalf("unsupported formats should fail")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		cfg  CodecConfig
	}{
		{"unknown source type", CodecConfig{Sources: map[string]SourceConfig{"x": {Type: "kafka"}}}},
		{"file without path", CodecConfig{Sources: map[string]SourceConfig{"x": {Type: "file"}}}},
		{"negative limit", CodecConfig{Sources: map[string]SourceConfig{"x": {Type: "mllp", Limit: -1}}}},
		{"long separator", CodecConfig{Separators: &SeparatorSpec{Field: "||"}}},
		{"duplicate separator", CodecConfig{Separators: &SeparatorSpec{Component: "~"}}},
		{"empty schema path", CodecConfig{Schemas: []string{" "}}},
		{"unknown output format", CodecConfig{Output: OutputSpec{Format: "csv"}}},
		{"amqp source without url", CodecConfig{Sources: map[string]SourceConfig{"x": {Type: "amqp"}}}},
		{"negative workers", CodecConfig{Pipeline: PipelineSpec{Workers: -1}}},
		{"bad retry delay", CodecConfig{Pipeline: PipelineSpec{RetryDelay: "soon"}}},
		{"amqp output without url", CodecConfig{Output: OutputSpec{Format: "amqp"}}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if err := tc.cfg.Validate(); err == nil {
				t.Fatalf("expected a validation error")
			}
		})
	}
	var nilCfg *CodecConfig
	if err := nilCfg.Validate(); err == nil {
		t.Fatalf("nil config should fail")
	}
	bad := CodecConfig{Separators: &SeparatorSpec{Escape: "^"}}
	if err := bad.Validate(); !errors.Is(err, parsers.ErrInvalidSeparators) {
		t.Fatalf("expected ErrInvalidSeparators, got %v", err)
	}
}

func TestBuild(t *testing.T) {
	cfg, err := LoadFromString(yamlConfig, "yaml")
	if err != nil {
		t.Fatalf("LoadFromString: %v", err)
	}
	parser, err := cfg.Build(nil)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if parser.Separators().Component != '*' {
		t.Fatalf("configured separators not applied: %+v", parser.Separators())
	}
	msg, err := parser.ParseString("MSH|^~\\&|APP|FAC|||20240101||ADT^A01|1|P|9.9\rNTE|1||a\\F\\b")
	if err != nil {
		t.Fatalf("ParseString: %v", err)
	}
	if msg.Version != "2.5.1" {
		t.Fatalf("default_version should drive the fallback, got %s", msg.Version)
	}
	nte, _ := msg.First("NTE")
	if got := nte.Fields.String("Comment"); got != "a|b" {
		t.Fatalf("escaping should be enabled, got %q", got)
	}

	unknown := CodecConfig{DefaultVersion: "7.1"}
	if _, err := unknown.Build(nil); err == nil {
		t.Fatalf("an unknown default version should fail")
	}
}

func TestLoadWithSchemaFile(t *testing.T) {
	dir := t.TempDir()
	table := `
version: "2.5.1.site"
extends: "2.5.1"
segments:
  - id: ZPI
    fields:
      - {name: SetID, type: SI}
      - {name: Note, type: ST}
`
	if err := os.WriteFile(filepath.Join(dir, "site.yaml"), []byte(table), 0o644); err != nil {
		t.Fatalf("write table: %v", err)
	}
	cfgPath := filepath.Join(dir, "codec.json")
	if err := os.WriteFile(cfgPath, []byte(`{"default_version":"2.5.1.site","schemas":["site.yaml"]}`), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, err := Load(cfgPath)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Schemas[0] != filepath.Join(dir, "site.yaml") {
		t.Fatalf("schema paths should resolve against the config dir, got %s", cfg.Schemas[0])
	}
	parser, err := cfg.Build(nil)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	msg, err := parser.ParseString("MSH|^~\\&|APP|FAC|||20240101||ADT^A01|1|P|2.5.1.site\rZPI|7|hello")
	if err != nil {
		t.Fatalf("ParseString: %v", err)
	}
	zpi, _ := msg.First("ZPI")
	if zpi.Fields.String("Note") != "hello" {
		t.Fatalf("site segment should be decoded, got %#v", zpi)
	}

	if _, err := Load(filepath.Join(dir, "codec.ini")); err == nil {
		t.Fatalf("unknown extension should fail")
	}
}
