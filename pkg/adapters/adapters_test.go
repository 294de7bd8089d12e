package adapters

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/oarkflow/hl7/pkg/adapters/hl7adapter"
	"github.com/oarkflow/hl7/pkg/adapters/mqadapter"
	"github.com/oarkflow/hl7/pkg/config"
	"github.com/oarkflow/hl7/pkg/contracts"
)

func TestNewSource(t *testing.T) {
	tests := []struct {
		name string
		src  config.SourceConfig
		want string
	}{
		{"file", config.SourceConfig{Type: "file", Path: "in.hl7"}, "*hl7adapter.FileSource"},
		{"stdin", config.SourceConfig{Type: "STDIN"}, "*hl7adapter.FileSource"},
		{"mllp on stdin", config.SourceConfig{Type: "mllp"}, "*hl7adapter.MLLPSource"},
		{"amqp", config.SourceConfig{Type: "amqp", URL: "amqp://localhost"}, "*mqadapter.Adapter"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			src, err := NewSource(tc.src, strings.NewReader(""))
			if err != nil {
				t.Fatalf("NewSource: %v", err)
			}
			switch src.(type) {
			case *hl7adapter.FileSource:
				if tc.want != "*hl7adapter.FileSource" {
					t.Fatalf("got FileSource, want %s", tc.want)
				}
			case *hl7adapter.MLLPSource:
				if tc.want != "*hl7adapter.MLLPSource" {
					t.Fatalf("got MLLPSource, want %s", tc.want)
				}
			case *mqadapter.Adapter:
				if tc.want != "*mqadapter.Adapter" {
					t.Fatalf("got mq Adapter, want %s", tc.want)
				}
			default:
				t.Fatalf("unexpected source %T", src)
			}
		})
	}
	if _, err := NewSource(config.SourceConfig{Type: "kafka"}, nil); err == nil {
		t.Fatalf("unknown type should fail")
	}
	if _, err := NewSource(config.SourceConfig{Type: "mllp", Path: "/does/not/exist.mllp"}, nil); err == nil {
		t.Fatalf("missing mllp file should fail")
	}
}

func TestStdinSourceReadsMessages(t *testing.T) {
	input := "MSH|^~\\&|A|||||ADT^A01|1|P|2.5\nPID|1\nMSH|^~\\&|B|||||ADT^A01|2|P|2.5\n"
	src, err := NewSource(config.SourceConfig{Type: "stdin"}, strings.NewReader(input))
	if err != nil {
		t.Fatalf("NewSource: %v", err)
	}
	ctx := context.Background()
	if err := src.Setup(ctx); err != nil {
		t.Fatalf("Setup: %v", err)
	}
	ch, err := src.Extract(ctx)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	var got []contracts.Record
	for rec := range ch {
		got = append(got, rec)
	}
	if len(got) != 2 || got[0][hl7adapter.RawMessageKey] != "MSH|^~\\&|A|||||ADT^A01|1|P|2.5\rPID|1" {
		t.Fatalf("unexpected records %#v", got)
	}
	if got[1][hl7adapter.SourcePathKey] != "stdin" {
		t.Fatalf("unexpected source name %v", got[1][hl7adapter.SourcePathKey])
	}
}

func TestNewLoader(t *testing.T) {
	ctx := context.Background()
	var buf bytes.Buffer
	loader, err := NewLoader(config.OutputSpec{Format: "hl7", AckField: "ack"}, &buf)
	if err != nil {
		t.Fatalf("NewLoader: %v", err)
	}
	if err := loader.Setup(ctx); err != nil {
		t.Fatalf("Setup: %v", err)
	}
	if err := loader.StoreSingle(ctx, contracts.Record{"ack": "MSH|^~\\&\rMSA|AA|1"}); err != nil {
		t.Fatalf("StoreSingle: %v", err)
	}
	if !strings.HasPrefix(buf.String(), "MSH|^~\\&\rMSA|AA|1") {
		t.Fatalf("ack field should be written, got %q", buf.String())
	}

	buf.Reset()
	loader, err = NewLoader(config.OutputSpec{}, &buf)
	if err != nil {
		t.Fatalf("NewLoader: %v", err)
	}
	if err := loader.StoreSingle(ctx, contracts.Record{"hl7_message_type": "ADT^A01"}); err != nil {
		t.Fatalf("StoreSingle: %v", err)
	}
	if !strings.Contains(buf.String(), `"hl7_message_type":"ADT^A01"`) {
		t.Fatalf("default output should be json lines, got %q", buf.String())
	}

	if l, err := NewLoader(config.OutputSpec{Format: "json", Path: "out.jsonl"}, nil); err != nil {
		t.Fatalf("NewLoader: %v", err)
	} else if _, ok := l.(*hl7adapter.FileLoader); !ok {
		t.Fatalf("a path should select the file loader, got %T", l)
	}
	if l, err := NewLoader(config.OutputSpec{Format: "amqp", URL: "amqp://localhost"}, nil); err != nil {
		t.Fatalf("NewLoader: %v", err)
	} else if _, ok := l.(*mqadapter.Adapter); !ok {
		t.Fatalf("amqp output should select the mq adapter, got %T", l)
	}
	if _, err := NewLoader(config.OutputSpec{Format: "csv"}, nil); err == nil {
		t.Fatalf("unknown format should fail")
	}
}
