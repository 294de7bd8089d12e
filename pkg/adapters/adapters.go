package adapters

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/oarkflow/hl7/pkg/adapters/hl7adapter"
	"github.com/oarkflow/hl7/pkg/adapters/mqadapter"
	"github.com/oarkflow/hl7/pkg/config"
	"github.com/oarkflow/hl7/pkg/contracts"
)

// NewSource builds the source described by src. stdin backs "stdin" sources and "mllp"
// sources without a path.
func NewSource(src config.SourceConfig, stdin io.Reader) (contracts.Source, error) {
	opts := []hl7adapter.FileSourceOption{hl7adapter.WithEnvelopeSkip(src.SkipEnvelope)}
	if src.BlankLines != nil {
		opts = append(opts, hl7adapter.WithBlankLineSplit(*src.BlankLines))
	}
	switch strings.ToLower(src.Type) {
	case "file":
		return hl7adapter.NewFileSource(src.Path, opts...), nil
	case "stdin":
		return hl7adapter.NewReaderSource(stdin, "stdin", opts...), nil
	case "mllp":
		if src.Path == "" {
			return hl7adapter.NewMLLPSource(stdin, "stdin"), nil
		}
		file, err := os.Open(src.Path)
		if err != nil {
			return nil, err
		}
		return hl7adapter.NewMLLPSource(file, src.Path), nil
	case "amqp":
		return mqadapter.New(src.URL, src.Queue, ""), nil
	default:
		return nil, fmt.Errorf("unsupported source type: %s", src.Type)
	}
}

// NewLoader builds the loader for out. Without a path, hl7, mllp and json output goes to w.
func NewLoader(out config.OutputSpec, w io.Writer) (contracts.Loader, error) {
	format := strings.ToLower(out.Format)
	if format == "" {
		format = hl7adapter.FormatJSON
	}
	field := ""
	if format != hl7adapter.FormatJSON {
		field = out.AckField
	}
	switch format {
	case "amqp":
		return mqadapter.New(out.URL, out.Queue, field), nil
	case hl7adapter.FormatHL7, hl7adapter.FormatMLLP, hl7adapter.FormatJSON:
		if out.Path != "" {
			return hl7adapter.NewFileLoader(out.Path, format, field), nil
		}
		return hl7adapter.NewWriterLoader(w, format, field), nil
	default:
		return nil, fmt.Errorf("unsupported output format: %s", out.Format)
	}
}
