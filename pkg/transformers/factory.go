package transformers

import (
	"context"
	"fmt"

	"github.com/oarkflow/hl7/pkg/config"
	"github.com/oarkflow/hl7/pkg/contracts"
	"github.com/oarkflow/hl7/pkg/parsers"
)

// BuildTransformers converts the codec config into the transformer chain: decode first,
// then the optional filter and duplicate check, which read the decoded metadata keys.
func BuildTransformers(parser *parsers.HL7Parser, cfg *config.CodecConfig) ([]contracts.Transformer, error) {
	opts := OptionsFromConfig(cfg.Output)
	opts.Metadata = cfg.Metadata
	chain := []contracts.Transformer{NewHL7Transformer(parser, opts)}
	if cfg.Filter != "" {
		filter, err := NewFilterTransformer("filter", cfg.Filter)
		if err != nil {
			return nil, err
		}
		chain = append(chain, filter)
	}
	if cfg.Dedup != nil {
		dedup, err := NewDuplicateFilter(cfg.Dedup.MaxKeys, cfg.Dedup.Fields...)
		if err != nil {
			return nil, err
		}
		chain = append(chain, dedup)
	}
	return chain, nil
}

// OptionsFromConfig maps configured output keys onto transformer options.
func OptionsFromConfig(spec config.OutputSpec) HL7TransformerOptions {
	return HL7TransformerOptions{
		InputField:          spec.InputField,
		OutputJSONField:     spec.OutputJSONField,
		OutputXMLField:      spec.OutputXMLField,
		OutputSegmentsField: spec.OutputSegmentsField,
		MessageTypeField:    spec.MessageTypeField,
		ControlIDField:      spec.ControlIDField,
		TimestampField:      spec.TimestampField,
		AckField:            spec.AckField,
	}
}

// Apply runs rec through chain. A nil record means a transformer dropped it.
func Apply(ctx context.Context, chain []contracts.Transformer, rec contracts.Record) (contracts.Record, error) {
	var err error
	for _, t := range chain {
		rec, err = t.Transform(ctx, rec)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", t.Name(), err)
		}
		if rec == nil {
			return nil, nil
		}
	}
	return rec, nil
}
