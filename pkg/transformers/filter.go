package transformers

import (
	"context"
	"fmt"

	"github.com/oarkflow/expr"

	"github.com/oarkflow/hl7/pkg/contracts"
)

// FilterTransformer drops records for which a condition expression is false, e.g.
// `hl7_message_type == "ORU^R01"`.
type FilterTransformer struct {
	name      string
	condition string
}

// NewFilterTransformer creates a new filter transformer with a condition. The condition
// is parsed once here so syntax errors surface at construction.
func NewFilterTransformer(name, condition string) (*FilterTransformer, error) {
	if condition == "" {
		return nil, fmt.Errorf("filter condition cannot be empty")
	}
	if _, err := expr.Parse(condition); err != nil {
		return nil, fmt.Errorf("filter parse error: %w", err)
	}
	return &FilterTransformer{
		name:      name,
		condition: condition,
	}, nil
}

func (ft *FilterTransformer) Name() string {
	return ft.name
}

// Transform returns rec when the condition holds and nil when the record is filtered out.
func (ft *FilterTransformer) Transform(_ context.Context, rec contracts.Record) (contracts.Record, error) {
	program, err := expr.Parse(ft.condition)
	if err != nil {
		return nil, fmt.Errorf("filter parse error: %w", err)
	}
	result, err := program.Eval(rec)
	if err != nil {
		return nil, fmt.Errorf("filter evaluation error: %w", err)
	}
	if ok, isBool := result.(bool); isBool && ok {
		return rec, nil
	}
	return nil, nil
}

var _ contracts.Transformer = (*FilterTransformer)(nil)
