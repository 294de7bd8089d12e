package contracts

import (
	"context"
)

// Record is one unit of work flowing from a source through transformers.
type Record = map[string]any

type SourceOption struct {
	Limit int
}

// Option configures a single Extract call.
type Option func(*SourceOption)

// WithLimit stops extraction after n messages. Zero means no limit.
func WithLimit(n int) Option {
	return func(o *SourceOption) {
		o.Limit = n
	}
}

// ApplyOptions folds opts into a SourceOption.
func ApplyOptions(opts ...Option) SourceOption {
	var o SourceOption
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

type Source interface {
	Setup(ctx context.Context) error
	Extract(ctx context.Context, opts ...Option) (<-chan Record, error)
	Close() error
}

type Loader interface {
	Setup(ctx context.Context) error
	StoreBatch(ctx context.Context, batch []Record) error
	StoreSingle(ctx context.Context, rec Record) error
	Close() error
}

type Transformer interface {
	Name() string
	Transform(ctx context.Context, rec Record) (Record, error)
}

// StreamErrer is implemented by sources whose input can fail after Extract returned.
// Err is meaningful once the record channel is closed.
type StreamErrer interface {
	Err() error
}
