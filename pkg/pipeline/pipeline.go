package pipeline

import (
	"context"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/oarkflow/errors"
	"github.com/oarkflow/log"

	"github.com/oarkflow/hl7/pkg/adapters"
	"github.com/oarkflow/hl7/pkg/config"
	"github.com/oarkflow/hl7/pkg/contracts"
	"github.com/oarkflow/hl7/pkg/transformers"
)

const (
	defaultWorkers       = 1
	defaultBatchSize     = 100
	defaultRetryDelay    = 500 * time.Millisecond
	defaultDeadLetterCap = 1000
)

// Metrics counts records at each stage of a run.
type Metrics struct {
	Extracted   int64 `json:"extracted"`
	Transformed int64 `json:"transformed"`
	Dropped     int64 `json:"dropped"`
	Loaded      int64 `json:"loaded"`
	Errors      int64 `json:"errors"`
}

// DeadLetter is a record the transformer chain rejected.
type DeadLetter struct {
	Record contracts.Record
	Err    error
}

// Pipeline moves records from a source through the transformer chain into a loader.
// With more than one worker, output order is not preserved.
type Pipeline struct {
	source        contracts.Source
	loader        contracts.Loader
	transformers  []contracts.Transformer
	workers       int
	batchSize     int
	retryCount    int
	retryDelay    time.Duration
	limit         int
	deadLetterCap int
	logger        *log.Logger

	metrics     Metrics
	deadMu      sync.Mutex
	deadLetters []DeadLetter
}

type Option func(*Pipeline) error

func WithSource(src contracts.Source) Option {
	return func(p *Pipeline) error {
		p.source = src
		return nil
	}
}

func WithLoader(loader contracts.Loader) Option {
	return func(p *Pipeline) error {
		p.loader = loader
		return nil
	}
}

func WithTransformers(chain ...contracts.Transformer) Option {
	return func(p *Pipeline) error {
		p.transformers = append(p.transformers, chain...)
		return nil
	}
}

// WithWorkers sets the number of transform workers. Zero keeps the default.
func WithWorkers(n int) Option {
	return func(p *Pipeline) error {
		if n < 0 {
			return fmt.Errorf("workers must not be negative: %d", n)
		}
		if n > 0 {
			p.workers = n
		}
		return nil
	}
}

// WithBatchSize sets how many records are handed to the loader at once. Zero keeps the default.
func WithBatchSize(n int) Option {
	return func(p *Pipeline) error {
		if n < 0 {
			return fmt.Errorf("batch size must not be negative: %d", n)
		}
		if n > 0 {
			p.batchSize = n
		}
		return nil
	}
}

// WithRetry retries failed batches count times, waiting delay between attempts.
func WithRetry(count int, delay time.Duration) Option {
	return func(p *Pipeline) error {
		if count < 0 {
			return fmt.Errorf("retry count must not be negative: %d", count)
		}
		p.retryCount = count
		if delay > 0 {
			p.retryDelay = delay
		}
		return nil
	}
}

// WithLimit stops extraction after n records.
func WithLimit(n int) Option {
	return func(p *Pipeline) error {
		p.limit = n
		return nil
	}
}

func WithDeadLetterCap(n int) Option {
	return func(p *Pipeline) error {
		if n > 0 {
			p.deadLetterCap = n
		}
		return nil
	}
}

func WithLogger(logger *log.Logger) Option {
	return func(p *Pipeline) error {
		if logger != nil {
			p.logger = logger
		}
		return nil
	}
}

// New builds a pipeline. A source and a loader are required.
func New(opts ...Option) (*Pipeline, error) {
	p := &Pipeline{
		workers:       defaultWorkers,
		batchSize:     defaultBatchSize,
		retryDelay:    defaultRetryDelay,
		deadLetterCap: defaultDeadLetterCap,
		logger:        &log.DefaultLogger,
	}
	for _, opt := range opts {
		if err := opt(p); err != nil {
			return nil, err
		}
	}
	if p.source == nil {
		return nil, errors.New("pipeline: source is required")
	}
	if p.loader == nil {
		return nil, errors.New("pipeline: loader is required")
	}
	return p, nil
}

// FromConfig wires the named source, the transformer chain and the configured output. An
// empty name selects the only configured source. stdin and stdout back the stdin source
// and path-less outputs.
func FromConfig(cfg *config.CodecConfig, sourceName string, stdin io.Reader, stdout io.Writer, logger *log.Logger) (*Pipeline, error) {
	parser, err := cfg.Build(logger)
	if err != nil {
		return nil, err
	}
	srcCfg, err := pickSource(cfg, sourceName)
	if err != nil {
		return nil, err
	}
	src, err := adapters.NewSource(srcCfg, stdin)
	if err != nil {
		return nil, err
	}
	chain, err := transformers.BuildTransformers(parser, cfg)
	if err != nil {
		return nil, err
	}
	loader, err := adapters.NewLoader(cfg.Output, stdout)
	if err != nil {
		return nil, err
	}
	var delay time.Duration
	if cfg.Pipeline.RetryDelay != "" {
		if delay, err = time.ParseDuration(cfg.Pipeline.RetryDelay); err != nil {
			return nil, fmt.Errorf("pipeline retry_delay: %w", err)
		}
	}
	return New(
		WithSource(src),
		WithTransformers(chain...),
		WithLoader(loader),
		WithWorkers(cfg.Pipeline.Workers),
		WithBatchSize(cfg.Pipeline.BatchSize),
		WithRetry(cfg.Pipeline.RetryCount, delay),
		WithDeadLetterCap(cfg.Pipeline.DeadLetterCap),
		WithLimit(srcCfg.Limit),
		WithLogger(logger),
	)
}

func pickSource(cfg *config.CodecConfig, name string) (config.SourceConfig, error) {
	if name != "" {
		src, ok := cfg.Sources[name]
		if !ok {
			return config.SourceConfig{}, fmt.Errorf("source %q is not configured", name)
		}
		return src, nil
	}
	if len(cfg.Sources) != 1 {
		return config.SourceConfig{}, fmt.Errorf("%d sources configured, name one", len(cfg.Sources))
	}
	for _, src := range cfg.Sources {
		return src, nil
	}
	return config.SourceConfig{}, nil
}

// Run drains the source. Records rejected by a transformer go to the dead letter list and
// do not stop the run; a batch the loader still refuses after the retries does. A source
// whose stream broke off is reported after the records read before the break are loaded.
func (p *Pipeline) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	if err := p.source.Setup(ctx); err != nil {
		return fmt.Errorf("source setup: %w", err)
	}
	defer p.source.Close()
	if err := p.loader.Setup(ctx); err != nil {
		return fmt.Errorf("loader setup: %w", err)
	}
	defer p.loader.Close()
	defer p.closeTransformers()

	var opts []contracts.Option
	if p.limit > 0 {
		opts = append(opts, contracts.WithLimit(p.limit))
	}
	in, err := p.source.Extract(ctx, opts...)
	if err != nil {
		return fmt.Errorf("extract: %w", err)
	}

	out := make(chan contracts.Record, p.workers*2)
	var wg sync.WaitGroup
	for i := 0; i < p.workers; i++ {
		wg.Add(1)
		go p.transformWorker(ctx, i, in, out, &wg)
	}
	go func() {
		wg.Wait()
		close(out)
	}()

	start := time.Now()
	batch := make([]contracts.Record, 0, p.batchSize)
	for rec := range out {
		batch = append(batch, rec)
		if len(batch) < p.batchSize {
			continue
		}
		if err := p.store(ctx, batch); err != nil {
			cancel()
			return err
		}
		batch = make([]contracts.Record, 0, p.batchSize)
	}
	if len(batch) > 0 {
		if err := p.store(ctx, batch); err != nil {
			return err
		}
	}
	var streamErr error
	if se, ok := p.source.(contracts.StreamErrer); ok {
		if streamErr = se.Err(); streamErr != nil {
			atomic.AddInt64(&p.metrics.Errors, 1)
		}
	}
	m := p.Metrics()
	log.Printf("[pipeline] extracted %d, loaded %d, dropped %d, errors %d in %s",
		m.Extracted, m.Loaded, m.Dropped, m.Errors, time.Since(start))
	if streamErr != nil {
		return fmt.Errorf("extract: %w", streamErr)
	}
	return ctx.Err()
}

func (p *Pipeline) transformWorker(ctx context.Context, index int, in <-chan contracts.Record, out chan<- contracts.Record, wg *sync.WaitGroup) {
	defer wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case rec, ok := <-in:
			if !ok {
				return
			}
			atomic.AddInt64(&p.metrics.Extracted, 1)
			res, err := transformers.Apply(ctx, p.transformers, rec)
			if err != nil {
				atomic.AddInt64(&p.metrics.Errors, 1)
				p.logger.Warn().Str("worker", fmt.Sprint(index)).Str("error", err.Error()).Msg("record sent to dead letter list")
				p.deadLetter(rec, err)
				continue
			}
			if res == nil {
				atomic.AddInt64(&p.metrics.Dropped, 1)
				continue
			}
			atomic.AddInt64(&p.metrics.Transformed, 1)
			select {
			case <-ctx.Done():
				return
			case out <- res:
			}
		}
	}
}

func (p *Pipeline) store(ctx context.Context, batch []contracts.Record) error {
	var err error
	for attempt := 0; attempt <= p.retryCount; attempt++ {
		if err = p.loader.StoreBatch(ctx, batch); err == nil {
			atomic.AddInt64(&p.metrics.Loaded, int64(len(batch)))
			return nil
		}
		log.Printf("[pipeline] store attempt %d of %d failed: %v", attempt+1, p.retryCount+1, err)
		if attempt < p.retryCount {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(p.retryDelay):
			}
		}
	}
	atomic.AddInt64(&p.metrics.Errors, int64(len(batch)))
	return fmt.Errorf("store batch of %d records: %w", len(batch), err)
}

func (p *Pipeline) deadLetter(rec contracts.Record, err error) {
	p.deadMu.Lock()
	defer p.deadMu.Unlock()
	if len(p.deadLetters) >= p.deadLetterCap {
		return
	}
	p.deadLetters = append(p.deadLetters, DeadLetter{Record: rec, Err: err})
}

func (p *Pipeline) closeTransformers() {
	for _, t := range p.transformers {
		if c, ok := t.(interface{ Close() }); ok {
			c.Close()
		}
	}
}

// Metrics returns a snapshot of the counters.
func (p *Pipeline) Metrics() Metrics {
	return Metrics{
		Extracted:   atomic.LoadInt64(&p.metrics.Extracted),
		Transformed: atomic.LoadInt64(&p.metrics.Transformed),
		Dropped:     atomic.LoadInt64(&p.metrics.Dropped),
		Loaded:      atomic.LoadInt64(&p.metrics.Loaded),
		Errors:      atomic.LoadInt64(&p.metrics.Errors),
	}
}

// DeadLetters returns the rejected records collected so far.
func (p *Pipeline) DeadLetters() []DeadLetter {
	p.deadMu.Lock()
	defer p.deadMu.Unlock()
	return append([]DeadLetter(nil), p.deadLetters...)
}
