// Package engine runs batches of independent factor computations over one
// frame, using the worker pool for concurrency and the cache coordinator for
// at-most-once computation per key.
package engine

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/irfndi/etffactor/internal/cache"
	"github.com/irfndi/etffactor/internal/logging"
	"github.com/irfndi/etffactor/internal/quality"
	"github.com/irfndi/etffactor/internal/services/workerpool"
	"github.com/irfndi/etffactor/internal/talib"
	"github.com/irfndi/etffactor/pkg/factors"
)

// Status is the outcome of one factor in a batch.
type Status string

const (
	StatusComputed  Status = "computed"
	StatusCached    Status = "cached"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Config holds engine settings.
type Config struct {
	Workers    int
	QueueSize  int
	Numeric    factors.NumericConfig
	Adjustment factors.Adjustment
	// CrossCheck compares selected outputs against Reference and reports
	// divergence as diagnostics.
	CrossCheck bool
	Reference  talib.ProviderType
	Quality    quality.Config
}

// DefaultConfig returns the default engine settings.
func DefaultConfig() Config {
	pool := workerpool.DefaultConfig()
	return Config{
		Workers:    pool.Workers,
		QueueSize:  pool.QueueSize,
		Numeric:    factors.DefaultNumericConfig(),
		Adjustment: factors.AdjustmentHFQ,
		Reference:  talib.ProviderTypeTalib,
		Quality:    quality.DefaultConfig(),
	}
}

// ResultSink persists computed results. *database.FactorRepository
// implements it.
type ResultSink interface {
	SaveResult(ctx context.Context, runID string, result *factors.Result) (int64, error)
}

// Options tune a single batch.
type Options struct {
	// NoCache bypasses the cache for reads and writes.
	NoCache bool
	// Adjustment overrides the engine's price adjustment.
	Adjustment factors.Adjustment
	// Persist writes successful results to the configured sink.
	Persist bool
}

// Outcome reports what happened to one requested factor.
type Outcome struct {
	Factor      string              `json:"factor"`
	Category    factors.Category    `json:"category,omitempty"`
	Status      Status              `json:"status"`
	Err         error               `json:"-"`
	Error       string              `json:"error,omitempty"`
	CacheHit    bool                `json:"cache_hit"`
	NoCache     bool                `json:"-"`
	Duration    time.Duration       `json:"duration_ns"`
	Rows        int                 `json:"rows"`
	Persisted   int64               `json:"persisted,omitempty"`
	Diagnostics factors.Diagnostics `json:"diagnostics,omitempty"`
}

// Summary counts outcomes by status.
type Summary struct {
	Requested int `json:"requested"`
	Computed  int `json:"computed"`
	Cached    int `json:"cached"`
	Failed    int `json:"failed"`
	Cancelled int `json:"cancelled"`
}

// Succeeded is the number of factors that produced a result.
func (s Summary) Succeeded() int {
	return s.Computed + s.Cached
}

// BatchResult is the outcome of Engine.Compute.
type BatchResult struct {
	RunID string `json:"run_id"`
	// Results holds the successful results keyed by factor name. A failed
	// factor has no entry.
	Results map[string]*factors.Result `json:"-"`
	// Outcomes are in request order.
	Outcomes []Outcome `json:"outcomes"`
	// Diagnostics are frame-level observations such as data quality warnings.
	Diagnostics factors.Diagnostics  `json:"diagnostics,omitempty"`
	// Data describes the input frame.
	Data        factors.FrameSummary `json:"data"`
	Summary     Summary              `json:"summary"`
	Duration    time.Duration        `json:"duration_ns"`

	errs error
}

// Err combines the per-factor failures, or returns nil when none failed.
func (b *BatchResult) Err() error {
	return b.errs
}

// Names returns the successful factor names in request order.
func (b *BatchResult) Names() []string {
	var names []string
	for _, o := range b.Outcomes {
		if _, ok := b.Results[o.Factor]; ok {
			names = append(names, o.Factor)
		}
	}
	return names
}

// ByCategory groups the successful results by factor category.
func (b *BatchResult) ByCategory() map[factors.Category][]*factors.Result {
	out := make(map[factors.Category][]*factors.Result)
	for _, name := range b.Names() {
		r := b.Results[name]
		out[r.Category] = append(out[r.Category], r)
	}
	return out
}

// Combined joins every successful result into one wide result.
func (b *BatchResult) Combined() (*factors.Result, error) {
	results := make([]*factors.Result, 0, len(b.Results))
	for _, name := range b.Names() {
		results = append(results, b.Results[name])
	}
	return factors.Combine("ALL", results...)
}

// Engine computes batches of factors. It is safe for concurrent use.
type Engine struct {
	config     Config
	registry   *factors.Registry
	store      cache.Store
	coord      *cache.Coordinator
	pool       *workerpool.Pool
	validator  *factors.Validator
	reference  talib.Provider
	quality    *quality.Checker
	sink       ResultSink
	metrics    *Metrics
	logger     *logging.StandardLogger
	numericTag string
	lastData   atomic.Pointer[factors.FrameSummary]
}

// Option configures an Engine.
type Option func(*Engine)

// WithRegistry replaces the built-in registry.
func WithRegistry(r *factors.Registry) Option {
	return func(e *Engine) { e.registry = r }
}

// WithCache sets the cache store. Without it results are not cached.
func WithCache(store cache.Store) Option {
	return func(e *Engine) { e.store = store }
}

// WithSink sets where Options.Persist writes results.
func WithSink(sink ResultSink) Option {
	return func(e *Engine) { e.sink = sink }
}

// WithLogger sets the logger.
func WithLogger(l *logging.StandardLogger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l.WithComponent("engine")
		}
	}
}

// New creates an engine and starts its worker pool. Call Close to stop it.
func New(cfg Config, opts ...Option) (*Engine, error) {
	if cfg.Adjustment == "" {
		cfg.Adjustment = factors.AdjustmentHFQ
	}
	// A zero NumericConfig would round every output to an integer.
	if cfg.Numeric.TradingDaysPerYear == 0 {
		cfg.Numeric = factors.DefaultNumericConfig()
	}
	e := &Engine{
		config:    cfg,
		registry:  factors.DefaultRegistry(),
		validator: factors.NewValidator(),
		metrics:   NewMetrics(),
		logger:    logging.Nop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.coord = cache.NewCoordinator(e.store, e.logger)
	e.quality = quality.NewChecker(cfg.Quality, e.logger.Logger())

	if cfg.CrossCheck {
		ref, err := talib.NewProvider(cfg.Reference)
		if err != nil {
			return nil, fmt.Errorf("cross-check: %w", err)
		}
		e.reference = ref
	}

	sum := sha256.Sum256([]byte(fmt.Sprintf("%+v", cfg.Numeric)))
	e.numericTag = hex.EncodeToString(sum[:8])

	e.pool = workerpool.New(workerpool.Config{Workers: cfg.Workers, QueueSize: cfg.QueueSize})
	if err := e.pool.Start(); err != nil {
		return nil, fmt.Errorf("failed to start worker pool: %w", err)
	}
	return e, nil
}

// Close stops the worker pool after queued work finishes.
func (e *Engine) Close() error {
	return e.pool.Stop()
}

// Registry returns the factor registry.
func (e *Engine) Registry() *factors.Registry { return e.registry }

// Cache returns the cache coordinator.
func (e *Engine) Cache() *cache.Coordinator { return e.coord }

// Metrics returns the engine metrics.
func (e *Engine) Metrics() *Metrics { return e.metrics }

// Config returns the engine configuration.
func (e *Engine) Config() Config { return e.config }

// Compute runs every named factor over frame. An empty names list computes
// every registered factor. params maps factor names to raw parameters; a
// missing entry uses the factor's defaults.
//
// A failing factor never aborts the batch: its Outcome carries the error and
// Results has no entry for it. Compute itself fails only for problems with
// the frame as a whole.
func (e *Engine) Compute(ctx context.Context, names []string, frame *factors.Frame, params map[string]any, opts Options) (*BatchResult, error) {
	start := time.Now()
	if err := e.checkFrame(frame); err != nil {
		return nil, err
	}

	names = e.requested(names)
	adj := e.adjustment(opts)
	if err := e.checkSharedColumns(names, frame, adj); err != nil {
		return nil, err
	}

	batch := &BatchResult{
		RunID:    uuid.New().String(),
		Results:  make(map[string]*factors.Result, len(names)),
		Outcomes: make([]Outcome, len(names)),
	}
	logger := e.logger.WithRunID(batch.RunID)

	batch.Diagnostics = e.quality.Check(frame).Diagnostics()
	batch.Data = frame.Summary()
	e.lastData.Store(&batch.Data)
	fingerprint := e.fingerprint(frame, adj)
	normalized := normalizeParams(params)

	results := make([]*factors.Result, len(names))
	done := make([]<-chan workerpool.Result, len(names))
	for i, name := range names {
		task := workerpool.Task{
			ID: batch.RunID + "/" + name,
			Execute: func(context.Context) error {
				results[i], batch.Outcomes[i] = e.computeOne(ctx, batch.RunID, name, frame, normalized[name], fingerprint, adj, opts)
				return batch.Outcomes[i].Err
			},
		}
		ch, err := e.pool.SubmitAsync(ctx, task)
		if err != nil {
			batch.Outcomes[i] = failedOutcome(name, err)
			continue
		}
		done[i] = ch
	}

	for i, ch := range done {
		if ch == nil {
			continue
		}
		res := <-ch
		var panicErr *workerpool.PanicError
		if errors.As(res.Error, &panicErr) {
			logger.WithFactor(names[i]).Error("Factor computation panicked",
				zap.Any("panic", panicErr.Value),
				zap.ByteString("stack", panicErr.Stack))
			results[i] = nil
			batch.Outcomes[i] = failedOutcome(names[i], panicErr)
		}
	}

	for i, o := range batch.Outcomes {
		e.metrics.observe(o)
		switch o.Status {
		case StatusComputed:
			batch.Summary.Computed++
		case StatusCached:
			batch.Summary.Cached++
		case StatusCancelled:
			batch.Summary.Cancelled++
		default:
			batch.Summary.Failed++
		}
		if o.Err != nil {
			batch.errs = multierr.Append(batch.errs, fmt.Errorf("%s: %w", o.Factor, o.Err))
			continue
		}
		batch.Results[o.Factor] = results[i]
	}
	batch.Summary.Requested = len(names)
	batch.Duration = time.Since(start)

	e.metrics.BatchesTotal.Inc()
	e.metrics.BatchSeconds.Observe(batch.Duration.Seconds())
	logger.LogBatchSummary(batch.RunID, batch.Summary.Requested, batch.Summary.Computed,
		batch.Summary.Cached, batch.Summary.Failed+batch.Summary.Cancelled, batch.Duration)
	return batch, nil
}

// ComputeSingle computes one factor and returns its error directly.
func (e *Engine) ComputeSingle(ctx context.Context, name string, frame *factors.Frame, params any, opts Options) (*factors.Result, error) {
	if err := e.checkFrame(frame); err != nil {
		return nil, err
	}
	adj := e.adjustment(opts)
	result, outcome := e.computeOne(ctx, "", name, frame, params, e.fingerprint(frame, adj), adj, opts)
	e.metrics.observe(outcome)
	if outcome.Err != nil {
		return nil, outcome.Err
	}
	return result, nil
}

func (e *Engine) computeOne(ctx context.Context, runID, name string, frame *factors.Frame, raw any, fingerprint string, adj factors.Adjustment, opts Options) (*factors.Result, Outcome) {
	start := time.Now()
	outcome := Outcome{Factor: factors.NormalizeName(name), NoCache: opts.NoCache}
	fail := func(err error) (*factors.Result, Outcome) {
		outcome.Err = err
		outcome.Error = err.Error()
		outcome.Status = StatusFailed
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			outcome.Status = StatusCancelled
		}
		outcome.Duration = time.Since(start)
		return nil, outcome
	}

	if err := ctx.Err(); err != nil {
		return fail(err)
	}

	f, err := e.registry.Get(name)
	if err != nil {
		return fail(err)
	}
	outcome.Factor = f.Name()
	outcome.Category = f.Category()

	params, err := f.Schema().Validate(raw)
	if err != nil {
		return fail(err)
	}
	if missing := frame.MissingColumns(f.RequiredColumns(adj)...); len(missing) > 0 {
		return fail(factors.MissingColumnsError(f.Name(), missing))
	}

	computeOpts := factors.ComputeOptions{Numeric: e.config.Numeric, Adjustment: adj, Validator: e.validator}
	compute := func() (*factors.Result, error) {
		e.metrics.InFlight.Inc()
		defer e.metrics.InFlight.Dec()
		r, err := f.Compute(frame, params, computeOpts)
		if err != nil {
			return nil, err
		}
		if e.reference != nil {
			if diags := CrossCheck(e.reference, f.Name(), params, frame, r, adj); len(diags) > 0 {
				r = r.WithDiagnostics(append(append(factors.Diagnostics(nil), r.Diagnostics...), diags...))
			}
		}
		return r, nil
	}

	var (
		result *factors.Result
		hit    bool
	)
	if opts.NoCache {
		result, err = compute()
	} else {
		result, hit, err = e.coord.GetOrCompute(ctx, cache.KeyFor(f.Name(), params, fingerprint), compute)
	}
	if err != nil {
		return fail(err)
	}

	outcome.Status = StatusComputed
	if hit {
		outcome.Status = StatusCached
	}
	outcome.CacheHit = hit
	outcome.Rows = result.Len()
	outcome.Diagnostics = result.Diagnostics

	if opts.Persist && e.sink != nil {
		n, err := e.sink.SaveResult(ctx, runID, result)
		if err != nil {
			return fail(fmt.Errorf("persist: %w", err))
		}
		outcome.Persisted = n
	}

	outcome.Duration = time.Since(start)
	return result, outcome
}

func failedOutcome(name string, err error) Outcome {
	o := Outcome{Factor: factors.NormalizeName(name), Status: StatusFailed, Err: err, Error: err.Error()}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		o.Status = StatusCancelled
	}
	return o
}

func (e *Engine) checkFrame(frame *factors.Frame) error {
	if frame == nil || frame.Len() == 0 {
		return factors.ErrEmptyData
	}
	if missing := frame.MissingColumns(factors.ColTsCode, factors.ColTradeDate); len(missing) > 0 {
		return factors.MissingColumnsError("", missing)
	}
	return frame.Validate()
}

// checkSharedColumns fails when a column every requested factor needs is
// absent, since no factor could succeed.
func (e *Engine) checkSharedColumns(names []string, frame *factors.Frame, adj factors.Adjustment) error {
	var shared map[string]bool
	for _, name := range names {
		f, err := e.registry.Get(name)
		if err != nil {
			continue
		}
		cols := make(map[string]bool)
		for _, c := range f.RequiredColumns(adj) {
			if shared == nil || shared[c] {
				cols[c] = true
			}
		}
		shared = cols
	}
	var required []string
	for c := range shared {
		required = append(required, c)
	}
	sort.Strings(required)
	if missing := frame.MissingColumns(required...); len(missing) > 0 {
		return factors.MissingColumnsError("", missing)
	}
	return nil
}

func (e *Engine) requested(names []string) []string {
	if len(names) == 0 {
		return e.registry.Names()
	}
	seen := make(map[string]bool, len(names))
	out := make([]string, 0, len(names))
	for _, n := range names {
		key := factors.NormalizeName(n)
		if key == "" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, key)
	}
	return out
}

func (e *Engine) adjustment(opts Options) factors.Adjustment {
	if opts.Adjustment != "" {
		return opts.Adjustment
	}
	return e.config.Adjustment
}

// fingerprint identifies the input content together with everything else
// that changes the numbers: the adjustment and the numeric policy.
func (e *Engine) fingerprint(frame *factors.Frame, adj factors.Adjustment) string {
	return frame.Fingerprint() + "|" + string(adj) + "|" + e.numericTag
}

func normalizeParams(params map[string]any) map[string]any {
	out := make(map[string]any, len(params))
	for k, v := range params {
		out[factors.NormalizeName(k)] = v
	}
	return out
}
