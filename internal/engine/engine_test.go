package engine

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/irfndi/etffactor/internal/cache"
	"github.com/irfndi/etffactor/internal/talib"
	"github.com/irfndi/etffactor/pkg/factors"
)

var day0 = time.Date(2023, 1, 2, 0, 0, 0, 0, time.UTC)

// ohlcv builds n daily bars per instrument with a smooth, strictly positive
// price path.
func ohlcv(n int, codes ...string) *factors.Frame {
	var (
		tsCodes []string
		dates   []time.Time
	)
	cols := map[string][]float64{}
	for c, code := range codes {
		for i := 0; i < n; i++ {
			base := 3 + float64(c) + 0.2*math.Sin(float64(i)/5) + 0.005*float64(i)
			tsCodes = append(tsCodes, code)
			dates = append(dates, day0.AddDate(0, 0, i))
			cols["hfq_open"] = append(cols["hfq_open"], base-0.01)
			cols["hfq_high"] = append(cols["hfq_high"], base+0.03)
			cols["hfq_low"] = append(cols["hfq_low"], base-0.04)
			cols["hfq_close"] = append(cols["hfq_close"], base)
			cols["vol"] = append(cols["vol"], 1e6+5e4*math.Cos(float64(i)/3))
			cols["amount"] = append(cols["amount"], base*1e6)
		}
	}
	f := factors.NewFrame(tsCodes, dates)
	for name, values := range cols {
		f.SetColumn(name, values)
	}
	return f
}

func newEngine(t *testing.T, cfg Config, opts ...Option) *Engine {
	t.Helper()
	e, err := New(cfg, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close() })
	return e
}

func outcome(t *testing.T, b *BatchResult, name string) Outcome {
	t.Helper()
	for _, o := range b.Outcomes {
		if o.Factor == name {
			return o
		}
	}
	t.Fatalf("no outcome for %s", name)
	return Outcome{}
}

func TestCompute_AllBuiltins(t *testing.T) {
	e := newEngine(t, DefaultConfig(), WithCache(cache.NewMemoryStore(0)))
	frame := ohlcv(120, "510300.SH", "159915.SZ")

	batch, err := e.Compute(context.Background(), nil, frame, nil, Options{})
	require.NoError(t, err)
	require.NoError(t, batch.Err())

	total := len(factors.DefaultRegistry().Names())
	assert.Equal(t, total, batch.Summary.Requested)
	assert.Equal(t, total, batch.Summary.Computed)
	assert.Len(t, batch.Results, total)
	assert.NotEmpty(t, batch.RunID)
	for _, r := range batch.Results {
		assert.Equal(t, frame.Len(), r.Len(), r.Factor)
	}

	byCat := batch.ByCategory()
	for _, cat := range factors.Categories {
		assert.NotEmpty(t, byCat[cat], cat)
	}

	combined, err := batch.Combined()
	require.NoError(t, err)
	assert.Equal(t, frame.Len(), combined.Len())
}

func TestCompute_CacheHitIsBitIdentical(t *testing.T) {
	e := newEngine(t, DefaultConfig(), WithCache(cache.NewMemoryStore(0)))
	frame := ohlcv(80, "510300.SH")
	names := []string{"sma", "EMA", "MACD", "RSI", "BOLL"}
	params := map[string]any{"sma": []int{20, 5, 20}}

	first, err := e.Compute(context.Background(), names, frame, params, Options{})
	require.NoError(t, err)
	second, err := e.Compute(context.Background(), names, frame, params, Options{})
	require.NoError(t, err)

	assert.Equal(t, 5, first.Summary.Computed)
	assert.Equal(t, 5, second.Summary.Cached)
	assert.True(t, outcome(t, second, "SMA").CacheHit)

	for name, want := range first.Results {
		got := second.Results[name]
		require.NotNil(t, got, name)
		require.Equal(t, want.ColumnNames(), got.ColumnNames())
		for c := range want.Columns {
			for i, v := range want.Columns[c].Values {
				g := got.Columns[c].Values[i]
				if math.IsNaN(v) {
					assert.True(t, math.IsNaN(g))
					continue
				}
				assert.Equal(t, math.Float64bits(v), math.Float64bits(g), "%s %s[%d]", name, want.Columns[c].Name, i)
			}
		}
	}
	assert.Equal(t, []string{"SMA_5", "SMA_20"}, first.Results["SMA"].ColumnNames())

	assert.Equal(t, 1.0, testutil.ToFloat64(e.Metrics().FactorsTotal.WithLabelValues("SMA", "computed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(e.Metrics().FactorsTotal.WithLabelValues("SMA", "cached")))
	assert.Equal(t, 5.0, testutil.ToFloat64(e.Metrics().CacheRequests.WithLabelValues("hit")))
	assert.Equal(t, 5.0, testutil.ToFloat64(e.Metrics().CacheRequests.WithLabelValues("miss")))
	assert.Equal(t, 2.0, testutil.ToFloat64(e.Metrics().BatchesTotal))
}

func TestCompute_NoCache(t *testing.T) {
	store := cache.NewMemoryStore(0)
	e := newEngine(t, DefaultConfig(), WithCache(store))
	frame := ohlcv(40, "A")

	for i := 0; i < 2; i++ {
		batch, err := e.Compute(context.Background(), []string{"SMA"}, frame, nil, Options{NoCache: true})
		require.NoError(t, err)
		assert.Equal(t, StatusComputed, outcome(t, batch, "SMA").Status)
	}
	info, err := store.Info(context.Background())
	require.NoError(t, err)
	assert.Zero(t, info.Entries)
}

func TestCompute_FailuresAreIsolated(t *testing.T) {
	e := newEngine(t, DefaultConfig())
	frame := ohlcv(60, "A")
	delete(frame.Columns, "amount")

	names := []string{"SMA", "NOPE", "RSI", "EMA", "OBV"}
	params := map[string]any{"RSI": map[string]any{"periods": []int{0}}}

	batch, err := e.Compute(context.Background(), names, frame, params, Options{})
	require.NoError(t, err)

	assert.Equal(t, StatusComputed, outcome(t, batch, "SMA").Status)
	assert.Equal(t, StatusComputed, outcome(t, batch, "EMA").Status)
	assert.Equal(t, StatusComputed, outcome(t, batch, "OBV").Status)

	unknown := outcome(t, batch, "NOPE")
	assert.Equal(t, StatusFailed, unknown.Status)
	assert.ErrorIs(t, unknown.Err, factors.ErrUnknownFactor)

	rsi := outcome(t, batch, "RSI")
	assert.Equal(t, StatusFailed, rsi.Status)
	assert.ErrorIs(t, rsi.Err, factors.ErrInvalidParameter)
	assert.NotContains(t, batch.Results, "RSI")
	assert.NotContains(t, batch.Results, "NOPE")

	assert.Equal(t, 3, batch.Summary.Computed)
	assert.Equal(t, 2, batch.Summary.Failed)
	require.Error(t, batch.Err())
	assert.ErrorIs(t, batch.Err(), factors.ErrUnknownFactor)
	assert.Contains(t, batch.Err().Error(), "RSI")
	assert.Equal(t, []string{"SMA", "EMA", "OBV"}, batch.Names())
}

func TestCompute_MissingColumnForOneFactor(t *testing.T) {
	e := newEngine(t, DefaultConfig())
	frame := ohlcv(60, "A")
	delete(frame.Columns, "vol")

	batch, err := e.Compute(context.Background(), []string{"SMA", "OBV"}, frame, nil, Options{})
	require.NoError(t, err)
	assert.Equal(t, StatusComputed, outcome(t, batch, "SMA").Status)
	assert.ErrorIs(t, outcome(t, batch, "OBV").Err, factors.ErrMissingColumns)
}

func TestCompute_FrameErrors(t *testing.T) {
	e := newEngine(t, DefaultConfig())

	_, err := e.Compute(context.Background(), []string{"SMA"}, factors.NewFrame(nil, nil), nil, Options{})
	assert.ErrorIs(t, err, factors.ErrEmptyData)

	frame := ohlcv(30, "A")
	delete(frame.Columns, "hfq_close")
	_, err = e.Compute(context.Background(), []string{"SMA", "EMA", "RSI"}, frame, nil, Options{})
	assert.ErrorIs(t, err, factors.ErrMissingColumns)

	frame = ohlcv(30, "A")
	frame.TradeDate[1] = frame.TradeDate[0]
	_, err = e.Compute(context.Background(), []string{"SMA"}, frame, nil, Options{})
	assert.ErrorIs(t, err, factors.ErrInvalidFrame)

	frame = ohlcv(30, "A")
	frame.TsCode = nil
	_, err = e.Compute(context.Background(), []string{"SMA"}, frame, nil, Options{})
	assert.ErrorIs(t, err, factors.ErrMissingColumns)
}

func TestCompute_Cancelled(t *testing.T) {
	e := newEngine(t, DefaultConfig())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	batch, err := e.Compute(ctx, []string{"SMA", "EMA"}, ohlcv(30, "A"), nil, Options{})
	require.NoError(t, err)
	assert.Equal(t, 2, batch.Summary.Cancelled)
	assert.Empty(t, batch.Results)
	assert.ErrorIs(t, batch.Err(), context.Canceled)
}

func TestCompute_RowOrderIndependent(t *testing.T) {
	e := newEngine(t, DefaultConfig())
	frame := ohlcv(50, "A", "B")

	// Reverse every row; values must follow their (ts_code, trade_date) key.
	n := frame.Len()
	rev := factors.NewFrame(make([]string, n), make([]time.Time, n))
	for i := 0; i < n; i++ {
		rev.TsCode[i] = frame.TsCode[n-1-i]
		rev.TradeDate[i] = frame.TradeDate[n-1-i]
	}
	for name, values := range frame.Columns {
		out := make([]float64, n)
		for i := range values {
			out[i] = values[n-1-i]
		}
		rev.SetColumn(name, out)
	}

	a, err := e.ComputeSingle(context.Background(), "EMA", frame, []int{10}, Options{NoCache: true})
	require.NoError(t, err)
	b, err := e.ComputeSingle(context.Background(), "EMA", rev, []int{10}, Options{NoCache: true})
	require.NoError(t, err)

	av, _ := a.Column("EMA_10")
	bv, _ := b.Column("EMA_10")
	for i := 0; i < n; i++ {
		assert.Equal(t, av[i], bv[n-1-i], "row %d", i)
	}
}

func TestComputeSingle_PropagatesErrors(t *testing.T) {
	e := newEngine(t, DefaultConfig())
	frame := ohlcv(30, "A")

	_, err := e.ComputeSingle(context.Background(), "SMA", frame, map[string]any{"periods": []int{-1}}, Options{})
	var fe *factors.FactorError
	require.True(t, errors.As(err, &fe))
	assert.ErrorIs(t, err, factors.ErrInvalidParameter)

	_, err = e.ComputeSingle(context.Background(), "UNKNOWN", frame, nil, Options{})
	assert.ErrorIs(t, err, factors.ErrUnknownFactor)

	_, err = e.ComputeSingle(context.Background(), "SMA", nil, nil, Options{})
	assert.ErrorIs(t, err, factors.ErrEmptyData)

	r, err := e.ComputeSingle(context.Background(), "sma", frame, nil, Options{})
	require.NoError(t, err)
	assert.Equal(t, "SMA", r.Factor)
}

func TestCompute_AdjustmentOverride(t *testing.T) {
	e := newEngine(t, DefaultConfig(), WithCache(cache.NewMemoryStore(0)))
	frame := ohlcv(30, "A")
	closes, _ := frame.Column("hfq_close")
	raw := make([]float64, len(closes))
	for i, v := range closes {
		raw[i] = v * 2
	}
	frame.SetColumn("close", raw)

	hfq, err := e.ComputeSingle(context.Background(), "SMA", frame, []int{5}, Options{})
	require.NoError(t, err)
	rawResult, err := e.ComputeSingle(context.Background(), "SMA", frame, []int{5}, Options{Adjustment: factors.AdjustmentRaw})
	require.NoError(t, err)

	h, _ := hfq.Column("SMA_5")
	r, _ := rawResult.Column("SMA_5")
	assert.InDelta(t, 2*h[20], r[20], 1e-5)
}

type recordingSink struct {
	mu    sync.Mutex
	runs  []string
	names []string
	err   error
}

func (s *recordingSink) SaveResult(_ context.Context, runID string, r *factors.Result) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return 0, s.err
	}
	s.runs = append(s.runs, runID)
	s.names = append(s.names, r.Factor)
	return int64(r.Len() * len(r.Columns)), nil
}

func TestCompute_Persist(t *testing.T) {
	sink := &recordingSink{}
	e := newEngine(t, DefaultConfig(), WithSink(sink))
	frame := ohlcv(30, "A")

	batch, err := e.Compute(context.Background(), []string{"SMA", "OBV"}, frame, map[string]any{"SMA": []int{5}}, Options{Persist: true})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"SMA", "OBV"}, sink.names)
	assert.Equal(t, []string{batch.RunID, batch.RunID}, sink.runs)
	assert.Equal(t, int64(30), outcome(t, batch, "SMA").Persisted)

	sink.err = errors.New("connection refused")
	batch, err = e.Compute(context.Background(), []string{"SMA"}, frame, nil, Options{Persist: true})
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, outcome(t, batch, "SMA").Status)
	assert.ErrorContains(t, batch.Err(), "connection refused")
}

func TestCompute_QualityDiagnostics(t *testing.T) {
	e := newEngine(t, DefaultConfig())
	frame := ohlcv(30, "A")
	for i := 20; i < 30; i++ {
		frame.TradeDate[i] = frame.TradeDate[i].AddDate(0, 1, 0)
	}

	batch, err := e.Compute(context.Background(), []string{"SMA"}, frame, nil, Options{})
	require.NoError(t, err)
	assert.True(t, batch.Diagnostics.HasCode(factors.CodeDataQuality))
}

func TestCompute_CrossCheckAgrees(t *testing.T) {
	cfg := DefaultConfig()
	cfg.CrossCheck = true
	e := newEngine(t, cfg)

	batch, err := e.Compute(context.Background(), []string{"SMA", "VMA", "BOLL"}, ohlcv(60, "A", "B"), nil, Options{})
	require.NoError(t, err)
	require.NoError(t, batch.Err())
	for _, o := range batch.Outcomes {
		assert.False(t, o.Diagnostics.HasCode(factors.CodeReferenceMismatch), "%s: %v", o.Factor, o.Diagnostics)
	}
}

func TestCrossCheck_ReportsDivergence(t *testing.T) {
	frame := ohlcv(40, "A")
	f := factors.NewSMA()
	params, err := f.Schema().Validate([]int{5})
	require.NoError(t, err)
	result, err := f.Compute(frame, params, factors.DefaultComputeOptions())
	require.NoError(t, err)

	ref, err := talib.NewProvider(talib.ProviderTypeTalib)
	require.NoError(t, err)
	assert.Empty(t, CrossCheck(ref, "SMA", params, frame, result, factors.AdjustmentHFQ))

	tampered := result.Clone()
	tampered.Columns[0].Values[30] *= 1.5
	diags := CrossCheck(ref, "SMA", params, frame, tampered, factors.AdjustmentHFQ)
	require.Len(t, diags, 1)
	assert.Equal(t, factors.CodeReferenceMismatch, diags[0].Code)
	assert.Equal(t, "SMA_5", diags[0].Column)
	assert.Contains(t, diags[0].Message, "1 of 36 rows")

	// Factors without a reference never produce diagnostics.
	assert.Empty(t, CrossCheck(ref, "KDJ", factors.KDParams{}, frame, tampered, factors.AdjustmentHFQ))
}

func TestCrossCheck_GroupsRowsLikeCompute(t *testing.T) {
	frame := ohlcv(40, "A", "B")
	n := frame.Len()
	order := make([]int, n)
	for i := range order {
		// interleave instruments and reverse dates
		order[i] = (i%2)*40 + 39 - i/2
	}
	shuffled := factors.NewFrame(make([]string, n), make([]time.Time, n))
	for i, src := range order {
		shuffled.TsCode[i] = frame.TsCode[src]
		shuffled.TradeDate[i] = frame.TradeDate[src]
	}
	for name, values := range frame.Columns {
		out := make([]float64, n)
		for i, src := range order {
			out[i] = values[src]
		}
		shuffled.SetColumn(name, out)
	}
	require.Len(t, shuffled.InstrumentRows(), 2)

	f := factors.NewSMA()
	params, err := f.Schema().Validate([]int{5, 10})
	require.NoError(t, err)
	result, err := f.Compute(shuffled, params, factors.DefaultComputeOptions())
	require.NoError(t, err)

	ref, err := talib.NewProvider(talib.ProviderTypeTalib)
	require.NoError(t, err)
	assert.Empty(t, CrossCheck(ref, "SMA", params, shuffled, result, factors.AdjustmentHFQ))
}

func TestNew_UnknownReference(t *testing.T) {
	cfg := DefaultConfig()
	cfg.CrossCheck = true
	cfg.Reference = "ta4j"
	_, err := New(cfg)
	assert.Error(t, err)
}

func TestInfo(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Workers = 3
	e := newEngine(t, cfg, WithCache(cache.NewMemoryStore(time.Hour)))
	assert.Nil(t, e.Info(context.Background()).Data)

	frame := ohlcv(20, "A")
	batch, err := e.Compute(context.Background(), []string{"SMA"}, frame, nil, Options{})
	require.NoError(t, err)
	assert.Equal(t, 20, batch.Data.Rows)
	assert.Equal(t, day0, batch.Data.Start)
	assert.Equal(t, day0.AddDate(0, 0, 19), batch.Data.End)

	info := e.Info(context.Background())
	require.NotNil(t, info.Data)
	assert.Equal(t, frame.Summary(), *info.Data)
	assert.Equal(t, len(factors.DefaultRegistry().Names()), info.Factors)
	assert.Equal(t, 3, info.Workers)
	assert.Equal(t, 64, info.QueueSize)
	assert.Equal(t, factors.AdjustmentHFQ, info.Adjustment)
	assert.Equal(t, "memory", info.Cache.Backend)
	assert.Equal(t, 1, info.Cache.Entries)
	assert.Equal(t, "1h0m0s", info.Cache.TTL)
	assert.Contains(t, info.ByCategory[factors.CategoryMovingAverage], "SMA")
	assert.Empty(t, info.CrossCheck)
}
