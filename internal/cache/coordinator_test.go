package cache

import (
	"context"
	"errors"
	"math"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/irfndi/etffactor/pkg/factors"
)

func TestCoordinator_ComputesOncePerKey(t *testing.T) {
	coord := NewCoordinator(NewMemoryStore(0), nil)
	result, key := computeSMA(t, testFrame("A", 20, day0), 5)

	var calls atomic.Int32
	release := make(chan struct{})
	compute := func() (*factors.Result, error) {
		calls.Add(1)
		<-release
		return result, nil
	}

	const callers = 16
	var wg sync.WaitGroup
	hits := make([]bool, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			got, hit, err := coord.GetOrCompute(context.Background(), key, compute)
			assert.NoError(t, err)
			if assert.NotNil(t, got) {
				assert.Equal(t, result.Len(), got.Len())
			}
			hits[i] = hit
		}(i)
	}
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load())
	misses := 0
	for _, h := range hits {
		if !h {
			misses++
		}
	}
	assert.Equal(t, 1, misses)

	// Later callers are served from the store.
	_, hit, err := coord.GetOrCompute(context.Background(), key, compute)
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, int32(1), calls.Load())
}

func TestCoordinator_ErrorsAreNotCached(t *testing.T) {
	coord := NewCoordinator(NewMemoryStore(0), nil)
	result, key := computeSMA(t, testFrame("A", 20, day0), 5)
	boom := errors.New("boom")

	_, _, err := coord.GetOrCompute(context.Background(), key, func() (*factors.Result, error) { return nil, boom })
	assert.ErrorIs(t, err, boom)

	got, hit, err := coord.GetOrCompute(context.Background(), key, func() (*factors.Result, error) { return result, nil })
	require.NoError(t, err)
	assert.False(t, hit)
	assert.Same(t, result, got)
}

func TestCoordinator_PanicBecomesError(t *testing.T) {
	coord := NewCoordinator(nil, nil)
	_, key := computeSMA(t, testFrame("A", 20, day0), 5)

	_, _, err := coord.GetOrCompute(context.Background(), key, func() (*factors.Result, error) { panic("index out of range") })
	assert.ErrorContains(t, err, "panicked")
}

func TestCoordinator_ContextCancelled(t *testing.T) {
	coord := NewCoordinator(NewMemoryStore(0), nil)
	result, key := computeSMA(t, testFrame("A", 20, day0), 5)

	ctx, cancel := context.WithCancel(context.Background())
	release := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		_, _, err := coord.GetOrCompute(ctx, key, func() (*factors.Result, error) {
			<-release
			return result, nil
		})
		done <- err
	}()
	time.Sleep(20 * time.Millisecond)
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)

	// The computation still completes and is stored for the next caller.
	close(release)
	require.Eventually(t, func() bool {
		_, ok, _ := coord.Store().Get(context.Background(), key)
		return ok
	}, time.Second, 10*time.Millisecond)
}

func TestCoordinator_UpdateIncremental(t *testing.T) {
	ctx := context.Background()
	coord := NewCoordinator(NewMemoryStore(0), nil)

	full := testFrame("A", 30, day0)
	fullResult, _ := computeSMA(t, full, 3)

	// The cached history covers the first 25 days.
	head := testFrame("A", 25, day0)
	headResult, baseKey := computeSMA(t, head, 3)
	require.NoError(t, coord.Store().Put(ctx, baseKey, headResult))

	// The delta is computed over a tail window that includes enough history.
	tailFrame := factors.NewFrame(full.TsCode[20:], full.TradeDate[20:])
	closes, _ := full.Column("hfq_close")
	tailFrame.SetColumn("hfq_close", closes[20:])
	tailResult, _ := computeSMA(t, tailFrame, 3)
	delta := tailResult.Instrument("A", false)
	delta = &factors.Result{
		Factor: delta.Factor, Category: delta.Category, Params: delta.Params,
		TsCode: delta.TsCode[2:], TradeDate: delta.TradeDate[2:],
		Columns: []factors.Column{{Name: "SMA_3", DataType: delta.Columns[0].DataType, Values: delta.Columns[0].Values[2:]}},
	}

	nextKey := KeyFor("SMA", nil, full.Fingerprint())
	merged, err := coord.UpdateIncremental(ctx, baseKey, nextKey, delta)
	require.NoError(t, err)
	require.Equal(t, 30, merged.Len())

	want, _ := fullResult.Column("SMA_3")
	got, _ := merged.Column("SMA_3")
	for i := range want {
		assert.InDelta(t, want[i], got[i], 1e-9, "row %d", i)
	}

	stored, ok, err := coord.Store().Get(ctx, nextKey)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 30, stored.Len())
}

func TestMerge(t *testing.T) {
	d := func(i int) time.Time { return day0.AddDate(0, 0, i) }
	older := &factors.Result{
		Factor: "MOM", Params: "periods=1",
		TsCode:    []string{"B", "A", "A"},
		TradeDate: []time.Time{d(0), d(1), d(0)},
		Columns:   []factors.Column{{Name: "MOM_1", Values: []float64{7, 2, 1}}},
	}
	newer := &factors.Result{
		Factor: "MOM", Params: "periods=1",
		TsCode:    []string{"A", "A"},
		TradeDate: []time.Time{d(1), d(2)},
		Columns:   []factors.Column{{Name: "MOM_1", Values: []float64{20, math.NaN()}}},
	}

	merged, err := Merge(older, newer)
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "A", "A", "B"}, merged.TsCode)
	values, _ := merged.Column("MOM_1")
	assert.Equal(t, []float64{1, 20}, values[:2])
	assert.True(t, math.IsNaN(values[2]))
	assert.Equal(t, 7.0, values[3])

	_, err = Merge(older, &factors.Result{Factor: "MOM", Params: "periods=2"})
	assert.Error(t, err)
	_, err = Merge(older, &factors.Result{Factor: "MOM", Params: "periods=1", Columns: []factors.Column{{Name: "X"}}})
	assert.Error(t, err)
}
