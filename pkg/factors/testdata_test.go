package factors

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testStart = time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)

// syntheticFrame builds a deterministic wavy OHLCV series for one instrument.
func syntheticFrame(code string, n int) *Frame {
	codes := make([]string, n)
	dates := make([]time.Time, n)
	open := make([]float64, n)
	high := make([]float64, n)
	low := make([]float64, n)
	closes := make([]float64, n)
	vol := make([]float64, n)
	amount := make([]float64, n)
	for i := 0; i < n; i++ {
		x := float64(i)
		c := 10 + 2*math.Sin(x*0.7) + 0.1*x
		codes[i] = code
		dates[i] = testStart.AddDate(0, 0, i)
		open[i] = c - 0.2*math.Cos(x)
		high[i] = c + 0.5 + 0.1*math.Abs(math.Cos(x))
		low[i] = c - 0.5 - 0.1*math.Abs(math.Sin(x))
		closes[i] = c
		vol[i] = 1000 + 100*float64(i%7)
		amount[i] = vol[i] * c
	}
	return frameFrom(codes, dates, open, high, low, closes, vol, amount)
}

// constantFrame holds the same price and volume on every row.
func constantFrame(code string, n int, price float64) *Frame {
	codes := make([]string, n)
	dates := make([]time.Time, n)
	prices := make([]float64, n)
	vol := make([]float64, n)
	for i := 0; i < n; i++ {
		codes[i] = code
		dates[i] = testStart.AddDate(0, 0, i)
		prices[i] = price
		vol[i] = 1000
	}
	return frameFrom(codes, dates, prices, prices, prices, prices, vol, vol)
}

func tradeDates(n int) []time.Time {
	dates := make([]time.Time, n)
	for i := range dates {
		dates[i] = testStart.AddDate(0, 0, i)
	}
	return dates
}

func repeat(code string, n int) []string {
	codes := make([]string, n)
	for i := range codes {
		codes[i] = code
	}
	return codes
}

func frameFrom(codes []string, dates []time.Time, open, high, low, closes, vol, amount []float64) *Frame {
	f := NewFrame(codes, dates)
	f.SetColumn("hfq_open", open)
	f.SetColumn("hfq_high", high)
	f.SetColumn("hfq_low", low)
	f.SetColumn("hfq_close", closes)
	f.SetColumn(ColVol, vol)
	f.SetColumn(ColAmount, amount)
	return f
}

// concatFrames appends the rows of several frames.
func concatFrames(frames ...*Frame) *Frame {
	out := NewFrame(nil, nil)
	for _, f := range frames {
		out.TsCode = append(out.TsCode, f.TsCode...)
		out.TradeDate = append(out.TradeDate, f.TradeDate...)
		for _, name := range f.ColumnNames() {
			out.Columns[name] = append(out.Columns[name], f.Columns[name]...)
		}
	}
	return out
}

// permuteFrame reorders rows so that row i of the result is row perm[i].
func permuteFrame(f *Frame, perm []int) *Frame {
	out := NewFrame(make([]string, len(perm)), make([]time.Time, len(perm)))
	for i, p := range perm {
		out.TsCode[i] = f.TsCode[p]
		out.TradeDate[i] = f.TradeDate[p]
	}
	for _, name := range f.ColumnNames() {
		values := make([]float64, len(perm))
		for i, p := range perm {
			values[i] = f.Columns[name][p]
		}
		out.Columns[name] = values
	}
	return out
}

func compute(t *testing.T, f Factor, frame *Frame, raw any) *Result {
	t.Helper()
	params, err := f.Schema().Validate(raw)
	require.NoError(t, err)
	result, err := f.Compute(frame, params, DefaultComputeOptions())
	require.NoError(t, err)
	return result
}

func column(t *testing.T, r *Result, name string) []float64 {
	t.Helper()
	values, ok := r.Column(name)
	require.True(t, ok, "missing column %s", name)
	return values
}

// assertSameValues compares slices treating NaN as equal to NaN.
func assertSameValues(t *testing.T, expected, actual []float64) {
	t.Helper()
	require.Len(t, actual, len(expected))
	for i := range expected {
		if math.IsNaN(expected[i]) {
			assert.True(t, math.IsNaN(actual[i]), "row %d: expected NaN, got %v", i, actual[i])
			continue
		}
		assert.Equal(t, expected[i], actual[i], "row %d", i)
	}
}
