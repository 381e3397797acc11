package talib

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ramp(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = float64(i + 1)
	}
	return out
}

func providers(t *testing.T) []Provider {
	t.Helper()
	var out []Provider
	for _, typ := range []ProviderType{ProviderTypeTalib, ProviderTypeGoFlux} {
		p, err := NewProvider(typ)
		require.NoError(t, err)
		out = append(out, p)
	}
	return out
}

func TestNewProvider(t *testing.T) {
	p, err := NewProvider("")
	require.NoError(t, err)
	assert.Equal(t, "talib", p.Name())

	p, err = NewProvider(ProviderTypeGoFlux)
	require.NoError(t, err)
	assert.Equal(t, "goflux", p.Name())

	_, err = NewProvider("unknown")
	assert.ErrorContains(t, err, "unknown indicator provider")
}

func TestProviders_SMA(t *testing.T) {
	for _, p := range providers(t) {
		t.Run(p.Name(), func(t *testing.T) {
			got := p.SMA(ramp(10), 3)
			require.Len(t, got, 10)
			assert.True(t, math.IsNaN(got[0]))
			assert.True(t, math.IsNaN(got[1]))
			for i := 2; i < 10; i++ {
				assert.InDelta(t, float64(i), got[i], 1e-9, "row %d", i)
			}
		})
	}
}

func TestProviders_ShortInput(t *testing.T) {
	for _, p := range providers(t) {
		t.Run(p.Name(), func(t *testing.T) {
			got := p.SMA(ramp(2), 5)
			require.Len(t, got, 2)
			assert.True(t, math.IsNaN(got[0]) && math.IsNaN(got[1]))

			upper, middle, lower := p.Bollinger(ramp(3), 20)
			assert.Len(t, upper, 3)
			assert.Len(t, middle, 3)
			assert.Len(t, lower, 3)

			macd, signal := p.MACD(ramp(5), 12, 26, 9)
			assert.Len(t, macd, 5)
			assert.Len(t, signal, 5)

			assert.Len(t, p.OBV(ramp(4), ramp(3)), 4)
		})
	}
}

func TestProviders_OutputsAreInputLength(t *testing.T) {
	values := make([]float64, 80)
	vol := make([]float64, 80)
	for i := range values {
		values[i] = 10 + math.Sin(float64(i)/4)
		vol[i] = 1000 + float64(i%7)*10
	}
	for _, p := range providers(t) {
		t.Run(p.Name(), func(t *testing.T) {
			assert.Len(t, p.EMA(values, 10), 80)
			macd, signal := p.MACD(values, 12, 26, 9)
			assert.Len(t, macd, 80)
			assert.Len(t, signal, 80)
			assert.False(t, math.IsNaN(macd[79]))

			upper, middle, lower := p.Bollinger(values, 20)
			require.Len(t, middle, 80)
			assert.GreaterOrEqual(t, upper[79], middle[79])
			assert.LessOrEqual(t, lower[79], middle[79])

			assert.Len(t, p.OBV(values, vol), 80)
		})
	}
}

func TestAlignTail(t *testing.T) {
	got := alignTail(4, []float64{1, 2})
	assert.True(t, math.IsNaN(got[0]))
	assert.True(t, math.IsNaN(got[1]))
	assert.Equal(t, []float64{1, 2}, got[2:])

	assert.Equal(t, []float64{2, 3}, alignTail(2, []float64{1, 2, 3}))
}
