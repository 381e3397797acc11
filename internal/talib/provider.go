// Package talib wraps third-party indicator libraries behind one interface so
// factor outputs can be cross-checked against an independent implementation.
package talib

import (
	"fmt"
	"math"
)

// ProviderType names an indicator library.
type ProviderType string

const (
	// ProviderTypeTalib uses github.com/cinar/indicator.
	ProviderTypeTalib ProviderType = "talib"
	// ProviderTypeGoFlux uses github.com/irfndi/goflux.
	ProviderTypeGoFlux ProviderType = "goflux"
)

// Provider computes reference indicators. Every output has the same length
// as its input; rows the library does not produce are NaN.
type Provider interface {
	Name() string

	SMA(values []float64, period int) []float64
	EMA(values []float64, period int) []float64
	MACD(values []float64, fast, slow, signal int) (macd, signalLine []float64)
	// Bollinger uses two standard deviations.
	Bollinger(values []float64, period int) (upper, middle, lower []float64)
	OBV(close, volume []float64) []float64
}

// NewProvider returns the provider for t. An empty type selects talib.
func NewProvider(t ProviderType) (Provider, error) {
	switch t {
	case "", ProviderTypeTalib:
		return Cinar{}, nil
	case ProviderTypeGoFlux:
		return GoFlux{}, nil
	default:
		return nil, fmt.Errorf("unknown indicator provider %q", t)
	}
}

// alignTail right-aligns values into a slice of length n padded with NaN.
// Libraries emit only the rows after their warm-up.
func alignTail(n int, values []float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = math.NaN()
	}
	if len(values) > n {
		values = values[len(values)-n:]
	}
	copy(out[n-len(values):], values)
	return out
}

func nanSeries(n int) []float64 {
	return alignTail(n, nil)
}
