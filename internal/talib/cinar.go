package talib

import (
	"sync"

	"github.com/cinar/indicator/v2/helper"
	"github.com/cinar/indicator/v2/trend"
	"github.com/cinar/indicator/v2/volatility"
	"github.com/cinar/indicator/v2/volume"
)

// Cinar computes indicators with github.com/cinar/indicator. The library is
// channel based; multi-output indicators are drained concurrently.
type Cinar struct{}

func (Cinar) Name() string { return string(ProviderTypeTalib) }

func (Cinar) SMA(values []float64, period int) []float64 {
	if period < 1 || len(values) < period {
		return nanSeries(len(values))
	}
	sma := trend.NewSmaWithPeriod[float64](period)
	return alignTail(len(values), helper.ChanToSlice(sma.Compute(helper.SliceToChan(values))))
}

func (Cinar) EMA(values []float64, period int) []float64 {
	if period < 1 || len(values) < period {
		return nanSeries(len(values))
	}
	ema := trend.NewEmaWithPeriod[float64](period)
	return alignTail(len(values), helper.ChanToSlice(ema.Compute(helper.SliceToChan(values))))
}

func (Cinar) MACD(values []float64, fast, slow, signal int) ([]float64, []float64) {
	n := len(values)
	if n < slow {
		return nanSeries(n), nanSeries(n)
	}
	macd := trend.NewMacdWithPeriod[float64](fast, slow, signal)
	macdLine, signalLine := macd.Compute(helper.SliceToChan(values))

	var (
		macdValues   []float64
		signalValues []float64
		wg           sync.WaitGroup
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		macdValues = helper.ChanToSlice(macdLine)
	}()
	go func() {
		defer wg.Done()
		signalValues = helper.ChanToSlice(signalLine)
	}()
	wg.Wait()

	return alignTail(n, macdValues), alignTail(n, signalValues)
}

func (Cinar) Bollinger(values []float64, period int) ([]float64, []float64, []float64) {
	n := len(values)
	if period < 1 || n < period {
		return nanSeries(n), nanSeries(n), nanSeries(n)
	}
	bb := volatility.NewBollingerBandsWithPeriod[float64](period)
	upper, middle, lower := bb.Compute(helper.SliceToChan(values))

	var (
		upperValues  []float64
		middleValues []float64
		lowerValues  []float64
		wg           sync.WaitGroup
	)
	wg.Add(3)
	go func() {
		defer wg.Done()
		upperValues = helper.ChanToSlice(upper)
	}()
	go func() {
		defer wg.Done()
		middleValues = helper.ChanToSlice(middle)
	}()
	go func() {
		defer wg.Done()
		lowerValues = helper.ChanToSlice(lower)
	}()
	wg.Wait()

	return alignTail(n, upperValues), alignTail(n, middleValues), alignTail(n, lowerValues)
}

func (Cinar) OBV(close, vol []float64) []float64 {
	if len(close) == 0 || len(close) != len(vol) {
		return nanSeries(len(close))
	}
	obv := volume.NewObv[float64]()
	return alignTail(len(close), helper.ChanToSlice(obv.Compute(helper.SliceToChan(close), helper.SliceToChan(vol))))
}
