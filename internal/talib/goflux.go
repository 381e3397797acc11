package talib

import (
	"time"

	godecimal "github.com/irfndi/goflux/pkg/decimal"
	"github.com/irfndi/goflux/pkg/indicators"
	"github.com/irfndi/goflux/pkg/series"
)

var baseTimestamp = time.Unix(0, 0)

// GoFlux computes indicators with github.com/irfndi/goflux. Values are
// converted into one-hour candles because the library works on a time series.
type GoFlux struct{}

func (GoFlux) Name() string { return string(ProviderTypeGoFlux) }

func (GoFlux) SMA(values []float64, period int) []float64 {
	if period < 1 || len(values) < period {
		return nanSeries(len(values))
	}
	ts := candles(values, nil)
	sma := indicators.NewSimpleMovingAverage(indicators.NewClosePriceIndicator(ts), period)
	return extract(ts, sma, period-1)
}

func (GoFlux) EMA(values []float64, period int) []float64 {
	if period < 1 || len(values) < period {
		return nanSeries(len(values))
	}
	ts := candles(values, nil)
	ema := indicators.NewEMAIndicator(indicators.NewClosePriceIndicator(ts), period)
	return extract(ts, ema, period-1)
}

func (GoFlux) MACD(values []float64, fast, slow, signal int) ([]float64, []float64) {
	if len(values) < slow {
		return nanSeries(len(values)), nanSeries(len(values))
	}
	ts := candles(values, nil)
	macd := indicators.NewMACDIndicator(indicators.NewClosePriceIndicator(ts), fast, slow)
	signalLine := indicators.NewEMAIndicator(macd, signal)
	return extract(ts, macd, slow-1), extract(ts, signalLine, slow+signal-2)
}

func (GoFlux) Bollinger(values []float64, period int) ([]float64, []float64, []float64) {
	n := len(values)
	if period < 1 || n < period {
		return nanSeries(n), nanSeries(n), nanSeries(n)
	}
	ts := candles(values, nil)
	closePrice := indicators.NewClosePriceIndicator(ts)
	upper := indicators.NewBollingerUpperBandIndicator(closePrice, period, 2)
	middle := indicators.NewSimpleMovingAverage(closePrice, period)
	lower := indicators.NewBollingerLowerBandIndicator(closePrice, period, 2)
	return extract(ts, upper, period-1), extract(ts, middle, period-1), extract(ts, lower, period-1)
}

func (GoFlux) OBV(close, vol []float64) []float64 {
	if len(close) == 0 || len(close) != len(vol) {
		return nanSeries(len(close))
	}
	ts := candles(close, vol)
	return extract(ts, indicators.NewOBVIndicator(ts), 0)
}

// candles builds a series whose candles all open, close, and range at the
// given value. vol may be nil.
func candles(values, vol []float64) *series.TimeSeries {
	ts := series.NewTimeSeries()
	for i, v := range values {
		period := series.NewTimePeriod(baseTimestamp.Add(time.Duration(i)*time.Hour), time.Hour)
		candle := series.NewCandle(period)
		candle.OpenPrice = godecimal.New(v)
		candle.ClosePrice = godecimal.New(v)
		candle.MaxPrice = godecimal.New(v)
		candle.MinPrice = godecimal.New(v)
		if vol != nil {
			candle.Volume = godecimal.New(vol[i])
		} else {
			candle.Volume = godecimal.New(0)
		}
		ts.AddCandle(candle)
	}
	return ts
}

// extract evaluates indicator from row start onwards; earlier rows are NaN.
func extract(ts *series.TimeSeries, indicator indicators.Indicator, start int) []float64 {
	n := len(ts.Candles)
	out := nanSeries(n)
	for i := start; i < n; i++ {
		out[i] = indicator.Calculate(i).Float()
	}
	return out
}
