package factors

import (
	"fmt"
	"math"
)

var nonNegative = Range{Min: 0, Max: math.NaN()}

// periodOutputs declares one column per period named PREFIX_period.
func periodOutputs(prefix string, dt DataType, r Range, warmUp func(period int) int) func(ParameterSet) []OutputSpec {
	return func(p ParameterSet) []OutputSpec {
		pp, _ := p.(PeriodsParams)
		specs := make([]OutputSpec, len(pp.Periods))
		for i, period := range pp.Periods {
			w := 0
			if warmUp != nil {
				w = warmUp(period)
			}
			specs[i] = OutputSpec{Name: fmt.Sprintf("%s_%d", prefix, period), DataType: dt, Range: r, WarmUp: w}
		}
		return specs
	}
}

// perPeriod runs fn for every configured period of a PeriodsParams factor.
func perPeriod(factor, prefix string, fn func(s Series, period int, cfg NumericConfig) []float64) Algorithm {
	return func(s Series, p ParameterSet, cfg NumericConfig) (map[string][]float64, error) {
		periods, err := periodsOf(factor, p)
		if err != nil {
			return nil, err
		}
		out := make(map[string][]float64, len(periods))
		for _, period := range periods {
			out[fmt.Sprintf("%s_%d", prefix, period)] = fn(s, period, cfg)
		}
		return out, nil
	}
}

func warmUpN(period int) int { return period }

// NewSMA builds the simple moving average of close.
func NewSMA() Factor {
	return &Definition{
		FactorName: "SMA",
		Cat:        CategoryMovingAverage,
		Desc:       "Simple moving average of close",
		Formula:    "SMA_N = mean(close[t-N+1..t]), min_periods=1",
		Params:     PeriodsSchema{Factor: "SMA", Defaults: []int{5, 10, 20, 60}, Min: 1, Max: 252},
		Inputs:     []string{InputClose},
		OutputsFor: periodOutputs("SMA", DataTypePrice, nonNegative, nil),
		Run: perPeriod("SMA", "SMA", func(s Series, period int, _ NumericConfig) []float64 {
			return rollingMean(s.Close, period, 1)
		}),
	}
}

// NewEMA builds the exponential moving average of close.
func NewEMA() Factor {
	return &Definition{
		FactorName: "EMA",
		Cat:        CategoryMovingAverage,
		Desc:       "Exponential moving average of close",
		Formula:    "EMA_t = EMA_{t-1}*(1-a) + close_t*a, a = 2/(N+1), seeded by the first close",
		Params:     PeriodsSchema{Factor: "EMA", Defaults: []int{5, 10, 20, 60}, Min: 2, Max: 252},
		Inputs:     []string{InputClose},
		OutputsFor: periodOutputs("EMA", DataTypePrice, nonNegative, nil),
		Run: perPeriod("EMA", "EMA", func(s Series, period int, _ NumericConfig) []float64 {
			return ewmSpan(s.Close, period)
		}),
	}
}

// NewWMA builds the linearly weighted moving average of close.
func NewWMA() Factor {
	return &Definition{
		FactorName: "WMA",
		Cat:        CategoryMovingAverage,
		Desc:       "Linearly weighted moving average of close",
		Formula:    "WMA_N = sum(w_i * close_i) / sum(w_i), w = 1..N",
		Params:     PeriodsSchema{Factor: "WMA", Defaults: []int{5, 10, 20, 60}, Min: 1, Max: 252},
		Inputs:     []string{InputClose},
		OutputsFor: periodOutputs("WMA", DataTypePrice, nonNegative, nil),
		Run: perPeriod("WMA", "WMA", func(s Series, period int, _ NumericConfig) []float64 {
			return weightedMean(s.Close, period)
		}),
	}
}

// NewVMA builds the moving average of volume.
func NewVMA() Factor {
	return &Definition{
		FactorName: "VMA",
		Cat:        CategoryVolumePrice,
		Desc:       "Simple moving average of volume",
		Formula:    "VMA_N = mean(vol[t-N+1..t]), min_periods=1",
		Params:     PeriodsSchema{Factor: "VMA", Defaults: []int{5, 10, 20}, Min: 1, Max: 252},
		Inputs:     []string{InputVol},
		OutputsFor: periodOutputs("VMA", DataTypeVolume, nonNegative, nil),
		Run: perPeriod("VMA", "VMA", func(s Series, period int, _ NumericConfig) []float64 {
			return rollingMean(s.Vol, period, 1)
		}),
	}
}

// NewMADiff builds the spread between a short and a long SMA.
func NewMADiff() Factor {
	return &Definition{
		FactorName: "MA_DIFF",
		Cat:        CategoryMovingAverage,
		Desc:       "Difference between short and long simple moving averages",
		Formula:    "MA_DIFF_S_L = SMA_S - SMA_L",
		Params: PairsSchema{
			Factor:   "MA_DIFF",
			Defaults: []PeriodPair{{5, 10}, {5, 20}, {10, 20}, {10, 60}},
			Min:      2,
			Max:      252,
		},
		Inputs: []string{InputClose},
		OutputsFor: func(p ParameterSet) []OutputSpec {
			pp, _ := p.(PairsParams)
			specs := make([]OutputSpec, len(pp.Pairs))
			for i, pair := range pp.Pairs {
				specs[i] = OutputSpec{Name: maDiffColumn(pair), DataType: DataTypePrice, Range: Unbounded}
			}
			return specs
		},
		Run: func(s Series, p ParameterSet, _ NumericConfig) (map[string][]float64, error) {
			pp, ok := p.(PairsParams)
			if !ok {
				return nil, wrongParams("MA_DIFF", p, "PairsParams")
			}
			means := make(map[int][]float64)
			mean := func(period int) []float64 {
				if m, ok := means[period]; ok {
					return m
				}
				m := rollingMean(s.Close, period, 1)
				means[period] = m
				return m
			}
			out := make(map[string][]float64, len(pp.Pairs))
			for _, pair := range pp.Pairs {
				short, long := mean(pair.Short), mean(pair.Long)
				values := make([]float64, len(short))
				for i := range values {
					values[i] = short[i] - long[i]
				}
				out[maDiffColumn(pair)] = values
			}
			return out, nil
		},
	}
}

func maDiffColumn(p PeriodPair) string {
	return fmt.Sprintf("MA_DIFF_%d_%d", p.Short, p.Long)
}

// NewMASlope builds the per-row slope of an SMA over its own period.
func NewMASlope() Factor {
	return &Definition{
		FactorName: "MA_SLOPE",
		Cat:        CategoryMovingAverage,
		Desc:       "Slope of the simple moving average",
		Formula:    "MA_SLOPE_N = (SMA_N[t] - SMA_N[t-N]) / N",
		Params:     PeriodsSchema{Factor: "MA_SLOPE", Defaults: []int{5, 10, 20}, Min: 2, Max: 252},
		Inputs:     []string{InputClose},
		OutputsFor: periodOutputs("MA_SLOPE", DataTypeIndicator, Unbounded, warmUpN),
		Run: perPeriod("MA_SLOPE", "MA_SLOPE", func(s Series, period int, _ NumericConfig) []float64 {
			return scale(diff(rollingMean(s.Close, period, 1), period), 1/float64(period))
		}),
	}
}
