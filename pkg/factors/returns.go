package factors

import "math"

// NewDailyReturn builds the one-day percentage return.
func NewDailyReturn() Factor {
	return &Definition{
		FactorName: "DAILY_RETURN",
		Cat:        CategoryReturnRisk,
		Desc:       "Daily return in percent",
		Formula:    "DAILY_RETURN = (close_t / close_{t-1} - 1) * 100",
		Params:     NoSchema{Factor: "DAILY_RETURN"},
		Inputs:     []string{InputClose},
		OutputsFor: func(ParameterSet) []OutputSpec {
			return []OutputSpec{{Name: "DAILY_RETURN", DataType: DataTypePercentage, Range: Unbounded, WarmUp: 1}}
		},
		Run: func(s Series, _ ParameterSet, _ NumericConfig) (map[string][]float64, error) {
			return map[string][]float64{"DAILY_RETURN": percentChange(s.Close, 1)}, nil
		},
	}
}

// NewCumReturn builds the cumulative percentage return over N rows.
func NewCumReturn() Factor {
	return &Definition{
		FactorName: "CUM_RETURN",
		Cat:        CategoryReturnRisk,
		Desc:       "Cumulative return over the window in percent",
		Formula:    "CUM_RETURN_N = (close_t / close_{t-N} - 1) * 100",
		Params:     PeriodsSchema{Factor: "CUM_RETURN", Defaults: []int{5, 20, 60}, Min: 1, Max: 252},
		Inputs:     []string{InputClose},
		OutputsFor: periodOutputs("CUM_RETURN", DataTypePercentage, Unbounded, warmUpN),
		Run: perPeriod("CUM_RETURN", "CUM_RETURN", func(s Series, period int, _ NumericConfig) []float64 {
			return percentChange(s.Close, period)
		}),
	}
}

// NewMaxDD builds the maximum drawdown inside a trailing window.
func NewMaxDD() Factor {
	return &Definition{
		FactorName: "MAX_DD",
		Cat:        CategoryReturnRisk,
		Desc:       "Maximum drawdown within the trailing window in percent",
		Formula:    "MAX_DD_N = max over the window of (running peak - close) / running peak * 100",
		Params:     PeriodsSchema{Factor: "MAX_DD", Defaults: []int{20, 60}, Min: 2, Max: 252},
		Inputs:     []string{InputClose},
		OutputsFor: periodOutputs("MAX_DD", DataTypePercentage, Range{Min: 0, Max: 100}, nil),
		Run: perPeriod("MAX_DD", "MAX_DD", func(s Series, period int, _ NumericConfig) []float64 {
			return rollingMaxDrawdown(s.Close, period)
		}),
	}
}

// rollingMaxDrawdown measures, for each trailing window, the deepest fall
// from the running peak inside that window.
func rollingMaxDrawdown(close []float64, period int) []float64 {
	out := nans(len(close))
	for i := range close {
		peak, worst, seen := math.NaN(), 0.0, false
		for j := windowStart(i, period); j <= i; j++ {
			v := close[j]
			if math.IsNaN(v) {
				continue
			}
			seen = true
			if math.IsNaN(peak) || v > peak {
				peak = v
			}
			if peak > 0 {
				if dd := (peak - v) / peak; dd > worst {
					worst = dd
				}
			}
		}
		if seen {
			out[i] = worst * 100
		}
	}
	return out
}
