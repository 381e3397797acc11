package factors

import "math"

// NewMACD builds moving average convergence/divergence.
func NewMACD() Factor {
	return &Definition{
		FactorName: "MACD",
		Cat:        CategoryTrendMomentum,
		Desc:       "Moving average convergence/divergence",
		Formula:    "DIF = EMA_fast - EMA_slow, DEA = EMA_signal(DIF), HIST = DIF - DEA",
		Params: MACDSchema{
			Factor:   "MACD",
			Defaults: MACDParams{FastPeriod: 12, SlowPeriod: 26, SignalPeriod: 9},
			Min:      2,
			Max:      252,
		},
		Inputs: []string{InputClose},
		OutputsFor: func(ParameterSet) []OutputSpec {
			return []OutputSpec{
				{Name: "MACD_DIF", DataType: DataTypeIndicator, Range: Unbounded},
				{Name: "MACD_DEA", DataType: DataTypeIndicator, Range: Unbounded},
				{Name: "MACD_HIST", DataType: DataTypeIndicator, Range: Unbounded},
			}
		},
		Run: func(s Series, p ParameterSet, _ NumericConfig) (map[string][]float64, error) {
			mp, ok := p.(MACDParams)
			if !ok {
				return nil, wrongParams("MACD", p, "MACDParams")
			}
			dif, dea, hist := macd(s.Close, mp)
			return map[string][]float64{"MACD_DIF": dif, "MACD_DEA": dea, "MACD_HIST": hist}, nil
		},
	}
}

func macd(close []float64, p MACDParams) (dif, dea, hist []float64) {
	fast := ewmSpan(close, p.FastPeriod)
	slow := ewmSpan(close, p.SlowPeriod)
	dif = make([]float64, len(close))
	for i := range dif {
		dif[i] = fast[i] - slow[i]
	}
	dea = ewmSpan(dif, p.SignalPeriod)
	hist = make([]float64, len(close))
	for i := range hist {
		hist[i] = dif[i] - dea[i]
	}
	return dif, dea, hist
}

// NewMOM builds price momentum against N rows back.
func NewMOM() Factor {
	return &Definition{
		FactorName: "MOM",
		Cat:        CategoryTrendMomentum,
		Desc:       "Price momentum",
		Formula:    "MOM_N = close_t - close_{t-N}",
		Params:     PeriodsSchema{Factor: "MOM", Defaults: []int{5, 10, 20}, Min: 1, Max: 252},
		Inputs:     []string{InputClose},
		OutputsFor: periodOutputs("MOM", DataTypePrice, Unbounded, warmUpN),
		Run: perPeriod("MOM", "MOM", func(s Series, period int, _ NumericConfig) []float64 {
			return diff(s.Close, period)
		}),
	}
}

// NewROC builds the percentage rate of change against N rows back.
func NewROC() Factor {
	return &Definition{
		FactorName: "ROC",
		Cat:        CategoryTrendMomentum,
		Desc:       "Rate of change in percent",
		Formula:    "ROC_N = (close_t - close_{t-N}) / close_{t-N} * 100",
		Params:     PeriodsSchema{Factor: "ROC", Defaults: []int{5, 10, 20}, Min: 1, Max: 252},
		Inputs:     []string{InputClose},
		OutputsFor: periodOutputs("ROC", DataTypePercentage, Unbounded, warmUpN),
		Run: perPeriod("ROC", "ROC", func(s Series, period int, _ NumericConfig) []float64 {
			return percentChange(s.Close, period)
		}),
	}
}

// percentChange is pctChange in percent with zero bases treated as missing.
func percentChange(x []float64, period int) []float64 {
	out := pctChange(x, period)
	for i := range out {
		if i >= period && x[i-period] == 0 {
			out[i] = math.NaN()
			continue
		}
		out[i] *= 100
	}
	return out
}
