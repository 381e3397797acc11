package factors

import (
	"fmt"
	"math"
)

var percentBounded = Range{Min: 0, Max: 100}

// flatEpsilon is the relative deviation below which a window counts as flat.
const flatEpsilon = 1e-12

// periodOutput declares the single-period outputs PREFIX_period for each prefix.
func periodOutput(dt DataType, r Range, prefixes ...string) func(ParameterSet) []OutputSpec {
	return func(p ParameterSet) []OutputSpec {
		pp, _ := p.(PeriodParams)
		specs := make([]OutputSpec, len(prefixes))
		for i, prefix := range prefixes {
			specs[i] = OutputSpec{Name: fmt.Sprintf("%s_%d", prefix, pp.Period), DataType: dt, Range: r}
		}
		return specs
	}
}

func periodOf(factor string, p ParameterSet) (int, error) {
	pp, ok := p.(PeriodParams)
	if !ok {
		return 0, wrongParams(factor, p, "PeriodParams")
	}
	return pp.Period, nil
}

// NewRSI builds the relative strength index.
func NewRSI() Factor {
	return &Definition{
		FactorName: "RSI",
		Cat:        CategoryTrendMomentum,
		Desc:       "Relative strength index on exponentially smoothed gains and losses",
		Formula:    "RSI_N = 100 - 100 / (1 + EMA_N(gain) / EMA_N(loss))",
		Params:     PeriodsSchema{Factor: "RSI", Defaults: []int{3, 4, 5, 6, 7, 8}, Min: 2, Max: 252},
		Inputs:     []string{InputClose},
		OutputsFor: periodOutputs("RSI", DataTypeIndicator, percentBounded, nil),
		Run: perPeriod("RSI", "RSI", func(s Series, period int, cfg NumericConfig) []float64 {
			return rsi(s.Close, period, cfg.Sentinels.RSINeutral)
		}),
	}
}

// rsi leaves rows with a missing close missing; the smoothed averages carry
// across them.
func rsi(close []float64, period int, neutral float64) []float64 {
	gains := make([]float64, len(close))
	losses := make([]float64, len(close))
	for i := 1; i < len(close); i++ {
		d := close[i] - close[i-1]
		switch {
		case math.IsNaN(d):
		case d > 0:
			gains[i] = d
		case d < 0:
			losses[i] = -d
		}
	}
	avgGain := ewmSpan(gains, period)
	avgLoss := ewmSpan(losses, period)
	out := make([]float64, len(close))
	for i := range out {
		if math.IsNaN(close[i]) {
			out[i] = math.NaN()
			continue
		}
		if avgLoss[i] == 0 || math.IsNaN(avgLoss[i]) || math.IsNaN(avgGain[i]) {
			out[i] = neutral
			continue
		}
		out[i] = 100 - 100/(1+avgGain[i]/avgLoss[i])
	}
	return out
}

// stochasticK is (close - LL) / (HH - LL) * 100 over a trailing window, with
// flat ranges mapped to neutral.
func stochasticK(s Series, period int, neutral float64) []float64 {
	hh := rollingMax(s.High, period, 1)
	ll := rollingMin(s.Low, period, 1)
	out := nans(s.Len())
	for i := range out {
		if math.IsNaN(s.Close[i]) || math.IsNaN(hh[i]) || math.IsNaN(ll[i]) {
			continue
		}
		rng := hh[i] - ll[i]
		if rng == 0 {
			out[i] = neutral
			continue
		}
		out[i] = (s.Close[i] - ll[i]) / rng * 100
	}
	return out
}

// NewKDJ builds the KDJ stochastic indicator.
func NewKDJ() Factor {
	return &Definition{
		FactorName: "KDJ",
		Cat:        CategoryVolumePrice,
		Desc:       "KDJ stochastic indicator",
		Formula:    "K_t = 2/3 K_{t-1} + 1/3 RSV_t, D_t = 2/3 D_{t-1} + 1/3 K_t, J = 3K - 2D, K and D seeded at 50",
		Params:     PeriodSchema{Factor: "KDJ", DefaultPeriod: 9, Min: 3, Max: 252},
		Inputs:     []string{InputHigh, InputLow, InputClose},
		OutputsFor: func(p ParameterSet) []OutputSpec {
			pp, _ := p.(PeriodParams)
			return []OutputSpec{
				{Name: fmt.Sprintf("KDJ_K_%d", pp.Period), DataType: DataTypeIndicator, Range: percentBounded},
				{Name: fmt.Sprintf("KDJ_D_%d", pp.Period), DataType: DataTypeIndicator, Range: percentBounded},
				{Name: fmt.Sprintf("KDJ_J_%d", pp.Period), DataType: DataTypeIndicator, Range: Range{Min: -50, Max: 150}},
			}
		},
		Run: func(s Series, p ParameterSet, cfg NumericConfig) (map[string][]float64, error) {
			period, err := periodOf("KDJ", p)
			if err != nil {
				return nil, err
			}
			k, d, j := kdj(s, period, cfg.Sentinels.KDJNeutral)
			return map[string][]float64{
				fmt.Sprintf("KDJ_K_%d", period): k,
				fmt.Sprintf("KDJ_D_%d", period): d,
				fmt.Sprintf("KDJ_J_%d", period): j,
			}, nil
		},
	}
}

// kdj leaves rows without an RSV missing and resumes the recurrence from the
// last computed K and D.
func kdj(s Series, period int, neutral float64) (k, d, j []float64) {
	rsv := stochasticK(s, period, neutral)
	n := len(rsv)
	k, d, j = make([]float64, n), make([]float64, n), make([]float64, n)
	prevK, prevD := neutral, neutral
	for i := 0; i < n; i++ {
		if math.IsNaN(rsv[i]) {
			k[i], d[i], j[i] = math.NaN(), math.NaN(), math.NaN()
			continue
		}
		prevK = 2.0/3.0*prevK + rsv[i]/3.0
		prevD = 2.0/3.0*prevD + prevK/3.0
		k[i], d[i] = prevK, prevD
		j[i] = 3*prevK - 2*prevD
	}
	return k, d, j
}

// NewSTOCH builds the stochastic oscillator %K and %D.
func NewSTOCH() Factor {
	return &Definition{
		FactorName: "STOCH",
		Cat:        CategoryVolatility,
		Desc:       "Stochastic oscillator %K and %D",
		Formula:    "%K = (close - LL_k) / (HH_k - LL_k) * 100, %D = mean_d(%K)",
		Params: KDSchema{
			Factor:   "STOCH",
			Defaults: KDParams{KPeriod: 9, DPeriod: 3},
			KMin:     3,
			KMax:     252,
			DMin:     1,
			DMax:     50,
		},
		Inputs: []string{InputHigh, InputLow, InputClose},
		OutputsFor: func(p ParameterSet) []OutputSpec {
			kp, _ := p.(KDParams)
			return []OutputSpec{
				{Name: fmt.Sprintf("STOCH_K_%d", kp.KPeriod), DataType: DataTypeIndicator, Range: percentBounded},
				{Name: fmt.Sprintf("STOCH_D_%d", kp.DPeriod), DataType: DataTypeIndicator, Range: percentBounded},
			}
		},
		Run: func(s Series, p ParameterSet, cfg NumericConfig) (map[string][]float64, error) {
			kp, ok := p.(KDParams)
			if !ok {
				return nil, wrongParams("STOCH", p, "KDParams")
			}
			k := stochasticK(s, kp.KPeriod, cfg.Sentinels.StochNeutral)
			return map[string][]float64{
				fmt.Sprintf("STOCH_K_%d", kp.KPeriod): k,
				fmt.Sprintf("STOCH_D_%d", kp.DPeriod): rollingMean(k, kp.DPeriod, 1),
			}, nil
		},
	}
}

// NewWR builds Williams %R.
func NewWR() Factor {
	return &Definition{
		FactorName: "WR",
		Cat:        CategoryVolumePrice,
		Desc:       "Williams %R",
		Formula:    "WR_N = (HH_N - close) / (HH_N - LL_N) * -100",
		Params:     PeriodSchema{Factor: "WR", DefaultPeriod: 14, Min: 3, Max: 252},
		Inputs:     []string{InputHigh, InputLow, InputClose},
		OutputsFor: periodOutput(DataTypeIndicator, Range{Min: -100, Max: 0}, "WR"),
		Run: func(s Series, p ParameterSet, cfg NumericConfig) (map[string][]float64, error) {
			period, err := periodOf("WR", p)
			if err != nil {
				return nil, err
			}
			hh := rollingMax(s.High, period, 1)
			ll := rollingMin(s.Low, period, 1)
			out := nans(s.Len())
			for i := range out {
				if math.IsNaN(s.Close[i]) || math.IsNaN(hh[i]) || math.IsNaN(ll[i]) {
					continue
				}
				rng := hh[i] - ll[i]
				if rng == 0 {
					out[i] = cfg.Sentinels.WRNeutral
					continue
				}
				out[i] = (hh[i] - s.Close[i]) / rng * -100
			}
			return map[string][]float64{fmt.Sprintf("WR_%d", period): out}, nil
		},
	}
}

// NewCCI builds the commodity channel index.
func NewCCI() Factor {
	return &Definition{
		FactorName: "CCI",
		Cat:        CategoryVolumePrice,
		Desc:       "Commodity channel index",
		Formula:    "CCI_N = (TP - SMA_N(TP)) / (0.015 * MAD_N(TP)), TP = (high + low + close) / 3",
		Params:     PeriodSchema{Factor: "CCI", DefaultPeriod: 14, Min: 3, Max: 252},
		Inputs:     []string{InputHigh, InputLow, InputClose},
		OutputsFor: periodOutput(DataTypeIndicator, Range{Min: -1000, Max: 1000}, "CCI"),
		Run: func(s Series, p ParameterSet, cfg NumericConfig) (map[string][]float64, error) {
			period, err := periodOf("CCI", p)
			if err != nil {
				return nil, err
			}
			tp := make([]float64, s.Len())
			for i := range tp {
				tp[i] = (s.High[i] + s.Low[i] + s.Close[i]) / 3
			}
			ma := rollingMean(tp, period, 1)
			mad := rollingMeanAbsDev(tp, period, 1)
			out := nans(len(tp))
			for i := range out {
				if math.IsNaN(tp[i]) || math.IsNaN(ma[i]) || math.IsNaN(mad[i]) {
					continue
				}
				if mad[i] <= flatEpsilon*math.Max(1, math.Abs(ma[i])) {
					out[i] = cfg.Sentinels.CCIFlat
					continue
				}
				out[i] = (tp[i] - ma[i]) / (0.015 * mad[i])
			}
			return map[string][]float64{fmt.Sprintf("CCI_%d", period): out}, nil
		},
	}
}
