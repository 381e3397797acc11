package factors

import (
	"fmt"
	"math"
)

// trueRange is max(high - low, |high - prev close|, |low - prev close|). The
// first row has no previous close and uses high - low.
func trueRange(s Series) []float64 {
	out := nans(s.Len())
	for i := range out {
		hl := s.High[i] - s.Low[i]
		if i == 0 || math.IsNaN(s.Close[i-1]) {
			out[i] = hl
			continue
		}
		prev := s.Close[i-1]
		best := math.NaN()
		for _, v := range []float64{hl, math.Abs(s.High[i] - prev), math.Abs(s.Low[i] - prev)} {
			if !math.IsNaN(v) && (math.IsNaN(best) || v > best) {
				best = v
			}
		}
		out[i] = best
	}
	return out
}

// NewTR builds the true range.
func NewTR() Factor {
	return &Definition{
		FactorName: "TR",
		Cat:        CategoryVolatility,
		Desc:       "True range",
		Formula:    "TR = max(high - low, |high - prev_close|, |low - prev_close|)",
		Params:     NoSchema{Factor: "TR"},
		Inputs:     []string{InputHigh, InputLow, InputClose},
		OutputsFor: func(ParameterSet) []OutputSpec {
			return []OutputSpec{{Name: "TR", DataType: DataTypePrice, Range: nonNegative}}
		},
		Run: func(s Series, _ ParameterSet, _ NumericConfig) (map[string][]float64, error) {
			return map[string][]float64{"TR": trueRange(s)}, nil
		},
	}
}

// NewATR builds the average true range.
func NewATR() Factor {
	return &Definition{
		FactorName: "ATR",
		Cat:        CategoryVolatility,
		Desc:       "Average true range, exponentially smoothed",
		Formula:    "ATR_N = EMA_N(TR)",
		Params:     PeriodsSchema{Factor: "ATR", Defaults: []int{14}, Min: 1, Max: 252},
		Inputs:     []string{InputHigh, InputLow, InputClose},
		OutputsFor: periodOutputs("ATR", DataTypePrice, nonNegative, nil),
		Run: func(s Series, p ParameterSet, _ NumericConfig) (map[string][]float64, error) {
			periods, err := periodsOf("ATR", p)
			if err != nil {
				return nil, err
			}
			tr := trueRange(s)
			out := make(map[string][]float64, len(periods))
			for _, period := range periods {
				out[fmt.Sprintf("ATR_%d", period)] = ewmSpan(tr, period)
			}
			return out, nil
		},
	}
}

// NewATRPct builds the average true range relative to close.
func NewATRPct() Factor {
	return &Definition{
		FactorName: "ATR_PCT",
		Cat:        CategoryVolatility,
		Desc:       "Average true range as a percentage of close",
		Formula:    "ATR_PCT_N = EMA_N(TR) / close * 100",
		Params:     PeriodsSchema{Factor: "ATR_PCT", Defaults: []int{14}, Min: 2, Max: 252},
		Inputs:     []string{InputHigh, InputLow, InputClose},
		OutputsFor: periodOutputs("ATR_PCT", DataTypePercentage, nonNegative, nil),
		Run: func(s Series, p ParameterSet, _ NumericConfig) (map[string][]float64, error) {
			periods, err := periodsOf("ATR_PCT", p)
			if err != nil {
				return nil, err
			}
			tr := trueRange(s)
			out := make(map[string][]float64, len(periods))
			for _, period := range periods {
				atr := ewmSpan(tr, period)
				values := make([]float64, len(atr))
				for i := range values {
					values[i] = atr[i] / s.Close[i] * 100
				}
				out[fmt.Sprintf("ATR_PCT_%d", period)] = values
			}
			return out, nil
		},
	}
}

// annualizedVol is the rolling sample std of simple returns, annualized and
// in percent. A window needs period returns, so the first period rows are
// missing.
func annualizedVol(close []float64, period, tradingDays int) []float64 {
	returns := pctChange(close, 1)
	std := rollingStd(returns, period, period)
	return scale(std, math.Sqrt(float64(tradingDays))*100)
}

func volFactor(name, desc string, cat Category) func() Factor {
	return func() Factor {
		return &Definition{
			FactorName: name,
			Cat:        cat,
			Desc:       desc,
			Formula:    name + "_N = std_N(daily returns) * sqrt(trading days per year) * 100",
			Params:     PeriodsSchema{Factor: name, Defaults: []int{20, 60}, Min: 2, Max: 252},
			Inputs:     []string{InputClose},
			OutputsFor: periodOutputs(name, DataTypePercentage, nonNegative, warmUpN),
			Run: perPeriod(name, name, func(s Series, period int, cfg NumericConfig) []float64 {
				return annualizedVol(s.Close, period, cfg.TradingDaysPerYear)
			}),
		}
	}
}

// NewHV builds historical volatility.
func NewHV() Factor {
	return volFactor("HV", "Historical volatility, annualized", CategoryVolatility)()
}

// NewAnnualVol builds annualized volatility of daily returns.
func NewAnnualVol() Factor {
	return volFactor("ANNUAL_VOL", "Annualized volatility of daily returns", CategoryReturnRisk)()
}

func bandOf(factor string, p ParameterSet) (BandParams, error) {
	bp, ok := p.(BandParams)
	if !ok {
		return BandParams{}, wrongParams(factor, p, "BandParams")
	}
	return bp, nil
}

// bollinger returns mid = SMA and mid ± k * sample std, all with min_periods=1.
// The bands are missing on the first row where the std is undefined.
func bollinger(close []float64, p BandParams) (upper, mid, lower []float64) {
	mid = rollingMean(close, p.Period, 1)
	std := rollingStd(close, p.Period, 1)
	upper, lower = make([]float64, len(close)), make([]float64, len(close))
	for i := range close {
		upper[i] = mid[i] + p.StdDev*std[i]
		lower[i] = mid[i] - p.StdDev*std[i]
	}
	return upper, mid, lower
}

// NewBOLL builds Bollinger bands.
func NewBOLL() Factor {
	return &Definition{
		FactorName: "BOLL",
		Cat:        CategoryVolatility,
		Desc:       "Bollinger bands",
		Formula:    "MID = SMA_N(close), UPPER/LOWER = MID ± k * std_N(close)",
		Params: BandSchema{
			Factor:    "BOLL",
			Defaults:  BandParams{Period: 20, StdDev: 2},
			Min:       2,
			Max:       252,
			StdDevMin: 0.1,
			StdDevMax: 10,
		},
		Inputs: []string{InputClose},
		OutputsFor: func(ParameterSet) []OutputSpec {
			return []OutputSpec{
				{Name: "BOLL_UPPER", DataType: DataTypePrice, Range: nonNegative, WarmUp: 1},
				{Name: "BOLL_MID", DataType: DataTypePrice, Range: nonNegative},
				{Name: "BOLL_LOWER", DataType: DataTypePrice, Range: Unbounded, WarmUp: 1},
			}
		},
		Run: func(s Series, p ParameterSet, _ NumericConfig) (map[string][]float64, error) {
			bp, err := bandOf("BOLL", p)
			if err != nil {
				return nil, err
			}
			upper, mid, lower := bollinger(s.Close, bp)
			return map[string][]float64{"BOLL_UPPER": upper, "BOLL_MID": mid, "BOLL_LOWER": lower}, nil
		},
	}
}

// NewBBWidth builds the Bollinger band width relative to the middle band.
func NewBBWidth() Factor {
	return &Definition{
		FactorName: "BB_WIDTH",
		Cat:        CategoryVolatility,
		Desc:       "Bollinger band width in percent of the middle band",
		Formula:    "BB_WIDTH_N = (UPPER - LOWER) / MID * 100",
		Params: BandSchema{
			Factor:    "BB_WIDTH",
			Defaults:  BandParams{Period: 20, StdDev: 2},
			Min:       3,
			Max:       252,
			StdDevMin: 0.1,
			StdDevMax: 10,
		},
		Inputs: []string{InputClose},
		OutputsFor: func(p ParameterSet) []OutputSpec {
			bp, _ := p.(BandParams)
			return []OutputSpec{{Name: fmt.Sprintf("BB_WIDTH_%d", bp.Period), DataType: DataTypePercentage, Range: nonNegative}}
		},
		Run: func(s Series, p ParameterSet, cfg NumericConfig) (map[string][]float64, error) {
			bp, err := bandOf("BB_WIDTH", p)
			if err != nil {
				return nil, err
			}
			upper, mid, lower := bollinger(s.Close, bp)
			out := make([]float64, len(mid))
			for i := range out {
				w := (upper[i] - lower[i]) / mid[i] * 100
				if !IsFinite(w) {
					w = 0
				}
				w = math.Abs(w)
				if w > cfg.Sentinels.BBWidthCap {
					w = cfg.Sentinels.BBWidthFallback
				}
				out[i] = w
			}
			return map[string][]float64{fmt.Sprintf("BB_WIDTH_%d", bp.Period): out}, nil
		},
	}
}

// NewDC builds the Donchian channel.
func NewDC() Factor {
	return &Definition{
		FactorName: "DC",
		Cat:        CategoryVolatility,
		Desc:       "Donchian channel",
		Formula:    "DC_UPPER_N = max_N(high), DC_LOWER_N = min_N(low)",
		Params:     PeriodSchema{Factor: "DC", DefaultPeriod: 20, Min: 3, Max: 252},
		Inputs:     []string{InputHigh, InputLow},
		OutputsFor: periodOutput(DataTypeIndicator, nonNegative, "DC_UPPER", "DC_LOWER"),
		Run: func(s Series, p ParameterSet, _ NumericConfig) (map[string][]float64, error) {
			period, err := periodOf("DC", p)
			if err != nil {
				return nil, err
			}
			return map[string][]float64{
				fmt.Sprintf("DC_UPPER_%d", period): rollingMax(s.High, period, 1),
				fmt.Sprintf("DC_LOWER_%d", period): rollingMin(s.Low, period, 1),
			}, nil
		},
	}
}
