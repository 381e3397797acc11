package factors

import (
	"fmt"
	"math"
)

// NewOBV builds on-balance volume.
func NewOBV() Factor {
	return &Definition{
		FactorName: "OBV",
		Cat:        CategoryVolumePrice,
		Desc:       "On-balance volume",
		Formula:    "OBV_t = OBV_{t-1} + sign(close_t - close_{t-1}) * vol_t, OBV_0 = 0",
		Params:     NoSchema{Factor: "OBV"},
		Inputs:     []string{InputClose, InputVol},
		OutputsFor: func(ParameterSet) []OutputSpec {
			return []OutputSpec{{Name: "OBV", DataType: DataTypeDefault, Range: Unbounded}}
		},
		Run: func(s Series, _ ParameterSet, _ NumericConfig) (map[string][]float64, error) {
			return map[string][]float64{"OBV": obv(s.Close, s.Vol)}, nil
		},
	}
}

// obv is a prefix scan and depends on ascending date order. A missing price
// change or volume contributes a zero step.
func obv(close, vol []float64) []float64 {
	out := make([]float64, len(close))
	total := 0.0
	for i := range close {
		if i > 0 && !math.IsNaN(vol[i]) {
			d := close[i] - close[i-1]
			switch {
			case d > 0:
				total += vol[i]
			case d < 0:
				total -= vol[i]
			}
		}
		out[i] = total
	}
	return out
}

// NewVolumeRatio builds the ratio of volume to its trailing average.
func NewVolumeRatio() Factor {
	return &Definition{
		FactorName: "VOLUME_RATIO",
		Cat:        CategoryVolumePrice,
		Desc:       "Volume relative to the average of the previous N days",
		Formula:    "VOLUME_RATIO_N = vol_t / mean(vol[t-N..t-1])",
		Params:     PeriodSchema{Factor: "VOLUME_RATIO", DefaultPeriod: 5, Min: 2, Max: 60},
		Inputs:     []string{InputVol},
		OutputsFor: periodOutput(DataTypeIndicator, nonNegative, "VOLUME_RATIO"),
		Run: func(s Series, p ParameterSet, cfg NumericConfig) (map[string][]float64, error) {
			period, err := periodOf("VOLUME_RATIO", p)
			if err != nil {
				return nil, err
			}
			return map[string][]float64{fmt.Sprintf("VOLUME_RATIO_%d", period): volumeRatio(s.Vol, period, cfg.Sentinels)}, nil
		},
	}
}

// volumeRatio excludes the current day from the base. Without a usable base
// the ratio is VolumeRatioNoBase when there is volume today and
// VolumeRatioIdle otherwise.
func volumeRatio(vol []float64, period int, sn Sentinels) []float64 {
	base := rollingMean(shift(vol, 1), period, 1)
	out := make([]float64, len(vol))
	for i, v := range vol {
		var r float64
		switch {
		case math.IsNaN(base[i]) || base[i] == 0:
			if v > 0 {
				r = sn.VolumeRatioNoBase
			} else {
				r = sn.VolumeRatioIdle
			}
		default:
			r = v / base[i]
		}
		if math.IsNaN(r) {
			r = sn.VolumeRatioIdle
		}
		r = math.Abs(r)
		if r > sn.VolumeRatioCap {
			r = sn.VolumeRatioCap
		}
		out[i] = r
	}
	return out
}
