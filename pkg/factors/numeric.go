package factors

import (
	"math"

	"github.com/shopspring/decimal"
)

// DataType classifies an output column for rounding.
type DataType string

const (
	DataTypePrice      DataType = "price"
	DataTypePercentage DataType = "percentage"
	DataTypeIndicator  DataType = "indicator"
	DataTypeVolume     DataType = "volume"
	DataTypeStatistics DataType = "statistics"
	DataTypeDefault    DataType = "default"
)

// Range is an inclusive numeric interval. A NaN bound is open on that side.
type Range struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

// Unbounded is a Range that accepts every finite value.
var Unbounded = Range{Min: math.NaN(), Max: math.NaN()}

// Contains reports whether v lies in the range. NaN is never contained.
func (r Range) Contains(v float64) bool {
	if math.IsNaN(v) {
		return false
	}
	if !math.IsNaN(r.Min) && v < r.Min {
		return false
	}
	if !math.IsNaN(r.Max) && v > r.Max {
		return false
	}
	return true
}

// Clamp limits v to the range; NaN passes through.
func (r Range) Clamp(v float64) float64 {
	if math.IsNaN(v) {
		return v
	}
	if !math.IsNaN(r.Min) && v < r.Min {
		return r.Min
	}
	if !math.IsNaN(r.Max) && v > r.Max {
		return r.Max
	}
	return v
}

// Precision holds the number of decimals per output data type.
type Precision struct {
	Price      int `json:"price" mapstructure:"price"`
	Percentage int `json:"percentage" mapstructure:"percentage"`
	Indicator  int `json:"indicator" mapstructure:"indicator"`
	Volume     int `json:"volume" mapstructure:"volume"`
	Statistics int `json:"statistics" mapstructure:"statistics"`
	Default    int `json:"default" mapstructure:"default"`
}

// For returns the precision for a data type.
func (p Precision) For(dt DataType) int {
	switch dt {
	case DataTypePrice:
		return p.Price
	case DataTypePercentage:
		return p.Percentage
	case DataTypeIndicator:
		return p.Indicator
	case DataTypeVolume:
		return p.Volume
	case DataTypeStatistics:
		return p.Statistics
	default:
		return p.Default
	}
}

// Sentinels are the substitutions used where a formula is undefined.
type Sentinels struct {
	RSINeutral        float64 `json:"rsi_neutral"`
	StochNeutral      float64 `json:"stoch_neutral"`
	KDJNeutral        float64 `json:"kdj_neutral"`
	WRNeutral         float64 `json:"wr_neutral"`
	CCIFlat           float64 `json:"cci_flat"`
	VolumeRatioNoBase float64 `json:"volume_ratio_no_base"`
	VolumeRatioIdle   float64 `json:"volume_ratio_idle"`
	VolumeRatioCap    float64 `json:"volume_ratio_cap"`
	BBWidthCap        float64 `json:"bb_width_cap"`
	BBWidthFallback   float64 `json:"bb_width_fallback"`
}

// InputRanges bound raw inputs; values outside become missing before computing.
type InputRanges struct {
	Price      Range `json:"price"`
	Volume     Range `json:"volume"`
	Percentage Range `json:"percentage"`
}

// NumericConfig is the immutable numeric policy passed into every computation.
// It is a value type: copies never share state.
type NumericConfig struct {
	Precision          Precision   `json:"precision"`
	Sentinels          Sentinels   `json:"sentinels"`
	InputRanges        InputRanges `json:"input_ranges"`
	TradingDaysPerYear int         `json:"trading_days_per_year"`
}

// DefaultNumericConfig returns the standard numeric policy.
func DefaultNumericConfig() NumericConfig {
	return NumericConfig{
		Precision: Precision{
			Price:      6,
			Percentage: 4,
			Indicator:  6,
			Volume:     2,
			Statistics: 6,
			Default:    6,
		},
		Sentinels: Sentinels{
			RSINeutral:        50,
			StochNeutral:      50,
			KDJNeutral:        50,
			WRNeutral:         -50,
			CCIFlat:           0,
			VolumeRatioNoBase: 10,
			VolumeRatioIdle:   1,
			VolumeRatioCap:    50,
			BBWidthCap:        1000,
			BBWidthFallback:   100,
		},
		InputRanges: InputRanges{
			Price:      Range{Min: 0, Max: 1e6},
			Volume:     Range{Min: 0, Max: math.NaN()},
			Percentage: Range{Min: -100, Max: 1000},
		},
		TradingDaysPerYear: 252,
	}
}

// Round rounds v half away from zero to the precision of dt. Non-finite
// values are returned unchanged.
func (c NumericConfig) Round(v float64, dt DataType) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return v
	}
	places := c.Precision.For(dt)
	return decimal.NewFromFloat(v).Round(int32(places)).InexactFloat64()
}

// sanitize applies the output policy in place: infinities become NaN, values
// are clamped to the declared range and rounded.
func (c NumericConfig) sanitize(values []float64, dt DataType, r Range) {
	for i, v := range values {
		if math.IsInf(v, 0) {
			values[i] = math.NaN()
			continue
		}
		if math.IsNaN(v) {
			continue
		}
		values[i] = c.Round(r.Clamp(v), dt)
	}
}

// guard copies values, replacing those outside r with NaN.
func guard(values []float64, r Range) []float64 {
	out := make([]float64, len(values))
	for i, v := range values {
		if math.IsNaN(v) || !r.Contains(v) {
			out[i] = math.NaN()
			continue
		}
		out[i] = v
	}
	return out
}
