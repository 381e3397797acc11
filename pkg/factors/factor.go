package factors

import (
	"fmt"
	"time"
)

// Category groups factors for reporting and grouped output.
type Category string

const (
	CategoryMovingAverage Category = "moving_average"
	CategoryTrendMomentum Category = "trend_momentum"
	CategoryVolatility    Category = "volatility"
	CategoryVolumePrice   Category = "volume_price"
	CategoryReturnRisk    Category = "return_risk"
)

// Categories lists every category in display order.
var Categories = []Category{
	CategoryMovingAverage,
	CategoryTrendMomentum,
	CategoryVolatility,
	CategoryVolumePrice,
	CategoryReturnRisk,
}

// Logical input fields. Price fields are mapped to concrete columns by the
// Adjustment in effect; volume fields are used as-is.
const (
	InputOpen   = ColOpen
	InputHigh   = ColHigh
	InputLow    = ColLow
	InputClose  = ColClose
	InputVol    = ColVol
	InputAmount = ColAmount
)

// Series is one instrument's input, ascending by trade date.
type Series struct {
	Open   []float64
	High   []float64
	Low    []float64
	Close  []float64
	Vol    []float64
	Amount []float64
}

// Len returns the number of rows.
func (s Series) Len() int {
	for _, col := range [][]float64{s.Close, s.Vol, s.High, s.Low, s.Open, s.Amount} {
		if col != nil {
			return len(col)
		}
	}
	return 0
}

// OutputSpec declares one output column.
type OutputSpec struct {
	Name     string
	DataType DataType
	// Range is both the clamp applied to computed values and the bound the
	// validator enforces.
	Range Range
	// WarmUp is the number of leading rows per instrument that are always
	// missing.
	WarmUp int
}

// Algorithm computes output columns for one ascending-date instrument. It
// returns one slice per output column, each of length s.Len().
type Algorithm func(s Series, params ParameterSet, cfg NumericConfig) (map[string][]float64, error)

// Factor is the uniform contract every factor implements.
type Factor interface {
	Name() string
	Category() Category
	Description() string
	Schema() Schema
	// RequiredColumns returns the concrete frame columns under adj.
	RequiredColumns(adj Adjustment) []string
	// Outputs returns the output columns produced for params.
	Outputs(params ParameterSet) []OutputSpec
	// Compute runs the factor over every instrument in the frame.
	Compute(frame *Frame, params ParameterSet, opts ComputeOptions) (*Result, error)
}

// Constructor builds a Factor. Registries store constructors so every
// caller gets its own value.
type Constructor func() Factor

// ComputeOptions carries the injected numeric policy and the validator.
type ComputeOptions struct {
	Numeric    NumericConfig
	Adjustment Adjustment
	// Validator checks the result before it is returned. Nil skips validation.
	Validator *Validator
}

// DefaultComputeOptions uses the default numeric policy, back-adjusted prices
// and the default validator.
func DefaultComputeOptions() ComputeOptions {
	return ComputeOptions{
		Numeric:    DefaultNumericConfig(),
		Adjustment: AdjustmentHFQ,
		Validator:  NewValidator(),
	}
}

// Definition is the data-driven Factor implementation used by every built-in
// factor. It is immutable once constructed.
type Definition struct {
	FactorName string
	Cat        Category
	Desc       string
	Formula    string
	Params     Schema
	Inputs     []string
	OutputsFor func(params ParameterSet) []OutputSpec
	Run        Algorithm
}

func (d *Definition) Name() string        { return d.FactorName }
func (d *Definition) Category() Category  { return d.Cat }
func (d *Definition) Description() string { return d.Desc }
func (d *Definition) Schema() Schema      { return d.Params }

func (d *Definition) RequiredColumns(adj Adjustment) []string {
	cols := make([]string, 0, len(d.Inputs)+2)
	cols = append(cols, ColTsCode, ColTradeDate)
	for _, in := range d.Inputs {
		cols = append(cols, inputColumn(in, adj))
	}
	return cols
}

func (d *Definition) Outputs(params ParameterSet) []OutputSpec {
	if params == nil {
		params = d.Params.Default()
	}
	return d.OutputsFor(params)
}

// Compute sorts each instrument ascending by date, runs the algorithm, and
// scatters the values back to the caller's row order before applying the
// numeric policy and the validator.
func (d *Definition) Compute(frame *Frame, params ParameterSet, opts ComputeOptions) (*Result, error) {
	n := frame.Len()
	if n == 0 {
		return nil, NewFactorError(d.FactorName, "no rows to compute", ErrEmptyData)
	}
	if missing := frame.MissingColumns(d.RequiredColumns(opts.Adjustment)...); len(missing) > 0 {
		return nil, MissingColumnsError(d.FactorName, missing)
	}
	if len(frame.TsCode) != n {
		return nil, NewFactorError(d.FactorName, "ts_code length does not match trade_date", ErrInvalidFrame)
	}
	if params == nil {
		params = d.Params.Default()
	}

	specs := d.OutputsFor(params)
	columns := make(map[string][]float64, len(specs))
	for _, spec := range specs {
		columns[spec.Name] = nans(n)
	}

	var diags Diagnostics
	inputs := make(map[string][]float64, len(d.Inputs))
	for _, in := range d.Inputs {
		values, _ := frame.Column(inputColumn(in, opts.Adjustment))
		if len(values) != n {
			return nil, NewFactorError(d.FactorName, "column "+inputColumn(in, opts.Adjustment)+" length does not match frame", ErrInvalidFrame)
		}
		guarded := guard(values, inputRange(in, opts.Numeric))
		if dropped := countNewNaN(values, guarded); dropped > 0 {
			diags.Add(LevelWarning, CodeInputOutOfRange, d.FactorName, inputColumn(in, opts.Adjustment),
				"%d values outside the configured input range treated as missing", dropped)
		}
		inputs[in] = guarded
	}

	for _, rows := range frame.InstrumentRows() {
		series := gatherSeries(inputs, rows)
		out, err := d.Run(series, params, opts.Numeric)
		if err != nil {
			return nil, NewFactorError(d.FactorName, "compute failed", err)
		}
		for _, spec := range specs {
			values, ok := out[spec.Name]
			if !ok {
				return nil, NewFactorError(d.FactorName, "algorithm did not produce "+spec.Name, ErrResultInvalid)
			}
			if len(values) != len(rows) {
				return nil, NewFactorError(d.FactorName, fmt.Sprintf("%s has %d rows, expected %d", spec.Name, len(values), len(rows)), ErrResultInvalid)
			}
			dst := columns[spec.Name]
			for i, row := range rows {
				dst[row] = values[i]
			}
		}
	}

	result := &Result{
		Factor:    d.FactorName,
		Category:  d.Cat,
		Params:    params.Canonical(),
		TsCode:    append([]string(nil), frame.TsCode...),
		TradeDate: append([]time.Time(nil), frame.TradeDate...),
		Columns:   make([]Column, len(specs)),
	}
	for i, spec := range specs {
		values := columns[spec.Name]
		if r, ok := outputRange(spec, opts.Numeric); ok {
			checked := guard(values, r)
			if dropped := countNewNaN(values, checked); dropped > 0 {
				diags.Add(LevelWarning, CodeOutputOutOfRange, d.FactorName, spec.Name,
					"%d values outside the configured %s range treated as missing", dropped, spec.DataType)
			}
			values = checked
		}
		opts.Numeric.sanitize(values, spec.DataType, spec.Range)
		result.Columns[i] = Column{Name: spec.Name, DataType: spec.DataType, Values: values}
	}

	if opts.Validator != nil {
		more, err := opts.Validator.Check(result, n, d, params)
		diags = append(diags, more...)
		if err != nil {
			return nil, err
		}
	}
	result.Diagnostics = diags
	return result, nil
}

func inputColumn(in string, adj Adjustment) string {
	switch in {
	case InputOpen, InputHigh, InputLow, InputClose:
		return adj.PriceColumn(in)
	default:
		return in
	}
}

func inputRange(in string, cfg NumericConfig) Range {
	switch in {
	case InputVol, InputAmount:
		return cfg.InputRanges.Volume
	default:
		return cfg.InputRanges.Price
	}
}

// outputRange is the plausibility range applied to an output before rounding.
// Only percentage outputs and non-negative price levels are checked; price
// differences such as MOM may legitimately be negative.
func outputRange(spec OutputSpec, cfg NumericConfig) (Range, bool) {
	switch spec.DataType {
	case DataTypePercentage:
		return cfg.InputRanges.Percentage, true
	case DataTypePrice:
		if spec.Range.Min >= 0 {
			return cfg.InputRanges.Price, true
		}
	}
	return Range{}, false
}

func countNewNaN(before, after []float64) int {
	count := 0
	for i := range before {
		if IsFinite(before[i]) && !IsFinite(after[i]) {
			count++
		}
	}
	return count
}

func gatherSeries(inputs map[string][]float64, rows []int) Series {
	pick := func(name string) []float64 {
		src, ok := inputs[name]
		if !ok {
			return nil
		}
		out := make([]float64, len(rows))
		for i, row := range rows {
			out[i] = src[row]
		}
		return out
	}
	s := Series{
		Open:   pick(InputOpen),
		High:   pick(InputHigh),
		Low:    pick(InputLow),
		Close:  pick(InputClose),
		Vol:    pick(InputVol),
		Amount: pick(InputAmount),
	}
	return s
}

// periodsOf extracts PeriodsParams or reports a mismatched variant.
func periodsOf(factor string, p ParameterSet) ([]int, error) {
	pp, ok := p.(PeriodsParams)
	if !ok {
		return nil, wrongParams(factor, p, "PeriodsParams")
	}
	return pp.Periods, nil
}

func wrongParams(factor string, p ParameterSet, want string) error {
	return NewParameterError(factor, "params", p, "expected %s, got %T", want, p)
}
