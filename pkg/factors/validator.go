package factors

import (
	"fmt"
	"math"
)

// Validator checks factor results. It reports structural problems as errors
// and suspicious but legal output as diagnostics; it never modifies a result.
type Validator struct {
	// ZeroRatioWarn flags columns whose finite values are mostly zero.
	ZeroRatioWarn float64
	// MissingRatioWarn flags columns with many missing values past warm-up.
	MissingRatioWarn float64
	// Tolerance absorbs rounding when comparing against a declared range.
	Tolerance float64
}

// NewValidator returns a validator with the default thresholds.
func NewValidator() *Validator {
	return &Validator{
		ZeroRatioWarn:    0.5,
		MissingRatioWarn: 0.5,
		Tolerance:        1e-9,
	}
}

// Check validates result against the columns f declares for params. inputRows
// is the row count of the frame the result was computed from.
func (v *Validator) Check(result *Result, inputRows int, f Factor, params ParameterSet) (Diagnostics, error) {
	name := f.Name()
	if result == nil {
		return nil, NewFactorError(name, "nil result", ErrResultInvalid)
	}
	if result.Len() != inputRows || len(result.TsCode) != inputRows {
		return nil, NewFactorError(name, fmt.Sprintf("result has %d rows, input has %d", result.Len(), inputRows), ErrResultInvalid)
	}

	longest := longestInstrument(result.TsCode)
	var diags Diagnostics
	for _, spec := range f.Outputs(params) {
		values, ok := result.Column(spec.Name)
		if !ok {
			return nil, NewFactorError(name, "missing output column "+spec.Name, ErrResultInvalid)
		}
		if len(values) != inputRows {
			return nil, NewFactorError(name, fmt.Sprintf("column %s has %d rows, expected %d", spec.Name, len(values), inputRows), ErrResultInvalid)
		}

		finite, zeros, outside := 0, 0, 0
		for _, x := range values {
			if !IsFinite(x) {
				continue
			}
			finite++
			if x == 0 {
				zeros++
			}
			if !v.inRange(x, spec.Range) {
				outside++
			}
		}

		if finite == 0 {
			if longest > spec.WarmUp {
				return nil, NewFactorError(name, "column "+spec.Name+" has no finite values", ErrResultInvalid)
			}
			diags.Add(LevelInfo, CodeInsufficientRows, name, spec.Name,
				"needs more than %d rows per instrument, longest has %d", spec.WarmUp, longest)
			continue
		}
		if outside > 0 {
			return nil, NewFactorError(name, fmt.Sprintf("column %s has %d values outside [%v, %v]", spec.Name, outside, spec.Range.Min, spec.Range.Max), ErrResultInvalid)
		}

		if ratio := float64(zeros) / float64(finite); ratio > v.ZeroRatioWarn {
			diags.Add(LevelWarning, CodeZeroValues, name, spec.Name, "%.1f%% of values are zero", ratio*100)
		}
		expected := expectedValues(result.TsCode, spec.WarmUp)
		if expected > 0 {
			if ratio := 1 - float64(finite)/float64(expected); ratio > v.MissingRatioWarn {
				diags.Add(LevelWarning, CodeMissingValues, name, spec.Name, "%.1f%% of rows past warm-up are missing", ratio*100)
			}
		}
	}
	return diags, nil
}

func (v *Validator) inRange(x float64, r Range) bool {
	if !math.IsNaN(r.Min) && x < r.Min-v.Tolerance {
		return false
	}
	if !math.IsNaN(r.Max) && x > r.Max+v.Tolerance {
		return false
	}
	return true
}

func longestInstrument(codes []string) int {
	counts := make(map[string]int)
	longest := 0
	for _, c := range codes {
		counts[c]++
		if counts[c] > longest {
			longest = counts[c]
		}
	}
	return longest
}

// expectedValues counts the rows that lie past the warm-up of their instrument.
func expectedValues(codes []string, warmUp int) int {
	counts := make(map[string]int)
	for _, c := range codes {
		counts[c]++
	}
	total := 0
	for _, n := range counts {
		if n > warmUp {
			total += n - warmUp
		}
	}
	return total
}
