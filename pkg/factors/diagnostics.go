package factors

import "fmt"

// Level is the severity of a diagnostic.
type Level string

const (
	LevelInfo    Level = "info"
	LevelWarning Level = "warning"
)

// Diagnostic codes emitted by the framework.
const (
	CodeZeroValues        = "zero_values"
	CodeMissingValues     = "missing_values"
	CodeInsufficientRows  = "insufficient_history"
	CodeInputOutOfRange   = "input_out_of_range"
	CodeOutputOutOfRange  = "output_out_of_range"
	CodeReferenceMismatch = "reference_mismatch"
	CodeDataQuality       = "data_quality"
)

// Diagnostic is a non-fatal observation made while computing or validating a
// factor. Diagnostics never change a result.
type Diagnostic struct {
	Level   Level  `json:"level"`
	Code    string `json:"code"`
	Factor  string `json:"factor,omitempty"`
	Column  string `json:"column,omitempty"`
	Message string `json:"message"`
}

func (d Diagnostic) String() string {
	if d.Column != "" {
		return fmt.Sprintf("[%s] %s %s: %s", d.Level, d.Code, d.Column, d.Message)
	}
	return fmt.Sprintf("[%s] %s: %s", d.Level, d.Code, d.Message)
}

// Diagnostics is an ordered list of diagnostics.
type Diagnostics []Diagnostic

// Add appends a diagnostic.
func (d *Diagnostics) Add(level Level, code, factor, column, format string, args ...any) {
	*d = append(*d, Diagnostic{
		Level:   level,
		Code:    code,
		Factor:  factor,
		Column:  column,
		Message: fmt.Sprintf(format, args...),
	})
}

// Warnings returns only warning-level diagnostics.
func (d Diagnostics) Warnings() Diagnostics {
	var out Diagnostics
	for _, diag := range d {
		if diag.Level == LevelWarning {
			out = append(out, diag)
		}
	}
	return out
}

// HasCode reports whether any diagnostic carries the given code.
func (d Diagnostics) HasCode(code string) bool {
	for _, diag := range d {
		if diag.Code == code {
			return true
		}
	}
	return false
}
