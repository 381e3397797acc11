package factors

import (
	"fmt"
	"strings"
)

// FactorError represents an error raised while validating or computing a factor.
type FactorError struct {
	Factor  string
	Field   string
	Value   any
	Message string
	Cause   error
}

func (e *FactorError) Error() string {
	var b strings.Builder
	if e.Factor != "" {
		b.WriteString(e.Factor)
		b.WriteString(": ")
	}
	if e.Field != "" {
		fmt.Fprintf(&b, "%s=%v: ", e.Field, e.Value)
	}
	b.WriteString(e.Message)
	if e.Cause != nil {
		b.WriteString(": ")
		b.WriteString(e.Cause.Error())
	}
	return b.String()
}

func (e *FactorError) Unwrap() error {
	return e.Cause
}

// Common factor errors. Use errors.Is to match them through wrapping.
var (
	ErrEmptyData        = &FactorError{Message: "empty data"}
	ErrInvalidFrame     = &FactorError{Message: "invalid frame"}
	ErrMissingColumns   = &FactorError{Message: "missing required columns"}
	ErrInvalidParameter = &FactorError{Message: "invalid parameter"}
	ErrUnknownFactor    = &FactorError{Message: "unknown factor"}
	ErrDuplicateFactor  = &FactorError{Message: "factor already registered"}
	ErrResultInvalid    = &FactorError{Message: "result validation failed"}
)

// NewFactorError creates a new factor error.
func NewFactorError(factor, message string, cause error) *FactorError {
	return &FactorError{
		Factor:  factor,
		Message: message,
		Cause:   cause,
	}
}

// NewParameterError reports an offending parameter field and value.
func NewParameterError(factor, field string, value any, format string, args ...any) *FactorError {
	return &FactorError{
		Factor:  factor,
		Field:   field,
		Value:   value,
		Message: fmt.Sprintf(format, args...),
		Cause:   ErrInvalidParameter,
	}
}

// MissingColumnsError lists the columns a factor needs but the frame lacks.
func MissingColumnsError(factor string, missing []string) *FactorError {
	return &FactorError{
		Factor:  factor,
		Message: "columns " + strings.Join(missing, ", "),
		Cause:   ErrMissingColumns,
	}
}
