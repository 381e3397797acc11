package factors

import (
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"sort"
	"strconv"
	"strings"
)

// ParameterSet is a validated, canonical factor configuration. Each factor
// family has its own concrete variant.
type ParameterSet interface {
	// Canonical renders the set deterministically for cache keys.
	Canonical() string
}

// PeriodsParams configures factors computed once per window length.
type PeriodsParams struct {
	Periods []int `json:"periods"`
}

func (p PeriodsParams) Canonical() string { return "periods=" + joinInts(p.Periods) }

// PeriodParams configures single-window factors.
type PeriodParams struct {
	Period int `json:"period"`
}

func (p PeriodParams) Canonical() string { return "period=" + strconv.Itoa(p.Period) }

// PeriodPair is a (short, long) window pair.
type PeriodPair struct {
	Short int `json:"short"`
	Long  int `json:"long"`
}

// PairsParams configures factors computed per window pair.
type PairsParams struct {
	Pairs []PeriodPair `json:"pairs"`
}

func (p PairsParams) Canonical() string {
	parts := make([]string, len(p.Pairs))
	for i, pair := range p.Pairs {
		parts[i] = strconv.Itoa(pair.Short) + ":" + strconv.Itoa(pair.Long)
	}
	return "pairs=" + strings.Join(parts, ",")
}

// MACDParams configures MACD.
type MACDParams struct {
	FastPeriod   int `json:"fast_period"`
	SlowPeriod   int `json:"slow_period"`
	SignalPeriod int `json:"signal_period"`
}

func (p MACDParams) Canonical() string {
	return fmt.Sprintf("fast_period=%d;slow_period=%d;signal_period=%d", p.FastPeriod, p.SlowPeriod, p.SignalPeriod)
}

// KDParams configures the stochastic oscillator.
type KDParams struct {
	KPeriod int `json:"k_period"`
	DPeriod int `json:"d_period"`
}

func (p KDParams) Canonical() string {
	return fmt.Sprintf("k_period=%d;d_period=%d", p.KPeriod, p.DPeriod)
}

// BandParams configures band factors built on a mean and a deviation multiple.
type BandParams struct {
	Period int     `json:"period"`
	StdDev float64 `json:"std_dev"`
}

func (p BandParams) Canonical() string {
	return fmt.Sprintf("period=%d;std_dev=%s", p.Period, strconv.FormatFloat(p.StdDev, 'g', -1, 64))
}

// NoParams is used by factors without configuration.
type NoParams struct{}

func (NoParams) Canonical() string { return "" }

// Field describes a configurable parameter of a factor.
type Field struct {
	Name        string `json:"name"`
	Type        string `json:"type"` // "int", "float", "[]int", "[][2]int"
	Default     any    `json:"default"`
	Min         any    `json:"min,omitempty"`
	Max         any    `json:"max,omitempty"`
	Description string `json:"description"`
}

// Schema validates raw configuration into a ParameterSet. Validation is pure
// and never clamps a structurally invalid value.
//
// Accepted raw forms are nil (defaults), a map keyed by field name, and for
// list-valued schemas a bare list interpreted as that list field.
type Schema interface {
	Fields() []Field
	Default() ParameterSet
	Validate(raw any) (ParameterSet, error)
}

// PeriodsSchema validates a sorted, deduplicated list of window lengths.
type PeriodsSchema struct {
	Factor   string
	Defaults []int
	Min, Max int
}

func (s PeriodsSchema) Fields() []Field {
	return []Field{{Name: "periods", Type: "[]int", Default: s.Defaults, Min: s.Min, Max: s.Max, Description: "window lengths in trading days"}}
}

func (s PeriodsSchema) Default() ParameterSet {
	return PeriodsParams{Periods: canonicalInts(s.Defaults)}
}

func (s PeriodsSchema) Validate(raw any) (ParameterSet, error) {
	value, present, err := listField(s.Factor, raw, "periods")
	if err != nil {
		return nil, err
	}
	if !present {
		return s.Default(), nil
	}
	periods, err := coerceIntList(s.Factor, "periods", value)
	if err != nil {
		return nil, err
	}
	if len(periods) == 0 {
		return nil, NewParameterError(s.Factor, "periods", value, "must not be empty")
	}
	for _, p := range periods {
		if err := checkIntRange(s.Factor, "periods", p, s.Min, s.Max); err != nil {
			return nil, err
		}
	}
	return PeriodsParams{Periods: canonicalInts(periods)}, nil
}

// PeriodSchema validates a single window length.
type PeriodSchema struct {
	Factor        string
	DefaultPeriod int
	Min, Max      int
}

func (s PeriodSchema) Fields() []Field {
	return []Field{{Name: "period", Type: "int", Default: s.DefaultPeriod, Min: s.Min, Max: s.Max, Description: "window length in trading days"}}
}

func (s PeriodSchema) Default() ParameterSet { return PeriodParams{Period: s.DefaultPeriod} }

func (s PeriodSchema) Validate(raw any) (ParameterSet, error) {
	m, err := paramMap(s.Factor, raw, "period")
	if err != nil {
		return nil, err
	}
	if err := rejectUnknown(s.Factor, m, "period"); err != nil {
		return nil, err
	}
	period, err := intField(s.Factor, m, "period", s.DefaultPeriod, s.Min, s.Max)
	if err != nil {
		return nil, err
	}
	return PeriodParams{Period: period}, nil
}

// PairsSchema validates (short, long) window pairs with short < long.
type PairsSchema struct {
	Factor   string
	Defaults []PeriodPair
	Min, Max int
}

func (s PairsSchema) Fields() []Field {
	return []Field{{Name: "pairs", Type: "[][2]int", Default: s.Defaults, Min: s.Min, Max: s.Max, Description: "(short, long) window pairs"}}
}

func (s PairsSchema) Default() ParameterSet {
	return PairsParams{Pairs: canonicalPairs(s.Defaults)}
}

func (s PairsSchema) Validate(raw any) (ParameterSet, error) {
	value, present, err := listField(s.Factor, raw, "pairs")
	if err != nil {
		return nil, err
	}
	if !present {
		return s.Default(), nil
	}
	pairs, err := coercePairs(s.Factor, value)
	if err != nil {
		return nil, err
	}
	if len(pairs) == 0 {
		return nil, NewParameterError(s.Factor, "pairs", value, "must not be empty")
	}
	for _, pair := range pairs {
		if err := checkIntRange(s.Factor, "pairs", pair.Short, s.Min, s.Max); err != nil {
			return nil, err
		}
		if err := checkIntRange(s.Factor, "pairs", pair.Long, s.Min, s.Max); err != nil {
			return nil, err
		}
		if pair.Short >= pair.Long {
			return nil, NewParameterError(s.Factor, "pairs", []int{pair.Short, pair.Long}, "short period must be less than long period")
		}
	}
	return PairsParams{Pairs: canonicalPairs(pairs)}, nil
}

// MACDSchema validates fast/slow/signal spans with fast < slow.
type MACDSchema struct {
	Factor   string
	Defaults MACDParams
	Min, Max int
}

func (s MACDSchema) Fields() []Field {
	return []Field{
		{Name: "fast_period", Type: "int", Default: s.Defaults.FastPeriod, Min: s.Min, Max: s.Max, Description: "fast EMA span"},
		{Name: "slow_period", Type: "int", Default: s.Defaults.SlowPeriod, Min: s.Min, Max: s.Max, Description: "slow EMA span"},
		{Name: "signal_period", Type: "int", Default: s.Defaults.SignalPeriod, Min: s.Min, Max: s.Max, Description: "signal EMA span"},
	}
}

func (s MACDSchema) Default() ParameterSet { return s.Defaults }

func (s MACDSchema) Validate(raw any) (ParameterSet, error) {
	m, err := paramMap(s.Factor, raw, "")
	if err != nil {
		return nil, err
	}
	if err := rejectUnknown(s.Factor, m, "fast_period", "slow_period", "signal_period"); err != nil {
		return nil, err
	}
	var p MACDParams
	if p.FastPeriod, err = intField(s.Factor, m, "fast_period", s.Defaults.FastPeriod, s.Min, s.Max); err != nil {
		return nil, err
	}
	if p.SlowPeriod, err = intField(s.Factor, m, "slow_period", s.Defaults.SlowPeriod, s.Min, s.Max); err != nil {
		return nil, err
	}
	if p.SignalPeriod, err = intField(s.Factor, m, "signal_period", s.Defaults.SignalPeriod, s.Min, s.Max); err != nil {
		return nil, err
	}
	if p.FastPeriod >= p.SlowPeriod {
		return nil, NewParameterError(s.Factor, "fast_period", p.FastPeriod, "must be less than slow_period %d", p.SlowPeriod)
	}
	return p, nil
}

// KDSchema validates %K and %D windows, each with its own range.
type KDSchema struct {
	Factor     string
	Defaults   KDParams
	KMin, KMax int
	DMin, DMax int
}

func (s KDSchema) Fields() []Field {
	return []Field{
		{Name: "k_period", Type: "int", Default: s.Defaults.KPeriod, Min: s.KMin, Max: s.KMax, Description: "%K lookback"},
		{Name: "d_period", Type: "int", Default: s.Defaults.DPeriod, Min: s.DMin, Max: s.DMax, Description: "%D smoothing window"},
	}
}

func (s KDSchema) Default() ParameterSet { return s.Defaults }

func (s KDSchema) Validate(raw any) (ParameterSet, error) {
	m, err := paramMap(s.Factor, raw, "")
	if err != nil {
		return nil, err
	}
	if err := rejectUnknown(s.Factor, m, "k_period", "d_period"); err != nil {
		return nil, err
	}
	var p KDParams
	if p.KPeriod, err = intField(s.Factor, m, "k_period", s.Defaults.KPeriod, s.KMin, s.KMax); err != nil {
		return nil, err
	}
	if p.DPeriod, err = intField(s.Factor, m, "d_period", s.Defaults.DPeriod, s.DMin, s.DMax); err != nil {
		return nil, err
	}
	return p, nil
}

// BandSchema validates a window plus a deviation multiple.
type BandSchema struct {
	Factor               string
	Defaults             BandParams
	Min, Max             int
	StdDevMin, StdDevMax float64
}

func (s BandSchema) Fields() []Field {
	return []Field{
		{Name: "period", Type: "int", Default: s.Defaults.Period, Min: s.Min, Max: s.Max, Description: "window length in trading days"},
		{Name: "std_dev", Type: "float", Default: s.Defaults.StdDev, Min: s.StdDevMin, Max: s.StdDevMax, Description: "standard deviation multiple"},
	}
}

func (s BandSchema) Default() ParameterSet { return s.Defaults }

func (s BandSchema) Validate(raw any) (ParameterSet, error) {
	m, err := paramMap(s.Factor, raw, "period")
	if err != nil {
		return nil, err
	}
	if err := rejectUnknown(s.Factor, m, "period", "std_dev"); err != nil {
		return nil, err
	}
	var p BandParams
	if p.Period, err = intField(s.Factor, m, "period", s.Defaults.Period, s.Min, s.Max); err != nil {
		return nil, err
	}
	if p.StdDev, err = floatField(s.Factor, m, "std_dev", s.Defaults.StdDev, s.StdDevMin, s.StdDevMax); err != nil {
		return nil, err
	}
	return p, nil
}

// NoSchema accepts only empty configuration.
type NoSchema struct {
	Factor string
}

func (NoSchema) Fields() []Field       { return nil }
func (NoSchema) Default() ParameterSet { return NoParams{} }

func (s NoSchema) Validate(raw any) (ParameterSet, error) {
	m, err := paramMap(s.Factor, raw, "")
	if err != nil {
		return nil, err
	}
	if err := rejectUnknown(s.Factor, m); err != nil {
		return nil, err
	}
	return NoParams{}, nil
}

// listField extracts a list-valued field from a raw config that is nil, a map
// or a bare list.
func listField(factor string, raw any, field string) (any, bool, error) {
	if raw == nil {
		return nil, false, nil
	}
	if isList(raw) {
		return raw, true, nil
	}
	if _, ok := coerceInt(raw); ok {
		return raw, true, nil
	}
	m, ok := asMap(raw)
	if !ok {
		return nil, false, NewParameterError(factor, field, raw, "expected a mapping or a list, got %T", raw)
	}
	if err := rejectUnknown(factor, m, field); err != nil {
		return nil, false, err
	}
	value, ok := m[field]
	if !ok || value == nil {
		return nil, false, nil
	}
	return value, true, nil
}

// paramMap normalizes a raw config into a map. A bare scalar, or a one-element
// list, is accepted as the value of scalarField when that is non-empty.
func paramMap(factor string, raw any, scalarField string) (map[string]any, error) {
	if raw == nil {
		return map[string]any{}, nil
	}
	if m, ok := asMap(raw); ok {
		return m, nil
	}
	if scalarField != "" {
		if isList(raw) {
			values, err := coerceIntList(factor, scalarField, raw)
			if err != nil {
				return nil, err
			}
			if len(values) != 1 {
				return nil, NewParameterError(factor, scalarField, raw, "expected a single value")
			}
			return map[string]any{scalarField: values[0]}, nil
		}
		if _, ok := coerceFloat(raw); ok {
			return map[string]any{scalarField: raw}, nil
		}
	}
	return nil, NewParameterError(factor, "params", raw, "expected a mapping, got %T", raw)
}

func asMap(raw any) (map[string]any, bool) {
	if m, ok := variantMap(raw); ok {
		return m, true
	}
	switch m := raw.(type) {
	case map[string]any:
		return m, true
	case map[string]int:
		out := make(map[string]any, len(m))
		for k, v := range m {
			out[k] = v
		}
		return out, true
	case map[string]float64:
		out := make(map[string]any, len(m))
		for k, v := range m {
			out[k] = v
		}
		return out, true
	case map[any]any:
		out := make(map[string]any, len(m))
		for k, v := range m {
			out[fmt.Sprint(k)] = v
		}
		return out, true
	}
	return nil, false
}

// variantMap lets an already typed ParameterSet, or a pointer to one, go
// through the same validation as its map form.
func variantMap(raw any) (map[string]any, bool) {
	if rv := reflect.ValueOf(raw); rv.Kind() == reflect.Pointer && !rv.IsNil() {
		raw = rv.Elem().Interface()
	}
	switch p := raw.(type) {
	case PeriodsParams:
		return map[string]any{"periods": p.Periods}, true
	case PeriodParams:
		return map[string]any{"period": p.Period}, true
	case PairsParams:
		return map[string]any{"pairs": p.Pairs}, true
	case MACDParams:
		return map[string]any{"fast_period": p.FastPeriod, "slow_period": p.SlowPeriod, "signal_period": p.SignalPeriod}, true
	case KDParams:
		return map[string]any{"k_period": p.KPeriod, "d_period": p.DPeriod}, true
	case BandParams:
		return map[string]any{"period": p.Period, "std_dev": p.StdDev}, true
	case NoParams:
		return map[string]any{}, true
	}
	return nil, false
}

func isList(raw any) bool {
	switch raw.(type) {
	case []any, []int, []int64, []float64, [][]int, [][2]int, []PeriodPair:
		return true
	}
	return false
}

func rejectUnknown(factor string, m map[string]any, allowed ...string) error {
	for key := range m {
		known := false
		for _, a := range allowed {
			if key == a {
				known = true
				break
			}
		}
		if !known {
			return NewParameterError(factor, key, m[key], "unknown parameter")
		}
	}
	return nil
}

func intField(factor string, m map[string]any, key string, def, min, max int) (int, error) {
	raw, ok := m[key]
	if !ok || raw == nil {
		return def, nil
	}
	v, ok := coerceInt(raw)
	if !ok {
		return 0, NewParameterError(factor, key, raw, "expected an integer")
	}
	if err := checkIntRange(factor, key, v, min, max); err != nil {
		return 0, err
	}
	return v, nil
}

func floatField(factor string, m map[string]any, key string, def, min, max float64) (float64, error) {
	raw, ok := m[key]
	if !ok || raw == nil {
		return def, nil
	}
	v, ok := coerceFloat(raw)
	if !ok || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, NewParameterError(factor, key, raw, "expected a finite number")
	}
	if v < min || v > max {
		return 0, NewParameterError(factor, key, raw, "must be within [%v, %v]", min, max)
	}
	return v, nil
}

func checkIntRange(factor, key string, v, min, max int) error {
	if v < min || v > max {
		return NewParameterError(factor, key, v, "must be within [%d, %d]", min, max)
	}
	return nil
}

// coerceInt converts integral numbers and numeric strings to int.
func coerceInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int8:
		return int(n), true
	case int16:
		return int(n), true
	case int32:
		return int(n), true
	case int64:
		return int(n), true
	case uint:
		return int(n), true
	case uint32:
		return int(n), true
	case uint64:
		return int(n), true
	case float32:
		return integralFloat(float64(n))
	case float64:
		return integralFloat(n)
	case json.Number:
		i, err := n.Int64()
		if err != nil {
			f, ferr := n.Float64()
			if ferr != nil {
				return 0, false
			}
			return integralFloat(f)
		}
		return int(i), true
	case string:
		i, err := strconv.Atoi(strings.TrimSpace(n))
		if err != nil {
			return 0, false
		}
		return i, true
	}
	return 0, false
}

func integralFloat(f float64) (int, bool) {
	if math.IsNaN(f) || math.IsInf(f, 0) || f != math.Trunc(f) {
		return 0, false
	}
	return int(f), true
}

// coerceFloat converts numbers and numeric strings to float64.
func coerceFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil
	}
	if i, ok := coerceInt(v); ok {
		return float64(i), true
	}
	return 0, false
}

func coerceIntList(factor, field string, v any) ([]int, error) {
	switch list := v.(type) {
	case []int:
		return append([]int(nil), list...), nil
	case []int64:
		out := make([]int, len(list))
		for i, x := range list {
			out[i] = int(x)
		}
		return out, nil
	case []float64:
		out := make([]int, len(list))
		for i, x := range list {
			n, ok := integralFloat(x)
			if !ok {
				return nil, NewParameterError(factor, field, x, "expected an integer")
			}
			out[i] = n
		}
		return out, nil
	case []any:
		out := make([]int, len(list))
		for i, x := range list {
			n, ok := coerceInt(x)
			if !ok {
				return nil, NewParameterError(factor, field, x, "expected an integer")
			}
			out[i] = n
		}
		return out, nil
	}
	if n, ok := coerceInt(v); ok {
		return []int{n}, nil
	}
	return nil, NewParameterError(factor, field, v, "expected a list of integers, got %T", v)
}

func coercePairs(factor string, v any) ([]PeriodPair, error) {
	switch list := v.(type) {
	case []PeriodPair:
		return append([]PeriodPair(nil), list...), nil
	case [][2]int:
		out := make([]PeriodPair, len(list))
		for i, p := range list {
			out[i] = PeriodPair{Short: p[0], Long: p[1]}
		}
		return out, nil
	case [][]int:
		out := make([]PeriodPair, len(list))
		for i, p := range list {
			if len(p) != 2 {
				return nil, NewParameterError(factor, "pairs", p, "each pair needs exactly two periods")
			}
			out[i] = PeriodPair{Short: p[0], Long: p[1]}
		}
		return out, nil
	case []any:
		out := make([]PeriodPair, len(list))
		for i, item := range list {
			values, err := coerceIntList(factor, "pairs", item)
			if err != nil {
				return nil, err
			}
			if len(values) != 2 {
				return nil, NewParameterError(factor, "pairs", item, "each pair needs exactly two periods")
			}
			out[i] = PeriodPair{Short: values[0], Long: values[1]}
		}
		return out, nil
	}
	return nil, NewParameterError(factor, "pairs", v, "expected a list of period pairs, got %T", v)
}

func canonicalInts(values []int) []int {
	out := append([]int(nil), values...)
	sort.Ints(out)
	n := 0
	for i, v := range out {
		if i > 0 && v == out[n-1] {
			continue
		}
		out[n] = v
		n++
	}
	return out[:n]
}

func canonicalPairs(pairs []PeriodPair) []PeriodPair {
	out := append([]PeriodPair(nil), pairs...)
	sort.Slice(out, func(i, j int) bool {
		if out[i].Short != out[j].Short {
			return out[i].Short < out[j].Short
		}
		return out[i].Long < out[j].Long
	})
	n := 0
	for i, p := range out {
		if i > 0 && p == out[n-1] {
			continue
		}
		out[n] = p
		n++
	}
	return out[:n]
}

func joinInts(values []int) string {
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = strconv.Itoa(v)
	}
	return strings.Join(parts, ",")
}
