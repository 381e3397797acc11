package factors

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"
)

// Key and numeric column names used by input frames.
const (
	ColTsCode    = "ts_code"
	ColTradeDate = "trade_date"

	ColOpen     = "open"
	ColHigh     = "high"
	ColLow      = "low"
	ColClose    = "close"
	ColPreClose = "pre_close"
	ColChange   = "change"
	ColPctChg   = "pct_chg"
	ColVol      = "vol"
	ColAmount   = "amount"
	ColAdj      = "adj_factor"
)

// TradeDateLayout is the compact date layout used for trade dates on the wire.
const TradeDateLayout = "20060102"

// Adjustment selects which price columns feed the factor algorithms.
type Adjustment string

const (
	AdjustmentHFQ Adjustment = "hfq"
	AdjustmentQFQ Adjustment = "qfq"
	AdjustmentRaw Adjustment = "raw"
)

// PriceColumn returns the concrete column name for a logical price field
// ("open", "high", "low", "close") under this adjustment.
func (a Adjustment) PriceColumn(field string) string {
	switch a {
	case AdjustmentQFQ:
		return "qfq_" + field
	case AdjustmentRaw:
		return field
	default:
		return "hfq_" + field
	}
}

// ParseAdjustment accepts "hfq", "qfq", "raw" (or "none"); empty means hfq.
func ParseAdjustment(s string) (Adjustment, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "hfq":
		return AdjustmentHFQ, nil
	case "qfq":
		return AdjustmentQFQ, nil
	case "raw", "none":
		return AdjustmentRaw, nil
	default:
		return "", fmt.Errorf("unknown price adjustment %q", s)
	}
}

// Frame is a time-series frame keyed by (ts_code, trade_date). Rows may belong
// to several instruments and may arrive in any order; algorithms always see
// each instrument sorted ascending by date.
//
// A Frame is treated as read-only once handed to the engine.
type Frame struct {
	TsCode    []string             `json:"ts_code"`
	TradeDate []time.Time          `json:"trade_date"`
	Columns   map[string][]float64 `json:"columns"`
}

// NewFrame creates an empty-column frame over the given keys.
func NewFrame(codes []string, dates []time.Time) *Frame {
	return &Frame{
		TsCode:    codes,
		TradeDate: dates,
		Columns:   make(map[string][]float64),
	}
}

// Len returns the number of rows.
func (f *Frame) Len() int {
	if f == nil {
		return 0
	}
	return len(f.TradeDate)
}

// Column returns a column by name.
func (f *Frame) Column(name string) ([]float64, bool) {
	if f == nil || f.Columns == nil {
		return nil, false
	}
	values, ok := f.Columns[name]
	return values, ok
}

// SetColumn adds or replaces a numeric column.
func (f *Frame) SetColumn(name string, values []float64) {
	if f.Columns == nil {
		f.Columns = make(map[string][]float64)
	}
	f.Columns[name] = values
}

// ColumnNames returns the numeric column names in sorted order.
func (f *Frame) ColumnNames() []string {
	names := make([]string, 0, len(f.Columns))
	for name := range f.Columns {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// MissingColumns returns the subset of names the frame does not carry.
func (f *Frame) MissingColumns(names ...string) []string {
	var missing []string
	for _, name := range names {
		switch name {
		case ColTsCode:
			if f.TsCode == nil {
				missing = append(missing, name)
			}
		case ColTradeDate:
			if f.TradeDate == nil {
				missing = append(missing, name)
			}
		default:
			if _, ok := f.Columns[name]; !ok {
				missing = append(missing, name)
			}
		}
	}
	return missing
}

// Validate checks the frame invariants: non-empty, consistent lengths, unique
// (ts_code, trade_date) keys and strictly positive close prices where present.
func (f *Frame) Validate() error {
	n := f.Len()
	if n == 0 {
		return ErrEmptyData
	}
	if len(f.TsCode) != n {
		return NewFactorError("", fmt.Sprintf("ts_code has %d rows, trade_date has %d", len(f.TsCode), n), ErrInvalidFrame)
	}
	for name, values := range f.Columns {
		if len(values) != n {
			return NewFactorError("", fmt.Sprintf("column %s has %d rows, expected %d", name, len(values), n), ErrInvalidFrame)
		}
	}

	seen := make(map[string]struct{}, n)
	for i := 0; i < n; i++ {
		key := f.TsCode[i] + "|" + f.TradeDate[i].Format(TradeDateLayout)
		if _, dup := seen[key]; dup {
			return NewFactorError("", "duplicate row for "+key, ErrInvalidFrame)
		}
		seen[key] = struct{}{}
	}

	for _, name := range []string{"hfq_close", "qfq_close", ColClose} {
		values, ok := f.Columns[name]
		if !ok {
			continue
		}
		for i, v := range values {
			if !math.IsNaN(v) && v <= 0 {
				return NewFactorError("", fmt.Sprintf("%s must be positive, row %d is %v", name, i, v), ErrInvalidFrame)
			}
		}
	}
	return nil
}

// Instruments returns the distinct instrument codes in order of first appearance.
func (f *Frame) Instruments() []string {
	seen := make(map[string]struct{})
	var codes []string
	for _, code := range f.TsCode {
		if _, ok := seen[code]; ok {
			continue
		}
		seen[code] = struct{}{}
		codes = append(codes, code)
	}
	return codes
}

// InstrumentRows groups row indices by instrument, each group sorted ascending
// by trade date. Sorting is stable so equal dates keep their input order.
func (f *Frame) InstrumentRows() [][]int {
	index := make(map[string]int)
	var groups [][]int
	for i, code := range f.TsCode {
		g, ok := index[code]
		if !ok {
			g = len(groups)
			index[code] = g
			groups = append(groups, nil)
		}
		groups[g] = append(groups[g], i)
	}
	for _, rows := range groups {
		sort.SliceStable(rows, func(a, b int) bool {
			return f.TradeDate[rows[a]].Before(f.TradeDate[rows[b]])
		})
	}
	return groups
}

// Fingerprint is a stable sha256 digest of the frame's content. Identical data
// loaded twice yields the same fingerprint regardless of memory identity or
// column map iteration order.
func (f *Frame) Fingerprint() string {
	h := sha256.New()
	var buf [8]byte

	binary.BigEndian.PutUint64(buf[:], uint64(f.Len()))
	h.Write(buf[:])
	for i := 0; i < f.Len(); i++ {
		if i < len(f.TsCode) {
			h.Write([]byte(f.TsCode[i]))
		}
		h.Write([]byte{'|'})
		h.Write([]byte(f.TradeDate[i].Format(TradeDateLayout)))
		h.Write([]byte{'\n'})
	}

	for _, name := range f.ColumnNames() {
		h.Write([]byte(name))
		h.Write([]byte{0})
		for _, v := range f.Columns[name] {
			bits := math.Float64bits(v)
			if math.IsNaN(v) {
				bits = canonicalNaNBits
			}
			binary.BigEndian.PutUint64(buf[:], bits)
			h.Write(buf[:])
		}
	}
	return hex.EncodeToString(h.Sum(nil))
}

var canonicalNaNBits = math.Float64bits(math.NaN())

// FrameSummary describes the shape and date span of a frame.
type FrameSummary struct {
	Rows        int       `json:"rows"`
	Columns     int       `json:"columns"`
	Instruments int       `json:"instruments"`
	Start       time.Time `json:"start_date"`
	End         time.Time `json:"end_date"`
	Fingerprint string    `json:"data_hash"`
}

// Summary reports row, column and instrument counts, the first and last
// trade dates, and the fingerprint.
func (f *Frame) Summary() FrameSummary {
	s := FrameSummary{
		Rows:        f.Len(),
		Columns:     len(f.Columns),
		Instruments: len(f.Instruments()),
		Fingerprint: f.Fingerprint(),
	}
	for i, d := range f.TradeDate {
		if i == 0 || d.Before(s.Start) {
			s.Start = d
		}
		if i == 0 || d.After(s.End) {
			s.End = d
		}
	}
	return s
}

// ParseTradeDate accepts YYYYMMDD, YYYY-MM-DD and RFC 3339 timestamps.
func ParseTradeDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	layouts := []string{TradeDateLayout, "2006-01-02", time.RFC3339, "2006-01-02 15:04:05"}
	for _, layout := range layouts {
		if t, err := time.Parse(layout, s); err == nil {
			return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized trade date %q", s)
}
