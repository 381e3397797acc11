package factors

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"time"
)

// Column is one output series of a factor result.
type Column struct {
	Name     string
	DataType DataType
	Values   []float64
}

type columnJSON struct {
	Name     string     `json:"name"`
	DataType DataType   `json:"data_type"`
	Values   []*float64 `json:"values"`
}

// MarshalJSON encodes missing values as null.
func (c Column) MarshalJSON() ([]byte, error) {
	out := columnJSON{Name: c.Name, DataType: c.DataType, Values: make([]*float64, len(c.Values))}
	for i, v := range c.Values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			continue
		}
		v := v
		out.Values[i] = &v
	}
	return json.Marshal(out)
}

// UnmarshalJSON decodes null values as NaN.
func (c *Column) UnmarshalJSON(data []byte) error {
	var in columnJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	c.Name = in.Name
	c.DataType = in.DataType
	c.Values = make([]float64, len(in.Values))
	for i, v := range in.Values {
		if v == nil {
			c.Values[i] = math.NaN()
			continue
		}
		c.Values[i] = *v
	}
	return nil
}

// Result is the output of one factor: the input keys in the caller's row
// order plus the factor's declared columns.
//
// A Result returned from a cache is shared; callers must not mutate it.
type Result struct {
	Factor      string      `json:"factor"`
	Category    Category    `json:"category"`
	Params      string      `json:"params"`
	TsCode      []string    `json:"ts_code"`
	TradeDate   []time.Time `json:"trade_date"`
	Columns     []Column    `json:"columns"`
	Diagnostics Diagnostics `json:"diagnostics,omitempty"`
}

// Len returns the number of rows.
func (r *Result) Len() int {
	return len(r.TradeDate)
}

// Column returns the values of a named column.
func (r *Result) Column(name string) ([]float64, bool) {
	for _, c := range r.Columns {
		if c.Name == name {
			return c.Values, true
		}
	}
	return nil, false
}

// ColumnNames returns the output column names in declaration order.
func (r *Result) ColumnNames() []string {
	names := make([]string, len(r.Columns))
	for i, c := range r.Columns {
		names[i] = c.Name
	}
	return names
}

// Clone returns a deep copy.
func (r *Result) Clone() *Result {
	out := &Result{
		Factor:    r.Factor,
		Category:  r.Category,
		Params:    r.Params,
		TsCode:    append([]string(nil), r.TsCode...),
		TradeDate: append([]time.Time(nil), r.TradeDate...),
		Columns:   make([]Column, len(r.Columns)),
	}
	for i, c := range r.Columns {
		out.Columns[i] = Column{Name: c.Name, DataType: c.DataType, Values: append([]float64(nil), c.Values...)}
	}
	if len(r.Diagnostics) > 0 {
		out.Diagnostics = append(Diagnostics(nil), r.Diagnostics...)
	}
	return out
}

// WithDiagnostics returns a shallow copy carrying the given diagnostics. The
// receiver is left untouched, so it is safe on shared results.
func (r *Result) WithDiagnostics(d Diagnostics) *Result {
	out := *r
	out.Diagnostics = d
	return &out
}

// Instrument returns the rows for one instrument sorted by trade date,
// descending when desc is set.
func (r *Result) Instrument(code string, desc bool) *Result {
	var rows []int
	for i, c := range r.TsCode {
		if c == code {
			rows = append(rows, i)
		}
	}
	sort.SliceStable(rows, func(a, b int) bool {
		if desc {
			return r.TradeDate[rows[a]].After(r.TradeDate[rows[b]])
		}
		return r.TradeDate[rows[a]].Before(r.TradeDate[rows[b]])
	})
	return r.take(rows)
}

func (r *Result) take(rows []int) *Result {
	out := &Result{
		Factor:    r.Factor,
		Category:  r.Category,
		Params:    r.Params,
		TsCode:    make([]string, len(rows)),
		TradeDate: make([]time.Time, len(rows)),
		Columns:   make([]Column, len(r.Columns)),
	}
	for i, row := range rows {
		out.TsCode[i] = r.TsCode[row]
		out.TradeDate[i] = r.TradeDate[row]
	}
	for c, col := range r.Columns {
		values := make([]float64, len(rows))
		for i, row := range rows {
			values[i] = col.Values[row]
		}
		out.Columns[c] = Column{Name: col.Name, DataType: col.DataType, Values: values}
	}
	return out
}

// Combine joins several results on (ts_code, trade_date). Rows appear in the
// order they are first seen; a key missing from one result gets NaN for that
// result's columns. Duplicate column names are rejected.
func Combine(name string, results ...*Result) (*Result, error) {
	out := &Result{Factor: name}
	index := make(map[string]int)
	seen := make(map[string]bool)

	keyOf := func(r *Result, i int) string {
		return r.TsCode[i] + "|" + r.TradeDate[i].Format(TradeDateLayout)
	}
	for _, r := range results {
		for i := 0; i < r.Len(); i++ {
			k := keyOf(r, i)
			if _, ok := index[k]; ok {
				continue
			}
			index[k] = len(out.TsCode)
			out.TsCode = append(out.TsCode, r.TsCode[i])
			out.TradeDate = append(out.TradeDate, r.TradeDate[i])
		}
	}

	for _, r := range results {
		for _, col := range r.Columns {
			if seen[col.Name] {
				return nil, fmt.Errorf("combine: duplicate column %s", col.Name)
			}
			seen[col.Name] = true
			values := nans(len(out.TsCode))
			for i, v := range col.Values {
				values[index[keyOf(r, i)]] = v
			}
			out.Columns = append(out.Columns, Column{Name: col.Name, DataType: col.DataType, Values: values})
		}
		out.Diagnostics = append(out.Diagnostics, r.Diagnostics...)
	}
	return out, nil
}
