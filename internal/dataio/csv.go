// Package dataio reads input frames and parameter files and writes factor
// results as CSV.
package dataio

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/irfndi/etffactor/pkg/factors"
)

// ReadCSVFile reads a frame from a CSV file. See ReadCSV.
func ReadCSVFile(path string) (*factors.Frame, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	frame, err := ReadCSV(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return frame, nil
}

// ReadCSV reads a frame with a header row. ts_code and trade_date are
// required; trade_date may be YYYYMMDD or ISO. Every other column is parsed
// as a number, and empty, "nan" or "null" cells become NaN.
func ReadCSV(r io.Reader) (*factors.Frame, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return nil, factors.ErrEmptyData
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}

	codeIdx, dateIdx := -1, -1
	numeric := make(map[int]string)
	for i, name := range header {
		name = strings.TrimSpace(strings.TrimPrefix(name, "\ufeff"))
		switch name {
		case factors.ColTsCode:
			codeIdx = i
		case factors.ColTradeDate:
			dateIdx = i
		case "":
		default:
			numeric[i] = name
		}
	}
	var missing []string
	if codeIdx < 0 {
		missing = append(missing, factors.ColTsCode)
	}
	if dateIdx < 0 {
		missing = append(missing, factors.ColTradeDate)
	}
	if len(missing) > 0 {
		return nil, factors.MissingColumnsError("", missing)
	}

	var (
		codes []string
		dates []time.Time
	)
	columns := make(map[string][]float64, len(numeric))
	for line := 2; ; line++ {
		rec, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}

		date, err := factors.ParseTradeDate(rec[dateIdx])
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		codes = append(codes, strings.TrimSpace(rec[codeIdx]))
		dates = append(dates, date)

		for i, name := range numeric {
			v, err := parseNumber(rec[i])
			if err != nil {
				return nil, fmt.Errorf("line %d column %s: %w", line, name, err)
			}
			columns[name] = append(columns[name], v)
		}
	}
	if len(dates) == 0 {
		return nil, factors.ErrEmptyData
	}

	frame := factors.NewFrame(codes, dates)
	for name, values := range columns {
		frame.SetColumn(name, values)
	}
	return frame, nil
}

func parseNumber(s string) (float64, error) {
	s = strings.TrimSpace(s)
	switch strings.ToLower(s) {
	case "", "nan", "null", "none", "na":
		return math.NaN(), nil
	}
	return strconv.ParseFloat(s, 64)
}

func formatNumber(v float64) string {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return ""
	}
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// WriteCSV writes result rows sorted by instrument and descending date.
func WriteCSV(w io.Writer, result *factors.Result) error {
	cw := csv.NewWriter(w)
	header := append([]string{factors.ColTsCode, factors.ColTradeDate}, result.ColumnNames()...)
	if err := cw.Write(header); err != nil {
		return err
	}

	for _, code := range instruments(result.TsCode) {
		rows := result.Instrument(code, true)
		for i := 0; i < rows.Len(); i++ {
			rec := make([]string, 0, len(header))
			rec = append(rec, rows.TsCode[i], rows.TradeDate[i].Format(factors.TradeDateLayout))
			for _, col := range rows.Columns {
				rec = append(rec, formatNumber(col.Values[i]))
			}
			if err := cw.Write(rec); err != nil {
				return err
			}
		}
	}
	cw.Flush()
	return cw.Error()
}

func instruments(codes []string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, c := range codes {
		if !seen[c] {
			seen[c] = true
			out = append(out, c)
		}
	}
	return out
}
