package dataio

import (
	"context"
	"encoding/csv"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/irfndi/etffactor/pkg/factors"
)

const sample = `ts_code,trade_date,hfq_close,vol
510300.SH,20240103,3.51,1000
510300.SH,2024-01-02,3.50,
159915.SZ,20240102,2.10,nan
`

func TestReadCSV(t *testing.T) {
	frame, err := ReadCSV(strings.NewReader(sample))
	require.NoError(t, err)
	require.Equal(t, 3, frame.Len())
	assert.Equal(t, []string{"510300.SH", "510300.SH", "159915.SZ"}, frame.TsCode)
	assert.Equal(t, time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC), frame.TradeDate[1])

	closes, ok := frame.Column("hfq_close")
	require.True(t, ok)
	assert.Equal(t, []float64{3.51, 3.50, 2.10}, closes)
	vols, _ := frame.Column("vol")
	assert.Equal(t, 1000.0, vols[0])
	assert.True(t, math.IsNaN(vols[1]))
	assert.True(t, math.IsNaN(vols[2]))
	assert.NoError(t, frame.Validate())
}

func TestReadCSV_Errors(t *testing.T) {
	_, err := ReadCSV(strings.NewReader(""))
	assert.ErrorIs(t, err, factors.ErrEmptyData)

	_, err = ReadCSV(strings.NewReader("ts_code,trade_date,close\n"))
	assert.ErrorIs(t, err, factors.ErrEmptyData)

	_, err = ReadCSV(strings.NewReader("ts_code,close\nA,1\n"))
	assert.ErrorIs(t, err, factors.ErrMissingColumns)

	_, err = ReadCSV(strings.NewReader("ts_code,trade_date,close\nA,yesterday,1\n"))
	assert.ErrorContains(t, err, "line 2")

	_, err = ReadCSV(strings.NewReader("ts_code,trade_date,close\nA,20240102,abc\n"))
	assert.ErrorContains(t, err, "column close")
}

func TestReadCSVFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "in.csv")
	require.NoError(t, os.WriteFile(path, []byte("\ufeff"+sample), 0o644))
	frame, err := ReadCSVFile(path)
	require.NoError(t, err)
	assert.Equal(t, 3, frame.Len())

	_, err = ReadCSVFile(filepath.Join(t.TempDir(), "missing.csv"))
	assert.Error(t, err)
}

func testResult(factor string, cat factors.Category, column string) *factors.Result {
	d := func(i int) time.Time { return time.Date(2024, 1, 2+i, 0, 0, 0, 0, time.UTC) }
	return &factors.Result{
		Factor:    factor,
		Category:  cat,
		TsCode:    []string{"510300.SH", "510300.SH", "159915.SZ"},
		TradeDate: []time.Time{d(0), d(1), d(0)},
		Columns:   []factors.Column{{Name: column, Values: []float64{1.5, math.NaN(), 3}}},
	}
}

func readAll(t *testing.T, path string) [][]string {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	return rows
}

func TestWriteCSV_DescendingDates(t *testing.T) {
	var b strings.Builder
	require.NoError(t, WriteCSV(&b, testResult("SMA", factors.CategoryMovingAverage, "SMA_5")))
	assert.Equal(t, "ts_code,trade_date,SMA_5\n"+
		"510300.SH,20240103,\n"+
		"510300.SH,20240102,1.5\n"+
		"159915.SZ,20240102,3\n", b.String())
}

func TestWriter_Modes(t *testing.T) {
	results := []*factors.Result{
		testResult("SMA", factors.CategoryMovingAverage, "SMA_5"),
		testResult("EMA", factors.CategoryMovingAverage, "EMA_5"),
		testResult("OBV", factors.CategoryVolumePrice, "OBV"),
	}
	ctx := context.Background()

	dir := t.TempDir()
	paths, err := NewWriter(dir, nil).Write(ctx, ModeSingle, results)
	require.NoError(t, err)
	assert.Len(t, paths, 6)
	assert.Contains(t, paths, filepath.Join(dir, "510300", "SMA.csv"))
	assert.Contains(t, paths, filepath.Join(dir, "159915", "OBV.csv"))
	rows := readAll(t, filepath.Join(dir, "510300", "SMA.csv"))
	assert.Equal(t, [][]string{{"ts_code", "trade_date", "SMA_5"}, {"510300.SH", "20240103", ""}, {"510300.SH", "20240102", "1.5"}}, rows)

	dir = t.TempDir()
	paths, err = NewWriter(dir, nil).Write(ctx, ModeGroup, results)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{
		filepath.Join(dir, "factor_groups", "moving_average_159915.SZ.csv"),
		filepath.Join(dir, "factor_groups", "moving_average_510300.SH.csv"),
		filepath.Join(dir, "factor_groups", "volume_price_159915.SZ.csv"),
		filepath.Join(dir, "factor_groups", "volume_price_510300.SH.csv"),
	}, paths)
	rows = readAll(t, filepath.Join(dir, "factor_groups", "moving_average_510300.SH.csv"))
	assert.Equal(t, []string{"ts_code", "trade_date", "SMA_5", "EMA_5"}, rows[0])

	dir = t.TempDir()
	paths, err = NewWriter(dir, nil).Write(ctx, ModeComplete, results)
	require.NoError(t, err)
	assert.Equal(t, []string{
		filepath.Join(dir, "complete", "all_factors_159915.SZ.csv"),
		filepath.Join(dir, "complete", "all_factors_510300.SH.csv"),
	}, paths)
	rows = readAll(t, paths[1])
	assert.Equal(t, []string{"ts_code", "trade_date", "SMA_5", "EMA_5", "OBV"}, rows[0])
	assert.Len(t, rows, 3)

	_, err = NewWriter(dir, nil).Write(ctx, "wide", results)
	assert.Error(t, err)
}

func TestWriter_Metadata(t *testing.T) {
	results := []*factors.Result{
		testResult("SMA", factors.CategoryMovingAverage, "SMA_5"),
		testResult("OBV", factors.CategoryVolumePrice, "OBV"),
	}
	results[0].Params = "periods=5"
	dir := t.TempDir()
	w := NewWriter(dir, nil)
	stamp := time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC)
	w.now = func() time.Time { return stamp }

	paths, err := w.Write(context.Background(), ModeComplete, results)
	require.NoError(t, err)
	data := factors.FrameSummary{Rows: 3, Instruments: 2, Fingerprint: "abc"}
	path, err := w.WriteMetadata(NewMetadata("run-1", ModeComplete, data, results, paths))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, MetadataFile), path)

	meta, err := ReadMetadata(dir)
	require.NoError(t, err)
	assert.Equal(t, "run-1", meta.RunID)
	assert.Equal(t, ModeComplete, meta.Mode)
	assert.Equal(t, data, meta.Data)
	assert.Equal(t, stamp, meta.LastUpdated)
	assert.Equal(t, []string{"complete/all_factors_159915.SZ.csv", "complete/all_factors_510300.SH.csv"}, meta.Files)
	require.Len(t, meta.Factors, 2)
	assert.Equal(t, FactorMetadata{Name: "SMA", Category: factors.CategoryMovingAverage, Params: "periods=5", Columns: []string{"SMA_5"}, Rows: 3}, meta.Factors[0])

	_, err = ReadMetadata(t.TempDir())
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestParseMode(t *testing.T) {
	m, err := ParseMode("")
	require.NoError(t, err)
	assert.Equal(t, ModeSingle, m)
	m, err = ParseMode(" Group ")
	require.NoError(t, err)
	assert.Equal(t, ModeGroup, m)
	_, err = ParseMode("wide")
	assert.Error(t, err)
}

func TestLoadParams(t *testing.T) {
	dir := t.TempDir()
	yamlPath := filepath.Join(dir, "params.yaml")
	require.NoError(t, os.WriteFile(yamlPath, []byte("sma: [20, 5]\nMACD:\n  fast_period: 8\n  slow_period: 21\n  signal_period: 5\n"), 0o644))
	jsonPath := filepath.Join(dir, "params.json")
	require.NoError(t, os.WriteFile(jsonPath, []byte(`{"sma": [20, 5], "boll": {"period": 10, "std_dev": 2.5}}`), 0o644))

	fromYAML, err := LoadParams(yamlPath)
	require.NoError(t, err)
	fromJSON, err := LoadParams(jsonPath)
	require.NoError(t, err)

	for _, params := range []map[string]any{fromYAML, fromJSON} {
		set, err := factors.NewSMA().Schema().Validate(params["SMA"])
		require.NoError(t, err)
		assert.Equal(t, factors.PeriodsParams{Periods: []int{5, 20}}, set)
	}

	macd, err := factors.NewMACD().Schema().Validate(fromYAML["MACD"])
	require.NoError(t, err)
	assert.Equal(t, factors.MACDParams{FastPeriod: 8, SlowPeriod: 21, SignalPeriod: 5}, macd)

	boll, err := factors.NewBOLL().Schema().Validate(fromJSON["BOLL"])
	require.NoError(t, err)
	assert.Equal(t, factors.BandParams{Period: 10, StdDev: 2.5}, boll)

	_, err = ParseParamsJSON([]byte("[1,2]"))
	assert.Error(t, err)
	_, err = LoadParams(filepath.Join(dir, "nope.yaml"))
	assert.Error(t, err)
}
