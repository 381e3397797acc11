package quality

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/irfndi/etffactor/pkg/factors"
)

var day0 = time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

func cleanFrame(n int) *factors.Frame {
	codes := make([]string, n)
	dates := make([]time.Time, n)
	closes := make([]float64, n)
	vols := make([]float64, n)
	for i := 0; i < n; i++ {
		codes[i] = "510300.SH"
		dates[i] = day0.AddDate(0, 0, i)
		closes[i] = 4 + 0.01*float64(i%5)
		vols[i] = 1e6 + float64(i%3)*1e4
	}
	f := factors.NewFrame(codes, dates)
	f.SetColumn("hfq_close", closes)
	f.SetColumn("vol", vols)
	return f
}

func flags(r *Report) []Flag {
	var out []Flag
	for _, i := range r.Issues {
		out = append(out, i.Flag)
	}
	return out
}

func TestCheck_CleanFrame(t *testing.T) {
	r := Check(cleanFrame(30), "hfq_close", "vol")
	assert.True(t, r.OK(), "issues: %v", r.Issues)
	assert.Equal(t, 30, r.Rows)
	assert.Equal(t, 1, r.Instruments)
	assert.Equal(t, day0, r.Start)
	assert.Equal(t, day0.AddDate(0, 0, 29), r.End)
	assert.Empty(t, r.Diagnostics())
}

func TestCheck_EmptyFrame(t *testing.T) {
	r := Check(factors.NewFrame(nil, nil))
	assert.Equal(t, []Flag{FlagEmptyFrame}, flags(r))
}

func TestCheck_MissingAndEmptyColumns(t *testing.T) {
	f := cleanFrame(20)
	f.SetColumn("amount", []float64{
		math.NaN(), math.NaN(), math.NaN(), math.NaN(), math.NaN(),
		math.NaN(), math.NaN(), math.NaN(), math.NaN(), math.NaN(),
		math.NaN(), math.NaN(), math.NaN(), math.NaN(), math.NaN(),
		math.NaN(), math.NaN(), math.NaN(), math.NaN(), math.NaN(),
	})
	vols, _ := f.Column("vol")
	vols[3], vols[4], vols[5] = math.NaN(), math.NaN(), math.NaN()

	r := Check(f, "hfq_close", "hfq_high")
	assert.Contains(t, r.Issues, Issue{Flag: FlagMissingColumn, Column: "hfq_high", Message: "required column hfq_high is missing"})
	assert.Contains(t, flags(r), FlagEmptyColumn)
	assert.Contains(t, flags(r), FlagHighMissing)
	assert.Equal(t, 3, r.Columns["vol"].Missing)
	assert.InDelta(t, 0.15, r.Columns["vol"].MissingRatio, 1e-12)

	diags := r.Diagnostics()
	require.Len(t, diags, len(r.Issues))
	assert.True(t, diags.HasCode(factors.CodeDataQuality))
}

func TestCheck_Gaps(t *testing.T) {
	f := cleanFrame(10)
	f.TradeDate[9] = f.TradeDate[8].AddDate(0, 0, 10)

	r := Check(f)
	require.Len(t, r.Gaps, 1)
	assert.Equal(t, 10, r.Gaps[0].Days)
	assert.Equal(t, "510300.SH", r.Gaps[0].TsCode)
	assert.Contains(t, flags(r), FlagDateGap)

	// A normal weekend is not a gap.
	f.TradeDate[9] = f.TradeDate[8].AddDate(0, 0, 3)
	assert.Empty(t, Check(f).Gaps)
}

func TestCheck_LogsIssues(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	c := NewChecker(Config{}, zap.New(core))
	c.Check(factors.NewFrame([]string{"A"}, []time.Time{day0}), "hfq_close")
	assert.Equal(t, 1, logs.FilterMessage("Data quality issues found").Len())
}

func TestDetectOutliers(t *testing.T) {
	values := []float64{10, 11, 10, 12, 11, 10, 100, math.NaN()}

	iqr := DetectOutliers(values, MethodIQR, 1.5)
	assert.Equal(t, []bool{false, false, false, false, false, false, true, false}, iqr)

	z := DetectOutliers(values, MethodZScore, 2)
	assert.True(t, z[6])
	assert.False(t, z[0])
	assert.False(t, z[7])

	assert.Equal(t, []bool{false, false}, DetectOutliers([]float64{1, 1}, MethodZScore, 3))
	assert.Equal(t, []bool{false}, DetectOutliers([]float64{5}, MethodIQR, 1.5))
}

func TestQuantile(t *testing.T) {
	sorted := []float64{1, 2, 3, 4}
	assert.InDelta(t, 1.75, quantile(sorted, 0.25), 1e-12)
	assert.InDelta(t, 3.25, quantile(sorted, 0.75), 1e-12)
}

func TestNewChecker_Defaults(t *testing.T) {
	c := NewChecker(Config{OutlierMethod: MethodZScore}, nil)
	assert.Equal(t, 3.0, c.config.OutlierThreshold)
	assert.Equal(t, 7, c.config.MaxGapDays)
	assert.Equal(t, 0.1, c.config.MaxMissingRatio)
}
