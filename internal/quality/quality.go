// Package quality inspects an input frame before factors are computed and
// reports missing data, calendar gaps and outliers. It never modifies the frame.
package quality

import (
	"fmt"
	"math"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/irfndi/etffactor/pkg/factors"
)

// Method selects the outlier test.
type Method string

const (
	MethodIQR    Method = "iqr"
	MethodZScore Method = "zscore"
)

// Config holds the quality thresholds.
type Config struct {
	MaxMissingRatio  float64 // Default: 0.1
	MaxGapDays       int     // Default: 7 calendar days
	OutlierMethod    Method  // Default: iqr
	OutlierThreshold float64 // Default: 1.5 for iqr, 3 for zscore
}

// DefaultConfig returns the default thresholds.
func DefaultConfig() Config {
	return Config{
		MaxMissingRatio:  0.1,
		MaxGapDays:       7,
		OutlierMethod:    MethodIQR,
		OutlierThreshold: 1.5,
	}
}

// Flag is the kind of a quality issue.
type Flag string

const (
	FlagEmptyFrame    Flag = "empty_frame"
	FlagMissingColumn Flag = "missing_column"
	FlagEmptyColumn   Flag = "empty_column"
	FlagHighMissing   Flag = "high_missing_ratio"
	FlagDateGap       Flag = "date_gap"
	FlagOutliers      Flag = "outliers"
)

// Issue is one finding.
type Issue struct {
	Flag    Flag   `json:"flag"`
	Column  string `json:"column,omitempty"`
	TsCode  string `json:"ts_code,omitempty"`
	Message string `json:"message"`
}

// ColumnStats summarizes one numeric column.
type ColumnStats struct {
	Missing      int     `json:"missing"`
	MissingRatio float64 `json:"missing_ratio"`
	Outliers     int     `json:"outliers"`
}

// Gap is a calendar gap between two consecutive trade dates of an instrument.
type Gap struct {
	TsCode string    `json:"ts_code"`
	From   time.Time `json:"from"`
	To     time.Time `json:"to"`
	Days   int       `json:"days"`
}

// Report is the outcome of a quality check.
type Report struct {
	Rows        int                    `json:"rows"`
	Instruments int                    `json:"instruments"`
	Start       time.Time              `json:"start"`
	End         time.Time              `json:"end"`
	Columns     map[string]ColumnStats `json:"columns"`
	Gaps        []Gap                  `json:"gaps,omitempty"`
	Issues      []Issue                `json:"issues,omitempty"`
}

// OK reports whether no issue was found.
func (r *Report) OK() bool {
	return len(r.Issues) == 0
}

// Diagnostics converts the issues into warning diagnostics.
func (r *Report) Diagnostics() factors.Diagnostics {
	var d factors.Diagnostics
	for _, issue := range r.Issues {
		d.Add(factors.LevelWarning, factors.CodeDataQuality, "", issue.Column, "%s", issue.Message)
	}
	return d
}

// Checker runs the quality checks with a fixed configuration.
type Checker struct {
	config Config
	logger *zap.Logger
}

// NewChecker creates a checker. Zero fields of cfg take their defaults.
func NewChecker(cfg Config, logger *zap.Logger) *Checker {
	def := DefaultConfig()
	if cfg.MaxMissingRatio <= 0 {
		cfg.MaxMissingRatio = def.MaxMissingRatio
	}
	if cfg.MaxGapDays <= 0 {
		cfg.MaxGapDays = def.MaxGapDays
	}
	if cfg.OutlierMethod == "" {
		cfg.OutlierMethod = def.OutlierMethod
	}
	if cfg.OutlierThreshold <= 0 {
		if cfg.OutlierMethod == MethodZScore {
			cfg.OutlierThreshold = 3
		} else {
			cfg.OutlierThreshold = def.OutlierThreshold
		}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Checker{config: cfg, logger: logger}
}

// Check inspects frame. required lists columns that must be present.
func Check(frame *factors.Frame, required ...string) *Report {
	return NewChecker(DefaultConfig(), nil).Check(frame, required...)
}

// Check inspects frame. required lists columns that must be present.
func (c *Checker) Check(frame *factors.Frame, required ...string) *Report {
	report := &Report{Rows: frame.Len(), Columns: make(map[string]ColumnStats)}
	if report.Rows == 0 {
		report.Issues = append(report.Issues, Issue{Flag: FlagEmptyFrame, Message: "frame has no rows"})
		return report
	}
	report.Instruments = len(frame.Instruments())

	for _, name := range frame.MissingColumns(required...) {
		report.Issues = append(report.Issues, Issue{
			Flag:    FlagMissingColumn,
			Column:  name,
			Message: fmt.Sprintf("required column %s is missing", name),
		})
	}

	for _, name := range frame.ColumnNames() {
		values, _ := frame.Column(name)
		stats := c.columnStats(values)
		report.Columns[name] = stats

		switch {
		case stats.Missing == len(values):
			report.Issues = append(report.Issues, Issue{
				Flag:    FlagEmptyColumn,
				Column:  name,
				Message: fmt.Sprintf("column %s has no values", name),
			})
		case stats.MissingRatio > c.config.MaxMissingRatio:
			report.Issues = append(report.Issues, Issue{
				Flag:    FlagHighMissing,
				Column:  name,
				Message: fmt.Sprintf("column %s is %.2f%% missing", name, stats.MissingRatio*100),
			})
		}
		if stats.Outliers > 0 {
			report.Issues = append(report.Issues, Issue{
				Flag:    FlagOutliers,
				Column:  name,
				Message: fmt.Sprintf("column %s has %d %s outliers", name, stats.Outliers, c.config.OutlierMethod),
			})
		}
	}

	report.Start, report.End = dateRange(frame.TradeDate)
	report.Gaps = c.gaps(frame)
	for _, g := range report.Gaps {
		report.Issues = append(report.Issues, Issue{
			Flag:    FlagDateGap,
			TsCode:  g.TsCode,
			Message: fmt.Sprintf("%s has a %d day gap after %s", g.TsCode, g.Days, g.From.Format(factors.TradeDateLayout)),
		})
	}

	if len(report.Issues) > 0 {
		c.logger.Debug("Data quality issues found",
			zap.Int("rows", report.Rows),
			zap.Int("issues", len(report.Issues)))
	}
	return report
}

func (c *Checker) columnStats(values []float64) ColumnStats {
	var stats ColumnStats
	for _, v := range values {
		if math.IsNaN(v) {
			stats.Missing++
		}
	}
	if len(values) > 0 {
		stats.MissingRatio = float64(stats.Missing) / float64(len(values))
	}
	for _, out := range DetectOutliers(values, c.config.OutlierMethod, c.config.OutlierThreshold) {
		if out {
			stats.Outliers++
		}
	}
	return stats
}

func (c *Checker) gaps(frame *factors.Frame) []Gap {
	byCode := make(map[string][]time.Time)
	for i, code := range frame.TsCode {
		byCode[code] = append(byCode[code], frame.TradeDate[i])
	}

	var gaps []Gap
	for _, code := range frame.Instruments() {
		dates := byCode[code]
		sort.Slice(dates, func(a, b int) bool { return dates[a].Before(dates[b]) })
		for i := 1; i < len(dates); i++ {
			days := int(dates[i].Sub(dates[i-1]).Hours() / 24)
			if days > c.config.MaxGapDays {
				gaps = append(gaps, Gap{TsCode: code, From: dates[i-1], To: dates[i], Days: days})
			}
		}
	}
	return gaps
}

func dateRange(dates []time.Time) (time.Time, time.Time) {
	var start, end time.Time
	for i, d := range dates {
		if i == 0 || d.Before(start) {
			start = d
		}
		if i == 0 || d.After(end) {
			end = d
		}
	}
	return start, end
}

// DetectOutliers flags values outside threshold*IQR beyond the quartiles, or
// with an absolute z-score above threshold. NaN is never an outlier.
func DetectOutliers(values []float64, method Method, threshold float64) []bool {
	out := make([]bool, len(values))
	finite := make([]float64, 0, len(values))
	for _, v := range values {
		if !math.IsNaN(v) && !math.IsInf(v, 0) {
			finite = append(finite, v)
		}
	}
	if len(finite) < 2 {
		return out
	}

	switch method {
	case MethodZScore:
		mean, std := meanStd(finite)
		if std == 0 {
			return out
		}
		for i, v := range values {
			out[i] = !math.IsNaN(v) && math.Abs((v-mean)/std) > threshold
		}
	default:
		sort.Float64s(finite)
		q1, q3 := quantile(finite, 0.25), quantile(finite, 0.75)
		iqr := q3 - q1
		lo, hi := q1-threshold*iqr, q3+threshold*iqr
		for i, v := range values {
			out[i] = !math.IsNaN(v) && (v < lo || v > hi)
		}
	}
	return out
}

// quantile interpolates linearly between the closest ranks of sorted.
func quantile(sorted []float64, q float64) float64 {
	pos := q * float64(len(sorted)-1)
	lo := int(math.Floor(pos))
	hi := int(math.Ceil(pos))
	return sorted[lo] + (sorted[hi]-sorted[lo])*(pos-float64(lo))
}

// meanStd returns the mean and the sample standard deviation.
func meanStd(values []float64) (float64, float64) {
	var sum float64
	for _, v := range values {
		sum += v
	}
	mean := sum / float64(len(values))
	var ss float64
	for _, v := range values {
		ss += (v - mean) * (v - mean)
	}
	return mean, math.Sqrt(ss / float64(len(values)-1))
}
