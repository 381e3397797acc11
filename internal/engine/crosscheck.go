package engine

import (
	"fmt"
	"math"
	"sort"

	"github.com/irfndi/etffactor/internal/talib"
	"github.com/irfndi/etffactor/pkg/factors"
)

// relTolerance is the relative difference above which a value counts as
// diverging from the reference library.
const relTolerance = 1e-3

// comparison pairs one result column with the reference series computed
// for one instrument. Rows before settle are skipped, which lets recursive
// indicators converge despite different seeding.
type comparison struct {
	column string
	ref    []float64
	settle int
	diffs  bool
}

// CrossCheck recomputes the factors a reference library also implements and
// reports diverging columns as reference_mismatch warnings. It never changes
// the result. Factors without a reference counterpart yield no diagnostics.
func CrossCheck(ref talib.Provider, factor string, params factors.ParameterSet, frame *factors.Frame, result *factors.Result, adj factors.Adjustment) factors.Diagnostics {
	closes, _ := frame.Column(adj.PriceColumn(factors.ColClose))
	vols, _ := frame.Column(factors.ColVol)

	type tally struct {
		checked, mismatched int
		maxDiff             float64
	}
	tallies := make(map[string]*tally)

	for _, rows := range frame.InstrumentRows() {
		close := gather(closes, rows)
		vol := gather(vols, rows)

		for _, c := range references(ref, factor, params, close, vol) {
			values, ok := result.Column(c.column)
			if !ok {
				continue
			}
			t := tallies[c.column]
			if t == nil {
				t = &tally{}
				tallies[c.column] = t
			}
			got := gather(values, rows)
			want := c.ref
			if c.diffs {
				got, want = firstDiffs(got), firstDiffs(want)
			}
			for i := c.settle; i < len(got) && i < len(want); i++ {
				if !factors.IsFinite(got[i]) || !factors.IsFinite(want[i]) {
					continue
				}
				t.checked++
				diff := math.Abs(got[i] - want[i])
				if diff > relTolerance*math.Max(1, math.Abs(want[i])) {
					t.mismatched++
					t.maxDiff = math.Max(t.maxDiff, diff)
				}
			}
		}
	}

	columns := make([]string, 0, len(tallies))
	for col := range tallies {
		columns = append(columns, col)
	}
	sort.Strings(columns)

	var diags factors.Diagnostics
	for _, col := range columns {
		t := tallies[col]
		if t.mismatched == 0 {
			continue
		}
		diags.Add(factors.LevelWarning, factors.CodeReferenceMismatch, factor, col,
			"%d of %d rows differ from %s (max abs diff %s)", t.mismatched, t.checked, ref.Name(), formatDiff(t.maxDiff))
	}
	return diags
}

func references(ref talib.Provider, factor string, params factors.ParameterSet, close, vol []float64) []comparison {
	var out []comparison
	switch p := params.(type) {
	case factors.PeriodsParams:
		for _, period := range p.Periods {
			switch factor {
			case "SMA":
				out = append(out, comparison{column: fmt.Sprintf("SMA_%d", period), ref: ref.SMA(close, period)})
			case "VMA":
				out = append(out, comparison{column: fmt.Sprintf("VMA_%d", period), ref: ref.SMA(vol, period)})
			case "EMA":
				out = append(out, comparison{column: fmt.Sprintf("EMA_%d", period), ref: ref.EMA(close, period), settle: 10 * period})
			}
		}
	case factors.MACDParams:
		if factor == "MACD" {
			dif, _ := ref.MACD(close, p.FastPeriod, p.SlowPeriod, p.SignalPeriod)
			out = append(out, comparison{column: "MACD_DIF", ref: dif, settle: 10 * p.SlowPeriod})
		}
	case factors.BandParams:
		if factor == "BOLL" {
			_, mid, _ := ref.Bollinger(close, p.Period)
			out = append(out, comparison{column: "BOLL_MID", ref: mid})
		}
	case factors.NoParams:
		if factor == "OBV" && vol != nil {
			out = append(out, comparison{column: "OBV", ref: ref.OBV(close, vol), settle: 2, diffs: true})
		}
	}
	return out
}

func gather(values []float64, rows []int) []float64 {
	if values == nil {
		return nil
	}
	out := make([]float64, len(rows))
	for i, r := range rows {
		out[i] = values[r]
	}
	return out
}

// firstDiffs removes a constant offset so cumulative series started from
// different origins can be compared.
func firstDiffs(values []float64) []float64 {
	out := make([]float64, len(values))
	for i := range values {
		if i == 0 {
			out[i] = math.NaN()
			continue
		}
		out[i] = values[i] - values[i-1]
	}
	return out
}

func formatDiff(v float64) string {
	return fmt.Sprintf("%.6g", v)
}
