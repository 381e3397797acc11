package factors

import "math"

// The helpers below mirror the windowed primitives the algorithms are defined
// in terms of. All of them are NaN-aware: missing inputs are skipped and a
// window produces a value only once it holds at least minPeriods
// observations.

func nans(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = math.NaN()
	}
	return out
}

func windowStart(i, period int) int {
	start := i - period + 1
	if start < 0 {
		return 0
	}
	return start
}

func rollingMean(x []float64, period, minPeriods int) []float64 {
	out := nans(len(x))
	for i := range x {
		sum, count := 0.0, 0
		for j := windowStart(i, period); j <= i; j++ {
			if !math.IsNaN(x[j]) {
				sum += x[j]
				count++
			}
		}
		if count >= minPeriods && count > 0 {
			out[i] = sum / float64(count)
		}
	}
	return out
}

// rollingStd is the sample standard deviation (ddof=1).
func rollingStd(x []float64, period, minPeriods int) []float64 {
	out := nans(len(x))
	for i := range x {
		sum, count := 0.0, 0
		start := windowStart(i, period)
		for j := start; j <= i; j++ {
			if !math.IsNaN(x[j]) {
				sum += x[j]
				count++
			}
		}
		if count < minPeriods || count < 2 {
			continue
		}
		mean := sum / float64(count)
		ss := 0.0
		for j := start; j <= i; j++ {
			if !math.IsNaN(x[j]) {
				d := x[j] - mean
				ss += d * d
			}
		}
		out[i] = math.Sqrt(ss / float64(count-1))
	}
	return out
}

func rollingMax(x []float64, period, minPeriods int) []float64 {
	return rollingExtreme(x, period, minPeriods, func(a, b float64) bool { return a > b })
}

func rollingMin(x []float64, period, minPeriods int) []float64 {
	return rollingExtreme(x, period, minPeriods, func(a, b float64) bool { return a < b })
}

func rollingExtreme(x []float64, period, minPeriods int, better func(a, b float64) bool) []float64 {
	out := nans(len(x))
	for i := range x {
		best, count := math.NaN(), 0
		for j := windowStart(i, period); j <= i; j++ {
			if math.IsNaN(x[j]) {
				continue
			}
			if count == 0 || better(x[j], best) {
				best = x[j]
			}
			count++
		}
		if count >= minPeriods && count > 0 {
			out[i] = best
		}
	}
	return out
}

// rollingMeanAbsDev is the mean absolute deviation of each window around
// that window's own mean.
func rollingMeanAbsDev(x []float64, period, minPeriods int) []float64 {
	means := rollingMean(x, period, minPeriods)
	out := nans(len(x))
	for i := range x {
		if math.IsNaN(means[i]) {
			continue
		}
		sum, count := 0.0, 0
		for j := windowStart(i, period); j <= i; j++ {
			if !math.IsNaN(x[j]) {
				sum += math.Abs(x[j] - means[i])
				count++
			}
		}
		out[i] = sum / float64(count)
	}
	return out
}

// weightedMean uses linear weights 1..period on the trailing window, with the
// newest row weighted heaviest. Short windows use the weights 1..k of the
// rows available.
func weightedMean(x []float64, period int) []float64 {
	out := nans(len(x))
	for i := range x {
		start := windowStart(i, period)
		sum, weights := 0.0, 0.0
		w := 1.0
		for j := start; j <= i; j++ {
			if !math.IsNaN(x[j]) {
				sum += x[j] * w
				weights += w
			}
			w++
		}
		if weights > 0 {
			out[i] = sum / weights
		}
	}
	return out
}

// ewm is the recursive exponential mean with adjust=false, seeded by the first
// observation: y_t = (1-alpha) * y_{t-1} + alpha * x_t. Missing inputs carry
// the previous value forward.
func ewm(x []float64, alpha float64) []float64 {
	out := nans(len(x))
	prev := math.NaN()
	for i, v := range x {
		switch {
		case math.IsNaN(v):
		case math.IsNaN(prev):
			prev = v
		default:
			prev = (1-alpha)*prev + alpha*v
		}
		out[i] = prev
	}
	return out
}

// ewmSpan is ewm with alpha = 2/(span+1).
func ewmSpan(x []float64, span int) []float64 {
	return ewm(x, 2/(float64(span)+1))
}

func shift(x []float64, k int) []float64 {
	out := nans(len(x))
	for i := k; i < len(x); i++ {
		out[i] = x[i-k]
	}
	return out
}

func diff(x []float64, k int) []float64 {
	out := nans(len(x))
	for i := k; i < len(x); i++ {
		out[i] = x[i] - x[i-k]
	}
	return out
}

// pctChange is x_t / x_{t-k} - 1 (a ratio, not a percentage).
func pctChange(x []float64, k int) []float64 {
	out := nans(len(x))
	for i := k; i < len(x); i++ {
		out[i] = x[i]/x[i-k] - 1
	}
	return out
}

func scale(x []float64, factor float64) []float64 {
	out := make([]float64, len(x))
	for i, v := range x {
		out[i] = v * factor
	}
	return out
}

// IsFinite reports whether v is neither NaN nor an infinity.
func IsFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
