// Package indicator implements the causal, warmup-aware rolling
// indicators the strategy kernels need: SMA, EMA, ATR, ADX, rolling
// sum, and an efficiency-ratio proxy for trend strength.
//
// Every indicator is causal: value[i] depends only on bars [0..i]
// and is math.NaN while its lookback window has not yet filled.
// Callers decide their own fill policy; no zero-fill is baked into
// the indicator.
package indicator

import "math"

// SMA returns the simple moving average of values over a trailing
// window of length n. Entries before the window fills are NaN.
func SMA(values []float64, n int) []float64 {
	out := make([]float64, len(values))
	if n <= 0 {
		for i := range out {
			out[i] = math.NaN()
		}
		return out
	}
	var sum float64
	for i, v := range values {
		sum += v
		if i >= n {
			sum -= values[i-n]
		}
		if i < n-1 {
			out[i] = math.NaN()
		} else {
			out[i] = sum / float64(n)
		}
	}
	return out
}

// EMA returns the exponential moving average with the standard
// 2/(n+1) smoothing factor, seeded with the SMA of the first n
// values.
func EMA(values []float64, n int) []float64 {
	out := make([]float64, len(values))
	if n <= 0 || len(values) == 0 {
		for i := range out {
			out[i] = math.NaN()
		}
		return out
	}
	alpha := 2.0 / (float64(n) + 1.0)

	var sum float64
	for i, v := range values {
		if i < n-1 {
			sum += v
			out[i] = math.NaN()
			continue
		}
		if i == n-1 {
			sum += v
			out[i] = sum / float64(n)
			continue
		}
		out[i] = alpha*v + (1-alpha)*out[i-1]
	}
	return out
}

// TrueRange returns the per-bar true range: max(high-low,
// |high-prevClose|, |low-prevClose|). The first bar uses high-low
// since there is no previous close.
func TrueRange(high, low, close []float64) []float64 {
	n := len(high)
	out := make([]float64, n)
	for i := 0; i < n; i++ {
		if i == 0 {
			out[i] = high[i] - low[i]
			continue
		}
		hl := high[i] - low[i]
		hc := math.Abs(high[i] - close[i-1])
		lc := math.Abs(low[i] - close[i-1])
		out[i] = math.Max(hl, math.Max(hc, lc))
	}
	return out
}

// ATR returns Wilder's average true range over a trailing window of
// length n, seeded with a simple average of the first n true-range
// values.
func ATR(high, low, close []float64, n int) []float64 {
	tr := TrueRange(high, low, close)
	return wilderSmooth(tr, n)
}

func wilderSmooth(values []float64, n int) []float64 {
	out := make([]float64, len(values))
	if n <= 0 {
		for i := range out {
			out[i] = math.NaN()
		}
		return out
	}
	var sum float64
	for i, v := range values {
		if i < n-1 {
			sum += v
			out[i] = math.NaN()
			continue
		}
		if i == n-1 {
			sum += v
			out[i] = sum / float64(n)
			continue
		}
		out[i] = (out[i-1]*float64(n-1) + v) / float64(n)
	}
	return out
}

// ADX returns Welles Wilder's average directional index over a
// trailing window of length n.
func ADX(high, low, close []float64, n int) []float64 {
	count := len(high)
	plusDM := make([]float64, count)
	minusDM := make([]float64, count)
	for i := 1; i < count; i++ {
		upMove := high[i] - high[i-1]
		downMove := low[i-1] - low[i]
		if upMove > downMove && upMove > 0 {
			plusDM[i] = upMove
		}
		if downMove > upMove && downMove > 0 {
			minusDM[i] = downMove
		}
	}

	tr := TrueRange(high, low, close)
	smoothTR := wilderSmooth(tr, n)
	smoothPlusDM := wilderSmooth(plusDM, n)
	smoothMinusDM := wilderSmooth(minusDM, n)

	dx := make([]float64, count)
	for i := 0; i < count; i++ {
		if math.IsNaN(smoothTR[i]) || smoothTR[i] == 0 {
			dx[i] = math.NaN()
			continue
		}
		plusDI := 100.0 * smoothPlusDM[i] / smoothTR[i]
		minusDI := 100.0 * smoothMinusDM[i] / smoothTR[i]
		sumDI := plusDI + minusDI
		if sumDI == 0 {
			dx[i] = 0
			continue
		}
		dx[i] = 100.0 * math.Abs(plusDI-minusDI) / sumDI
	}
	return wilderSmooth(dx, n)
}

// RollingSum returns the sum of the trailing n values, NaN until the
// window fills. Used as a volatility proxy: absolute bar-to-bar
// change summed over a window.
func RollingSum(values []float64, n int) []float64 {
	out := make([]float64, len(values))
	if n <= 0 {
		for i := range out {
			out[i] = math.NaN()
		}
		return out
	}
	var sum float64
	for i, v := range values {
		sum += v
		if i >= n {
			sum -= values[i-n]
		}
		if i < n-1 {
			out[i] = math.NaN()
		} else {
			out[i] = sum
		}
	}
	return out
}

// EfficiencyRatio returns Kaufman's efficiency ratio over a trailing
// window of length n: net directional change divided by the sum of
// absolute bar-to-bar changes. Values run from 0 (pure noise) to 1
// (straight-line trend); NaN until the window fills.
func EfficiencyRatio(closes []float64, n int) []float64 {
	out := make([]float64, len(closes))
	if n <= 0 {
		for i := range out {
			out[i] = math.NaN()
		}
		return out
	}
	absDiff := make([]float64, len(closes))
	for i := 1; i < len(closes); i++ {
		absDiff[i] = math.Abs(closes[i] - closes[i-1])
	}
	volatility := RollingSum(absDiff, n)

	for i := range closes {
		if i < n {
			out[i] = math.NaN()
			continue
		}
		netChange := math.Abs(closes[i] - closes[i-n])
		if volatility[i] == 0 || math.IsNaN(volatility[i]) {
			out[i] = 0
			continue
		}
		out[i] = netChange / volatility[i]
	}
	return out
}

// ResampleDailyLastShiftForward takes an intraday close series keyed
// by day ordinal and a daily moving-average length, computing the SMA
// of daily closes and forward-filling yesterday's value onto every
// intraday bar of the next day. The daily indicator value used on any
// given intraday bar is always from a day that has already fully
// closed, so a higher-timeframe filter built on it has no intraday
// lookahead.
func ResampleDailyLastShiftForward(dayOrdinal []int, closes []float64, n int) []float64 {
	count := len(closes)
	out := make([]float64, count)
	if count == 0 {
		return out
	}

	var dailyCloses []float64
	var dailyOrdinals []int
	for i := 0; i < count; i++ {
		if i == count-1 || dayOrdinal[i+1] != dayOrdinal[i] {
			dailyCloses = append(dailyCloses, closes[i])
			dailyOrdinals = append(dailyOrdinals, dayOrdinal[i])
		}
	}
	dailySMA := SMA(dailyCloses, n)

	prevDayValue := math.NaN()
	dailyIdx := 0
	for i := 0; i < count; i++ {
		if i > 0 && dayOrdinal[i] != dayOrdinal[i-1] {
			prevDayValue = dailySMA[dailyIdx]
			dailyIdx++
		} else if i == 0 {
			// First bar of the series has no completed prior day.
		}
		out[i] = prevDayValue
	}
	return out
}
