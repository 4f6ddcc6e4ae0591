// Package indicators computes close-only technical indicators.
//
// All functions are pure. A (value, false) result means the series is
// shorter than the requested period; callers must treat the value as
// undefined rather than zero.
package indicators

import "math"

// SMA is the mean of the last n values.
func SMA(values []float64, n int) (float64, bool) {
	return smaEndingAt(values, n, len(values))
}

// smaEndingAt averages values[end-n:end].
func smaEndingAt(values []float64, n, end int) (float64, bool) {
	if n <= 0 || end > len(values) || end < n {
		return 0, false
	}
	sum := 0.0
	for _, v := range values[end-n : end] {
		sum += v
	}
	return sum / float64(n), true
}

// StdDev is the sample standard deviation of the last n values. It is the
// ATR proxy: no high/low history is available, so volatility is measured
// on closes alone.
func StdDev(values []float64, n int) (float64, bool) {
	if n < 2 || len(values) < n {
		return 0, false
	}
	window := values[len(values)-n:]
	mean, _ := SMA(window, n)
	ss := 0.0
	for _, v := range window {
		d := v - mean
		ss += d * d
	}
	return math.Sqrt(ss / float64(n-1)), true
}

// RSI is Wilder's relative strength index: the first average gain/loss is
// a plain mean over `period` deltas, later ones are smoothed with
// avg = (avg*(period-1) + x) / period. Needs period+1 closes.
func RSI(closes []float64, period int) (float64, bool) {
	if period <= 0 || len(closes) < period+1 {
		return 0, false
	}

	var avgGain, avgLoss float64
	for i := 1; i <= period; i++ {
		g, l := split(closes[i] - closes[i-1])
		avgGain += g
		avgLoss += l
	}
	p := float64(period)
	avgGain /= p
	avgLoss /= p

	for i := period + 1; i < len(closes); i++ {
		g, l := split(closes[i] - closes[i-1])
		avgGain = (avgGain*(p-1) + g) / p
		avgLoss = (avgLoss*(p-1) + l) / p
	}

	var rsi float64
	switch {
	case avgLoss == 0 && avgGain == 0:
		rsi = 50
	case avgLoss == 0:
		rsi = 100
	default:
		rsi = 100 - 100/(1+avgGain/avgLoss)
	}
	return clamp(rsi, 0, 100), true
}

func split(delta float64) (gain, loss float64) {
	if delta > 0 {
		return delta, 0
	}
	return 0, -delta
}

// VolumeSpike is true when the latest volume exceeds multiple times the
// mean of the last `window` volumes (latest included).
func VolumeSpike(volumes []float64, window int, multiple float64) bool {
	avg, ok := SMA(volumes, window)
	if !ok || avg <= 0 {
		return false
	}
	return volumes[len(volumes)-1] > multiple*avg
}

// Slope compares SMA(n) now against SMA(n) `lookback` bars earlier and
// returns +1, 0 or -1. Too little history reads as flat.
func Slope(values []float64, n, lookback int) int {
	if lookback <= 0 {
		return 0
	}
	now, ok := SMA(values, n)
	if !ok {
		return 0
	}
	prev, ok := smaEndingAt(values, n, len(values)-lookback)
	if !ok {
		return 0
	}
	diff := now - prev
	if math.Abs(diff) <= 1e-9*math.Max(math.Abs(prev), 1) {
		return 0
	}
	if diff > 0 {
		return 1
	}
	return -1
}

func clamp(v, lo, hi float64) float64 {
	if math.IsNaN(v) {
		return lo
	}
	return math.Max(lo, math.Min(hi, v))
}
