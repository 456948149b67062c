// Package stats provides trailing-window statistics over float series.
package stats

import "math"

// Epsilon is the floor below which a dispersion is treated as zero.
const Epsilon = 1e-12

// TrailingMean returns, for each i, the mean of values[i-window:i]. Positions with
// fewer than window preceding observations, or whose window holds a NaN, are NaN.
func TrailingMean(values []float64, window int) []float64 {
	out := nanSlice(len(values))
	if window <= 0 {
		return out
	}
	for i := window; i < len(values); i++ {
		sum := 0.0
		ok := true
		for _, v := range values[i-window : i] {
			if math.IsNaN(v) {
				ok = false
				break
			}
			sum += v
		}
		if ok {
			out[i] = sum / float64(window)
		}
	}
	return out
}

// TrailingStd returns, for each i, the sample standard deviation (n-1) of
// values[i-window:i]. Undefined positions are NaN, as in TrailingMean.
func TrailingStd(values []float64, window int) []float64 {
	out := nanSlice(len(values))
	if window < 2 {
		return out
	}
	for i := window; i < len(values); i++ {
		out[i] = sampleStd(values[i-window : i])
	}
	return out
}

// sampleStd uses Welford's update so near-constant windows stay stable.
func sampleStd(values []float64) float64 {
	var (
		count int
		mean  float64
		m2    float64
	)
	for _, v := range values {
		if math.IsNaN(v) {
			return math.NaN()
		}
		count++
		delta := v - mean
		mean += delta / float64(count)
		m2 += delta * (v - mean)
	}
	if count < 2 {
		return math.NaN()
	}
	return math.Sqrt(m2 / float64(count-1))
}

// Degenerate reports whether a dispersion or average cannot be used as a divisor.
func Degenerate(v float64) bool {
	return math.IsNaN(v) || math.IsInf(v, 0) || v <= Epsilon
}

func nanSlice(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = math.NaN()
	}
	return out
}
