package dsp

import "math"

// Hann returns a symmetric Hann window of length n.
// If n is zero or negative, an empty slice is returned.
func Hann(n int) []float64 {
	if n <= 0 {
		return []float64{}
	}
	if n == 1 {
		return []float64{1}
	}
	win := make([]float64, n)
	for i := 0; i < n; i++ {
		win[i] = 0.5 * (1 - math.Cos(2*math.Pi*float64(i)/float64(n-1)))
	}
	return win
}

// CoherentGain returns the mean of a window function, used to restore
// amplitude after windowing.
func CoherentGain(win []float64) float64 {
	if len(win) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range win {
		sum += v
	}
	return sum / float64(len(win))
}

// Detrend returns a copy of x with the least-squares linear trend removed.
func Detrend(x []float64) []float64 {
	n := len(x)
	out := make([]float64, n)
	if n < 2 {
		copy(out, x)
		return out
	}

	// Least-squares fit of x against sample index.
	var sumI, sumX, sumIX, sumII float64
	for i, v := range x {
		fi := float64(i)
		sumI += fi
		sumX += v
		sumIX += fi * v
		sumII += fi * fi
	}
	fn := float64(n)
	denom := fn*sumII - sumI*sumI
	if denom == 0 {
		copy(out, x)
		return out
	}
	slope := (fn*sumIX - sumI*sumX) / denom
	intercept := (sumX - slope*sumI) / fn

	for i, v := range x {
		out[i] = v - (intercept + slope*float64(i))
	}
	return out
}

// Taper returns a copy of x with a Hann-shaped cosine taper applied over
// fraction of the length at each end. The taper width is capped at half
// the signal so both ramps never overlap.
func Taper(x []float64, fraction float64) []float64 {
	out := make([]float64, len(x))
	copy(out, x)
	if fraction <= 0 || len(x) < 2 {
		return out
	}
	w := int(math.Round(fraction * float64(len(x))))
	if w > len(x)/2 {
		w = len(x) / 2
	}
	if w < 1 {
		return out
	}
	for i := 0; i < w; i++ {
		g := 0.5 * (1 - math.Cos(math.Pi*float64(i)/float64(w)))
		out[i] *= g
		out[len(out)-1-i] *= g
	}
	return out
}
