package dsp

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Stats are direct scalar reductions over one waveform window.
type Stats struct {
	Mean       float64 `json:"mean"`
	Std        float64 `json:"std"`
	Min        float64 `json:"min"`
	Max        float64 `json:"max"`
	RMS        float64 `json:"rms"`
	PeakToPeak float64 `json:"peak_to_peak"`
}

// Statistics computes waveform statistics over x. An empty input yields
// all zeros.
func Statistics(x []float64) Stats {
	if len(x) == 0 {
		return Stats{}
	}
	min := floats.Min(x)
	max := floats.Max(x)
	return Stats{
		Mean:       stat.Mean(x, nil),
		Std:        stat.StdDev(x, nil),
		Min:        min,
		Max:        max,
		RMS:        RMS(x),
		PeakToPeak: max - min,
	}
}

// RMS returns the root-mean-square of x, or 0 for an empty input.
func RMS(x []float64) float64 {
	if len(x) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range x {
		sum += v * v
	}
	return math.Sqrt(sum / float64(len(x)))
}

// PeakToPeak returns max(x)-min(x), or 0 for an empty input.
func PeakToPeak(x []float64) float64 {
	if len(x) == 0 {
		return 0
	}
	return floats.Max(x) - floats.Min(x)
}
