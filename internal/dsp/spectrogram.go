package dsp

import (
	"fmt"
	"math"
	"math/cmplx"

	"gonum.org/v1/gonum/dsp/fourier"
)

// Spectrogram tiling: 256-sample Hann segments with 75% overlap, which at
// the nominal 100 Hz device rate gives ~2.5 s tiles every 0.64 s.
const (
	spectrogramSegLen  = 256
	spectrogramOverlap = 192
)

// Spectrogram is a time-tiled power-spectral-density surface in dB,
// indexed as PowerDB[frequency bin][time tile].
type Spectrogram struct {
	Frequencies    []float64   `json:"frequencies"`     // Hz
	Times          []float64   `json:"times"`           // seconds, tile centers relative to start
	PowerDB        [][]float64 `json:"power_db"`        // 10*log10(PSD + epsilon)
	FreqResolution float64     `json:"freq_resolution"` // Hz between bins
	TimeResolution float64     `json:"time_resolution"` // seconds between tiles

	// dB range of PowerDB, for color scaling
	Min  float64 `json:"min"`
	Max  float64 `json:"max"`
	Mean float64 `json:"mean"`
}

// ComputeSpectrogram tiles x (sampled at fs Hz) into overlapping
// Hann-windowed segments and computes a density-scaled PSD per tile.
// Traces shorter than one tile are rejected with ErrInsufficientData.
func ComputeSpectrogram(x []float64, fs float64) (Spectrogram, error) {
	n := len(x)
	if n < spectrogramSegLen {
		return Spectrogram{}, fmt.Errorf("%w: spectrogram needs at least %d samples, have %d", ErrInsufficientData, spectrogramSegLen, n)
	}
	if fs <= 0 {
		return Spectrogram{}, fmt.Errorf("invalid sampling rate %v", fs)
	}

	hop := spectrogramSegLen - spectrogramOverlap
	ntiles := 1 + (n-spectrogramSegLen)/hop
	nbins := spectrogramSegLen/2 + 1

	win := Hann(spectrogramSegLen)
	winPower := 0.0
	for _, w := range win {
		winPower += w * w
	}
	// density scaling: PSD units of amplitude^2 per Hz
	scale := 1 / (fs * winPower)

	fft := fourier.NewFFT(spectrogramSegLen)
	seg := make([]float64, spectrogramSegLen)

	power := make([][]float64, nbins)
	for i := range power {
		power[i] = make([]float64, ntiles)
	}
	times := make([]float64, ntiles)

	for tile := 0; tile < ntiles; tile++ {
		start := tile * hop
		segMean := 0.0
		for _, v := range x[start : start+spectrogramSegLen] {
			segMean += v
		}
		segMean /= spectrogramSegLen
		for i := range seg {
			seg[i] = (x[start+i] - segMean) * win[i]
		}
		coeffs := fft.Coefficients(nil, seg)
		for i, c := range coeffs {
			p := cmplx.Abs(c)
			p = p * p * scale
			if doubledBin(i, len(coeffs), spectrogramSegLen) {
				p *= 2
			}
			power[i][tile] = p
		}
		times[tile] = (float64(start) + float64(spectrogramSegLen)/2) / fs
	}

	freqs := make([]float64, nbins)
	df := fs / float64(spectrogramSegLen)
	for i := range freqs {
		freqs[i] = float64(i) * df
	}

	sg := Spectrogram{
		Frequencies:    freqs,
		Times:          times,
		PowerDB:        power,
		FreqResolution: df,
		TimeResolution: float64(hop) / fs,
	}

	min, max, sum := math.Inf(1), math.Inf(-1), 0.0
	for i := range power {
		for j := range power[i] {
			db := 10 * math.Log10(power[i][j]+logEpsilon)
			power[i][j] = db
			if db < min {
				min = db
			}
			if db > max {
				max = db
			}
			sum += db
		}
	}
	sg.Min = min
	sg.Max = max
	sg.Mean = sum / float64(nbins*ntiles)
	return sg, nil
}
