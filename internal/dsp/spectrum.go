// Package dsp implements the spectral estimation pipeline for seismic
// acceleration traces: single-shot FFT spectra, Welch-averaged amplitude
// spectra, spectrograms, and basic waveform statistics.
//
// Every function is a pure function of its inputs, so concurrent use
// requires no locking.
package dsp

import (
	"errors"
	"fmt"
	"math"
	"math/cmplx"

	"gonum.org/v1/gonum/dsp/fourier"
)

// ErrInsufficientData reports that a trace is too short for the requested
// estimate. Callers should treat it as "try a longer window", not a fault.
var ErrInsufficientData = errors.New("insufficient data")

// logEpsilon keeps near-zero magnitudes out of the logarithm when
// converting to dB.
const logEpsilon = 1e-10

// minFFTSamples is the shortest trace accepted by FFTSpectrum.
const minFFTSamples = 16

// Spectrum is a one-sided FFT magnitude spectrum.
type Spectrum struct {
	Frequencies []float64 `json:"frequencies"`  // Hz, DC..ceiling
	Magnitude   []float64 `json:"magnitude"`    // linear |X|
	MagnitudeDB []float64 `json:"magnitude_db"` // 20*log10, normalized so the peak sits at 0 dB
	DominantHz  float64   `json:"dominant_hz"`  // peak bin excluding DC; 0 when undecidable
	Resolution  float64   `json:"resolution"`   // fs/N in Hz
	Nyquist     float64   `json:"nyquist"`      // fs/2 in Hz
}

// FFTSpectrum computes the Hann-windowed one-sided spectrum of x sampled
// at fs Hz. The mean is removed before windowing. A positive fmax
// truncates both axes to min(fmax, fs/2) before the dominant-frequency
// search. Traces shorter than 16 samples are rejected.
func FFTSpectrum(x []float64, fs, fmax float64) (Spectrum, error) {
	n := len(x)
	if n < minFFTSamples {
		return Spectrum{}, fmt.Errorf("%w: FFT needs at least %d samples, have %d", ErrInsufficientData, minFFTSamples, n)
	}
	if fs <= 0 {
		return Spectrum{}, fmt.Errorf("invalid sampling rate %v", fs)
	}

	mean := 0.0
	for _, v := range x {
		mean += v
	}
	mean /= float64(n)

	win := Hann(n)
	windowed := make([]float64, n)
	for i, v := range x {
		windowed[i] = (v - mean) * win[i]
	}

	coeffs := fourier.NewFFT(n).Coefficients(nil, windowed)

	df := fs / float64(n)
	ceiling := math.Min(fmaxOrNyquist(fmax, fs), fs/2)

	freqs := make([]float64, 0, len(coeffs))
	mags := make([]float64, 0, len(coeffs))
	for i, c := range coeffs {
		f := float64(i) * df
		if f > ceiling {
			break
		}
		freqs = append(freqs, f)
		mags = append(mags, cmplx.Abs(c))
	}

	sp := Spectrum{
		Frequencies: freqs,
		Magnitude:   mags,
		MagnitudeDB: normalizedDB(mags),
		Resolution:  df,
		Nyquist:     fs / 2,
	}
	sp.DominantHz = dominantFrequency(freqs, mags)
	return sp, nil
}

// dominantFrequency returns the frequency of the maximum-magnitude bin,
// excluding DC. With fewer than 3 bins the search is undecidable and 0
// is reported instead of an error.
func dominantFrequency(freqs, mags []float64) float64 {
	if len(freqs) <= 2 {
		return 0
	}
	best := 1
	for i := 2; i < len(mags); i++ {
		if mags[i] > mags[best] {
			best = i
		}
	}
	return freqs[best]
}

// normalizedDB converts linear magnitudes to dB and shifts the result so
// the maximum is exactly 0 dB.
func normalizedDB(mags []float64) []float64 {
	out := make([]float64, len(mags))
	max := math.Inf(-1)
	for i, m := range mags {
		out[i] = 20 * math.Log10(m+logEpsilon)
		if out[i] > max {
			max = out[i]
		}
	}
	for i := range out {
		out[i] -= max
	}
	return out
}

func fmaxOrNyquist(fmax, fs float64) float64 {
	if fmax > 0 {
		return fmax
	}
	return fs / 2
}
