package dsp

import (
	"fmt"
	"math"
	"math/cmplx"

	"gonum.org/v1/gonum/dsp/fourier"
)

// WelchSpectrum is an amplitude spectrum estimated by averaging the power
// of overlapping windowed segments. It trades frequency resolution for
// reduced variance, which suits continuous-noise characterization.
type WelchSpectrum struct {
	Frequencies []float64 `json:"frequencies"`
	Amplitude   []float64 `json:"amplitude"`   // sqrt of segment-averaged power
	Segments    int       `json:"segments"`    // complete segments averaged
	DominantHz  float64   `json:"dominant_hz"` // peak of the averaged amplitude; 0 when empty
	Resolution  float64   `json:"resolution"`  // fs/segLen in Hz
}

// Welch estimates the amplitude spectrum of x sampled at fs Hz using
// Hann-windowed segments of segLen samples advancing by segLen-overlap.
// The global mean and each segment's mean are removed; per-segment power
// is normalized by (segLen*coherentGain)^2 with non-edge bins doubled to
// fold conjugate-symmetric energy into the one-sided spectrum. When
// fewer than one complete segment fits, empty axes are returned rather
// than an error. A positive fmax truncates the axes to min(fmax, fs/2).
func Welch(x []float64, fs float64, segLen, overlap int, fmax float64) (WelchSpectrum, error) {
	if segLen < 2 {
		return WelchSpectrum{}, fmt.Errorf("segment length %d too small", segLen)
	}
	if overlap < 0 || overlap >= segLen {
		return WelchSpectrum{}, fmt.Errorf("overlap %d must be in [0, segment length %d)", overlap, segLen)
	}
	if fs <= 0 {
		return WelchSpectrum{}, fmt.Errorf("invalid sampling rate %v", fs)
	}

	n := len(x)
	hop := segLen - overlap
	if n < segLen {
		return WelchSpectrum{Frequencies: []float64{}, Amplitude: []float64{}}, nil
	}
	nseg := 1 + (n-segLen)/hop

	mean := 0.0
	for _, v := range x {
		mean += v
	}
	mean /= float64(n)
	centered := make([]float64, n)
	for i, v := range x {
		centered[i] = v - mean
	}

	win := Hann(segLen)
	cg := CoherentGain(win)
	norm := float64(segLen) * cg
	fft := fourier.NewFFT(segLen)

	nbins := segLen/2 + 1
	power := make([]float64, nbins)
	seg := make([]float64, segLen)
	for s := 0; s < nseg; s++ {
		start := s * hop
		segMean := 0.0
		for _, v := range centered[start : start+segLen] {
			segMean += v
		}
		segMean /= float64(segLen)
		for i := range seg {
			seg[i] = (centered[start+i] - segMean) * win[i]
		}
		coeffs := fft.Coefficients(nil, seg)
		for i, c := range coeffs {
			a := cmplx.Abs(c) / norm
			p := a * a
			if doubledBin(i, len(coeffs), segLen) {
				p *= 2
			}
			power[i] += p
		}
	}

	df := fs / float64(segLen)
	ceiling := math.Min(fmaxOrNyquist(fmax, fs), fs/2)

	freqs := make([]float64, 0, nbins)
	amp := make([]float64, 0, nbins)
	for i := range power {
		f := float64(i) * df
		if f > ceiling {
			break
		}
		freqs = append(freqs, f)
		amp = append(amp, math.Sqrt(power[i]/float64(nseg)))
	}

	ws := WelchSpectrum{
		Frequencies: freqs,
		Amplitude:   amp,
		Segments:    nseg,
		Resolution:  df,
	}
	if len(amp) > 0 {
		best := 0
		for i, v := range amp {
			if v > amp[best] {
				best = i
			}
		}
		ws.DominantHz = freqs[best]
	}
	return ws, nil
}

// doubledBin reports whether one-sided bin i carries folded energy from
// its conjugate twin. DC is never doubled; for even segment lengths the
// Nyquist bin is its own twin and is not doubled either.
func doubledBin(i, nbins, segLen int) bool {
	if i == 0 {
		return false
	}
	if segLen%2 == 0 && i == nbins-1 {
		return false
	}
	return true
}
