package dsp

import (
	"errors"
	"math"
	"testing"
)

func TestSpectrogramShapeAndAxes(t *testing.T) {
	const fs = 100.0
	x := sine(10, fs, 1024)

	sg, err := ComputeSpectrogram(x, fs)
	if err != nil {
		t.Fatalf("ComputeSpectrogram: %v", err)
	}

	wantTiles := 1 + (1024-spectrogramSegLen)/(spectrogramSegLen-spectrogramOverlap)
	wantBins := spectrogramSegLen/2 + 1
	if len(sg.Frequencies) != wantBins {
		t.Fatalf("expected %d frequency bins, got %d", wantBins, len(sg.Frequencies))
	}
	if len(sg.Times) != wantTiles {
		t.Fatalf("expected %d tiles, got %d", wantTiles, len(sg.Times))
	}
	if len(sg.PowerDB) != wantBins || len(sg.PowerDB[0]) != wantTiles {
		t.Fatalf("surface shape %dx%d, expected %dx%d", len(sg.PowerDB), len(sg.PowerDB[0]), wantBins, wantTiles)
	}
	if sg.FreqResolution != fs/spectrogramSegLen {
		t.Fatalf("frequency resolution %v, expected %v", sg.FreqResolution, fs/spectrogramSegLen)
	}
	if sg.TimeResolution != float64(spectrogramSegLen-spectrogramOverlap)/fs {
		t.Fatalf("time resolution %v", sg.TimeResolution)
	}
}

func TestSpectrogramPeakRow(t *testing.T) {
	const fs = 100.0
	const freq = 10.0
	x := sine(freq, fs, 2048)

	sg, err := ComputeSpectrogram(x, fs)
	if err != nil {
		t.Fatalf("ComputeSpectrogram: %v", err)
	}

	// the strongest bin of every tile should sit at the tone frequency
	for tile := range sg.Times {
		best := 0
		for bin := range sg.PowerDB {
			if sg.PowerDB[bin][tile] > sg.PowerDB[best][tile] {
				best = bin
			}
		}
		if math.Abs(sg.Frequencies[best]-freq) > sg.FreqResolution {
			t.Fatalf("tile %d peak at %v Hz, expected ~%v", tile, sg.Frequencies[best], freq)
		}
	}

	if sg.Min > sg.Mean || sg.Mean > sg.Max {
		t.Fatalf("color scale out of order: min %v mean %v max %v", sg.Min, sg.Mean, sg.Max)
	}
}

func TestSpectrogramTooShort(t *testing.T) {
	_, err := ComputeSpectrogram(make([]float64, 255), 100)
	if !errors.Is(err, ErrInsufficientData) {
		t.Fatalf("expected ErrInsufficientData, got %v", err)
	}
}
