// Package loader extracts analysis windows from live device buffers and
// from archived miniSEED records.
package loader

import (
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/geotiny/seismon/internal/device"
	"github.com/geotiny/seismon/internal/dsp"
	"github.com/geotiny/seismon/internal/mseed"
)

var (
	// ErrNoData reports an unknown device or an empty live buffer.
	ErrNoData = errors.New("loader: no buffered samples")

	// ErrNoArchive reports that no archive file matched the station and
	// channel under the search root.
	ErrNoArchive = errors.New("loader: no matching archive file")

	// ErrEmptyStream reports an archive file that decoded to no samples.
	ErrEmptyStream = errors.New("loader: empty archive stream")

	// ErrBadSampleRate reports a non-positive or inconsistent rate.
	ErrBadSampleRate = errors.New("loader: bad sampling rate")

	// ErrTraceTooShort reports a window below the usable minimum.
	ErrTraceTooShort = errors.New("loader: trace too short")
)

// minWindowSamples is the smallest archive window worth analyzing.
const minWindowSamples = 10

// taperFraction is the cosine taper applied to each end of an archive
// window to suppress edge discontinuities.
const taperFraction = 0.02

// archiveExtensions lists the record file suffixes tried during lookup.
var archiveExtensions = []string{
	".mseed", ".miniseed", ".msd", ".seed", ".mseed.gz", ".miniseed.gz",
}

// Window is an immutable snapshot of samples ready for analysis.
type Window struct {
	SampleRate float64   `json:"sampling_rate"`
	Times      []float64 `json:"times"`
	Samples    []float64 `json:"data"`
	Extracted  time.Time `json:"extracted"`
	Source     string    `json:"source"`
	RMS        float64   `json:"rms"`
	PeakToPeak float64   `json:"peak_to_peak"`
}

// Loader produces Windows from the acquisition supervisor's buffers or
// from record files under the archive root.
type Loader struct {
	root string
	sup  *device.Supervisor
	log  zerolog.Logger
}

// New creates a loader. The supervisor may be nil when only archive
// mode is used.
func New(root string, sup *device.Supervisor, log zerolog.Logger) *Loader {
	return &Loader{
		root: root,
		sup:  sup,
		log:  log.With().Str("component", "loader").Logger(),
	}
}

// Live returns the newest samples of one device channel on a time axis
// relative to now, negative values extending into the past.
func (ld *Loader) Live(id string, ch device.Channel, samples int) (Window, error) {
	if ld.sup == nil {
		return Window{}, ErrNoData
	}
	wf, ok := ld.sup.LatestWaveform(id, ch, samples)
	if !ok {
		return Window{}, fmt.Errorf("%w: device %s channel %s", ErrNoData, id, ch)
	}
	return Window{
		SampleRate: wf.SampleRate,
		Times:      wf.Times,
		Samples:    wf.Data,
		Extracted:  wf.Timestamp,
		Source:     id,
		RMS:        dsp.RMS(wf.Data),
		PeakToPeak: dsp.PeakToPeak(wf.Data),
	}, nil
}

// Archive extracts the trailing windowSeconds of the newest record file
// matching station and channel. The record is merged across segment
// gaps, detrended and tapered; the result is trimmed, or front-padded
// with zeros, to exactly round(windowSeconds * fs) samples.
func (ld *Loader) Archive(station, channel string, windowSeconds float64) (Window, error) {
	path, err := ld.latestArchive(station, channel)
	if err != nil {
		return Window{}, err
	}
	ld.log.Debug().Str("path", path).Msg("archive selected")

	segs, err := mseed.ReadFile(path)
	if err != nil {
		if errors.Is(err, mseed.ErrNoRecords) {
			return Window{}, fmt.Errorf("%w: %s", ErrEmptyStream, path)
		}
		return Window{}, err
	}
	segs = selectChannel(segs, channel)

	fs := segs[0].SampleRate
	if fs <= 0 {
		return Window{}, fmt.Errorf("%w: %v Hz in %s", ErrBadSampleRate, fs, path)
	}
	for _, s := range segs[1:] {
		if s.SampleRate != fs {
			return Window{}, fmt.Errorf("%w: mixed rates in %s", ErrBadSampleRate, path)
		}
	}

	x := mergeSegments(segs, fs)
	if len(x) == 0 {
		return Window{}, fmt.Errorf("%w: %s", ErrEmptyStream, path)
	}

	x = dsp.Detrend(x)
	x = dsp.Taper(x, taperFraction)

	want := int(math.Round(windowSeconds * fs))
	if len(x) >= want {
		x = x[len(x)-want:]
	} else {
		padded := make([]float64, want)
		copy(padded[want-len(x):], x)
		x = padded
	}
	if len(x) < minWindowSamples {
		return Window{}, fmt.Errorf("%w: %d samples", ErrTraceTooShort, len(x))
	}

	times := make([]float64, len(x))
	for i := range times {
		times[i] = float64(i) / fs
	}

	return Window{
		SampleRate: fs,
		Times:      times,
		Samples:    x,
		Extracted:  time.Now().UTC(),
		Source:     path,
		RMS:        dsp.RMS(x),
		PeakToPeak: dsp.PeakToPeak(x),
	}, nil
}

// latestArchive finds the most recently modified record file for the
// station and channel. A station-named subdirectory takes precedence
// over the flat root, and within a directory the station+channel
// pattern is tried before the channel-only fallback.
func (ld *Loader) latestArchive(station, channel string) (string, error) {
	dirs := []string{filepath.Join(ld.root, station), ld.root}
	patterns := []string{
		"*" + station + "*" + channel + "*",
		"*" + channel + "*",
	}
	for _, dir := range dirs {
		for _, pat := range patterns {
			var best string
			var bestMod time.Time
			for _, ext := range archiveExtensions {
				matches, err := filepath.Glob(filepath.Join(dir, pat+ext))
				if err != nil {
					continue
				}
				for _, m := range matches {
					fi, err := os.Stat(m)
					if err != nil || fi.IsDir() {
						continue
					}
					if best == "" || fi.ModTime().After(bestMod) {
						best = m
						bestMod = fi.ModTime()
					}
				}
			}
			if best != "" {
				return best, nil
			}
		}
	}
	return "", fmt.Errorf("%w: station %s channel %s under %s", ErrNoArchive, station, channel, ld.root)
}

// selectChannel keeps only the segments whose channel code ends in the
// requested axis, falling back to the full set when none match. Archive
// channel codes carry instrument prefixes, e.g. EHZ for the Z axis.
func selectChannel(segs []mseed.Segment, channel string) []mseed.Segment {
	var out []mseed.Segment
	for _, s := range segs {
		if strings.HasSuffix(s.Channel, channel) {
			out = append(out, s)
		}
	}
	if len(out) == 0 {
		return segs
	}
	return out
}

// mergeSegments places every segment on a common sample grid anchored
// at the earliest start time. Overlaps resolve in favor of the later
// segment; interior gaps are filled by linear interpolation and edge
// gaps by the nearest sample.
func mergeSegments(segs []mseed.Segment, fs float64) []float64 {
	if len(segs) == 0 {
		return nil
	}
	sorted := make([]mseed.Segment, len(segs))
	copy(sorted, segs)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Start.Before(sorted[j].Start) })

	base := sorted[0].Start
	total := 0
	for _, s := range sorted {
		idx := gridIndex(base, s.Start, fs)
		if end := idx + len(s.Data); end > total {
			total = end
		}
	}
	if total == 0 {
		return nil
	}

	out := make([]float64, total)
	filled := make([]bool, total)
	for _, s := range sorted {
		idx := gridIndex(base, s.Start, fs)
		for i, v := range s.Data {
			if idx+i >= 0 && idx+i < total {
				out[idx+i] = v
				filled[idx+i] = true
			}
		}
	}
	fillGaps(out, filled)
	return out
}

func gridIndex(base, start time.Time, fs float64) int {
	return int(math.Round(start.Sub(base).Seconds() * fs))
}

// fillGaps interpolates linearly between the filled samples surrounding
// each run of missing ones. Runs touching either edge copy the nearest
// filled value.
func fillGaps(x []float64, filled []bool) {
	n := len(x)
	i := 0
	for i < n {
		if filled[i] {
			i++
			continue
		}
		j := i
		for j < n && !filled[j] {
			j++
		}
		switch {
		case i == 0 && j == n:
			// nothing filled at all; leave zeros
		case i == 0:
			for k := i; k < j; k++ {
				x[k] = x[j]
			}
		case j == n:
			for k := i; k < j; k++ {
				x[k] = x[i-1]
			}
		default:
			left, right := x[i-1], x[j]
			span := float64(j - i + 1)
			for k := i; k < j; k++ {
				frac := float64(k-i+1) / span
				x[k] = left + (right-left)*frac
			}
		}
		i = j
	}
}
