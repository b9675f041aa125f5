package server

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/geotiny/seismon/internal/device"
	"github.com/geotiny/seismon/internal/dsp"
	"github.com/geotiny/seismon/internal/loader"
)

const (
	defaultWindowSeconds = 30.0
	defaultLiveSamples   = 1000
	defaultSegmentLen    = 256
	defaultOverlap       = 128
	defaultQuakeMag      = 5.0
)

type errorResponse struct {
	Error  string `json:"error"`
	Detail string `json:"detail,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string, err error) {
	resp := errorResponse{Error: msg}
	if err != nil {
		resp.Detail = err.Error()
	}
	writeJSON(w, status, resp)
}

// statusFor maps a pipeline failure to an HTTP status: missing inputs
// are 404, unusable inputs 422, anything else a service fault.
func statusFor(err error) int {
	switch {
	case errors.Is(err, loader.ErrNoArchive), errors.Is(err, loader.ErrNoData):
		return http.StatusNotFound
	case errors.Is(err, dsp.ErrInsufficientData), errors.Is(err, loader.ErrTraceTooShort):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusServiceUnavailable
	}
}

func floatParam(r *http.Request, name string, def float64) (float64, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	return strconv.ParseFloat(raw, 64)
}

func intParam(r *http.Request, name string, def int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	return strconv.Atoi(raw)
}

func channelParam(r *http.Request) device.Channel {
	if c := r.URL.Query().Get("channel"); c != "" {
		return device.Channel(c)
	}
	return device.ChannelZ
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":      "ok",
		"acquisition": s.sup.Running(),
		"uptime_s":    time.Since(s.started).Seconds(),
		"time":        time.Now().UTC(),
	})
}

func (s *Server) handleDevices(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"devices": s.sup.Devices()})
}

func (s *Server) handleDevicesStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.sup.Status())
}

func (s *Server) handleDeviceInfo(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	info, ok := s.sup.Info(id)
	if !ok {
		writeError(w, http.StatusNotFound, "unknown device", nil)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

// archiveWindow resolves the station/channel/window query parameters
// and loads the corresponding archive window.
func (s *Server) archiveWindow(w http.ResponseWriter, r *http.Request) (loader.Window, bool) {
	station := r.URL.Query().Get("station")
	if station == "" {
		writeError(w, http.StatusBadRequest, "station is required", nil)
		return loader.Window{}, false
	}
	window, err := floatParam(r, "window", defaultWindowSeconds)
	if err != nil || window <= 0 {
		writeError(w, http.StatusBadRequest, "bad window parameter", err)
		return loader.Window{}, false
	}
	win, err := s.loader.Archive(station, string(channelParam(r)), window)
	if err != nil {
		writeError(w, statusFor(err), "window extraction failed", err)
		return loader.Window{}, false
	}
	return win, true
}

// sourceWindow loads from the live buffer when a device parameter is
// present, otherwise from the archive by station.
func (s *Server) sourceWindow(w http.ResponseWriter, r *http.Request) (loader.Window, bool) {
	id := r.URL.Query().Get("device")
	if id == "" {
		return s.archiveWindow(w, r)
	}
	samples, err := intParam(r, "samples", 0)
	if err != nil || samples < 0 {
		writeError(w, http.StatusBadRequest, "bad samples parameter", err)
		return loader.Window{}, false
	}
	if samples == 0 {
		samples = int(^uint(0) >> 1) // whole buffer
	}
	win, err := s.loader.Live(id, channelParam(r), samples)
	if err != nil {
		writeError(w, statusFor(err), "no live data", err)
		return loader.Window{}, false
	}
	return win, true
}

func (s *Server) handleWave(w http.ResponseWriter, r *http.Request) {
	win, ok := s.archiveWindow(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, win)
}

func (s *Server) handleWaveLive(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("device")
	if id == "" {
		writeError(w, http.StatusBadRequest, "device is required", nil)
		return
	}
	samples, err := intParam(r, "samples", defaultLiveSamples)
	if err != nil || samples <= 0 {
		writeError(w, http.StatusBadRequest, "bad samples parameter", err)
		return
	}
	win, err := s.loader.Live(id, channelParam(r), samples)
	if err != nil {
		writeError(w, statusFor(err), "no live data", err)
		return
	}
	writeJSON(w, http.StatusOK, win)
}

type spectrumResponse struct {
	Source string `json:"source"`
	dsp.Spectrum
}

func (s *Server) handleSpectrum(w http.ResponseWriter, r *http.Request) {
	win, ok := s.archiveWindow(w, r)
	if !ok {
		return
	}
	fmax, err := floatParam(r, "fmax", 0)
	if err != nil || fmax < 0 {
		writeError(w, http.StatusBadRequest, "bad fmax parameter", err)
		return
	}
	sp, err := dsp.FFTSpectrum(win.Samples, win.SampleRate, fmax)
	if err != nil {
		writeError(w, statusFor(err), "spectrum computation failed", err)
		return
	}
	writeJSON(w, http.StatusOK, spectrumResponse{Source: win.Source, Spectrum: sp})
}

type welchResponse struct {
	Source      string    `json:"source"`
	Frequencies []float64 `json:"frequencies"`
	Amplitude   []float64 `json:"amplitude"`
	Segments    int       `json:"segments"`
	DominantHz  *float64  `json:"dominant_hz"` // null when no complete segment fits
	Resolution  float64   `json:"resolution"`
}

func (s *Server) handleSpectrumLive(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("device")
	if id == "" {
		writeError(w, http.StatusBadRequest, "device is required", nil)
		return
	}
	samples, err := intParam(r, "samples", 0)
	if err != nil || samples < 0 {
		writeError(w, http.StatusBadRequest, "bad samples parameter", err)
		return
	}
	if samples == 0 {
		samples = int(^uint(0) >> 1) // whole buffer
	}
	segLen, err := intParam(r, "nperseg", defaultSegmentLen)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad nperseg parameter", err)
		return
	}
	overlap, err := intParam(r, "noverlap", defaultOverlap)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad noverlap parameter", err)
		return
	}
	fmax, err := floatParam(r, "fmax", 0)
	if err != nil || fmax < 0 {
		writeError(w, http.StatusBadRequest, "bad fmax parameter", err)
		return
	}

	win, err := s.loader.Live(id, channelParam(r), samples)
	if err != nil {
		writeError(w, statusFor(err), "no live data", err)
		return
	}
	ws, err := dsp.Welch(win.Samples, win.SampleRate, segLen, overlap, fmax)
	if err != nil {
		writeError(w, http.StatusBadRequest, "welch computation failed", err)
		return
	}

	resp := welchResponse{
		Source:      win.Source,
		Frequencies: ws.Frequencies,
		Amplitude:   ws.Amplitude,
		Segments:    ws.Segments,
		Resolution:  ws.Resolution,
	}
	if ws.Segments > 0 {
		d := ws.DominantHz
		resp.DominantHz = &d
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleSpectrogram(w http.ResponseWriter, r *http.Request) {
	win, ok := s.sourceWindow(w, r)
	if !ok {
		return
	}
	sg, err := dsp.ComputeSpectrogram(win.Samples, win.SampleRate)
	if err != nil {
		writeError(w, statusFor(err), "spectrogram computation failed", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"source":      win.Source,
		"spectrogram": sg,
	})
}

func (s *Server) handleStatistics(w http.ResponseWriter, r *http.Request) {
	win, ok := s.sourceWindow(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"source":     win.Source,
		"statistics": dsp.Statistics(win.Samples),
	})
}

func (s *Server) handleWaveCSV(w http.ResponseWriter, r *http.Request) {
	win, ok := s.archiveWindow(w, r)
	if !ok {
		return
	}
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", `attachment; filename="wave.csv"`)
	cw := csv.NewWriter(w)
	_ = cw.Write([]string{"time_s", "amplitude"})
	for i := range win.Samples {
		_ = cw.Write([]string{
			strconv.FormatFloat(win.Times[i], 'g', -1, 64),
			strconv.FormatFloat(win.Samples[i], 'g', -1, 64),
		})
	}
	cw.Flush()
}

func (s *Server) handleSpectrumCSV(w http.ResponseWriter, r *http.Request) {
	win, ok := s.archiveWindow(w, r)
	if !ok {
		return
	}
	fmax, err := floatParam(r, "fmax", 0)
	if err != nil || fmax < 0 {
		writeError(w, http.StatusBadRequest, "bad fmax parameter", err)
		return
	}
	sp, err := dsp.FFTSpectrum(win.Samples, win.SampleRate, fmax)
	if err != nil {
		writeError(w, statusFor(err), "spectrum computation failed", err)
		return
	}
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", `attachment; filename="spectrum.csv"`)
	cw := csv.NewWriter(w)
	_ = cw.Write([]string{"frequency_hz", "magnitude", "magnitude_db"})
	for i := range sp.Frequencies {
		_ = cw.Write([]string{
			strconv.FormatFloat(sp.Frequencies[i], 'g', -1, 64),
			strconv.FormatFloat(sp.Magnitude[i], 'g', -1, 64),
			strconv.FormatFloat(sp.MagnitudeDB[i], 'g', -1, 64),
		})
	}
	cw.Flush()
}

func (s *Server) handleGlobalQuakes(w http.ResponseWriter, r *http.Request) {
	if s.quakes == nil {
		writeError(w, http.StatusServiceUnavailable, "earthquake feed disabled", nil)
		return
	}
	minMag, err := floatParam(r, "min_magnitude", defaultQuakeMag)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad min_magnitude parameter", err)
		return
	}
	days, err := intParam(r, "days", 1)
	if err != nil || days <= 0 {
		writeError(w, http.StatusBadRequest, "bad days parameter", err)
		return
	}
	events, err := s.quakes.Recent(r.Context(), minMag, days)
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "earthquake feed unavailable", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"events": events,
		"count":  len(events),
		"cache":  s.quakes.Stats(),
	})
}
