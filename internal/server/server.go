// Package server exposes the station dashboard API over HTTP.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/geotiny/seismon/internal/device"
	"github.com/geotiny/seismon/internal/loader"
	"github.com/geotiny/seismon/internal/quakes"
)

const shutdownTimeout = 2 * time.Second

// Server wires the acquisition supervisor, window loader and quake feed
// into the HTTP API.
type Server struct {
	srv      *http.Server
	log      zerolog.Logger
	sup      *device.Supervisor
	loader   *loader.Loader
	quakes   *quakes.Client
	upgrader websocket.Upgrader
	started  time.Time
}

// New builds the server. The quake client may be nil when the feed is
// disabled; reg may be nil to skip the metrics endpoint.
func New(addr string, sup *device.Supervisor, ld *loader.Loader, qc *quakes.Client, reg *prometheus.Registry, log zerolog.Logger) *Server {
	s := &Server{
		log:     log.With().Str("component", "server").Logger(),
		sup:     sup,
		loader:  ld,
		quakes:  qc,
		started: time.Now().UTC(),
		upgrader: websocket.Upgrader{
			// the dashboard is served from arbitrary LAN hosts
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /api/devices", s.handleDevices)
	mux.HandleFunc("GET /api/devices/status", s.handleDevicesStatus)
	mux.HandleFunc("GET /api/devices/{id}/info", s.handleDeviceInfo)
	mux.HandleFunc("GET /api/wave", s.handleWave)
	mux.HandleFunc("GET /api/wave/live", s.handleWaveLive)
	mux.HandleFunc("GET /api/wave.csv", s.handleWaveCSV)
	mux.HandleFunc("GET /api/spectrum", s.handleSpectrum)
	mux.HandleFunc("GET /api/spectrum/live", s.handleSpectrumLive)
	mux.HandleFunc("GET /api/spectrum.csv", s.handleSpectrumCSV)
	mux.HandleFunc("GET /api/spectrogram", s.handleSpectrogram)
	mux.HandleFunc("GET /api/statistics", s.handleStatistics)
	mux.HandleFunc("GET /api/global_quakes", s.handleGlobalQuakes)
	mux.HandleFunc("GET /api/live", s.handleLive)
	if reg != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	}

	s.srv = &http.Server{Addr: addr, Handler: mux}
	return s
}

// Handler exposes the routed handler, used by tests.
func (s *Server) Handler() http.Handler { return s.srv.Handler }

// Start listens until the context is canceled, then shuts down with a
// bounded grace period.
func (s *Server) Start(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := s.srv.Shutdown(shutdownCtx); err != nil {
			s.log.Error().Err(err).Msg("shutdown")
		}
	}()

	s.log.Info().Str("addr", s.srv.Addr).Msg("listening")
	if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}
