// Command seismon runs the station daemon: it acquires samples from the
// configured seismometers and serves the dashboard API.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/geotiny/seismon/internal/config"
	"github.com/geotiny/seismon/internal/device"
	"github.com/geotiny/seismon/internal/loader"
	"github.com/geotiny/seismon/internal/quakes"
	"github.com/geotiny/seismon/internal/server"
)

func main() {
	cfgPath := flag.String("config", "", "path to the YAML configuration file")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	log := newLogger(cfg.Logging)
	log.Info().Int("devices", len(cfg.Devices)).Str("archive", cfg.Archive.Root).Msg("starting")

	reg := prometheus.NewRegistry()
	metrics := device.NewMetrics(reg)

	sup := device.NewSupervisor(device.SupervisorConfig{
		Devices:        cfg.Devices,
		SampleRate:     cfg.Acquisition.SampleRate,
		BufferSize:     cfg.Acquisition.BufferSize,
		PollInterval:   cfg.PollInterval(),
		RetryThreshold: cfg.Acquisition.RetryThreshold,
	}, log, metrics)

	ld := loader.New(cfg.Archive.Root, sup, log)

	var qc *quakes.Client
	if cfg.Quakes.Enabled {
		qc = quakes.New(log)
	}

	srv := server.New(cfg.Server.Listen, sup, ld, qc, reg, log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sup.Start()
	defer sup.Stop()

	if err := srv.Start(ctx); err != nil {
		log.Error().Err(err).Msg("server failed")
		os.Exit(1)
	}
	log.Info().Msg("shut down")
}

func newLogger(cfg config.Logging) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	var out = os.Stderr
	logger := zerolog.New(out)
	if cfg.Format == "console" {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339})
	}
	return logger.Level(level).With().Timestamp().Logger()
}
