// Package config loads the station configuration from YAML.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/geotiny/seismon/internal/device"
)

// Config is the full station configuration.
type Config struct {
	Server      Server                     `yaml:"server"`
	Logging     Logging                    `yaml:"logging"`
	Acquisition Acquisition                `yaml:"acquisition"`
	Devices     map[string]device.Endpoint `yaml:"devices"`
	Archive     Archive                    `yaml:"archive"`
	Quakes      Quakes                     `yaml:"quakes"`
}

type Server struct {
	Listen string `yaml:"listen"`
}

type Logging struct {
	Level  string `yaml:"level"`  // trace, debug, info, warn, error
	Format string `yaml:"format"` // console or json
}

type Acquisition struct {
	SampleRate     float64 `yaml:"sample_rate"`
	BufferSize     int     `yaml:"buffer_size"`
	PollIntervalMs int     `yaml:"poll_interval_ms"`
	RetryThreshold int     `yaml:"retry_threshold"`
}

type Archive struct {
	Root string `yaml:"root"`
}

type Quakes struct {
	Enabled      bool    `yaml:"enabled"`
	MinMagnitude float64 `yaml:"min_magnitude"`
	DaysBack     int     `yaml:"days_back"`
}

// Default returns the configuration used when a field is absent.
func Default() Config {
	return Config{
		Server:  Server{Listen: ":8300"},
		Logging: Logging{Level: "info", Format: "console"},
		Acquisition: Acquisition{
			SampleRate:     100,
			BufferSize:     3000,
			PollIntervalMs: 33,
			RetryThreshold: 10,
		},
		Archive: Archive{Root: "./archive"},
		Quakes:  Quakes{Enabled: true, MinMagnitude: 5.0, DaysBack: 1},
	}
}

// Load reads the YAML file at path over the defaults. A missing file is
// an error; callers wanting pure defaults pass an empty path.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: %s: %w", path, err)
	}
	if err := cfg.validate(); err != nil {
		return Config{}, fmt.Errorf("config: %s: %w", path, err)
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.Acquisition.SampleRate <= 0 {
		return fmt.Errorf("acquisition.sample_rate must be positive")
	}
	if c.Acquisition.BufferSize <= 0 {
		return fmt.Errorf("acquisition.buffer_size must be positive")
	}
	if c.Acquisition.PollIntervalMs <= 0 {
		return fmt.Errorf("acquisition.poll_interval_ms must be positive")
	}
	if c.Acquisition.RetryThreshold <= 0 {
		return fmt.Errorf("acquisition.retry_threshold must be positive")
	}
	for id, ep := range c.Devices {
		if ep.Host == "" {
			return fmt.Errorf("devices.%s: host is required", id)
		}
		if ep.Port <= 0 || ep.Port > 65535 {
			return fmt.Errorf("devices.%s: port %d out of range", id, ep.Port)
		}
	}
	return nil
}

// PollInterval returns the acquisition poll interval as a duration.
func (c Config) PollInterval() time.Duration {
	return time.Duration(c.Acquisition.PollIntervalMs) * time.Millisecond
}
