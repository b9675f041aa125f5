package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "seismon.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
server:
  listen: ":9000"
acquisition:
  sample_rate: 50
devices:
  rooftop:
    host: 192.168.1.40
    port: 5000
  basement:
    host: 192.168.1.41
    port: 5000
archive:
  root: /data/archive
quakes:
  min_magnitude: 4.5
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Listen != ":9000" {
		t.Fatalf("listen %q", cfg.Server.Listen)
	}
	if cfg.Acquisition.SampleRate != 50 {
		t.Fatalf("sample rate %v", cfg.Acquisition.SampleRate)
	}
	// untouched fields keep their defaults
	if cfg.Acquisition.BufferSize != 3000 || cfg.Logging.Level != "info" {
		t.Fatalf("defaults lost: %+v", cfg.Acquisition)
	}
	if cfg.PollInterval() != 33*time.Millisecond {
		t.Fatalf("poll interval %v", cfg.PollInterval())
	}
	if len(cfg.Devices) != 2 || cfg.Devices["rooftop"].Host != "192.168.1.40" {
		t.Fatalf("devices %+v", cfg.Devices)
	}
	if cfg.Archive.Root != "/data/archive" {
		t.Fatalf("archive root %q", cfg.Archive.Root)
	}
	if cfg.Quakes.MinMagnitude != 4.5 {
		t.Fatalf("quakes %+v", cfg.Quakes)
	}
}

func TestLoadEmptyPathReturnsDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Listen != ":8300" || cfg.Acquisition.RetryThreshold != 10 {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
}

func TestLoadRejectsBadValues(t *testing.T) {
	cases := map[string]string{
		"negative rate": "acquisition:\n  sample_rate: -1\n",
		"zero buffer":   "acquisition:\n  buffer_size: -5\n",
		"missing host":  "devices:\n  dev0:\n    port: 5000\n",
		"bad port":      "devices:\n  dev0:\n    host: a\n    port: 99999\n",
		"not yaml":      "::: nope {{{",
	}
	for name, body := range cases {
		if _, err := Load(writeConfig(t, body)); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}
