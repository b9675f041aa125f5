package device

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
)

func TestCycleBackoffSpacesConnects(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg)
	s := NewSupervisor(SupervisorConfig{
		Devices:        map[string]Endpoint{"dev0": unreachableEndpoint(t)},
		RetryThreshold: 10,
	}, zerolog.Nop(), metrics)

	// With a threshold of 10 a dead device is dialed on every 11th
	// cycle: ten cycles count up, the next one connects and resets.
	retry := make(map[string]int)
	const cycles = 110
	for i := 0; i < cycles; i++ {
		s.cycle(retry)
	}

	l, _ := s.Device("dev0")
	if got := l.Status().Attempts; got != cycles/11 {
		t.Fatalf("connect attempts %d, want %d", got, cycles/11)
	}
	if got := testutil.ToFloat64(metrics.Reconnects.WithLabelValues("dev0")); got != cycles/11 {
		t.Fatalf("reconnect metric %v, want %d", got, cycles/11)
	}
	if testutil.ToFloat64(metrics.Connected.WithLabelValues("dev0")) != 0 {
		t.Fatal("connected gauge should be 0 for a dead device")
	}
}

func TestStartStop(t *testing.T) {
	s := NewSupervisor(SupervisorConfig{
		Devices:      map[string]Endpoint{},
		PollInterval: time.Millisecond,
	}, zerolog.Nop(), nil)

	if s.Running() {
		t.Fatal("running before Start")
	}
	s.Start()
	if !s.Running() {
		t.Fatal("not running after Start")
	}
	s.Start() // no-op
	s.Stop()
	if s.Running() {
		t.Fatal("running after Stop")
	}
	s.Stop() // no-op
}

func TestStopRetainsBufferedSamples(t *testing.T) {
	s := NewSupervisor(SupervisorConfig{
		Devices:      map[string]Endpoint{"dev0": unreachableEndpoint(t)},
		PollInterval: time.Millisecond,
	}, zerolog.Nop(), nil)
	l, _ := s.Device("dev0")
	l.mu.Lock()
	for i := 0; i < 42; i++ {
		l.rings[ChannelZ].Push(float64(i))
	}
	l.mu.Unlock()

	s.Start()
	s.Stop()

	if n := len(l.Snapshot(ChannelZ)); n != 42 {
		t.Fatalf("buffered %d samples after Stop, want 42", n)
	}
}

func TestLatestWaveformTimeAxis(t *testing.T) {
	s := NewSupervisor(SupervisorConfig{
		Devices:    map[string]Endpoint{"dev0": {Host: "127.0.0.1", Port: 1}},
		SampleRate: 100,
		BufferSize: 1000,
	}, zerolog.Nop(), nil)
	l, _ := s.Device("dev0")
	l.mu.Lock()
	for i := 0; i < 100; i++ {
		l.rings[ChannelZ].Push(float64(i))
	}
	l.mu.Unlock()

	wf, ok := s.LatestWaveform("dev0", ChannelZ, 50)
	if !ok {
		t.Fatal("expected waveform")
	}
	if len(wf.Data) != 50 || len(wf.Times) != 50 {
		t.Fatalf("lengths %d/%d, want 50", len(wf.Data), len(wf.Times))
	}
	// 100 samples buffered at 100 Hz: the window starts 1 s in the past.
	if wf.Times[0] != -1.0 {
		t.Fatalf("first time %v, want -1.0", wf.Times[0])
	}
	if wf.Times[49] >= 0 {
		t.Fatalf("last time %v, want < 0", wf.Times[49])
	}
	if wf.Data[0] != 50 || wf.Data[49] != 99 {
		t.Fatalf("window not the newest samples: %v..%v", wf.Data[0], wf.Data[49])
	}
	if wf.Min != 50 || wf.Max != 99 {
		t.Fatalf("min/max %v/%v", wf.Min, wf.Max)
	}

	if _, ok := s.LatestWaveform("nope", ChannelZ, 50); ok {
		t.Fatal("unknown device must report false")
	}
	if _, ok := s.LatestWaveform("dev0", ChannelX, 50); ok {
		t.Fatal("empty channel must report false")
	}
}

func TestMultiChannelWaveformOmitsEmpty(t *testing.T) {
	s := NewSupervisor(SupervisorConfig{
		Devices: map[string]Endpoint{"dev0": {Host: "127.0.0.1", Port: 1}},
	}, zerolog.Nop(), nil)
	l, _ := s.Device("dev0")
	l.mu.Lock()
	l.rings[ChannelX].Push(1)
	l.rings[ChannelZ].Push(2)
	l.mu.Unlock()

	out, ok := s.MultiChannelWaveform("dev0", 10)
	if !ok {
		t.Fatal("expected device")
	}
	if len(out) != 2 {
		t.Fatalf("channels %d, want 2", len(out))
	}
	if _, present := out[ChannelY]; present {
		t.Fatal("empty channel must be omitted")
	}
}
