package device

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const (
	// defaultPollInterval paces one full pass over all devices so that
	// three devices approximate a 10 Hz aggregate read rate.
	defaultPollInterval = 33 * time.Millisecond

	// defaultRetryThreshold counts poll cycles between connect attempts
	// for a disconnected device. Backoff by cycle count keeps the loop
	// cadence uniform without a second timer.
	defaultRetryThreshold = 10

	stopWait = 10 * time.Second
)

// SupervisorConfig configures the acquisition supervisor.
type SupervisorConfig struct {
	Devices        map[string]Endpoint
	SampleRate     float64       // Hz per device; 0 means 100
	BufferSize     int           // samples per channel; 0 means 3000
	PollInterval   time.Duration // 0 means 33 ms
	RetryThreshold int           // 0 means 10 cycles
}

// Supervisor owns the device links and runs the single acquisition
// goroutine that polls every device, applies reconnect backoff, and
// tracks per-device retry state. All device I/O happens serially inside
// that one goroutine.
type Supervisor struct {
	links    map[string]*Link
	order    []string
	interval time.Duration
	retryAt  int
	log      zerolog.Logger
	metrics  *Metrics

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewSupervisor builds links for every configured device. Metrics may
// be nil.
func NewSupervisor(cfg SupervisorConfig, log zerolog.Logger, metrics *Metrics) *Supervisor {
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = defaultSampleRate
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = defaultBufferSize
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	if cfg.RetryThreshold <= 0 {
		cfg.RetryThreshold = defaultRetryThreshold
	}

	links := make(map[string]*Link, len(cfg.Devices))
	order := make([]string, 0, len(cfg.Devices))
	for id, ep := range cfg.Devices {
		links[id] = newLink(id, ep, cfg.SampleRate, cfg.BufferSize, log)
		order = append(order, id)
	}
	sort.Strings(order)

	return &Supervisor{
		links:    links,
		order:    order,
		interval: cfg.PollInterval,
		retryAt:  cfg.RetryThreshold,
		log:      log.With().Str("component", "acquisition").Logger(),
		metrics:  metrics,
	}
}

// Start launches the perpetual poll cycle. It is a no-op when already
// running.
func (s *Supervisor) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		s.log.Warn().Msg("acquisition already running")
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})
	s.running = true
	go s.run(ctx, s.done)
	s.log.Info().Int("devices", len(s.links)).Msg("acquisition started")
}

// Stop signals the poll cycle to exit and waits, bounded, for it to
// terminate. After Stop returns no further buffer writes occur;
// buffered samples are retained.
func (s *Supervisor) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	cancel := s.cancel
	done := s.done
	s.running = false
	s.mu.Unlock()

	cancel()
	select {
	case <-done:
	case <-time.After(stopWait):
		s.log.Error().Msg("acquisition loop did not stop in time")
	}
	s.log.Info().Msg("acquisition stopped")
}

// Running reports whether the poll cycle is active.
func (s *Supervisor) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

func (s *Supervisor) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	// The retry table is owned exclusively by this goroutine.
	retry := make(map[string]int, len(s.links))
	for {
		select {
		case <-ctx.Done():
			s.disconnectAll()
			return
		default:
		}

		s.cycle(retry)

		select {
		case <-ctx.Done():
			s.disconnectAll()
			return
		case <-time.After(s.interval):
		}
	}
}

// cycle performs one full pass over all devices: reads from connected
// links and counts disconnected ones toward their next connect attempt.
func (s *Supervisor) cycle(retry map[string]int) {
	for _, id := range s.order {
		l := s.links[id]
		if l.Connected() {
			if l.ReadOne() {
				retry[id] = 0
				s.metrics.sampleRead(id)
			} else {
				s.metrics.readError(id)
			}
			s.metrics.connected(id, l.Connected())
			continue
		}
		if retry[id] >= s.retryAt {
			s.metrics.reconnect(id)
			l.Connect()
			retry[id] = 0
		} else {
			retry[id]++
		}
		s.metrics.connected(id, l.Connected())
	}
}

func (s *Supervisor) disconnectAll() {
	for _, id := range s.order {
		s.links[id].Disconnect()
		s.metrics.connected(id, false)
	}
}

// Device returns the link for id.
func (s *Supervisor) Device(id string) (*Link, bool) {
	l, ok := s.links[id]
	return l, ok
}

// Devices lists the managed device identifiers in stable order.
func (s *Supervisor) Devices() []string {
	out := make([]string, len(s.order))
	copy(out, s.order)
	return out
}

// Status reports the status of every managed device.
func (s *Supervisor) Status() map[string]Status {
	out := make(map[string]Status, len(s.links))
	for id, l := range s.links {
		out[id] = l.Status()
	}
	return out
}

// Info returns detailed metadata for one device.
func (s *Supervisor) Info(id string) (Info, bool) {
	l, ok := s.links[id]
	if !ok {
		return Info{}, false
	}
	return l.Info(), true
}

// Waveform is the most recent slice of one channel's buffer, on a time
// axis relative to "now" (negative values extend into the past).
type Waveform struct {
	DeviceID   string    `json:"device_id"`
	Channel    Channel   `json:"channel"`
	SampleRate float64   `json:"sampling_rate"`
	Data       []float64 `json:"data"`
	Times      []float64 `json:"times"`
	Min        float64   `json:"min"`
	Max        float64   `json:"max"`
	Timestamp  time.Time `json:"timestamp"`
}

// LatestWaveform returns the newest samples of one device channel, or
// false when the device is unknown or its buffer is empty.
func (s *Supervisor) LatestWaveform(id string, ch Channel, samples int) (Waveform, bool) {
	l, ok := s.links[id]
	if !ok {
		return Waveform{}, false
	}
	data, buffered := l.Tail(ch, samples)
	if len(data) == 0 {
		return Waveform{}, false
	}

	dt := 1 / l.sampleRate
	times := make([]float64, len(data))
	for i := range times {
		times[i] = float64(i)*dt - float64(buffered)*dt
	}

	min, max := data[0], data[0]
	for _, v := range data[1:] {
		if v < min {
			min = v
		}
		if v > max {
			max = v
		}
	}

	return Waveform{
		DeviceID:   id,
		Channel:    ch,
		SampleRate: l.sampleRate,
		Data:       data,
		Times:      times,
		Min:        min,
		Max:        max,
		Timestamp:  time.Now().UTC(),
	}, true
}

// MultiChannelWaveform returns all three axes of one device at once.
// Channels with empty buffers are omitted.
func (s *Supervisor) MultiChannelWaveform(id string, samples int) (map[Channel]Waveform, bool) {
	if _, ok := s.links[id]; !ok {
		return nil, false
	}
	out := make(map[Channel]Waveform, len(Channels))
	for _, ch := range Channels {
		if wf, ok := s.LatestWaveform(id, ch, samples); ok {
			out[ch] = wf
		}
	}
	return out, true
}
