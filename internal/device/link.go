// Package device manages the network links to GeoTiny seismometers and
// the acquisition loop that keeps their channel buffers filled.
package device

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/geotiny/seismon/internal/buffer"
)

// Channel identifies one acceleration axis of a device.
type Channel string

const (
	ChannelX Channel = "X" // North-South horizontal
	ChannelY Channel = "Y" // East-West horizontal
	ChannelZ Channel = "Z" // Vertical
)

// Channels lists the three axes in canonical order.
var Channels = []Channel{ChannelX, ChannelY, ChannelZ}

const (
	// recordSize is one wire record: 3 little-endian IEEE-754 float32
	// values (x, y, z), no framing, no checksum.
	recordSize = 12

	defaultSampleRate = 100.0
	defaultBufferSize = 3000 // 30 s at 100 Hz
	dialTimeout       = 5 * time.Second
	readTimeout       = 5 * time.Second
)

// Endpoint is one device's network address.
type Endpoint struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// Status is a point-in-time snapshot of one link's connection state.
type Status struct {
	DeviceID      string     `json:"device_id"`
	Address       string     `json:"address"`
	Connected     bool       `json:"connected"`
	LastData      *time.Time `json:"last_data,omitempty"`
	LastAttempt   *time.Time `json:"last_attempt,omitempty"`
	Attempts      uint64     `json:"connect_attempts"`
	BufferSamples int        `json:"buffer_samples"`
	SampleRate    float64    `json:"sampling_rate"`
}

// Info describes a device's fixed metadata plus its current status.
type Info struct {
	Status       Status  `json:"status"`
	Manufacturer string  `json:"manufacturer"`
	Model        string  `json:"model"`
	ChannelCount int     `json:"channels"`
	SampleRate   float64 `json:"sampling_rate"`
	Sensitivity  float64 `json:"sensitivity"`
}

// Link owns one device connection and its three channel ring buffers.
//
// The connection itself is touched only by the supervisor's poll
// goroutine; the mutex guards the buffers and state fields so consumers
// can snapshot them concurrently. The lock is never held across a
// network call.
type Link struct {
	id   string
	addr string
	log  zerolog.Logger

	sampleRate  float64
	readTimeout time.Duration

	mu          sync.Mutex
	conn        net.Conn
	connected   bool
	lastData    time.Time
	lastAttempt time.Time
	attempts    uint64
	rings       map[Channel]*buffer.Ring
}

// NewLink creates a disconnected link for the device at host:port with
// the default 100 Hz rate and 30 s buffers.
func NewLink(id string, ep Endpoint, log zerolog.Logger) *Link {
	return newLink(id, ep, defaultSampleRate, defaultBufferSize, log)
}

func newLink(id string, ep Endpoint, sampleRate float64, bufferSize int, log zerolog.Logger) *Link {
	rings := make(map[Channel]*buffer.Ring, len(Channels))
	for _, ch := range Channels {
		rings[ch] = buffer.NewRing(bufferSize)
	}
	return &Link{
		id:          id,
		addr:        fmt.Sprintf("%s:%d", ep.Host, ep.Port),
		log:         log.With().Str("device", id).Logger(),
		sampleRate:  sampleRate,
		readTimeout: readTimeout,
		rings:       rings,
	}
}

// Connect opens the device connection with a bounded timeout. Failure
// leaves the link disconnected and records the attempt; it is reported,
// never propagated.
func (l *Link) Connect() bool {
	now := time.Now().UTC()
	conn, err := net.DialTimeout("tcp", l.addr, dialTimeout)

	l.mu.Lock()
	l.lastAttempt = now
	l.attempts++
	if err != nil {
		l.connected = false
		l.mu.Unlock()
		l.log.Warn().Err(err).Str("addr", l.addr).Msg("connect failed")
		return false
	}
	if l.conn != nil {
		_ = l.conn.Close()
	}
	l.conn = conn
	l.connected = true
	l.mu.Unlock()

	l.log.Info().Str("addr", l.addr).Msg("connected")
	return true
}

// Disconnect closes the connection best-effort and always leaves the
// link disconnected. It is idempotent.
func (l *Link) Disconnect() {
	l.mu.Lock()
	conn := l.conn
	l.conn = nil
	was := l.connected
	l.connected = false
	l.mu.Unlock()

	if conn != nil {
		_ = conn.Close()
	}
	if was {
		l.log.Info().Msg("disconnected")
	}
}

// ReadOne reads a single 12-byte record and appends the decoded sample
// to the channel buffers. If disconnected it attempts to connect first.
//
// A short read is a transient failure: buffers and connection state are
// untouched. A timeout or I/O error forces a disconnect so the next
// poll re-establishes the link.
func (l *Link) ReadOne() bool {
	l.mu.Lock()
	conn := l.conn
	connected := l.connected
	l.mu.Unlock()

	if !connected || conn == nil {
		if !l.Connect() {
			return false
		}
		l.mu.Lock()
		conn = l.conn
		l.mu.Unlock()
	}

	var rec [recordSize]byte
	_ = conn.SetReadDeadline(time.Now().Add(l.readTimeout))
	n, err := conn.Read(rec[:])
	if err != nil {
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			l.log.Warn().Msg("read timeout")
		} else if err != io.EOF {
			l.log.Error().Err(err).Msg("read failed")
		}
		l.Disconnect()
		return false
	}
	if n < recordSize {
		// transient: the device delivered a partial record
		l.log.Warn().Int("bytes", n).Msg("incomplete record")
		return false
	}

	x := decodeFloat32(rec[0:4])
	y := decodeFloat32(rec[4:8])
	z := decodeFloat32(rec[8:12])
	now := time.Now().UTC()

	l.mu.Lock()
	l.rings[ChannelX].Push(x)
	l.rings[ChannelY].Push(y)
	l.rings[ChannelZ].Push(z)
	l.lastData = now
	l.mu.Unlock()
	return true
}

func decodeFloat32(b []byte) float64 {
	return float64(math.Float32frombits(binary.LittleEndian.Uint32(b)))
}

// Connected reports the current connection state.
func (l *Link) Connected() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.connected
}

// Status returns a snapshot of the link's state.
func (l *Link) Status() Status {
	l.mu.Lock()
	defer l.mu.Unlock()
	st := Status{
		DeviceID:      l.id,
		Address:       l.addr,
		Connected:     l.connected,
		Attempts:      l.attempts,
		BufferSamples: l.rings[ChannelZ].Len(),
		SampleRate:    l.sampleRate,
	}
	if !l.lastData.IsZero() {
		t := l.lastData
		st.LastData = &t
	}
	if !l.lastAttempt.IsZero() {
		t := l.lastAttempt
		st.LastAttempt = &t
	}
	return st
}

// Info returns device metadata together with the current status.
func (l *Link) Info() Info {
	return Info{
		Status:       l.Status(),
		Manufacturer: "GeoTiny",
		Model:        "GT-3",
		ChannelCount: len(Channels),
		SampleRate:   l.sampleRate,
		Sensitivity:  1.0,
	}
}

// Snapshot returns a chronological copy of one channel's buffer, plus
// the total number of samples buffered for that channel.
func (l *Link) Snapshot(ch Channel) []float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	r, ok := l.rings[ch]
	if !ok {
		return []float64{}
	}
	return r.Snapshot()
}

// Tail returns a chronological copy of the newest n samples of one
// channel and the full buffered length, which callers need to place the
// window on a relative time axis.
func (l *Link) Tail(ch Channel, n int) (data []float64, buffered int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	r, ok := l.rings[ch]
	if !ok {
		return []float64{}, 0
	}
	return r.Tail(n), r.Len()
}

// ID returns the device identifier.
func (l *Link) ID() string { return l.id }

// SampleRate returns the fixed acquisition rate in Hz.
func (l *Link) SampleRate() float64 { return l.sampleRate }
