// Package buffer provides the fixed-capacity sample store used by the
// acquisition layer. One Ring holds one axis of one device.
package buffer

// Ring is a fixed-capacity circular buffer of scalar samples.
// Pushing at capacity silently evicts the oldest sample.
//
// Ring itself is not synchronized; the owning device link guards it
// with its own lock.
type Ring struct {
	buf  []float64
	head int // next write position
	n    int // number of valid samples
}

// NewRing creates a ring buffer holding up to capacity samples.
// A capacity below one is raised to one.
func NewRing(capacity int) *Ring {
	if capacity < 1 {
		capacity = 1
	}
	return &Ring{buf: make([]float64, capacity)}
}

// Push appends one sample, evicting the oldest when full.
// It is O(1) and never fails.
func (r *Ring) Push(v float64) {
	r.buf[r.head] = v
	r.head = (r.head + 1) % len(r.buf)
	if r.n < len(r.buf) {
		r.n++
	}
}

// Snapshot returns a copy of the buffered samples in chronological
// order, oldest first. An empty ring yields an empty slice.
func (r *Ring) Snapshot() []float64 {
	out := make([]float64, r.n)
	start := (r.head - r.n + len(r.buf)) % len(r.buf)
	for i := 0; i < r.n; i++ {
		out[i] = r.buf[(start+i)%len(r.buf)]
	}
	return out
}

// Tail returns a copy of the newest n samples in chronological order,
// or everything buffered when fewer than n are held.
func (r *Ring) Tail(n int) []float64 {
	if n <= 0 {
		return []float64{}
	}
	if n > r.n {
		n = r.n
	}
	out := make([]float64, n)
	start := (r.head - n + len(r.buf)) % len(r.buf)
	for i := 0; i < n; i++ {
		out[i] = r.buf[(start+i)%len(r.buf)]
	}
	return out
}

// Len returns the number of samples currently buffered.
func (r *Ring) Len() int { return r.n }

// Cap returns the fixed capacity.
func (r *Ring) Cap() int { return len(r.buf) }
