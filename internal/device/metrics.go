package device

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds the acquisition counters exported to Prometheus.
// A nil *Metrics disables instrumentation.
type Metrics struct {
	SamplesRead *prometheus.CounterVec
	ReadErrors  *prometheus.CounterVec
	Reconnects  *prometheus.CounterVec
	Connected   *prometheus.GaugeVec
}

// NewMetrics creates and registers the acquisition metrics.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		SamplesRead: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "seismon_samples_read_total",
			Help: "Samples successfully read per device.",
		}, []string{"device"}),
		ReadErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "seismon_read_errors_total",
			Help: "Failed read attempts per device.",
		}, []string{"device"}),
		Reconnects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "seismon_reconnect_attempts_total",
			Help: "Connection attempts issued by the acquisition loop per device.",
		}, []string{"device"}),
		Connected: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "seismon_device_connected",
			Help: "1 when the device link is established, 0 otherwise.",
		}, []string{"device"}),
	}
	if reg != nil {
		reg.MustRegister(m.SamplesRead, m.ReadErrors, m.Reconnects, m.Connected)
	}
	return m
}

func (m *Metrics) sampleRead(device string) {
	if m != nil {
		m.SamplesRead.WithLabelValues(device).Inc()
	}
}

func (m *Metrics) readError(device string) {
	if m != nil {
		m.ReadErrors.WithLabelValues(device).Inc()
	}
}

func (m *Metrics) reconnect(device string) {
	if m != nil {
		m.Reconnects.WithLabelValues(device).Inc()
	}
}

func (m *Metrics) connected(device string, up bool) {
	if m == nil {
		return
	}
	v := 0.0
	if up {
		v = 1
	}
	m.Connected.WithLabelValues(device).Set(v)
}
