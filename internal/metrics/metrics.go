// Package metrics holds the Prometheus collectors for the ingest path.
//
// A nil *Metrics is valid everywhere and records nothing, so components can
// be built without a registry in tests and small tools.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "motion_ingest"

// Disconnect reasons used as label values.
const (
	ReasonSilence  = "silence"
	ReasonIOError  = "io_error"
	ReasonShutdown = "shutdown"
)

// Registry discard reasons used as label values.
const (
	DiscardUnknownDevice = "unknown_device"
	DiscardEmpty         = "empty"
)

// Metrics groups every collector exported by the ingest path.
type Metrics struct {
	portsActive      prometheus.Gauge
	portsBlacklisted prometheus.Gauge
	connectAttempts  prometheus.Counter
	connectFailures  prometheus.Counter
	disconnects      *prometheus.CounterVec
	accepted         *prometheus.CounterVec
	rejected         *prometheus.CounterVec
	queueDepth       prometheus.Gauge
	datagrams        prometheus.Counter
	receiveErrors    prometheus.Counter
	registryDevices  prometheus.Gauge
	discarded        *prometheus.CounterVec
}

// New creates the collectors and registers them with reg.
// Returns nil when reg is nil.
func New(reg prometheus.Registerer) (*Metrics, error) {
	if reg == nil {
		return nil, nil
	}

	m := &Metrics{
		portsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "serial",
			Name:      "ports_active",
			Help:      "Serial ports with a running connection worker",
		}),
		portsBlacklisted: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "serial",
			Name:      "ports_blacklisted",
			Help:      "Serial ports currently quarantined",
		}),
		connectAttempts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "serial",
			Name:      "connect_attempts_total",
			Help:      "Serial open attempts",
		}),
		connectFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "serial",
			Name:      "connect_failures_total",
			Help:      "Serial open attempts that failed",
		}),
		disconnects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "serial",
			Name:      "disconnects_total",
			Help:      "Connection workers that ended, by reason",
		}, []string{"reason"}),
		accepted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "messages_accepted_total",
			Help:      "Messages that passed the accept filter, by source",
		}, []string{"source"}),
		rejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "messages_rejected_total",
			Help:      "Messages dropped by decoding or the accept filter, by source",
		}, []string{"source"}),
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "queue_depth",
			Help:      "Messages waiting for the registry",
		}),
		datagrams: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "udp",
			Name:      "datagrams_received_total",
			Help:      "UDP datagrams received",
		}),
		receiveErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "udp",
			Name:      "receive_errors_total",
			Help:      "UDP receive errors",
		}),
		registryDevices: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "registry",
			Name:      "devices",
			Help:      "Devices with a fresh reading",
		}),
		discarded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "registry",
			Name:      "discarded_total",
			Help:      "Messages the registry discarded, by reason",
		}, []string{"reason"}),
	}

	collectors := m.collectors()
	for i, c := range collectors {
		if err := reg.Register(c); err != nil {
			for _, done := range collectors[:i] {
				reg.Unregister(done)
			}
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.portsActive, m.portsBlacklisted, m.connectAttempts, m.connectFailures,
		m.disconnects, m.accepted, m.rejected, m.queueDepth, m.datagrams,
		m.receiveErrors, m.registryDevices, m.discarded,
	}
}

// Unregister removes every collector from reg, so a failed startup can be
// retried on the same registry.
func (m *Metrics) Unregister(reg prometheus.Registerer) {
	if m == nil || reg == nil {
		return
	}
	for _, c := range m.collectors() {
		reg.Unregister(c)
	}
}

func (m *Metrics) SetPorts(active, blacklisted int) {
	if m == nil {
		return
	}
	m.portsActive.Set(float64(active))
	m.portsBlacklisted.Set(float64(blacklisted))
}

func (m *Metrics) ConnectAttempt() {
	if m == nil {
		return
	}
	m.connectAttempts.Inc()
}

func (m *Metrics) ConnectFailure() {
	if m == nil {
		return
	}
	m.connectFailures.Inc()
}

func (m *Metrics) Disconnect(reason string) {
	if m == nil {
		return
	}
	m.disconnects.WithLabelValues(reason).Inc()
}

func (m *Metrics) Accepted(source string) {
	if m == nil {
		return
	}
	m.accepted.WithLabelValues(source).Inc()
}

func (m *Metrics) Rejected(source string) {
	if m == nil {
		return
	}
	m.rejected.WithLabelValues(source).Inc()
}

func (m *Metrics) SetQueueDepth(n int) {
	if m == nil {
		return
	}
	m.queueDepth.Set(float64(n))
}

func (m *Metrics) Datagram() {
	if m == nil {
		return
	}
	m.datagrams.Inc()
}

func (m *Metrics) ReceiveError() {
	if m == nil {
		return
	}
	m.receiveErrors.Inc()
}

func (m *Metrics) SetRegistryDevices(n int) {
	if m == nil {
		return
	}
	m.registryDevices.Set(float64(n))
}

func (m *Metrics) Discarded(reason string) {
	if m == nil {
		return
	}
	m.discarded.WithLabelValues(reason).Inc()
}
