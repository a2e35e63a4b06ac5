package network

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// MetricsConfig configures the Prometheus metrics a Host or Client exposes.
type MetricsConfig struct {
	// Namespace is the metrics namespace (default: "pulse").
	Namespace string

	// Subsystem is the metrics subsystem, typically "host" or "client".
	Subsystem string

	// Registry is the Prometheus registerer new metrics are registered
	// against. Default: a private prometheus.NewRegistry(), never the
	// global DefaultRegisterer, so tests that construct several Hosts
	// never collide on metric names.
	Registry prometheus.Registerer
}

// MetricsOption configures a MetricsConfig.
type MetricsOption func(*MetricsConfig)

// WithNamespace overrides the metrics namespace.
func WithNamespace(namespace string) MetricsOption {
	return func(c *MetricsConfig) { c.Namespace = namespace }
}

// WithSubsystem overrides the metrics subsystem.
func WithSubsystem(subsystem string) MetricsOption {
	return func(c *MetricsConfig) { c.Subsystem = subsystem }
}

// WithRegistry sets the registerer metrics are registered against.
func WithRegistry(registry prometheus.Registerer) MetricsOption {
	return func(c *MetricsConfig) { c.Registry = registry }
}

func defaultMetricsConfig(subsystem string) MetricsConfig {
	return MetricsConfig{
		Namespace: "pulse",
		Subsystem: subsystem,
		Registry:  prometheus.NewRegistry(),
	}
}

// Metrics holds the counters and histograms shared by Host and Client.
type Metrics struct {
	registry prometheus.Registerer

	packetsReceived  *prometheus.CounterVec
	packetsSent      *prometheus.CounterVec
	packetsDropped   *prometheus.CounterVec
	connectionsTotal *prometheus.CounterVec
	reconciliations  *prometheus.CounterVec
	tickDuration     prometheus.Histogram
	rtt              prometheus.Gauge
}

// Registry returns the Registerer metrics were registered against, for
// callers that want to serve it over HTTP via promhttp.
func (m *Metrics) Registry() prometheus.Registerer { return m.registry }

// NewMetrics builds a Metrics instance, applying opts over the defaults.
func NewMetrics(subsystem string, opts ...MetricsOption) *Metrics {
	cfg := defaultMetricsConfig(subsystem)
	for _, opt := range opts {
		opt(&cfg)
	}
	factory := promauto.With(cfg.Registry)

	return &Metrics{
		registry: cfg.Registry,
		packetsReceived: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "packets_received_total",
			Help:      "Packets received, labeled by packet type.",
		}, []string{"type"}),
		packetsSent: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "packets_sent_total",
			Help:      "Packets sent, labeled by packet type.",
		}, []string{"type"}),
		packetsDropped: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "packets_dropped_total",
			Help:      "Packets dropped before dispatch, labeled by reason.",
		}, []string{"reason"}),
		connectionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "connections_total",
			Help:      "Connection attempts, labeled by outcome.",
		}, []string{"outcome"}),
		reconciliations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "reconciliations_total",
			Help:      "Client-side reconciliation corrections, labeled by kind.",
		}, []string{"kind"}),
		tickDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "tick_duration_seconds",
			Help:      "Wall-clock duration of a single simulation tick.",
			Buckets:   prometheus.DefBuckets,
		}),
		rtt: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "rtt_seconds",
			Help:      "Most recent round-trip-time estimate.",
		}),
	}
}

func (m *Metrics) observeTick(d time.Duration) {
	if m == nil {
		return
	}
	m.tickDuration.Observe(d.Seconds())
}

func (m *Metrics) recordReceived(t PacketType) {
	if m == nil {
		return
	}
	m.packetsReceived.WithLabelValues(packetTypeLabel(t)).Inc()
}

func (m *Metrics) recordSent(t PacketType) {
	if m == nil {
		return
	}
	m.packetsSent.WithLabelValues(packetTypeLabel(t)).Inc()
}

func (m *Metrics) recordDropped(reason string) {
	if m == nil {
		return
	}
	m.packetsDropped.WithLabelValues(reason).Inc()
}

func (m *Metrics) recordConnection(outcome string) {
	if m == nil {
		return
	}
	m.connectionsTotal.WithLabelValues(outcome).Inc()
}

func (m *Metrics) recordReconciliation(kind string) {
	if m == nil {
		return
	}
	m.reconciliations.WithLabelValues(kind).Inc()
}

func (m *Metrics) setRTT(rtt time.Duration) {
	if m == nil {
		return
	}
	m.rtt.Set(rtt.Seconds())
}

func packetTypeLabel(t PacketType) string {
	switch t {
	case PacketConnectRequest:
		return "connect_request"
	case PacketConnectAccept:
		return "connect_accept"
	case PacketConnectReject:
		return "connect_reject"
	case PacketDisconnect:
		return "disconnect"
	case PacketHeartbeat:
		return "heartbeat"
	case PacketInput:
		return "input"
	case PacketStateUpdate:
		return "state_update"
	case PacketWorldSnapshot:
		return "world_snapshot"
	case PacketEntityCreate:
		return "entity_create"
	case PacketEntityDestroy:
		return "entity_destroy"
	case PacketEventBroadcast:
		return "event_broadcast"
	case PacketAck:
		return "ack"
	case PacketReliableData:
		return "reliable_data"
	default:
		return "unknown"
	}
}
