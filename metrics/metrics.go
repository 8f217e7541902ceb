// Package metrics exposes Prometheus collectors for feedback streams and the
// local relay.
//
// All recording methods are safe to call on a nil *Metrics, so components
// accept an optional collector set without guarding every call site.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Config configures the collector set.
type Config struct {
	// Namespace is the metrics namespace (default: "livefeedback").
	Namespace string

	// ConstLabels are constant labels added to all metrics.
	ConstLabels prometheus.Labels

	// Registry is the Prometheus registry to use.
	// Default: prometheus.DefaultRegisterer
	Registry prometheus.Registerer
}

// Option configures the collector set.
type Option func(*Config)

// WithNamespace sets the metrics namespace.
func WithNamespace(namespace string) Option {
	return func(c *Config) {
		c.Namespace = namespace
	}
}

// WithConstLabels sets constant labels for all metrics.
func WithConstLabels(labels prometheus.Labels) Option {
	return func(c *Config) {
		c.ConstLabels = labels
	}
}

// WithRegistry sets the Prometheus registry.
func WithRegistry(registry prometheus.Registerer) Option {
	return func(c *Config) {
		c.Registry = registry
	}
}

func defaultConfig() Config {
	return Config{
		Namespace: "livefeedback",
		Registry:  prometheus.DefaultRegisterer,
	}
}

// Frame labels for FrameReceived and WriteFailed.
const (
	FrameFeedback  = "feedback"
	FrameMalformed = "malformed"
	FrameOther     = "other"
	FrameVote      = "vote"
	FrameKeepAlive = "keepalive"
)

// Metrics holds the collectors.
type Metrics struct {
	framesReceived     *prometheus.CounterVec
	snapshotsDelivered prometheus.Counter
	votesSent          prometheus.Counter
	votesDropped       prometheus.Counter
	writeFailures      *prometheus.CounterVec
	keepAlivesSent     prometheus.Counter
	activeStreams      prometheus.Gauge
	relayViewers       prometheus.Gauge
}

// New registers the collectors with the configured registry. Registering
// twice against the same registry panics, so production code creates one
// Metrics per process and tests pass their own registry.
func New(opts ...Option) *Metrics {
	config := defaultConfig()
	for _, opt := range opts {
		opt(&config)
	}

	factory := promauto.With(config.Registry)

	return &Metrics{
		framesReceived: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Name:        "frames_received_total",
			Help:        "Inbound socket frames by classification",
			ConstLabels: config.ConstLabels,
		}, []string{"kind"}),

		snapshotsDelivered: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Name:        "snapshots_delivered_total",
			Help:        "Feedback snapshots handed to consumers",
			ConstLabels: config.ConstLabels,
		}),

		votesSent: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Name:        "votes_sent_total",
			Help:        "Votes written to the socket",
			ConstLabels: config.ConstLabels,
		}),

		votesDropped: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Name:        "votes_dropped_total",
			Help:        "Votes discarded before writing because their rank is out of range",
			ConstLabels: config.ConstLabels,
		}),

		writeFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Name:        "write_failures_total",
			Help:        "Non-fatal socket write failures by frame",
			ConstLabels: config.ConstLabels,
		}, []string{"frame"}),

		keepAlivesSent: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Name:        "keepalives_sent_total",
			Help:        "Keep-alive frames written to the socket",
			ConstLabels: config.ConstLabels,
		}),

		activeStreams: factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   config.Namespace,
			Name:        "active_streams",
			Help:        "Feedback streams currently in the streaming state",
			ConstLabels: config.ConstLabels,
		}),

		relayViewers: factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   config.Namespace,
			Name:        "relay_viewers",
			Help:        "Viewers connected to the local relay",
			ConstLabels: config.ConstLabels,
		}),
	}
}

// FrameReceived counts an inbound frame of the given kind.
func (m *Metrics) FrameReceived(kind string) {
	if m == nil {
		return
	}
	m.framesReceived.WithLabelValues(kind).Inc()
}

// SnapshotDelivered counts a snapshot handed to a consumer.
func (m *Metrics) SnapshotDelivered() {
	if m == nil {
		return
	}
	m.snapshotsDelivered.Inc()
}

// VoteSent counts a vote written to the socket.
func (m *Metrics) VoteSent() {
	if m == nil {
		return
	}
	m.votesSent.Inc()
}

// VoteDropped counts a vote that was never written.
func (m *Metrics) VoteDropped() {
	if m == nil {
		return
	}
	m.votesDropped.Inc()
}

// KeepAliveSent counts a keep-alive frame.
func (m *Metrics) KeepAliveSent() {
	if m == nil {
		return
	}
	m.keepAlivesSent.Inc()
}

// WriteFailed counts a swallowed write failure for the given frame.
func (m *Metrics) WriteFailed(frame string) {
	if m == nil {
		return
	}
	m.writeFailures.WithLabelValues(frame).Inc()
}

// StreamStarted increments the active stream gauge.
func (m *Metrics) StreamStarted() {
	if m == nil {
		return
	}
	m.activeStreams.Inc()
}

// StreamEnded decrements the active stream gauge.
func (m *Metrics) StreamEnded() {
	if m == nil {
		return
	}
	m.activeStreams.Dec()
}

// SetRelayViewers records the number of connected relay viewers.
func (m *Metrics) SetRelayViewers(n int) {
	if m == nil {
		return
	}
	m.relayViewers.Set(float64(n))
}
