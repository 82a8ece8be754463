// Package metrics exposes Prometheus collectors for the chat server.
package metrics

import (
	"time"

	"github.com/cockroachdb/errors"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/vovakirdan/wirechat-tcp/internal/core"
)

const namespace = "wirechat"

const (
	opLabel     = "op"
	codeLabel   = "code"
	kindLabel   = "kind"
	resultLabel = "result"
)

// Metrics groups the server's collectors. A nil *Metrics records nothing.
type Metrics struct {
	ActiveSessions      prometheus.Gauge
	RejectedConnections prometheus.Counter
	DecodeErrors        prometheus.Counter
	Requests            *prometheus.CounterVec
	RequestDuration     *prometheus.HistogramVec
	Deliveries          *prometheus.CounterVec
	PresenceChanges     prometheus.Counter
	DroppedResponses    prometheus.Counter
}

// New creates unregistered collectors.
func New() *Metrics {
	return &Metrics{
		ActiveSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_sessions",
			Help:      "number of connected sessions, registered or not",
		}),
		RejectedConnections: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rejected_connections_total",
			Help:      "connections refused because the registry was full or closed",
		}),
		DecodeErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "decode_errors_total",
			Help:      "requests dropped because they could not be decoded",
		}),
		Requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "dispatched requests by operation and outcome",
		}, []string{opLabel, codeLabel}),
		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "request_duration_seconds",
			Help:      "time spent dispatching a request",
			Buckets:   prometheus.ExponentialBuckets(0.00005, 4, 8),
		}, []string{opLabel}),
		Deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deliveries_total",
			Help:      "message notifications queued or dropped per recipient",
		}, []string{kindLabel, resultLabel}),
		PresenceChanges: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "presence_idle_transitions_total",
			Help:      "sessions automatically marked busy after inactivity",
		}),
		DroppedResponses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dropped_responses_total",
			Help:      "responses not written because they exceeded the frame limit",
		}),
	}
}

// Register adds every collector to r.
func (m *Metrics) Register(r prometheus.Registerer) error {
	for _, c := range []prometheus.Collector{
		m.ActiveSessions,
		m.RejectedConnections,
		m.DecodeErrors,
		m.Requests,
		m.RequestDuration,
		m.Deliveries,
		m.PresenceChanges,
		m.DroppedResponses,
	} {
		if err := r.Register(c); err != nil {
			return errors.Wrap(err, "register collector")
		}
	}
	return nil
}

// RecordDelivery implements core.DeliveryRecorder.
func (m *Metrics) RecordDelivery(kind core.MessageKind, delivered, dropped int) {
	if m == nil {
		return
	}
	m.Deliveries.WithLabelValues(kind.String(), "delivered").Add(float64(delivered))
	m.Deliveries.WithLabelValues(kind.String(), "dropped").Add(float64(dropped))
}

// ObserveRequest counts one dispatched request.
func (m *Metrics) ObserveRequest(op core.CommandKind, code core.StatusCode, took time.Duration) {
	if m == nil {
		return
	}
	m.Requests.WithLabelValues(op.String(), code.String()).Inc()
	m.RequestDuration.WithLabelValues(op.String()).Observe(took.Seconds())
}

// SessionOpened tracks a newly inserted session.
func (m *Metrics) SessionOpened() {
	if m != nil {
		m.ActiveSessions.Inc()
	}
}

// SessionClosed tracks a removed session.
func (m *Metrics) SessionClosed() {
	if m != nil {
		m.ActiveSessions.Dec()
	}
}

// ConnectionRejected counts a refused connection.
func (m *Metrics) ConnectionRejected() {
	if m != nil {
		m.RejectedConnections.Inc()
	}
}

// DecodeError counts a dropped malformed request.
func (m *Metrics) DecodeError() {
	if m != nil {
		m.DecodeErrors.Inc()
	}
}

// PresenceChanged counts an automatic idle transition.
func (m *Metrics) PresenceChanged() {
	if m != nil {
		m.PresenceChanges.Inc()
	}
}

// ResponseDropped counts a response that could not be written.
func (m *Metrics) ResponseDropped() {
	if m != nil {
		m.DroppedResponses.Inc()
	}
}
