// metrics/session.go
package metrics

import (
	"context"

	"github.com/dalemusser/sessionkeep/pantry/session"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// SessionMetrics exports session store activity to Prometheus.
// It implements session.Metrics and session.Listener.
type SessionMetrics struct {
	saves          prometheus.Counter
	deletes        prometheus.Counter
	events         *prometheus.CounterVec
	sweeps         *prometheus.CounterVec
	sweepMarkers   prometheus.Counter
	sweepReclaimed prometheus.Counter
	lastSweep      prometheus.Gauge
}

// NewSessionMetrics creates the session collectors and registers them on
// reg. A nil reg means prometheus.DefaultRegisterer.
func NewSessionMetrics(logger *zap.Logger, reg prometheus.Registerer) *SessionMetrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	m := &SessionMetrics{
		saves: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "sessionkeep",
			Name:      "session_saves_total",
			Help:      "Session deltas written to the store.",
		}),
		deletes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "sessionkeep",
			Name:      "session_deletes_total",
			Help:      "Session records removed by explicit delete.",
		}),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sessionkeep",
			Name:      "session_events_total",
			Help:      "Session lifecycle events by type.",
		}, []string{"type"}),
		sweeps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sessionkeep",
			Name:      "sweeps_total",
			Help:      "Expiration sweeps by outcome.",
		}, []string{"result"}),
		sweepMarkers: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "sessionkeep",
			Name:      "sweep_markers_total",
			Help:      "Bucket members examined by sweeps.",
		}),
		sweepReclaimed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "sessionkeep",
			Name:      "sweep_reclaimed_total",
			Help:      "Expired session records deleted by sweeps.",
		}),
		lastSweep: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "sessionkeep",
			Name:      "last_swept_bucket_timestamp_seconds",
			Help:      "Minute of the most recently drained expiration bucket.",
		}),
	}

	mustRegister(logger, reg, "session saves", m.saves)
	mustRegister(logger, reg, "session deletes", m.deletes)
	mustRegister(logger, reg, "session events", m.events)
	mustRegister(logger, reg, "sweeps", m.sweeps)
	mustRegister(logger, reg, "sweep markers", m.sweepMarkers)
	mustRegister(logger, reg, "sweep reclaimed", m.sweepReclaimed)
	mustRegister(logger, reg, "last swept bucket", m.lastSweep)
	return m
}

// ObserveSave implements session.Metrics.
func (m *SessionMetrics) ObserveSave() { m.saves.Inc() }

// ObserveDelete implements session.Metrics.
func (m *SessionMetrics) ObserveDelete() { m.deletes.Inc() }

// ObserveSweep implements session.Metrics.
func (m *SessionMetrics) ObserveSweep(res session.SweepResult, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.sweeps.WithLabelValues(result).Inc()
	m.sweepMarkers.Add(float64(res.Markers))
	m.sweepReclaimed.Add(float64(res.Reclaimed))
	if !res.Bucket.IsZero() {
		m.lastSweep.Set(float64(res.Bucket.Unix()))
	}
}

// OnSessionEvent implements session.Listener.
func (m *SessionMetrics) OnSessionEvent(_ context.Context, e session.Event) error {
	m.events.WithLabelValues(string(e.Type)).Inc()
	return nil
}
