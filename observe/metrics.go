// Package observe exports session lifecycle metrics. It only reads: event counts come
// from the bus and the current status from the session controller.
package observe

import (
	"fmt"

	"github.com/jrsteele09/go-session-keeper/events"
	"github.com/jrsteele09/go-session-keeper/session"
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "session_keeper"

var statuses = []session.Status{
	session.StatusLoggedOut,
	session.StatusAuthenticating,
	session.StatusAuthenticated,
	session.StatusDeauthenticating,
	session.StatusExpired,
}

// StateSource is the part of session.Controller the metrics follow.
type StateSource interface {
	State() session.State
	Subscribe(fn func(session.State)) (unsubscribe func())
}

// Metrics holds the collectors.
type Metrics struct {
	events *prometheus.CounterVec
	state  *prometheus.GaugeVec
}

// New creates unregistered collectors.
func New() *Metrics {
	m := &Metrics{
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_total",
			Help:      "Session lifecycle events by type.",
		}, []string{"type"}),
		state: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "state",
			Help:      "1 for the current session status, 0 otherwise.",
		}, []string{"status"}),
	}
	for _, t := range events.Types {
		m.events.WithLabelValues(string(t))
	}
	m.setStatus(session.StatusLoggedOut)
	return m
}

// Register adds the collectors to reg.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	for _, c := range []prometheus.Collector{m.events, m.state} {
		if err := reg.Register(c); err != nil {
			return fmt.Errorf("[Metrics Register] %w", err)
		}
	}
	return nil
}

// Observe counts every event emitted on bus.
func (m *Metrics) Observe(bus *events.Bus) (unsubscribe func()) {
	return bus.OnAny(func(e events.Event) {
		m.events.WithLabelValues(string(e.Type)).Inc()
	})
}

// Track follows the controller's status.
func (m *Metrics) Track(src StateSource) (unsubscribe func()) {
	m.setStatus(src.State().Status)
	return src.Subscribe(func(s session.State) {
		m.setStatus(s.Status)
	})
}

func (m *Metrics) setStatus(current session.Status) {
	for _, s := range statuses {
		v := 0.0
		if s == current {
			v = 1
		}
		m.state.WithLabelValues(string(s)).Set(v)
	}
}
