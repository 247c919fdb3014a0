package server

import (
	"fmt"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
)

type serverMetrics struct {
	requests      *prometheus.CounterVec
	logins        *prometheus.CounterVec
	refreshes     *prometheus.CounterVec
	sessionsEnded prometheus.Counter
}

func newServerMetrics() *serverMetrics {
	return &serverMetrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "session_service_requests_total",
			Help: "HTTP requests by method, route template and status class.",
		}, []string{"method", "route", "status"}),
		logins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "session_service_logins_total",
			Help: "Login attempts by result.",
		}, []string{"result"}),
		refreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "session_service_refreshes_total",
			Help: "Access token renewals by result.",
		}, []string{"result"}),
		sessionsEnded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "session_service_sessions_ended_total",
			Help: "Sessions ended by logout.",
		}),
	}
}

func (m *serverMetrics) register(reg prometheus.Registerer) error {
	for _, c := range []prometheus.Collector{m.requests, m.logins, m.refreshes, m.sessionsEnded} {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

func routeTemplate(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tmpl, err := route.GetPathTemplate(); err == nil {
			return tmpl
		}
	}
	return "unmatched"
}

func statusClass(status int) string {
	return fmt.Sprintf("%dxx", status/100)
}
