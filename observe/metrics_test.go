package observe_test

import (
	"sync"
	"testing"

	"github.com/jrsteele09/go-session-keeper/events"
	"github.com/jrsteele09/go-session-keeper/observe"
	"github.com/jrsteele09/go-session-keeper/session"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
)

type fakeSource struct {
	mu    sync.Mutex
	state session.State
	subs  []func(session.State)
}

func (s *fakeSource) State() session.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *fakeSource) Subscribe(fn func(session.State)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subs = append(s.subs, fn)
	return func() {}
}

func (s *fakeSource) set(st session.State) {
	s.mu.Lock()
	s.state = st
	subs := append([]func(session.State){}, s.subs...)
	s.mu.Unlock()
	for _, fn := range subs {
		fn(st)
	}
}

// gathered returns metric values keyed by family name and label value.
func gathered(t *testing.T, reg *prometheus.Registry) map[string]map[string]float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	out := make(map[string]map[string]float64)
	for _, mf := range families {
		values := make(map[string]float64)
		for _, m := range mf.GetMetric() {
			label := m.GetLabel()[0].GetValue()
			if m.GetCounter() != nil {
				values[label] = m.GetCounter().GetValue()
			} else {
				values[label] = m.GetGauge().GetValue()
			}
		}
		out[mf.GetName()] = values
	}
	return out
}

func TestMetrics_CountsEvents(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := observe.New()
	require.NoError(t, m.Register(reg))
	bus := events.NewBus()
	m.Observe(bus)

	bus.Emit(events.Login, events.LoginPayload{UserID: "user-1"})
	bus.Emit(events.TokenRefreshed, events.TokenRefreshedPayload{})
	bus.Emit(events.TokenRefreshed, events.TokenRefreshedPayload{})

	got := gathered(t, reg)["session_keeper_events_total"]
	require.Equal(t, 1.0, got["login"])
	require.Equal(t, 2.0, got["tokenRefreshed"])
	require.Equal(t, 0.0, got["sessionExpired"])
	require.Len(t, got, len(events.Types))
}

func TestMetrics_TracksStatus(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := observe.New()
	require.NoError(t, m.Register(reg))
	src := &fakeSource{state: session.InitialState()}
	m.Track(src)

	src.set(session.State{Status: session.StatusAuthenticated, UserID: "user-1"})
	got := gathered(t, reg)["session_keeper_state"]
	require.Equal(t, 1.0, got["AUTHENTICATED"])
	require.Equal(t, 0.0, got["LOGGED_OUT"])

	src.set(session.State{Status: session.StatusExpired})
	got = gathered(t, reg)["session_keeper_state"]
	require.Equal(t, 0.0, got["AUTHENTICATED"])
	require.Equal(t, 1.0, got["EXPIRED"])
}

func TestMetrics_RegisterTwiceFails(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := observe.New()
	require.NoError(t, m.Register(reg))
	require.Error(t, m.Register(reg))
}
