package session_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jrsteele09/go-session-keeper/credentials"
	"github.com/jrsteele09/go-session-keeper/dispatch"
	"github.com/jrsteele09/go-session-keeper/events"
	sessionerrors "github.com/jrsteele09/go-session-keeper/internal/errors"
	"github.com/jrsteele09/go-session-keeper/provider"
	"github.com/jrsteele09/go-session-keeper/refresh"
	"github.com/jrsteele09/go-session-keeper/session"
	"github.com/jrsteele09/go-session-keeper/sessionapi"
	"github.com/jrsteele09/go-session-keeper/storage"
	"github.com/jrsteele09/go-session-keeper/storage/filestore"
	"github.com/jrsteele09/go-session-keeper/tabsync"
	"github.com/jrsteele09/go-session-keeper/transport"
	"github.com/stretchr/testify/require"
)

const password = "secret"

type serviceSession struct {
	userID       string
	refreshToken string
}

// fakeService is a minimal session service keyed by opaque tokens.
type fakeService struct {
	srv *httptest.Server

	mu       sync.Mutex
	nextID   int
	sessions map[string]*serviceSession
	access   map[string]string
	logouts  int
	renewals int
}

func newFakeService(t *testing.T) *fakeService {
	t.Helper()
	s := &fakeService{sessions: make(map[string]*serviceSession), access: make(map[string]string)}
	mux := http.NewServeMux()
	mux.HandleFunc("POST "+sessionapi.LoginPath, s.login)
	mux.HandleFunc("POST "+sessionapi.LogoutPath, s.logout)
	mux.HandleFunc("POST "+sessionapi.RefreshPath, s.refresh)
	mux.HandleFunc("GET "+sessionapi.CurrentPath, s.current)
	s.srv = httptest.NewServer(mux)
	t.Cleanup(s.srv.Close)
	return s
}

func (s *fakeService) seed(sessionID, userID, accessToken, refreshToken string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[sessionID] = &serviceSession{userID: userID, refreshToken: refreshToken}
	s.access[accessToken] = sessionID
}

func (s *fakeService) counts() (logouts, renewals int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.logouts, s.renewals
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(transport.ErrorBody{Error: code, Message: message})
}

func (s *fakeService) bearer(r *http.Request) (string, *serviceSession) {
	token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	s.mu.Lock()
	defer s.mu.Unlock()
	sid, ok := s.access[token]
	if !ok {
		return "", nil
	}
	return sid, s.sessions[sid]
}

func (s *fakeService) login(w http.ResponseWriter, r *http.Request) {
	var req sessionapi.LoginRequest
	_ = json.NewDecoder(r.Body).Decode(&req)
	if req.Password != password {
		writeError(w, http.StatusUnauthorized, "invalid_credentials", "Invalid username or password")
		return
	}
	s.mu.Lock()
	s.nextID++
	n := s.nextID
	s.mu.Unlock()
	sid := fmt.Sprintf("session-%d", n)
	access := fmt.Sprintf("access-%d", n)
	refreshToken := fmt.Sprintf("refresh-%d", n)
	s.seed(sid, req.Username, access, refreshToken)
	_ = json.NewEncoder(w).Encode(sessionapi.LoginResponse{
		AccessToken:           access,
		RefreshToken:          refreshToken,
		SessionID:             sid,
		AccessTokenExpiresAt:  time.Now().Add(time.Hour),
		RefreshTokenExpiresAt: time.Now().Add(24 * time.Hour),
		UserID:                req.Username,
	})
}

func (s *fakeService) logout(w http.ResponseWriter, r *http.Request) {
	sid, sess := s.bearer(r)
	if sess == nil {
		writeError(w, http.StatusUnauthorized, "unauthorized", "Token expired")
		return
	}
	s.mu.Lock()
	s.logouts++
	delete(s.sessions, sid)
	s.mu.Unlock()
	_, _ = w.Write([]byte(`{}`))
}

func (s *fakeService) refresh(w http.ResponseWriter, r *http.Request) {
	var req sessionapi.RefreshRequest
	_ = json.NewDecoder(r.Body).Decode(&req)
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[req.SessionID]
	if !ok || sess.refreshToken != req.RefreshToken {
		writeError(w, http.StatusUnauthorized, "invalid_refresh_token", "Refresh token revoked")
		return
	}
	s.renewals++
	access := fmt.Sprintf("%s-renewed-%d", req.SessionID, s.renewals)
	s.access[access] = req.SessionID
	_ = json.NewEncoder(w).Encode(sessionapi.RefreshResponse{
		AccessToken:          access,
		AccessTokenExpiresAt: time.Now().Add(time.Hour),
	})
}

func (s *fakeService) current(w http.ResponseWriter, r *http.Request) {
	sid, sess := s.bearer(r)
	if sess == nil {
		writeError(w, http.StatusUnauthorized, "unauthorized", "Token expired")
		return
	}
	_ = json.NewEncoder(w).Encode(sessionapi.CurrentSession{SessionID: sid, UserID: sess.userID, ExpiresAt: time.Now().Add(time.Hour)})
}

type tabFixture struct {
	store      *credentials.Store
	bus        *events.Bus
	controller *session.Controller

	mu     sync.Mutex
	states []session.Status
}

func newTab(t *testing.T, svc *fakeService, tab *storage.Tab, options ...session.Option) *tabFixture {
	t.Helper()
	f := &tabFixture{store: credentials.NewStore(tab), bus: events.NewBus()}
	doer := transport.New(svc.srv.URL)
	coordinator := refresh.NewCoordinator(f.store, f.bus, doer)
	dispatcher := dispatch.New(f.store, coordinator)
	options = append([]session.Option{session.WithRenewer(sessionapi.NewClient(doer))}, options...)
	f.controller = session.NewController(f.store, f.bus, tabsync.New(tab, f.bus), coordinator, dispatcher, options...)
	f.controller.Subscribe(func(s session.State) {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.states = append(f.states, s.Status)
	})
	t.Cleanup(f.controller.Unmount)
	return f
}

func (f *tabFixture) transitions() []session.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]session.Status(nil), f.states...)
}

func (f *tabFixture) status() session.Status {
	return f.controller.State().Status
}

func TestController_LoginLogoutLogin(t *testing.T) {
	ctx := context.Background()
	svc := newFakeService(t)
	f := newTab(t, svc, storage.NewMemoryOrigin().OpenTab())
	require.NoError(t, f.controller.Mount(ctx))

	require.NoError(t, f.controller.Login(ctx, "alice", password))
	require.Equal(t, "session-1", f.controller.State().SessionID)

	require.NoError(t, f.controller.Logout(ctx, false))
	require.Equal(t, session.InitialState(), f.controller.State())
	_, ok := f.store.Get()
	require.False(t, ok)

	require.NoError(t, f.controller.Login(ctx, "alice", password))
	state := f.controller.State()
	require.Equal(t, session.StatusAuthenticated, state.Status)
	require.Equal(t, "session-2", state.SessionID)
	require.Equal(t, "alice", state.UserID)
	r, ok := f.store.Get()
	require.True(t, ok)
	require.Equal(t, "session-2", r.SessionID)

	logouts, _ := svc.counts()
	require.Equal(t, 1, logouts)
	require.Equal(t, []session.Status{
		session.StatusAuthenticating, session.StatusAuthenticated,
		session.StatusDeauthenticating, session.StatusLoggedOut,
		session.StatusAuthenticating, session.StatusAuthenticated,
	}, f.transitions())
}

func TestController_LoginEmitsLoginEvent(t *testing.T) {
	ctx := context.Background()
	f := newTab(t, newFakeService(t), storage.NewMemoryOrigin().OpenTab())
	require.NoError(t, f.controller.Mount(ctx))

	var got []events.LoginPayload
	f.bus.On(events.Login, func(e events.Event) { got = append(got, e.Payload.(events.LoginPayload)) })
	require.NoError(t, f.controller.Login(ctx, "alice", password))
	require.Equal(t, []events.LoginPayload{{UserID: "alice", SessionID: "session-1"}}, got)
}

func TestController_RejectedLoginEndsLoggedOutWithMessage(t *testing.T) {
	ctx := context.Background()
	f := newTab(t, newFakeService(t), storage.NewMemoryOrigin().OpenTab())
	require.NoError(t, f.controller.Mount(ctx))

	err := f.controller.Login(ctx, "alice", "wrong")
	require.True(t, errors.Is(err, sessionerrors.ErrUnauthorized))
	require.Equal(t, session.State{Status: session.StatusLoggedOut, Error: "Invalid username or password"}, f.controller.State())
	_, ok := f.store.Get()
	require.False(t, ok)
}

func TestController_MountRestoresStoredSession(t *testing.T) {
	ctx := context.Background()
	svc := newFakeService(t)
	svc.seed("session-9", "bob", "access-9", "refresh-9")
	f := newTab(t, svc, storage.NewMemoryOrigin().OpenTab())
	require.NoError(t, f.store.Save(credentials.Record{
		AccessToken:      "access-9",
		RefreshToken:     "refresh-9",
		SessionID:        "session-9",
		UserID:           "bob",
		AccessExpiresAt:  time.Now().Add(time.Hour),
		RefreshExpiresAt: time.Now().Add(24 * time.Hour),
	}))

	require.NoError(t, f.controller.Mount(ctx))
	require.Equal(t, session.State{Status: session.StatusAuthenticated, UserID: "bob", SessionID: "session-9"}, f.controller.State())
}

func TestController_MountClearsRevokedSession(t *testing.T) {
	ctx := context.Background()
	svc := newFakeService(t)
	f := newTab(t, svc, storage.NewMemoryOrigin().OpenTab())
	require.NoError(t, f.store.Save(credentials.Record{
		AccessToken:      "access-revoked",
		RefreshToken:     "refresh-revoked",
		SessionID:        "session-gone",
		UserID:           "bob",
		AccessExpiresAt:  time.Now().Add(time.Hour),
		RefreshExpiresAt: time.Now().Add(24 * time.Hour),
	}))

	require.NoError(t, f.controller.Mount(ctx))
	require.Equal(t, session.StatusLoggedOut, f.status())
	_, ok := f.store.Get()
	require.False(t, ok)
}

func TestController_MountWithoutRecordStaysLoggedOut(t *testing.T) {
	f := newTab(t, newFakeService(t), storage.NewMemoryOrigin().OpenTab())
	require.NoError(t, f.controller.Mount(context.Background()))
	require.Equal(t, session.InitialState(), f.controller.State())
	require.Empty(t, f.transitions())
}

func TestController_SessionExpiredEvent(t *testing.T) {
	ctx := context.Background()
	f := newTab(t, newFakeService(t), storage.NewMemoryOrigin().OpenTab())
	require.NoError(t, f.controller.Mount(ctx))
	require.NoError(t, f.controller.Login(ctx, "alice", password))

	f.bus.Emit(events.SessionExpired, events.SessionExpiredPayload{Reason: "Refresh token expired"})
	require.Equal(t, session.State{Status: session.StatusExpired, Error: "Refresh token expired"}, f.controller.State())

	require.NoError(t, f.controller.Logout(ctx, false))
	require.Equal(t, session.StatusLoggedOut, f.status())
}

func TestController_RemoteLogoutLogsOutSiblingTab(t *testing.T) {
	ctx := context.Background()
	svc := newFakeService(t)
	origin := storage.NewMemoryOrigin()
	a := newTab(t, svc, origin.OpenTab())
	b := newTab(t, svc, origin.OpenTab())
	require.NoError(t, a.controller.Mount(ctx))
	require.NoError(t, b.controller.Mount(ctx))

	require.NoError(t, a.controller.Login(ctx, "alice", password))
	require.NoError(t, b.controller.Login(ctx, "alice", password))
	require.Eventually(t, func() bool { return a.status() == session.StatusAuthenticated }, time.Second, 10*time.Millisecond)

	require.NoError(t, a.controller.Logout(ctx, false))
	require.Eventually(t, func() bool { return b.status() == session.StatusLoggedOut }, 2*time.Second, 10*time.Millisecond)
	_, ok := b.store.Get()
	require.False(t, ok)
}

func TestController_AdoptsSessionFromAnotherProcess(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	svc := newFakeService(t)
	dir := t.TempDir()

	originA, storeA, err := filestore.Open(ctx, dir)
	require.NoError(t, err)
	defer storeA.Stop()
	originB, storeB, err := filestore.Open(ctx, dir)
	require.NoError(t, err)
	defer storeB.Stop()

	a := newTab(t, svc, originA.OpenTab())
	b := newTab(t, svc, originB.OpenTab())
	require.NoError(t, a.controller.Mount(ctx))
	require.NoError(t, b.controller.Mount(ctx))

	require.NoError(t, a.controller.Login(ctx, "alice", password))
	require.Eventually(t, func() bool { return b.status() == session.StatusAuthenticated }, 5*time.Second, 20*time.Millisecond)
	require.Equal(t, "session-1", b.controller.State().SessionID)
	require.Equal(t, "alice", b.controller.State().UserID)

	r, ok := b.store.Get()
	require.True(t, ok)
	require.Equal(t, "session-1", r.SessionID)
	require.NotEqual(t, "access-1", r.AccessToken)

	require.NoError(t, a.controller.Logout(ctx, false))
	require.Eventually(t, func() bool { return b.status() == session.StatusLoggedOut }, 5*time.Second, 20*time.Millisecond)
}

func TestController_LoginExternal(t *testing.T) {
	ctx := context.Background()
	ext := provider.NewStaticToken(provider.Identity{Subject: "ext-user"}, "ext-token")
	f := newTab(t, newFakeService(t), storage.NewMemoryOrigin().OpenTab(), session.WithProvider(ext))
	require.NoError(t, f.controller.Mount(ctx))

	require.NoError(t, f.controller.LoginExternal(ctx))
	require.Equal(t, session.State{Status: session.StatusAuthenticated, UserID: "ext-user", External: true}, f.controller.State())
	require.True(t, ext.Active())

	require.NoError(t, f.controller.Logout(ctx, false))
	require.False(t, ext.Active())
	require.Equal(t, session.StatusLoggedOut, f.status())
}

func TestController_LoginExternalWithoutProvider(t *testing.T) {
	f := newTab(t, newFakeService(t), storage.NewMemoryOrigin().OpenTab())
	require.NoError(t, f.controller.Mount(context.Background()))
	err := f.controller.LoginExternal(context.Background())
	require.True(t, errors.Is(err, sessionerrors.ErrUnsupported))
	require.Equal(t, session.InitialState(), f.controller.State())
}

func TestController_UnmountKeepsCredentials(t *testing.T) {
	ctx := context.Background()
	f := newTab(t, newFakeService(t), storage.NewMemoryOrigin().OpenTab())
	require.NoError(t, f.controller.Mount(ctx))
	require.NoError(t, f.controller.Login(ctx, "alice", password))

	f.controller.Unmount()
	f.bus.Emit(events.Unauthorized, events.UnauthorizedPayload{})
	require.Equal(t, session.StatusAuthenticated, f.status())
	_, ok := f.store.Get()
	require.True(t, ok)
}

func TestController_LogoutSucceedsWhenServiceCallFails(t *testing.T) {
	tests := []struct {
		name string
		fail func(svc *fakeService)
	}{
		{"service unreachable", func(svc *fakeService) { svc.srv.Close() }},
		{"session revoked on the service", func(svc *fakeService) {
			svc.mu.Lock()
			defer svc.mu.Unlock()
			svc.access = make(map[string]string)
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			svc := newFakeService(t)
			tab := storage.NewMemoryOrigin().OpenTab()
			f := newTab(t, svc, tab)
			require.NoError(t, f.controller.Mount(ctx))
			require.NoError(t, f.controller.Login(ctx, "alice", password))

			var logouts []events.LogoutPayload
			f.bus.On(events.Logout, func(e events.Event) { logouts = append(logouts, e.Payload.(events.LogoutPayload)) })
			tt.fail(svc)

			require.NoError(t, f.controller.Logout(ctx, false))
			require.Equal(t, session.StatusLoggedOut, f.status())
			require.Equal(t, []events.LogoutPayload{{}}, logouts)

			_, ok := f.store.Get()
			require.False(t, ok)
			for _, slot := range []struct {
				ns  storage.Namespace
				key string
			}{
				{storage.Session, credentials.AccessTokenKey},
				{storage.Session, credentials.SessionIDKey},
				{storage.Local, credentials.RefreshTokenKey},
				{storage.Local, credentials.RefreshExpiresAtKey},
			} {
				_, present, err := tab.Get(slot.ns, f.store.Key(slot.key))
				require.NoError(t, err)
				require.False(t, present, slot.key)
			}
			logoutCalls, _ := svc.counts()
			require.Zero(t, logoutCalls)
		})
	}
}

func TestController_SubscribersNotifiedInOrder(t *testing.T) {
	ctx := context.Background()
	f := newTab(t, newFakeService(t), storage.NewMemoryOrigin().OpenTab())
	require.NoError(t, f.controller.Mount(ctx))

	var order []string
	for _, name := range []string{"first", "second", "third", "fourth"} {
		unsubscribe := f.controller.Subscribe(func(s session.State) {
			if s.Status == session.StatusAuthenticated {
				order = append(order, name)
			}
		})
		if name == "second" {
			unsubscribe()
		}
	}

	require.NoError(t, f.controller.Login(ctx, "alice", password))
	require.Equal(t, []string{"first", "third", "fourth"}, order)
}
