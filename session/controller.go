package session

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/jrsteele09/go-session-keeper/credentials"
	"github.com/jrsteele09/go-session-keeper/dispatch"
	"github.com/jrsteele09/go-session-keeper/events"
	"github.com/jrsteele09/go-session-keeper/internal/errors"
	"github.com/jrsteele09/go-session-keeper/provider"
	"github.com/jrsteele09/go-session-keeper/refresh"
	"github.com/jrsteele09/go-session-keeper/sessionapi"
	"github.com/jrsteele09/go-session-keeper/tabsync"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Controller drives the session lifecycle of one tab.
type Controller struct {
	store       *credentials.Store
	bus         *events.Bus
	sync        *tabsync.Synchronizer
	coordinator *refresh.Coordinator
	dispatcher  *dispatch.Dispatcher
	provider    provider.Handle
	renewer     refresh.Renewer
	logger      zerolog.Logger

	mu          sync.Mutex
	state       State
	subscribers []subscriber
	nextSubID   uint64

	mounted  bool
	lifetime context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

// Option configures a Controller.
type Option func(*Controller)

// WithProvider enables LoginExternal.
func WithProvider(p provider.Handle) Option {
	return func(c *Controller) {
		c.provider = p
	}
}

// WithRenewer lets a tab without its own record adopt a session another process
// started, using the shared refresh token.
func WithRenewer(r refresh.Renewer) Option {
	return func(c *Controller) {
		c.renewer = r
	}
}

// WithLogger sets the logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(c *Controller) {
		c.logger = logger
	}
}

// NewController wires a controller over the given components. Call Mount before use.
func NewController(store *credentials.Store, bus *events.Bus, synchronizer *tabsync.Synchronizer,
	coordinator *refresh.Coordinator, dispatcher *dispatch.Dispatcher, options ...Option) *Controller {
	c := &Controller{
		store:       store,
		bus:         bus,
		sync:        synchronizer,
		coordinator: coordinator,
		dispatcher:  dispatcher,
		logger:      log.Logger,
		state:       InitialState(),
	}
	for _, opt := range options {
		opt(c)
	}
	return c
}

// Mount subscribes to lifecycle events, starts cross-tab synchronization and silently
// restores a stored session. Calling it twice has no effect.
func (c *Controller) Mount(ctx context.Context) error {
	c.mu.Lock()
	if c.mounted {
		c.mu.Unlock()
		return nil
	}
	c.mounted = true
	c.lifetime, c.cancel = context.WithCancel(context.WithoutCancel(ctx))
	c.mu.Unlock()

	c.bus.On(events.Login, c.onLogin)
	c.bus.On(events.Logout, c.onLogout)
	c.bus.On(events.SessionExpired, c.onSessionExpired)
	c.bus.On(events.Unauthorized, c.onUnauthorized)

	if err := c.sync.Init(); err != nil {
		return fmt.Errorf("[Controller Mount] %w", err)
	}
	if err := c.Restore(ctx); err != nil {
		c.logger.Info().Err(err).Msg("Stored session could not be restored")
	}
	return nil
}

// Unmount drops every bus subscription, stops synchronization and waits for
// background restorations to finish. Credentials are kept.
func (c *Controller) Unmount() {
	c.mu.Lock()
	if !c.mounted {
		c.mu.Unlock()
		return
	}
	c.mounted = false
	c.cancel()
	c.mu.Unlock()

	c.bus.Clear()
	c.sync.Stop()
	c.wg.Wait()
}

// State returns the current state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Subscribe calls fn after every state change, in subscription order. The returned
// function unsubscribes.
func (c *Controller) Subscribe(fn func(State)) (unsubscribe func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextSubID++
	id := c.nextSubID
	c.subscribers = append(c.subscribers, subscriber{id: id, fn: fn})
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		for i, sub := range c.subscribers {
			if sub.id == id {
				c.subscribers = append(c.subscribers[:i:i], c.subscribers[i+1:]...)
				return
			}
		}
	}
}

type subscriber struct {
	id uint64
	fn func(State)
}

// Login signs in against the session service.
func (c *Controller) Login(ctx context.Context, username, password string) error {
	if next := c.apply(Action{Type: ActionLoginStart}); next.Status != StatusAuthenticating {
		return fmt.Errorf("[Controller Login] %w: session is %s", errors.ErrValidation, next.Status)
	}

	r, err := c.login(ctx, username, password)
	if err != nil {
		c.apply(Action{Type: ActionLoginFailure, Error: errors.MessageOf(err)})
		return fmt.Errorf("[Controller Login] %w", err)
	}

	c.apply(Action{Type: ActionLoginSuccess, UserID: r.UserID, SessionID: r.SessionID})
	c.logger.Info().Str("user", r.UserID).Msg("Logged in")
	p := events.LoginPayload{UserID: r.UserID, SessionID: r.SessionID}
	c.bus.Emit(events.Login, p)
	if err := c.sync.BroadcastLogin(p); err != nil {
		c.logger.Warn().Err(err).Msg("Failed to broadcast login")
	}
	return nil
}

func (c *Controller) login(ctx context.Context, username, password string) (credentials.Record, error) {
	resp, err := c.coordinator.Do(ctx, refresh.Call{
		Request:      sessionapi.NewLoginRequest(username, password),
		AuthEndpoint: true,
	})
	if err != nil {
		return credentials.Record{}, err
	}
	r, err := sessionapi.DecodeLogin(resp)
	if err != nil {
		return credentials.Record{}, err
	}
	if err := c.store.Save(r); err != nil {
		return credentials.Record{}, err
	}
	return r, nil
}

// LoginExternal signs in through the external identity provider.
func (c *Controller) LoginExternal(ctx context.Context) error {
	if c.provider == nil {
		return fmt.Errorf("[Controller LoginExternal] no identity provider configured: %w", errors.ErrUnsupported)
	}
	if next := c.apply(Action{Type: ActionLoginStart}); next.Status != StatusAuthenticating {
		return fmt.Errorf("[Controller LoginExternal] %w: session is %s", errors.ErrValidation, next.Status)
	}

	id, err := c.provider.Login(ctx)
	if err != nil {
		c.apply(Action{Type: ActionLoginFailure, Error: errors.MessageOf(err)})
		return fmt.Errorf("[Controller LoginExternal] %w", err)
	}

	c.apply(Action{Type: ActionLoginSuccess, UserID: id.Subject, External: true})
	c.logger.Info().Str("user", id.Subject).Msg("Logged in with identity provider")
	c.bus.Emit(events.Login, events.LoginPayload{UserID: id.Subject})
	return nil
}

// Logout ends the session. The server call is best effort; local credentials are
// always cleared.
func (c *Controller) Logout(ctx context.Context, allDevices bool) error {
	c.apply(Action{Type: ActionLogoutStart})

	if r, ok := c.store.Get(); ok {
		_, err := c.coordinator.Do(ctx, refresh.Call{
			Request:      sessionapi.NewLogoutRequest(r.SessionID, allDevices),
			Authenticate: true,
			AuthEndpoint: true,
		})
		if err != nil {
			c.logger.Warn().Err(err).Msg("Server logout failed, clearing local session anyway")
		}
	}
	if c.provider != nil && c.provider.Active() {
		if err := c.provider.Logout(ctx); err != nil {
			c.logger.Warn().Err(err).Msg("Identity provider logout failed")
		}
	}
	c.store.Clear()

	c.apply(Action{Type: ActionLogoutDone})
	c.logger.Info().Bool("all_devices", allDevices).Msg("Logged out")
	p := events.LogoutPayload{AllDevices: allDevices}
	c.bus.Emit(events.Logout, p)
	if err := c.sync.BroadcastLogout(p); err != nil {
		c.logger.Warn().Err(err).Msg("Failed to broadcast logout")
	}
	return nil
}

// Restore verifies a stored session with the service. Without a stored record it does
// nothing; a record the service no longer accepts is cleared.
func (c *Controller) Restore(ctx context.Context) error {
	r, ok := c.store.Get()
	if !ok {
		return nil
	}
	if c.store.IsRefreshExpired() {
		c.store.Clear()
		c.apply(Action{Type: ActionLogoutDone})
		return fmt.Errorf("[Controller Restore] %w", errors.ErrRefreshTokenExpired)
	}

	resp, err := c.dispatcher.Call(ctx, sessionapi.CurrentPath, http.MethodGet, nil, dispatch.Options{})
	var current sessionapi.CurrentSession
	if err == nil {
		current, err = sessionapi.DecodeCurrent(resp)
	}
	if err != nil {
		c.store.Clear()
		c.apply(Action{Type: ActionLogoutDone})
		return fmt.Errorf("[Controller Restore] %w", err)
	}

	userID := current.UserID
	if userID == "" {
		userID = r.UserID
	}
	c.apply(Action{Type: ActionRestored, UserID: userID, SessionID: r.SessionID})
	c.logger.Debug().Str("user", userID).Msg("Session restored")
	return nil
}

// adopt takes over a session started by another process, which announced its ids.
func (c *Controller) adopt(ctx context.Context, p events.LoginPayload) error {
	shared, ok := c.store.SharedRefresh()
	if !ok {
		return nil
	}
	rr, err := c.renewer.Refresh(ctx, p.SessionID, shared.RefreshToken)
	if err != nil {
		return fmt.Errorf("[Controller adopt] %w", err)
	}
	r := credentials.Record{
		AccessToken:      rr.AccessToken,
		RefreshToken:     shared.RefreshToken,
		SessionID:        p.SessionID,
		UserID:           p.UserID,
		AccessExpiresAt:  rr.AccessTokenExpiresAt,
		RefreshExpiresAt: shared.RefreshExpiresAt,
	}
	if rr.RefreshToken != "" {
		r.RefreshToken = rr.RefreshToken
		r.RefreshExpiresAt = rr.RefreshTokenExpiresAt
	}
	if r.UserID == "" {
		if r.UserID, err = sessionapi.SubjectOf(r.AccessToken); err != nil {
			return fmt.Errorf("[Controller adopt] %w", err)
		}
	}
	if err := c.store.Save(r); err != nil {
		return fmt.Errorf("[Controller adopt] %w", err)
	}
	c.apply(Action{Type: ActionRestored, UserID: r.UserID, SessionID: r.SessionID})
	c.logger.Info().Str("user", r.UserID).Msg("Adopted session from another process")
	return nil
}

func (c *Controller) onLogin(e events.Event) {
	p, ok := e.Payload.(events.LoginPayload)
	if !ok || !p.Remote {
		return
	}
	c.mu.Lock()
	if !c.mounted || c.state.Status == StatusAuthenticated || c.state.Status == StatusAuthenticating {
		c.mu.Unlock()
		return
	}
	ctx := c.lifetime
	c.wg.Add(1)
	c.mu.Unlock()

	go func() {
		defer c.wg.Done()
		var err error
		if _, ok := c.store.Get(); ok {
			err = c.Restore(ctx)
		} else if p.SessionID != "" && c.renewer != nil {
			err = c.adopt(ctx, p)
		}
		if err != nil {
			c.logger.Info().Err(err).Msg("Could not follow login from another tab")
		}
	}()
}

func (c *Controller) onLogout(e events.Event) {
	p, ok := e.Payload.(events.LogoutPayload)
	if !ok || !p.Remote {
		return
	}
	c.store.Clear()
	c.apply(Action{Type: ActionLogoutDone})
	c.logger.Info().Bool("all_devices", p.AllDevices).Msg("Logged out by another tab")
}

func (c *Controller) onSessionExpired(e events.Event) {
	p, _ := e.Payload.(events.SessionExpiredPayload)
	c.apply(Action{Type: ActionSessionExpired, Error: p.Reason})
}

func (c *Controller) onUnauthorized(events.Event) {
	c.apply(Action{Type: ActionUnauthorized})
}

// apply runs the reducer and notifies subscribers of a change.
func (c *Controller) apply(a Action) State {
	c.mu.Lock()
	prev := c.state
	next := Reduce(prev, a)
	c.state = next
	subs := c.subscribers
	c.mu.Unlock()

	if next != prev {
		c.logger.Debug().Str("action", string(a.Type)).Str("from", string(prev.Status)).
			Str("to", string(next.Status)).Msg("Session state changed")
		for _, sub := range subs {
			sub.fn(next)
		}
	}
	return next
}
