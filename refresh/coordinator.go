// Package refresh attaches first-party access tokens to outbound calls and renews them,
// at most once at a time, when they expire or the service rejects them.
package refresh

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/jrsteele09/go-session-keeper/credentials"
	"github.com/jrsteele09/go-session-keeper/events"
	"github.com/jrsteele09/go-session-keeper/internal/errors"
	"github.com/jrsteele09/go-session-keeper/sessionapi"
	"github.com/jrsteele09/go-session-keeper/transport"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"
)

const (
	ReasonNoRefreshToken      = "No refresh token"
	ReasonRefreshTokenExpired = "Refresh token expired"
	ReasonPersistFailed       = "Failed to persist refreshed credentials"

	renewKey = "renew"
)

// Renewer exchanges a refresh token for a new access token.
type Renewer interface {
	Refresh(ctx context.Context, sessionID, refreshToken string) (sessionapi.RefreshResponse, error)
}

// Call is one request sent through the coordinator.
type Call struct {
	Request transport.Request
	// Authenticate attaches the stored access token.
	Authenticate bool
	// AuthEndpoint marks login, logout and refresh calls: a 401 on those ends the
	// session instead of starting a renewal.
	AuthEndpoint bool
}

// Coordinator serializes token renewal for one credential store.
type Coordinator struct {
	store   *credentials.Store
	bus     *events.Bus
	doer    transport.Doer
	renewer Renewer
	buffer  time.Duration
	logger  zerolog.Logger

	group singleflight.Group

	mu            sync.Mutex
	terminal      bool
	terminalToken string
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithExpiryBuffer sets how close to expiry a token is renewed before sending.
func WithExpiryBuffer(buffer time.Duration) Option {
	return func(c *Coordinator) {
		c.buffer = buffer
	}
}

// WithRenewer replaces the session service renewal call.
func WithRenewer(r Renewer) Option {
	return func(c *Coordinator) {
		c.renewer = r
	}
}

// WithLogger sets the logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(c *Coordinator) {
		c.logger = logger
	}
}

// NewCoordinator creates a coordinator sending through doer. Renewal goes to the
// session service's refresh endpoint through the same doer unless WithRenewer is set.
func NewCoordinator(store *credentials.Store, bus *events.Bus, doer transport.Doer, options ...Option) *Coordinator {
	c := &Coordinator{
		store:  store,
		bus:    bus,
		doer:   doer,
		buffer: credentials.DefaultExpiryBuffer,
		logger: log.Logger,
	}
	for _, opt := range options {
		opt(c)
	}
	if c.renewer == nil {
		c.renewer = sessionapi.NewClient(doer)
	}
	return c
}

// Do sends call, renewing the access token first if it is about to expire and once more
// if the service rejects it.
func (c *Coordinator) Do(ctx context.Context, call Call) (*transport.Response, error) {
	token := ""
	if call.Authenticate {
		var err error
		if token, err = c.tokenForCall(ctx, !call.AuthEndpoint); err != nil {
			return nil, err
		}
	}

	resp, err := c.send(ctx, call.Request, token)
	if err == nil {
		return resp, nil
	}

	switch errors.StatusOf(err) {
	case http.StatusUnauthorized:
		if call.AuthEndpoint {
			c.logger.Warn().Str("path", call.Request.Path).Msg("Authentication rejected, clearing credentials")
			c.store.Clear()
			c.bus.Emit(events.Unauthorized, events.UnauthorizedPayload{})
			return nil, err
		}
		if !call.Authenticate {
			return nil, err
		}
		fresh, rerr := c.Refresh(ctx, token)
		if rerr != nil {
			return nil, rerr
		}
		resp, err = c.send(ctx, call.Request, fresh)
		if err == nil {
			return resp, nil
		}
		if errors.StatusOf(err) == http.StatusForbidden {
			c.emitForbidden(err)
		}
		return nil, err
	case http.StatusForbidden:
		c.emitForbidden(err)
	}
	return nil, err
}

// Refresh returns an access token newer than staleToken, renewing it if no other
// caller already has. Concurrent callers share one renewal and its outcome.
func (c *Coordinator) Refresh(ctx context.Context, staleToken string) (string, error) {
	if token, ok := c.superseded(staleToken); ok {
		return token, nil
	}
	if err := c.alreadyExpired(staleToken); err != nil {
		return "", err
	}

	// The renewal outlives any single caller, and queued callers wait for its outcome
	// even when their own context ends. The transport timeout bounds the wait.
	renewCtx := context.WithoutCancel(ctx)
	res := <-c.group.DoChan(renewKey, func() (any, error) {
		return c.renew(renewCtx, staleToken)
	})
	if res.Err != nil {
		return "", res.Err
	}
	return res.Val.(string), nil
}

func (c *Coordinator) tokenForCall(ctx context.Context, proactive bool) (string, error) {
	r, ok := c.store.Get()
	if !ok {
		return "", nil
	}
	if proactive && c.store.IsAccessExpired(c.buffer) {
		c.logger.Debug().Str("session", shortID(r.SessionID)).Msg("Access token near expiry, renewing before send")
		return c.Refresh(ctx, r.AccessToken)
	}
	return r.AccessToken, nil
}

func (c *Coordinator) send(ctx context.Context, req transport.Request, token string) (*transport.Response, error) {
	req.Token = token
	return c.doer.Do(ctx, req)
}

func (c *Coordinator) superseded(staleToken string) (string, bool) {
	if staleToken == "" {
		return "", false
	}
	r, ok := c.store.Get()
	if !ok || r.AccessToken == staleToken || c.store.IsAccessExpired(0) {
		return "", false
	}
	return r.AccessToken, true
}

// alreadyExpired fails late callers still holding the token whose renewal already
// failed, without clearing or announcing the expiry a second time.
func (c *Coordinator) alreadyExpired(staleToken string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.terminal && c.terminalToken == staleToken {
		if _, ok := c.store.Get(); !ok {
			return fmt.Errorf("[Coordinator Refresh] %w", errors.ErrSessionExpired)
		}
	}
	return nil
}

func (c *Coordinator) renew(ctx context.Context, staleToken string) (string, error) {
	// A caller may start a new flight just after the previous one settled.
	if token, ok := c.superseded(staleToken); ok {
		return token, nil
	}
	if err := c.alreadyExpired(staleToken); err != nil {
		return "", err
	}

	r, ok := c.store.Get()
	if !ok {
		return "", c.expire(staleToken, ReasonNoRefreshToken, errors.ErrNoCredentials)
	}
	if c.store.IsRefreshExpired() {
		return "", c.expire(staleToken, ReasonRefreshTokenExpired, errors.ErrRefreshTokenExpired)
	}

	rr, err := c.renewer.Refresh(ctx, r.SessionID, r.RefreshToken)
	if err != nil {
		c.logger.Warn().Err(err).Str("session", shortID(r.SessionID)).Msg("Token renewal failed")
		return "", c.expire(staleToken, errors.MessageOf(err), err)
	}

	next := r
	next.AccessToken = rr.AccessToken
	next.AccessExpiresAt = rr.AccessTokenExpiresAt
	if rr.RefreshToken != "" {
		next.RefreshToken = rr.RefreshToken
	}
	if !rr.RefreshTokenExpiresAt.IsZero() {
		next.RefreshExpiresAt = rr.RefreshTokenExpiresAt
	}
	if err := c.store.Save(next); err != nil {
		return "", c.expire(staleToken, ReasonPersistFailed, err)
	}

	c.mu.Lock()
	c.terminal = false
	c.terminalToken = ""
	c.mu.Unlock()

	c.logger.Info().
		Str("session", shortID(next.SessionID)).
		Time("expires_at", next.AccessExpiresAt).
		Bool("rotated", rr.RefreshToken != "").
		Msg("Access token renewed")
	c.bus.Emit(events.TokenRefreshed, events.TokenRefreshedPayload{ExpiresAt: next.AccessExpiresAt})
	return next.AccessToken, nil
}

func (c *Coordinator) expire(staleToken, reason string, cause error) error {
	c.store.Clear()

	c.mu.Lock()
	c.terminal = true
	c.terminalToken = staleToken
	c.mu.Unlock()

	c.logger.Info().Str("reason", reason).Msg("Session expired")
	c.bus.Emit(events.SessionExpired, events.SessionExpiredPayload{Reason: reason})
	return fmt.Errorf("[Coordinator Refresh] %s: %w: %w", reason, errors.ErrSessionExpired, cause)
}

func (c *Coordinator) emitForbidden(err error) {
	c.bus.Emit(events.Forbidden, events.ForbiddenPayload{Message: errors.MessageOf(err)})
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
