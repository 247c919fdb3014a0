// Package dispatch routes outbound calls through whichever credential source is active
// and retries alternate paths when a route is unavailable.
package dispatch

import (
	"context"
	"net/http"

	"github.com/jrsteele09/go-session-keeper/credentials"
	"github.com/jrsteele09/go-session-keeper/events"
	"github.com/jrsteele09/go-session-keeper/internal/errors"
	"github.com/jrsteele09/go-session-keeper/provider"
	"github.com/jrsteele09/go-session-keeper/refresh"
	"github.com/jrsteele09/go-session-keeper/transport"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// CredentialSource attaches credentials to a request and sends it. It is either a
// LocalSource or an ExternalSource.
type CredentialSource interface {
	Name() string
	send(ctx context.Context, req transport.Request) (*transport.Response, error)
}

// LocalSource uses the first-party credential store, renewing through the coordinator.
type LocalSource struct {
	coordinator *refresh.Coordinator
}

func (LocalSource) Name() string { return "local" }

func (s LocalSource) send(ctx context.Context, req transport.Request) (*transport.Response, error) {
	return s.coordinator.Do(ctx, refresh.Call{Request: req, Authenticate: true})
}

// ExternalSource uses the identity provider's token. Its renewal is the provider's own
// business: when the provider can no longer produce a token, or a resource rejects it,
// the source raises unauthorized so the user signs in again. First-party credentials
// are left alone.
type ExternalSource struct {
	provider provider.Handle
	doer     transport.Doer
	bus      *events.Bus
	logger   zerolog.Logger
}

func (ExternalSource) Name() string { return "external" }

func (s ExternalSource) send(ctx context.Context, req transport.Request) (*transport.Response, error) {
	token, err := s.provider.Token(ctx)
	if err != nil {
		s.logger.Warn().Err(err).Msg("Identity provider session ended")
		if lerr := s.provider.Logout(context.WithoutCancel(ctx)); lerr != nil {
			s.logger.Warn().Err(lerr).Msg("Identity provider logout failed")
		}
		s.bus.Emit(events.Unauthorized, events.UnauthorizedPayload{})
		return nil, err
	}
	req.Token = token
	resp, err := s.doer.Do(ctx, req)
	switch errors.StatusOf(err) {
	case http.StatusUnauthorized:
		s.bus.Emit(events.Unauthorized, events.UnauthorizedPayload{})
	case http.StatusForbidden:
		s.bus.Emit(events.Forbidden, events.ForbiddenPayload{Message: errors.MessageOf(err)})
	}
	return resp, err
}

// Options tune one call.
type Options struct {
	// PreferExternalProvider uses an active external session even when first-party
	// credentials also exist.
	PreferExternalProvider bool
	// FallbackPaths are tried in order when the primary path is unavailable.
	FallbackPaths []string
}

// Dispatcher is the single entry point for authenticated resource calls.
type Dispatcher struct {
	store    *credentials.Store
	local    LocalSource
	external *ExternalSource
	logger   zerolog.Logger
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithExternalProvider enables the external credential source.
func WithExternalProvider(p provider.Handle, doer transport.Doer, bus *events.Bus) Option {
	return func(d *Dispatcher) {
		if p != nil {
			d.external = &ExternalSource{provider: p, doer: doer, bus: bus}
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(d *Dispatcher) {
		d.logger = logger
	}
}

// New creates a dispatcher over the first-party credentials.
func New(store *credentials.Store, coordinator *refresh.Coordinator, options ...Option) *Dispatcher {
	d := &Dispatcher{
		store:  store,
		local:  LocalSource{coordinator: coordinator},
		logger: log.Logger,
	}
	for _, opt := range options {
		opt(d)
	}
	if d.external != nil {
		d.external.logger = d.logger
	}
	return d
}

// Source picks the credential source for one call.
func (d *Dispatcher) Source(opts Options) CredentialSource {
	if d.external == nil || !d.external.provider.Active() {
		return d.local
	}
	if opts.PreferExternalProvider {
		return *d.external
	}
	if _, ok := d.store.Get(); ok {
		return d.local
	}
	return *d.external
}

// Call sends one request, trying opts.FallbackPaths in order while the failure is a
// routing or transport failure. It returns the first success or the last error.
func (d *Dispatcher) Call(ctx context.Context, path, method string, body any, opts Options) (*transport.Response, error) {
	source := d.Source(opts)
	paths := append([]string{path}, opts.FallbackPaths...)

	var lastErr error
	for i, p := range paths {
		resp, err := source.send(ctx, transport.Request{Method: method, Path: p, Body: body})
		if err == nil {
			if i > 0 {
				d.logger.Info().Str("path", path).Str("fallback", p).Msg("Served by fallback path")
			}
			return resp, nil
		}
		lastErr = err
		if !Retryable(err) || ctx.Err() != nil {
			return nil, err
		}
		d.logger.Debug().Err(err).Str("path", p).Str("source", source.Name()).Msg("Path unavailable")
	}
	d.logger.Warn().Err(lastErr).Str("path", path).Int("candidates", len(paths)).Msg("No path available")
	return nil, lastErr
}

// Retryable reports whether err says the route itself is unavailable, so another path
// may succeed. A session that ended while renewing is never retried, even when the
// renewal failed on transport.
func Retryable(err error) bool {
	if errors.Is(err, errors.ErrSessionExpired) || errors.Is(err, errors.ErrRefreshTokenExpired) ||
		errors.Is(err, errors.ErrNoCredentials) {
		return false
	}
	return errors.Is(err, errors.ErrTransport) || errors.Is(err, errors.ErrRouteNotFound)
}
