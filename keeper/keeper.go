// Package keeper assembles the session components for one tab from configuration.
package keeper

import (
	"context"
	"fmt"
	"net/http"

	"github.com/jrsteele09/go-session-keeper/credentials"
	"github.com/jrsteele09/go-session-keeper/dispatch"
	"github.com/jrsteele09/go-session-keeper/events"
	"github.com/jrsteele09/go-session-keeper/internal/config"
	"github.com/jrsteele09/go-session-keeper/observe"
	"github.com/jrsteele09/go-session-keeper/provider"
	"github.com/jrsteele09/go-session-keeper/refresh"
	"github.com/jrsteele09/go-session-keeper/session"
	"github.com/jrsteele09/go-session-keeper/sessionapi"
	"github.com/jrsteele09/go-session-keeper/storage"
	"github.com/jrsteele09/go-session-keeper/storage/filestore"
	"github.com/jrsteele09/go-session-keeper/tabsync"
	"github.com/jrsteele09/go-session-keeper/transport"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Keeper is one tab: its view of the shared storage and the session machinery on top.
type Keeper struct {
	config config.Config
	logger zerolog.Logger

	origin *storage.Origin
	files  *filestore.Store
	tab    *storage.Tab

	store       *credentials.Store
	bus         *events.Bus
	coordinator *refresh.Coordinator
	dispatcher  *dispatch.Dispatcher
	controller  *session.Controller
	metrics     *observe.Metrics
	stopMetrics []func()
}

type options struct {
	origin          *storage.Origin
	provider        provider.Handle
	providerOptions []provider.OIDCOption
	httpClient      *http.Client
	registerer      prometheus.Registerer
	logger          zerolog.Logger
}

// Option configures New.
type Option func(*options)

// WithOrigin attaches the tab to an existing origin instead of the storage directory.
// Tabs of one origin in the same process see each other's changes.
func WithOrigin(origin *storage.Origin) Option {
	return func(o *options) {
		o.origin = origin
	}
}

// WithProvider sets the external identity provider. Without it one is discovered from
// the configured issuer, if any.
func WithProvider(p provider.Handle) Option {
	return func(o *options) {
		o.provider = p
	}
}

// WithProviderOptions configures the provider discovered from the configured issuer.
func WithProviderOptions(opts ...provider.OIDCOption) Option {
	return func(o *options) {
		o.providerOptions = append(o.providerOptions, opts...)
	}
}

// WithHTTPClient sets the client used to reach the session service.
func WithHTTPClient(c *http.Client) Option {
	return func(o *options) {
		o.httpClient = c
	}
}

// WithRegisterer registers the lifecycle metrics.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(o *options) {
		o.registerer = reg
	}
}

// WithLogger sets the logger handed to every component.
func WithLogger(logger zerolog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// New opens a tab, wires the components and mounts the controller, which restores a
// stored session if there is one.
func New(ctx context.Context, cfg config.Config, opts ...Option) (*Keeper, error) {
	o := options{logger: log.Logger}
	for _, opt := range opts {
		opt(&o)
	}

	k := &Keeper{config: cfg, logger: o.logger, origin: o.origin}
	if k.origin == nil {
		origin, files, err := filestore.Open(ctx, cfg.GetStorageDir())
		if err != nil {
			return nil, fmt.Errorf("[keeper New] open storage: %w", err)
		}
		k.origin, k.files = origin, files
	}
	k.tab = k.origin.OpenTab()

	prefix := cfg.GetKeyPrefix()
	k.store = credentials.NewStore(k.tab, credentials.WithKeyPrefix(prefix), credentials.WithLogger(o.logger))
	k.bus = events.NewBus(events.WithLogger(o.logger))
	synchronizer := tabsync.New(k.tab, k.bus, tabsync.WithKeyPrefix(prefix), tabsync.WithLogger(o.logger))

	transportOptions := []transport.Option{
		transport.WithTimeout(cfg.GetRequestTimeout()),
		transport.WithUserAgent(cfg.GetAppName()),
		transport.WithLogger(o.logger),
	}
	if o.httpClient != nil {
		transportOptions = append(transportOptions, transport.WithHTTPClient(o.httpClient))
	}
	doer := transport.New(cfg.GetBaseURL(), transportOptions...)

	k.coordinator = refresh.NewCoordinator(k.store, k.bus, doer,
		refresh.WithExpiryBuffer(cfg.GetAccessExpiryBuffer()),
		refresh.WithLogger(o.logger))

	p := o.provider
	if p == nil && cfg.GetProviderIssuer() != "" {
		oidc, err := provider.NewOIDC(ctx, cfg, append([]provider.OIDCOption{provider.WithLogger(o.logger)}, o.providerOptions...)...)
		if err != nil {
			k.closeStorage()
			return nil, fmt.Errorf("[keeper New] %w", err)
		}
		p = oidc
	}

	k.dispatcher = dispatch.New(k.store, k.coordinator,
		dispatch.WithExternalProvider(p, doer, k.bus),
		dispatch.WithLogger(o.logger))

	controllerOptions := []session.Option{
		session.WithRenewer(sessionapi.NewClient(doer)),
		session.WithLogger(o.logger),
	}
	if p != nil {
		controllerOptions = append(controllerOptions, session.WithProvider(p))
	}
	k.controller = session.NewController(k.store, k.bus, synchronizer, k.coordinator, k.dispatcher, controllerOptions...)

	k.metrics = observe.New()
	if o.registerer != nil {
		if err := k.metrics.Register(o.registerer); err != nil {
			k.closeStorage()
			return nil, fmt.Errorf("[keeper New] %w", err)
		}
	}
	k.stopMetrics = append(k.stopMetrics, k.metrics.Observe(k.bus), k.metrics.Track(k.controller))

	if err := k.controller.Mount(ctx); err != nil {
		k.Close()
		return nil, fmt.Errorf("[keeper New] %w", err)
	}
	return k, nil
}

// Login signs in against the session service.
func (k *Keeper) Login(ctx context.Context, username, password string) error {
	return k.controller.Login(ctx, username, password)
}

// LoginExternal signs in through the external identity provider.
func (k *Keeper) LoginExternal(ctx context.Context) error {
	return k.controller.LoginExternal(ctx)
}

// Logout ends the session here and in every other tab.
func (k *Keeper) Logout(ctx context.Context, allDevices bool) error {
	return k.controller.Logout(ctx, allDevices)
}

// Call sends an authenticated request, trying each configured fallback prefix in
// front of path when the route is unavailable.
func (k *Keeper) Call(ctx context.Context, method, path string, body any) (*transport.Response, error) {
	return k.CallWith(ctx, method, path, body, dispatch.Options{FallbackPaths: k.FallbackPaths(path)})
}

// CallWith sends an authenticated request with explicit dispatch options.
func (k *Keeper) CallWith(ctx context.Context, method, path string, body any, opts dispatch.Options) (*transport.Response, error) {
	return k.dispatcher.Call(ctx, path, method, body, opts)
}

// FallbackPaths returns path under each configured fallback prefix.
func (k *Keeper) FallbackPaths(path string) []string {
	prefixes := k.config.GetFallbackPaths()
	paths := make([]string, 0, len(prefixes))
	for _, prefix := range prefixes {
		paths = append(paths, prefix+path)
	}
	return paths
}

// State returns the session state.
func (k *Keeper) State() session.State {
	return k.controller.State()
}

// Subscribe calls fn after every state change.
func (k *Keeper) Subscribe(fn func(session.State)) (unsubscribe func()) {
	return k.controller.Subscribe(fn)
}

// Events exposes the lifecycle event bus.
func (k *Keeper) Events() *events.Bus {
	return k.bus
}

// Snapshot returns a redacted view of the stored credentials.
func (k *Keeper) Snapshot() credentials.Snapshot {
	return k.store.Snapshot()
}

// ExpiringSoon reports whether the access token ends within the configured warning
// margin.
func (k *Keeper) ExpiringSoon() bool {
	return k.store.IsAccessExpired(k.config.GetWarnExpiryBuffer())
}

// Close unmounts the controller and closes the tab. Stored credentials stay, so the
// next tab restores the session.
func (k *Keeper) Close() error {
	for _, stop := range k.stopMetrics {
		stop()
	}
	k.stopMetrics = nil
	k.controller.Unmount()
	return k.closeStorage()
}

func (k *Keeper) closeStorage() error {
	err := k.tab.Close()
	if k.files != nil {
		k.files.Stop()
	}
	return err
}
