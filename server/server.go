// Package server is a first-party session service for development and tests: password
// login, rotating refresh tokens bound to a session, session revocation, and a few
// bearer-protected resource routes.
package server

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/jrsteele09/go-session-keeper/internal/config"
	"github.com/jrsteele09/go-session-keeper/server/loginsession"
	"github.com/jrsteele09/go-session-keeper/token/jwt"
	"github.com/jrsteele09/go-session-keeper/token/keys"
	"github.com/jrsteele09/go-session-keeper/token/refresh"
	refreshrepofake "github.com/jrsteele09/go-session-keeper/token/refresh/repofake"
	"github.com/jrsteele09/go-session-keeper/users"
	fakeuserrepo "github.com/jrsteele09/go-session-keeper/users/repofake"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// SigningKeyID is the kid of the RSA key published in the JWKS.
const SigningKeyID = "session-keeper-1"

type Server struct {
	env    string // Environment (e.g., "DEV", "PROD")
	router *mux.Router
	routes []string
	config config.Config
	logger zerolog.Logger

	users         users.UserRepo
	loginSessions loginsession.Repo
	refreshRepo   refresh.Repo
	refreshTokens *refresh.Manager
	rotateRefresh bool

	signer    keys.Signer
	creator   *jwt.Creator
	inspector *jwt.Inspector
	revoked   jwt.RevokedTokenCache

	registry *prometheus.Registry
	metrics  *serverMetrics
	exams    []Exam
}

// Option configures a Server.
type Option func(*Server)

// WithSigner overrides the signer chosen from configuration.
func WithSigner(signer keys.Signer) Option {
	return func(s *Server) {
		s.signer = signer
	}
}

// WithUserRepo replaces the in-memory user repository.
func WithUserRepo(repo users.UserRepo) Option {
	return func(s *Server) {
		s.users = repo
	}
}

// WithLoginSessionRepo replaces the in-memory session repository.
func WithLoginSessionRepo(repo loginsession.Repo) Option {
	return func(s *Server) {
		s.loginSessions = repo
	}
}

// WithRefreshTokenRepo replaces the in-memory refresh token repository.
func WithRefreshTokenRepo(repo refresh.Repo) Option {
	return func(s *Server) {
		s.refreshRepo = repo
	}
}

// WithoutRefreshRotation makes /refresh keep the presented refresh token instead of
// issuing a new one.
func WithoutRefreshRotation() Option {
	return func(s *Server) {
		s.rotateRefresh = false
	}
}

// WithLogger sets the logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

func New(cfg config.Config, options ...Option) (*Server, error) {
	s := &Server{
		env:           cfg.GetEnv(),
		router:        mux.NewRouter(),
		config:        cfg,
		logger:        log.Logger,
		users:         fakeuserrepo.NewFakeUserRepo(),
		loginSessions: loginsession.NewInMemoryLoginSessionRepo(),
		refreshRepo:   refreshrepofake.NewFakeRefreshTokenRepo(),
		rotateRefresh: true,
		revoked:       jwt.NewInMemoryRevokedTokenCache(),
		registry:      prometheus.NewRegistry(),
		exams:         sampleExams(),
	}
	for _, opt := range options {
		opt(s)
	}

	if s.signer == nil {
		signer, err := signerFromConfig(cfg)
		if err != nil {
			return nil, fmt.Errorf("[Server New] failed to create signer: %w", err)
		}
		s.signer = signer
	}
	s.refreshTokens = refresh.NewManager(s.refreshRepo, cfg)
	s.creator = jwt.NewCreator(s.signer, cfg.GetBaseURL(), cfg.GetAccessTokenExpiry())
	s.inspector = jwt.NewInspector(s.signer, cfg.GetBaseURL(), s.revoked)

	s.metrics = newServerMetrics()
	if err := s.metrics.register(s.registry); err != nil {
		return nil, fmt.Errorf("[Server New] failed to register metrics: %w", err)
	}

	if err := s.InitialiseSystem(context.Background()); err != nil {
		return nil, fmt.Errorf("[Server New] Failed to initialise the system: %w", err)
	}

	s.initRoutes()
	s.logRoutes()
	return s, nil
}

func signerFromConfig(cfg config.ServerConfig) (keys.Signer, error) {
	if path := cfg.GetSigningKeyFile(); path != "" {
		kp, err := keys.LoadOrGenerateKeyPair(SigningKeyID, path)
		if err != nil {
			return nil, err
		}
		return keys.NewKeyPairSigner(kp), nil
	}
	return keys.NewHMACSigner(cfg.GetSigningSecret()), nil
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Users exposes the user repository so callers can seed accounts.
func (s *Server) Users() users.UserRepo {
	return s.users
}

// RunCleanup drops expired entries from the access token revocation list every
// interval until ctx is done.
func (s *Server) RunCleanup(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.revoked.Cleanup()
		}
	}
}

// RegisterRouteHandler registers handler for a "METHOD /path" or "/path" pattern.
func (s *Server) RegisterRouteHandler(pattern string, handler http.Handler) {
	s.routes = append(s.routes, pattern)
	method, path := splitPattern(pattern)
	route := s.router.Handle(path, handler)
	if method != "" {
		route.Methods(method)
	}
}

func (s *Server) RegisterRouteFunc(pattern string, handler func(http.ResponseWriter, *http.Request)) {
	s.RegisterRouteHandler(pattern, http.HandlerFunc(handler))
}

func splitPattern(pattern string) (method, path string) {
	parts := strings.SplitN(pattern, " ", 2)
	if len(parts) > 1 {
		return parts[0], parts[1]
	}
	return "", parts[0]
}

func (s *Server) logRoutes() {
	if s.env != "DEV" {
		return // Skip logging in non-development environments
	}
	for _, route := range s.routes {
		s.logRoute(splitPattern(route))
	}
}

func (s *Server) logRoute(method, path string) {
	s.logger.Info().Msgf("[%-19s] %s", paintMethod(method), path)
}
