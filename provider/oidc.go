package provider

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"net/http"
	"sync"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/jrsteele09/go-session-keeper/internal/config"
	"github.com/jrsteele09/go-session-keeper/internal/errors"
	"github.com/jrsteele09/go-session-keeper/internal/utils"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2"
)

// CodeSource sends the user to authURL and returns the authorization code and state
// the provider redirected back with.
type CodeSource func(ctx context.Context, authURL string) (code, state string, err error)

// OIDC is a Handle backed by an OpenID Connect provider using the authorization code
// flow with PKCE.
type OIDC struct {
	oauth2Config oauth2.Config
	verifier     *oidc.IDTokenVerifier
	codeSource   CodeSource
	httpClient   *http.Client
	rolesClaim   string
	logger       zerolog.Logger

	mu       sync.Mutex
	source   oauth2.TokenSource
	identity *Identity
}

var _ Handle = (*OIDC)(nil)

// OIDCOption configures an OIDC handle.
type OIDCOption func(*OIDC)

// WithCodeSource sets how the user completes the provider's login page.
func WithCodeSource(cs CodeSource) OIDCOption {
	return func(p *OIDC) {
		p.codeSource = cs
	}
}

// WithHTTPClient sets the client used for discovery, exchange and renewal.
func WithHTTPClient(c *http.Client) OIDCOption {
	return func(p *OIDC) {
		p.httpClient = c
	}
}

// WithRolesClaim names the ID token claim holding the user's roles.
func WithRolesClaim(claim string) OIDCOption {
	return func(p *OIDC) {
		p.rolesClaim = claim
	}
}

// WithLogger sets the logger.
func WithLogger(logger zerolog.Logger) OIDCOption {
	return func(p *OIDC) {
		p.logger = logger
	}
}

// NewOIDC discovers the issuer and prepares the code flow.
func NewOIDC(ctx context.Context, cfg config.ProviderConfig, options ...OIDCOption) (*OIDC, error) {
	p := &OIDC{
		rolesClaim: "roles",
		logger:     log.Logger,
	}
	for _, opt := range options {
		opt(p)
	}
	if cfg.GetProviderIssuer() == "" || cfg.GetProviderClientID() == "" {
		return nil, fmt.Errorf("[provider NewOIDC] issuer and client id are required: %w", errors.ErrValidation)
	}

	provider, err := oidc.NewProvider(p.clientContext(ctx), cfg.GetProviderIssuer())
	if err != nil {
		return nil, fmt.Errorf("[provider NewOIDC] failed to create OIDC provider: %w", err)
	}
	p.oauth2Config = oauth2.Config{
		ClientID:     cfg.GetProviderClientID(),
		ClientSecret: cfg.GetProviderClientSecret(),
		Endpoint:     provider.Endpoint(),
		RedirectURL:  cfg.GetProviderRedirectURL(),
		Scopes:       cfg.GetProviderScopes(),
	}
	p.verifier = provider.Verifier(&oidc.Config{ClientID: cfg.GetProviderClientID()})
	return p, nil
}

// Login runs the authorization code flow through the configured CodeSource.
func (p *OIDC) Login(ctx context.Context) (Identity, error) {
	if p.codeSource == nil {
		return Identity{}, fmt.Errorf("[OIDC Login] no code source configured: %w", errors.ErrUnsupported)
	}
	state, err := randomString(24)
	if err != nil {
		return Identity{}, fmt.Errorf("[OIDC Login] state: %w", err)
	}
	nonce, err := randomString(24)
	if err != nil {
		return Identity{}, fmt.Errorf("[OIDC Login] nonce: %w", err)
	}
	codeVerifier := oauth2.GenerateVerifier()

	authURL := p.oauth2Config.AuthCodeURL(state, oidc.Nonce(nonce), oauth2.S256ChallengeOption(codeVerifier))
	code, returnedState, err := p.codeSource(ctx, authURL)
	if err != nil {
		return Identity{}, fmt.Errorf("[OIDC Login] authorization: %w", err)
	}
	if returnedState != state {
		return Identity{}, fmt.Errorf("[OIDC Login] state mismatch: %w", errors.ErrInvalidCredentials)
	}
	return p.Exchange(ctx, code, codeVerifier, nonce)
}

// Exchange trades an authorization code for tokens and verifies the ID token.
func (p *OIDC) Exchange(ctx context.Context, code, codeVerifier, nonce string) (Identity, error) {
	ctx = p.clientContext(ctx)
	token, err := p.oauth2Config.Exchange(ctx, code, oauth2.VerifierOption(codeVerifier))
	if err != nil {
		return Identity{}, fmt.Errorf("[OIDC Exchange] token exchange failed: %w", err)
	}
	rawIDToken, ok := token.Extra("id_token").(string)
	if !ok {
		return Identity{}, fmt.Errorf("[OIDC Exchange] no id_token in response: %w", errors.ErrInvalidCredentials)
	}
	idToken, err := p.verifier.Verify(ctx, rawIDToken)
	if err != nil {
		return Identity{}, fmt.Errorf("[OIDC Exchange] id token verification failed: %w: %w", errors.ErrInvalidCredentials, err)
	}
	if nonce != "" && idToken.Nonce != nonce {
		return Identity{}, fmt.Errorf("[OIDC Exchange] invalid nonce: %w", errors.ErrInvalidCredentials)
	}

	var claims map[string]any
	if err := idToken.Claims(&claims); err != nil {
		return Identity{}, fmt.Errorf("[OIDC Exchange] failed to extract claims: %w", err)
	}
	id := Identity{
		Subject:   idToken.Subject,
		Email:     stringClaim(claims, "email"),
		Name:      stringClaim(claims, "name"),
		Roles:     rolesClaim(claims, p.rolesClaim),
		ExpiresAt: token.Expiry,
	}

	p.mu.Lock()
	p.source = p.oauth2Config.TokenSource(context.WithoutCancel(ctx), token)
	p.identity = &id
	p.mu.Unlock()

	p.logger.Info().Str("subject", id.Subject).Msg("External identity signed in")
	return id, nil
}

// Logout forgets the external tokens.
func (p *OIDC) Logout(context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.source = nil
	p.identity = nil
	return nil
}

func (p *OIDC) Active() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.source != nil
}

func (p *OIDC) Identity() (Identity, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.identity == nil {
		return Identity{}, false
	}
	return *p.identity, true
}

// Token returns the access token, renewed by the oauth2 token source when expired.
func (p *OIDC) Token(context.Context) (string, error) {
	p.mu.Lock()
	source := p.source
	p.mu.Unlock()
	if source == nil {
		return "", fmt.Errorf("[OIDC Token] %w", errors.ErrNoCredentials)
	}
	token, err := source.Token()
	if err != nil {
		return "", fmt.Errorf("[OIDC Token] renew external token: %w: %w", errors.ErrUnauthorized, err)
	}
	return token.AccessToken, nil
}

func (p *OIDC) clientContext(ctx context.Context) context.Context {
	if p.httpClient == nil {
		return ctx
	}
	return oidc.ClientContext(ctx, p.httpClient)
}

func stringClaim(claims map[string]any, name string) string {
	s, _ := claims[name].(string)
	return s
}

func rolesClaim(claims map[string]any, name string) []string {
	raw, ok := claims[name]
	if !ok {
		return nil
	}
	if roles := utils.ClaimStrings(raw); roles != nil {
		return roles
	}
	return []string{}
}

func randomString(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
