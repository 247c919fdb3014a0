package provider_test

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	sessionerrors "github.com/jrsteele09/go-session-keeper/internal/errors"
	"github.com/jrsteele09/go-session-keeper/provider"
	"github.com/jrsteele09/go-session-keeper/token/keys"
	"github.com/stretchr/testify/require"
)

const testClientID = "exam-portal"

type providerConfig struct {
	issuer string
}

func (c providerConfig) GetProviderIssuer() string       { return c.issuer }
func (c providerConfig) GetProviderClientID() string     { return testClientID }
func (c providerConfig) GetProviderClientSecret() string { return "secret" }
func (c providerConfig) GetProviderRedirectURL() string  { return "http://localhost/callback" }
func (c providerConfig) GetProviderScopes() []string     { return []string{"openid", "profile"} }

// fakeIssuer is a minimal OpenID provider: discovery, JWKS and a token endpoint that
// checks PKCE and serves refresh grants.
type fakeIssuer struct {
	t      *testing.T
	srv    *httptest.Server
	signer *keys.KeyPairSigner
	roles  []string

	mu        sync.Mutex
	challenge string
	nonce     string
	refreshes int
}

func newFakeIssuer(t *testing.T, roles []string) *fakeIssuer {
	t.Helper()
	kp, err := keys.GenerateRSAKeyPair("test-key", 2048)
	require.NoError(t, err)
	f := &fakeIssuer{t: t, signer: keys.NewKeyPairSigner(kp), roles: roles}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /.well-known/openid-configuration", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"issuer":                                f.srv.URL,
			"authorization_endpoint":                f.srv.URL + "/authorize",
			"token_endpoint":                        f.srv.URL + "/token",
			"jwks_uri":                              f.srv.URL + "/jwks",
			"id_token_signing_alg_values_supported": []string{"RS256"},
		})
	})
	mux.HandleFunc("GET /jwks", func(w http.ResponseWriter, r *http.Request) {
		jwks, err := f.signer.GetJWKS()
		require.NoError(t, err)
		_ = json.NewEncoder(w).Encode(jwks)
	})
	mux.HandleFunc("POST /token", f.token)
	f.srv = httptest.NewServer(mux)
	t.Cleanup(f.srv.Close)
	return f
}

// authorize plays the user's browser: it reads the authorization URL and returns a code.
func (f *fakeIssuer) authorize(_ context.Context, authURL string) (string, string, error) {
	u, err := url.Parse(authURL)
	if err != nil {
		return "", "", err
	}
	q := u.Query()
	f.mu.Lock()
	f.challenge = q.Get("code_challenge")
	f.nonce = q.Get("nonce")
	f.mu.Unlock()
	return "auth-code", q.Get("state"), nil
}

func (f *fakeIssuer) token(w http.ResponseWriter, r *http.Request) {
	require.NoError(f.t, r.ParseForm())
	f.mu.Lock()
	defer f.mu.Unlock()

	switch r.Form.Get("grant_type") {
	case "authorization_code":
		sum := sha256.Sum256([]byte(r.Form.Get("code_verifier")))
		if r.Form.Get("code") != "auth-code" || base64.RawURLEncoding.EncodeToString(sum[:]) != f.challenge {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":"invalid_grant"}`))
			return
		}
		claims := jwt.MapClaims{
			"iss":   f.srv.URL,
			"sub":   "ext-user-1",
			"aud":   testClientID,
			"email": "student@example.com",
			"name":  "Student One",
			"nonce": f.nonce,
			"iat":   time.Now().Unix(),
			"exp":   time.Now().Add(time.Hour).Unix(),
		}
		if f.roles != nil {
			claims["roles"] = f.roles
		}
		idToken, err := f.signer.Sign(claims)
		require.NoError(f.t, err)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token":  "ext-access-1",
			"token_type":    "Bearer",
			"expires_in":    1,
			"refresh_token": "ext-refresh-1",
			"id_token":      idToken,
		})
	case "refresh_token":
		f.refreshes++
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token": "ext-access-2",
			"token_type":   "Bearer",
			"expires_in":   3600,
		})
	default:
		w.WriteHeader(http.StatusBadRequest)
	}
}

func TestOIDC_LoginVerifiesIdentityAndRenewsTokens(t *testing.T) {
	ctx := context.Background()
	issuer := newFakeIssuer(t, []string{"student"})

	p, err := provider.NewOIDC(ctx, providerConfig{issuer: issuer.srv.URL}, provider.WithCodeSource(issuer.authorize))
	require.NoError(t, err)
	require.False(t, p.Active())

	id, err := p.Login(ctx)
	require.NoError(t, err)
	require.Equal(t, "ext-user-1", id.Subject)
	require.Equal(t, "student@example.com", id.Email)
	require.Equal(t, []string{"student"}, id.Roles)
	require.True(t, p.Active())
	require.Equal(t, provider.RoleGranted, provider.CheckRole(id, "student"))

	// The first access token expires within the token source's early-expiry window.
	token, err := p.Token(ctx)
	require.NoError(t, err)
	require.Equal(t, "ext-access-2", token)
	token, err = p.Token(ctx)
	require.NoError(t, err)
	require.Equal(t, "ext-access-2", token)

	issuer.mu.Lock()
	require.Equal(t, 1, issuer.refreshes)
	issuer.mu.Unlock()

	require.NoError(t, p.Logout(ctx))
	require.False(t, p.Active())
}

func TestOIDC_MissingRolesClaimIsUndecided(t *testing.T) {
	ctx := context.Background()
	issuer := newFakeIssuer(t, nil)

	p, err := provider.NewOIDC(ctx, providerConfig{issuer: issuer.srv.URL}, provider.WithCodeSource(issuer.authorize))
	require.NoError(t, err)
	id, err := p.Login(ctx)
	require.NoError(t, err)
	require.Nil(t, id.Roles)
	require.Equal(t, provider.RoleUndecided, provider.CheckRole(id, "proctor"))
}

func TestOIDC_StateMismatchFails(t *testing.T) {
	ctx := context.Background()
	issuer := newFakeIssuer(t, nil)
	forged := func(ctx context.Context, authURL string) (string, string, error) {
		code, _, err := issuer.authorize(ctx, authURL)
		return code, "forged", err
	}

	p, err := provider.NewOIDC(ctx, providerConfig{issuer: issuer.srv.URL}, provider.WithCodeSource(forged))
	require.NoError(t, err)
	_, err = p.Login(ctx)
	require.True(t, errors.Is(err, sessionerrors.ErrInvalidCredentials))
	require.False(t, p.Active())
}

func TestOIDC_RequiresIssuerAndCodeSource(t *testing.T) {
	ctx := context.Background()
	_, err := provider.NewOIDC(ctx, providerConfig{})
	require.True(t, errors.Is(err, sessionerrors.ErrValidation))

	issuer := newFakeIssuer(t, nil)
	p, err := provider.NewOIDC(ctx, providerConfig{issuer: issuer.srv.URL})
	require.NoError(t, err)
	_, err = p.Login(ctx)
	require.True(t, errors.Is(err, sessionerrors.ErrUnsupported))
}
