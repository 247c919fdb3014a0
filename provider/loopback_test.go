package provider_test

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"testing"
	"time"

	sessionerrors "github.com/jrsteele09/go-session-keeper/internal/errors"
	"github.com/jrsteele09/go-session-keeper/provider"
	"github.com/stretchr/testify/require"
)

func freeRedirectURL(t *testing.T) string {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())
	return fmt.Sprintf("http://%s/callback", addr)
}

func TestLoopbackCodeSource_ReturnsRedirectParameters(t *testing.T) {
	redirect := freeRedirectURL(t)
	var opened string
	source := provider.LoopbackCodeSource(redirect, func(authURL string) {
		opened = authURL
		resp, err := http.Get(redirect + "?code=abc&state=xyz")
		require.NoError(t, err)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		resp.Body.Close()
	})

	code, state, err := source(context.Background(), "https://issuer.example.com/authorize")
	require.NoError(t, err)
	require.Equal(t, "abc", code)
	require.Equal(t, "xyz", state)
	require.Equal(t, "https://issuer.example.com/authorize", opened)
}

func TestLoopbackCodeSource_ProviderError(t *testing.T) {
	redirect := freeRedirectURL(t)
	source := provider.LoopbackCodeSource(redirect, func(string) {
		resp, err := http.Get(redirect + "?error=access_denied")
		require.NoError(t, err)
		require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
		resp.Body.Close()
	})

	_, _, err := source(context.Background(), "https://issuer.example.com/authorize")
	require.ErrorIs(t, err, sessionerrors.ErrUnauthorized)
}

func TestLoopbackCodeSource_Cancelled(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, _, err := provider.LoopbackCodeSource(freeRedirectURL(t), nil)(ctx, "https://issuer.example.com/authorize")
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestLoopbackCodeSource_InvalidRedirect(t *testing.T) {
	_, _, err := provider.LoopbackCodeSource("not a url", nil)(context.Background(), "https://issuer.example.com/authorize")
	require.ErrorIs(t, err, sessionerrors.ErrValidation)
}
