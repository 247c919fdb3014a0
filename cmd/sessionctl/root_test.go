package main

import (
	"bytes"
	"fmt"
	"net/http/httptest"
	"testing"

	"github.com/jrsteele09/go-session-keeper/internal/config"
	sessionerrors "github.com/jrsteele09/go-session-keeper/internal/errors"
	"github.com/jrsteele09/go-session-keeper/server"
	"github.com/jrsteele09/go-session-keeper/users"
	"github.com/stretchr/testify/require"
)

func TestGetExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"no session", fmt.Errorf("call: %w", sessionerrors.ErrNoCredentials), ExitCodeAuthRequired},
		{"session ended", sessionerrors.ErrSessionExpired, ExitCodeAuthRequired},
		{"rejected login", &sessionerrors.APIError{Status: 401, Message: "Invalid username or password"}, ExitCodeAuthFailed},
		{"forbidden", &sessionerrors.APIError{Status: 403}, ExitCodeAuthFailed},
		{"other", fmt.Errorf("boom"), ExitCodeError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, getExitCode(tt.err))
		})
	}
}

func TestCallCommand(t *testing.T) {
	t.Setenv(config.ConfigFileVar, "")
	t.Setenv("ENV", "TEST")
	t.Setenv("ADMIN_PASSWORD", "Admin1234")
	t.Setenv("STORAGE_DIR", t.TempDir())
	t.Setenv("FALLBACK_PATHS", "/api/v2")
	t.Setenv(passwordEnvVar, "Secret123")
	config.ResetFileValues()

	s, err := server.New(config.New())
	require.NoError(t, err)
	_, err = s.SeedUser("alice", "Secret123", users.RoleMember)
	require.NoError(t, err)
	srv := httptest.NewServer(s)
	t.Cleanup(srv.Close)
	t.Setenv("BASE_URL", srv.URL)

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"call", "get", "/exams/1/attempts", "-u", "alice"})
	t.Cleanup(func() {
		rootCmd.SetArgs(nil)
		rootCmd.SetOut(nil)
		callUsername, loginPassword = "", ""
	})

	require.NoError(t, rootCmd.Execute())
	require.Contains(t, out.String(), "GET /exams/1/attempts -> OK")
	require.Contains(t, out.String(), `"exam_id": "1"`)
}
