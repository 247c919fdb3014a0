package session_test

import (
	"testing"

	"github.com/jrsteele09/go-session-keeper/session"
	"github.com/stretchr/testify/require"
)

func TestReduce(t *testing.T) {
	authed := session.State{Status: session.StatusAuthenticated, UserID: "user-1", SessionID: "session-1"}

	tests := []struct {
		name   string
		state  session.State
		action session.Action
		want   session.State
	}{
		{
			name:   "login starts from logged out",
			state:  session.InitialState(),
			action: session.Action{Type: session.ActionLoginStart},
			want:   session.State{Status: session.StatusAuthenticating},
		},
		{
			name:   "login start clears a previous error",
			state:  session.State{Status: session.StatusLoggedOut, Error: "Invalid username or password"},
			action: session.Action{Type: session.ActionLoginStart},
			want:   session.State{Status: session.StatusAuthenticating},
		},
		{
			name:   "login start ignored while logging out",
			state:  session.State{Status: session.StatusDeauthenticating},
			action: session.Action{Type: session.ActionLoginStart},
			want:   session.State{Status: session.StatusDeauthenticating},
		},
		{
			name:   "login success",
			state:  session.State{Status: session.StatusAuthenticating},
			action: session.Action{Type: session.ActionLoginSuccess, UserID: "user-1", SessionID: "session-1"},
			want:   authed,
		},
		{
			name:   "login success ignored when not authenticating",
			state:  session.InitialState(),
			action: session.Action{Type: session.ActionLoginSuccess, UserID: "user-1", SessionID: "session-1"},
			want:   session.InitialState(),
		},
		{
			name:   "login failure keeps the message",
			state:  session.State{Status: session.StatusAuthenticating},
			action: session.Action{Type: session.ActionLoginFailure, Error: "Invalid username or password"},
			want:   session.State{Status: session.StatusLoggedOut, Error: "Invalid username or password"},
		},
		{
			name:   "login failure after the login call was rejected",
			state:  session.State{Status: session.StatusExpired},
			action: session.Action{Type: session.ActionLoginFailure, Error: "Invalid username or password"},
			want:   session.State{Status: session.StatusLoggedOut, Error: "Invalid username or password"},
		},
		{
			name:   "restored from logged out",
			state:  session.InitialState(),
			action: session.Action{Type: session.ActionRestored, UserID: "user-1", SessionID: "session-1"},
			want:   authed,
		},
		{
			name:   "logout start keeps the ids",
			state:  authed,
			action: session.Action{Type: session.ActionLogoutStart},
			want:   session.State{Status: session.StatusDeauthenticating, UserID: "user-1", SessionID: "session-1"},
		},
		{
			name:   "logout done",
			state:  session.State{Status: session.StatusDeauthenticating, UserID: "user-1"},
			action: session.Action{Type: session.ActionLogoutDone},
			want:   session.InitialState(),
		},
		{
			name:   "remote logout while authenticated",
			state:  authed,
			action: session.Action{Type: session.ActionLogoutDone},
			want:   session.InitialState(),
		},
		{
			name:   "logout done ignored while authenticating",
			state:  session.State{Status: session.StatusAuthenticating},
			action: session.Action{Type: session.ActionLogoutDone},
			want:   session.State{Status: session.StatusAuthenticating},
		},
		{
			name:   "session expired",
			state:  authed,
			action: session.Action{Type: session.ActionSessionExpired, Error: "Refresh token expired"},
			want:   session.State{Status: session.StatusExpired, Error: "Refresh token expired"},
		},
		{
			name:   "session expired ignored when logged out",
			state:  session.InitialState(),
			action: session.Action{Type: session.ActionSessionExpired},
			want:   session.InitialState(),
		},
		{
			name:   "unauthorized from any state",
			state:  session.State{Status: session.StatusDeauthenticating},
			action: session.Action{Type: session.ActionUnauthorized},
			want:   session.State{Status: session.StatusExpired},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, session.Reduce(tt.state, tt.action))
		})
	}
}
