// Package sessionapi holds the wire types and requests of the first-party session
// service: login, logout, refresh and current-session lookup.
package sessionapi

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/jrsteele09/go-session-keeper/credentials"
	"github.com/jrsteele09/go-session-keeper/internal/errors"
	"github.com/jrsteele09/go-session-keeper/transport"
)

const (
	LoginPath   = "/login"
	LogoutPath  = "/logout"
	RefreshPath = "/refresh"
	CurrentPath = "/session/current"
)

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken           string    `json:"access_token"`
	RefreshToken          string    `json:"refresh_token"`
	SessionID             string    `json:"session_id"`
	AccessTokenExpiresAt  time.Time `json:"access_token_expires_at"`
	RefreshTokenExpiresAt time.Time `json:"refresh_token_expires_at"`
	UserID                string    `json:"user_id,omitempty"`
}

type LogoutRequest struct {
	SessionID  string `json:"session_id"`
	AllDevices bool   `json:"all_devices"`
}

type RefreshRequest struct {
	SessionID    string `json:"session_id"`
	RefreshToken string `json:"refresh_token"`
}

// RefreshResponse carries a new access token. The refresh token fields are only set
// when the service rotates the refresh token.
type RefreshResponse struct {
	AccessToken           string    `json:"access_token"`
	AccessTokenExpiresAt  time.Time `json:"access_token_expires_at"`
	RefreshToken          string    `json:"refresh_token,omitempty"`
	RefreshTokenExpiresAt time.Time `json:"refresh_token_expires_at,omitzero"`
}

type CurrentSession struct {
	SessionID string    `json:"session_id"`
	UserID    string    `json:"user_id"`
	ExpiresAt time.Time `json:"expires_at"`
}

// NewLoginRequest builds the unauthenticated login call.
func NewLoginRequest(username, password string) transport.Request {
	return transport.Request{
		Method: http.MethodPost,
		Path:   LoginPath,
		Body:   LoginRequest{Username: username, Password: password},
	}
}

// NewLogoutRequest builds the logout call. The caller attaches the bearer token.
func NewLogoutRequest(sessionID string, allDevices bool) transport.Request {
	return transport.Request{
		Method: http.MethodPost,
		Path:   LogoutPath,
		Body:   LogoutRequest{SessionID: sessionID, AllDevices: allDevices},
	}
}

// NewRefreshRequest builds the renewal call.
func NewRefreshRequest(sessionID, refreshToken string) transport.Request {
	return transport.Request{
		Method: http.MethodPost,
		Path:   RefreshPath,
		Body:   RefreshRequest{SessionID: sessionID, RefreshToken: refreshToken},
	}
}

// DecodeLogin reads a login reply into a complete credential record.
func DecodeLogin(resp *transport.Response) (credentials.Record, error) {
	var lr LoginResponse
	if err := resp.Decode(&lr); err != nil {
		return credentials.Record{}, err
	}
	return lr.Record()
}

// Record converts the reply. Without an explicit user id the access token's subject
// is used.
func (lr LoginResponse) Record() (credentials.Record, error) {
	userID := lr.UserID
	if userID == "" {
		sub, err := SubjectOf(lr.AccessToken)
		if err != nil {
			return credentials.Record{}, fmt.Errorf("[LoginResponse Record] user id: %w", err)
		}
		userID = sub
	}
	r := credentials.Record{
		AccessToken:      lr.AccessToken,
		RefreshToken:     lr.RefreshToken,
		SessionID:        lr.SessionID,
		UserID:           userID,
		AccessExpiresAt:  lr.AccessTokenExpiresAt,
		RefreshExpiresAt: lr.RefreshTokenExpiresAt,
	}
	if !r.Complete() {
		return credentials.Record{}, fmt.Errorf("[LoginResponse Record] incomplete login response: %w", errors.ErrTransport)
	}
	return r, nil
}

// DecodeCurrent reads a current-session reply.
func DecodeCurrent(resp *transport.Response) (CurrentSession, error) {
	var cs CurrentSession
	if err := resp.Decode(&cs); err != nil {
		return CurrentSession{}, err
	}
	return cs, nil
}

// SubjectOf reads the sub claim of a JWT without verifying it. The client holds no key
// to verify with; the service verifies every token it receives.
func SubjectOf(token string) (string, error) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return "", fmt.Errorf("[SubjectOf] parse access token: %w", err)
	}
	sub, err := claims.GetSubject()
	if err != nil || sub == "" {
		return "", fmt.Errorf("[SubjectOf] access token has no subject")
	}
	return sub, nil
}

// Client performs token renewal against the session service.
type Client struct {
	doer transport.Doer
}

// NewClient creates a client that sends through doer.
func NewClient(doer transport.Doer) *Client {
	return &Client{doer: doer}
}

// Refresh exchanges a refresh token for a new access token.
func (c *Client) Refresh(ctx context.Context, sessionID, refreshToken string) (RefreshResponse, error) {
	resp, err := c.doer.Do(ctx, NewRefreshRequest(sessionID, refreshToken))
	if err != nil {
		return RefreshResponse{}, err
	}
	var rr RefreshResponse
	if err := resp.Decode(&rr); err != nil {
		return RefreshResponse{}, err
	}
	if rr.AccessToken == "" {
		return RefreshResponse{}, fmt.Errorf("[Client Refresh] response has no access token: %w", errors.ErrTransport)
	}
	return rr, nil
}
