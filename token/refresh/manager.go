package refresh

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/jrsteele09/go-session-keeper/internal/config"
	"github.com/jrsteele09/go-session-keeper/internal/errors"
)

// NowTimeFunc returns the current time. It can be overridden in tests.
var NowTimeFunc = time.Now

// Manager handles refresh token creation, validation, and rotation
type Manager struct {
	repo   Repo
	config config.ServerConfig
}

// NewManager creates a new refresh token manager
func NewManager(repo Repo, cfg config.ServerConfig) *Manager {
	return &Manager{
		repo:   repo,
		config: cfg,
	}
}

// Create issues a token for the session, replacing any token it already holds.
func (m *Manager) Create(sessionID, userID string) (*StoredRefreshToken, error) {
	if err := m.Revoke(sessionID); err != nil {
		return nil, err
	}

	tokenBytes := make([]byte, m.config.GetRefreshTokenLength())
	if _, err := rand.Read(tokenBytes); err != nil {
		return nil, fmt.Errorf("[Manager Create] generate random bytes: %w", err)
	}

	now := NowTimeFunc()
	rt := &StoredRefreshToken{
		Token:     hex.EncodeToString(tokenBytes),
		SessionID: sessionID,
		UserID:    userID,
		Iat:       now,
		ExpiresAt: now.Add(m.config.GetRefreshTokenExpiry()),
	}
	if err := m.repo.Upsert(rt); err != nil {
		return nil, fmt.Errorf("[Manager Create] store refresh token: %w", err)
	}
	return rt, nil
}

// Validate checks that token is the live token of sessionID.
func (m *Manager) Validate(sessionID, token string) (*StoredRefreshToken, error) {
	rt, err := m.repo.Get(token)
	if err != nil || rt.SessionID != sessionID {
		return nil, fmt.Errorf("[Manager Validate] unknown refresh token: %w", errors.ErrInvalidCredentials)
	}
	if m.IsExpired(rt) {
		_ = m.repo.Delete(token)
		return nil, fmt.Errorf("[Manager Validate] %w", errors.ErrRefreshTokenExpired)
	}
	return rt, nil
}

// Rotate validates token and replaces it with a new one for the same session.
func (m *Manager) Rotate(sessionID, token string) (*StoredRefreshToken, error) {
	rt, err := m.Validate(sessionID, token)
	if err != nil {
		return nil, err
	}
	return m.Create(sessionID, rt.UserID)
}

// Revoke deletes the session's token, if any.
func (m *Manager) Revoke(sessionID string) error {
	existing, err := m.repo.GetBySessionID(sessionID)
	if err != nil || existing == nil {
		return nil
	}
	if err := m.repo.Delete(existing.Token); err != nil {
		return fmt.Errorf("[Manager Revoke] delete refresh token: %w", err)
	}
	return nil
}

// IsExpired checks if a refresh token has expired
func (m *Manager) IsExpired(rt *StoredRefreshToken) bool {
	return !NowTimeFunc().Before(rt.ExpiresAt)
}
