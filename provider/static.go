package provider

import (
	"context"
	"fmt"
	"sync"

	"github.com/jrsteele09/go-session-keeper/internal/errors"
	"golang.org/x/oauth2"
)

// Static is a Handle with a fixed identity and token source, for development and
// tests.
type Static struct {
	identity Identity
	source   oauth2.TokenSource

	mu     sync.Mutex
	active bool
}

var _ Handle = (*Static)(nil)

// NewStatic returns a handle that signs in as id and serves tokens from source.
func NewStatic(id Identity, source oauth2.TokenSource) *Static {
	return &Static{identity: id, source: source}
}

// NewStaticToken returns a handle serving one fixed access token.
func NewStaticToken(id Identity, accessToken string) *Static {
	return NewStatic(id, oauth2.StaticTokenSource(&oauth2.Token{AccessToken: accessToken, TokenType: "Bearer"}))
}

func (s *Static) Login(context.Context) (Identity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active = true
	return s.identity, nil
}

func (s *Static) Logout(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active = false
	return nil
}

func (s *Static) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

func (s *Static) Identity() (Identity, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.identity, s.active
}

func (s *Static) Token(context.Context) (string, error) {
	if !s.Active() {
		return "", fmt.Errorf("[Static Token] %w", errors.ErrNoCredentials)
	}
	token, err := s.source.Token()
	if err != nil {
		return "", fmt.Errorf("[Static Token] %w: %w", errors.ErrUnauthorized, err)
	}
	return token.AccessToken, nil
}
