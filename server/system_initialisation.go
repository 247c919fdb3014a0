package server

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"

	"github.com/jrsteele09/go-session-keeper/users"
)

const (
	DefaultAdminUsername = "admin"
)

// InitialiseSystem creates the admin user if it does not exist yet, printing the
// credentials when the password was generated.
func (s *Server) InitialiseSystem(_ context.Context) error {
	if existing, err := s.users.GetByUsername(DefaultAdminUsername); err == nil && existing.HasRole(users.RoleAdmin) {
		return nil
	}

	password := s.config.GetAdminPassword()
	generated := password == ""
	if generated {
		passwordBytes := make([]byte, 16)
		if _, err := rand.Read(passwordBytes); err != nil {
			return fmt.Errorf("[Server InitialiseSystem] failed to generate password: %w", err)
		}
		password = base64.URLEncoding.EncodeToString(passwordBytes)
	}

	if _, err := s.SeedUser(DefaultAdminUsername, password, users.RoleAdmin, users.RoleMember); err != nil {
		return fmt.Errorf("[Server InitialiseSystem] failed to create admin: %w", err)
	}

	if generated {
		s.logger.Info().Msg("📋 Session service configuration:")
		s.logger.Info().Msgf("   Base URL:    %s", s.config.GetBaseURL())
		s.logger.Info().Msgf("   Signing:     %s", s.signer.GetSigningMethod().Alg())
		s.logger.Info().Msg("👤 Admin credentials:")
		s.logger.Info().Msgf("   Username:    %s", DefaultAdminUsername)
		s.logger.Info().Msgf("   Password:    %s", password)
	}
	return nil
}

// SeedUser creates a user that can log in with password.
func (s *Server) SeedUser(username, password string, roles ...users.RoleType) (*users.User, error) {
	user, err := users.New(username, password, roles...)
	if err != nil {
		return nil, err
	}
	if err := s.users.Upsert(user); err != nil {
		return nil, fmt.Errorf("[Server SeedUser] %w", err)
	}
	return user, nil
}
