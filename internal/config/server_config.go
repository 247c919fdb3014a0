package config

import (
	"fmt"
	"strconv"
	"time"
)

type Server struct{}

var _ ServerConfig = Server{}

func (Server) GetPort() string {
	port := GetEnv("PORT", "8080")
	if port[0] != ':' {
		port = fmt.Sprintf(":%s", port)
	}
	return port
}

// GetSigningSecret returns the HMAC secret the dev session service signs access tokens with.
func (Server) GetSigningSecret() string {
	return GetEnv("SIGNING_SECRET", "dev-only-signing-secret")
}

// GetSigningKeyFile returns the PEM file holding the RSA key access tokens are signed with.
// Empty selects HMAC signing with GetSigningSecret.
func (Server) GetSigningKeyFile() string {
	return GetEnv("SIGNING_KEY_FILE", "")
}

// GetAdminPassword returns the password of the seeded admin user. Empty generates one.
func (Server) GetAdminPassword() string {
	return GetEnv("ADMIN_PASSWORD", "")
}

func (Server) GetAccessTokenExpiry() time.Duration {
	return getDuration("ACCESS_TOKEN_EXPIRY", 15*time.Minute)
}

func (Server) GetRefreshTokenExpiry() time.Duration {
	return getDuration("REFRESH_TOKEN_EXPIRY", 7*24*time.Hour)
}

// GetRefreshTokenLength returns the number of random bytes in an opaque refresh token.
func (Server) GetRefreshTokenLength() int {
	if n, err := strconv.Atoi(GetEnv("REFRESH_TOKEN_LENGTH", "")); err == nil && n >= 16 {
		return n
	}
	return 32
}
