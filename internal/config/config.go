package config

import "time"

type Config interface {
	EnvConfig
	SessionConfig
	ProviderConfig
	ServerConfig
}

type EnvConfig interface {
	GetAppName() string
	GetBaseURL() string
	GetStorageDir() string
	GetLogLevel() string
	GetEnv() string
}

type SessionConfig interface {
	GetKeyPrefix() string
	GetRequestTimeout() time.Duration
	GetAccessExpiryBuffer() time.Duration
	GetWarnExpiryBuffer() time.Duration
	GetFallbackPaths() []string
}

type ProviderConfig interface {
	GetProviderIssuer() string
	GetProviderClientID() string
	GetProviderClientSecret() string
	GetProviderRedirectURL() string
	GetProviderScopes() []string
}

type ServerConfig interface {
	GetPort() string
	GetSigningSecret() string
	GetSigningKeyFile() string
	GetAdminPassword() string
	GetAccessTokenExpiry() time.Duration
	GetRefreshTokenExpiry() time.Duration
	GetRefreshTokenLength() int
}

type mainConfig struct {
	EnvVars
	Session
	Provider
	Server
}

func New() Config {
	return mainConfig{}
}
