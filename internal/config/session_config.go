package config

import (
	"strconv"
	"strings"
	"time"
)

type Session struct{}

var _ SessionConfig = Session{}

// GetKeyPrefix namespaces every storage key written by the credential store.
func (Session) GetKeyPrefix() string {
	return GetEnv("KEY_PREFIX", "auth.")
}

func (Session) GetRequestTimeout() time.Duration {
	return getDuration("REQUEST_TIMEOUT", 30*time.Second)
}

func (Session) GetAccessExpiryBuffer() time.Duration {
	return getDuration("ACCESS_EXPIRY_BUFFER", 60*time.Second)
}

func (Session) GetWarnExpiryBuffer() time.Duration {
	return getDuration("WARN_EXPIRY_BUFFER", 300*time.Second)
}

// GetFallbackPaths returns the comma separated alternate resource prefixes tried on routing failures.
func (Session) GetFallbackPaths() []string {
	return splitList(GetEnv("FALLBACK_PATHS", ""))
}

// getDuration accepts Go durations ("90s") or plain seconds ("90").
func getDuration(envVar string, defaultValue time.Duration) time.Duration {
	raw := GetEnv(envVar, "")
	if raw == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(raw); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(raw); err == nil {
		return time.Duration(secs) * time.Second
	}
	return defaultValue
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
