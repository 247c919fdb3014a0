package config

import (
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

const (
	appNameVar    = "APP_NAME"
	baseURLVar    = "BASE_URL"
	storageDirVar = "STORAGE_DIR"
	logLevelVar   = "LOG_LEVEL"

	// ConfigFileVar names an optional YAML file whose keys are the lower-cased
	// environment variable names. Environment variables win over the file.
	ConfigFileVar = "SESSION_CONFIG_FILE"
)

type EnvVars struct{}

var _ EnvConfig = EnvVars{}

func (EnvVars) GetAppName() string {
	return GetEnv(appNameVar, "Session Keeper")
}

// GetBaseURL returns the base URL of the first-party session service (e.g., "https://api.example.com")
func (EnvVars) GetBaseURL() string {
	return strings.TrimSuffix(GetEnv(baseURLVar, "http://localhost:8080"), "/")
}

// GetStorageDir returns the directory holding the shared credential tier for file-backed origins.
func (EnvVars) GetStorageDir() string {
	if dir := GetEnv(storageDirVar, ""); dir != "" {
		return dir
	}
	configDir, err := os.UserConfigDir()
	if err != nil {
		return "./data"
	}
	return filepath.Join(configDir, "session-keeper")
}

func (EnvVars) GetLogLevel() string {
	return GetEnv(logLevelVar, "info")
}

func (EnvVars) GetEnv() string {
	return GetEnv("ENV", "DEV")
}

var (
	fileValues     map[string]string
	fileValuesOnce sync.Once
)

func loadFileValues() {
	fileValues = map[string]string{}
	path := os.Getenv(ConfigFileVar)
	if path == "" {
		return
	}
	// #nosec G304 -- path is operator supplied configuration
	data, err := os.ReadFile(path)
	if err != nil {
		log.Warn().Err(err).Str("path", path).Msg("Config file not readable, using environment only")
		return
	}
	if err := yaml.Unmarshal(data, &fileValues); err != nil {
		log.Warn().Err(err).Str("path", path).Msg("Config file not valid YAML, using environment only")
		fileValues = map[string]string{}
	}
}

// ResetFileValues forgets the cached config file so the next lookup reloads it.
func ResetFileValues() {
	fileValuesOnce = sync.Once{}
}

func GetEnv(envVar, defaultValue string) string {
	if value := os.Getenv(envVar); value != "" {
		return value
	}
	fileValuesOnce.Do(loadFileValues)
	if value, ok := fileValues[strings.ToLower(envVar)]; ok && value != "" {
		return value
	}
	return defaultValue
}
