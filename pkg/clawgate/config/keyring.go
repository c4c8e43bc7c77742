package config

import (
	"log/slog"
	"os"

	"github.com/zalando/go-keyring"
)

// Priority for resolving the API key:
//  1. OS keyring (Linux: Secret Service, macOS: Keychain, Windows: Credential Manager)
//  2. Environment variable (CLAWGATE_API_KEY, then OPENAI_API_KEY)
//  3. config.yaml value (plaintext on disk, least preferred)

const (
	keyringService = "clawgate"
	keyringAPIKey  = "api_key"
)

// StoreAPIKey saves the API key to the OS keyring.
func StoreAPIKey(value string) error {
	return keyring.Set(keyringService, keyringAPIKey, value)
}

// DeleteAPIKey removes the API key from the OS keyring.
func DeleteAPIKey() error {
	return keyring.Delete(keyringService, keyringAPIKey)
}

// KeyringAvailable checks if the OS keyring is accessible with a
// write+delete cycle.
func KeyringAvailable() bool {
	const testKey = "__clawgate_test__"
	if err := keyring.Set(keyringService, testKey, "test"); err != nil {
		return false
	}
	_ = keyring.Delete(keyringService, testKey)
	return true
}

// ResolveAPIKey fills cfg.API.APIKey from the priority chain and reports
// the source used.
func ResolveAPIKey(cfg *Config, logger *slog.Logger) string {
	if v, err := keyring.Get(keyringService, keyringAPIKey); err == nil && v != "" {
		cfg.API.APIKey = v
		logger.Debug("api key resolved", "source", "keyring")
		return "keyring"
	}
	for _, name := range []string{"CLAWGATE_API_KEY", "OPENAI_API_KEY"} {
		if v := os.Getenv(name); v != "" {
			cfg.API.APIKey = v
			logger.Debug("api key resolved", "source", "env", "var", name)
			return "env"
		}
	}
	if cfg.API.APIKey != "" {
		logger.Warn("api key loaded from config file; prefer the keyring or an environment variable")
		return "config"
	}
	return ""
}
