package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/joho/godotenv"
)

// envVarPattern matches ${VAR}, ${VAR:-default}, ${VAR:?error} and bare
// $VAR references in config values.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::(-|\?)([^}]*))?\}|\$([A-Z_][A-Z0-9_]*)`)

// Load reads a YAML config file, expanding environment variable references
// first. .env files next to the config and in the working directory are
// loaded silently before expansion.
func Load(path string) (*Config, error) {
	loadEnvFiles(path)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	expanded, err := expandEnvVars(string(data))
	if err != nil {
		return nil, fmt.Errorf("expanding environment variables: %w", err)
	}

	cfg, err := Parse([]byte(expanded))
	if err != nil {
		return nil, err
	}
	resolveRelativePaths(cfg, path)
	return cfg, nil
}

// loadEnvFiles loads .env from the config directory and the working
// directory. Existing environment variables win.
func loadEnvFiles(configPath string) {
	candidates := []string{
		filepath.Join(filepath.Dir(configPath), ".env"),
		".env",
	}
	for _, p := range candidates {
		if _, err := os.Stat(p); err == nil {
			_ = godotenv.Load(p)
		}
	}
}

// expandEnvVars substitutes environment variable references. A ${VAR:?msg}
// reference with VAR unset fails the load.
func expandEnvVars(s string) (string, error) {
	var expandErr error
	out := envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		name := groups[1]
		if name == "" {
			name = groups[4]
		}
		value, set := os.LookupEnv(name)
		if set && value != "" {
			return value
		}
		switch groups[2] {
		case "-":
			return groups[3]
		case "?":
			msg := groups[3]
			if msg == "" {
				msg = "required variable is not set"
			}
			if expandErr == nil {
				expandErr = fmt.Errorf("%s: %s", name, msg)
			}
			return ""
		default:
			return ""
		}
	})
	return out, expandErr
}

// resolveRelativePaths anchors file paths to the config file's directory so
// the gateway behaves the same regardless of working directory.
func resolveRelativePaths(cfg *Config, configPath string) {
	base := filepath.Dir(configPath)
	anchor := func(p string) string {
		if p == "" || filepath.IsAbs(p) {
			return p
		}
		return filepath.Join(base, p)
	}
	cfg.Session.DBPath = anchor(cfg.Session.DBPath)
	cfg.Memory.DBPath = anchor(cfg.Memory.DBPath)
	cfg.Agent.PersonaFile = anchor(cfg.Agent.PersonaFile)
}

// WriteDefault writes a commented starter config to path without
// overwriting an existing file.
func WriteDefault(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists: %s", path)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating config directory: %w", err)
		}
	}
	return os.WriteFile(path, []byte(starterConfig), 0o600)
}

var starterConfig = strings.TrimLeft(`
api:
  base_url: https://api.openai.com/v1
  api_key: ${CLAWGATE_API_KEY:?set CLAWGATE_API_KEY or store it with "clawgate config set-key"}
  model: gpt-4o-mini
  temperature: 0.7

gateway:
  address: ":8085"
  auth_token: ${CLAWGATE_AUTH_TOKEN:-}

session:
  db_path: data/sessions.db
  max_history: 10
  retention_days: 30

memory:
  db_path: data/memory.db

agent:
  persona_file: ""
  wrapper_url: ""
  search_enabled: true

channels:
  qq:
    enabled: false
    api_base: http://127.0.0.1:3000
    access_token: ""
  lark:
    enabled: false
    app_id: ""
    app_secret: ${LARK_APP_SECRET:-}
    verification_token: ""
  discord:
    enabled: false
    token: ${DISCORD_BOT_TOKEN:-}

logging:
  level: info
  format: text
`, "\n")
