// Package config defines and loads the gateway configuration.
package config

import (
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/jholhewres/clawgate/pkg/clawgate/channels/discord"
	"github.com/jholhewres/clawgate/pkg/clawgate/channels/lark"
	"github.com/jholhewres/clawgate/pkg/clawgate/channels/qq"
	"github.com/jholhewres/clawgate/pkg/clawgate/gateway"
	"github.com/jholhewres/clawgate/pkg/clawgate/memory"
	"github.com/jholhewres/clawgate/pkg/clawgate/session"
)

// Config is the root configuration.
type Config struct {
	API      APIConfig      `yaml:"api"`
	Gateway  gateway.Config `yaml:"gateway"`
	Session  session.Config `yaml:"session"`
	Memory   memory.Config  `yaml:"memory"`
	Agent    AgentConfig    `yaml:"agent"`
	Channels ChannelsConfig `yaml:"channels"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// APIConfig holds the model endpoint settings.
type APIConfig struct {
	BaseURL     string  `yaml:"base_url"`
	APIKey      string  `yaml:"api_key"`
	Model       string  `yaml:"model"`
	Temperature float64 `yaml:"temperature"`
	MaxTokens   int     `yaml:"max_tokens"`
}

// AgentConfig holds orchestrator settings.
type AgentConfig struct {
	// PersonaFile is a path to the persona text injected at the top of
	// every system prompt.
	PersonaFile string `yaml:"persona_file"`

	// WrapperURL is the external agent wrapper for deferred tasks. Empty
	// disables deferred dispatch.
	WrapperURL string `yaml:"wrapper_url"`

	// SearchEnabled toggles the web search command.
	SearchEnabled bool `yaml:"search_enabled"`
}

// ChannelsConfig holds per-platform channel settings. A channel is
// instantiated only when Enabled is true.
type ChannelsConfig struct {
	QQ struct {
		Enabled   bool `yaml:"enabled"`
		qq.Config `yaml:",inline"`
	} `yaml:"qq"`
	Lark struct {
		Enabled     bool `yaml:"enabled"`
		lark.Config `yaml:",inline"`
	} `yaml:"lark"`
	Discord struct {
		Enabled        bool `yaml:"enabled"`
		discord.Config `yaml:",inline"`
	} `yaml:"discord"`
}

// LoggingConfig holds log output settings.
type LoggingConfig struct {
	// Level is debug, info, warn, or error.
	Level string `yaml:"level"`

	// Format is "text" or "json".
	Format string `yaml:"format"`
}

// DefaultConfig returns a Config with working defaults for a local
// deployment.
func DefaultConfig() *Config {
	cfg := &Config{}
	cfg.API.BaseURL = "https://api.openai.com/v1"
	cfg.API.Model = "gpt-4o-mini"
	cfg.API.Temperature = 0.7
	cfg.Gateway.Address = ":8085"
	cfg.Session.DBPath = "data/sessions.db"
	cfg.Session.MaxHistory = session.DefaultMaxHistory
	cfg.Session.RetentionDays = 30
	cfg.Memory.DBPath = "data/memory.db"
	cfg.Agent.SearchEnabled = true
	cfg.Logging.Level = "info"
	cfg.Logging.Format = "text"
	return cfg
}

// Parse parses YAML bytes over the defaults.
func Parse(data []byte) (*Config, error) {
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config YAML: %w", err)
	}
	return cfg, nil
}

// Validate checks settings that would otherwise fail at first use.
func (c *Config) Validate() error {
	if c.API.BaseURL == "" {
		return fmt.Errorf("api.base_url is required")
	}
	if c.API.Model == "" {
		return fmt.Errorf("api.model is required")
	}
	if !c.Channels.QQ.Enabled && !c.Channels.Lark.Enabled && !c.Channels.Discord.Enabled {
		return fmt.Errorf("no channel enabled; enable at least one of channels.qq, channels.lark, channels.discord")
	}
	return nil
}
