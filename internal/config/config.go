// Package config loads questbot configuration from environment variables.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config holds all application configuration loaded from environment variables.
type Config struct {
	// General
	Environment string `envconfig:"ENVIRONMENT" default:"development"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`
	HTTPPort    int    `envconfig:"HTTP_PORT" default:"8080"`

	// Slack
	SlackBotToken      string `envconfig:"SLACK_BOT_TOKEN"`
	SlackSigningSecret string `envconfig:"SLACK_SIGNING_SECRET"`

	// Jira webhook signing (same v0 HMAC scheme as Slack)
	JiraWebhookSecret string        `envconfig:"JIRA_WEBHOOK_SECRET"`
	ReplayWindow      time.Duration `envconfig:"REPLAY_WINDOW" default:"5m"`

	// Jira REST API
	JiraBaseURL  string `envconfig:"JIRA_BASE_URL"`
	JiraAPIEmail string `envconfig:"JIRA_API_EMAIL"`
	JiraAPIToken string `envconfig:"JIRA_API_TOKEN"`

	// Model service (Ollama-compatible)
	OllamaBaseURL    string        `envconfig:"OLLAMA_BASE_URL"`
	OllamaAPIKey     string        `envconfig:"OLLAMA_API_KEY"`
	NarrativeModel   string        `envconfig:"NARRATIVE_MODEL" default:"llama3.1:8b"`
	ChatModel        string        `envconfig:"CHAT_MODEL" default:"llama3.1:8b"`
	ModelTimeout     time.Duration `envconfig:"MODEL_TIMEOUT" default:"30s"`
	ModelTemperature float64       `envconfig:"MODEL_TEMPERATURE" default:"0.8"`
	ModelTopP        float64       `envconfig:"MODEL_TOP_P" default:"0.9"`
	ModelTopK        int           `envconfig:"MODEL_TOP_K" default:"40"`
	ModelMaxTokens   int           `envconfig:"MODEL_MAX_TOKENS" default:"150"`

	// Optional YAML file overriding the built-in fallback narrative templates.
	FallbackTemplatesPath string `envconfig:"FALLBACK_TEMPLATES_PATH"`

	// Store
	DBPath string `envconfig:"DB_PATH" default:"data/questbot.db"`

	// Delivery
	DefaultMaxGuildMembers int           `envconfig:"DEFAULT_MAX_GUILD_MEMBERS" default:"20"`
	DedupeWindow           time.Duration `envconfig:"DEDUPE_WINDOW" default:"10m"`

	// Ops API
	OpsListenAddr string `envconfig:"OPS_LISTEN_ADDR" default:":8090"`
	OpsAPIKey     string `envconfig:"OPS_API_KEY"`
	OpsCORSOrigins string `envconfig:"OPS_CORS_ORIGINS"`
}

// SlackEnabled returns true if a Slack bot token is configured.
func (c *Config) SlackEnabled() bool {
	return c.SlackBotToken != ""
}

// JiraEnabled returns true if the Jira REST API is configured.
func (c *Config) JiraEnabled() bool {
	return c.JiraBaseURL != "" && c.JiraAPIEmail != "" && c.JiraAPIToken != ""
}

// OllamaEnabled returns true if the model service is configured.
func (c *Config) OllamaEnabled() bool {
	return c.OllamaBaseURL != ""
}

// Development returns true when running in development mode.
func (c *Config) Development() bool {
	return strings.EqualFold(c.Environment, "development")
}

// Validate fails fast on missing credentials the pipeline cannot run without.
func (c *Config) Validate() error {
	if c.JiraWebhookSecret == "" {
		return fmt.Errorf("JIRA_WEBHOOK_SECRET is required")
	}
	if c.SlackBotToken == "" {
		return fmt.Errorf("SLACK_BOT_TOKEN is required")
	}
	if c.SlackSigningSecret == "" {
		return fmt.Errorf("SLACK_SIGNING_SECRET is required")
	}
	if c.ReplayWindow <= 0 {
		return fmt.Errorf("REPLAY_WINDOW must be positive")
	}
	return nil
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	return &cfg, nil
}
