// Package config handles Kaiwa configuration loading.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultSearchPaths returns the config file search order.
// An explicit path (from -config flag) is checked first.
// Then: ./config.yaml, ~/.config/kaiwa/config.yaml, /etc/kaiwa/config.yaml.
func DefaultSearchPaths() []string {
	paths := []string{"config.yaml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "kaiwa", "config.yaml"))
	}

	paths = append(paths, "/etc/kaiwa/config.yaml")
	return paths
}

// FindConfig locates a config file. If explicit is non-empty, it must exist.
// Otherwise, searches DefaultSearchPaths and returns the first that exists.
// Returns the path found, or an error if nothing was found.
func FindConfig(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	for _, p := range DefaultSearchPaths() {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	return "", fmt.Errorf("no config file found (searched: %v)", DefaultSearchPaths())
}

// Config holds all Kaiwa configuration. It is constructed once at startup
// and passed by reference to each component; nothing reads the environment
// after Load returns.
type Config struct {
	Listen   ListenConfig   `yaml:"listen"`
	Line     LineConfig     `yaml:"line"`
	LLM      LLMConfig      `yaml:"llm"`
	Session  SessionConfig  `yaml:"session"`
	Tokens   TokensConfig   `yaml:"tokens"`
	Weather  WeatherConfig  `yaml:"weather"`
	Comfy    ComfyConfig    `yaml:"comfy"`
	Storage  StorageConfig  `yaml:"storage"`
	Search   SearchConfig   `yaml:"search"`
	LogLevel string         `yaml:"log_level"`
}

// ListenConfig defines the webhook HTTP server settings.
type ListenConfig struct {
	Address string `yaml:"address"` // Bind address (default: "" = all interfaces)
	Port    int    `yaml:"port"`    // Default: 8080
}

// LineConfig defines the LINE Messaging API credentials.
type LineConfig struct {
	ChannelSecret string `yaml:"channel_secret"`
	ChannelToken  string `yaml:"channel_token"`
}

// LLMConfig defines the chat-completion endpoint the orchestrator talks to.
// Any OpenAI-compatible server works (OpenAI, vLLM, LiteLLM, Ollama).
type LLMConfig struct {
	BaseURL string `yaml:"base_url"`
	APIKey  string `yaml:"api_key"`
	Model   string `yaml:"model"`
	// MaxToolRounds bounds the tool-invocation loop per reply (default 8).
	MaxToolRounds int `yaml:"max_tool_rounds"`
}

// SessionConfig defines conversation history storage.
type SessionConfig struct {
	// Backend selects the store: "redis" (default), "sqlite", or "memory".
	Backend string `yaml:"backend"`
	// HistoryLength is the maximum number of turns kept per user (default 41).
	HistoryLength int `yaml:"history_length"`
	// TTLHours is the retention window refreshed on every write (default 24).
	TTLHours int `yaml:"ttl_hours"`

	Redis      RedisConfig `yaml:"redis"`
	SQLitePath string      `yaml:"sqlite_path"`
}

// RedisConfig defines the Redis connection for the session store.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// TokensConfig defines the token budget shared by input and output checks.
type TokensConfig struct {
	// Limit is the maximum token count per message (default 4096).
	Limit int `yaml:"limit"`
}

// WeatherConfig defines the OpenWeatherMap access settings.
type WeatherConfig struct {
	APIKey string `yaml:"api_key"`
	// BaseURL overrides the API host, for tests (default
	// https://api.openweathermap.org/data/2.5).
	BaseURL string `yaml:"base_url"`
}

// ComfyConfig defines the ComfyUI render backend.
type ComfyConfig struct {
	URL          string `yaml:"url"`
	WorkflowPath string `yaml:"workflow_path"` // Default: COMFYUI_WORKFLOW.json
	// MaxAttempts is the number of history polls before giving up (default 30).
	MaxAttempts int `yaml:"max_attempts"`
	// PollIntervalSec is the delay between polls in seconds (default 2).
	PollIntervalSec int `yaml:"poll_interval_sec"`
	// Progress enables the advisory WebSocket progress listener.
	Progress bool `yaml:"progress"`
}

// StorageConfig defines the S3-compatible object storage for published assets.
type StorageConfig struct {
	// Endpoint is the host:port the client connects to.
	Endpoint string `yaml:"endpoint"`
	// PublicBase is the externally reachable base URL assets are served from.
	PublicBase string `yaml:"public_base"`
	Bucket     string `yaml:"bucket"`
	AccessKey  string `yaml:"access_key"`
	SecretKey  string `yaml:"secret_key"`
	Region     string `yaml:"region"` // Default: us-east-1
	UseSSL     bool   `yaml:"use_ssl"`
}

// SearchConfig defines the web search providers.
type SearchConfig struct {
	// Engine is the primary provider: "duckduckgo" (default) or "google".
	Engine       string `yaml:"engine"`
	GoogleAPIKey string `yaml:"google_api_key"`
	GoogleCX     string `yaml:"google_cx"`
}

// Load reads configuration from a YAML file and applies defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Listen.Port == 0 {
		c.Listen.Port = 8080
	}
	if c.LLM.MaxToolRounds <= 0 {
		c.LLM.MaxToolRounds = 8
	}
	if c.Session.Backend == "" {
		c.Session.Backend = "redis"
	}
	if c.Session.HistoryLength <= 0 {
		c.Session.HistoryLength = 41
	}
	if c.Session.TTLHours <= 0 {
		c.Session.TTLHours = 24
	}
	if c.Tokens.Limit <= 0 {
		c.Tokens.Limit = 4096
	}
	if c.Weather.BaseURL == "" {
		c.Weather.BaseURL = "https://api.openweathermap.org/data/2.5"
	}
	if c.Comfy.WorkflowPath == "" {
		c.Comfy.WorkflowPath = "COMFYUI_WORKFLOW.json"
	}
	if c.Comfy.MaxAttempts <= 0 {
		c.Comfy.MaxAttempts = 30
	}
	if c.Comfy.PollIntervalSec <= 0 {
		c.Comfy.PollIntervalSec = 2
	}
	if c.Storage.Region == "" {
		c.Storage.Region = "us-east-1"
	}
	if c.Search.Engine == "" {
		c.Search.Engine = "duckduckgo"
	}
}

// Validate checks that required settings are present.
func (c *Config) Validate() error {
	if c.Line.ChannelSecret == "" || c.Line.ChannelToken == "" {
		return fmt.Errorf("config: line.channel_secret and line.channel_token are required")
	}
	if c.LLM.BaseURL == "" || c.LLM.Model == "" {
		return fmt.Errorf("config: llm.base_url and llm.model are required")
	}
	switch c.Session.Backend {
	case "redis":
		if c.Session.Redis.Addr == "" {
			return fmt.Errorf("config: session.redis.addr is required for the redis backend")
		}
	case "sqlite":
		if c.Session.SQLitePath == "" {
			return fmt.Errorf("config: session.sqlite_path is required for the sqlite backend")
		}
	case "memory":
	default:
		return fmt.Errorf("config: unknown session backend %q (valid: redis, sqlite, memory)", c.Session.Backend)
	}
	// An empty public base would make the reply router's asset pattern
	// match any relative .png path, misrouting text replies as images.
	if c.Storage.Endpoint == "" || c.Storage.PublicBase == "" {
		return fmt.Errorf("config: storage.endpoint and storage.public_base are required")
	}
	if c.Search.Engine == "google" && (c.Search.GoogleAPIKey == "" || c.Search.GoogleCX == "") {
		return fmt.Errorf("config: search.google_api_key and search.google_cx are required for the google engine")
	}
	return nil
}

// SessionTTL returns the session retention window as a duration.
func (c *Config) SessionTTL() time.Duration {
	return time.Duration(c.Session.TTLHours) * time.Hour
}

// PollInterval returns the render poll delay as a duration.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Comfy.PollIntervalSec) * time.Second
}
