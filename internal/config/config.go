// ABOUTME: Configuration loading and parsing for coven-console
// ABOUTME: Supports YAML files with environment variable expansion, .env preload and duration parsing

package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Database drivers
const (
	DriverMemory = "memory"
	DriverSQLite = "sqlite"
)

// Default persona labels, used for synthetic activity and the agents listing
const (
	DefaultCoordinatorName = "Customer Service Coordinator"
	DefaultKnowledgeName   = "Knowledge Retrieval Agent"
	DefaultChannelName     = "Channel Response Agent"
)

// Config represents the complete coven-console configuration
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Tailscale TailscaleConfig `yaml:"tailscale"`
	Database  DatabaseConfig  `yaml:"database"`
	Agents    AgentsConfig    `yaml:"agents"`
	Events    EventsConfig    `yaml:"events"`
	Activity  ActivityConfig  `yaml:"activity"`
	Knowledge KnowledgeConfig `yaml:"knowledge"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ServerConfig holds server address configuration
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr"`
}

// TailscaleConfig holds Tailscale tsnet configuration
type TailscaleConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Hostname  string `yaml:"hostname"`
	AuthKey   string `yaml:"auth_key"`
	StateDir  string `yaml:"state_dir"`
	Ephemeral bool   `yaml:"ephemeral"`
}

// DatabaseConfig selects the conversation store.
// Path defaults to ":memory:" so conversation history never outlives the process.
type DatabaseConfig struct {
	Driver string `yaml:"driver"` // memory (default) or sqlite
	Path   string `yaml:"path"`
}

// PersonaConfig identifies one remote agent persona
type PersonaConfig struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
}

// AgentsConfig holds the remote agent endpoint and the personas it serves
type AgentsConfig struct {
	Endpoint string `yaml:"endpoint"`
	APIKey   string `yaml:"api_key"`
	UserID   string `yaml:"user_id"`

	Coordinator PersonaConfig `yaml:"coordinator"`
	Knowledge   PersonaConfig `yaml:"knowledge"`
	Channel     PersonaConfig `yaml:"channel"`

	RequestTimeout time.Duration `yaml:"-"`

	// Raw string values for YAML unmarshaling
	RequestTimeoutRaw string `yaml:"request_timeout"`
}

// Personas returns the configured personas in display order
func (a AgentsConfig) Personas() []PersonaConfig {
	return []PersonaConfig{a.Coordinator, a.Knowledge, a.Channel}
}

// EventsConfig holds the agent activity stream configuration
type EventsConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Endpoint string `yaml:"endpoint"`

	DialTimeout time.Duration `yaml:"-"`

	DialTimeoutRaw string `yaml:"dial_timeout"`
}

// ActivityConfig holds optional activity fan-out settings
type ActivityConfig struct {
	// RedisURL enables publishing activity events to Redis pub/sub when set
	RedisURL string `yaml:"redis_url"`
}

// KnowledgeConfig holds the document-management service configuration
type KnowledgeConfig struct {
	BaseURL string `yaml:"base_url"`
	RagID   string `yaml:"rag_id"`

	RequestTimeout time.Duration `yaml:"-"`

	RequestTimeoutRaw string `yaml:"request_timeout"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// DefaultPath returns the config location: COVEN_CONSOLE_CONFIG if set,
// otherwise $XDG_CONFIG_HOME/coven/console.yaml (falling back to ~/.config).
func DefaultPath() string {
	if p := os.Getenv("COVEN_CONSOLE_CONFIG"); p != "" {
		return p
	}
	dir := os.Getenv("XDG_CONFIG_HOME")
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return filepath.Join(".config", "coven", "console.yaml")
		}
		dir = filepath.Join(home, ".config")
	}
	return filepath.Join(dir, "coven", "console.yaml")
}

// LoadDotEnv loads variables from the given .env files into the process environment.
// Missing files are ignored; variables already set are not overridden.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("loading %s: %w", p, err)
		}
	}
	return nil
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	return Parse(data)
}

// Parse builds a Config from raw YAML bytes, applying the same expansion,
// defaults and validation as Load.
func Parse(data []byte) (*Config, error) {
	expandedData := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyDefaults(&cfg)

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		varName := envVarPattern.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

func applyDefaults(cfg *Config) {
	if cfg.Database.Driver == "" {
		cfg.Database.Driver = DriverMemory
	}
	if cfg.Database.Driver == DriverSQLite && cfg.Database.Path == "" {
		cfg.Database.Path = ":memory:"
	}
	if cfg.Agents.UserID == "" {
		cfg.Agents.UserID = "console-operator"
	}
	if cfg.Agents.RequestTimeoutRaw == "" {
		cfg.Agents.RequestTimeoutRaw = "120s"
	}
	if cfg.Agents.Coordinator.Name == "" {
		cfg.Agents.Coordinator.Name = DefaultCoordinatorName
	}
	if cfg.Agents.Knowledge.Name == "" {
		cfg.Agents.Knowledge.Name = DefaultKnowledgeName
	}
	if cfg.Agents.Channel.Name == "" {
		cfg.Agents.Channel.Name = DefaultChannelName
	}
	if cfg.Events.DialTimeoutRaw == "" {
		cfg.Events.DialTimeoutRaw = "5s"
	}
	if cfg.Knowledge.RequestTimeoutRaw == "" {
		cfg.Knowledge.RequestTimeoutRaw = "30s"
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "text"
	}
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if !c.Tailscale.Enabled && c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required (or enable tailscale)")
	}

	if c.Tailscale.Enabled && c.Tailscale.Hostname == "" {
		return fmt.Errorf("tailscale.hostname is required when tailscale is enabled")
	}

	switch c.Database.Driver {
	case DriverMemory, DriverSQLite:
	default:
		return fmt.Errorf("database.driver must be %q or %q, got %q", DriverMemory, DriverSQLite, c.Database.Driver)
	}

	if c.Agents.Endpoint == "" {
		return fmt.Errorf("agents.endpoint is required")
	}
	if c.Agents.Coordinator.ID == "" {
		return fmt.Errorf("agents.coordinator.id is required")
	}

	if c.Events.Enabled && c.Events.Endpoint == "" {
		return fmt.Errorf("events.endpoint is required when events are enabled")
	}

	if c.Activity.RedisURL != "" && !strings.HasPrefix(c.Activity.RedisURL, "redis://") &&
		!strings.HasPrefix(c.Activity.RedisURL, "rediss://") {
		return fmt.Errorf("activity.redis_url must be a redis:// or rediss:// URL")
	}

	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format must be text or json, got %q", c.Logging.Format)
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	var err error

	if cfg.Agents.RequestTimeoutRaw != "" {
		cfg.Agents.RequestTimeout, err = time.ParseDuration(cfg.Agents.RequestTimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing agents.request_timeout %q: %w", cfg.Agents.RequestTimeoutRaw, err)
		}
	}

	if cfg.Events.DialTimeoutRaw != "" {
		cfg.Events.DialTimeout, err = time.ParseDuration(cfg.Events.DialTimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing events.dial_timeout %q: %w", cfg.Events.DialTimeoutRaw, err)
		}
	}

	if cfg.Knowledge.RequestTimeoutRaw != "" {
		cfg.Knowledge.RequestTimeout, err = time.ParseDuration(cfg.Knowledge.RequestTimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing knowledge.request_timeout %q: %w", cfg.Knowledge.RequestTimeoutRaw, err)
		}
	}

	return nil
}

// Example is the annotated configuration written by `coven-console init`
const Example = `# coven-console configuration

server:
  http_addr: "127.0.0.1:8090"

tailscale:
  enabled: false
  hostname: "coven-console"
  auth_key: "${TS_AUTHKEY}"
  ephemeral: false

database:
  driver: "memory"   # memory or sqlite
  path: ""           # sqlite only, defaults to :memory:

agents:
  endpoint: "https://agent.example.com/v3/inference/chat/"
  api_key: "${COVEN_CONSOLE_API_KEY}"
  user_id: "console-operator"
  request_timeout: "120s"
  coordinator:
    id: "${COVEN_COORDINATOR_ID}"
  knowledge:
    id: "${COVEN_KNOWLEDGE_AGENT_ID}"
  channel:
    id: "${COVEN_CHANNEL_AGENT_ID}"

events:
  enabled: true
  endpoint: "wss://metrics.example.com/ws"
  dial_timeout: "5s"

activity:
  redis_url: ""

knowledge:
  base_url: "https://rag.example.com/v3"
  rag_id: "${COVEN_RAG_ID}"
  request_timeout: "30s"

logging:
  level: "info"
  format: "text"
`
