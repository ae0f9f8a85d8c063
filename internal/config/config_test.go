// ABOUTME: Tests for configuration loading and parsing
// ABOUTME: Covers YAML loading, env var expansion, defaults, .env preload and validation

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	configPath := filepath.Join(t.TempDir(), "console.yaml")
	if err := os.WriteFile(configPath, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return configPath
}

const minimalConfig = `
server:
  http_addr: "127.0.0.1:8090"
agents:
  endpoint: "http://agents.local/chat"
  coordinator:
    id: "coord-1"
`

func TestLoad_ValidConfig(t *testing.T) {
	configPath := writeConfig(t, `
server:
  http_addr: "0.0.0.0:8090"

database:
  driver: "sqlite"
  path: "./console.db"

agents:
  endpoint: "http://agents.local/chat"
  api_key: "secret"
  user_id: "ops@example.com"
  request_timeout: "45s"
  coordinator:
    id: "coord-1"
  knowledge:
    id: "kb-agent"
    name: "Docs Agent"
  channel:
    id: "channel-agent"

events:
  enabled: true
  endpoint: "wss://metrics.local/ws"
  dial_timeout: "2s"

activity:
  redis_url: "redis://localhost:6379/0"

knowledge:
  base_url: "http://rag.local/v3"
  rag_id: "rag-1"
  request_timeout: "10s"

logging:
  level: "debug"
  format: "json"
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.HTTPAddr != "0.0.0.0:8090" {
		t.Errorf("Server.HTTPAddr = %q, want %q", cfg.Server.HTTPAddr, "0.0.0.0:8090")
	}
	if cfg.Database.Driver != DriverSQLite || cfg.Database.Path != "./console.db" {
		t.Errorf("Database = %+v, want sqlite ./console.db", cfg.Database)
	}
	if cfg.Agents.UserID != "ops@example.com" {
		t.Errorf("Agents.UserID = %q", cfg.Agents.UserID)
	}
	if cfg.Agents.RequestTimeout != 45*time.Second {
		t.Errorf("Agents.RequestTimeout = %v, want 45s", cfg.Agents.RequestTimeout)
	}
	if cfg.Agents.Knowledge.Name != "Docs Agent" {
		t.Errorf("Agents.Knowledge.Name = %q, want %q", cfg.Agents.Knowledge.Name, "Docs Agent")
	}
	if cfg.Agents.Channel.Name != DefaultChannelName {
		t.Errorf("Agents.Channel.Name = %q, want default %q", cfg.Agents.Channel.Name, DefaultChannelName)
	}
	if !cfg.Events.Enabled || cfg.Events.DialTimeout != 2*time.Second {
		t.Errorf("Events = %+v", cfg.Events)
	}
	if cfg.Activity.RedisURL != "redis://localhost:6379/0" {
		t.Errorf("Activity.RedisURL = %q", cfg.Activity.RedisURL)
	}
	if cfg.Knowledge.RagID != "rag-1" || cfg.Knowledge.RequestTimeout != 10*time.Second {
		t.Errorf("Knowledge = %+v", cfg.Knowledge)
	}
	if cfg.Logging.Level != "debug" || cfg.Logging.Format != "json" {
		t.Errorf("Logging = %+v", cfg.Logging)
	}

	personas := cfg.Agents.Personas()
	if len(personas) != 3 || personas[0].ID != "coord-1" || personas[1].ID != "kb-agent" {
		t.Errorf("Personas() = %+v", personas)
	}
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalConfig))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Database.Driver != DriverMemory {
		t.Errorf("Database.Driver = %q, want %q", cfg.Database.Driver, DriverMemory)
	}
	if cfg.Agents.RequestTimeout != 120*time.Second {
		t.Errorf("Agents.RequestTimeout = %v, want 120s", cfg.Agents.RequestTimeout)
	}
	if cfg.Agents.Coordinator.Name != DefaultCoordinatorName {
		t.Errorf("Agents.Coordinator.Name = %q", cfg.Agents.Coordinator.Name)
	}
	if cfg.Events.Enabled {
		t.Error("Events.Enabled should default to false")
	}
	if cfg.Events.DialTimeout != 5*time.Second {
		t.Errorf("Events.DialTimeout = %v, want 5s", cfg.Events.DialTimeout)
	}
	if cfg.Logging.Level != "info" || cfg.Logging.Format != "text" {
		t.Errorf("Logging = %+v", cfg.Logging)
	}
}

func TestLoad_SQLiteDefaultsToMemory(t *testing.T) {
	cfg, err := Parse([]byte(minimalConfig + "database:\n  driver: sqlite\n"))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if cfg.Database.Path != ":memory:" {
		t.Errorf("Database.Path = %q, want :memory:", cfg.Database.Path)
	}
}

func TestLoad_EnvVarExpansion(t *testing.T) {
	t.Setenv("TEST_CONSOLE_API_KEY", "key-from-env")
	t.Setenv("TEST_COORDINATOR_ID", "coord-from-env")

	cfg, err := Load(writeConfig(t, `
server:
  http_addr: "127.0.0.1:8090"
agents:
  endpoint: "http://agents.local/chat"
  api_key: "${TEST_CONSOLE_API_KEY}"
  coordinator:
    id: "${TEST_COORDINATOR_ID}"
`))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Agents.APIKey != "key-from-env" {
		t.Errorf("Agents.APIKey = %q, want %q", cfg.Agents.APIKey, "key-from-env")
	}
	if cfg.Agents.Coordinator.ID != "coord-from-env" {
		t.Errorf("Agents.Coordinator.ID = %q, want %q", cfg.Agents.Coordinator.ID, "coord-from-env")
	}
}

func TestLoad_EnvVarExpansion_UnsetVar(t *testing.T) {
	os.Unsetenv("TEST_CONSOLE_UNSET_VAR")

	_, err := Load(writeConfig(t, `
server:
  http_addr: "127.0.0.1:8090"
agents:
  endpoint: "http://agents.local/chat"
  coordinator:
    id: "${TEST_CONSOLE_UNSET_VAR}"
`))
	if err == nil {
		t.Fatal("Load() expected error for empty coordinator id, got nil")
	}
	if !strings.Contains(err.Error(), "agents.coordinator.id") {
		t.Errorf("error = %v, want mention of agents.coordinator.id", err)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/path/console.yaml")
	if err == nil {
		t.Error("Load() expected error for missing file, got nil")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	_, err := Load(writeConfig(t, "server:\n  http_addr: [unclosed\n"))
	if err == nil {
		t.Error("Load() expected error for invalid YAML, got nil")
	}
}

func TestLoad_InvalidDuration(t *testing.T) {
	_, err := Parse([]byte(minimalConfig + "events:\n  dial_timeout: \"soon\"\n"))
	if err == nil {
		t.Fatal("Parse() expected error for invalid duration, got nil")
	}
	if !strings.Contains(err.Error(), "events.dial_timeout") {
		t.Errorf("error = %v, want mention of events.dial_timeout", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		extra   string
		wantErr string
	}{
		{
			name:    "unknown driver",
			extra:   "database:\n  driver: postgres\n",
			wantErr: "database.driver",
		},
		{
			name:    "events enabled without endpoint",
			extra:   "events:\n  enabled: true\n",
			wantErr: "events.endpoint",
		},
		{
			name:    "tailscale without hostname",
			extra:   "tailscale:\n  enabled: true\n",
			wantErr: "tailscale.hostname",
		},
		{
			name:    "bad redis url",
			extra:   "activity:\n  redis_url: \"localhost:6379\"\n",
			wantErr: "activity.redis_url",
		},
		{
			name:    "bad log format",
			extra:   "logging:\n  format: xml\n",
			wantErr: "logging.format",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(minimalConfig + tt.extra))
			if err == nil {
				t.Fatalf("Parse() expected error containing %q, got nil", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %v, want it to contain %q", err, tt.wantErr)
			}
		})
	}
}

func TestValidate_TailscaleWithoutHTTPAddr(t *testing.T) {
	_, err := Parse([]byte(`
tailscale:
  enabled: true
  hostname: "console"
agents:
  endpoint: "http://agents.local/chat"
  coordinator:
    id: "coord-1"
`))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
}

func TestExample_ParsesWithEnv(t *testing.T) {
	t.Setenv("COVEN_COORDINATOR_ID", "coord-1")

	cfg, err := Parse([]byte(Example))
	if err != nil {
		t.Fatalf("Parse(Example) error = %v", err)
	}
	if cfg.Agents.Coordinator.ID != "coord-1" {
		t.Errorf("Agents.Coordinator.ID = %q", cfg.Agents.Coordinator.ID)
	}
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	envPath := filepath.Join(dir, ".env")
	if err := os.WriteFile(envPath, []byte("TEST_DOTENV_VALUE=from-dotenv\n"), 0644); err != nil {
		t.Fatalf("failed to write .env: %v", err)
	}
	t.Setenv("TEST_DOTENV_VALUE", "")
	os.Unsetenv("TEST_DOTENV_VALUE")

	if err := LoadDotEnv(filepath.Join(dir, "missing.env"), envPath); err != nil {
		t.Fatalf("LoadDotEnv() error = %v", err)
	}
	if got := os.Getenv("TEST_DOTENV_VALUE"); got != "from-dotenv" {
		t.Errorf("TEST_DOTENV_VALUE = %q, want %q", got, "from-dotenv")
	}
}

func TestDefaultPath(t *testing.T) {
	t.Setenv("COVEN_CONSOLE_CONFIG", "/etc/coven/console.yaml")
	if got := DefaultPath(); got != "/etc/coven/console.yaml" {
		t.Errorf("DefaultPath() = %q", got)
	}

	t.Setenv("COVEN_CONSOLE_CONFIG", "")
	t.Setenv("XDG_CONFIG_HOME", "/tmp/xdg")
	if got := DefaultPath(); got != filepath.Join("/tmp/xdg", "coven", "console.yaml") {
		t.Errorf("DefaultPath() = %q", got)
	}
}
