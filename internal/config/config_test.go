// ABOUTME: Tests for configuration loading and parsing
// ABOUTME: Covers YAML loading, env var expansion, defaults, and validation

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "parley.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return path
}

func TestLoad_ValidConfig(t *testing.T) {
	configPath := writeConfig(t, `
server:
  http_addr: "0.0.0.0:8080"
  grpc_addr: "0.0.0.0:50051"
  role: "api"

database:
  path: "./test.db"

auth:
  jwt_secret: "`+testSecret+`"
  backend_secret: "s3cret"

chat:
  audit_dir: "/var/log/parley"
  bridge_timeout: "45s"

dialogue:
  default_language: "NL"
  timeout: "5s"

notifications:
  backend: "onesignal"
  onesignal:
    app_id: "app"
    api_key: "key"
  refresh_interval: "30m"

ping:
  wait: "5s"

tasks:
  schedule_path: "./conversations.csv"
  stagger: "20s"

logging:
  level: "debug"
  format: "json"

metrics:
  enabled: true
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.HTTPAddr != "0.0.0.0:8080" {
		t.Errorf("Server.HTTPAddr = %q, want %q", cfg.Server.HTTPAddr, "0.0.0.0:8080")
	}
	if cfg.Server.Role != RoleAPI {
		t.Errorf("Server.Role = %q, want %q", cfg.Server.Role, RoleAPI)
	}
	if cfg.Auth.BackendSecret != "s3cret" {
		t.Errorf("Auth.BackendSecret = %q, want %q", cfg.Auth.BackendSecret, "s3cret")
	}
	if cfg.Chat.BridgeTimeout != 45*time.Second {
		t.Errorf("Chat.BridgeTimeout = %v, want %v", cfg.Chat.BridgeTimeout, 45*time.Second)
	}
	if cfg.Dialogue.DefaultLanguage != "NL" {
		t.Errorf("Dialogue.DefaultLanguage = %q, want NL", cfg.Dialogue.DefaultLanguage)
	}
	if cfg.Dialogue.Timeout != 5*time.Second {
		t.Errorf("Dialogue.Timeout = %v, want 5s", cfg.Dialogue.Timeout)
	}
	if cfg.Notifications.RefreshInterval != 30*time.Minute {
		t.Errorf("Notifications.RefreshInterval = %v, want 30m", cfg.Notifications.RefreshInterval)
	}
	if cfg.Ping.Wait != 5*time.Second {
		t.Errorf("Ping.Wait = %v, want 5s", cfg.Ping.Wait)
	}
	if cfg.Tasks.Stagger != 20*time.Second {
		t.Errorf("Tasks.Stagger = %v, want 20s", cfg.Tasks.Stagger)
	}
	if cfg.Logging.Format != "json" {
		t.Errorf("Logging.Format = %q, want json", cfg.Logging.Format)
	}
	if !cfg.Metrics.Enabled || cfg.Metrics.Path != "/metrics" {
		t.Errorf("Metrics = %+v, want enabled at /metrics", cfg.Metrics)
	}
}

func TestLoad_Defaults(t *testing.T) {
	configPath := writeConfig(t, `
server:
  http_addr: ":8080"
database:
  path: "./test.db"
auth:
  jwt_secret: "`+testSecret+`"
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Role != RoleAll {
		t.Errorf("Server.Role = %q, want %q", cfg.Server.Role, RoleAll)
	}
	if cfg.Chat.BotIdentity != "bot" {
		t.Errorf("Chat.BotIdentity = %q, want bot", cfg.Chat.BotIdentity)
	}
	if cfg.Chat.AuditTimezone != "Europe/Amsterdam" {
		t.Errorf("Chat.AuditTimezone = %q", cfg.Chat.AuditTimezone)
	}
	if cfg.Dialogue.DefaultLanguage != "EN" {
		t.Errorf("Dialogue.DefaultLanguage = %q, want EN", cfg.Dialogue.DefaultLanguage)
	}
	if len(cfg.Dialogue.Languages) != 2 {
		t.Fatalf("len(Dialogue.Languages) = %d, want 2", len(cfg.Dialogue.Languages))
	}
	nl := cfg.Dialogue.Language("nl")
	if nl == nil || nl.Port != 5006 || nl.ActionPort != 5056 {
		t.Errorf("Dialogue.Language(nl) = %+v", nl)
	}
	if cfg.Ping.Wait != 2*time.Minute || cfg.Ping.Interval != 100*time.Millisecond {
		t.Errorf("Ping = %+v", cfg.Ping)
	}
	if cfg.Tasks.PollInterval != time.Second || cfg.Tasks.BusyInterval != 100*time.Millisecond {
		t.Errorf("Tasks poll/busy = %v/%v", cfg.Tasks.PollInterval, cfg.Tasks.BusyInterval)
	}
	if cfg.Tasks.Stagger != 10*time.Second {
		t.Errorf("Tasks.Stagger = %v, want 10s", cfg.Tasks.Stagger)
	}
	if cfg.Notifications.Backend != NotifyNone {
		t.Errorf("Notifications.Backend = %q, want none", cfg.Notifications.Backend)
	}
	if !cfg.ValidConversation("/restart") {
		t.Error("default catalog should contain /restart")
	}
	if cfg.ValidConversation("restart") {
		t.Error("catalog lookup should be exact")
	}
}

func TestLoad_EnvVarExpansion(t *testing.T) {
	t.Setenv("TEST_JWT_SECRET", testSecret)
	t.Setenv("TEST_BACKEND_SECRET", "from-env")

	configPath := writeConfig(t, `
server:
  http_addr: ":8080"
database:
  path: "./test.db"
auth:
  jwt_secret: "${TEST_JWT_SECRET}"
  backend_secret: "${TEST_BACKEND_SECRET}"
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Auth.BackendSecret != "from-env" {
		t.Errorf("Auth.BackendSecret = %q, want %q", cfg.Auth.BackendSecret, "from-env")
	}
}

func TestLoad_RoleFromEnv(t *testing.T) {
	t.Setenv("PARLEY_ROLE", "tasks")

	configPath := writeConfig(t, `
database:
  path: "./test.db"
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Role != RoleTasks {
		t.Errorf("Server.Role = %q, want tasks", cfg.Server.Role)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err == nil {
		t.Fatal("Load() expected error for missing file")
	}
}

func TestLoad_InvalidDuration(t *testing.T) {
	configPath := writeConfig(t, `
server:
  http_addr: ":8080"
database:
  path: "./test.db"
auth:
  jwt_secret: "`+testSecret+`"
ping:
  wait: "forever"
`)

	_, err := Load(configPath)
	if err == nil {
		t.Fatal("Load() expected error for invalid duration")
	}
	if !strings.Contains(err.Error(), "ping.wait") {
		t.Errorf("error = %v, want mention of ping.wait", err)
	}
}

func TestValidate(t *testing.T) {
	base := func() string {
		return "server:\n  http_addr: \":8080\"\ndatabase:\n  path: \"./t.db\"\nauth:\n  jwt_secret: \"" + testSecret + "\"\n"
	}

	tests := []struct {
		name    string
		extra   string
		wantErr string
	}{
		{"bad role", "  role: \"worker\"\n", "server.role"},
		{"unknown backend", "notifications:\n  backend: \"pigeon\"\n", "notifications.backend"},
		{"onesignal without keys", "notifications:\n  backend: \"onesignal\"\n", "onesignal"},
		{"unknown default language", "dialogue:\n  default_language: \"DE\"\n", "default_language"},
		{"conversation without slash", "conversations:\n  - \"greet\"\n", "must start with /"},
		{"bad timezone", "chat:\n  audit_timezone: \"Mars/Olympus\"\n", "audit_timezone"},
		{"bad log format", "logging:\n  format: \"xml\"\n", "logging.format"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			content := base()
			if strings.HasPrefix(tt.extra, "  role") {
				content = strings.Replace(content, "server:\n", "server:\n"+tt.extra, 1)
			} else {
				content += tt.extra
			}
			_, err := Parse([]byte(content))
			if err == nil {
				t.Fatalf("Parse() expected error containing %q", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %v, want %q", err, tt.wantErr)
			}
		})
	}
}

func TestValidate_ShortJWTSecret(t *testing.T) {
	_, err := Parse([]byte("server:\n  http_addr: \":8080\"\ndatabase:\n  path: \"./t.db\"\nauth:\n  jwt_secret: \"short\"\n"))
	if err == nil || !strings.Contains(err.Error(), "32 bytes") {
		t.Errorf("Parse() error = %v, want jwt length error", err)
	}
}

func TestDefaultPath(t *testing.T) {
	t.Setenv("PARLEY_CONFIG", "/etc/parley.yaml")
	if got := DefaultPath(); got != "/etc/parley.yaml" {
		t.Errorf("DefaultPath() = %q", got)
	}

	t.Setenv("PARLEY_CONFIG", "")
	t.Setenv("XDG_CONFIG_HOME", "/xdg")
	if got := DefaultPath(); got != filepath.Join("/xdg", "parley", "parley.yaml") {
		t.Errorf("DefaultPath() = %q", got)
	}
}
