// ABOUTME: Configuration loading and parsing for parley
// ABOUTME: Supports YAML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"
	_ "time/tzdata" // audit timezone must resolve on minimal images

	"gopkg.in/yaml.v3"
)

// Process roles. A deployment runs exactly one tasks-role process.
const (
	RoleAPI   = "api"
	RoleTasks = "tasks"
	RoleAll   = "all"
)

// Notification backends
const (
	NotifyNone      = "none"
	NotifyOneSignal = "onesignal"
	NotifyMatrix    = "matrix"
	NotifyTelegram  = "telegram"
)

// Config represents the complete parley configuration
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Tailscale     TailscaleConfig     `yaml:"tailscale"`
	Database      DatabaseConfig      `yaml:"database"`
	Auth          AuthConfig          `yaml:"auth"`
	Chat          ChatConfig          `yaml:"chat"`
	Dialogue      DialogueConfig      `yaml:"dialogue"`
	Notifications NotificationsConfig `yaml:"notifications"`
	Ping          PingConfig          `yaml:"ping"`
	Tasks         TasksConfig         `yaml:"tasks"`
	Conversations []string            `yaml:"conversations"`
	Demo          DemoConfig          `yaml:"demo"`
	Logging       LoggingConfig       `yaml:"logging"`
	Metrics       MetricsConfig       `yaml:"metrics"`
}

// ServerConfig holds server address configuration
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr"`
	GRPCAddr string `yaml:"grpc_addr"` // optional gRPC health endpoint
	Role     string `yaml:"role"`
}

// TailscaleConfig holds Tailscale tsnet configuration
type TailscaleConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Hostname  string `yaml:"hostname"`
	AuthKey   string `yaml:"auth_key"`
	StateDir  string `yaml:"state_dir"`
	Ephemeral bool   `yaml:"ephemeral"`
	Funnel    bool   `yaml:"funnel"` // Enable public Funnel (implies HTTPS)
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// AuthConfig holds authentication configuration
type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret"`
	// BackendSecret authenticates bot ingress calls. It may be a bcrypt hash.
	BackendSecret string `yaml:"backend_secret"`
}

// ChatConfig holds message log and bridge settings
type ChatConfig struct {
	BotIdentity   string        `yaml:"bot_identity"`
	AuditDir      string        `yaml:"audit_dir"`
	AuditTimezone string        `yaml:"audit_timezone"`
	BridgeTimeout time.Duration `yaml:"-"`
	// AsyncBridge returns sync responses before the engine replies; the
	// replies then arrive on the next sync.
	AsyncBridge bool `yaml:"async_bridge"`

	BridgeTimeoutRaw string `yaml:"bridge_timeout"`
}

// LanguageConfig describes one dialogue engine instance
type LanguageConfig struct {
	Code       string `yaml:"code"`
	Title      string `yaml:"title"`
	Port       int    `yaml:"port"`
	ActionPort int    `yaml:"action_port"`
}

// DialogueConfig holds the dialogue engine endpoints.
// URL templates may contain {port}; the tracker URL also takes {sender}.
type DialogueConfig struct {
	EngineURL       string           `yaml:"engine_url"`
	TrackerURL      string           `yaml:"tracker_url"`
	ActionURL       string           `yaml:"action_url"`
	DefaultLanguage string           `yaml:"default_language"`
	Languages       []LanguageConfig `yaml:"languages"`
	Timeout         time.Duration    `yaml:"-"`

	TimeoutRaw string `yaml:"timeout"`
}

// OneSignalConfig holds OneSignal push settings
type OneSignalConfig struct {
	AppID   string `yaml:"app_id"`
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`
	Heading string `yaml:"heading"`
}

// MatrixConfig holds Matrix notifier settings
type MatrixConfig struct {
	Homeserver  string `yaml:"homeserver"`
	UserID      string `yaml:"user_id"`
	AccessToken string `yaml:"access_token"`
}

// TelegramConfig holds Telegram notifier settings
type TelegramConfig struct {
	BotToken string `yaml:"bot_token"`
}

// NotificationsConfig selects and configures the push backend
type NotificationsConfig struct {
	Backend         string          `yaml:"backend"`
	DefaultMessage  string          `yaml:"default_message"`
	OneSignal       OneSignalConfig `yaml:"onesignal"`
	Matrix          MatrixConfig    `yaml:"matrix"`
	Telegram        TelegramConfig  `yaml:"telegram"`
	Timeout         time.Duration   `yaml:"-"`
	RefreshInterval time.Duration   `yaml:"-"`

	TimeoutRaw         string `yaml:"timeout"`
	RefreshIntervalRaw string `yaml:"refresh_interval"`
}

// PingConfig holds long-poll timing
type PingConfig struct {
	Wait     time.Duration `yaml:"-"`
	Interval time.Duration `yaml:"-"`

	WaitRaw     string `yaml:"wait"`
	IntervalRaw string `yaml:"interval"`
}

// TasksConfig holds task runner settings
type TasksConfig struct {
	SchedulePath      string        `yaml:"schedule_path"`
	WatchSchedule     bool          `yaml:"watch_schedule"`
	PollInterval      time.Duration `yaml:"-"`
	BusyInterval      time.Duration `yaml:"-"`
	ReconcileInterval time.Duration `yaml:"-"`
	Stagger           time.Duration `yaml:"-"`
	LockTimeout       time.Duration `yaml:"-"`

	PollIntervalRaw      string `yaml:"poll_interval"`
	BusyIntervalRaw      string `yaml:"busy_interval"`
	ReconcileIntervalRaw string `yaml:"reconcile_interval"`
	StaggerRaw           string `yaml:"stagger"`
	LockTimeoutRaw       string `yaml:"lock_timeout"`
}

// InstitutionConfig maps a demo institution to its username postfix
type InstitutionConfig struct {
	Name    string `yaml:"name"`
	Postfix string `yaml:"postfix"`
}

// DemoConfig controls the unauthenticated demo endpoints
type DemoConfig struct {
	Enabled      bool                `yaml:"enabled"`
	Institutions []InstitutionConfig `yaml:"institutions"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig holds metrics endpoint configuration
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// DefaultConversations is the catalog of conversation names the admin tooling accepts.
var DefaultConversations = []string{
	"/request_diary_01",
	"/request_diary_10_12",
	"/request_feedback",
	"/request_tam",
	"/request_well_being",
	"/request_phq_depression",
	"/request_gad_anxiety",
	"/request_test_anxiety",
	"/request_efficacy",
	"/request_exam_prep",
	"/request_update",
	"/request_check_in",
	"/request_covid",
	"/request_cbt",
	"/request_welcome",
	"/request_farewell1",
	"/request_farewell2",
	"/restart",
}

// DefaultLanguages mirrors the two deployed engine instances.
var DefaultLanguages = []LanguageConfig{
	{Code: "EN", Title: "English", Port: 5005, ActionPort: 5055},
	{Code: "NL", Title: "Nederlands", Port: 5006, ActionPort: 5056},
}

// DefaultInstitutions are the demo identity postfixes.
var DefaultInstitutions = []InstitutionConfig{
	{Name: "eur", Postfix: "@eur.nl"},
	{Name: "hr", Postfix: "@hr.nl"},
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

// Parse builds a Config from raw YAML bytes.
func Parse(data []byte) (*Config, error) {
	expandedData := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// DefaultPath resolves the config file location.
// Order: PARLEY_CONFIG, $XDG_CONFIG_HOME/parley/parley.yaml, ~/.config/parley/parley.yaml.
func DefaultPath() string {
	if p := os.Getenv("PARLEY_CONFIG"); p != "" {
		return p
	}
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "parley", "parley.yaml")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "parley.yaml"
	}
	return filepath.Join(home, ".config", "parley", "parley.yaml")
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

func (c *Config) applyDefaults() {
	if c.Server.Role == "" {
		c.Server.Role = RoleAll
	}
	if r := os.Getenv("PARLEY_ROLE"); r != "" {
		c.Server.Role = r
	}
	if c.Chat.BotIdentity == "" {
		c.Chat.BotIdentity = "bot"
	}
	if c.Chat.AuditTimezone == "" {
		c.Chat.AuditTimezone = "Europe/Amsterdam"
	}
	if c.Chat.BridgeTimeout == 0 {
		c.Chat.BridgeTimeout = 30 * time.Second
	}
	if c.Dialogue.EngineURL == "" {
		c.Dialogue.EngineURL = "http://localhost:{port}/webhooks/rest/webhook"
	}
	if c.Dialogue.TrackerURL == "" {
		c.Dialogue.TrackerURL = "http://localhost:{port}/conversations/{sender}/tracker/events"
	}
	if c.Dialogue.ActionURL == "" {
		c.Dialogue.ActionURL = "http://localhost:{port}/webhook"
	}
	if len(c.Dialogue.Languages) == 0 {
		c.Dialogue.Languages = append([]LanguageConfig(nil), DefaultLanguages...)
	}
	if c.Dialogue.DefaultLanguage == "" {
		c.Dialogue.DefaultLanguage = c.Dialogue.Languages[0].Code
	}
	if c.Dialogue.Timeout == 0 {
		c.Dialogue.Timeout = 20 * time.Second
	}
	if c.Notifications.Backend == "" {
		c.Notifications.Backend = NotifyNone
	}
	if c.Notifications.DefaultMessage == "" {
		c.Notifications.DefaultMessage = "New message"
	}
	if c.Notifications.OneSignal.BaseURL == "" {
		c.Notifications.OneSignal.BaseURL = "https://onesignal.com/api/v1"
	}
	if c.Notifications.Timeout == 0 {
		c.Notifications.Timeout = 10 * time.Second
	}
	if c.Notifications.RefreshInterval == 0 {
		c.Notifications.RefreshInterval = 15 * time.Minute
	}
	if c.Ping.Wait == 0 {
		c.Ping.Wait = 2 * time.Minute
	}
	if c.Ping.Interval == 0 {
		c.Ping.Interval = 100 * time.Millisecond
	}
	if c.Tasks.PollInterval == 0 {
		c.Tasks.PollInterval = time.Second
	}
	if c.Tasks.BusyInterval == 0 {
		c.Tasks.BusyInterval = 100 * time.Millisecond
	}
	if c.Tasks.ReconcileInterval == 0 {
		c.Tasks.ReconcileInterval = 15 * time.Minute
	}
	if c.Tasks.Stagger == 0 {
		c.Tasks.Stagger = 10 * time.Second
	}
	if c.Tasks.LockTimeout == 0 {
		c.Tasks.LockTimeout = 10 * time.Minute
	}
	if len(c.Conversations) == 0 {
		c.Conversations = append([]string(nil), DefaultConversations...)
	}
	if len(c.Demo.Institutions) == 0 {
		c.Demo.Institutions = append([]InstitutionConfig(nil), DefaultInstitutions...)
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	switch c.Server.Role {
	case RoleAPI, RoleTasks, RoleAll:
	default:
		return fmt.Errorf("server.role must be one of api, tasks, all (got %q)", c.Server.Role)
	}

	servesHTTP := c.Server.Role != RoleTasks
	if servesHTTP && !c.Tailscale.Enabled && c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required (or enable tailscale)")
	}

	if c.Tailscale.Enabled && c.Tailscale.Hostname == "" {
		return fmt.Errorf("tailscale.hostname is required when tailscale is enabled")
	}

	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}

	if servesHTTP && c.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret is required")
	}
	if servesHTTP && len(c.Auth.JWTSecret) < 32 {
		return fmt.Errorf("auth.jwt_secret must be at least 32 bytes")
	}

	if _, err := time.LoadLocation(c.Chat.AuditTimezone); err != nil {
		return fmt.Errorf("chat.audit_timezone %q: %w", c.Chat.AuditTimezone, err)
	}

	if c.Dialogue.Language(c.Dialogue.DefaultLanguage) == nil {
		return fmt.Errorf("dialogue.default_language %q is not in dialogue.languages", c.Dialogue.DefaultLanguage)
	}
	for _, lang := range c.Dialogue.Languages {
		if lang.Code == "" || lang.Port == 0 {
			return fmt.Errorf("dialogue.languages entries need code and port")
		}
	}

	switch c.Notifications.Backend {
	case NotifyNone:
	case NotifyOneSignal:
		if c.Notifications.OneSignal.AppID == "" || c.Notifications.OneSignal.APIKey == "" {
			return fmt.Errorf("notifications.onesignal.app_id and api_key are required")
		}
	case NotifyMatrix:
		if c.Notifications.Matrix.Homeserver == "" || c.Notifications.Matrix.AccessToken == "" {
			return fmt.Errorf("notifications.matrix.homeserver and access_token are required")
		}
	case NotifyTelegram:
		if c.Notifications.Telegram.BotToken == "" {
			return fmt.Errorf("notifications.telegram.bot_token is required")
		}
	default:
		return fmt.Errorf("notifications.backend %q is not supported", c.Notifications.Backend)
	}

	for _, name := range c.Conversations {
		if !strings.HasPrefix(name, "/") {
			return fmt.Errorf("conversation %q must start with /", name)
		}
	}

	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format must be text or json (got %q)", c.Logging.Format)
	}

	return nil
}

// Language returns the language entry for code, or nil.
func (d DialogueConfig) Language(code string) *LanguageConfig {
	for i := range d.Languages {
		if strings.EqualFold(d.Languages[i].Code, code) {
			return &d.Languages[i]
		}
	}
	return nil
}

// ValidConversation reports whether name is in the catalog.
func (c *Config) ValidConversation(name string) bool {
	for _, n := range c.Conversations {
		if n == name {
			return true
		}
	}
	return false
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	fields := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"chat.bridge_timeout", cfg.Chat.BridgeTimeoutRaw, &cfg.Chat.BridgeTimeout},
		{"dialogue.timeout", cfg.Dialogue.TimeoutRaw, &cfg.Dialogue.Timeout},
		{"notifications.timeout", cfg.Notifications.TimeoutRaw, &cfg.Notifications.Timeout},
		{"notifications.refresh_interval", cfg.Notifications.RefreshIntervalRaw, &cfg.Notifications.RefreshInterval},
		{"ping.wait", cfg.Ping.WaitRaw, &cfg.Ping.Wait},
		{"ping.interval", cfg.Ping.IntervalRaw, &cfg.Ping.Interval},
		{"tasks.poll_interval", cfg.Tasks.PollIntervalRaw, &cfg.Tasks.PollInterval},
		{"tasks.busy_interval", cfg.Tasks.BusyIntervalRaw, &cfg.Tasks.BusyInterval},
		{"tasks.reconcile_interval", cfg.Tasks.ReconcileIntervalRaw, &cfg.Tasks.ReconcileInterval},
		{"tasks.stagger", cfg.Tasks.StaggerRaw, &cfg.Tasks.Stagger},
		{"tasks.lock_timeout", cfg.Tasks.LockTimeoutRaw, &cfg.Tasks.LockTimeout},
	}

	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return fmt.Errorf("parsing %s %q: %w", f.name, f.raw, err)
		}
		*f.dst = d
	}

	return nil
}
