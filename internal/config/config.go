// ABOUTME: Configuration loading and parsing for recorder-gateway
// ABOUTME: Supports YAML files with environment variable expansion, defaults and duration parsing

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// AppDirName is the directory name used under the XDG config and data roots.
const AppDirName = "recorder-gateway"

// Config represents the complete recorder-gateway configuration
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Tailscale TailscaleConfig `yaml:"tailscale"`
	Registry  RegistryConfig  `yaml:"registry"`
	Database  DatabaseConfig  `yaml:"database"`
	Consent   ConsentConfig   `yaml:"consent"`
	Recorder  RecorderConfig  `yaml:"recorder"`
	RateLimit RateLimitConfig `yaml:"ratelimit"`
	Logging   LoggingConfig   `yaml:"logging"`
	Metrics   MetricsConfig   `yaml:"metrics"`
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
	HTTPS     bool   `yaml:"https"` // serve on :443 with a tailnet certificate
}

// RegistryConfig holds the location of the app registry file
type RegistryConfig struct {
	Path string `yaml:"path"`
}

// DatabaseConfig holds the audit database configuration
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// Consent modes
const (
	ConsentPrompt  = "prompt"
	ConsentApprove = "approve"
	ConsentDeny    = "deny"
)

// ConsentConfig controls how registrations are approved.
type ConsentConfig struct {
	Mode    string        `yaml:"mode"` // prompt, approve, deny
	Timeout time.Duration `yaml:"-"`

	// Raw string value for YAML unmarshaling
	TimeoutRaw string `yaml:"timeout"`
}

// Recorder drivers
const (
	RecorderCommand = "command"
	RecorderNop     = "nop"
)

// RecorderConfig describes how recording commands reach the host.
// The placeholder {format} in start_command is replaced with the
// filename format requested by the app.
type RecorderConfig struct {
	Driver        string   `yaml:"driver"` // command, nop
	StartCommand  []string `yaml:"start_command"`
	StopCommand   []string `yaml:"stop_command"`
	DefaultFormat string   `yaml:"default_format"`

	// CommandTimeout bounds each start or stop command.
	CommandTimeout time.Duration `yaml:"-"`

	// Raw string value for YAML unmarshaling
	CommandTimeoutRaw string `yaml:"command_timeout"`
}

// RateLimitConfig bounds registration attempts per remote address.
type RateLimitConfig struct {
	RegisterPerMinute float64       `yaml:"register_per_minute"`
	RegisterBurst     int           `yaml:"register_burst"`
	IdleTTL           time.Duration `yaml:"-"`

	// Raw string value for YAML unmarshaling
	IdleTTLRaw string `yaml:"idle_ttl"`
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

// Default returns a configuration with every default applied. Paths live
// under the XDG data directory for recorder-gateway.
func Default() *Config {
	dataDir := DataDir()
	return &Config{
		Server: ServerConfig{HTTPAddr: "127.0.0.1:4444"},
		Tailscale: TailscaleConfig{
			Hostname: AppDirName,
			StateDir: filepath.Join(dataDir, "tsnet"),
		},
		Registry: RegistryConfig{Path: filepath.Join(dataDir, "apps.ock")},
		Database: DatabaseConfig{Path: filepath.Join(dataDir, "audit.db")},
		Consent:  ConsentConfig{Mode: ConsentPrompt},
		Recorder: RecorderConfig{
			Driver:        RecorderNop,
			DefaultFormat:  "%CCYY-%MM-%DD %hh-%mm-%ss",
			CommandTimeout: 30 * time.Second,
		},
		RateLimit: RateLimitConfig{
			RegisterPerMinute: 10,
			RegisterBurst:     3,
			IdleTTL:           10 * time.Minute,
		},
		Logging: LoggingConfig{Level: "info", Format: "text"},
		Metrics: MetricsConfig{Enabled: false, Path: "/metrics"},
	}
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
// Keys missing from the file keep their Default values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML configuration data on top of Default.
func Parse(data []byte) (*Config, error) {
	// Expand environment variables in the raw YAML content
	expandedData := expandEnvVars(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expandedData), cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	// Parse duration fields
	if err := parseDurations(cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	// Validate required fields
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	// Match ${VAR_NAME} pattern
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		// Extract variable name from ${VAR_NAME}
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	// The HTTP address is required unless Tailscale is enabled
	if !c.Tailscale.Enabled && c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required (or enable tailscale)")
	}

	// Tailscale requires a hostname
	if c.Tailscale.Enabled && c.Tailscale.Hostname == "" {
		return fmt.Errorf("tailscale.hostname is required when tailscale is enabled")
	}

	if c.Registry.Path == "" {
		return fmt.Errorf("registry.path is required")
	}

	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}

	switch c.Consent.Mode {
	case ConsentPrompt, ConsentApprove, ConsentDeny:
	default:
		return fmt.Errorf("consent.mode must be one of %s, %s, %s (got %q)",
			ConsentPrompt, ConsentApprove, ConsentDeny, c.Consent.Mode)
	}
	if c.Consent.Timeout < 0 {
		return fmt.Errorf("consent.timeout must not be negative")
	}

	switch c.Recorder.Driver {
	case RecorderNop:
	case RecorderCommand:
		if len(c.Recorder.StartCommand) == 0 || len(c.Recorder.StopCommand) == 0 {
			return fmt.Errorf("recorder.start_command and recorder.stop_command are required for the command driver")
		}
	default:
		return fmt.Errorf("recorder.driver must be %s or %s (got %q)", RecorderCommand, RecorderNop, c.Recorder.Driver)
	}

	if c.Recorder.CommandTimeout < 0 {
		return fmt.Errorf("recorder.command_timeout must not be negative")
	}

	if c.Metrics.Enabled && !strings.HasPrefix(c.Metrics.Path, "/") {
		return fmt.Errorf("metrics.path must start with / (got %q)", c.Metrics.Path)
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	var err error

	if cfg.Consent.TimeoutRaw != "" {
		cfg.Consent.Timeout, err = time.ParseDuration(cfg.Consent.TimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing consent.timeout %q: %w", cfg.Consent.TimeoutRaw, err)
		}
	}

	if cfg.Recorder.CommandTimeoutRaw != "" {
		cfg.Recorder.CommandTimeout, err = time.ParseDuration(cfg.Recorder.CommandTimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing recorder.command_timeout %q: %w", cfg.Recorder.CommandTimeoutRaw, err)
		}
	}

	if cfg.RateLimit.IdleTTLRaw != "" {
		cfg.RateLimit.IdleTTL, err = time.ParseDuration(cfg.RateLimit.IdleTTLRaw)
		if err != nil {
			return fmt.Errorf("parsing ratelimit.idle_ttl %q: %w", cfg.RateLimit.IdleTTLRaw, err)
		}
	}

	return nil
}
