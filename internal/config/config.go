// ABOUTME: Configuration loading and parsing for coven-router
// ABOUTME: YAML or TOML files with environment variable expansion, duration parsing, and defaults

package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/2389/coven-router/internal/credential"
)

// Config represents the complete coven-router configuration
type Config struct {
	Bot     BotConfig     `yaml:"bot" toml:"bot"`
	Auth    AuthConfig    `yaml:"auth" toml:"auth"`
	Server  ServerConfig  `yaml:"server" toml:"server"`
	Dedupe  DedupeConfig  `yaml:"dedupe" toml:"dedupe"`
	Audit   AuditConfig   `yaml:"audit" toml:"audit"`
	Logging LoggingConfig `yaml:"logging" toml:"logging"`
	Metrics MetricsConfig `yaml:"metrics" toml:"metrics"`
}

// BotConfig holds router behaviour
type BotConfig struct {
	// MultiInstance gives every conversation its own agent
	MultiInstance bool   `yaml:"multi_instance" toml:"multi_instance"`
	Name          string `yaml:"name" toml:"name"`
	// EchoPrefix is prepended to replies by the built-in echo agent
	EchoPrefix string `yaml:"echo_prefix" toml:"echo_prefix"`
}

// AuthConfig describes the channel identity endpoint
type AuthConfig struct {
	Host                   string `yaml:"host" toml:"host"`
	URL                    string `yaml:"url" toml:"url"`
	ContentType            string `yaml:"content_type" toml:"content_type"`
	GrantType              string `yaml:"grant_type" toml:"grant_type"`
	Scope                  string `yaml:"scope" toml:"scope"`
	AppID                  string `yaml:"app_id" toml:"app_id"`
	AppSecret              string `yaml:"app_secret" toml:"app_secret"`
	PollingIntervalSeconds int    `yaml:"polling_interval_seconds" toml:"polling_interval_seconds"`

	Timeout    time.Duration `yaml:"-" toml:"-"`
	TimeoutRaw string        `yaml:"timeout" toml:"timeout"`
}

// ServerConfig holds listener addresses
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr" toml:"http_addr"`
	// GRPCAddr is optional; empty disables the gRPC health endpoint
	GRPCAddr string `yaml:"grpc_addr" toml:"grpc_addr"`
}

// DedupeConfig bounds the redelivery cache
type DedupeConfig struct {
	TTL     time.Duration `yaml:"-" toml:"-"`
	TTLRaw  string        `yaml:"ttl" toml:"ttl"`
	MaxSize int           `yaml:"max_size" toml:"max_size"`
}

// AuditConfig holds the event ledger location. An empty path disables it.
type AuditConfig struct {
	Path string `yaml:"path" toml:"path"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"`
}

// MetricsConfig holds metrics endpoint configuration
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" toml:"enabled"`
	Path    string `yaml:"path" toml:"path"`
}

// Defaults for the Bot Framework identity endpoint.
const (
	DefaultAuthHost        = "login.microsoftonline.com"
	DefaultAuthURL         = "https://login.microsoftonline.com/botframework.com/oauth2/v2.0/token"
	DefaultContentType     = "application/x-www-form-urlencoded"
	DefaultGrantType       = "client_credentials"
	DefaultScope           = "https://api.botframework.com/.default"
	DefaultPollingInterval = 3500
	DefaultAuthTimeout     = 10 * time.Second
	DefaultHTTPAddr        = "0.0.0.0:5000"
	DefaultDedupeTTL       = 5 * time.Minute
	DefaultDedupeMaxSize   = 10000
	DefaultMetricsPath     = "/metrics"
)

// Load reads a configuration file from the given path and returns a parsed Config.
// Files ending in .toml are decoded as TOML, everything else as YAML.
// Environment variables in the format ${VAR_NAME} are expanded first.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	return Parse(string(data), strings.EqualFold(filepath.Ext(path), ".toml"))
}

// Parse decodes configuration text. It expands environment variables,
// parses durations, applies defaults, and validates.
func Parse(text string, isTOML bool) (*Config, error) {
	expanded := expandEnvVars(text)

	var cfg Config
	if isTOML {
		if _, err := toml.Decode(expanded, &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	} else if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
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
	if c.Bot.Name == "" {
		c.Bot.Name = "coven-router"
	}
	if c.Auth.Host == "" {
		c.Auth.Host = DefaultAuthHost
	}
	if c.Auth.URL == "" {
		c.Auth.URL = DefaultAuthURL
	}
	if c.Auth.ContentType == "" {
		c.Auth.ContentType = DefaultContentType
	}
	if c.Auth.GrantType == "" {
		c.Auth.GrantType = DefaultGrantType
	}
	if c.Auth.Scope == "" {
		c.Auth.Scope = DefaultScope
	}
	if c.Auth.PollingIntervalSeconds == 0 {
		c.Auth.PollingIntervalSeconds = DefaultPollingInterval
	}
	if c.Auth.Timeout == 0 {
		c.Auth.Timeout = DefaultAuthTimeout
	}
	if c.Server.HTTPAddr == "" {
		c.Server.HTTPAddr = DefaultHTTPAddr
	}
	if c.Dedupe.TTL == 0 {
		c.Dedupe.TTL = DefaultDedupeTTL
	}
	if c.Dedupe.MaxSize == 0 {
		c.Dedupe.MaxSize = DefaultDedupeMaxSize
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = DefaultMetricsPath
	}
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Auth.AppID == "" {
		return fmt.Errorf("auth.app_id is required")
	}
	if c.Auth.AppSecret == "" {
		return fmt.Errorf("auth.app_secret is required")
	}
	u, err := url.Parse(c.Auth.URL)
	if err != nil {
		return fmt.Errorf("auth.url is not a valid URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("auth.url must use http or https scheme")
	}
	if c.Auth.PollingIntervalSeconds < 0 {
		return fmt.Errorf("auth.polling_interval_seconds must be positive")
	}
	if c.Auth.Timeout < 0 {
		return fmt.Errorf("auth.timeout must be positive")
	}
	if c.Dedupe.TTL < 0 || c.Dedupe.MaxSize < 0 {
		return fmt.Errorf("dedupe.ttl and dedupe.max_size must be positive")
	}
	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("logging.level %q is not one of debug, info, warn, error", c.Logging.Level)
	}
	switch strings.ToLower(c.Logging.Format) {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format %q must be text or json", c.Logging.Format)
	}
	if c.Metrics.Enabled && !strings.HasPrefix(c.Metrics.Path, "/") {
		return fmt.Errorf("metrics.path must start with /")
	}
	return nil
}

// CredentialConfig converts the auth section for the credential manager.
func (c *Config) CredentialConfig() credential.Config {
	return credential.Config{
		Host:            c.Auth.Host,
		URL:             c.Auth.URL,
		ContentType:     c.Auth.ContentType,
		GrantType:       c.Auth.GrantType,
		Scope:           c.Auth.Scope,
		AppID:           c.Auth.AppID,
		AppSecret:       c.Auth.AppSecret,
		PollingInterval: time.Duration(c.Auth.PollingIntervalSeconds) * time.Second,
		Timeout:         c.Auth.Timeout,
	}
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	var err error

	if cfg.Auth.TimeoutRaw != "" {
		cfg.Auth.Timeout, err = time.ParseDuration(cfg.Auth.TimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing auth.timeout %q: %w", cfg.Auth.TimeoutRaw, err)
		}
	}

	if cfg.Dedupe.TTLRaw != "" {
		cfg.Dedupe.TTL, err = time.ParseDuration(cfg.Dedupe.TTLRaw)
		if err != nil {
			return fmt.Errorf("parsing dedupe.ttl %q: %w", cfg.Dedupe.TTLRaw, err)
		}
	}

	return nil
}
