// ABOUTME: Configuration loading and parsing for chatdeck
// ABOUTME: Supports YAML or TOML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Storage drivers
const (
	DriverSQLite = "sqlite"
	DriverRedis  = "redis"
	DriverMemory = "memory"
)

// Collaborator providers
const (
	ProviderGemini      = "gemini"
	ProviderHuggingFace = "huggingface"
	ProviderFunction    = "function"
)

// minSecretLength mirrors auth.MinSecretLength without importing it
const minSecretLength = 32

// Config represents the complete chatdeck configuration
type Config struct {
	Server    ServerConfig    `yaml:"server" toml:"server"`
	Tailscale TailscaleConfig `yaml:"tailscale" toml:"tailscale"`
	Storage   StorageConfig   `yaml:"storage" toml:"storage"`
	Auth      AuthConfig      `yaml:"auth" toml:"auth"`
	Chat      ChatConfig      `yaml:"chat" toml:"chat"`
	Image     ImageConfig     `yaml:"image" toml:"image"`
	Logging   LoggingConfig   `yaml:"logging" toml:"logging"`
	Metrics   MetricsConfig   `yaml:"metrics" toml:"metrics"`
	CORS      CORSConfig      `yaml:"cors" toml:"cors"`
}

// ServerConfig holds listener configuration
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr" toml:"http_addr"`
	GRPCAddr string `yaml:"grpc_addr" toml:"grpc_addr"` // optional health service

	ShutdownTimeoutRaw string        `yaml:"shutdown_timeout" toml:"shutdown_timeout"`
	ShutdownTimeout    time.Duration `yaml:"-" toml:"-"`

	// Idempotency-Key window for POST /api/send
	IdempotencyTTLRaw string        `yaml:"idempotency_ttl" toml:"idempotency_ttl"`
	IdempotencyTTL    time.Duration `yaml:"-" toml:"-"`
	IdempotencyMax    int           `yaml:"idempotency_max_keys" toml:"idempotency_max_keys"`
}

// TailscaleConfig holds Tailscale tsnet configuration
type TailscaleConfig struct {
	Enabled   bool   `yaml:"enabled" toml:"enabled"`
	Hostname  string `yaml:"hostname" toml:"hostname"`
	AuthKey   string `yaml:"auth_key" toml:"auth_key"`
	StateDir  string `yaml:"state_dir" toml:"state_dir"`
	Ephemeral bool   `yaml:"ephemeral" toml:"ephemeral"`
	HTTPS     bool   `yaml:"https" toml:"https"` // serve with Tailscale-issued certs on :443
	Funnel    bool   `yaml:"funnel" toml:"funnel"`
}

// StorageConfig selects the blob backend holding conversation lists
type StorageConfig struct {
	Driver           string      `yaml:"driver" toml:"driver"`
	Path             string      `yaml:"path" toml:"path"`
	Key              string      `yaml:"key" toml:"key"`
	MaxConversations int         `yaml:"max_conversations" toml:"max_conversations"`
	Redis            RedisConfig `yaml:"redis" toml:"redis"`
}

// RedisConfig holds the shared blob store connection
type RedisConfig struct {
	Addr     string `yaml:"addr" toml:"addr"`
	Username string `yaml:"username" toml:"username"`
	Password string `yaml:"password" toml:"password"`
	DB       int    `yaml:"db" toml:"db"`
}

// AuthConfig holds authentication configuration.
// An empty JWTSecret runs the server for a single local user.
type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret" toml:"jwt_secret"`
	Audience  string `yaml:"audience" toml:"audience"`
	LocalUser string `yaml:"local_user" toml:"local_user"`
}

// ChatConfig selects the response generator
type ChatConfig struct {
	Provider    string `yaml:"provider" toml:"provider"`
	APIKey      string `yaml:"api_key" toml:"api_key"`
	Model       string `yaml:"model" toml:"model"`
	BaseURL     string `yaml:"base_url" toml:"base_url"`
	APIVersion  string `yaml:"api_version" toml:"api_version"`
	FunctionURL string `yaml:"function_url" toml:"function_url"`
	FunctionKey string `yaml:"function_key" toml:"function_key"`

	TimeoutRaw string        `yaml:"timeout" toml:"timeout"`
	Timeout    time.Duration `yaml:"-" toml:"-"`
}

// ImageConfig selects the image generator and the metadata defaults
type ImageConfig struct {
	Provider    string `yaml:"provider" toml:"provider"`
	Token       string `yaml:"token" toml:"token"`
	Endpoint    string `yaml:"endpoint" toml:"endpoint"`
	Model       string `yaml:"model" toml:"model"`
	FunctionURL string `yaml:"function_url" toml:"function_url"`
	FunctionKey string `yaml:"function_key" toml:"function_key"`

	DefaultSize    string `yaml:"default_size" toml:"default_size"`
	DefaultQuality string `yaml:"default_quality" toml:"default_quality"`

	TimeoutRaw string        `yaml:"timeout" toml:"timeout"`
	Timeout    time.Duration `yaml:"-" toml:"-"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"`
}

// MetricsConfig holds Prometheus metrics configuration
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" toml:"enabled"`
	Path    string `yaml:"path" toml:"path"`
}

// CORSConfig lists the browser origins allowed to call the API
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins" toml:"allowed_origins"`
}

// Default returns a configuration that runs locally with no file at all.
// Provider credentials are taken from GEMINI_API_KEY and HUGGING_FACE_ACCESS_TOKEN.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	_ = parseDurations(cfg)
	return cfg
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Files ending in .toml are parsed as TOML, everything else as YAML.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables in the raw content
	expandedData := expandEnvVars(string(data))

	var cfg Config
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		if _, err := toml.Decode(expandedData, &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	} else {
		if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	applyDefaults(&cfg)

	// Parse duration fields
	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	// Validate required fields
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// LoadDotEnv loads KEY=VALUE pairs from the given files into the process
// environment. Missing files are skipped and variables already set win.
func LoadDotEnv(paths ...string) error {
	var existing []string
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			existing = append(existing, p)
		}
	}
	if len(existing) == 0 {
		return nil
	}
	if err := godotenv.Load(existing...); err != nil {
		return fmt.Errorf("loading env files: %w", err)
	}
	return nil
}

// DataDir returns the directory holding local state:
// $XDG_DATA_HOME/chatdeck, falling back to ~/.local/share/chatdeck
func DataDir() string {
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, "chatdeck")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "chatdeck-data"
	}
	return filepath.Join(home, ".local", "share", "chatdeck")
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

func applyDefaults(cfg *Config) {
	if cfg.Server.HTTPAddr == "" && !cfg.Tailscale.Enabled {
		cfg.Server.HTTPAddr = "127.0.0.1:8080"
	}
	if cfg.Server.ShutdownTimeoutRaw == "" {
		cfg.Server.ShutdownTimeoutRaw = "10s"
	}
	if cfg.Server.IdempotencyTTLRaw == "" {
		cfg.Server.IdempotencyTTLRaw = "10m"
	}
	if cfg.Server.IdempotencyMax == 0 {
		cfg.Server.IdempotencyMax = 10000
	}

	if cfg.Tailscale.Hostname == "" {
		cfg.Tailscale.Hostname = "chatdeck"
	}
	if cfg.Tailscale.StateDir == "" {
		cfg.Tailscale.StateDir = filepath.Join(DataDir(), "tsnet")
	}

	if cfg.Storage.Driver == "" {
		cfg.Storage.Driver = DriverSQLite
	}
	if cfg.Storage.Driver == DriverSQLite && cfg.Storage.Path == "" {
		cfg.Storage.Path = filepath.Join(DataDir(), "chatdeck.db")
	}
	if cfg.Storage.Key == "" {
		cfg.Storage.Key = "conversations"
	}

	if cfg.Auth.LocalUser == "" {
		cfg.Auth.LocalUser = "local"
	}

	if cfg.Chat.Provider == "" {
		cfg.Chat.Provider = ProviderGemini
	}
	if cfg.Chat.APIKey == "" {
		cfg.Chat.APIKey = os.Getenv("GEMINI_API_KEY")
	}
	if cfg.Chat.TimeoutRaw == "" {
		cfg.Chat.TimeoutRaw = "30s"
	}

	if cfg.Image.Provider == "" {
		cfg.Image.Provider = ProviderHuggingFace
	}
	if cfg.Image.Token == "" {
		cfg.Image.Token = os.Getenv("HUGGING_FACE_ACCESS_TOKEN")
	}
	if cfg.Image.DefaultSize == "" {
		cfg.Image.DefaultSize = "1024x1024"
	}
	if cfg.Image.DefaultQuality == "" {
		cfg.Image.DefaultQuality = "high"
	}
	if cfg.Image.TimeoutRaw == "" {
		cfg.Image.TimeoutRaw = "120s"
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "text"
	}

	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = "/metrics"
	}

	if len(cfg.CORS.AllowedOrigins) == 0 {
		cfg.CORS.AllowedOrigins = []string{"*"}
	}
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

	switch c.Storage.Driver {
	case DriverSQLite:
		if c.Storage.Path == "" {
			return fmt.Errorf("storage.path is required for the sqlite driver")
		}
	case DriverRedis:
		if c.Storage.Redis.Addr == "" {
			return fmt.Errorf("storage.redis.addr is required for the redis driver")
		}
	case DriverMemory:
	default:
		return fmt.Errorf("storage.driver %q is not one of sqlite, redis, memory", c.Storage.Driver)
	}
	if c.Storage.MaxConversations < 0 {
		return fmt.Errorf("storage.max_conversations must not be negative")
	}

	if c.Auth.JWTSecret != "" && len(c.Auth.JWTSecret) < minSecretLength {
		return fmt.Errorf("auth.jwt_secret must be at least %d bytes", minSecretLength)
	}

	switch c.Chat.Provider {
	case ProviderGemini:
	case ProviderFunction:
		if c.Chat.FunctionURL == "" {
			return fmt.Errorf("chat.function_url is required for the function provider")
		}
	default:
		return fmt.Errorf("chat.provider %q is not one of gemini, function", c.Chat.Provider)
	}

	switch c.Image.Provider {
	case ProviderHuggingFace:
	case ProviderFunction:
		if c.Image.FunctionURL == "" {
			return fmt.Errorf("image.function_url is required for the function provider")
		}
	default:
		return fmt.Errorf("image.provider %q is not one of huggingface, function", c.Image.Provider)
	}

	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format %q is not one of text, json", c.Logging.Format)
	}

	if c.Metrics.Enabled && !strings.HasPrefix(c.Metrics.Path, "/") {
		return fmt.Errorf("metrics.path must start with /")
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	fields := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"server.shutdown_timeout", cfg.Server.ShutdownTimeoutRaw, &cfg.Server.ShutdownTimeout},
		{"server.idempotency_ttl", cfg.Server.IdempotencyTTLRaw, &cfg.Server.IdempotencyTTL},
		{"chat.timeout", cfg.Chat.TimeoutRaw, &cfg.Chat.Timeout},
		{"image.timeout", cfg.Image.TimeoutRaw, &cfg.Image.Timeout},
	}

	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return fmt.Errorf("parsing %s %q: %w", f.name, f.raw, err)
		}
		if d <= 0 {
			return fmt.Errorf("%s must be positive, got %q", f.name, f.raw)
		}
		*f.dst = d
	}

	return nil
}
