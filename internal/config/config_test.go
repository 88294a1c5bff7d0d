// ABOUTME: Tests for configuration loading, defaults and validation
// ABOUTME: Covers YAML and TOML parsing, env var expansion, .env files and duration parsing

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return path
}

func TestLoad_ValidYAML(t *testing.T) {
	configPath := writeConfig(t, "config.yaml", `
server:
  http_addr: "0.0.0.0:8080"
  grpc_addr: "0.0.0.0:50051"
  shutdown_timeout: "5s"

storage:
  driver: "sqlite"
  path: "./test.db"
  key: "chats"
  max_conversations: 50

chat:
  provider: "gemini"
  api_key: "gem-key"
  model: "gemini-1.5-pro"
  timeout: "45s"

image:
  provider: "huggingface"
  token: "hf-token"
  timeout: "2m"

logging:
  level: "debug"
  format: "json"

metrics:
  enabled: true
  path: "/metrics"

cors:
  allowed_origins: ["http://localhost:5173"]
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.HTTPAddr != "0.0.0.0:8080" {
		t.Errorf("Server.HTTPAddr = %q, want %q", cfg.Server.HTTPAddr, "0.0.0.0:8080")
	}
	if cfg.Server.GRPCAddr != "0.0.0.0:50051" {
		t.Errorf("Server.GRPCAddr = %q, want %q", cfg.Server.GRPCAddr, "0.0.0.0:50051")
	}
	if cfg.Server.ShutdownTimeout != 5*time.Second {
		t.Errorf("Server.ShutdownTimeout = %v, want %v", cfg.Server.ShutdownTimeout, 5*time.Second)
	}

	if cfg.Storage.Path != "./test.db" {
		t.Errorf("Storage.Path = %q, want %q", cfg.Storage.Path, "./test.db")
	}
	if cfg.Storage.Key != "chats" {
		t.Errorf("Storage.Key = %q, want %q", cfg.Storage.Key, "chats")
	}
	if cfg.Storage.MaxConversations != 50 {
		t.Errorf("Storage.MaxConversations = %d, want 50", cfg.Storage.MaxConversations)
	}

	if cfg.Chat.APIKey != "gem-key" {
		t.Errorf("Chat.APIKey = %q, want %q", cfg.Chat.APIKey, "gem-key")
	}
	if cfg.Chat.Model != "gemini-1.5-pro" {
		t.Errorf("Chat.Model = %q, want %q", cfg.Chat.Model, "gemini-1.5-pro")
	}
	if cfg.Chat.Timeout != 45*time.Second {
		t.Errorf("Chat.Timeout = %v, want %v", cfg.Chat.Timeout, 45*time.Second)
	}
	if cfg.Image.Timeout != 2*time.Minute {
		t.Errorf("Image.Timeout = %v, want %v", cfg.Image.Timeout, 2*time.Minute)
	}

	if cfg.Logging.Level != "debug" {
		t.Errorf("Logging.Level = %q, want %q", cfg.Logging.Level, "debug")
	}
	if cfg.Logging.Format != "json" {
		t.Errorf("Logging.Format = %q, want %q", cfg.Logging.Format, "json")
	}

	if !cfg.Metrics.Enabled {
		t.Error("Metrics.Enabled = false, want true")
	}
	if len(cfg.CORS.AllowedOrigins) != 1 || cfg.CORS.AllowedOrigins[0] != "http://localhost:5173" {
		t.Errorf("CORS.AllowedOrigins = %v", cfg.CORS.AllowedOrigins)
	}
}

func TestLoad_TOML(t *testing.T) {
	configPath := writeConfig(t, "config.toml", `
[server]
http_addr = "127.0.0.1:9090"

[storage]
driver = "redis"

[storage.redis]
addr = "localhost:6379"
db = 2

[chat]
provider = "function"
function_url = "https://example.test/functions/v1/gemini-chat"
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.HTTPAddr != "127.0.0.1:9090" {
		t.Errorf("Server.HTTPAddr = %q", cfg.Server.HTTPAddr)
	}
	if cfg.Storage.Driver != DriverRedis {
		t.Errorf("Storage.Driver = %q, want redis", cfg.Storage.Driver)
	}
	if cfg.Storage.Redis.Addr != "localhost:6379" || cfg.Storage.Redis.DB != 2 {
		t.Errorf("Storage.Redis = %+v", cfg.Storage.Redis)
	}
	if cfg.Chat.Provider != ProviderFunction {
		t.Errorf("Chat.Provider = %q, want function", cfg.Chat.Provider)
	}
}

func TestLoad_EnvVarExpansion(t *testing.T) {
	t.Setenv("TEST_CHATDECK_SECRET", strings.Repeat("s", 40))
	t.Setenv("TEST_GEMINI_KEY", "gem-from-env")

	configPath := writeConfig(t, "config.yaml", `
auth:
  jwt_secret: "${TEST_CHATDECK_SECRET}"
chat:
  api_key: "${TEST_GEMINI_KEY}"
image:
  token: "${TEST_UNSET_TOKEN_VAR}"
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Auth.JWTSecret != strings.Repeat("s", 40) {
		t.Errorf("Auth.JWTSecret = %q", cfg.Auth.JWTSecret)
	}
	if cfg.Chat.APIKey != "gem-from-env" {
		t.Errorf("Chat.APIKey = %q, want %q", cfg.Chat.APIKey, "gem-from-env")
	}
}

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("XDG_DATA_HOME", "/tmp/xdg-data")
	t.Setenv("GEMINI_API_KEY", "fallback-gem")
	t.Setenv("HUGGING_FACE_ACCESS_TOKEN", "fallback-hf")

	cfg, err := Load(writeConfig(t, "config.yaml", "{}\n"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.HTTPAddr != "127.0.0.1:8080" {
		t.Errorf("Server.HTTPAddr = %q", cfg.Server.HTTPAddr)
	}
	if cfg.Server.IdempotencyTTL != 10*time.Minute {
		t.Errorf("Server.IdempotencyTTL = %v", cfg.Server.IdempotencyTTL)
	}
	if cfg.Storage.Driver != DriverSQLite {
		t.Errorf("Storage.Driver = %q", cfg.Storage.Driver)
	}
	if cfg.Storage.Path != filepath.Join("/tmp/xdg-data", "chatdeck", "chatdeck.db") {
		t.Errorf("Storage.Path = %q", cfg.Storage.Path)
	}
	if cfg.Storage.Key != "conversations" {
		t.Errorf("Storage.Key = %q", cfg.Storage.Key)
	}
	if cfg.Auth.LocalUser != "local" {
		t.Errorf("Auth.LocalUser = %q", cfg.Auth.LocalUser)
	}
	if cfg.Chat.Provider != ProviderGemini || cfg.Chat.APIKey != "fallback-gem" {
		t.Errorf("Chat = %+v", cfg.Chat)
	}
	if cfg.Chat.Timeout != 30*time.Second {
		t.Errorf("Chat.Timeout = %v", cfg.Chat.Timeout)
	}
	if cfg.Image.Provider != ProviderHuggingFace || cfg.Image.Token != "fallback-hf" {
		t.Errorf("Image = %+v", cfg.Image)
	}
	if cfg.Image.DefaultSize != "1024x1024" || cfg.Image.DefaultQuality != "high" {
		t.Errorf("Image defaults = %q %q", cfg.Image.DefaultSize, cfg.Image.DefaultQuality)
	}
	if cfg.Logging.Level != "info" || cfg.Logging.Format != "text" {
		t.Errorf("Logging = %+v", cfg.Logging)
	}
	if len(cfg.CORS.AllowedOrigins) != 1 || cfg.CORS.AllowedOrigins[0] != "*" {
		t.Errorf("CORS.AllowedOrigins = %v", cfg.CORS.AllowedOrigins)
	}
}

func TestDefault(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Default().Validate() error = %v", err)
	}
	if cfg.Chat.Timeout != 30*time.Second {
		t.Errorf("Chat.Timeout = %v", cfg.Chat.Timeout)
	}
}

func TestLoad_InvalidDuration(t *testing.T) {
	_, err := Load(writeConfig(t, "config.yaml", `
chat:
  timeout: "soon"
`))
	if err == nil {
		t.Fatal("Load() expected error for invalid duration")
	}
	if !strings.Contains(err.Error(), "chat.timeout") {
		t.Errorf("error %q should name the field", err)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err == nil {
		t.Fatal("Load() expected error for missing file")
	}
}

func TestLoad_MalformedYAML(t *testing.T) {
	_, err := Load(writeConfig(t, "config.yaml", "server: [unclosed\n"))
	if err == nil {
		t.Fatal("Load() expected error for malformed yaml")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:   "defaults are valid",
			mutate: func(*Config) {},
		},
		{
			name:    "missing http addr without tailscale",
			mutate:  func(c *Config) { c.Server.HTTPAddr = "" },
			wantErr: "server.http_addr",
		},
		{
			name: "tailscale without hostname",
			mutate: func(c *Config) {
				c.Tailscale.Enabled = true
				c.Tailscale.Hostname = ""
			},
			wantErr: "tailscale.hostname",
		},
		{
			name:    "unknown driver",
			mutate:  func(c *Config) { c.Storage.Driver = "postgres" },
			wantErr: "storage.driver",
		},
		{
			name: "redis without addr",
			mutate: func(c *Config) {
				c.Storage.Driver = DriverRedis
				c.Storage.Redis.Addr = ""
			},
			wantErr: "storage.redis.addr",
		},
		{
			name:    "negative max conversations",
			mutate:  func(c *Config) { c.Storage.MaxConversations = -1 },
			wantErr: "max_conversations",
		},
		{
			name:    "short jwt secret",
			mutate:  func(c *Config) { c.Auth.JWTSecret = "short" },
			wantErr: "jwt_secret",
		},
		{
			name: "chat function without url",
			mutate: func(c *Config) {
				c.Chat.Provider = ProviderFunction
				c.Chat.FunctionURL = ""
			},
			wantErr: "chat.function_url",
		},
		{
			name:    "unknown image provider",
			mutate:  func(c *Config) { c.Image.Provider = "dalle" },
			wantErr: "image.provider",
		},
		{
			name:    "unknown log format",
			mutate:  func(c *Config) { c.Logging.Format = "xml" },
			wantErr: "logging.format",
		},
		{
			name: "metrics path without slash",
			mutate: func(c *Config) {
				c.Metrics.Enabled = true
				c.Metrics.Path = "metrics"
			},
			wantErr: "metrics.path",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate() error = %v", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("Validate() expected error containing %q", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %q, want substring %q", err, tt.wantErr)
			}
		})
	}
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	envPath := filepath.Join(dir, ".env")
	if err := os.WriteFile(envPath, []byte("TEST_DOTENV_NEW=from-file\nTEST_DOTENV_SET=from-file\n"), 0644); err != nil {
		t.Fatalf("write .env: %v", err)
	}

	t.Setenv("TEST_DOTENV_SET", "from-process")
	// t.Setenv restores on cleanup; register the new key too
	t.Setenv("TEST_DOTENV_NEW", "")
	os.Unsetenv("TEST_DOTENV_NEW")

	if err := LoadDotEnv(filepath.Join(dir, "missing.env"), envPath); err != nil {
		t.Fatalf("LoadDotEnv() error = %v", err)
	}

	if got := os.Getenv("TEST_DOTENV_NEW"); got != "from-file" {
		t.Errorf("TEST_DOTENV_NEW = %q, want from-file", got)
	}
	if got := os.Getenv("TEST_DOTENV_SET"); got != "from-process" {
		t.Errorf("TEST_DOTENV_SET = %q, want from-process", got)
	}
}

func TestLoadDotEnv_NoFiles(t *testing.T) {
	if err := LoadDotEnv(filepath.Join(t.TempDir(), ".env")); err != nil {
		t.Fatalf("LoadDotEnv() error = %v", err)
	}
}

func TestExpandEnvVars(t *testing.T) {
	t.Setenv("TEST_EXPAND_A", "alpha")

	got := expandEnvVars("a=${TEST_EXPAND_A} b=${TEST_EXPAND_UNSET_B}")
	if got != "a=alpha b=" {
		t.Errorf("expandEnvVars() = %q", got)
	}
}
