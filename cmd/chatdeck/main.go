// ABOUTME: Entry point for chatdeck, the chat and image generation server
// ABOUTME: Dispatches to serve, chat, health and token subcommands

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/fatih/color"

	"github.com/2389/chatdeck/internal/auth"
	"github.com/2389/chatdeck/internal/config"
	"github.com/2389/chatdeck/internal/imagegen"
	"github.com/2389/chatdeck/internal/llm"
	"github.com/2389/chatdeck/internal/metrics"
	"github.com/2389/chatdeck/internal/server"
	"github.com/2389/chatdeck/internal/store"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
      _           _      _           _
  ___| |__   __ _| |_ __| | ___  ___| | __
 / __| '_ \ / _' | __/ _' |/ _ \/ __| |/ /
| (__| | | | (_| | || (_| |  __/ (__|   <
 \___|_| |_|\__,_|\__\__,_|\___|\___|_|\_\
`

// getConfigPath returns the path to the config file.
// Priority: CHATDECK_CONFIG env var > XDG_CONFIG_HOME/chatdeck/config.yaml > ~/.config/chatdeck/config.yaml
func getConfigPath() string {
	if envPath := os.Getenv("CHATDECK_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "config.yaml"
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "chatdeck", "config.yaml")
}

// loadConfig reads .env files and the config file. A missing config file is
// not an error: chatdeck runs on defaults and environment variables alone.
func loadConfig() (*config.Config, string, error) {
	if err := config.LoadDotEnv(".env"); err != nil {
		return nil, "", err
	}

	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if errors.Is(err, fs.ErrNotExist) {
		cfg = config.Default()
		if err := cfg.Validate(); err != nil {
			return nil, "", fmt.Errorf("default config: %w", err)
		}
		return cfg, "(defaults)", nil
	}
	if err != nil {
		return nil, "", fmt.Errorf("loading config: %w", err)
	}
	return cfg, configPath, nil
}

func usage() {
	fmt.Println("Usage: chatdeck <command>")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  serve                  Start the HTTP server")
	fmt.Println("  chat [--remote URL]    Chat in the terminal")
	fmt.Println("  health                 Check server health")
	fmt.Println("  token --user ID        Mint a bearer token for a user")
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(ctx)
	case "chat":
		err = runChat(ctx, os.Args[2:])
	case "health":
		err = runHealth(ctx)
	case "token":
		err = runToken(os.Args[2:])
	case "help", "-h", "--help":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runServe(ctx context.Context) error {
	cyan := color.New(color.FgCyan)
	cyan.Print(banner)

	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	cfg, configPath, err := loadConfig()
	if err != nil {
		return err
	}

	logger := setupLogger(cfg.Logging)

	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)

	green.Print("    ▶ ")
	fmt.Printf("Config:    %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("HTTP:      %s\n", cfg.Server.HTTPAddr)
	if cfg.Server.GRPCAddr != "" {
		green.Print("    ▶ ")
		fmt.Printf("gRPC:      %s\n", cfg.Server.GRPCAddr)
	}
	green.Print("    ▶ ")
	fmt.Printf("Storage:   %s\n", cfg.Storage.Driver)
	green.Print("    ▶ ")
	fmt.Printf("Chat:      %s\n", cfg.Chat.Provider)
	green.Print("    ▶ ")
	fmt.Printf("Images:    %s\n", cfg.Image.Provider)
	if cfg.Auth.JWTSecret == "" {
		yellow.Print("    ! ")
		fmt.Printf("Auth:      none, every request is %q\n", cfg.Auth.LocalUser)
	}

	if cfg.Tailscale.Enabled {
		green.Print("    ▶ ")
		fmt.Printf("Tailscale: ")
		cyan.Print(cfg.Tailscale.Hostname)
		if cfg.Tailscale.Funnel {
			yellow.Print(" [funnel]")
		}
		if cfg.Tailscale.Ephemeral {
			gray.Print(" (ephemeral)")
		}
		fmt.Println()
	}

	fmt.Println()

	logger.Info("starting chatdeck",
		"config", configPath,
		"http_addr", cfg.Server.HTTPAddr,
		"storage", cfg.Storage.Driver,
	)

	backend, err := server.OpenBackend(ctx, cfg.Storage)
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}

	chat, err := server.NewChatGenerator(ctx, cfg.Chat, logger)
	if err != nil {
		backend.Close()
		return err
	}

	images, err := server.NewImageGenerator(cfg.Image, logger)
	if err != nil {
		backend.Close()
		return err
	}

	deps := server.Deps{
		Backend: backend,
		Chat:    chat,
		Images:  images,
	}
	if cfg.Metrics.Enabled {
		deps.Metrics = metrics.New()
	}

	srv, err := server.New(cfg, deps, logger)
	if err != nil {
		backend.Close()
		return fmt.Errorf("creating server: %w", err)
	}

	return srv.Run(ctx)
}

func setupLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = &colorHandler{mu: &sync.Mutex{}, out: os.Stdout, level: level}
	}

	return slog.New(handler)
}

// colorHandler writes one colorized line per record. Groups are folded into
// attribute keys as "group.key".
type colorHandler struct {
	mu     *sync.Mutex
	out    io.Writer
	level  slog.Level
	attrs  []slog.Attr
	prefix string
}

func (h *colorHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level
}

func (h *colorHandler) Handle(_ context.Context, r slog.Record) error {
	var buf strings.Builder

	buf.WriteString(color.HiBlackString(r.Time.Format("15:04:05") + " "))

	switch {
	case r.Level >= slog.LevelError:
		buf.WriteString(color.New(color.FgRed, color.Bold).Sprint("ERR "))
	case r.Level >= slog.LevelWarn:
		buf.WriteString(color.YellowString("WRN "))
	case r.Level >= slog.LevelInfo:
		buf.WriteString(color.CyanString("INF "))
	default:
		buf.WriteString(color.MagentaString("DBG "))
	}

	buf.WriteString(r.Message)

	for _, a := range h.attrs {
		writeAttr(&buf, "", a)
	}
	r.Attrs(func(a slog.Attr) bool {
		writeAttr(&buf, h.prefix, a)
		return true
	})
	buf.WriteString("\n")

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := io.WriteString(h.out, buf.String())
	return err
}

func writeAttr(buf *strings.Builder, prefix string, a slog.Attr) {
	a.Value = a.Value.Resolve()
	if a.Equal(slog.Attr{}) {
		return
	}
	if a.Value.Kind() == slog.KindGroup {
		for _, ga := range a.Value.Group() {
			writeAttr(buf, prefix+a.Key+".", ga)
		}
		return
	}
	buf.WriteString(color.HiBlackString(" " + prefix + a.Key + "="))
	buf.WriteString(a.Value.String())
}

func (h *colorHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := *h
	next.attrs = make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	next.attrs = append(next.attrs, h.attrs...)
	for _, a := range attrs {
		a.Key = h.prefix + a.Key
		next.attrs = append(next.attrs, a)
	}
	return &next
}

func (h *colorHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	next := *h
	next.prefix = h.prefix + name + "."
	return &next
}

func runHealth(ctx context.Context) error {
	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	url := fmt.Sprintf("http://%s/health/ready", cfg.Server.HTTPAddr)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	fmt.Println(strings.TrimSpace(string(body)))
	return nil
}

// runToken mints a bearer token for the HTTP API.
// Supports "--user id", "--user=id", "--email addr" and "--ttl 720h".
func runToken(args []string) error {
	var userID, email string
	ttl := 30 * 24 * time.Hour

	for i := 0; i < len(args); i++ {
		arg := args[i]
		name, value, hasValue := strings.Cut(arg, "=")
		switch name {
		case "--user", "--email", "--ttl":
		default:
			return fmt.Errorf("unknown argument: %s", arg)
		}
		if !hasValue {
			if i+1 >= len(args) {
				return fmt.Errorf("%s requires a value", name)
			}
			value = args[i+1]
			i++
		}
		switch name {
		case "--user":
			userID = strings.TrimSpace(value)
		case "--email":
			email = strings.TrimSpace(value)
		case "--ttl":
			d, err := time.ParseDuration(value)
			if err != nil {
				return fmt.Errorf("invalid --ttl: %w", err)
			}
			ttl = d
		}
	}

	if userID == "" {
		return fmt.Errorf("--user flag is required")
	}

	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret is not configured")
	}

	verifier, err := auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret), cfg.Auth.Audience)
	if err != nil {
		return fmt.Errorf("creating JWT verifier: %w", err)
	}

	token, err := verifier.Generate(userID, email, ttl)
	if err != nil {
		return fmt.Errorf("generating token: %w", err)
	}

	fmt.Println(token)
	return nil
}

// localDeps opens storage and the generators for in-process use
func localDeps(ctx context.Context, cfg *config.Config, remote string, logger *slog.Logger) (store.Backend, llm.Generator, imagegen.Generator, error) {
	backend, err := server.OpenBackend(ctx, cfg.Storage)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("opening storage: %w", err)
	}

	var (
		chat   llm.Generator
		images imagegen.Generator
	)
	if remote != "" {
		base := strings.TrimRight(remote, "/")
		chat = llm.NewFunctionClient(base+"/functions/v1/gemini-chat", cfg.Chat.FunctionKey, cfg.Chat.Timeout, logger)
		images = imagegen.NewFunctionClient(base+"/functions/v1/generate-image", cfg.Image.FunctionKey, cfg.Image.Timeout, logger)
		return backend, chat, images, nil
	}

	chat, err = server.NewChatGenerator(ctx, cfg.Chat, logger)
	if err != nil {
		backend.Close()
		return nil, nil, nil, err
	}
	images, err = server.NewImageGenerator(cfg.Image, logger)
	if err != nil {
		backend.Close()
		return nil, nil, nil, err
	}
	return backend, chat, images, nil
}
