// ABOUTME: Builds the blob backend and the chat/image generators from configuration
// ABOUTME: Shared by the HTTP server and the local chat REPL

package server

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/2389/chatdeck/internal/config"
	"github.com/2389/chatdeck/internal/imagegen"
	"github.com/2389/chatdeck/internal/llm"
	"github.com/2389/chatdeck/internal/store"
)

// OpenBackend opens the blob backend selected by cfg.Driver.
// CHATDECK_DB_PATH overrides the sqlite path.
func OpenBackend(ctx context.Context, cfg config.StorageConfig) (store.Backend, error) {
	switch cfg.Driver {
	case config.DriverSQLite, "":
		path := cfg.Path
		if envPath := os.Getenv("CHATDECK_DB_PATH"); envPath != "" {
			path = envPath
		}
		s, err := store.NewSQLiteStore(path)
		if err != nil {
			return nil, fmt.Errorf("initializing store: %w", err)
		}
		return s, nil
	case config.DriverRedis:
		s, err := store.NewRedisStore(ctx, store.RedisOptions{
			Addr:     cfg.Redis.Addr,
			Username: cfg.Redis.Username,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err != nil {
			return nil, fmt.Errorf("initializing store: %w", err)
		}
		return s, nil
	case config.DriverMemory:
		return store.NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}
}

// NewChatGenerator builds the response generator selected by cfg.Provider.
// A Gemini generator without an API key is still returned; every call then
// fails with a config error that surfaces as a failure toast.
func NewChatGenerator(ctx context.Context, cfg config.ChatConfig, logger *slog.Logger) (llm.Generator, error) {
	switch cfg.Provider {
	case config.ProviderFunction:
		return llm.NewFunctionClient(cfg.FunctionURL, cfg.FunctionKey, cfg.Timeout, logger), nil
	case config.ProviderGemini, "":
		gen, err := llm.NewGeminiClient(ctx, llm.GeminiConfig{
			APIKey:     cfg.APIKey,
			Model:      cfg.Model,
			BaseURL:    cfg.BaseURL,
			APIVersion: cfg.APIVersion,
			Timeout:    cfg.Timeout,
			Logger:     logger,
		})
		if err != nil {
			return nil, fmt.Errorf("creating gemini client: %w", err)
		}
		return gen, nil
	default:
		return nil, fmt.Errorf("unknown chat provider %q", cfg.Provider)
	}
}

// NewImageGenerator builds the image generator selected by cfg.Provider
func NewImageGenerator(cfg config.ImageConfig, logger *slog.Logger) (imagegen.Generator, error) {
	switch cfg.Provider {
	case config.ProviderFunction:
		return imagegen.NewFunctionClient(cfg.FunctionURL, cfg.FunctionKey, cfg.Timeout, logger), nil
	case config.ProviderHuggingFace, "":
		return imagegen.NewHuggingFaceClient(imagegen.HuggingFaceConfig{
			Token:    cfg.Token,
			Endpoint: cfg.Endpoint,
			Model:    cfg.Model,
			Timeout:  cfg.Timeout,
			Logger:   logger,
		}), nil
	default:
		return nil, fmt.Errorf("unknown image provider %q", cfg.Provider)
	}
}

// ImageDefaults returns the metadata defaults for the image service
func ImageDefaults(cfg config.ImageConfig) imagegen.Options {
	return imagegen.Options{
		Size:    cfg.DefaultSize,
		Quality: cfg.DefaultQuality,
	}
}
