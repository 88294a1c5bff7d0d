// Package config handles configuration loading for chatdeck.
//
// # Overview
//
// Configuration is loaded from YAML or TOML files with environment variable
// expansion. Anything left unset gets a default, so an empty file (or none at
// all, via Default) runs a local single-user server backed by SQLite.
//
// # Configuration File
//
// Default locations (in order):
//
//  1. Path from CHATDECK_CONFIG environment variable
//  2. $XDG_CONFIG_HOME/chatdeck/config.yaml
//  3. ~/.config/chatdeck/config.yaml
//
// Files ending in .toml are parsed as TOML. A .env file next to the working
// directory is loaded first with LoadDotEnv, without overriding variables that
// are already set.
//
// # Environment Variable Expansion
//
//	chat:
//	  api_key: "${GEMINI_API_KEY}"
//
// Unset variables expand to the empty string. chat.api_key and image.token
// fall back to GEMINI_API_KEY and HUGGING_FACE_ACCESS_TOKEN.
//
// # Configuration Sections
//
//	server:
//	  http_addr: "127.0.0.1:8080"
//	  grpc_addr: ""               # optional gRPC health service
//	  shutdown_timeout: "10s"
//	  idempotency_ttl: "10m"
//
//	storage:
//	  driver: "sqlite"            # sqlite, redis, memory
//	  path: "~/.local/share/chatdeck/chatdeck.db"
//	  key: "conversations"        # blob key prefix, one key per user
//	  max_conversations: 0        # 0 keeps everything
//	  redis:
//	    addr: "localhost:6379"
//
//	auth:
//	  jwt_secret: "${CHATDECK_JWT_SECRET}"  # empty = single local user
//	  audience: "authenticated"
//
//	chat:
//	  provider: "gemini"          # gemini, function
//	  model: "gemini-1.5-flash"
//	  timeout: "30s"
//
//	image:
//	  provider: "huggingface"     # huggingface, function
//	  model: "black-forest-labs/FLUX.1-schnell"
//	  timeout: "120s"
//
//	logging:
//	  level: "info"   # debug, info, warn, error
//	  format: "text"  # text, json
//
// # Validation
//
// Load() validates:
//
//   - Storage driver and its connection settings
//   - JWT secret minimum length (32 bytes) when set
//   - Provider names and function URLs
//   - Duration format validity
package config
