// Package config loads service configuration from defaults, a JSON
// config file at $XDG_CONFIG_HOME/finch/config.json, and FINCH_*
// environment variables (highest precedence). A .env file in the
// working directory is folded into the environment first.
package config

import (
	"fmt"

	"github.com/joho/godotenv"
)

type Config struct {
	Server  ServerConfig
	Model   ModelConfig
	Search  SearchConfig
	Storage StorageConfig
	Chat    ChatConfig
	Log     LogConfig
	Auth    AuthConfig
}

type ServerConfig struct {
	Port int
}

type ModelConfig struct {
	APIKey       string
	Name         string
	BaseURL      string // empty selects the client default
	EmbedName    string
	EmbedBaseURL string
}

type SearchConfig struct {
	TavilyAPIKey string
}

type StorageConfig struct {
	DataDir string
}

type ChatConfig struct {
	HistoryTurns int
}

type LogConfig struct {
	Level string
}

type AuthConfig struct {
	Token string // management bearer token; empty disables auth
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Port: 8000,
		},
		Model: ModelConfig{
			Name:         "openai/gpt-4o-mini",
			EmbedName:    "text-embedding-3-small",
			EmbedBaseURL: "https://api.openai.com/v1",
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Chat: ChatConfig{
			HistoryTurns: 2,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads configuration from the JSON file backend and FINCH_*
// environment variables. A missing model API key is a fatal error;
// the Tavily key and auth token are optional (web search degrades to
// empty results, auth is disabled).
func Load() (Config, error) {
	// Not-found is the normal case for .env.
	godotenv.Load()
	return loadWith(newFileBackend())
}

func loadWith(b Backend) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}
	applyEnvOverrides(&cfg)

	if cfg.Model.APIKey == "" {
		return Config{}, fmt.Errorf("missing required config: model API key. Set FINCH_MODEL_API_KEY or add it to .env")
	}
	if cfg.Chat.HistoryTurns < 0 {
		return Config{}, fmt.Errorf("chat.history_turns must not be negative")
	}

	return cfg, nil
}
