package config

import (
	"fmt"
	"os"
	"strconv"
)

type keyType int

const (
	kString keyType = iota
	kInt
)

type keySpec struct {
	key     string
	typ     keyType
	env     string
	secret  bool
	apply   func(cfg *Config, v any)
	extract func(cfg Config) any
}

var specs = []keySpec{
	{
		key: "server.port", typ: kInt, env: "FINCH_SERVER_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.Port },
	},
	{
		key: "model.api_key", typ: kString, env: "FINCH_MODEL_API_KEY",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Model.APIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.Model.APIKey },
	},
	{
		key: "model.name", typ: kString, env: "FINCH_MODEL_NAME",
		apply:   func(cfg *Config, v any) { cfg.Model.Name = v.(string) },
		extract: func(cfg Config) any { return cfg.Model.Name },
	},
	{
		key: "model.base_url", typ: kString, env: "FINCH_MODEL_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Model.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Model.BaseURL },
	},
	{
		key: "model.embed_name", typ: kString, env: "FINCH_MODEL_EMBED_NAME",
		apply:   func(cfg *Config, v any) { cfg.Model.EmbedName = v.(string) },
		extract: func(cfg Config) any { return cfg.Model.EmbedName },
	},
	{
		key: "model.embed_base_url", typ: kString, env: "FINCH_MODEL_EMBED_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Model.EmbedBaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Model.EmbedBaseURL },
	},
	{
		key: "search.tavily_api_key", typ: kString, env: "FINCH_TAVILY_API_KEY",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Search.TavilyAPIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.Search.TavilyAPIKey },
	},
	{
		key: "storage.data_dir", typ: kString, env: "FINCH_STORAGE_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "chat.history_turns", typ: kInt, env: "FINCH_CHAT_HISTORY_TURNS",
		apply:   func(cfg *Config, v any) { cfg.Chat.HistoryTurns = v.(int) },
		extract: func(cfg Config) any { return cfg.Chat.HistoryTurns },
	},
	{
		key: "log.level", typ: kString, env: "FINCH_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
	{
		key: "auth.token", typ: kString, env: "FINCH_AUTH_TOKEN",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Auth.Token = v.(string) },
		extract: func(cfg Config) any { return cfg.Auth.Token },
	},
}

func applyBackend(cfg *Config, b Backend) error {
	for _, s := range specs {
		if s.secret {
			continue
		}
		switch s.typ {
		case kString:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kInt:
			v, ok, err := b.GetInt(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		}
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	for _, s := range specs {
		if s.env == "" {
			continue
		}
		raw := os.Getenv(s.env)
		if raw == "" {
			continue
		}
		switch s.typ {
		case kString:
			s.apply(cfg, raw)
		case kInt:
			if i, err := strconv.Atoi(raw); err == nil {
				s.apply(cfg, i)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse integer from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		}
	}
}
