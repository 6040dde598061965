package config

import (
	"strings"
	"testing"
)

// mapBackend is a test double for the file backend.
type mapBackend struct {
	data map[string]any
}

func (m *mapBackend) GetString(key string) (string, bool, error) {
	v, ok := m.data[key]
	if !ok {
		return "", false, nil
	}
	return v.(string), true, nil
}

func (m *mapBackend) GetInt(key string) (int, bool, error) {
	v, ok := m.data[key]
	if !ok {
		return 0, false, nil
	}
	return v.(int), true, nil
}

func (m *mapBackend) SetString(key, val string) error { m.data[key] = val; return nil }
func (m *mapBackend) SetInt(key string, val int) error {
	m.data[key] = val
	return nil
}
func (m *mapBackend) Delete(key string) error { delete(m.data, key); return nil }

func clearFinchEnv(t *testing.T) {
	t.Helper()
	for _, s := range specs {
		t.Setenv(s.env, "")
	}
}

// TestDefaults verifies defaults survive an empty backend.
func TestDefaults(t *testing.T) {
	clearFinchEnv(t)
	t.Setenv("FINCH_MODEL_API_KEY", "test-key")

	cfg, err := loadWith(&mapBackend{data: map[string]any{}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.Port != 8000 {
		t.Errorf("Server.Port = %d, want 8000", cfg.Server.Port)
	}
	if cfg.Model.Name != "openai/gpt-4o-mini" {
		t.Errorf("Model.Name = %q", cfg.Model.Name)
	}
	if cfg.Chat.HistoryTurns != 2 {
		t.Errorf("Chat.HistoryTurns = %d, want 2", cfg.Chat.HistoryTurns)
	}
	if cfg.Log.Level != "info" {
		t.Errorf("Log.Level = %q, want info", cfg.Log.Level)
	}
}

// TestBackendValues verifies the file backend overrides defaults.
func TestBackendValues(t *testing.T) {
	clearFinchEnv(t)
	t.Setenv("FINCH_MODEL_API_KEY", "test-key")

	cfg, err := loadWith(&mapBackend{data: map[string]any{
		"server.port":        9000,
		"model.name":         "openai/gpt-4o",
		"chat.history_turns": 5,
	}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.Port != 9000 {
		t.Errorf("Server.Port = %d, want 9000", cfg.Server.Port)
	}
	if cfg.Model.Name != "openai/gpt-4o" {
		t.Errorf("Model.Name = %q", cfg.Model.Name)
	}
	if cfg.Chat.HistoryTurns != 5 {
		t.Errorf("Chat.HistoryTurns = %d, want 5", cfg.Chat.HistoryTurns)
	}
}

// TestEnvOverride verifies env vars beat backend values.
func TestEnvOverride(t *testing.T) {
	clearFinchEnv(t)
	t.Setenv("FINCH_MODEL_API_KEY", "test-key")
	t.Setenv("FINCH_MODEL_NAME", "env-model")
	t.Setenv("FINCH_SERVER_PORT", "7777")

	cfg, err := loadWith(&mapBackend{data: map[string]any{
		"model.name":  "file-model",
		"server.port": 9000,
	}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Model.Name != "env-model" {
		t.Errorf("Model.Name = %q, want env-model", cfg.Model.Name)
	}
	if cfg.Server.Port != 7777 {
		t.Errorf("Server.Port = %d, want 7777", cfg.Server.Port)
	}
}

// TestMissingAPIKey verifies a clear error when the model API key is
// missing everywhere.
func TestMissingAPIKey(t *testing.T) {
	clearFinchEnv(t)

	_, err := loadWith(&mapBackend{data: map[string]any{}})
	if err == nil {
		t.Fatal("expected error for missing API key, got nil")
	}
	if !strings.Contains(err.Error(), "missing required config") {
		t.Errorf("error = %q", err)
	}
}

// TestSecretsSkipBackend verifies secrets are never read from the file
// backend, only from the environment.
func TestSecretsSkipBackend(t *testing.T) {
	clearFinchEnv(t)
	t.Setenv("FINCH_MODEL_API_KEY", "env-key")

	cfg, err := loadWith(&mapBackend{data: map[string]any{
		"model.api_key": "file-key",
	}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Model.APIKey != "env-key" {
		t.Errorf("Model.APIKey = %q, want env-key", cfg.Model.APIKey)
	}
}

func TestSetKeyRejectsSecrets(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	if err := SetKey("model.api_key", "value"); err == nil {
		t.Fatal("expected SetKey to reject a secret key")
	}
	if err := SetKey("no.such.key", "value"); err == nil {
		t.Fatal("expected SetKey to reject an unknown key")
	}
	if err := SetKey("model.name", "openai/gpt-4o"); err != nil {
		t.Fatalf("SetKey(model.name): %v", err)
	}
}
