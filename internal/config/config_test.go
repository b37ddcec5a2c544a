package config

import (
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// memBackend is an in-memory ConfigBackend.
type memBackend struct {
	data map[string]any
}

func newMemBackend(kv map[string]any) *memBackend {
	if kv == nil {
		kv = make(map[string]any)
	}
	return &memBackend{data: kv}
}

func (m *memBackend) GetString(key string) (string, bool, error) {
	v, ok := m.data[key]
	if !ok {
		return "", false, nil
	}
	s, _ := v.(string)
	return s, true, nil
}

func (m *memBackend) GetInt(key string) (int, bool, error) {
	v, ok := m.data[key]
	if !ok {
		return 0, false, nil
	}
	i, ok := v.(int)
	if !ok {
		return 0, true, errors.New("not an int")
	}
	return i, true, nil
}

func (m *memBackend) SetString(key, val string) error { m.data[key] = val; return nil }
func (m *memBackend) SetInt(key string, val int) error { m.data[key] = val; return nil }
func (m *memBackend) Delete(key string) error { delete(m.data, key); return nil }

// mapSecrets is a secretReader backed by a map.
type mapSecrets map[string]string

func (m mapSecrets) Get(provider string) (string, error) {
	v, ok := m[provider]
	if !ok {
		return "", errors.New("not found")
	}
	return v, nil
}

var providerKeyEnvs = []string{"GROQ_API_KEY", "OPENROUTER_API_KEY", "OPENAI_API_KEY", "GEMINI_API_KEY"}

// clearEnv blanks every variable Load consults so the host environment cannot
// leak into a test.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, s := range specs {
		t.Setenv(s.env, "")
	}
	for _, k := range providerKeyEnvs {
		t.Setenv(k, "")
	}
}

func TestDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := loadWith(newMemBackend(nil), mapSecrets{}, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.Host != "127.0.0.1" || cfg.Server.Port != 5000 {
		t.Errorf("Server = %+v, want 127.0.0.1:5000", cfg.Server)
	}
	if cfg.Server.AllowedOrigins != "*" {
		t.Errorf("AllowedOrigins = %q, want *", cfg.Server.AllowedOrigins)
	}
	if cfg.LLM.Provider != "groq" {
		t.Errorf("Provider = %q, want groq", cfg.LLM.Provider)
	}
	if cfg.LLM.Model != "openai/gpt-oss-20b" {
		t.Errorf("Model = %q, want provider default", cfg.LLM.Model)
	}
	if cfg.LLM.Timeout != 60*time.Second {
		t.Errorf("Timeout = %v, want 60s", cfg.LLM.Timeout)
	}
	if cfg.LLM.APIKey != "" {
		t.Errorf("APIKey = %q, want empty", cfg.LLM.APIKey)
	}
	if cfg.Log.Level != "info" {
		t.Errorf("Log.Level = %q, want info", cfg.Log.Level)
	}
	if !strings.HasSuffix(cfg.Storage.DataDir, "campusnav") {
		t.Errorf("DataDir = %q, want .../campusnav", cfg.Storage.DataDir)
	}
}

func TestBackendValues(t *testing.T) {
	clearEnv(t)

	b := newMemBackend(map[string]any{
		"server.port":      8080,
		"server.mcp_stdio": "true",
		"llm.provider":     "Gemini",
		"llm.timeout":      "15s",
		"storage.dsn":      "postgres://campus@localhost/campus",
	})
	cfg, err := loadWith(b, mapSecrets{}, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.Port != 8080 {
		t.Errorf("Port = %d, want 8080", cfg.Server.Port)
	}
	if !cfg.Server.MCPStdio {
		t.Error("MCPStdio = false, want true")
	}
	if cfg.LLM.Provider != "gemini" {
		t.Errorf("Provider = %q, want gemini", cfg.LLM.Provider)
	}
	if cfg.LLM.Model != "gemini-2.0-flash" {
		t.Errorf("Model = %q, want gemini default", cfg.LLM.Model)
	}
	if cfg.LLM.Timeout != 15*time.Second {
		t.Errorf("Timeout = %v, want 15s", cfg.LLM.Timeout)
	}
	if got := cfg.Storage.StorageTarget(); got != "postgres://campus@localhost/campus" {
		t.Errorf("StorageTarget = %q, want DSN", got)
	}
}

func TestBackendErrorIsReturned(t *testing.T) {
	clearEnv(t)

	b := newMemBackend(map[string]any{"server.port": "not-an-int"})
	if _, err := loadWith(b, mapSecrets{}, ""); err == nil {
		t.Fatal("expected error for invalid port in backend")
	}
}

func TestEnvOverride(t *testing.T) {
	clearEnv(t)
	t.Setenv("CAMPUSNAV_SERVER_PORT", "9000")
	t.Setenv("CAMPUSNAV_LLM_MODEL", "llama-3.1-8b-instant")
	t.Setenv("CAMPUSNAV_LOG_LEVEL", "debug")

	b := newMemBackend(map[string]any{
		"server.port": 8080,
		"llm.model":   "from-file",
	})
	cfg, err := loadWith(b, mapSecrets{}, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.Port != 9000 {
		t.Errorf("Port = %d, want 9000", cfg.Server.Port)
	}
	if cfg.LLM.Model != "llama-3.1-8b-instant" {
		t.Errorf("Model = %q, want env value", cfg.LLM.Model)
	}
	if cfg.Log.SlogLevel() != slog.LevelDebug {
		t.Errorf("SlogLevel = %v, want debug", cfg.Log.SlogLevel())
	}
}

func TestEnvOverride_InvalidValueKeepsDefault(t *testing.T) {
	clearEnv(t)
	t.Setenv("CAMPUSNAV_SERVER_PORT", "abc")
	t.Setenv("CAMPUSNAV_LLM_TIMEOUT", "-5s")

	cfg, err := loadWith(newMemBackend(nil), mapSecrets{}, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.Port != 5000 {
		t.Errorf("Port = %d, want default 5000", cfg.Server.Port)
	}
	if cfg.LLM.Timeout != 60*time.Second {
		t.Errorf("Timeout = %v, want default 60s", cfg.LLM.Timeout)
	}
}

func TestAPIKeyPrecedence(t *testing.T) {
	tests := []struct {
		name     string
		general  string
		provider string
		secrets  mapSecrets
		wantKey  string
	}{
		{"general env wins", "general-key", "groq-key", mapSecrets{"groq": "file-key"}, "general-key"},
		{"provider env next", "", "groq-key", mapSecrets{"groq": "file-key"}, "groq-key"},
		{"secrets file last", "", "", mapSecrets{"groq": " file-key\n"}, "file-key"},
		{"none", "", "", mapSecrets{"gemini": "other"}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			t.Setenv("CAMPUSNAV_LLM_API_KEY", tt.general)
			t.Setenv("GROQ_API_KEY", tt.provider)

			cfg, err := loadWith(newMemBackend(nil), tt.secrets, "")
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if cfg.LLM.APIKey != tt.wantKey {
				t.Errorf("APIKey = %q, want %q", cfg.LLM.APIKey, tt.wantKey)
			}
		})
	}
}

func TestAPIKeyNeverReadFromConfigFile(t *testing.T) {
	clearEnv(t)

	b := newMemBackend(map[string]any{"llm.api_key": "leaked"})
	cfg, err := loadWith(b, mapSecrets{}, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.LLM.APIKey != "" {
		t.Errorf("APIKey = %q, want empty", cfg.LLM.APIKey)
	}
}

func TestDotenv(t *testing.T) {
	clearEnv(t)
	// godotenv never overrides variables that are present, even when empty.
	os.Unsetenv("CAMPUSNAV_SERVER_PORT")
	os.Unsetenv("GEMINI_API_KEY")
	t.Setenv("CAMPUSNAV_LLM_PROVIDER", "gemini")

	path := filepath.Join(t.TempDir(), ".env")
	content := "CAMPUSNAV_SERVER_PORT=6000\nCAMPUSNAV_LLM_PROVIDER=ollama\nGEMINI_API_KEY=dotenv-key\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := loadWith(newMemBackend(nil), mapSecrets{}, path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.Port != 6000 {
		t.Errorf("Port = %d, want 6000 from .env", cfg.Server.Port)
	}
	if cfg.LLM.Provider != "gemini" {
		t.Errorf("Provider = %q, want process env to win over .env", cfg.LLM.Provider)
	}
	if cfg.LLM.APIKey != "dotenv-key" {
		t.Errorf("APIKey = %q, want dotenv-key", cfg.LLM.APIKey)
	}
}

func TestDotenvMissingFileIsFine(t *testing.T) {
	clearEnv(t)

	if _, err := loadWith(newMemBackend(nil), mapSecrets{}, filepath.Join(t.TempDir(), ".env")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestSetKey(t *testing.T) {
	path := filepath.Join(t.TempDir(), "campusnav", "config.json")
	b := newFileBackend(path)

	if err := setKeyIn(b, "server.port", "8081"); err != nil {
		t.Fatalf("setting port: %v", err)
	}
	if err := setKeyIn(b, "llm.timeout", "30s"); err != nil {
		t.Fatalf("setting timeout: %v", err)
	}
	if err := setKeyIn(b, "llm.provider", "openrouter"); err != nil {
		t.Fatalf("setting provider: %v", err)
	}

	reloaded := newFileBackend(path)
	if port, ok, err := reloaded.GetInt("server.port"); err != nil || !ok || port != 8081 {
		t.Errorf("server.port = %d, %v, %v; want 8081", port, ok, err)
	}
	if v, ok, _ := reloaded.GetString("llm.timeout"); !ok || v != "30s" {
		t.Errorf("llm.timeout = %q, want 30s", v)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Errorf("config file mode = %v, want 0600", info.Mode().Perm())
	}
}

func TestSetKey_Rejects(t *testing.T) {
	b := newMemBackend(nil)

	tests := []struct {
		key, value, want string
	}{
		{"llm.api_key", "secret", "cannot set secret"},
		{"nope.key", "x", "unknown config key"},
		{"server.port", "eighty", "invalid integer"},
		{"server.mcp_stdio", "maybe", "invalid value"},
		{"llm.timeout", "soon", "invalid value"},
	}
	for _, tt := range tests {
		err := setKeyIn(b, tt.key, tt.value)
		if err == nil || !strings.Contains(err.Error(), tt.want) {
			t.Errorf("setKeyIn(%s=%s) = %v, want error containing %q", tt.key, tt.value, err, tt.want)
		}
	}
	if len(b.data) != 0 {
		t.Errorf("rejected keys were written: %v", b.data)
	}
}

func TestShowAllHidesSecrets(t *testing.T) {
	cfg := defaults()
	cfg.LLM.APIKey = "super-secret"

	for _, ki := range ShowAll(cfg) {
		if ki.Key == "llm.api_key" || strings.Contains(ki.Value, "super-secret") {
			t.Errorf("secret exposed: %+v", ki)
		}
	}
	for _, k := range ValidKeys() {
		if k == "llm.api_key" {
			t.Error("ValidKeys lists a secret")
		}
	}
}

func TestSecretsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "campusnav", "secrets.json")

	if _, err := (secretsFile{path: path}).Get("groq"); err == nil {
		t.Fatal("expected error for missing secrets file")
	}

	if err := setSecretAt(path, "groq", "gsk-test"); err != nil {
		t.Fatalf("setSecretAt: %v", err)
	}
	if err := setSecretAt(path, "gemini", "gm-test"); err != nil {
		t.Fatalf("setSecretAt: %v", err)
	}

	sf := secretsFile{path: path}
	if v, err := sf.Get("groq"); err != nil || v != "gsk-test" {
		t.Errorf("groq = %q, %v", v, err)
	}
	if v, err := sf.Get("gemini"); err != nil || v != "gm-test" {
		t.Errorf("gemini = %q, %v", v, err)
	}
	if _, err := sf.Get("openai"); err == nil {
		t.Error("expected error for unknown provider")
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Errorf("secrets file mode = %v, want 0600", info.Mode().Perm())
	}
}

func TestOrigins(t *testing.T) {
	s := ServerConfig{AllowedOrigins: " https://a.edu, ,https://b.edu "}
	got := s.Origins()
	if len(got) != 2 || got[0] != "https://a.edu" || got[1] != "https://b.edu" {
		t.Errorf("Origins = %v", got)
	}
	if got := (ServerConfig{}).Origins(); len(got) != 0 {
		t.Errorf("empty Origins = %v", got)
	}
	if addr := (ServerConfig{Host: "0.0.0.0", Port: 5000}).Addr(); addr != "0.0.0.0:5000" {
		t.Errorf("Addr = %q", addr)
	}
}

func TestSlogLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"INFO":    slog.LevelInfo,
		"warn":    slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"chatty":  slog.LevelInfo,
	}
	for in, want := range tests {
		if got := (LogConfig{Level: in}).SlogLevel(); got != want {
			t.Errorf("SlogLevel(%q) = %v, want %v", in, got, want)
		}
	}
}
