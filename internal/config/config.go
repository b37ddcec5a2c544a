package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/kalambet/campusnav/internal/engine"
)

type Config struct {
	Server  ServerConfig
	Storage StorageConfig
	LLM     LLMConfig
	Log     LogConfig
}

type ServerConfig struct {
	Host string
	Port int
	// AllowedOrigins is a comma-separated CORS origin list; "*" allows all.
	AllowedOrigins string
	MCPStdio       bool
}

type StorageConfig struct {
	DataDir string
	// DSN selects PostgreSQL when set; otherwise SQLite under DataDir.
	DSN string
}

type LLMConfig struct {
	Provider string
	Model    string
	BaseURL  string
	Timeout  time.Duration
	APIKey   string
}

type LogConfig struct {
	Level string
}

// Origins splits AllowedOrigins into a list.
func (s ServerConfig) Origins() []string {
	var out []string
	for _, o := range strings.Split(s.AllowedOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	return out
}

// Addr returns host:port for the HTTP listener.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// StorageTarget returns what storage.Open expects: the DSN when one is set,
// the data directory otherwise.
func (s StorageConfig) StorageTarget() string {
	if s.DSN != "" {
		return s.DSN
	}
	return s.DataDir
}

// SlogLevel maps Level onto slog levels; unknown values mean info.
func (l LogConfig) SlogLevel() slog.Level {
	switch strings.ToLower(l.Level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Host:           "127.0.0.1",
			Port:           5000,
			AllowedOrigins: "*",
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		LLM: LLMConfig{
			Provider: engine.ProviderGroq,
			Timeout:  60 * time.Second,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load builds the configuration from, in increasing precedence: defaults,
// the JSON file at $XDG_CONFIG_HOME/campusnav/config.json, a .env file in the
// working directory, and CAMPUSNAV_* environment variables. Variables already
// set in the environment win over .env.
//
// The API key is never read from the config file. It comes from
// CAMPUSNAV_LLM_API_KEY, the provider's conventional variable
// (GROQ_API_KEY, OPENROUTER_API_KEY, ...) or the secrets file, in that order.
// A missing key is not an error: the gateway then answers with its fallback.
func Load() (Config, error) {
	return loadWith(newFileBackend(FilePath()), secretsFile{path: SecretsFilePath()}, ".env")
}

func loadWith(b ConfigBackend, secrets secretReader, dotenvPath string) (Config, error) {
	if dotenvPath != "" {
		if err := godotenv.Load(dotenvPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("loading %s: %w", dotenvPath, err)
		}
	}

	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)

	cfg.LLM.Provider = strings.ToLower(strings.TrimSpace(cfg.LLM.Provider))
	if cfg.LLM.Model == "" {
		cfg.LLM.Model = engine.DefaultModel(cfg.LLM.Provider)
	}

	if cfg.LLM.APIKey == "" {
		if env := engine.KeyEnv(cfg.LLM.Provider); env != "" {
			cfg.LLM.APIKey = os.Getenv(env)
		}
	}
	if cfg.LLM.APIKey == "" && secrets != nil {
		if key, err := secrets.Get(cfg.LLM.Provider); err == nil {
			cfg.LLM.APIKey = strings.TrimSpace(key)
		}
	}

	return cfg, nil
}
