// Package config loads kiln's settings from defaults, an optional .env file
// and KILN_* environment variables, in that order.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	StoreSQLite = "sqlite"
	StoreRedis  = "redis"
)

type Config struct {
	Runtime RuntimeConfig
	Storage StorageConfig
	Log     LogConfig
}

type RuntimeConfig struct {
	// OllamaURL is the base URL of the local Ollama server.
	OllamaURL string
	// DefaultModel is preselected in the model picker.
	DefaultModel string
	// KeepAlive is how long the runtime keeps a loaded model in memory.
	KeepAlive time.Duration
}

type StorageConfig struct {
	// Backend is "sqlite" or "redis".
	Backend string
	// DataDir holds the sqlite database and the log file.
	DataDir string
	// CacheDir holds named caches (model catalog).
	CacheDir string
	RedisURL string
	// RedisPrefix namespaces every key written to redis.
	RedisPrefix string
}

type LogConfig struct {
	Level string
	// File is where the TUI writes logs; empty means <DataDir>/kiln.log.
	File string
}

func defaults() Config {
	return Config{
		Runtime: RuntimeConfig{
			OllamaURL:    "http://localhost:11434",
			DefaultModel: "tinyllama",
			KeepAlive:    10 * time.Minute,
		},
		Storage: StorageConfig{
			Backend:     StoreSQLite,
			DataDir:     defaultDataDir(),
			CacheDir:    defaultCacheDir(),
			RedisURL:    "redis://localhost:6379/0",
			RedisPrefix: "kiln",
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load returns the effective configuration. A .env file in the working
// directory is read when present; real environment variables win over it.
func Load() (Config, error) {
	_ = godotenv.Load()
	return fromEnv(os.Getenv)
}

func fromEnv(getenv func(string) string) (Config, error) {
	cfg := defaults()

	str := func(key string, dst *string) {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			*dst = v
		}
	}

	str("KILN_OLLAMA_URL", &cfg.Runtime.OllamaURL)
	str("KILN_DEFAULT_MODEL", &cfg.Runtime.DefaultModel)
	str("KILN_STORE", &cfg.Storage.Backend)
	str("KILN_DATA_DIR", &cfg.Storage.DataDir)
	str("KILN_CACHE_DIR", &cfg.Storage.CacheDir)
	str("KILN_REDIS_URL", &cfg.Storage.RedisURL)
	str("KILN_REDIS_PREFIX", &cfg.Storage.RedisPrefix)
	str("KILN_LOG_LEVEL", &cfg.Log.Level)
	str("KILN_LOG_FILE", &cfg.Log.File)

	if v := strings.TrimSpace(getenv("KILN_KEEP_ALIVE")); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid KILN_KEEP_ALIVE %q: %w", v, err)
		}
		cfg.Runtime.KeepAlive = d
	}

	cfg.Runtime.OllamaURL = strings.TrimRight(cfg.Runtime.OllamaURL, "/")
	cfg.Storage.Backend = strings.ToLower(cfg.Storage.Backend)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate reports the first invalid setting.
func (c Config) Validate() error {
	switch c.Storage.Backend {
	case StoreSQLite:
		if c.Storage.DataDir == "" {
			return fmt.Errorf("missing data directory: set KILN_DATA_DIR")
		}
	case StoreRedis:
		if c.Storage.RedisURL == "" {
			return fmt.Errorf("redis store selected but KILN_REDIS_URL is empty")
		}
	default:
		return fmt.Errorf("unknown store backend %q (want %s or %s)", c.Storage.Backend, StoreSQLite, StoreRedis)
	}
	if c.Runtime.OllamaURL == "" {
		return fmt.Errorf("missing runtime URL: set KILN_OLLAMA_URL")
	}
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown log level %q", c.Log.Level)
	}
	return nil
}

// LogFile is the resolved log path.
func (c Config) LogFile() string {
	if c.Log.File != "" {
		return c.Log.File
	}
	return filepath.Join(c.Storage.DataDir, "kiln.log")
}

func defaultDataDir() string {
	dir := os.Getenv("XDG_DATA_HOME")
	if dir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			dir = filepath.Join(home, ".local", "share")
		} else {
			return "kiln-data"
		}
	}
	return filepath.Join(dir, "kiln")
}

func defaultCacheDir() string {
	dir, err := os.UserCacheDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "kiln-cache")
	}
	return filepath.Join(dir, "kiln")
}
