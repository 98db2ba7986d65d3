// Package config provides configuration loading and structs for the tebiki server.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Environment variables overlaid onto the file configuration.
const (
	EnvDatabaseURL       = "DATABASE_URL"
	EnvOpenAIAPIKey      = "OPENAI_API_KEY"
	EnvOpenAIBaseURL     = "OPENAI_BASE_URL"
	EnvEmbeddingProvider = "EMBEDDING_PROVIDER"
	EnvPort              = "TEBIKI_PORT"
)

// ErrDatabaseURLRequired is returned by RequireDatabase when no database URL is configured.
var ErrDatabaseURLRequired = errors.New(EnvDatabaseURL + " is required")

// Config holds all configuration for the application.
type Config struct {
	Debug     bool            `yaml:"debug"`
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Rag       RagStoreConfig  `yaml:"rag"`
	Watch     WatchConfig     `yaml:"watch"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string        `yaml:"host"`
	Port         int           `yaml:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	// RateLimit applies to ingest routes, in limiter format such as "60-M".
	RateLimit string `yaml:"rate_limit"`
	// UploadLimit caps multipart uploads, in bytes.
	UploadLimit int64 `yaml:"upload_limit"`
}

// DatabaseConfig holds the store URL and pool settings.
type DatabaseConfig struct {
	URL            string        `yaml:"url"`
	MaxConns       int32         `yaml:"max_conns"`
	MinConns       int32         `yaml:"min_conns"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
	IngestTimeout  time.Duration `yaml:"ingest_timeout"`
	AutoMigrate    *bool         `yaml:"auto_migrate"`
}

// AutoMigrateOrDefault returns whether to migrate on startup; defaults to true when unset.
func (d *DatabaseConfig) AutoMigrateOrDefault() bool {
	if d.AutoMigrate != nil {
		return *d.AutoMigrate
	}
	return true
}

// EmbeddingConfig holds embedding provider settings.
type EmbeddingConfig struct {
	Provider   string        `yaml:"provider"`
	Model      string        `yaml:"model"`
	APIKey     string        `yaml:"api_key"`
	BaseURL    string        `yaml:"base_url"`
	Timeout    time.Duration `yaml:"timeout"`
	MaxRetries int           `yaml:"max_retries"`
	CacheSize  int           `yaml:"cache_size"`
}

// RagStoreConfig selects where the RagConfig document is persisted.
type RagStoreConfig struct {
	// Store is "file" or "postgres".
	Store      string `yaml:"store"`
	ConfigPath string `yaml:"config_path"`
}

// WatchConfig holds directory watch settings.
type WatchConfig struct {
	Directories []string      `yaml:"directories"`
	Extensions  []string      `yaml:"extensions"`
	Tags        []string      `yaml:"tags"`
	Recursive   *bool         `yaml:"recursive"`
	Debounce    time.Duration `yaml:"debounce"`
}

// RecursiveOrDefault returns whether to watch recursively; defaults to true when unset.
func (w *WatchConfig) RecursiveOrDefault() bool {
	if w.Recursive != nil {
		return *w.Recursive
	}
	return true
}

// Load reads the config file at path, applies defaults, overlays the
// environment and expands relative paths. An empty path yields the
// defaults plus environment.
func Load(path string) (*Config, error) {
	var cfg Config
	configDir := "."
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
		configDir = filepath.Dir(path)
	}

	if err := ApplyEnv(&cfg, os.LookupEnv); err != nil {
		return nil, err
	}
	ApplyDefaults(&cfg)

	cfg.Rag.ConfigPath = expandPath(cfg.Rag.ConfigPath, configDir)
	for i := range cfg.Watch.Directories {
		cfg.Watch.Directories[i] = expandPath(cfg.Watch.Directories[i], configDir)
	}
	return &cfg, nil
}

// LoadDotEnv loads KEY=VALUE pairs from the given files (".env" when none)
// into the process environment. Variables already set are kept, and
// missing files are ignored.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if _, err := os.Stat(f); errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err := godotenv.Load(f); err != nil {
			return fmt.Errorf("failed to load %s: %w", f, err)
		}
	}
	return nil
}

// ApplyEnv overlays environment variables onto cfg. Set variables win over file values.
func ApplyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	if v, ok := lookup(EnvDatabaseURL); ok && v != "" {
		cfg.Database.URL = v
	}
	if v, ok := lookup(EnvOpenAIAPIKey); ok && v != "" {
		cfg.Embedding.APIKey = v
	}
	if v, ok := lookup(EnvOpenAIBaseURL); ok && v != "" {
		cfg.Embedding.BaseURL = v
	}
	if v, ok := lookup(EnvEmbeddingProvider); ok && v != "" {
		cfg.Embedding.Provider = strings.ToLower(v)
	}
	if v, ok := lookup(EnvPort); ok && v != "" {
		port, err := strconv.Atoi(v)
		if err != nil || port <= 0 || port > 65535 {
			return fmt.Errorf("invalid %s %q", EnvPort, v)
		}
		cfg.Server.Port = port
	}
	return nil
}

// RequireDatabase reports ErrDatabaseURLRequired when no database URL is set.
func (c *Config) RequireDatabase() error {
	if strings.TrimSpace(c.Database.URL) == "" {
		return ErrDatabaseURLRequired
	}
	return nil
}

// Addr returns host:port for the HTTP listener.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// Save writes the config to path.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// expandPath converts a path to absolute. Paths starting with "./" are relative to configDir;
// other relative paths are relative to the home directory.
func expandPath(path string, configDir string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	if strings.HasPrefix(path, "./") || path == "." {
		if abs, err := filepath.Abs(filepath.Join(configDir, path)); err == nil {
			return abs
		}
		return filepath.Join(configDir, path)
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, path)
	}
	return path
}
