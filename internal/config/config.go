// Package config loads keva's configuration from struct defaults, an
// optional YAML file and KEVA_-prefixed environment variables, in that
// order of precedence (later layers win).
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/oxfell/keva/internal/logger"
	"github.com/oxfell/keva/internal/store"
)

const (
	// DefaultPath is where keva looks for its config file.
	DefaultPath = "keva.yaml"
	// EnvPrefix marks environment variable overrides. KEVA_SERVER_ADDR
	// maps to server.addr, KEVA_STORE_SWEEP_INTERVAL to
	// store.sweep_interval.
	EnvPrefix = "KEVA_"
)

// Config holds the full keva configuration.
type Config struct {
	Server ServerConfig  `koanf:"server"`
	Store  StoreConfig   `koanf:"store"`
	Log    logger.Config `koanf:"log"`
	Web    WebConfig     `koanf:"web"`
}

// ServerConfig configures the TCP listener.
type ServerConfig struct {
	Addr       string `koanf:"addr"`
	MaxClients int    `koanf:"max_clients"`
}

// StoreConfig configures the keyspace.
type StoreConfig struct {
	SweepInterval time.Duration `koanf:"sweep_interval"`
}

// WebConfig configures the HTTP endpoint for health, stats and metrics.
type WebConfig struct {
	Enabled bool   `koanf:"enabled"`
	Addr    string `koanf:"addr"`
}

// Default returns the configuration used when nothing else is provided.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:       ":6379",
			MaxClients: 10000,
		},
		Store: StoreConfig{
			SweepInterval: store.DefaultSweepInterval,
		},
		Log: logger.DefaultConfig(),
		Web: WebConfig{
			Enabled: true,
			Addr:    ":8080",
		},
	}
}

// Load reads the configuration from path plus the environment, applied on
// top of Default. A missing file at path is not an error.
func Load(path string) (*Config, error) {
	cfg := Default()
	if err := NewLoader(WithFile(path)).Load(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Loader reads configuration layers into a koanf instance.
type Loader struct {
	k         *koanf.Koanf
	envPrefix string
	filePath  string
}

// Option customises a Loader.
type Option func(*Loader)

// WithEnvPrefix overrides the environment variable prefix. An empty
// prefix disables environment overrides.
func WithEnvPrefix(prefix string) Option {
	return func(l *Loader) { l.envPrefix = prefix }
}

// WithFile sets the config file path. An empty path disables file
// loading.
func WithFile(path string) Option {
	return func(l *Loader) { l.filePath = path }
}

// NewLoader creates a Loader with the default file path and env prefix.
func NewLoader(opts ...Option) *Loader {
	l := &Loader{
		k:         koanf.New("."),
		envPrefix: EnvPrefix,
		filePath:  DefaultPath,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Load populates target from the configured layers. Fields absent from
// every layer keep whatever value target already holds.
func (l *Loader) Load(target any) error {
	if err := l.loadFile(); err != nil {
		return err
	}
	if err := l.loadEnv(); err != nil {
		return err
	}
	if err := l.k.Unmarshal("", target); err != nil {
		return fmt.Errorf("unmarshal config: %w", err)
	}
	return nil
}

func (l *Loader) loadFile() error {
	if l.filePath == "" {
		return nil
	}
	if _, err := os.Stat(l.filePath); os.IsNotExist(err) {
		return nil
	}
	if err := l.k.Load(file.Provider(l.filePath), yaml.Parser()); err != nil {
		return fmt.Errorf("load config file: %w", err)
	}
	return nil
}

func (l *Loader) loadEnv() error {
	if l.envPrefix == "" {
		return nil
	}
	provider := env.Provider(l.envPrefix, ".", func(s string) string {
		s = strings.TrimPrefix(s, l.envPrefix)
		s = strings.ToLower(s)
		// Sections are single words, so only the first underscore
		// separates section from key.
		return strings.Replace(s, "_", ".", 1)
	})
	if err := l.k.Load(provider, nil); err != nil {
		return fmt.Errorf("load environment: %w", err)
	}
	return nil
}
