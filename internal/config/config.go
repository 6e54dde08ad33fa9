package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the server configuration
type Config struct {
	Server struct {
		Port            string        `yaml:"port"`
		ReadTimeout     time.Duration `yaml:"read_timeout"`
		WriteTimeout    time.Duration `yaml:"write_timeout"`
		IdleTimeout     time.Duration `yaml:"idle_timeout"`
		RequestTimeout  time.Duration `yaml:"request_timeout"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	} `yaml:"server"`

	Log struct {
		Level      string `yaml:"level"`
		SampleRate int    `yaml:"sample_rate"`
	} `yaml:"log"`

	Engine struct {
		Tracing  bool          `yaml:"tracing"`
		CacheTTL time.Duration `yaml:"cache_ttl"`
	} `yaml:"engine"`

	DefaultPolicy string       `yaml:"default_policy"`
	Storefronts   []Storefront `yaml:"storefronts"`
}

// Storefront declares one tenant served with the built-in rule catalog
type Storefront struct {
	ID     string `yaml:"id"`
	Name   string `yaml:"name"`
	Policy string `yaml:"policy"`
}

// Default returns the configuration used when no file is present
func Default() *Config {
	cfg := &Config{}
	cfg.Server.Port = "8080"
	cfg.Server.ReadTimeout = 15 * time.Second
	cfg.Server.WriteTimeout = 15 * time.Second
	cfg.Server.IdleTimeout = 60 * time.Second
	cfg.Server.RequestTimeout = 60 * time.Second
	cfg.Server.ShutdownTimeout = 30 * time.Second
	cfg.Log.Level = "INFO"
	cfg.Log.SampleRate = 1
	cfg.DefaultPolicy = "all"
	cfg.Storefronts = []Storefront{{ID: "demo", Name: "Demo Store"}}
	return cfg
}

// Load reads the YAML file at path over the defaults and applies env overrides.
// A missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("failed to read config file: %w", err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
			}
		}
	}

	if err := overrideFromEnv(cfg); err != nil {
		return nil, err
	}

	for i := range cfg.Storefronts {
		if cfg.Storefronts[i].Policy == "" {
			cfg.Storefronts[i].Policy = cfg.DefaultPolicy
		}
	}

	return cfg, nil
}

// overrideFromEnv applies PORT, LOG_LEVEL, ERROR_SAMPLE_RATE, DEFAULT_POLICY and ENGINE_TRACING
func overrideFromEnv(cfg *Config) error {
	if env := os.Getenv("PORT"); env != "" {
		cfg.Server.Port = env
	}

	if env := os.Getenv("LOG_LEVEL"); env != "" {
		cfg.Log.Level = env
	}

	if env := os.Getenv("ERROR_SAMPLE_RATE"); env != "" {
		rate, err := strconv.Atoi(env)
		if err != nil || rate < 1 {
			return fmt.Errorf("invalid ERROR_SAMPLE_RATE %q: must be a positive integer", env)
		}
		cfg.Log.SampleRate = rate
	}

	if env := os.Getenv("DEFAULT_POLICY"); env != "" {
		cfg.DefaultPolicy = env
	}

	if env := os.Getenv("ENGINE_TRACING"); env != "" {
		tracing, err := strconv.ParseBool(env)
		if err != nil {
			return fmt.Errorf("invalid ENGINE_TRACING %q: %w", env, err)
		}
		cfg.Engine.Tracing = tracing
	}

	return nil
}

// DefaultConfigPath returns CONFIG_PATH or configs/server.yaml
func DefaultConfigPath() string {
	if env := os.Getenv("CONFIG_PATH"); env != "" {
		return env
	}
	return "configs/server.yaml"
}
