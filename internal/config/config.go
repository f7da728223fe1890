// Package config loads portal configuration from an optional YAML file
// with environment variable overrides on top, so kiosk images ship one
// file and deployments tweak single values through the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full portal configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Model     ModelConfig     `yaml:"model"`
	Cache     CacheConfig     `yaml:"cache"`
	Auth      AuthConfig      `yaml:"auth"`
	Community CommunityConfig `yaml:"community"`
}

type ServerConfig struct {
	Host           string   `yaml:"host"`
	Port           int      `yaml:"port"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

type ModelConfig struct {
	APIKey  string        `yaml:"api_key"`
	Name    string        `yaml:"name"`
	BaseURL string        `yaml:"base_url"`
	Timeout time.Duration `yaml:"timeout"`
}

type CacheConfig struct {
	MaxCostBytes int64         `yaml:"max_cost_bytes"`
	TTL          time.Duration `yaml:"ttl"`
	RedisAddress string        `yaml:"redis_address"`
}

type AuthConfig struct {
	Secret string `yaml:"secret"`
}

type CommunityConfig struct {
	NATSAddress string `yaml:"nats_address"`
}

// Default returns the baseline configuration.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Host:           "0.0.0.0",
			Port:           8080,
			AllowedOrigins: []string{"*"},
		},
		Model: ModelConfig{
			Name:    "gemini-2.5-flash",
			Timeout: 60 * time.Second,
		},
		Cache: CacheConfig{
			MaxCostBytes: 32 << 20,
			TTL:          24 * time.Hour,
		},
	}
}

// Load builds the configuration: defaults, then the YAML file at path
// (skipped when path is empty or missing), then environment overrides.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return cfg, fmt.Errorf("failed to parse config %s: %w", path, err)
			}
		case !os.IsNotExist(err):
			return cfg, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	}

	applyEnv(&cfg)
	return cfg, nil
}

func applyEnv(cfg *Config) {
	cfg.Server.Host = getEnv("PORTAL_HOST", cfg.Server.Host)
	cfg.Server.Port = getEnvInt("PORTAL_PORT", cfg.Server.Port)
	cfg.Model.APIKey = getEnv("GEMINI_API_KEY", cfg.Model.APIKey)
	cfg.Model.Name = getEnv("GEMINI_MODEL", cfg.Model.Name)
	cfg.Model.BaseURL = getEnv("GEMINI_BASE_URL", cfg.Model.BaseURL)
	cfg.Cache.RedisAddress = getEnv("REDIS_ADDRESS", cfg.Cache.RedisAddress)
	cfg.Auth.Secret = getEnv("PORTAL_AUTH_SECRET", cfg.Auth.Secret)
	cfg.Community.NATSAddress = getEnv("NATS_ADDRESS", cfg.Community.NATSAddress)
}

func getEnv(key, defaultValue string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if val := os.Getenv(key); val != "" {
		if parsed, err := strconv.Atoi(val); err == nil {
			return parsed
		}
	}
	return defaultValue
}
