package config

import (
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Server struct {
		Port           string   `yaml:"port" validate:"omitempty,numeric"`
		ReadTimeout    string   `yaml:"readTimeout"`
		WriteTimeout   string   `yaml:"writeTimeout"`
		AllowedOrigins []string `yaml:"allowedOrigins"`
	} `yaml:"server"`
	Auth struct {
		JWTSecret string `yaml:"jwtSecret" validate:"required,min=16"`
		TokenTTL  string `yaml:"tokenTTL"`
	} `yaml:"auth"`
	Redis struct {
		Addr     string `yaml:"addr" validate:"omitempty,hostname_port"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db" validate:"gte=0"`
	} `yaml:"redis"`
	Postgres struct {
		URL string `yaml:"url" validate:"omitempty,url"`
	} `yaml:"postgres"`
	Quiz struct {
		CacheTTL string `yaml:"cacheTTL"`
	} `yaml:"quiz"`
}

var validate = validator.New()

// Load reads YAML config from path, applies environment overrides and validates
// the result. A missing file yields a config built from the environment alone.
func Load(path string) (Config, error) {
	cfg := Config{}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse %s: %w", path, err)
		}
	case os.IsNotExist(err):
	default:
		return cfg, err
	}

	applyEnv(&cfg)
	if err := validate.Struct(cfg); err != nil {
		return cfg, fmt.Errorf("invalid config: %w", err)
	}
	for _, raw := range []string{cfg.Server.ReadTimeout, cfg.Server.WriteTimeout, cfg.Auth.TokenTTL, cfg.Quiz.CacheTTL} {
		if raw == "" {
			continue
		}
		if _, err := time.ParseDuration(raw); err != nil {
			return cfg, fmt.Errorf("invalid config: duration %q: %w", raw, err)
		}
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("JWT_SECRET"); v != "" {
		cfg.Auth.JWTSecret = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Postgres.URL = v
	}
}

// TTLDuration parses a duration string or returns the fallback if empty.
func TTLDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}
	if d, err := time.ParseDuration(raw); err == nil {
		return d
	}
	return fallback
}
