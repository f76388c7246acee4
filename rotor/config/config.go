// Package config loads rotor settings from ROTOR_* environment variables.
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

var (
	ErrInvalidInterval = errors.New("config: rotation interval must be positive")
	ErrInvalidDeferred = errors.New("config: max deferred must not be negative")
	ErrInvalidLogLevel = errors.New("config: unknown log level")
)

// Config holds runtime settings shared by the rotor commands.
type Config struct {
	ListenAddr       string        `env:"ROTOR_LISTEN_ADDR"       envDefault:"[::1]:4433"`
	RedisAddr        string        `env:"ROTOR_REDIS_ADDR"        envDefault:"localhost:6379"`
	RedisKeyPrefix   string        `env:"ROTOR_REDIS_KEY_PREFIX"  envDefault:"rotor:feed:"`
	Stream           string        `env:"ROTOR_STREAM"            envDefault:"sessions"`
	RotationInterval time.Duration `env:"ROTOR_ROTATION_INTERVAL" envDefault:"1s"`
	MaxDeferred      int           `env:"ROTOR_MAX_DEFERRED"      envDefault:"64"`
	LogLevel         string        `env:"ROTOR_LOG_LEVEL"         envDefault:"info"`
}

// Parse reads the environment without validating it, so callers can apply
// overrides before calling Validate.
func Parse() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	return cfg, nil
}

// Load parses the environment and validates the result.
func Load() (Config, error) {
	cfg, err := Parse()
	if err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if c.RotationInterval <= 0 {
		return ErrInvalidInterval
	}
	if c.MaxDeferred < 0 {
		return ErrInvalidDeferred
	}
	if _, err := parseLevel(c.LogLevel); err != nil {
		return err
	}
	return nil
}

// Logger builds a text logger writing to w at the configured level.
func (c Config) Logger(w io.Writer) (*slog.Logger, error) {
	level, err := parseLevel(c.LogLevel)
	if err != nil {
		return nil, err
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})), nil
}

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidLogLevel, s)
	}
	return level, nil
}
