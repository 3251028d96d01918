package config

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Load builds a Config by layering defaults, optional file, and env vars.
// Order of precedence (low -> high):.
//  1. defaults (New())
//  2. file (YAML) if GROWTH_CONFIG is set
//  3. env (prefix GROWTH_)
func Load(ctx context.Context) (*Config, error) {
	_ = ctx

	base := New()

	k := koanf.New(".")

	if path := os.Getenv("GROWTH_CONFIG"); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrLoadConfig, err)
		}
	}

	// Environment variables: GROWTH_ADDR, GROWTH_QUEUE_SIZE, ...
	// Map env keys like GROWTH_QUEUE_SIZE -> queue_size (flat keys).
	// Preserve underscores to match koanf tags on the struct.
	envProvider := env.Provider("GROWTH_", ".", func(s string) string {
		s = strings.ToLower(s)
		s = strings.TrimPrefix(s, "growth_")
		return s
	})
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLoadConfig, err)
	}

	// Unmarshal into a copy
	cfg := *base
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLoadConfig, err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// validate rejects configurations the service cannot run with.
func (c *Config) validate() error {
	if c.Addr == "" {
		return fmt.Errorf("%w: addr must not be empty", ErrInvalidConfig)
	}
	if c.RejectThreshold <= c.DownweightThreshold {
		return fmt.Errorf("%w: reject threshold must exceed downweight threshold", ErrInvalidConfig)
	}
	if c.RejectThreshold > 1 || c.DownweightThreshold < 0 {
		return fmt.Errorf("%w: thresholds must lie within [0, 1]", ErrInvalidConfig)
	}
	if c.HalfLifeDays <= 0 {
		return fmt.Errorf("%w: half life must be positive", ErrInvalidConfig)
	}
	if c.PriorAlpha <= 0 || c.PriorBeta <= 0 {
		return fmt.Errorf("%w: beta prior parameters must be positive", ErrInvalidConfig)
	}
	return nil
}
