// Package config loads the engine configuration and the workflow/template
// pool catalog from YAML, with optional hot reload of the catalog.
package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/wangyiting19871016-commits/fudaiai-sub001/internal/model"
)

// Default returns the built-in configuration used when no file is given.
func Default() model.Config {
	return model.Config{
		Engine: model.EngineConfig{ProgressBuffer: 16},
		Poller: model.PollerConfig{
			FloorMs:     1000,
			CeilingMs:   3000,
			MaxAttempts: 60,
		},
		Fallback: model.FallbackConfig{AttemptDelayMs: 1000},
		Store: model.StoreConfig{
			Path:     "fudai.db",
			Capacity: 200,
		},
		Providers: model.ProvidersConfig{
			ImageAPI: model.ImageAPIConfig{
				BaseURL:      "https://openapi.liblibai.cloud",
				AccessKeyEnv: "LIBLIB_ACCESS_KEY",
				SecretKeyEnv: "LIBLIB_SECRET_KEY",
				TimeoutSec:   30,
			},
			ImageHost: model.ImageHostConfig{
				TimeoutSec: 30,
			},
			Gemini: model.GeminiConfig{
				Model:     "gemini-2.0-flash",
				APIKeyEnv: "GEMINI_API_KEY",
			},
		},
		Logging: model.LoggingConfig{Level: "info"},
	}
}

// Load reads the configuration at path, layered over Default. An empty path
// returns the defaults unchanged.
func Load(path string) (model.Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config %s: %w", path, err)
	}

	dec := yaml.NewDecoder(strings.NewReader(string(data)))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}

	applyDefaults(&cfg)
	if err := validate(cfg); err != nil {
		return cfg, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

func applyDefaults(cfg *model.Config) {
	def := Default()
	if cfg.Engine.ProgressBuffer <= 0 {
		cfg.Engine.ProgressBuffer = def.Engine.ProgressBuffer
	}
	if cfg.Poller.FloorMs <= 0 {
		cfg.Poller.FloorMs = def.Poller.FloorMs
	}
	if cfg.Poller.CeilingMs <= 0 {
		cfg.Poller.CeilingMs = def.Poller.CeilingMs
	}
	if cfg.Poller.MaxAttempts <= 0 {
		cfg.Poller.MaxAttempts = def.Poller.MaxAttempts
	}
	if cfg.Fallback.AttemptDelayMs < 0 {
		cfg.Fallback.AttemptDelayMs = def.Fallback.AttemptDelayMs
	}
	if cfg.Store.Path == "" {
		cfg.Store.Path = def.Store.Path
	}
	if cfg.Store.Capacity <= 0 {
		cfg.Store.Capacity = def.Store.Capacity
	}
	if cfg.Providers.ImageAPI.BaseURL == "" {
		cfg.Providers.ImageAPI.BaseURL = def.Providers.ImageAPI.BaseURL
	}
	if cfg.Providers.ImageAPI.AccessKeyEnv == "" {
		cfg.Providers.ImageAPI.AccessKeyEnv = def.Providers.ImageAPI.AccessKeyEnv
	}
	if cfg.Providers.ImageAPI.SecretKeyEnv == "" {
		cfg.Providers.ImageAPI.SecretKeyEnv = def.Providers.ImageAPI.SecretKeyEnv
	}
	if cfg.Providers.ImageAPI.TimeoutSec <= 0 {
		cfg.Providers.ImageAPI.TimeoutSec = def.Providers.ImageAPI.TimeoutSec
	}
	if cfg.Providers.ImageHost.TimeoutSec <= 0 {
		cfg.Providers.ImageHost.TimeoutSec = def.Providers.ImageHost.TimeoutSec
	}
	if cfg.Providers.Gemini.Model == "" {
		cfg.Providers.Gemini.Model = def.Providers.Gemini.Model
	}
	if cfg.Providers.Gemini.APIKeyEnv == "" {
		cfg.Providers.Gemini.APIKeyEnv = def.Providers.Gemini.APIKeyEnv
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = def.Logging.Level
	}
}

func validate(cfg model.Config) error {
	if cfg.Poller.CeilingMs < cfg.Poller.FloorMs {
		return fmt.Errorf("poller ceiling_ms %d below floor_ms %d", cfg.Poller.CeilingMs, cfg.Poller.FloorMs)
	}
	switch cfg.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown logging level %q", cfg.Logging.Level)
	}
	return nil
}
