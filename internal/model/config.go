package model

type Config struct {
	Engine    EngineConfig    `yaml:"engine"`
	Poller    PollerConfig    `yaml:"poller"`
	Fallback  FallbackConfig  `yaml:"fallback"`
	Store     StoreConfig     `yaml:"store"`
	Providers ProvidersConfig `yaml:"providers"`
	Logging   LoggingConfig   `yaml:"logging"`
}

type EngineConfig struct {
	ProgressBuffer int `yaml:"progress_buffer"`
}

type PollerConfig struct {
	FloorMs     int `yaml:"floor_ms"`
	CeilingMs   int `yaml:"ceiling_ms"`
	MaxAttempts int `yaml:"max_attempts"`
}

type FallbackConfig struct {
	AttemptDelayMs int `yaml:"attempt_delay_ms"`
}

type StoreConfig struct {
	Path     string `yaml:"path"`
	Capacity int    `yaml:"capacity"`
}

type ProvidersConfig struct {
	ImageAPI  ImageAPIConfig  `yaml:"image_api"`
	ImageHost ImageHostConfig `yaml:"image_host"`
	Gemini    GeminiConfig    `yaml:"gemini"`
}

type ImageAPIConfig struct {
	BaseURL      string `yaml:"base_url"`
	AccessKeyEnv string `yaml:"access_key_env"`
	SecretKeyEnv string `yaml:"secret_key_env"`
	TimeoutSec   int    `yaml:"timeout_sec"`
}

type ImageHostConfig struct {
	UploadURL  string `yaml:"upload_url"`
	TimeoutSec int    `yaml:"timeout_sec"`
}

type GeminiConfig struct {
	Model     string `yaml:"model"`
	APIKeyEnv string `yaml:"api_key_env"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
}
