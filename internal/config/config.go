// Package config provides the configuration schema, loader, and provider
// registry for the Sorivox evaluation service.
package config

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// LogLevel controls log verbosity for the Sorivox server.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Duration is a time.Duration that unmarshals from YAML strings like "45s".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns d as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config is the root configuration structure for Sorivox.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Providers  ProvidersConfig  `yaml:"providers"`
	Evaluation EvaluationConfig `yaml:"evaluation"`
}

// ServerConfig holds network and logging settings for the Sorivox server.
type ServerConfig struct {
	// ListenAddr is the TCP address the server listens on (e.g., ":8080").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`

	// TLS configures TLS for the server. When nil, the server runs plain HTTP.
	TLS *TLSConfig `yaml:"tls"`
}

// TLSConfig holds TLS certificate paths for enabling HTTPS.
type TLSConfig struct {
	// CertFile is the path to the PEM-encoded TLS certificate.
	CertFile string `yaml:"cert_file"`

	// KeyFile is the path to the PEM-encoded TLS private key.
	KeyFile string `yaml:"key_file"`
}

// ProvidersConfig declares which provider implementation to use for each
// evaluation stage. Each field selects a named provider registered in the
// [Registry]. STT is required; the critique providers may be left empty to
// disable their stage.
type ProvidersConfig struct {
	STT ProviderEntry `yaml:"stt"`

	// STTFallback, when named, is tried whenever the primary STT backend
	// fails or its circuit breaker is open.
	STTFallback ProviderEntry `yaml:"stt_fallback"`

	Grammar       ProviderEntry `yaml:"grammar"`
	Pronunciation ProviderEntry `yaml:"pronunciation"`
}

// ProviderEntry is the common configuration block shared by all provider types.
// The Name field is used to look up the constructor in the [Registry].
type ProviderEntry struct {
	// Name selects the registered provider implementation (e.g., "whisper", "openai").
	Name string `yaml:"name"`

	// APIKey is the authentication key for the provider's API if any.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default API endpoint.
	// Leave empty to use the provider's built-in default.
	BaseURL string `yaml:"base_url"`

	// Model selects a specific model within the provider (e.g., "whisper-1", "gpt-4o").
	Model string `yaml:"model"`

	// Options holds provider-specific configuration values not covered by the
	// standard fields above. Values may be strings, numbers, booleans, or nested maps.
	Options map[string]any `yaml:"options"`
}

// EvaluationConfig tunes the evaluation pipeline.
type EvaluationConfig struct {
	// DefaultLocale is assumed for requests that do not name one
	// (e.g., "ko-KR"). Empty means the built-in default.
	DefaultLocale string `yaml:"default_locale"`

	// MaxAudioBytes caps the accepted recording size. Zero means the
	// built-in 25 MiB ceiling.
	MaxAudioBytes int `yaml:"max_audio_bytes"`

	// PronunciationTimeout bounds the realtime critique per request
	// (e.g., "45s"). Zero means the built-in default.
	PronunciationTimeout Duration `yaml:"pronunciation_timeout"`

	// GrammarTimeout bounds the grammar review per request (e.g., "20s").
	// Zero means the built-in default.
	GrammarTimeout Duration `yaml:"grammar_timeout"`
}
