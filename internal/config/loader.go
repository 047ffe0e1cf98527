package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"stt":           {"whisper", "openai"},
	"grammar":       {"openai", "anthropic", "ollama", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile"},
	"pronunciation": {"openai-realtime"},
}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r and validates the result.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.TLS != nil {
		if cfg.Server.TLS.CertFile == "" || cfg.Server.TLS.KeyFile == "" {
			errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
		}
	}

	// STT is the one provider evaluations cannot run without.
	if cfg.Providers.STT.Name == "" {
		errs = append(errs, errors.New("providers.stt.name is required"))
	}

	if cfg.Providers.STTFallback.Name != "" && cfg.Providers.STT.Name == cfg.Providers.STTFallback.Name &&
		cfg.Providers.STT.BaseURL == cfg.Providers.STTFallback.BaseURL {
		errs = append(errs, errors.New("providers.stt_fallback duplicates providers.stt"))
	}

	// Unknown provider names warn rather than fail so third-party
	// registrations keep working.
	validateProviderName("stt", cfg.Providers.STT.Name)
	validateProviderName("stt", cfg.Providers.STTFallback.Name)
	validateProviderName("grammar", cfg.Providers.Grammar.Name)
	validateProviderName("pronunciation", cfg.Providers.Pronunciation.Name)

	// Critique stage availability warnings
	if cfg.Providers.Grammar.Name == "" {
		slog.Warn("no grammar provider configured; evaluations will not carry a grammar critique")
	}
	if cfg.Providers.Pronunciation.Name == "" {
		slog.Warn("no pronunciation provider configured; evaluations will not carry a pronunciation critique")
	}

	// Evaluation
	if cfg.Evaluation.MaxAudioBytes < 0 {
		errs = append(errs, fmt.Errorf("evaluation.max_audio_bytes %d must not be negative", cfg.Evaluation.MaxAudioBytes))
	}
	if cfg.Evaluation.PronunciationTimeout < 0 {
		errs = append(errs, errors.New("evaluation.pronunciation_timeout must not be negative"))
	}
	if cfg.Evaluation.GrammarTimeout < 0 {
		errs = append(errs, errors.New("evaluation.grammar_timeout must not be negative"))
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name; may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
