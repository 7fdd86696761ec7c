package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader].
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
	cfg.setDefaults()
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) setDefaults() {
	if c.Session.MaxHistory <= 0 {
		c.Session.MaxHistory = 20
	}
	if c.Audio.Language == "" {
		c.Audio.Language = "es"
	}
	if c.Server.ShutdownTimeout <= 0 {
		c.Server.ShutdownTimeout = 15 * time.Second
	}
}

// Validate checks that cfg contains a coherent set of values. It returns a
// joined error listing every validation failure found.
func Validate(cfg *Config) error {
	var errs []error

	if !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Issuing.BaseURL == "" {
		errs = append(errs, errors.New("issuing.base_url is required"))
	}

	switch cfg.Audio.Driver {
	case "", "whisper", "mock":
	default:
		errs = append(errs, fmt.Errorf("audio.driver %q is invalid; valid values: \"\", whisper, mock", cfg.Audio.Driver))
	}
	if cfg.Audio.Driver == "whisper" && cfg.Audio.WhisperModelPath == "" {
		errs = append(errs, errors.New("audio.whisper_model_path is required when audio.driver is whisper"))
	}

	switch cfg.LLM.Driver {
	case "", "openai", "anyllm":
	default:
		errs = append(errs, fmt.Errorf("llm.driver %q is invalid; valid values: \"\", openai, anyllm", cfg.LLM.Driver))
	}
	if cfg.LLM.Driver != "" && cfg.LLM.Model == "" {
		errs = append(errs, fmt.Errorf("llm.model is required when llm.driver is %q", cfg.LLM.Driver))
	}
	if cfg.LLM.Driver == "anyllm" && cfg.LLM.Provider == "" {
		errs = append(errs, errors.New("llm.provider is required when llm.driver is anyllm"))
	}
	if fb := cfg.LLM.Fallback; fb != nil {
		if cfg.LLM.Driver == "" {
			errs = append(errs, errors.New("llm.fallback requires llm.driver to be set"))
		}
		switch fb.Driver {
		case "openai", "anyllm":
		default:
			errs = append(errs, fmt.Errorf("llm.fallback.driver %q is invalid; valid values: openai, anyllm", fb.Driver))
		}
		if fb.Model == "" {
			errs = append(errs, errors.New("llm.fallback.model is required"))
		}
		if fb.Driver == "anyllm" && fb.Provider == "" {
			errs = append(errs, errors.New("llm.fallback.provider is required when llm.fallback.driver is anyllm"))
		}
	}

	return errors.Join(errs...)
}
