// Package config provides the configuration schema and loader for Jack.
package config

import "time"

// Config is the root configuration structure for Jack, loaded once at
// process startup.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Issuing IssuingConfig `yaml:"issuing"`
	Session SessionConfig `yaml:"session"`
	Audio   AudioConfig   `yaml:"audio"`
	LLM     LLMConfig     `yaml:"llm"`
	Audit   AuditConfig   `yaml:"audit"`
}

// ServerConfig holds network and logging settings for the HTTP front door.
type ServerConfig struct {
	// ListenAddr is the TCP address the server listens on (e.g., ":8080").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity. Valid values: "debug", "info", "warn", "error".
	LogLevel LogLevel `yaml:"log_level"`

	// ShutdownTimeout bounds how long graceful shutdown waits for in-flight
	// requests before forcing close.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// LogLevel is a validated log-level string.
type LogLevel string

// IsValid reports whether l is one of the four recognised levels.
func (l LogLevel) IsValid() bool {
	switch l {
	case "", "debug", "info", "warn", "error":
		return true
	default:
		return false
	}
}

// IssuingConfig configures the issuing-service HTTP client (§4.6/§6).
type IssuingConfig struct {
	// BaseURL is the issuing service's root, e.g. "https://api.tinred.pe".
	BaseURL string `yaml:"base_url"`
}

// SessionConfig tunes the in-memory session store (§4.1/§4.2).
type SessionConfig struct {
	// TTL is how long a session may sit idle before the next message from
	// that phone gets a fresh session instead of the old one.
	TTL time.Duration `yaml:"ttl"`

	// ContextRefresh is the freshness window for a cached UserContext.
	ContextRefresh time.Duration `yaml:"context_refresh"`

	// MaxHistory bounds the number of turns kept per session.
	MaxHistory int `yaml:"max_history"`
}

// AudioConfig selects and configures the optional speech-to-text
// collaborator (§4.5 P1, §6).
type AudioConfig struct {
	// Driver selects the STT backend. Empty disables the audio gate
	// entirely — audio is then ignored, and a voice note with no text gets
	// the empty-message reply.
	// Valid values: "", "whisper", "mock" (canned transcript, for local
	// smoke-testing without a model file).
	Driver string `yaml:"driver"`

	// WhisperModelPath is the path to a local whisper.cpp GGML model file,
	// required when Driver is "whisper".
	WhisperModelPath string `yaml:"whisper_model_path"`

	// Language is the BCP-47-ish language hint passed to the STT backend.
	// Defaults to "es" (Peruvian Spanish merchants).
	Language string `yaml:"language"`
}

// LLMConfig selects and configures the optional free-form-question
// collaborator (§4.5.3, §6).
type LLMConfig struct {
	// Driver selects the LLM backend. Empty disables the LLM fallback —
	// general questions get a canned reply instead.
	// Valid values: "", "openai", "anyllm".
	Driver string `yaml:"driver"`

	// Provider is the any-llm-go backend name (e.g. "anthropic", "gemini",
	// "ollama"); only consulted when Driver is "anyllm".
	Provider string `yaml:"provider"`

	// APIKey authenticates against the selected backend.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the backend's default API endpoint.
	BaseURL string `yaml:"base_url"`

	// Model selects a specific model within the backend (e.g. "gpt-4o-mini").
	Model string `yaml:"model"`

	// Timeout bounds a single completion call.
	Timeout time.Duration `yaml:"timeout"`

	// Fallback optionally names a second backend to try when the primary
	// is unavailable (vendor outage, rate limit) — see internal/llmreply/fallback.
	Fallback *LLMFallbackConfig `yaml:"fallback"`
}

// LLMFallbackConfig configures a secondary LLM backend behind a circuit
// breaker, tried only after Driver's primary backend fails.
type LLMFallbackConfig struct {
	// Driver selects the fallback backend. Valid values: "openai", "anyllm".
	Driver string `yaml:"driver"`

	Provider string `yaml:"provider"`
	APIKey   string `yaml:"api_key"`
	BaseURL  string `yaml:"base_url"`
	Model    string `yaml:"model"`
}

// AuditConfig configures the optional PostgreSQL emission-audit sink
// (§2.2 expansion).
type AuditConfig struct {
	// PostgresDSN is the connection string for the audit database. Empty
	// disables the sink — emissions are still kept in the in-memory
	// session ring, just not mirrored durably.
	PostgresDSN string `yaml:"postgres_dsn"`
}
