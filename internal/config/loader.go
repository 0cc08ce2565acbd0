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

// ValidProviderNames lists known provider names per client kind.
// Used by [Validate] to warn about unrecognised names.
var ValidProviderNames = map[string][]string{
	"stt":  {"openai", "whisperd"},
	"tts":  {"openai", "elevenlabs"},
	"chat": {"openai", "anthropic", "gemini", "ollama", "deepseek", "mistral", "groq", "llamacpp", "llamafile"},
}

// Load reads the YAML configuration file at path and returns a validated
// [Config]. It is a convenience wrapper around [LoadFromReader].
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
// Hard errors are joined and returned; soft misconfigurations (a partially
// filled Agentforce block, no chat fallback) only log warnings because the
// server still works in a degraded mode.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.TLS != nil {
		if cfg.Server.TLS.CertFile == "" || cfg.Server.TLS.KeyFile == "" {
			errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
		}
	}

	validateProviderName("stt", cfg.Providers.STT.Name)
	validateProviderName("tts", cfg.Providers.TTS.Name)
	validateProviderName("chat", cfg.Providers.Chat.Name)

	if cfg.Providers.STT.Name == "" {
		errs = append(errs, errors.New("providers.stt.name is required; no turn can start without transcription"))
	}
	if cfg.Providers.TTS.Name == "" {
		errs = append(errs, errors.New("providers.tts.name is required; replies cannot be spoken without synthesis"))
	}

	// A missing chat fallback is survivable while Agentforce is healthy,
	// but every Agentforce failure then reaches the client.
	if cfg.Providers.Chat.Name == "" {
		if cfg.Agentforce.Complete() {
			slog.Warn("providers.chat is not configured; Agentforce failures will surface to clients instead of falling back")
		} else {
			errs = append(errs, errors.New("neither providers.chat nor a complete agentforce block is configured; no backend can answer"))
		}
	}

	if af := cfg.Agentforce; !af.Complete() {
		if af.ServerURL != "" || af.ClientID != "" || af.ClientSecret != "" || af.AgentID != "" {
			slog.Warn("agentforce block is incomplete; the virtual-agent path will be skipped",
				"have_server_url", af.ServerURL != "",
				"have_client_id", af.ClientID != "",
				"have_client_secret", af.ClientSecret != "",
				"have_agent_id", af.AgentID != "")
		}
	}

	if cfg.Pipeline.MaxHistoryTurns < 0 {
		errs = append(errs, fmt.Errorf("pipeline.max_history_turns %d must not be negative", cfg.Pipeline.MaxHistoryTurns))
	}
	if cfg.Pipeline.Classifier != "" && !cfg.Pipeline.Classifier.IsValid() {
		errs = append(errs, fmt.Errorf("pipeline.classifier %q is invalid; valid values: transcript, rms", cfg.Pipeline.Classifier))
	}

	return errors.Join(errs...)
}

// validateProviderName warns when a provider name is not in the known list.
// Unknown names are not fatal — the registry lookup decides at build time.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	if !slices.Contains(ValidProviderNames[kind], name) {
		slog.Warn("unrecognised provider name", "kind", kind, "name", name)
	}
}
