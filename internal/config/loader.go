package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"
)

// ValidBackendNames lists the LLM backend names the anyllm factory accepts.
// Used by [Validate] to warn about likely typos without rejecting third-party
// additions outright.
var ValidBackendNames = []string{
	"openai", "anthropic", "gemini", "ollama", "deepseek", "mistral", "groq", "llamacpp", "llamafile",
}

// Load reads the YAML configuration file at path, overlays it on [Default],
// and returns the validated result. Values may reference environment
// variables as ${VAR} or ${VAR:-fallback}; they are expanded before decoding.
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

// LoadFromReader decodes a YAML config from r on top of [Default] and
// validates the result. Useful in tests where configs are string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("config: read: %w", err)
	}
	raw = []byte(expandEnv(string(raw)))

	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		if errors.Is(err, io.EOF) {
			// Empty file: defaults apply.
			return cfg, Validate(cfg)
		}
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// expandEnv substitutes ${VAR} and ${VAR:-fallback} references from the
// environment. Unset variables without a fallback expand to the empty string.
func expandEnv(s string) string {
	return os.Expand(s, func(ref string) string {
		name, fallback, hasFallback := strings.Cut(ref, ":-")
		if v, ok := os.LookupEnv(name); ok && v != "" {
			return v
		}
		if hasFallback {
			return fallback
		}
		return ""
	})
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.LogFormat != "" && !cfg.Server.LogFormat.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_format %q is invalid; valid values: text, json", cfg.Server.LogFormat))
	}
	if cfg.DataDir == "" {
		errs = append(errs, errors.New("data_dir is required"))
	}

	// Session store
	if cfg.SessionStore.Driver != "" && !cfg.SessionStore.Driver.IsValid() {
		errs = append(errs, fmt.Errorf("session_store.driver %q is invalid; valid values: file, postgres", cfg.SessionStore.Driver))
	}
	if cfg.SessionStore.Driver == SessionPostgres && cfg.SessionStore.DSN == "" {
		errs = append(errs, errors.New("session_store.dsn is required when driver is postgres"))
	}

	// Providers
	if len(cfg.Providers) == 0 {
		errs = append(errs, errors.New("providers must list at least one entry"))
	}
	namesSeen := make(map[string]int, len(cfg.Providers))
	for i, p := range cfg.Providers {
		prefix := fmt.Sprintf("providers[%d]", i)
		if p.Name == "" {
			errs = append(errs, fmt.Errorf("%s.name is required", prefix))
		} else {
			if prev, ok := namesSeen[p.Name]; ok {
				errs = append(errs, fmt.Errorf("%s.name %q is a duplicate of providers[%d]", prefix, p.Name, prev))
			}
			namesSeen[p.Name] = i
		}
		if p.Backend == "" {
			errs = append(errs, fmt.Errorf("%s.backend is required", prefix))
		} else if !slices.Contains(ValidBackendNames, p.Backend) {
			slog.Warn("unknown backend name — may be a typo or third-party backend",
				"provider", p.Name,
				"backend", p.Backend,
				"known", ValidBackendNames,
			)
		}
		if p.Model == "" {
			errs = append(errs, fmt.Errorf("%s.model is required", prefix))
		}
		if p.Remote && p.Quota.Limit > 0 && !p.Quota.Period.IsValid() {
			errs = append(errs, fmt.Errorf("%s.quota.period %q is invalid; valid values: daily, monthly", prefix, p.Quota.Period))
		}
		if !p.Remote && p.Quota.Limit > 0 {
			slog.Warn("quota configured on a local provider is ignored", "provider", p.Name)
		}
	}

	// Browser: exactly one transport, or none to disable captures.
	if len(cfg.Browser.Command) > 0 && cfg.Browser.URL != "" {
		errs = append(errs, errors.New("browser.command and browser.url are mutually exclusive"))
	}

	// Workflow
	if cfg.Workflow.PollInterval <= 0 {
		errs = append(errs, errors.New("workflow.poll_interval must be positive"))
	}
	if cfg.Workflow.ImageTimeout <= 0 || cfg.Workflow.VideoTimeout <= 0 {
		errs = append(errs, errors.New("workflow timeouts must be positive"))
	}

	// Pipeline
	if cfg.Pipeline.MaxRegenerations < 0 {
		errs = append(errs, errors.New("pipeline.max_regenerations must not be negative"))
	}
	if cfg.Pipeline.TranscriptChars <= 0 {
		errs = append(errs, errors.New("pipeline.transcript_chars must be positive"))
	}
	if cfg.Pipeline.StillDuration <= 0 {
		errs = append(errs, errors.New("pipeline.still_duration must be positive"))
	}

	return errors.Join(errs...)
}
