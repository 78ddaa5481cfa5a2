package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"time"

	"gopkg.in/yaml.v3"
)

// ValidBackendNames lists known backend names per modality.
// Used by [Validate] to warn about unrecognised backend names.
var ValidBackendNames = map[string][]string{
	"vision": {"ferplus-onnx", "mock"},
	"audio":  {"prosody-onnx", "mock"},
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

	// Backend name validation — warn for unknown backend names.
	validateBackendName("vision", cfg.Providers.Vision.Name)
	validateBackendName("audio", cfg.Providers.Audio.Name)

	if cfg.Providers.Vision.Name == "" && cfg.Providers.Audio.Name == "" {
		slog.Warn("no vision or audio backend configured; only synthetic mode will produce data")
	}

	// Chunker
	if cfg.Chunker.FrameInterval < 0 {
		errs = append(errs, fmt.Errorf("chunker.frame_interval %v must not be negative", cfg.Chunker.FrameInterval))
	}
	if cfg.Chunker.WindowDuration < 0 {
		errs = append(errs, fmt.Errorf("chunker.window_duration %v must not be negative", cfg.Chunker.WindowDuration))
	}
	if cfg.Chunker.InputSampleRate < 0 {
		errs = append(errs, fmt.Errorf("chunker.input_sample_rate %d must not be negative", cfg.Chunker.InputSampleRate))
	}

	// Fusion weights: both set or both zero, and summing to ~1.
	wv, wa := cfg.Fusion.VisionWeight, cfg.Fusion.AudioWeight
	switch {
	case wv == 0 && wa == 0:
		// Defaults apply.
	case wv < 0 || wa < 0 || wv > 1 || wa > 1:
		errs = append(errs, fmt.Errorf("fusion weights vision=%.2f audio=%.2f must lie in [0, 1]", wv, wa))
	case wv+wa < 0.99 || wv+wa > 1.01:
		errs = append(errs, fmt.Errorf("fusion weights vision=%.2f audio=%.2f must sum to 1", wv, wa))
	}

	if tau := cfg.Fusion.ConflictThreshold; tau < 0 || tau >= 1 {
		errs = append(errs, fmt.Errorf("fusion.conflict_threshold %.2f is out of range [0, 1)", tau))
	}
	if a := cfg.Fusion.SmoothingAlpha; a < 0 || a > 1 {
		errs = append(errs, fmt.Errorf("fusion.smoothing_alpha %.2f is out of range [0, 1]", a))
	}

	// Mode
	if cfg.Mode.Default != "" && !cfg.Mode.Default.IsValid() {
		errs = append(errs, fmt.Errorf("mode.default %q is invalid; valid values: live, synthetic", cfg.Mode.Default))
	}
	if cfg.Mode.SyntheticInterval < 0 {
		errs = append(errs, fmt.Errorf("mode.synthetic_interval %v must not be negative", cfg.Mode.SyntheticInterval))
	}
	if iv := cfg.Mode.SyntheticInterval; iv != 0 && (iv < time.Second || iv > 3*time.Second) {
		slog.Warn("mode.synthetic_interval outside the usual 1s-3s range", "interval", iv)
	}

	return errors.Join(errs...)
}

// validateBackendName logs a warning if name is non-empty and not found in
// the [ValidBackendNames] list for the given modality.
func validateBackendName(modality, name string) {
	if name == "" {
		return
	}
	known, ok := ValidBackendNames[modality]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown backend name — may be a typo or an externally registered backend",
		"modality", modality,
		"name", name,
		"known", known,
	)
}
