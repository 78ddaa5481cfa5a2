// Package config provides the configuration schema, loader, file watcher,
// and backend registry for the affectd emotion fusion engine.
package config

import "time"

// LogLevel controls log verbosity for the affectd server.
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

// Mode selects where emotion data comes from.
type Mode string

const (
	// ModeLive runs real inference over incoming camera and microphone data.
	ModeLive Mode = "live"

	// ModeSynthetic emits generated emotion states without touching any
	// model, for demos and frontend development.
	ModeSynthetic Mode = "synthetic"
)

// IsValid reports whether m is a recognised mode.
func (m Mode) IsValid() bool {
	return m == ModeLive || m == ModeSynthetic
}

// Config is the root configuration structure for affectd.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Providers ProvidersConfig `yaml:"providers"`
	Chunker   ChunkerConfig   `yaml:"chunker"`
	Fusion    FusionConfig    `yaml:"fusion"`
	Mode      ModeConfig      `yaml:"mode"`
}

// ServerConfig holds network and logging settings for the affectd server.
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

// ProvidersConfig declares which inference backend to use for each modality.
// Each field selects a named backend registered in the [Registry].
type ProvidersConfig struct {
	Vision ProviderEntry `yaml:"vision"`
	Audio  ProviderEntry `yaml:"audio"`
}

// ProviderEntry is the common configuration block shared by both modality
// backends. The Name field is used to look up the constructor in the
// [Registry].
type ProviderEntry struct {
	// Name selects the registered backend implementation
	// (e.g., "ferplus-onnx", "mock").
	Name string `yaml:"name"`

	// ModelPath is the filesystem path to the model file, for backends that
	// load one.
	ModelPath string `yaml:"model_path"`

	// LibraryPath overrides the ONNX Runtime shared library location.
	// Leave empty to use the platform default.
	LibraryPath string `yaml:"library_path"`

	// CPUOnly disables GPU execution for this backend even when a GPU
	// provider is available.
	CPUOnly bool `yaml:"cpu_only"`

	// Options holds backend-specific configuration values not covered by the
	// standard fields above. Values may be strings, numbers, booleans, or
	// nested maps.
	Options map[string]any `yaml:"options"`
}

// ChunkerConfig tunes how raw signals are cut into inference-sized units.
type ChunkerConfig struct {
	// FrameInterval is the minimum spacing between sampled video frames.
	// Frames arriving faster are dropped, never queued. Zero means the
	// default of 100ms (10 Hz).
	FrameInterval time.Duration `yaml:"frame_interval"`

	// WindowDuration is the audio accumulation window. Zero means the
	// default of 1s.
	WindowDuration time.Duration `yaml:"window_duration"`

	// InputSampleRate is the sample rate of incoming audio chunks in Hz.
	// Zero means audio arrives already at the model's expected rate.
	InputSampleRate int `yaml:"input_sample_rate"`
}

// FusionConfig tunes the fusion engine and smoother. Zero fields fall back
// to the built-in defaults.
type FusionConfig struct {
	// VisionWeight and AudioWeight scale each modality's share of the fused
	// vector. They should sum to 1.
	VisionWeight float64 `yaml:"vision_weight"`
	AudioWeight  float64 `yaml:"audio_weight"`

	// ConflictThreshold is the per-modality confidence floor below which no
	// conflict rule fires.
	ConflictThreshold float64 `yaml:"conflict_threshold"`

	// SmoothingAlpha is the EMA weight of the newest fused vector.
	SmoothingAlpha float64 `yaml:"smoothing_alpha"`
}

// ModeConfig controls the data-sourcing mode.
type ModeConfig struct {
	// Default is the mode the engine starts in. Empty means live.
	Default Mode `yaml:"default"`

	// SyntheticInterval is the emission cadence in synthetic mode. Zero
	// means the default of 2s.
	SyntheticInterval time.Duration `yaml:"synthetic_interval"`
}
