package config

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked: log verbosity,
// fusion tuning, and the data-sourcing mode. Backend and network changes
// require a restart.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	FusionChanged bool
	NewFusion     FusionConfig

	ModeChanged bool
	NewMode     ModeConfig
}

// Any reports whether the diff contains at least one change.
func (d ConfigDiff) Any() bool {
	return d.LogLevelChanged || d.FusionChanged || d.ModeChanged
}

// Diff compares old and new configs and returns what changed.
// Only tracks changes that are safe to apply without restart.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	if old.Fusion != new.Fusion {
		d.FusionChanged = true
		d.NewFusion = new.Fusion
	}

	if old.Mode != new.Mode {
		d.ModeChanged = true
		d.NewMode = new.Mode
	}

	return d
}
