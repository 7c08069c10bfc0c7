package config

import (
	"reflect"
	"slices"
)

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked individually;
// everything else is summarised in RestartRequired.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// ThresholdsChanged covers the execution floor and confirmation band.
	ThresholdsChanged bool
	ExecutionFloor    float64
	ConfirmationBand  float64

	FuzzyThresholdChanged bool
	FuzzyThreshold        float64

	// BackgroundChanged is true when keep-alive or wake word settings moved.
	BackgroundChanged bool
	WakeWordsChanged  bool

	// RestartRequired names the top-level sections whose changes only take
	// effect after a restart.
	RestartRequired []string
}

// Changed reports whether the diff carries any hot-reloadable change.
func (d ConfigDiff) Changed() bool {
	return d.LogLevelChanged || d.ThresholdsChanged || d.FuzzyThresholdChanged || d.BackgroundChanged
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	ov, nv := old.Voice, new.Voice
	if ov.ExecutionFloor != nv.ExecutionFloor || ov.ConfirmationBand != nv.ConfirmationBand {
		d.ThresholdsChanged = true
		d.ExecutionFloor = nv.ExecutionFloor
		d.ConfirmationBand = nv.ConfirmationBand
	}
	if ov.FuzzyThreshold != nv.FuzzyThreshold {
		d.FuzzyThresholdChanged = true
		d.FuzzyThreshold = nv.FuzzyThreshold
	}

	ob, nb := old.Background.Config, new.Background.Config
	if ob.EnableWakeWord != nb.EnableWakeWord || !slices.Equal(ob.WakeWords, nb.WakeWords) {
		d.WakeWordsChanged = true
	}
	if d.WakeWordsChanged ||
		ob.EnableKeepAlive != nb.EnableKeepAlive ||
		ob.KeepAliveInterval != nb.KeepAliveInterval ||
		ob.EnableForegroundService != nb.EnableForegroundService ||
		ob.EnableBackgroundAudio != nb.EnableBackgroundAudio {
		d.BackgroundChanged = true
	}

	// Sections that are wired once at startup.
	oldServer, newServer := old.Server, new.Server
	oldServer.LogLevel, newServer.LogLevel = "", ""
	if !reflect.DeepEqual(oldServer, newServer) {
		d.RestartRequired = append(d.RestartRequired, "server")
	}
	ov.ExecutionFloor, ov.ConfirmationBand, ov.FuzzyThreshold = 0, 0, 0
	nv.ExecutionFloor, nv.ConfirmationBand, nv.FuzzyThreshold = 0, 0, 0
	if ov != nv {
		d.RestartRequired = append(d.RestartRequired, "voice")
	}
	if !reflect.DeepEqual(old.Providers, new.Providers) {
		d.RestartRequired = append(d.RestartRequired, "providers")
	}
	if old.Player != new.Player {
		d.RestartRequired = append(d.RestartRequired, "player")
	}
	if old.Background.Platform != new.Background.Platform {
		d.RestartRequired = append(d.RestartRequired, "background.platform")
	}
	if old.Settings != new.Settings {
		d.RestartRequired = append(d.RestartRequired, "settings")
	}
	if old.Telemetry != new.Telemetry {
		d.RestartRequired = append(d.RestartRequired, "telemetry")
	}

	return d
}
