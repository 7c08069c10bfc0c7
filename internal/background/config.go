package background

import (
	"fmt"
	"time"
)

// DefaultKeepAliveInterval is how often the keep-alive check runs.
const DefaultKeepAliveInterval = 5 * time.Second

// Config controls background listening.
type Config struct {
	// EnableKeepAlive runs a periodic check that restarts listening when it
	// stopped on its own.
	EnableKeepAlive bool `yaml:"enable_keep_alive"`

	// KeepAliveInterval is the check period. Defaults to 5s.
	KeepAliveInterval time.Duration `yaml:"keep_alive_interval"`

	// EnableForegroundService posts a persistent notification on Android.
	EnableForegroundService bool `yaml:"enable_foreground_service"`

	// EnableBackgroundAudio relies on the iOS background audio capability.
	EnableBackgroundAudio bool `yaml:"enable_background_audio"`

	// EnableWakeWord requires transcripts to start with one of WakeWords.
	EnableWakeWord bool     `yaml:"enable_wake_word"`
	WakeWords      []string `yaml:"wake_words"`
}

// DefaultConfig returns the settings used when nothing is configured.
func DefaultConfig() Config {
	return Config{
		EnableKeepAlive:         true,
		KeepAliveInterval:       DefaultKeepAliveInterval,
		EnableForegroundService: true,
		EnableBackgroundAudio:   true,
		EnableWakeWord:          false,
		WakeWords:               []string{"hey player"},
	}
}

// Interval returns the keep-alive interval, falling back to the default
// for non-positive values.
func (c Config) Interval() time.Duration {
	if c.KeepAliveInterval <= 0 {
		return DefaultKeepAliveInterval
	}
	return c.KeepAliveInterval
}

// Validate reports settings that cannot work.
func (c Config) Validate() error {
	if c.KeepAliveInterval < 0 {
		return fmt.Errorf("background: keep-alive interval %s is negative", c.KeepAliveInterval)
	}
	if c.EnableKeepAlive && c.KeepAliveInterval > 0 && c.KeepAliveInterval < 100*time.Millisecond {
		return fmt.Errorf("background: keep-alive interval %s is below 100ms", c.KeepAliveInterval)
	}
	if c.EnableWakeWord && len(c.WakeWords) == 0 {
		return fmt.Errorf("background: wake word enabled without wake words")
	}
	return nil
}
