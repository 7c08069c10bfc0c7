// Package player controls video playback through a uniform [Adapter]
// contract.
//
// Three adapter variants exist, one per kind of playback backend:
//
//   - [EmbedAdapter] loads a constructed YouTube or Vimeo embed URL into a
//     [Frame] and steers it with best-effort postMessage commands.
//   - [InjectAdapter] drives the page's own <video> element by injecting
//     scripts through a [ScriptHost]. Sources without an embed API use it.
//   - [NativeAdapter] calls a platform video [Element] directly. Local and
//     directly served media use it.
//
// Which variant serves a URL is decided once by [Detect] and [Factory].
// Every adapter polls its status on its own cadence and pushes changes to
// subscribers.
package player

import (
	"context"
	"errors"
)

// Sentinel errors.
var (
	// ErrUnsupportedSource is returned for URLs no adapter can play.
	ErrUnsupportedSource = errors.New("player: unsupported source")

	// ErrNotReady is returned by operations on a disposed or unloaded adapter.
	ErrNotReady = errors.New("player: not ready")
)

// Playback bounds applied by every adapter before a value reaches the backend.
const (
	MinPlaybackRate = 0.25
	MaxPlaybackRate = 2.0
)

// State is the coarse playback state.
type State string

const (
	StateIdle    State = "IDLE"
	StateReady   State = "READY"
	StatePlaying State = "PLAYING"
	StatePaused  State = "PAUSED"
	StateEnded   State = "ENDED"
	StateError   State = "ERROR"
)

// Status is a point-in-time snapshot of an adapter. Times are in seconds.
type Status struct {
	State        State   `json:"state"`
	CurrentTime  float64 `json:"current_time"`
	Duration     float64 `json:"duration"`
	Volume       float64 `json:"volume"`
	Muted        bool    `json:"muted"`
	PlaybackRate float64 `json:"playback_rate"`
	IsFullscreen bool    `json:"is_fullscreen"`
	Error        string  `json:"error,omitempty"`
}

// initialStatus is the status of a freshly constructed adapter.
func initialStatus() Status {
	return Status{State: StateIdle, Volume: 1, PlaybackRate: 1}
}

// Adapter is the uniform playback contract. Implementations are safe for
// concurrent use.
type Adapter interface {
	Play(ctx context.Context) error
	Pause(ctx context.Context) error
	Stop(ctx context.Context) error

	// Seek jumps to t seconds, clamped to [0, duration].
	Seek(ctx context.Context, t float64) error
	Forward(ctx context.Context, seconds float64) error
	Rewind(ctx context.Context, seconds float64) error

	// SetVolume sets the volume, clamped to [0, 1].
	SetVolume(ctx context.Context, v float64) error
	SetMuted(ctx context.Context, muted bool) error
	ToggleMute(ctx context.Context) error

	// SetPlaybackRate sets the rate, clamped to [MinPlaybackRate, MaxPlaybackRate].
	SetPlaybackRate(ctx context.Context, rate float64) error

	EnterFullscreen(ctx context.Context) error
	ExitFullscreen(ctx context.Context) error
	ToggleFullscreen(ctx context.Context) error

	// Status returns the latest known status.
	Status() Status

	// Subscribe registers fn for status changes and returns a function that
	// removes it.
	Subscribe(fn func(Status)) (unsubscribe func())

	// Source returns what the adapter is playing.
	Source() Source

	// IsReady reports whether the adapter accepts commands.
	IsReady() bool

	// Dispose stops polling, drops subscribers and releases the backend.
	// It is idempotent.
	Dispose()
}

// ClampVolume limits v to [0, 1].
func ClampVolume(v float64) float64 { return min(max(v, 0), 1) }

// ClampRate limits r to [MinPlaybackRate, MaxPlaybackRate].
func ClampRate(r float64) float64 { return min(max(r, MinPlaybackRate), MaxPlaybackRate) }

// ClampTime limits t to [0, duration]. An unknown (zero) duration only
// bounds from below.
func ClampTime(t, duration float64) float64 {
	t = max(t, 0)
	if duration > 0 {
		t = min(t, duration)
	}
	return t
}
