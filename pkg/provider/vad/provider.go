// Package vad screens recorded voice-command clips for speech before they are
// sent to a transcriber.
//
// An [Engine] opens per-clip [Session]s that classify fixed-size 16-bit mono
// PCM frames. [ContainsSpeech] turns that into a clip-level [Verdict], or
// defers to the engine when it implements [ClipDetector].
package vad

import (
	"errors"
	"fmt"
	"time"
)

// Config describes the PCM a session receives.
type Config struct {
	// SampleRate in Hz. Clips are converted to it before detection.
	SampleRate int

	// FrameSizeMs is the duration of one frame. Detectors reject frames of
	// any other length with [ErrInvalidFrame].
	FrameSizeMs int

	// Aggressiveness tunes binary detectors (WebRTC modes 0-3). Higher
	// values reject more background noise.
	Aggressiveness int

	// MinSpeechFrames is how many voiced frames make a clip count as
	// speech, so a click or a cough does not trigger a transcription.
	// Values below 1 mean 1.
	MinSpeechFrames int
}

// Validate reports configs no detector can serve.
func (c Config) Validate() error {
	var errs []error
	if c.SampleRate <= 0 {
		errs = append(errs, fmt.Errorf("vad: sample rate %d must be positive", c.SampleRate))
	}
	if c.FrameSizeMs <= 0 {
		errs = append(errs, fmt.Errorf("vad: frame size %d ms must be positive", c.FrameSizeMs))
	}
	if c.SampleRate > 0 && c.FrameSizeMs > 0 && c.SampleRate*c.FrameSizeMs%1000 != 0 {
		errs = append(errs, fmt.Errorf("vad: %d ms frames do not divide %d Hz into whole samples", c.FrameSizeMs, c.SampleRate))
	}
	return errors.Join(errs...)
}

// FrameBytes is the byte length of one 16-bit mono frame.
func (c Config) FrameBytes() int {
	return c.SampleRate * c.FrameSizeMs / 1000 * 2
}

// FrameDuration is the audio time covered by one frame.
func (c Config) FrameDuration() time.Duration {
	return time.Duration(c.FrameSizeMs) * time.Millisecond
}

func (c Config) minSpeechFrames() int { return max(c.MinSpeechFrames, 1) }

// Session classifies the frames of one clip. Sessions are not shared between
// clips; Reset clears speech state when a session is reused.
type Session interface {
	// ProcessFrame classifies exactly one frame and must not block.
	ProcessFrame(frame []byte) (Event, error)
	Reset()
	// Close is idempotent. ProcessFrame fails after Close.
	Close() error
}

// Engine opens detection sessions. It is safe for concurrent use.
type Engine interface {
	NewSession(cfg Config) (Session, error)
}
