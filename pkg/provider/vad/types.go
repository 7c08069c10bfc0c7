package vad

import (
	"context"
	"time"
)

// Activity is a detector's decision for one frame.
type Activity int

const (
	Silence Activity = iota
	SpeechStart
	Speech
	SpeechEnd
)

// IsSpeech reports whether the frame belongs to an utterance.
func (a Activity) IsSpeech() bool { return a == SpeechStart || a == Speech }

func (a Activity) String() string {
	switch a {
	case SpeechStart:
		return "speech_start"
	case Speech:
		return "speech"
	case SpeechEnd:
		return "speech_end"
	}
	return "silence"
}

// Event is the result of one [Session.ProcessFrame] call. Probability is 1
// or 0 for binary detectors.
type Event struct {
	Activity    Activity
	Probability float64
}

// Verdict summarises a whole recorded clip.
type Verdict struct {
	// Speech is true once MinSpeechFrames frames were voiced.
	Speech bool
	// Frames is how many complete frames were examined; detection stops at
	// the first positive verdict.
	Frames int
	// SpeechFrames counts voiced frames among them.
	SpeechFrames int
	// Onset is the clip offset of the first voiced frame, zero without one.
	Onset time.Duration
}

// ClipDetector is implemented by engines that judge a whole clip in one
// call. [ContainsSpeech] prefers it over frame-by-frame processing.
type ClipDetector interface {
	ContainsSpeech(ctx context.Context, cfg Config, pcm []byte) (Verdict, error)
}
