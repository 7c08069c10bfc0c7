// Package stt defines the speech-to-text abstractions used by voice capture.
//
// Two shapes of backend exist. A streaming [Provider] wraps a live recognition
// engine (the device speech engine behind the webview bridge, Deepgram, or the
// silence-segmenting server engine) and exposes interim and final transcripts
// on channels. A batch [Transcriber] turns one finished audio clip into text
// (a remote HTTP endpoint, the OpenAI Whisper API, or local whisper.cpp).
//
// Failures that reach application code are normalised into [*Error] so callers
// can distinguish a user who said nothing from a revoked microphone permission.
//
// Implementations must be safe for concurrent use.
package stt

import (
	"context"

	"github.com/MrWong99/voxreel/pkg/audio"
)

// StreamConfig describes the audio format and recognition hints for a new STT
// session.
type StreamConfig struct {
	// SampleRate is the audio sample rate in Hz of chunks passed to SendAudio.
	// Engines that capture audio themselves (device speech engines) ignore it.
	SampleRate int

	// Channels is the number of audio channels. 1 = mono.
	Channels int

	// Language is the BCP-47 language tag for recognition (e.g., "en-US", "de-DE").
	// An empty string lets the provider auto-detect the language, if supported.
	Language string

	// Continuous keeps the session open across utterances. When false the
	// engine may end the session after its first final transcript.
	Continuous bool

	// Interim requests partial transcripts on the Partials channel.
	Interim bool
}

// SessionHandle represents an open STT streaming session.
//
// Callers must call Close when the session is no longer needed. All methods
// must be safe for concurrent use.
type SessionHandle interface {
	// SendAudio delivers a chunk of raw 16-bit PCM to the provider. Engines
	// that own their microphone return [ErrNotSupported]. Calling SendAudio
	// after Close returns an error.
	SendAudio(chunk []byte) error

	// Partials returns a channel of interim transcripts. It is closed when the
	// session ends.
	Partials() <-chan Transcript

	// Finals returns a channel of final transcripts. It is closed when the
	// session ends.
	Finals() <-chan Transcript

	// Err returns the error that ended the session, or nil when the session
	// ended normally or is still running. It is only meaningful after Finals
	// has been closed.
	Err() error

	// Close terminates the session and releases all associated resources.
	// After Close returns, the Partials and Finals channels will be closed.
	// Calling Close more than once is safe and returns nil.
	Close() error
}

// Provider is the abstraction over any streaming STT backend.
type Provider interface {
	// StartStream opens a new streaming transcription session. The caller owns
	// the SessionHandle and must call Close when done.
	StartStream(ctx context.Context, cfg StreamConfig) (SessionHandle, error)
}

// Transcriber converts one recorded clip into text. An empty result with a nil
// error means no speech was recognised; callers translate that into a
// [KindNoSpeech] error.
type Transcriber interface {
	Transcribe(ctx context.Context, clip audio.Clip, language string) (string, error)
}

// TranscriberFunc adapts a function to the [Transcriber] interface.
type TranscriberFunc func(ctx context.Context, clip audio.Clip, language string) (string, error)

// Transcribe calls f.
func (f TranscriberFunc) Transcribe(ctx context.Context, clip audio.Clip, language string) (string, error) {
	return f(ctx, clip, language)
}
