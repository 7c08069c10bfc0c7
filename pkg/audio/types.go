// Package audio defines the capture-side audio abstractions used by the voice
// pipeline: continuous PCM [Source]s for streaming recognition engines and
// fixed-duration [Recorder]s for the record-then-transcribe fallback.
//
// Implementations live in sub-packages (audio/portaudio for a local
// microphone) or in the webview bridge (device MediaRecorder). This package
// lives under pkg/ because device shells and tests are expected to provide
// their own implementations.
package audio

import (
	"context"
	"time"
)

// Container identifies the encoding of a [Clip]'s Data.
type Container string

const (
	// ContainerWAV is a RIFF/WAV file holding 16-bit little-endian PCM.
	ContainerWAV Container = "wav"

	// ContainerPCM is headerless 16-bit little-endian PCM. Format describes it.
	ContainerPCM Container = "pcm"

	// ContainerWebM is a WebM/Opus blob as produced by browser MediaRecorder.
	ContainerWebM Container = "webm"

	// ContainerMP4 is an AAC-in-MP4 blob as produced by iOS/Android recorders.
	ContainerMP4 Container = "m4a"
)

// MIMEType returns the content type used when uploading a clip of this
// container to a transcription endpoint.
func (c Container) MIMEType() string {
	switch c {
	case ContainerWAV:
		return "audio/wav"
	case ContainerWebM:
		return "audio/webm"
	case ContainerMP4:
		return "audio/mp4"
	default:
		return "application/octet-stream"
	}
}

// Format describes the sample rate and channel count of PCM audio.
type Format struct {
	SampleRate int
	Channels   int
}

// SpeechFormat is the 16 kHz mono layout most recognisers expect.
var SpeechFormat = Format{SampleRate: 16000, Channels: 1}

// Frame is a chunk of 16-bit little-endian PCM delivered by a [Source].
type Frame struct {
	Data      []byte
	Format    Format
	Timestamp time.Duration
}

// Clip is a finished recording ready to be handed to a transcriber.
type Clip struct {
	// Data holds the encoded audio bytes.
	Data []byte

	// Container identifies how Data is encoded.
	Container Container

	// Format is only meaningful for PCM-bearing containers (wav, pcm).
	Format Format

	// Duration is the recorded length.
	Duration time.Duration
}

// Filename returns a synthetic file name for multipart uploads.
func (c Clip) Filename() string {
	if c.Container == "" || c.Container == ContainerPCM {
		return "audio.raw"
	}
	return "audio." + string(c.Container)
}

// Recorder captures a single fixed-duration clip. Record blocks until the
// duration elapses or ctx is cancelled; on cancellation it returns ctx.Err()
// and releases the underlying media stream.
type Recorder interface {
	Record(ctx context.Context, d time.Duration) (Clip, error)
}

// Source is a continuous PCM capture stream feeding a streaming engine.
// Frames is closed after Stop returns or when the capture fails.
type Source interface {
	Start(ctx context.Context) error
	Frames() <-chan Frame
	Stop() error
}

// Device is a local capture device usable both as a [Source] and as a
// [Recorder].
type Device interface {
	Recorder
	Source
	Close() error
}
