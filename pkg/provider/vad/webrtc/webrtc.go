// Package webrtc provides a [vad.Engine] backed by the WebRTC voice activity
// detector (github.com/maxhawkins/go-webrtcvad).
//
// WebRTC VAD is a binary classifier: each frame is speech or not. Sessions
// turn that into [vad.Activity] values with a short hangover, so a single
// unvoiced frame inside a spoken command does not end the utterance.
package webrtc

import (
	"fmt"
	"slices"
	"sync"

	webrtcvad "github.com/maxhawkins/go-webrtcvad"

	"github.com/MrWong99/voxreel/pkg/provider/vad"
)

// defaultHangoverFrames is how many consecutive unvoiced frames end a segment.
const defaultHangoverFrames = 3

var (
	validRates      = []int{8000, 16000, 32000, 48000}
	validFrameSizes = []int{10, 20, 30}
)

// Option configures an [Engine].
type Option func(*Engine)

// WithHangoverFrames sets how many consecutive unvoiced frames close a speech
// segment. Defaults to 3.
func WithHangoverFrames(n int) Option {
	return func(e *Engine) { e.hangover = max(n, 1) }
}

// Engine creates WebRTC VAD sessions.
type Engine struct {
	hangover int
}

// New returns an Engine.
func New(opts ...Option) *Engine {
	e := &Engine{hangover: defaultHangoverFrames}
	for _, o := range opts {
		o(e)
	}
	return e
}

// NewSession validates cfg and allocates a detector. Sample rate must be 8, 16,
// 32 or 48 kHz and frames 10, 20 or 30 ms; Aggressiveness is clamped to 0–3.
func (e *Engine) NewSession(cfg vad.Config) (vad.Session, error) {
	if !slices.Contains(validRates, cfg.SampleRate) {
		return nil, fmt.Errorf("webrtc vad: invalid sample rate %d, must be one of %v", cfg.SampleRate, validRates)
	}
	if !slices.Contains(validFrameSizes, cfg.FrameSizeMs) {
		return nil, fmt.Errorf("webrtc vad: invalid frame size %d ms, must be one of %v", cfg.FrameSizeMs, validFrameSizes)
	}

	det, err := webrtcvad.New()
	if err != nil {
		return nil, fmt.Errorf("webrtc vad: create detector: %w", err)
	}
	if err := det.SetMode(min(max(cfg.Aggressiveness, 0), 3)); err != nil {
		return nil, fmt.Errorf("webrtc vad: set mode: %w", err)
	}
	return &session{
		det:        det,
		sampleRate: cfg.SampleRate,
		frameBytes: cfg.FrameBytes(),
		hangover:   e.hangover,
	}, nil
}

// session tracks speech state for one stream. It is safe for concurrent use
// because the underlying C detector is not.
type session struct {
	mu         sync.Mutex
	det        *webrtcvad.VAD
	sampleRate int
	frameBytes int
	hangover   int

	inSpeech bool
	unvoiced int
	closed   bool
}

func (s *session) ProcessFrame(frame []byte) (vad.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return vad.Event{}, fmt.Errorf("webrtc vad: session closed")
	}
	if len(frame) != s.frameBytes {
		return vad.Event{}, fmt.Errorf("%w: got %d bytes, want %d", vad.ErrInvalidFrame, len(frame), s.frameBytes)
	}

	voiced, err := s.det.Process(s.sampleRate, frame)
	if err != nil {
		return vad.Event{}, fmt.Errorf("webrtc vad: process: %w", err)
	}
	ev := vad.Event{Activity: s.advance(voiced)}
	if voiced {
		ev.Probability = 1
	}
	return ev, nil
}

// advance applies one frame decision to the utterance state. Hangover frames
// still count as speech.
func (s *session) advance(voiced bool) vad.Activity {
	switch {
	case voiced && !s.inSpeech:
		s.inSpeech, s.unvoiced = true, 0
		return vad.SpeechStart
	case voiced:
		s.unvoiced = 0
		return vad.Speech
	case s.inSpeech:
		s.unvoiced++
		if s.unvoiced >= s.hangover {
			s.inSpeech, s.unvoiced = false, 0
			return vad.SpeechEnd
		}
		return vad.Speech
	}
	return vad.Silence
}

func (s *session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inSpeech, s.unvoiced = false, 0
}

func (s *session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

var (
	_ vad.Engine  = (*Engine)(nil)
	_ vad.Session = (*session)(nil)
)
