// Package mock provides scripted speech detectors for tests.
//
// Engine hands out Sessions that replay a fixed sequence of activities, one
// per frame, repeating the last entry. ClipEngine answers at clip level
// through [vad.ClipDetector].
//
//	eng := &mock.Engine{Script: []vad.Activity{vad.Silence, vad.SpeechStart}}
//	v, _ := vad.ContainsSpeech(ctx, eng, cfg, pcm)
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/voxreel/pkg/provider/vad"
)

// Engine is a scripted [vad.Engine]. It is safe for concurrent use.
type Engine struct {
	// Script is replayed by every new session. Empty means silence.
	Script []vad.Activity
	// NewSessionErr fails NewSession.
	NewSessionErr error
	// FrameErr fails every ProcessFrame call.
	FrameErr error

	mu       sync.Mutex
	configs  []vad.Config
	sessions []*Session
}

// NewSession records cfg and returns a session replaying Script.
func (e *Engine) NewSession(cfg vad.Config) (vad.Session, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.configs = append(e.configs, cfg)
	if e.NewSessionErr != nil {
		return nil, e.NewSessionErr
	}
	s := &Session{script: e.Script, err: e.FrameErr}
	e.sessions = append(e.sessions, s)
	return s, nil
}

// Configs returns the config of every NewSession call.
func (e *Engine) Configs() []vad.Config {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]vad.Config(nil), e.configs...)
}

// Sessions returns every session handed out so far.
func (e *Engine) Sessions() []*Session {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]*Session(nil), e.sessions...)
}

// Session replays its engine's script.
type Session struct {
	script []vad.Activity
	err    error

	mu     sync.Mutex
	frames int
	resets int
	closed int
}

func (s *Session) ProcessFrame(_ []byte) (vad.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return vad.Event{}, s.err
	}
	a := vad.Silence
	if n := len(s.script); n > 0 {
		a = s.script[min(s.frames, n-1)]
	}
	s.frames++
	ev := vad.Event{Activity: a}
	if a.IsSpeech() {
		ev.Probability = 1
	}
	return ev, nil
}

func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resets++
}

func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed++
	return nil
}

// Frames is the number of ProcessFrame calls.
func (s *Session) Frames() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.frames
}

// Closed reports how often Close was called.
func (s *Session) Closed() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// ClipEngine answers every clip with Verdict (or Err) and never opens
// frame sessions.
type ClipEngine struct {
	Verdict vad.Verdict
	Err     error

	mu    sync.Mutex
	clips [][]byte
}

// NewSession is never used by [vad.ContainsSpeech] for a ClipEngine.
func (c *ClipEngine) NewSession(vad.Config) (vad.Session, error) {
	return &Session{}, nil
}

// ContainsSpeech records pcm and returns the scripted verdict.
func (c *ClipEngine) ContainsSpeech(_ context.Context, _ vad.Config, pcm []byte) (vad.Verdict, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.clips = append(c.clips, append([]byte(nil), pcm...))
	return c.Verdict, c.Err
}

// Clips returns copies of every clip judged.
func (c *ClipEngine) Clips() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([][]byte(nil), c.clips...)
}

var (
	_ vad.Engine       = (*Engine)(nil)
	_ vad.Session      = (*Session)(nil)
	_ vad.Engine       = (*ClipEngine)(nil)
	_ vad.ClipDetector = (*ClipEngine)(nil)
)
