package webview

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/voxreel/pkg/provider/stt"
)

var errShellGone = stt.NewError(stt.KindNetwork, "shell disconnected", ErrClosed)

// SpeechEngine is the device speech recogniser reached through the shell.
// The device owns the microphone, so sessions accept no audio.
type SpeechEngine struct {
	bridge *Bridge
}

var _ stt.Provider = (*SpeechEngine)(nil)

// NewSpeechEngine returns an engine that runs on the shell connected to b.
func NewSpeechEngine(b *Bridge) *SpeechEngine {
	return &SpeechEngine{bridge: b}
}

// StartStream asks the shell to start recognising. Without a connected
// shell it fails with a not-supported error.
func (e *SpeechEngine) StartStream(ctx context.Context, cfg stt.StreamConfig) (stt.SessionHandle, error) {
	s, err := e.bridge.Session()
	if err != nil {
		return nil, stt.NewError(stt.KindNotSupported, "speech recognition unavailable", err)
	}
	st := &speechStream{
		id:         uuid.NewString(),
		owner:      s,
		bridge:     e.bridge,
		continuous: cfg.Continuous,
		partials:   make(chan stt.Transcript, 64),
		finals:     make(chan stt.Transcript, 64),
	}
	e.bridge.subMu.Lock()
	e.bridge.streams[st.id] = st
	e.bridge.subMu.Unlock()

	params := speechStartParams{Session: st.id, Language: cfg.Language, Continuous: cfg.Continuous, Interim: cfg.Interim}
	if err := callOn(ctx, s, e.bridge.callTimeout, MethodSpeechStart, params, nil); err != nil {
		e.bridge.forget(st.id)
		if rerr, ok := asRemote(err); ok {
			return nil, stt.NewError(parseKind(rerr.Code), rerr.Message, err)
		}
		return nil, stt.NewError(stt.KindNetwork, "start device recognition", err)
	}
	return st, nil
}

func (b *Bridge) forget(id string) {
	b.subMu.Lock()
	delete(b.streams, id)
	b.subMu.Unlock()
}

func (b *Bridge) routeSpeech(env Envelope) {
	var ref speechRef
	if err := json.Unmarshal(env.Payload, &ref); err != nil {
		slog.Warn("webview: bad speech event", "type", env.Type, "err", err)
		return
	}
	b.subMu.Lock()
	st, ok := b.streams[ref.Session]
	b.subMu.Unlock()
	if !ok {
		slog.Debug("webview: speech event for unknown session", "type", env.Type, "session", ref.Session)
		return
	}

	switch env.Type {
	case EventSpeechResult:
		var res speechResult
		if err := json.Unmarshal(env.Payload, &res); err != nil {
			slog.Warn("webview: bad speech result", "err", err)
			return
		}
		st.deliver(stt.Transcript{Text: strings.TrimSpace(res.Text), IsFinal: res.IsFinal, Confidence: res.Confidence})
	case EventSpeechError:
		var se speechError
		if err := json.Unmarshal(env.Payload, &se); err != nil {
			slog.Warn("webview: bad speech error", "err", err)
			return
		}
		b.forget(st.id)
		st.finish(stt.NewError(parseKind(se.Kind), se.Message, nil))
	case EventSpeechEnd:
		b.forget(st.id)
		st.finish(nil)
	}
}

func parseKind(s string) stt.Kind {
	switch k := stt.Kind(s); k {
	case stt.KindNoSpeech, stt.KindPermission, stt.KindNetwork, stt.KindNotSupported, stt.KindAborted:
		return k
	}
	switch s {
	case "not-allowed", "service-not-allowed":
		return stt.KindPermission
	case "audio-capture":
		return stt.KindNotSupported
	}
	return stt.KindUnknown
}

// speechStream implements stt.SessionHandle for one device recognition.
type speechStream struct {
	id         string
	owner      *Session
	bridge     *Bridge
	continuous bool

	partials chan stt.Transcript
	finals   chan stt.Transcript

	mu     sync.Mutex
	ended  bool
	err    error
	closed sync.Once
}

func (s *speechStream) SendAudio([]byte) error { return stt.ErrNotSupported }

func (s *speechStream) Partials() <-chan stt.Transcript { return s.partials }

func (s *speechStream) Finals() <-chan stt.Transcript { return s.finals }

func (s *speechStream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *speechStream) deliver(t stt.Transcript) {
	s.mu.Lock()
	if s.ended || t.Text == "" {
		s.mu.Unlock()
		return
	}
	ch := s.partials
	if t.IsFinal {
		ch = s.finals
	}
	select {
	case ch <- t:
	default:
		slog.Warn("webview: speech consumer too slow, dropping result", "session", s.id, "final", t.IsFinal)
	}
	s.mu.Unlock()
	if t.IsFinal && !s.continuous {
		s.bridge.forget(s.id)
		s.finish(nil)
	}
}

// finish closes the result channels once, recording err.
func (s *speechStream) finish(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return
	}
	s.ended = true
	if err != nil {
		s.err = err
	}
	close(s.partials)
	close(s.finals)
}

// Close stops recognition on the device.
func (s *speechStream) Close() error {
	s.closed.Do(func() {
		s.bridge.forget(s.id)
		s.mu.Lock()
		running := !s.ended
		s.mu.Unlock()
		if running {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			if err := s.owner.Call(ctx, MethodSpeechStop, speechRef{Session: s.id}, nil); err != nil {
				slog.Debug("webview: speech stop failed", "session", s.id, "err", err)
			}
			cancel()
		}
		s.finish(nil)
	})
	return nil
}
