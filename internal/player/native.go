package player

import (
	"context"
	"fmt"
	"log/slog"
)

// ElementState mirrors the observable properties of a media element.
type ElementState struct {
	Paused       bool    `json:"paused"`
	Ended        bool    `json:"ended"`
	CurrentTime  float64 `json:"current_time"`
	Duration     float64 `json:"duration"`
	Volume       float64 `json:"volume"`
	Muted        bool    `json:"muted"`
	PlaybackRate float64 `json:"playback_rate"`
	Fullscreen   bool    `json:"fullscreen"`

	// ReadyState follows HTMLMediaElement: 0 means nothing is known yet.
	ReadyState int    `json:"ready_state"`
	Error      string `json:"error,omitempty"`
}

// Element is a platform video element with direct property and method
// access.
type Element interface {
	Play(ctx context.Context) error
	Pause(ctx context.Context) error
	SetCurrentTime(ctx context.Context, t float64) error
	SetVolume(ctx context.Context, v float64) error
	SetMuted(ctx context.Context, muted bool) error
	SetPlaybackRate(ctx context.Context, rate float64) error
	SetFullscreen(ctx context.Context, on bool) error
	State(ctx context.Context) (ElementState, error)
	Close(ctx context.Context) error
}

// ElementOpener creates an [Element] playing url.
type ElementOpener interface {
	OpenElement(ctx context.Context, url string) (Element, error)
}

// NativeAdapter drives an [Element]. Unlike the other variants it reports
// backend failures to the caller, and its status comes from the element.
type NativeAdapter struct {
	*base
	el Element
}

var _ Adapter = (*NativeAdapter)(nil)

// NewNative opens an element for src.
func NewNative(ctx context.Context, opener ElementOpener, src Source, opts ...Option) (*NativeAdapter, error) {
	if opener == nil {
		return nil, fmt.Errorf("player: native: no element opener")
	}
	el, err := opener.OpenElement(ctx, src.URL)
	if err != nil {
		return nil, fmt.Errorf("player: native: open %s: %w", src.URL, err)
	}
	a := &NativeAdapter{base: newBase(ctx, src, buildOptions(opts)), el: el}
	a.markLoaded(StateReady)
	if st, err := a.refresh(ctx); err == nil {
		a.set(st)
	}
	a.startPolling(a.refresh)
	return a, nil
}

func (a *NativeAdapter) refresh(ctx context.Context) (Status, error) {
	es, err := a.el.State(ctx)
	if err != nil {
		return Status{}, err
	}
	return statusOf(es), nil
}

func statusOf(es ElementState) Status {
	st := Status{
		CurrentTime:  es.CurrentTime,
		Duration:     es.Duration,
		Volume:       ClampVolume(es.Volume),
		Muted:        es.Muted,
		PlaybackRate: es.PlaybackRate,
		IsFullscreen: es.Fullscreen,
		Error:        es.Error,
	}
	switch {
	case es.Error != "":
		st.State = StateError
	case es.Ended:
		st.State = StateEnded
	case es.ReadyState == 0:
		st.State = StateReady
	case es.Paused:
		st.State = StatePaused
	default:
		st.State = StatePlaying
	}
	return st
}

// do runs fn against the element and applies the status change on success.
func (a *NativeAdapter) do(ctx context.Context, name string, fn func() error, change func(*Status)) error {
	if !a.IsReady() {
		return ErrNotReady
	}
	if err := fn(); err != nil {
		slog.Error("player: native command failed", "op", name, "url", a.src.URL, "err", err)
		return fmt.Errorf("player: %s: %w", name, err)
	}
	if change != nil {
		a.update(change)
	}
	return nil
}

func (a *NativeAdapter) Play(ctx context.Context) error {
	return a.do(ctx, "play", func() error { return a.el.Play(ctx) },
		func(s *Status) { s.State = StatePlaying })
}

func (a *NativeAdapter) Pause(ctx context.Context) error {
	return a.do(ctx, "pause", func() error { return a.el.Pause(ctx) },
		func(s *Status) { s.State = StatePaused })
}

// Stop pauses and rewinds to the start.
func (a *NativeAdapter) Stop(ctx context.Context) error {
	return a.do(ctx, "stop", func() error {
		if err := a.el.Pause(ctx); err != nil {
			return err
		}
		return a.el.SetCurrentTime(ctx, 0)
	}, func(s *Status) { s.State, s.CurrentTime = StatePaused, 0 })
}

func (a *NativeAdapter) Seek(ctx context.Context, t float64) error {
	t = ClampTime(t, a.Status().Duration)
	return a.do(ctx, "seek", func() error { return a.el.SetCurrentTime(ctx, t) },
		func(s *Status) { s.CurrentTime = t })
}

func (a *NativeAdapter) Forward(ctx context.Context, seconds float64) error {
	return a.Seek(ctx, a.Status().CurrentTime+seconds)
}

func (a *NativeAdapter) Rewind(ctx context.Context, seconds float64) error {
	return a.Seek(ctx, a.Status().CurrentTime-seconds)
}

func (a *NativeAdapter) SetVolume(ctx context.Context, v float64) error {
	v = ClampVolume(v)
	return a.do(ctx, "set volume", func() error { return a.el.SetVolume(ctx, v) },
		func(s *Status) { s.Volume = v })
}

func (a *NativeAdapter) SetMuted(ctx context.Context, muted bool) error {
	return a.do(ctx, "set muted", func() error { return a.el.SetMuted(ctx, muted) },
		func(s *Status) { s.Muted = muted })
}

func (a *NativeAdapter) ToggleMute(ctx context.Context) error {
	return a.SetMuted(ctx, !a.Status().Muted)
}

func (a *NativeAdapter) SetPlaybackRate(ctx context.Context, rate float64) error {
	rate = ClampRate(rate)
	return a.do(ctx, "set playback rate", func() error { return a.el.SetPlaybackRate(ctx, rate) },
		func(s *Status) { s.PlaybackRate = rate })
}

func (a *NativeAdapter) EnterFullscreen(ctx context.Context) error {
	return a.setFullscreen(ctx, true)
}

func (a *NativeAdapter) ExitFullscreen(ctx context.Context) error {
	return a.setFullscreen(ctx, false)
}

func (a *NativeAdapter) ToggleFullscreen(ctx context.Context) error {
	return a.setFullscreen(ctx, !a.Status().IsFullscreen)
}

func (a *NativeAdapter) setFullscreen(ctx context.Context, on bool) error {
	return a.do(ctx, "set fullscreen", func() error { return a.el.SetFullscreen(ctx, on) },
		func(s *Status) { s.IsFullscreen = on })
}

// Dispose implements [Adapter]. The element is closed.
func (a *NativeAdapter) Dispose() {
	a.dispose(func(ctx context.Context) {
		if err := a.el.Close(ctx); err != nil {
			slog.Warn("player: closing element failed", "url", a.src.URL, "err", err)
		}
	})
}
