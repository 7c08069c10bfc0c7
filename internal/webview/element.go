package webview

import (
	"context"
	"time"

	"github.com/MrWong99/voxreel/internal/player"
)

// Element is a video element living in the shell. It stays bound to the
// session that opened it and fails with [ErrClosed] once that session ends.
type Element struct {
	session *Session
	id      string
	timeout time.Duration
}

var _ player.Element = (*Element)(nil)

// ID returns the shell-assigned element id.
func (e *Element) ID() string { return e.id }

func (e *Element) invoke(ctx context.Context, method string, value any) error {
	return callOn(ctx, e.session, e.timeout, MethodMediaCall, mediaCallParams{ElementID: e.id, Method: method, Value: value}, nil)
}

func (e *Element) Play(ctx context.Context) error  { return e.invoke(ctx, "play", nil) }
func (e *Element) Pause(ctx context.Context) error { return e.invoke(ctx, "pause", nil) }

func (e *Element) SetCurrentTime(ctx context.Context, t float64) error {
	return e.invoke(ctx, "currentTime", t)
}

func (e *Element) SetVolume(ctx context.Context, v float64) error {
	return e.invoke(ctx, "volume", v)
}

func (e *Element) SetMuted(ctx context.Context, muted bool) error {
	return e.invoke(ctx, "muted", muted)
}

func (e *Element) SetPlaybackRate(ctx context.Context, rate float64) error {
	return e.invoke(ctx, "playbackRate", rate)
}

func (e *Element) SetFullscreen(ctx context.Context, on bool) error {
	return e.invoke(ctx, "fullscreen", on)
}

func (e *Element) State(ctx context.Context) (player.ElementState, error) {
	var st player.ElementState
	err := callOn(ctx, e.session, e.timeout, MethodMediaState, mediaRef{ElementID: e.id}, &st)
	return st, err
}

func (e *Element) Close(ctx context.Context) error {
	return callOn(ctx, e.session, e.timeout, MethodMediaClose, mediaRef{ElementID: e.id}, nil)
}
