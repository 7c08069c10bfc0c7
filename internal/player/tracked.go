package player

import (
	"context"
	"log/slog"
)

// op is a playback command sent to a backend without a return channel.
type op string

const (
	opPlay       op = "play"
	opPause      op = "pause"
	opStop       op = "stop"
	opSeek       op = "seek"
	opVolume     op = "volume"
	opMute       op = "mute"
	opRate       op = "rate"
	opFullscreen op = "fullscreen"
)

type command struct {
	op    op
	value float64
	on    bool
}

// tracked implements [Adapter] for backends that accept commands but report
// nothing back. Status is tracked locally and only changes when a command
// was handed to the backend. Send failures are logged and swallowed.
type tracked struct {
	*base
	send func(ctx context.Context, c command) error
}

func (a *tracked) apply(ctx context.Context, c command, fn func(*Status)) error {
	if !a.IsReady() {
		return ErrNotReady
	}
	if err := a.send(ctx, c); err != nil {
		slog.Warn("player: command not delivered", "source", a.src.Type, "op", c.op, "err", err)
		return nil
	}
	a.update(fn)
	return nil
}

func (a *tracked) Play(ctx context.Context) error {
	return a.apply(ctx, command{op: opPlay}, func(s *Status) {
		if s.State == StateEnded {
			s.CurrentTime = 0
		}
		s.State = StatePlaying
	})
}

func (a *tracked) Pause(ctx context.Context) error {
	return a.apply(ctx, command{op: opPause}, func(s *Status) { s.State = StatePaused })
}

func (a *tracked) Stop(ctx context.Context) error {
	return a.apply(ctx, command{op: opStop}, func(s *Status) {
		s.State, s.CurrentTime = StateReady, 0
	})
}

func (a *tracked) Seek(ctx context.Context, t float64) error {
	t = ClampTime(t, a.Status().Duration)
	return a.apply(ctx, command{op: opSeek, value: t}, func(s *Status) {
		s.CurrentTime = t
		if s.State == StateEnded {
			s.State = StatePaused
		}
	})
}

func (a *tracked) Forward(ctx context.Context, seconds float64) error {
	return a.Seek(ctx, a.Status().CurrentTime+seconds)
}

func (a *tracked) Rewind(ctx context.Context, seconds float64) error {
	return a.Seek(ctx, a.Status().CurrentTime-seconds)
}

func (a *tracked) SetVolume(ctx context.Context, v float64) error {
	v = ClampVolume(v)
	return a.apply(ctx, command{op: opVolume, value: v}, func(s *Status) { s.Volume = v })
}

func (a *tracked) SetMuted(ctx context.Context, muted bool) error {
	return a.apply(ctx, command{op: opMute, on: muted}, func(s *Status) { s.Muted = muted })
}

func (a *tracked) ToggleMute(ctx context.Context) error {
	return a.SetMuted(ctx, !a.Status().Muted)
}

func (a *tracked) SetPlaybackRate(ctx context.Context, rate float64) error {
	rate = ClampRate(rate)
	return a.apply(ctx, command{op: opRate, value: rate}, func(s *Status) { s.PlaybackRate = rate })
}

func (a *tracked) EnterFullscreen(ctx context.Context) error {
	return a.setFullscreen(ctx, true)
}

func (a *tracked) ExitFullscreen(ctx context.Context) error {
	return a.setFullscreen(ctx, false)
}

func (a *tracked) ToggleFullscreen(ctx context.Context) error {
	return a.setFullscreen(ctx, !a.Status().IsFullscreen)
}

func (a *tracked) setFullscreen(ctx context.Context, on bool) error {
	return a.apply(ctx, command{op: opFullscreen, on: on}, func(s *Status) { s.IsFullscreen = on })
}
