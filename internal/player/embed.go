package player

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
)

// Frame is an iframe or WebView that can load a URL and receive
// postMessage payloads. The shell bridge implements it.
type Frame interface {
	Load(ctx context.Context, url string) error
	PostMessage(ctx context.Context, msg any) error
	SetFullscreen(ctx context.Context, on bool) error
}

// FrameMessageHandler is implemented by adapters that understand messages
// the embedded player posts back to its host.
type FrameMessageHandler interface {
	HandleFrameMessage(data []byte)
}

// EmbedAdapter plays YouTube and Vimeo sources through their embed players.
// Commands use the IFrame APIs of the providers. Status is tracked locally
// and corrected by player events when the host forwards them.
type EmbedAdapter struct {
	tracked
	frame Frame
}

var (
	_ Adapter             = (*EmbedAdapter)(nil)
	_ FrameMessageHandler = (*EmbedAdapter)(nil)
)

// NewEmbed loads src's embed URL into frame. src must be a YouTube or Vimeo
// source.
func NewEmbed(ctx context.Context, frame Frame, src Source, opts ...Option) (*EmbedAdapter, error) {
	if src.Type != SourceYouTube && src.Type != SourceVimeo {
		return nil, fmt.Errorf("player: embed: %w: %s", ErrUnsupportedSource, src.Type)
	}
	if frame == nil {
		return nil, fmt.Errorf("player: embed: no frame")
	}
	a := &EmbedAdapter{frame: frame}
	a.base = newBase(ctx, src, buildOptions(opts))
	a.send = a.post

	if err := frame.Load(ctx, src.EmbedURL()); err != nil {
		return nil, fmt.Errorf("player: embed: load %s: %w", src.EmbedURL(), err)
	}
	for _, msg := range subscribeMessages(src.Type) {
		if err := frame.PostMessage(ctx, msg); err != nil {
			slog.Warn("player: embed event subscription failed", "source", src.Type, "err", err)
		}
	}
	// autoplay=1 is requested but browsers may block it.
	a.markLoaded(StateReady)
	a.startPolling(a.estimate)
	return a, nil
}

// Dispose implements [Adapter].
func (a *EmbedAdapter) Dispose() {
	a.dispose(func(ctx context.Context) {
		if err := a.frame.PostMessage(ctx, a.message(command{op: opStop})); err != nil {
			slog.Debug("player: embed stop on dispose failed", "err", err)
		}
	})
}

func (a *EmbedAdapter) post(ctx context.Context, c command) error {
	if c.op == opFullscreen {
		return a.frame.SetFullscreen(ctx, c.on)
	}
	return a.frame.PostMessage(ctx, a.message(c))
}

// message translates c into the provider's postMessage payload.
func (a *EmbedAdapter) message(c command) map[string]any {
	if a.src.Type == SourceVimeo {
		return vimeoMessage(c)
	}
	return youTubeMessage(c)
}

func youTubeMessage(c command) map[string]any {
	call := func(fn string, args ...any) map[string]any {
		if args == nil {
			args = []any{}
		}
		return map[string]any{"event": "command", "func": fn, "args": args}
	}
	switch c.op {
	case opPlay:
		return call("playVideo")
	case opPause:
		return call("pauseVideo")
	case opStop:
		return call("stopVideo")
	case opSeek:
		return call("seekTo", c.value, true)
	case opVolume:
		return call("setVolume", int(c.value*100+0.5))
	case opMute:
		if c.on {
			return call("mute")
		}
		return call("unMute")
	case opRate:
		return call("setPlaybackRate", c.value)
	}
	return nil
}

func vimeoMessage(c command) map[string]any {
	call := func(method string, value any) map[string]any {
		m := map[string]any{"method": method}
		if value != nil {
			m["value"] = value
		}
		return m
	}
	switch c.op {
	case opPlay:
		return call("play", nil)
	case opPause:
		return call("pause", nil)
	case opStop:
		return call("unload", nil)
	case opSeek:
		return call("setCurrentTime", c.value)
	case opVolume:
		return call("setVolume", c.value)
	case opMute:
		return call("setMuted", c.on)
	case opRate:
		return call("setPlaybackRate", c.value)
	}
	return nil
}

func subscribeMessages(t SourceType) []map[string]any {
	if t == SourceVimeo {
		var msgs []map[string]any
		for _, ev := range []string{"play", "pause", "ended", "timeupdate", "volumechange", "playbackratechange", "error"} {
			msgs = append(msgs, map[string]any{"method": "addEventListener", "value": ev})
		}
		return msgs
	}
	return []map[string]any{{"event": "listening"}}
}

// HandleFrameMessage folds a player event into the tracked status. Unknown
// or malformed messages are ignored.
func (a *EmbedAdapter) HandleFrameMessage(data []byte) {
	if !a.IsReady() {
		return
	}
	var err error
	if a.src.Type == SourceVimeo {
		err = a.vimeoEvent(data)
	} else {
		err = a.youTubeEvent(data)
	}
	if err != nil {
		slog.Debug("player: ignoring frame message", "source", a.src.Type, "err", err)
	}
}

type youTubeInfo struct {
	CurrentTime  *float64 `json:"currentTime"`
	Duration     *float64 `json:"duration"`
	PlayerState  *int     `json:"playerState"`
	Volume       *float64 `json:"volume"`
	Muted        *bool    `json:"muted"`
	PlaybackRate *float64 `json:"playbackRate"`
}

func (a *EmbedAdapter) youTubeEvent(data []byte) error {
	var msg struct {
		Event string          `json:"event"`
		Info  json.RawMessage `json:"info"`
	}
	if err := json.Unmarshal(data, &msg); err != nil {
		return err
	}
	switch msg.Event {
	case "onError":
		var code int
		_ = json.Unmarshal(msg.Info, &code)
		a.update(func(s *Status) { s.State, s.Error = StateError, fmt.Sprintf("youtube error %d", code) })
	case "infoDelivery", "initialDelivery", "onStateChange":
		var info youTubeInfo
		if msg.Event == "onStateChange" {
			var st int
			if err := json.Unmarshal(msg.Info, &st); err != nil {
				return err
			}
			info.PlayerState = &st
		} else if err := json.Unmarshal(msg.Info, &info); err != nil {
			return err
		}
		a.update(func(s *Status) {
			if info.CurrentTime != nil {
				s.CurrentTime = *info.CurrentTime
			}
			if info.Duration != nil {
				s.Duration = *info.Duration
			}
			if info.Volume != nil {
				s.Volume = ClampVolume(*info.Volume / 100)
			}
			if info.Muted != nil {
				s.Muted = *info.Muted
			}
			if info.PlaybackRate != nil {
				s.PlaybackRate = *info.PlaybackRate
			}
			if info.PlayerState != nil {
				switch *info.PlayerState {
				case 0:
					s.State = StateEnded
				case 1, 3:
					s.State = StatePlaying
				case 2:
					s.State = StatePaused
				case 5:
					s.State = StateReady
				}
			}
		})
	default:
		return fmt.Errorf("unknown youtube event %q", msg.Event)
	}
	return nil
}

func (a *EmbedAdapter) vimeoEvent(data []byte) error {
	var msg struct {
		Event string `json:"event"`
		Data  struct {
			Seconds      *float64 `json:"seconds"`
			Duration     *float64 `json:"duration"`
			Volume       *float64 `json:"volume"`
			PlaybackRate *float64 `json:"playbackRate"`
			Message      string   `json:"message"`
		} `json:"data"`
	}
	if err := json.Unmarshal(data, &msg); err != nil {
		return err
	}
	d := msg.Data
	switch msg.Event {
	case "play", "playing":
		a.update(func(s *Status) { s.State = StatePlaying })
	case "pause":
		a.update(func(s *Status) { s.State = StatePaused })
	case "ended":
		a.update(func(s *Status) { s.State = StateEnded })
	case "timeupdate":
		a.update(func(s *Status) {
			if d.Seconds != nil {
				s.CurrentTime = *d.Seconds
			}
			if d.Duration != nil {
				s.Duration = *d.Duration
			}
		})
	case "volumechange":
		if d.Volume != nil {
			a.update(func(s *Status) { s.Volume = ClampVolume(*d.Volume) })
		}
	case "playbackratechange":
		if d.PlaybackRate != nil {
			a.update(func(s *Status) { s.PlaybackRate = *d.PlaybackRate })
		}
	case "error":
		a.update(func(s *Status) { s.State, s.Error = StateError, d.Message })
	default:
		return fmt.Errorf("unknown vimeo event %q", msg.Event)
	}
	return nil
}
