package player

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
)

// ScriptHost is a WebView that loads pages and evaluates JavaScript in them.
// Injected scripts run fire-and-forget: their results are never observed.
type ScriptHost interface {
	Load(ctx context.Context, url string) error
	InjectJavaScript(ctx context.Context, script string) error
}

// InjectAdapter controls the first <video> element of an arbitrary web page
// by injecting scripts into it. Status is tracked locally.
type InjectAdapter struct {
	tracked
	host ScriptHost
}

var _ Adapter = (*InjectAdapter)(nil)

// NewInject loads src into host.
func NewInject(ctx context.Context, host ScriptHost, src Source, opts ...Option) (*InjectAdapter, error) {
	if host == nil {
		return nil, fmt.Errorf("player: inject: no script host")
	}
	a := &InjectAdapter{host: host}
	a.base = newBase(ctx, src, buildOptions(opts))
	a.send = a.inject

	if err := host.Load(ctx, src.URL); err != nil {
		return nil, fmt.Errorf("player: inject: load %s: %w", src.URL, err)
	}
	a.markLoaded(StateReady)
	a.startPolling(a.estimate)
	return a, nil
}

// Dispose implements [Adapter].
func (a *InjectAdapter) Dispose() {
	a.dispose(func(ctx context.Context) {
		if err := a.host.InjectJavaScript(ctx, script(command{op: opPause})); err != nil {
			slog.Debug("player: inject pause on dispose failed", "err", err)
		}
	})
}

func (a *InjectAdapter) inject(ctx context.Context, c command) error {
	return a.host.InjectJavaScript(ctx, script(c))
}

// script wraps the statement for c so it is a no-op on pages without a
// video element. The trailing true keeps WebView hosts from warning about
// non-serialisable results.
func script(c command) string {
	return "(function(){var v=document.querySelector('video');if(!v)return;" + statement(c) + "})();true;"
}

func statement(c command) string {
	num := func(f float64) string { return strconv.FormatFloat(f, 'f', -1, 64) }
	switch c.op {
	case opPlay:
		return "var p=v.play();if(p&&p.catch)p.catch(function(){});"
	case opPause:
		return "v.pause();"
	case opStop:
		return "v.pause();v.currentTime=0;"
	case opSeek:
		return "v.currentTime=" + num(c.value) + ";"
	case opVolume:
		return "v.volume=" + num(c.value) + ";"
	case opMute:
		return "v.muted=" + strconv.FormatBool(c.on) + ";"
	case opRate:
		return "v.playbackRate=" + num(c.value) + ";"
	case opFullscreen:
		if c.on {
			return "var f=v.requestFullscreen||v.webkitEnterFullscreen||v.webkitRequestFullscreen;if(f)f.call(v);"
		}
		return "var d=document;if(d.fullscreenElement&&d.exitFullscreen)d.exitFullscreen();else if(v.webkitExitFullscreen)v.webkitExitFullscreen();"
	}
	return ""
}
