// Package webview connects the service to the app shell that hosts the
// video player and the device speech APIs.
//
// The shell opens a WebSocket to the [Bridge] and exchanges JSON
// [Envelope]s. The service sends requests (load a page, inject a script,
// post a message to an embedded player, start the device recogniser,
// record a clip) and the shell answers each with a response envelope. The
// shell also pushes events: recognition results, messages from embedded
// players, app state and tab visibility changes.
//
// The bridge serves one shell at a time. A new connection replaces the
// previous one.
package webview

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/voxreel/internal/background"
	"github.com/MrWong99/voxreel/internal/observe"
	"github.com/MrWong99/voxreel/internal/player"
)

// ErrNoSession is returned when no shell is connected.
var ErrNoSession = errors.New("webview: no shell connected")

// DefaultCallTimeout bounds requests that carry no deadline of their own.
const DefaultCallTimeout = 10 * time.Second

// Option configures a [Bridge].
type Option func(*Bridge)

// WithFrameHandler receives messages posted by embedded players.
func WithFrameHandler(h player.FrameMessageHandler) Option {
	return func(b *Bridge) { b.frames = h }
}

// WithOriginPatterns allows cross-origin shells whose Origin host matches
// one of patterns.
func WithOriginPatterns(patterns ...string) Option {
	return func(b *Bridge) { b.origins = patterns }
}

// WithCallTimeout overrides [DefaultCallTimeout].
func WithCallTimeout(d time.Duration) Option {
	return func(b *Bridge) {
		if d > 0 {
			b.callTimeout = d
		}
	}
}

// WithMetrics sets the metrics sink. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(b *Bridge) { b.metrics = m }
}

// Bridge accepts shell connections and exposes the connected shell as
// player hosts, a notifier and app state sources.
type Bridge struct {
	frames      player.FrameMessageHandler
	origins     []string
	callTimeout time.Duration
	metrics     *observe.Metrics

	mu      sync.RWMutex
	current *Session

	subMu   sync.Mutex
	nextSub uint64
	appSubs map[uint64]func(background.AppState)
	visSubs map[uint64]func(bool)
	streams map[string]*speechStream
}

var (
	_ http.Handler                = (*Bridge)(nil)
	_ player.Frame                = (*Bridge)(nil)
	_ player.ScriptHost           = (*Bridge)(nil)
	_ player.ElementOpener        = (*Bridge)(nil)
	_ background.Notifier         = (*Bridge)(nil)
	_ background.AppStateSource   = (*Bridge)(nil)
	_ background.VisibilitySource = (*Bridge)(nil)
)

// New creates a bridge with no shell connected.
func New(opts ...Option) *Bridge {
	b := &Bridge{
		callTimeout: DefaultCallTimeout,
		appSubs:     make(map[uint64]func(background.AppState)),
		visSubs:     make(map[uint64]func(bool)),
		streams:     make(map[string]*speechStream),
	}
	for _, o := range opts {
		o(b)
	}
	if b.metrics == nil {
		b.metrics = observe.DefaultMetrics()
	}
	return b
}

// SetFrameHandler replaces the embedded player message handler.
func (b *Bridge) SetFrameHandler(h player.FrameMessageHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.frames = h
}

// ServeHTTP upgrades the request and serves the shell until it disconnects.
func (b *Bridge) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: b.origins})
	if err != nil {
		slog.Warn("webview: accept failed", "remote", r.RemoteAddr, "err", err)
		return
	}
	defer conn.CloseNow()
	conn.SetReadLimit(8 << 20)

	s := newSession(conn, b.handleEvent)
	b.attach(s)
	defer b.detach(s)

	ctx := context.WithoutCancel(r.Context())
	b.metrics.BridgeSessions.Add(ctx, 1)
	defer b.metrics.BridgeSessions.Add(ctx, -1)

	slog.Info("webview: session opened", "session", s.ID(), "remote", r.RemoteAddr)
	if err := s.run(r.Context()); err != nil {
		slog.Warn("webview: session ended", "session", s.ID(), "err", err)
		return
	}
	slog.Info("webview: session closed", "session", s.ID())
}

func (b *Bridge) attach(s *Session) {
	b.mu.Lock()
	old := b.current
	b.current = s
	b.mu.Unlock()
	if old != nil {
		slog.Info("webview: replacing shell session", "old", old.ID(), "new", s.ID())
		_ = old.Close()
	}
}

func (b *Bridge) detach(s *Session) {
	b.mu.Lock()
	if b.current == s {
		b.current = nil
	}
	b.mu.Unlock()

	b.subMu.Lock()
	var orphaned []*speechStream
	for id, st := range b.streams {
		if st.owner == s {
			orphaned = append(orphaned, st)
			delete(b.streams, id)
		}
	}
	b.subMu.Unlock()
	for _, st := range orphaned {
		st.finish(errShellGone)
	}
}

// Session returns the connected shell.
func (b *Bridge) Session() (*Session, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.current == nil {
		return nil, ErrNoSession
	}
	return b.current, nil
}

// Connected reports whether a shell is connected.
func (b *Bridge) Connected() bool {
	_, err := b.Session()
	return err == nil
}

// Check is a readiness check: it fails while no shell is connected.
func (b *Bridge) Check(context.Context) error {
	_, err := b.Session()
	return err
}

// Close disconnects the current shell.
func (b *Bridge) Close() error {
	b.mu.Lock()
	s := b.current
	b.current = nil
	b.mu.Unlock()
	if s == nil {
		return nil
	}
	return s.Close()
}

func (b *Bridge) call(ctx context.Context, method string, params, result any) error {
	s, err := b.Session()
	if err != nil {
		return err
	}
	return callOn(ctx, s, b.callTimeout, method, params, result)
}

func callOn(ctx context.Context, s *Session, timeout time.Duration, method string, params, result any) error {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	return s.Call(ctx, method, params, result)
}

// ─── player hosts ─────────────────────────────────────────────────────────────

// Load navigates the shell's player view to url.
func (b *Bridge) Load(ctx context.Context, url string) error {
	return b.call(ctx, MethodLoad, loadParams{URL: url}, nil)
}

// InjectJavaScript evaluates script in the loaded page.
func (b *Bridge) InjectJavaScript(ctx context.Context, script string) error {
	return b.call(ctx, MethodInject, injectParams{Script: script}, nil)
}

// PostMessage posts msg to the embedded player frame.
func (b *Bridge) PostMessage(ctx context.Context, msg any) error {
	return b.call(ctx, MethodFramePost, framePostParams{Message: msg}, nil)
}

// SetFullscreen toggles fullscreen presentation of the player view.
func (b *Bridge) SetFullscreen(ctx context.Context, on bool) error {
	return b.call(ctx, MethodFrameFull, fullscreenParams{On: on}, nil)
}

// OpenElement creates a native video element on the shell.
func (b *Bridge) OpenElement(ctx context.Context, url string) (player.Element, error) {
	s, err := b.Session()
	if err != nil {
		return nil, err
	}
	var res mediaOpenResult
	if err := callOn(ctx, s, b.callTimeout, MethodMediaOpen, loadParams{URL: url}, &res); err != nil {
		return nil, err
	}
	if res.ElementID == "" {
		return nil, fmt.Errorf("webview: %s: shell returned no element id", MethodMediaOpen)
	}
	return &Element{session: s, id: res.ElementID, timeout: b.callTimeout}, nil
}

// ─── notifications ────────────────────────────────────────────────────────────

func (b *Bridge) RequestPermission(ctx context.Context) (bool, error) {
	var res permissionResult
	if err := b.call(ctx, MethodNotifyPerm, nil, &res); err != nil {
		return false, err
	}
	return res.Granted, nil
}

func (b *Bridge) Show(ctx context.Context, n background.Notification) (string, error) {
	var res notifyShowResult
	if err := b.call(ctx, MethodNotifyShow, n, &res); err != nil {
		return "", err
	}
	return res.ID, nil
}

func (b *Bridge) Dismiss(ctx context.Context, id string) error {
	return b.call(ctx, MethodNotifyDismiss, notifyDismissParams{ID: id}, nil)
}

// ─── app state ────────────────────────────────────────────────────────────────

// SubscribeAppState registers fn for app state events of any shell.
func (b *Bridge) SubscribeAppState(fn func(background.AppState)) func() {
	b.subMu.Lock()
	defer b.subMu.Unlock()
	id := b.nextSub
	b.nextSub++
	b.appSubs[id] = fn
	return func() {
		b.subMu.Lock()
		delete(b.appSubs, id)
		b.subMu.Unlock()
	}
}

// SubscribeVisibility registers fn for tab visibility events of any shell.
func (b *Bridge) SubscribeVisibility(fn func(bool)) func() {
	b.subMu.Lock()
	defer b.subMu.Unlock()
	id := b.nextSub
	b.nextSub++
	b.visSubs[id] = fn
	return func() {
		b.subMu.Lock()
		delete(b.visSubs, id)
		b.subMu.Unlock()
	}
}

// handleEvent runs on the session's read loop. Anything that may call back
// into the shell is moved off it.
func (b *Bridge) handleEvent(s *Session, env Envelope) {
	switch env.Type {
	case EventHello:
	case EventSpeechResult, EventSpeechError, EventSpeechEnd:
		b.routeSpeech(env)
	case EventFrameMessage:
		b.mu.RLock()
		h := b.frames
		b.mu.RUnlock()
		if h != nil && len(env.Payload) > 0 {
			h.HandleFrameMessage(env.Payload)
		}
	case EventAppState:
		var ev appStateEvent
		if err := json.Unmarshal(env.Payload, &ev); err != nil {
			slog.Warn("webview: bad app state event", "session", s.ID(), "err", err)
			return
		}
		b.subMu.Lock()
		fns := make([]func(background.AppState), 0, len(b.appSubs))
		for _, fn := range b.appSubs {
			fns = append(fns, fn)
		}
		b.subMu.Unlock()
		go func() {
			for _, fn := range fns {
				fn(background.AppState(ev.State))
			}
		}()
	case EventVisibility:
		var ev visibilityEvent
		if err := json.Unmarshal(env.Payload, &ev); err != nil {
			slog.Warn("webview: bad visibility event", "session", s.ID(), "err", err)
			return
		}
		b.subMu.Lock()
		fns := make([]func(bool), 0, len(b.visSubs))
		for _, fn := range b.visSubs {
			fns = append(fns, fn)
		}
		b.subMu.Unlock()
		go func() {
			for _, fn := range fns {
				fn(ev.Visible)
			}
		}()
	default:
		slog.Debug("webview: unhandled event", "session", s.ID(), "type", env.Type)
	}
}
