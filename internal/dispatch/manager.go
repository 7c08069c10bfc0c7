// Package dispatch owns the single active player adapter and executes voice
// commands against it.
//
// A [Manager] is the process-wide authority on what is playing. It is built
// once by the application and handed to whoever needs it; there is no
// package-level instance. Every command outcome is reported as a bool:
// adapter errors and panics are logged and become false.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/MrWong99/voxreel/internal/observe"
	"github.com/MrWong99/voxreel/internal/player"
)

// Defaults for commands that leave amounts unspecified.
const (
	DefaultSeekSeconds = 10.0
	DefaultVolumeStep  = 0.1
)

// Opener builds the adapter for a URL. [*player.Factory] implements it.
type Opener interface {
	Open(ctx context.Context, url string) (player.Adapter, error)
}

// Command is a parsed voice command ready for execution.
type Command struct {
	Intent string         `json:"intent"`
	Action string         `json:"action,omitempty"`
	Slot   map[string]any `json:"slot,omitempty"`
}

// State is a full snapshot of the manager.
type State struct {
	IsActive     bool          `json:"is_active"`
	CurrentURL   string        `json:"current_url,omitempty"`
	Status       player.Status `json:"status"`
	Playlist     []string      `json:"playlist"`
	CurrentIndex int           `json:"current_index"`
}

// Option configures a [Manager].
type Option func(*Manager)

// WithSeekSeconds sets the jump used when a seek command has no seconds slot.
func WithSeekSeconds(s float64) Option {
	return func(m *Manager) {
		if s > 0 {
			m.seekSeconds = s
		}
	}
}

// WithVolumeStep sets the volume_up/volume_down increment.
func WithVolumeStep(step float64) Option {
	return func(m *Manager) {
		if step > 0 {
			m.volumeStep = step
		}
	}
}

// WithMetrics sets the metrics sink. Defaults to [observe.DefaultMetrics].
func WithMetrics(mt *observe.Metrics) Option {
	return func(m *Manager) { m.metrics = mt }
}

// Manager loads videos, keeps a playlist and executes commands.
//
// Operations that touch the adapter are serialised internally, so concurrent
// callers cannot race adapter state. Subscribers are called synchronously
// and must not call back into the Manager.
type Manager struct {
	opener      Opener
	seekSeconds float64
	volumeStep  float64
	metrics     *observe.Metrics

	// op serialises adapter lifecycle and commands.
	op sync.Mutex

	mu          sync.Mutex
	adapter     player.Adapter
	unsubscribe func()
	generation  uint64
	state       State

	lmu       sync.RWMutex
	listeners map[uint64]func(State)
	nextID    uint64
}

// New creates a Manager that opens adapters with opener.
func New(opener Opener, opts ...Option) *Manager {
	m := &Manager{
		opener:      opener,
		seekSeconds: DefaultSeekSeconds,
		volumeStep:  DefaultVolumeStep,
		listeners:   make(map[uint64]func(State)),
	}
	for _, o := range opts {
		o(m)
	}
	if m.metrics == nil {
		m.metrics = observe.DefaultMetrics()
	}
	return m
}

// ─── lifecycle ────────────────────────────────────────────────────────────────

// LoadVideo disposes the current adapter, builds one for url and makes it
// active. It returns false when no adapter can play url.
func (m *Manager) LoadVideo(ctx context.Context, url string) bool {
	m.op.Lock()
	defer m.op.Unlock()
	return m.load(ctx, url)
}

// load must be called with m.op held.
func (m *Manager) load(ctx context.Context, url string) bool {
	m.release()

	log := observe.Logger(ctx)
	a, err := m.open(ctx, url)
	if err != nil {
		log.Warn("dispatch: cannot load video", "url", url, "err", err)
		m.mutate(func(s *State) {
			s.IsActive, s.CurrentURL, s.Status = false, "", player.Status{}
		})
		return false
	}

	m.mu.Lock()
	m.generation++
	gen := m.generation
	m.adapter = a
	m.mu.Unlock()

	unsub := a.Subscribe(func(st player.Status) {
		m.mu.Lock()
		stale := m.generation != gen
		if !stale {
			m.state.Status = st
		}
		m.mu.Unlock()
		if !stale {
			m.publish()
		}
	})
	m.mu.Lock()
	m.unsubscribe = unsub
	m.mu.Unlock()

	m.metrics.ActivePlayers.Add(ctx, 1)
	m.mutate(func(s *State) {
		s.IsActive, s.CurrentURL, s.Status = true, url, a.Status()
	})
	log.Info("dispatch: video loaded", "url", url, "source", a.Source().Type)
	return true
}

// open builds an adapter, converting a constructor panic into an error.
func (m *Manager) open(ctx context.Context, url string) (a player.Adapter, err error) {
	defer func() {
		if r := recover(); r != nil {
			a, err = nil, fmt.Errorf("dispatch: open %s: panic: %v", url, r)
		}
	}()
	return m.opener.Open(ctx, url)
}

// release disposes the active adapter. Must be called with m.op held.
func (m *Manager) release() {
	m.mu.Lock()
	a, unsub := m.adapter, m.unsubscribe
	m.adapter, m.unsubscribe = nil, nil
	m.generation++
	m.mu.Unlock()
	if a == nil {
		return
	}
	if unsub != nil {
		unsub()
	}
	func() {
		defer func() {
			if r := recover(); r != nil {
				slog.Error("dispatch: adapter dispose panicked", "panic", r)
			}
		}()
		a.Dispose()
	}()
	m.metrics.ActivePlayers.Add(context.Background(), -1)
}

// Dispose releases the adapter, clears the playlist and publishes the final
// idle state. Subscribers are dropped afterwards.
func (m *Manager) Dispose() {
	m.op.Lock()
	defer m.op.Unlock()
	m.release()
	m.mutate(func(s *State) { *s = State{} })

	m.lmu.Lock()
	clear(m.listeners)
	m.lmu.Unlock()
}

// ─── playlist ─────────────────────────────────────────────────────────────────

// SetPlaylist replaces the playlist and loads the entry at startIndex. An
// out-of-range index starts at the first entry. An empty list clears the
// playlist and loads nothing. It reports whether a video was loaded.
func (m *Manager) SetPlaylist(ctx context.Context, urls []string, startIndex int) bool {
	m.op.Lock()
	defer m.op.Unlock()

	if startIndex < 0 || startIndex >= len(urls) {
		startIndex = 0
	}
	urls = slices.Clone(urls)
	m.mutate(func(s *State) { s.Playlist, s.CurrentIndex = urls, startIndex })
	if len(urls) == 0 {
		return false
	}
	return m.load(ctx, urls[startIndex])
}

// PlayNext loads the next playlist entry, wrapping to the first. It returns
// false when the playlist is empty.
func (m *Manager) PlayNext(ctx context.Context) bool {
	m.op.Lock()
	defer m.op.Unlock()
	return m.step(ctx, 1)
}

// PlayPrevious loads the previous playlist entry, wrapping to the last. It
// returns false when the playlist is empty.
func (m *Manager) PlayPrevious(ctx context.Context) bool {
	m.op.Lock()
	defer m.op.Unlock()
	return m.step(ctx, -1)
}

// step moves delta entries through the playlist. Must be called with m.op
// held.
func (m *Manager) step(ctx context.Context, delta int) bool {
	m.mu.Lock()
	n := len(m.state.Playlist)
	if n == 0 {
		m.mu.Unlock()
		return false
	}
	idx := ((m.state.CurrentIndex+delta)%n + n) % n
	url := m.state.Playlist[idx]
	m.state.CurrentIndex = idx
	m.mu.Unlock()
	return m.load(ctx, url)
}

// ─── state ────────────────────────────────────────────────────────────────────

// State returns a snapshot of the manager.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshot()
}

func (m *Manager) snapshot() State {
	s := m.state
	s.Playlist = slices.Clone(s.Playlist)
	if s.Playlist == nil {
		s.Playlist = []string{}
	}
	return s
}

// Subscribe calls fn with the current state and again after every change.
// The returned function removes fn.
func (m *Manager) Subscribe(fn func(State)) (unsubscribe func()) {
	m.lmu.Lock()
	id := m.nextID
	m.nextID++
	m.listeners[id] = fn
	m.lmu.Unlock()

	m.deliver(fn, m.State())
	return func() {
		m.lmu.Lock()
		delete(m.listeners, id)
		m.lmu.Unlock()
	}
}

// HandleFrameMessage forwards a message posted by an embedded player to the
// active adapter if it understands such messages.
func (m *Manager) HandleFrameMessage(data []byte) {
	m.mu.Lock()
	a := m.adapter
	m.mu.Unlock()
	if h, ok := a.(player.FrameMessageHandler); ok {
		h.HandleFrameMessage(data)
	}
}

func (m *Manager) mutate(fn func(*State)) {
	m.mu.Lock()
	fn(&m.state)
	m.mu.Unlock()
	m.publish()
}

func (m *Manager) publish() {
	st := m.State()
	m.lmu.RLock()
	fns := make([]func(State), 0, len(m.listeners))
	for _, fn := range m.listeners {
		fns = append(fns, fn)
	}
	m.lmu.RUnlock()
	for _, fn := range fns {
		m.deliver(fn, st)
	}
}

func (m *Manager) deliver(fn func(State), st State) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("dispatch: state listener panicked", "panic", r)
		}
	}()
	fn(st)
}

// ─── commands ─────────────────────────────────────────────────────────────────

// ExecuteVoiceCommand runs cmd against the active adapter. It returns false
// when nothing is loaded, the adapter is not ready, the intent or action is
// unknown, a required slot is missing, or the adapter fails.
func (m *Manager) ExecuteVoiceCommand(ctx context.Context, cmd Command) (ok bool) {
	start := time.Now()
	ctx, span := observe.StartSpan(ctx, "dispatch.execute", observe.CommandAttrs(cmd.Intent, cmd.Action, "")...)
	defer func() {
		span.SetAttributes(attribute.Bool("ok", ok))
		var err error
		if !ok {
			err = errNotExecuted
		}
		observe.EndSpan(span, err)
		m.metrics.RecordDispatch(ctx, cmd.Intent, ok, time.Since(start))
	}()

	m.op.Lock()
	defer m.op.Unlock()

	log := observe.Logger(ctx).With("intent", cmd.Intent, "action", cmd.Action)
	defer func() {
		if r := recover(); r != nil {
			log.Error("dispatch: command panicked", "panic", r)
			ok = false
		}
	}()

	m.mu.Lock()
	a := m.adapter
	m.mu.Unlock()
	if a == nil {
		log.Info("dispatch: no video loaded")
		return false
	}
	if !a.IsReady() {
		log.Info("dispatch: player not ready")
		return false
	}

	err := m.execute(ctx, a, cmd)
	if err != nil {
		log.Warn("dispatch: command failed", "err", err)
		return false
	}
	log.Debug("dispatch: command executed")
	return true
}

var errNotExecuted = errors.New("dispatch: command not executed")

// errRejected marks commands that were refused without touching the adapter.
type errRejected string

func (e errRejected) Error() string { return string(e) }

func (m *Manager) execute(ctx context.Context, a player.Adapter, cmd Command) error {
	switch cmd.Intent {
	case "playback_control":
		return m.playback(ctx, a, cmd)
	case "seek_control":
		return m.seek(ctx, a, cmd)
	case "volume_control":
		return m.volume(ctx, a, cmd)
	case "speed_control":
		speed, ok := number(cmd.Slot["speed"])
		if !ok {
			return errRejected("speed slot missing or not numeric")
		}
		return a.SetPlaybackRate(ctx, speed)
	case "fullscreen_control":
		return m.fullscreen(ctx, a, cmd)
	}
	return errRejected(fmt.Sprintf("unknown intent %q", cmd.Intent))
}

func (m *Manager) playback(ctx context.Context, a player.Adapter, cmd Command) error {
	action := cmd.Action
	if action == "" {
		action = slotString(cmd.Slot, "state")
	}
	switch action {
	case "play", "resume":
		return a.Play(ctx)
	case "pause":
		return a.Pause(ctx)
	case "stop":
		return a.Stop(ctx)
	case "restart":
		if err := a.Seek(ctx, 0); err != nil {
			return err
		}
		return a.Play(ctx)
	case "next":
		if !m.step(ctx, 1) {
			return errRejected("playlist empty or next entry failed to load")
		}
		return nil
	case "previous":
		if !m.step(ctx, -1) {
			return errRejected("playlist empty or previous entry failed to load")
		}
		return nil
	}
	return errRejected(fmt.Sprintf("unknown playback action %q", action))
}

func (m *Manager) seek(ctx context.Context, a player.Adapter, cmd Command) error {
	seconds := m.seekSeconds
	if v, ok := cmd.Slot["seconds"]; ok {
		n, ok := number(v)
		if !ok {
			return errRejected("seconds slot not numeric")
		}
		seconds = n
	}
	action := cmd.Action
	if action == "" {
		action = slotString(cmd.Slot, "direction")
	}
	switch action {
	case "forward":
		return a.Forward(ctx, seconds)
	case "rewind", "backward":
		return a.Rewind(ctx, seconds)
	}
	return errRejected(fmt.Sprintf("unknown seek action %q", action))
}

func (m *Manager) volume(ctx context.Context, a player.Adapter, cmd Command) error {
	switch cmd.Action {
	case "mute":
		return a.SetMuted(ctx, true)
	case "unmute":
		return a.SetMuted(ctx, false)
	case "volume_up":
		return a.SetVolume(ctx, player.ClampVolume(a.Status().Volume+m.volumeStep))
	case "volume_down":
		return a.SetVolume(ctx, player.ClampVolume(a.Status().Volume-m.volumeStep))
	case "", "set":
	default:
		return errRejected(fmt.Sprintf("unknown volume action %q", cmd.Action))
	}

	if pct, present := cmd.Slot["percent"]; present {
		n, ok := number(pct)
		if !ok {
			return errRejected(fmt.Sprintf("volume percent %v not understood", pct))
		}
		return a.SetVolume(ctx, player.ClampVolume(n/100))
	}

	level, present := cmd.Slot["level"]
	if !present {
		return errRejected("volume level slot missing")
	}
	switch level {
	case "max":
		if err := a.SetMuted(ctx, false); err != nil {
			return err
		}
		return a.SetVolume(ctx, 1)
	case "mute":
		return a.SetMuted(ctx, true)
	}
	n, ok := number(level)
	if !ok {
		return errRejected(fmt.Sprintf("volume level %v not understood", level))
	}
	return a.SetVolume(ctx, player.ClampVolume(n))
}

func (m *Manager) fullscreen(ctx context.Context, a player.Adapter, cmd Command) error {
	action := cmd.Action
	if action == "" {
		action = slotString(cmd.Slot, "state")
	}
	switch action {
	case "enter", "on":
		return a.EnterFullscreen(ctx)
	case "exit", "off":
		return a.ExitFullscreen(ctx)
	default:
		return a.ToggleFullscreen(ctx)
	}
}

// number accepts Go numeric types only. Strings are rejected even when they
// look numeric.
func number(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case int32:
		return float64(n), true
	case interface{ Float64() (float64, error) }:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

func slotString(slot map[string]any, key string) string {
	s, _ := slot[key].(string)
	return s
}
