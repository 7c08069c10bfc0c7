// Package mock provides test doubles for the player package.
//
// All types record calls under a mutex and return configurable results.
package mock

import (
	"context"
	"fmt"
	"sync"

	"github.com/MrWong99/voxreel/internal/player"
)

// ─── Adapter ──────────────────────────────────────────────────────────────────

// Call records one adapter method invocation. Arg holds the numeric or
// boolean argument when the method takes one.
type Call struct {
	Method string
	Arg    any
}

// Adapter is a mock implementation of [player.Adapter]. Setters store their
// (clamped) values in the status so tests can assert on it.
type Adapter struct {
	mu sync.Mutex

	// Src is returned by Source.
	Src player.Source

	// Ready is returned by IsReady.
	Ready bool

	// Err, if non-nil, is returned by every command.
	Err error

	// PanicOn makes the named method panic, for recovery tests.
	PanicOn string

	// Current is the status returned by Status.
	Current player.Status

	// Calls records every command in order.
	Calls []Call

	// DisposeCount counts Dispose calls.
	DisposeCount int

	listeners map[int]func(player.Status)
	nextID    int
}

var _ player.Adapter = (*Adapter)(nil)

// NewAdapter returns a ready adapter with default status for src.
func NewAdapter(src player.Source) *Adapter {
	return &Adapter{
		Src:     src,
		Ready:   true,
		Current: player.Status{State: player.StateReady, Volume: 1, PlaybackRate: 1},
	}
}

func (a *Adapter) record(method string, arg any, fn func(*player.Status)) error {
	a.mu.Lock()
	a.Calls = append(a.Calls, Call{Method: method, Arg: arg})
	if a.PanicOn == method {
		a.mu.Unlock()
		panic(fmt.Sprintf("mock adapter: %s", method))
	}
	if a.Err != nil {
		err := a.Err
		a.mu.Unlock()
		return err
	}
	if fn != nil {
		fn(&a.Current)
	}
	a.mu.Unlock()
	return nil
}

func (a *Adapter) Play(context.Context) error {
	return a.record("Play", nil, func(s *player.Status) { s.State = player.StatePlaying })
}

func (a *Adapter) Pause(context.Context) error {
	return a.record("Pause", nil, func(s *player.Status) { s.State = player.StatePaused })
}

func (a *Adapter) Stop(context.Context) error {
	return a.record("Stop", nil, func(s *player.Status) { s.State, s.CurrentTime = player.StateReady, 0 })
}

func (a *Adapter) Seek(_ context.Context, t float64) error {
	return a.record("Seek", t, func(s *player.Status) { s.CurrentTime = player.ClampTime(t, s.Duration) })
}

func (a *Adapter) Forward(_ context.Context, seconds float64) error {
	return a.record("Forward", seconds, func(s *player.Status) {
		s.CurrentTime = player.ClampTime(s.CurrentTime+seconds, s.Duration)
	})
}

func (a *Adapter) Rewind(_ context.Context, seconds float64) error {
	return a.record("Rewind", seconds, func(s *player.Status) {
		s.CurrentTime = player.ClampTime(s.CurrentTime-seconds, s.Duration)
	})
}

func (a *Adapter) SetVolume(_ context.Context, v float64) error {
	return a.record("SetVolume", v, func(s *player.Status) { s.Volume = player.ClampVolume(v) })
}

func (a *Adapter) SetMuted(_ context.Context, muted bool) error {
	return a.record("SetMuted", muted, func(s *player.Status) { s.Muted = muted })
}

func (a *Adapter) ToggleMute(context.Context) error {
	return a.record("ToggleMute", nil, func(s *player.Status) { s.Muted = !s.Muted })
}

func (a *Adapter) SetPlaybackRate(_ context.Context, rate float64) error {
	return a.record("SetPlaybackRate", rate, func(s *player.Status) { s.PlaybackRate = player.ClampRate(rate) })
}

func (a *Adapter) EnterFullscreen(context.Context) error {
	return a.record("EnterFullscreen", nil, func(s *player.Status) { s.IsFullscreen = true })
}

func (a *Adapter) ExitFullscreen(context.Context) error {
	return a.record("ExitFullscreen", nil, func(s *player.Status) { s.IsFullscreen = false })
}

func (a *Adapter) ToggleFullscreen(context.Context) error {
	return a.record("ToggleFullscreen", nil, func(s *player.Status) { s.IsFullscreen = !s.IsFullscreen })
}

func (a *Adapter) Status() player.Status {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.Current
}

func (a *Adapter) Source() player.Source { return a.Src }

func (a *Adapter) IsReady() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.Ready
}

func (a *Adapter) Subscribe(fn func(player.Status)) func() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.listeners == nil {
		a.listeners = make(map[int]func(player.Status))
	}
	id := a.nextID
	a.nextID++
	a.listeners[id] = fn
	return func() {
		a.mu.Lock()
		defer a.mu.Unlock()
		delete(a.listeners, id)
	}
}

// Emit sets the status and delivers it to subscribers synchronously.
func (a *Adapter) Emit(st player.Status) {
	a.mu.Lock()
	a.Current = st
	fns := make([]func(player.Status), 0, len(a.listeners))
	for _, fn := range a.listeners {
		fns = append(fns, fn)
	}
	a.mu.Unlock()
	for _, fn := range fns {
		fn(st)
	}
}

// Subscribers returns the number of registered listeners.
func (a *Adapter) Subscribers() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.listeners)
}

func (a *Adapter) Dispose() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.DisposeCount++
	a.Ready = false
	clear(a.listeners)
}

// Methods returns the recorded method names in order.
func (a *Adapter) Methods() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, len(a.Calls))
	for i, c := range a.Calls {
		out[i] = c.Method
	}
	return out
}

// LastCall returns the most recent call, or the zero Call.
func (a *Adapter) LastCall() Call {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.Calls) == 0 {
		return Call{}
	}
	return a.Calls[len(a.Calls)-1]
}

// ─── Opener ───────────────────────────────────────────────────────────────────

// Opener builds mock adapters for detected URLs, as [player.Factory] would.
type Opener struct {
	mu sync.Mutex

	// Err, if non-nil, is returned by Open after detection.
	Err error

	// Configure, if set, runs on every new adapter before it is returned.
	Configure func(*Adapter)

	// Opened records every adapter handed out, in order.
	Opened []*Adapter
}

// Open detects url and returns a new mock adapter for it.
func (o *Opener) Open(_ context.Context, url string) (player.Adapter, error) {
	src, err := player.Detect(url)
	if err != nil {
		return nil, err
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.Err != nil {
		return nil, o.Err
	}
	a := NewAdapter(src)
	if o.Configure != nil {
		o.Configure(a)
	}
	o.Opened = append(o.Opened, a)
	return a, nil
}

// Last returns the most recently opened adapter, or nil.
func (o *Opener) Last() *Adapter {
	o.mu.Lock()
	defer o.mu.Unlock()
	if len(o.Opened) == 0 {
		return nil
	}
	return o.Opened[len(o.Opened)-1]
}

// URLs returns the URLs opened so far.
func (o *Opener) URLs() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]string, len(o.Opened))
	for i, a := range o.Opened {
		out[i] = a.Src.URL
	}
	return out
}

// ─── Frame / ScriptHost ───────────────────────────────────────────────────────

// Host is a mock implementation of both [player.Frame] and
// [player.ScriptHost].
type Host struct {
	mu sync.Mutex

	// LoadErr, PostErr, FullscreenErr and InjectErr are returned by the
	// corresponding methods.
	LoadErr       error
	PostErr       error
	FullscreenErr error
	InjectErr     error

	Loaded     []string
	Messages   []any
	Scripts    []string
	Fullscreen []bool
}

var (
	_ player.Frame      = (*Host)(nil)
	_ player.ScriptHost = (*Host)(nil)
)

func (h *Host) Load(_ context.Context, url string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.Loaded = append(h.Loaded, url)
	return h.LoadErr
}

func (h *Host) PostMessage(_ context.Context, msg any) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.Messages = append(h.Messages, msg)
	return h.PostErr
}

func (h *Host) SetFullscreen(_ context.Context, on bool) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.Fullscreen = append(h.Fullscreen, on)
	return h.FullscreenErr
}

func (h *Host) InjectJavaScript(_ context.Context, script string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.Scripts = append(h.Scripts, script)
	return h.InjectErr
}

// MessageCount returns the number of posted messages. Thread-safe.
func (h *Host) MessageCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.Messages)
}

// LastMessage returns the most recent posted message, or nil.
func (h *Host) LastMessage() any {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.Messages) == 0 {
		return nil
	}
	return h.Messages[len(h.Messages)-1]
}

// LastScript returns the most recent injected script, or "".
func (h *Host) LastScript() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.Scripts) == 0 {
		return ""
	}
	return h.Scripts[len(h.Scripts)-1]
}

// ─── Element ──────────────────────────────────────────────────────────────────

// Element is a mock implementation of [player.Element] backed by an
// in-memory [player.ElementState].
type Element struct {
	mu sync.Mutex

	// St is the element state. Setters write into it.
	St player.ElementState

	// Err, if non-nil, is returned by every setter.
	Err error

	// StateErr, if non-nil, is returned by State.
	StateErr error

	Calls      []Call
	CloseCount int
}

var _ player.Element = (*Element)(nil)

// NewElement returns a paused element with metadata loaded.
func NewElement(duration float64) *Element {
	return &Element{St: player.ElementState{
		Paused: true, Duration: duration, Volume: 1, PlaybackRate: 1, ReadyState: 4,
	}}
}

func (e *Element) apply(method string, arg any, fn func(*player.ElementState)) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.Calls = append(e.Calls, Call{Method: method, Arg: arg})
	if e.Err != nil {
		return e.Err
	}
	fn(&e.St)
	return nil
}

func (e *Element) Play(context.Context) error {
	return e.apply("Play", nil, func(s *player.ElementState) { s.Paused = false })
}

func (e *Element) Pause(context.Context) error {
	return e.apply("Pause", nil, func(s *player.ElementState) { s.Paused = true })
}

func (e *Element) SetCurrentTime(_ context.Context, t float64) error {
	return e.apply("SetCurrentTime", t, func(s *player.ElementState) { s.CurrentTime = t })
}

func (e *Element) SetVolume(_ context.Context, v float64) error {
	return e.apply("SetVolume", v, func(s *player.ElementState) { s.Volume = v })
}

func (e *Element) SetMuted(_ context.Context, muted bool) error {
	return e.apply("SetMuted", muted, func(s *player.ElementState) { s.Muted = muted })
}

func (e *Element) SetPlaybackRate(_ context.Context, rate float64) error {
	return e.apply("SetPlaybackRate", rate, func(s *player.ElementState) { s.PlaybackRate = rate })
}

func (e *Element) SetFullscreen(_ context.Context, on bool) error {
	return e.apply("SetFullscreen", on, func(s *player.ElementState) { s.Fullscreen = on })
}

func (e *Element) State(context.Context) (player.ElementState, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.St, e.StateErr
}

func (e *Element) Close(context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.CloseCount++
	return nil
}

// Update mutates the element state as the platform would. Thread-safe.
func (e *Element) Update(fn func(*player.ElementState)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	fn(&e.St)
}

// SetErr sets the error returned by setters. Thread-safe.
func (e *Element) SetErr(err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.Err = err
}

// Snapshot returns the current element state. Thread-safe.
func (e *Element) Snapshot() player.ElementState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.St
}

// Closed reports how many times Close was called. Thread-safe.
func (e *Element) Closed() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.CloseCount
}

// ElementOpener returns a fixed [Element].
type ElementOpener struct {
	Element *Element
	Err     error

	mu     sync.Mutex
	Opened []string
}

var _ player.ElementOpener = (*ElementOpener)(nil)

func (o *ElementOpener) OpenElement(_ context.Context, url string) (player.Element, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.Opened = append(o.Opened, url)
	if o.Err != nil {
		return nil, o.Err
	}
	return o.Element, nil
}
