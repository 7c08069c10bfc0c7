// Package capture listens for speech and turns it into transcripts.
//
// A [Capture] owns exactly one [Strategy], chosen when it is built:
//
//   - [EngineStrategy] drives a streaming recognition engine. Interim results
//     arrive as non-final transcripts and each utterance ends with a final.
//   - [RecorderStrategy] records a fixed-length clip and sends it to a batch
//     transcriber. The returned text becomes a final transcript with a fixed
//     confidence.
//
// Subscribers receive, per listening session, a start event, any number of
// result events (interim results before their final), optional error events,
// and exactly one end event. Events are delivered in order on the session's
// goroutine.
package capture

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/metric"

	"github.com/MrWong99/voxreel/internal/observe"
	"github.com/MrWong99/voxreel/pkg/provider/stt"
)

// Mode identifies the active strategy.
type Mode string

const (
	ModeEngine   Mode = "engine"
	ModeRecorder Mode = "recorder"
)

// EventType classifies capture events.
type EventType string

const (
	EventStart  EventType = "start"
	EventResult EventType = "result"
	EventError  EventType = "error"
	EventEnd    EventType = "end"
)

// Event is one notification from a listening session.
type Event struct {
	Type EventType

	// SessionID identifies the listening session that produced the event.
	SessionID string

	// Transcript is set for EventResult.
	Transcript stt.Transcript

	// Err is set for EventError.
	Err *stt.Error
}

// Strategy is the recognition mechanism behind a [Capture]. The set of
// strategies is closed: use [NewEngineStrategy] or [NewRecorderStrategy].
type Strategy interface {
	Mode() Mode

	// listen runs one listening session until ctx is cancelled or the
	// session ends on its own.
	listen(ctx context.Context, cfg sessionConfig, out *emitter)
}

// sessionConfig is the snapshot of capture settings a session runs with.
type sessionConfig struct {
	language   string
	continuous bool
	interim    bool
}

// Option configures a [Capture].
type Option func(*Capture)

// WithLanguage sets the recognition language (BCP-47). Defaults to "en-US".
func WithLanguage(lang string) Option {
	return func(c *Capture) { c.cfg.language = lang }
}

// WithContinuous keeps sessions open across utterances instead of stopping
// after the first final transcript.
func WithContinuous(on bool) Option {
	return func(c *Capture) { c.cfg.continuous = on }
}

// WithInterimResults requests partial transcripts from streaming engines.
// Defaults to true.
func WithInterimResults(on bool) Option {
	return func(c *Capture) { c.cfg.interim = on }
}

// WithOnPermissionDenied registers a hook run after a session ends with a
// permission error.
func WithOnPermissionDenied(fn func()) Option {
	return func(c *Capture) { c.onPermissionDenied = fn }
}

// WithMetrics sets the metrics sink. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(c *Capture) { c.metrics = m }
}

// Capture manages listening sessions for one strategy.
type Capture struct {
	strategy           Strategy
	onPermissionDenied func()
	metrics            *observe.Metrics

	mu        sync.Mutex
	cfg       sessionConfig
	listening bool
	sessionID string
	cancel    context.CancelFunc
	done      chan struct{}

	lmu       sync.RWMutex
	listeners map[uint64]func(Event)
	nextID    uint64
}

// New creates a Capture around strategy.
func New(strategy Strategy, opts ...Option) *Capture {
	c := &Capture{
		strategy:  strategy,
		cfg:       sessionConfig{language: "en-US", interim: true},
		listeners: make(map[uint64]func(Event)),
	}
	for _, o := range opts {
		o(c)
	}
	if c.metrics == nil {
		c.metrics = observe.DefaultMetrics()
	}
	return c
}

// Mode returns the strategy in use.
func (c *Capture) Mode() Mode { return c.strategy.Mode() }

// IsListening reports whether a session is running.
func (c *Capture) IsListening() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.listening
}

// Language returns the recognition language for new sessions.
func (c *Capture) Language() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cfg.language
}

// SetLanguage changes the recognition language. A running session keeps its
// language until it is restarted.
func (c *Capture) SetLanguage(lang string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cfg.language = lang
}

// SetContinuous changes the continuous flag for new sessions.
func (c *Capture) SetContinuous(on bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cfg.continuous = on
}

// StartListening starts a session. It is a no-op while one is running. The
// session is detached from ctx cancellation but keeps its values.
func (c *Capture) StartListening(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.listening {
		return nil
	}
	if c.strategy == nil {
		return fmt.Errorf("capture: start: no strategy")
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	id := uuid.NewString()
	done := make(chan struct{})
	c.listening, c.sessionID, c.cancel, c.done = true, id, cancel, done

	go c.run(runCtx, id, c.cfg, done)
	return nil
}

// StopListening ends the running session and waits for its end event. It is
// safe to call when idle. It must not be called from a subscriber callback
// of the same Capture.
func (c *Capture) StopListening() error {
	c.mu.Lock()
	if !c.listening {
		c.mu.Unlock()
		return nil
	}
	cancel, done := c.cancel, c.done
	c.mu.Unlock()

	cancel()
	<-done
	return nil
}

// Close stops listening and drops all subscribers.
func (c *Capture) Close() error {
	err := c.StopListening()
	c.lmu.Lock()
	clear(c.listeners)
	c.lmu.Unlock()
	return err
}

// Subscribe registers fn for all future events and returns a function that
// removes it.
func (c *Capture) Subscribe(fn func(Event)) (unsubscribe func()) {
	c.lmu.Lock()
	id := c.nextID
	c.nextID++
	c.listeners[id] = fn
	c.lmu.Unlock()
	return func() {
		c.lmu.Lock()
		delete(c.listeners, id)
		c.lmu.Unlock()
	}
}

func (c *Capture) run(ctx context.Context, id string, cfg sessionConfig, done chan struct{}) {
	defer close(done)

	mode := string(c.strategy.Mode())
	c.metrics.ListeningSessions.Add(ctx, 1, metric.WithAttributes(observe.Attr("strategy", mode)))
	defer c.metrics.ListeningSessions.Add(context.WithoutCancel(ctx), -1, metric.WithAttributes(observe.Attr("strategy", mode)))

	ctx = observe.WithSession(ctx, id)
	out := &emitter{capture: c, sessionID: id, mode: mode, ctx: ctx}
	slog.Info("capture: listening started", "session", id, "mode", mode, "language", cfg.language, "continuous", cfg.continuous)
	c.publish(Event{Type: EventStart, SessionID: id})

	c.strategy.listen(ctx, cfg, out)

	c.mu.Lock()
	if c.sessionID == id {
		c.listening = false
		c.cancel()
	}
	c.mu.Unlock()

	c.publish(Event{Type: EventEnd, SessionID: id})
	slog.Info("capture: listening ended", "session", id, "mode", mode)

	if out.permissionDenied && c.onPermissionDenied != nil {
		c.onPermissionDenied()
	}
}

// publish delivers ev to every subscriber. A panicking subscriber is logged
// and does not prevent delivery to the others.
func (c *Capture) publish(ev Event) {
	c.lmu.RLock()
	fns := make([]func(Event), 0, len(c.listeners))
	for _, fn := range c.listeners {
		fns = append(fns, fn)
	}
	c.lmu.RUnlock()

	for _, fn := range fns {
		func() {
			defer func() {
				if r := recover(); r != nil {
					slog.Error("capture: subscriber panicked", "event", ev.Type, "panic", r)
				}
			}()
			fn(ev)
		}()
	}
}

// emitter is the strategies' view of their Capture.
type emitter struct {
	capture   *Capture
	sessionID string
	mode      string
	ctx       context.Context

	permissionDenied bool
}

func (e *emitter) result(t stt.Transcript) {
	e.capture.publish(Event{Type: EventResult, SessionID: e.sessionID, Transcript: t})
}

// fail publishes err unless it only reports the session's own cancellation.
func (e *emitter) fail(err *stt.Error) {
	if err == nil {
		return
	}
	if err.Kind == stt.KindAborted && e.ctx.Err() != nil {
		return
	}
	if err.Kind == stt.KindPermission {
		e.permissionDenied = true
	}
	slog.Warn("capture: recognition error", "session", e.sessionID, "mode", e.mode, "kind", err.Kind, "err", err)
	e.capture.metrics.RecordRecognitionError(e.ctx, string(err.Kind))
	e.capture.publish(Event{Type: EventError, SessionID: e.sessionID, Err: err})
}

// round records one finished recognition round.
func (e *emitter) round(start time.Time, err *stt.Error) {
	status := "ok"
	if err != nil {
		status = string(err.Kind)
	}
	e.capture.metrics.RecordTranscription(context.WithoutCancel(e.ctx), e.mode, status, time.Since(start))
}
