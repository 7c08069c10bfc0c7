// Package voice ties speech capture, command parsing and dispatch into one
// pipeline.
//
// Final transcripts are parsed in the capture language. The parsed
// confidence is multiplied by the transcript confidence, and the product is
// gated:
//
//   - below the execution floor the command is not run and the user is
//     asked to try again,
//   - below the confirmation band it runs and is announced as executing,
//   - otherwise it runs silently and is reported as executed.
//
// Commands are executed one at a time.
package voice

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"unicode"
	"unicode/utf8"

	"go.opentelemetry.io/otel/attribute"

	"github.com/MrWong99/voxreel/internal/dispatch"
	"github.com/MrWong99/voxreel/internal/observe"
	"github.com/MrWong99/voxreel/internal/voice/capture"
	"github.com/MrWong99/voxreel/internal/voice/parser"
	"github.com/MrWong99/voxreel/pkg/provider/stt"
)

// Default gating thresholds.
const (
	DefaultExecutionFloor   = 0.3
	DefaultConfirmationBand = 0.6
)

// queueSize bounds finals waiting for execution. Further finals are dropped.
const queueSize = 8

// FeedbackKind classifies what the pipeline did with an utterance.
type FeedbackKind string

const (
	// FeedbackInterim carries a partial transcript for display.
	FeedbackInterim FeedbackKind = "interim"
	// FeedbackRetry means a command was recognised with too little confidence.
	FeedbackRetry FeedbackKind = "retry"
	// FeedbackExecuting announces a mid-confidence command before it runs.
	FeedbackExecuting FeedbackKind = "executing"
	// FeedbackExecuted means the command ran successfully.
	FeedbackExecuted FeedbackKind = "executed"
	// FeedbackFailed means the command was rejected by the player.
	FeedbackFailed FeedbackKind = "failed"
	// FeedbackNoMatch means the transcript matched no command.
	FeedbackNoMatch FeedbackKind = "no_match"
	// FeedbackIgnored means the transcript lacked a required wake word.
	FeedbackIgnored FeedbackKind = "ignored"
	// FeedbackError reports a recognition error.
	FeedbackError FeedbackKind = "error"
)

// Feedback is one user-facing pipeline outcome.
type Feedback struct {
	Kind       FeedbackKind          `json:"kind"`
	Transcript string                `json:"transcript,omitempty"`
	Command    *parser.ParsedCommand `json:"command,omitempty"`

	// Confidence is the effective confidence used for gating.
	Confidence float64    `json:"confidence,omitempty"`
	Err        *stt.Error `json:"error,omitempty"`
}

// Listener is the capture side of the pipeline. [*capture.Capture]
// implements it.
type Listener interface {
	StartListening(ctx context.Context) error
	StopListening() error
	IsListening() bool
	Language() string
	SetContinuous(on bool)
	Subscribe(fn func(capture.Event)) (unsubscribe func())
}

// Parser turns text into commands. [*parser.Parser] implements it.
type Parser interface {
	Parse(text, lang string) *parser.ParsedCommand
}

// Dispatcher executes commands. [*dispatch.Manager] implements it.
type Dispatcher interface {
	ExecuteVoiceCommand(ctx context.Context, cmd dispatch.Command) bool
}

// Option configures a [Controller].
type Option func(*Controller)

// WithThresholds sets the execution floor and the confirmation band.
func WithThresholds(floor, band float64) Option {
	return func(c *Controller) { c.floor, c.band = floor, band }
}

// WithAlwaysListening sets the initial always-listening mode.
func WithAlwaysListening(on bool) Option {
	return func(c *Controller) { c.alwaysListening = on }
}

// WithWakeWords requires transcripts to begin with one of words. An empty
// list disables the requirement.
func WithWakeWords(words []string) Option {
	return func(c *Controller) { c.wakeWords = normalizeWakeWords(words) }
}

// WithOnAlwaysListeningChanged registers a hook run whenever the
// always-listening mode changes, including when a permission error turns it
// off.
func WithOnAlwaysListeningChanged(fn func(bool)) Option {
	return func(c *Controller) { c.onAlwaysChanged = fn }
}

// Controller runs the voice pipeline.
type Controller struct {
	listener   Listener
	parser     Parser
	dispatcher Dispatcher

	onAlwaysChanged func(bool)

	mu              sync.Mutex
	floor, band     float64
	alwaysListening bool
	wakeWords       []string

	// exec serialises command execution between capture and HTTP paths.
	exec sync.Mutex

	queue   chan queued
	done    chan struct{}
	once    sync.Once
	wg      sync.WaitGroup
	unsub   func()
	baseCtx context.Context

	lmu       sync.RWMutex
	listeners map[uint64]func(Feedback)
	nextID    uint64
}

// New wires listener, parser and dispatcher together. ctx provides values
// (not cancellation) for commands triggered by speech. Call Close to detach.
func New(ctx context.Context, l Listener, p Parser, d Dispatcher, opts ...Option) *Controller {
	c := &Controller{
		listener:   l,
		parser:     p,
		dispatcher: d,
		floor:      DefaultExecutionFloor,
		band:       DefaultConfirmationBand,
		queue:      make(chan queued, queueSize),
		done:       make(chan struct{}),
		baseCtx:    context.WithoutCancel(ctx),
		listeners:  make(map[uint64]func(Feedback)),
	}
	for _, o := range opts {
		o(c)
	}
	l.SetContinuous(c.alwaysListening)
	c.unsub = l.Subscribe(c.onCapture)
	c.wg.Go(c.processLoop)
	return c
}

// Close detaches from the listener and stops processing queued finals.
func (c *Controller) Close() error {
	c.once.Do(func() {
		c.unsub()
		close(c.done)
	})
	c.wg.Wait()
	return nil
}

// ─── configuration ────────────────────────────────────────────────────────────

// Thresholds returns the execution floor and confirmation band.
func (c *Controller) Thresholds() (floor, band float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.floor, c.band
}

// SetThresholds changes the gating thresholds.
func (c *Controller) SetThresholds(floor, band float64) error {
	if floor < 0 || band > 1 || floor > band {
		return fmt.Errorf("voice: thresholds must satisfy 0 <= floor (%v) <= band (%v) <= 1", floor, band)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.floor, c.band = floor, band
	return nil
}

// SetWakeWords replaces the wake words. An empty list disables them.
func (c *Controller) SetWakeWords(words []string) {
	norm := normalizeWakeWords(words)
	c.mu.Lock()
	defer c.mu.Unlock()
	c.wakeWords = norm
}

// AlwaysListening reports whether listening is kept on continuously.
func (c *Controller) AlwaysListening() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.alwaysListening
}

// SetAlwaysListening switches continuous listening on or off. Turning it on
// starts listening.
func (c *Controller) SetAlwaysListening(ctx context.Context, on bool) error {
	c.setAlways(on)
	if !on {
		return nil
	}
	return c.listener.StartListening(ctx)
}

func (c *Controller) setAlways(on bool) {
	c.mu.Lock()
	changed := c.alwaysListening != on
	c.alwaysListening = on
	c.mu.Unlock()
	c.listener.SetContinuous(on)
	if changed && c.onAlwaysChanged != nil {
		c.onAlwaysChanged(on)
	}
}

// ─── background hooks ─────────────────────────────────────────────────────────

// IsActive reports whether listening is in the state it should be in. It is
// true while listening, and also whenever always-listening is off, since
// nothing then needs restarting.
func (c *Controller) IsActive() bool {
	return !c.AlwaysListening() || c.listener.IsListening()
}

// Restart starts listening again if always-listening is on.
func (c *Controller) Restart(ctx context.Context) error {
	if !c.AlwaysListening() {
		return nil
	}
	if err := c.listener.StartListening(ctx); err != nil {
		return fmt.Errorf("voice: restart listening: %w", err)
	}
	return nil
}

// ─── pipeline ─────────────────────────────────────────────────────────────────

// Subscribe registers fn for feedback and returns a function that removes it.
func (c *Controller) Subscribe(fn func(Feedback)) (unsubscribe func()) {
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

// HandleTranscript runs t through the pipeline synchronously and returns
// the final feedback. It shares the execution lock with speech input.
func (c *Controller) HandleTranscript(ctx context.Context, t stt.Transcript) Feedback {
	return c.process(ctx, t, "")
}

// HandleTranscriptIn is [Controller.HandleTranscript] with the transcript
// parsed as lang instead of the capture language. An empty lang uses the
// capture language.
func (c *Controller) HandleTranscriptIn(ctx context.Context, t stt.Transcript, lang string) Feedback {
	return c.process(ctx, t, lang)
}

func (c *Controller) onCapture(ev capture.Event) {
	switch ev.Type {
	case capture.EventResult:
		if !ev.Transcript.IsFinal {
			c.publish(Feedback{Kind: FeedbackInterim, Transcript: ev.Transcript.Text})
			return
		}
		select {
		case c.queue <- queued{transcript: ev.Transcript, session: ev.SessionID}:
		default:
			slog.Warn("voice: command queue full, dropping transcript", "text", ev.Transcript.Text)
		}
	case capture.EventError:
		if ev.Err == nil {
			return
		}
		if ev.Err.Kind == stt.KindPermission && c.AlwaysListening() {
			slog.Warn("voice: microphone permission denied, disabling always listening")
			c.setAlways(false)
		}
		c.publish(Feedback{Kind: FeedbackError, Err: ev.Err})
	}
}

// queued is a final waiting for execution with the session that heard it.
type queued struct {
	transcript stt.Transcript
	session    string
}

func (c *Controller) processLoop() {
	for {
		select {
		case <-c.done:
			return
		case q := <-c.queue:
			c.process(observe.WithSession(c.baseCtx, q.session), q.transcript, "")
		}
	}
}

func (c *Controller) process(ctx context.Context, t stt.Transcript, lang string) Feedback {
	c.exec.Lock()
	defer c.exec.Unlock()

	fb := c.evaluate(ctx, t, lang)
	c.publish(fb)
	return fb
}

// evaluate parses, gates and dispatches one transcript. Must be called with
// c.exec held.
func (c *Controller) evaluate(ctx context.Context, t stt.Transcript, lang string) Feedback {
	c.mu.Lock()
	floor, band, wake := c.floor, c.band, c.wakeWords
	c.mu.Unlock()

	text := strings.TrimSpace(t.Text)
	if len(wake) > 0 {
		rest, ok := stripWakeWord(text, wake)
		if !ok {
			slog.Debug("voice: no wake word", "text", text)
			return Feedback{Kind: FeedbackIgnored, Transcript: text}
		}
		text = rest
	}

	if lang == "" {
		lang = c.listener.Language()
	}
	ctx, span := observe.StartSpan(ctx, "voice.command", observe.KeyLanguage.String(lang))
	defer span.End()

	cmd := c.parser.Parse(text, lang)
	if cmd == nil {
		observe.Logger(ctx).Info("voice: no command matched", "text", text, "language", lang)
		return Feedback{Kind: FeedbackNoMatch, Transcript: text}
	}

	conf := cmd.Confidence * stt.ClampConfidence(t.Confidence, 1)
	span.SetAttributes(observe.CommandAttrs(cmd.Intent, cmd.Action, string(cmd.Stage))...)
	span.SetAttributes(attribute.Float64("voxreel.confidence", conf))
	fb := Feedback{Transcript: text, Command: cmd, Confidence: conf}
	log := observe.Logger(ctx).With("intent", cmd.Intent, "action", cmd.Action, "confidence", conf, "stage", cmd.Stage)

	if conf < floor {
		log.Info("voice: confidence below execution floor, asking to retry")
		fb.Kind = FeedbackRetry
		return fb
	}
	if conf < band {
		c.publish(Feedback{Kind: FeedbackExecuting, Transcript: text, Command: cmd, Confidence: conf})
	}

	ok := c.dispatcher.ExecuteVoiceCommand(ctx, dispatch.Command{Intent: cmd.Intent, Action: cmd.Action, Slot: cmd.Slot})
	if !ok {
		log.Info("voice: command not executed")
		fb.Kind = FeedbackFailed
		return fb
	}
	log.Info("voice: command executed")
	fb.Kind = FeedbackExecuted
	return fb
}

func (c *Controller) publish(fb Feedback) {
	c.lmu.RLock()
	fns := make([]func(Feedback), 0, len(c.listeners))
	for _, fn := range c.listeners {
		fns = append(fns, fn)
	}
	c.lmu.RUnlock()
	for _, fn := range fns {
		func() {
			defer func() {
				if r := recover(); r != nil {
					slog.Error("voice: feedback listener panicked", "kind", fb.Kind, "panic", r)
				}
			}()
			fn(fb)
		}()
	}
}

// ─── wake words ───────────────────────────────────────────────────────────────

func normalizeWakeWords(words []string) []string {
	out := make([]string, 0, len(words))
	for _, w := range words {
		if w = strings.Join(strings.Fields(strings.ToLower(w)), " "); w != "" {
			out = append(out, w)
		}
	}
	return out
}

// stripWakeWord removes a leading wake word and the punctuation after it.
// Matching ignores case and repeated spaces.
func stripWakeWord(text string, wake []string) (string, bool) {
	norm := strings.Join(strings.Fields(strings.ToLower(text)), " ")
	for _, w := range wake {
		rest, ok := strings.CutPrefix(norm, w)
		if !ok {
			continue
		}
		if r, _ := utf8.DecodeRuneInString(rest); rest != "" && !unicode.IsSpace(r) && !unicode.IsPunct(r) {
			continue
		}
		return strings.TrimLeftFunc(rest, func(r rune) bool {
			return unicode.IsSpace(r) || unicode.IsPunct(r)
		}), true
	}
	return "", false
}
