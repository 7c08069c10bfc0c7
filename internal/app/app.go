// Package app wires all voxreel subsystems into a running application.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run serves HTTP and watches the config file until ctx is done,
// and Shutdown tears everything down in reverse order.
//
// For testing, inject doubles via [Providers] and functional options
// (WithOpener, WithMetrics, ...). When a provider slot is empty, New falls
// back to the app shell connected over the WebSocket bridge.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/voxreel/internal/api"
	"github.com/MrWong99/voxreel/internal/background"
	"github.com/MrWong99/voxreel/internal/config"
	"github.com/MrWong99/voxreel/internal/dispatch"
	"github.com/MrWong99/voxreel/internal/health"
	"github.com/MrWong99/voxreel/internal/observe"
	"github.com/MrWong99/voxreel/internal/player"
	"github.com/MrWong99/voxreel/internal/settings"
	"github.com/MrWong99/voxreel/internal/voice"
	"github.com/MrWong99/voxreel/internal/voice/capture"
	"github.com/MrWong99/voxreel/internal/voice/parser"
	"github.com/MrWong99/voxreel/internal/webview"
	"github.com/MrWong99/voxreel/pkg/audio"
	"github.com/MrWong99/voxreel/pkg/provider/stt"
	"github.com/MrWong99/voxreel/pkg/provider/vad"
)

// Providers holds one interface value per provider slot. Nil means the slot
// is served by the app shell. Populated by main.go via the config registry.
type Providers struct {
	// STT streams speech in engine mode.
	STT stt.Provider

	// Transcriber turns recorded clips into text in recorder mode.
	Transcriber stt.Transcriber

	// VAD drops recorded clips without speech. Optional.
	VAD vad.Engine

	// Audio is a local capture device.
	Audio audio.Device

	// Store persists voice preferences. Defaults to an in-memory store.
	Store settings.Store
}

// App owns all subsystem lifetimes and orchestrates the voice pipeline.
type App struct {
	cfg       *config.Config
	providers *Providers

	level          *slog.LevelVar
	metrics        *observe.Metrics
	metricsHandler http.Handler
	configPath     string
	opener         dispatch.Opener
	checkers       []health.Checker

	// Subsystems. Initialised in New, torn down in Shutdown.
	bridge     *webview.Bridge
	prefs      *settings.Voice
	dispatcher *dispatch.Manager
	capture    *capture.Capture
	parser     *parser.Parser
	controller *voice.Controller
	background *background.Manager
	watcher    *config.Watcher
	shell      *shellSync
	health     *health.Handler
	server     *http.Server

	// closers are called in reverse order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithLogLevel lets config reloads change the level of the running logger.
func WithLogLevel(lv *slog.LevelVar) Option {
	return func(a *App) { a.level = lv }
}

// WithMetrics sets the instruments shared by all subsystems.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithMetricsHandler serves h on /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(a *App) { a.metricsHandler = h }
}

// WithConfigWatch hot-reloads the YAML file at path while Run is active.
func WithConfigWatch(path string) Option {
	return func(a *App) { a.configPath = path }
}

// WithOpener replaces the player factory that turns URLs into adapters.
func WithOpener(o dispatch.Opener) Option {
	return func(a *App) { a.opener = o }
}

// WithHealthChecker adds a readiness checker.
func WithHealthChecker(c health.Checker) Option {
	return func(a *App) { a.checkers = append(a.checkers, c) }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. The providers struct
// comes from main.go (populated via the config registry).
//
// New performs all initialisation synchronously: preference loading, bridge
// and player setup, capture, the voice controller, background listening and
// the HTTP routes. Nothing listens until Run.
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if providers == nil {
		providers = &Providers{}
	}
	a := &App{
		cfg:       cfg,
		providers: providers,
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	// ── 1. Settings ──────────────────────────────────────────────────────
	a.initSettings()
	prefs := a.prefs.Load(ctx, settings.VoiceSettings{
		Language:        cfg.Voice.Language,
		AlwaysListening: cfg.Voice.AlwaysListening,
		Background:      cfg.Background.Config,
	})

	// ── 2. Shell bridge ──────────────────────────────────────────────────
	a.bridge = webview.New(
		webview.WithOriginPatterns(cfg.Server.AllowedOrigins...),
		webview.WithMetrics(a.metrics),
	)
	a.closers = append(a.closers, a.bridge.Close)

	// ── 3. Player dispatch ───────────────────────────────────────────────
	if a.opener == nil {
		a.opener = &player.Factory{
			Frame:    a.bridge,
			Scripts:  a.bridge,
			Elements: a.bridge,
			Options:  []player.Option{player.WithPollInterval(cfg.Player.PollInterval)},
		}
	}
	a.dispatcher = dispatch.New(a.opener,
		dispatch.WithSeekSeconds(cfg.Player.SeekSeconds),
		dispatch.WithVolumeStep(cfg.Player.VolumeStep),
		dispatch.WithMetrics(a.metrics),
	)
	a.bridge.SetFrameHandler(a.dispatcher)
	a.closers = append(a.closers, func() error {
		a.dispatcher.Dispose()
		return nil
	})

	// ── 4. Capture ───────────────────────────────────────────────────────
	strategy, err := a.buildStrategy()
	if err != nil {
		return nil, fmt.Errorf("app: init capture: %w", err)
	}
	a.capture = capture.New(strategy,
		capture.WithLanguage(prefs.Language),
		capture.WithContinuous(cfg.Voice.Continuous || prefs.AlwaysListening),
		capture.WithInterimResults(cfg.Voice.InterimResults),
		capture.WithOnPermissionDenied(func() {
			slog.Warn("microphone permission denied")
		}),
		capture.WithMetrics(a.metrics),
	)
	a.closers = append(a.closers, a.capture.Close)

	// ── 5. Voice controller ──────────────────────────────────────────────
	a.parser = parser.New(
		parser.WithConfidenceThreshold(cfg.Voice.FuzzyThreshold),
		parser.WithMetrics(a.metrics),
	)
	a.controller = voice.New(ctx, a.capture, a.parser, a.dispatcher,
		voice.WithThresholds(cfg.Voice.ExecutionFloor, cfg.Voice.ConfirmationBand),
		voice.WithAlwaysListening(prefs.AlwaysListening),
		voice.WithWakeWords(wakeWords(prefs.Background)),
		voice.WithOnAlwaysListeningChanged(a.persistAlwaysListening),
	)
	a.closers = append(a.closers, a.controller.Close)

	// ── 6. Background listening ──────────────────────────────────────────
	platform, err := background.ParsePlatform(cfg.Background.Platform, a.bridge, a.bridge)
	if err != nil {
		return nil, fmt.Errorf("app: init background: %w", err)
	}
	a.background = background.New(prefs.Background, platform,
		background.WithAppState(a.bridge),
		background.WithMetrics(a.metrics),
	)
	a.closers = append(a.closers, func() error {
		a.background.Stop()
		return nil
	})

	// ── 7. Shell sync ────────────────────────────────────────────────────
	a.shell = newShellSync(a.bridge)
	unsubState := a.dispatcher.Subscribe(a.shell.playerState)
	unsubFeedback := a.controller.Subscribe(a.shell.feedback)
	a.closers = append(a.closers, func() error {
		unsubFeedback()
		unsubState()
		return nil
	})

	// ── 8. HTTP ──────────────────────────────────────────────────────────
	a.initHealth()
	srv := api.New(api.Config{
		Voice:       a.controller,
		Listener:    a.capture,
		Player:      a.dispatcher,
		Preferences: &preferences{app: a},
		Bridge:      a.bridge,
		Health:      a.health,
		Metrics:     a.metricsHandler,
		Telemetry:   a.metrics,
	})
	a.server = &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           srv,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// ── 9. Config watcher ────────────────────────────────────────────────
	if a.configPath != "" {
		w, err := config.NewWatcher(a.configPath, a.applyConfig)
		if err != nil {
			return nil, fmt.Errorf("app: init config watcher: %w", err)
		}
		a.watcher = w
	}

	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

// initSettings wraps the injected store, or an in-memory one.
func (a *App) initSettings() {
	store := a.providers.Store
	if store == nil {
		store = settings.NewMemStore()
	}
	a.prefs = settings.NewVoice(store)
}

// buildStrategy picks the capture strategy for the configured mode. Empty
// provider slots are served by the shell.
func (a *App) buildStrategy() (capture.Strategy, error) {
	p := a.providers
	switch a.cfg.Voice.Mode {
	case config.CaptureRecorder:
		if p.Transcriber == nil {
			return nil, errors.New("recorder mode requires a transcriber")
		}
		var rec audio.Recorder = webview.NewRecorder(a.bridge)
		if p.Audio != nil {
			rec = p.Audio
		}
		opts := []capture.RecorderOption{capture.WithDuration(a.cfg.Voice.RecordingDuration)}
		if p.VAD != nil {
			opts = append(opts, capture.WithVAD(p.VAD, vadConfig(a.cfg.Providers.VAD)))
		}
		slog.Info("capture: recorder mode", "shell_recorder", p.Audio == nil, "vad", p.VAD != nil)
		return capture.NewRecorderStrategy(rec, p.Transcriber, opts...), nil

	default:
		var engine stt.Provider = webview.NewSpeechEngine(a.bridge)
		var opts []capture.EngineOption
		if p.STT != nil {
			engine = p.STT
			if p.Audio != nil {
				opts = append(opts, capture.WithSource(p.Audio))
			}
		}
		slog.Info("capture: engine mode", "shell_engine", p.STT == nil)
		return capture.NewEngineStrategy(engine, opts...), nil
	}
}

// initHealth registers the readiness checks. A missing shell fails
// readiness because the player and the default capture run through it.
func (a *App) initHealth() {
	checkers := []health.Checker{
		{Name: "shell", Check: a.bridge.Check},
	}
	if pinger, ok := a.prefs.Store().(settings.Pinger); ok {
		checkers = append(checkers, health.Checker{Name: "settings", Check: pinger.Ping})
	}
	a.health = health.New(append(checkers, a.checkers...)...)
}

// persistAlwaysListening stores mode changes, including those made by the
// controller itself after a permission error.
func (a *App) persistAlwaysListening(on bool) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.prefs.SetAlwaysListening(ctx, on); err != nil {
		slog.Warn("failed to persist always-listening", "on", on, "err", err)
	}
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run serves HTTP, pushes state to the shell and watches the config file
// until ctx is cancelled. It returns nil on a clean stop.
func (a *App) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", a.server.Addr)
	if err != nil {
		return fmt.Errorf("app: listen %s: %w", a.server.Addr, err)
	}
	return a.Serve(ctx, ln)
}

// Serve is Run on an existing listener.
func (a *App) Serve(ctx context.Context, ln net.Listener) error {
	a.background.Start(a.controller.Restart, a.controller.IsActive)
	if a.controller.AlwaysListening() {
		if err := a.controller.Restart(ctx); err != nil {
			slog.Warn("initial listen failed, keep-alive will retry", "err", err)
		}
	}

	tlsCfg, grace := a.cfg.Server.TLS, a.cfg.Server.ShutdownTimeout

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("http server listening", "addr", ln.Addr().String(), "tls", tlsCfg != nil)
		var err error
		if tlsCfg != nil {
			err = a.server.ServeTLS(ln, tlsCfg.CertFile, tlsCfg.KeyFile)
		} else {
			err = a.server.Serve(ln)
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("app: serve: %w", err)
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), grace)
		defer cancel()
		return a.server.Shutdown(shutdownCtx)
	})
	g.Go(func() error {
		a.shell.run(gctx)
		return nil
	})
	if a.watcher != nil {
		g.Go(func() error { return a.watcher.Run(gctx) })
	}

	slog.Info("app running", "mode", a.capture.Mode(), "language", a.capture.Language())
	return g.Wait()
}

// ─── Config reload ───────────────────────────────────────────────────────────

// applyConfig applies the hot-reloadable part of a config change.
func (a *App) applyConfig(_, next *config.Config, diff config.ConfigDiff) {
	if diff.LogLevelChanged && a.level != nil {
		a.level.Set(diff.NewLogLevel.Level())
		slog.Info("log level changed", "level", diff.NewLogLevel)
	}
	if diff.ThresholdsChanged {
		if err := a.controller.SetThresholds(diff.ExecutionFloor, diff.ConfirmationBand); err != nil {
			slog.Warn("rejected threshold change", "err", err)
		}
	}
	if diff.FuzzyThresholdChanged {
		a.parser.SetConfidenceThreshold(diff.FuzzyThreshold)
	}
	if diff.BackgroundChanged {
		a.background.UpdateConfig(next.Background.Config)
	}
	if diff.WakeWordsChanged {
		a.controller.SetWakeWords(wakeWords(next.Background.Config))
	}
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown tears down all subsystems in reverse init order. It respects the context
// deadline: if ctx expires before all closers finish, remaining closers are
// skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))

		if a.watcher != nil {
			a.watcher.Stop()
		}
		if err := a.capture.StopListening(); err != nil {
			slog.Debug("stop listening", "err", err)
		}

		for i := len(a.closers) - 1; i >= 0; i-- {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", i+1)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := a.closers[i](); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}

		slog.Info("shutdown complete")
	})
	return shutdownErr
}

// ─── Accessors ───────────────────────────────────────────────────────────────

// Handler returns the HTTP handler serving all routes.
func (a *App) Handler() http.Handler { return a.server.Handler }

// Controller returns the voice controller.
func (a *App) Controller() *voice.Controller { return a.controller }

// Dispatcher returns the player dispatch manager.
func (a *App) Dispatcher() *dispatch.Manager { return a.dispatcher }

// Bridge returns the shell bridge.
func (a *App) Bridge() *webview.Bridge { return a.bridge }

// ─── Helpers ─────────────────────────────────────────────────────────────────

// wakeWords returns the words the controller requires, or nil when the
// requirement is off.
func wakeWords(cfg background.Config) []string {
	if !cfg.EnableWakeWord {
		return nil
	}
	return cfg.WakeWords
}

// vadConfig builds the session config for recorded speech detection.
func vadConfig(entry config.ProviderEntry) vad.Config {
	return vad.Config{
		SampleRate:      16000,
		FrameSizeMs:     30,
		Aggressiveness:  optInt(entry.Options, "aggressiveness", 2),
		MinSpeechFrames: optInt(entry.Options, "min_speech_frames", 3),
	}
}

// optInt extracts an integer from a provider Options map. YAML numbers
// decode as int; anything else yields def.
func optInt(opts map[string]any, key string, def int) int {
	switch v := opts[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	}
	return def
}
