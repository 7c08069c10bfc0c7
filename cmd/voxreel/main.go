// Command voxreel is the main entry point for the voxreel voice-command
// video player service.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MrWong99/voxreel/internal/app"
	"github.com/MrWong99/voxreel/internal/config"
	"github.com/MrWong99/voxreel/internal/health"
	"github.com/MrWong99/voxreel/internal/observe"
	"github.com/MrWong99/voxreel/internal/resilience"
	"github.com/MrWong99/voxreel/internal/settings"
	pgsettings "github.com/MrWong99/voxreel/internal/settings/postgres"
	redissettings "github.com/MrWong99/voxreel/internal/settings/redis"
	"github.com/MrWong99/voxreel/pkg/audio"
	"github.com/MrWong99/voxreel/pkg/audio/portaudio"
	"github.com/MrWong99/voxreel/pkg/provider/stt"
	"github.com/MrWong99/voxreel/pkg/provider/stt/deepgram"
	oaistt "github.com/MrWong99/voxreel/pkg/provider/stt/openai"
	"github.com/MrWong99/voxreel/pkg/provider/stt/remote"
	"github.com/MrWong99/voxreel/pkg/provider/stt/segment"
	"github.com/MrWong99/voxreel/pkg/provider/stt/whisper"
	"github.com/MrWong99/voxreel/pkg/provider/vad"
	"github.com/MrWong99/voxreel/pkg/provider/vad/webrtc"
)

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	watch := flag.Bool("watch", true, "reload the configuration file when it changes")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "voxreel: config file %q not found, copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "voxreel: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	level := new(slog.LevelVar)
	level.Set(cfg.Server.LogLevel.Level())
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	slog.Info("voxreel starting",
		"version", version,
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    cfg.Telemetry.ServiceName,
		ServiceVersion: cfg.Telemetry.ServiceVersion,
		CaptureMode:    string(cfg.Voice.Mode),
		Platform:       cfg.Background.Platform,
		SampleRatio:    cfg.Telemetry.TraceSampleRatio,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(sctx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()
	metrics := observe.DefaultMetrics()

	// ── Provider registry ─────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	// ── Instantiate providers ─────────────────────────────────────────────────
	providers, fallback, closeProviders, err := buildProviders(ctx, cfg, reg)
	defer closeProviders()
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return 1
	}

	// ── Startup summary ───────────────────────────────────────────────────────
	printStartupSummary(cfg)

	opts := []app.Option{
		app.WithLogLevel(level),
		app.WithMetrics(metrics),
		app.WithMetricsHandler(observe.MetricsHandler()),
	}
	if *watch {
		opts = append(opts, app.WithConfigWatch(*configPath))
	}
	if fallback != nil {
		opts = append(opts, app.WithHealthChecker(health.Checker{
			Name:     "transcriber",
			Check:    fallback.Check,
			Optional: true,
		}))
	}

	application, err := app.New(ctx, cfg, providers, opts...)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	slog.Info("server ready, press Ctrl+C to shut down")

	runErr := application.Run(ctx)
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		slog.Error("run error", "err", runErr)
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout+5*time.Second)
	defer cancel()

	slog.Info("shutdown signal received, stopping")
	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// ── Provider wiring ───────────────────────────────────────────────────────────

// builtinProviders maps provider kinds to the implementations that ship
// with voxreel. Used for startup logging.
var builtinProviders = map[string][]string{
	"stt":         {"deepgram", "segment"},
	"transcriber": {"openai", "remote", "whisper"},
	"vad":         {"webrtc"},
	"audio":       {"portaudio"},
	"settings":    {"memory", "postgres", "redis"},
}

// registerBuiltinProviders wires all built-in provider factories into reg.
// The segment STT provider depends on the transcriber and is registered by
// [buildProviders] once that exists.
func registerBuiltinProviders(reg *config.Registry) {
	// ── STT ───────────────────────────────────────────────────────────────────

	reg.RegisterSTT("deepgram", func(entry config.ProviderEntry) (stt.Provider, error) {
		var opts []deepgram.Option
		if entry.Model != "" {
			opts = append(opts, deepgram.WithModel(entry.Model))
		}
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, deepgram.WithLanguage(lang))
		}
		if rate := optInt(entry.Options, "sample_rate"); rate > 0 {
			opts = append(opts, deepgram.WithSampleRate(rate))
		}
		if entry.BaseURL != "" {
			opts = append(opts, deepgram.WithEndpoint(entry.BaseURL))
		}
		return deepgram.New(entry.APIKey, opts...)
	})

	// ── Transcribers ──────────────────────────────────────────────────────────

	reg.RegisterTranscriber("openai", func(entry config.ProviderEntry) (stt.Transcriber, error) {
		var opts []oaistt.Option
		if entry.BaseURL != "" {
			opts = append(opts, oaistt.WithBaseURL(entry.BaseURL))
		}
		if org := optString(entry.Options, "organization"); org != "" {
			opts = append(opts, oaistt.WithOrganization(org))
		}
		return oaistt.New(entry.APIKey, entry.Model, opts...)
	})

	reg.RegisterTranscriber("remote", func(entry config.ProviderEntry) (stt.Transcriber, error) {
		var opts []remote.Option
		if entry.APIKey != "" {
			opts = append(opts, remote.WithAPIKey(entry.APIKey))
		}
		if field := optString(entry.Options, "field_name"); field != "" {
			opts = append(opts, remote.WithFieldName(field))
		}
		return remote.New(entry.BaseURL, opts...)
	})

	reg.RegisterTranscriber("whisper", func(entry config.ProviderEntry) (stt.Transcriber, error) {
		modelPath := entry.Model
		if modelPath == "" {
			modelPath = optString(entry.Options, "model_path")
		}
		var opts []whisper.Option
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, whisper.WithLanguage(lang))
		}
		return whisper.New(modelPath, opts...)
	})

	// ── VAD ───────────────────────────────────────────────────────────────────

	reg.RegisterVAD("webrtc", func(entry config.ProviderEntry) (vad.Engine, error) {
		var opts []webrtc.Option
		if n := optInt(entry.Options, "hangover_frames"); n > 0 {
			opts = append(opts, webrtc.WithHangoverFrames(n))
		}
		return webrtc.New(opts...), nil
	})

	// ── Audio ─────────────────────────────────────────────────────────────────

	reg.RegisterAudio("portaudio", func(entry config.ProviderEntry) (audio.Device, error) {
		var opts []portaudio.Option
		if dev := optString(entry.Options, "device"); dev != "" {
			opts = append(opts, portaudio.WithDevice(dev))
		}
		if n := optInt(entry.Options, "frames_per_buffer"); n > 0 {
			opts = append(opts, portaudio.WithFramesPerBuffer(n))
		}
		return portaudio.New(opts...)
	})

	// ── Settings stores ───────────────────────────────────────────────────────

	reg.RegisterStore(config.SettingsPostgres, func(ctx context.Context, cfg config.SettingsConfig) (settings.Store, error) {
		return pgsettings.NewStore(ctx, cfg.PostgresDSN)
	})

	reg.RegisterStore(config.SettingsRedis, func(ctx context.Context, cfg config.SettingsConfig) (settings.Store, error) {
		return redissettings.NewStore(ctx, redissettings.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			Prefix:   cfg.Redis.Prefix,
		})
	})

	// Debug log of all registered providers.
	for kind, names := range builtinProviders {
		for _, name := range names {
			slog.Debug("registered provider", "kind", kind, "name", name)
		}
	}
}

// buildProviders instantiates all providers named in cfg using the registry
// and returns them in an [app.Providers] struct for the application to
// consume. Shell-served slots stay nil. The returned close function releases
// every provider that holds resources and is safe to call on error.
func buildProviders(ctx context.Context, cfg *config.Config, reg *config.Registry) (*app.Providers, *resilience.TranscriberFallback, func(), error) {
	ps := &app.Providers{}
	var held []any
	closeAll := func() {
		for i := len(held) - 1; i >= 0; i-- {
			closeQuietly(held[i])
		}
	}

	// ── Settings store ────────────────────────────────────────────────────────
	store, err := reg.CreateStore(ctx, cfg.Settings)
	if err != nil {
		return nil, nil, closeAll, fmt.Errorf("create settings store %q: %w", cfg.Settings.Backend, err)
	}
	ps.Store = store
	held = append(held, store)
	slog.Info("settings store ready", "backend", cfg.Settings.Backend)

	// ── Transcriber + fallbacks ───────────────────────────────────────────────
	var fallback *resilience.TranscriberFallback
	if entry := cfg.Providers.Transcriber; entry.Name != "" {
		primary, err := reg.CreateTranscriber(entry)
		if err != nil {
			return nil, nil, closeAll, fmt.Errorf("create transcriber %q: %w", entry.Name, err)
		}
		held = append(held, primary)
		slog.Info("provider created", "kind", "transcriber", "name", entry.Name)

		fallback = resilience.NewTranscriberFallback(primary, entry.Name, resilience.FallbackConfig{
			CircuitBreaker: resilience.CircuitBreakerConfig{
				OnStateChange: func(name string, from, to resilience.State) {
					slog.Warn("transcriber circuit changed", "name", name, "from", from, "to", to)
				},
			},
		})
		for _, fb := range cfg.Providers.TranscriberFallbacks {
			t, err := reg.CreateTranscriber(fb)
			if err != nil {
				return nil, nil, closeAll, fmt.Errorf("create fallback transcriber %q: %w", fb.Name, err)
			}
			held = append(held, t)
			fallback.AddFallback(fb.Name, t)
			slog.Info("provider created", "kind", "transcriber", "name", fb.Name, "fallback", true)
		}
		ps.Transcriber = fallback
	}

	// segment streams by chunking audio into the transcriber.
	reg.RegisterSTT("segment", func(entry config.ProviderEntry) (stt.Provider, error) {
		if ps.Transcriber == nil {
			return nil, errors.New("segment requires providers.transcriber")
		}
		var opts []segment.Option
		if ms := optInt(entry.Options, "silence_threshold_ms"); ms > 0 {
			opts = append(opts, segment.WithSilenceThresholdMs(ms))
		}
		if ms := optInt(entry.Options, "max_buffer_duration_ms"); ms > 0 {
			opts = append(opts, segment.WithMaxBufferDurationMs(ms))
		}
		return segment.New(ps.Transcriber, opts...)
	})

	// ── STT ───────────────────────────────────────────────────────────────────
	if entry := cfg.Providers.STT; !entry.IsShell() {
		p, err := reg.CreateSTT(entry)
		if err != nil {
			return nil, nil, closeAll, fmt.Errorf("create stt provider %q: %w", entry.Name, err)
		}
		ps.STT = p
		slog.Info("provider created", "kind", "stt", "name", entry.Name)
	}

	// ── VAD ───────────────────────────────────────────────────────────────────
	if entry := cfg.Providers.VAD; entry.Name != "" {
		v, err := reg.CreateVAD(entry)
		if err != nil {
			return nil, nil, closeAll, fmt.Errorf("create vad provider %q: %w", entry.Name, err)
		}
		ps.VAD = v
		slog.Info("provider created", "kind", "vad", "name", entry.Name)
	}

	// ── Audio ─────────────────────────────────────────────────────────────────
	if entry := cfg.Providers.Audio; !entry.IsShell() {
		d, err := reg.CreateAudio(entry)
		if err != nil {
			return nil, nil, closeAll, fmt.Errorf("create audio device %q: %w", entry.Name, err)
		}
		held = append(held, d)
		ps.Audio = d
		slog.Info("provider created", "kind", "audio", "name", entry.Name)
	}

	return ps, fallback, closeAll, nil
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║         voxreel · startup summary     ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printRow("Capture", string(cfg.Voice.Mode))
	printRow("Language", cfg.Voice.Language)
	printProvider("STT", shellName(cfg.Providers.STT), cfg.Providers.STT.Model)
	printProvider("Transcriber", cfg.Providers.Transcriber.Name, cfg.Providers.Transcriber.Model)
	printRow("Fallbacks", fmt.Sprint(len(cfg.Providers.TranscriberFallbacks)))
	printProvider("VAD", cfg.Providers.VAD.Name, "")
	printProvider("Audio", shellName(cfg.Providers.Audio), "")
	printRow("Settings", string(cfg.Settings.Backend))
	printRow("Platform", cfg.Background.Platform)
	if cfg.Server.ListenAddr != "" {
		printRow("Listen addr", cfg.Server.ListenAddr)
	}
	fmt.Println("╚═══════════════════════════════════════╝")
}

func shellName(entry config.ProviderEntry) string {
	if entry.IsShell() {
		return config.ShellProvider
	}
	return entry.Name
}

func printProvider(kind, name, model string) {
	value := name
	if value == "" {
		value = "(not configured)"
	} else if model != "" {
		value = name + " / " + model
	}
	printRow(kind, value)
}

func printRow(label, value string) {
	if value == "" {
		value = "-"
	}
	if len(value) > 19 {
		value = value[:16] + "…"
	}
	fmt.Printf("║  %-12s    : %-19s ║\n", label, value)
}

// ── Helpers ───────────────────────────────────────────────────────────────────

// optString extracts a string value from a provider Options map[string]any.
// Returns "" if the map is nil, the key is absent, or the value is not a string.
func optString(opts map[string]any, key string) string {
	s, _ := opts[key].(string)
	return s
}

// optInt extracts an integer value from a provider Options map. Returns 0
// when absent or not a number.
func optInt(opts map[string]any, key string) int {
	switch v := opts[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	}
	return 0
}

// closeQuietly releases v if it holds resources.
func closeQuietly(v any) {
	switch c := v.(type) {
	case io.Closer:
		if err := c.Close(); err != nil {
			slog.Warn("provider close error", "err", err)
		}
	case interface{ Close() }:
		c.Close()
	}
}
