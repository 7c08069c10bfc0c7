package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"time"

	"golang.org/x/text/language"
	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"stt":         {ShellProvider, "deepgram", "segment"},
	"transcriber": {"remote", "openai", "whisper"},
	"vad":         {"webrtc"},
	"audio":       {ShellProvider, "portaudio"},
}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	cfg, err := LoadFromReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r over [Default] and validates
// the result. An empty document yields the defaults.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	expandSecrets(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// expandSecrets replaces ${VAR} references in credentials with the
// environment value so secrets stay out of the file.
func expandSecrets(cfg *Config) {
	p := &cfg.Providers
	for _, e := range []*ProviderEntry{&p.STT, &p.Transcriber, &p.VAD, &p.Audio} {
		e.APIKey = os.ExpandEnv(e.APIKey)
	}
	for i := range p.TranscriberFallbacks {
		p.TranscriberFallbacks[i].APIKey = os.ExpandEnv(p.TranscriberFallbacks[i].APIKey)
	}
	cfg.Settings.PostgresDSN = os.ExpandEnv(cfg.Settings.PostgresDSN)
	cfg.Settings.Redis.Password = os.ExpandEnv(cfg.Settings.Redis.Password)
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.ListenAddr == "" {
		errs = append(errs, errors.New("server.listen_addr is required"))
	}
	if tls := cfg.Server.TLS; tls != nil && (tls.CertFile == "" || tls.KeyFile == "") {
		errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
	}
	if cfg.Server.ShutdownTimeout < 0 {
		errs = append(errs, fmt.Errorf("server.shutdown_timeout %s is negative", cfg.Server.ShutdownTimeout))
	}

	// Voice
	v := cfg.Voice
	if v.Language != "" {
		if _, err := language.Parse(v.Language); err != nil {
			errs = append(errs, fmt.Errorf("voice.language %q is not a valid BCP 47 tag", v.Language))
		}
	}
	if !v.Mode.IsValid() {
		errs = append(errs, fmt.Errorf("voice.mode %q is invalid; valid values: engine, recorder", v.Mode))
	}
	if v.RecordingDuration < time.Second || v.RecordingDuration > time.Minute {
		errs = append(errs, fmt.Errorf("voice.recording_duration %s is out of range [1s, 1m]", v.RecordingDuration))
	}
	errs = append(errs, unitInterval("voice.execution_floor", v.ExecutionFloor)...)
	errs = append(errs, unitInterval("voice.confirmation_band", v.ConfirmationBand)...)
	errs = append(errs, unitInterval("voice.fuzzy_threshold", v.FuzzyThreshold)...)
	if v.ExecutionFloor > v.ConfirmationBand {
		errs = append(errs, fmt.Errorf("voice.execution_floor %.2f exceeds voice.confirmation_band %.2f", v.ExecutionFloor, v.ConfirmationBand))
	}

	// Providers
	p := cfg.Providers
	validateProviderName("stt", p.STT.Name)
	validateProviderName("transcriber", p.Transcriber.Name)
	for _, fb := range p.TranscriberFallbacks {
		validateProviderName("transcriber", fb.Name)
	}
	validateProviderName("vad", p.VAD.Name)
	validateProviderName("audio", p.Audio.Name)

	if v.Mode == CaptureRecorder && p.Transcriber.Name == "" {
		errs = append(errs, errors.New("voice.mode recorder requires providers.transcriber"))
	}
	if p.STT.Name == "segment" {
		if p.Transcriber.Name == "" {
			errs = append(errs, errors.New("providers.stt segment requires providers.transcriber"))
		}
		if p.Audio.IsShell() {
			errs = append(errs, errors.New("providers.stt segment requires a PCM audio device in providers.audio"))
		}
	}
	if len(p.TranscriberFallbacks) > 0 && p.Transcriber.Name == "" {
		errs = append(errs, errors.New("providers.transcriber_fallbacks set without providers.transcriber"))
	}
	for i, fb := range p.TranscriberFallbacks {
		if fb.Name == "" {
			errs = append(errs, fmt.Errorf("providers.transcriber_fallbacks[%d].name is required", i))
		}
	}
	if p.VAD.Name != "" && v.Mode == CaptureRecorder && p.Audio.IsShell() {
		slog.Warn("providers.vad only checks PCM clips; shell recordings are compressed and skip the check")
	}

	// Player
	pl := cfg.Player
	if pl.PollInterval < 10*time.Millisecond {
		errs = append(errs, fmt.Errorf("player.poll_interval %s is below 10ms", pl.PollInterval))
	}
	if pl.VolumeStep <= 0 || pl.VolumeStep > 1 {
		errs = append(errs, fmt.Errorf("player.volume_step %.2f is out of range (0, 1]", pl.VolumeStep))
	}
	if pl.SeekSeconds <= 0 {
		errs = append(errs, fmt.Errorf("player.seek_seconds %.1f must be positive", pl.SeekSeconds))
	}

	// Background
	switch cfg.Background.Platform {
	case "ios", "android", "web", "":
	default:
		errs = append(errs, fmt.Errorf("background.platform %q is invalid; valid values: ios, android, web", cfg.Background.Platform))
	}
	if err := cfg.Background.Config.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("background: %w", err))
	}

	// Settings
	s := cfg.Settings
	if !s.Backend.IsValid() {
		errs = append(errs, fmt.Errorf("settings.backend %q is invalid; valid values: memory, postgres, redis", s.Backend))
	}
	if s.Backend == SettingsPostgres && s.PostgresDSN == "" {
		errs = append(errs, errors.New("settings.postgres_dsn is required for the postgres backend"))
	}
	if s.Backend == SettingsRedis && s.Redis.Addr == "" {
		errs = append(errs, errors.New("settings.redis.addr is required for the redis backend"))
	}
	if s.Backend == SettingsMemory {
		slog.Debug("settings.backend is memory; settings are lost on restart")
	}

	errs = append(errs, unitInterval("telemetry.trace_sample_ratio", cfg.Telemetry.TraceSampleRatio)...)

	return errors.Join(errs...)
}

func unitInterval(field string, v float64) []error {
	if v < 0 || v > 1 {
		return []error{fmt.Errorf("%s %.2f is out of range [0, 1]", field, v)}
	}
	return nil
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name, may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
