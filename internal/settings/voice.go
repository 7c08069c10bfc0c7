package settings

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"golang.org/x/text/language"

	"github.com/MrWong99/voxreel/internal/background"
)

// Keys used by [Voice].
const (
	KeyLanguage         = "voice.language"
	KeyAlwaysListening  = "voice.alwaysListening"
	KeyBackgroundConfig = "voice.backgroundConfig"
)

// VoiceSettings is the persisted voice preference set.
type VoiceSettings struct {
	Language        string
	AlwaysListening bool
	Background      background.Config
}

// Voice provides typed access to voice preferences on top of a [Store].
type Voice struct {
	store Store
}

// NewVoice wraps store.
func NewVoice(store Store) *Voice {
	return &Voice{store: store}
}

// Store returns the underlying store.
func (v *Voice) Store() Store { return v.store }

// Language returns the stored recognition language tag.
func (v *Voice) Language(ctx context.Context) (string, error) {
	raw, err := v.get(ctx, KeyLanguage)
	if err != nil {
		return "", err
	}
	tag, err := language.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("settings: stored language %q: %w", raw, err)
	}
	return tag.String(), nil
}

// SetLanguage stores lang after checking it is a well-formed BCP 47 tag.
func (v *Voice) SetLanguage(ctx context.Context, lang string) error {
	tag, err := language.Parse(lang)
	if err != nil {
		return fmt.Errorf("settings: language %q: %w", lang, err)
	}
	return v.set(ctx, KeyLanguage, tag.String())
}

// AlwaysListening returns the stored always-listening flag.
func (v *Voice) AlwaysListening(ctx context.Context) (bool, error) {
	raw, err := v.get(ctx, KeyAlwaysListening)
	if err != nil {
		return false, err
	}
	on, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("settings: stored always-listening %q: %w", raw, err)
	}
	return on, nil
}

// SetAlwaysListening stores the always-listening flag.
func (v *Voice) SetAlwaysListening(ctx context.Context, on bool) error {
	return v.set(ctx, KeyAlwaysListening, strconv.FormatBool(on))
}

// BackgroundConfig returns the stored background listening configuration.
// Fields missing from the stored document keep their defaults.
func (v *Voice) BackgroundConfig(ctx context.Context) (background.Config, error) {
	raw, err := v.get(ctx, KeyBackgroundConfig)
	if err != nil {
		return background.Config{}, err
	}
	cfg, err := DecodeBackgroundConfig([]byte(raw))
	if err != nil {
		return background.Config{}, err
	}
	return cfg, nil
}

// SetBackgroundConfig validates and stores cfg.
func (v *Voice) SetBackgroundConfig(ctx context.Context, cfg background.Config) error {
	data, err := EncodeBackgroundConfig(cfg)
	if err != nil {
		return err
	}
	return v.set(ctx, KeyBackgroundConfig, string(data))
}

// Load overlays every valid stored preference onto defaults. Missing keys
// keep the default silently; unreadable or invalid values are logged and
// ignored.
func (v *Voice) Load(ctx context.Context, defaults VoiceSettings) VoiceSettings {
	out := defaults
	if lang, err := v.Language(ctx); err == nil {
		out.Language = lang
	} else if !errors.Is(err, ErrNotFound) {
		slog.Warn("settings: ignoring stored language", "err", err)
	}
	if on, err := v.AlwaysListening(ctx); err == nil {
		out.AlwaysListening = on
	} else if !errors.Is(err, ErrNotFound) {
		slog.Warn("settings: ignoring stored always-listening flag", "err", err)
	}
	if cfg, err := v.BackgroundConfig(ctx); err == nil {
		out.Background = cfg
	} else if !errors.Is(err, ErrNotFound) {
		slog.Warn("settings: ignoring stored background config", "err", err)
	}
	return out
}

func (v *Voice) get(ctx context.Context, key string) (string, error) {
	raw, ok, err := v.store.GetItem(ctx, key)
	if err != nil {
		return "", fmt.Errorf("settings: get %s: %w", key, err)
	}
	if !ok {
		return "", fmt.Errorf("settings: %s: %w", key, ErrNotFound)
	}
	return raw, nil
}

func (v *Voice) set(ctx context.Context, key, value string) error {
	if err := v.store.SetItem(ctx, key, value); err != nil {
		return fmt.Errorf("settings: set %s: %w", key, err)
	}
	return nil
}

// ─── background config document ───────────────────────────────────────────────

// backgroundDoc is the stored JSON shape. The interval is in milliseconds.
type backgroundDoc struct {
	EnableKeepAlive         *bool    `json:"enableKeepAlive,omitempty"`
	KeepAliveInterval       *int64   `json:"keepAliveInterval,omitempty"`
	EnableForegroundService *bool    `json:"enableForegroundService,omitempty"`
	EnableBackgroundAudio   *bool    `json:"enableBackgroundAudio,omitempty"`
	EnableWakeWord          *bool    `json:"enableWakeWord,omitempty"`
	WakeWords               []string `json:"wakeWords,omitempty"`
}

// EncodeBackgroundConfig validates cfg and renders its stored JSON form.
func EncodeBackgroundConfig(cfg background.Config) ([]byte, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("settings: background config: %w", err)
	}
	ms := cfg.Interval().Milliseconds()
	data, err := json.Marshal(backgroundDoc{
		EnableKeepAlive:         &cfg.EnableKeepAlive,
		KeepAliveInterval:       &ms,
		EnableForegroundService: &cfg.EnableForegroundService,
		EnableBackgroundAudio:   &cfg.EnableBackgroundAudio,
		EnableWakeWord:          &cfg.EnableWakeWord,
		WakeWords:               cfg.WakeWords,
	})
	if err != nil {
		return nil, fmt.Errorf("settings: encode background config: %w", err)
	}
	return data, nil
}

// DecodeBackgroundConfig parses a stored document over
// [background.DefaultConfig]. It rejects documents that are not a JSON
// object, carry fields of the wrong type or unknown fields, or describe a
// configuration that fails [background.Config.Validate].
func DecodeBackgroundConfig(data []byte) (background.Config, error) {
	if trimmed := bytes.TrimSpace(data); len(trimmed) == 0 || trimmed[0] != '{' {
		return background.Config{}, errors.New("settings: decode background config: not a JSON object")
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	var doc backgroundDoc
	if err := dec.Decode(&doc); err != nil {
		return background.Config{}, fmt.Errorf("settings: decode background config: %w", err)
	}
	if dec.More() {
		return background.Config{}, errors.New("settings: decode background config: trailing data")
	}

	cfg := background.DefaultConfig()
	if doc.EnableKeepAlive != nil {
		cfg.EnableKeepAlive = *doc.EnableKeepAlive
	}
	if doc.KeepAliveInterval != nil {
		cfg.KeepAliveInterval = time.Duration(*doc.KeepAliveInterval) * time.Millisecond
	}
	if doc.EnableForegroundService != nil {
		cfg.EnableForegroundService = *doc.EnableForegroundService
	}
	if doc.EnableBackgroundAudio != nil {
		cfg.EnableBackgroundAudio = *doc.EnableBackgroundAudio
	}
	if doc.EnableWakeWord != nil {
		cfg.EnableWakeWord = *doc.EnableWakeWord
	}
	if doc.WakeWords != nil {
		cfg.WakeWords = doc.WakeWords
	}
	if err := cfg.Validate(); err != nil {
		return background.Config{}, fmt.Errorf("settings: background config: %w", err)
	}
	return cfg, nil
}
