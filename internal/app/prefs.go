package app

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/text/language"

	"github.com/MrWong99/voxreel/internal/api"
	"github.com/MrWong99/voxreel/internal/settings"
)

// preferences applies voice settings to the running pipeline and persists
// them.
type preferences struct {
	app *App
}

var _ api.Preferences = (*preferences)(nil)

// VoiceSettings returns the stored preferences over the live state.
func (p *preferences) VoiceSettings(ctx context.Context) settings.VoiceSettings {
	a := p.app
	return a.prefs.Load(ctx, settings.VoiceSettings{
		Language:        a.capture.Language(),
		AlwaysListening: a.controller.AlwaysListening(),
		Background:      a.background.Config(),
	})
}

// ApplyVoiceSettings validates s as a whole, then applies and stores each
// part. Nothing is changed when validation fails.
func (p *preferences) ApplyVoiceSettings(ctx context.Context, s settings.VoiceSettings) error {
	tag, err := language.Parse(s.Language)
	if err != nil {
		return fmt.Errorf("app: language %q: %w", s.Language, err)
	}
	if err := s.Background.Validate(); err != nil {
		return fmt.Errorf("app: %w", err)
	}

	a := p.app
	lang := tag.String()
	a.capture.SetLanguage(lang)
	a.background.UpdateConfig(s.Background)
	a.controller.SetWakeWords(wakeWords(s.Background))

	var errs []error
	if err := a.prefs.SetLanguage(ctx, lang); err != nil {
		errs = append(errs, err)
	}
	if err := a.prefs.SetBackgroundConfig(ctx, s.Background); err != nil {
		errs = append(errs, err)
	}
	// The controller hook persists the flag when it changes.
	if err := a.controller.SetAlwaysListening(ctx, s.AlwaysListening); err != nil {
		errs = append(errs, fmt.Errorf("app: start listening: %w", err))
	}
	return errors.Join(errs...)
}
