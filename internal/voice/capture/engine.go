package capture

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/voxreel/internal/observe"
	"github.com/MrWong99/voxreel/pkg/audio"
	"github.com/MrWong99/voxreel/pkg/provider/stt"
)

// EngineOption configures an [EngineStrategy].
type EngineOption func(*EngineStrategy)

// WithSource feeds PCM from src into each session. Engines that capture
// audio themselves (the device speech engine) need no source.
func WithSource(src audio.Source) EngineOption {
	return func(s *EngineStrategy) { s.source = src }
}

// WithStreamFormat sets the PCM layout sent to the engine. Source frames are
// converted to it. Defaults to [audio.SpeechFormat].
func WithStreamFormat(f audio.Format) EngineOption {
	return func(s *EngineStrategy) { s.format = f }
}

// WithFallbackConfidence sets the confidence reported for finals whose
// engine gave none. Defaults to [stt.DefaultServerConfidence].
func WithFallbackConfidence(c float64) EngineOption {
	return func(s *EngineStrategy) { s.fallbackConfidence = c }
}

// EngineStrategy drives a streaming [stt.Provider].
type EngineStrategy struct {
	provider           stt.Provider
	source             audio.Source
	format             audio.Format
	fallbackConfidence float64
}

// NewEngineStrategy returns a strategy streaming through p.
func NewEngineStrategy(p stt.Provider, opts ...EngineOption) *EngineStrategy {
	s := &EngineStrategy{
		provider:           p,
		format:             audio.SpeechFormat,
		fallbackConfidence: stt.DefaultServerConfidence,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Mode implements [Strategy].
func (s *EngineStrategy) Mode() Mode { return ModeEngine }

func (s *EngineStrategy) listen(ctx context.Context, cfg sessionConfig, out *emitter) {
	start := time.Now()
	ctx, span := observe.StartSpan(ctx, "capture.engine", observe.KeyLanguage.String(cfg.language))
	defer span.End()

	h, err := s.provider.StartStream(ctx, stt.StreamConfig{
		SampleRate: s.format.SampleRate,
		Channels:   s.format.Channels,
		Language:   cfg.language,
		Continuous: cfg.continuous,
		Interim:    cfg.interim,
	})
	if err != nil {
		serr := stt.AsError(err)
		out.round(start, serr)
		out.fail(serr)
		return
	}
	defer h.Close()

	if s.source != nil {
		if err := s.source.Start(ctx); err != nil {
			serr := stt.AsError(err)
			if serr.Kind == stt.KindUnknown {
				serr = stt.NewError(stt.KindNotSupported, "microphone unavailable", err)
			}
			out.round(start, serr)
			out.fail(serr)
			return
		}
		defer s.source.Stop()

		// The pump must be out of SendAudio before the handle closes.
		pumpCtx, stopPump := context.WithCancel(ctx)
		var wg sync.WaitGroup
		wg.Go(func() { s.pump(pumpCtx, h) })
		defer wg.Wait()
		defer stopPump()
	}

	partials, finals := h.Partials(), h.Finals()
	for partials != nil || finals != nil {
		select {
		case <-ctx.Done():
			return
		case t, ok := <-partials:
			if !ok {
				partials = nil
				continue
			}
			t.IsFinal = false
			t.Confidence = stt.ClampConfidence(t.Confidence, s.fallbackConfidence)
			out.result(t)
		case t, ok := <-finals:
			if !ok {
				finals = nil
				continue
			}
			t.IsFinal = true
			t.Confidence = stt.ClampConfidence(t.Confidence, s.fallbackConfidence)
			out.round(start, nil)
			out.result(t)
			if !cfg.continuous {
				return
			}
			start = time.Now()
		}
	}

	if err := h.Err(); err != nil {
		serr := stt.AsError(err)
		out.round(start, serr)
		out.fail(serr)
	}
}

// pump forwards source frames to the engine until either side ends.
func (s *EngineStrategy) pump(ctx context.Context, h stt.SessionHandle) {
	for {
		select {
		case <-ctx.Done():
			return
		case f, ok := <-s.source.Frames():
			if !ok {
				return
			}
			pcm := f.Data
			if f.Format != s.format && f.Format.SampleRate > 0 {
				pcm = audio.Convert(pcm, f.Format, s.format)
			}
			if err := h.SendAudio(pcm); err != nil {
				if !errors.Is(err, stt.ErrNotSupported) {
					slog.Debug("capture: engine stopped accepting audio", "err", err)
				}
				return
			}
		}
	}
}
