package capture

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/MrWong99/voxreel/internal/observe"
	"github.com/MrWong99/voxreel/pkg/audio"
	"github.com/MrWong99/voxreel/pkg/provider/stt"
	"github.com/MrWong99/voxreel/pkg/provider/vad"
)

// DefaultRecordingDuration is the length of each recorded clip.
const DefaultRecordingDuration = 5 * time.Second

// RecorderOption configures a [RecorderStrategy].
type RecorderOption func(*RecorderStrategy)

// WithDuration sets the clip length. Defaults to 5s.
func WithDuration(d time.Duration) RecorderOption {
	return func(s *RecorderStrategy) {
		if d > 0 {
			s.duration = d
		}
	}
}

// WithConfidence sets the confidence attached to transcribed text. Defaults
// to [stt.DefaultServerConfidence].
func WithConfidence(c float64) RecorderOption {
	return func(s *RecorderStrategy) { s.confidence = c }
}

// WithVAD checks PCM-bearing clips for voiced frames before transcribing.
// A clip without speech fails with a no-speech error and is never uploaded.
// Compressed clips skip the check.
func WithVAD(eng vad.Engine, cfg vad.Config) RecorderOption {
	return func(s *RecorderStrategy) { s.vad, s.vadCfg = eng, cfg }
}

// RecorderStrategy records a clip and hands it to a batch transcriber.
type RecorderStrategy struct {
	recorder    audio.Recorder
	transcriber stt.Transcriber
	duration    time.Duration
	confidence  float64
	vad         vad.Engine
	vadCfg      vad.Config
}

// NewRecorderStrategy returns a strategy recording with rec and transcribing
// with tr.
func NewRecorderStrategy(rec audio.Recorder, tr stt.Transcriber, opts ...RecorderOption) *RecorderStrategy {
	s := &RecorderStrategy{
		recorder:    rec,
		transcriber: tr,
		duration:    DefaultRecordingDuration,
		confidence:  stt.DefaultServerConfidence,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Mode implements [Strategy].
func (s *RecorderStrategy) Mode() Mode { return ModeRecorder }

// listen records and transcribes once, or repeatedly in continuous mode.
// Only no-speech rounds continue the loop; any other failure ends the
// session so network trouble is never retried silently.
func (s *RecorderStrategy) listen(ctx context.Context, cfg sessionConfig, out *emitter) {
	for {
		text, err := s.once(ctx, cfg.language, out)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			out.fail(err)
			if err.Kind != stt.KindNoSpeech || !cfg.continuous {
				return
			}
			continue
		}
		out.result(stt.Transcript{Text: text, IsFinal: true, Confidence: s.confidence})
		if !cfg.continuous {
			return
		}
	}
}

// once runs one record-then-transcribe round.
func (s *RecorderStrategy) once(ctx context.Context, lang string, out *emitter) (string, *stt.Error) {
	start := time.Now()

	clip, err := s.recorder.Record(ctx, s.duration)
	if err != nil {
		serr := stt.AsError(err)
		if ctx.Err() == nil {
			out.round(start, serr)
		}
		return "", serr
	}

	if s.vad != nil {
		if speech, checked := s.hasSpeech(ctx, clip); checked && !speech {
			serr := stt.ErrNoSpeech()
			out.round(start, serr)
			return "", serr
		}
	}

	tctx, span := observe.StartSpan(ctx, "capture.transcribe",
		observe.KeyLanguage.String(lang),
		attribute.String("container", string(clip.Container)),
		attribute.Int64("clip.bytes", int64(len(clip.Data))),
	)
	text, err := s.transcriber.Transcribe(tctx, clip, lang)
	observe.EndSpan(span, err)
	if err != nil {
		serr := stt.AsError(err)
		if ctx.Err() == nil {
			out.round(start, serr)
		}
		return "", serr
	}

	text = strings.TrimSpace(text)
	if text == "" {
		serr := stt.ErrNoSpeech()
		out.round(start, serr)
		return "", serr
	}
	out.round(start, nil)
	return text, nil
}

// hasSpeech runs the VAD over clip. checked is false when the clip carries
// no usable PCM or the detector fails; the clip is then transcribed anyway.
func (s *RecorderStrategy) hasSpeech(ctx context.Context, clip audio.Clip) (speech, checked bool) {
	pcm, f, ok := clip.PCM()
	if !ok {
		return false, false
	}
	want := audio.Format{SampleRate: s.vadCfg.SampleRate, Channels: 1}
	if f != want {
		pcm = audio.Convert(pcm, f, want)
	}
	v, err := vad.ContainsSpeech(ctx, s.vad, s.vadCfg, pcm)
	if err != nil {
		slog.Warn("capture: vad check failed, transcribing anyway", "err", err)
		return false, false
	}
	slog.Debug("capture: vad verdict", "speech", v.Speech, "frames", v.Frames, "speech_frames", v.SpeechFrames, "onset", v.Onset)
	return v.Speech, true
}
