// Package whisper provides a local whisper.cpp-backed batch transcriber.
//
// The whisper.cpp static library (libwhisper.a) and headers (whisper.h) must
// be available at link time via LIBRARY_PATH and C_INCLUDE_PATH.
//
// The model is loaded once and shared; every Transcribe call creates its own
// whisper context, so concurrent calls do not interfere. Only PCM-bearing
// clips (WAV or raw PCM) can be transcribed; compressed containers such as the
// WebM blobs produced by browser recorders are rejected with a not-supported
// error.
//
// Usage:
//
//	t, err := whisper.New("/models/ggml-base.bin", whisper.WithLanguage("en"))
//	defer t.Close()
//	text, err := t.Transcribe(ctx, clip, "de")
package whisper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	whisperlib "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"

	"github.com/MrWong99/voxreel/pkg/audio"
	"github.com/MrWong99/voxreel/pkg/provider/stt"
)

const defaultLanguage = "en"

// Compile-time assertion that Transcriber satisfies stt.Transcriber.
var _ stt.Transcriber = (*Transcriber)(nil)

// Option is a functional option for configuring a Transcriber.
type Option func(*Transcriber)

// WithLanguage sets the language used when Transcribe is called with an empty
// language. Defaults to "en".
func WithLanguage(lang string) Option {
	return func(t *Transcriber) { t.language = lang }
}

// Transcriber implements stt.Transcriber using the whisper.cpp Go bindings.
type Transcriber struct {
	model    whisperlib.Model
	language string
}

// New loads the whisper.cpp model at modelPath. The caller must call Close
// when the transcriber is no longer needed.
func New(modelPath string, opts ...Option) (*Transcriber, error) {
	if modelPath == "" {
		return nil, errors.New("whisper: modelPath must not be empty")
	}
	model, err := whisperlib.New(modelPath)
	if err != nil {
		return nil, fmt.Errorf("whisper: load model %q: %w", modelPath, err)
	}
	t := &Transcriber{model: model, language: defaultLanguage}
	for _, o := range opts {
		o(t)
	}
	return t, nil
}

// Close releases the whisper model.
func (t *Transcriber) Close() error {
	if t.model != nil {
		return t.model.Close()
	}
	return nil
}

// Transcribe runs whisper.cpp inference on clip and returns the concatenated
// segment text. ctx is checked before inference; whisper.cpp itself cannot be
// interrupted once processing has started.
func (t *Transcriber) Transcribe(ctx context.Context, clip audio.Clip, language string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	pcm, ok := clip.ToSpeech()
	if !ok {
		return "", stt.NewError(stt.KindNotSupported,
			fmt.Sprintf("whisper.cpp cannot decode %q clips", clip.Container), nil)
	}
	if language == "" {
		language = t.language
	}
	return t.infer(audio.Float32Mono(pcm, 1), baseLanguage(language))
}

// infer runs inference using a fresh context and returns the concatenated text.
func (t *Transcriber) infer(samples []float32, language string) (string, error) {
	// Contexts are not thread-safe, the model is.
	wctx, err := t.model.NewContext()
	if err != nil {
		return "", fmt.Errorf("whisper: create context: %w", err)
	}
	if err := wctx.SetLanguage(language); err != nil {
		slog.Warn("whisper: failed to set language, using default", "language", language, "error", err)
	}
	if err := wctx.Process(samples, nil, nil, nil); err != nil {
		return "", fmt.Errorf("whisper: process audio: %w", err)
	}

	var parts []string
	for {
		segment, err := wctx.NextSegment()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", fmt.Errorf("whisper: read segment: %w", err)
		}
		if text := strings.TrimSpace(segment.Text); text != "" {
			parts = append(parts, text)
		}
	}
	return strings.Join(parts, " "), nil
}

// baseLanguage strips a region subtag: whisper.cpp only knows "de", not "de-DE".
func baseLanguage(tag string) string {
	if i := strings.IndexAny(tag, "-_"); i > 0 {
		return strings.ToLower(tag[:i])
	}
	return strings.ToLower(tag)
}
