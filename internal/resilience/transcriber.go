package resilience

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/MrWong99/voxreel/pkg/audio"
	"github.com/MrWong99/voxreel/pkg/provider/stt"
)

// TranscriberFallback implements [stt.Transcriber] with failover across
// several transcription backends, each behind its own circuit breaker.
//
// Only transport-level failures (network, unknown) trip breakers and move on
// to the next backend. An empty transcript is a valid answer. Aborted,
// no-speech, permission and not-supported errors describe the request rather
// than the backend, so they are returned immediately.
type TranscriberFallback struct {
	group *FallbackGroup[stt.Transcriber]
}

var _ stt.Transcriber = (*TranscriberFallback)(nil)

// NewTranscriberFallback creates a [TranscriberFallback] with primary as the
// preferred backend. cfg.CircuitBreaker.IsFailure and cfg.ShouldFallback
// default to the transport classification described on the type.
func NewTranscriberFallback(primary stt.Transcriber, primaryName string, cfg FallbackConfig) *TranscriberFallback {
	if cfg.CircuitBreaker.IsFailure == nil {
		cfg.CircuitBreaker.IsFailure = transportFailure
	}
	if cfg.ShouldFallback == nil {
		cfg.ShouldFallback = transportFailure
	}
	return &TranscriberFallback{group: NewFallbackGroup(primary, primaryName, cfg)}
}

// AddFallback registers an additional transcriber.
func (f *TranscriberFallback) AddFallback(name string, t stt.Transcriber) {
	f.group.AddFallback(name, t)
}

// Transcribe sends clip to the first healthy backend. When every backend
// fails the result is a network [*stt.Error] wrapping [ErrAllFailed].
func (f *TranscriberFallback) Transcribe(ctx context.Context, clip audio.Clip, language string) (string, error) {
	text, err := ExecuteWithResult(ctx, f.group, func(ctx context.Context, t stt.Transcriber) (string, error) {
		return t.Transcribe(ctx, clip, language)
	})
	if errors.Is(err, ErrAllFailed) {
		return "", stt.NewError(stt.KindNetwork, "all transcription backends failed", err)
	}
	return text, err
}

// States returns the breaker state per backend.
func (f *TranscriberFallback) States() map[string]State {
	return f.group.States()
}

// Check reports an error when every backend's breaker is open. It is meant
// as an optional readiness check.
func (f *TranscriberFallback) Check(context.Context) error {
	if f.group.Available() {
		return nil
	}
	return fmt.Errorf("resilience: all transcribers unavailable: %s", strings.Join(f.group.Names(), ", "))
}

func transportFailure(err error) bool {
	switch stt.KindOf(err) {
	case stt.KindNetwork, stt.KindUnknown:
		return true
	}
	return false
}
