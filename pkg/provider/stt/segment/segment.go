// Package segment turns any batch [stt.Transcriber] into a streaming
// [stt.Provider].
//
// Incoming PCM is buffered and an energy-based silence detector segments it
// into utterances. Each completed utterance is wrapped as a WAV clip and
// handed to the transcriber. Because the underlying engine is batch-only no
// true low-latency partials exist: a partial and a final with identical text
// are emitted as soon as an utterance has been transcribed.
//
// A transcriber failure ends the session. The error is available from
// SessionHandle.Err once Finals is closed; the session never retries on its
// own.
//
// Usage:
//
//	p, err := segment.New(transcriber, segment.WithSilenceThresholdMs(600))
//	handle, err := p.StartStream(ctx, stt.StreamConfig{SampleRate: 16000, Channels: 1, Language: "de"})
//	handle.SendAudio(pcmChunk)
//	transcript := <-handle.Finals()
//	handle.Close()
package segment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/voxreel/pkg/audio"
	"github.com/MrWong99/voxreel/pkg/provider/stt"
)

const (
	// defaultRMSThreshold is the RMS energy (16-bit PCM units) below which a
	// chunk counts as silence. 300 of 32767 is near-silence.
	defaultRMSThreshold = 300.0

	defaultSampleRate          = 16000
	defaultSilenceThresholdMs  = 500
	defaultMaxBufferDurationMs = 10_000
	flushTimeout               = 30 * time.Second
)

var errClosed = errors.New("segment: session is closed")

// Compile-time assertion that Provider implements stt.Provider.
var _ stt.Provider = (*Provider)(nil)

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithSilenceThresholdMs sets the consecutive-silence duration (ms) after
// speech that closes an utterance. Defaults to 500 ms.
func WithSilenceThresholdMs(ms int) Option {
	return func(p *Provider) { p.silenceThresholdMs = ms }
}

// WithMaxBufferDurationMs sets the maximum utterance length (ms) before a
// flush is forced. Defaults to 10 000 ms.
func WithMaxBufferDurationMs(ms int) Option {
	return func(p *Provider) { p.maxBufferDurationMs = ms }
}

// WithRMSThreshold overrides the silence energy threshold.
func WithRMSThreshold(rms float64) Option {
	return func(p *Provider) { p.rmsThreshold = rms }
}

// WithConfidence sets the confidence attached to emitted transcripts.
// Defaults to [stt.DefaultServerConfidence].
func WithConfidence(c float64) Option {
	return func(p *Provider) { p.confidence = c }
}

// Provider implements stt.Provider on top of a batch transcriber. Each session
// owns its own buffer and goroutine.
type Provider struct {
	transcriber         stt.Transcriber
	silenceThresholdMs  int
	maxBufferDurationMs int
	rmsThreshold        float64
	confidence          float64
}

// New creates a Provider flushing utterances to t.
func New(t stt.Transcriber, opts ...Option) (*Provider, error) {
	if t == nil {
		return nil, errors.New("segment: transcriber must not be nil")
	}
	p := &Provider{
		transcriber:         t,
		silenceThresholdMs:  defaultSilenceThresholdMs,
		maxBufferDurationMs: defaultMaxBufferDurationMs,
		rmsThreshold:        defaultRMSThreshold,
		confidence:          stt.DefaultServerConfidence,
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// StartStream opens a new session. No transcription happens until the first
// utterance is complete.
func (p *Provider) StartStream(ctx context.Context, cfg stt.StreamConfig) (stt.SessionHandle, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("segment: context already cancelled: %w", err)
	}
	f := audio.Format{SampleRate: cfg.SampleRate, Channels: cfg.Channels}
	if f.SampleRate <= 0 {
		f.SampleRate = defaultSampleRate
	}
	if f.Channels <= 0 {
		f.Channels = 1
	}

	s := &session{
		p:          p,
		format:     f,
		language:   cfg.Language,
		continuous: cfg.Continuous,
		audioCh:    make(chan []byte, 256),
		partials:   make(chan stt.Transcript, 64),
		finals:     make(chan stt.Transcript, 64),
		done:       make(chan struct{}),
		ended:      make(chan struct{}),
	}
	s.wg.Add(1)
	go s.processLoop(ctx)
	return s, nil
}

// ---- session ----------------------------------------------------------------

// session implements stt.SessionHandle. Buffer state is confined to the
// processLoop goroutine.
type session struct {
	p          *Provider
	format     audio.Format
	language   string
	continuous bool

	audioCh  chan []byte
	partials chan stt.Transcript
	finals   chan stt.Transcript

	mu  sync.Mutex
	err error

	done  chan struct{}
	ended chan struct{}
	once  sync.Once
	wg    sync.WaitGroup
}

// SendAudio queues a chunk of 16-bit little-endian PCM. It fails once the
// session has been closed or has ended on its own.
func (s *session) SendAudio(chunk []byte) error {
	select {
	case <-s.done:
		return errClosed
	case <-s.ended:
		return errClosed
	default:
	}
	select {
	case s.audioCh <- chunk:
		return nil
	case <-s.done:
		return errClosed
	case <-s.ended:
		return errClosed
	}
}

func (s *session) Partials() <-chan stt.Transcript { return s.partials }
func (s *session) Finals() <-chan stt.Transcript   { return s.finals }

func (s *session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close flushes pending speech, closes the transcript channels and waits for
// the session goroutine. Calling Close more than once is safe.
func (s *session) Close() error {
	s.once.Do(func() {
		close(s.done)
		s.wg.Wait()
	})
	return nil
}

func (s *session) fail(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
}

func (s *session) processLoop(ctx context.Context) {
	defer s.wg.Done()
	defer close(s.ended)
	defer close(s.partials)
	defer close(s.finals)

	var (
		buffer    []byte
		hadSpeech bool
		silenceMs int
		elapsed   time.Duration
	)
	maxBufferBytes := s.p.maxBufferDurationMs * s.format.SampleRate * s.format.Channels * 2 / 1000

	// flush transcribes the buffered utterance. It reports false when the
	// session must end.
	flush := func(fctx context.Context) bool {
		pcm, speech := buffer, hadSpeech
		buffer, hadSpeech, silenceMs = nil, false, 0
		if len(pcm) == 0 || !speech {
			return true
		}

		clip := audio.Clip{
			Data:      audio.EncodeWAV(pcm, s.format),
			Container: audio.ContainerWAV,
			Format:    s.format,
			Duration:  time.Duration(audio.DurationOf(pcm, s.format)) * time.Millisecond,
		}
		text, err := s.p.transcriber.Transcribe(fctx, clip, s.language)
		if err != nil {
			serr := stt.AsError(err)
			if serr.Kind == stt.KindAborted {
				return false
			}
			slog.Warn("segment: transcription failed, ending session", "kind", serr.Kind, "err", err)
			s.fail(serr)
			return false
		}
		if text == "" {
			return true
		}

		t := stt.Transcript{
			Text:       text,
			Confidence: s.p.confidence,
			Timestamp:  elapsed - clip.Duration,
			Duration:   clip.Duration,
		}
		select {
		case s.partials <- t:
		default:
		}
		t.IsFinal = true
		select {
		case s.finals <- t:
		default:
		}
		return s.continuous
	}

	flushWithTimeout := func() {
		fc, cancel := context.WithTimeout(context.Background(), flushTimeout)
		defer cancel()
		flush(fc)
	}

	// handle feeds one chunk through silence detection. It reports false when
	// the session must end.
	handle := func(fctx context.Context, chunk []byte) bool {
		chunkMs := audio.DurationOf(chunk, s.format)
		elapsed += time.Duration(chunkMs) * time.Millisecond

		if audio.RMS(chunk) < s.p.rmsThreshold {
			// Leading silence is discarded.
			if !hadSpeech {
				return true
			}
			silenceMs += chunkMs
			buffer = append(buffer, chunk...)
			if silenceMs >= s.p.silenceThresholdMs {
				return flush(fctx)
			}
			return true
		}

		hadSpeech = true
		silenceMs = 0
		buffer = append(buffer, chunk...)
		if maxBufferBytes > 0 && len(buffer) >= maxBufferBytes {
			return flush(fctx)
		}
		return true
	}

	for {
		select {
		case <-ctx.Done():
			flushWithTimeout()
			return

		case <-s.done:
			// Audio queued before Close still belongs to the utterance.
			for {
				select {
				case chunk := <-s.audioCh:
					if !handle(context.Background(), chunk) {
						return
					}
					continue
				default:
				}
				break
			}
			flushWithTimeout()
			return

		case chunk := <-s.audioCh:
			if !handle(ctx, chunk) {
				return
			}
		}
	}
}

// Compile-time assertion that session satisfies stt.SessionHandle.
var _ stt.SessionHandle = (*session)(nil)
