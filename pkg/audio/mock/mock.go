// Package mock provides in-memory implementations of [audio.Recorder] and
// [audio.Source] for use in unit tests.
//
// All mocks are safe for concurrent use. They record every method call so that
// tests can assert on call counts and arguments, and they expose exported fields
// that the test can set to control return values.
//
// Typical usage:
//
//	rec := &mock.Recorder{Clips: []audio.Clip{{Data: wav, Container: audio.ContainerWAV}}}
//	clip, err := rec.Record(ctx, 5*time.Second)
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/MrWong99/voxreel/pkg/audio"
)

// ─── Recorder ─────────────────────────────────────────────────────────────────

// Recorder is a mock implementation of [audio.Recorder].
//
// Each Record call pops the next entry from Clips (and Errs, when set). Once
// Clips is exhausted the last clip is repeated. When Block is true, Record
// waits for ctx cancellation instead of returning immediately, which mimics a
// recording in progress.
type Recorder struct {
	mu sync.Mutex

	// Clips are returned in order by successive Record calls.
	Clips []audio.Clip

	// Errs, when non-nil, are returned in order alongside Clips. A nil entry
	// means success.
	Errs []error

	// Block makes Record wait until ctx is cancelled.
	Block bool

	// RecordCalls records the duration passed to each Record call.
	RecordCalls []time.Duration
}

// Record implements [audio.Recorder].
func (r *Recorder) Record(ctx context.Context, d time.Duration) (audio.Clip, error) {
	r.mu.Lock()
	idx := len(r.RecordCalls)
	r.RecordCalls = append(r.RecordCalls, d)
	block := r.Block
	var (
		clip audio.Clip
		err  error
	)
	if n := len(r.Clips); n > 0 {
		clip = r.Clips[min(idx, n-1)]
	}
	if idx < len(r.Errs) {
		err = r.Errs[idx]
	}
	r.mu.Unlock()

	if block {
		<-ctx.Done()
		return audio.Clip{}, ctx.Err()
	}
	if err := ctx.Err(); err != nil {
		return audio.Clip{}, err
	}
	return clip, err
}

// CallCount returns the number of Record calls. Thread-safe.
func (r *Recorder) CallCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.RecordCalls)
}

var _ audio.Recorder = (*Recorder)(nil)

// ─── Source ───────────────────────────────────────────────────────────────────

// Source is a mock implementation of [audio.Source]. Tests push frames with
// [Source.Push]; Stop closes the frame channel.
type Source struct {
	mu      sync.Mutex
	ch      chan audio.Frame
	stopped bool

	// StartErr, if non-nil, is returned by Start.
	StartErr error

	// StopErr, if non-nil, is returned by Stop.
	StopErr error

	// CallCountStart records how many times Start was called.
	CallCountStart int

	// CallCountStop records how many times Stop was called.
	CallCountStop int
}

// NewSource returns a Source with a frame buffer of the given size.
func NewSource(buffer int) *Source {
	return &Source{ch: make(chan audio.Frame, buffer)}
}

// Start implements [audio.Source].
func (s *Source) Start(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CallCountStart++
	if s.ch == nil {
		s.ch = make(chan audio.Frame, 16)
	}
	return s.StartErr
}

// Frames implements [audio.Source].
func (s *Source) Frames() <-chan audio.Frame {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ch == nil {
		s.ch = make(chan audio.Frame, 16)
	}
	return s.ch
}

// Push enqueues a frame. It is a no-op after Stop.
func (s *Source) Push(f audio.Frame) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped || s.ch == nil {
		return
	}
	s.ch <- f
}

// Stop implements [audio.Source]. The frame channel is closed on the first call.
func (s *Source) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CallCountStop++
	if !s.stopped && s.ch != nil {
		close(s.ch)
	}
	s.stopped = true
	return s.StopErr
}

var _ audio.Source = (*Source)(nil)
