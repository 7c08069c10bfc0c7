package player

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// DefaultPollInterval is how often adapters refresh their status.
const DefaultPollInterval = 250 * time.Millisecond

// Option configures an adapter.
type Option func(*options)

type options struct {
	pollInterval time.Duration
}

// WithPollInterval sets the status polling cadence. Defaults to 250ms.
func WithPollInterval(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.pollInterval = d
		}
	}
}

func buildOptions(opts []Option) options {
	o := options{pollInterval: DefaultPollInterval}
	for _, fn := range opts {
		fn(&o)
	}
	return o
}

// base holds what every adapter shares: the status snapshot, the listener
// set and the polling goroutine.
type base struct {
	src      Source
	interval time.Duration

	// ctx lives until Dispose. Polling and release run under it.
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	once   sync.Once

	mu       sync.Mutex
	status   Status
	lastTick time.Time
	loaded   bool
	disposed bool

	lmu       sync.RWMutex
	listeners map[uint64]func(Status)
	nextID    uint64
}

func newBase(ctx context.Context, src Source, o options) *base {
	bctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	return &base{
		src:       src,
		interval:  o.pollInterval,
		ctx:       bctx,
		cancel:    cancel,
		status:    initialStatus(),
		lastTick:  time.Now(),
		listeners: make(map[uint64]func(Status)),
	}
}

// startPolling runs refresh every interval until Dispose. Refresh errors
// keep the previous status.
func (b *base) startPolling(refresh func(context.Context) (Status, error)) {
	b.wg.Go(func() {
		ticker := time.NewTicker(b.interval)
		defer ticker.Stop()
		for {
			select {
			case <-b.ctx.Done():
				return
			case <-ticker.C:
				st, err := refresh(b.ctx)
				if err != nil {
					if b.ctx.Err() == nil {
						slog.Debug("player: status poll failed", "source", b.src.Type, "err", err)
					}
					continue
				}
				b.set(st)
			}
		}
	})
}

// Source implements [Adapter].
func (b *base) Source() Source { return b.src }

// Status implements [Adapter].
func (b *base) Status() Status {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.status
}

// IsReady implements [Adapter].
func (b *base) IsReady() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.loaded && !b.disposed
}

// Subscribe implements [Adapter].
func (b *base) Subscribe(fn func(Status)) (unsubscribe func()) {
	b.lmu.Lock()
	id := b.nextID
	b.nextID++
	b.listeners[id] = fn
	b.lmu.Unlock()
	return func() {
		b.lmu.Lock()
		delete(b.listeners, id)
		b.lmu.Unlock()
	}
}

func (b *base) markLoaded(state State) {
	b.update(func(s *Status) { s.State = state })
	b.mu.Lock()
	b.loaded = true
	b.mu.Unlock()
}

// set replaces the status and notifies on change.
func (b *base) set(st Status) {
	b.mu.Lock()
	if b.disposed || st == b.status {
		b.mu.Unlock()
		return
	}
	b.status = st
	b.mu.Unlock()
	b.notify(st)
}

// update applies fn to a copy of the status and stores it.
func (b *base) update(fn func(*Status)) {
	b.mu.Lock()
	st := b.status
	fn(&st)
	b.lastTick = time.Now()
	b.mu.Unlock()
	b.set(st)
}

// estimate advances the locally tracked playhead by the wall time elapsed
// since the last change. Adapters without a status channel poll with it.
func (b *base) estimate(context.Context) (Status, error) {
	now := time.Now()
	b.mu.Lock()
	defer b.mu.Unlock()
	st := b.status
	if st.State == StatePlaying {
		st.CurrentTime += now.Sub(b.lastTick).Seconds() * st.PlaybackRate
		if st.Duration > 0 && st.CurrentTime >= st.Duration {
			st.CurrentTime, st.State = st.Duration, StateEnded
		}
	}
	b.lastTick = now
	return st, nil
}

// notify delivers st to every listener. A panicking listener is logged and
// does not prevent delivery to the others.
func (b *base) notify(st Status) {
	b.lmu.RLock()
	fns := make([]func(Status), 0, len(b.listeners))
	for _, fn := range b.listeners {
		fns = append(fns, fn)
	}
	b.lmu.RUnlock()

	for _, fn := range fns {
		func() {
			defer func() {
				if r := recover(); r != nil {
					slog.Error("player: status listener panicked", "source", b.src.Type, "panic", r)
				}
			}()
			fn(st)
		}()
	}
}

// dispose stops polling, drops listeners and runs release once.
func (b *base) dispose(release func(ctx context.Context)) {
	b.once.Do(func() {
		b.cancel()
		b.wg.Wait()

		b.mu.Lock()
		b.disposed = true
		b.status.State = StateIdle
		b.mu.Unlock()

		b.lmu.Lock()
		clear(b.listeners)
		b.lmu.Unlock()

		if release != nil {
			ctx, cancel := context.WithTimeout(context.WithoutCancel(b.ctx), 2*time.Second)
			defer cancel()
			release(ctx)
		}
	})
}
