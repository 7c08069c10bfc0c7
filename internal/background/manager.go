// Package background keeps voice listening alive while the app is not in
// the foreground.
//
// A [Manager] is either stopped or running. While running it applies its
// [Platform] setup, follows app state transitions, and (when enabled) runs
// a keep-alive ticker that restarts listening whenever it finds it
// inactive. Restart failures are logged and the ticker keeps going.
package background

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrWong99/voxreel/internal/observe"
)

// Option configures a [Manager].
type Option func(*Manager)

// WithAppState subscribes the manager to app foreground/background
// transitions while running.
func WithAppState(src AppStateSource) Option {
	return func(m *Manager) { m.appState = src }
}

// WithMetrics sets the metrics sink. Defaults to [observe.DefaultMetrics].
func WithMetrics(mt *observe.Metrics) Option {
	return func(m *Manager) { m.metrics = mt }
}

// WithRestartTimeout bounds each restart call. Defaults to 10s.
func WithRestartTimeout(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.restartTimeout = d
		}
	}
}

// Manager runs background listening for one platform. All methods are safe
// for concurrent use.
type Manager struct {
	platform       Platform
	appState       AppStateSource
	metrics        *observe.Metrics
	restartTimeout time.Duration

	mu       sync.Mutex
	cfg      Config
	cancel   context.CancelFunc
	ticker   *keepAlive
	unsubApp func()

	// sess is set while running. Checks read it without taking mu so that
	// stopping can wait for an in-flight check.
	sess atomic.Pointer[session]

	// checking drops overlapping checks so a slow restart is never doubled.
	checking sync.Mutex
}

// session holds the callbacks of one Start.
type session struct {
	ctx      context.Context
	restart  func(context.Context) error
	isActive func() bool
}

// New creates a stopped Manager.
func New(cfg Config, platform Platform, opts ...Option) *Manager {
	if platform == nil {
		platform = &Web{}
	}
	m := &Manager{
		platform:       platform,
		cfg:            cfg,
		restartTimeout: 10 * time.Second,
	}
	for _, o := range opts {
		o(m)
	}
	if m.metrics == nil {
		m.metrics = observe.DefaultMetrics()
	}
	return m
}

// Start begins background listening. restart brings listening back up and
// isActive reports whether it is up. Calling Start while running re-arms
// everything with the new callbacks.
func (m *Manager) Start(restart func(context.Context) error, isActive func() bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sess.Load() != nil {
		slog.Debug("background: start while running, re-arming")
		m.stopLocked()
	}

	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.sess.Store(&session{ctx: ctx, restart: restart, isActive: isActive})

	if err := m.platform.Setup(ctx, m.cfg, m.check); err != nil {
		slog.Warn("background: platform setup failed", "platform", m.platform.Name(), "err", err)
	}
	if m.appState != nil {
		m.unsubApp = m.appState.SubscribeAppState(m.appStateChanged)
	}
	m.armLocked()
	slog.Info("background: started", "platform", m.platform.Name(),
		"keep_alive", m.cfg.EnableKeepAlive, "interval", m.cfg.Interval())
}

// Stop ends background listening. It is safe to call when stopped.
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sess.Load() == nil {
		return
	}
	m.stopLocked()
	slog.Info("background: stopped", "platform", m.platform.Name())
}

func (m *Manager) stopLocked() {
	m.sess.Store(nil)
	m.cancel()
	if m.ticker != nil {
		m.ticker.stop()
		m.ticker = nil
	}
	if m.unsubApp != nil {
		m.unsubApp()
		m.unsubApp = nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	m.platform.Teardown(ctx)
}

// Running reports whether the manager is started.
func (m *Manager) Running() bool {
	return m.sess.Load() != nil
}

// Config returns the active configuration.
func (m *Manager) Config() Config {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cfg
}

// UpdateConfig replaces the configuration. A running keep-alive ticker is
// re-armed when its interval or enablement changed. Platform setup is not
// redone.
func (m *Manager) UpdateConfig(cfg Config) {
	m.mu.Lock()
	defer m.mu.Unlock()
	old := m.cfg
	m.cfg = cfg
	if m.sess.Load() == nil {
		return
	}
	if old.EnableKeepAlive != cfg.EnableKeepAlive || old.Interval() != cfg.Interval() {
		if m.ticker != nil {
			m.ticker.stop()
			m.ticker = nil
		}
		m.armLocked()
		slog.Info("background: keep-alive re-armed", "enabled", cfg.EnableKeepAlive, "interval", cfg.Interval())
	}
}

func (m *Manager) armLocked() {
	if !m.cfg.EnableKeepAlive {
		return
	}
	m.ticker = startKeepAlive(m.cfg.Interval(), m.check)
}

func (m *Manager) appStateChanged(state AppState) {
	if m.sess.Load() == nil {
		return
	}
	slog.Debug("background: app state changed", "state", state, "platform", m.platform.Name())
	m.platform.AppStateChanged(state, m.check)
}

// check restarts listening if it is not active.
func (m *Manager) check() {
	if !m.checking.TryLock() {
		return
	}
	defer m.checking.Unlock()

	s := m.sess.Load()
	if s == nil || s.isActive == nil || s.restart == nil || s.isActive() {
		return
	}

	ctx, cancel := context.WithTimeout(s.ctx, m.restartTimeout)
	defer cancel()
	err := s.restart(ctx)
	m.metrics.RecordKeepAlive(context.WithoutCancel(ctx), err == nil)
	if err != nil {
		slog.Warn("background: keep-alive restart failed", "err", err)
		return
	}
	slog.Info("background: keep-alive restarted listening")
}

// keepAlive is the recurring check timer.
type keepAlive struct {
	done chan struct{}
	once sync.Once
	wg   sync.WaitGroup
}

func startKeepAlive(interval time.Duration, check func()) *keepAlive {
	k := &keepAlive{done: make(chan struct{})}
	k.wg.Go(func() {
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-k.done:
				return
			case <-t.C:
				check()
			}
		}
	})
	return k
}

// stop ends the timer and waits for a running check to finish.
func (k *keepAlive) stop() {
	k.once.Do(func() { close(k.done) })
	k.wg.Wait()
}
