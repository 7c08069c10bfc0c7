package background

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
)

// AppState is the foreground state reported by the app shell.
type AppState string

const (
	AppActive     AppState = "active"
	AppInactive   AppState = "inactive"
	AppBackground AppState = "background"
)

// AppStateSource delivers app foreground/background transitions.
type AppStateSource interface {
	SubscribeAppState(fn func(AppState)) (unsubscribe func())
}

// VisibilitySource delivers document visibility changes of a browser tab.
type VisibilitySource interface {
	SubscribeVisibility(fn func(visible bool)) (unsubscribe func())
}

// Notification is a persistent notification shown while listening in the
// background.
type Notification struct {
	Title      string `json:"title"`
	Body       string `json:"body"`
	Importance string `json:"importance"`
	Ongoing    bool   `json:"ongoing"`
}

// Notifier posts and removes device notifications.
type Notifier interface {
	RequestPermission(ctx context.Context) (granted bool, err error)
	Show(ctx context.Context, n Notification) (id string, err error)
	Dismiss(ctx context.Context, id string) error
}

// Platform holds the per-platform behaviour of the [Manager]. It is chosen
// once when the manager is built.
type Platform interface {
	Name() string

	// Setup runs on Start. check triggers the keep-alive inactivity check.
	Setup(ctx context.Context, cfg Config, check func()) error

	// Teardown undoes Setup.
	Teardown(ctx context.Context)

	// AppStateChanged is called for every transition while running.
	AppStateChanged(state AppState, check func())
}

// ParsePlatform returns the platform named name ("ios", "android", "web").
// Android needs a notifier and web a visibility source; nil ones are
// tolerated and only disable the corresponding behaviour.
func ParsePlatform(name string, n Notifier, v VisibilitySource) (Platform, error) {
	switch strings.ToLower(name) {
	case "ios":
		return &IOS{}, nil
	case "android":
		return &Android{Notifier: n}, nil
	case "web", "":
		return &Web{Visibility: v}, nil
	}
	return nil, fmt.Errorf("background: unknown platform %q", name)
}

// ─── iOS ──────────────────────────────────────────────────────────────────────

// IOS relies on the background audio capability and on keep-alive restarts,
// since the OS may suspend recognition at any time.
type IOS struct{}

var _ Platform = (*IOS)(nil)

func (*IOS) Name() string { return "ios" }

func (*IOS) Setup(_ context.Context, cfg Config, _ func()) error {
	if !cfg.EnableBackgroundAudio {
		slog.Warn("background: ios without background audio; listening stops when the app is backgrounded")
		return nil
	}
	slog.Info("background: ios background audio enabled", "keep_alive", cfg.EnableKeepAlive)
	return nil
}

func (*IOS) Teardown(context.Context) {}

func (*IOS) AppStateChanged(state AppState, check func()) {
	switch state {
	case AppBackground:
		slog.Info("background: ios app backgrounded, recognition may be suspended until keep-alive restarts it")
	case AppActive:
		slog.Info("background: ios app resumed, checking listening state")
		check()
	}
}

// ─── Android ──────────────────────────────────────────────────────────────────

// Android keeps a low-importance persistent notification up while running,
// which gives listening a foreground-service-like presence.
type Android struct {
	Notifier Notifier

	mu             sync.Mutex
	notificationID string
}

var _ Platform = (*Android)(nil)

func (*Android) Name() string { return "android" }

func (a *Android) Setup(ctx context.Context, cfg Config, _ func()) error {
	if !cfg.EnableForegroundService || a.Notifier == nil {
		return nil
	}
	granted, err := a.Notifier.RequestPermission(ctx)
	if err != nil {
		return fmt.Errorf("background: notification permission: %w", err)
	}
	if !granted {
		slog.Warn("background: notification permission denied, listening may stop in the background")
		return nil
	}
	id, err := a.Notifier.Show(ctx, Notification{
		Title:      "Voice control active",
		Body:       "Listening for playback commands",
		Importance: "low",
		Ongoing:    true,
	})
	if err != nil {
		return fmt.Errorf("background: show notification: %w", err)
	}
	a.mu.Lock()
	a.notificationID = id
	a.mu.Unlock()
	return nil
}

func (a *Android) Teardown(ctx context.Context) {
	a.mu.Lock()
	id := a.notificationID
	a.notificationID = ""
	a.mu.Unlock()
	if id == "" || a.Notifier == nil {
		return
	}
	if err := a.Notifier.Dismiss(ctx, id); err != nil {
		slog.Warn("background: dismiss notification failed", "id", id, "err", err)
	}
}

func (a *Android) AppStateChanged(state AppState, check func()) {
	switch state {
	case AppBackground:
		slog.Info("background: android app backgrounded, notification keeps listening alive")
	case AppActive:
		check()
	}
}

// ─── Web ──────────────────────────────────────────────────────────────────────

// Web re-checks listening whenever the tab becomes visible again. Browsers
// stop recognition in hidden tabs.
type Web struct {
	Visibility VisibilitySource

	mu    sync.Mutex
	unsub func()
}

var _ Platform = (*Web)(nil)

func (*Web) Name() string { return "web" }

func (w *Web) Setup(_ context.Context, _ Config, check func()) error {
	if w.Visibility == nil {
		return nil
	}
	unsub := w.Visibility.SubscribeVisibility(func(visible bool) {
		if visible {
			slog.Debug("background: tab visible, checking listening state")
			check()
		}
	})
	w.mu.Lock()
	w.unsub = unsub
	w.mu.Unlock()
	return nil
}

func (w *Web) Teardown(context.Context) {
	w.mu.Lock()
	unsub := w.unsub
	w.unsub = nil
	w.mu.Unlock()
	if unsub != nil {
		unsub()
	}
}

func (*Web) AppStateChanged(state AppState, check func()) {
	if state == AppActive {
		check()
	}
}
