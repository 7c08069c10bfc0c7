package app

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/MrWong99/voxreel/internal/dispatch"
	"github.com/MrWong99/voxreel/internal/voice"
	"github.com/MrWong99/voxreel/internal/webview"
)

// shellQueue bounds events waiting for the shell. When full, new events are
// dropped; the next state event supersedes them anyway.
const shellQueue = 32

// shellNotifyTimeout bounds one write to the shell.
const shellNotifyTimeout = 2 * time.Second

type shellEvent struct {
	typ     string
	payload any
}

// sessionSource yields the connected shell session.
type sessionSource interface {
	Session() (*webview.Session, error)
}

// shellSync pushes player state and voice feedback to the connected shell.
// Subscribers publish synchronously, so delivery is decoupled through a
// queue drained by run.
type shellSync struct {
	src    sessionSource
	events chan shellEvent
}

func newShellSync(src sessionSource) *shellSync {
	return &shellSync{src: src, events: make(chan shellEvent, shellQueue)}
}

func (s *shellSync) playerState(st dispatch.State) {
	s.enqueue(shellEvent{typ: webview.EventPlayerState, payload: st})
}

func (s *shellSync) feedback(fb voice.Feedback) {
	s.enqueue(shellEvent{typ: webview.EventVoiceFeedback, payload: fb})
}

func (s *shellSync) enqueue(ev shellEvent) {
	select {
	case s.events <- ev:
	default:
		slog.Debug("shell queue full, dropping event", "type", ev.typ)
	}
}

// run delivers queued events until ctx is done. Events raised while no
// shell is connected are discarded.
func (s *shellSync) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-s.events:
			sess, err := s.src.Session()
			if err != nil {
				continue
			}
			nctx, cancel := context.WithTimeout(ctx, shellNotifyTimeout)
			err = sess.Notify(nctx, ev.typ, ev.payload)
			cancel()
			if err != nil && !errors.Is(err, webview.ErrClosed) {
				slog.Warn("shell notify failed", "type", ev.typ, "session", sess.ID(), "err", err)
			}
		}
	}
}
