package webview

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/coder/websocket"
	"github.com/google/uuid"
)

// ErrClosed is returned for requests on a session that has disconnected.
var ErrClosed = errors.New("webview: session closed")

// Session is one connected shell. Calls may be made concurrently.
type Session struct {
	id   string
	conn *websocket.Conn

	// onEvent receives every envelope without an ID.
	onEvent func(*Session, Envelope)

	mu       sync.Mutex
	pending  map[string]chan Envelope
	platform string

	done chan struct{}
	once sync.Once
}

func newSession(conn *websocket.Conn, onEvent func(*Session, Envelope)) *Session {
	return &Session{
		id:      uuid.NewString(),
		conn:    conn,
		onEvent: onEvent,
		pending: make(map[string]chan Envelope),
		done:    make(chan struct{}),
	}
}

// ID identifies the connection.
func (s *Session) ID() string { return s.id }

// Platform returns the platform announced in the shell's hello, if any.
func (s *Session) Platform() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.platform
}

// Done is closed when the connection ends.
func (s *Session) Done() <-chan struct{} { return s.done }

// Call sends a request and decodes the response payload into result, which
// may be nil.
func (s *Session) Call(ctx context.Context, method string, params, result any) error {
	env := Envelope{ID: uuid.NewString(), Type: method}
	if params != nil {
		raw, err := json.Marshal(params)
		if err != nil {
			return fmt.Errorf("webview: %s: encode params: %w", method, err)
		}
		env.Payload = raw
	}

	reply := make(chan Envelope, 1)
	s.mu.Lock()
	select {
	case <-s.done:
		s.mu.Unlock()
		return ErrClosed
	default:
	}
	s.pending[env.ID] = reply
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.pending, env.ID)
		s.mu.Unlock()
	}()

	if err := s.write(ctx, env); err != nil {
		return fmt.Errorf("webview: %s: %w", method, err)
	}

	select {
	case <-ctx.Done():
		return fmt.Errorf("webview: %s: %w", method, ctx.Err())
	case <-s.done:
		return fmt.Errorf("webview: %s: %w", method, ErrClosed)
	case resp := <-reply:
		if resp.Error != nil {
			return fmt.Errorf("webview: %s: %w", method, resp.Error)
		}
		if result == nil || len(resp.Payload) == 0 {
			return nil
		}
		if err := json.Unmarshal(resp.Payload, result); err != nil {
			return fmt.Errorf("webview: %s: decode result: %w", method, err)
		}
		return nil
	}
}

// Notify sends an event that expects no reply.
func (s *Session) Notify(ctx context.Context, typ string, payload any) error {
	env := Envelope{Type: typ}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("webview: %s: encode payload: %w", typ, err)
		}
		env.Payload = raw
	}
	return s.write(ctx, env)
}

func (s *Session) write(ctx context.Context, env Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}
	select {
	case <-s.done:
		return ErrClosed
	default:
	}
	return s.conn.Write(ctx, websocket.MessageText, data)
}

// Close ends the connection.
func (s *Session) Close() error {
	s.shutdown()
	return s.conn.Close(websocket.StatusNormalClosure, "closing")
}

func (s *Session) shutdown() {
	s.once.Do(func() { close(s.done) })
}

// run reads until the connection fails or ctx ends.
func (s *Session) run(ctx context.Context) error {
	defer s.shutdown()
	for {
		typ, data, err := s.conn.Read(ctx)
		if err != nil {
			if st := websocket.CloseStatus(err); st == websocket.StatusNormalClosure || st == websocket.StatusGoingAway {
				return nil
			}
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("webview: read: %w", err)
		}
		if typ != websocket.MessageText {
			slog.Debug("webview: ignoring binary message", "session", s.id, "bytes", len(data))
			continue
		}
		var env Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			slog.Warn("webview: malformed envelope", "session", s.id, "err", err)
			continue
		}
		s.dispatch(env)
	}
}

func (s *Session) dispatch(env Envelope) {
	if env.Type == TypeResponse {
		s.mu.Lock()
		reply, ok := s.pending[env.ID]
		s.mu.Unlock()
		if !ok {
			slog.Debug("webview: response for unknown request", "session", s.id, "id", env.ID)
			return
		}
		select {
		case reply <- env:
		default:
			slog.Debug("webview: duplicate response", "session", s.id, "id", env.ID)
		}
		return
	}
	if env.Type == EventHello {
		var h Hello
		if err := json.Unmarshal(env.Payload, &h); err == nil {
			s.mu.Lock()
			s.platform = h.Platform
			s.mu.Unlock()
			slog.Info("webview: shell connected", "session", s.id, "platform", h.Platform, "version", h.Version)
		}
	}
	if s.onEvent != nil {
		s.onEvent(s, env)
	}
}
