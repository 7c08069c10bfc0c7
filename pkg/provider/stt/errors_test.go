package stt

import (
	"context"
	"errors"
	"fmt"
	"net"
	"testing"
)

func TestKindTerminal(t *testing.T) {
	t.Parallel()

	tests := []struct {
		kind Kind
		want bool
	}{
		{KindNoSpeech, false},
		{KindPermission, true},
		{KindNetwork, false},
		{KindNotSupported, true},
		{KindAborted, false},
		{KindUnknown, false},
	}
	for _, tt := range tests {
		if got := tt.kind.Terminal(); got != tt.want {
			t.Errorf("%s.Terminal() = %v, want %v", tt.kind, got, tt.want)
		}
	}
}

func TestKindOf(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"nil", nil, ""},
		{"typed", NewError(KindPermission, "denied", nil), KindPermission},
		{"wrapped typed", fmt.Errorf("capture: %w", ErrNoSpeech()), KindNoSpeech},
		{"canceled", context.Canceled, KindAborted},
		{"deadline", context.DeadlineExceeded, KindNetwork},
		{"net", &net.OpError{Op: "dial", Err: errors.New("refused")}, KindNetwork},
		{"unsupported", fmt.Errorf("x: %w", ErrNotSupported), KindNotSupported},
		{"other", errors.New("boom"), KindUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := KindOf(tt.err); got != tt.want {
				t.Errorf("KindOf = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestAsError_PreservesCause(t *testing.T) {
	t.Parallel()

	cause := errors.New("connection reset")
	e := AsError(cause)
	if !errors.Is(e, cause) {
		t.Error("AsError result does not unwrap to cause")
	}
	if e.Kind != KindUnknown {
		t.Errorf("Kind = %q, want unknown", e.Kind)
	}
	if AsError(e) != e {
		t.Error("AsError should return *Error values unchanged")
	}
}

func TestClampConfidence(t *testing.T) {
	t.Parallel()

	if got := ClampConfidence(0, DefaultServerConfidence); got != DefaultServerConfidence {
		t.Errorf("zero confidence = %v, want fallback", got)
	}
	if got := ClampConfidence(1.4, 0.5); got != 1 {
		t.Errorf("got %v, want 1", got)
	}
	if got := ClampConfidence(-0.2, 0.5); got != 0 {
		t.Errorf("got %v, want 0", got)
	}
}
