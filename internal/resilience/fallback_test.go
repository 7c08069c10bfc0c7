package resilience

import (
	"context"
	"errors"
	"testing"
	"time"
)

func newGroup(cfg FallbackConfig) *FallbackGroup[string] {
	if cfg.CircuitBreaker.MaxFailures == 0 {
		cfg.CircuitBreaker.MaxFailures = 3
	}
	fg := NewFallbackGroup("primary", "primary", cfg)
	fg.AddFallback("secondary", "secondary")
	return fg
}

func TestFallbackGroup_Execute(t *testing.T) {
	tests := []struct {
		name       string
		failing    map[string]bool
		wantCalled string
		wantAll    bool
	}{
		{"primary succeeds", nil, "primary", false},
		{"primary fails", map[string]bool{"primary": true}, "secondary", false},
		{"all fail", map[string]bool{"primary": true, "secondary": true}, "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fg := newGroup(FallbackConfig{})
			var called string
			err := fg.Execute(context.Background(), func(_ context.Context, v string) error {
				if tt.failing[v] {
					return errTest
				}
				called = v
				return nil
			})
			if tt.wantAll {
				if !errors.Is(err, ErrAllFailed) || !errors.Is(err, errTest) {
					t.Fatalf("err = %v, want ErrAllFailed wrapping the last error", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if called != tt.wantCalled {
				t.Fatalf("called = %q, want %q", called, tt.wantCalled)
			}
		})
	}
}

func TestFallbackGroup_CircuitBreakerSkipsOpenProvider(t *testing.T) {
	fg := newGroup(FallbackConfig{CircuitBreaker: CircuitBreakerConfig{MaxFailures: 2, ResetTimeout: time.Hour}})

	primaryCalls := 0
	for range 2 {
		_ = fg.Execute(context.Background(), func(_ context.Context, v string) error {
			if v == "primary" {
				primaryCalls++
				return errTest
			}
			return nil
		})
	}
	if got := fg.States()["primary"]; got != StateOpen {
		t.Fatalf("primary state = %v, want open", got)
	}

	var called string
	err := fg.Execute(context.Background(), func(_ context.Context, v string) error {
		if v == "primary" {
			primaryCalls++
		}
		called = v
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if called != "secondary" || primaryCalls != 2 {
		t.Fatalf("called = %q, primary calls = %d; open primary must be skipped", called, primaryCalls)
	}
	if !fg.Available() {
		t.Error("Available() = false with a closed secondary")
	}
}

func TestFallbackGroup_ShouldFallbackStopsEarly(t *testing.T) {
	final := errors.New("bad request")
	fg := newGroup(FallbackConfig{ShouldFallback: func(err error) bool { return !errors.Is(err, final) }})

	var tried []string
	err := fg.Execute(context.Background(), func(_ context.Context, v string) error {
		tried = append(tried, v)
		return final
	})
	if !errors.Is(err, final) || errors.Is(err, ErrAllFailed) {
		t.Fatalf("err = %v, want the rejected error unchanged", err)
	}
	if len(tried) != 1 {
		t.Fatalf("tried = %v, want only the primary", tried)
	}
}

func TestFallbackGroup_ContextCancelled(t *testing.T) {
	fg := newGroup(FallbackConfig{})
	ctx, cancel := context.WithCancel(context.Background())

	var tried []string
	err := fg.Execute(ctx, func(_ context.Context, v string) error {
		tried = append(tried, v)
		cancel()
		return errTest
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if len(tried) != 1 {
		t.Fatalf("tried = %v, want no fallback after cancellation", tried)
	}
}

func TestFallbackGroup_AllOpen(t *testing.T) {
	fg := newGroup(FallbackConfig{CircuitBreaker: CircuitBreakerConfig{MaxFailures: 1, ResetTimeout: time.Hour}})
	_ = fg.Execute(context.Background(), func(context.Context, string) error { return errTest })

	if fg.Available() {
		t.Fatal("Available() = true with every breaker open")
	}
	err := fg.Execute(context.Background(), func(context.Context, string) error { return nil })
	if !errors.Is(err, ErrAllFailed) || !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("err = %v, want ErrAllFailed wrapping ErrCircuitOpen", err)
	}
	if names := fg.Names(); len(names) != 2 || names[0] != "primary" {
		t.Errorf("Names() = %v", names)
	}
}

func TestExecuteWithResult_Failover(t *testing.T) {
	fg := NewFallbackGroup(10, "ten", FallbackConfig{CircuitBreaker: CircuitBreakerConfig{MaxFailures: 3}})
	fg.AddFallback("twenty", 20)

	result, err := ExecuteWithResult(context.Background(), fg, func(_ context.Context, v int) (string, error) {
		if v == 10 {
			return "", errTest
		}
		return "from-twenty", nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != "from-twenty" {
		t.Fatalf("result = %q, want from-twenty", result)
	}
}
