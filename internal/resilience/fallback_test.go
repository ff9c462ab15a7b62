package resilience

import (
	"context"
	"errors"
	"slices"
	"testing"
	"time"
)

// dialer stands in for a provider endpoint in a group.
type dialer struct {
	err error
}

// record returns a call function that appends every entry it is called with
// to tried and answers with that entry's error.
func record(tried *[]string) func(context.Context, string, dialer) (string, error) {
	return func(_ context.Context, name string, d dialer) (string, error) {
		*tried = append(*tried, name)
		if d.err != nil {
			return "", d.err
		}
		return "session@" + name, nil
	}
}

func TestExecuteContext_PrimaryServes(t *testing.T) {
	fg := NewFallbackGroup(dialer{}, "gemini-live", FallbackConfig{})
	fg.AddFallback("openai-realtime", dialer{})

	var tried []string
	got, name, err := ExecuteContext(context.Background(), fg, record(&tried))
	if err != nil {
		t.Fatalf("ExecuteContext: %v", err)
	}
	if got != "session@gemini-live" || name != "gemini-live" {
		t.Errorf("got (%q, %q), want the primary", got, name)
	}
	if !slices.Equal(tried, []string{"gemini-live"}) {
		t.Errorf("tried %v, want only the primary", tried)
	}
}

func TestExecuteContext_FailsOverInOrder(t *testing.T) {
	fg := NewFallbackGroup(dialer{err: errors.New("quota exceeded")}, "gemini-live", FallbackConfig{})
	fg.AddFallback("gemini-genai", dialer{err: errors.New("tls handshake")})
	fg.AddFallback("openai-realtime", dialer{})

	var tried []string
	got, name, err := ExecuteContext(context.Background(), fg, record(&tried))
	if err != nil {
		t.Fatalf("ExecuteContext: %v", err)
	}
	if name != "openai-realtime" || got != "session@openai-realtime" {
		t.Errorf("served by %q (%q), want openai-realtime", name, got)
	}
	if want := []string{"gemini-live", "gemini-genai", "openai-realtime"}; !slices.Equal(tried, want) {
		t.Errorf("tried %v, want %v", tried, want)
	}
}

func TestExecuteContext_AllFailWrapsLastError(t *testing.T) {
	last := errors.New("websocket: bad handshake")
	fg := NewFallbackGroup(dialer{err: errors.New("quota exceeded")}, "gemini-live", FallbackConfig{})
	fg.AddFallback("openai-realtime", dialer{err: last})

	var tried []string
	_, name, err := ExecuteContext(context.Background(), fg, record(&tried))
	if !errors.Is(err, ErrAllFailed) || !errors.Is(err, last) {
		t.Fatalf("err = %v, want ErrAllFailed wrapping the last dial error", err)
	}
	if name != "" {
		t.Errorf("name = %q, want empty on failure", name)
	}
}

func TestExecuteContext_SkipsOpenBreaker(t *testing.T) {
	cfg := FallbackConfig{CircuitBreaker: CircuitBreakerConfig{MaxFailures: 1, ResetTimeout: time.Hour}}
	fg := NewFallbackGroup(dialer{err: errors.New("503")}, "gemini-live", cfg)
	fg.AddFallback("openai-realtime", dialer{})

	var tried []string
	if _, _, err := ExecuteContext(context.Background(), fg, record(&tried)); err != nil {
		t.Fatalf("first call: %v", err)
	}
	if s := fg.BreakerStates()["gemini-live"]; s != StateOpen {
		t.Fatalf("primary breaker = %s, want open", s)
	}

	tried = nil
	_, name, err := ExecuteContext(context.Background(), fg, record(&tried))
	if err != nil {
		t.Fatalf("second call: %v", err)
	}
	if name != "openai-realtime" || !slices.Equal(tried, []string{"openai-realtime"}) {
		t.Errorf("second call served by %q after trying %v, want the fallback alone", name, tried)
	}
}

func TestExecuteContext_StopsWhenContextDone(t *testing.T) {
	fg := NewFallbackGroup(dialer{}, "gemini-live", FallbackConfig{})
	fg.AddFallback("openai-realtime", dialer{})

	ctx, cancel := context.WithCancel(context.Background())
	var tried []string
	_, _, err := ExecuteContext(ctx, fg, func(ctx context.Context, name string, d dialer) (string, error) {
		tried = append(tried, name)
		cancel()
		return "", ctx.Err()
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if errors.Is(err, ErrAllFailed) {
		t.Error("a cancelled call must not report ErrAllFailed")
	}
	if !slices.Equal(tried, []string{"gemini-live"}) {
		t.Errorf("tried %v, want no fallback after cancellation", tried)
	}
}

func TestBreakerStates(t *testing.T) {
	fg := NewFallbackGroup(dialer{}, "gemini-live", FallbackConfig{})
	fg.AddFallback("openai-realtime", dialer{})

	states := fg.BreakerStates()
	if len(states) != 2 {
		t.Fatalf("states = %v, want two entries", states)
	}
	for name, s := range states {
		if s != StateClosed {
			t.Errorf("%s = %s, want closed", name, s)
		}
	}
}
