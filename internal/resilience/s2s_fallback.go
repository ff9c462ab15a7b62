package resilience

import (
	"context"
	"errors"
	"log/slog"

	"github.com/MrWong99/voxcoach/internal/observe"
	"github.com/MrWong99/voxcoach/pkg/provider/s2s"
)

// S2SFallback implements [s2s.Provider] with automatic failover across
// multiple speech-to-speech backends. Each backend has its own circuit
// breaker; when the primary cannot be dialed or its breaker is open, the next
// healthy fallback is tried.
//
// Only session setup is covered. Once a session is live, a dropped channel
// ends the session and is reported to the caller.
type S2SFallback struct {
	group   *FallbackGroup[s2s.Provider]
	primary string
	metrics *observe.Metrics
}

// Compile-time interface assertion.
var _ s2s.Provider = (*S2SFallback)(nil)

// NewS2SFallback creates an [S2SFallback] with primary as the preferred backend.
// m may be nil.
func NewS2SFallback(primary s2s.Provider, primaryName string, cfg FallbackConfig, m *observe.Metrics) *S2SFallback {
	return &S2SFallback{
		group:   NewFallbackGroup(primary, primaryName, cfg),
		primary: primaryName,
		metrics: m,
	}
}

// AddFallback registers an additional S2S provider as a fallback.
func (f *S2SFallback) AddFallback(name string, provider s2s.Provider) {
	f.group.AddFallback(name, provider)
}

// Connect dials the first healthy provider. The returned handle reports the
// formats that provider negotiated, which may differ from [S2SFallback.Capabilities].
func (f *S2SFallback) Connect(ctx context.Context, cfg s2s.SessionConfig) (s2s.SessionHandle, error) {
	handle, name, err := ExecuteContext(ctx, f.group, func(ctx context.Context, name string, p s2s.Provider) (s2s.SessionHandle, error) {
		h, err := p.Connect(ctx, cfg)
		if err != nil && f.metrics != nil && ctx.Err() == nil {
			f.metrics.RecordProviderError(ctx, name, "connect")
		}
		return h, err
	})
	if err != nil {
		if f.metrics != nil && errors.Is(err, ErrAllFailed) {
			f.metrics.RecordProviderError(ctx, f.primary, "all_failed")
		}
		return nil, err
	}
	if name != f.primary {
		slog.Warn("s2s: dialed fallback provider", "provider", name, "primary", f.primary)
	}
	return handle, nil
}

// Capabilities returns the capabilities of the primary. This does not
// participate in failover because capabilities are static metadata.
func (f *S2SFallback) Capabilities() s2s.Capabilities {
	return f.group.entries[0].value.Capabilities()
}

// BreakerStates returns the breaker state of every provider, keyed by name.
func (f *S2SFallback) BreakerStates() map[string]State {
	return f.group.BreakerStates()
}
