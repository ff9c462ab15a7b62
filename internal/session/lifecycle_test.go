package session_test

import (
	"context"
	"errors"
	"slices"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/MrWong99/voxcoach/internal/observe"
	"github.com/MrWong99/voxcoach/internal/resilience"
	"github.com/MrWong99/voxcoach/internal/session"
	"github.com/MrWong99/voxcoach/pkg/audio"
	"github.com/MrWong99/voxcoach/pkg/audio/capture"
	"github.com/MrWong99/voxcoach/pkg/provider/s2s"
	s2smock "github.com/MrWong99/voxcoach/pkg/provider/s2s/mock"
)

// pendingProvider never completes a dial on its own; Connect returns only
// when its context is cancelled.
type pendingProvider struct {
	dialing chan struct{}
}

func (p *pendingProvider) Connect(ctx context.Context, _ s2s.SessionConfig) (s2s.SessionHandle, error) {
	close(p.dialing)
	<-ctx.Done()
	return nil, ctx.Err()
}

func (p *pendingProvider) Capabilities() s2s.Capabilities {
	return s2s.Capabilities{Formats: s2smock.DefaultFormats}
}

// stuckSession is a channel whose Close blocks until release is closed.
type stuckSession struct {
	*s2smock.Session
	release chan struct{}
}

func (s *stuckSession) Close() error {
	<-s.release
	return s.Session.Close()
}

func TestController_DisconnectWhileConnectingAborts(t *testing.T) {
	t.Parallel()

	prov := &pendingProvider{dialing: make(chan struct{})}
	h := newHarness(t, func(c *session.Config) { c.Provider = prov })

	errc := make(chan error, 1)
	go func() { errc <- h.ctrl.Connect(context.Background(), h.host.callbacks()) }()

	select {
	case <-prov.dialing:
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for the dial to start")
	}
	if got := h.ctrl.State(); got != session.StateConnecting {
		t.Fatalf("State while dialing = %s; want connecting", got)
	}

	h.ctrl.Disconnect(context.Background())

	select {
	case err := <-errc:
		if !errors.Is(err, session.ErrAborted) {
			t.Errorf("Connect = %v; want ErrAborted", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Connect did not return after Disconnect")
	}

	if got := h.ctrl.State(); got != session.StateIdle {
		t.Errorf("State = %s; want idle", got)
	}
	_, _, errs, _, calls := h.host.snapshot()
	if len(errs) != 0 {
		t.Errorf("OnError called with %v; want no calls", errs)
	}
	if !slices.Equal(calls, []string{"closed"}) {
		t.Errorf("callbacks = %v; want [closed]", calls)
	}
	if in := h.mic.Last(); in == nil || !in.Closed() {
		t.Error("microphone not released")
	}
	if out := h.spk.Last(); out == nil || !out.Closed() {
		t.Error("speaker not released")
	}
}

func TestController_HungChannelCloseIsBounded(t *testing.T) {
	t.Parallel()

	const closeTimeout = 200 * time.Millisecond
	stuck := &stuckSession{
		Session: s2smock.NewSession(s2smock.DefaultFormats),
		release: make(chan struct{}),
	}
	t.Cleanup(func() { close(stuck.release) })

	h := newHarness(t, func(c *session.Config) { c.CloseTimeout = closeTimeout })
	h.prov.Session = stuck
	if err := h.ctrl.Connect(context.Background(), h.host.callbacks()); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	start := time.Now()
	h.ctrl.Disconnect(context.Background())
	elapsed := time.Since(start)

	if elapsed > 5*closeTimeout {
		t.Errorf("Disconnect took %s; want it bounded by the close timeout %s", elapsed, closeTimeout)
	}
	if got := h.ctrl.State(); got != session.StateIdle {
		t.Errorf("State = %s; want idle", got)
	}
	h.host.waitClosed(t)

	// The controller is usable again right away.
	h.prov.Session = nil
	sess := h.connect(t)
	if sess == nil {
		t.Fatal("reconnect did not dial a fresh session")
	}
	h.ctrl.Disconnect(context.Background())
	h.host.waitClosed(t)
}

func TestController_MicrophoneStallEndsSession(t *testing.T) {
	t.Parallel()

	h := newHarness(t, func(c *session.Config) { c.StallTimeout = 100 * time.Millisecond })
	sess := h.connect(t)
	// No frames are pushed: the device has gone quiet.
	h.host.waitClosed(t)

	_, _, errs, _, calls := h.host.snapshot()
	if !slices.Equal(calls, []string{"error", "closed"}) {
		t.Errorf("callbacks = %v; want [error closed]", calls)
	}
	if len(errs) != 1 || !session.IsKind(errs[0], session.KindDevice) || !errors.Is(errs[0], capture.ErrDeviceLost) {
		t.Errorf("OnError got %v; want a device error wrapping ErrDeviceLost", errs)
	}
	if sess.Closes() != 1 {
		t.Errorf("channel closed %d times; want 1", sess.Closes())
	}
}

func TestController_ReopensSpeakerForNegotiatedFormat(t *testing.T) {
	t.Parallel()

	negotiated := s2s.Formats{
		Input:  audio.Format{SampleRate: 16000, Channels: 1},
		Output: audio.Format{SampleRate: 48000, Channels: 1},
	}
	sess := s2smock.NewSession(negotiated)
	h := newHarness(t)
	h.prov.Session = sess
	if err := h.ctrl.Connect(context.Background(), h.host.callbacks()); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	// Connect has returned, so no Open call can race with this read.
	opened := slices.Clone(h.spk.OpenCalls)
	if len(opened) != 2 || opened[0].SampleRate != 24000 || opened[1].SampleRate != 48000 {
		t.Fatalf("speaker opens = %v; want 24 kHz then 48 kHz", opened)
	}

	sess.Emit(s2s.AudioEvent{Data: audio.EncodePCM16(make([]float32, 4800))})
	out := h.spk.Last()
	eventually(t, "audio scheduled on the reopened speaker", func() bool { return len(out.Calls()) == 1 })
	if got := out.Calls()[0].Buffer.Duration(); got != 100*time.Millisecond {
		t.Errorf("buffer duration = %s; want 100ms at 48 kHz", got)
	}
}

func TestController_ConnectFailureCountedOncePerProvider(t *testing.T) {
	t.Parallel()

	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}

	failing := &s2smock.Provider{
		ConnectErr:           errors.New("503 unavailable"),
		ProviderCapabilities: s2s.Capabilities{Formats: s2smock.DefaultFormats},
	}
	fb := resilience.NewS2SFallback(failing, "gemini-live", resilience.FallbackConfig{}, m)

	h := newHarness(t)
	ctrl := session.New(session.Config{
		Provider:     fb,
		ProviderName: "gemini-live",
		Microphone:   h.mic,
		Speaker:      h.spk,
		CloseTimeout: time.Second,
	}, session.WithMetrics(m))

	if err := ctrl.Connect(context.Background(), session.Callbacks{}); !session.IsKind(err, session.KindChannel) {
		t.Fatalf("Connect = %v; want a channel error", err)
	}

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	var connectErrors int64
	for _, sm := range rm.ScopeMetrics {
		for _, met := range sm.Metrics {
			if met.Name != "voxcoach.provider.errors" {
				continue
			}
			for _, dp := range met.Data.(metricdata.Sum[int64]).DataPoints {
				if v, ok := dp.Attributes.Value("kind"); ok && v.AsString() == "connect" {
					connectErrors += dp.Value
				}
			}
		}
	}
	if connectErrors != 1 {
		t.Errorf("connect errors recorded = %d; want 1", connectErrors)
	}
}
