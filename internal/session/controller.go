// Package session runs one live duplex voice session at a time.
//
// A [Controller] owns the lifecycle: it opens the microphone, the speaker and
// the remote channel in that order, then runs two activities until the
// session ends. The capture activity encodes microphone frames and sends them
// upstream. The inbound activity consumes the channel's event stream and
// routes each event to the playback scheduler, the transcript aggregator or
// the tool-call bridge. Every connection attempt builds a fresh [liveSession]
// holding all handles, so nothing leaks from one session into the next.
//
// State machine:
//
//	Idle ──Connect──▶ Connecting ──ok──▶ Live ──remote close──▶ Closing ──▶ Idle
//	                       │                 └──fatal error───▶ Errored ──▶ Idle
//	                       └──failure──▶ Errored ──▶ Idle
//
// Disconnect returns to Idle from any state.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/MrWong99/voxcoach/internal/observe"
	"github.com/MrWong99/voxcoach/internal/toolcall"
	"github.com/MrWong99/voxcoach/pkg/audio"
	"github.com/MrWong99/voxcoach/pkg/provider/s2s"
	"github.com/MrWong99/voxcoach/pkg/types"
)

// Default configuration values.
const (
	defaultFramesPerBuffer = 4096
	defaultCloseTimeout    = 5 * time.Second
)

// DefaultCaptureFormat is 16 kHz mono, the rate the microphone is opened at.
var DefaultCaptureFormat = audio.Format{SampleRate: 16000, Channels: 1}

// State is the lifecycle state of a [Controller].
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateLive
	StateClosing
	StateErrored
)

// String returns the lower-case name of the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateLive:
		return "live"
	case StateClosing:
		return "closing"
	case StateErrored:
		return "errored"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Config holds the collaborators and tuning of a [Controller].
type Config struct {
	// Provider dials the remote channel. Required.
	Provider s2s.Provider

	// ProviderName labels metrics and logs.
	ProviderName string

	// Microphone and Speaker are the audio devices. Required.
	Microphone audio.Microphone
	Speaker    audio.Speaker

	// Session is passed to the provider on every Connect. The vocabulary tool
	// is added automatically.
	Session s2s.SessionConfig

	// CaptureFormat is the microphone format. Default: 16 kHz mono.
	CaptureFormat audio.Format

	// FramesPerBuffer is the microphone frame size. Default: 4096.
	FramesPerBuffer int

	// StallTimeout ends the session when the microphone delivers nothing for
	// this long. Zero disables the check.
	StallTimeout time.Duration

	// CloseTimeout bounds every wait during teardown. Default: 5s.
	CloseTimeout time.Duration
}

// Callbacks are the host hooks of one session. All are optional.
//
// OnUtteranceDelta and OnVocabularyFound run on the inbound activity, in
// arrival order. OnError and OnClosed run once each at the end of the session.
type Callbacks struct {
	OnUtteranceDelta  func(types.UtteranceUpdate)
	OnVocabularyFound func(types.VocabularyRecord)
	OnError           func(error)
	OnClosed          func()
}

// Option is a functional option for [New].
type Option func(*Controller)

// WithErrorObserver registers fn to receive every non-fatal error: decode
// failures, tool validation failures and acknowledgment send failures. fn
// may be called concurrently.
func WithErrorObserver(fn func(error)) Option {
	return func(c *Controller) { c.observer = fn }
}

// WithClock overrides the clock used for utterance and record timestamps.
func WithClock(now func() time.Time) Option {
	return func(c *Controller) { c.now = now }
}

// WithMetrics records session metrics on m instead of the package default.
func WithMetrics(m *observe.Metrics) Option {
	return func(c *Controller) { c.metrics = m }
}

// Controller manages at most one live session. All methods are safe for
// concurrent use.
type Controller struct {
	cfg      Config
	observer func(error)
	now      func() time.Time
	metrics  *observe.Metrics

	mu          sync.Mutex
	state       State
	live        *liveSession
	abort       context.CancelFunc
	aborted     bool
	connectDone chan struct{}
}

// New returns an idle Controller.
func New(cfg Config, opts ...Option) *Controller {
	if cfg.CaptureFormat.SampleRate == 0 {
		cfg.CaptureFormat = DefaultCaptureFormat
	}
	if cfg.FramesPerBuffer <= 0 {
		cfg.FramesPerBuffer = defaultFramesPerBuffer
	}
	if cfg.CloseTimeout <= 0 {
		cfg.CloseTimeout = defaultCloseTimeout
	}
	if !slices.ContainsFunc(cfg.Session.Tools, func(t s2s.ToolDefinition) bool {
		return t.Name == toolcall.VocabularyToolName
	}) {
		cfg.Session.Tools = append(slices.Clone(cfg.Session.Tools), toolcall.VocabularyTool())
	}

	c := &Controller{
		cfg:      cfg,
		observer: func(error) {},
		now:      time.Now,
	}
	for _, o := range opts {
		o(c)
	}
	if c.metrics == nil {
		c.metrics = observe.DefaultMetrics()
	}
	return c
}

// State returns the current lifecycle state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Connect starts a session. It blocks until the session is live or has
// failed. On failure OnError and OnClosed are invoked once each, every
// acquired resource is released, the Controller returns to Idle and the
// error is also returned.
func (c *Controller) Connect(ctx context.Context, cb Callbacks) error {
	c.mu.Lock()
	if c.state != StateIdle {
		c.mu.Unlock()
		return ErrBusy
	}
	connCtx, cancel := context.WithCancel(ctx)
	c.state = StateConnecting
	c.abort = cancel
	c.aborted = false
	c.connectDone = make(chan struct{})
	done := c.connectDone
	c.mu.Unlock()
	defer close(done)
	defer cancel()

	cb = cb.withDefaults()
	start := time.Now()
	connCtx, span := observe.StartSpan(connCtx, "session.connect")
	defer span.End()

	ls, err := c.open(connCtx, cb)

	c.mu.Lock()
	aborted := c.aborted
	c.abort = nil
	if err == nil && !aborted {
		c.state = StateLive
		c.live = ls
		ls.start()
		c.mu.Unlock()

		c.metrics.ConnectDuration.Record(ctx, time.Since(start).Seconds())
		c.metrics.ActiveSessions.Add(ctx, 1)
		c.metrics.RecordProviderRequest(ctx, c.cfg.ProviderName, "ok")
		ls.log.Info("session live", "provider", c.cfg.ProviderName, "connect_time", time.Since(start))
		return nil
	}
	if aborted {
		c.state = StateClosing
	} else {
		c.state = StateErrored
	}
	c.mu.Unlock()

	if ls != nil {
		ls.release(c.cfg.CloseTimeout)
	}
	if aborted {
		err = ErrAborted
		slog.Info("session: connect aborted")
	} else {
		observe.FailSpan(span, err)
		c.recordError(ctx, err)
		c.metrics.RecordProviderRequest(ctx, c.cfg.ProviderName, "error")
		slog.Error("session: connect failed", "err", err)
	}

	c.mu.Lock()
	c.state = StateIdle
	c.mu.Unlock()

	if !aborted {
		cb.OnError(err)
	}
	cb.OnClosed()
	return err
}

// open acquires the microphone, the speaker and the remote channel in that
// order. On error every handle acquired so far is left in the returned
// liveSession for release.
func (c *Controller) open(ctx context.Context, cb Callbacks) (*liveSession, error) {
	ls := newLiveSession(c, cb)

	in, err := c.cfg.Microphone.Open(ctx, c.cfg.CaptureFormat, c.cfg.FramesPerBuffer)
	if err != nil {
		return nil, &Error{Kind: KindPermission, Op: "open microphone", Err: err}
	}
	ls.in = in

	outFormat := c.cfg.Provider.Capabilities().Formats.Output
	out, err := c.cfg.Speaker.Open(ctx, outFormat)
	if err != nil {
		return ls, &Error{Kind: KindDevice, Op: "open speaker", Err: err}
	}
	ls.out = out

	handle, err := c.cfg.Provider.Connect(ctx, c.cfg.Session)
	if err != nil {
		return ls, &Error{Kind: KindChannel, Op: "connect", Err: err}
	}
	ls.handle = handle

	// A fallback provider may negotiate a different output rate than the
	// primary advertised.
	if got := handle.Formats().Output; got != outFormat {
		if err := out.Close(); err != nil {
			ls.log.Warn("close speaker before reopen", "err", err)
		}
		ls.out = nil
		if ls.out, err = c.cfg.Speaker.Open(ctx, got); err != nil {
			return ls, &Error{Kind: KindDevice, Op: "reopen speaker", Err: err}
		}
	}

	ls.build()
	return ls, nil
}

// Disconnect ends the current session and always leaves the Controller Idle.
// It is idempotent and safe from any state. A user-initiated disconnect
// invokes OnClosed once and never OnError.
func (c *Controller) Disconnect(ctx context.Context) {
	c.mu.Lock()
	switch c.state {
	case StateIdle:
		c.mu.Unlock()
		return
	case StateConnecting:
		c.aborted = true
		abort, done := c.abort, c.connectDone
		c.mu.Unlock()
		if abort != nil {
			abort()
		}
		select {
		case <-done:
		case <-ctx.Done():
			return
		}
		// Connect may have gone live between the state check and the abort.
		c.Disconnect(ctx)
		return
	}
	ls := c.live
	c.mu.Unlock()

	if ls != nil {
		c.terminate(ls, nil)
	}
}

// terminate tears ls down exactly once and reports the outcome to the host.
// cause is nil for user disconnects and clean remote closes.
func (c *Controller) terminate(ls *liveSession, cause error) {
	first := false
	ls.once.Do(func() {
		first = true

		c.mu.Lock()
		if cause != nil {
			c.state = StateErrored
		} else {
			c.state = StateClosing
		}
		c.mu.Unlock()

		ls.shutdown(c.cfg.CloseTimeout)

		c.mu.Lock()
		if c.live == ls {
			c.live = nil
		}
		c.state = StateIdle
		c.mu.Unlock()
		c.metrics.ActiveSessions.Add(context.Background(), -1)
	})
	if !first {
		return
	}

	if cause != nil {
		c.recordError(context.Background(), cause)
		ls.log.Error("session ended with error", "err", cause)
		ls.cb.OnError(cause)
	} else {
		ls.log.Info("session closed")
	}
	ls.cb.OnClosed()
}

// report delivers a non-fatal error to the observer.
func (c *Controller) report(err error) {
	c.recordError(context.Background(), err)
	c.observer(err)
}

func (c *Controller) recordError(ctx context.Context, err error) {
	var se *Error
	if errors.As(err, &se) {
		c.metrics.RecordSessionError(ctx, se.Kind.String())
	}
}

func (cb Callbacks) withDefaults() Callbacks {
	if cb.OnUtteranceDelta == nil {
		cb.OnUtteranceDelta = func(types.UtteranceUpdate) {}
	}
	if cb.OnVocabularyFound == nil {
		cb.OnVocabularyFound = func(types.VocabularyRecord) {}
	}
	if cb.OnError == nil {
		cb.OnError = func(error) {}
	}
	if cb.OnClosed == nil {
		cb.OnClosed = func() {}
	}
	return cb
}
