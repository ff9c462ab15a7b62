package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/voxcoach/internal/toolcall"
	"github.com/MrWong99/voxcoach/internal/transcript"
	"github.com/MrWong99/voxcoach/pkg/audio"
	"github.com/MrWong99/voxcoach/pkg/audio/capture"
	"github.com/MrWong99/voxcoach/pkg/audio/playback"
	"github.com/MrWong99/voxcoach/pkg/provider/s2s"
	"github.com/MrWong99/voxcoach/pkg/types"
)

// liveSession holds every handle of one connection. It is created by Connect
// and discarded after teardown.
type liveSession struct {
	c   *Controller
	cb  Callbacks
	id  string
	log *slog.Logger

	in     audio.InputStream
	out    audio.OutputStream
	handle s2s.SessionHandle

	// Owned by the inbound activity once started.
	sched  *playback.Scheduler
	agg    *transcript.Aggregator
	bridge *toolcall.Bridge

	pipe *capture.Pipeline

	captureCtx  context.Context
	stopCapture context.CancelFunc
	captureDone chan struct{}
	inboundCtx  context.Context
	stopInbound context.CancelFunc
	inboundDone chan struct{}

	once sync.Once
}

func newLiveSession(c *Controller, cb Callbacks) *liveSession {
	id := uuid.NewString()
	ls := &liveSession{
		c:           c,
		cb:          cb,
		id:          id,
		log:         slog.With("session_id", id),
		captureDone: make(chan struct{}),
		inboundDone: make(chan struct{}),
	}
	ls.captureCtx, ls.stopCapture = context.WithCancel(context.Background())
	ls.inboundCtx, ls.stopInbound = context.WithCancel(context.Background())
	return ls
}

// build creates the per-connection components once every handle is open.
func (ls *liveSession) build() {
	c := ls.c
	formats := ls.handle.Formats()

	ls.sched = playback.New(ls.out, formats.Output)
	ls.agg = transcript.NewAggregator(ls.onUpdate, c.now)
	ls.bridge = toolcall.New(ls.handle, ls.cb.OnVocabularyFound,
		toolcall.WithObserver(ls.onToolError),
		toolcall.WithMetrics(c.metrics),
		toolcall.WithClock(c.now),
	)
	ls.pipe = capture.New(ls.handle, c.cfg.CaptureFormat,
		capture.WithTargetRate(formats.Input.SampleRate),
		capture.WithStallTimeout(c.cfg.StallTimeout),
		capture.WithFrameHook(func(n int) {
			c.metrics.RecordCaptureFrame(context.Background(), n)
		}),
	)
}

func (ls *liveSession) start() {
	go ls.runCapture()
	go ls.runInbound()
}

// runCapture is the capture activity. It owns the microphone stream.
func (ls *liveSession) runCapture() {
	defer close(ls.captureDone)

	err := ls.pipe.Run(ls.captureCtx, ls.in)
	if cerr := ls.in.Close(); cerr != nil {
		ls.log.Warn("close microphone", "err", cerr)
	}
	if err == nil {
		return
	}
	// A closed channel is reported by the inbound activity with its real cause.
	if errors.Is(err, s2s.ErrSessionClosed) {
		return
	}
	kind, op := KindDevice, "capture"
	if errors.Is(err, capture.ErrSend) {
		kind, op = KindChannel, "send audio"
	}
	go ls.c.terminate(ls, &Error{Kind: kind, Op: op, Err: err})
}

// runInbound is the inbound activity. It owns the scheduler, the aggregator,
// the bridge and the output stream.
func (ls *liveSession) runInbound() {
	defer close(ls.inboundDone)
	defer ls.stopPlayback()

	events := ls.handle.Events()
	for {
		select {
		case <-ls.inboundCtx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				var cause error
				if err := ls.handle.Err(); err != nil {
					cause = &Error{Kind: KindChannel, Op: "receive", Err: err}
				}
				go ls.c.terminate(ls, cause)
				return
			}
			ls.dispatch(ev)
		}
	}
}

func (ls *liveSession) dispatch(ev s2s.Event) {
	ctx := ls.inboundCtx
	m := ls.c.metrics

	switch e := ev.(type) {
	case s2s.AudioEvent:
		if _, err := ls.sched.Enqueue(e.Data); err != nil {
			m.RecordPlaybackBuffer(ctx, "dropped")
			kind, op := KindDevice, "schedule audio"
			if errors.Is(err, audio.ErrMalformedPCM) {
				kind, op = KindDecode, "decode audio"
			}
			ls.c.report(&Error{Kind: kind, Op: op, Err: err})
			return
		}
		m.RecordPlaybackBuffer(ctx, "scheduled")

	case s2s.TranscriptEvent:
		ls.agg.Append(e.Role, e.Text)

	case s2s.TurnCompleteEvent:
		ls.agg.Complete()

	case s2s.InterruptedEvent:
		ls.sched.Interrupt()
		ls.agg.Interrupt()
		m.Interruptions.Add(ctx, 1)
		ls.log.Debug("peer interrupted", "cursor", ls.sched.Cursor())

	case s2s.ToolCallEvent:
		ls.bridge.Handle(e.Calls)

	case s2s.ErrorEvent:
		kind := KindChannel
		if errors.Is(e.Err, s2s.ErrMalformedAudio) {
			kind = KindDecode
			m.RecordPlaybackBuffer(ctx, "dropped")
		}
		ls.c.report(&Error{Kind: kind, Op: "inbound event", Err: e.Err})

	default:
		ls.log.Debug("ignoring unknown event", "type", e)
	}
}

func (ls *liveSession) onUpdate(u types.UtteranceUpdate) {
	if u.Final {
		ls.c.metrics.RecordUtterance(context.Background(), u.Role.String())
	}
	ls.cb.OnUtteranceDelta(u)
}

func (ls *liveSession) onToolError(err error) {
	var verr *toolcall.ValidationError
	if errors.As(err, &verr) {
		ls.c.report(&Error{Kind: KindValidation, Op: "tool call", Err: err})
		return
	}
	ls.c.report(&Error{Kind: KindChannel, Op: "acknowledge tool call", Err: err})
}

// stopPlayback stops every scheduled buffer and releases the speaker.
func (ls *liveSession) stopPlayback() {
	ls.sched.Stop()
	ls.agg.Reset()
	if err := ls.out.Close(); err != nil {
		ls.log.Warn("close speaker", "err", err)
	}
}

// shutdown stops capture, then playback, then closes the remote channel.
// Every wait is bounded by timeout; failures are logged, never returned.
func (ls *liveSession) shutdown(timeout time.Duration) {
	ls.stopCapture()
	if !waitFor(ls.captureDone, timeout) {
		ls.log.Warn("capture did not stop in time", "timeout", timeout)
	}

	ls.stopInbound()
	if !waitFor(ls.inboundDone, timeout) {
		ls.log.Warn("inbound loop did not stop in time", "timeout", timeout)
	}

	ls.closeChannel(timeout)
}

// release closes whatever a failed connect attempt managed to open.
func (ls *liveSession) release(timeout time.Duration) {
	ls.stopCapture()
	ls.stopInbound()
	if ls.in != nil {
		if err := ls.in.Close(); err != nil {
			ls.log.Warn("close microphone", "err", err)
		}
	}
	if ls.out != nil {
		if err := ls.out.Close(); err != nil {
			ls.log.Warn("close speaker", "err", err)
		}
	}
	ls.closeChannel(timeout)
}

// closeChannel drains pending acknowledgments and closes the handle within
// timeout.
func (ls *liveSession) closeChannel(timeout time.Duration) {
	if ls.handle == nil {
		return
	}
	done := make(chan struct{})
	go func() {
		defer close(done)
		if ls.bridge != nil {
			ls.bridge.Wait()
		}
		if err := ls.handle.Close(); err != nil {
			ls.log.Warn("close channel", "err", err)
		}
	}()
	if !waitFor(done, timeout) {
		ls.log.Warn("channel did not close in time", "timeout", timeout)
	}
}

func waitFor(done <-chan struct{}, timeout time.Duration) bool {
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case <-done:
		return true
	case <-t.C:
		return false
	}
}
