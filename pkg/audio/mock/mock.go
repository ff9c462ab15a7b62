// Package mock provides in-memory implementations of the [audio.Microphone],
// [audio.Speaker] and related stream interfaces for use in unit tests.
//
// All mocks are safe for concurrent use. They record every method call so that
// tests can assert on call counts and arguments, and they expose exported fields
// that the test can set to control return values.
//
// Typical usage:
//
//	mic := &mock.Microphone{}
//	spk := &mock.Speaker{}
//	in, _ := mic.Open(ctx, format, 4096)
//	mic.Last().Push(frame)
//	spk.Last().SetNow(250 * time.Millisecond)
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/MrWong99/voxcoach/pkg/audio"
)

// Compile-time interface assertions.
var (
	_ audio.Microphone   = (*Microphone)(nil)
	_ audio.InputStream  = (*InputStream)(nil)
	_ audio.Speaker      = (*Speaker)(nil)
	_ audio.OutputStream = (*OutputStream)(nil)
	_ audio.Voice        = (*Voice)(nil)
)

// defaultFrameBuffer is the channel capacity of streams created by Microphone.
const defaultFrameBuffer = 64

// ─── Microphone ───────────────────────────────────────────────────────────────

// MicOpenCall records a single invocation of [Microphone.Open].
type MicOpenCall struct {
	Format          audio.Format
	FramesPerBuffer int
}

// Microphone is a mock implementation of [audio.Microphone].
type Microphone struct {
	mu sync.Mutex

	// OpenErr, if non-nil, is returned by every Open call.
	OpenErr error

	// Stream, if non-nil, is returned by Open. Otherwise each Open creates a
	// fresh InputStream.
	Stream *InputStream

	// OpenCalls records every call to Open in order.
	OpenCalls []MicOpenCall

	opened []*InputStream
}

// Open records the call and returns Stream or a new InputStream.
func (m *Microphone) Open(_ context.Context, format audio.Format, framesPerBuffer int) (audio.InputStream, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.OpenCalls = append(m.OpenCalls, MicOpenCall{Format: format, FramesPerBuffer: framesPerBuffer})
	if m.OpenErr != nil {
		return nil, m.OpenErr
	}
	s := m.Stream
	if s == nil {
		s = NewInputStream(defaultFrameBuffer)
	}
	m.opened = append(m.opened, s)
	return s, nil
}

// Last returns the most recently opened stream, or nil.
func (m *Microphone) Last() *InputStream {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.opened) == 0 {
		return nil
	}
	return m.opened[len(m.opened)-1]
}

// OpenCount returns the number of Open calls.
func (m *Microphone) OpenCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.OpenCalls)
}

// InputStream is a mock implementation of [audio.InputStream]. Tests feed it
// with Push and end it with Fail or Close.
type InputStream struct {
	mu     sync.Mutex
	frames chan []float32
	err    error
	closed bool

	// CloseCallCount is the number of times Close was called.
	CloseCallCount int
}

// NewInputStream creates a stream whose frame channel holds up to buffer frames.
func NewInputStream(buffer int) *InputStream {
	return &InputStream{frames: make(chan []float32, buffer)}
}

// Push delivers a frame without blocking. It returns false if the stream is
// closed or its buffer is full.
func (s *InputStream) Push(frame []float32) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	select {
	case s.frames <- frame:
		return true
	default:
		return false
	}
}

// Fail ends the stream with err, simulating device loss.
func (s *InputStream) Fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.err = err
	s.closed = true
	close(s.frames)
}

// Frames implements [audio.InputStream].
func (s *InputStream) Frames() <-chan []float32 { return s.frames }

// Err implements [audio.InputStream].
func (s *InputStream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close records the call and closes the frame channel once.
func (s *InputStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CloseCallCount++
	if !s.closed {
		s.closed = true
		close(s.frames)
	}
	return nil
}

// Closed reports whether the stream has ended.
func (s *InputStream) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// ─── Speaker ──────────────────────────────────────────────────────────────────

// Speaker is a mock implementation of [audio.Speaker].
type Speaker struct {
	mu sync.Mutex

	// OpenErr, if non-nil, is returned by every Open call.
	OpenErr error

	// OpenCalls records the format of every Open call in order.
	OpenCalls []audio.Format

	opened []*OutputStream
}

// Open records the call and returns a fresh OutputStream whose clock is zero.
func (sp *Speaker) Open(_ context.Context, format audio.Format) (audio.OutputStream, error) {
	sp.mu.Lock()
	defer sp.mu.Unlock()
	sp.OpenCalls = append(sp.OpenCalls, format)
	if sp.OpenErr != nil {
		return nil, sp.OpenErr
	}
	o := &OutputStream{}
	sp.opened = append(sp.opened, o)
	return o, nil
}

// Last returns the most recently opened stream, or nil.
func (sp *Speaker) Last() *OutputStream {
	sp.mu.Lock()
	defer sp.mu.Unlock()
	if len(sp.opened) == 0 {
		return nil
	}
	return sp.opened[len(sp.opened)-1]
}

// ScheduleCall records a single invocation of [OutputStream.Schedule].
type ScheduleCall struct {
	Buffer audio.Buffer
	At     time.Duration
	Voice  *Voice
}

// OutputStream is a mock implementation of [audio.OutputStream] with a
// manually driven clock.
type OutputStream struct {
	mu  sync.Mutex
	now time.Duration

	// ScheduleErr, if non-nil, is returned by every Schedule call.
	ScheduleErr error

	// ScheduleCalls records every successful Schedule call in order.
	ScheduleCalls []ScheduleCall

	// CloseCallCount is the number of times Close was called.
	CloseCallCount int
}

// Now implements [audio.OutputStream].
func (o *OutputStream) Now() time.Duration {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.now
}

// SetNow moves the clock to d.
func (o *OutputStream) SetNow(d time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.now = d
}

// Advance moves the clock forward by d.
func (o *OutputStream) Advance(d time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.now += d
}

// Schedule records the call and returns a new Voice.
func (o *OutputStream) Schedule(buf audio.Buffer, at time.Duration) (audio.Voice, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.ScheduleErr != nil {
		return nil, o.ScheduleErr
	}
	v := NewVoice()
	o.ScheduleCalls = append(o.ScheduleCalls, ScheduleCall{Buffer: buf, At: at, Voice: v})
	return v, nil
}

// Calls returns a copy of the recorded Schedule calls.
func (o *OutputStream) Calls() []ScheduleCall {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]ScheduleCall, len(o.ScheduleCalls))
	copy(out, o.ScheduleCalls)
	return out
}

// Close records the call.
func (o *OutputStream) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.CloseCallCount++
	return nil
}

// Closed reports whether Close was called at least once.
func (o *OutputStream) Closed() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.CloseCallCount > 0
}

// Voice is a mock implementation of [audio.Voice].
type Voice struct {
	mu        sync.Mutex
	stopCount int
	done      chan struct{}
	once      sync.Once
}

// NewVoice returns a voice that is still playing.
func NewVoice() *Voice {
	return &Voice{done: make(chan struct{})}
}

// Stop records the call and marks the voice done.
func (v *Voice) Stop() {
	v.mu.Lock()
	v.stopCount++
	v.mu.Unlock()
	v.Finish()
}

// Finish marks the voice as having played to the end.
func (v *Voice) Finish() {
	v.once.Do(func() { close(v.done) })
}

// Done implements [audio.Voice].
func (v *Voice) Done() <-chan struct{} { return v.done }

// Stopped reports whether Stop was called.
func (v *Voice) Stopped() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.stopCount > 0
}
