// Package portaudio implements the [audio.Microphone] and [audio.Speaker]
// interfaces on top of the PortAudio host API.
//
// Both devices use PortAudio's callback streams. The capture callback copies
// each block into a channel with a non-blocking send, dropping blocks when the
// consumer falls behind; the playback callback pulls mixed samples from a
// [mixer.Timeline], which also serves as the stream's output clock.
//
// PortAudio has no notification for a device that disappears: the callback
// simply stops firing. A watchdog ends the input stream with [ErrInputStalled]
// when no block has arrived for several block durations.
package portaudio

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	pa "github.com/gordonklaus/portaudio"

	"github.com/MrWong99/voxcoach/pkg/audio"
	"github.com/MrWong99/voxcoach/pkg/audio/mixer"
)

// Compile-time interface assertions.
var (
	_ audio.Microphone   = (*Microphone)(nil)
	_ audio.Speaker      = (*Speaker)(nil)
	_ audio.InputStream  = (*inputStream)(nil)
	_ audio.OutputStream = (*outputStream)(nil)
)

const (
	// frameQueue is the number of captured blocks buffered before blocks are
	// dropped.
	frameQueue = 8

	// defaultOutputFrames is the playback callback block size.
	defaultOutputFrames = 512

	// stallBlocks is the number of block durations without a callback after
	// which the input device is considered gone.
	stallBlocks = 8

	// minStall bounds the watchdog for very small blocks.
	minStall = time.Second
)

// ErrInputStalled is reported by the input stream's Err when the device stops
// delivering blocks without the stream being closed.
var ErrInputStalled = errors.New("portaudio: input device stopped delivering audio")

// Host owns the PortAudio library lifetime. Create one with [Init] and call
// [Host.Terminate] when every stream has been closed.
type Host struct {
	terminated atomic.Bool
}

// Init initialises PortAudio.
func Init() (*Host, error) {
	if err := pa.Initialize(); err != nil {
		return nil, fmt.Errorf("portaudio: initialize: %w", err)
	}
	return &Host{}, nil
}

// Terminate releases PortAudio. Subsequent calls are no-ops.
func (h *Host) Terminate() error {
	if h.terminated.Swap(true) {
		return nil
	}
	if err := pa.Terminate(); err != nil {
		return fmt.Errorf("portaudio: terminate: %w", err)
	}
	return nil
}

// Microphone returns the default capture device.
func (h *Host) Microphone() *Microphone { return &Microphone{} }

// Speaker returns the default playback device. framesPerBuffer sets the
// callback block size; zero selects a default.
func (h *Host) Speaker(framesPerBuffer int) *Speaker {
	if framesPerBuffer <= 0 {
		framesPerBuffer = defaultOutputFrames
	}
	return &Speaker{framesPerBuffer: framesPerBuffer}
}

// ── Microphone ─────────────────────────────────────────────────────────────────

// Microphone captures from the system default input device.
type Microphone struct{}

// Open starts a callback input stream delivering framesPerBuffer samples per
// channel per block.
func (m *Microphone) Open(_ context.Context, format audio.Format, framesPerBuffer int) (audio.InputStream, error) {
	s := newInputStream(max(minStall, stallBlocks*format.FramesDuration(framesPerBuffer)))
	stream, err := pa.OpenDefaultStream(format.Channels, 0, float64(format.SampleRate), framesPerBuffer, s.callback)
	if err != nil {
		return nil, classifyOpenErr(err)
	}
	s.stream = stream
	if err := stream.Start(); err != nil {
		_ = stream.Close()
		return nil, classifyOpenErr(err)
	}
	go s.watch()
	return s, nil
}

type inputStream struct {
	stream     *pa.Stream
	frames     chan []float32
	stallAfter time.Duration
	stop       chan struct{}

	// last is the time of the latest callback in Unix nanoseconds.
	last atomic.Int64

	mu      sync.Mutex
	closed  bool
	ended   bool
	dropped int
	errVal  error
}

func newInputStream(stallAfter time.Duration) *inputStream {
	s := &inputStream{
		frames:     make(chan []float32, frameQueue),
		stallAfter: stallAfter,
		stop:       make(chan struct{}),
	}
	s.last.Store(time.Now().UnixNano())
	return s
}

// callback runs on the PortAudio thread. in is reused by PortAudio after the
// callback returns, so it is copied.
func (s *inputStream) callback(in []float32) {
	s.last.Store(time.Now().UnixNano())

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.ended {
		return
	}
	cp := make([]float32, len(in))
	copy(cp, in)
	select {
	case s.frames <- cp:
	default:
		s.dropped++
	}
}

// watch fails the stream once no callback has fired for stallAfter.
func (s *inputStream) watch() {
	t := time.NewTicker(s.stallAfter / 4)
	defer t.Stop()
	for {
		select {
		case <-s.stop:
			return
		case now := <-t.C:
			if idle := now.Sub(time.Unix(0, s.last.Load())); idle > s.stallAfter {
				s.fail(fmt.Errorf("%w: no block for %s", ErrInputStalled, idle.Truncate(time.Millisecond)))
				return
			}
		}
	}
}

// fail records err and ends the frame channel. It is a no-op once the stream
// has been closed or has already failed.
func (s *inputStream) fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.ended {
		return
	}
	s.errVal = err
	s.ended = true
	close(s.frames)
	slog.Error("portaudio: input stream failed", "err", err)
}

func (s *inputStream) Frames() <-chan []float32 { return s.frames }

func (s *inputStream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.errVal
}

func (s *inputStream) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	dropped := s.dropped
	s.mu.Unlock()
	close(s.stop)

	var errs []error
	if s.stream != nil {
		if err := s.stream.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("portaudio: stop input: %w", err))
		}
		if err := s.stream.Close(); err != nil {
			errs = append(errs, fmt.Errorf("portaudio: close input: %w", err))
		}
	}

	s.mu.Lock()
	if !s.ended {
		s.ended = true
		close(s.frames)
	}
	s.mu.Unlock()

	if dropped > 0 {
		slog.Warn("portaudio: capture blocks dropped", "count", dropped)
	}
	return errors.Join(errs...)
}

// ── Speaker ────────────────────────────────────────────────────────────────────

// Speaker plays through the system default output device.
type Speaker struct {
	framesPerBuffer int
}

// Open starts a callback output stream rendering from a fresh timeline.
func (sp *Speaker) Open(_ context.Context, format audio.Format) (audio.OutputStream, error) {
	tl := mixer.New(format)
	stream, err := pa.OpenDefaultStream(0, format.Channels, float64(format.SampleRate), sp.framesPerBuffer, tl.Render)
	if err != nil {
		return nil, fmt.Errorf("portaudio: open output: %w", err)
	}
	if err := stream.Start(); err != nil {
		_ = stream.Close()
		return nil, fmt.Errorf("portaudio: start output: %w", err)
	}
	return &outputStream{Timeline: tl, stream: stream}, nil
}

// outputStream pairs a PortAudio stream with the timeline it renders.
type outputStream struct {
	*mixer.Timeline
	stream    *pa.Stream
	closeOnce sync.Once
	closeErr  error
}

func (o *outputStream) Close() error {
	o.closeOnce.Do(func() {
		_ = o.Timeline.Close()
		var errs []error
		if err := o.stream.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("portaudio: stop output: %w", err))
		}
		if err := o.stream.Close(); err != nil {
			errs = append(errs, fmt.Errorf("portaudio: close output: %w", err))
		}
		o.closeErr = errors.Join(errs...)
	})
	return o.closeErr
}

// classifyOpenErr maps PortAudio open failures onto [audio.ErrPermissionDenied]
// where the host API reports that the device could not be accessed.
func classifyOpenErr(err error) error {
	if errors.Is(err, pa.InvalidDevice) || errors.Is(err, pa.DeviceUnavailable) ||
		strings.Contains(strings.ToLower(err.Error()), "permission") {
		return fmt.Errorf("portaudio: open input: %w: %w", audio.ErrPermissionDenied, err)
	}
	return fmt.Errorf("portaudio: open input: %w", err)
}
