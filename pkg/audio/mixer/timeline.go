package mixer

import (
	"container/heap"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/MrWong99/voxcoach/pkg/audio"
)

// Compile-time interface assertions.
var (
	_ audio.OutputStream = (*Timeline)(nil)
	_ audio.Voice        = (*voice)(nil)
)

// ErrClosed is returned by [Timeline.Schedule] after [Timeline.Close].
var ErrClosed = errors.New("mixer: timeline closed")

// defaultQueueCap is the initial capacity hint for the pending-voice queue.
const defaultQueueCap = 16

// Option configures a [Timeline] during construction.
type Option func(*Timeline)

// WithQueueCapacity sets the initial capacity hint for the internal pending
// queue. This does not impose a hard limit; the queue grows as needed.
func WithQueueCapacity(n int) Option {
	return func(t *Timeline) {
		if n > 0 {
			t.pending = make(voiceHeap, 0, n)
		}
	}
}

// WithGain scales the mixed output before clamping. The default is 1.
func WithGain(g float32) Option {
	return func(t *Timeline) {
		if g > 0 {
			t.gain = g
		}
	}
}

// Timeline is a sample-accurate output clock that mixes scheduled voices.
//
// Voices waiting for their start frame sit in a min-heap backed by
// [container/heap]; once the clock reaches them they move to the playing set
// and are summed into every rendered block until exhausted or stopped.
//
// All exported methods are safe for concurrent use.
type Timeline struct {
	format audio.Format
	gain   float32

	mu      sync.Mutex
	pos     int64 // frames rendered since creation
	seq     uint64
	pending voiceHeap
	playing []*voice
	closed  bool
}

// New creates a Timeline rendering in the given format.
func New(format audio.Format, opts ...Option) *Timeline {
	t := &Timeline{
		format:  format,
		gain:    1,
		pending: make(voiceHeap, 0, defaultQueueCap),
	}
	for _, o := range opts {
		o(t)
	}
	heap.Init(&t.pending)
	return t
}

// Format returns the format the timeline renders in.
func (t *Timeline) Format() audio.Format { return t.format }

// Now returns the amount of audio rendered so far.
func (t *Timeline) Now() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.format.FramesDuration(int(t.pos))
}

// Schedule queues buf to start at the given clock position. Positions already
// rendered are clamped to the current clock.
func (t *Timeline) Schedule(buf audio.Buffer, at time.Duration) (audio.Voice, error) {
	if buf.Format != t.format {
		return nil, fmt.Errorf("mixer: buffer format %s does not match timeline format %s", buf.Format, t.format)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return nil, ErrClosed
	}

	start := max(t.format.DurationFrames(at), t.pos)
	t.seq++
	v := &voice{
		tl:      t,
		samples: buf.Samples,
		start:   start,
		seq:     t.seq,
		done:    make(chan struct{}),
	}
	if len(v.samples) == 0 {
		v.finish()
		return v, nil
	}
	heap.Push(&t.pending, v)
	return v, nil
}

// Render fills out with the next block of mixed interleaved samples and
// advances the clock by len(out)/channels frames. Silence is rendered where no
// voice is playing. Render is intended to be called from a device callback.
func (t *Timeline) Render(out []float32) {
	clear(out)

	t.mu.Lock()
	defer t.mu.Unlock()

	ch := max(t.format.Channels, 1)
	frames := int64(len(out) / ch)
	end := t.pos + frames

	for t.pending.Len() > 0 && t.pending[0].start < end {
		t.playing = append(t.playing, heap.Pop(&t.pending).(*voice))
	}

	kept := t.playing[:0]
	for _, v := range t.playing {
		if v.stopped {
			continue
		}
		i := int(max(v.start-t.pos, 0)) * ch
		for ; i < len(out) && v.offset < len(v.samples); i++ {
			out[i] += v.samples[v.offset]
			v.offset++
		}
		if v.offset >= len(v.samples) {
			v.finish()
			continue
		}
		kept = append(kept, v)
	}
	clear(t.playing[len(kept):])
	t.playing = kept

	for i, s := range out {
		s *= t.gain
		if s > 1 {
			s = 1
		} else if s < -1 {
			s = -1
		}
		out[i] = s
	}
	t.pos = end
}

// Active returns the number of voices that are pending or playing.
func (t *Timeline) Active() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	n := 0
	for _, v := range t.pending {
		if !v.stopped {
			n++
		}
	}
	for _, v := range t.playing {
		if !v.stopped {
			n++
		}
	}
	return n
}

// Close stops every voice and rejects further scheduling. Close is idempotent.
func (t *Timeline) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return nil
	}
	t.closed = true
	for _, v := range t.pending {
		v.stopLocked()
	}
	for _, v := range t.playing {
		v.stopLocked()
	}
	t.pending = t.pending[:0]
	t.playing = nil
	return nil
}

// voice is one scheduled buffer on a Timeline. Its mutable fields are guarded
// by the owning timeline's mutex.
type voice struct {
	tl      *Timeline
	samples []float32
	start   int64 // frame at which playback begins
	seq     uint64
	offset  int // next sample index to render
	stopped bool

	done     chan struct{}
	doneOnce sync.Once
}

// Stop cancels the voice. Stopped voices are dropped lazily by Render.
func (v *voice) Stop() {
	v.tl.mu.Lock()
	defer v.tl.mu.Unlock()
	v.stopLocked()
}

// Done is closed once the voice finished playing or was stopped.
func (v *voice) Done() <-chan struct{} { return v.done }

func (v *voice) stopLocked() {
	v.stopped = true
	v.finish()
}

func (v *voice) finish() {
	v.doneOnce.Do(func() { close(v.done) })
}
