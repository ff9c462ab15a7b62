// Package playback schedules decoded model audio for gapless playback.
//
// A [Scheduler] keeps a cursor on the output clock marking where the next
// buffer should begin. Each buffer starts at max(cursor, now) and pushes the
// cursor forward by its duration, so consecutive buffers play back-to-back
// without overlap, and a buffer that arrives late starts immediately instead
// of in the past.
package playback

import (
	"fmt"
	"time"

	"github.com/MrWong99/voxcoach/pkg/audio"
)

// Scheduler places decoded audio on an [audio.OutputStream].
//
// A Scheduler is not safe for concurrent use; it is owned by the goroutine
// that consumes the remote channel's events.
type Scheduler struct {
	out    audio.OutputStream
	format audio.Format
	cursor time.Duration
	active map[audio.Voice]struct{}
}

// New creates a Scheduler for payloads in the given format. The cursor starts
// at zero.
func New(out audio.OutputStream, format audio.Format) *Scheduler {
	return &Scheduler{
		out:    out,
		format: format,
		active: make(map[audio.Voice]struct{}),
	}
}

// Enqueue decodes a PCM16 payload and schedules it. It returns the clock
// position the buffer will start at. A payload that cannot be decoded is
// dropped and the error wraps [audio.ErrMalformedPCM]; the cursor is left
// untouched.
func (s *Scheduler) Enqueue(payload []byte) (time.Duration, error) {
	buf, err := audio.DecodePCM16(payload, s.format.SampleRate, s.format.Channels)
	if err != nil {
		return 0, fmt.Errorf("playback: %w", err)
	}

	start := max(s.cursor, s.out.Now())
	v, err := s.out.Schedule(buf, start)
	if err != nil {
		return 0, fmt.Errorf("playback: schedule: %w", err)
	}
	s.cursor = start + buf.Duration()
	s.active[v] = struct{}{}
	return start, nil
}

// Interrupt stops every scheduled buffer and moves the cursor to the current
// output clock, so the next buffer starts immediately.
func (s *Scheduler) Interrupt() {
	s.stopAll()
	s.cursor = s.out.Now()
}

// Stop stops every scheduled buffer and resets the cursor to zero. Use it when
// the output stream itself is being torn down.
func (s *Scheduler) Stop() {
	s.stopAll()
	s.cursor = 0
}

// Cursor returns the clock position at which the next buffer would start if
// the output clock has not passed it.
func (s *Scheduler) Cursor() time.Duration { return s.cursor }

// Active returns the number of scheduled buffers that have not finished.
func (s *Scheduler) Active() int {
	for v := range s.active {
		select {
		case <-v.Done():
			delete(s.active, v)
		default:
		}
	}
	return len(s.active)
}

func (s *Scheduler) stopAll() {
	for v := range s.active {
		v.Stop()
	}
	clear(s.active)
}
