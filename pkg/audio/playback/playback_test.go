package playback_test

import (
	"errors"
	"testing"
	"time"

	"github.com/MrWong99/voxcoach/pkg/audio"
	"github.com/MrWong99/voxcoach/pkg/audio/mock"
	"github.com/MrWong99/voxcoach/pkg/audio/playback"
)

var outFormat = audio.Format{SampleRate: 24000, Channels: 1}

// pcmFor returns a silent PCM16 payload lasting d at 24 kHz mono.
func pcmFor(d time.Duration) []byte {
	samples := int(outFormat.DurationFrames(d))
	return make([]byte, samples*2)
}

func TestScheduler_ConsecutiveBuffersAreContiguous(t *testing.T) {
	t.Parallel()

	out := &mock.OutputStream{}
	s := playback.New(out, outFormat)

	durations := []time.Duration{100 * time.Millisecond, 250 * time.Millisecond, 40 * time.Millisecond, 500 * time.Millisecond}
	for i, d := range durations {
		// The clock creeps forward but never catches up with the cursor.
		out.Advance(10 * time.Millisecond)
		if _, err := s.Enqueue(pcmFor(d)); err != nil {
			t.Fatalf("Enqueue %d: %v", i, err)
		}
	}

	calls := out.Calls()
	if len(calls) != len(durations) {
		t.Fatalf("got %d Schedule calls, want %d", len(calls), len(durations))
	}
	if calls[0].At != 10*time.Millisecond {
		t.Errorf("first buffer starts at %v, want 10ms", calls[0].At)
	}
	for i := 1; i < len(calls); i++ {
		prevEnd := calls[i-1].At + calls[i-1].Buffer.Duration()
		if calls[i].At != prevEnd {
			t.Errorf("buffer %d starts at %v, want %v (end of previous)", i, calls[i].At, prevEnd)
		}
	}
	last := calls[len(calls)-1]
	if got, want := s.Cursor(), last.At+last.Buffer.Duration(); got != want {
		t.Errorf("Cursor() = %v, want %v", got, want)
	}
}

func TestScheduler_LateBufferStartsNow(t *testing.T) {
	t.Parallel()

	out := &mock.OutputStream{}
	s := playback.New(out, outFormat)

	if _, err := s.Enqueue(pcmFor(100 * time.Millisecond)); err != nil {
		t.Fatal(err)
	}
	out.SetNow(400 * time.Millisecond)
	start, err := s.Enqueue(pcmFor(100 * time.Millisecond))
	if err != nil {
		t.Fatal(err)
	}
	if start != 400*time.Millisecond {
		t.Errorf("start = %v, want 400ms", start)
	}
	if s.Cursor() != 500*time.Millisecond {
		t.Errorf("Cursor() = %v, want 500ms", s.Cursor())
	}
}

func TestScheduler_InterruptStopsAllAndResetsToNow(t *testing.T) {
	t.Parallel()

	out := &mock.OutputStream{}
	s := playback.New(out, outFormat)

	for range 3 {
		if _, err := s.Enqueue(pcmFor(time.Second)); err != nil {
			t.Fatal(err)
		}
	}
	if s.Active() != 3 {
		t.Fatalf("Active() = %d, want 3", s.Active())
	}

	const T = 1200 * time.Millisecond
	out.SetNow(T)
	s.Interrupt()

	for i, c := range out.Calls() {
		if !c.Voice.Stopped() {
			t.Errorf("voice %d not stopped", i)
		}
	}
	if s.Active() != 0 {
		t.Errorf("Active() = %d after Interrupt, want 0", s.Active())
	}
	if s.Cursor() != T {
		t.Errorf("Cursor() = %v after Interrupt, want %v", s.Cursor(), T)
	}

	start, err := s.Enqueue(pcmFor(200 * time.Millisecond))
	if err != nil {
		t.Fatal(err)
	}
	if start < T {
		t.Errorf("buffer after interrupt starts at %v, want >= %v", start, T)
	}
}

func TestScheduler_StopResetsCursorToZero(t *testing.T) {
	t.Parallel()

	out := &mock.OutputStream{}
	s := playback.New(out, outFormat)
	_, _ = s.Enqueue(pcmFor(300 * time.Millisecond))
	_, _ = s.Enqueue(pcmFor(300 * time.Millisecond))

	s.Stop()
	if s.Cursor() != 0 {
		t.Errorf("Cursor() = %v after Stop, want 0", s.Cursor())
	}
	for i, c := range out.Calls() {
		if !c.Voice.Stopped() {
			t.Errorf("voice %d not stopped", i)
		}
	}
}

func TestScheduler_MalformedPayloadDropped(t *testing.T) {
	t.Parallel()

	out := &mock.OutputStream{}
	s := playback.New(out, outFormat)
	_, _ = s.Enqueue(pcmFor(100 * time.Millisecond))
	before := s.Cursor()

	for _, payload := range [][]byte{nil, {1, 2, 3}} {
		if _, err := s.Enqueue(payload); !errors.Is(err, audio.ErrMalformedPCM) {
			t.Errorf("Enqueue(%v) err = %v, want ErrMalformedPCM", payload, err)
		}
	}
	if s.Cursor() != before {
		t.Errorf("cursor moved on malformed payload: %v -> %v", before, s.Cursor())
	}
	if n := len(out.Calls()); n != 1 {
		t.Errorf("got %d Schedule calls, want 1", n)
	}
}

func TestScheduler_ActivePrunesFinishedVoices(t *testing.T) {
	t.Parallel()

	out := &mock.OutputStream{}
	s := playback.New(out, outFormat)
	_, _ = s.Enqueue(pcmFor(100 * time.Millisecond))
	_, _ = s.Enqueue(pcmFor(100 * time.Millisecond))

	out.Calls()[0].Voice.Finish()
	if n := s.Active(); n != 1 {
		t.Errorf("Active() = %d, want 1", n)
	}
}

func TestScheduler_ScheduleError(t *testing.T) {
	t.Parallel()

	out := &mock.OutputStream{ScheduleErr: errors.New("device gone")}
	s := playback.New(out, outFormat)
	if _, err := s.Enqueue(pcmFor(100 * time.Millisecond)); err == nil {
		t.Fatal("expected error")
	}
	if s.Cursor() != 0 {
		t.Errorf("Cursor() = %v, want 0", s.Cursor())
	}
}
