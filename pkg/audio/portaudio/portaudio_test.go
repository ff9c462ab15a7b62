package portaudio

import (
	"errors"
	"testing"
	"time"
)

// drain reads frames until the channel closes or the deadline passes and
// returns the number of frames read.
func drain(t *testing.T, ch <-chan []float32, within time.Duration) int {
	t.Helper()
	deadline := time.After(within)
	n := 0
	for {
		select {
		case _, ok := <-ch:
			if !ok {
				return n
			}
			n++
		case <-deadline:
			t.Fatalf("frames channel still open after %s", within)
		}
	}
}

func TestInputStream_StallEndsStream(t *testing.T) {
	t.Parallel()

	s := newInputStream(60 * time.Millisecond)
	go s.watch()

	for range 3 {
		s.callback([]float32{0.1, 0.2})
		time.Sleep(10 * time.Millisecond)
	}
	// The device goes away: no more callbacks.

	if n := drain(t, s.Frames(), 2*time.Second); n != 3 {
		t.Errorf("frames before stall = %d, want 3", n)
	}
	if err := s.Err(); !errors.Is(err, ErrInputStalled) {
		t.Fatalf("Err() = %v, want ErrInputStalled", err)
	}

	// Late callbacks and Close after a failure are harmless.
	s.callback([]float32{0.3})
	if err := s.Close(); err != nil {
		t.Errorf("Close after stall: %v", err)
	}
}

func TestInputStream_CloseIsClean(t *testing.T) {
	t.Parallel()

	s := newInputStream(time.Hour)
	go s.watch()
	s.callback([]float32{0.5})

	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if n := drain(t, s.Frames(), time.Second); n != 1 {
		t.Errorf("frames = %d, want 1", n)
	}
	if err := s.Err(); err != nil {
		t.Errorf("Err() after Close = %v, want nil", err)
	}
}

func TestInputStream_CopiesBlocks(t *testing.T) {
	t.Parallel()

	s := newInputStream(time.Hour)
	block := []float32{0.25, 0.5}
	s.callback(block)
	block[0] = 9

	got := <-s.Frames()
	if got[0] != 0.25 {
		t.Errorf("frame[0] = %v, want 0.25 (callback buffer must be copied)", got[0])
	}
	_ = s.Close()
}
