package mixer_test

import (
	"errors"
	"testing"
	"time"

	"github.com/MrWong99/voxcoach/pkg/audio"
	"github.com/MrWong99/voxcoach/pkg/audio/mixer"
)

// testFormat runs at 1 kHz so one frame is exactly one millisecond.
var testFormat = audio.Format{SampleRate: 1000, Channels: 1}

// constBuffer returns a buffer of n samples all set to v.
func constBuffer(n int, v float32) audio.Buffer {
	s := make([]float32, n)
	for i := range s {
		s[i] = v
	}
	return audio.Buffer{Samples: s, Format: testFormat}
}

func isDone(v audio.Voice) bool {
	select {
	case <-v.Done():
		return true
	default:
		return false
	}
}

func TestTimeline_RenderAdvancesClock(t *testing.T) {
	t.Parallel()

	tl := mixer.New(testFormat)
	out := make([]float32, 10)
	tl.Render(out)
	tl.Render(out)

	if got := tl.Now(); got != 20*time.Millisecond {
		t.Errorf("Now() = %v, want 20ms", got)
	}
	for i, s := range out {
		if s != 0 {
			t.Fatalf("sample %d = %v, want silence", i, s)
		}
	}
}

func TestTimeline_ScheduleAtOffset(t *testing.T) {
	t.Parallel()

	tl := mixer.New(testFormat)
	v, err := tl.Schedule(constBuffer(4, 0.5), 3*time.Millisecond)
	if err != nil {
		t.Fatalf("Schedule: %v", err)
	}

	out := make([]float32, 10)
	tl.Render(out)

	want := []float32{0, 0, 0, 0.5, 0.5, 0.5, 0.5, 0, 0, 0}
	for i := range want {
		if out[i] != want[i] {
			t.Errorf("sample %d = %v, want %v", i, out[i], want[i])
		}
	}
	if !isDone(v) {
		t.Error("voice should be done after its samples were rendered")
	}
}

func TestTimeline_BackToBackIsGapless(t *testing.T) {
	t.Parallel()

	tl := mixer.New(testFormat)
	if _, err := tl.Schedule(constBuffer(5, 0.25), 0); err != nil {
		t.Fatal(err)
	}
	if _, err := tl.Schedule(constBuffer(5, 0.5), 5*time.Millisecond); err != nil {
		t.Fatal(err)
	}

	out := make([]float32, 4)
	var got []float32
	for range 3 {
		tl.Render(out)
		got = append(got, out...)
	}
	for i := range 10 {
		want := float32(0.25)
		if i >= 5 {
			want = 0.5
		}
		if got[i] != want {
			t.Errorf("sample %d = %v, want %v", i, got[i], want)
		}
	}
	if got[10] != 0 || got[11] != 0 {
		t.Errorf("expected silence after both voices, got %v", got[10:])
	}
}

func TestTimeline_PastStartClampedToNow(t *testing.T) {
	t.Parallel()

	tl := mixer.New(testFormat)
	tl.Render(make([]float32, 10))

	if _, err := tl.Schedule(constBuffer(2, 0.5), 0); err != nil {
		t.Fatal(err)
	}
	out := make([]float32, 3)
	tl.Render(out)
	if out[0] != 0.5 || out[1] != 0.5 || out[2] != 0 {
		t.Errorf("out = %v, want [0.5 0.5 0]", out)
	}
}

func TestTimeline_OverlapMixesAndClamps(t *testing.T) {
	t.Parallel()

	tl := mixer.New(testFormat)
	_, _ = tl.Schedule(constBuffer(2, 0.75), 0)
	_, _ = tl.Schedule(constBuffer(2, 0.75), 0)

	out := make([]float32, 2)
	tl.Render(out)
	if out[0] != 1 || out[1] != 1 {
		t.Errorf("out = %v, want clamped [1 1]", out)
	}
}

func TestTimeline_StopSilencesVoice(t *testing.T) {
	t.Parallel()

	tl := mixer.New(testFormat)
	v, _ := tl.Schedule(constBuffer(10, 0.5), 0)

	out := make([]float32, 3)
	tl.Render(out)
	v.Stop()
	if !isDone(v) {
		t.Fatal("Done should be closed after Stop")
	}
	tl.Render(out)
	for i, s := range out {
		if s != 0 {
			t.Errorf("sample %d = %v after Stop, want 0", i, s)
		}
	}
	if n := tl.Active(); n != 0 {
		t.Errorf("Active() = %d, want 0", n)
	}
}

func TestTimeline_Close(t *testing.T) {
	t.Parallel()

	tl := mixer.New(testFormat)
	pending, _ := tl.Schedule(constBuffer(5, 0.5), time.Second)

	if err := tl.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := tl.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if !isDone(pending) {
		t.Error("pending voice should be stopped by Close")
	}
	if _, err := tl.Schedule(constBuffer(1, 0), 0); !errors.Is(err, mixer.ErrClosed) {
		t.Errorf("Schedule after Close err = %v, want ErrClosed", err)
	}
}

func TestTimeline_FormatMismatch(t *testing.T) {
	t.Parallel()

	tl := mixer.New(testFormat)
	buf := audio.Buffer{Samples: []float32{0}, Format: audio.Format{SampleRate: 24000, Channels: 1}}
	if _, err := tl.Schedule(buf, 0); err == nil {
		t.Fatal("expected error for mismatched format")
	}
}

func TestTimeline_Gain(t *testing.T) {
	t.Parallel()

	tl := mixer.New(testFormat, mixer.WithGain(0.5), mixer.WithQueueCapacity(4))
	_, _ = tl.Schedule(constBuffer(1, 0.5), 0)
	out := make([]float32, 1)
	tl.Render(out)
	if out[0] != 0.25 {
		t.Errorf("out[0] = %v, want 0.25", out[0])
	}
}
