package audio_test

import (
	"encoding/binary"
	"testing"
	"time"

	"github.com/MrWong99/voxcoach/pkg/audio"
)

// samplesToBytes converts a slice of int16 samples to little-endian byte representation.
func samplesToBytes(samples []int16) []byte {
	buf := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(s))
	}
	return buf
}

// bytesToSamples converts a little-endian byte slice to int16 samples.
func bytesToSamples(b []byte) []int16 {
	samples := make([]int16, len(b)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(b[i*2:]))
	}
	return samples
}

func TestResampleMono16_SameRate(t *testing.T) {
	pcm := samplesToBytes([]int16{100, 200, 300})
	out := audio.ResampleMono16(pcm, 16000, 16000)
	if len(out) != len(pcm) {
		t.Fatalf("length mismatch: got %d, want %d", len(out), len(pcm))
	}
}

func TestResampleMono16_CaptureToRealtime(t *testing.T) {
	// 2 samples at 16kHz → 3 samples at 24kHz (1.5x)
	pcm := samplesToBytes([]int16{1000, 2000})
	out := audio.ResampleMono16(pcm, 16000, 24000)
	got := bytesToSamples(out)
	if len(got) != 3 {
		t.Fatalf("expected 3 samples, got %d", len(got))
	}
	if got[0] != 1000 {
		t.Errorf("first sample: got %d, want 1000", got[0])
	}
	last := got[len(got)-1]
	if last < 1500 || last > 2000 {
		t.Errorf("last sample: got %d, want between 1500 and 2000", last)
	}
}

func TestResampleMono16_Downsample(t *testing.T) {
	pcm := samplesToBytes([]int16{100, 200, 300, 400, 500, 600})
	out := audio.ResampleMono16(pcm, 48000, 16000)
	got := bytesToSamples(out)
	if len(got) != 2 {
		t.Fatalf("expected 2 samples, got %d", len(got))
	}
}

func TestResampleMono16_ZeroRate(t *testing.T) {
	pcm := samplesToBytes([]int16{100, 200})
	for _, rates := range [][2]int{{0, 48000}, {48000, 0}, {-1, 48000}} {
		out := audio.ResampleMono16(pcm, rates[0], rates[1])
		if len(out) != len(pcm) {
			t.Errorf("rates %v: expected unchanged output, got len %d", rates, len(out))
		}
	}
}

func TestFormat_FramesDuration(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		format audio.Format
		frames int
		want   time.Duration
	}{
		{name: "half second at 24k", format: audio.Format{SampleRate: 24000, Channels: 1}, frames: 12000, want: 500 * time.Millisecond},
		{name: "capture frame at 16k", format: audio.Format{SampleRate: 16000, Channels: 1}, frames: 4096, want: 256 * time.Millisecond},
		{name: "zero rate", format: audio.Format{}, frames: 100, want: 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := tt.format.FramesDuration(tt.frames); got != tt.want {
				t.Errorf("FramesDuration(%d) = %v, want %v", tt.frames, got, tt.want)
			}
		})
	}
}

func TestFormat_String(t *testing.T) {
	if got := (audio.Format{SampleRate: 24000, Channels: 1}).String(); got != "24000Hz mono" {
		t.Errorf("String() = %q", got)
	}
	if got := (audio.Format{SampleRate: 48000, Channels: 2}).String(); got != "48000Hz stereo" {
		t.Errorf("String() = %q", got)
	}
}
