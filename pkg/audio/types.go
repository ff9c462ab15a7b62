package audio

import "time"

// Buffer is a block of decoded float32 samples ready to be scheduled on an
// output device. Samples are interleaved when Format.Channels > 1.
type Buffer struct {
	Samples []float32
	Format  Format
}

// Frames returns the number of sample frames (samples per channel).
func (b Buffer) Frames() int {
	if b.Format.Channels <= 0 {
		return 0
	}
	return len(b.Samples) / b.Format.Channels
}

// Duration returns the playback length of the buffer.
func (b Buffer) Duration() time.Duration {
	return b.Format.FramesDuration(b.Frames())
}
