// Package audio defines the device abstractions, PCM codec and audio types used
// by voxcoach.
//
// The primary abstractions are:
//
//   - [Microphone] opens an [InputStream] delivering fixed-size float32 frames.
//   - [Speaker] opens an [OutputStream] on which decoded [Buffer] values are
//     scheduled at absolute positions of the output clock.
//
// Concrete backends live in sub-packages (audio/portaudio for real devices,
// audio/mock for tests). This package lives under pkg/ because hosts embedding
// voxcoach are expected to supply their own device backends.
package audio

import (
	"context"
	"errors"
	"time"
)

// ErrPermissionDenied is returned (wrapped) by [Microphone.Open] when the
// operating system refuses access to the capture device.
var ErrPermissionDenied = errors.New("audio: microphone permission denied")

// Microphone is a capture device.
//
// Implementations must be safe for concurrent use.
type Microphone interface {
	// Open starts capturing in the requested format. Each frame delivered on the
	// returned stream holds exactly framesPerBuffer samples per channel.
	// The ctx governs the open attempt only.
	Open(ctx context.Context, format Format, framesPerBuffer int) (InputStream, error)
}

// InputStream is an open capture stream. It is owned by a single consumer.
type InputStream interface {
	// Frames returns the channel of captured sample frames. The channel is
	// closed when the stream stops, either after Close or because the device
	// failed; call Err to tell the two apart.
	Frames() <-chan []float32

	// Err returns the error that stopped the stream, or nil after a clean Close.
	Err() error

	// Close stops capturing and releases the device. Calling Close more than
	// once is safe and returns nil.
	Close() error
}

// Speaker is a playback device.
//
// Implementations must be safe for concurrent use.
type Speaker interface {
	// Open starts an output stream in the requested format. The stream's clock
	// starts at zero.
	Open(ctx context.Context, format Format) (OutputStream, error)
}

// OutputStream is an open playback stream with a monotonic clock.
type OutputStream interface {
	// Now returns the current position of the output clock: how much audio
	// the device has rendered since the stream was opened.
	Now() time.Duration

	// Schedule queues buf to start playing when the clock reaches at. If at is
	// already in the past, playback starts immediately. The buffer's format
	// must match the format the stream was opened with.
	Schedule(buf Buffer, at time.Duration) (Voice, error)

	// Close stops every scheduled voice and releases the device. Calling Close
	// more than once is safe and returns nil.
	Close() error
}

// Voice is a handle to one scheduled buffer.
type Voice interface {
	// Stop cancels the voice. Stopping a finished voice is a no-op.
	Stop()

	// Done is closed once the voice finished playing or was stopped.
	Done() <-chan struct{}
}
