// Package capture streams microphone audio to a remote channel.
//
// The [Pipeline] reads fixed-size float32 frames from an [audio.InputStream],
// encodes each one as little-endian PCM16, resamples it to the channel's input
// rate when the two differ, and sends it. Every device frame produces exactly
// one send, in capture order.
package capture

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MrWong99/voxcoach/pkg/audio"
)

var (
	// ErrDeviceLost is returned by [Pipeline.Run] when the input stream fails,
	// ends on its own, or stops delivering frames.
	ErrDeviceLost = errors.New("capture: input device lost")

	// ErrSend is returned by [Pipeline.Run] when the remote channel rejects a
	// frame.
	ErrSend = errors.New("capture: send failed")
)

// Sender accepts encoded audio frames. s2s.SessionHandle satisfies it.
type Sender interface {
	SendAudio(chunk []byte) error
}

// Option configures a [Pipeline].
type Option func(*Pipeline)

// WithTargetRate resamples every frame to rate before sending. Only mono
// capture is resampled.
func WithTargetRate(rate int) Option {
	return func(p *Pipeline) { p.targetRate = rate }
}

// WithStallTimeout makes Run fail with [ErrDeviceLost] when no frame arrives
// for d. Zero disables the check.
func WithStallTimeout(d time.Duration) Option {
	return func(p *Pipeline) { p.stallTimeout = d }
}

// WithFrameHook registers fn to be called after every successful send with the
// number of bytes sent.
func WithFrameHook(fn func(bytes int)) Option {
	return func(p *Pipeline) { p.onFrame = fn }
}

// Pipeline encodes captured frames and forwards them to a [Sender].
type Pipeline struct {
	sender       Sender
	format       audio.Format
	targetRate   int
	stallTimeout time.Duration
	onFrame      func(int)
}

// New creates a Pipeline for frames captured in format.
func New(sender Sender, format audio.Format, opts ...Option) *Pipeline {
	p := &Pipeline{
		sender:     sender,
		format:     format,
		targetRate: format.SampleRate,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Run forwards frames from in until ctx is cancelled, in which case it returns
// nil. Device failures wrap [ErrDeviceLost]; send failures wrap [ErrSend].
// Run does not close in.
func (p *Pipeline) Run(ctx context.Context, in audio.InputStream) error {
	var stall <-chan time.Time
	var timer *time.Timer
	if p.stallTimeout > 0 {
		timer = time.NewTimer(p.stallTimeout)
		defer timer.Stop()
		stall = timer.C
	}

	frames := in.Frames()
	for {
		select {
		case <-ctx.Done():
			return nil

		case <-stall:
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("%w: no frames for %s", ErrDeviceLost, p.stallTimeout)

		case frame, ok := <-frames:
			if !ok {
				if ctx.Err() != nil {
					return nil
				}
				if err := in.Err(); err != nil {
					return fmt.Errorf("%w: %w", ErrDeviceLost, err)
				}
				return fmt.Errorf("%w: input stream ended", ErrDeviceLost)
			}
			if timer != nil {
				timer.Reset(p.stallTimeout)
			}
			if err := p.send(frame); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return err
			}
		}
	}
}

func (p *Pipeline) send(frame []float32) error {
	pcm := audio.EncodePCM16(frame)
	if p.format.Channels == 1 && p.targetRate != p.format.SampleRate {
		pcm = audio.ResampleMono16(pcm, p.format.SampleRate, p.targetRate)
	}
	if err := p.sender.SendAudio(pcm); err != nil {
		return fmt.Errorf("%w: %w", ErrSend, err)
	}
	if p.onFrame != nil {
		p.onFrame(len(pcm))
	}
	return nil
}
