package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// ErrMalformedPCM is returned by [DecodePCM16] when a payload is empty or its
// length is not a whole number of sample frames.
var ErrMalformedPCM = errors.New("audio: malformed pcm payload")

// EncodePCM16 converts float32 samples in [-1, 1] to little-endian signed 16-bit
// PCM. Each sample maps to clamp(round(s*32767), -32768, 32767).
func EncodePCM16(samples []float32) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		v := math.Round(float64(s) * 32767)
		if v > 32767 {
			v = 32767
		} else if v < -32768 {
			v = -32768
		}
		binary.LittleEndian.PutUint16(out[i*2:], uint16(int16(v)))
	}
	return out
}

// DecodePCM16 converts a little-endian signed 16-bit PCM payload into a float32
// [Buffer] by dividing each sample by 32768. It is a pure function; the payload
// is never retained.
func DecodePCM16(data []byte, sampleRate, channels int) (Buffer, error) {
	if sampleRate <= 0 || channels <= 0 {
		return Buffer{}, fmt.Errorf("audio: decode: invalid format %s", formatString(sampleRate, channels))
	}
	frameBytes := 2 * channels
	if len(data) == 0 || len(data)%frameBytes != 0 {
		return Buffer{}, fmt.Errorf("%w: %d bytes for %s", ErrMalformedPCM, len(data), formatString(sampleRate, channels))
	}
	samples := make([]float32, len(data)/2)
	for i := range samples {
		samples[i] = float32(int16(binary.LittleEndian.Uint16(data[i*2:]))) / 32768
	}
	return Buffer{
		Samples: samples,
		Format:  Format{SampleRate: sampleRate, Channels: channels},
	}, nil
}
