// Package audio moves sample data between the wire, files and the
// recognizer.
//
// Everything downstream of this package works on mono float32 samples in
// [-1, 1). Conversion from client payloads ([InputFormat]) happens in a
// per-stream [Converter]; WAV files are read and written with [ReadWAV] and
// [WriteWAV].
package audio

import (
	"fmt"
	"time"
)

// InputFormat names the encoding of binary audio payloads.
type InputFormat string

const (
	// FormatPCM16 is little-endian signed 16-bit PCM, interleaved.
	FormatPCM16 InputFormat = "pcm16"

	// FormatF32 is little-endian IEEE float32, interleaved.
	FormatF32 InputFormat = "f32"

	// FormatOpus is one Opus packet per payload.
	FormatOpus InputFormat = "opus"
)

// IsValid reports whether f is a known format.
func (f InputFormat) IsValid() bool {
	switch f {
	case FormatPCM16, FormatF32, FormatOpus:
		return true
	}
	return false
}

// Chunk is a block of mono samples.
type Chunk struct {
	Samples    []float32
	SampleRate int

	// Timestamp is the offset of the first sample from stream start.
	Timestamp time.Duration
}

// Duration returns the length of the chunk.
func (c Chunk) Duration() time.Duration {
	if c.SampleRate <= 0 {
		return 0
	}
	return time.Duration(len(c.Samples)) * time.Second / time.Duration(c.SampleRate)
}

// formatString returns a human-readable string for a sample rate and channel
// count, e.g. "48000Hz stereo".
func formatString(rate, channels int) string {
	ch := "mono"
	if channels == 2 {
		ch = "stereo"
	} else if channels > 2 {
		ch = fmt.Sprintf("%dch", channels)
	}
	return fmt.Sprintf("%dHz %s", rate, ch)
}
