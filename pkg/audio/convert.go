package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
)

// ErrUnsupportedFormat is returned for an unknown [InputFormat].
var ErrUnsupportedFormat = errors.New("audio: unsupported input format")

// Converter turns binary payloads of one stream into mono float32 samples at
// the stream's sample rate. It logs a warning on the first malformed payload.
// Create one per stream; not designed for shared use across goroutines.
type Converter struct {
	Format     InputFormat
	SampleRate int
	Channels   int

	opus          *opusDecoder
	warnedCorrupt sync.Once
}

// NewConverter returns a converter for payloads in format with the given
// sample rate and channel count.
func NewConverter(format InputFormat, sampleRate, channels int) (*Converter, error) {
	if !format.IsValid() {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}
	if sampleRate <= 0 {
		return nil, fmt.Errorf("audio: sample rate must be positive, got %d", sampleRate)
	}
	if channels <= 0 {
		channels = 1
	}
	c := &Converter{Format: format, SampleRate: sampleRate, Channels: channels}
	if format == FormatOpus {
		dec, err := newOpusDecoder(sampleRate, channels)
		if err != nil {
			return nil, err
		}
		c.opus = dec
	}
	return c, nil
}

// Convert decodes one payload. A PCM payload whose length is not a whole
// number of frames is dropped with a warning and yields no samples.
func (c *Converter) Convert(payload []byte) ([]float32, error) {
	switch c.Format {
	case FormatPCM16:
		if !c.aligned(payload, 2) {
			return nil, nil
		}
		return Downmix(PCM16ToFloat32(payload), c.Channels), nil
	case FormatF32:
		if !c.aligned(payload, 4) {
			return nil, nil
		}
		return Downmix(F32ToFloat32(payload), c.Channels), nil
	case FormatOpus:
		pcm, err := c.opus.decode(payload)
		if err != nil {
			return nil, err
		}
		return Downmix(Int16ToFloat32(pcm), c.Channels), nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, c.Format)
}

func (c *Converter) aligned(payload []byte, bytesPerSample int) bool {
	if len(payload)%(bytesPerSample*c.Channels) == 0 {
		return true
	}
	c.warnedCorrupt.Do(func() {
		slog.Warn("audio converter: payload is not a whole number of frames, dropping",
			"bytes", len(payload),
			"format", string(c.Format),
			"layout", formatString(c.SampleRate, c.Channels),
		)
	})
	return false
}

// PCM16ToFloat32 converts little-endian int16 PCM to samples in [-1, 1).
// A trailing odd byte is ignored.
func PCM16ToFloat32(pcm []byte) []float32 {
	out := make([]float32, len(pcm)/2)
	for i := range out {
		out[i] = float32(int16(binary.LittleEndian.Uint16(pcm[i*2:]))) / 32768
	}
	return out
}

// Int16ToFloat32 converts int16 samples to [-1, 1).
func Int16ToFloat32(pcm []int16) []float32 {
	out := make([]float32, len(pcm))
	for i, s := range pcm {
		out[i] = float32(s) / 32768
	}
	return out
}

// F32ToFloat32 reinterprets little-endian IEEE float32 bytes.
func F32ToFloat32(b []byte) []float32 {
	out := make([]float32, len(b)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return out
}

// Float32ToPCM16 converts samples to little-endian int16 PCM, clamping to the
// int16 range.
func Float32ToPCM16(samples []float32) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(floatToInt16(s)))
	}
	return out
}

func floatToInt16(s float32) int16 {
	v := int32(s * 32768)
	if v > math.MaxInt16 {
		v = math.MaxInt16
	} else if v < math.MinInt16 {
		v = math.MinInt16
	}
	return int16(v)
}

// Downmix averages interleaved channels into mono. Mono input is returned
// unchanged; a trailing partial frame is dropped.
func Downmix(samples []float32, channels int) []float32 {
	if channels <= 1 {
		return samples
	}
	frames := len(samples) / channels
	out := make([]float32, frames)
	for i := range frames {
		var sum float32
		for ch := range channels {
			sum += samples[i*channels+ch]
		}
		out[i] = sum / float32(channels)
	}
	return out
}
