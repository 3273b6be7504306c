// Package features computes log-mel filterbank features incrementally from
// streaming audio.
//
// The extractor follows the Kaldi online-fbank conventions the transducer
// models were trained with: 25 ms Povey-windowed frames every 10 ms, no
// dither, DC removal, 0.97 pre-emphasis and frames centred on their shift
// (snip_edges=false, reflecting the signal at both ends). Input at a
// different sample rate is converted with a windowed-sinc [LinearResample]
// bound to the first rate observed.
package features

import (
	"errors"
	"fmt"
)

var (
	// ErrSampleRateChanged is returned when AcceptWaveform is called with a
	// rate different from an earlier call on the same extractor.
	ErrSampleRateChanged = errors.New("features: input sample rate changed")

	// ErrInputFinished is returned by AcceptWaveform after InputFinished.
	ErrInputFinished = errors.New("features: input already finished")
)

// Config describes the features a model expects.
type Config struct {
	// SampleRate is the rate features are computed at. Default: 16000.
	SampleRate int

	// FeatureDim is the number of mel bins per frame. Default: 80.
	FeatureDim int

	// FrameShiftMs is the hop between frames. Default: 10.
	FrameShiftMs float64

	// FrameLengthMs is the analysis window length. Default: 25.
	FrameLengthMs float64

	// LowFreq is the lower edge of the first mel bin in Hz. Default: 20.
	LowFreq float64

	// HighFreq is the upper edge of the last mel bin. Zero means Nyquist and
	// a negative value is an offset below Nyquist.
	HighFreq float64
}

// DefaultConfig returns the configuration used by the streaming transducer
// models: 16 kHz, 80 bins.
func DefaultConfig() Config {
	return Config{}.withDefaults()
}

func (c Config) withDefaults() Config {
	if c.SampleRate <= 0 {
		c.SampleRate = 16000
	}
	if c.FeatureDim <= 0 {
		c.FeatureDim = 80
	}
	if c.FrameShiftMs <= 0 {
		c.FrameShiftMs = 10
	}
	if c.FrameLengthMs <= 0 {
		c.FrameLengthMs = 25
	}
	if c.LowFreq <= 0 {
		c.LowFreq = 20
	}
	return c
}

// Validate reports configuration values the filterbank cannot honour.
func (c Config) Validate() error {
	c = c.withDefaults()
	nyquist := 0.5 * float64(c.SampleRate)
	high := c.HighFreq
	if high <= 0 {
		high += nyquist
	}
	if c.LowFreq >= high || high > nyquist {
		return fmt.Errorf("features: invalid mel range [%g, %g] for nyquist %g", c.LowFreq, high, nyquist)
	}
	if c.FrameLengthMs < c.FrameShiftMs {
		return fmt.Errorf("features: frame length %gms shorter than shift %gms", c.FrameLengthMs, c.FrameShiftMs)
	}
	return nil
}

// FrameShiftSeconds returns the hop between frames in seconds.
func (c Config) FrameShiftSeconds() float64 {
	return c.withDefaults().FrameShiftMs / 1000
}

func (c Config) windowShift() int {
	return int(float64(c.SampleRate) * 0.001 * c.FrameShiftMs)
}

func (c Config) windowSize() int {
	return int(float64(c.SampleRate) * 0.001 * c.FrameLengthMs)
}

func (c Config) paddedWindowSize() int {
	n := 1
	for n < c.windowSize() {
		n <<= 1
	}
	return n
}
