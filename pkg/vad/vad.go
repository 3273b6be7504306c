// Package vad segments continuous audio into speech segments.
//
// A speech classifier (Silero VAD or a test double) scores fixed-size
// windows through a [Session]. A [Gate] turns the score stream into a
// debounced speech/silence decision, and a [Detector] keeps the audio in a
// [CircularBuffer] and cuts a [SpeechSegment] each time speech ends.
//
// Sessions carry recurrent model state and are not safe for concurrent use.
// Engines are; create one session per audio stream.
package vad

import (
	"errors"
	"fmt"
)

// Config holds the parameters of a detector.
type Config struct {
	// SampleRate of the audio in Hz. Default: 16000.
	SampleRate int `yaml:"sample_rate"`

	// Threshold is the probability above which a window counts as speech.
	// Default: 0.5.
	Threshold float32 `yaml:"threshold"`

	// MinSilenceDuration is how long the probability must stay low before
	// speech is considered over, in seconds. Default: 0.5.
	MinSilenceDuration float32 `yaml:"min_silence_duration"`

	// MinSpeechDuration is how long the probability must stay high before
	// speech is confirmed, in seconds. Default: 0.25.
	MinSpeechDuration float32 `yaml:"min_speech_duration"`

	// WindowSize is the number of samples per classifier call. Default: 512.
	WindowSize int `yaml:"window_size"`

	// BufferSeconds is the initial capacity of the audio buffer. Default: 60.
	BufferSeconds float32 `yaml:"buffer_seconds"`

	// MaxSpeechDuration is the buffered length in seconds after which the
	// detector forces speech to end. Default: 20.
	MaxSpeechDuration float32 `yaml:"max_speech_duration"`
}

// DefaultConfig returns the Silero VAD defaults at 16 kHz.
func DefaultConfig() Config {
	return Config{}.WithDefaults()
}

// WithDefaults fills zero fields with their defaults.
func (c Config) WithDefaults() Config {
	if c.SampleRate <= 0 {
		c.SampleRate = 16000
	}
	if c.Threshold <= 0 {
		c.Threshold = 0.5
	}
	if c.MinSilenceDuration <= 0 {
		c.MinSilenceDuration = 0.5
	}
	if c.MinSpeechDuration <= 0 {
		c.MinSpeechDuration = 0.25
	}
	if c.WindowSize <= 0 {
		c.WindowSize = 512
	}
	if c.BufferSeconds <= 0 {
		c.BufferSeconds = 60
	}
	if c.MaxSpeechDuration <= 0 {
		c.MaxSpeechDuration = 20
	}
	return c
}

// Validate reports out-of-range values.
func (c Config) Validate() error {
	var errs []error
	if c.Threshold < 0 || c.Threshold >= 1 {
		errs = append(errs, fmt.Errorf("threshold %g must be in [0, 1)", c.Threshold))
	}
	if c.SampleRate < 0 {
		errs = append(errs, fmt.Errorf("sample rate %d must be positive", c.SampleRate))
	}
	if c.WindowSize < 0 {
		errs = append(errs, fmt.Errorf("window size %d must be positive", c.WindowSize))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("vad: %w", err)
	}
	return nil
}

// Session scores audio windows for one stream.
type Session interface {
	// Probability returns the speech probability of window, which must hold
	// exactly WindowSize samples. Recurrent state advances with every call.
	Probability(window []float32) (float32, error)

	// WindowSize returns the number of samples per window.
	WindowSize() int

	// Reset clears recurrent state without releasing resources.
	Reset()

	// Close releases all resources. Calling Close more than once is safe.
	Close() error
}

// Engine creates sessions. Implementations must be safe for concurrent use.
type Engine interface {
	NewSession(cfg Config) (Session, error)
}
