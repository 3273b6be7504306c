// Package whisper provides whisper.cpp backends for offline recognition.
//
// [Native] links whisper.cpp through its Go bindings (CGO). The whisper.cpp
// static library (libwhisper.a) and headers (whisper.h) must be available at
// link time via LIBRARY_PATH and C_INCLUDE_PATH. [Server] talks to a running
// whisper-server over its REST API instead.
//
// whisper.cpp only accepts 16 kHz input; both backends reject other rates.
package whisper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	whisperlib "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"

	"github.com/MrWong99/streamasr/pkg/offline"
)

const defaultLanguage = "en"

// ErrUnsupportedRate is returned for input that is not 16 kHz.
var ErrUnsupportedRate = errors.New("whisper: input must be 16000 Hz")

// Native implements offline.Recognizer using the whisper.cpp Go bindings.
// The model is loaded once and shared; every Transcribe call gets its own
// context, so concurrent calls do not interfere.
type Native struct {
	model    whisperlib.Model
	language string
	threads  uint
}

// NativeOption is a functional option for configuring a Native backend.
type NativeOption func(*Native)

// WithLanguage sets the language code for transcription (e.g. "en", "de").
// Defaults to "en".
func WithLanguage(lang string) NativeOption {
	return func(n *Native) { n.language = lang }
}

// WithThreads sets the number of CPU threads per transcription. Zero keeps
// the whisper.cpp default.
func WithThreads(threads uint) NativeOption {
	return func(n *Native) { n.threads = threads }
}

// NewNative loads the whisper.cpp model at modelPath. The caller must call
// Close when the backend is no longer needed.
func NewNative(modelPath string, opts ...NativeOption) (*Native, error) {
	if modelPath == "" {
		return nil, errors.New("whisper: modelPath must not be empty")
	}
	model, err := whisperlib.New(modelPath)
	if err != nil {
		return nil, fmt.Errorf("whisper: load model %q: %w", modelPath, err)
	}
	n := &Native{model: model, language: defaultLanguage}
	for _, o := range opts {
		o(n)
	}
	return n, nil
}

// Close releases the whisper model.
func (n *Native) Close() error {
	if n.model != nil {
		return n.model.Close()
	}
	return nil
}

// Transcribe implements offline.Recognizer.
func (n *Native) Transcribe(ctx context.Context, samples []float32, sampleRate int) (offline.Transcript, error) {
	if sampleRate != whisperlib.SampleRate {
		return offline.Transcript{}, fmt.Errorf("%w: got %d", ErrUnsupportedRate, sampleRate)
	}
	if err := ctx.Err(); err != nil {
		return offline.Transcript{}, err
	}

	wctx, err := n.model.NewContext()
	if err != nil {
		return offline.Transcript{}, fmt.Errorf("whisper: create context: %w", err)
	}
	if err := wctx.SetLanguage(n.language); err != nil {
		slog.Warn("whisper: failed to set language, using default", "language", n.language, "error", err)
	}
	if n.threads > 0 {
		wctx.SetThreads(n.threads)
	}

	if err := wctx.Process(samples, nil, nil, nil); err != nil {
		return offline.Transcript{}, fmt.Errorf("whisper: process audio: %w", err)
	}

	var (
		parts  []string
		stamps []float32
	)
	for {
		segment, err := wctx.NextSegment()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return offline.Transcript{}, fmt.Errorf("whisper: read segment: %w", err)
		}
		text := strings.TrimSpace(segment.Text)
		if text == "" {
			continue
		}
		parts = append(parts, text)
		stamps = append(stamps, float32(segment.Start.Seconds()))
	}
	// Tokens are whisper segments here; each timestamp is a segment start.
	return offline.Transcript{
		Text:       strings.Join(parts, " "),
		Tokens:     parts,
		Timestamps: stamps,
	}, nil
}

var _ offline.Recognizer = (*Native)(nil)
