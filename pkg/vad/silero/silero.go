// Package silero runs the Silero VAD v5 classifier through ONNX Runtime.
//
// The model takes a (1, 512) window at 16 kHz, a (2, 1, 128) recurrent
// state and the sample rate, and returns the speech probability and the next
// state. Each [Session] owns its tensors and state.
package silero

import (
	"errors"
	"fmt"
	"sync"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/MrWong99/streamasr/pkg/inference/onnx"
	"github.com/MrWong99/streamasr/pkg/vad"
)

const (
	windowSize = 512
	stateSize  = 128
	sampleRate = 16000
)

// ErrUnsupportedRate is returned for sample rates other than 16 kHz.
var ErrUnsupportedRate = errors.New("silero: only 16000 Hz is supported")

// Engine creates sessions over one model file.
type Engine struct {
	modelPath string
}

// New returns an engine for the model at path. [onnx.Init] must have been
// called.
func New(path string) (*Engine, error) {
	if path == "" {
		return nil, errors.New("silero: model path is required")
	}
	return &Engine{modelPath: path}, nil
}

// NewSession implements vad.Engine.
func (e *Engine) NewSession(cfg vad.Config) (vad.Session, error) {
	cfg = cfg.WithDefaults()
	if cfg.SampleRate != sampleRate {
		return nil, fmt.Errorf("%w: got %d", ErrUnsupportedRate, cfg.SampleRate)
	}
	if cfg.WindowSize != windowSize {
		return nil, fmt.Errorf("silero: window size must be %d, got %d", windowSize, cfg.WindowSize)
	}
	if !onnx.Initialized() {
		return nil, errors.New("silero: onnx runtime not initialised")
	}
	return newSession(e.modelPath)
}

// Session is one stream's classifier state.
type Session struct {
	mu      sync.Mutex
	session *ort.AdvancedSession

	input  *ort.Tensor[float32] // [1, 512]
	state  *ort.Tensor[float32] // [2, 1, 128]
	sr     *ort.Tensor[int64]   // [1]
	output *ort.Tensor[float32] // [1, 1]
	stateN *ort.Tensor[float32] // [2, 1, 128]
}

func newSession(path string) (_ *Session, err error) {
	s := &Session{}
	defer func() {
		if err != nil {
			s.destroy()
		}
	}()

	if s.input, err = ort.NewEmptyTensor[float32](ort.NewShape(1, windowSize)); err != nil {
		return nil, fmt.Errorf("silero: input tensor: %w", err)
	}
	if s.state, err = ort.NewEmptyTensor[float32](ort.NewShape(2, 1, stateSize)); err != nil {
		return nil, fmt.Errorf("silero: state tensor: %w", err)
	}
	if s.sr, err = ort.NewTensor(ort.NewShape(1), []int64{sampleRate}); err != nil {
		return nil, fmt.Errorf("silero: sr tensor: %w", err)
	}
	if s.output, err = ort.NewEmptyTensor[float32](ort.NewShape(1, 1)); err != nil {
		return nil, fmt.Errorf("silero: output tensor: %w", err)
	}
	if s.stateN, err = ort.NewEmptyTensor[float32](ort.NewShape(2, 1, stateSize)); err != nil {
		return nil, fmt.Errorf("silero: stateN tensor: %w", err)
	}
	clear(s.state.GetData())
	clear(s.stateN.GetData())

	s.session, err = ort.NewAdvancedSession(path,
		[]string{"input", "state", "sr"},
		[]string{"output", "stateN"},
		[]ort.Value{s.input, s.state, s.sr},
		[]ort.Value{s.output, s.stateN},
		nil,
	)
	if err != nil {
		return nil, fmt.Errorf("silero: create session: %w", err)
	}
	return s, nil
}

// Probability implements vad.Session.
func (s *Session) Probability(window []float32) (float32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.session == nil {
		return 0, errors.New("silero: session closed")
	}
	if len(window) != windowSize {
		return 0, fmt.Errorf("silero: window has %d samples, want %d", len(window), windowSize)
	}

	copy(s.input.GetData(), window)
	if err := s.session.Run(); err != nil {
		return 0, fmt.Errorf("silero: inference: %w", err)
	}
	copy(s.state.GetData(), s.stateN.GetData())
	return s.output.GetData()[0], nil
}

// WindowSize implements vad.Session.
func (s *Session) WindowSize() int { return windowSize }

// Reset implements vad.Session.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != nil {
		clear(s.state.GetData())
	}
}

// Close implements vad.Session. Safe to call multiple times.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.destroy()
	return nil
}

func (s *Session) destroy() {
	if s.session != nil {
		s.session.Destroy()
		s.session = nil
	}
	for _, t := range []*ort.Tensor[float32]{s.input, s.state, s.output, s.stateN} {
		if t != nil {
			t.Destroy()
		}
	}
	if s.sr != nil {
		s.sr.Destroy()
	}
	s.input, s.state, s.output, s.stateN, s.sr = nil, nil, nil, nil, nil
}

var (
	_ vad.Engine  = (*Engine)(nil)
	_ vad.Session = (*Session)(nil)
)
