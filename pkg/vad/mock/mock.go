// Package mock provides test doubles for the vad package interfaces.
//
// Use Engine to verify that sessions are created with the expected Config.
// Use Session to script speech probabilities and inspect the windows that
// were scored.
//
// Example:
//
//	sess := &mock.Session{Probs: []float32{0.1, 0.9, 0.9}}
//	eng := &mock.Engine{Session: sess}
//	s, _ := eng.NewSession(vad.DefaultConfig())
package mock

import (
	"sync"

	"github.com/MrWong99/streamasr/pkg/vad"
)

// NewSessionCall records a single invocation of Engine.NewSession.
type NewSessionCall struct {
	// Cfg is the Config passed to NewSession.
	Cfg vad.Config
}

// Engine is a mock implementation of vad.Engine.
type Engine struct {
	mu sync.Mutex

	// Session is returned by NewSession. If nil, NewSession returns a new
	// default Session.
	Session vad.Session

	// NewSessionErr, if non-nil, is returned as the error from NewSession.
	NewSessionErr error

	// NewSessionCalls records every call to NewSession in order.
	NewSessionCalls []NewSessionCall
}

// NewSession records the call and returns Session, NewSessionErr.
func (e *Engine) NewSession(cfg vad.Config) (vad.Session, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.NewSessionCalls = append(e.NewSessionCalls, NewSessionCall{Cfg: cfg})
	if e.NewSessionErr != nil {
		return nil, e.NewSessionErr
	}
	if e.Session != nil {
		return e.Session, nil
	}
	return &Session{Window: cfg.WithDefaults().WindowSize}, nil
}

// Reset clears all recorded calls. Thread-safe.
func (e *Engine) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.NewSessionCalls = nil
}

// Ensure Engine implements vad.Engine at compile time.
var _ vad.Engine = (*Engine)(nil)

// Session is a mock implementation of vad.Session.
type Session struct {
	mu sync.Mutex

	// Window is returned by WindowSize. Zero means 512.
	Window int

	// Probs is the scripted probability trace: call i returns Probs[i].
	// Calls past the end return Default.
	Probs   []float32
	Default float32

	// ProbFunc, when non-nil, replaces the trace lookup.
	ProbFunc func(call int, window []float32) float32

	// ProbabilityErr, if non-nil, is returned by every Probability call.
	ProbabilityErr error

	// CloseErr, if non-nil, is returned by Close.
	CloseErr error

	// --- Call records ---

	// ProbabilityCalls counts calls to Probability.
	ProbabilityCalls int

	// ResetCallCount is the number of times Reset was called.
	ResetCallCount int

	// CloseCallCount is the number of times Close was called.
	CloseCallCount int
}

// Probability records the call and returns the next scripted value.
func (s *Session) Probability(window []float32) (float32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.ProbabilityCalls
	s.ProbabilityCalls++
	if s.ProbabilityErr != nil {
		return 0, s.ProbabilityErr
	}
	if s.ProbFunc != nil {
		return s.ProbFunc(i, window), nil
	}
	if i < len(s.Probs) {
		return s.Probs[i], nil
	}
	return s.Default, nil
}

// WindowSize returns Window, or 512 when unset.
func (s *Session) WindowSize() int {
	if s.Window == 0 {
		return 512
	}
	return s.Window
}

// Reset records the call by incrementing ResetCallCount.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ResetCallCount++
}

// Close records the call and returns CloseErr.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CloseCallCount++
	return s.CloseErr
}

// Ensure Session implements vad.Session at compile time.
var _ vad.Session = (*Session)(nil)
