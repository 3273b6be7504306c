// Package mock provides an in-memory [sink.Sink] for tests.
//
// The mock records every written utterance and can be told to fail. It is
// safe for concurrent use via an internal [sync.Mutex].
package mock

import (
	"context"
	"slices"
	"sync"

	"github.com/MrWong99/streamasr/internal/sink"
)

// Sink is a configurable test double for [sink.Sink] and [sink.Reader].
type Sink struct {
	mu sync.Mutex

	written []sink.Utterance
	closed  int

	// WriteErr is returned by Write when non-nil. The utterance is not
	// recorded in that case.
	WriteErr error

	// CloseErr is returned by Close when non-nil.
	CloseErr error
}

// Write implements [sink.Sink].
func (s *Sink) Write(_ context.Context, u sink.Utterance) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.WriteErr != nil {
		return s.WriteErr
	}
	s.written = append(s.written, u)
	return nil
}

// List implements [sink.Reader].
func (s *Sink) List(_ context.Context, streamID string, limit int) ([]sink.Utterance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []sink.Utterance{}
	for _, u := range s.written {
		if u.StreamID == streamID {
			out = append(out, u)
		}
	}
	slices.SortStableFunc(out, func(a, b sink.Utterance) int { return a.Segment - b.Segment })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Close implements [sink.Sink].
func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed++
	return s.CloseErr
}

// Utterances returns a copy of everything written so far.
func (s *Sink) Utterances() []sink.Utterance {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.written)
}

// Closed reports how many times Close was called.
func (s *Sink) Closed() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

var (
	_ sink.Sink   = (*Sink)(nil)
	_ sink.Reader = (*Sink)(nil)
)
