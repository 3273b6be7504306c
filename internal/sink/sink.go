// Package sink persists and publishes final utterances.
//
// A [Sink] receives every final result the server produces, from websocket
// streams and from offline transcriptions alike. Backends live in
// sub-packages (sink/postgres, sink/sqlite, sink/natsink); [Multi] fans a
// write out to all configured backends.
//
// Sink failures never stop decoding. Callers log them and move on.
package sink

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/streamasr/pkg/offline"
	"github.com/MrWong99/streamasr/pkg/recognizer"
)

// Source tells where an utterance came from.
type Source string

const (
	SourceStream  Source = "stream"
	SourceOffline Source = "offline"
)

// Utterance is one final transcription.
type Utterance struct {
	ID       uuid.UUID `json:"id"`
	StreamID string    `json:"stream_id"`
	Segment  int       `json:"segment"`
	Text     string    `json:"text"`
	Tokens   []string  `json:"tokens,omitempty"`

	// Timestamps are token start times in seconds from StartTime.
	Timestamps []float32 `json:"timestamps,omitempty"`

	// StartTime and Duration locate the utterance in its stream, in seconds.
	// Duration is zero when the producer does not know it.
	StartTime float32 `json:"start_time"`
	Duration  float32 `json:"duration"`

	Source    Source    `json:"source"`
	CreatedAt time.Time `json:"created_at"`
}

// FromResult builds an utterance from a streaming recognizer result.
func FromResult(streamID string, r recognizer.Result) Utterance {
	return Utterance{
		ID:         uuid.New(),
		StreamID:   streamID,
		Segment:    r.Segment,
		Text:       r.Text,
		Tokens:     r.Tokens,
		Timestamps: r.Timestamps,
		StartTime:  r.StartTime,
		Source:     SourceStream,
		CreatedAt:  time.Now().UTC(),
	}
}

// FromOffline builds an utterance from a final pipeline result.
func FromOffline(streamID string, r offline.Result) Utterance {
	return Utterance{
		ID:         uuid.New(),
		StreamID:   streamID,
		Segment:    r.Segment,
		Text:       r.Text,
		Tokens:     r.Tokens,
		Timestamps: r.Timestamps,
		StartTime:  r.Start,
		Duration:   r.Duration,
		Source:     SourceOffline,
		CreatedAt:  time.Now().UTC(),
	}
}

// Sink stores utterances. Implementations must be safe for concurrent use.
type Sink interface {
	Write(ctx context.Context, u Utterance) error
	Close() error
}

// Reader is implemented by sinks that can list what they stored.
type Reader interface {
	// List returns the utterances of streamID ordered by segment. limit <= 0
	// means no limit.
	List(ctx context.Context, streamID string, limit int) ([]Utterance, error)
}

// Multi writes every utterance to all of its sinks concurrently.
type Multi struct {
	names []string
	sinks []Sink

	// OnError is called once per failed backend, e.g. to count errors.
	OnError func(name string, err error)
}

// NewMulti returns an empty fan-out.
func NewMulti() *Multi { return &Multi{} }

// Add registers s under name. Add is not safe to call concurrently with
// Write.
func (m *Multi) Add(name string, s Sink) {
	m.names = append(m.names, name)
	m.sinks = append(m.sinks, s)
}

// Len returns the number of registered sinks.
func (m *Multi) Len() int { return len(m.sinks) }

// Write implements Sink. Every backend is attempted; failures are logged,
// reported to OnError and joined into the returned error.
func (m *Multi) Write(ctx context.Context, u Utterance) error {
	errs := make([]error, len(m.sinks))
	var g errgroup.Group
	for i, s := range m.sinks {
		g.Go(func() error {
			if err := s.Write(ctx, u); err != nil {
				slog.Warn("sink: write failed", "sink", m.names[i], "stream", u.StreamID, "segment", u.Segment, "err", err)
				if m.OnError != nil {
					m.OnError(m.names[i], err)
				}
				errs[i] = fmt.Errorf("sink %s: %w", m.names[i], err)
			}
			return nil
		})
	}
	_ = g.Wait()
	return errors.Join(errs...)
}

// List implements Reader using the first registered sink that supports it.
func (m *Multi) List(ctx context.Context, streamID string, limit int) ([]Utterance, error) {
	for _, s := range m.sinks {
		if r, ok := AsReader(s); ok {
			return r.List(ctx, streamID, limit)
		}
	}
	return nil, ErrNotReadable
}

// Readable reports whether any registered sink implements Reader.
func (m *Multi) Readable() bool {
	for _, s := range m.sinks {
		if _, ok := AsReader(s); ok {
			return true
		}
	}
	return false
}

// AsReader returns s as a Reader. Wrappers exposing Unwrap() Sink are
// looked through.
func AsReader(s Sink) (Reader, bool) {
	for s != nil {
		if r, ok := s.(Reader); ok {
			return r, true
		}
		u, ok := s.(interface{ Unwrap() Sink })
		if !ok {
			break
		}
		s = u.Unwrap()
	}
	return nil, false
}

// Close closes every sink and joins their errors.
func (m *Multi) Close() error {
	var errs []error
	for i, s := range m.sinks {
		if err := s.Close(); err != nil {
			errs = append(errs, fmt.Errorf("sink %s: close: %w", m.names[i], err))
		}
	}
	return errors.Join(errs...)
}

// ErrNotReadable is returned by Multi.List when no sink can be read back.
var ErrNotReadable = errors.New("sink: no readable sink configured")

var (
	_ Sink   = (*Multi)(nil)
	_ Reader = (*Multi)(nil)
)
