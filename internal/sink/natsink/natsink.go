// Package natsink publishes utterances as JSON on NATS subjects
// asr.results.<stream_id>.
package natsink

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/MrWong99/streamasr/internal/sink"
)

// SubjectPrefix is prepended to the stream ID to form the subject.
const SubjectPrefix = "asr.results"

// Publisher is the subset of *nats.Conn the sink needs.
type Publisher interface {
	Publish(subject string, data []byte) error
	FlushWithContext(ctx context.Context) error
	Close()
}

// Sink publishes every utterance it is given. All methods are safe for
// concurrent use.
type Sink struct {
	pub    Publisher
	prefix string
	flush  bool
}

// Option configures a Sink.
type Option func(*Sink)

// WithSubjectPrefix replaces [SubjectPrefix].
func WithSubjectPrefix(p string) Option {
	return func(s *Sink) { s.prefix = strings.TrimSuffix(p, ".") }
}

// WithFlush makes Write wait until the server has received the message.
func WithFlush() Option {
	return func(s *Sink) { s.flush = true }
}

// Connect dials url and returns a sink that reconnects forever.
func Connect(url string, opts ...Option) (*Sink, error) {
	if url == "" {
		url = nats.DefaultURL
	}
	conn, err := nats.Connect(url,
		nats.Name("streamasr"),
		nats.ReconnectWait(2*time.Second),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			slog.Warn("nats sink: disconnected", "err", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			slog.Info("nats sink: reconnected", "url", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("nats sink: connect %s: %w", url, err)
	}
	return New(conn, opts...), nil
}

// New wraps an existing connection.
func New(pub Publisher, opts ...Option) *Sink {
	s := &Sink{pub: pub, prefix: SubjectPrefix}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Subject returns the subject utterances of streamID are published on.
// NATS tokens may not contain '.', '*', '>' or whitespace; those characters
// are replaced with '_'.
func (s *Sink) Subject(streamID string) string {
	id := strings.Map(func(r rune) rune {
		switch r {
		case '.', '*', '>', ' ', '\t', '\n', '\r':
			return '_'
		}
		return r
	}, streamID)
	if id == "" {
		id = "_"
	}
	return s.prefix + "." + id
}

// Write implements [sink.Sink].
func (s *Sink) Write(ctx context.Context, u sink.Utterance) error {
	data, err := json.Marshal(u)
	if err != nil {
		return fmt.Errorf("nats sink: marshal: %w", err)
	}
	subject := s.Subject(u.StreamID)
	if err := s.pub.Publish(subject, data); err != nil {
		return fmt.Errorf("nats sink: publish to %s: %w", subject, err)
	}
	if s.flush {
		if err := s.pub.FlushWithContext(ctx); err != nil {
			return fmt.Errorf("nats sink: flush: %w", err)
		}
	}
	return nil
}

// Close closes the connection.
func (s *Sink) Close() error {
	s.pub.Close()
	return nil
}

var (
	_ sink.Sink = (*Sink)(nil)
	_ Publisher = (*nats.Conn)(nil)
)
