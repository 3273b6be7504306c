package resilience

import (
	"context"

	"github.com/MrWong99/streamasr/internal/sink"
)

// Sink guards a [sink.Sink] with a circuit breaker. While the breaker is
// open, writes fail fast with [ErrCircuitOpen] instead of waiting on a dead
// database or broker.
type Sink struct {
	next    sink.Sink
	breaker *CircuitBreaker
}

var _ sink.Sink = (*Sink)(nil)

// NewSink wraps next. cfg.Name defaults to name.
func NewSink(name string, next sink.Sink, cfg CircuitBreakerConfig) *Sink {
	if cfg.Name == "" {
		cfg.Name = name
	}
	return &Sink{next: next, breaker: NewCircuitBreaker(cfg)}
}

// Write implements [sink.Sink].
func (s *Sink) Write(ctx context.Context, u sink.Utterance) error {
	return s.breaker.Execute(func() error { return s.next.Write(ctx, u) })
}

// Close closes the wrapped sink.
func (s *Sink) Close() error { return s.next.Close() }

// Unwrap returns the wrapped sink so [sink.AsReader] can reach it.
func (s *Sink) Unwrap() sink.Sink { return s.next }

// Breaker returns the breaker guarding writes.
func (s *Sink) Breaker() *CircuitBreaker { return s.breaker }
