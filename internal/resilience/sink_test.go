package resilience

import (
	"context"
	"errors"
	"testing"

	"github.com/MrWong99/streamasr/internal/sink"
	"github.com/MrWong99/streamasr/internal/sink/mock"
)

func TestSink_BreakerOpensOnWriteFailures(t *testing.T) {
	m := &mock.Sink{WriteErr: errTest}
	s := NewSink("sink:postgres", m, CircuitBreakerConfig{MaxFailures: 2})
	u := sink.Utterance{StreamID: "s1", Text: "HELLO"}

	for i := 0; i < 2; i++ {
		if err := s.Write(context.Background(), u); !errors.Is(err, errTest) {
			t.Fatalf("write %d: err = %v, want errTest", i, err)
		}
	}
	if err := s.Write(context.Background(), u); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("err = %v, want ErrCircuitOpen", err)
	}
	if s.Breaker().Name() != "sink:postgres" {
		t.Fatalf("breaker name = %q", s.Breaker().Name())
	}
}

func TestSink_PassesThrough(t *testing.T) {
	m := &mock.Sink{}
	s := NewSink("sink:sqlite", m, CircuitBreakerConfig{})

	u := sink.Utterance{StreamID: "s1", Segment: 0, Text: "HELLO WORLD"}
	if err := s.Write(context.Background(), u); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if got := m.Utterances(); len(got) != 1 || got[0].Text != "HELLO WORLD" {
		t.Fatalf("utterances = %+v", got)
	}

	rd, ok := sink.AsReader(s)
	if !ok {
		t.Fatal("AsReader should see through the breaker")
	}
	list, err := rd.List(context.Background(), "s1", 0)
	if err != nil || len(list) != 1 {
		t.Fatalf("List = %+v, %v", list, err)
	}

	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if m.Closed() != 1 {
		t.Fatalf("Closed() = %d, want 1", m.Closed())
	}
}
