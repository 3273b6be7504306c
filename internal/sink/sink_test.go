package sink_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/MrWong99/streamasr/internal/sink"
	"github.com/MrWong99/streamasr/internal/sink/mock"
	"github.com/MrWong99/streamasr/pkg/offline"
	"github.com/MrWong99/streamasr/pkg/recognizer"
)

type writeOnly struct{ mock.Sink }

// Hide List so the sink is not a Reader.
func (w *writeOnly) List() {}

func TestFromResult(t *testing.T) {
	t.Parallel()
	u := sink.FromResult("s1", recognizer.Result{
		Text: "hi there", Tokens: []string{"▁HI", "▁THERE"}, Timestamps: []float32{0, 0.4},
		Segment: 2, StartTime: 3.5, IsFinal: true,
	})
	if u.StreamID != "s1" || u.Segment != 2 || u.StartTime != 3.5 || u.Source != sink.SourceStream {
		t.Errorf("FromResult = %+v", u)
	}
	if u.ID.String() == "00000000-0000-0000-0000-000000000000" || u.CreatedAt.IsZero() {
		t.Error("ID and CreatedAt must be set")
	}

	o := sink.FromOffline("f", offline.Result{
		Transcript: offline.Transcript{Text: "x"}, Segment: 1, Start: 1.5, Duration: 0.75, IsFinal: true,
	})
	if o.Duration != 0.75 || o.StartTime != 1.5 || o.Source != sink.SourceOffline || o.Text != "x" {
		t.Errorf("FromOffline = %+v", o)
	}
}

func TestMulti_FanOut(t *testing.T) {
	t.Parallel()
	a, b := &mock.Sink{}, &mock.Sink{}
	m := sink.NewMulti()
	m.Add("a", a)
	m.Add("b", b)

	u := sink.FromResult("s", recognizer.Result{Text: "hello"})
	if err := m.Write(context.Background(), u); err != nil {
		t.Fatal(err)
	}
	for name, s := range map[string]*mock.Sink{"a": a, "b": b} {
		if got := s.Utterances(); len(got) != 1 || got[0].ID != u.ID {
			t.Errorf("sink %s got %v", name, got)
		}
	}
	if m.Len() != 2 || !m.Readable() {
		t.Errorf("Len=%d Readable=%v", m.Len(), m.Readable())
	}
	list, err := m.List(context.Background(), "s", 0)
	if err != nil || len(list) != 1 {
		t.Errorf("List = %v, %v", list, err)
	}
}

func TestMulti_ErrorsAreIsolated(t *testing.T) {
	t.Parallel()
	boom := errors.New("boom")
	good, bad := &mock.Sink{}, &mock.Sink{WriteErr: boom}

	var (
		mu     sync.Mutex
		failed []string
	)
	m := sink.NewMulti()
	m.OnError = func(name string, _ error) {
		mu.Lock()
		defer mu.Unlock()
		failed = append(failed, name)
	}
	m.Add("good", good)
	m.Add("bad", bad)

	err := m.Write(context.Background(), sink.Utterance{StreamID: "s"})
	if !errors.Is(err, boom) {
		t.Errorf("err = %v, want boom", err)
	}
	if len(good.Utterances()) != 1 {
		t.Error("healthy sink must still receive the write")
	}
	if len(failed) != 1 || failed[0] != "bad" {
		t.Errorf("OnError calls = %v, want [bad]", failed)
	}
}

func TestMulti_ListWithoutReader(t *testing.T) {
	t.Parallel()
	m := sink.NewMulti()
	m.Add("w", &writeOnly{})
	if m.Readable() {
		t.Error("write-only sink reported readable")
	}
	if _, err := m.List(context.Background(), "s", 0); !errors.Is(err, sink.ErrNotReadable) {
		t.Errorf("err = %v, want ErrNotReadable", err)
	}
}

func TestMulti_Close(t *testing.T) {
	t.Parallel()
	boom := errors.New("boom")
	a, b := &mock.Sink{}, &mock.Sink{CloseErr: boom}
	m := sink.NewMulti()
	m.Add("a", a)
	m.Add("b", b)
	if err := m.Close(); !errors.Is(err, boom) {
		t.Errorf("Close err = %v", err)
	}
	if a.Closed() != 1 || b.Closed() != 1 {
		t.Error("every sink must be closed")
	}
}
