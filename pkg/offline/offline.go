// Package offline transcribes complete speech segments and drives the
// VAD-gated pipeline that feeds them.
//
// A [Recognizer] sees one whole segment at a time. Backends live in
// sub-packages (offline/whisper, offline/ctc); [Transducer] adapts the
// streaming recognizer so it can serve segments as well.
package offline

import (
	"context"
	"fmt"

	"github.com/MrWong99/streamasr/pkg/recognizer"
)

// TailPadding is the silence appended to a segment before input is marked
// finished, so the last words clear the encoder's right context.
const TailPadding = 0.3

// Transcript is the recognition of one segment.
type Transcript struct {
	Text   string   `json:"text"`
	Tokens []string `json:"tokens,omitempty"`

	// Timestamps are token start times in seconds from the segment start.
	Timestamps []float32 `json:"timestamps,omitempty"`
}

// Recognizer transcribes complete segments. Implementations must be safe
// for concurrent use.
type Recognizer interface {
	Transcribe(ctx context.Context, samples []float32, sampleRate int) (Transcript, error)
}

// Transducer runs a streaming [recognizer.Recognizer] over a whole segment.
type Transducer struct {
	rec *recognizer.Recognizer
}

// NewTransducer wraps rec.
func NewTransducer(rec *recognizer.Recognizer) *Transducer {
	return &Transducer{rec: rec}
}

// Transcribe implements Recognizer.
func (t *Transducer) Transcribe(ctx context.Context, samples []float32, sampleRate int) (Transcript, error) {
	s, err := t.rec.CreateStream()
	if err != nil {
		return Transcript{}, fmt.Errorf("offline: %w", err)
	}
	if err := s.AcceptWaveform(sampleRate, samples); err != nil {
		return Transcript{}, fmt.Errorf("offline: %w", err)
	}
	if err := s.AcceptWaveform(sampleRate, make([]float32, int(float32(sampleRate)*TailPadding))); err != nil {
		return Transcript{}, fmt.Errorf("offline: %w", err)
	}
	s.InputFinished()

	for t.rec.IsReady(s) {
		if err := ctx.Err(); err != nil {
			return Transcript{}, err
		}
		if err := t.rec.DecodeStream(s); err != nil {
			return Transcript{}, fmt.Errorf("offline: %w", err)
		}
	}
	res := t.rec.FinalResult(s)
	return Transcript{Text: res.Text, Tokens: res.Tokens, Timestamps: res.Timestamps}, nil
}

var _ Recognizer = (*Transducer)(nil)
