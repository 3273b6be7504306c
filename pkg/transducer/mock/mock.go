// Package mock provides a scripted [transducer.Model] for decoder and
// recognizer tests.
//
// The encoder ignores feature values and emits Offset/SubsamplingFactor
// encoder frames per call, each tagged with its global frame index (carried
// in the single encoder state). The joiner looks the frame index up in
// Script and puts a peak logit on that token, so a test controls exactly
// what a perfect acoustic model would say at every frame.
//
// Example:
//
//	m := mock.New(8, 0, 3, 0, 5) // vocab 8; frame 1 says token 3, frame 3 says token 5
//	// run a decoder over m ...
package mock

import (
	"fmt"
	"sync"

	"github.com/MrWong99/streamasr/pkg/inference"
	"github.com/MrWong99/streamasr/pkg/transducer"
)

// DefaultPeak is the logit given to the scripted token.
const DefaultPeak = 10

// Model is a scripted transducer.
type Model struct {
	mu sync.Mutex

	// M is the framing reported by Meta.
	M transducer.Meta

	// Vocab is the joiner output width.
	Vocab int

	// Script[i] is the token favoured at encoder frame i. Frames past the
	// end favour blank.
	Script []int32

	// Peak is the logit of the favoured token; all others get 0.
	Peak float32

	// LogitsFunc, when non-nil, replaces the Script lookup. last is the most
	// recent token in the decoder context.
	LogitsFunc func(frame int, last int32) []float32

	// EncoderErr, if non-nil, is returned from RunEncoder.
	EncoderErr error

	EncoderCalls int
	DecoderCalls int
	JoinerCalls  int
}

// New returns a model with LSTM-like framing (one encoder frame per call)
// and the given vocabulary size and script.
func New(vocab int, script ...int32) *Model {
	return &Model{
		M: transducer.Meta{
			Segment:           9,
			Offset:            4,
			ContextSize:       2,
			SubsamplingFactor: 4,
			States:            []transducer.StateSpec{{Name: "frame", Shape: []int64{1}}},
		},
		Vocab:  vocab,
		Script: script,
		Peak:   DefaultPeak,
	}
}

// Meta implements transducer.Model.
func (m *Model) Meta() transducer.Meta { return m.M }

// InitStates implements transducer.Model.
func (m *Model) InitStates() []inference.Tensor {
	return []inference.Tensor{inference.Zeros(1)}
}

// RunEncoder implements transducer.Model.
func (m *Model) RunEncoder(features inference.Tensor, states []inference.Tensor) (inference.Tensor, []inference.Tensor, error) {
	m.mu.Lock()
	m.EncoderCalls++
	err := m.EncoderErr
	m.mu.Unlock()
	if err != nil {
		return inference.Tensor{}, nil, err
	}
	if len(features.Shape) != 3 || features.Shape[1] != int64(m.M.Segment) {
		return inference.Tensor{}, nil, fmt.Errorf("mock: features shape %v, want (1, %d, dim)", features.Shape, m.M.Segment)
	}
	if len(states) != 1 {
		return inference.Tensor{}, nil, fmt.Errorf("mock: got %d states, want 1", len(states))
	}

	start := int(states[0].Floats[0])
	n := m.M.Offset / m.M.SubsamplingFactor
	data := make([]float32, 0, 2*n)
	for i := range n {
		data = append(data, float32(start+i), 0)
	}
	next := inference.NewFloat([]int64{1}, []float32{float32(start + n)})
	return inference.NewFloat([]int64{int64(n), 2}, data), []inference.Tensor{next}, nil
}

// RunDecoder implements transducer.Model. Each output row carries the last
// context token.
func (m *Model) RunDecoder(contexts inference.Tensor) (inference.Tensor, error) {
	m.mu.Lock()
	m.DecoderCalls++
	m.mu.Unlock()

	n, ctx := contexts.Rows(), contexts.RowSize()
	data := make([]float32, 0, 2*n)
	for i := range n {
		data = append(data, float32(contexts.Ints[i*ctx+ctx-1]), 0)
	}
	return inference.NewFloat([]int64{int64(n), 2}, data), nil
}

// RunJoiner implements transducer.Model.
func (m *Model) RunJoiner(encoderOut, decoderOut inference.Tensor) (inference.Tensor, error) {
	m.mu.Lock()
	m.JoinerCalls++
	m.mu.Unlock()

	if encoderOut.Rows() != decoderOut.Rows() {
		return inference.Tensor{}, fmt.Errorf("mock: joiner rows %d != %d", encoderOut.Rows(), decoderOut.Rows())
	}
	n := encoderOut.Rows()
	data := make([]float32, 0, n*m.Vocab)
	for i := range n {
		frame := int(encoderOut.Row(i)[0])
		last := int32(decoderOut.Row(i)[0])
		data = append(data, m.logits(frame, last)...)
	}
	return inference.NewFloat([]int64{int64(n), int64(m.Vocab)}, data), nil
}

func (m *Model) logits(frame int, last int32) []float32 {
	if m.LogitsFunc != nil {
		return m.LogitsFunc(frame, last)
	}
	row := make([]float32, m.Vocab)
	tok := m.M.BlankID
	if frame < len(m.Script) {
		tok = m.Script[frame]
	}
	row[tok] = m.Peak
	return row
}

// Calls returns the number of encoder, decoder and joiner invocations.
func (m *Model) Calls() (encoder, decoder, joiner int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.EncoderCalls, m.DecoderCalls, m.JoinerCalls
}

var _ transducer.Model = (*Model)(nil)
