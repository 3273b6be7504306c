// Package transducer wraps the three networks of a streaming transducer
// (encoder, decoder, joiner) behind one [Model].
//
// A Model knows its framing: how many feature frames one encoder call
// consumes (Segment), how far the window advances (Offset), the decoder
// context size and the blank ID. Encoder state is opaque to callers and
// threaded through RunEncoder explicitly.
package transducer

import (
	"errors"
	"fmt"

	"github.com/MrWong99/streamasr/pkg/inference"
)

// Type names a model family with known framing.
type Type string

const (
	TypeConvEmformer Type = "conv_emformer"
	TypeZipformer    Type = "zipformer"
	TypeLSTM         Type = "lstm"
)

// IsValid reports whether t is a recognised model type.
func (t Type) IsValid() bool {
	switch t {
	case TypeConvEmformer, TypeZipformer, TypeLSTM:
		return true
	}
	return false
}

// StateSpec declares one encoder state tensor.
type StateSpec struct {
	Name  string  `yaml:"name"`
	Shape []int64 `yaml:"shape"`
}

// Meta describes the framing of a model.
type Meta struct {
	// Segment is the number of feature frames per encoder call.
	Segment int

	// Offset is the number of feature frames the window advances per call.
	Offset int

	// ContextSize is the number of previous tokens the decoder sees.
	ContextSize int

	// BlankID is the blank token.
	BlankID int32

	// SubsamplingFactor is the ratio of feature frames to encoder frames.
	SubsamplingFactor int

	// States lists the encoder state tensors in model order.
	States []StateSpec
}

// Preset returns the framing of a model family. Encoder states are model
// specific and left empty.
func Preset(t Type) (Meta, bool) {
	const subsampling = 4
	switch t {
	case TypeConvEmformer:
		// chunk 32 + right context 8 + 2*4 + 3 for the subsampling convs.
		return Meta{Segment: 32 + 8 + 2*4 + 3, Offset: 32, ContextSize: 2, SubsamplingFactor: subsampling}, true
	case TypeZipformer:
		// decode chunk 32 + pad 7.
		return Meta{Segment: 32 + 7, Offset: 32, ContextSize: 2, SubsamplingFactor: subsampling}, true
	case TypeLSTM:
		return Meta{Segment: 9, Offset: 4, ContextSize: 2, SubsamplingFactor: subsampling}, true
	}
	return Meta{}, false
}

// Validate reports inconsistent framing.
func (m Meta) Validate() error {
	var errs []error
	if m.Segment <= 0 {
		errs = append(errs, fmt.Errorf("segment %d must be positive", m.Segment))
	}
	if m.Offset <= 0 || m.Offset > m.Segment {
		errs = append(errs, fmt.Errorf("offset %d must be in (0, segment]", m.Offset))
	}
	if m.ContextSize <= 0 {
		errs = append(errs, fmt.Errorf("context size %d must be positive", m.ContextSize))
	}
	if m.SubsamplingFactor <= 0 {
		errs = append(errs, fmt.Errorf("subsampling factor %d must be positive", m.SubsamplingFactor))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("transducer: %w", err)
	}
	return nil
}

// Model runs the transducer networks. Implementations must be safe for
// concurrent use; all per-stream state is passed in and returned.
type Model interface {
	// Meta returns the model framing.
	Meta() Meta

	// InitStates returns zeroed encoder states for a new stream.
	InitStates() []inference.Tensor

	// RunEncoder consumes features of shape (1, Segment, dim) and returns
	// encoder output of shape (T, encoderDim) and the next states.
	RunEncoder(features inference.Tensor, states []inference.Tensor) (inference.Tensor, []inference.Tensor, error)

	// RunDecoder maps token contexts (N, ContextSize) to decoder output
	// (N, decoderDim).
	RunDecoder(contexts inference.Tensor) (inference.Tensor, error)

	// RunJoiner maps encoder rows (N, encoderDim) and decoder rows
	// (N, decoderDim) to logits (N, vocab).
	RunJoiner(encoderOut, decoderOut inference.Tensor) (inference.Tensor, error)
}

// DecoderInput builds the (N, contextSize) int64 decoder input from the last
// contextSize tokens of each sequence. Each sequence must hold at least
// contextSize tokens.
func DecoderInput(contextSize int, seqs ...[]int32) inference.Tensor {
	data := make([]int64, 0, len(seqs)*contextSize)
	for _, ys := range seqs {
		for _, y := range ys[len(ys)-contextSize:] {
			data = append(data, int64(y))
		}
	}
	return inference.NewInt([]int64{int64(len(seqs)), int64(contextSize)}, data)
}
