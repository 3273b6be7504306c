// Package decode turns transducer encoder output into token sequences.
//
// Two searches are provided: [Greedy] (argmax per frame) and [ModifiedBeam]
// (beam search emitting at most one symbol per frame, with optional hotword
// biasing through a [contextgraph.Graph]). Both are stateless; everything
// that persists between chunks lives in a [Result] owned by the stream.
package decode

import (
	"slices"

	"github.com/MrWong99/streamasr/pkg/contextgraph"
	"github.com/MrWong99/streamasr/pkg/inference"
)

// Result is the running decode state of one stream.
type Result struct {
	// FrameOffset is the number of encoder frames decoded so far in the
	// current utterance.
	FrameOffset int

	// Tokens is the current best sequence. Before StripLeadingBlanks it
	// starts with ContextSize blanks.
	Tokens     []int32
	Timestamps []int32

	NumTrailingBlanks int

	// DecoderOut caches the decoder output for the last ContextSize tokens
	// of Tokens. Empty means it must be recomputed.
	DecoderOut inference.Tensor

	// Hyps is the beam. Nil for greedy search.
	Hyps *Hypotheses
}

// Clone returns a deep copy of r.
func (r Result) Clone() Result {
	c := r
	c.Tokens = slices.Clone(r.Tokens)
	c.Timestamps = slices.Clone(r.Timestamps)
	c.DecoderOut = r.DecoderOut.Clone()
	if r.Hyps != nil {
		c.Hyps = r.Hyps.Clone()
	}
	return c
}

// Decoder is a search strategy over transducer output.
type Decoder interface {
	// EmptyResult returns the state of a fresh utterance: ContextSize blanks
	// and, for beam search, one hypothesis at the graph root.
	EmptyResult() Result

	// StripLeadingBlanks removes the blank prefix so Tokens holds only
	// decoded symbols. The result must not be decoded further.
	StripLeadingBlanks(r *Result)

	// Decode consumes encoder output of shape (T, encoderDim) and advances
	// r by T frames. graph may be nil.
	Decode(encoderOut inference.Tensor, r *Result, graph *contextgraph.Graph) error

	// FinalizeResult settles hotword bonuses at the end of an utterance:
	// partial matches have their provisional bonus removed. No-op for
	// searches that ignore the graph.
	FinalizeResult(r *Result, graph *contextgraph.Graph)
}

func blanks(n int, blank int32) []int32 {
	ys := make([]int32, n)
	for i := range ys {
		ys[i] = blank
	}
	return ys
}

func argmax(row []float32) int32 {
	best := 0
	for i, v := range row[1:] {
		if v > row[best] {
			best = i + 1
		}
	}
	return int32(best)
}
