package decode

import (
	"fmt"

	"github.com/MrWong99/streamasr/pkg/contextgraph"
	"github.com/MrWong99/streamasr/pkg/inference"
	"github.com/MrWong99/streamasr/pkg/transducer"
)

// Greedy emits the argmax token of every encoder frame.
type Greedy struct {
	model transducer.Model
	meta  transducer.Meta
}

// NewGreedy returns a greedy decoder over m.
func NewGreedy(m transducer.Model) *Greedy {
	return &Greedy{model: m, meta: m.Meta()}
}

// EmptyResult implements [Decoder].
func (g *Greedy) EmptyResult() Result {
	return Result{Tokens: blanks(g.meta.ContextSize, g.meta.BlankID)}
}

// StripLeadingBlanks implements [Decoder].
func (g *Greedy) StripLeadingBlanks(r *Result) {
	r.Tokens = r.Tokens[min(g.meta.ContextSize, len(r.Tokens)):]
}

// FinalizeResult implements [Decoder]; greedy search ignores hotwords.
func (g *Greedy) FinalizeResult(*Result, *contextgraph.Graph) {}

// Decode implements [Decoder]. graph is ignored.
func (g *Greedy) Decode(encoderOut inference.Tensor, r *Result, _ *contextgraph.Graph) error {
	ctx := g.meta.ContextSize
	if r.DecoderOut.Empty() {
		d, err := g.model.RunDecoder(transducer.DecoderInput(ctx, r.Tokens))
		if err != nil {
			return fmt.Errorf("decode: greedy: %w", err)
		}
		r.DecoderOut = d
	}

	frames := encoderOut.Rows()
	for t := range frames {
		enc := inference.NewFloat([]int64{1, int64(encoderOut.RowSize())}, encoderOut.Row(t))
		logits, err := g.model.RunJoiner(enc, r.DecoderOut)
		if err != nil {
			return fmt.Errorf("decode: greedy frame %d: %w", t, err)
		}

		y := argmax(logits.Row(0))
		if y == g.meta.BlankID {
			r.NumTrailingBlanks++
			continue
		}
		r.Tokens = append(r.Tokens, y)
		r.Timestamps = append(r.Timestamps, int32(t+r.FrameOffset))
		r.NumTrailingBlanks = 0

		d, err := g.model.RunDecoder(transducer.DecoderInput(ctx, r.Tokens))
		if err != nil {
			return fmt.Errorf("decode: greedy frame %d: %w", t, err)
		}
		r.DecoderOut = d
	}
	r.FrameOffset += frames
	return nil
}

var _ Decoder = (*Greedy)(nil)
