package decode

import (
	"cmp"
	"errors"
	"fmt"
	"math"
	"slices"

	"github.com/MrWong99/streamasr/pkg/contextgraph"
	"github.com/MrWong99/streamasr/pkg/inference"
	"github.com/MrWong99/streamasr/pkg/transducer"
)

// DefaultNumActivePaths is the default beam width.
const DefaultNumActivePaths = 4

// ModifiedBeam is a beam search that emits at most one symbol per frame.
type ModifiedBeam struct {
	model          transducer.Model
	meta           transducer.Meta
	numActivePaths int
}

// NewModifiedBeam returns a beam decoder keeping numActivePaths hypotheses
// (DefaultNumActivePaths if not positive).
func NewModifiedBeam(m transducer.Model, numActivePaths int) *ModifiedBeam {
	if numActivePaths <= 0 {
		numActivePaths = DefaultNumActivePaths
	}
	return &ModifiedBeam{model: m, meta: m.Meta(), numActivePaths: numActivePaths}
}

// NumActivePaths returns the beam width.
func (b *ModifiedBeam) NumActivePaths() int { return b.numActivePaths }

// EmptyResult implements [Decoder].
func (b *ModifiedBeam) EmptyResult() Result {
	ys := blanks(b.meta.ContextSize, b.meta.BlankID)
	return Result{
		Tokens: ys,
		Hyps: NewHypotheses(b.numActivePaths, Hypothesis{
			Ys:           slices.Clone(ys),
			ContextState: contextgraph.Root,
		}),
	}
}

// StripLeadingBlanks implements [Decoder]. Tokens, Timestamps and
// NumTrailingBlanks are taken from the best length-normalised hypothesis.
func (b *ModifiedBeam) StripLeadingBlanks(r *Result) {
	if r.Hyps == nil || r.Hyps.Len() == 0 {
		r.Tokens = r.Tokens[min(b.meta.ContextSize, len(r.Tokens)):]
		return
	}
	best := r.Hyps.MostProbable(true)
	r.Tokens = best.Ys[min(b.meta.ContextSize, len(best.Ys)):]
	r.Timestamps = best.Timestamps
	r.NumTrailingBlanks = best.NumTrailingBlanks
}

// FinalizeResult implements [Decoder]. Every hypothesis sitting inside an
// unfinished hotword gives back its provisional bonus and returns to the
// graph root.
func (b *ModifiedBeam) FinalizeResult(r *Result, graph *contextgraph.Graph) {
	if graph == nil || r.Hyps == nil {
		return
	}
	next := NewHypotheses(r.Hyps.Limit())
	for _, h := range r.Hyps.All() {
		score, state := graph.Finalize(h.ContextState)
		h.LogProb += float64(score)
		h.ContextState = state
		next.Add(h)
	}
	r.Hyps = next
	best := next.MostProbable(true)
	r.Tokens = best.Ys
	r.Timestamps = best.Timestamps
	r.NumTrailingBlanks = best.NumTrailingBlanks
}

type candidate struct {
	hyp   int
	token int32
	score float64
}

// Decode implements [Decoder].
func (b *ModifiedBeam) Decode(encoderOut inference.Tensor, r *Result, graph *contextgraph.Graph) error {
	if r.Hyps == nil || r.Hyps.Len() == 0 {
		return errors.New("decode: beam: result has no hypotheses")
	}
	ctx := b.meta.ContextSize
	blank := b.meta.BlankID
	frames := encoderOut.Rows()
	cur := r.Hyps

	for t := range frames {
		prev := cur.TopK(b.numActivePaths, true)
		cur = NewHypotheses(b.numActivePaths)

		var decOut inference.Tensor
		if t == 0 && len(prev) == 1 && len(prev[0].Ys) == ctx && !r.DecoderOut.Empty() {
			decOut = r.DecoderOut
		} else {
			seqs := make([][]int32, len(prev))
			for i, h := range prev {
				seqs[i] = h.Ys
			}
			d, err := b.model.RunDecoder(transducer.DecoderInput(ctx, seqs...))
			if err != nil {
				return fmt.Errorf("decode: beam frame %d: %w", t, err)
			}
			decOut = d
		}

		logits, err := b.model.RunJoiner(inference.RepeatRows(encoderOut.Row(t), len(prev)), decOut)
		if err != nil {
			return fmt.Errorf("decode: beam frame %d: %w", t, err)
		}

		vocab := logits.RowSize()
		cands := make([]candidate, 0, len(prev)*vocab)
		for i, h := range prev {
			for tok, lp := range logSoftmax(logits.Row(i)) {
				cands = append(cands, candidate{hyp: i, token: int32(tok), score: lp + h.LogProb})
			}
		}
		slices.SortStableFunc(cands, func(x, y candidate) int { return cmp.Compare(y.score, x.score) })

		for _, c := range cands[:min(b.numActivePaths, len(cands))] {
			h := prev[c.hyp]
			h.LogProb = c.score
			if c.token == blank {
				h.NumTrailingBlanks++
			} else {
				h.Ys = append(slices.Clip(h.Ys), c.token)
				h.Timestamps = append(slices.Clip(h.Timestamps), int32(t+r.FrameOffset))
				h.NumTrailingBlanks = 0
				if graph != nil {
					bonus, state := graph.ForwardOneStep(h.ContextState, c.token)
					h.LogProb += float64(bonus)
					h.ContextState = state
				}
			}
			cur.Add(h)
		}
	}

	r.Hyps = cur
	r.FrameOffset += frames

	best := cur.MostProbable(true)
	// Keep the decoder output of the best path so a reset stream can
	// continue from it.
	d, err := b.model.RunDecoder(transducer.DecoderInput(ctx, best.Ys))
	if err != nil {
		return fmt.Errorf("decode: beam: %w", err)
	}
	r.DecoderOut = d
	r.Tokens = best.Ys
	r.Timestamps = best.Timestamps
	r.NumTrailingBlanks = best.NumTrailingBlanks
	return nil
}

// logSoftmax returns the log-probabilities of row in float64.
func logSoftmax(row []float32) []float64 {
	m := float64(row[0])
	for _, v := range row[1:] {
		m = max(m, float64(v))
	}
	var sum float64
	for _, v := range row {
		sum += math.Exp(float64(v) - m)
	}
	lse := m + math.Log(sum)
	out := make([]float64, len(row))
	for i, v := range row {
		out[i] = float64(v) - lse
	}
	return out
}

var _ Decoder = (*ModifiedBeam)(nil)
