package decode

import (
	"math"
	"slices"
	"testing"

	"github.com/MrWong99/streamasr/pkg/contextgraph"
	"github.com/MrWong99/streamasr/pkg/inference"
	"github.com/MrWong99/streamasr/pkg/transducer/mock"
)

// encFrames builds mock encoder output for frames [start, start+n).
func encFrames(start, n int) inference.Tensor {
	data := make([]float32, 0, 2*n)
	for i := range n {
		data = append(data, float32(start+i), 0)
	}
	return inference.NewFloat([]int64{int64(n), 2}, data)
}

func TestLogAdd(t *testing.T) {
	got := LogAdd(math.Log(0.3), math.Log(0.5))
	if math.Abs(got-math.Log(0.8)) > 1e-12 {
		t.Errorf("LogAdd = %v, want %v", got, math.Log(0.8))
	}
	if got := LogAdd(0, -100); got != 0 {
		t.Errorf("LogAdd(0, -100) = %v, want 0", got)
	}
	if LogAdd(-1, -2) != LogAdd(-2, -1) {
		t.Error("LogAdd is not symmetric")
	}
}

func TestHypotheses_Merge(t *testing.T) {
	a := Hypothesis{Ys: []int32{0, 0, 3}, LogProb: -1, NumTrailingBlanks: 2}
	b := Hypothesis{Ys: []int32{0, 0, 3}, LogProb: -2, NumTrailingBlanks: 0}

	hs := NewHypotheses(0, a, b)
	if hs.Len() != 1 {
		t.Fatalf("Len = %d, want 1", hs.Len())
	}
	got := hs.MostProbable(false)
	if want := LogAdd(-1, -2); math.Abs(got.LogProb-want) > 1e-12 {
		t.Errorf("merged LogProb = %v, want %v", got.LogProb, want)
	}
	if got.NumTrailingBlanks != 2 {
		t.Errorf("merge must keep the existing entry's fields, got %d trailing blanks", got.NumTrailingBlanks)
	}

	rev := NewHypotheses(0, b, a).MostProbable(false)
	if rev.LogProb != got.LogProb {
		t.Errorf("merge depends on order: %v vs %v", rev.LogProb, got.LogProb)
	}
}

func TestHypotheses_Bounded(t *testing.T) {
	hs := NewHypotheses(2)
	hs.Add(Hypothesis{Ys: []int32{1}, LogProb: -1})
	hs.Add(Hypothesis{Ys: []int32{2}, LogProb: -3})
	hs.Add(Hypothesis{Ys: []int32{3}, LogProb: -2})
	if hs.Len() != 2 {
		t.Fatalf("Len = %d, want 2", hs.Len())
	}
	keys := []string{}
	for _, h := range hs.All() {
		keys = append(keys, h.Key())
	}
	if !slices.Equal(keys, []string{"1", "3"}) {
		t.Errorf("kept %v, want [1 3]", keys)
	}

	hs.Add(Hypothesis{Ys: []int32{4}, LogProb: -10})
	if hs.Len() != 2 {
		t.Errorf("worse hypothesis must be dropped, Len = %d", hs.Len())
	}
}

func TestHypotheses_TopKLengthNorm(t *testing.T) {
	hs := NewHypotheses(0,
		Hypothesis{Ys: []int32{0, 0, 1, 2, 3, 4}, LogProb: -3}, // -0.5 per token
		Hypothesis{Ys: []int32{0, 0}, LogProb: -2},             // -1 per token
	)
	if got := hs.TopK(1, true)[0].Key(); got != "0-0-1-2-3-4" {
		t.Errorf("length-normalised best = %s", got)
	}
	if got := hs.TopK(1, false)[0].Key(); got != "0-0" {
		t.Errorf("raw best = %s", got)
	}
	if n := len(hs.TopK(10, true)); n != 2 {
		t.Errorf("TopK(10) returned %d", n)
	}
}

func TestBlankPrefixRoundTrip(t *testing.T) {
	m := mock.New(8)
	for _, d := range []Decoder{NewGreedy(m), NewModifiedBeam(m, 4)} {
		r := d.EmptyResult()
		if len(r.Tokens) != 2 || r.Tokens[0] != 0 || r.Tokens[1] != 0 {
			t.Errorf("%T: EmptyResult tokens = %v", d, r.Tokens)
		}
		d.StripLeadingBlanks(&r)
		if len(r.Tokens) != 0 {
			t.Errorf("%T: stripped tokens = %v, want empty", d, r.Tokens)
		}
	}
}

func TestGreedy(t *testing.T) {
	m := mock.New(8, 0, 3, 0, 5, 5)
	g := NewGreedy(m)
	r := g.EmptyResult()

	if err := g.Decode(encFrames(0, 5), &r, nil); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if err := g.Decode(encFrames(5, 2), &r, nil); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if r.FrameOffset != 7 {
		t.Errorf("FrameOffset = %d, want 7", r.FrameOffset)
	}
	if r.NumTrailingBlanks != 2 {
		t.Errorf("NumTrailingBlanks = %d, want 2", r.NumTrailingBlanks)
	}

	g.StripLeadingBlanks(&r)
	if !slices.Equal(r.Tokens, []int32{3, 5, 5}) {
		t.Errorf("Tokens = %v, want [3 5 5]", r.Tokens)
	}
	if !slices.Equal(r.Timestamps, []int32{1, 3, 4}) {
		t.Errorf("Timestamps = %v, want [1 3 4]", r.Timestamps)
	}
}

func TestGreedy_ChunkingInvariant(t *testing.T) {
	script := []int32{0, 3, 0, 5, 0, 0, 6, 6, 0}

	whole := NewGreedy(mock.New(8, script...))
	rw := whole.EmptyResult()
	if err := whole.Decode(encFrames(0, len(script)), &rw, nil); err != nil {
		t.Fatal(err)
	}

	chunked := NewGreedy(mock.New(8, script...))
	rc := chunked.EmptyResult()
	for start := 0; start < len(script); start += 2 {
		n := min(2, len(script)-start)
		if err := chunked.Decode(encFrames(start, n), &rc, nil); err != nil {
			t.Fatal(err)
		}
	}

	if !slices.Equal(rw.Tokens, rc.Tokens) || !slices.Equal(rw.Timestamps, rc.Timestamps) {
		t.Errorf("chunked %v@%v != whole %v@%v", rc.Tokens, rc.Timestamps, rw.Tokens, rw.Timestamps)
	}
}

func TestModifiedBeam(t *testing.T) {
	m := mock.New(8, 0, 3, 0, 5, 5, 0)
	b := NewModifiedBeam(m, 4)
	r := b.EmptyResult()

	for start := 0; start < 6; start += 3 {
		if err := b.Decode(encFrames(start, 3), &r, nil); err != nil {
			t.Fatalf("Decode: %v", err)
		}
		if r.Hyps.Len() > 4 {
			t.Fatalf("beam holds %d hypotheses, want <= 4", r.Hyps.Len())
		}
	}
	if r.FrameOffset != 6 {
		t.Errorf("FrameOffset = %d, want 6", r.FrameOffset)
	}
	if r.DecoderOut.Empty() {
		t.Error("DecoderOut not cached after Decode")
	}

	b.StripLeadingBlanks(&r)
	if !slices.Equal(r.Tokens, []int32{3, 5, 5}) {
		t.Errorf("Tokens = %v, want [3 5 5]", r.Tokens)
	}
	if !slices.Equal(r.Timestamps, []int32{1, 3, 4}) {
		t.Errorf("Timestamps = %v, want [1 3 4]", r.Timestamps)
	}
	if r.NumTrailingBlanks != 1 {
		t.Errorf("NumTrailingBlanks = %d, want 1", r.NumTrailingBlanks)
	}
}

func TestModifiedBeam_ReusesCachedDecoderOut(t *testing.T) {
	m := mock.New(8)
	b := NewModifiedBeam(m, 4)
	r := b.EmptyResult()
	r.DecoderOut = inference.NewFloat([]int64{1, 2}, []float32{0, 0})

	if err := b.Decode(encFrames(0, 1), &r, nil); err != nil {
		t.Fatal(err)
	}
	// Frame 0 reuses the cache; only the final best-path refresh runs.
	if _, dec, _ := m.Calls(); dec != 1 {
		t.Errorf("decoder calls = %d, want 1", dec)
	}
}

func TestModifiedBeam_HotwordBoost(t *testing.T) {
	script := []int32{0, 3, 0, 5, 0}
	graph := contextgraph.New([]contextgraph.Phrase{{Tokens: []int32{3, 5}}}, 1.5)

	run := func(g *contextgraph.Graph) Hypothesis {
		b := NewModifiedBeam(mock.New(8, script...), 4)
		r := b.EmptyResult()
		if err := b.Decode(encFrames(0, len(script)), &r, g); err != nil {
			t.Fatal(err)
		}
		b.FinalizeResult(&r, g)
		return r.Hyps.MostProbable(true)
	}

	plain := run(nil)
	boosted := run(graph)

	want := []int32{0, 0, 3, 5}
	if !slices.Equal(plain.Ys, want) || !slices.Equal(boosted.Ys, want) {
		t.Fatalf("ys plain=%v boosted=%v, want %v", plain.Ys, boosted.Ys, want)
	}
	if boosted.LogProb <= plain.LogProb {
		t.Fatalf("boosted LogProb %v not above plain %v", boosted.LogProb, plain.LogProb)
	}
	if diff := boosted.LogProb - plain.LogProb; math.Abs(diff-3) > 1e-4 {
		t.Errorf("bonus = %v, want 3 (two tokens at 1.5)", diff)
	}
}

func TestModifiedBeam_HotwordChangesResult(t *testing.T) {
	logits := func(frame int, _ int32) []float32 {
		row := make([]float32, 8)
		switch frame {
		case 1:
			row[3], row[4] = 5.0, 5.2
		case 2:
			row[5] = 10
		default:
			row[0] = 10
		}
		return row
	}
	run := func(g *contextgraph.Graph) []int32 {
		m := mock.New(8)
		m.LogitsFunc = logits
		b := NewModifiedBeam(m, 4)
		r := b.EmptyResult()
		if err := b.Decode(encFrames(0, 4), &r, g); err != nil {
			t.Fatal(err)
		}
		b.StripLeadingBlanks(&r)
		return r.Tokens
	}

	if got := run(nil); !slices.Equal(got, []int32{4, 5}) {
		t.Errorf("without hotwords = %v, want [4 5]", got)
	}
	graph := contextgraph.New([]contextgraph.Phrase{{Tokens: []int32{3, 5}}}, 1.5)
	if got := run(graph); !slices.Equal(got, []int32{3, 5}) {
		t.Errorf("with hotwords = %v, want [3 5]", got)
	}
}

func TestCTCGreedy(t *testing.T) {
	rows := [][]float32{
		{1, 0, 0, 0}, // blank
		{0, 1, 0, 0}, // 1
		{0, 1, 0, 0}, // 1 repeat
		{1, 0, 0, 0}, // blank
		{0, 1, 0, 0}, // 1 again after blank
		{0, 0, 0, 1}, // 3
	}
	tokens, ts := CTCGreedy(inference.StackRows(rows), 0)
	if !slices.Equal(tokens, []int32{1, 1, 3}) {
		t.Errorf("tokens = %v, want [1 1 3]", tokens)
	}
	if !slices.Equal(ts, []int32{1, 4, 5}) {
		t.Errorf("timestamps = %v, want [1 4 5]", ts)
	}
}
