package contextgraph

import (
	"math"
	"testing"
)

const eps = 1e-5

func near(a, b float32) bool { return math.Abs(float64(a-b)) < eps }

func walk(g *Graph, s State, tokens ...int32) (float32, State) {
	var total float32
	for _, tok := range tokens {
		var sc float32
		sc, s = g.ForwardOneStep(s, tok)
		total += sc
	}
	return total, s
}

func TestScoreConservation(t *testing.T) {
	g := New([]Phrase{
		{Tokens: []int32{1, 2, 3}, Score: 3},
		{Tokens: []int32{7, 8}, Score: 1},
	}, 1.5)

	tests := []struct {
		tokens []int32
		score  float32
	}{
		{[]int32{1, 2, 3}, 3},
		{[]int32{7, 8}, 1},
	}
	for _, tc := range tests {
		got, end := walk(g, Root, tc.tokens...)
		if !g.IsEnd(end) {
			t.Fatalf("%v: end state is not terminal", tc.tokens)
		}
		// The per-token bonuses add up to the phrase score; completing the
		// phrase additionally credits its output score.
		if want := tc.score + g.OutputScore(end); !near(got, want) {
			t.Errorf("%v: total = %v, want %v", tc.tokens, got, want)
		}
		fin, back := g.Finalize(end)
		if back != Root {
			t.Errorf("Finalize returned state %d, want root", back)
		}
		if !near(got+fin, tc.score) {
			t.Errorf("%v: net after Finalize = %v, want %v", tc.tokens, got+fin, tc.score)
		}
	}
}

func TestAbandonedPrefixNetsZero(t *testing.T) {
	g := New([]Phrase{{Tokens: []int32{1, 2, 3}, Score: 3}}, 1.5)

	// Prefix then Finalize.
	got, s := walk(g, Root, 1, 2)
	if !near(got, 2) {
		t.Fatalf("prefix bonus = %v, want 2", got)
	}
	fin, _ := g.Finalize(s)
	if !near(got+fin, 0) {
		t.Errorf("net of abandoned prefix = %v, want 0", got+fin)
	}

	// Prefix then a mismatching token refunds through the fail link.
	got, s = walk(g, Root, 1, 2, 9)
	if s != Root {
		t.Errorf("state after mismatch = %d, want root", s)
	}
	if !near(got, 0) {
		t.Errorf("net after mismatch = %v, want 0", got)
	}
}

func TestDefaultPerTokenScore(t *testing.T) {
	g := New([]Phrase{{Tokens: []int32{4, 5}}}, 1.5)
	sc, s := g.ForwardOneStep(Root, 4)
	if !near(sc, 1.5) {
		t.Errorf("first token = %v, want 1.5", sc)
	}
	if !near(g.NodeScore(s), 1.5) {
		t.Errorf("node score = %v, want 1.5", g.NodeScore(s))
	}
}

func TestCollisionKeepsMaxTokenScore(t *testing.T) {
	g := New([]Phrase{
		{Tokens: []int32{1, 2}, Score: 2},
		{Tokens: []int32{1, 2, 3}, Score: 6},
	}, 1)
	_, s1 := g.ForwardOneStep(Root, 1)
	if !near(g.NodeScore(s1), 2) {
		t.Errorf("node score after 1 = %v, want 2", g.NodeScore(s1))
	}
	_, s2 := g.ForwardOneStep(s1, 2)
	if !g.IsEnd(s2) {
		t.Error("shared prefix node lost its end flag")
	}
	if !near(g.OutputScore(s2), g.NodeScore(s2)) {
		t.Errorf("output score = %v, want node score %v", g.OutputScore(s2), g.NodeScore(s2))
	}
}

func TestOverlappingPhrasesMatchThroughFailLinks(t *testing.T) {
	// "SHE" contains "HE": reaching the end of SHE also credits HE.
	const S, H, E = 1, 2, 3
	g := New([]Phrase{
		{Tokens: []int32{S, H, E}, Score: 3},
		{Tokens: []int32{H, E}, Score: 2},
	}, 1)

	_, s := walk(g, Root, S, H, E)
	out, ok := g.Output(s)
	if !ok {
		t.Fatal("SHE has no output link")
	}
	if !g.IsEnd(out) {
		t.Error("output link is not terminal")
	}
	if want := g.NodeScore(s) + g.OutputScore(out); !near(g.OutputScore(s), want) {
		t.Errorf("output score = %v, want %v", g.OutputScore(s), want)
	}

	// "H" reached from the S branch falls back to the H branch.
	_, sh := walk(g, Root, S, H)
	if g.Fail(sh) == Root {
		t.Error("fail link of S-H should point into the H branch")
	}
}

func TestUnknownTokenFromRootIsFree(t *testing.T) {
	g := New([]Phrase{{Tokens: []int32{1}, Score: 1}}, 1)
	sc, s := g.ForwardOneStep(Root, 42)
	if s != Root || sc != 0 {
		t.Errorf("ForwardOneStep(root, 42) = (%v, %d), want (0, root)", sc, s)
	}
}

func TestEmptyPhraseIgnored(t *testing.T) {
	g := New([]Phrase{{}}, 1)
	if g.Len() != 1 {
		t.Errorf("Len = %d, want 1", g.Len())
	}
}
