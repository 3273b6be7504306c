package decode

import (
	"cmp"
	"math"
	"slices"
	"strconv"
	"strings"

	"github.com/MrWong99/streamasr/pkg/contextgraph"
)

// minLogDiff is log(DBL_EPSILON): below it exp(diff) vanishes next to 1.
const minLogDiff = -36.04365338911715

// LogAdd returns log(exp(a) + exp(b)) without overflow.
func LogAdd(a, b float64) float64 {
	if a < b {
		a, b = b, a
	}
	diff := b - a
	if diff >= minLogDiff {
		return a + math.Log1p(math.Exp(diff))
	}
	return a
}

// Hypothesis is one candidate token sequence in a beam.
type Hypothesis struct {
	// Ys starts with ContextSize blanks followed by the decoded tokens.
	Ys []int32

	// Timestamps holds the encoder frame of each decoded token.
	Timestamps []int32

	LogProb           float64
	NumTrailingBlanks int

	// ContextState is the hotword graph position reached by Ys.
	ContextState contextgraph.State
}

// Key identifies the token sequence. Hypotheses with equal keys are merged.
func (h Hypothesis) Key() string {
	var b strings.Builder
	for i, y := range h.Ys {
		if i > 0 {
			b.WriteByte('-')
		}
		b.WriteString(strconv.Itoa(int(y)))
	}
	return b.String()
}

// NormalizedLogProb is LogProb divided by the sequence length.
func (h Hypothesis) NormalizedLogProb() float64 {
	if len(h.Ys) == 0 {
		return h.LogProb
	}
	return h.LogProb / float64(len(h.Ys))
}

func (h Hypothesis) score(lengthNorm bool) float64 {
	if lengthNorm {
		return h.NormalizedLogProb()
	}
	return h.LogProb
}

// Hypotheses is a keyed set of hypotheses with an optional size bound.
// The zero value is unbounded and ready to use.
type Hypotheses struct {
	m     map[string]Hypothesis
	limit int
}

// NewHypotheses returns a set holding at most limit entries (0 for no
// bound) seeded with hyps.
func NewHypotheses(limit int, hyps ...Hypothesis) *Hypotheses {
	hs := &Hypotheses{m: make(map[string]Hypothesis, max(limit, len(hyps))), limit: limit}
	for _, h := range hyps {
		hs.Add(h)
	}
	return hs
}

// Add inserts h. An existing entry with the same key absorbs h: the log
// probabilities are log-summed and the other fields keep the existing
// entry's values. When the set is full, h replaces the entry with the lowest
// length-normalised log probability if h scores higher, and is dropped
// otherwise.
func (hs *Hypotheses) Add(h Hypothesis) {
	if hs.m == nil {
		hs.m = make(map[string]Hypothesis)
	}
	key := h.Key()
	if old, ok := hs.m[key]; ok {
		old.LogProb = LogAdd(old.LogProb, h.LogProb)
		hs.m[key] = old
		return
	}
	if hs.limit > 0 && len(hs.m) >= hs.limit {
		worstKey, worst := "", math.Inf(1)
		for k, v := range hs.m {
			if s := v.NormalizedLogProb(); s < worst || (s == worst && k > worstKey) {
				worstKey, worst = k, s
			}
		}
		if h.NormalizedLogProb() <= worst {
			return
		}
		delete(hs.m, worstKey)
	}
	hs.m[key] = h
}

// Len returns the number of hypotheses.
func (hs *Hypotheses) Len() int { return len(hs.m) }

// Limit returns the size bound, 0 if unbounded.
func (hs *Hypotheses) Limit() int { return hs.limit }

// sorted returns all hypotheses best first. Ties break on key so results
// do not depend on map order.
func (hs *Hypotheses) sorted(lengthNorm bool) []Hypothesis {
	all := make([]Hypothesis, 0, len(hs.m))
	for _, h := range hs.m {
		all = append(all, h)
	}
	slices.SortFunc(all, func(a, b Hypothesis) int {
		if c := cmp.Compare(b.score(lengthNorm), a.score(lengthNorm)); c != 0 {
			return c
		}
		return strings.Compare(a.Key(), b.Key())
	})
	return all
}

// MostProbable returns the best hypothesis. It panics on an empty set.
func (hs *Hypotheses) MostProbable(lengthNorm bool) Hypothesis {
	if len(hs.m) == 0 {
		panic("decode: MostProbable on empty hypotheses")
	}
	return hs.sorted(lengthNorm)[0]
}

// TopK returns up to k hypotheses, best first.
func (hs *Hypotheses) TopK(k int, lengthNorm bool) []Hypothesis {
	all := hs.sorted(lengthNorm)
	return all[:min(k, len(all))]
}

// All returns every hypothesis, best first by raw log probability.
func (hs *Hypotheses) All() []Hypothesis { return hs.sorted(false) }

// Clone returns an independent copy of the set.
func (hs *Hypotheses) Clone() *Hypotheses {
	c := &Hypotheses{m: make(map[string]Hypothesis, len(hs.m)), limit: hs.limit}
	for k, h := range hs.m {
		h.Ys = slices.Clone(h.Ys)
		h.Timestamps = slices.Clone(h.Timestamps)
		c.m[k] = h
	}
	return c
}
