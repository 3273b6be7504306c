// Package contextgraph implements hotword biasing for beam search: an
// Aho–Corasick automaton over token-ID sequences whose transitions return a
// score bonus.
//
// Nodes live in a flat arena owned by the [Graph]; a [State] is an index
// into it. A Graph is immutable after [New] and may be shared by any number
// of streams.
package contextgraph

// State identifies a node of a [Graph]. The zero value is the root.
type State int32

// Root is the start state of every graph.
const Root State = 0

const none State = -1

// Phrase is one hotword as a token-ID sequence. A non-zero Score is the
// total bonus for the phrase, spread evenly over its tokens; zero means every
// token earns the graph's default per-token score.
type Phrase struct {
	Tokens []int32
	Score  float32
}

type node struct {
	token       int32
	tokenScore  float32
	nodeScore   float32
	outputScore float32
	isEnd       bool
	fail        State
	output      State
	next        map[int32]State
}

// Graph is an immutable hotword automaton.
type Graph struct {
	nodes        []node
	contextScore float32
}

// New builds a graph for phrases. contextScore is the default per-token
// bonus for phrases without an explicit score.
func New(phrases []Phrase, contextScore float32) *Graph {
	g := &Graph{
		nodes:        []node{{token: -1, fail: Root, output: none, next: map[int32]State{}}},
		contextScore: contextScore,
	}
	for _, p := range phrases {
		g.insert(p)
	}
	g.fillFailOutput()
	return g
}

func (g *Graph) insert(p Phrase) {
	if len(p.Tokens) == 0 {
		return
	}
	tokenScore := g.contextScore
	if p.Score != 0 {
		tokenScore = p.Score / float32(len(p.Tokens))
	}

	cur := Root
	for j, tok := range p.Tokens {
		isEnd := j == len(p.Tokens)-1
		parentScore := g.nodes[cur].nodeScore
		child, ok := g.nodes[cur].next[tok]
		if !ok {
			child = State(len(g.nodes))
			n := node{
				token:      tok,
				tokenScore: tokenScore,
				nodeScore:  parentScore + tokenScore,
				isEnd:      isEnd,
				fail:       Root,
				output:     none,
				next:       map[int32]State{},
			}
			if isEnd {
				n.outputScore = n.nodeScore
			}
			g.nodes = append(g.nodes, n)
			g.nodes[cur].next[tok] = child
		} else {
			n := &g.nodes[child]
			n.isEnd = n.isEnd || isEnd
			n.tokenScore = max(n.tokenScore, tokenScore)
			n.nodeScore = parentScore + n.tokenScore
			n.outputScore = 0
			if n.isEnd {
				n.outputScore = n.nodeScore
			}
		}
		cur = child
	}
}

// fillFailOutput computes fail and output links breadth first. Output
// scores accumulate along the output chain, so a node's output score covers
// every phrase that ends at it or at any of its suffixes.
func (g *Graph) fillFailOutput() {
	queue := make([]State, 0, len(g.nodes))
	for _, child := range g.nodes[Root].next {
		g.nodes[child].fail = Root
		queue = append(queue, child)
	}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for tok, child := range g.nodes[cur].next {
			fail := g.step(g.nodes[cur].fail, tok)
			g.nodes[child].fail = fail

			out := fail
			for out != Root && !g.nodes[out].isEnd {
				out = g.nodes[out].fail
			}
			if out == Root {
				out = none
			}
			g.nodes[child].output = out
			if out != none {
				g.nodes[child].outputScore += g.nodes[out].outputScore
			}
			queue = append(queue, child)
		}
	}
}

// step follows the goto function from s on tok, falling back along fail
// links until a match or the root.
func (g *Graph) step(s State, tok int32) State {
	for {
		if next, ok := g.nodes[s].next[tok]; ok {
			return next
		}
		if s == Root {
			return Root
		}
		s = g.nodes[s].fail
	}
}

// ForwardOneStep consumes tok from state s and returns the score bonus and
// the next state. Abandoning a partial match refunds its accumulated bonus
// through a negative score.
func (g *Graph) ForwardOneStep(s State, tok int32) (float32, State) {
	var (
		next  State
		score float32
	)
	if child, ok := g.nodes[s].next[tok]; ok {
		next = child
		score = g.nodes[child].tokenScore
	} else {
		next = g.step(g.nodes[s].fail, tok)
		score = g.nodes[next].nodeScore - g.nodes[s].nodeScore
	}
	return score + g.nodes[next].outputScore, next
}

// Finalize cancels the bonus of any unfinished match at the end of an
// utterance and returns to the root.
func (g *Graph) Finalize(s State) (float32, State) {
	return -g.nodes[s].nodeScore, Root
}

// Root returns the start state.
func (g *Graph) Root() State { return Root }

// Len returns the number of nodes including the root.
func (g *Graph) Len() int { return len(g.nodes) }

// IsEnd reports whether s completes at least one phrase.
func (g *Graph) IsEnd(s State) bool { return g.nodes[s].isEnd }

// NodeScore returns the accumulated bonus of the partial match at s.
func (g *Graph) NodeScore(s State) float32 { return g.nodes[s].nodeScore }

// OutputScore returns the bonus credited when s is reached, including the
// phrases ending at its suffixes.
func (g *Graph) OutputScore(s State) float32 { return g.nodes[s].outputScore }

// Fail returns the fail link of s.
func (g *Graph) Fail(s State) State { return g.nodes[s].fail }

// Output returns the nearest proper suffix of s that completes a phrase.
func (g *Graph) Output(s State) (State, bool) {
	o := g.nodes[s].output
	return o, o != none
}
