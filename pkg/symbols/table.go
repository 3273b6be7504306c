// Package symbols maps token IDs to token strings and loads hotword lists
// against that vocabulary.
package symbols

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/antzucaro/matchr"
)

// wordBoundary is the BPE marker that starts a new word.
const wordBoundary = "▁"

// Table is a bidirectional token vocabulary. It is immutable after loading
// and safe for concurrent use.
type Table struct {
	id2sym map[int32]string
	sym2id map[string]int32
}

// Load reads a tokens file from path.
func Load(path string) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("symbols: open %q: %w", path, err)
	}
	defer f.Close()

	t, err := Read(f)
	if err != nil {
		return nil, fmt.Errorf("symbols: parse %q: %w", path, err)
	}
	return t, nil
}

// Read parses a tokens file: one "symbol id" pair per line. A line holding
// only an ID maps that ID to a single space.
func Read(r io.Reader) (*Table, error) {
	t := &Table{id2sym: map[int32]string{}, sym2id: map[string]int32{}}
	sc := bufio.NewScanner(r)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := strings.TrimRight(sc.Text(), "\r\n")
		if strings.TrimSpace(line) == "" {
			continue
		}
		fields := strings.Fields(line)
		sym := " "
		if len(fields) > 1 {
			sym = strings.Join(fields[:len(fields)-1], " ")
		}
		id, err := strconv.ParseInt(fields[len(fields)-1], 10, 32)
		if err != nil {
			return nil, fmt.Errorf("line %d: invalid id %q", lineNo, fields[len(fields)-1])
		}
		if prev, dup := t.id2sym[int32(id)]; dup {
			return nil, fmt.Errorf("line %d: id %d already assigned to %q", lineNo, id, prev)
		}
		t.id2sym[int32(id)] = sym
		t.sym2id[sym] = int32(id)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	if len(t.id2sym) == 0 {
		return nil, fmt.Errorf("empty vocabulary")
	}
	return t, nil
}

// FromSymbols builds a table where symbols[i] has ID i.
func FromSymbols(symbols ...string) *Table {
	t := &Table{id2sym: map[int32]string{}, sym2id: map[string]int32{}}
	for i, s := range symbols {
		t.id2sym[int32(i)] = s
		t.sym2id[s] = int32(i)
	}
	return t
}

// Len returns the vocabulary size.
func (t *Table) Len() int { return len(t.id2sym) }

// Symbol returns the string for id.
func (t *Table) Symbol(id int32) (string, bool) {
	s, ok := t.id2sym[id]
	return s, ok
}

// ID returns the ID of sym.
func (t *Table) ID(sym string) (int32, bool) {
	id, ok := t.sym2id[sym]
	return id, ok
}

// Tokens returns the symbol of every ID; unknown IDs render as "<unk:N>".
func (t *Table) Tokens(ids []int32) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		s, ok := t.id2sym[id]
		if !ok {
			s = fmt.Sprintf("<unk:%d>", id)
		}
		out[i] = s
	}
	return out
}

// Text concatenates the symbols of ids into display text, turning BPE word
// markers into spaces.
func (t *Table) Text(ids []int32) string {
	var b strings.Builder
	for _, s := range t.Tokens(ids) {
		b.WriteString(s)
	}
	return strings.TrimSpace(strings.ReplaceAll(b.String(), wordBoundary, " "))
}

// Closest returns the vocabulary entry with the smallest edit distance to
// sym. Used to suggest corrections for unknown hotword tokens.
func (t *Table) Closest(sym string) string {
	best, bestDist := "", -1
	for s := range t.sym2id {
		d := matchr.Levenshtein(sym, s)
		if bestDist < 0 || d < bestDist || (d == bestDist && s < best) {
			best, bestDist = s, d
		}
	}
	return best
}
