package symbols

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/MrWong99/streamasr/pkg/contextgraph"
)

// ErrUnknownToken is returned in strict mode when a hotword uses a token
// that is not in the vocabulary.
var ErrUnknownToken = errors.New("symbols: unknown token")

// LoadHotwords reads a hotwords file. See [ParseHotwords].
func LoadHotwords(path string, t *Table, strict bool) ([]contextgraph.Phrase, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("symbols: open hotwords %q: %w", path, err)
	}
	defer f.Close()

	phrases, err := ParseHotwords(f, t, strict)
	if err != nil {
		return nil, fmt.Errorf("symbols: hotwords %q: %w", path, err)
	}
	return phrases, nil
}

// ParseHotwords tokenises one hotword per line. Each line is a
// whitespace-separated list of vocabulary tokens, optionally followed by
// ":score" giving the phrase's total bonus. Blank lines and lines starting
// with '#' are ignored.
//
// In strict mode an unknown token fails the whole file with
// [ErrUnknownToken]; otherwise the line is skipped with a warning.
func ParseHotwords(r io.Reader, t *Table, strict bool) ([]contextgraph.Phrase, error) {
	var phrases []contextgraph.Phrase
	sc := bufio.NewScanner(r)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		p, err := parseHotword(line, t)
		if err != nil {
			if strict {
				return nil, fmt.Errorf("line %d: %w", lineNo, err)
			}
			slog.Warn("hotwords: skipping line", "line", lineNo, "text", line, "err", err)
			continue
		}
		phrases = append(phrases, p)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return phrases, nil
}

// SplitInline turns an inline hotwords string, with phrases separated by
// '/', into the line-per-phrase form accepted by [ParseHotwords].
func SplitInline(s string) string {
	return strings.ReplaceAll(s, "/", "\n")
}

func parseHotword(line string, t *Table) (contextgraph.Phrase, error) {
	fields := strings.Fields(line)
	var p contextgraph.Phrase

	// A trailing ":<float>" is the score. Anything else starting with ':' is
	// a token, since vocabularies may hold such symbols.
	if last := fields[len(fields)-1]; strings.HasPrefix(last, ":") {
		if score, err := strconv.ParseFloat(last[1:], 32); err == nil {
			if len(fields) == 1 {
				return p, errors.New("score without tokens")
			}
			p.Score = float32(score)
			fields = fields[:len(fields)-1]
		}
	}

	for _, tok := range fields {
		id, ok := t.ID(tok)
		if !ok {
			return p, fmt.Errorf("%w %q (closest: %q)", ErrUnknownToken, tok, t.Closest(tok))
		}
		p.Tokens = append(p.Tokens, id)
	}
	return p, nil
}
