package recognizer

import (
	"fmt"
	"strings"
)

// Result is the transcript of one utterance, complete or in progress.
type Result struct {
	Text string `json:"text"`

	// Tokens and TokenIDs are the decoded symbols without the blank prefix.
	Tokens   []string `json:"tokens"`
	TokenIDs []int32  `json:"token_ids"`

	// Timestamps holds the start time of each token in seconds relative to
	// StartTime.
	Timestamps []float32 `json:"timestamps"`

	// Segment numbers the utterances of a stream from zero.
	Segment int `json:"segment"`

	// StartTime is the utterance start in seconds from the beginning of the
	// stream.
	StartTime float32 `json:"start_time"`

	IsFinal bool `json:"is_final"`
}

// Empty reports whether no tokens were decoded.
func (r Result) Empty() bool { return len(r.TokenIDs) == 0 }

// String renders the result for logs.
func (r Result) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "#%d @%.2fs %q", r.Segment, r.StartTime, r.Text)
	if r.IsFinal {
		b.WriteString(" (final)")
	}
	return b.String()
}
