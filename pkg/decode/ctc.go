package decode

import "github.com/MrWong99/streamasr/pkg/inference"

// CTCGreedy collapses CTC logits of shape (T, vocab) into tokens: the argmax
// of each frame is kept unless it is blank or repeats the previous frame's
// argmax. timestamps holds the frame of each kept token.
func CTCGreedy(logits inference.Tensor, blank int32) (tokens, timestamps []int32) {
	prev := int32(-1)
	for t := range logits.Rows() {
		y := argmax(logits.Row(t))
		if y != blank && y != prev {
			tokens = append(tokens, y)
			timestamps = append(timestamps, int32(t))
		}
		prev = y
	}
	return tokens, timestamps
}
