// Package ctc is an offline recognizer for CTC acoustic models exported to
// ONNX (for example icefall zipformer-ctc).
//
// The whole segment is turned into fbank features, run through the model in
// one call and collapsed with greedy CTC decoding.
package ctc

import (
	"context"
	"fmt"

	"github.com/MrWong99/streamasr/pkg/decode"
	"github.com/MrWong99/streamasr/pkg/features"
	"github.com/MrWong99/streamasr/pkg/inference"
	"github.com/MrWong99/streamasr/pkg/inference/onnx"
	"github.com/MrWong99/streamasr/pkg/offline"
	"github.com/MrWong99/streamasr/pkg/symbols"
)

// Config describes the model's I/O.
type Config struct {
	Features features.Config

	// BlankID is the CTC blank token. Default: 0.
	BlankID int32

	// SubsamplingFactor is the ratio of feature frames to output frames.
	// Default: 4.
	SubsamplingFactor int

	// Input names the (1, T, dim) feature input. Default: "x".
	Input string

	// InputLens names the (1,) int64 length input. Default: "x_lens". Set
	// to "-" for models without one.
	InputLens string

	// Output names the (1, T', vocab) log-probability output. Default:
	// "log_probs".
	Output string
}

func (c Config) withDefaults() Config {
	if c.Features == (features.Config{}) {
		c.Features = features.DefaultConfig()
	}
	if c.SubsamplingFactor <= 0 {
		c.SubsamplingFactor = 4
	}
	if c.Input == "" {
		c.Input = "x"
	}
	if c.InputLens == "" {
		c.InputLens = "x_lens"
	}
	if c.Output == "" {
		c.Output = "log_probs"
	}
	return c
}

// Recognizer implements offline.Recognizer over a CTC engine.
type Recognizer struct {
	eng  inference.Engine
	syms *symbols.Table
	cfg  Config
}

// New returns a recognizer running eng.
func New(eng inference.Engine, syms *symbols.Table, cfg Config) *Recognizer {
	return &Recognizer{eng: eng, syms: syms, cfg: cfg.withDefaults()}
}

// Load opens the ONNX model at path. [onnx.Init] must have been called.
func Load(path string, syms *symbols.Table, cfg Config, opts ...onnx.Option) (*Recognizer, error) {
	eng, err := onnx.New(path, opts...)
	if err != nil {
		return nil, fmt.Errorf("ctc: %w", err)
	}
	return New(eng, syms, cfg), nil
}

// Close releases the engine.
func (r *Recognizer) Close() error { return r.eng.Close() }

// Transcribe implements offline.Recognizer.
func (r *Recognizer) Transcribe(ctx context.Context, samples []float32, sampleRate int) (offline.Transcript, error) {
	feats, n, err := features.Compute(r.cfg.Features, sampleRate, samples)
	if err != nil {
		return offline.Transcript{}, fmt.Errorf("ctc: %w", err)
	}
	if n == 0 {
		return offline.Transcript{}, nil
	}
	if err := ctx.Err(); err != nil {
		return offline.Transcript{}, err
	}

	inputs := map[string]inference.Tensor{
		r.cfg.Input: inference.NewFloat([]int64{1, int64(n), int64(len(feats) / n)}, feats),
	}
	if r.cfg.InputLens != "-" {
		inputs[r.cfg.InputLens] = inference.NewInt([]int64{1}, []int64{int64(n)})
	}
	out, err := r.eng.Run(inputs)
	if err != nil {
		return offline.Transcript{}, fmt.Errorf("ctc: run model: %w", err)
	}
	logits, err := inference.Output(out, r.cfg.Output)
	if err != nil {
		return offline.Transcript{}, fmt.Errorf("ctc: %w", err)
	}
	if len(logits.Shape) == 3 {
		if logits, err = logits.Reshape(logits.Shape[1], logits.Shape[2]); err != nil {
			return offline.Transcript{}, fmt.Errorf("ctc: %w", err)
		}
	}

	tokens, frames := decode.CTCGreedy(logits, r.cfg.BlankID)
	shift := float32(r.cfg.Features.FrameShiftSeconds()) * float32(r.cfg.SubsamplingFactor)
	stamps := make([]float32, len(frames))
	for i, f := range frames {
		stamps[i] = float32(f) * shift
	}
	return offline.Transcript{
		Text:       r.syms.Text(tokens),
		Tokens:     r.syms.Tokens(tokens),
		Timestamps: stamps,
	}, nil
}

var _ offline.Recognizer = (*Recognizer)(nil)
