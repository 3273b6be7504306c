package transducer

import (
	"errors"
	"fmt"

	"github.com/MrWong99/streamasr/pkg/inference/onnx"
)

// ONNXConfig points at the three exported networks of a model.
type ONNXConfig struct {
	Encoder    string
	Decoder    string
	Joiner     string
	Type       Type
	NumThreads int

	// Segment, Offset and ContextSize override the preset when positive.
	Segment     int
	Offset      int
	ContextSize int

	// States declares the encoder states explicitly. When empty they are
	// inferred from the encoder's declared inputs.
	States []StateSpec
}

// LoadONNX opens the three networks with ONNX Runtime. Framing starts from
// the preset of cfg.Type, takes positive values from cfg and is finally
// overridden by model metadata: "T" sets Segment, "decode_chunk_len" sets
// Offset and "context_size" (read from the decoder) sets ContextSize.
// [onnx.Init] must have been called.
func LoadONNX(cfg ONNXConfig) (*EngineModel, error) {
	meta, ok := Preset(cfg.Type)
	if !ok {
		return nil, fmt.Errorf("transducer: unknown model type %q", cfg.Type)
	}
	meta.States = cfg.States
	for _, o := range []struct{ v, dst *int }{
		{&cfg.Segment, &meta.Segment},
		{&cfg.Offset, &meta.Offset},
		{&cfg.ContextSize, &meta.ContextSize},
	} {
		if *o.v > 0 {
			*o.dst = *o.v
		}
	}

	overrides := []struct {
		path, key string
		dst       *int
	}{
		{cfg.Encoder, "T", &meta.Segment},
		{cfg.Encoder, "decode_chunk_len", &meta.Offset},
		{cfg.Decoder, "context_size", &meta.ContextSize},
	}
	for _, o := range overrides {
		v, found, err := onnx.MetadataInt(o.path, o.key)
		if err != nil {
			return nil, fmt.Errorf("transducer: metadata %q: %w", o.key, err)
		}
		if found {
			*o.dst = v
		}
	}

	opts := []onnx.Option{onnx.WithNumThreads(cfg.NumThreads)}
	enc, err := onnx.New(cfg.Encoder, opts...)
	if err != nil {
		return nil, fmt.Errorf("transducer: encoder: %w", err)
	}
	dec, err := onnx.New(cfg.Decoder, opts...)
	if err != nil {
		return nil, errors.Join(fmt.Errorf("transducer: decoder: %w", err), enc.Close())
	}
	join, err := onnx.New(cfg.Joiner, opts...)
	if err != nil {
		return nil, errors.Join(fmt.Errorf("transducer: joiner: %w", err), enc.Close(), dec.Close())
	}

	m, err := New(enc, dec, join, meta)
	if err != nil {
		return nil, errors.Join(err, enc.Close(), dec.Close(), join.Close())
	}
	return m, nil
}
