package transducer

import (
	"errors"
	"fmt"
	"strings"

	"github.com/MrWong99/streamasr/pkg/inference"
)

// IONames are the tensor names used to talk to the three engines.
type IONames struct {
	EncoderInput   string
	EncoderOutput  string
	NewStatePrefix string
	DecoderInput   string
	DecoderOutput  string
	JoinerEncoder  string
	JoinerDecoder  string
	JoinerOutput   string
}

// DefaultIONames returns the names used by icefall ONNX exports.
func DefaultIONames() IONames {
	return IONames{
		EncoderInput:   "x",
		EncoderOutput:  "encoder_out",
		NewStatePrefix: "new_",
		DecoderInput:   "y",
		DecoderOutput:  "decoder_out",
		JoinerEncoder:  "encoder_out",
		JoinerDecoder:  "decoder_out",
		JoinerOutput:   "logit",
	}
}

// Option configures an [EngineModel].
type Option func(*EngineModel)

// WithIONames overrides the tensor names.
func WithIONames(n IONames) Option {
	return func(m *EngineModel) { m.names = n }
}

// shapeReporter is implemented by engines that know their declared input
// shapes (the ONNX engine does).
type shapeReporter interface {
	InputShape(name string) ([]int64, bool)
}

// EngineModel is a [Model] backed by three [inference.Engine] values.
type EngineModel struct {
	encoder inference.Engine
	decoder inference.Engine
	joiner  inference.Engine
	meta    Meta
	names   IONames
}

// New assembles a model. When meta.States is empty the state specs are
// inferred from the encoder's inputs: every input other than the feature
// input is a state, and dynamic dimensions become 1.
func New(encoder, decoder, joiner inference.Engine, meta Meta, opts ...Option) (*EngineModel, error) {
	if encoder == nil || decoder == nil || joiner == nil {
		return nil, errors.New("transducer: encoder, decoder and joiner are required")
	}
	m := &EngineModel{encoder: encoder, decoder: decoder, joiner: joiner, meta: meta, names: DefaultIONames()}
	for _, o := range opts {
		o(m)
	}
	if err := meta.Validate(); err != nil {
		return nil, err
	}
	if len(m.meta.States) == 0 {
		states, err := m.inferStates()
		if err != nil {
			return nil, err
		}
		m.meta.States = states
	}
	return m, nil
}

func (m *EngineModel) inferStates() ([]StateSpec, error) {
	var specs []StateSpec
	sr, _ := m.encoder.(shapeReporter)
	for _, name := range m.encoder.InputNames() {
		if name == m.names.EncoderInput {
			continue
		}
		if sr == nil {
			return nil, fmt.Errorf("transducer: cannot infer shape of state %q; declare encoder states explicitly", name)
		}
		shape, ok := sr.InputShape(name)
		if !ok {
			return nil, fmt.Errorf("transducer: encoder has no input %q", name)
		}
		fixed := make([]int64, len(shape))
		for i, d := range shape {
			fixed[i] = max(d, 1)
		}
		specs = append(specs, StateSpec{Name: name, Shape: fixed})
	}
	return specs, nil
}

// Meta implements [Model].
func (m *EngineModel) Meta() Meta { return m.meta }

// InitStates implements [Model].
func (m *EngineModel) InitStates() []inference.Tensor {
	states := make([]inference.Tensor, len(m.meta.States))
	for i, s := range m.meta.States {
		if strings.HasSuffix(s.Name, "_len") || strings.Contains(s.Name, "processed_lens") {
			states[i] = inference.NewInt(s.Shape, make([]int64, inference.NumElements(s.Shape)))
			continue
		}
		states[i] = inference.Zeros(s.Shape...)
	}
	return states
}

// RunEncoder implements [Model].
func (m *EngineModel) RunEncoder(features inference.Tensor, states []inference.Tensor) (inference.Tensor, []inference.Tensor, error) {
	if len(states) != len(m.meta.States) {
		return inference.Tensor{}, nil, fmt.Errorf("transducer: got %d states, want %d", len(states), len(m.meta.States))
	}
	in := make(map[string]inference.Tensor, len(states)+1)
	in[m.names.EncoderInput] = features
	for i, s := range m.meta.States {
		in[s.Name] = states[i]
	}

	out, err := m.encoder.Run(in)
	if err != nil {
		return inference.Tensor{}, nil, fmt.Errorf("transducer: encoder: %w", err)
	}
	enc, err := inference.Output(out, m.names.EncoderOutput)
	if err != nil {
		return inference.Tensor{}, nil, fmt.Errorf("transducer: encoder: %w", err)
	}
	enc, err = flatten2D(enc)
	if err != nil {
		return inference.Tensor{}, nil, fmt.Errorf("transducer: encoder: %w", err)
	}

	next := make([]inference.Tensor, len(m.meta.States))
	for i, s := range m.meta.States {
		t, err := inference.Output(out, m.names.NewStatePrefix+s.Name)
		if err != nil {
			return inference.Tensor{}, nil, fmt.Errorf("transducer: encoder: %w", err)
		}
		next[i] = t
	}
	return enc, next, nil
}

// RunDecoder implements [Model].
func (m *EngineModel) RunDecoder(contexts inference.Tensor) (inference.Tensor, error) {
	out, err := m.decoder.Run(map[string]inference.Tensor{m.names.DecoderInput: contexts})
	if err != nil {
		return inference.Tensor{}, fmt.Errorf("transducer: decoder: %w", err)
	}
	dec, err := inference.Output(out, m.names.DecoderOutput)
	if err != nil {
		return inference.Tensor{}, fmt.Errorf("transducer: decoder: %w", err)
	}
	return flatten2D(dec)
}

// RunJoiner implements [Model].
func (m *EngineModel) RunJoiner(encoderOut, decoderOut inference.Tensor) (inference.Tensor, error) {
	out, err := m.joiner.Run(map[string]inference.Tensor{
		m.names.JoinerEncoder: encoderOut,
		m.names.JoinerDecoder: decoderOut,
	})
	if err != nil {
		return inference.Tensor{}, fmt.Errorf("transducer: joiner: %w", err)
	}
	logits, err := inference.Output(out, m.names.JoinerOutput)
	if err != nil {
		return inference.Tensor{}, fmt.Errorf("transducer: joiner: %w", err)
	}
	return flatten2D(logits)
}

// Close closes all three engines.
func (m *EngineModel) Close() error {
	return errors.Join(m.encoder.Close(), m.decoder.Close(), m.joiner.Close())
}

// flatten2D folds all leading dimensions of t into rows, keeping the last
// dimension: (1, T, D) and (N, 1, D) both become 2-D.
func flatten2D(t inference.Tensor) (inference.Tensor, error) {
	if len(t.Shape) == 2 {
		return t, nil
	}
	if len(t.Shape) == 0 {
		return inference.Tensor{}, errors.New("scalar output")
	}
	last := t.Shape[len(t.Shape)-1]
	return t.Reshape(int64(t.Len())/last, last)
}

var _ Model = (*EngineModel)(nil)
