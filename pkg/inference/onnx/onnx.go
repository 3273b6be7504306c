// Package onnx implements [inference.Engine] on top of ONNX Runtime via
// github.com/yalue/onnxruntime_go.
//
// The shared library is loaded once per process by [Init]. Each [Engine]
// wraps a DynamicAdvancedSession so tensor shapes may vary from call to call
// (beam width, segment length). Sessions are safe for concurrent Run calls.
package onnx

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"sync"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/MrWong99/streamasr/pkg/inference"
)

var (
	initOnce sync.Once
	initErr  error
)

// Init loads the ONNX Runtime shared library and initialises the global
// environment. libPath may be empty to use the platform default. Subsequent
// calls return the result of the first.
func Init(libPath string) error {
	initOnce.Do(func() {
		if libPath != "" {
			ort.SetSharedLibraryPath(libPath)
		}
		if ort.IsInitialized() {
			return
		}
		if err := ort.InitializeEnvironment(); err != nil {
			initErr = fmt.Errorf("onnx: initialize environment: %w", err)
		}
	})
	return initErr
}

// Initialized reports whether the runtime environment is ready.
func Initialized() bool { return ort.IsInitialized() }

// Option configures an [Engine].
type Option func(*Engine)

// WithNumThreads sets the intra-op thread count for the session. Zero leaves
// the runtime default.
func WithNumThreads(n int) Option {
	return func(e *Engine) { e.numThreads = n }
}

// Engine is an ONNX Runtime session exposed as an [inference.Engine].
type Engine struct {
	path       string
	numThreads int

	session *ort.DynamicAdvancedSession
	inputs  []ort.InputOutputInfo
	outputs []ort.InputOutputInfo
}

// New loads the model at path. [Init] must have succeeded first.
func New(path string, opts ...Option) (*Engine, error) {
	e := &Engine{path: path}
	for _, o := range opts {
		o(e)
	}

	inputs, outputs, err := ort.GetInputOutputInfo(path)
	if err != nil {
		return nil, fmt.Errorf("onnx: inspect %q: %w", path, err)
	}
	e.inputs, e.outputs = inputs, outputs

	so, err := ort.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("onnx: session options: %w", err)
	}
	defer so.Destroy()
	if e.numThreads > 0 {
		if err := so.SetIntraOpNumThreads(e.numThreads); err != nil {
			return nil, fmt.Errorf("onnx: set threads: %w", err)
		}
	}

	session, err := ort.NewDynamicAdvancedSession(path, names(inputs), names(outputs), so)
	if err != nil {
		return nil, fmt.Errorf("onnx: load %q: %w", path, err)
	}
	e.session = session

	slog.Debug("onnx: model loaded", "path", path, "inputs", names(inputs), "outputs", names(outputs))
	return e, nil
}

// InputNames implements [inference.Engine].
func (e *Engine) InputNames() []string { return names(e.inputs) }

// OutputNames implements [inference.Engine].
func (e *Engine) OutputNames() []string { return names(e.outputs) }

// InputShape returns the declared shape of the named input. Dynamic
// dimensions are reported as -1.
func (e *Engine) InputShape(name string) ([]int64, bool) {
	for _, in := range e.inputs {
		if in.Name == name {
			return []int64(in.Dimensions), true
		}
	}
	return nil, false
}

// Run implements [inference.Engine]. Inputs missing from the map are an
// error; outputs are allocated by the runtime and copied into Go memory.
func (e *Engine) Run(inputs map[string]inference.Tensor) (map[string]inference.Tensor, error) {
	in := make([]ort.Value, len(e.inputs))
	defer destroyAll(in)
	for i, info := range e.inputs {
		t, ok := inputs[info.Name]
		if !ok {
			return nil, fmt.Errorf("onnx: %s: missing input %q", e.path, info.Name)
		}
		v, err := toValue(t)
		if err != nil {
			return nil, fmt.Errorf("onnx: %s: input %q: %w", e.path, info.Name, err)
		}
		in[i] = v
	}

	out := make([]ort.Value, len(e.outputs))
	defer destroyAll(out)
	if err := e.session.Run(in, out); err != nil {
		return nil, fmt.Errorf("onnx: %s: run: %w", e.path, err)
	}

	res := make(map[string]inference.Tensor, len(out))
	for i, v := range out {
		t, err := fromValue(v)
		if err != nil {
			return nil, fmt.Errorf("onnx: %s: output %q: %w", e.path, e.outputs[i].Name, err)
		}
		res[e.outputs[i].Name] = t
	}
	return res, nil
}

// Close releases the session.
func (e *Engine) Close() error {
	if e.session == nil {
		return nil
	}
	err := e.session.Destroy()
	e.session = nil
	return err
}

// Metadata reads the custom metadata map of the model at path for the given
// keys. Missing keys are absent from the result.
func Metadata(path string, keys ...string) (map[string]string, error) {
	md, err := ort.GetModelMetadata(path)
	if err != nil {
		return nil, fmt.Errorf("onnx: metadata %q: %w", path, err)
	}
	defer md.Destroy()

	res := make(map[string]string, len(keys))
	for _, k := range keys {
		v, ok, err := md.LookupCustomMetadataMap(k)
		if err != nil {
			return nil, fmt.Errorf("onnx: metadata %q key %q: %w", path, k, err)
		}
		if ok {
			res[k] = v
		}
	}
	return res, nil
}

// MetadataInt is like [Metadata] for a single integer-valued key.
func MetadataInt(path, key string) (int, bool, error) {
	md, err := Metadata(path, key)
	if err != nil {
		return 0, false, err
	}
	s, ok := md[key]
	if !ok {
		return 0, false, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, false, fmt.Errorf("onnx: metadata %q key %q: %w", path, key, err)
	}
	return n, true, nil
}

func toValue(t inference.Tensor) (ort.Value, error) {
	shape := ort.NewShape(t.Shape...)
	switch t.DType {
	case inference.Float32:
		return ort.NewTensor(shape, slices.Clone(t.Floats))
	case inference.Int64:
		return ort.NewTensor(shape, slices.Clone(t.Ints))
	}
	return nil, fmt.Errorf("unsupported dtype %s", t.DType)
}

func fromValue(v ort.Value) (inference.Tensor, error) {
	switch tv := v.(type) {
	case *ort.Tensor[float32]:
		return inference.NewFloat([]int64(tv.GetShape()), slices.Clone(tv.GetData())), nil
	case *ort.Tensor[int64]:
		return inference.NewInt([]int64(tv.GetShape()), slices.Clone(tv.GetData())), nil
	case nil:
		return inference.Tensor{}, errors.New("output not allocated")
	}
	return inference.Tensor{}, fmt.Errorf("unsupported output type %T", v)
}

func destroyAll(vs []ort.Value) {
	for _, v := range vs {
		if v != nil {
			_ = v.Destroy()
		}
	}
}

func names(infos []ort.InputOutputInfo) []string {
	out := make([]string, len(infos))
	for i, info := range infos {
		out[i] = info.Name
	}
	return out
}

var _ inference.Engine = (*Engine)(nil)
