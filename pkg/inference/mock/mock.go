// Package mock provides a test double for [inference.Engine].
//
// Engine records every Run call and answers with RunFunc when set, otherwise
// with the fixed Outputs map (or RunErr).
//
// Example:
//
//	eng := &mock.Engine{
//	    In:  []string{"y"},
//	    Out: []string{"decoder_out"},
//	    RunFunc: func(in map[string]inference.Tensor) (map[string]inference.Tensor, error) {
//	        return map[string]inference.Tensor{"decoder_out": inference.Zeros(1, 4)}, nil
//	    },
//	}
package mock

import (
	"maps"
	"sync"

	"github.com/MrWong99/streamasr/pkg/inference"
)

// RunCall records a single invocation of Engine.Run.
type RunCall struct {
	// Inputs is a deep copy of the tensors passed to Run.
	Inputs map[string]inference.Tensor
}

// Engine is a mock implementation of inference.Engine.
type Engine struct {
	mu sync.Mutex

	// In and Out are returned by InputNames and OutputNames.
	In  []string
	Out []string

	// RunFunc, when non-nil, computes the result of Run.
	RunFunc func(inputs map[string]inference.Tensor) (map[string]inference.Tensor, error)

	// Outputs is returned by Run when RunFunc is nil.
	Outputs map[string]inference.Tensor

	// RunErr, if non-nil, is returned from Run before RunFunc is consulted.
	RunErr error

	// RunCalls records every call to Run in order.
	RunCalls []RunCall

	// CloseCalls counts calls to Close.
	CloseCalls int
}

// Run records the call and returns the scripted result.
func (e *Engine) Run(inputs map[string]inference.Tensor) (map[string]inference.Tensor, error) {
	e.mu.Lock()
	cp := make(map[string]inference.Tensor, len(inputs))
	for k, v := range inputs {
		cp[k] = v.Clone()
	}
	e.RunCalls = append(e.RunCalls, RunCall{Inputs: cp})
	runErr, fn, outputs := e.RunErr, e.RunFunc, e.Outputs
	e.mu.Unlock()

	if runErr != nil {
		return nil, runErr
	}
	if fn != nil {
		return fn(inputs)
	}
	return maps.Clone(outputs), nil
}

// InputNames returns In.
func (e *Engine) InputNames() []string { return e.In }

// OutputNames returns Out.
func (e *Engine) OutputNames() []string { return e.Out }

// Close records the call.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.CloseCalls++
	return nil
}

// Calls returns a snapshot of the recorded Run calls. Thread-safe.
func (e *Engine) Calls() []RunCall {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]RunCall(nil), e.RunCalls...)
}

// Reset clears all recorded calls. Thread-safe.
func (e *Engine) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.RunCalls = nil
	e.CloseCalls = 0
}

var _ inference.Engine = (*Engine)(nil)
