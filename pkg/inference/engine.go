package inference

import "fmt"

// Engine runs one model component. Implementations must be safe for
// concurrent use by multiple streams: Run may be called from several
// goroutines at once, and no call may observe state left by another.
type Engine interface {
	// Run executes a forward pass. The returned map contains every output
	// the model produces, keyed by output name.
	Run(inputs map[string]Tensor) (map[string]Tensor, error)

	// InputNames and OutputNames list the model's declared I/O names in
	// model order.
	InputNames() []string
	OutputNames() []string

	// Close releases runtime resources. Run must not be called afterwards.
	Close() error
}

// Output fetches a named output from an engine result.
func Output(outputs map[string]Tensor, name string) (Tensor, error) {
	t, ok := outputs[name]
	if !ok {
		return Tensor{}, fmt.Errorf("%w: %q", ErrMissingOutput, name)
	}
	return t, nil
}
