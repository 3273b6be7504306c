package resilience

import (
	"context"

	"github.com/MrWong99/streamasr/pkg/offline"
)

// OfflineFallback implements [offline.Recognizer] over several backends.
// A segment goes to the first backend whose breaker is not open; when it
// fails the next one gets the same samples.
type OfflineFallback struct {
	group *FallbackGroup[offline.Recognizer]
}

var _ offline.Recognizer = (*OfflineFallback)(nil)

// NewOfflineFallback returns a fallback with primary as the preferred backend.
func NewOfflineFallback(primary offline.Recognizer, primaryName string, cfg FallbackConfig) *OfflineFallback {
	return &OfflineFallback{group: NewFallbackGroup(primary, primaryName, cfg)}
}

// AddFallback appends a backend.
func (f *OfflineFallback) AddFallback(name string, rec offline.Recognizer) {
	f.group.AddFallback(name, rec)
}

// Names returns the backend names in the order they are tried.
func (f *OfflineFallback) Names() []string { return f.group.Names() }

// Transcribe implements [offline.Recognizer].
func (f *OfflineFallback) Transcribe(ctx context.Context, samples []float32, sampleRate int) (offline.Transcript, error) {
	return ExecuteWithResult(ctx, f.group, func(r offline.Recognizer) (offline.Transcript, error) {
		return r.Transcribe(ctx, samples, sampleRate)
	})
}
