package config

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/MrWong99/streamasr/internal/sink"
	"github.com/MrWong99/streamasr/pkg/offline"
	"github.com/MrWong99/streamasr/pkg/vad"
)

// ErrProviderNotRegistered is returned by Create* methods when no factory has
// been registered under the requested backend name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// OfflineFactory builds an offline recognizer.
type OfflineFactory func(ProviderEntry) (offline.Recognizer, error)

// SinkFactory builds a result sink. ctx bounds connection setup.
type SinkFactory func(context.Context, ProviderEntry) (sink.Sink, error)

// VADFactory builds a VAD engine.
type VADFactory func(ProviderEntry) (vad.Engine, error)

// Registry maps backend names to their constructor functions for each
// backend kind. It is safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	offline map[string]OfflineFactory
	sinks   map[string]SinkFactory
	vad     map[string]VADFactory
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		offline: make(map[string]OfflineFactory),
		sinks:   make(map[string]SinkFactory),
		vad:     make(map[string]VADFactory),
	}
}

// RegisterOffline registers an offline recognizer factory under name.
// Subsequent calls with the same name overwrite the previous registration.
func (r *Registry) RegisterOffline(name string, factory OfflineFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.offline[name] = factory
}

// RegisterSink registers a sink factory under name.
func (r *Registry) RegisterSink(name string, factory SinkFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sinks[name] = factory
}

// RegisterVAD registers a VAD engine factory under name.
func (r *Registry) RegisterVAD(name string, factory VADFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.vad[name] = factory
}

// CreateOffline instantiates an offline recognizer using the factory
// registered under entry.Name. Returns [ErrProviderNotRegistered] if no
// factory has been registered for that name.
func (r *Registry) CreateOffline(entry ProviderEntry) (offline.Recognizer, error) {
	r.mu.RLock()
	factory, ok := r.offline[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: offline/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}

// CreateSink instantiates a sink using the factory registered under entry.Name.
func (r *Registry) CreateSink(ctx context.Context, entry ProviderEntry) (sink.Sink, error) {
	r.mu.RLock()
	factory, ok := r.sinks[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: sink/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(ctx, entry)
}

// CreateVAD instantiates a VAD engine using the factory registered under entry.Name.
func (r *Registry) CreateVAD(entry ProviderEntry) (vad.Engine, error) {
	r.mu.RLock()
	factory, ok := r.vad[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: vad/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}

// Names returns the sorted names registered for kind ("offline", "sink" or
// "vad").
func (r *Registry) Names(kind string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var names []string
	switch kind {
	case "offline":
		for n := range r.offline {
			names = append(names, n)
		}
	case "sink":
		for n := range r.sinks {
			names = append(names, n)
		}
	case "vad":
		for n := range r.vad {
			names = append(names, n)
		}
	}
	slices.Sort(names)
	return names
}
