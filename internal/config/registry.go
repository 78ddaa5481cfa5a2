package config

import (
	"errors"
	"fmt"
	"sync"

	"github.com/affectd/affectd/pkg/provider/infer"
)

// ErrBackendNotRegistered is returned by Create* methods when no factory has
// been registered under the requested backend name.
var ErrBackendNotRegistered = errors.New("config: backend not registered")

// Registry maps backend names to their constructor functions for each
// modality. It is safe for concurrent use.
type Registry struct {
	mu     sync.RWMutex
	vision map[string]func(ProviderEntry) (infer.Backend, error)
	audio  map[string]func(ProviderEntry) (infer.Backend, error)
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		vision: make(map[string]func(ProviderEntry) (infer.Backend, error)),
		audio:  make(map[string]func(ProviderEntry) (infer.Backend, error)),
	}
}

// RegisterVision registers a vision backend factory under name.
// Subsequent calls with the same name overwrite the previous registration.
func (r *Registry) RegisterVision(name string, factory func(ProviderEntry) (infer.Backend, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.vision[name] = factory
}

// RegisterAudio registers an audio backend factory under name.
func (r *Registry) RegisterAudio(name string, factory func(ProviderEntry) (infer.Backend, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.audio[name] = factory
}

// CreateVision instantiates a vision backend using the factory registered
// under entry.Name. Returns [ErrBackendNotRegistered] if no factory has been
// registered for that name.
func (r *Registry) CreateVision(entry ProviderEntry) (infer.Backend, error) {
	r.mu.RLock()
	factory, ok := r.vision[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: vision/%q", ErrBackendNotRegistered, entry.Name)
	}
	return factory(entry)
}

// CreateAudio instantiates an audio backend using the factory registered
// under entry.Name.
func (r *Registry) CreateAudio(entry ProviderEntry) (infer.Backend, error) {
	r.mu.RLock()
	factory, ok := r.audio[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: audio/%q", ErrBackendNotRegistered, entry.Name)
	}
	return factory(entry)
}
