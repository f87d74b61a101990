package config

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/MrWong99/quacktosql/pkg/provider/asr"
)

// ErrProviderNotRegistered is returned by [Registry.CreateASR] when no factory
// has been registered under the requested provider name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// ASRFactory builds an ASR model from its config entry.
type ASRFactory func(ProviderEntry) (asr.Model, error)

// Registry maps ASR provider names to their constructor functions. It is
// safe for concurrent use.
type Registry struct {
	mu  sync.RWMutex
	asr map[string]ASRFactory
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{asr: make(map[string]ASRFactory)}
}

// RegisterASR registers an ASR model factory under name.
// Subsequent calls with the same name overwrite the previous registration.
func (r *Registry) RegisterASR(name string, factory ASRFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.asr[name] = factory
}

// CreateASR instantiates an ASR model using the factory registered under
// entry.Name. Returns [ErrProviderNotRegistered] if there is none.
func (r *Registry) CreateASR(entry ProviderEntry) (asr.Model, error) {
	r.mu.RLock()
	factory, ok := r.asr[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: asr/%q", ErrProviderNotRegistered, entry.Name)
	}
	m, err := factory(entry)
	if err != nil {
		return nil, fmt.Errorf("config: create asr/%q: %w", entry.Name, err)
	}
	return m, nil
}

// ASRNames returns the registered provider names in sorted order.
func (r *Registry) ASRNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.asr))
	for name := range r.asr {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}
