package config

import (
	"errors"
	"fmt"
	"sync"

	"github.com/MrWong99/sorivox/pkg/provider/grammar"
	"github.com/MrWong99/sorivox/pkg/provider/pronunciation"
	"github.com/MrWong99/sorivox/pkg/provider/stt"
)

// ErrProviderNotRegistered is returned by Create* methods when no factory has
// been registered under the requested provider name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// Registry maps provider names to their constructor functions for each
// provider type. It is safe for concurrent use.
type Registry struct {
	mu            sync.RWMutex
	stt           map[string]func(ProviderEntry) (stt.Provider, error)
	grammar       map[string]func(ProviderEntry) (grammar.Reviewer, error)
	pronunciation map[string]func(ProviderEntry) (pronunciation.Analyzer, error)
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		stt:           make(map[string]func(ProviderEntry) (stt.Provider, error)),
		grammar:       make(map[string]func(ProviderEntry) (grammar.Reviewer, error)),
		pronunciation: make(map[string]func(ProviderEntry) (pronunciation.Analyzer, error)),
	}
}

// RegisterSTT registers an STT provider factory under name.
// Subsequent calls with the same name overwrite the previous registration.
func (r *Registry) RegisterSTT(name string, factory func(ProviderEntry) (stt.Provider, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stt[name] = factory
}

// RegisterGrammar registers a grammar reviewer factory under name.
func (r *Registry) RegisterGrammar(name string, factory func(ProviderEntry) (grammar.Reviewer, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.grammar[name] = factory
}

// RegisterPronunciation registers a pronunciation analyzer factory under name.
func (r *Registry) RegisterPronunciation(name string, factory func(ProviderEntry) (pronunciation.Analyzer, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pronunciation[name] = factory
}

// CreateSTT instantiates an STT provider using the factory registered under entry.Name.
// Returns [ErrProviderNotRegistered] if no factory has been registered for that name.
func (r *Registry) CreateSTT(entry ProviderEntry) (stt.Provider, error) {
	r.mu.RLock()
	factory, ok := r.stt[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: stt/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}

// CreateGrammar instantiates a grammar reviewer using the factory registered under entry.Name.
func (r *Registry) CreateGrammar(entry ProviderEntry) (grammar.Reviewer, error) {
	r.mu.RLock()
	factory, ok := r.grammar[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: grammar/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}

// CreatePronunciation instantiates a pronunciation analyzer using the factory registered under entry.Name.
func (r *Registry) CreatePronunciation(entry ProviderEntry) (pronunciation.Analyzer, error) {
	r.mu.RLock()
	factory, ok := r.pronunciation[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: pronunciation/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}
