package config

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/MrWong99/oraltutor/pkg/provider/llm"
	"github.com/MrWong99/oraltutor/pkg/provider/stt"
	"github.com/MrWong99/oraltutor/pkg/provider/tts"
)

// ErrProviderNotRegistered is returned when a [ProviderEntry] names a backend
// no factory was registered for.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// Factory builds a provider from its config entry.
type Factory[T any] func(ProviderEntry) (T, error)

// factories is the name table of one provider kind.
type factories[T any] struct {
	kind string
	m    map[string]Factory[T]
}

// create looks the factory up under mu and runs it unlocked; factories may
// dial remote services.
func create[T any](mu *sync.RWMutex, f *factories[T], entry ProviderEntry) (T, error) {
	mu.RLock()
	build, ok := f.m[entry.Name]
	mu.RUnlock()
	if !ok {
		var zero T
		return zero, fmt.Errorf("%w: %s/%q", ErrProviderNotRegistered, f.kind, entry.Name)
	}
	p, err := build(entry)
	if err != nil {
		return p, fmt.Errorf("config: create %s/%q: %w", f.kind, entry.Name, err)
	}
	return p, nil
}

func (f *factories[T]) names() []string {
	names := make([]string, 0, len(f.m))
	for n := range f.m {
		names = append(names, n)
	}
	slices.Sort(names)
	return names
}

// Registry maps backend names to provider factories, one table per kind.
// Registering a name twice replaces the earlier factory. Safe for concurrent
// use.
type Registry struct {
	mu  sync.RWMutex
	llm factories[llm.Provider]
	stt factories[stt.Provider]
	tts factories[tts.Provider]
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		llm: factories[llm.Provider]{kind: "llm", m: map[string]Factory[llm.Provider]{}},
		stt: factories[stt.Provider]{kind: "stt", m: map[string]Factory[stt.Provider]{}},
		tts: factories[tts.Provider]{kind: "tts", m: map[string]Factory[tts.Provider]{}},
	}
}

// RegisterLLM registers an LLM backend.
func (r *Registry) RegisterLLM(name string, f Factory[llm.Provider]) {
	r.mu.Lock()
	r.llm.m[name] = f
	r.mu.Unlock()
}

// RegisterSTT registers a transcription backend.
func (r *Registry) RegisterSTT(name string, f Factory[stt.Provider]) {
	r.mu.Lock()
	r.stt.m[name] = f
	r.mu.Unlock()
}

// RegisterTTS registers a synthesis backend.
func (r *Registry) RegisterTTS(name string, f Factory[tts.Provider]) {
	r.mu.Lock()
	r.tts.m[name] = f
	r.mu.Unlock()
}

// CreateLLM builds the LLM backend named by entry.Name.
func (r *Registry) CreateLLM(entry ProviderEntry) (llm.Provider, error) {
	return create(&r.mu, &r.llm, entry)
}

// CreateSTT builds the transcription backend named by entry.Name.
func (r *Registry) CreateSTT(entry ProviderEntry) (stt.Provider, error) {
	return create(&r.mu, &r.stt, entry)
}

// CreateTTS builds the synthesis backend named by entry.Name.
func (r *Registry) CreateTTS(entry ProviderEntry) (tts.Provider, error) {
	return create(&r.mu, &r.tts, entry)
}

// Names returns the sorted backend names of kind ("llm", "stt" or "tts").
func (r *Registry) Names(kind string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	switch kind {
	case "llm":
		return r.llm.names()
	case "stt":
		return r.stt.names()
	case "tts":
		return r.tts.names()
	}
	return nil
}
