package config

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/MrWong99/tutorlive/pkg/provider/live"
	"github.com/MrWong99/tutorlive/pkg/provider/llm"
	"github.com/MrWong99/tutorlive/pkg/provider/tts"
)

// ErrProviderNotRegistered is returned when no factory carries the
// requested name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// Factory builds a provider from its configuration entry.
type Factory[P any] func(ProviderEntry) (P, error)

type factories[P any] struct {
	kind   string
	byName map[string]Factory[P]
}

func (f factories[P]) create(entry ProviderEntry) (P, error) {
	build, ok := f.byName[entry.Name]
	if !ok {
		var zero P
		return zero, fmt.Errorf("%w: %s/%q", ErrProviderNotRegistered, f.kind, entry.Name)
	}
	return build(entry)
}

// Registry resolves provider names from the configuration to factories.
// It is safe for concurrent use.
type Registry struct {
	mu   sync.RWMutex
	live factories[live.Provider]
	llm  factories[llm.Provider]
	tts  factories[tts.Provider]
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		live: factories[live.Provider]{kind: "live", byName: map[string]Factory[live.Provider]{}},
		llm:  factories[llm.Provider]{kind: "llm", byName: map[string]Factory[llm.Provider]{}},
		tts:  factories[tts.Provider]{kind: "tts", byName: map[string]Factory[tts.Provider]{}},
	}
}

// RegisterLive adds or replaces the live provider factory called name.
func (r *Registry) RegisterLive(name string, f Factory[live.Provider]) {
	r.mu.Lock()
	r.live.byName[name] = f
	r.mu.Unlock()
}

// RegisterLLM adds or replaces the text model factory called name.
func (r *Registry) RegisterLLM(name string, f Factory[llm.Provider]) {
	r.mu.Lock()
	r.llm.byName[name] = f
	r.mu.Unlock()
}

// RegisterTTS adds or replaces the speech synthesis factory called name.
func (r *Registry) RegisterTTS(name string, f Factory[tts.Provider]) {
	r.mu.Lock()
	r.tts.byName[name] = f
	r.mu.Unlock()
}

// CreateLive builds the live provider named by entry.
func (r *Registry) CreateLive(entry ProviderEntry) (live.Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.live.create(entry)
}

// CreateLLM builds the text model named by entry.
func (r *Registry) CreateLLM(entry ProviderEntry) (llm.Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.llm.create(entry)
}

// CreateTTS builds the speech synthesizer named by entry.
func (r *Registry) CreateTTS(entry ProviderEntry) (tts.Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.tts.create(entry)
}

// LiveNames lists registered live providers, sorted.
func (r *Registry) LiveNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Sorted(maps.Keys(r.live.byName))
}

// LLMNames lists registered text models, sorted.
func (r *Registry) LLMNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Sorted(maps.Keys(r.llm.byName))
}

// TTSNames lists registered speech synthesizers, sorted.
func (r *Registry) TTSNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Sorted(maps.Keys(r.tts.byName))
}
