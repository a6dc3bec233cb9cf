package resilience

import (
	"context"

	"github.com/MrWong99/tutorlive/pkg/provider/llm"
)

// LLMFallback implements [llm.Provider] with failover across text model
// backends.
type LLMFallback struct {
	group *FallbackGroup[llm.Provider]
}

var _ llm.Provider = (*LLMFallback)(nil)

// NewLLMFallback creates an [LLMFallback] with primary as the preferred backend.
func NewLLMFallback(primary llm.Provider, primaryName string, cfg FallbackConfig) *LLMFallback {
	return &LLMFallback{group: NewFallbackGroup(primary, primaryName, cfg)}
}

// AddFallback registers an additional backend.
func (f *LLMFallback) AddFallback(name string, provider llm.Provider) {
	f.group.AddFallback(name, provider)
}

// Complete sends req to the first healthy backend.
//
// A request naming a model is only meaningful to the backend it was chosen
// for, so fallbacks receive the request with Model cleared and use their own
// default.
func (f *LLMFallback) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	primary := f.group.primary()
	return ExecuteWithResult(ctx, f.group, func(p llm.Provider) (*llm.CompletionResponse, error) {
		r := req
		if p != primary {
			r.Model = ""
		}
		return p.Complete(ctx, r)
	})
}

// Model returns the primary backend's default model.
func (f *LLMFallback) Model() string {
	return f.group.primary().Model()
}

// States reports each backend's breaker state.
func (f *LLMFallback) States() map[string]State {
	return f.group.States()
}
