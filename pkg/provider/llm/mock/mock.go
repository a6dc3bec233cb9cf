// Package mock is an in-memory [llm.Provider] for tests. It records every
// request and answers with canned values.
//
//	p := &mock.Provider{CompleteResponse: &llm.CompletionResponse{Content: "Bonjour !"}}
package mock

import (
	"context"
	"slices"
	"sync"

	"github.com/MrWong99/tutorlive/pkg/provider/llm"
)

var _ llm.Provider = (*Provider)(nil)

// CompleteCall is one recorded Complete invocation.
type CompleteCall struct {
	Ctx context.Context
	Req llm.CompletionRequest
}

// Provider answers Complete with CompleteFunc when set, otherwise with
// CompleteResponse and CompleteErr. Configure it before first use.
type Provider struct {
	CompleteResponse *llm.CompletionResponse
	CompleteErr      error
	CompleteFunc     func(req llm.CompletionRequest) (*llm.CompletionResponse, error)
	DefaultModel     string

	mu            sync.Mutex
	CompleteCalls []CompleteCall
}

// Complete records the call before answering. CompleteFunc runs without the
// lock held, so it may call [Provider.Calls].
func (p *Provider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	p.mu.Lock()
	p.CompleteCalls = append(p.CompleteCalls, CompleteCall{Ctx: ctx, Req: req})
	p.mu.Unlock()

	if p.CompleteFunc != nil {
		return p.CompleteFunc(req)
	}
	return p.CompleteResponse, p.CompleteErr
}

// Model returns DefaultModel.
func (p *Provider) Model() string { return p.DefaultModel }

// Calls returns a snapshot of the recorded calls.
func (p *Provider) Calls() []CompleteCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Clone(p.CompleteCalls)
}
