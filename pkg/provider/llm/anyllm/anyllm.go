// Package anyllm provides an LLM provider backed by
// github.com/mozilla-ai/any-llm-go, a unified multi-provider interface that
// supports Gemini, OpenAI, Anthropic, Ollama, Mistral and more.
//
// Usage:
//
//	p, err := anyllm.New("gemini", "gemini-3-pro-preview", anyllmlib.WithAPIKey("..."))
package anyllm

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"

	anyllmlib "github.com/mozilla-ai/any-llm-go"
	"github.com/mozilla-ai/any-llm-go/providers/anthropic"
	"github.com/mozilla-ai/any-llm-go/providers/deepseek"
	"github.com/mozilla-ai/any-llm-go/providers/gemini"
	"github.com/mozilla-ai/any-llm-go/providers/groq"
	"github.com/mozilla-ai/any-llm-go/providers/llamacpp"
	"github.com/mozilla-ai/any-llm-go/providers/llamafile"
	"github.com/mozilla-ai/any-llm-go/providers/mistral"
	"github.com/mozilla-ai/any-llm-go/providers/ollama"
	anyllmoai "github.com/mozilla-ai/any-llm-go/providers/openai"

	"github.com/MrWong99/tutorlive/pkg/provider/llm"
)

var _ llm.Provider = (*Provider)(nil)

// Provider implements llm.Provider by wrapping github.com/mozilla-ai/any-llm-go.
type Provider struct {
	backend anyllmlib.Provider
	name    string
	model   string
}

// New creates a Provider for the named backend.
//
// providerName is one of: "gemini", "openai", "anthropic", "ollama",
// "deepseek", "mistral", "groq", "llamacpp", "llamafile". model is the
// default model for requests that do not name one.
//
// opts are any-llm-go options such as anyllmlib.WithAPIKey and
// anyllmlib.WithBaseURL. Without an API key option the backend falls back to
// its environment variable (GEMINI_API_KEY, OPENAI_API_KEY, ...).
func New(providerName string, model string, opts ...anyllmlib.Option) (*Provider, error) {
	if providerName == "" {
		return nil, fmt.Errorf("anyllm: providerName must not be empty")
	}
	if model == "" {
		return nil, fmt.Errorf("anyllm: model must not be empty")
	}

	backend, err := createBackend(providerName, opts...)
	if err != nil {
		return nil, fmt.Errorf("anyllm: create %q backend: %w", providerName, err)
	}

	return &Provider{backend: backend, name: strings.ToLower(providerName), model: model}, nil
}

// backends maps a provider name onto its any-llm-go constructor.
var backends = map[string]func(...anyllmlib.Option) (anyllmlib.Provider, error){
	"gemini":    func(o ...anyllmlib.Option) (anyllmlib.Provider, error) { return gemini.New(o...) },
	"openai":    func(o ...anyllmlib.Option) (anyllmlib.Provider, error) { return anyllmoai.New(o...) },
	"anthropic": func(o ...anyllmlib.Option) (anyllmlib.Provider, error) { return anthropic.New(o...) },
	"ollama":    func(o ...anyllmlib.Option) (anyllmlib.Provider, error) { return ollama.New(o...) },
	"deepseek":  func(o ...anyllmlib.Option) (anyllmlib.Provider, error) { return deepseek.New(o...) },
	"mistral":   func(o ...anyllmlib.Option) (anyllmlib.Provider, error) { return mistral.New(o...) },
	"groq":      func(o ...anyllmlib.Option) (anyllmlib.Provider, error) { return groq.New(o...) },
	"llamacpp":  func(o ...anyllmlib.Option) (anyllmlib.Provider, error) { return llamacpp.New(o...) },
	"llamafile": func(o ...anyllmlib.Option) (anyllmlib.Provider, error) { return llamafile.New(o...) },
}

// Supported lists the provider names accepted by New, sorted.
func Supported() []string {
	return slices.Sorted(maps.Keys(backends))
}

func createBackend(providerName string, opts ...anyllmlib.Option) (anyllmlib.Provider, error) {
	ctor, ok := backends[strings.ToLower(providerName)]
	if !ok {
		return nil, fmt.Errorf("unsupported provider %q; supported: %s", providerName, strings.Join(Supported(), ", "))
	}
	return ctor(opts...)
}

// Name returns the lower-cased backend name.
func (p *Provider) Name() string { return p.name }

// Model implements llm.Provider.
func (p *Provider) Model() string { return p.model }

// Complete implements llm.Provider.
func (p *Provider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	if len(req.Messages) == 0 {
		return nil, fmt.Errorf("anyllm: completion: no messages")
	}
	params := p.buildParams(req)

	resp, err := p.backend.Completion(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("anyllm: completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("anyllm: empty choices in response")
	}

	choice := resp.Choices[0]
	if err := checkFinish(string(choice.FinishReason)); err != nil {
		return nil, err
	}
	result := &llm.CompletionResponse{
		Content:      choice.Message.ContentString(),
		FinishReason: choice.FinishReason,
	}
	if resp.Usage != nil {
		result.Usage = llm.Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		}
	}
	return result, nil
}

// buildParams converts a CompletionRequest into anyllm CompletionParams.
func (p *Provider) buildParams(req llm.CompletionRequest) anyllmlib.CompletionParams {
	messages := make([]anyllmlib.Message, 0, len(req.Messages)+1)
	if req.SystemPrompt != "" {
		messages = append(messages, anyllmlib.Message{
			Role:    anyllmlib.RoleSystem,
			Content: req.SystemPrompt,
		})
	}
	for _, m := range req.Messages {
		messages = append(messages, convertMessage(m))
	}

	model := req.Model
	if model == "" {
		model = p.model
	}
	params := anyllmlib.CompletionParams{
		Model:    model,
		Messages: messages,
	}
	if req.Temperature != 0 {
		t := req.Temperature
		params.Temperature = &t
	}
	if req.MaxTokens > 0 {
		mt := req.MaxTokens
		params.MaxTokens = &mt
	}
	if req.ReasoningEffort != llm.ReasoningDefault {
		params.ReasoningEffort = anyllmlib.ReasoningEffort(req.ReasoningEffort)
	}
	return params
}

// ErrBlocked is returned when the backend withheld the answer. The message
// carries the SAFETY marker that chat error classification keys on.
var ErrBlocked = errors.New("anyllm: response blocked by SAFETY filter")

// checkFinish turns a content-filter finish reason into [ErrBlocked].
func checkFinish(reason string) error {
	switch strings.ToLower(reason) {
	case "content_filter", "safety", "blocklist", "prohibited_content":
		return fmt.Errorf("%w (finish reason %q)", ErrBlocked, reason)
	}
	return nil
}

func convertMessage(m llm.Message) anyllmlib.Message {
	return anyllmlib.Message{
		Role:    llm.NormalizeRole(m.Role),
		Content: m.Content,
	}
}
