// Package llm defines the Provider interface for the text model behind chat
// mode and the document tools.
//
// A provider wraps a remote or local model API and exposes a single blocking
// completion call. Implementors must be safe for concurrent use and must
// return promptly when the supplied context is cancelled.
package llm

import "context"

// Usage holds token accounting information returned by the backend.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// ReasoningEffort asks the backend to think before answering. Backends
// without extended thinking ignore it.
type ReasoningEffort string

const (
	ReasoningDefault ReasoningEffort = ""
	ReasoningNone    ReasoningEffort = "none"
	ReasoningLow     ReasoningEffort = "low"
	ReasoningMedium  ReasoningEffort = "medium"
	ReasoningHigh    ReasoningEffort = "high"
)

// CompletionRequest carries everything the model needs to produce a reply.
// At minimum Messages must be non-empty.
type CompletionRequest struct {
	// Model overrides the provider's default model for this request. Chat
	// modes use it to switch between the standard, lite and thinking models.
	Model string

	// SystemPrompt is sent ahead of the conversation as a system message.
	SystemPrompt string

	// Messages is the ordered conversation history. The last message drives
	// the reply.
	Messages []Message

	// Temperature controls randomness. Zero means the provider default.
	Temperature float64

	// MaxTokens caps the completion length. Zero means the provider default.
	MaxTokens int

	// ReasoningEffort enables extended thinking. The empty value leaves the
	// backend's default behaviour.
	ReasoningEffort ReasoningEffort
}

// CompletionResponse is returned by Complete.
type CompletionResponse struct {
	// Content is the full text of the reply. It may be empty when the model
	// declined to answer.
	Content string

	// FinishReason reports why generation stopped ("stop", "length", ...).
	FinishReason string

	Usage Usage
}

// Provider is the abstraction over any text model backend.
type Provider interface {
	// Complete sends req to the model and waits for the full reply.
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)

	// Model returns the default model used when a request leaves Model empty.
	Model() string
}
