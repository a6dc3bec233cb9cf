package resilience

import (
	"context"
	"errors"
	"testing"

	"github.com/MrWong99/tutorlive/pkg/provider/llm"
	llmmock "github.com/MrWong99/tutorlive/pkg/provider/llm/mock"
)

func TestLLMFallback_PrimarySuccess(t *testing.T) {
	t.Parallel()

	primary := &llmmock.Provider{
		DefaultModel:     "gemini-3-pro-preview",
		CompleteResponse: &llm.CompletionResponse{Content: "réponse principale"},
	}
	secondary := &llmmock.Provider{CompleteResponse: &llm.CompletionResponse{Content: "secours"}}

	fb := NewLLMFallback(primary, "primary", FallbackConfig{})
	fb.AddFallback("secondary", secondary)

	resp, err := fb.Complete(context.Background(), llm.CompletionRequest{Model: "gemini-flash-lite-latest"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Content != "réponse principale" {
		t.Fatalf("content = %q", resp.Content)
	}
	if got := primary.Calls()[0].Req.Model; got != "gemini-flash-lite-latest" {
		t.Errorf("primary model = %q, want the requested model", got)
	}
	if len(secondary.Calls()) != 0 {
		t.Errorf("secondary called %d times, want 0", len(secondary.Calls()))
	}
	if fb.Model() != "gemini-3-pro-preview" {
		t.Errorf("Model() = %q", fb.Model())
	}
}

func TestLLMFallback_FailoverClearsModel(t *testing.T) {
	t.Parallel()

	primary := &llmmock.Provider{CompleteErr: errors.New("503 overloaded")}
	secondary := &llmmock.Provider{CompleteResponse: &llm.CompletionResponse{Content: "secours"}}

	fb := NewLLMFallback(primary, "primary", FallbackConfig{})
	fb.AddFallback("secondary", secondary)

	resp, err := fb.Complete(context.Background(), llm.CompletionRequest{Model: "gemini-3-pro-preview"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Content != "secours" {
		t.Fatalf("content = %q, want secours", resp.Content)
	}
	calls := secondary.Calls()
	if len(calls) != 1 || calls[0].Req.Model != "" {
		t.Errorf("secondary calls = %+v, want one call with the model cleared", calls)
	}
}

func TestLLMFallback_AllFail(t *testing.T) {
	t.Parallel()

	errQuota := errors.New("429 quota exceeded")
	fb := NewLLMFallback(&llmmock.Provider{CompleteErr: errQuota}, "primary", FallbackConfig{})

	_, err := fb.Complete(context.Background(), llm.CompletionRequest{})
	if !errors.Is(err, ErrAllFailed) || !errors.Is(err, errQuota) {
		t.Fatalf("err = %v, want ErrAllFailed wrapping the provider error", err)
	}
	if st := fb.States()["primary"]; st != StateClosed {
		t.Errorf("breaker = %v, want closed after a single failure", st)
	}
}
