// Package mock is an in-memory [tts.Provider] for tests.
package mock

import (
	"context"
	"slices"
	"sync"

	"github.com/MrWong99/tutorlive/pkg/audio"
	"github.com/MrWong99/tutorlive/pkg/provider/tts"
)

var _ tts.Provider = (*Provider)(nil)

// SynthesizeCall is one recorded Synthesize invocation.
type SynthesizeCall struct {
	Text  string
	Voice tts.VoiceProfile
}

// Provider answers with SynthesizeFunc when set, otherwise with Buffer and
// Err. Configure it before first use.
type Provider struct {
	Buffer         audio.PlaybackBuffer
	Err            error
	SynthesizeFunc func(ctx context.Context, text string) (audio.PlaybackBuffer, error)

	mu    sync.Mutex
	calls []SynthesizeCall
}

// Synthesize implements [tts.Provider].
func (p *Provider) Synthesize(ctx context.Context, text string, voice tts.VoiceProfile) (audio.PlaybackBuffer, error) {
	p.mu.Lock()
	p.calls = append(p.calls, SynthesizeCall{Text: text, Voice: voice})
	p.mu.Unlock()

	if p.SynthesizeFunc != nil {
		return p.SynthesizeFunc(ctx, text)
	}
	return p.Buffer, p.Err
}

// Calls returns a snapshot of the recorded calls.
func (p *Provider) Calls() []SynthesizeCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Clone(p.calls)
}
