package resilience

import (
	"context"

	"github.com/MrWong99/tutorlive/pkg/audio"
	"github.com/MrWong99/tutorlive/pkg/provider/tts"
)

// TTSFallback implements [tts.Provider] with failover across speech
// backends. Each backend has its own circuit breaker.
type TTSFallback struct {
	group *FallbackGroup[tts.Provider]
}

var _ tts.Provider = (*TTSFallback)(nil)

// NewTTSFallback creates a [TTSFallback] with primary as the preferred backend.
func NewTTSFallback(primary tts.Provider, primaryName string, cfg FallbackConfig) *TTSFallback {
	return &TTSFallback{group: NewFallbackGroup(primary, primaryName, cfg)}
}

// AddFallback registers an additional backend.
func (f *TTSFallback) AddFallback(name string, provider tts.Provider) {
	f.group.AddFallback(name, provider)
}

// Synthesize speaks text on the first healthy backend. Voice IDs are
// backend specific, so fallbacks get the voice with ID cleared and use their
// own default.
func (f *TTSFallback) Synthesize(ctx context.Context, text string, voice tts.VoiceProfile) (audio.PlaybackBuffer, error) {
	primary := f.group.primary()
	return ExecuteWithResult(ctx, f.group, func(p tts.Provider) (audio.PlaybackBuffer, error) {
		v := voice
		if p != primary {
			v.ID = ""
		}
		return p.Synthesize(ctx, text, v)
	})
}

// States reports each backend's breaker state.
func (f *TTSFallback) States() map[string]State {
	return f.group.States()
}
