package resilience

import (
	"context"
	"errors"
	"testing"

	"github.com/MrWong99/tutorlive/pkg/audio"
	"github.com/MrWong99/tutorlive/pkg/provider/tts"
	ttsmock "github.com/MrWong99/tutorlive/pkg/provider/tts/mock"
)

func TestTTSFallback_PrimarySuccess(t *testing.T) {
	t.Parallel()

	want := audio.PlaybackBuffer{Samples: make([]float32, 240), SampleRate: 24000, Channels: 1}
	primary := &ttsmock.Provider{Buffer: want}
	secondary := &ttsmock.Provider{}

	fb := NewTTSFallback(primary, "primary", FallbackConfig{})
	fb.AddFallback("secondary", secondary)

	got, err := fb.Synthesize(context.Background(), "Bonjour", tts.VoiceProfile{ID: "Kore"})
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if len(got.Samples) != 240 {
		t.Errorf("samples = %d, want 240", len(got.Samples))
	}
	if v := primary.Calls()[0].Voice.ID; v != "Kore" {
		t.Errorf("primary voice = %q, want Kore", v)
	}
	if n := len(secondary.Calls()); n != 0 {
		t.Errorf("secondary called %d times", n)
	}
}

func TestTTSFallback_FailoverClearsVoice(t *testing.T) {
	t.Parallel()

	primary := &ttsmock.Provider{Err: errors.New("503 overloaded")}
	secondary := &ttsmock.Provider{Buffer: audio.PlaybackBuffer{SampleRate: 24000, Channels: 1}}

	fb := NewTTSFallback(primary, "primary", FallbackConfig{})
	fb.AddFallback("secondary", secondary)

	if _, err := fb.Synthesize(context.Background(), "Bonjour", tts.VoiceProfile{ID: "Kore", Language: "fr-FR"}); err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	calls := secondary.Calls()
	if len(calls) != 1 {
		t.Fatalf("secondary calls = %d, want 1", len(calls))
	}
	if calls[0].Voice.ID != "" || calls[0].Voice.Language != "fr-FR" {
		t.Errorf("fallback voice = %+v, want ID cleared and language kept", calls[0].Voice)
	}
}

func TestTTSFallback_AllFail(t *testing.T) {
	t.Parallel()

	boom := errors.New("boom")
	fb := NewTTSFallback(&ttsmock.Provider{Err: boom}, "primary", FallbackConfig{})
	fb.AddFallback("secondary", &ttsmock.Provider{Err: boom})

	if _, err := fb.Synthesize(context.Background(), "Bonjour", tts.VoiceProfile{}); !errors.Is(err, ErrAllFailed) || !errors.Is(err, boom) {
		t.Errorf("err = %v, want ErrAllFailed wrapping the backend error", err)
	}
}
