// Package tts defines the Provider interface for the speech synthesis used
// by chat read-aloud.
//
// A provider turns a finished text reply into decoded PCM ready for an
// [audio.OutputContext]. Implementations must be safe for concurrent use and
// must return promptly when the context is cancelled.
package tts

import (
	"context"
	"errors"

	"github.com/MrWong99/tutorlive/pkg/audio"
)

// ErrNoAudio is returned when the backend answered without any audio.
var ErrNoAudio = errors.New("tts: response contained no audio")

// VoiceProfile selects the voice used for synthesis.
type VoiceProfile struct {
	// ID is the provider-specific voice identifier (e.g. "Kore").
	ID string

	// Language is an optional BCP-47 code such as "fr-FR".
	Language string
}

// Provider is the abstraction over any speech synthesis backend.
type Provider interface {
	// Synthesize speaks text with voice and returns the whole utterance.
	// An empty voice ID selects the provider's default voice.
	Synthesize(ctx context.Context, text string, voice VoiceProfile) (audio.PlaybackBuffer, error)
}
