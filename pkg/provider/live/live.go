// Package live defines the Provider interface for realtime voice endpoints.
//
// A live provider holds one bidirectional, stateful connection per session:
// the client streams microphone audio as tagged base64 media chunks, and the
// server streams back synthesised speech plus control signals such as
// barge-in interruptions. The handle exposes the inbound side as a channel so
// the receive path never blocks the caller's audio thread.
//
// All implementations must be safe for concurrent use.
package live

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrConnection is wrapped by every error that stems from the transport:
	// failed dials, rejected setup, server error messages and unexpected
	// closes.
	ErrConnection = errors.New("live: connection error")

	// ErrSessionClosed is returned by SendRealtimeInput after Close.
	ErrSessionClosed = errors.New("live: session closed")
)

// Modality is the response modality requested from the model.
type Modality string

const (
	// ModalityAudio asks the model to answer with speech.
	ModalityAudio Modality = "audio"

	// ModalityText asks the model to answer with text.
	ModalityText Modality = "text"
)

// SessionConfig is the initial configuration for a new live session.
type SessionConfig struct {
	// Voice is the provider's prebuilt voice name, e.g. "Zephyr".
	Voice string

	// Instructions is the system instruction for the whole session.
	Instructions string

	// Modality defaults to [ModalityAudio] when empty.
	Modality Modality
}

// Media is one realtime input chunk.
type Media struct {
	// MIMEType tags the payload, e.g. "audio/pcm;rate=16000".
	MIMEType string

	// Data is the payload in base64 transport text.
	Data string
}

// ServerMessage is one inbound event. Fields are independent: a message may
// carry audio, an interruption, both or neither.
type ServerMessage struct {
	// AudioData is the base64 PCM16 payload of the first inline audio part,
	// or "" when the message carries no audio.
	AudioData string

	// AudioMIMEType is the MIME type reported for AudioData.
	AudioMIMEType string

	// Interrupted is set when the server detected barge-in and abandoned the
	// current response.
	Interrupted bool

	// TurnComplete marks the end of a model turn.
	TurnComplete bool

	// InputTranscript and OutputTranscript carry incremental speech
	// recognition of the user and the model, when enabled by the provider.
	InputTranscript  string
	OutputTranscript string
}

// HasAudio reports whether the message carries an audio payload.
func (m ServerMessage) HasAudio() bool { return m.AudioData != "" }

// RemoteError is an error reported by the server inside the protocol.
type RemoteError struct {
	Code    int
	Status  string
	Message string
}

func (e *RemoteError) Error() string {
	if e.Status != "" {
		return fmt.Sprintf("live: remote error %d %s: %s", e.Code, e.Status, e.Message)
	}
	return fmt.Sprintf("live: remote error %d: %s", e.Code, e.Message)
}

// Unwrap makes remote errors match [ErrConnection].
func (e *RemoteError) Unwrap() error { return ErrConnection }

// SessionHandle is an open live session.
type SessionHandle interface {
	// SendRealtimeInput delivers one media chunk. It may block on the
	// network until ctx is done.
	SendRealtimeInput(ctx context.Context, m Media) error

	// Messages returns the inbound event stream. The channel is closed when
	// the session ends; call Err afterwards to learn why.
	Messages() <-chan ServerMessage

	// Err returns the error that terminated the session, or nil if it ended
	// through Close.
	Err() error

	// Close terminates the session and closes the Messages channel. Calling
	// Close more than once is safe and returns nil.
	Close() error
}

// Provider opens live sessions.
type Provider interface {
	// Connect opens a session and returns once the server has acknowledged
	// the configuration. Errors wrap [ErrConnection].
	Connect(ctx context.Context, cfg SessionConfig) (SessionHandle, error)
}
