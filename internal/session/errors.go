package session

import (
	"context"
	"errors"

	"github.com/MrWong99/tutorlive/pkg/audio"
	"github.com/MrWong99/tutorlive/pkg/provider/live"
)

var (
	// ErrAlreadyActive is returned by Start while a session is connecting or open.
	ErrAlreadyActive = errors.New("session: a live session is already active")

	// ErrStartAborted is returned by Start when Stop ran before it finished.
	ErrStartAborted = errors.New("session: start aborted")
)

// ErrorKind classifies session failures for the user.
type ErrorKind int

const (
	KindUnknown ErrorKind = iota
	KindPermissionDenied
	KindDeviceUnavailable
	KindConnection
	KindInvalidFormat
)

// String returns a stable snake_case name used in logs, metrics and the API.
func (k ErrorKind) String() string {
	switch k {
	case KindPermissionDenied:
		return "permission_denied"
	case KindDeviceUnavailable:
		return "device_unavailable"
	case KindConnection:
		return "connection"
	case KindInvalidFormat:
		return "invalid_format"
	default:
		return "unknown"
	}
}

// MarshalText encodes the kind as its name.
func (k ErrorKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// Classify maps err onto an ErrorKind using the sentinel errors of the audio
// and live packages.
func Classify(err error) ErrorKind {
	var se *Error
	switch {
	case err == nil:
		return KindUnknown
	case errors.As(err, &se):
		return se.Kind
	case errors.Is(err, audio.ErrPermissionDenied):
		return KindPermissionDenied
	case errors.Is(err, audio.ErrDeviceUnavailable):
		return KindDeviceUnavailable
	case errors.Is(err, live.ErrConnection), errors.Is(err, context.DeadlineExceeded):
		return KindConnection
	case errors.Is(err, audio.ErrInvalidFormat):
		return KindInvalidFormat
	default:
		return KindUnknown
	}
}

// UserMessage returns the actionable message shown to the user for kind.
func UserMessage(kind ErrorKind) string {
	switch kind {
	case KindPermissionDenied:
		return "Accès au microphone refusé. Veuillez vérifier les permissions du système pour le microphone."
	case KindDeviceUnavailable:
		return "Aucun microphone ou haut-parleur utilisable n'a été trouvé."
	case KindConnection:
		return "Erreur de connexion Live API. Vérifiez votre clé API ou les permissions."
	case KindInvalidFormat:
		return "L'audio reçu est illisible."
	default:
		return "Impossible de démarrer la session audio."
	}
}

// Error is a classified session failure. It is what Start returns for
// device and connection failures, and what the OnError callback receives.
type Error struct {
	Kind ErrorKind
	Err  error
}

func (e *Error) Error() string {
	return "session: " + e.Kind.String() + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

// UserMessage returns the user-facing text for the error's kind.
func (e *Error) UserMessage() string { return UserMessage(e.Kind) }

func classified(err error, fallback ErrorKind) *Error {
	kind := Classify(err)
	if kind == KindUnknown {
		kind = fallback
	}
	return &Error{Kind: kind, Err: err}
}
