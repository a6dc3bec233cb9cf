package chat

import (
	"context"
	"errors"
	"strings"
)

// ErrEmptyMessage is returned by Reply for a blank user message.
var ErrEmptyMessage = errors.New("chat: message must not be empty")

// ErrEmptyLevel is returned by Reformulate without a target level.
var ErrEmptyLevel = errors.New("chat: reformulate: level must not be empty")

// ErrorKind groups model failures by what the user can do about them.
type ErrorKind int

const (
	KindGeneric ErrorKind = iota
	KindSafety
	KindQuota
	KindOverloaded
	KindNetwork
	KindAPIKey
)

// String returns a stable snake_case name.
func (k ErrorKind) String() string {
	switch k {
	case KindSafety:
		return "safety"
	case KindQuota:
		return "quota"
	case KindOverloaded:
		return "overloaded"
	case KindNetwork:
		return "network"
	case KindAPIKey:
		return "api_key"
	default:
		return "generic"
	}
}

// MarshalText encodes the kind as its name.
func (k ErrorKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// ClassifyError inspects a provider error. Checks run in priority order, so
// a safety block reported with a 429 status still classifies as safety.
func ClassifyError(err error) ErrorKind {
	if err == nil {
		return KindGeneric
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindNetwork
	}
	text := err.Error()
	switch {
	case strings.Contains(text, "SAFETY"), strings.Contains(text, "blocked"):
		return KindSafety
	case strings.Contains(text, "429"), strings.Contains(text, "quota"):
		return KindQuota
	case strings.Contains(text, "503"), strings.Contains(text, "overloaded"):
		return KindOverloaded
	case strings.Contains(text, "network"), strings.Contains(text, "fetch"),
		strings.Contains(text, "connection refused"), strings.Contains(text, "no such host"):
		return KindNetwork
	case strings.Contains(text, "API key"):
		return KindAPIKey
	default:
		return KindGeneric
	}
}

// UserMessage returns the text shown in the conversation in place of a reply.
func UserMessage(kind ErrorKind) string {
	switch kind {
	case KindSafety:
		return "⚠️ Je ne peux pas répondre à cette demande car elle a été signalée par les filtres de sécurité. Veuillez reformuler votre question de manière appropriée."
	case KindQuota:
		return "⏳ La limite de requêtes a été atteinte. Merci de patienter quelques instants avant de réessayer."
	case KindOverloaded:
		return "🔌 Le service est temporairement surchargé. Veuillez réessayer dans un instant."
	case KindNetwork:
		return "🌐 Problème de connexion internet détecté. Vérifiez votre réseau."
	case KindAPIKey:
		return "🔑 Erreur de configuration : Clé API manquante ou invalide."
	default:
		return "Désolé, une erreur est survenue. Veuillez réessayer."
	}
}

// Error is a classified model failure.
type Error struct {
	Kind ErrorKind
	Err  error
}

func (e *Error) Error() string { return "chat: " + e.Kind.String() + ": " + e.Err.Error() }

func (e *Error) Unwrap() error { return e.Err }

// UserMessage returns the user-facing text for the error's kind.
func (e *Error) UserMessage() string { return UserMessage(e.Kind) }
