package chat

import (
	"fmt"
	"strings"
)

// Mode selects the model family used for a chat reply.
type Mode int

const (
	// ModeStandard uses the default high-quality model.
	ModeStandard Mode = iota

	// ModeLite uses the fast, low-latency model.
	ModeLite

	// ModeThinking uses the reasoning model with an extended output budget.
	ModeThinking
)

// String returns the lower-case mode name.
func (m Mode) String() string {
	switch m {
	case ModeStandard:
		return "standard"
	case ModeLite:
		return "lite"
	case ModeThinking:
		return "thinking"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// ParseMode parses a mode name. The empty string is [ModeStandard].
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "standard":
		return ModeStandard, nil
	case "lite":
		return ModeLite, nil
	case "thinking":
		return ModeThinking, nil
	default:
		return ModeStandard, fmt.Errorf("chat: unknown mode %q (want standard, lite or thinking)", s)
	}
}

// MarshalText encodes the mode as its name.
func (m Mode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// UnmarshalText decodes a mode name.
func (m *Mode) UnmarshalText(b []byte) error {
	v, err := ParseMode(string(b))
	if err != nil {
		return err
	}
	*m = v
	return nil
}
