package portaudio

import (
	"fmt"
	"strings"

	"github.com/MrWong99/tutorlive/pkg/audio"
)

// Consecutive failed reads or writes after which a stream gives up.
const (
	maxReadErrors  = 10
	maxWriteErrors = 10
)

// permissionHints are fragments of host API error texts that mean the OS
// refused access to the device. PortAudio has no permission error code, so
// a refusal the host reports without such text stays unavailable.
var permissionHints = []string{
	"permission denied",
	"operation not permitted",
	"access denied",
	"access is denied",
	"not authorized",
}

// openError wraps a failed open step in the matching audio sentinel.
func openError(step string, err error) error {
	sentinel := audio.ErrDeviceUnavailable
	text := strings.ToLower(err.Error())
	for _, h := range permissionHints {
		if strings.Contains(text, h) {
			sentinel = audio.ErrPermissionDenied
			break
		}
	}
	return fmt.Errorf("portaudio: %s: %w: %w", step, sentinel, err)
}

// failureBudget counts consecutive stream failures.
type failureBudget struct {
	limit int
	n     int
}

// fail records one failure and reports whether the limit is reached.
func (b *failureBudget) fail() bool {
	b.n++
	return b.n >= b.limit
}

// ok resets the count after a successful call.
func (b *failureBudget) ok() { b.n = 0 }

// count returns the current run of failures.
func (b *failureBudget) count() int { return b.n }
