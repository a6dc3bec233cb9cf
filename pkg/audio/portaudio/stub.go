//go:build !portaudio

package portaudio

import (
	"context"
	"fmt"

	"github.com/MrWong99/tutorlive/pkg/audio"
)

// Open always fails: the binary was built without PortAudio support.
func (m *Microphone) Open(_ context.Context, _ audio.Format, _ int) (audio.CaptureStream, error) {
	return nil, fmt.Errorf("portaudio: microphone not available, rebuild with -tags portaudio: %w", audio.ErrDeviceUnavailable)
}

// Open always fails: the binary was built without PortAudio support.
func (s *Speaker) Open(_ context.Context, _ audio.Format) (audio.OutputContext, error) {
	return nil, fmt.Errorf("portaudio: speaker not available, rebuild with -tags portaudio: %w", audio.ErrDeviceUnavailable)
}
