// Package portaudio implements [audio.Microphone] and [audio.Speaker] on top
// of the PortAudio C library.
//
// The real devices are only compiled with the "portaudio" build tag, which
// requires the PortAudio headers and cgo:
//
//	go build -tags portaudio ./cmd/tutorlive
//
// Without the tag, every Open call fails with [audio.ErrDeviceUnavailable].
package portaudio

import "github.com/MrWong99/tutorlive/pkg/audio"

// Compile-time assertions that the devices satisfy the audio interfaces.
var (
	_ audio.Microphone = (*Microphone)(nil)
	_ audio.Speaker    = (*Speaker)(nil)
)

const defaultOutputBlock = 1024

// Option is a functional option for configuring a device.
type Option func(*options)

type options struct {
	device      string
	outputBlock int
}

// WithDevice selects a device by name. Empty means the system default.
func WithDevice(name string) Option {
	return func(o *options) { o.device = name }
}

// WithOutputBlock sets the number of frames written to the output device per
// write. Smaller blocks lower latency at the cost of more wakeups.
func WithOutputBlock(frames int) Option {
	return func(o *options) {
		if frames > 0 {
			o.outputBlock = frames
		}
	}
}

func applyOptions(opts []Option) options {
	o := options{outputBlock: defaultOutputBlock}
	for _, fn := range opts {
		fn(&o)
	}
	return o
}

// Microphone opens PortAudio input streams.
type Microphone struct {
	opts options
}

// NewMicrophone creates a Microphone.
func NewMicrophone(opts ...Option) *Microphone {
	return &Microphone{opts: applyOptions(opts)}
}

// Speaker opens PortAudio output streams.
type Speaker struct {
	opts options
}

// NewSpeaker creates a Speaker.
func NewSpeaker(opts ...Option) *Speaker {
	return &Speaker{opts: applyOptions(opts)}
}
