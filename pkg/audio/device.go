// Package audio defines the PCM codec and the device boundary of the live
// voice pipeline.
//
// The device abstractions are:
//
//   - [Microphone] opens a [CaptureStream] delivering fixed-size mono frames.
//   - [Speaker] opens an [OutputContext] with its own clock on which
//     [PlaybackBuffer] values are started at absolute times.
//
// Real devices live in audio/portaudio; test doubles with a manual clock live
// in audio/mock.
package audio

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrPermissionDenied is returned when the user or OS refuses microphone access.
	ErrPermissionDenied = errors.New("audio: permission denied")

	// ErrDeviceUnavailable is returned when no usable input or output device exists.
	ErrDeviceUnavailable = errors.New("audio: device unavailable")
)

// Microphone acquires the capture device.
type Microphone interface {
	// Open starts capturing in the given format, delivering frames of
	// frameSize samples. Implementations return errors wrapping
	// [ErrPermissionDenied] or [ErrDeviceUnavailable].
	Open(ctx context.Context, format Format, frameSize int) (CaptureStream, error)
}

// CaptureStream is an open capture graph.
type CaptureStream interface {
	// Frames returns the channel on which captured frames arrive. It is
	// closed after Close or when the device fails.
	Frames() <-chan AudioFrame

	// Close releases the device. Safe to call more than once.
	Close() error
}

// Speaker acquires the output device.
type Speaker interface {
	Open(ctx context.Context, format Format) (OutputContext, error)
}

// OutputContext is an open output device with a monotonic clock.
type OutputContext interface {
	// Now returns the current position of the output clock.
	Now() time.Duration

	// Start schedules buf to begin at the output-clock time at. onEnded is
	// invoked once when playback finishes naturally; it is not invoked after
	// Stop. Implementations must not call onEnded while holding locks the
	// caller could contend on; call it from a separate goroutine.
	Start(buf PlaybackBuffer, at time.Duration, onEnded func()) (PlaybackHandle, error)

	// Close discards everything scheduled and releases the device.
	Close() error
}

// PlaybackHandle controls one scheduled buffer.
type PlaybackHandle interface {
	// Stop cancels the buffer whether it is pending or playing. Stopping an
	// already finished buffer is a no-op.
	Stop() error
}
