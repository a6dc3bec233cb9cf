package audio

import (
	"fmt"
	"time"
)

const (
	// InputSampleRate is the capture rate expected by the live endpoint.
	InputSampleRate = 16000

	// OutputSampleRate is the rate of the audio the live endpoint sends back.
	OutputSampleRate = 24000

	// DefaultFrameSize is the number of samples per captured frame.
	DefaultFrameSize = 4096
)

// Format describes the sample rate and channel count of an audio stream.
type Format struct {
	SampleRate int
	Channels   int
}

// String returns e.g. "16000Hz/mono".
func (f Format) String() string {
	return formatString(f.SampleRate, f.Channels)
}

// Validate reports whether f describes a usable PCM layout.
func (f Format) Validate() error {
	if f.SampleRate <= 0 {
		return fmt.Errorf("%w: sample rate %d", ErrInvalidFormat, f.SampleRate)
	}
	if f.Channels <= 0 {
		return fmt.Errorf("%w: channel count %d", ErrInvalidFormat, f.Channels)
	}
	return nil
}

// InputFormat is the microphone format: 16 kHz mono.
var InputFormat = Format{SampleRate: InputSampleRate, Channels: 1}

// OutputFormat is the speaker format: 24 kHz mono.
var OutputFormat = Format{SampleRate: OutputSampleRate, Channels: 1}

// AudioFrame is one block of captured microphone samples. Samples are mono
// floats nominally in [-1, 1].
type AudioFrame struct {
	Samples []float32

	// SampleRate in Hz (16000 for the live endpoint).
	SampleRate int

	// Timestamp marks when this frame was captured, relative to stream start.
	Timestamp time.Duration
}

// EncodedFrame is an AudioFrame after PCM16 encoding, ready to send.
type EncodedFrame struct {
	// PCM holds little-endian signed 16-bit samples.
	PCM []byte

	// Data is PCM in transport text form (standard base64).
	Data string

	// MIMEType tags the payload, e.g. "audio/pcm;rate=16000".
	MIMEType string
}

// PlaybackBuffer is decoded audio ready to be handed to an output device.
// Samples are interleaved when Channels > 1.
type PlaybackBuffer struct {
	Samples    []float32
	SampleRate int
	Channels   int
}

// FrameCount returns the number of sample frames (samples per channel).
func (b PlaybackBuffer) FrameCount() int {
	if b.Channels <= 0 {
		return 0
	}
	return len(b.Samples) / b.Channels
}

// Duration returns the playback length of the buffer.
func (b PlaybackBuffer) Duration() time.Duration {
	if b.SampleRate <= 0 {
		return 0
	}
	return time.Duration(b.FrameCount()) * time.Second / time.Duration(b.SampleRate)
}

// MIMEType returns the live endpoint MIME type for raw PCM at rate.
func MIMEType(rate int) string {
	return fmt.Sprintf("audio/pcm;rate=%d", rate)
}

func formatString(rate, channels int) string {
	ch := "mono"
	switch channels {
	case 1:
	case 2:
		ch = "stereo"
	default:
		ch = fmt.Sprintf("%dch", channels)
	}
	return fmt.Sprintf("%dHz/%s", rate, ch)
}
