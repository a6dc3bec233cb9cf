package audio

import (
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// ErrInvalidFormat is returned when PCM data cannot be interpreted with the
// requested layout.
var ErrInvalidFormat = errors.New("audio: invalid format")

// Scale factors of the asymmetric int16 range.
const (
	negScale = 0x8000
	posScale = 0x7FFF
)

// EncodePCM16 converts float samples to little-endian signed 16-bit PCM.
// Samples are clamped to [-1, 1]; NaN encodes as silence. Negative values
// scale by 0x8000 and non-negative values by 0x7FFF, so -1 maps to -32768
// and 1 maps to 32767.
func EncodePCM16(samples []float32) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(floatToInt16(s)))
	}
	return out
}

// Int16Sample quantises a single sample exactly like [EncodePCM16].
func Int16Sample(s float32) int16 { return floatToInt16(s) }

func floatToInt16(s float32) int16 {
	switch {
	case math.IsNaN(float64(s)):
		return 0
	case s > 1:
		s = 1
	case s < -1:
		s = -1
	}
	if s < 0 {
		return int16(s * negScale)
	}
	return int16(s * posScale)
}

func int16ToFloat(v int16) float32 {
	if v < 0 {
		return float32(v) / negScale
	}
	return float32(v) / posScale
}

// DecodePCM16 converts little-endian signed 16-bit PCM into a playback
// buffer. data must hold a whole number of sample frames.
func DecodePCM16(data []byte, sampleRate, channels int) (PlaybackBuffer, error) {
	if err := (Format{SampleRate: sampleRate, Channels: channels}).Validate(); err != nil {
		return PlaybackBuffer{}, err
	}
	if len(data)%2 != 0 {
		return PlaybackBuffer{}, fmt.Errorf("%w: odd byte count %d", ErrInvalidFormat, len(data))
	}
	if len(data)%(2*channels) != 0 {
		return PlaybackBuffer{}, fmt.Errorf("%w: %d bytes is not a whole number of %d-channel frames",
			ErrInvalidFormat, len(data), channels)
	}

	samples := make([]float32, len(data)/2)
	for i := range samples {
		samples[i] = int16ToFloat(int16(binary.LittleEndian.Uint16(data[i*2:])))
	}
	return PlaybackBuffer{
		Samples:    samples,
		SampleRate: sampleRate,
		Channels:   channels,
	}, nil
}

// ToTransportText encodes raw bytes as standard base64.
func ToTransportText(b []byte) string {
	return base64.StdEncoding.EncodeToString(b)
}

// FromTransportText decodes standard base64 text back to raw bytes.
func FromTransportText(s string) ([]byte, error) {
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: base64: %w", ErrInvalidFormat, err)
	}
	return b, nil
}

// EncodeFrame encodes a captured frame into its wire form.
func EncodeFrame(f AudioFrame) EncodedFrame {
	pcm := EncodePCM16(f.Samples)
	rate := f.SampleRate
	if rate == 0 {
		rate = InputSampleRate
	}
	return EncodedFrame{
		PCM:      pcm,
		Data:     ToTransportText(pcm),
		MIMEType: MIMEType(rate),
	}
}

// DecodeTransport decodes base64 transport text carrying PCM16 audio.
func DecodeTransport(text string, sampleRate, channels int) (PlaybackBuffer, error) {
	raw, err := FromTransportText(text)
	if err != nil {
		return PlaybackBuffer{}, err
	}
	return DecodePCM16(raw, sampleRate, channels)
}
