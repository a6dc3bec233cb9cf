// Package recorder writes the model's spoken audio of a live session to a
// WAV file, one file per session.
package recorder

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/MrWong99/tutorlive/internal/session"
	"github.com/MrWong99/tutorlive/pkg/audio"
)

// ErrClosed is returned by Write after Close.
var ErrClosed = errors.New("recorder: closed")

const bitDepth = 16

// WAV is a PCM16 WAV file recorder. It is safe for concurrent use.
type WAV struct {
	mu      sync.Mutex
	path    string
	f       *os.File
	enc     *wav.Encoder
	format  *goaudio.Format
	samples int
	closed  bool
}

// Create creates (or truncates) path and prepares it for audio with the
// given layout. The WAV header is finalised on Close.
func Create(path string, sampleRate, channels int) (*WAV, error) {
	if err := (audio.Format{SampleRate: sampleRate, Channels: channels}).Validate(); err != nil {
		return nil, fmt.Errorf("recorder: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("recorder: create %q: %w", path, err)
	}
	return &WAV{
		path:   path,
		f:      f,
		enc:    wav.NewEncoder(f, sampleRate, bitDepth, channels, 1),
		format: &goaudio.Format{NumChannels: channels, SampleRate: sampleRate},
	}, nil
}

// Path returns the file path.
func (w *WAV) Path() string { return w.path }

// Samples returns the number of samples written so far, across channels.
func (w *WAV) Samples() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.samples
}

// Write appends buf. Buffers whose layout differs from the file's are
// rejected.
func (w *WAV) Write(buf audio.PlaybackBuffer) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return ErrClosed
	}
	if buf.SampleRate != w.format.SampleRate || buf.Channels != w.format.NumChannels {
		return fmt.Errorf("recorder: buffer is %d Hz/%d ch, file is %d Hz/%d ch",
			buf.SampleRate, buf.Channels, w.format.SampleRate, w.format.NumChannels)
	}
	if len(buf.Samples) == 0 {
		return nil
	}

	data := make([]int, len(buf.Samples))
	for i, s := range buf.Samples {
		data[i] = int(audio.Int16Sample(s))
	}
	ib := &goaudio.IntBuffer{Format: w.format, Data: data, SourceBitDepth: bitDepth}
	if err := w.enc.Write(ib); err != nil {
		return fmt.Errorf("recorder: write %q: %w", w.path, err)
	}
	w.samples += len(data)
	return nil
}

// Close finalises the header and closes the file. Subsequent calls return nil.
func (w *WAV) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}
	w.closed = true

	encErr := w.enc.Close()
	fileErr := w.f.Close()
	if err := errors.Join(encErr, fileErr); err != nil {
		return fmt.Errorf("recorder: close %q: %w", w.path, err)
	}
	return nil
}

// Factory returns a [session.RecorderFactory] that records every session
// into dir as <session id>.wav at the live output format.
func Factory(dir string) session.RecorderFactory {
	return func(sessionID string) (session.Recorder, error) {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("recorder: %w", err)
		}
		path := filepath.Join(dir, filepath.Base(sessionID)+".wav")
		return Create(path, audio.OutputFormat.SampleRate, audio.OutputFormat.Channels)
	}
}
