// Package mock provides in-memory implementations of the [audio.Microphone],
// [audio.CaptureStream], [audio.Speaker] and [audio.OutputContext] interfaces
// for use in unit tests.
//
// All mocks are safe for concurrent use. They record method calls so tests can
// assert on them, and expose exported fields that control return values.
//
// [Output] runs on a manual clock: nothing plays until the test calls
// [Output.Advance], which fires onEnded for every buffer whose end time has
// been reached.
//
// Typical usage:
//
//	stream := mock.NewStream(8)
//	mic := &mock.Microphone{Stream: stream}
//	out := mock.NewOutput()
//	spk := &mock.Speaker{Output: out}
//	stream.Push(audio.AudioFrame{Samples: make([]float32, 4096)})
//	out.Advance(time.Second)
package mock

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/MrWong99/tutorlive/pkg/audio"
)

// ─── Microphone ───────────────────────────────────────────────────────────────

// OpenCall records the arguments of a single [Microphone.Open] call.
type OpenCall struct {
	Format    audio.Format
	FrameSize int
}

// Microphone is a mock implementation of [audio.Microphone].
type Microphone struct {
	mu sync.Mutex

	// OpenErr, when non-nil, is returned by Open.
	OpenErr error

	// Stream is returned by Open. When nil, a fresh [Stream] is created.
	Stream *Stream

	// OpenCalls records every call to Open.
	OpenCalls []OpenCall
}

// Open implements [audio.Microphone].
func (m *Microphone) Open(_ context.Context, format audio.Format, frameSize int) (audio.CaptureStream, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.OpenCalls = append(m.OpenCalls, OpenCall{Format: format, FrameSize: frameSize})
	if m.OpenErr != nil {
		return nil, m.OpenErr
	}
	if m.Stream == nil {
		m.Stream = NewStream(16)
	}
	return m.Stream, nil
}

// CallCountOpen returns the number of Open calls.
func (m *Microphone) CallCountOpen() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.OpenCalls)
}

// ─── Stream ───────────────────────────────────────────────────────────────────

// Stream is a mock [audio.CaptureStream] fed by [Stream.Push].
type Stream struct {
	frames    chan audio.AudioFrame
	done      chan struct{}
	closeOnce sync.Once

	mu         sync.Mutex
	closeCalls int

	// CloseErr is returned by Close.
	CloseErr error
}

// NewStream creates a Stream whose frame channel has the given buffer size.
func NewStream(buffer int) *Stream {
	return &Stream{
		frames: make(chan audio.AudioFrame, buffer),
		done:   make(chan struct{}),
	}
}

// Push delivers f to the consumer. It blocks until the frame is accepted or
// the stream is closed, and reports whether the frame was accepted.
func (s *Stream) Push(f audio.AudioFrame) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	select {
	case <-s.done:
		return false
	default:
	}
	select {
	case s.frames <- f:
		return true
	case <-s.done:
		return false
	}
}

// Frames implements [audio.CaptureStream].
func (s *Stream) Frames() <-chan audio.AudioFrame { return s.frames }

// Close implements [audio.CaptureStream]. Idempotent.
func (s *Stream) Close() error {
	s.closeOnce.Do(func() {
		close(s.done)
		s.mu.Lock()
		close(s.frames)
		s.mu.Unlock()
	})
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closeCalls++
	return s.CloseErr
}

// Closed reports whether Close has been called.
func (s *Stream) Closed() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

// CallCountClose returns the number of Close calls.
func (s *Stream) CallCountClose() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeCalls
}

// ─── Speaker ──────────────────────────────────────────────────────────────────

// Speaker is a mock implementation of [audio.Speaker].
type Speaker struct {
	mu sync.Mutex

	// OpenErr, when non-nil, is returned by Open.
	OpenErr error

	// Output is returned by Open. When nil, a fresh [Output] is created.
	Output *Output

	// Formats records the format passed to each Open call.
	Formats []audio.Format
}

// Open implements [audio.Speaker].
func (s *Speaker) Open(_ context.Context, format audio.Format) (audio.OutputContext, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Formats = append(s.Formats, format)
	if s.OpenErr != nil {
		return nil, s.OpenErr
	}
	if s.Output == nil {
		s.Output = NewOutput()
	}
	return s.Output, nil
}

// CallCountOpen returns the number of Open calls.
func (s *Speaker) CallCountOpen() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.Formats)
}

// ─── Output ───────────────────────────────────────────────────────────────────

// ErrOutputClosed is returned by [Output.Start] after Close.
var ErrOutputClosed = errors.New("mock: output closed")

// Output is a mock [audio.OutputContext] driven by a manual clock.
type Output struct {
	mu       sync.Mutex
	now      time.Duration
	started  []*Playback
	closed   bool
	closeCnt int

	// StartErr, when non-nil, is returned by Start.
	StartErr error

	// CloseErr is returned by Close.
	CloseErr error
}

// NewOutput returns an Output whose clock reads zero.
func NewOutput() *Output { return &Output{} }

// Now implements [audio.OutputContext].
func (o *Output) Now() time.Duration {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.now
}

// SetNow moves the clock to d without ending any buffers.
func (o *Output) SetNow(d time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.now = d
}

// Advance moves the clock forward by d and fires onEnded, on the calling
// goroutine, for every buffer that has finished playing.
func (o *Output) Advance(d time.Duration) {
	o.mu.Lock()
	o.now += d
	var ended []func()
	for _, p := range o.started {
		if p.stopped || p.ended {
			continue
		}
		if p.At+p.Buffer.Duration() <= o.now {
			p.ended = true
			if p.onEnded != nil {
				ended = append(ended, p.onEnded)
			}
		}
	}
	o.mu.Unlock()

	for _, fn := range ended {
		fn()
	}
}

// Start implements [audio.OutputContext].
func (o *Output) Start(buf audio.PlaybackBuffer, at time.Duration, onEnded func()) (audio.PlaybackHandle, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return nil, ErrOutputClosed
	}
	if o.StartErr != nil {
		return nil, o.StartErr
	}
	p := &Playback{Buffer: buf, At: at, onEnded: onEnded, out: o}
	o.started = append(o.started, p)
	return p, nil
}

// Close implements [audio.OutputContext]. Idempotent.
func (o *Output) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.closeCnt++
	if !o.closed {
		o.closed = true
		for _, p := range o.started {
			p.stopped = true
		}
	}
	return o.CloseErr
}

// Closed reports whether Close has been called.
func (o *Output) Closed() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.closed
}

// Started returns a snapshot of every buffer passed to Start, in order.
func (o *Output) Started() []*Playback {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]*Playback, len(o.started))
	copy(out, o.started)
	return out
}

// Active returns the number of buffers neither stopped nor finished.
func (o *Output) Active() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	n := 0
	for _, p := range o.started {
		if !p.stopped && !p.ended {
			n++
		}
	}
	return n
}

// Playback is the [audio.PlaybackHandle] returned by [Output.Start].
type Playback struct {
	Buffer audio.PlaybackBuffer
	At     time.Duration

	onEnded func()
	out     *Output
	stopped bool
	ended   bool
}

// Stop implements [audio.PlaybackHandle].
func (p *Playback) Stop() error {
	p.out.mu.Lock()
	defer p.out.mu.Unlock()
	if !p.ended {
		p.stopped = true
	}
	return nil
}

// Stopped reports whether Stop cancelled the buffer before it finished.
func (p *Playback) Stopped() bool {
	p.out.mu.Lock()
	defer p.out.mu.Unlock()
	return p.stopped
}

// Ended reports whether the buffer finished playing naturally.
func (p *Playback) Ended() bool {
	p.out.mu.Lock()
	defer p.out.mu.Unlock()
	return p.ended
}
