//go:build portaudio

package portaudio

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	pa "github.com/gordonklaus/portaudio"

	"github.com/MrWong99/tutorlive/pkg/audio"
)

var errOutputClosed = errors.New("portaudio: output closed")

func findDevice(name string, input bool) (*pa.DeviceInfo, error) {
	if name == "" {
		if input {
			return pa.DefaultInputDevice()
		}
		return pa.DefaultOutputDevice()
	}
	devices, err := pa.Devices()
	if err != nil {
		return nil, err
	}
	for _, d := range devices {
		if d.Name != name {
			continue
		}
		if (input && d.MaxInputChannels > 0) || (!input && d.MaxOutputChannels > 0) {
			return d, nil
		}
	}
	return nil, fmt.Errorf("no device named %q", name)
}

func framesToDuration(frames int64, rate int) time.Duration {
	return time.Duration(frames) * time.Second / time.Duration(rate)
}

func durationToFrames(d time.Duration, rate int) int64 {
	return int64(d) * int64(rate) / int64(time.Second)
}

// ── Capture ───────────────────────────────────────────────────────────────────

// Open implements [audio.Microphone].
func (m *Microphone) Open(_ context.Context, format audio.Format, frameSize int) (audio.CaptureStream, error) {
	if err := format.Validate(); err != nil {
		return nil, err
	}
	if frameSize <= 0 {
		return nil, fmt.Errorf("portaudio: frame size %d: %w", frameSize, audio.ErrInvalidFormat)
	}
	if err := pa.Initialize(); err != nil {
		return nil, openError("initialize", err)
	}

	dev, err := findDevice(m.opts.device, true)
	if err != nil {
		_ = pa.Terminate()
		return nil, openError("input device", err)
	}

	params := pa.LowLatencyParameters(dev, nil)
	params.Input.Channels = format.Channels
	params.Output.Device = nil
	params.Output.Channels = 0
	params.SampleRate = float64(format.SampleRate)
	params.FramesPerBuffer = frameSize

	buf := make([]float32, frameSize*format.Channels)
	stream, err := pa.OpenStream(params, buf)
	if err != nil {
		_ = pa.Terminate()
		return nil, openError("open capture stream", err)
	}
	if err := stream.Start(); err != nil {
		_ = stream.Close()
		_ = pa.Terminate()
		return nil, openError("start capture", err)
	}

	slog.Debug("portaudio: capture started", "device", dev.Name, "format", format.String(), "frame_size", frameSize)

	cs := &captureStream{
		stream: stream,
		buf:    buf,
		format: format,
		frames: make(chan audio.AudioFrame, 4),
		done:   make(chan struct{}),
		exited: make(chan struct{}),
	}
	go cs.readLoop()
	return cs, nil
}

type captureStream struct {
	stream *pa.Stream
	buf    []float32
	format audio.Format

	frames    chan audio.AudioFrame
	done      chan struct{}
	exited    chan struct{}
	closeOnce sync.Once
	closeErr  error
}

// readLoop owns the PortAudio stream; it is the only goroutine that touches it.
func (c *captureStream) readLoop() {
	defer close(c.exited)
	defer close(c.frames)
	defer func() {
		_ = c.stream.Stop()
		c.closeErr = c.stream.Close()
		_ = pa.Terminate()
	}()

	var captured int64
	failures := failureBudget{limit: maxReadErrors}
	for {
		select {
		case <-c.done:
			return
		default:
		}

		if err := c.stream.Read(); err != nil {
			giveUp := failures.fail()
			slog.Debug("portaudio: capture read failed", "err", err, "consecutive", failures.count())
			if giveUp {
				slog.Warn("portaudio: capture stream failed, giving up", "err", err)
				return
			}
			continue
		}
		failures.ok()

		samples := make([]float32, len(c.buf))
		copy(samples, c.buf)
		frame := audio.AudioFrame{
			Samples:    samples,
			SampleRate: c.format.SampleRate,
			Timestamp:  framesToDuration(captured, c.format.SampleRate),
		}
		captured += int64(len(samples) / c.format.Channels)

		select {
		case c.frames <- frame:
		case <-c.done:
			return
		}
	}
}

func (c *captureStream) Frames() <-chan audio.AudioFrame { return c.frames }

// Close stops capture and waits for the device to be released.
func (c *captureStream) Close() error {
	c.closeOnce.Do(func() { close(c.done) })
	<-c.exited
	return c.closeErr
}

// ── Playback ──────────────────────────────────────────────────────────────────

// Open implements [audio.Speaker].
func (s *Speaker) Open(_ context.Context, format audio.Format) (audio.OutputContext, error) {
	if err := format.Validate(); err != nil {
		return nil, err
	}
	if err := pa.Initialize(); err != nil {
		return nil, openError("initialize", err)
	}

	dev, err := findDevice(s.opts.device, false)
	if err != nil {
		_ = pa.Terminate()
		return nil, openError("output device", err)
	}

	params := pa.LowLatencyParameters(nil, dev)
	params.Input.Device = nil
	params.Input.Channels = 0
	params.Output.Channels = format.Channels
	params.SampleRate = float64(format.SampleRate)
	params.FramesPerBuffer = s.opts.outputBlock

	buf := make([]float32, s.opts.outputBlock*format.Channels)
	stream, err := pa.OpenStream(params, buf)
	if err != nil {
		_ = pa.Terminate()
		return nil, openError("open output stream", err)
	}
	if err := stream.Start(); err != nil {
		_ = stream.Close()
		_ = pa.Terminate()
		return nil, openError("start output", err)
	}

	slog.Debug("portaudio: output started", "device", dev.Name, "format", format.String())

	o := &outputContext{
		stream: stream,
		buf:    buf,
		format: format,
		block:  s.opts.outputBlock,
		voices: make(map[*voice]struct{}),
		done:   make(chan struct{}),
		exited: make(chan struct{}),
	}
	go o.writeLoop()
	return o, nil
}

// voice is one buffer placed on the output timeline.
type voice struct {
	out        *outputContext
	startFrame int64
	samples    []float32
	frames     int64
	onEnded    func()
}

// Stop implements [audio.PlaybackHandle].
func (v *voice) Stop() error {
	v.out.mu.Lock()
	delete(v.out.voices, v)
	v.out.mu.Unlock()
	return nil
}

type outputContext struct {
	stream *pa.Stream
	buf    []float32
	format audio.Format
	block  int

	mu      sync.Mutex
	written int64
	voices  map[*voice]struct{}
	closed  bool

	done      chan struct{}
	exited    chan struct{}
	closeOnce sync.Once
	closeErr  error
}

func (o *outputContext) Now() time.Duration {
	o.mu.Lock()
	defer o.mu.Unlock()
	return framesToDuration(o.written, o.format.SampleRate)
}

func (o *outputContext) Start(buf audio.PlaybackBuffer, at time.Duration, onEnded func()) (audio.PlaybackHandle, error) {
	if buf.Channels != o.format.Channels {
		return nil, fmt.Errorf("portaudio: buffer has %d channels, output has %d: %w",
			buf.Channels, o.format.Channels, audio.ErrInvalidFormat)
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return nil, errOutputClosed
	}
	v := &voice{
		out:        o,
		startFrame: durationToFrames(at, o.format.SampleRate),
		samples:    buf.Samples,
		frames:     int64(buf.FrameCount()),
		onEnded:    onEnded,
	}
	o.voices[v] = struct{}{}
	return v, nil
}

func (o *outputContext) Close() error {
	o.closeOnce.Do(func() {
		o.mu.Lock()
		o.closed = true
		clear(o.voices)
		o.mu.Unlock()
		close(o.done)
	})
	<-o.exited
	return o.closeErr
}

// writeLoop owns the PortAudio stream. Each iteration mixes one block of the
// timeline into buf and hands it to the device; the blocking write paces the
// output clock.
func (o *outputContext) writeLoop() {
	defer close(o.exited)
	defer func() {
		_ = o.stream.Stop()
		o.closeErr = o.stream.Close()
		_ = pa.Terminate()
	}()

	failures := failureBudget{limit: maxWriteErrors}
	for {
		select {
		case <-o.done:
			return
		default:
		}

		o.mu.Lock()
		ended := o.mixLocked()
		o.written += int64(o.block)
		o.mu.Unlock()

		for _, fn := range ended {
			go fn()
		}

		if err := o.stream.Write(); err != nil {
			giveUp := failures.fail()
			slog.Debug("portaudio: output write failed", "err", err, "consecutive", failures.count())
			if giveUp {
				slog.Warn("portaudio: output stream failed, giving up", "err", err)
				o.abandon()
				return
			}
			continue
		}
		failures.ok()
	}
}

// abandon marks the output closed after the device failed. Voices still on
// the timeline are reported as ended so their owners release them.
func (o *outputContext) abandon() {
	o.mu.Lock()
	o.closed = true
	var ended []func()
	for v := range o.voices {
		if v.onEnded != nil {
			ended = append(ended, v.onEnded)
		}
	}
	clear(o.voices)
	o.mu.Unlock()

	for _, fn := range ended {
		go fn()
	}
}

// mixLocked renders the block starting at o.written into o.buf and returns
// the onEnded callbacks of voices that finish within it.
func (o *outputContext) mixLocked() []func() {
	clear(o.buf)
	ch := o.format.Channels
	blockStart := o.written
	blockEnd := blockStart + int64(o.block)

	var ended []func()
	for v := range o.voices {
		from := max(blockStart, v.startFrame)
		to := min(blockEnd, v.startFrame+v.frames)
		for f := from; f < to; f++ {
			src := (f - v.startFrame) * int64(ch)
			dst := (f - blockStart) * int64(ch)
			for c := int64(0); c < int64(ch); c++ {
				o.buf[dst+c] += v.samples[src+c]
			}
		}
		if v.startFrame+v.frames <= blockEnd {
			delete(o.voices, v)
			if v.onEnded != nil {
				ended = append(ended, v.onEnded)
			}
		}
	}

	for i, s := range o.buf {
		o.buf[i] = max(-1, min(1, s))
	}
	return ended
}
