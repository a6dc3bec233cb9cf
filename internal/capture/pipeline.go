// Package capture turns microphone frames into encoded PCM16 chunks and
// streams them to the live endpoint.
//
// The pipeline runs two goroutines. The capture loop reads frames from the
// device, drops them while muted, encodes the rest and hands them to a
// bounded queue without ever blocking on the network. The send loop drains
// that queue into the send function. A frame that cannot be queued or fails
// to send is dropped and counted; the stream carries on with the next frame.
package capture

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/MrWong99/tutorlive/internal/observe"
	"github.com/MrWong99/tutorlive/pkg/audio"
)

// DefaultQueueSize is the number of encoded frames buffered between capture
// and send. At 4096 samples per frame and 16 kHz that is about two seconds.
const DefaultQueueSize = 8

// SendFunc delivers one encoded frame to the remote endpoint.
type SendFunc func(ctx context.Context, frame audio.EncodedFrame) error

// Stats is a snapshot of pipeline counters.
type Stats struct {
	Captured         int64
	Sent             int64
	DroppedMuted     int64
	DroppedQueueFull int64
	DroppedSendError int64
}

// Option is a functional option for configuring a Pipeline.
type Option func(*Pipeline)

// WithQueueSize sets the outbound queue length. Values below 1 are ignored.
func WithQueueSize(n int) Option {
	return func(p *Pipeline) {
		if n > 0 {
			p.queueSize = n
		}
	}
}

// WithMuted sets the initial mute state.
func WithMuted(muted bool) Option {
	return func(p *Pipeline) { p.muted.Store(muted) }
}

// WithMetrics sets the metrics recorder. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(p *Pipeline) { p.metrics = m }
}

// WithLogger sets the logger. Defaults to [slog.Default].
func WithLogger(l *slog.Logger) Option {
	return func(p *Pipeline) { p.log = l }
}

// Pipeline streams frames from a capture stream to a send function.
type Pipeline struct {
	src       audio.CaptureStream
	send      SendFunc
	queueSize int
	metrics   *observe.Metrics
	log       *slog.Logger

	muted atomic.Bool

	captured  atomic.Int64
	sent      atomic.Int64
	dropMuted atomic.Int64
	dropFull  atomic.Int64
	dropSend  atomic.Int64

	warnFull sync.Once
	warnSend sync.Once

	// ended is closed when the capture stream closes on its own.
	ended chan struct{}

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New creates a Pipeline reading from src. The pipeline does not own src;
// the caller closes it.
func New(src audio.CaptureStream, send SendFunc, opts ...Option) *Pipeline {
	p := &Pipeline{
		src:       src,
		send:      send,
		queueSize: DefaultQueueSize,
		ended:     make(chan struct{}),
	}
	for _, o := range opts {
		o(p)
	}
	if p.metrics == nil {
		p.metrics = observe.DefaultMetrics()
	}
	if p.log == nil {
		p.log = slog.Default()
	}
	return p
}

// Start launches the capture and send loops. They run until ctx is
// cancelled, [Pipeline.Stop] is called or the capture stream closes.
// Calling Start more than once has no effect.
func (p *Pipeline) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return
	}
	p.started = true

	ctx, p.cancel = context.WithCancel(ctx)
	queue := make(chan audio.EncodedFrame, p.queueSize)

	p.wg.Add(2)
	go p.captureLoop(ctx, queue)
	go p.sendLoop(ctx, queue)
}

// Stop cancels both loops and waits for them to exit. No frame is sent
// after Stop returns. Safe to call more than once, and before Start.
func (p *Pipeline) Stop() {
	p.mu.Lock()
	cancel := p.cancel
	p.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	p.wg.Wait()
}

// Ended returns a channel that is closed when the capture stream closes
// while the pipeline is running. It stays open when the pipeline ends through
// Stop or context cancellation.
func (p *Pipeline) Ended() <-chan struct{} {
	return p.ended
}

// SetMuted changes the mute state. It applies to the next frame received
// from the device.
func (p *Pipeline) SetMuted(muted bool) {
	p.muted.Store(muted)
}

// Muted reports the current mute state.
func (p *Pipeline) Muted() bool {
	return p.muted.Load()
}

// Stats returns a snapshot of the pipeline counters.
func (p *Pipeline) Stats() Stats {
	return Stats{
		Captured:         p.captured.Load(),
		Sent:             p.sent.Load(),
		DroppedMuted:     p.dropMuted.Load(),
		DroppedQueueFull: p.dropFull.Load(),
		DroppedSendError: p.dropSend.Load(),
	}
}

func (p *Pipeline) captureLoop(ctx context.Context, queue chan<- audio.EncodedFrame) {
	defer p.wg.Done()
	defer close(queue)

	frames := p.src.Frames()
	for {
		var (
			frame audio.AudioFrame
			ok    bool
		)
		select {
		case <-ctx.Done():
			return
		case frame, ok = <-frames:
			if !ok {
				p.log.Warn("capture: stream closed by the device")
				close(p.ended)
				return
			}
		}

		p.captured.Add(1)
		p.metrics.RecordFrameCaptured(ctx)

		if p.muted.Load() {
			p.dropMuted.Add(1)
			p.metrics.RecordFrameDropped(ctx, observe.DropMuted)
			continue
		}

		enc := audio.EncodeFrame(frame)
		select {
		case queue <- enc:
		default:
			p.dropFull.Add(1)
			p.metrics.RecordFrameDropped(ctx, observe.DropQueueFull)
			p.warnFull.Do(func() {
				p.log.Warn("capture: send queue full, dropping frames", "queue_size", p.queueSize)
			})
		}
	}
}

func (p *Pipeline) sendLoop(ctx context.Context, queue <-chan audio.EncodedFrame) {
	defer p.wg.Done()

	for {
		var (
			enc audio.EncodedFrame
			ok  bool
		)
		select {
		case <-ctx.Done():
			return
		case enc, ok = <-queue:
			if !ok {
				return
			}
		}
		if ctx.Err() != nil {
			return
		}

		if err := p.send(ctx, enc); err != nil {
			if ctx.Err() != nil {
				return
			}
			p.dropSend.Add(1)
			p.metrics.RecordFrameDropped(ctx, observe.DropSendError)
			first := false
			p.warnSend.Do(func() { first = true })
			if first {
				p.log.Warn("capture: send failed, dropping frame", "err", err)
			} else {
				p.log.Debug("capture: send failed, dropping frame", "err", err)
			}
			continue
		}
		p.sent.Add(1)
		p.metrics.RecordFrameSent(ctx)
	}
}
