// Package readaloud speaks chat replies through the speaker on request.
//
// One synthesis or playback runs at a time. The output context is opened on
// the first request and reused until [Player.Close].
package readaloud

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/MrWong99/tutorlive/internal/chat"
	"github.com/MrWong99/tutorlive/internal/observe"
	"github.com/MrWong99/tutorlive/internal/playback"
	"github.com/MrWong99/tutorlive/pkg/audio"
	"github.com/MrWong99/tutorlive/pkg/provider/tts"
)

var (
	// ErrEmptyText is returned by Speak for blank text.
	ErrEmptyText = errors.New("readaloud: text must not be empty")

	// ErrBusy is returned by Speak while an earlier request is still
	// synthesizing or playing.
	ErrBusy = errors.New("readaloud: already speaking")

	// ErrClosed is returned by Speak after Close.
	ErrClosed = errors.New("readaloud: player closed")
)

// Option is a functional option for [New].
type Option func(*Player)

// WithVoice sets the voice passed to the provider.
func WithVoice(v tts.VoiceProfile) Option {
	return func(p *Player) { p.voice = v }
}

// WithMetrics sets the metrics instance. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(p *Player) { p.metrics = m }
}

// WithLogger sets the logger. Defaults to [slog.Default].
func WithLogger(l *slog.Logger) Option {
	return func(p *Player) { p.log = l }
}

// WithTimeout bounds each synthesis call. Zero disables the bound.
func WithTimeout(d time.Duration) Option {
	return func(p *Player) { p.timeout = d }
}

// Player synthesizes text and schedules the result on the speaker. It is
// safe for concurrent use.
type Player struct {
	tts     tts.Provider
	speaker audio.Speaker
	voice   tts.VoiceProfile
	metrics *observe.Metrics
	log     *slog.Logger
	timeout time.Duration

	mu     sync.Mutex
	busy   bool
	closed bool
	sched  *playback.Scheduler
}

// New creates a Player that synthesizes with p and plays on spk.
func New(p tts.Provider, spk audio.Speaker, opts ...Option) *Player {
	pl := &Player{tts: p, speaker: spk, timeout: time.Minute}
	for _, o := range opts {
		o(pl)
	}
	if pl.metrics == nil {
		pl.metrics = observe.DefaultMetrics()
	}
	if pl.log == nil {
		pl.log = slog.Default()
	}
	return pl
}

// Speak synthesizes text and starts playing it. It returns the length of
// the scheduled audio. Provider failures are returned as a classified
// [*chat.Error].
func (p *Player) Speak(ctx context.Context, text string) (d time.Duration, err error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return 0, ErrEmptyText
	}
	if err := p.acquire(); err != nil {
		return 0, err
	}
	defer p.release()

	ctx, span := observe.StartSpan(ctx, "readaloud.speak")
	defer func() { observe.EndSpan(span, err) }()

	buf, err := p.synthesize(ctx, text)
	if err != nil {
		return 0, err
	}
	if buf.SampleRate != audio.OutputSampleRate {
		buf = audio.PlaybackBuffer{
			Samples:    audio.Resample(buf.Samples, buf.SampleRate, audio.OutputSampleRate),
			SampleRate: audio.OutputSampleRate,
			Channels:   1,
		}
	}

	sched, err := p.scheduler(ctx)
	if err != nil {
		return 0, err
	}
	if _, err := sched.Schedule(buf); err != nil {
		return 0, err
	}
	observe.Logger(ctx, p.log).Debug("readaloud: playing", "chars", len(text), "duration", buf.Duration())
	return buf.Duration(), nil
}

func (p *Player) synthesize(ctx context.Context, text string) (audio.PlaybackBuffer, error) {
	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	start := time.Now()
	buf, err := p.tts.Synthesize(ctx, text, p.voice)
	p.metrics.RecordSpeech(ctx, time.Since(start))
	if err != nil {
		kind := chat.ClassifyError(err)
		p.metrics.RecordProviderError(ctx, "tts", kind.String())
		observe.Logger(ctx, p.log).Warn("readaloud: synthesis failed", "kind", kind.String(), "err", err)
		return audio.PlaybackBuffer{}, &chat.Error{Kind: kind, Err: err}
	}
	return buf, nil
}

// acquire marks the player busy. A request is refused while another one is
// synthesizing or while audio it scheduled is still playing.
func (p *Player) acquire() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	switch {
	case p.closed:
		return ErrClosed
	case p.busy, p.sched != nil && p.sched.Pending() > 0:
		return ErrBusy
	}
	p.busy = true
	return nil
}

func (p *Player) release() {
	p.mu.Lock()
	p.busy = false
	p.mu.Unlock()
}

// scheduler opens the output on first use.
func (p *Player) scheduler(ctx context.Context) (*playback.Scheduler, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, ErrClosed
	}
	if p.sched != nil {
		return p.sched, nil
	}
	out, err := p.speaker.Open(ctx, audio.OutputFormat)
	if err != nil {
		return nil, fmt.Errorf("readaloud: open speaker: %w", err)
	}
	p.sched = playback.New(out, playback.WithMetrics(p.metrics))
	return p.sched, nil
}

// Playing reports whether scheduled speech has not finished yet.
func (p *Player) Playing() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sched != nil && p.sched.Pending() > 0
}

// Stop cuts off any speech in progress and returns the number of buffers
// stopped.
func (p *Player) Stop() int {
	p.mu.Lock()
	sched := p.sched
	p.mu.Unlock()
	if sched == nil {
		return 0
	}
	return sched.Interrupt()
}

// Close stops playback and releases the output. Safe to call more than once.
func (p *Player) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	sched := p.sched
	p.sched = nil
	p.mu.Unlock()
	if sched == nil {
		return nil
	}
	return sched.Close()
}
