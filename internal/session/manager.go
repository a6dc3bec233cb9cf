// Package session owns the lifecycle of the live voice session: device
// acquisition, the realtime connection, capture, playback and teardown.
//
// A [Manager] runs at most one session at a time. Every asynchronous step of
// Start and every inbound message is checked against a generation counter so
// that work belonging to a session that has since been stopped is discarded
// instead of touching the devices or the scheduler.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/tutorlive/internal/capture"
	"github.com/MrWong99/tutorlive/internal/observe"
	"github.com/MrWong99/tutorlive/internal/playback"
	"github.com/MrWong99/tutorlive/pkg/audio"
	"github.com/MrWong99/tutorlive/pkg/provider/live"
)

// Config parameterises a single live session.
type Config struct {
	// Voice is the prebuilt voice the remote model speaks with.
	Voice string

	// Instructions is the system instruction sent during setup.
	Instructions string
}

// Recorder receives every buffer scheduled for playback. Implementations
// must be safe for concurrent use and must tolerate Write after Close.
type Recorder interface {
	Write(buf audio.PlaybackBuffer) error
	Close() error
}

// RecorderFactory creates a Recorder for the session with the given ID.
type RecorderFactory func(sessionID string) (Recorder, error)

// DecodeFunc turns an inbound transport payload into a playback buffer.
type DecodeFunc func(data string) (audio.PlaybackBuffer, error)

// Info is a snapshot of the manager's state.
type Info struct {
	State     State          `json:"state"`
	Muted     bool           `json:"muted"`
	SessionID string         `json:"session_id,omitempty"`
	StartedAt time.Time      `json:"started_at,omitzero"`
	Capture   capture.Stats  `json:"capture"`
	Pending   int            `json:"pending_buffers"`
	LastError *ErrorSnapshot `json:"last_error,omitempty"`
}

// ErrorSnapshot is the serialisable form of the last session error.
type ErrorSnapshot struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
	Detail  string    `json:"detail"`
}

// Option is a functional option for [New].
type Option func(*Manager)

// WithMetrics sets the metrics instance. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(mgr *Manager) { mgr.metrics = m }
}

// WithLogger sets the logger. Defaults to [slog.Default].
func WithLogger(l *slog.Logger) Option {
	return func(mgr *Manager) { mgr.log = l }
}

// WithFrameSize sets the number of samples per captured frame.
func WithFrameSize(n int) Option {
	return func(mgr *Manager) {
		if n > 0 {
			mgr.frameSize = n
		}
	}
}

// WithQueueSize sets the capture pipeline's queue size.
func WithQueueSize(n int) Option {
	return func(mgr *Manager) {
		if n > 0 {
			mgr.queueSize = n
		}
	}
}

// WithDecoder replaces the inbound audio decoder.
func WithDecoder(fn DecodeFunc) Option {
	return func(mgr *Manager) { mgr.decode = fn }
}

// WithRecorder enables recording of the model's audio for each session.
func WithRecorder(fn RecorderFactory) Option {
	return func(mgr *Manager) { mgr.newRecorder = fn }
}

// WithOnError registers a callback for failures that end an open session.
// It is called without any lock held.
func WithOnError(fn func(*Error)) Option {
	return func(mgr *Manager) { mgr.onError = fn }
}

// WithOnStateChange registers a callback invoked after every state
// transition. It is called without any lock held.
func WithOnStateChange(fn func(State)) Option {
	return func(mgr *Manager) { mgr.onState = fn }
}

// Manager runs the live voice session. All exported methods are safe for
// concurrent use.
type Manager struct {
	mic      audio.Microphone
	speaker  audio.Speaker
	provider live.Provider

	metrics     *observe.Metrics
	log         *slog.Logger
	frameSize   int
	queueSize   int
	decode      DecodeFunc
	newRecorder RecorderFactory
	onError     func(*Error)
	onState     func(State)

	mu      sync.Mutex
	state   State
	gen     uint64
	muted   bool
	cur     *liveSession
	lastErr *Error
}

// liveSession holds the resources of one session. Fields are assigned under
// Manager.mu while the session is current and read by teardown afterwards.
type liveSession struct {
	id      string
	gen     uint64
	cfg     Config
	ctx     context.Context
	cancel  context.CancelFunc
	started time.Time
	opened  time.Time

	stream   audio.CaptureStream
	sched    *playback.Scheduler
	handle   live.SessionHandle
	pipeline *capture.Pipeline
	rec      Recorder

	teardownOnce sync.Once
}

// New creates a Manager that acquires audio from mic, plays through speaker
// and talks to provider.
func New(mic audio.Microphone, speaker audio.Speaker, provider live.Provider, opts ...Option) *Manager {
	m := &Manager{
		mic:       mic,
		speaker:   speaker,
		provider:  provider,
		frameSize: audio.DefaultFrameSize,
		queueSize: capture.DefaultQueueSize,
		decode: func(data string) (audio.PlaybackBuffer, error) {
			return audio.DecodeTransport(data, audio.OutputSampleRate, 1)
		},
	}
	for _, o := range opts {
		o(m)
	}
	if m.metrics == nil {
		m.metrics = observe.DefaultMetrics()
	}
	if m.log == nil {
		m.log = slog.Default()
	}
	return m
}

// ── Start ────────────────────────────────────────────────────────────────────

// Start acquires the microphone and the output device, connects to the live
// endpoint and begins streaming. It returns once the session is open.
//
// Start fails with [ErrAlreadyActive] while another session is connecting or
// open, with [ErrStartAborted] when Stop runs before it completes, and with a
// classified [*Error] for device and connection failures. A failed Start
// leaves the manager closed with every acquired resource released.
func (m *Manager) Start(ctx context.Context, cfg Config) (err error) {
	m.mu.Lock()
	if m.state.Active() {
		m.mu.Unlock()
		return ErrAlreadyActive
	}
	m.gen++
	now := time.Now()
	sctx, cancel := context.WithCancel(context.Background())
	s := &liveSession{
		id:      fmt.Sprintf("live-%s-%d", now.UTC().Format("20060102T150405Z"), m.gen),
		gen:     m.gen,
		cfg:     cfg,
		cancel:  cancel,
		started: now,
	}
	s.ctx = observe.WithSessionID(sctx, s.id)
	m.cur = s
	m.state = StateConnecting
	m.lastErr = nil
	m.mu.Unlock()
	m.notify(StateConnecting)

	spanCtx, span := observe.StartSpan(observe.WithSessionID(ctx, s.id), "live.session.start")
	defer func() { observe.EndSpan(span, err) }()

	log := observe.Logger(spanCtx, m.log)
	log.Info("session: starting", "voice", cfg.Voice)

	// Stop cancels s.ctx, which must also abort whatever Start is blocked on.
	startCtx, cancelStart := context.WithCancel(spanCtx)
	defer cancelStart()
	release := context.AfterFunc(s.ctx, cancelStart)
	defer release()

	stream, err := m.mic.Open(startCtx, audio.InputFormat, m.frameSize)
	if err != nil {
		return m.failStart(s, fmt.Errorf("open microphone: %w", err), KindDeviceUnavailable)
	}
	if !m.attach(s, func() { s.stream = stream }) {
		closeQuietly(log, "capture stream", stream.Close)
		return ErrStartAborted
	}

	out, err := m.speaker.Open(startCtx, audio.OutputFormat)
	if err != nil {
		return m.failStart(s, fmt.Errorf("open output: %w", err), KindDeviceUnavailable)
	}
	sched := playback.New(out, playback.WithMetrics(m.metrics))
	if !m.attach(s, func() { s.sched = sched }) {
		closeQuietly(log, "scheduler", sched.Close)
		return ErrStartAborted
	}

	handle, err := m.provider.Connect(startCtx, live.SessionConfig{
		Voice:        cfg.Voice,
		Instructions: cfg.Instructions,
		Modality:     live.ModalityAudio,
	})
	if err != nil {
		return m.failStart(s, fmt.Errorf("connect: %w", err), KindConnection)
	}

	var rec Recorder
	if m.newRecorder != nil {
		if rec, err = m.newRecorder(s.id); err != nil {
			log.Warn("session: recorder unavailable", "err", err)
			rec = nil
		}
	}

	m.mu.Lock()
	if m.gen != s.gen {
		m.mu.Unlock()
		closeQuietly(log, "live session", handle.Close)
		if rec != nil {
			closeQuietly(log, "recorder", rec.Close)
		}
		return ErrStartAborted
	}
	s.handle = handle
	s.rec = rec
	s.pipeline = capture.New(stream, func(ctx context.Context, f audio.EncodedFrame) error {
		return handle.SendRealtimeInput(ctx, live.Media{MIMEType: f.MIMEType, Data: f.Data})
	},
		capture.WithQueueSize(m.queueSize),
		capture.WithMuted(m.muted),
		capture.WithMetrics(m.metrics),
		capture.WithLogger(log),
	)
	s.pipeline.Start(s.ctx)
	s.opened = time.Now()
	m.state = StateOpen
	go m.receive(s, log)
	go m.watchCapture(s)
	m.mu.Unlock()

	m.metrics.ActiveSessions.Add(s.ctx, 1)
	m.metrics.SessionStartDuration.Record(s.ctx, s.opened.Sub(s.started).Seconds())
	log.Info("session: open", "startup", s.opened.Sub(s.started))
	m.notify(StateOpen)
	return nil
}

// attach runs assign under the lock if s is still the current session.
func (m *Manager) attach(s *liveSession, assign func()) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.gen != s.gen {
		return false
	}
	assign()
	return true
}

// failStart ends s after a failed Start step.
func (m *Manager) failStart(s *liveSession, err error, fallback ErrorKind) error {
	m.mu.Lock()
	if m.gen != s.gen {
		m.mu.Unlock()
		return ErrStartAborted
	}
	serr := classified(err, fallback)
	m.gen++
	m.cur = nil
	m.state = StateClosed
	m.lastErr = serr
	m.mu.Unlock()

	m.teardown(s)
	m.metrics.RecordSessionError(context.Background(), serr.Kind.String())
	m.log.Warn("session: start failed", "session_id", s.id, "kind", serr.Kind.String(), "err", err)
	m.notify(StateClosed)
	return serr
}

// ── Receive ──────────────────────────────────────────────────────────────────

// receive consumes server messages until the session ends.
func (m *Manager) receive(s *liveSession, log *slog.Logger) {
	for msg := range s.handle.Messages() {
		if msg.HasAudio() {
			m.play(s, log, msg.AudioData)
		}
		if msg.Interrupted {
			m.mu.Lock()
			if m.gen == s.gen {
				if n := s.sched.Interrupt(); n > 0 {
					log.Debug("session: playback interrupted", "stopped", n)
				}
			}
			m.mu.Unlock()
		}
	}

	err := s.handle.Err()
	if err == nil {
		return
	}
	m.fail(s, err)
}

func (m *Manager) play(s *liveSession, log *slog.Logger, data string) {
	buf, err := m.decode(data)
	if err != nil {
		m.metrics.RecordInvalidMessage(s.ctx)
		log.Debug("session: dropping undecodable audio", "err", err)
		return
	}

	m.mu.Lock()
	if m.gen != s.gen {
		m.mu.Unlock()
		return
	}
	_, err = s.sched.Schedule(buf)
	m.mu.Unlock()
	if err != nil {
		log.Debug("session: schedule failed", "err", err)
		return
	}
	if s.rec != nil {
		if err := s.rec.Write(buf); err != nil {
			log.Debug("session: recorder write failed", "err", err)
		}
	}
}

// watchCapture ends s when the microphone stream closes underneath it, for
// example when the device is unplugged.
func (m *Manager) watchCapture(s *liveSession) {
	select {
	case <-s.pipeline.Ended():
		m.fail(s, fmt.Errorf("%w: capture stream ended", audio.ErrDeviceUnavailable))
	case <-s.ctx.Done():
	}
}

// fail ends an open session after the transport or a device broke.
func (m *Manager) fail(s *liveSession, err error) {
	m.mu.Lock()
	if m.gen != s.gen {
		m.mu.Unlock()
		return
	}
	serr := classified(err, KindConnection)
	m.gen++
	m.cur = nil
	m.state = StateClosed
	m.lastErr = serr
	m.mu.Unlock()

	m.teardown(s)
	m.metrics.RecordSessionError(context.Background(), serr.Kind.String())
	m.log.Error("session: lost", "session_id", s.id, "kind", serr.Kind.String(), "err", err)
	m.notify(StateClosed)
	if m.onError != nil {
		m.onError(serr)
	}
}

// ── Stop ─────────────────────────────────────────────────────────────────────

// Stop ends the current session, or aborts a Start in progress. It releases
// every resource the session holds and is safe to call in any state.
func (m *Manager) Stop() {
	m.mu.Lock()
	s := m.cur
	if s == nil {
		m.mu.Unlock()
		return
	}
	m.gen++
	m.cur = nil
	m.state = StateClosed
	m.mu.Unlock()

	m.teardown(s)
	m.log.Info("session: stopped", "session_id", s.id)
	m.notify(StateClosed)
}

// teardown releases the resources of s in capture-to-playback order.
// Errors are logged and swallowed. It runs at most once per session.
func (m *Manager) teardown(s *liveSession) {
	s.teardownOnce.Do(func() {
		s.cancel()
		log := m.log.With("session_id", s.id)

		if s.pipeline != nil {
			s.pipeline.Stop()
		}
		if s.handle != nil {
			closeQuietly(log, "live session", s.handle.Close)
		}
		if s.stream != nil {
			closeQuietly(log, "capture stream", s.stream.Close)
		}
		if s.sched != nil {
			closeQuietly(log, "scheduler", s.sched.Close)
		}
		if s.rec != nil {
			closeQuietly(log, "recorder", s.rec.Close)
		}
		if !s.opened.IsZero() {
			m.metrics.ActiveSessions.Add(context.Background(), -1)
		}
	})
}

func closeQuietly(log *slog.Logger, what string, fn func() error) {
	if err := fn(); err != nil {
		log.Warn("session: close failed", "resource", what, "err", err)
	}
}

// ── Controls ─────────────────────────────────────────────────────────────────

// SetMuted toggles microphone muting. The flag survives across sessions.
func (m *Manager) SetMuted(muted bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.muted = muted
	if m.cur != nil && m.cur.pipeline != nil {
		m.cur.pipeline.SetMuted(muted)
	}
}

// Muted reports whether the microphone is muted.
func (m *Manager) Muted() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.muted
}

// State returns the current lifecycle state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// LastError returns the error that ended the most recent session, if any.
func (m *Manager) LastError() *Error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastErr
}

// Info returns a snapshot of the manager's state.
func (m *Manager) Info() Info {
	m.mu.Lock()
	defer m.mu.Unlock()
	info := Info{State: m.state, Muted: m.muted}
	if s := m.cur; s != nil {
		info.SessionID = s.id
		info.StartedAt = s.started
		if s.pipeline != nil {
			info.Capture = s.pipeline.Stats()
		}
		if s.sched != nil {
			info.Pending = s.sched.Pending()
		}
	}
	if e := m.lastErr; e != nil {
		info.LastError = &ErrorSnapshot{Kind: e.Kind, Message: e.UserMessage(), Detail: e.Err.Error()}
	}
	return info
}

func (m *Manager) notify(st State) {
	if m.onState != nil {
		m.onState(st)
	}
}
