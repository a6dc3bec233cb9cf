// Package playback schedules decoded audio buffers back-to-back on an output
// clock so consecutive chunks play without gaps or overlap.
//
// Each buffer starts at max(nextStart, now). nextStart then advances by the
// buffer's duration, so a burst of arrivals queues up seamlessly while a
// buffer that arrives after silence starts immediately. [Scheduler.Interrupt]
// flushes everything for barge-in and resets the timeline.
package playback

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/tutorlive/internal/observe"
	"github.com/MrWong99/tutorlive/pkg/audio"
)

// ErrClosed is returned by [Scheduler.Schedule] after [Scheduler.Close].
var ErrClosed = errors.New("playback: scheduler closed")

// Option is a functional option for configuring a Scheduler.
type Option func(*Scheduler)

// WithMetrics sets the metrics recorder. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Scheduler) { s.metrics = m }
}

// Scheduler owns every buffer it has started until the buffer ends or is
// stopped. All methods are safe for concurrent use.
type Scheduler struct {
	out     audio.OutputContext
	metrics *observe.Metrics

	mu        sync.Mutex
	nextStart time.Duration
	scheduled map[uint64]audio.PlaybackHandle
	nextID    uint64
	closed    bool
}

// New creates a Scheduler that plays into out. The scheduler takes ownership
// of out and closes it in [Scheduler.Close].
func New(out audio.OutputContext, opts ...Option) *Scheduler {
	s := &Scheduler{
		out:       out,
		scheduled: make(map[uint64]audio.PlaybackHandle),
	}
	for _, o := range opts {
		o(s)
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	return s
}

// Schedule starts buf at max(nextStart, now) and returns the chosen start
// time. The computation of the start time and the advance of nextStart
// happen under one lock hold, so concurrent callers never overlap.
func (s *Scheduler) Schedule(buf audio.PlaybackBuffer) (time.Duration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, ErrClosed
	}

	start := max(s.nextStart, s.out.Now())
	id := s.nextID
	s.nextID++

	h, err := s.out.Start(buf, start, func() { s.ended(id) })
	if err != nil {
		return 0, fmt.Errorf("playback: start buffer: %w", err)
	}
	s.scheduled[id] = h
	s.nextStart = start + buf.Duration()
	s.metrics.RecordBufferScheduled(context.Background(), buf.Duration())
	return start, nil
}

// ended removes a naturally finished buffer from the scheduled set.
func (s *Scheduler) ended(id uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.scheduled, id)
}

// Interrupt stops every scheduled or playing buffer, clears the set and
// resets nextStart to zero. It returns the number of buffers stopped.
func (s *Scheduler) Interrupt() int {
	handles := s.takeAll()
	stopAll(handles)
	if len(handles) > 0 {
		s.metrics.RecordInterruption(context.Background())
	}
	return len(handles)
}

// takeAll empties the scheduled set and resets the timeline. Handles are
// stopped by the caller after the lock is released.
func (s *Scheduler) takeAll() []audio.PlaybackHandle {
	s.mu.Lock()
	defer s.mu.Unlock()
	handles := make([]audio.PlaybackHandle, 0, len(s.scheduled))
	for _, h := range s.scheduled {
		handles = append(handles, h)
	}
	clear(s.scheduled)
	s.nextStart = 0
	return handles
}

func stopAll(handles []audio.PlaybackHandle) {
	for _, h := range handles {
		if err := h.Stop(); err != nil {
			slog.Debug("playback: stop buffer", "err", err)
		}
	}
}

// Close stops everything and releases the output context. Safe to call more
// than once; later calls return nil.
func (s *Scheduler) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	stopAll(s.takeAll())
	if err := s.out.Close(); err != nil {
		return fmt.Errorf("playback: close output: %w", err)
	}
	return nil
}

// NextStartTime returns the output-clock time at which the next buffer would
// start if the clock had not yet caught up.
func (s *Scheduler) NextStartTime() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nextStart
}

// Pending returns the number of buffers scheduled or playing.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.scheduled)
}
