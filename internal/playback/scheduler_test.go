package playback_test

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/tutorlive/internal/playback"
	"github.com/MrWong99/tutorlive/pkg/audio"
	"github.com/MrWong99/tutorlive/pkg/audio/mock"
)

// buffer returns a mono 24 kHz buffer of duration d.
func buffer(d time.Duration) audio.PlaybackBuffer {
	frames := int(d * audio.OutputSampleRate / time.Second)
	return audio.PlaybackBuffer{
		Samples:    make([]float32, frames),
		SampleRate: audio.OutputSampleRate,
		Channels:   1,
	}
}

func TestSchedule_Gapless(t *testing.T) {
	t.Parallel()

	out := mock.NewOutput()
	s := playback.New(out)

	durations := []time.Duration{time.Second, 500 * time.Millisecond, 500 * time.Millisecond}
	want := []time.Duration{0, time.Second, 1500 * time.Millisecond}
	for i, d := range durations {
		start, err := s.Schedule(buffer(d))
		if err != nil {
			t.Fatalf("Schedule %d: %v", i, err)
		}
		if start != want[i] {
			t.Errorf("buffer %d start = %v, want %v", i, start, want[i])
		}
	}

	started := out.Started()
	last := started[len(started)-1]
	if span := last.At + last.Buffer.Duration(); span != 2*time.Second {
		t.Errorf("total span = %v, want 2s", span)
	}
	if got := s.NextStartTime(); got != 2*time.Second {
		t.Errorf("NextStartTime = %v, want 2s", got)
	}
}

func TestSchedule_LateArrivalStartsNow(t *testing.T) {
	t.Parallel()

	out := mock.NewOutput()
	s := playback.New(out)

	if _, err := s.Schedule(buffer(time.Second)); err != nil {
		t.Fatal(err)
	}
	out.SetNow(5 * time.Second)

	start, err := s.Schedule(buffer(time.Second))
	if err != nil {
		t.Fatal(err)
	}
	if start != 5*time.Second {
		t.Errorf("start = %v, want 5s", start)
	}
	if got := s.NextStartTime(); got != 6*time.Second {
		t.Errorf("NextStartTime = %v, want 6s", got)
	}
}

func TestSchedule_NoOverlapConcurrent(t *testing.T) {
	t.Parallel()

	out := mock.NewOutput()
	s := playback.New(out)

	const n = 50
	var wg sync.WaitGroup
	for range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.Schedule(buffer(100 * time.Millisecond)); err != nil {
				t.Errorf("Schedule: %v", err)
			}
		}()
	}
	wg.Wait()

	started := out.Started()
	if len(started) != n {
		t.Fatalf("started = %d, want %d", len(started), n)
	}
	// Start calls happen under the scheduler lock, so their order is the
	// scheduling order.
	for i := 1; i < len(started); i++ {
		prev, cur := started[i-1], started[i]
		if cur.At < prev.At+prev.Buffer.Duration() {
			t.Fatalf("buffer %d starts at %v before buffer %d ends at %v",
				i, cur.At, i-1, prev.At+prev.Buffer.Duration())
		}
	}
}

func TestSchedule_EndedBuffersLeaveSet(t *testing.T) {
	t.Parallel()

	out := mock.NewOutput()
	s := playback.New(out)

	for range 3 {
		if _, err := s.Schedule(buffer(time.Second)); err != nil {
			t.Fatal(err)
		}
	}
	if got := s.Pending(); got != 3 {
		t.Fatalf("Pending = %d, want 3", got)
	}

	out.Advance(2 * time.Second)
	if got := s.Pending(); got != 1 {
		t.Errorf("Pending after 2s = %d, want 1", got)
	}
	out.Advance(time.Second)
	if got := s.Pending(); got != 0 {
		t.Errorf("Pending after 3s = %d, want 0", got)
	}
}

func TestInterrupt_StopsAllAndResets(t *testing.T) {
	t.Parallel()

	out := mock.NewOutput()
	s := playback.New(out)

	for range 3 {
		if _, err := s.Schedule(buffer(time.Second)); err != nil {
			t.Fatal(err)
		}
	}
	out.Advance(500 * time.Millisecond) // first buffer is playing

	if got := s.Interrupt(); got != 3 {
		t.Errorf("Interrupt stopped %d, want 3", got)
	}
	if got := s.Pending(); got != 0 {
		t.Errorf("Pending = %d, want 0", got)
	}
	if got := s.NextStartTime(); got != 0 {
		t.Errorf("NextStartTime = %v, want 0", got)
	}
	for i, p := range out.Started() {
		if !p.Stopped() {
			t.Errorf("buffer %d not stopped", i)
		}
	}
	if got := out.Active(); got != 0 {
		t.Errorf("Active = %d, want 0", got)
	}

	// The next buffer starts at the current clock, not at the old timeline.
	start, err := s.Schedule(buffer(time.Second))
	if err != nil {
		t.Fatal(err)
	}
	if start != 500*time.Millisecond {
		t.Errorf("start after interrupt = %v, want 500ms", start)
	}
}

func TestInterrupt_Empty(t *testing.T) {
	t.Parallel()
	s := playback.New(mock.NewOutput())
	if got := s.Interrupt(); got != 0 {
		t.Errorf("Interrupt = %d, want 0", got)
	}
}

func TestClose(t *testing.T) {
	t.Parallel()

	out := mock.NewOutput()
	s := playback.New(out)
	if _, err := s.Schedule(buffer(time.Second)); err != nil {
		t.Fatal(err)
	}

	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if !out.Closed() {
		t.Error("output context not closed")
	}
	if got := s.Pending(); got != 0 {
		t.Errorf("Pending = %d, want 0", got)
	}
	if _, err := s.Schedule(buffer(time.Second)); !errors.Is(err, playback.ErrClosed) {
		t.Errorf("Schedule after Close err = %v, want ErrClosed", err)
	}
	if err := s.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
}

func TestSchedule_StartError(t *testing.T) {
	t.Parallel()

	out := mock.NewOutput()
	out.StartErr = errors.New("device gone")
	s := playback.New(out)

	if _, err := s.Schedule(buffer(time.Second)); err == nil {
		t.Fatal("expected error")
	}
	if got := s.NextStartTime(); got != 0 {
		t.Errorf("NextStartTime = %v, want 0 after failed start", got)
	}
	if got := s.Pending(); got != 0 {
		t.Errorf("Pending = %d, want 0", got)
	}
}
