// Package observe provides application-wide observability primitives for
// tutorlive: OpenTelemetry metrics, distributed tracing, structured logging,
// and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can be
// scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all tutorlive metrics.
const meterName = "github.com/MrWong99/tutorlive"

// Drop reasons reported on the frames-dropped counter.
const (
	DropMuted     = "muted"
	DropQueueFull = "queue_full"
	DropSendError = "send_error"
)

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use; the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Capture ---

	// FramesCaptured counts microphone frames received from the device.
	FramesCaptured metric.Int64Counter

	// FramesSent counts encoded frames delivered to the live endpoint.
	FramesSent metric.Int64Counter

	// FramesDropped counts frames that never reached the endpoint. Use with
	// attribute.String("reason", ...).
	FramesDropped metric.Int64Counter

	// --- Playback ---

	// BuffersScheduled counts decoded buffers handed to the output device.
	BuffersScheduled metric.Int64Counter

	// ScheduledAudio accumulates the seconds of audio scheduled for playback.
	ScheduledAudio metric.Float64Counter

	// Interruptions counts barge-in flushes that stopped at least one buffer.
	Interruptions metric.Int64Counter

	// InvalidMessages counts inbound audio payloads that failed to decode.
	InvalidMessages metric.Int64Counter

	// --- Sessions ---

	// ActiveSessions tracks the number of live voice sessions.
	ActiveSessions metric.Int64UpDownCounter

	// SessionErrors counts sessions ended by an error. Use with
	// attribute.String("kind", ...).
	SessionErrors metric.Int64Counter

	// SessionStartDuration tracks the time from Start to the Open state.
	SessionStartDuration metric.Float64Histogram

	// --- Chat ---

	// ChatDuration tracks text chat completion latency. Use with
	// attribute.String("mode", ...).
	ChatDuration metric.Float64Histogram

	// SpeechDuration tracks read-aloud synthesis latency.
	SpeechDuration metric.Float64Histogram

	// ProviderErrors counts provider errors. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...)
	ProviderErrors metric.Int64Counter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) optimised
// for connection setup and LLM latencies.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Capture.
	if met.FramesCaptured, err = m.Int64Counter("tutorlive.capture.frames",
		metric.WithDescription("Microphone frames received from the capture device."),
	); err != nil {
		return nil, err
	}
	if met.FramesSent, err = m.Int64Counter("tutorlive.capture.frames_sent",
		metric.WithDescription("Encoded frames delivered to the live endpoint."),
	); err != nil {
		return nil, err
	}
	if met.FramesDropped, err = m.Int64Counter("tutorlive.capture.frames_dropped",
		metric.WithDescription("Frames dropped before reaching the live endpoint, by reason."),
	); err != nil {
		return nil, err
	}

	// Playback.
	if met.BuffersScheduled, err = m.Int64Counter("tutorlive.playback.buffers",
		metric.WithDescription("Decoded buffers scheduled for playback."),
	); err != nil {
		return nil, err
	}
	if met.ScheduledAudio, err = m.Float64Counter("tutorlive.playback.audio",
		metric.WithDescription("Seconds of audio scheduled for playback."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}
	if met.Interruptions, err = m.Int64Counter("tutorlive.playback.interruptions",
		metric.WithDescription("Barge-in flushes that stopped scheduled audio."),
	); err != nil {
		return nil, err
	}
	if met.InvalidMessages, err = m.Int64Counter("tutorlive.live.invalid_messages",
		metric.WithDescription("Inbound audio payloads that failed to decode."),
	); err != nil {
		return nil, err
	}

	// Sessions.
	if met.ActiveSessions, err = m.Int64UpDownCounter("tutorlive.active_sessions",
		metric.WithDescription("Number of live voice sessions."),
	); err != nil {
		return nil, err
	}
	if met.SessionErrors, err = m.Int64Counter("tutorlive.live.session_errors",
		metric.WithDescription("Live sessions ended by an error, by kind."),
	); err != nil {
		return nil, err
	}
	if met.SessionStartDuration, err = m.Float64Histogram("tutorlive.live.start.duration",
		metric.WithDescription("Time from session start to the open state."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Chat.
	if met.ChatDuration, err = m.Float64Histogram("tutorlive.chat.duration",
		metric.WithDescription("Latency of text chat completions by mode."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.SpeechDuration, err = m.Float64Histogram("tutorlive.tts.duration",
		metric.WithDescription("Latency of read-aloud speech synthesis."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ProviderErrors, err = m.Int64Counter("tutorlive.provider.errors",
		metric.WithDescription("Total provider errors by provider and kind."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("tutorlive.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// defaultMetrics is the lazily-initialised package-level Metrics instance.
var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Subsequent calls return the same
// pointer. Panics if instrument creation fails (should not happen with the
// global provider).
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// Attr is a convenience alias for [attribute.String] to reduce verbosity at
// call sites.
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordFrameCaptured records one frame received from the microphone.
func (m *Metrics) RecordFrameCaptured(ctx context.Context) {
	m.FramesCaptured.Add(ctx, 1)
}

// RecordFrameSent records one frame delivered to the live endpoint.
func (m *Metrics) RecordFrameSent(ctx context.Context) {
	m.FramesSent.Add(ctx, 1)
}

// RecordFrameDropped records one dropped frame with the given reason.
func (m *Metrics) RecordFrameDropped(ctx context.Context, reason string) {
	m.FramesDropped.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

// RecordBufferScheduled records one buffer of duration d handed to the
// output device.
func (m *Metrics) RecordBufferScheduled(ctx context.Context, d time.Duration) {
	m.BuffersScheduled.Add(ctx, 1)
	m.ScheduledAudio.Add(ctx, d.Seconds())
}

// RecordInterruption records one barge-in flush.
func (m *Metrics) RecordInterruption(ctx context.Context) {
	m.Interruptions.Add(ctx, 1)
}

// RecordInvalidMessage records one inbound payload that failed to decode.
func (m *Metrics) RecordInvalidMessage(ctx context.Context) {
	m.InvalidMessages.Add(ctx, 1)
}

// RecordSessionError records a session ended by an error of the given kind.
func (m *Metrics) RecordSessionError(ctx context.Context, kind string) {
	m.SessionErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}

// RecordChat records the latency of one chat completion.
func (m *Metrics) RecordChat(ctx context.Context, mode string, d time.Duration) {
	m.ChatDuration.Record(ctx, d.Seconds(), metric.WithAttributes(attribute.String("mode", mode)))
}

// RecordSpeech records the latency of one speech synthesis.
func (m *Metrics) RecordSpeech(ctx context.Context, d time.Duration) {
	m.SpeechDuration.Record(ctx, d.Seconds())
}

// RecordProviderError is a convenience method that records a provider error
// counter increment.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	m.ProviderErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
		),
	)
}
