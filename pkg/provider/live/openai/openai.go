// Package openai implements the live.Provider interface for OpenAI's Realtime
// API.
//
// It establishes a bidirectional WebSocket connection to the Realtime endpoint
// and exchanges JSON events. The endpoint expects 24 kHz PCM16 in both
// directions, so microphone chunks tagged with another rate are resampled
// before they are appended to the input buffer.
package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/tutorlive/pkg/audio"
	"github.com/MrWong99/tutorlive/pkg/provider/live"
)

// Compile-time assertions that Provider and session satisfy the live interfaces.
var _ live.Provider = (*Provider)(nil)
var _ live.SessionHandle = (*session)(nil)

const (
	// DefaultModel is the realtime model used when none is configured.
	DefaultModel   = "gpt-4o-realtime-preview"
	defaultBaseURL = "wss://api.openai.com/v1/realtime"

	// SampleRate is the PCM16 rate of both directions.
	SampleRate = 24000

	defaultSetupTimeout = 15 * time.Second
	maxMessageSize      = 16 << 20
)

// ── Options ────────────────────────────────────────────────────────────────────

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithModel sets the OpenAI model used for sessions.
func WithModel(model string) Option {
	return func(p *Provider) {
		if model != "" {
			p.model = model
		}
	}
}

// WithBaseURL overrides the base WebSocket URL. Primarily used in tests to
// point at a local mock server.
func WithBaseURL(url string) Option {
	return func(p *Provider) {
		if url != "" {
			p.baseURL = url
		}
	}
}

// WithVoice replaces the session's voice. Prebuilt voice names differ between
// vendors, so a fallback provider usually needs its own.
func WithVoice(voice string) Option {
	return func(p *Provider) { p.voice = voice }
}

// WithSetupTimeout bounds how long Connect waits for session.updated.
func WithSetupTimeout(d time.Duration) Option {
	return func(p *Provider) { p.setupTimeout = d }
}

// WithTranscription enables transcription of the user's speech.
func WithTranscription(enabled bool) Option {
	return func(p *Provider) { p.transcription = enabled }
}

// ── Provider ───────────────────────────────────────────────────────────────────

// Provider implements live.Provider for OpenAI's Realtime API.
type Provider struct {
	apiKey        string
	model         string
	baseURL       string
	voice         string
	setupTimeout  time.Duration
	transcription bool
}

// New creates a new OpenAI Realtime Provider with the given API key and options.
func New(apiKey string, opts ...Option) *Provider {
	p := &Provider{
		apiKey:       apiKey,
		model:        DefaultModel,
		baseURL:      defaultBaseURL,
		setupTimeout: defaultSetupTimeout,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Model returns the configured model name.
func (p *Provider) Model() string { return p.model }

// Connect dials the endpoint, sends session.update and waits for the server
// to confirm it with session.updated.
func (p *Provider) Connect(ctx context.Context, cfg live.SessionConfig) (live.SessionHandle, error) {
	wsURL := fmt.Sprintf("%s?model=%s", p.baseURL, url.QueryEscape(p.model))

	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		HTTPHeader: http.Header{
			"Authorization": []string{"Bearer " + p.apiKey},
			"OpenAI-Beta":   []string{"realtime=v1"},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("openai: dial: %w: %w", live.ErrConnection, err)
	}
	conn.SetReadLimit(maxMessageSize)

	sessCtx, sessCancel := context.WithCancel(context.Background())
	sess := &session{
		conn:     conn,
		messages: make(chan live.ServerMessage, 64),
		ctx:      sessCtx,
		cancel:   sessCancel,
	}

	setupCtx := ctx
	if p.setupTimeout > 0 {
		var cancel context.CancelFunc
		setupCtx, cancel = context.WithTimeout(ctx, p.setupTimeout)
		defer cancel()
	}

	if err := sess.handshake(setupCtx, p.sessionUpdate(cfg)); err != nil {
		sessCancel()
		conn.Close(websocket.StatusInternalError, "session update failed")
		return nil, fmt.Errorf("openai: session update: %w", err)
	}

	go sess.receiveLoop()

	return sess, nil
}

// ── Protocol message types (outgoing) ─────────────────────────────────────────

type sessionUpdateMessage struct {
	Type    string        `json:"type"`
	Session sessionParams `json:"session"`
}

type sessionParams struct {
	Modalities              []string       `json:"modalities"`
	Voice                   string         `json:"voice,omitempty"`
	Instructions            string         `json:"instructions,omitempty"`
	InputAudioFormat        string         `json:"input_audio_format"`
	OutputAudioFormat       string         `json:"output_audio_format"`
	InputAudioTranscription *transcription `json:"input_audio_transcription,omitempty"`
}

type transcription struct {
	Model string `json:"model"`
}

type appendAudioMessage struct {
	Type  string `json:"type"`
	Audio string `json:"audio"` // base64-encoded PCM16 at 24 kHz
}

// ── Protocol message types (incoming) ─────────────────────────────────────────

type serverEvent struct {
	Type string `json:"type"`

	// response.audio.delta, response.audio_transcript.delta
	Delta string `json:"delta,omitempty"`

	// conversation.item.input_audio_transcription.completed
	Transcript string `json:"transcript,omitempty"`

	Error *serverErrorDetail `json:"error,omitempty"`
}

// serverErrorDetail is the nested object of an error event:
// {"type":"error","error":{"type":"...","code":"...","message":"..."}}.
type serverErrorDetail struct {
	Type    string `json:"type"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

func (d *serverErrorDetail) toRemote() *live.RemoteError {
	if d == nil {
		return &live.RemoteError{Message: "unknown error"}
	}
	msg := d.Message
	if msg == "" {
		msg = "unknown error"
	}
	status := d.Code
	if status == "" {
		status = d.Type
	}
	return &live.RemoteError{Status: status, Message: msg}
}

func (p *Provider) sessionUpdate(cfg live.SessionConfig) sessionUpdateMessage {
	modalities := []string{"text", "audio"}
	if cfg.Modality == live.ModalityText {
		modalities = []string{"text"}
	}
	params := sessionParams{
		Modalities:        modalities,
		Voice:             cfg.Voice,
		Instructions:      cfg.Instructions,
		InputAudioFormat:  "pcm16",
		OutputAudioFormat: "pcm16",
	}
	if p.voice != "" {
		params.Voice = p.voice
	}
	if p.transcription {
		params.InputAudioTranscription = &transcription{Model: "whisper-1"}
	}
	return sessionUpdateMessage{Type: "session.update", Session: params}
}

// ── session ────────────────────────────────────────────────────────────────────

type session struct {
	conn     *websocket.Conn
	messages chan live.ServerMessage

	mu     sync.Mutex
	errVal error
	closed bool

	ctx    context.Context
	cancel context.CancelFunc
}

// handshake sends session.update and blocks until session.updated, an error
// event or ctx expiry. session.created and other early events are skipped.
func (s *session) handshake(ctx context.Context, update sessionUpdateMessage) error {
	if err := s.writeJSON(ctx, update); err != nil {
		return fmt.Errorf("%w: send session.update: %w", live.ErrConnection, err)
	}
	for {
		_, data, err := s.conn.Read(ctx)
		if err != nil {
			return fmt.Errorf("%w: await session.updated: %w", live.ErrConnection, err)
		}
		var evt serverEvent
		if err := json.Unmarshal(data, &evt); err != nil {
			continue
		}
		switch evt.Type {
		case "error":
			return evt.Error.toRemote()
		case "session.updated":
			return nil
		}
	}
}

// writeJSON marshals v and writes it as a text WebSocket message.
func (s *session) writeJSON(ctx context.Context, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("openai: marshal: %w", err)
	}
	return s.conn.Write(ctx, websocket.MessageText, data)
}

// receiveLoop reads events from the WebSocket and dispatches them.
// It owns the messages channel and closes it when it exits.
func (s *session) receiveLoop() {
	defer close(s.messages)

	for {
		_, data, err := s.conn.Read(s.ctx)
		if err != nil {
			if s.ctx.Err() != nil {
				return
			}
			s.setErr(readError(err))
			return
		}

		var evt serverEvent
		if err := json.Unmarshal(data, &evt); err != nil {
			slog.Debug("openai: skipping malformed event", "err", err, "bytes", len(data))
			continue
		}

		msg, ok := toMessage(&evt)
		if !ok {
			continue
		}
		select {
		case s.messages <- msg:
		case <-s.ctx.Done():
			return
		}
	}
}

// toMessage maps one server event onto a live.ServerMessage. Events that
// carry nothing a session consumes report false.
func toMessage(evt *serverEvent) (live.ServerMessage, bool) {
	switch evt.Type {
	case "response.audio.delta":
		if evt.Delta == "" {
			return live.ServerMessage{}, false
		}
		return live.ServerMessage{AudioData: evt.Delta, AudioMIMEType: audio.MIMEType(SampleRate)}, true
	case "response.audio_transcript.delta":
		return live.ServerMessage{OutputTranscript: evt.Delta}, evt.Delta != ""
	case "conversation.item.input_audio_transcription.completed":
		return live.ServerMessage{InputTranscript: evt.Transcript}, evt.Transcript != ""
	case "input_audio_buffer.speech_started":
		// Server VAD heard the user; the running response is abandoned.
		return live.ServerMessage{Interrupted: true}, true
	case "response.done":
		return live.ServerMessage{TurnComplete: true}, true
	case "error":
		// Error events are recoverable here; fatal ones close the socket.
		re := evt.Error.toRemote()
		slog.Warn("openai: server reported an error", "status", re.Status, "message", re.Message)
	}
	return live.ServerMessage{}, false
}

// readError classifies a read failure. Any close the client did not ask for
// is a connection error.
func readError(err error) error {
	if status := websocket.CloseStatus(err); status != -1 {
		return fmt.Errorf("%w: closed by server (%d): %w", live.ErrConnection, status, err)
	}
	return fmt.Errorf("%w: read: %w", live.ErrConnection, err)
}

func (s *session) setErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.errVal == nil {
		s.errVal = err
	}
}

// inputRate extracts the rate parameter of an "audio/pcm;rate=N" MIME type.
// Untagged chunks are taken to be at [SampleRate].
func inputRate(mimeType string) (int, error) {
	_, params, found := strings.Cut(mimeType, ";")
	if !found {
		return SampleRate, nil
	}
	for _, kv := range strings.Split(params, ";") {
		k, v, _ := strings.Cut(strings.TrimSpace(kv), "=")
		if k != "rate" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return 0, fmt.Errorf("%w: bad rate in %q", audio.ErrInvalidFormat, mimeType)
		}
		return n, nil
	}
	return SampleRate, nil
}

// to24k re-encodes a base64 PCM16 chunk at [SampleRate].
func to24k(m live.Media) (string, error) {
	rate, err := inputRate(m.MIMEType)
	if err != nil {
		return "", err
	}
	if rate == SampleRate {
		return m.Data, nil
	}
	buf, err := audio.DecodeTransport(m.Data, rate, 1)
	if err != nil {
		return "", err
	}
	return audio.ToTransportText(audio.EncodePCM16(audio.Resample(buf.Samples, rate, SampleRate))), nil
}

// ── SessionHandle methods ──────────────────────────────────────────────────────

// SendRealtimeInput appends one media chunk to the input audio buffer.
func (s *session) SendRealtimeInput(ctx context.Context, m live.Media) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return live.ErrSessionClosed
	}
	s.mu.Unlock()

	data, err := to24k(m)
	if err != nil {
		return fmt.Errorf("openai: send: %w", err)
	}
	if err := s.writeJSON(ctx, appendAudioMessage{Type: "input_audio_buffer.append", Audio: data}); err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		return fmt.Errorf("openai: send: %w: %w", live.ErrConnection, err)
	}
	return nil
}

// Messages returns the channel on which inbound events arrive.
func (s *session) Messages() <-chan live.ServerMessage { return s.messages }

// Err returns the first non-nil error that caused the session to terminate.
func (s *session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.errVal
}

// Close terminates the session and releases all resources. Idempotent.
func (s *session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.cancel()
	s.conn.Close(websocket.StatusNormalClosure, "session closed")
	return nil
}
