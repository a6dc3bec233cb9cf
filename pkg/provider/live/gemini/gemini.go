// Package gemini implements the live.Provider interface for Google's Gemini
// Live API.
//
// It establishes a bidirectional WebSocket connection to the Gemini Live
// endpoint and exchanges JSON messages according to the BidiGenerateContent
// protocol. Microphone audio is sent as base64 PCM media chunks; the model's
// speech arrives as inline data parts of serverContent.modelTurn.
package gemini

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/tutorlive/pkg/provider/live"
)

// Compile-time assertions that Provider and session satisfy the live interfaces.
var _ live.Provider = (*Provider)(nil)
var _ live.SessionHandle = (*session)(nil)

const (
	// DefaultModel is the native-audio model used when none is configured.
	DefaultModel   = "gemini-2.5-flash-native-audio-preview-09-2025"
	defaultBaseURL = "wss://generativelanguage.googleapis.com/ws"

	defaultSetupTimeout = 15 * time.Second
	keepaliveInterval   = 20 * time.Second
	keepaliveTimeout    = 5 * time.Second

	// maxMessageSize bounds one inbound frame. Audio turns are far larger
	// than the websocket library's 32 KiB default.
	maxMessageSize = 16 << 20
)

// ── Options ────────────────────────────────────────────────────────────────────

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithModel sets the Gemini model used for sessions.
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

// WithSetupTimeout bounds how long Connect waits for setupComplete.
func WithSetupTimeout(d time.Duration) Option {
	return func(p *Provider) { p.setupTimeout = d }
}

// WithTranscription asks the server to transcribe both the user's and the
// model's speech. Transcripts surface on [live.ServerMessage].
func WithTranscription(enabled bool) Option {
	return func(p *Provider) { p.transcription = enabled }
}

// ── Provider ───────────────────────────────────────────────────────────────────

// Provider implements live.Provider for Google's Gemini Live API.
type Provider struct {
	apiKey        string
	model         string
	baseURL       string
	setupTimeout  time.Duration
	transcription bool
}

// New creates a new Gemini Live Provider with the given API key and options.
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

// Connect dials the endpoint, sends the setup message and waits for the
// server's setupComplete acknowledgement.
func (p *Provider) Connect(ctx context.Context, cfg live.SessionConfig) (live.SessionHandle, error) {
	wsURL := fmt.Sprintf(
		"%s/google.ai.generativelanguage.v1beta.GenerativeService.BidiGenerateContent?key=%s",
		p.baseURL, url.QueryEscape(p.apiKey),
	)

	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		HTTPHeader: http.Header{
			"Content-Type": []string{"application/json"},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("gemini: dial: %w: %w", live.ErrConnection, err)
	}
	conn.SetReadLimit(maxMessageSize)

	sessCtx, sessCancel := context.WithCancel(context.Background())
	sess := &session{
		conn:     conn,
		messages: make(chan live.ServerMessage, 64),
		done:     make(chan struct{}),
		ctx:      sessCtx,
		cancel:   sessCancel,
	}

	setupCtx := ctx
	if p.setupTimeout > 0 {
		var cancel context.CancelFunc
		setupCtx, cancel = context.WithTimeout(ctx, p.setupTimeout)
		defer cancel()
	}

	if err := sess.handshake(setupCtx, p.setupMessage(cfg)); err != nil {
		sessCancel()
		conn.Close(websocket.StatusInternalError, "setup failed")
		return nil, fmt.Errorf("gemini: setup: %w", err)
	}

	go sess.receiveLoop()
	go sess.keepaliveLoop()

	return sess, nil
}

// ── Protocol message types (outgoing) ─────────────────────────────────────────

type setupMessage struct {
	Setup setupConfig `json:"setup"`
}

type setupConfig struct {
	Model                    string             `json:"model"`
	GenerationConfig         generationConfig   `json:"generationConfig"`
	SystemInstruction        *systemInstruction `json:"systemInstruction,omitempty"`
	InputAudioTranscription  *struct{}          `json:"inputAudioTranscription,omitempty"`
	OutputAudioTranscription *struct{}          `json:"outputAudioTranscription,omitempty"`
}

type generationConfig struct {
	ResponseModalities []string      `json:"responseModalities"`
	SpeechConfig       *speechConfig `json:"speechConfig,omitempty"`
}

type speechConfig struct {
	VoiceConfig voiceConfig `json:"voiceConfig"`
}

type voiceConfig struct {
	PrebuiltVoiceConfig prebuiltVoiceConfig `json:"prebuiltVoiceConfig"`
}

type prebuiltVoiceConfig struct {
	VoiceName string `json:"voiceName"`
}

type systemInstruction struct {
	Parts []part `json:"parts"`
}

type part struct {
	Text       string      `json:"text,omitempty"`
	InlineData *inlineData `json:"inlineData,omitempty"`
}

type inlineData struct {
	MIMEType string `json:"mimeType"`
	Data     string `json:"data"` // base64-encoded
}

type realtimeInputMessage struct {
	RealtimeInput realtimeInput `json:"realtimeInput"`
}

type realtimeInput struct {
	MediaChunks []inlineData `json:"mediaChunks"`
}

// ── Protocol message types (incoming) ─────────────────────────────────────────

type serverMessage struct {
	SetupComplete *json.RawMessage `json:"setupComplete,omitempty"`
	ServerContent *serverContent   `json:"serverContent,omitempty"`
	GoAway        *goAway          `json:"goAway,omitempty"`
	Error         *geminiError     `json:"error,omitempty"`
}

type geminiError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Status  string `json:"status,omitempty"`
}

func (ge *geminiError) toRemote() *live.RemoteError {
	msg := ge.Message
	if msg == "" {
		msg = "unknown error"
	}
	return &live.RemoteError{Code: ge.Code, Status: ge.Status, Message: msg}
}

type goAway struct {
	TimeLeft string `json:"timeLeft,omitempty"`
}

type serverContent struct {
	ModelTurn           *modelTurn     `json:"modelTurn,omitempty"`
	TurnComplete        bool           `json:"turnComplete,omitempty"`
	Interrupted         bool           `json:"interrupted,omitempty"`
	InputTranscription  *transcription `json:"inputTranscription,omitempty"`
	OutputTranscription *transcription `json:"outputTranscription,omitempty"`
}

type modelTurn struct {
	Parts []part `json:"parts"`
}

type transcription struct {
	Text string `json:"text"`
}

// toMessage flattens serverContent into a live.ServerMessage. Only the first
// inline data part is taken as the chunk's audio.
func (sc *serverContent) toMessage() live.ServerMessage {
	msg := live.ServerMessage{
		Interrupted:  sc.Interrupted,
		TurnComplete: sc.TurnComplete,
	}
	if sc.ModelTurn != nil {
		for _, p := range sc.ModelTurn.Parts {
			if p.InlineData != nil {
				msg.AudioData = p.InlineData.Data
				msg.AudioMIMEType = p.InlineData.MIMEType
				break
			}
		}
	}
	if sc.InputTranscription != nil {
		msg.InputTranscript = sc.InputTranscription.Text
	}
	if sc.OutputTranscription != nil {
		msg.OutputTranscript = sc.OutputTranscription.Text
	}
	return msg
}

func (p *Provider) setupMessage(cfg live.SessionConfig) setupMessage {
	modality := cfg.Modality
	if modality == "" {
		modality = live.ModalityAudio
	}
	msg := setupMessage{
		Setup: setupConfig{
			Model: fmt.Sprintf("models/%s", p.model),
			GenerationConfig: generationConfig{
				ResponseModalities: []string{string(modality)},
			},
		},
	}
	if cfg.Instructions != "" {
		msg.Setup.SystemInstruction = &systemInstruction{
			Parts: []part{{Text: cfg.Instructions}},
		}
	}
	if cfg.Voice != "" {
		msg.Setup.GenerationConfig.SpeechConfig = &speechConfig{
			VoiceConfig: voiceConfig{
				PrebuiltVoiceConfig: prebuiltVoiceConfig{VoiceName: cfg.Voice},
			},
		}
	}
	if p.transcription {
		msg.Setup.InputAudioTranscription = &struct{}{}
		msg.Setup.OutputAudioTranscription = &struct{}{}
	}
	return msg
}

// ── session ────────────────────────────────────────────────────────────────────

type session struct {
	conn     *websocket.Conn
	messages chan live.ServerMessage

	mu     sync.Mutex
	errVal error
	done   chan struct{}
	closed bool

	ctx    context.Context
	cancel context.CancelFunc
}

// handshake sends setup and blocks until setupComplete, a server error or
// ctx expiry. Server content that arrives before the ack is discarded.
func (s *session) handshake(ctx context.Context, setup setupMessage) error {
	if err := s.writeJSON(ctx, setup); err != nil {
		return fmt.Errorf("%w: send setup: %w", live.ErrConnection, err)
	}
	for {
		_, data, err := s.conn.Read(ctx)
		if err != nil {
			return fmt.Errorf("%w: await setupComplete: %w", live.ErrConnection, err)
		}
		var msg serverMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		if msg.Error != nil {
			return msg.Error.toRemote()
		}
		if msg.SetupComplete != nil {
			return nil
		}
	}
}

// writeJSON marshals v and writes it as a text WebSocket message.
func (s *session) writeJSON(ctx context.Context, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("gemini: marshal: %w", err)
	}
	return s.conn.Write(ctx, websocket.MessageText, data)
}

// receiveLoop reads messages from the WebSocket and dispatches them.
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

		var msg serverMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			slog.Debug("gemini: skipping malformed message", "err", err, "bytes", len(data))
			continue
		}

		if msg.Error != nil {
			s.setErr(msg.Error.toRemote())
			return
		}
		if msg.GoAway != nil {
			slog.Warn("gemini: server will close the session soon", "time_left", msg.GoAway.TimeLeft)
		}
		if msg.ServerContent == nil {
			continue
		}

		select {
		case s.messages <- msg.ServerContent.toMessage():
		case <-s.ctx.Done():
			return
		}
	}
}

// readError classifies a read failure. Any close the client did not ask for
// is a connection error, including a normal closure from the server.
func readError(err error) error {
	if status := websocket.CloseStatus(err); status != -1 {
		return fmt.Errorf("%w: closed by server (%d): %w", live.ErrConnection, status, err)
	}
	return fmt.Errorf("%w: read: %w", live.ErrConnection, err)
}

// keepaliveLoop sends WebSocket pings to keep the Gemini Live connection alive.
func (s *session) keepaliveLoop() {
	ticker := time.NewTicker(keepaliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(s.ctx, keepaliveTimeout)
			if err := s.conn.Ping(pingCtx); err != nil && s.ctx.Err() == nil {
				slog.Debug("gemini: keepalive ping failed", "err", err)
			}
			cancel()
		}
	}
}

func (s *session) setErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.errVal == nil {
		s.errVal = err
	}
}

// ── SessionHandle methods ──────────────────────────────────────────────────────

// SendRealtimeInput delivers one media chunk as realtimeInput.mediaChunks.
func (s *session) SendRealtimeInput(ctx context.Context, m live.Media) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return live.ErrSessionClosed
	}
	s.mu.Unlock()

	msg := realtimeInputMessage{
		RealtimeInput: realtimeInput{
			MediaChunks: []inlineData{{MIMEType: m.MIMEType, Data: m.Data}},
		},
	}
	if err := s.writeJSON(ctx, msg); err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		return fmt.Errorf("gemini: send: %w: %w", live.ErrConnection, err)
	}
	return nil
}

// Messages returns the channel on which inbound server content arrives.
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

	s.cancel()    // unblocks receiveLoop and keepaliveLoop
	close(s.done) // signals keepaliveLoop via done channel
	s.conn.Close(websocket.StatusNormalClosure, "session closed")
	return nil
}
