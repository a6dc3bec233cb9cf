package openai

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/tutorlive/pkg/audio"
	"github.com/MrWong99/tutorlive/pkg/provider/live"
)

// ── Helpers ───────────────────────────────────────────────────────────────────

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

// startRealtimeServer launches a test WebSocket server that runs handler on
// every accepted connection.
func startRealtimeServer(t *testing.T, handler func(conn *websocket.Conn, r *http.Request)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{InsecureSkipVerify: true})
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "done")
		handler(conn, r)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func readJSON(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Errorf("readJSON: %v", err)
		return
	}
	if err := json.Unmarshal(data, v); err != nil {
		t.Errorf("readJSON unmarshal: %v", err)
	}
}

func writeJSON(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	data, _ := json.Marshal(v)
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		t.Logf("writeJSON: %v (may be expected on close)", err)
	}
}

// acceptUpdate emits session.created, reads session.update and confirms it.
func acceptUpdate(t *testing.T, conn *websocket.Conn) {
	t.Helper()
	writeJSON(t, conn, map[string]any{"type": "session.created"})
	var update map[string]any
	readJSON(t, conn, &update)
	writeJSON(t, conn, map[string]any{"type": "session.updated"})
}

func connect(t *testing.T, srv *httptest.Server, opts ...Option) live.SessionHandle {
	t.Helper()
	opts = append([]Option{WithBaseURL(wsURL(srv))}, opts...)
	h, err := New("k", opts...).Connect(context.Background(), live.SessionConfig{Voice: "Zephyr"})
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	t.Cleanup(func() { h.Close() })
	return h
}

func nextMessage(t *testing.T, h live.SessionHandle) live.ServerMessage {
	t.Helper()
	select {
	case msg, ok := <-h.Messages():
		if !ok {
			t.Fatalf("Messages closed early, Err = %v", h.Err())
		}
		return msg
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for message")
	}
	return live.ServerMessage{}
}

func waitClosed(t *testing.T, h live.SessionHandle) {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		select {
		case _, ok := <-h.Messages():
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("timeout waiting for Messages to close")
		}
	}
}

// ── Connect ───────────────────────────────────────────────────────────────────

func TestConnect_SendsSessionUpdate(t *testing.T) {
	t.Parallel()

	type update struct {
		Type    string `json:"type"`
		Session struct {
			Modalities              []string        `json:"modalities"`
			Voice                   string          `json:"voice"`
			Instructions            string          `json:"instructions"`
			InputAudioFormat        string          `json:"input_audio_format"`
			OutputAudioFormat       string          `json:"output_audio_format"`
			InputAudioTranscription json.RawMessage `json:"input_audio_transcription"`
		} `json:"session"`
	}
	got := make(chan update, 1)
	headers := make(chan http.Header, 1)
	models := make(chan string, 1)

	srv := startRealtimeServer(t, func(conn *websocket.Conn, r *http.Request) {
		headers <- r.Header
		models <- r.URL.Query().Get("model")
		var msg update
		readJSON(t, conn, &msg)
		got <- msg
		writeJSON(t, conn, map[string]any{"type": "session.updated"})
		<-conn.CloseRead(context.Background()).Done()
	})

	p := New("secret", WithBaseURL(wsURL(srv)), WithModel("rt-test"), WithVoice("alloy"), WithTranscription(true))
	h, err := p.Connect(context.Background(), live.SessionConfig{Voice: "Zephyr", Instructions: "Sois bref."})
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer h.Close()

	hdr := <-headers
	if a := hdr.Get("Authorization"); a != "Bearer secret" {
		t.Errorf("Authorization = %q", a)
	}
	if b := hdr.Get("OpenAI-Beta"); b != "realtime=v1" {
		t.Errorf("OpenAI-Beta = %q", b)
	}
	if m := <-models; m != "rt-test" {
		t.Errorf("model = %q", m)
	}

	msg := <-got
	if msg.Type != "session.update" {
		t.Errorf("type = %q", msg.Type)
	}
	if msg.Session.Voice != "alloy" {
		t.Errorf("voice = %q, want the provider override", msg.Session.Voice)
	}
	if msg.Session.Instructions != "Sois bref." {
		t.Errorf("instructions = %q", msg.Session.Instructions)
	}
	if msg.Session.InputAudioFormat != "pcm16" || msg.Session.OutputAudioFormat != "pcm16" {
		t.Errorf("formats = %q/%q", msg.Session.InputAudioFormat, msg.Session.OutputAudioFormat)
	}
	if len(msg.Session.Modalities) != 2 {
		t.Errorf("modalities = %v", msg.Session.Modalities)
	}
	if len(msg.Session.InputAudioTranscription) == 0 {
		t.Error("transcription not requested")
	}
}

func TestConnect_DefaultModel(t *testing.T) {
	t.Parallel()
	if got := New("k").Model(); got != DefaultModel {
		t.Errorf("Model = %q, want %q", got, DefaultModel)
	}
}

func TestConnect_DialFailure(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	_, err := New("k", WithBaseURL(wsURL(srv))).Connect(context.Background(), live.SessionConfig{})
	if !errors.Is(err, live.ErrConnection) {
		t.Errorf("err = %v, want ErrConnection", err)
	}
}

func TestConnect_UpdateRejected(t *testing.T) {
	t.Parallel()

	srv := startRealtimeServer(t, func(conn *websocket.Conn, _ *http.Request) {
		var update map[string]any
		readJSON(t, conn, &update)
		writeJSON(t, conn, map[string]any{
			"type":  "error",
			"error": map[string]any{"type": "invalid_request_error", "code": "invalid_voice", "message": "unknown voice"},
		})
		<-conn.CloseRead(context.Background()).Done()
	})

	_, err := New("k", WithBaseURL(wsURL(srv))).Connect(context.Background(), live.SessionConfig{})
	var re *live.RemoteError
	if !errors.As(err, &re) {
		t.Fatalf("err = %v, want *live.RemoteError", err)
	}
	if re.Status != "invalid_voice" || re.Message != "unknown voice" {
		t.Errorf("remote error = %+v", re)
	}
	if !errors.Is(err, live.ErrConnection) {
		t.Error("remote error does not match ErrConnection")
	}
}

func TestConnect_SetupTimeout(t *testing.T) {
	t.Parallel()

	srv := startRealtimeServer(t, func(conn *websocket.Conn, _ *http.Request) {
		<-conn.CloseRead(context.Background()).Done()
	})

	start := time.Now()
	_, err := New("k", WithBaseURL(wsURL(srv)), WithSetupTimeout(100*time.Millisecond)).
		Connect(context.Background(), live.SessionConfig{})
	if !errors.Is(err, live.ErrConnection) {
		t.Errorf("err = %v, want ErrConnection", err)
	}
	if time.Since(start) > 2*time.Second {
		t.Error("setup timeout not honoured")
	}
}

// ── Session ───────────────────────────────────────────────────────────────────

func TestSendRealtimeInput_Resamples(t *testing.T) {
	t.Parallel()

	type appendMsg struct {
		Type  string `json:"type"`
		Audio string `json:"audio"`
	}
	got := make(chan appendMsg, 2)

	srv := startRealtimeServer(t, func(conn *websocket.Conn, _ *http.Request) {
		acceptUpdate(t, conn)
		for range 2 {
			var msg appendMsg
			readJSON(t, conn, &msg)
			got <- msg
		}
		<-conn.CloseRead(context.Background()).Done()
	})
	h := connect(t, srv)

	in := audio.EncodeFrame(audio.AudioFrame{Samples: make([]float32, 160), SampleRate: audio.InputSampleRate})
	if err := h.SendRealtimeInput(context.Background(), live.Media{MIMEType: in.MIMEType, Data: in.Data}); err != nil {
		t.Fatalf("SendRealtimeInput: %v", err)
	}
	native := audio.ToTransportText(audio.EncodePCM16(make([]float32, 24)))
	if err := h.SendRealtimeInput(context.Background(), live.Media{MIMEType: audio.MIMEType(SampleRate), Data: native}); err != nil {
		t.Fatalf("SendRealtimeInput: %v", err)
	}

	first := <-got
	if first.Type != "input_audio_buffer.append" {
		t.Errorf("type = %q", first.Type)
	}
	raw, err := audio.FromTransportText(first.Audio)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if n := len(raw) / 2; n != 240 {
		t.Errorf("resampled samples = %d, want 240", n)
	}
	if second := <-got; second.Audio != native {
		t.Error("24 kHz chunk was re-encoded")
	}
}

func TestSendRealtimeInput_BadPayload(t *testing.T) {
	t.Parallel()

	srv := startRealtimeServer(t, func(conn *websocket.Conn, _ *http.Request) {
		acceptUpdate(t, conn)
		<-conn.CloseRead(context.Background()).Done()
	})
	h := connect(t, srv)

	err := h.SendRealtimeInput(context.Background(), live.Media{MIMEType: "audio/pcm;rate=16000", Data: "AAE"})
	if err == nil || errors.Is(err, live.ErrConnection) {
		t.Errorf("err = %v, want a decode error", err)
	}
	err = h.SendRealtimeInput(context.Background(), live.Media{MIMEType: "audio/pcm;rate=fast", Data: "AAAA"})
	if !errors.Is(err, audio.ErrInvalidFormat) {
		t.Errorf("err = %v, want ErrInvalidFormat", err)
	}
}

func TestMessages_Events(t *testing.T) {
	t.Parallel()

	srv := startRealtimeServer(t, func(conn *websocket.Conn, _ *http.Request) {
		acceptUpdate(t, conn)
		writeJSON(t, conn, map[string]any{"type": "response.created"})
		writeJSON(t, conn, map[string]any{"type": "response.audio.delta", "delta": "AQID"})
		writeJSON(t, conn, map[string]any{"type": "response.audio_transcript.delta", "delta": "Bonjour"})
		writeJSON(t, conn, map[string]any{"type": "error", "error": map[string]any{"message": "no active response"}})
		writeJSON(t, conn, map[string]any{"type": "input_audio_buffer.speech_started"})
		writeJSON(t, conn, map[string]any{"type": "conversation.item.input_audio_transcription.completed", "transcript": "Salut"})
		writeJSON(t, conn, map[string]any{"type": "response.done"})
		<-conn.CloseRead(context.Background()).Done()
	})
	h := connect(t, srv)

	if msg := nextMessage(t, h); msg.AudioData != "AQID" || msg.AudioMIMEType != "audio/pcm;rate=24000" {
		t.Errorf("audio message = %+v", msg)
	}
	if msg := nextMessage(t, h); msg.OutputTranscript != "Bonjour" {
		t.Errorf("transcript message = %+v", msg)
	}
	if msg := nextMessage(t, h); !msg.Interrupted || msg.HasAudio() {
		t.Errorf("interrupt message = %+v", msg)
	}
	if msg := nextMessage(t, h); msg.InputTranscript != "Salut" {
		t.Errorf("input transcript message = %+v", msg)
	}
	if msg := nextMessage(t, h); !msg.TurnComplete {
		t.Errorf("turn message = %+v", msg)
	}
}

func TestSession_UnexpectedCloseIsConnectionError(t *testing.T) {
	t.Parallel()

	srv := startRealtimeServer(t, func(conn *websocket.Conn, _ *http.Request) {
		acceptUpdate(t, conn)
		conn.Close(websocket.StatusGoingAway, "bye")
	})
	h := connect(t, srv)

	waitClosed(t, h)
	if !errors.Is(h.Err(), live.ErrConnection) {
		t.Errorf("Err = %v, want ErrConnection", h.Err())
	}
}

func TestSession_Close(t *testing.T) {
	t.Parallel()

	srv := startRealtimeServer(t, func(conn *websocket.Conn, _ *http.Request) {
		acceptUpdate(t, conn)
		<-conn.CloseRead(context.Background()).Done()
	})
	h := connect(t, srv)

	if err := h.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := h.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
	waitClosed(t, h)
	if err := h.Err(); err != nil {
		t.Errorf("Err after Close = %v, want nil", err)
	}
	if err := h.SendRealtimeInput(context.Background(), live.Media{}); !errors.Is(err, live.ErrSessionClosed) {
		t.Errorf("SendRealtimeInput after Close = %v, want ErrSessionClosed", err)
	}
}

func TestInputRate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		mime    string
		want    int
		wantErr bool
	}{
		{mime: "audio/pcm;rate=16000", want: 16000},
		{mime: "audio/pcm; rate=48000", want: 48000},
		{mime: "audio/pcm", want: SampleRate},
		{mime: "", want: SampleRate},
		{mime: "audio/pcm;rate=0", wantErr: true},
		{mime: "audio/pcm;rate=x", wantErr: true},
	}
	for _, tt := range tests {
		got, err := inputRate(tt.mime)
		if (err != nil) != tt.wantErr {
			t.Errorf("inputRate(%q) err = %v, wantErr %v", tt.mime, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("inputRate(%q) = %d, want %d", tt.mime, got, tt.want)
		}
	}
}
