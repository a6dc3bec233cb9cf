package gemini_test

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

	"github.com/MrWong99/tutorlive/pkg/provider/live"
	"github.com/MrWong99/tutorlive/pkg/provider/live/gemini"
)

// ── Helpers ───────────────────────────────────────────────────────────────────

// wsURL converts an httptest server HTTP URL to a WebSocket URL.
func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

// startGeminiServer launches a test WebSocket server. The handler function
// receives the accepted *websocket.Conn. The server is automatically closed
// when the test finishes.
func startGeminiServer(t *testing.T, handler func(conn *websocket.Conn, r *http.Request)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			InsecureSkipVerify: true,
		})
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "done")
		handler(conn, r)
	}))
	t.Cleanup(srv.Close)
	return srv
}

// readJSON reads one WebSocket text frame and decodes it into v.
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

// writeJSON marshals v and sends it as a text frame.
func writeJSON(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	data, _ := json.Marshal(v)
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		t.Logf("writeJSON: %v (may be expected on close)", err)
	}
}

// acceptSetup reads the setup message and acknowledges it.
func acceptSetup(t *testing.T, conn *websocket.Conn) {
	t.Helper()
	var setup map[string]any
	readJSON(t, conn, &setup)
	writeJSON(t, conn, map[string]any{"setupComplete": map[string]any{}})
}

// audioContent builds a serverContent message carrying one audio part.
func audioContent(data string) map[string]any {
	return map[string]any{
		"serverContent": map[string]any{
			"modelTurn": map[string]any{
				"parts": []any{
					map[string]any{"inlineData": map[string]any{"mimeType": "audio/pcm;rate=24000", "data": data}},
				},
			},
		},
	}
}

// nextMessage waits for one inbound message.
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

// waitClosed waits for the Messages channel to close.
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

func TestConnect_SendsSetup(t *testing.T) {
	t.Parallel()

	type setupMsg struct {
		Setup struct {
			Model            string `json:"model"`
			GenerationConfig struct {
				ResponseModalities []string `json:"responseModalities"`
				SpeechConfig       struct {
					VoiceConfig struct {
						PrebuiltVoiceConfig struct {
							VoiceName string `json:"voiceName"`
						} `json:"prebuiltVoiceConfig"`
					} `json:"voiceConfig"`
				} `json:"speechConfig"`
			} `json:"generationConfig"`
			SystemInstruction struct {
				Parts []struct {
					Text string `json:"text"`
				} `json:"parts"`
			} `json:"systemInstruction"`
			InputAudioTranscription *struct{} `json:"inputAudioTranscription"`
		} `json:"setup"`
	}
	got := make(chan setupMsg, 1)
	keys := make(chan string, 1)

	srv := startGeminiServer(t, func(conn *websocket.Conn, r *http.Request) {
		keys <- r.URL.Query().Get("key")
		var msg setupMsg
		readJSON(t, conn, &msg)
		got <- msg
		writeJSON(t, conn, map[string]any{"setupComplete": map[string]any{}})
		<-conn.CloseRead(context.Background()).Done()
	})

	p := gemini.New("secret key", gemini.WithBaseURL(wsURL(srv)), gemini.WithModel("custom-model"))
	h, err := p.Connect(context.Background(), live.SessionConfig{
		Voice:        "Zephyr",
		Instructions: "Tu es un professeur.",
		Modality:     live.ModalityAudio,
	})
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer h.Close()

	if k := <-keys; k != "secret key" {
		t.Errorf("api key = %q, want %q", k, "secret key")
	}
	msg := <-got
	if msg.Setup.Model != "models/custom-model" {
		t.Errorf("model = %q", msg.Setup.Model)
	}
	if m := msg.Setup.GenerationConfig.ResponseModalities; len(m) != 1 || m[0] != "audio" {
		t.Errorf("responseModalities = %v", m)
	}
	if v := msg.Setup.GenerationConfig.SpeechConfig.VoiceConfig.PrebuiltVoiceConfig.VoiceName; v != "Zephyr" {
		t.Errorf("voice = %q", v)
	}
	if parts := msg.Setup.SystemInstruction.Parts; len(parts) != 1 || parts[0].Text != "Tu es un professeur." {
		t.Errorf("systemInstruction = %+v", parts)
	}
	if msg.Setup.InputAudioTranscription != nil {
		t.Error("transcription requested without WithTranscription")
	}
}

func TestConnect_DefaultModel(t *testing.T) {
	t.Parallel()
	if got := gemini.New("k").Model(); got != gemini.DefaultModel {
		t.Errorf("Model = %q, want %q", got, gemini.DefaultModel)
	}
}

func TestConnect_Transcription(t *testing.T) {
	t.Parallel()

	got := make(chan map[string]any, 1)
	srv := startGeminiServer(t, func(conn *websocket.Conn, _ *http.Request) {
		var msg map[string]map[string]any
		readJSON(t, conn, &msg)
		got <- msg["setup"]
		writeJSON(t, conn, map[string]any{"setupComplete": map[string]any{}})
		<-conn.CloseRead(context.Background()).Done()
	})

	p := gemini.New("k", gemini.WithBaseURL(wsURL(srv)), gemini.WithTranscription(true))
	h, err := p.Connect(context.Background(), live.SessionConfig{})
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer h.Close()

	setup := <-got
	for _, key := range []string{"inputAudioTranscription", "outputAudioTranscription"} {
		if _, ok := setup[key]; !ok {
			t.Errorf("setup missing %s", key)
		}
	}
}

func TestConnect_DialFailure(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.NotFoundHandler())
	url := wsURL(srv)
	srv.Close()

	_, err := gemini.New("k", gemini.WithBaseURL(url)).Connect(context.Background(), live.SessionConfig{})
	if !errors.Is(err, live.ErrConnection) {
		t.Errorf("err = %v, want ErrConnection", err)
	}
}

func TestConnect_SetupRejected(t *testing.T) {
	t.Parallel()

	srv := startGeminiServer(t, func(conn *websocket.Conn, _ *http.Request) {
		var setup map[string]any
		readJSON(t, conn, &setup)
		writeJSON(t, conn, map[string]any{
			"error": map[string]any{"code": 403, "status": "PERMISSION_DENIED", "message": "API key not valid"},
		})
		<-conn.CloseRead(context.Background()).Done()
	})

	_, err := gemini.New("bad", gemini.WithBaseURL(wsURL(srv))).Connect(context.Background(), live.SessionConfig{})
	if !errors.Is(err, live.ErrConnection) {
		t.Fatalf("err = %v, want ErrConnection", err)
	}
	var remote *live.RemoteError
	if !errors.As(err, &remote) {
		t.Fatalf("err = %v, want *live.RemoteError", err)
	}
	if remote.Code != 403 || remote.Status != "PERMISSION_DENIED" {
		t.Errorf("remote = %+v", remote)
	}
}

func TestConnect_SetupTimeout(t *testing.T) {
	t.Parallel()

	srv := startGeminiServer(t, func(conn *websocket.Conn, _ *http.Request) {
		<-conn.CloseRead(context.Background()).Done()
	})

	p := gemini.New("k", gemini.WithBaseURL(wsURL(srv)), gemini.WithSetupTimeout(100*time.Millisecond))
	start := time.Now()
	_, err := p.Connect(context.Background(), live.SessionConfig{})
	if !errors.Is(err, live.ErrConnection) {
		t.Errorf("err = %v, want ErrConnection", err)
	}
	if time.Since(start) > 2*time.Second {
		t.Error("Connect did not honour the setup timeout")
	}
}

// ── Session ───────────────────────────────────────────────────────────────────

func TestSendRealtimeInput(t *testing.T) {
	t.Parallel()

	type mediaMsg struct {
		RealtimeInput struct {
			MediaChunks []struct {
				MIMEType string `json:"mimeType"`
				Data     string `json:"data"`
			} `json:"mediaChunks"`
		} `json:"realtimeInput"`
	}
	got := make(chan mediaMsg, 1)

	srv := startGeminiServer(t, func(conn *websocket.Conn, _ *http.Request) {
		acceptSetup(t, conn)
		var msg mediaMsg
		readJSON(t, conn, &msg)
		got <- msg
		<-conn.CloseRead(context.Background()).Done()
	})

	h, err := gemini.New("k", gemini.WithBaseURL(wsURL(srv))).Connect(context.Background(), live.SessionConfig{})
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer h.Close()

	if err := h.SendRealtimeInput(context.Background(), live.Media{MIMEType: "audio/pcm;rate=16000", Data: "AAEC"}); err != nil {
		t.Fatalf("SendRealtimeInput: %v", err)
	}

	select {
	case msg := <-got:
		chunks := msg.RealtimeInput.MediaChunks
		if len(chunks) != 1 {
			t.Fatalf("chunks = %d, want 1", len(chunks))
		}
		if chunks[0].MIMEType != "audio/pcm;rate=16000" || chunks[0].Data != "AAEC" {
			t.Errorf("chunk = %+v", chunks[0])
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for media chunk")
	}
}

func TestMessages_AudioAndControl(t *testing.T) {
	t.Parallel()

	srv := startGeminiServer(t, func(conn *websocket.Conn, _ *http.Request) {
		acceptSetup(t, conn)
		writeJSON(t, conn, audioContent("AQID"))
		writeJSON(t, conn, map[string]any{
			"serverContent": map[string]any{
				"modelTurn": map[string]any{
					"parts": []any{
						map[string]any{"text": "thinking"},
						map[string]any{"inlineData": map[string]any{"mimeType": "audio/pcm;rate=24000", "data": "first"}},
						map[string]any{"inlineData": map[string]any{"mimeType": "audio/pcm;rate=24000", "data": "second"}},
					},
				},
			},
		})
		writeJSON(t, conn, map[string]any{"serverContent": map[string]any{"interrupted": true}})
		writeJSON(t, conn, map[string]any{"serverContent": map[string]any{
			"turnComplete":        true,
			"outputTranscription": map[string]any{"text": "Bonjour"},
		}})
		<-conn.CloseRead(context.Background()).Done()
	})

	h, err := gemini.New("k", gemini.WithBaseURL(wsURL(srv))).Connect(context.Background(), live.SessionConfig{})
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer h.Close()

	if msg := nextMessage(t, h); msg.AudioData != "AQID" || msg.AudioMIMEType != "audio/pcm;rate=24000" {
		t.Errorf("audio message = %+v", msg)
	}
	if msg := nextMessage(t, h); msg.AudioData != "first" {
		t.Errorf("AudioData = %q, want the first inline part", msg.AudioData)
	}
	if msg := nextMessage(t, h); !msg.Interrupted || msg.HasAudio() {
		t.Errorf("interrupt message = %+v", msg)
	}
	if msg := nextMessage(t, h); !msg.TurnComplete || msg.OutputTranscript != "Bonjour" {
		t.Errorf("turn complete message = %+v", msg)
	}
}

func TestMessages_MalformedSkipped(t *testing.T) {
	t.Parallel()

	srv := startGeminiServer(t, func(conn *websocket.Conn, _ *http.Request) {
		acceptSetup(t, conn)
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = conn.Write(ctx, websocket.MessageText, []byte("{not json"))
		writeJSON(t, conn, audioContent("AQID"))
		<-conn.CloseRead(context.Background()).Done()
	})

	h, err := gemini.New("k", gemini.WithBaseURL(wsURL(srv))).Connect(context.Background(), live.SessionConfig{})
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer h.Close()

	if msg := nextMessage(t, h); msg.AudioData != "AQID" {
		t.Errorf("AudioData = %q", msg.AudioData)
	}
}

func TestSession_ServerErrorEndsSession(t *testing.T) {
	t.Parallel()

	srv := startGeminiServer(t, func(conn *websocket.Conn, _ *http.Request) {
		acceptSetup(t, conn)
		writeJSON(t, conn, map[string]any{"error": map[string]any{"code": 500, "message": "internal"}})
		<-conn.CloseRead(context.Background()).Done()
	})

	h, err := gemini.New("k", gemini.WithBaseURL(wsURL(srv))).Connect(context.Background(), live.SessionConfig{})
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer h.Close()

	waitClosed(t, h)
	if !errors.Is(h.Err(), live.ErrConnection) {
		t.Errorf("Err = %v, want ErrConnection", h.Err())
	}
}

func TestSession_UnexpectedCloseIsConnectionError(t *testing.T) {
	t.Parallel()

	srv := startGeminiServer(t, func(conn *websocket.Conn, _ *http.Request) {
		acceptSetup(t, conn)
		conn.Close(websocket.StatusGoingAway, "bye")
	})

	h, err := gemini.New("k", gemini.WithBaseURL(wsURL(srv))).Connect(context.Background(), live.SessionConfig{})
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer h.Close()

	waitClosed(t, h)
	if !errors.Is(h.Err(), live.ErrConnection) {
		t.Errorf("Err = %v, want ErrConnection", h.Err())
	}
}

func TestSession_Close(t *testing.T) {
	t.Parallel()

	srv := startGeminiServer(t, func(conn *websocket.Conn, _ *http.Request) {
		acceptSetup(t, conn)
		<-conn.CloseRead(context.Background()).Done()
	})

	h, err := gemini.New("k", gemini.WithBaseURL(wsURL(srv))).Connect(context.Background(), live.SessionConfig{})
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}

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
