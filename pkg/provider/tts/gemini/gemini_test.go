package gemini

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/tutorlive/pkg/audio"
	"github.com/MrWong99/tutorlive/pkg/provider/tts"
)

// speechServer answers generateContent calls with reply and records the
// decoded request bodies.
type speechServer struct {
	*httptest.Server
	mu       sync.Mutex
	requests []map[string]any
	paths    []string
	keys     []string
}

func newSpeechServer(t *testing.T, status int, reply string) *speechServer {
	t.Helper()
	s := &speechServer{}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		s.mu.Lock()
		s.requests = append(s.requests, body)
		s.paths = append(s.paths, r.URL.Path)
		s.keys = append(s.keys, r.Header.Get("x-goog-api-key"))
		s.mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(reply))
	}))
	t.Cleanup(s.Close)
	return s
}

func (s *speechServer) last(t *testing.T) (path, key string, body map[string]any) {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.requests) == 0 {
		t.Fatal("no request received")
	}
	n := len(s.requests) - 1
	return s.paths[n], s.keys[n], s.requests[n]
}

func audioReply(mimeType string, pcm []byte) string {
	return `{"candidates":[{"content":{"role":"model","parts":[{"inlineData":{"mimeType":"` + mimeType +
		`","data":"` + base64.StdEncoding.EncodeToString(pcm) + `"}}]}}]}`
}

func dig(m map[string]any, keys ...string) any {
	var cur any = m
	for _, k := range keys {
		next, ok := cur.(map[string]any)
		if !ok {
			return nil
		}
		cur = next[k]
	}
	return cur
}

func newTestProvider(t *testing.T, url string, opts ...Option) *Provider {
	t.Helper()
	p, err := New(context.Background(), "test-key", append([]Option{WithBaseURL(url)}, opts...)...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return p
}

func TestSynthesize(t *testing.T) {
	t.Parallel()

	pcm := audio.EncodePCM16(make([]float32, 2400))
	srv := newSpeechServer(t, http.StatusOK, audioReply("audio/L16;codec=pcm;rate=24000", pcm))
	p := newTestProvider(t, srv.URL)

	buf, err := p.Synthesize(context.Background(), "Une fraction est une part d'un tout.", tts.VoiceProfile{})
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if buf.SampleRate != 24000 || buf.Channels != 1 || len(buf.Samples) != 2400 {
		t.Errorf("buffer = %d Hz, %d ch, %d samples", buf.SampleRate, buf.Channels, len(buf.Samples))
	}
	if d := buf.Duration(); d != 100*time.Millisecond {
		t.Errorf("duration = %v, want 100ms", d)
	}

	path, key, body := srv.last(t)
	if !strings.HasSuffix(path, "models/"+DefaultModel+":generateContent") {
		t.Errorf("path = %q", path)
	}
	if key != "test-key" {
		t.Errorf("api key header = %q", key)
	}
	if got := dig(body, "generationConfig", "speechConfig", "voiceConfig", "prebuiltVoiceConfig", "voiceName"); got != DefaultVoice {
		t.Errorf("voice = %v, want %q", got, DefaultVoice)
	}
	mods, _ := dig(body, "generationConfig", "responseModalities").([]any)
	if len(mods) != 1 || mods[0] != "AUDIO" {
		t.Errorf("responseModalities = %v", mods)
	}
}

func TestSynthesize_VoiceAndModel(t *testing.T) {
	t.Parallel()

	srv := newSpeechServer(t, http.StatusOK, audioReply("audio/L16;rate=16000", []byte{0, 0, 0, 0}))
	p := newTestProvider(t, srv.URL, WithModel("custom-tts"), WithVoice("Puck"))

	buf, err := p.Synthesize(context.Background(), "Bonjour", tts.VoiceProfile{ID: "Charon", Language: "fr-FR"})
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if buf.SampleRate != 16000 {
		t.Errorf("sample rate = %d, want rate from MIME type", buf.SampleRate)
	}
	path, _, body := srv.last(t)
	if !strings.HasSuffix(path, "models/custom-tts:generateContent") {
		t.Errorf("path = %q", path)
	}
	if got := dig(body, "generationConfig", "speechConfig", "voiceConfig", "prebuiltVoiceConfig", "voiceName"); got != "Charon" {
		t.Errorf("voice = %v, want request voice", got)
	}
	if got := dig(body, "generationConfig", "speechConfig", "languageCode"); got != "fr-FR" {
		t.Errorf("languageCode = %v", got)
	}
}

func TestSynthesize_Failures(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		status int
		reply  string
		check  func(error) bool
	}{
		{
			name:   "no audio part",
			status: http.StatusOK,
			reply:  `{"candidates":[{"content":{"parts":[{"text":"désolé"}]}}]}`,
			check:  func(err error) bool { return errors.Is(err, tts.ErrNoAudio) },
		},
		{
			name:   "odd byte count",
			status: http.StatusOK,
			reply:  audioReply("audio/L16;rate=24000", []byte{1, 2, 3}),
			check:  func(err error) bool { return errors.Is(err, audio.ErrInvalidFormat) },
		},
		{
			name:   "quota",
			status: http.StatusTooManyRequests,
			reply:  `{"error":{"code":429,"message":"quota exceeded","status":"RESOURCE_EXHAUSTED"}}`,
			check:  func(err error) bool { return err != nil && strings.Contains(err.Error(), "429") },
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			srv := newSpeechServer(t, tt.status, tt.reply)
			p := newTestProvider(t, srv.URL)
			_, err := p.Synthesize(context.Background(), "Bonjour", tts.VoiceProfile{})
			if !tt.check(err) {
				t.Errorf("err = %v", err)
			}
		})
	}
}

func TestSynthesize_EmptyText(t *testing.T) {
	t.Parallel()

	srv := newSpeechServer(t, http.StatusOK, "{}")
	p := newTestProvider(t, srv.URL)
	if _, err := p.Synthesize(context.Background(), "  ", tts.VoiceProfile{}); err == nil {
		t.Fatal("expected error for blank text")
	}
	srv.mu.Lock()
	defer srv.mu.Unlock()
	if len(srv.requests) != 0 {
		t.Errorf("requests = %d, want none", len(srv.requests))
	}
}

func TestNew_RequiresKey(t *testing.T) {
	t.Parallel()

	if _, err := New(context.Background(), ""); err == nil {
		t.Fatal("New without key succeeded")
	}
}

func TestRateOf(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want int
	}{
		{"audio/L16;codec=pcm;rate=24000", 24000},
		{"audio/pcm;rate=16000", 16000},
		{"audio/L16", SampleRate},
		{"", SampleRate},
		{"audio/pcm;rate=abc", SampleRate},
	}
	for _, tt := range tests {
		if got := rateOf(tt.in); got != tt.want {
			t.Errorf("rateOf(%q) = %d, want %d", tt.in, got, tt.want)
		}
	}
}
