// Package gemini implements [tts.Provider] with the Gemini speech generation
// models through google.golang.org/genai.
//
// The model answers a generateContent call with a single inline audio part
// holding raw little-endian PCM16, mono, at the rate named in its MIME type
// (24 kHz for the current preview models).
package gemini

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"strconv"
	"strings"

	"google.golang.org/genai"

	"github.com/MrWong99/tutorlive/pkg/audio"
	"github.com/MrWong99/tutorlive/pkg/provider/tts"
)

const (
	// DefaultModel is the speech model used when none is configured.
	DefaultModel = "gemini-2.5-flash-preview-tts"

	// DefaultVoice is the prebuilt voice used for empty voice IDs.
	DefaultVoice = "Kore"

	// SampleRate is assumed when the response MIME type names no rate.
	SampleRate = audio.OutputSampleRate
)

var _ tts.Provider = (*Provider)(nil)

// Option is a functional option for [New].
type Option func(*Provider)

// WithModel overrides [DefaultModel].
func WithModel(model string) Option {
	return func(p *Provider) {
		if model != "" {
			p.model = model
		}
	}
}

// WithVoice overrides [DefaultVoice].
func WithVoice(voice string) Option {
	return func(p *Provider) {
		if voice != "" {
			p.voice = voice
		}
	}
}

// WithBaseURL points the client at another endpoint. Used by tests.
func WithBaseURL(u string) Option {
	return func(p *Provider) { p.baseURL = u }
}

// Provider synthesises speech with a Gemini TTS model.
type Provider struct {
	client  *genai.Client
	model   string
	voice   string
	baseURL string
}

// New creates a Provider authenticated with apiKey.
func New(ctx context.Context, apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("gemini tts: api key must not be empty")
	}
	p := &Provider{model: DefaultModel, voice: DefaultVoice}
	for _, o := range opts {
		o(p)
	}

	cc := &genai.ClientConfig{APIKey: apiKey, Backend: genai.BackendGeminiAPI}
	if p.baseURL != "" {
		cc.HTTPOptions.BaseURL = p.baseURL
	}
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("gemini tts: create client: %w", err)
	}
	p.client = client
	return p, nil
}

// Model returns the configured speech model.
func (p *Provider) Model() string { return p.model }

// Synthesize implements [tts.Provider].
func (p *Provider) Synthesize(ctx context.Context, text string, voice tts.VoiceProfile) (audio.PlaybackBuffer, error) {
	if strings.TrimSpace(text) == "" {
		return audio.PlaybackBuffer{}, errors.New("gemini tts: text must not be empty")
	}
	name := voice.ID
	if name == "" {
		name = p.voice
	}

	resp, err := p.client.Models.GenerateContent(ctx, p.model, genai.Text(text), &genai.GenerateContentConfig{
		ResponseModalities: []string{string(genai.ModalityAudio)},
		SpeechConfig: &genai.SpeechConfig{
			LanguageCode: voice.Language,
			VoiceConfig: &genai.VoiceConfig{
				PrebuiltVoiceConfig: &genai.PrebuiltVoiceConfig{VoiceName: name},
			},
		},
	})
	if err != nil {
		return audio.PlaybackBuffer{}, fmt.Errorf("gemini tts: generate: %w", err)
	}

	blob := firstAudio(resp)
	if blob == nil || len(blob.Data) == 0 {
		return audio.PlaybackBuffer{}, tts.ErrNoAudio
	}
	buf, err := audio.DecodePCM16(blob.Data, rateOf(blob.MIMEType), 1)
	if err != nil {
		return audio.PlaybackBuffer{}, fmt.Errorf("gemini tts: decode: %w", err)
	}
	return buf, nil
}

func firstAudio(resp *genai.GenerateContentResponse) *genai.Blob {
	if resp == nil {
		return nil
	}
	for _, c := range resp.Candidates {
		if c == nil || c.Content == nil {
			continue
		}
		for _, part := range c.Content.Parts {
			if part != nil && part.InlineData != nil {
				return part.InlineData
			}
		}
	}
	return nil
}

// rateOf reads the rate parameter of e.g. "audio/L16;codec=pcm;rate=24000".
func rateOf(mimeType string) int {
	_, params, err := mime.ParseMediaType(mimeType)
	if err != nil {
		return SampleRate
	}
	if r, err := strconv.Atoi(params["rate"]); err == nil && r > 0 {
		return r
	}
	return SampleRate
}
