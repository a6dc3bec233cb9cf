// Package config provides the configuration schema, loader, watcher and
// provider registry for the tutorlive server.
package config

import (
	"fmt"

	"github.com/MrWong99/tutorlive/internal/prompt"
)

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Config is the root configuration structure.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Providers ProvidersConfig `yaml:"providers"`
	Audio     AudioConfig     `yaml:"audio"`
	Live      LiveConfig      `yaml:"live"`
	Teacher   TeacherConfig   `yaml:"teacher"`
	Recording RecordingConfig `yaml:"recording"`
}

// ServerConfig holds network and logging settings for the control API.
type ServerConfig struct {
	// ListenAddr is the TCP address the server listens on (e.g., ":8080").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`

	// TLS configures TLS for the server. When nil, the server runs plain HTTP.
	TLS *TLSConfig `yaml:"tls"`
}

// TLSConfig holds TLS certificate paths for enabling HTTPS.
type TLSConfig struct {
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// ProvidersConfig selects the live voice endpoint, the text model and the
// read-aloud speech synthesizer.
// Fallback entries are tried in order when the primary fails.
type ProvidersConfig struct {
	Live          ProviderEntry   `yaml:"live"`
	LiveFallbacks []ProviderEntry `yaml:"live_fallbacks"`
	LLM           ProviderEntry   `yaml:"llm"`
	LLMFallbacks  []ProviderEntry `yaml:"llm_fallbacks"`
	TTS           ProviderEntry   `yaml:"tts"`
	TTSFallbacks  []ProviderEntry `yaml:"tts_fallbacks"`
}

// ProviderEntry is the common configuration block shared by all provider types.
// The Name field is used to look up the constructor in the [Registry].
type ProviderEntry struct {
	// Name selects the registered provider implementation (e.g., "gemini-live", "gemini").
	Name string `yaml:"name"`

	// APIKey is the authentication key for the provider's API if any.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default API endpoint.
	BaseURL string `yaml:"base_url"`

	// Model selects a specific model within the provider.
	Model string `yaml:"model"`

	// Options holds provider-specific values not covered by the fields above.
	Options map[string]any `yaml:"options"`
}

// Option returns the string option key, or "" when it is absent or not a
// string.
func (e ProviderEntry) Option(key string) string {
	v, _ := e.Options[key].(string)
	return v
}

// AudioConfig configures the local devices and the capture pipeline.
type AudioConfig struct {
	// FrameSize is the number of samples per captured frame.
	FrameSize int `yaml:"frame_size"`

	// InputDevice and OutputDevice select devices by name. Empty means the
	// system default.
	InputDevice  string `yaml:"input_device"`
	OutputDevice string `yaml:"output_device"`

	// SendQueue is the number of encoded frames buffered before the sender.
	SendQueue int `yaml:"send_queue"`
}

// LiveConfig configures the voice session.
type LiveConfig struct {
	// Voice is the prebuilt voice of the model (e.g., "Zephyr").
	Voice string `yaml:"voice"`

	// OralNote replaces the note appended to the system instruction of voice
	// sessions.
	OralNote string `yaml:"oral_note"`
}

// TeacherConfig is the initial pedagogical setup. It can be edited through
// the API and is hot-reloaded when the file changes.
type TeacherConfig struct {
	Role               string           `yaml:"role"`
	ClassLevel         string           `yaml:"class_level"`
	HomeworkHelp       *bool            `yaml:"homework_help"`
	AssessmentHelp     *bool            `yaml:"assessment_help"`
	ActiveChapter      string           `yaml:"active_chapter"`
	CustomInstructions *string          `yaml:"custom_instructions"`
	Resources          []ResourceConfig `yaml:"resources"`
}

// ResourceConfig is one teacher document. Content may be given inline or
// read from ContentFile, resolved relative to the configuration file.
type ResourceConfig struct {
	ID          string `yaml:"id"`
	Title       string `yaml:"title"`
	Chapter     string `yaml:"chapter"`
	Content     string `yaml:"content"`
	ContentFile string `yaml:"content_file"`
}

// RecordingConfig enables WAV capture of the model's audio.
type RecordingConfig struct {
	// Dir receives one file per session. Empty disables recording.
	Dir string `yaml:"dir"`
}

// Settings converts the teacher section into settings for the prompt store.
// Unset fields take the values of [prompt.DefaultSettings]. ContentFile
// entries must already be resolved by the loader.
func (t TeacherConfig) Settings() (prompt.Settings, error) {
	s := prompt.DefaultSettings()
	if t.Role != "" {
		role, err := prompt.ParseRole(t.Role)
		if err != nil {
			return prompt.Settings{}, fmt.Errorf("config: teacher: %w", err)
		}
		s.Role = role
	}
	if t.ClassLevel != "" {
		s.ClassLevel = t.ClassLevel
	}
	if t.HomeworkHelp != nil {
		s.HomeworkHelp = *t.HomeworkHelp
	}
	if t.AssessmentHelp != nil {
		s.AssessmentHelp = *t.AssessmentHelp
	}
	if t.CustomInstructions != nil {
		s.CustomInstructions = *t.CustomInstructions
	}
	s.ActiveChapter = t.ActiveChapter

	s.Resources = make([]prompt.Resource, 0, len(t.Resources))
	for i, r := range t.Resources {
		id := r.ID
		if id == "" {
			id = fmt.Sprintf("cfg-%d", i+1)
		}
		s.Resources = append(s.Resources, prompt.Resource{
			ID:      id,
			Title:   r.Title,
			Chapter: r.Chapter,
			Content: r.Content,
		})
	}
	if err := s.Validate(); err != nil {
		return prompt.Settings{}, fmt.Errorf("config: teacher: %w", err)
	}
	return s, nil
}
