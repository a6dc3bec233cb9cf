package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"slices"

	"gopkg.in/yaml.v3"

	"github.com/MrWong99/tutorlive/internal/prompt"
	"github.com/MrWong99/tutorlive/pkg/audio"
	"github.com/MrWong99/tutorlive/pkg/provider/live/gemini"
	ttsgemini "github.com/MrWong99/tutorlive/pkg/provider/tts/gemini"
)

// Defaults applied by [ApplyDefaults].
const (
	DefaultListenAddr = ":8080"
	DefaultLiveName   = "gemini-live"
	GeminiTTSName     = "gemini-tts"
	DefaultVoice      = "Zephyr"
	DefaultSendQueue  = 8
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"live": {"gemini-live", "openai-realtime"},
	"llm":  {"gemini", "openai", "anthropic", "ollama", "deepseek", "mistral", "groq", "llamacpp", "llamafile"},
	"tts":  {GeminiTTSName},
}

// envRef matches ${NAME} references. Bare $NAME is left alone so resource
// text containing dollar signs survives.
var envRef = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// ExpandEnv replaces every ${NAME} in data with the value of the environment
// variable NAME. Unset variables expand to the empty string.
func ExpandEnv(data []byte) []byte {
	return envRef.ReplaceAllFunc(data, func(m []byte) []byte {
		return []byte(os.Getenv(string(envRef.FindSubmatch(m)[1])))
	})
}

// Load reads the YAML configuration file at path and returns a validated
// [Config] with defaults applied. Resource content files are resolved
// relative to the directory of path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	cfg, err := load(data, filepath.Dir(path))
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults and
// validates the result. Content files resolve relative to the working
// directory.
func LoadFromReader(r io.Reader) (*Config, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("config: read: %w", err)
	}
	return load(data, ".")
}

func load(data []byte, baseDir string) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(bytes.NewReader(ExpandEnv(data)))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := resolveContentFiles(cfg, baseDir); err != nil {
		return nil, err
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func resolveContentFiles(cfg *Config, baseDir string) error {
	var errs []error
	for i := range cfg.Teacher.Resources {
		r := &cfg.Teacher.Resources[i]
		if r.ContentFile == "" {
			continue
		}
		if r.Content != "" {
			errs = append(errs, fmt.Errorf("teacher.resources[%d]: content and content_file are mutually exclusive", i))
			continue
		}
		path := r.ContentFile
		if !filepath.IsAbs(path) {
			path = filepath.Join(baseDir, path)
		}
		b, err := os.ReadFile(path)
		if err != nil {
			errs = append(errs, fmt.Errorf("teacher.resources[%d].content_file: %w", i, err))
			continue
		}
		r.Content = string(b)
	}
	return errors.Join(errs...)
}

// ApplyDefaults fills unset fields with their default values.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = DefaultListenAddr
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
	if cfg.Providers.Live.Name == "" {
		cfg.Providers.Live.Name = DefaultLiveName
	}
	if cfg.Providers.Live.Name == DefaultLiveName && cfg.Providers.Live.Model == "" {
		cfg.Providers.Live.Model = gemini.DefaultModel
	}
	if cfg.Providers.TTS.Name == GeminiTTSName && cfg.Providers.TTS.Model == "" {
		cfg.Providers.TTS.Model = ttsgemini.DefaultModel
	}
	if cfg.Audio.FrameSize == 0 {
		cfg.Audio.FrameSize = audio.DefaultFrameSize
	}
	if cfg.Audio.SendQueue == 0 {
		cfg.Audio.SendQueue = DefaultSendQueue
	}
	if cfg.Live.Voice == "" {
		cfg.Live.Voice = DefaultVoice
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if tls := cfg.Server.TLS; tls != nil && (tls.CertFile == "" || tls.KeyFile == "") {
		errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
	}

	validateProviderName("live", cfg.Providers.Live.Name)
	for _, e := range cfg.Providers.LiveFallbacks {
		validateProviderName("live", e.Name)
	}
	validateProviderName("llm", cfg.Providers.LLM.Name)
	for _, e := range cfg.Providers.LLMFallbacks {
		validateProviderName("llm", e.Name)
	}
	validateProviderName("tts", cfg.Providers.TTS.Name)
	for _, e := range cfg.Providers.TTSFallbacks {
		validateProviderName("tts", e.Name)
	}
	for i, e := range cfg.Providers.LiveFallbacks {
		if e.Name == "" {
			errs = append(errs, fmt.Errorf("providers.live_fallbacks[%d].name is required", i))
		}
	}
	for i, e := range cfg.Providers.LLMFallbacks {
		if e.Name == "" {
			errs = append(errs, fmt.Errorf("providers.llm_fallbacks[%d].name is required", i))
		}
	}
	for i, e := range cfg.Providers.TTSFallbacks {
		if e.Name == "" {
			errs = append(errs, fmt.Errorf("providers.tts_fallbacks[%d].name is required", i))
		}
	}
	if cfg.Providers.Live.APIKey == "" {
		slog.Warn("providers.live.api_key is empty; live sessions will fail to connect")
	}
	if cfg.Providers.LLM.Name == "" {
		slog.Warn("providers.llm is not configured; chat mode and document tools are disabled")
	}
	if cfg.Providers.TTS.Name == "" {
		slog.Warn("providers.tts is not configured; read-aloud is disabled")
	}

	if cfg.Audio.FrameSize < 0 {
		errs = append(errs, fmt.Errorf("audio.frame_size %d must be positive", cfg.Audio.FrameSize))
	}
	if cfg.Audio.SendQueue < 0 {
		errs = append(errs, fmt.Errorf("audio.send_queue %d must not be negative", cfg.Audio.SendQueue))
	}

	if cfg.Teacher.Role != "" {
		if _, err := prompt.ParseRole(cfg.Teacher.Role); err != nil {
			errs = append(errs, fmt.Errorf("teacher.role: %w", err))
		}
	}
	ids := make(map[string]int, len(cfg.Teacher.Resources))
	for i, r := range cfg.Teacher.Resources {
		prefix := fmt.Sprintf("teacher.resources[%d]", i)
		if r.Title == "" {
			errs = append(errs, fmt.Errorf("%s.title is required", prefix))
		}
		if r.ID == "" {
			continue
		}
		if prev, ok := ids[r.ID]; ok {
			errs = append(errs, fmt.Errorf("%s.id %q is a duplicate of teacher.resources[%d]", prefix, r.ID, prev))
		}
		ids[r.ID] = i
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok || slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name, may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
