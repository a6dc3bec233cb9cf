// Package app wires the tutorlive subsystems into a running application.
//
// New builds the settings store, the live session manager, the chat service,
// the read-aloud player and the health checks from the config; Handler exposes them over HTTP and
// Shutdown tears everything down.
//
// For testing, inject devices and providers directly and override
// subsystems via functional options.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/MrWong99/tutorlive/internal/chat"
	"github.com/MrWong99/tutorlive/internal/config"
	"github.com/MrWong99/tutorlive/internal/health"
	"github.com/MrWong99/tutorlive/internal/observe"
	"github.com/MrWong99/tutorlive/internal/prompt"
	"github.com/MrWong99/tutorlive/internal/readaloud"
	"github.com/MrWong99/tutorlive/internal/recorder"
	"github.com/MrWong99/tutorlive/internal/session"
	"github.com/MrWong99/tutorlive/pkg/audio"
	"github.com/MrWong99/tutorlive/pkg/provider/live"
	"github.com/MrWong99/tutorlive/pkg/provider/llm"
	"github.com/MrWong99/tutorlive/pkg/provider/tts"
)

// Providers holds one interface value per provider slot. A nil LLM disables
// chat mode and the document tools; a nil TTS disables read-aloud.
type Providers struct {
	Live live.Provider
	LLM  llm.Provider
	TTS  tts.Provider
}

// Devices holds the local audio endpoints.
type Devices struct {
	Microphone audio.Microphone
	Speaker    audio.Speaker
}

// App owns all subsystem lifetimes.
type App struct {
	cfg     *config.Config
	metrics *observe.Metrics
	log     *slog.Logger

	store    *prompt.Store
	sessions *session.Manager
	chat     *chat.Service
	reader   *readaloud.Player
	health   *health.Handler
	handler  http.Handler

	// closers are called in order during Shutdown.
	closers []func() error

	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithStore injects a settings store instead of building one from the
// teacher section of the config.
func WithStore(s *prompt.Store) Option {
	return func(a *App) { a.store = s }
}

// WithMetrics sets the metrics instance. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithLogger sets the logger. Defaults to [slog.Default].
func WithLogger(l *slog.Logger) Option {
	return func(a *App) { a.log = l }
}

// WithCloser registers fn to run during Shutdown after the session stopped.
func WithCloser(fn func() error) Option {
	return func(a *App) { a.closers = append(a.closers, fn) }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App. providers.Live and both devices are required.
func New(cfg *config.Config, providers Providers, devices Devices, opts ...Option) (*App, error) {
	if providers.Live == nil {
		return nil, errors.New("app: live provider is required")
	}
	if devices.Microphone == nil || devices.Speaker == nil {
		return nil, errors.New("app: microphone and speaker are required")
	}

	a := &App{cfg: cfg}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}
	if a.log == nil {
		a.log = slog.Default()
	}

	if a.store == nil {
		settings, err := cfg.Teacher.Settings()
		if err != nil {
			return nil, fmt.Errorf("app: %w", err)
		}
		if a.store, err = prompt.NewStore(settings); err != nil {
			return nil, fmt.Errorf("app: %w", err)
		}
	}

	sessOpts := []session.Option{
		session.WithMetrics(a.metrics),
		session.WithLogger(a.log),
		session.WithFrameSize(cfg.Audio.FrameSize),
		session.WithQueueSize(cfg.Audio.SendQueue),
		session.WithOnError(func(err *session.Error) {
			a.log.Error("live session ended", "kind", err.Kind.String(), "err", err.Err)
		}),
	}
	if dir := cfg.Recording.Dir; dir != "" {
		sessOpts = append(sessOpts, session.WithRecorder(recorder.Factory(dir)))
		a.log.Info("recording live sessions", "dir", dir)
	}
	a.sessions = session.New(devices.Microphone, devices.Speaker, providers.Live, sessOpts...)

	if providers.LLM != nil {
		entry := cfg.Providers.LLM
		a.chat = chat.New(providers.LLM, a.store,
			chat.WithModels(chat.Models{
				Standard: entry.Model,
				Lite:     entry.Option("lite_model"),
				Thinking: entry.Option("thinking_model"),
			}),
			chat.WithMetrics(a.metrics),
			chat.WithLogger(a.log),
		)
	} else {
		a.log.Warn("no LLM provider configured; chat mode disabled")
	}

	if providers.TTS != nil {
		entry := cfg.Providers.TTS
		a.reader = readaloud.New(providers.TTS, devices.Speaker,
			readaloud.WithVoice(tts.VoiceProfile{ID: entry.Option("voice"), Language: entry.Option("language")}),
			readaloud.WithMetrics(a.metrics),
			readaloud.WithLogger(a.log),
		)
		a.closers = append(a.closers, a.reader.Close)
	}

	a.health = health.New(
		health.LiveProvider(cfg.Providers.Live.Name, cfg.Providers.Live.APIKey),
		health.Settings(func() error { return a.store.Get().Validate() }),
	)

	mux := http.NewServeMux()
	a.routes(mux)
	a.health.Register(mux)
	a.handler = observe.Middleware(a.metrics)(mux)

	return a, nil
}

// Handler returns the HTTP handler of the control API.
func (a *App) Handler() http.Handler { return a.handler }

// Store returns the settings store.
func (a *App) Store() *prompt.Store { return a.store }

// Sessions returns the live session manager.
func (a *App) Sessions() *session.Manager { return a.sessions }

// liveConfig builds the session config from the current settings.
func (a *App) liveConfig() session.Config {
	return session.Config{
		Voice:        a.cfg.Live.Voice,
		Instructions: prompt.BuildLiveInstruction(a.store.Get(), a.cfg.Live.OralNote),
	}
}

// ─── Config reload ───────────────────────────────────────────────────────────

// ApplyConfig applies a reloaded config. Teacher settings replace the store
// contents; sections that need a restart are only logged. A running live
// session keeps its instruction until the next start.
func (a *App) ApplyConfig(old, new *config.Config) {
	d := config.Diff(old, new)
	if d.TeacherChanged {
		settings, err := new.Teacher.Settings()
		if err == nil {
			err = a.store.Replace(settings)
		}
		if err != nil {
			a.log.Warn("config reload: teacher settings rejected", "err", err)
		} else {
			a.log.Info("config reload: teacher settings applied", "resources", len(settings.Resources))
		}
	}
	if len(d.RestartRequired) > 0 {
		a.log.Warn("config reload: changes require a restart", "sections", d.RestartRequired)
	}
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown stops the live session and runs the registered closers. If ctx
// expires before all closers finish, the remaining ones are skipped and the
// context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		a.log.Info("shutting down", "closers", len(a.closers))
		a.sessions.Stop()

		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				a.log.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				a.log.Warn("closer error", "index", i, "err", err)
			}
		}
		a.log.Info("shutdown complete")
	})
	return shutdownErr
}
