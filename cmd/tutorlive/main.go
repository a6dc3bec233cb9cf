// Command tutorlive is the entry point of the virtual-teacher server: a live
// voice tutor on the local microphone and speaker plus an HTTP control API.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	anyllmlib "github.com/mozilla-ai/any-llm-go"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/tutorlive/internal/app"
	"github.com/MrWong99/tutorlive/internal/config"
	"github.com/MrWong99/tutorlive/internal/observe"
	"github.com/MrWong99/tutorlive/internal/resilience"
	"github.com/MrWong99/tutorlive/pkg/audio/portaudio"
	"github.com/MrWong99/tutorlive/pkg/provider/live"
	"github.com/MrWong99/tutorlive/pkg/provider/live/gemini"
	"github.com/MrWong99/tutorlive/pkg/provider/live/openai"
	"github.com/MrWong99/tutorlive/pkg/provider/llm"
	"github.com/MrWong99/tutorlive/pkg/provider/llm/anyllm"
	"github.com/MrWong99/tutorlive/pkg/provider/tts"
	ttsgemini "github.com/MrWong99/tutorlive/pkg/provider/tts/gemini"
)

// version is set with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	watch := flag.Bool("watch", true, "reload teacher settings when the configuration file changes")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "tutorlive: config file %q not found, copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "tutorlive: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	logger, level := newLogger(cfg.Server.LogLevel)
	slog.SetDefault(logger)

	slog.Info("tutorlive starting",
		"version", version,
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	shutdownOTel, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceVersion: version})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	metrics := observe.DefaultMetrics()

	// ── Providers ─────────────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	providers, err := buildProviders(cfg, reg)
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return 1
	}

	devices := app.Devices{
		Microphone: portaudio.NewMicrophone(portaudio.WithDevice(cfg.Audio.InputDevice)),
		Speaker:    portaudio.NewSpeaker(portaudio.WithDevice(cfg.Audio.OutputDevice)),
	}

	printStartupSummary(cfg)

	application, err := app.New(cfg, providers, devices,
		app.WithMetrics(metrics),
		app.WithCloser(func() error {
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return shutdownOTel(sctx)
		}),
	)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	// ── HTTP server ───────────────────────────────────────────────────────────
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", observe.MetricsHandler())
	mux.Handle("/", application.Handler())
	srv := &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		if tls := cfg.Server.TLS; tls != nil {
			err = srv.ListenAndServeTLS(tls.CertFile, tls.KeyFile)
		} else {
			err = srv.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http server: %w", err)
	})
	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(sctx)
	})

	if *watch {
		w, err := config.NewWatcher(*configPath, func(old, new *config.Config) {
			if d := config.Diff(old, new); d.LogLevelChanged {
				level.Set(slogLevel(d.NewLogLevel))
				slog.Info("log level changed", "level", d.NewLogLevel)
			}
			application.ApplyConfig(old, new)
		})
		if err != nil {
			slog.Warn("config watcher disabled", "err", err)
		} else {
			g.Go(func() error { return w.Run(gctx) })
		}
	}

	slog.Info("server ready, press Ctrl+C to shut down")

	runErr := g.Wait()
	if runErr != nil {
		slog.Error("run error", "err", runErr)
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	slog.Info("shutdown signal received, stopping…")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	if runErr != nil {
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// ── Provider wiring ───────────────────────────────────────────────────────────

// registerBuiltinProviders wires the built-in provider factories into reg.
func registerBuiltinProviders(reg *config.Registry) {
	reg.RegisterLive("gemini-live", func(entry config.ProviderEntry) (live.Provider, error) {
		var opts []gemini.Option
		if entry.Model != "" {
			opts = append(opts, gemini.WithModel(entry.Model))
		}
		if entry.BaseURL != "" {
			opts = append(opts, gemini.WithBaseURL(entry.BaseURL))
		}
		if on, ok := entry.Options["transcription"].(bool); ok {
			opts = append(opts, gemini.WithTranscription(on))
		}
		return gemini.New(entry.APIKey, opts...), nil
	})

	reg.RegisterLive("openai-realtime", func(entry config.ProviderEntry) (live.Provider, error) {
		opts := []openai.Option{
			openai.WithModel(entry.Model),
			openai.WithBaseURL(entry.BaseURL),
			openai.WithVoice(entry.Option("voice")),
		}
		if on, ok := entry.Options["transcription"].(bool); ok {
			opts = append(opts, openai.WithTranscription(on))
		}
		return openai.New(entry.APIKey, opts...), nil
	})

	reg.RegisterTTS(config.GeminiTTSName, func(entry config.ProviderEntry) (tts.Provider, error) {
		var opts []ttsgemini.Option
		if entry.Model != "" {
			opts = append(opts, ttsgemini.WithModel(entry.Model))
		}
		if entry.BaseURL != "" {
			opts = append(opts, ttsgemini.WithBaseURL(entry.BaseURL))
		}
		if v := entry.Option("voice"); v != "" {
			opts = append(opts, ttsgemini.WithVoice(v))
		}
		return ttsgemini.New(context.Background(), entry.APIKey, opts...)
	})

	// Every any-llm backend shares the same pattern: optional APIKey and
	// optional BaseURL. ollama and the llama.cpp servers are local and
	// ignore the key.
	for _, name := range anyllm.Supported() {
		reg.RegisterLLM(name, func(entry config.ProviderEntry) (llm.Provider, error) {
			var opts []anyllmlib.Option
			if entry.APIKey != "" {
				opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
			}
			if entry.BaseURL != "" {
				opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
			}
			return anyllm.New(name, entry.Model, opts...)
		})
	}
}

// buildProviders creates the configured providers and wraps those with
// fallbacks in a circuit-breaking failover group.
func buildProviders(cfg *config.Config, reg *config.Registry) (app.Providers, error) {
	var ps app.Providers
	fcfg := resilience.FallbackConfig{
		OnFailover: func(name string, err error) {
			slog.Warn("provider failed, trying next", "provider", name, "err", err)
		},
	}

	primary, err := reg.CreateLive(cfg.Providers.Live)
	if err != nil {
		return ps, fmt.Errorf("create live provider %q: %w", cfg.Providers.Live.Name, err)
	}
	ps.Live = primary
	slog.Info("provider created", "kind", "live", "name", cfg.Providers.Live.Name, "model", cfg.Providers.Live.Model)
	if len(cfg.Providers.LiveFallbacks) > 0 {
		group := resilience.NewLiveFallback(primary, cfg.Providers.Live.Name, fcfg)
		for _, e := range cfg.Providers.LiveFallbacks {
			p, err := reg.CreateLive(e)
			if err != nil {
				return ps, fmt.Errorf("create live fallback %q: %w", e.Name, err)
			}
			group.AddFallback(e.Name, p)
		}
		ps.Live = group
	}

	if name := cfg.Providers.LLM.Name; name != "" {
		p, err := reg.CreateLLM(cfg.Providers.LLM)
		if err != nil {
			return ps, fmt.Errorf("create llm provider %q: %w", name, err)
		}
		slog.Info("provider created", "kind", "llm", "name", name, "model", p.Model())
		ps.LLM = p
		if len(cfg.Providers.LLMFallbacks) > 0 {
			group := resilience.NewLLMFallback(p, name, fcfg)
			for _, e := range cfg.Providers.LLMFallbacks {
				fp, err := reg.CreateLLM(e)
				if err != nil {
					return ps, fmt.Errorf("create llm fallback %q: %w", e.Name, err)
				}
				group.AddFallback(e.Name, fp)
			}
			ps.LLM = group
		}
	}

	if name := cfg.Providers.TTS.Name; name != "" {
		p, err := reg.CreateTTS(cfg.Providers.TTS)
		if err != nil {
			return ps, fmt.Errorf("create tts provider %q: %w", name, err)
		}
		slog.Info("provider created", "kind", "tts", "name", name, "model", cfg.Providers.TTS.Model)
		ps.TTS = p
		if len(cfg.Providers.TTSFallbacks) > 0 {
			group := resilience.NewTTSFallback(p, name, fcfg)
			for _, e := range cfg.Providers.TTSFallbacks {
				fp, err := reg.CreateTTS(e)
				if err != nil {
					return ps, fmt.Errorf("create tts fallback %q: %w", e.Name, err)
				}
				group.AddFallback(e.Name, fp)
			}
			ps.TTS = group
		}
	}

	return ps, nil
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║        tutorlive, startup summary     ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printRow("Live", providerLabel(cfg.Providers.Live))
	printRow("Live fallbacks", fmt.Sprint(len(cfg.Providers.LiveFallbacks)))
	printRow("LLM", providerLabel(cfg.Providers.LLM))
	printRow("Read-aloud", providerLabel(cfg.Providers.TTS))
	printRow("Voice", cfg.Live.Voice)
	printRow("Resources", fmt.Sprint(len(cfg.Teacher.Resources)))
	if cfg.Recording.Dir != "" {
		printRow("Recording", cfg.Recording.Dir)
	} else {
		printRow("Recording", "(disabled)")
	}
	printRow("Listen addr", cfg.Server.ListenAddr)
	fmt.Println("╚═══════════════════════════════════════╝")
}

func providerLabel(e config.ProviderEntry) string {
	if e.Name == "" {
		return "(not configured)"
	}
	if e.Model != "" {
		return e.Name + " / " + e.Model
	}
	return e.Name
}

func printRow(label, value string) {
	if len([]rune(value)) > 19 {
		value = string([]rune(value)[:18]) + "…"
	}
	fmt.Printf("║  %-14s  : %-19s ║\n", label, value)
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func slogLevel(level config.LogLevel) slog.Level {
	switch level {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// newLogger returns a text logger on stderr whose level can be changed at
// runtime through the returned LevelVar.
func newLogger(level config.LogLevel) (*slog.Logger, *slog.LevelVar) {
	lv := new(slog.LevelVar)
	lv.Set(slogLevel(level))
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lv})), lv
}
