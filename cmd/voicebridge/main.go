// Command voicebridge is the browser voice-assistant backend: it relays
// microphone audio over WebSocket, transcribes it, routes the transcript to
// a Salesforce Agentforce agent (with an unconditional chat-completion
// fallback), and streams the synthesized reply back.
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

	"github.com/arven-dev/voicebridge/internal/agentforce"
	"github.com/arven-dev/voicebridge/internal/config"
	"github.com/arven-dev/voicebridge/internal/gateway"
	"github.com/arven-dev/voicebridge/internal/health"
	"github.com/arven-dev/voicebridge/internal/httpapi"
	"github.com/arven-dev/voicebridge/internal/observe"
	"github.com/arven-dev/voicebridge/internal/pipeline"
	"github.com/arven-dev/voicebridge/internal/resilience"
	"github.com/arven-dev/voicebridge/internal/session"
	"github.com/arven-dev/voicebridge/internal/turnlog"
	"github.com/arven-dev/voicebridge/pkg/provider/chat"
	chatanyllm "github.com/arven-dev/voicebridge/pkg/provider/chat/anyllm"
	"github.com/arven-dev/voicebridge/pkg/provider/stt"
	sttopenai "github.com/arven-dev/voicebridge/pkg/provider/stt/openai"
	"github.com/arven-dev/voicebridge/pkg/provider/stt/whisperd"
	"github.com/arven-dev/voicebridge/pkg/provider/tts"
	"github.com/arven-dev/voicebridge/pkg/provider/tts/elevenlabs"
	ttsopenai "github.com/arven-dev/voicebridge/pkg/provider/tts/openai"
)

// defaultSystemPrompt seeds the chat fallback when the config leaves
// pipeline.system_prompt empty. Replies are spoken aloud, so brevity is part
// of the prompt.
const defaultSystemPrompt = "You are a helpful voice assistant. " +
	"Keep replies short and conversational; they will be read aloud."

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "voicebridge: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "voicebridge: %v\n", err)
		}
		return 1
	}

	slog.SetDefault(newLogger(cfg.Server.LogLevel))
	slog.Info("voicebridge starting",
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Observability ─────────────────────────────────────────────────────────
	shutdownTelemetry, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName: "voicebridge",
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		sdCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(sdCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Providers ─────────────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	transcriber, err := reg.CreateSTT(cfg.Providers.STT)
	if err != nil {
		slog.Error("failed to create stt provider", "name", cfg.Providers.STT.Name, "err", err)
		return 1
	}
	slog.Info("provider created", "kind", "stt", "name", cfg.Providers.STT.Name)

	synthesizer, err := reg.CreateTTS(cfg.Providers.TTS)
	if err != nil {
		slog.Error("failed to create tts provider", "name", cfg.Providers.TTS.Name, "err", err)
		return 1
	}
	slog.Info("provider created", "kind", "tts", "name", cfg.Providers.TTS.Name)

	var completer chat.Completer
	if cfg.Providers.Chat.Name != "" {
		completer, err = reg.CreateChat(cfg.Providers.Chat)
		if err != nil {
			slog.Error("failed to create chat provider", "name", cfg.Providers.Chat.Name, "err", err)
			return 1
		}
		slog.Info("provider created", "kind", "chat", "name", cfg.Providers.Chat.Name)
	}

	// ── Virtual agent ─────────────────────────────────────────────────────────
	var agent *agentforce.Client
	if cfg.Agentforce.Complete() {
		agent = agentforce.New(cfg.Agentforce)
		slog.Info("agentforce client configured", "agent_id", cfg.Agentforce.AgentID)
	} else {
		slog.Info("agentforce not configured, all turns use the chat fallback")
	}

	// ── Turn archive (optional) ───────────────────────────────────────────────
	var archive *turnlog.Store
	if dsn := cfg.Archive.PostgresDSN; dsn != "" {
		archive, err = turnlog.Open(ctx, dsn)
		if err != nil {
			slog.Error("failed to open turn archive", "err", err)
			return 1
		}
		defer archive.Close()
		slog.Info("turn archive enabled")
	}

	// ── Pipeline wiring ───────────────────────────────────────────────────────
	deps := pipeline.Deps{
		STT:      transcriber,
		TTS:      synthesizer,
		Chat:     completer,
		Breaker:  resilience.New(resilience.Config{Name: "agentforce"}),
		Sessions: session.NewRegistry(),
		Metrics:  observe.DefaultMetrics(),

		SystemPrompt:    cfg.Pipeline.SystemPrompt,
		MaxHistoryTurns: cfg.Pipeline.MaxHistoryTurns,
	}
	if deps.SystemPrompt == "" {
		deps.SystemPrompt = defaultSystemPrompt
	}
	if agent != nil {
		deps.Agent = agent
	}
	if archive != nil {
		deps.Archive = archive
	}
	if cfg.Pipeline.Classifier == config.ClassifierRMS {
		deps.NewClassifier = func() pipeline.SpeechActivityClassifier {
			return &pipeline.RMSClassifier{}
		}
	}

	// ── HTTP server ───────────────────────────────────────────────────────────
	checkers := []health.Checker{
		{Name: "providers", Check: func(context.Context) error {
			if completer == nil && agent == nil {
				return errors.New("no response backend available")
			}
			return nil
		}},
	}
	if archive != nil {
		checkers = append(checkers, health.Checker{Name: "turnlog", Check: archive.Ping})
	}

	handler := httpapi.NewHandler(httpapi.Deps{
		Gateway: gateway.NewServer(deps),
		Agent:   agent,
		Health:  health.New(checkers...),
		Metrics: deps.Metrics,
	})

	addr := cfg.Server.ListenAddr
	if addr == "" {
		addr = ":8742"
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("server ready", "addr", addr, "tls", cfg.Server.TLS != nil)
		var err error
		if tls := cfg.Server.TLS; tls != nil {
			err = srv.ListenAndServeTLS(tls.CertFile, tls.KeyFile)
		} else {
			err = srv.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutdown signal received, stopping")
		sdCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return srv.Shutdown(sdCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("server error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// registerBuiltinProviders wires all shipped provider factories into reg.
func registerBuiltinProviders(reg *config.Registry) {
	// ── STT ───────────────────────────────────────────────────────────────────

	reg.RegisterSTT("openai", func(entry config.ProviderEntry) (stt.Transcriber, error) {
		var opts []sttopenai.Option
		if entry.Model != "" {
			opts = append(opts, sttopenai.WithModel(entry.Model))
		}
		if entry.BaseURL != "" {
			opts = append(opts, sttopenai.WithBaseURL(entry.BaseURL))
		}
		if lang := entry.Option("language"); lang != "" {
			opts = append(opts, sttopenai.WithLanguage(lang))
		}
		t, err := sttopenai.New(entry.APIKey, opts...)
		return t, err
	})

	reg.RegisterSTT("whisperd", func(entry config.ProviderEntry) (stt.Transcriber, error) {
		var opts []whisperd.Option
		if lang := entry.Option("language"); lang != "" {
			opts = append(opts, whisperd.WithLanguage(lang))
		}
		t, err := whisperd.New(entry.BaseURL, opts...)
		return t, err
	})

	// ── TTS ───────────────────────────────────────────────────────────────────

	reg.RegisterTTS("openai", func(entry config.ProviderEntry) (tts.Synthesizer, error) {
		var opts []ttsopenai.Option
		if entry.Model != "" {
			opts = append(opts, ttsopenai.WithModel(entry.Model))
		}
		if entry.BaseURL != "" {
			opts = append(opts, ttsopenai.WithBaseURL(entry.BaseURL))
		}
		if voice := entry.Option("voice"); voice != "" {
			opts = append(opts, ttsopenai.WithVoice(voice))
		}
		s, err := ttsopenai.New(entry.APIKey, opts...)
		return s, err
	})

	reg.RegisterTTS("elevenlabs", func(entry config.ProviderEntry) (tts.Synthesizer, error) {
		var opts []elevenlabs.Option
		if entry.Model != "" {
			opts = append(opts, elevenlabs.WithModel(entry.Model))
		}
		if format := entry.Option("output_format"); format != "" {
			opts = append(opts, elevenlabs.WithOutputFormat(format))
		}
		s, err := elevenlabs.New(entry.APIKey, entry.Option("voice"), opts...)
		return s, err
	})

	// ── Chat ──────────────────────────────────────────────────────────────────
	// All any-llm-go backends share the pattern: optional APIKey + BaseURL.

	for _, providerName := range []string{
		"openai", "anthropic", "gemini", "ollama",
		"deepseek", "mistral", "groq", "llamacpp", "llamafile",
	} {
		reg.RegisterChat(providerName, func(entry config.ProviderEntry) (chat.Completer, error) {
			var libOpts []anyllmlib.Option
			if entry.APIKey != "" {
				libOpts = append(libOpts, anyllmlib.WithAPIKey(entry.APIKey))
			}
			if entry.BaseURL != "" {
				libOpts = append(libOpts, anyllmlib.WithBaseURL(entry.BaseURL))
			}
			c, err := chatanyllm.New(providerName, entry.Model, libOpts)
			return c, err
		})
	}
}

func newLogger(level config.LogLevel) *slog.Logger {
	var lvl slog.Level
	switch level {
	case config.LogDebug:
		lvl = slog.LevelDebug
	case config.LogWarn:
		lvl = slog.LevelWarn
	case config.LogError:
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
