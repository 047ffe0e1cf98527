// Command sorivox is the main entry point for the Sorivox sentence
// evaluation server.
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
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/MrWong99/sorivox/internal/config"
	"github.com/MrWong99/sorivox/internal/eval"
	"github.com/MrWong99/sorivox/internal/health"
	"github.com/MrWong99/sorivox/internal/observe"
	"github.com/MrWong99/sorivox/internal/resilience"
	"github.com/MrWong99/sorivox/internal/server"
	"github.com/MrWong99/sorivox/pkg/provider/grammar"
	grammarllm "github.com/MrWong99/sorivox/pkg/provider/grammar/llm"
	"github.com/MrWong99/sorivox/pkg/provider/pronunciation"
	"github.com/MrWong99/sorivox/pkg/provider/pronunciation/realtime"
	"github.com/MrWong99/sorivox/pkg/provider/stt"
	sttopenai "github.com/MrWong99/sorivox/pkg/provider/stt/openai"
	"github.com/MrWong99/sorivox/pkg/provider/stt/whisper"
)

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	// ── Configuration watcher ─────────────────────────────────────────────────
	logLevel := new(slog.LevelVar)

	watcher, err := config.NewWatcher(*configPath, func(old, new *config.Config) {
		d := config.Diff(old, new)
		if d.LogLevelChanged {
			logLevel.Set(slogLevel(d.NewLogLevel))
			slog.Info("log level changed", "level", d.NewLogLevel)
		}
		if len(d.ProvidersChanged) > 0 {
			slog.Warn("provider configuration changed; restart to apply", "kinds", d.ProvidersChanged)
		}
	})
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "sorivox: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "sorivox: %v\n", err)
		}
		return 1
	}
	defer watcher.Stop()
	cfg := watcher.Current()

	// ── Logger ────────────────────────────────────────────────────────────────
	logLevel.Set(slogLevel(cfg.Server.LogLevel))
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})))

	slog.Info("sorivox starting",
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceName: "sorivox"})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(shutdownCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Provider registry ─────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	sttProvider, analyzer, reviewer, err := buildProviders(cfg, reg)
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return 1
	}

	// ── Orchestrator ──────────────────────────────────────────────────────────
	evalOpts := []eval.Option{}
	if analyzer != nil {
		evalOpts = append(evalOpts, eval.WithPronunciation(analyzer))
	}
	if reviewer != nil {
		evalOpts = append(evalOpts, eval.WithGrammar(reviewer))
	}
	if d := cfg.Evaluation.PronunciationTimeout.Std(); d > 0 {
		evalOpts = append(evalOpts, eval.WithPronunciationTimeout(d))
	}
	if d := cfg.Evaluation.GrammarTimeout.Std(); d > 0 {
		evalOpts = append(evalOpts, eval.WithGrammarTimeout(d))
	}
	orchestrator, err := eval.New(sttProvider, evalOpts...)
	if err != nil {
		slog.Error("failed to build orchestrator", "err", err)
		return 1
	}

	// ── HTTP surface ──────────────────────────────────────────────────────────
	serverOpts := []server.Option{}
	if cfg.Evaluation.MaxAudioBytes > 0 {
		serverOpts = append(serverOpts, server.WithMaxAudioBytes(int64(cfg.Evaluation.MaxAudioBytes)))
	}
	if cfg.Evaluation.DefaultLocale != "" {
		serverOpts = append(serverOpts, server.WithDefaultLocale(cfg.Evaluation.DefaultLocale))
	}
	api, err := server.New(orchestrator, serverOpts...)
	if err != nil {
		slog.Error("failed to build server", "err", err)
		return 1
	}

	mux := http.NewServeMux()
	api.Register(mux)
	healthHandler(cfg).Register(mux)
	mux.Handle("GET /metrics", promhttp.Handler())

	handler := observe.Middleware(observe.DefaultMetrics())(mux)

	addr := cfg.Server.ListenAddr
	if addr == "" {
		addr = ":8080"
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	printStartupSummary(cfg, addr)

	errCh := make(chan error, 1)
	go func() {
		if cfg.Server.TLS != nil {
			errCh <- srv.ListenAndServeTLS(cfg.Server.TLS.CertFile, cfg.Server.TLS.KeyFile)
		} else {
			errCh <- srv.ListenAndServe()
		}
	}()

	slog.Info("server ready — press Ctrl+C to shut down", "addr", addr)

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server error", "err", err)
			return 1
		}
	case <-ctx.Done():
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	slog.Info("shutdown signal received, stopping…")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// ── Provider wiring ───────────────────────────────────────────────────────────

// grammarBackends lists the any-llm backends accepted under providers.grammar.
var grammarBackends = []string{
	"openai", "anthropic", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile",
}

// registerBuiltinProviders wires all built-in provider factories into reg.
// Each factory receives a config.ProviderEntry and constructs the appropriate
// provider from the real implementation packages.
func registerBuiltinProviders(reg *config.Registry) {
	// ── STT ───────────────────────────────────────────────────────────────────

	reg.RegisterSTT("whisper", func(entry config.ProviderEntry) (stt.Provider, error) {
		var opts []whisper.Option
		if entry.Model != "" {
			opts = append(opts, whisper.WithModel(entry.Model))
		}
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, whisper.WithLanguage(lang))
		}
		return whisper.New(entry.BaseURL, opts...)
	})

	reg.RegisterSTT("openai", func(entry config.ProviderEntry) (stt.Provider, error) {
		var opts []sttopenai.Option
		if entry.BaseURL != "" {
			opts = append(opts, sttopenai.WithBaseURL(entry.BaseURL))
		}
		return sttopenai.New(entry.APIKey, entry.Model, opts...)
	})

	// ── Grammar ───────────────────────────────────────────────────────────────
	// The cloud backends share the same pattern: optional APIKey + BaseURL.
	for _, providerName := range grammarBackends {
		reg.RegisterGrammar(providerName, func(entry config.ProviderEntry) (grammar.Reviewer, error) {
			var opts []anyllmlib.Option
			if entry.APIKey != "" {
				opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
			}
			if entry.BaseURL != "" {
				opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
			}
			return grammarllm.New(providerName, entry.Model, opts...)
		})
	}

	// ollama is a local server; it uses BaseURL for the address, not an API key.
	reg.RegisterGrammar("ollama", func(entry config.ProviderEntry) (grammar.Reviewer, error) {
		var opts []anyllmlib.Option
		if entry.BaseURL != "" {
			opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
		}
		return grammarllm.New("ollama", entry.Model, opts...)
	})

	// ── Pronunciation ─────────────────────────────────────────────────────────

	reg.RegisterPronunciation("openai-realtime", func(entry config.ProviderEntry) (pronunciation.Analyzer, error) {
		var opts []realtime.Option
		if entry.Model != "" {
			opts = append(opts, realtime.WithModel(entry.Model))
		}
		if entry.BaseURL != "" {
			opts = append(opts, realtime.WithBaseURL(entry.BaseURL))
		}
		return realtime.New(entry.APIKey, opts...), nil
	})
}

// buildProviders instantiates the providers named in cfg. STT is required;
// the critique providers are optional and come back nil when unconfigured.
func buildProviders(cfg *config.Config, reg *config.Registry) (stt.Provider, pronunciation.Analyzer, grammar.Reviewer, error) {
	sttProvider, err := reg.CreateSTT(cfg.Providers.STT)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("create stt provider %q: %w", cfg.Providers.STT.Name, err)
	}
	slog.Info("provider created", "kind", "stt", "name", cfg.Providers.STT.Name)

	if name := cfg.Providers.STTFallback.Name; name != "" {
		secondary, err := reg.CreateSTT(cfg.Providers.STTFallback)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("create stt fallback provider %q: %w", name, err)
		}
		group := resilience.NewSTTFallback(sttProvider, cfg.Providers.STT.Name, resilience.FallbackConfig{})
		group.AddFallback(name, secondary)
		sttProvider = group
		slog.Info("provider created", "kind", "stt_fallback", "name", name)
	}

	var analyzer pronunciation.Analyzer
	if name := cfg.Providers.Pronunciation.Name; name != "" {
		analyzer, err = reg.CreatePronunciation(cfg.Providers.Pronunciation)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("create pronunciation provider %q: %w", name, err)
		}
		slog.Info("provider created", "kind", "pronunciation", "name", name)
	}

	var reviewer grammar.Reviewer
	if name := cfg.Providers.Grammar.Name; name != "" {
		reviewer, err = reg.CreateGrammar(cfg.Providers.Grammar)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("create grammar provider %q: %w", name, err)
		}
		slog.Info("provider created", "kind", "grammar", "name", name)
	}

	return sttProvider, analyzer, reviewer, nil
}

// healthHandler builds readiness checks for the configured upstreams.
func healthHandler(cfg *config.Config) *health.Handler {
	var checkers []health.Checker
	if cfg.Providers.STT.Name == "whisper" && cfg.Providers.STT.BaseURL != "" {
		checkers = append(checkers, health.ProbeURL("stt", cfg.Providers.STT.BaseURL, nil))
	}
	return health.New(checkers...)
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config, addr string) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║         Sorivox — startup summary     ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printProvider("STT", cfg.Providers.STT.Name, cfg.Providers.STT.Model)
	printProvider("STT fallback", cfg.Providers.STTFallback.Name, cfg.Providers.STTFallback.Model)
	printProvider("Grammar", cfg.Providers.Grammar.Name, cfg.Providers.Grammar.Model)
	printProvider("Pronunciation", cfg.Providers.Pronunciation.Name, cfg.Providers.Pronunciation.Model)
	locale := cfg.Evaluation.DefaultLocale
	if locale == "" {
		locale = eval.DefaultLocale
	}
	fmt.Printf("║  Default locale  : %-19s║\n", locale)
	fmt.Printf("║  Listen addr     : %-19s║\n", addr)
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printProvider(kind, name, model string) {
	value := name
	if value == "" {
		value = "(not configured)"
	} else if model != "" {
		value = name + " / " + model
	}
	if len(value) > 19 {
		value = value[:16] + "…"
	}
	fmt.Printf("║  %-15s : %-19s║\n", kind, value)
}

// ── Helpers ───────────────────────────────────────────────────────────────────

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

// optString extracts a string value from a provider Options map[string]any.
// Returns "" if the map is nil, the key is absent, or the value is not a string.
func optString(opts map[string]any, key string) string {
	if opts == nil {
		return ""
	}
	v, ok := opts[key]
	if !ok {
		return ""
	}
	s, ok := v.(string)
	if !ok {
		return ""
	}
	return s
}
