// Command jack is the main entry point for Jack, the WhatsApp electronic
// invoicing assistant server.
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

	"github.com/tinred-labs/jack/internal/audio"
	"github.com/tinred-labs/jack/internal/audio/mock"
	"github.com/tinred-labs/jack/internal/audio/whisper"
	"github.com/tinred-labs/jack/internal/audit"
	"github.com/tinred-labs/jack/internal/config"
	"github.com/tinred-labs/jack/internal/health"
	"github.com/tinred-labs/jack/internal/httpapi"
	"github.com/tinred-labs/jack/internal/issuing"
	"github.com/tinred-labs/jack/internal/llmreply"
	"github.com/tinred-labs/jack/internal/llmreply/anyllm"
	"github.com/tinred-labs/jack/internal/llmreply/fallback"
	"github.com/tinred-labs/jack/internal/llmreply/openai"
	"github.com/tinred-labs/jack/internal/observe"
	"github.com/tinred-labs/jack/internal/orchestrator"
	"github.com/tinred-labs/jack/internal/session"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "jack: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "jack: %v\n", err)
		}
		return 1
	}

	logger := newLogger(cfg.Server.LogLevel)
	slog.SetDefault(logger)

	logger.Info("jack starting",
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var closers []func() error

	shutdownTelemetry, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceName: "jack"})
	if err != nil {
		logger.Error("failed to init telemetry", "error", err)
		return 1
	}
	closers = append(closers, func() error { return shutdownTelemetry(context.Background()) })

	metrics := observe.DefaultMetrics()

	issuer := issuing.New(cfg.Issuing.BaseURL)

	store := session.NewStore(issuer, logger, session.Config{
		SessionTTL:     cfg.Session.TTL,
		ContextRefresh: cfg.Session.ContextRefresh,
		MaxHistory:     cfg.Session.MaxHistory,
	}, session.WithMetrics(metrics))

	transcriber, closeTranscriber, err := buildTranscriber(cfg.Audio, logger)
	if err != nil {
		logger.Error("failed to build audio transcriber", "error", err)
		return 1
	}
	if closeTranscriber != nil {
		closers = append(closers, closeTranscriber)
	}

	llm, err := buildLLM(cfg.LLM)
	if err != nil {
		logger.Error("failed to build llm provider", "error", err)
		return 1
	}

	var auditSink *audit.Sink
	if cfg.Audit.PostgresDSN != "" {
		auditSink, err = audit.NewSink(ctx, cfg.Audit.PostgresDSN)
		if err != nil {
			logger.Error("failed to init audit sink", "error", err)
			return 1
		}
		closers = append(closers, func() error { auditSink.Close(); return nil })
	}

	orchOpts := []orchestrator.Option{orchestrator.WithMetrics(metrics)}
	if transcriber != nil {
		orchOpts = append(orchOpts, orchestrator.WithTranscriber(transcriber))
	}
	if llm != nil {
		orchOpts = append(orchOpts, orchestrator.WithLLM(llm))
	}
	if auditSink != nil {
		orchOpts = append(orchOpts, orchestrator.WithAudit(auditSink))
	}
	orch := orchestrator.New(store, issuer, logger, orchOpts...)

	mux := http.NewServeMux()
	httpapi.New(orch, logger, metrics).Register(mux)
	health.New(health.Checker{
		Name: "issuing",
		Check: func(ctx context.Context) error {
			_, err := issuer.Identify(ctx, "0")
			if err != nil && errors.Is(err, issuing.ErrTransientNetwork) {
				return err
			}
			return nil // any recognisable response, even a not-found, means the dependency is reachable
		},
	}).Register(mux)
	mux.Handle("GET /metrics", promhttp.Handler())

	server := &http.Server{
		Addr:    cfg.Server.ListenAddr,
		Handler: observe.Middleware(metrics)(mux),
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("server ready — press Ctrl+C to shut down", "listen_addr", cfg.Server.ListenAddr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
			return
		}
		serverErr <- nil
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received, stopping…")
	case err := <-serverErr:
		if err != nil {
			logger.Error("server error", "error", err)
			return 1
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown error", "error", err)
	}

	for i := len(closers) - 1; i >= 0; i-- {
		if err := closers[i](); err != nil {
			logger.Error("shutdown step failed", "error", err)
		}
	}

	logger.Info("goodbye")
	return 0
}

// buildTranscriber selects the audio transcription backend named by
// cfg.Driver. An empty driver disables the audio gate entirely (text-only
// operation); "mock" exists for local smoke-testing without a model file.
func buildTranscriber(cfg config.AudioConfig, logger *slog.Logger) (audio.Transcriber, func() error, error) {
	switch cfg.Driver {
	case "":
		return nil, nil, nil
	case "whisper":
		t, err := whisper.New(cfg.WhisperModelPath, whisper.WithLanguage(cfg.Language))
		if err != nil {
			return nil, nil, fmt.Errorf("whisper: %w", err)
		}
		return t, func() error { return t.Close() }, nil
	case "mock":
		logger.Warn("audio driver \"mock\" configured — voice notes will not be transcribed for real")
		return &mock.Transcriber{}, nil, nil
	default:
		return nil, nil, fmt.Errorf("unknown audio driver %q", cfg.Driver)
	}
}

// buildLLM selects the free-form question fallback named by cfg.Driver. An
// empty driver disables the fallback: general questions fall back to the
// orchestrator's canned reply. When cfg.Fallback is set, the primary backend
// is wrapped in a circuit-breaker-guarded resilience.FallbackGroup so a
// vendor outage degrades to the secondary backend before giving up.
func buildLLM(cfg config.LLMConfig) (llmreply.Provider, error) {
	primary, err := buildLLMBackend(cfg.Driver, cfg.Provider, cfg.APIKey, cfg.BaseURL, cfg.Model, cfg.Timeout)
	if err != nil {
		return nil, err
	}
	if primary == nil || cfg.Fallback == nil {
		return primary, nil
	}

	fb := cfg.Fallback
	secondary, err := buildLLMBackend(fb.Driver, fb.Provider, fb.APIKey, fb.BaseURL, fb.Model, 0)
	if err != nil {
		return nil, fmt.Errorf("llm fallback: %w", err)
	}

	group := fallback.New(primary, cfg.Driver)
	group.AddFallback(fb.Driver, secondary)
	return group, nil
}

func buildLLMBackend(driver, provider, apiKey, baseURL, model string, timeout time.Duration) (llmreply.Provider, error) {
	switch driver {
	case "":
		return nil, nil
	case "openai":
		var opts []openai.Option
		if baseURL != "" {
			opts = append(opts, openai.WithBaseURL(baseURL))
		}
		if timeout > 0 {
			opts = append(opts, openai.WithTimeout(timeout))
		}
		return openai.New(apiKey, model, opts...)
	case "anyllm":
		return anyllm.New(provider, model)
	default:
		return nil, fmt.Errorf("unknown llm driver %q", driver)
	}
}

func newLogger(level config.LogLevel) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
