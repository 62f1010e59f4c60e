package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/harun/aide/internal/config"
	"github.com/harun/aide/internal/logger"
	"github.com/harun/aide/internal/observability"
	"github.com/harun/aide/internal/tracing"
	"github.com/harun/aide/pkg/agent"
	"github.com/harun/aide/pkg/coretools"
	"github.com/harun/aide/pkg/history"
	"github.com/harun/aide/pkg/llm"
	"github.com/harun/aide/pkg/session"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

// newLLMClient builds the completion client for cfg. Tests replace it.
var newLLMClient = func(cfg *config.Config) (llm.Client, error) {
	f, err := llm.NewFailover(cfg.FailoverConfig())
	if err != nil {
		if errors.Is(err, llm.ErrNoProfiles) {
			return nil, fmt.Errorf("%w: run 'aide config init' to add an API key", err)
		}
		return nil, err
	}
	return f, nil
}

// openHistory opens the configured conversation store. Tests replace it.
var openHistory = func(ctx context.Context, cfg *config.Config) (history.Store, error) {
	return history.Open(ctx, cfg.HistoryConfig())
}

// app holds the process-wide resources of one command invocation
type app struct {
	loader  *config.Loader
	logger  *logger.Logger
	log     zerolog.Logger
	metrics *http.Server

	mu  sync.RWMutex
	cfg *config.Config
}

// setup loads and validates the config, then starts logging, tracing,
// auditing and the optional metrics endpoint.
func setup(cmd *cobra.Command) (*app, error) {
	loader := config.NewLoader(cfgFile)
	cfg, err := loader.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if cmd.Flags().Changed("log-level") {
		cfg.Logging.Level = logLevel
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data dir: %w", err)
	}

	lg, err := logger.New(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	a := &app{
		loader: loader,
		logger: lg,
		log:    lg.Component("cli"),
		cfg:    cfg,
	}

	if err := tracing.InitOpenTelemetry(cmd.Context(), cfg.TracingOptions()); err != nil {
		a.log.Warn().Err(err).Str("exporter", cfg.Telemetry.Exporter).Msg("Tracing disabled")
	}
	if path := cfg.Telemetry.AuditLog; path != "" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err == nil {
			if err := observability.InitAuditLogger(path); err != nil {
				a.log.Warn().Err(err).Str("path", path).Msg("Audit log unavailable")
			}
		}
	}
	if addr := cfg.Telemetry.MetricsAddr; addr != "" {
		a.serveMetrics(addr)
	}

	return a, nil
}

func (a *app) config() *config.Config {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.cfg
}

func (a *app) setConfig(cfg *config.Config) {
	a.mu.Lock()
	a.cfg = cfg
	a.mu.Unlock()
}

func (a *app) serveMetrics(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", observability.MetricsHandler())
	a.metrics = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		a.log.Info().Str("addr", addr).Msg("Serving metrics")
		if err := a.metrics.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.log.Error().Err(err).Str("addr", addr).Msg("Metrics server failed")
		}
	}()
}

func (a *app) close() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if a.metrics != nil {
		if err := a.metrics.Shutdown(ctx); err != nil {
			a.log.Warn().Err(err).Msg("Failed to stop metrics server")
		}
	}
	if err := tracing.ShutdownOpenTelemetry(ctx); err != nil {
		a.log.Warn().Err(err).Msg("Failed to flush traces")
	}
	if err := observability.GetAuditLogger().Close(); err != nil {
		a.log.Warn().Err(err).Msg("Failed to close audit log")
	}
	_ = a.logger.Close()
}

// assistantOptions returns the options for one user's assistant
func assistantOptions(cfg *config.Config, client llm.Client, userID string, store history.Store) (agent.Options, error) {
	opts := agent.Options{
		UserID: userID,
		LLM:    client,
		Config: cfg.AgentConfig(),
		Tools:  cfg.ToolsConfig(),
		Store:  store,
	}
	if cfg.Tools.WorkspaceRoot != "" {
		extra, err := coretools.Tools(coretools.Options{
			Root:     cfg.Tools.WorkspaceRoot,
			ReadOnly: cfg.Tools.ReadOnly,
		})
		if err != nil {
			return opts, err
		}
		opts.ExtraTools = extra
	}
	return opts, nil
}

type assistantCache = session.Cache[*agent.Assistant, history.Store]

// newAssistantCache builds assistants from the config current at the time
// a user's entry is created.
func newAssistantCache(current func() *config.Config, client llm.Client) *assistantCache {
	cfg := current()
	return session.New[*agent.Assistant, history.Store](cfg.CacheConfig(),
		func(ctx context.Context, userID string, store history.Store) (*agent.Assistant, error) {
			opts, err := assistantOptions(current(), client, userID, store)
			if err != nil {
				return nil, err
			}
			assistant, err := agent.NewAssistant(opts)
			if err != nil {
				return nil, err
			}
			if err := assistant.Init(ctx); err != nil {
				_ = assistant.Close()
				return nil, err
			}
			return assistant, nil
		})
}

func defaultUser() string {
	if u := os.Getenv("USER"); u != "" {
		return u
	}
	return "local"
}

