package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/haasonsaas/workbench/internal/artifact"
	"github.com/haasonsaas/workbench/internal/backend"
	"github.com/haasonsaas/workbench/internal/config"
	"github.com/haasonsaas/workbench/internal/llm"
	"github.com/haasonsaas/workbench/internal/metrics"
	"github.com/haasonsaas/workbench/internal/orchestrator"
	"github.com/haasonsaas/workbench/internal/plugins"
	"github.com/haasonsaas/workbench/internal/policy"
	"github.com/haasonsaas/workbench/internal/prompt"
	"github.com/haasonsaas/workbench/internal/session"
	"github.com/haasonsaas/workbench/internal/telemetry"
	"github.com/haasonsaas/workbench/internal/tools"
	"github.com/haasonsaas/workbench/internal/tools/bridge"
)

// =============================================================================
// Runtime Stack Wiring
// =============================================================================

// stackOptions adjusts how buildStack assembles the runtime.
type stackOptions struct {
	// ConfigPath enables live policy reload when non-empty.
	ConfigPath string

	// ConfigOpts are replayed on every reload so profiles and --set
	// overrides survive a config file edit.
	ConfigOpts []config.Option

	// Confirm answers the policy engine's confirm gates. Nil declines.
	Confirm orchestrator.ConfirmFunc

	// Demo routes all targets to the simulated backend.
	Demo bool

	Logger *slog.Logger
}

// stack bundles the wired runtime with everything that needs closing.
type stack struct {
	cfg       *config.Config
	logger    *slog.Logger
	store     session.Store
	artifacts *artifact.Store
	registry  *tools.Registry
	engine    *policy.Engine
	runtime   *orchestrator.Runtime

	audit      *policy.Writer
	metricsSrv *metrics.Server
	tracer     *telemetry.Tracer
	watcher    *config.Watcher
	retention  *session.Retention
}

// buildStack wires the full runtime: store, artifacts, packer, tools,
// plugins, policy, provider resolver, observability, and the orchestrator.
func buildStack(ctx context.Context, cfg *config.Config, opts stackOptions) (*stack, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	store, err := openStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	s := &stack{cfg: cfg, logger: logger, store: store}

	s.artifacts, err = artifact.NewStore(cfg.ArtifactsDir())
	if err != nil {
		s.Close(ctx)
		return nil, fmt.Errorf("open artifact store: %w", err)
	}

	counter, err := tokenCounter(cfg)
	if err != nil {
		s.Close(ctx)
		return nil, err
	}
	packer := session.NewPacker(counter, cfg.Session.TokenBudget, cfg.Session.ReserveTokens)

	s.registry = tools.NewRegistry()
	router := backend.NewRouter()
	if opts.Demo {
		router.SetDefault(backend.NewDemoBackend())
	} else {
		router.SetDefault(backend.NewLocalBackend())
	}
	if err := bridge.Register(s.registry, router, s.artifacts, cfg.Tools.Disabled...); err != nil {
		s.Close(ctx)
		return nil, fmt.Errorf("register tools: %w", err)
	}

	if cfg.Plugins.Enabled {
		count, err := plugins.Register(s.registry, plugins.Options{
			Enabled:   true,
			Dir:       cfg.PluginsDir(),
			Allowlist: cfg.Plugins.Allowlist,
			Timeout:   time.Duration(cfg.Tools.TimeoutSeconds) * time.Second,
		}, logger)
		if err != nil {
			s.Close(ctx)
			return nil, fmt.Errorf("register plugins: %w", err)
		}
		logger.Info("plugins registered", "count", count, "dir", cfg.PluginsDir())
	}

	s.audit, err = policy.NewWriter(policy.WriterConfig{
		Path:      cfg.AuditLogPath(),
		MaxBytes:  cfg.Policy.AuditMaxBytes,
		KeepFiles: cfg.Policy.AuditKeepFiles,
	})
	if err != nil {
		s.Close(ctx)
		return nil, fmt.Errorf("open audit log: %w", err)
	}
	s.engine, err = policy.NewEngine(policyConfig(cfg), s.audit, logger)
	if err != nil {
		s.Close(ctx)
		return nil, fmt.Errorf("build policy engine: %w", err)
	}

	mx := metrics.NewMetrics()
	if addr := cfg.Observability.MetricsAddr; addr != "" {
		s.metricsSrv, err = metrics.Serve(addr, logger)
		if err != nil {
			s.Close(ctx)
			return nil, err
		}
	}
	s.tracer, err = telemetry.New(ctx, telemetry.Config{
		ServiceName:    "workbench",
		ServiceVersion: version,
		Endpoint:       cfg.Observability.OTLPEndpoint,
	})
	if err != nil {
		s.Close(ctx)
		return nil, fmt.Errorf("init tracing: %w", err)
	}

	s.runtime, err = orchestrator.NewRuntime(orchestrator.Deps{
		Store:     store,
		Artifacts: s.artifacts,
		Registry:  s.registry,
		Policy:    s.engine,
		Packer:    packer,
		Resolver:  providerResolver(cfg),
		Confirm:   opts.Confirm,
		Logger:    logger,
		Metrics:   mx,
		Tracer:    s.tracer,
	}, orchestrator.Config{
		Provider:     cfg.LLM.Name,
		Model:        cfg.LLM.Model,
		SystemPrompt: prompt.Build(prompt.Options{Tools: s.registry.List()}),
		MaxTurns:     cfg.Session.MaxTurns,
		MaxTokens:    cfg.LLM.MaxOutputTokens,
		ToolTimeout:  time.Duration(cfg.Tools.TimeoutSeconds) * time.Second,
	})
	if err != nil {
		s.Close(ctx)
		return nil, err
	}

	if opts.ConfigPath != "" {
		s.watcher, err = config.Watch(ctx, opts.ConfigPath, logger, func(next *config.Config) {
			if err := s.engine.Reload(policyConfig(next)); err != nil {
				logger.Warn("policy reload failed", "error", err)
				return
			}
			logger.Info("policy reloaded", "max_risk", next.Policy.MaxRisk)
		}, opts.ConfigOpts...)
		if err != nil {
			logger.Warn("config watch unavailable", "error", err)
		}
	}

	if cfg.Session.RetentionDays > 0 {
		s.retention, err = session.NewRetention(store, session.RetentionConfig{
			Days:   cfg.Session.RetentionDays,
			Logger: logger,
		})
		if err != nil {
			s.Close(ctx)
			return nil, err
		}
		if err := s.retention.Start(ctx); err != nil {
			s.Close(ctx)
			return nil, err
		}
	}

	return s, nil
}

// Close releases the stack in reverse dependency order. Errors are logged,
// not returned; shutdown keeps going.
func (s *stack) Close(ctx context.Context) {
	if s.retention != nil {
		s.retention.Stop()
	}
	if s.watcher != nil {
		if err := s.watcher.Close(); err != nil {
			s.logger.Warn("close config watcher", "error", err)
		}
	}
	if s.metricsSrv != nil {
		if err := s.metricsSrv.Close(ctx); err != nil {
			s.logger.Warn("close metrics server", "error", err)
		}
	}
	if s.tracer != nil {
		if err := s.tracer.Shutdown(ctx); err != nil {
			s.logger.Warn("flush traces", "error", err)
		}
	}
	if s.audit != nil {
		if err := s.audit.Close(); err != nil {
			s.logger.Warn("close audit log", "error", err)
		}
	}
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			s.logger.Warn("close session store", "error", err)
		}
	}
}

// openStore picks the session store backend from storage.driver.
func openStore(ctx context.Context, cfg *config.Config) (session.Store, error) {
	switch cfg.Storage.Driver {
	case "", "sqlite":
		store, err := session.NewSQLiteStore(ctx, session.DefaultSQLiteConfig(cfg.SessionDBPath()))
		if err != nil {
			return nil, fmt.Errorf("open session store: %w", err)
		}
		return store, nil
	case "postgres":
		store, err := session.NewPostgresStore(ctx, session.DefaultPostgresConfig(cfg.Storage.PostgresDSN))
		if err != nil {
			return nil, fmt.Errorf("open session store: %w", err)
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Storage.Driver)
	}
}

// policyConfig converts the config section into the engine's shape.
func policyConfig(cfg *config.Config) policy.Config {
	return policy.Config{
		MaxRisk:            cfg.Policy.MaxRiskLevel(),
		ConfirmDestructive: cfg.Policy.ConfirmDestructive,
		ConfirmShell:       cfg.Policy.ConfirmShell,
		ConfirmWrite:       cfg.Policy.ConfirmWrite,
		BlockedPatterns:    cfg.Policy.BlockedPatterns,
		RedactionPatterns:  cfg.Policy.RedactionPatterns,
		SecretFields:       cfg.Policy.SecretFields,
	}
}

// providerResolver maps provider names to live adapters. The configured
// provider gets the full llm config block; switching to another adapter
// reads that provider's conventional key.
func providerResolver(cfg *config.Config) orchestrator.ResolverFunc {
	return func(name string) (llm.Provider, error) {
		opts := llm.Options{
			Model:   cfg.LLM.Model,
			Timeout: time.Duration(cfg.LLM.TimeoutSeconds) * time.Second,
		}
		if name == "" || name == cfg.LLM.Name {
			opts.APIBase = cfg.LLM.APIBase
			opts.APIKey = os.Getenv(cfg.LLM.APIKeyEnv)
			return llm.New(cfg.LLM.Name, opts)
		}
		switch name {
		case "openai":
			opts.APIKey = os.Getenv("OPENAI_API_KEY")
		case "anthropic":
			opts.APIKey = os.Getenv("ANTHROPIC_API_KEY")
		}
		return llm.New(name, opts)
	}
}

// tokenCounter picks exact counting for OpenAI models and the heuristic for
// everything else.
func tokenCounter(cfg *config.Config) (session.Counter, error) {
	if cfg.LLM.Name == "openai" {
		counter, err := session.NewCounter("tiktoken", cfg.LLM.Model)
		if err == nil {
			return counter, nil
		}
		// Encoding data may be unavailable offline.
		slog.Debug("tiktoken unavailable, using heuristic counter", "error", err)
	}
	return session.NewCounter("heuristic", cfg.LLM.Model)
}
