package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/meridian-intel/sentinel-cli/internal/calibration"
	"github.com/meridian-intel/sentinel-cli/internal/campaign"
	"github.com/meridian-intel/sentinel-cli/internal/cost"
	"github.com/meridian-intel/sentinel-cli/internal/llm"
	"github.com/meridian-intel/sentinel-cli/internal/monitoring"
	"github.com/meridian-intel/sentinel-cli/internal/pipeline"
	"github.com/meridian-intel/sentinel-cli/internal/resilience"
	"github.com/meridian-intel/sentinel-cli/internal/store"
	anthropicpkg "github.com/meridian-intel/sentinel-cli/pkg/anthropic"
	"github.com/meridian-intel/sentinel-cli/pkg/deepseek"
)

// appEnv holds the initialized store and pipeline components shared by the
// serve/run/analyze/calibrate/campaigns/schedule commands.
type appEnv struct {
	Store        store.Store
	Analyzer     *pipeline.Analyzer
	Orchestrator *pipeline.Orchestrator
	Refresher    *calibration.Refresher
	Detector     *campaign.Detector
	Collector    *monitoring.Collector
}

// Close releases resources held by the environment.
func (e *appEnv) Close() {
	if e.Store != nil {
		_ = e.Store.Close()
	}
}

// initStore opens the configured database backend.
func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		path := cfg.Store.DatabaseURL
		if path == "" {
			path = "sentinel.db"
		}
		st, err := store.NewSQLite(path)
		if err != nil {
			return nil, err
		}
		zap.L().Info("using sqlite store", zap.String("path", path))
		return st, nil
	case "", "postgres":
		if cfg.Store.DatabaseURL == "" {
			return nil, eris.New("SENTINEL_STORE_DATABASE_URL is required for the postgres driver")
		}
		st, err := store.NewPostgres(ctx, cfg.Store.DatabaseURL, &store.PoolConfig{
			MaxConns: cfg.Store.MaxConns,
			MinConns: cfg.Store.MinConns,
		})
		if err != nil {
			return nil, err
		}
		zap.L().Info("using postgres store")
		return st, nil
	default:
		return nil, eris.Errorf("unknown store driver: %s", cfg.Store.Driver)
	}
}

// initCompleter builds the configured LLM provider.
func initCompleter() (llm.Completer, string, string, error) {
	switch cfg.LLM.Provider {
	case "", "deepseek":
		if cfg.DeepSeek.Key == "" {
			return nil, "", "", eris.New("SENTINEL_DEEPSEEK_KEY is not set")
		}
		client := deepseek.NewClient(cfg.DeepSeek.Key,
			deepseek.WithBaseURL(cfg.DeepSeek.BaseURL),
			deepseek.WithModel(cfg.DeepSeek.Model),
		)
		return llm.NewDeepSeek(client, cfg.DeepSeek.Model, cfg.DeepSeek.MaxTokens), "deepseek", cfg.DeepSeek.Model, nil
	case "anthropic":
		if cfg.Anthropic.Key == "" {
			return nil, "", "", eris.New("SENTINEL_ANTHROPIC_KEY is not set")
		}
		client := anthropicpkg.NewClient(cfg.Anthropic.Key)
		return llm.NewAnthropic(client, cfg.Anthropic.Model, cfg.Anthropic.MaxTokens), "anthropic", cfg.Anthropic.Model, nil
	default:
		return nil, "", "", eris.Errorf("unknown llm provider: %s", cfg.LLM.Provider)
	}
}

// initEnv wires the store, LLM provider and pipeline components. Callers
// should defer env.Close().
func initEnv(ctx context.Context) (*appEnv, error) {
	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}

	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}

	completer, provider, modelName, err := initCompleter()
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	auditor := cost.NewAuditor(st, cost.NewCalculator(cost.DefaultRates()))
	analyzer := pipeline.NewAnalyzer(st, completer, auditor, pipeline.AnalyzerOptions{
		Provider: provider,
		Model:    modelName,
		Retry: resilience.FromRetryConfig(
			cfg.Retry.MaxAttempts,
			cfg.Retry.InitialBackoffMs,
			cfg.Retry.MaxBackoffMs,
			cfg.Retry.Multiplier,
			cfg.Retry.JitterFraction,
		),
		Circuit:         resilience.FromCircuitConfig(cfg.Circuit.FailureThreshold, cfg.Circuit.ResetTimeoutSecs),
		CallsPerMinute:  cfg.Pipeline.CallsPerMinute,
		MaxContentChars: cfg.Pipeline.MaxContentChars,
	})

	orchestrator := pipeline.NewOrchestrator(st, analyzer, pipeline.OrchestratorConfig{
		WindowDays:          cfg.Pipeline.WindowDays,
		CandidateMultiplier: cfg.Pipeline.CandidateMultiplier,
		DefaultMaxPosts:     cfg.Pipeline.DefaultMaxPosts,
		Budget:              time.Duration(cfg.Pipeline.BudgetSecs) * time.Second,
	})

	zap.L().Info("environment ready",
		zap.String("provider", provider),
		zap.String("model", modelName),
	)

	return &appEnv{
		Store:        st,
		Analyzer:     analyzer,
		Orchestrator: orchestrator,
		Refresher:    calibration.NewRefresher(st),
		Detector:     campaign.NewDetector(st, campaign.Options{ReachPerPost: cfg.Campaign.ReachPerPost}),
		Collector:    monitoring.NewCollector(st),
	}, nil
}
