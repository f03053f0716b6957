package monitoring

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/meridian-intel/sentinel-cli/internal/config"
)

// Checker periodically snapshots pipeline health and pushes any threshold
// breaches to the alert webhook.
type Checker struct {
	collector *Collector
	alerter   *Alerter
	cfg       config.MonitoringConfig
}

// NewChecker creates a background alert checker.
func NewChecker(collector *Collector, alerter *Alerter, cfg config.MonitoringConfig) *Checker {
	return &Checker{
		collector: collector,
		alerter:   alerter,
		cfg:       cfg,
	}
}

// Run starts the periodic check loop. It blocks until ctx is cancelled.
func (c *Checker) Run(ctx context.Context) {
	interval := time.Duration(c.cfg.CheckIntervalSecs) * time.Second
	if interval <= 0 {
		interval = 5 * time.Minute
	}

	log := zap.L().With(zap.String("component", "monitoring.checker"))
	log.Info("starting alert checker",
		zap.Duration("interval", interval),
		zap.Int("lookback_hours", c.cfg.LookbackWindowHours),
		zap.Float64("fail_rate_threshold", c.cfg.FailureRateThreshold),
		zap.Float64("cost_threshold_usd", c.cfg.CostThresholdUSD),
		zap.Int("backlog_threshold", c.cfg.BacklogThreshold),
	)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("alert checker stopped")
			return
		case <-ticker.C:
			c.checkOnce(ctx, log)
		}
	}
}

// checkOnce collects one snapshot, evaluates it, and delivers any alerts.
// Returns how many alerts were triggered and how many were delivered.
func (c *Checker) checkOnce(ctx context.Context, log *zap.Logger) (triggered, sent int) {
	snap, err := c.collector.Collect(ctx, c.cfg.LookbackWindowHours)
	if err != nil {
		log.Error("monitoring: failed to collect metrics", zap.Error(err))
		return 0, 0
	}

	log.Debug("monitoring: snapshot collected",
		zap.Int("posts_total", snap.PostsTotal),
		zap.Int("posts_flagged", snap.PostsFlagged),
		zap.Int("screen_backlog", snap.ScreenBacklog),
		zap.Int("llm_calls", snap.LLMCalls),
		zap.Float64("llm_fail_rate", snap.LLMFailRate),
		zap.Float64("cost_usd", snap.CostUSD),
	)

	alerts := c.alerter.Evaluate(snap)
	if len(alerts) == 0 {
		return 0, 0
	}

	sent = c.alerter.SendAlerts(ctx, alerts)
	log.Info("monitoring: alert check complete",
		zap.Int("alerts_triggered", len(alerts)),
		zap.Int("alerts_sent", sent),
		zap.Int("screen_backlog", snap.ScreenBacklog),
		zap.Float64("llm_fail_rate", snap.LLMFailRate),
	)
	return len(alerts), sent
}
