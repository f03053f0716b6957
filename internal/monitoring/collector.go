// Package monitoring collects pipeline health metrics and raises webhook
// alerts when they cross configured thresholds.
package monitoring

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/meridian-intel/sentinel-cli/internal/store"
)

// MetricsSnapshot holds a point-in-time view of pipeline health.
type MetricsSnapshot struct {
	// Post metrics (published within the lookback window).
	PostsTotal      int     `json:"posts_total"`
	PostsSummarized int     `json:"posts_summarized"`
	PostsScreened   int     `json:"posts_screened"`
	PostsFlagged    int     `json:"posts_flagged"`
	PostsEscalated  int     `json:"posts_escalated"`
	ScreenBacklog   int     `json:"screen_backlog"`
	AvgRiskScore    float64 `json:"avg_risk_score"`

	// LLM call metrics (audit rows within the window).
	LLMCalls    int     `json:"llm_calls"`
	LLMFailed   int     `json:"llm_failed"`
	LLMFailRate float64 `json:"llm_fail_rate"`
	CostUSD     float64 `json:"cost_usd"`
	TotalTokens int     `json:"total_tokens"`

	// Metadata.
	LookbackHours int       `json:"lookback_hours"`
	CollectedAt   time.Time `json:"collected_at"`
}

// collectLimit caps the post scan per snapshot.
const collectLimit = 10000

// Collector gathers metrics from the store.
type Collector struct {
	store store.Store
}

// NewCollector creates a new metrics collector.
func NewCollector(st store.Store) *Collector {
	return &Collector{store: st}
}

// Collect gathers a snapshot of pipeline metrics over the given lookback
// window.
func (c *Collector) Collect(ctx context.Context, lookbackHours int) (*MetricsSnapshot, error) {
	now := time.Now().UTC()
	snap := &MetricsSnapshot{
		LookbackHours: lookbackHours,
		CollectedAt:   now,
	}

	cutoff := now.Add(-time.Duration(lookbackHours) * time.Hour)

	posts, err := c.store.ListRecentPosts(ctx, cutoff, collectLimit)
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: list posts")
	}

	snap.PostsTotal = len(posts)
	var totalScore float64
	for _, p := range posts {
		if p.HasSummary() {
			snap.PostsSummarized++
		}
		if p.RiskScore != nil {
			snap.PostsScreened++
			totalScore += *p.RiskScore
		} else {
			snap.ScreenBacklog++
		}
		if p.IsPsyop != nil && *p.IsPsyop {
			snap.PostsFlagged++
		}
		if p.HasEscalation() {
			snap.PostsEscalated++
		}
	}
	if snap.PostsScreened > 0 {
		snap.AvgRiskScore = totalScore / float64(snap.PostsScreened)
	}

	usages, err := c.store.ListUsageSince(ctx, cutoff)
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: list usage")
	}

	snap.LLMCalls = len(usages)
	for _, u := range usages {
		if !u.Success {
			snap.LLMFailed++
		}
		snap.CostUSD += u.CostUSD
		snap.TotalTokens += u.InputTokens + u.OutputTokens
	}
	if snap.LLMCalls > 0 {
		snap.LLMFailRate = float64(snap.LLMFailed) / float64(snap.LLMCalls)
	}

	return snap, nil
}
