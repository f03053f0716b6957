package pipeline

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/meridian-intel/sentinel-cli/internal/model"
	"github.com/meridian-intel/sentinel-cli/internal/store"
)

// BatchRequest selects how many posts to process and which stages may run.
// Nil toggles default to enabled.
type BatchRequest struct {
	MaxPosts     int   `json:"maxPosts,omitempty"`
	RunSummarize *bool `json:"runSummarize,omitempty"`
	RunQuick     *bool `json:"runQuick,omitempty"`
	RunDeep      *bool `json:"runDeep,omitempty"`
	RunDeepest   *bool `json:"runDeepest,omitempty"`
}

// Toggles resolves the request's stage switches.
func (r BatchRequest) Toggles() StageToggles {
	return StageToggles{
		Summarize: boolOr(r.RunSummarize, true),
		Quick:     boolOr(r.RunQuick, true),
		Deep:      boolOr(r.RunDeep, true),
		Deepest:   boolOr(r.RunDeepest, true),
	}
}

func boolOr(p *bool, def bool) bool {
	if p == nil {
		return def
	}
	return *p
}

// StageToggles enables or disables individual stages for a batch run.
type StageToggles struct {
	Summarize bool
	Quick     bool
	Deep      bool
	Deepest   bool
}

// StageSet marks which stages a post still needs.
type StageSet struct {
	Summarize bool
	Quick     bool
	Deep      bool
	Deepest   bool
}

// Any reports whether at least one stage is needed.
func (s StageSet) Any() bool {
	return s.Summarize || s.Quick || s.Deep || s.Deepest
}

// NeededStages computes which stages a post still needs, given the stage
// toggles and the current thresholds. Pure function over a post snapshot;
// the decision is not re-evaluated after earlier stages run.
func NeededStages(post model.Post, toggles StageToggles, th model.Thresholds) StageSet {
	var set StageSet

	if toggles.Summarize && !post.HasSummary() {
		set.Summarize = true
	}
	if toggles.Quick && post.RiskScore == nil {
		set.Quick = true
	}
	if toggles.Deep && post.NeedsDeepAnalysis && !post.HasDeepAnalysis() {
		set.Deep = true
	}
	if toggles.Deepest &&
		post.RiskScore != nil && *post.RiskScore >= th.Deepest &&
		post.ConfirmedPositive() &&
		!post.HasEscalation() {
		set.Deepest = true
	}

	return set
}

// BatchReport aggregates the outcome of one batch run. Per-item failures are
// counted, never escalated.
type BatchReport struct {
	ProcessedPosts int `json:"processed_posts"`
	SummarizeCalls int `json:"summarize_calls"`
	QuickCalls     int `json:"quick_calls"`
	DeepCalls      int `json:"deep_calls"`
	DeepestCalls   int `json:"deepest_calls"`
	Errors         int `json:"errors"`
	// RemainingPosts counts selected posts left unprocessed when the
	// wall-clock budget ran out. The caller can re-invoke to resume.
	RemainingPosts int `json:"remaining_posts"`
}

// OrchestratorConfig tunes candidate selection and the batch budget.
type OrchestratorConfig struct {
	// WindowDays bounds candidate selection to recently published posts.
	WindowDays int
	// CandidateMultiplier caps the raw scan at multiplier x maxPosts.
	CandidateMultiplier int
	// DefaultMaxPosts applies when the request does not set MaxPosts.
	DefaultMaxPosts int
	// Budget is the soft wall-clock limit per batch run. The orchestrator
	// checks it between posts, never mid-stage.
	Budget time.Duration
}

func (c OrchestratorConfig) withDefaults() OrchestratorConfig {
	if c.WindowDays <= 0 {
		c.WindowDays = 7
	}
	if c.CandidateMultiplier <= 0 {
		c.CandidateMultiplier = 3
	}
	if c.DefaultMaxPosts <= 0 {
		c.DefaultMaxPosts = 20
	}
	if c.Budget <= 0 {
		c.Budget = 5 * time.Minute
	}
	return c
}

// Orchestrator coordinates one batch run over the staged pipeline. It holds
// no state between runs; thresholds are re-read on every invocation.
type Orchestrator struct {
	store    store.Store
	analyzer *Analyzer
	cfg      OrchestratorConfig

	// nowFunc allows test injection of time.
	nowFunc func() time.Time
}

// NewOrchestrator creates an Orchestrator over the given store and analyzer.
func NewOrchestrator(st store.Store, analyzer *Analyzer, cfg OrchestratorConfig) *Orchestrator {
	return &Orchestrator{
		store:    st,
		analyzer: analyzer,
		cfg:      cfg.withDefaults(),
		nowFunc:  time.Now,
	}
}

// loadThresholds reads the latest calibration snapshot, falling back to the
// hardcoded defaults when none exists or the read fails.
func (o *Orchestrator) loadThresholds(ctx context.Context) model.Thresholds {
	snap, err := o.store.LatestCalibration(ctx)
	if err != nil {
		zap.L().Warn("loading calibration snapshot failed, using default thresholds", zap.Error(err))
		return model.DefaultThresholds()
	}
	if snap == nil {
		return model.DefaultThresholds()
	}
	return snap.Recommended
}

// RunBatch selects up to MaxPosts recent posts with at least one pending
// stage and runs their pending stages in order. Stage failures are counted
// and logged; they never abort the batch.
func (o *Orchestrator) RunBatch(ctx context.Context, req BatchRequest) (*BatchReport, error) {
	start := o.nowFunc()
	deadline := start.Add(o.cfg.Budget)
	toggles := req.Toggles()

	maxPosts := req.MaxPosts
	if maxPosts <= 0 {
		maxPosts = o.cfg.DefaultMaxPosts
	}

	thresholds := o.loadThresholds(ctx)

	since := start.Add(-time.Duration(o.cfg.WindowDays) * 24 * time.Hour)
	candidates, err := o.store.ListRecentPosts(ctx, since, o.cfg.CandidateMultiplier*maxPosts)
	if err != nil {
		return nil, err
	}

	// Selection stops at maxPosts qualifying items; the raw scan is already
	// capped by the multiplier.
	type selected struct {
		post   model.Post
		stages StageSet
	}
	var queue []selected
	for _, post := range candidates {
		stages := NeededStages(post, toggles, thresholds)
		if !stages.Any() {
			continue
		}
		queue = append(queue, selected{post: post, stages: stages})
		if len(queue) >= maxPosts {
			break
		}
	}

	zap.L().Info("batch selected",
		zap.Int("candidates", len(candidates)),
		zap.Int("selected", len(queue)),
		zap.Float64("deepest_threshold", thresholds.Deepest),
	)

	report := &BatchReport{}
	for i, item := range queue {
		if o.nowFunc().After(deadline) {
			report.RemainingPosts = len(queue) - i
			zap.L().Warn("batch budget exceeded, stopping",
				zap.Int("processed", report.ProcessedPosts),
				zap.Int("remaining", report.RemainingPosts),
			)
			break
		}
		if ctx.Err() != nil {
			report.RemainingPosts = len(queue) - i
			break
		}

		o.runStages(ctx, item.post.ID, item.stages, report)
		report.ProcessedPosts++
	}

	zap.L().Info("batch complete",
		zap.Int("processed", report.ProcessedPosts),
		zap.Int("errors", report.Errors),
		zap.Int("remaining", report.RemainingPosts),
		zap.Duration("elapsed", o.nowFunc().Sub(start)),
	)
	return report, nil
}

// runStages invokes the pending stages for one post in fixed order. Each
// stage re-reads the post itself; a failure is recorded and the remaining
// stages still run.
func (o *Orchestrator) runStages(ctx context.Context, postID string, stages StageSet, report *BatchReport) {
	if stages.Summarize {
		report.SummarizeCalls++
		if _, err := o.analyzer.Summarize(ctx, postID); err != nil {
			o.recordStageError(model.StageSummarize, postID, err, report)
		}
	}
	if stages.Quick {
		report.QuickCalls++
		if _, err := o.analyzer.QuickScreen(ctx, postID); err != nil {
			o.recordStageError(model.StageQuick, postID, err, report)
		}
	}
	if stages.Deep {
		report.DeepCalls++
		if _, err := o.analyzer.DeepAnalyze(ctx, postID); err != nil {
			o.recordStageError(model.StageDeep, postID, err, report)
		}
	}
	if stages.Deepest {
		report.DeepestCalls++
		if _, err := o.analyzer.DeepestAnalyze(ctx, postID); err != nil {
			o.recordStageError(model.StageDeepest, postID, err, report)
		}
	}
}

func (o *Orchestrator) recordStageError(stage model.AnalysisStage, postID string, err error, report *BatchReport) {
	report.Errors++
	zap.L().Error("stage failed",
		zap.String("stage", string(stage)),
		zap.String("post_id", postID),
		zap.Error(err),
	)
}
