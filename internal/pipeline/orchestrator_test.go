package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridian-intel/sentinel-cli/internal/model"
)

func enabledToggles() StageToggles {
	return StageToggles{Summarize: true, Quick: true, Deep: true, Deepest: true}
}

func TestNeededStages_FreshPostNeedsAllFour(t *testing.T) {
	score := 90.0
	psyop := true
	post := model.Post{
		ID:                "post-1",
		Content:           "body",
		RiskScore:         &score,
		IsPsyop:           &psyop,
		NeedsDeepAnalysis: true,
	}

	set := NeededStages(post, enabledToggles(), model.DefaultThresholds())
	assert.True(t, set.Summarize)
	assert.False(t, set.Quick) // risk score already set
	assert.True(t, set.Deep)
	assert.True(t, set.Deepest)

	post.RiskScore = nil
	post.IsPsyop = nil
	set = NeededStages(post, enabledToggles(), model.DefaultThresholds())
	assert.True(t, set.Quick)
	assert.False(t, set.Deepest) // no score yet
}

func TestNeededStages_CompletedDeepStageIsNotRerun(t *testing.T) {
	score := 90.0
	psyop := true
	analysis := "already analyzed"
	post := model.Post{
		ID:                "post-1",
		Content:           "body",
		RiskScore:         &score,
		IsPsyop:           &psyop,
		NeedsDeepAnalysis: true,
		AnalysisSummary:   &analysis,
	}

	set := NeededStages(post, enabledToggles(), model.DefaultThresholds())
	assert.False(t, set.Deep)
	assert.True(t, set.Deepest)
}

func TestNeededStages_Table(t *testing.T) {
	score85 := 85.0
	score84 := 84.9
	psyop := true
	notPsyop := false
	summary := "s"
	escalation := "severe"

	tests := []struct {
		name    string
		post    model.Post
		toggles StageToggles
		want    StageSet
	}{
		{
			name:    "summarize skipped when summary present",
			post:    model.Post{Summary: &summary},
			toggles: enabledToggles(),
			want:    StageSet{Quick: true},
		},
		{
			name:    "toggles off mean nothing needed",
			post:    model.Post{},
			toggles: StageToggles{},
			want:    StageSet{},
		},
		{
			name:    "deepest at exactly the threshold",
			post:    model.Post{Summary: &summary, RiskScore: &score85, IsPsyop: &psyop},
			toggles: enabledToggles(),
			want:    StageSet{Deepest: true},
		},
		{
			name:    "deepest below the threshold",
			post:    model.Post{Summary: &summary, RiskScore: &score84, IsPsyop: &psyop},
			toggles: enabledToggles(),
			want:    StageSet{},
		},
		{
			name: "deepest via human label despite negative verdict",
			post: model.Post{
				Summary: &summary, RiskScore: &score85, IsPsyop: &notPsyop,
				ReviewCategory: model.ReviewConfirmed,
			},
			toggles: enabledToggles(),
			want:    StageSet{Deepest: true},
		},
		{
			name: "deepest skipped when escalation exists",
			post: model.Post{
				Summary: &summary, RiskScore: &score85, IsPsyop: &psyop,
				EscalationLevel: &escalation,
			},
			toggles: enabledToggles(),
			want:    StageSet{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NeededStages(tt.post, tt.toggles, model.DefaultThresholds())
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRunBatch_ProcessesPendingStages(t *testing.T) {
	// post-a needs summarize+quick, post-b needs nothing.
	summary := "done"
	score := 10.0
	psyop := false
	postA := testPost("post-a")
	postB := testPost("post-b")
	postB.Summary = &summary
	postB.RiskScore = &score
	postB.IsPsyop = &psyop

	fs := newFakeStore(postA, postB)
	a := newTestAnalyzer(fs, &fakeCompleter{responses: []string{
		`{"summary": "short", "keywords": ["k"]}`,
		`{"risk_score": 20, "is_psyop": false, "needs_deep_analysis": false, "indicators": []}`,
	}})
	o := NewOrchestrator(fs, a, OrchestratorConfig{})

	report, err := o.RunBatch(context.Background(), BatchRequest{MaxPosts: 10})
	require.NoError(t, err)
	assert.Equal(t, 1, report.ProcessedPosts)
	assert.Equal(t, 1, report.SummarizeCalls)
	assert.Equal(t, 1, report.QuickCalls)
	assert.Zero(t, report.DeepCalls)
	assert.Zero(t, report.Errors)
	assert.Zero(t, report.RemainingPosts)
}

func TestRunBatch_UsesLatestCalibrationThresholds(t *testing.T) {
	// risk 82 with is_psyop: below the default deepest threshold (85), above
	// the calibrated one (80).
	summary := "done"
	score := 82.0
	psyop := true
	post := testPost("post-a")
	post.Summary = &summary
	post.RiskScore = &score
	post.IsPsyop = &psyop

	fs := newFakeStore(post)
	fs.calibration = &model.CalibrationSnapshot{
		ID:          "cal-1",
		Recommended: model.Thresholds{Risk: 65, Deep: 70, Deepest: 80},
	}
	a := newTestAnalyzer(fs, &fakeCompleter{responses: []string{
		`{"escalation_level": "severe", "strategic_summary": "x", "counter_measures": []}`,
	}})
	o := NewOrchestrator(fs, a, OrchestratorConfig{})

	report, err := o.RunBatch(context.Background(), BatchRequest{MaxPosts: 5})
	require.NoError(t, err)
	assert.Equal(t, 1, report.DeepestCalls)
}

func TestRunBatch_CalibrationLoadFailureFallsBackToDefaults(t *testing.T) {
	summary := "done"
	score := 82.0
	psyop := true
	post := testPost("post-a")
	post.Summary = &summary
	post.RiskScore = &score
	post.IsPsyop = &psyop

	fs := newFakeStore(post)
	fs.calibrationErr = assert.AnError
	a := newTestAnalyzer(fs, &fakeCompleter{responses: []string{"{}"}})
	o := NewOrchestrator(fs, a, OrchestratorConfig{})

	report, err := o.RunBatch(context.Background(), BatchRequest{MaxPosts: 5})
	require.NoError(t, err)
	// 82 < default 85: deepest must not run.
	assert.Zero(t, report.DeepestCalls)
	assert.Zero(t, report.ProcessedPosts)
}

func TestRunBatch_StageFailureIsCountedNotFatal(t *testing.T) {
	fs := newFakeStore(testPost("post-a"), testPost("post-b"))
	// Summarize parse fails for both posts; quick succeeds.
	a := newTestAnalyzer(fs, &fakeCompleter{responses: []string{
		"garbage",
		`{"risk_score": 20, "is_psyop": false, "needs_deep_analysis": false}`,
		"garbage",
		`{"risk_score": 30, "is_psyop": false, "needs_deep_analysis": false}`,
	}})
	o := NewOrchestrator(fs, a, OrchestratorConfig{})

	report, err := o.RunBatch(context.Background(), BatchRequest{MaxPosts: 10})
	require.NoError(t, err)
	assert.Equal(t, 2, report.ProcessedPosts)
	assert.Equal(t, 2, report.Errors)
	assert.Equal(t, 2, report.QuickCalls)
}

func TestRunBatch_BudgetStopReportsRemaining(t *testing.T) {
	fs := newFakeStore(testPost("post-a"), testPost("post-b"), testPost("post-c"))
	a := newTestAnalyzer(fs, &fakeCompleter{responses: []string{
		`{"summary": "s", "keywords": []}`,
		`{"risk_score": 10, "is_psyop": false, "needs_deep_analysis": false}`,
	}})
	o := NewOrchestrator(fs, a, OrchestratorConfig{Budget: time.Minute})

	// Time advances one minute per observation: the budget expires after the
	// first post.
	base := time.Now()
	calls := 0
	o.nowFunc = func() time.Time {
		calls++
		return base.Add(time.Duration(calls) * time.Minute)
	}

	report, err := o.RunBatch(context.Background(), BatchRequest{MaxPosts: 10})
	require.NoError(t, err)
	assert.Equal(t, 3, report.ProcessedPosts+report.RemainingPosts)
	assert.Positive(t, report.RemainingPosts)
}

func TestRunBatch_MaxPostsCapsSelection(t *testing.T) {
	fs := newFakeStore(testPost("a"), testPost("b"), testPost("c"), testPost("d"))
	a := newTestAnalyzer(fs, &fakeCompleter{responses: []string{
		`{"summary": "s", "keywords": []}`,
	}})
	o := NewOrchestrator(fs, a, OrchestratorConfig{})

	runQuick := false
	report, err := o.RunBatch(context.Background(), BatchRequest{
		MaxPosts: 2,
		RunQuick: &runQuick,
	})
	require.NoError(t, err)
	assert.Equal(t, 2, report.ProcessedPosts)
	assert.Equal(t, 2, report.SummarizeCalls)
	assert.Zero(t, report.QuickCalls)
}
