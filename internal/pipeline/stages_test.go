package pipeline

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/meridian-intel/sentinel-cli/internal/cost"
	"github.com/meridian-intel/sentinel-cli/internal/llm"
	"github.com/meridian-intel/sentinel-cli/internal/model"
	"github.com/meridian-intel/sentinel-cli/internal/resilience"
)

func TestSummarize_WritesSummaryAndKeywords(t *testing.T) {
	fs := newFakeStore(testPost("post-1"))
	a := newTestAnalyzer(fs, &fakeCompleter{responses: []string{
		"```json\n{\"summary\": \"Post claims grid failures are being covered up.\", \"keywords\": [\"grid\", \"Blackout\", \"grid\", \"\"]}\n```",
	}})

	res, err := a.Summarize(context.Background(), "post-1")
	require.NoError(t, err)
	assert.Equal(t, "Post claims grid failures are being covered up.", res.Summary)
	// Duplicates and empties are dropped.
	assert.Equal(t, []string{"grid", "Blackout"}, res.Keywords)

	require.Len(t, fs.updates["post-1"], 1)
	fields := fs.updates["post-1"][0]
	assert.Equal(t, res.Summary, fields["summary"])
	assert.Equal(t, res.Keywords, fields["keywords"])
	// Summarize does not advance the analysis stage marker.
	assert.NotContains(t, fields, "last_analyzed_stage")
}

func TestSummarize_ParseFailureWritesNothing(t *testing.T) {
	fs := newFakeStore(testPost("post-1"))
	a := newTestAnalyzer(fs, &fakeCompleter{responses: []string{"I cannot summarize this."}})

	_, err := a.Summarize(context.Background(), "post-1")
	require.Error(t, err)
	assert.True(t, eris.Is(err, llm.ErrUnparseable))
	assert.Empty(t, fs.updates["post-1"])

	// The call itself is still audited.
	require.Len(t, fs.usage, 1)
	assert.True(t, fs.usage[0].Success)
}

func TestSummarize_UnknownPost(t *testing.T) {
	fs := newFakeStore()
	a := newTestAnalyzer(fs, &fakeCompleter{responses: []string{"{}"}})

	_, err := a.Summarize(context.Background(), "ghost")
	require.Error(t, err)
	assert.ErrorContains(t, err, "post not found")
}

func TestQuickScreen_ClampsScoreAndWritesVerdict(t *testing.T) {
	fs := newFakeStore(testPost("post-1"))
	a := newTestAnalyzer(fs, &fakeCompleter{responses: []string{
		`{"risk_score": 140, "is_psyop": true, "needs_deep_analysis": true, "indicators": ["urgency framing", "unverifiable claim"]}`,
	}})

	res, err := a.QuickScreen(context.Background(), "post-1")
	require.NoError(t, err)
	assert.Equal(t, 100.0, res.RiskScore)
	assert.True(t, res.IsPsyop)
	assert.True(t, res.NeedsDeepAnalysis)

	require.Len(t, fs.updates["post-1"], 1)
	fields := fs.updates["post-1"][0]
	assert.Equal(t, 100.0, fields["risk_score"])
	assert.Equal(t, "quick", fields["last_analyzed_stage"])
	assert.Contains(t, fields, "analyzed_at")
}

func TestQuickScreen_TransportErrorIsAudited(t *testing.T) {
	fs := newFakeStore(testPost("post-1"))
	a := newTestAnalyzer(fs, &fakeCompleter{err: resilience.NewTransientError(assert.AnError, 503)})

	_, err := a.QuickScreen(context.Background(), "post-1")
	require.Error(t, err)
	assert.Empty(t, fs.updates["post-1"])

	require.Len(t, fs.usage, 1)
	assert.False(t, fs.usage[0].Success)
	assert.Equal(t, "quick", fs.usage[0].Stage)
}

func TestDeepAnalyze_FiltersEnumsAgainstAllowLists(t *testing.T) {
	post := testPost("post-1")
	summary := "prior summary"
	score := 80.0
	post.Summary = &summary
	post.RiskScore = &score
	post.Indicators = []string{"urgency framing"}

	fs := newFakeStore(post)
	a := newTestAnalyzer(fs, &fakeCompleter{responses: []string{
		`{"analysis_summary": "Coordinated amplification of a fabricated outage narrative.",
		  "techniques": ["Fearmongering", "mind_control_rays", "loaded_language"],
		  "targets": ["urban residents"],
		  "narrative_theme": "Destabilization",
		  "recommended_actions": ["monitor source cluster"]}`,
	}})

	res, err := a.DeepAnalyze(context.Background(), "post-1")
	require.NoError(t, err)
	// Unknown technique dropped, known ones normalized to lowercase.
	assert.Equal(t, []string{"fearmongering", "loaded_language"}, res.Techniques)
	assert.Equal(t, "destabilization", res.NarrativeTheme)

	require.Len(t, fs.updates["post-1"], 1)
	fields := fs.updates["post-1"][0]
	assert.Equal(t, "deep", fields["last_analyzed_stage"])
	assert.Equal(t, []string{"fearmongering", "loaded_language"}, fields["techniques"])
}

func TestDeepAnalyze_UnknownThemeIsNotWritten(t *testing.T) {
	fs := newFakeStore(testPost("post-1"))
	a := newTestAnalyzer(fs, &fakeCompleter{responses: []string{
		`{"analysis_summary": "Assessment.", "narrative_theme": "lizard_people"}`,
	}})

	res, err := a.DeepAnalyze(context.Background(), "post-1")
	require.NoError(t, err)
	assert.Empty(t, res.NarrativeTheme)

	fields := fs.updates["post-1"][0]
	assert.NotContains(t, fields, "narrative_theme")
}

func TestDeepAnalyze_ParseFailureWritesNothing(t *testing.T) {
	fs := newFakeStore(testPost("post-1"))
	a := newTestAnalyzer(fs, &fakeCompleter{responses: []string{"not json at all"}})

	_, err := a.DeepAnalyze(context.Background(), "post-1")
	require.Error(t, err)
	assert.Empty(t, fs.updates["post-1"])
}

func TestDeepestAnalyze_WritesEscalation(t *testing.T) {
	post := testPost("post-1")
	score := 92.0
	post.RiskScore = &score
	fs := newFakeStore(post)
	a := newTestAnalyzer(fs, &fakeCompleter{responses: []string{
		`{"escalation_level": "SEVERE", "strategic_summary": "Sustained multi-source push.", "counter_measures": ["publish correction", "notify platform"]}`,
	}})

	res, err := a.DeepestAnalyze(context.Background(), "post-1")
	require.NoError(t, err)
	assert.Equal(t, "severe", res.EscalationLevel)
	assert.False(t, res.Fallback)

	fields := fs.updates["post-1"][0]
	assert.Equal(t, "severe", fields["escalation_level"])
	assert.Equal(t, "deepest", fields["last_analyzed_stage"])
}

func TestDeepestAnalyze_FallbackOnUnparseableOutput(t *testing.T) {
	fs := newFakeStore(testPost("post-1"))
	a := newTestAnalyzer(fs, &fakeCompleter{responses: []string{"the model rambled instead"}})

	res, err := a.DeepestAnalyze(context.Background(), "post-1")
	require.NoError(t, err)
	assert.True(t, res.Fallback)
	assert.Equal(t, string(model.EscalationElevated), res.EscalationLevel)

	// Unlike the other stages, the fallback record is written.
	require.Len(t, fs.updates["post-1"], 1)
	fields := fs.updates["post-1"][0]
	assert.Equal(t, "elevated", fields["escalation_level"])
	assert.Equal(t, fallbackStrategicSummary, fields["strategic_summary"])
}

func TestDeepestAnalyze_InvalidLevelFallsBack(t *testing.T) {
	res := decodeDeepest("post-1", `{"escalation_level": "apocalyptic", "strategic_summary": "x"}`)
	assert.True(t, res.Fallback)
	assert.Equal(t, "elevated", res.EscalationLevel)
}

func TestStageRetry_TransientThenSuccess(t *testing.T) {
	fs := newFakeStore(testPost("post-1"))
	completer := &flakyCompleter{failures: 2, response: `{"summary": "ok after retries", "keywords": []}`}
	auditor := cost.NewAuditor(fs, cost.NewCalculator(cost.DefaultRates()))

	a := NewAnalyzer(fs, completer, auditor, AnalyzerOptions{
		Provider: "deepseek",
		Model:    "deepseek-chat",
		Retry:    resilience.RetryConfig{MaxAttempts: 3, InitialBackoff: time.Millisecond, MaxBackoff: 2 * time.Millisecond},
	})

	res, err := a.Summarize(context.Background(), "post-1")
	require.NoError(t, err)
	assert.Equal(t, "ok after retries", res.Summary)
	assert.Equal(t, 3, completer.calls)
}

func TestStages_ConcurrentCallsShareAnalyzer(t *testing.T) {
	posts := make([]model.Post, 8)
	for i := range posts {
		posts[i] = testPost(fmt.Sprintf("post-%d", i))
	}
	fs := newFakeStore(posts...)
	a := newTestAnalyzer(fs, &fakeCompleter{responses: []string{
		`{"summary": "shared analyzer is safe", "keywords": []}`,
	}})

	g, ctx := errgroup.WithContext(context.Background())
	for i := range posts {
		id := posts[i].ID
		g.Go(func() error {
			_, err := a.Summarize(ctx, id)
			return err
		})
	}
	require.NoError(t, g.Wait())

	for _, p := range posts {
		require.Len(t, fs.updatesFor(p.ID), 1)
	}
}

func TestTruncate_KeepsRuneBoundary(t *testing.T) {
	fs := newFakeStore()
	auditor := cost.NewAuditor(fs, cost.NewCalculator(cost.DefaultRates()))
	a := NewAnalyzer(fs, &fakeCompleter{responses: []string{"{}"}}, auditor, AnalyzerOptions{
		Provider:        "deepseek",
		Model:           "deepseek-chat",
		Retry:           resilience.RetryConfig{MaxAttempts: 1, InitialBackoff: time.Millisecond},
		MaxContentChars: 10,
	})

	content := "شبکه برق در حال فروپاشی است"
	got := a.truncate(content)
	assert.LessOrEqual(t, len(got), 10)
	assert.True(t, utf8.ValidString(got))
	assert.True(t, strings.HasPrefix(content, got))

	assert.Equal(t, "short", a.truncate("short"))
}

// flakyCompleter fails with a transient error N times, then succeeds.
type flakyCompleter struct {
	failures int
	response string
	calls    int
}

func (f *flakyCompleter) Complete(ctx context.Context, req llm.Request) (*llm.Completion, error) {
	f.calls++
	if f.calls <= f.failures {
		return nil, resilience.NewTransientError(assert.AnError, 429)
	}
	return &llm.Completion{
		Text:     f.response,
		Model:    "deepseek-chat",
		Provider: "deepseek",
		Usage:    model.TokenUsage{InputTokens: 10, OutputTokens: 5},
	}, nil
}
