package monitoring

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridian-intel/sentinel-cli/internal/model"
	"github.com/meridian-intel/sentinel-cli/internal/store"
)

func newMetricsStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	st, err := store.NewSQLite(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

func seedMetricsPost(t *testing.T, st store.Store, id string, mutate func(*model.Post)) {
	t.Helper()
	p := model.Post{
		ID:          id,
		Source:      "telegram",
		Title:       "title " + id,
		Content:     "content",
		PublishedAt: time.Now().UTC().Add(-time.Hour),
	}
	if mutate != nil {
		mutate(&p)
	}
	require.NoError(t, st.InsertPost(context.Background(), p))
}

func TestCollect_PostMetrics(t *testing.T) {
	st := newMetricsStore(t)
	ctx := context.Background()

	summary := "summary"
	score := 90.0
	flagged := true
	level := "severe"

	seedMetricsPost(t, st, "p1", func(p *model.Post) {
		p.Summary = &summary
		p.RiskScore = &score
		p.IsPsyop = &flagged
		p.EscalationLevel = &level
	})
	seedMetricsPost(t, st, "p2", func(p *model.Post) {
		low := 20.0
		p.Summary = &summary
		p.RiskScore = &low
	})
	seedMetricsPost(t, st, "p3", nil) // not yet screened

	snap, err := NewCollector(st).Collect(ctx, 24)
	require.NoError(t, err)

	assert.Equal(t, 3, snap.PostsTotal)
	assert.Equal(t, 2, snap.PostsSummarized)
	assert.Equal(t, 2, snap.PostsScreened)
	assert.Equal(t, 1, snap.PostsFlagged)
	assert.Equal(t, 1, snap.PostsEscalated)
	assert.Equal(t, 1, snap.ScreenBacklog)
	assert.InDelta(t, 55.0, snap.AvgRiskScore, 0.001)
	assert.Equal(t, 24, snap.LookbackHours)
}

func TestCollect_UsageMetrics(t *testing.T) {
	st := newMetricsStore(t)
	ctx := context.Background()

	now := time.Now().UTC()
	rows := []model.APIUsage{
		{ID: "u1", Provider: "deepseek", Model: "deepseek-chat", Stage: "quick", PostID: "p1",
			InputTokens: 100, OutputTokens: 50, CostUSD: 0.02, Success: true, CreatedAt: now.Add(-time.Hour)},
		{ID: "u2", Provider: "deepseek", Model: "deepseek-chat", Stage: "deep", PostID: "p1",
			InputTokens: 200, OutputTokens: 100, CostUSD: 0.05, Success: false, ErrorDetail: "status 500", CreatedAt: now.Add(-time.Minute)},
		{ID: "u3", Provider: "deepseek", Model: "deepseek-chat", Stage: "quick", PostID: "p2",
			InputTokens: 10, OutputTokens: 5, CostUSD: 0.01, Success: true, CreatedAt: now.Add(-48 * time.Hour)},
	}
	for _, u := range rows {
		require.NoError(t, st.InsertUsage(ctx, u))
	}

	snap, err := NewCollector(st).Collect(ctx, 24)
	require.NoError(t, err)

	// u3 is outside the window.
	assert.Equal(t, 2, snap.LLMCalls)
	assert.Equal(t, 1, snap.LLMFailed)
	assert.InDelta(t, 0.5, snap.LLMFailRate, 0.001)
	assert.InDelta(t, 0.07, snap.CostUSD, 0.001)
	assert.Equal(t, 450, snap.TotalTokens)
}

func TestCollect_EmptyStore(t *testing.T) {
	st := newMetricsStore(t)

	snap, err := NewCollector(st).Collect(context.Background(), 24)
	require.NoError(t, err)

	assert.Zero(t, snap.PostsTotal)
	assert.Zero(t, snap.LLMCalls)
	assert.Zero(t, snap.LLMFailRate)
	assert.Zero(t, snap.AvgRiskScore)
}
