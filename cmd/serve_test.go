package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridian-intel/sentinel-cli/internal/calibration"
	"github.com/meridian-intel/sentinel-cli/internal/campaign"
	"github.com/meridian-intel/sentinel-cli/internal/cost"
	"github.com/meridian-intel/sentinel-cli/internal/llm"
	"github.com/meridian-intel/sentinel-cli/internal/model"
	"github.com/meridian-intel/sentinel-cli/internal/monitoring"
	"github.com/meridian-intel/sentinel-cli/internal/pipeline"
	"github.com/meridian-intel/sentinel-cli/internal/resilience"
	"github.com/meridian-intel/sentinel-cli/internal/store"
)

// stubCompleter returns one canned completion for every call.
type stubCompleter struct {
	text string
}

func (s *stubCompleter) Complete(ctx context.Context, req llm.Request) (*llm.Completion, error) {
	return &llm.Completion{
		Text:     s.text,
		Model:    "deepseek-chat",
		Provider: "deepseek",
		Usage:    model.TokenUsage{InputTokens: 10, OutputTokens: 5},
	}, nil
}

// newTestEnv builds an appEnv over an in-memory SQLite store.
func newTestEnv(t *testing.T, completionText string) *appEnv {
	t.Helper()

	st, err := store.NewSQLite(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	require.NoError(t, st.Migrate(context.Background()))

	auditor := cost.NewAuditor(st, cost.NewCalculator(cost.DefaultRates()))
	analyzer := pipeline.NewAnalyzer(st, &stubCompleter{text: completionText}, auditor, pipeline.AnalyzerOptions{
		Provider: "deepseek",
		Model:    "deepseek-chat",
		Retry:    resilience.RetryConfig{MaxAttempts: 1, InitialBackoff: time.Millisecond},
	})

	return &appEnv{
		Store:        st,
		Analyzer:     analyzer,
		Orchestrator: pipeline.NewOrchestrator(st, analyzer, pipeline.OrchestratorConfig{}),
		Refresher:    calibration.NewRefresher(st),
		Detector:     campaign.NewDetector(st, campaign.Options{}),
		Collector:    monitoring.NewCollector(st),
	}
}

func seedTestPost(t *testing.T, env *appEnv, id string) {
	t.Helper()
	require.NoError(t, env.Store.InsertPost(context.Background(), model.Post{
		ID:          id,
		Source:      "telegram",
		Title:       "title",
		Content:     "suspicious content body",
		PublishedAt: time.Now().UTC(),
	}))
}

func doRequest(t *testing.T, env *appEnv, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	}
	rec := httptest.NewRecorder()
	newRouter(env).ServeHTTP(rec, req)
	return rec
}

func TestHealthEndpoint(t *testing.T) {
	env := newTestEnv(t, "{}")

	rec := doRequest(t, env, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"ok"`)
}

func TestAnalyzeEndpoint_MissingPostID(t *testing.T) {
	env := newTestEnv(t, "{}")

	rec := doRequest(t, env, http.MethodPost, "/v1/analyze/quick", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "quick", body["stage"])
	assert.NotEmpty(t, body["error"])
}

func TestAnalyzeEndpoint_UnknownStage(t *testing.T) {
	env := newTestEnv(t, "{}")

	rec := doRequest(t, env, http.MethodPost, "/v1/analyze/medium", `{"postId":"p1"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAnalyzeEndpoint_UnknownPostIs400(t *testing.T) {
	env := newTestEnv(t, "{}")

	rec := doRequest(t, env, http.MethodPost, "/v1/analyze/quick", `{"postId":"ghost"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "post not found")
}

func TestAnalyzeEndpoint_SummarizeHappyPath(t *testing.T) {
	env := newTestEnv(t, `{"summary": "a short neutral summary", "keywords": ["grid"]}`)
	seedTestPost(t, env, "p1")

	rec := doRequest(t, env, http.MethodPost, "/v1/analyze/summarize", `{"postId":"p1"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var result pipeline.SummarizeResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.Equal(t, "a short neutral summary", result.Summary)

	post, err := env.Store.GetPost(context.Background(), "p1")
	require.NoError(t, err)
	require.NotNil(t, post.Summary)
	assert.Equal(t, "a short neutral summary", *post.Summary)
}

func TestPipelineRunEndpoint_AlwaysReturns200WithCounts(t *testing.T) {
	env := newTestEnv(t, "unparseable output that fails every stage")
	seedTestPost(t, env, "p1")

	rec := doRequest(t, env, http.MethodPost, "/v1/pipeline/run", `{"maxPosts": 5}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, true, body["success"])
	assert.Equal(t, float64(1), body["processed_posts"])
	// Summarize and quick both failed to parse.
	assert.Equal(t, float64(2), body["errors"])
}

func TestPipelineRunEndpoint_EmptyBody(t *testing.T) {
	env := newTestEnv(t, "{}")

	rec := doRequest(t, env, http.MethodPost, "/v1/pipeline/run", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestCalibrationRefreshEndpoint(t *testing.T) {
	env := newTestEnv(t, "{}")

	rec := doRequest(t, env, http.MethodPost, "/v1/calibration/refresh", `{"lookbackDays": 14}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var snap model.CalibrationSnapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
	assert.Equal(t, 14, snap.LookbackDays)
	// No reviewed posts: defaults.
	assert.Equal(t, model.DefaultThresholds(), snap.Recommended)
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestEnv(t, "{}")
	seedTestPost(t, env, "p1")

	rec := doRequest(t, env, http.MethodGet, "/v1/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var snap monitoring.MetricsSnapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
	assert.Equal(t, 1, snap.PostsTotal)
	assert.Equal(t, 1, snap.ScreenBacklog)
	assert.Equal(t, 24, snap.LookbackHours)
}

func TestCampaignsDetectEndpoint_EmptyStore(t *testing.T) {
	env := newTestEnv(t, "{}")

	rec := doRequest(t, env, http.MethodPost, "/v1/campaigns/detect", `{"timeRange": 7}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Campaigns []model.Campaign `json:"campaigns"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.NotNil(t, body.Campaigns)
	assert.Empty(t, body.Campaigns)
}
