package monitoring

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridian-intel/sentinel-cli/internal/config"
)

func TestEvaluate_FailureRate(t *testing.T) {
	a := NewAlerter(config.MonitoringConfig{FailureRateThreshold: 0.25})

	alerts := a.Evaluate(&MetricsSnapshot{
		LLMCalls:      10,
		LLMFailed:     4,
		LLMFailRate:   0.4,
		LookbackHours: 24,
	})
	require.Len(t, alerts, 1)
	assert.Equal(t, AlertLLMFailureRate, alerts[0].Type)
	assert.Equal(t, "high", alerts[0].Severity)
	assert.Contains(t, alerts[0].Message, "40.0%")
}

func TestEvaluate_FailureRateNeedsEnoughCalls(t *testing.T) {
	a := NewAlerter(config.MonitoringConfig{FailureRateThreshold: 0.25})

	// 2 of 3 failed, but the sample is too small to alert on.
	alerts := a.Evaluate(&MetricsSnapshot{LLMCalls: 3, LLMFailed: 2, LLMFailRate: 0.67})
	assert.Empty(t, alerts)
}

func TestEvaluate_CostOverrun(t *testing.T) {
	a := NewAlerter(config.MonitoringConfig{FailureRateThreshold: 0.25, CostThresholdUSD: 5.0})

	alerts := a.Evaluate(&MetricsSnapshot{CostUSD: 7.5, LookbackHours: 24})
	require.Len(t, alerts, 1)
	assert.Equal(t, AlertCostOverrun, alerts[0].Type)

	// Zero threshold disables the check.
	a = NewAlerter(config.MonitoringConfig{FailureRateThreshold: 0.25})
	assert.Empty(t, a.Evaluate(&MetricsSnapshot{CostUSD: 1000}))
}

func TestEvaluate_ScreenBacklog(t *testing.T) {
	a := NewAlerter(config.MonitoringConfig{FailureRateThreshold: 0.25, BacklogThreshold: 50})

	alerts := a.Evaluate(&MetricsSnapshot{ScreenBacklog: 120, PostsTotal: 200})
	require.Len(t, alerts, 1)
	assert.Equal(t, AlertScreenBacklog, alerts[0].Type)
	assert.Equal(t, "medium", alerts[0].Severity)

	assert.Empty(t, a.Evaluate(&MetricsSnapshot{ScreenBacklog: 50}))
}

func TestSendAlerts_Webhook(t *testing.T) {
	var received atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var alert Alert
		require.NoError(t, json.NewDecoder(r.Body).Decode(&alert))
		assert.Equal(t, AlertCostOverrun, alert.Type)
		received.Add(1)
	}))
	defer srv.Close()

	a := NewAlerter(config.MonitoringConfig{WebhookURL: srv.URL})
	sent := a.SendAlerts(context.Background(), []Alert{{Type: AlertCostOverrun, Severity: "high", Message: "over budget"}})

	assert.Equal(t, 1, sent)
	assert.Equal(t, int32(1), received.Load())
}

func TestSendAlerts_WebhookFailureIsCounted(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	a := NewAlerter(config.MonitoringConfig{WebhookURL: srv.URL})
	sent := a.SendAlerts(context.Background(), []Alert{{Type: AlertLLMFailureRate}})
	assert.Zero(t, sent)
}

func TestSendAlerts_NoWebhookConfigured(t *testing.T) {
	a := NewAlerter(config.MonitoringConfig{})
	assert.Zero(t, a.SendAlerts(context.Background(), []Alert{{Type: AlertCostOverrun}}))
}
