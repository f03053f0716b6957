package cost

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/meridian-intel/sentinel-cli/internal/model"
)

// UsageWriter persists API usage audit rows.
type UsageWriter interface {
	InsertUsage(ctx context.Context, usage model.APIUsage) error
}

// Auditor records one audit row per LLM call, for success and failure alike.
// Audit writes never fail the calling stage; insert errors are logged and
// dropped.
type Auditor struct {
	writer UsageWriter
	calc   *Calculator
}

// NewAuditor creates an Auditor backed by the given writer and calculator.
func NewAuditor(writer UsageWriter, calc *Calculator) *Auditor {
	return &Auditor{writer: writer, calc: calc}
}

// Record writes a usage row for a completed (or failed) LLM call.
func (a *Auditor) Record(ctx context.Context, provider, modelName, stage, postID string, usage model.TokenUsage, callErr error) {
	row := model.APIUsage{
		ID:           uuid.NewString(),
		Provider:     provider,
		Model:        modelName,
		Stage:        stage,
		PostID:       postID,
		InputTokens:  usage.InputTokens,
		OutputTokens: usage.OutputTokens,
		CostUSD:      a.calc.Completion(provider, modelName, usage.InputTokens, usage.OutputTokens),
		Success:      callErr == nil,
		CreatedAt:    time.Now().UTC(),
	}
	if callErr != nil {
		row.ErrorDetail = callErr.Error()
	}

	if err := a.writer.InsertUsage(ctx, row); err != nil {
		zap.L().Warn("failed to record api usage",
			zap.String("stage", stage),
			zap.String("post_id", postID),
			zap.Error(err),
		)
	}
}
