// Package calibration recomputes the pipeline's decision thresholds from
// human review labels. One pass over labeled posts, one immutable snapshot
// row per run; no incremental state.
package calibration

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/meridian-intel/sentinel-cli/internal/model"
	"github.com/meridian-intel/sentinel-cli/internal/store"
)

// Params bounds the set of reviewed posts a refresh considers. Zero values
// take the defaults (30 days, no score floor).
type Params struct {
	LookbackDays int     `json:"lookbackDays,omitempty"`
	MinRiskScore float64 `json:"minRiskScore,omitempty"`
}

// Refresher compares automated verdicts against human review labels and
// derives new recommended thresholds.
type Refresher struct {
	store store.Store

	// nowFunc allows test injection of time.
	nowFunc func() time.Time
}

// NewRefresher creates a Refresher over the given store.
func NewRefresher(st store.Store) *Refresher {
	return &Refresher{store: st, nowFunc: time.Now}
}

// Refresh pulls posts with a definitive review label and a risk score within
// the lookback window, builds the confusion matrix, derives thresholds and
// persists one snapshot.
func (r *Refresher) Refresh(ctx context.Context, params Params) (*model.CalibrationSnapshot, error) {
	lookback := params.LookbackDays
	if lookback <= 0 {
		lookback = 30
	}
	if params.MinRiskScore < 0 {
		params.MinRiskScore = 0
	}

	now := r.nowFunc().UTC()
	since := now.Add(-time.Duration(lookback) * 24 * time.Hour)

	posts, err := r.store.ListReviewedPosts(ctx, since, params.MinRiskScore)
	if err != nil {
		return nil, eris.Wrap(err, "calibration: list reviewed posts")
	}

	snap := buildSnapshot(posts, lookback, params.MinRiskScore)
	snap.ID = uuid.NewString()
	snap.CreatedAt = now

	if err := r.store.InsertCalibration(ctx, *snap); err != nil {
		return nil, eris.Wrap(err, "calibration: insert snapshot")
	}

	zap.L().Info("calibration refreshed",
		zap.Int("reviewed", snap.ReviewedCount),
		zap.Int("agreements", snap.Agreements()),
		zap.Int("disagreements", snap.Disagreements()),
		zap.Float64("risk_threshold", snap.Recommended.Risk),
		zap.Float64("deepest_threshold", snap.Recommended.Deepest),
	)
	return snap, nil
}

// buildSnapshot is the pure aggregation core: confusion matrix, bucket
// averages, recommended thresholds.
func buildSnapshot(posts []model.Post, lookbackDays int, minRiskScore float64) *model.CalibrationSnapshot {
	snap := &model.CalibrationSnapshot{
		LookbackDays: lookbackDays,
		MinRiskScore: minRiskScore,
	}

	var confirmedScores, rejectedScores, fpScores, fnScores []float64

	for _, post := range posts {
		if !post.Reviewed() || post.RiskScore == nil {
			continue
		}
		score := *post.RiskScore
		verdict := post.IsPsyop != nil && *post.IsPsyop

		snap.ReviewedCount++
		switch post.ReviewCategory {
		case model.ReviewConfirmed:
			confirmedScores = append(confirmedScores, score)
			if verdict {
				snap.TruePositives++
			} else {
				snap.FalseNegatives++
				fnScores = append(fnScores, score)
			}
		case model.ReviewRejected:
			rejectedScores = append(rejectedScores, score)
			if verdict {
				snap.FalsePositives++
				fpScores = append(fpScores, score)
			} else {
				snap.TrueNegatives++
			}
		}
	}

	snap.AvgConfirmedScore = mean(confirmedScores)
	snap.AvgRejectedScore = mean(rejectedScores)
	snap.AvgFalsePositiveScore = mean(fpScores)
	snap.AvgFalseNegativeScore = mean(fnScores)
	snap.Recommended = recommendThresholds(snap)

	return snap
}

// recommendThresholds derives the three thresholds from the midpoint of the
// average confirmed and rejected scores. Zero reviewed posts falls back to
// the hardcoded defaults.
func recommendThresholds(snap *model.CalibrationSnapshot) model.Thresholds {
	if snap.ReviewedCount == 0 {
		return model.DefaultThresholds()
	}

	mid := (snap.AvgConfirmedScore + snap.AvgRejectedScore) / 2
	return model.Thresholds{
		Risk:    clamp(mid, 40, 90),
		Deep:    clamp(mid+5, 45, 92),
		Deepest: clamp(mid+15, 80, 95),
	}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}
