package model

import "time"

// Default decision thresholds, used whenever no calibration snapshot exists
// or loading the latest one fails.
const (
	DefaultRiskThreshold    = 70.0
	DefaultDeepThreshold    = 75.0
	DefaultDeepestThreshold = 85.0
)

// Thresholds holds the three calibrated decision thresholds the orchestrator
// uses to route posts between stages.
type Thresholds struct {
	Risk    float64 `json:"risk_threshold"`
	Deep    float64 `json:"deep_threshold"`
	Deepest float64 `json:"deepest_threshold"`
}

// DefaultThresholds returns the hardcoded fallback thresholds.
func DefaultThresholds() Thresholds {
	return Thresholds{
		Risk:    DefaultRiskThreshold,
		Deep:    DefaultDeepThreshold,
		Deepest: DefaultDeepestThreshold,
	}
}

// CalibrationSnapshot is one run of the calibration refresher: a confusion
// matrix of automated verdicts against human review labels, plus the
// thresholds recommended from it. Snapshots are append-only and immutable;
// the orchestrator always reads the most recent one.
type CalibrationSnapshot struct {
	ID           string  `json:"id"`
	LookbackDays int     `json:"lookback_days"`
	MinRiskScore float64 `json:"min_risk_score"`

	ReviewedCount  int `json:"reviewed_count"`
	TruePositives  int `json:"true_positives"`
	FalsePositives int `json:"false_positives"`
	TrueNegatives  int `json:"true_negatives"`
	FalseNegatives int `json:"false_negatives"`

	AvgConfirmedScore     float64 `json:"avg_confirmed_score"`
	AvgRejectedScore      float64 `json:"avg_rejected_score"`
	AvgFalsePositiveScore float64 `json:"avg_false_positive_score"`
	AvgFalseNegativeScore float64 `json:"avg_false_negative_score"`

	Recommended Thresholds `json:"recommended"`

	CreatedAt time.Time `json:"created_at"`
}

// Agreements is the count of posts where the automated verdict matched the
// human label.
func (s CalibrationSnapshot) Agreements() int {
	return s.TruePositives + s.TrueNegatives
}

// Disagreements is the count of posts where the automated verdict
// contradicted the human label.
func (s CalibrationSnapshot) Disagreements() int {
	return s.FalsePositives + s.FalseNegatives
}
