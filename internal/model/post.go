package model

import (
	"strings"
	"time"
)

// ReviewCategory is the human ground-truth label on a post. It is used only
// by calibration, never for routing decisions.
type ReviewCategory string

const (
	ReviewUnreviewed ReviewCategory = "unreviewed"
	ReviewConfirmed  ReviewCategory = "confirmed_psyop"
	ReviewRejected   ReviewCategory = "rejected"
)

// AnalysisStage identifies one tier of the staged analysis pipeline.
type AnalysisStage string

const (
	StageSummarize AnalysisStage = "summarize"
	StageQuick     AnalysisStage = "quick"
	StageDeep      AnalysisStage = "deep"
	StageDeepest   AnalysisStage = "deepest"
)

// EscalationLevel is the strategic-severity verdict from the deepest stage.
type EscalationLevel string

const (
	EscalationLow      EscalationLevel = "low"
	EscalationElevated EscalationLevel = "elevated"
	EscalationSevere   EscalationLevel = "severe"
	EscalationCritical EscalationLevel = "critical"
)

// AllEscalationLevels returns the valid escalation levels.
func AllEscalationLevels() []EscalationLevel {
	return []EscalationLevel{EscalationLow, EscalationElevated, EscalationSevere, EscalationCritical}
}

// Post is one ingested piece of content. Analysis stages mutate it in place,
// field by field; nothing in the pipeline deletes posts. Nullable analysis
// columns are pointers so "not yet analyzed" is distinguishable from zero.
type Post struct {
	ID          string    `json:"id"`
	Source      string    `json:"source"`
	Title       string    `json:"title"`
	Content     string    `json:"content"`
	PublishedAt time.Time `json:"published_at"`

	// Summarize stage.
	Summary  *string  `json:"summary,omitempty"`
	Keywords []string `json:"keywords,omitempty"`

	// Quick screening stage.
	RiskScore         *float64 `json:"risk_score,omitempty"`
	IsPsyop           *bool    `json:"is_psyop,omitempty"`
	NeedsDeepAnalysis bool     `json:"needs_deep_analysis"`
	Indicators        []string `json:"indicators,omitempty"`

	// Deep analysis stage.
	AnalysisSummary    *string  `json:"analysis_summary,omitempty"`
	Techniques         []string `json:"techniques,omitempty"`
	Targets            []string `json:"targets,omitempty"`
	NarrativeTheme     *string  `json:"narrative_theme,omitempty"`
	RecommendedActions []string `json:"recommended_actions,omitempty"`

	// Deepest (escalation) stage.
	EscalationLevel  *string  `json:"escalation_level,omitempty"`
	StrategicSummary *string  `json:"strategic_summary,omitempty"`
	CounterMeasures  []string `json:"counter_measures,omitempty"`

	ReviewCategory    ReviewCategory `json:"review_category"`
	LastAnalyzedStage *string        `json:"last_analyzed_stage,omitempty"`
	AnalyzedAt        *time.Time     `json:"analyzed_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// HasSummary reports whether the summarize stage has produced output.
func (p Post) HasSummary() bool {
	return p.Summary != nil && strings.TrimSpace(*p.Summary) != ""
}

// HasDeepAnalysis reports whether the deep stage has produced output.
func (p Post) HasDeepAnalysis() bool {
	return p.AnalysisSummary != nil && strings.TrimSpace(*p.AnalysisSummary) != ""
}

// HasEscalation reports whether the deepest stage has produced output.
func (p Post) HasEscalation() bool {
	return p.EscalationLevel != nil && *p.EscalationLevel != ""
}

// ConfirmedPositive reports whether the post is considered a confirmed
// influence operation, by either the automated verdict or the human label.
func (p Post) ConfirmedPositive() bool {
	if p.IsPsyop != nil && *p.IsPsyop {
		return true
	}
	return p.ReviewCategory == ReviewConfirmed
}

// Reviewed reports whether a human has assigned a definitive label.
func (p Post) Reviewed() bool {
	return p.ReviewCategory == ReviewConfirmed || p.ReviewCategory == ReviewRejected
}
