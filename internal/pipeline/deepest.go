package pipeline

import (
	"context"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/meridian-intel/sentinel-cli/internal/llm"
	"github.com/meridian-intel/sentinel-cli/internal/model"
)

const deepestSystemPrompt = `You assess the strategic severity of a confirmed influence operation. Assign an escalation level (one of: low, elevated, severe, critical), write a strategic summary for decision makers, and list concrete counter-measures. Respond with a valid JSON object: {"escalation_level": "<level>", "strategic_summary": "<assessment>", "counter_measures": [...]}`

const deepestUserPrompt = `Source: %s
Title: %s
Risk score: %s
Narrative theme: %s
Techniques: %s
Prior analysis: %s

Content:
%s`

// fallbackStrategicSummary is written when the model output cannot be
// parsed. The post has already cleared the deepest-stage gate, so it must
// not silently drop out of the escalation queue.
const fallbackStrategicSummary = "Automated strategic assessment could not be parsed. Post met the escalation criteria and requires manual review."

type deepestOutput struct {
	EscalationLevel  string   `json:"escalation_level"`
	StrategicSummary string   `json:"strategic_summary"`
	CounterMeasures  []string `json:"counter_measures"`
}

// DeepestResult mirrors the fields written to storage.
type DeepestResult struct {
	PostID           string   `json:"post_id"`
	EscalationLevel  string   `json:"escalation_level"`
	StrategicSummary string   `json:"strategic_summary"`
	CounterMeasures  []string `json:"counter_measures,omitempty"`
	// Fallback is true when the model output was unparseable and a default
	// escalation record was written instead.
	Fallback bool `json:"fallback,omitempty"`
}

// DeepestAnalyze runs the strategic-severity stage. Unlike the other stages,
// unparseable model output does not abort the write: a fallback escalation
// record is stored so the post stays visible to reviewers.
func (a *Analyzer) DeepestAnalyze(ctx context.Context, postID string) (*DeepestResult, error) {
	post, err := a.fetchPost(ctx, postID)
	if err != nil {
		return nil, err
	}

	riskScore := "unknown"
	if post.RiskScore != nil {
		riskScore = fmt.Sprintf("%.0f", *post.RiskScore)
	}
	theme := ""
	if post.NarrativeTheme != nil {
		theme = *post.NarrativeTheme
	}
	priorAnalysis := ""
	if post.AnalysisSummary != nil {
		priorAnalysis = *post.AnalysisSummary
	}

	prompt := fmt.Sprintf(deepestUserPrompt,
		post.Source, post.Title, riskScore, theme,
		strings.Join(post.Techniques, ", "),
		priorAnalysis,
		a.truncate(post.Content),
	)

	completion, err := a.complete(ctx, model.StageDeepest, postID, llm.Request{
		System: deepestSystemPrompt,
		Prompt: prompt,
	})
	if err != nil {
		return nil, err
	}

	result := decodeDeepest(postID, completion.Text)
	if result.Fallback {
		zap.L().Warn("deepest: unparseable model output, writing fallback escalation",
			zap.String("post_id", postID),
		)
	}

	fields := map[string]any{
		"escalation_level":  result.EscalationLevel,
		"strategic_summary": result.StrategicSummary,
	}
	if len(result.CounterMeasures) > 0 {
		fields["counter_measures"] = result.CounterMeasures
	}
	stageFields(fields, model.StageDeepest)

	if err := a.store.UpdatePostFields(ctx, postID, fields); err != nil {
		return nil, eris.Wrapf(err, "deepest: update post %s", postID)
	}
	logStageDone(model.StageDeepest, postID, fields)

	return result, nil
}

// decodeDeepest parses the model output, substituting the fallback record
// when the output is unparseable or the escalation level is not in the enum.
func decodeDeepest(postID, text string) *DeepestResult {
	out, err := llm.Decode[deepestOutput](text)
	if err != nil {
		return &DeepestResult{
			PostID:           postID,
			EscalationLevel:  string(model.EscalationElevated),
			StrategicSummary: fallbackStrategicSummary,
			Fallback:         true,
		}
	}

	levels := make([]string, 0, 4)
	for _, l := range model.AllEscalationLevels() {
		levels = append(levels, string(l))
	}

	level, ok := llm.NormalizeEnum(out.EscalationLevel, levels)
	summary := strings.TrimSpace(out.StrategicSummary)
	if !ok || summary == "" {
		return &DeepestResult{
			PostID:           postID,
			EscalationLevel:  string(model.EscalationElevated),
			StrategicSummary: fallbackStrategicSummary,
			Fallback:         true,
		}
	}

	return &DeepestResult{
		PostID:           postID,
		EscalationLevel:  level,
		StrategicSummary: summary,
		CounterMeasures:  cleanStrings(out.CounterMeasures, 10),
	}
}
