package pipeline

import (
	"context"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/meridian-intel/sentinel-cli/internal/llm"
	"github.com/meridian-intel/sentinel-cli/internal/model"
)

// allowedTechniques is the fixed vocabulary for technique tags. Anything the
// model invents outside this list is dropped.
var allowedTechniques = []string{
	"fearmongering",
	"whataboutism",
	"astroturfing",
	"loaded_language",
	"false_dilemma",
	"scapegoating",
	"bandwagon",
	"gaslighting",
	"cherry_picking",
	"dehumanization",
	"appeal_to_authority",
	"conspiracy_framing",
}

// allowedThemes is the fixed vocabulary for narrative themes. An
// unrecognized theme is not written at all.
var allowedThemes = []string{
	"destabilization",
	"polarization",
	"anti_institution",
	"foreign_influence",
	"economic_anxiety",
	"health_disinformation",
	"election_integrity",
	"military_morale",
	"other",
}

const deepSystemPrompt = `You perform detailed influence-operation analysis on pre-screened content. Identify manipulation techniques (choose only from: %s), targeted groups, the narrative theme (choose only from: %s), and recommended monitoring actions. Respond with a valid JSON object: {"analysis_summary": "<detailed assessment>", "techniques": [...], "targets": [...], "narrative_theme": "<theme>", "recommended_actions": [...]}`

const deepUserPrompt = `Source: %s
Title: %s
Summary: %s
Quick screening: risk_score=%s, indicators=%s

Content:
%s`

type deepOutput struct {
	AnalysisSummary    string   `json:"analysis_summary"`
	Techniques         []string `json:"techniques"`
	Targets            []string `json:"targets"`
	NarrativeTheme     string   `json:"narrative_theme"`
	RecommendedActions []string `json:"recommended_actions"`
}

// DeepResult mirrors the fields written to storage.
type DeepResult struct {
	PostID             string   `json:"post_id"`
	AnalysisSummary    string   `json:"analysis_summary"`
	Techniques         []string `json:"techniques,omitempty"`
	Targets            []string `json:"targets,omitempty"`
	NarrativeTheme     string   `json:"narrative_theme,omitempty"`
	RecommendedActions []string `json:"recommended_actions,omitempty"`
}

// DeepAnalyze runs the richer extraction stage over a post the quick screen
// flagged. Prior-stage fields are embedded in the prompt as context. On
// unparseable model output nothing is written.
func (a *Analyzer) DeepAnalyze(ctx context.Context, postID string) (*DeepResult, error) {
	post, err := a.fetchPost(ctx, postID)
	if err != nil {
		return nil, err
	}

	summary := ""
	if post.Summary != nil {
		summary = *post.Summary
	}
	riskScore := "unknown"
	if post.RiskScore != nil {
		riskScore = fmt.Sprintf("%.0f", *post.RiskScore)
	}

	system := fmt.Sprintf(deepSystemPrompt,
		strings.Join(allowedTechniques, ", "),
		strings.Join(allowedThemes, ", "),
	)
	prompt := fmt.Sprintf(deepUserPrompt,
		post.Source, post.Title, summary, riskScore,
		strings.Join(post.Indicators, "; "),
		a.truncate(post.Content),
	)

	completion, err := a.complete(ctx, model.StageDeep, postID, llm.Request{
		System: system,
		Prompt: prompt,
	})
	if err != nil {
		return nil, err
	}

	out, err := llm.Decode[deepOutput](completion.Text)
	if err != nil {
		return nil, eris.Wrapf(err, "deep: post %s", postID)
	}

	analysisSummary := strings.TrimSpace(out.AnalysisSummary)
	if analysisSummary == "" {
		return nil, eris.Wrapf(llm.ErrUnparseable, "deep: empty analysis for post %s", postID)
	}

	fields := map[string]any{"analysis_summary": analysisSummary}
	result := &DeepResult{PostID: postID, AnalysisSummary: analysisSummary}

	if techniques := llm.FilterAllowed(out.Techniques, allowedTechniques); len(techniques) > 0 {
		fields["techniques"] = techniques
		result.Techniques = techniques
	}
	if targets := cleanStrings(out.Targets, 10); len(targets) > 0 {
		fields["targets"] = targets
		result.Targets = targets
	}
	if theme, ok := llm.NormalizeEnum(out.NarrativeTheme, allowedThemes); ok {
		fields["narrative_theme"] = theme
		result.NarrativeTheme = theme
	}
	if actions := cleanStrings(out.RecommendedActions, 10); len(actions) > 0 {
		fields["recommended_actions"] = actions
		result.RecommendedActions = actions
	}
	stageFields(fields, model.StageDeep)

	if err := a.store.UpdatePostFields(ctx, postID, fields); err != nil {
		return nil, eris.Wrapf(err, "deep: update post %s", postID)
	}
	logStageDone(model.StageDeep, postID, fields)

	return result, nil
}
