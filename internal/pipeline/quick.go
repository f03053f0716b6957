package pipeline

import (
	"context"
	"fmt"

	"github.com/rotisserie/eris"

	"github.com/meridian-intel/sentinel-cli/internal/llm"
	"github.com/meridian-intel/sentinel-cli/internal/model"
)

const quickSystemPrompt = `You screen content for signs of coordinated influence operations (psyops). Score the likelihood that this content is part of such an operation. Respond with a valid JSON object: {"risk_score": <0-100>, "is_psyop": <true|false>, "needs_deep_analysis": <true|false>, "indicators": ["<observed manipulation indicators>"]}`

const quickUserPrompt = `Source: %s
Title: %s
Summary: %s

Content:
%s`

type quickOutput struct {
	RiskScore         float64  `json:"risk_score"`
	IsPsyop           bool     `json:"is_psyop"`
	NeedsDeepAnalysis bool     `json:"needs_deep_analysis"`
	Indicators        []string `json:"indicators"`
}

// QuickResult mirrors the fields written to storage.
type QuickResult struct {
	PostID            string   `json:"post_id"`
	RiskScore         float64  `json:"risk_score"`
	IsPsyop           bool     `json:"is_psyop"`
	NeedsDeepAnalysis bool     `json:"needs_deep_analysis"`
	Indicators        []string `json:"indicators,omitempty"`
}

// QuickScreen runs the cheap first-pass classification: a risk score, a
// boolean verdict and a flag requesting deeper analysis. On unparseable
// model output nothing is written.
func (a *Analyzer) QuickScreen(ctx context.Context, postID string) (*QuickResult, error) {
	post, err := a.fetchPost(ctx, postID)
	if err != nil {
		return nil, err
	}

	summary := ""
	if post.Summary != nil {
		summary = *post.Summary
	}

	completion, err := a.complete(ctx, model.StageQuick, postID, llm.Request{
		System: quickSystemPrompt,
		Prompt: fmt.Sprintf(quickUserPrompt, post.Source, post.Title, summary, a.truncate(post.Content)),
	})
	if err != nil {
		return nil, err
	}

	out, err := llm.Decode[quickOutput](completion.Text)
	if err != nil {
		return nil, eris.Wrapf(err, "quick: post %s", postID)
	}

	score := clampScore(out.RiskScore)
	fields := map[string]any{
		"risk_score":          score,
		"is_psyop":            out.IsPsyop,
		"needs_deep_analysis": out.NeedsDeepAnalysis,
	}
	indicators := cleanStrings(out.Indicators, 12)
	if len(indicators) > 0 {
		fields["indicators"] = indicators
	}
	stageFields(fields, model.StageQuick)

	if err := a.store.UpdatePostFields(ctx, postID, fields); err != nil {
		return nil, eris.Wrapf(err, "quick: update post %s", postID)
	}
	logStageDone(model.StageQuick, postID, fields)

	return &QuickResult{
		PostID:            postID,
		RiskScore:         score,
		IsPsyop:           out.IsPsyop,
		NeedsDeepAnalysis: out.NeedsDeepAnalysis,
		Indicators:        indicators,
	}, nil
}

func clampScore(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}
