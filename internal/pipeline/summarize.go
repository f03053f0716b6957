package pipeline

import (
	"context"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/meridian-intel/sentinel-cli/internal/llm"
	"github.com/meridian-intel/sentinel-cli/internal/model"
)

const summarizeSystemPrompt = `You summarize social media and news content for an influence-operation monitoring team. Respond with a valid JSON object: {"summary": "<2-3 sentence neutral summary>", "keywords": ["<up to 8 salient keywords>"]}`

const summarizeUserPrompt = `Source: %s
Title: %s

Content:
%s`

type summarizeOutput struct {
	Summary  string   `json:"summary"`
	Keywords []string `json:"keywords"`
}

// SummarizeResult mirrors the fields written to storage.
type SummarizeResult struct {
	PostID   string   `json:"post_id"`
	Summary  string   `json:"summary"`
	Keywords []string `json:"keywords,omitempty"`
}

// Summarize produces a short neutral summary and keyword list for a post.
// On unparseable model output nothing is written.
func (a *Analyzer) Summarize(ctx context.Context, postID string) (*SummarizeResult, error) {
	post, err := a.fetchPost(ctx, postID)
	if err != nil {
		return nil, err
	}

	completion, err := a.complete(ctx, model.StageSummarize, postID, llm.Request{
		System: summarizeSystemPrompt,
		Prompt: fmt.Sprintf(summarizeUserPrompt, post.Source, post.Title, a.truncate(post.Content)),
	})
	if err != nil {
		return nil, err
	}

	out, err := llm.Decode[summarizeOutput](completion.Text)
	if err != nil {
		return nil, eris.Wrapf(err, "summarize: post %s", postID)
	}

	summary := strings.TrimSpace(out.Summary)
	if summary == "" {
		return nil, eris.Wrapf(llm.ErrUnparseable, "summarize: empty summary for post %s", postID)
	}

	fields := map[string]any{"summary": summary}
	keywords := cleanStrings(out.Keywords, 8)
	if len(keywords) > 0 {
		fields["keywords"] = keywords
	}

	if err := a.store.UpdatePostFields(ctx, postID, fields); err != nil {
		return nil, eris.Wrapf(err, "summarize: update post %s", postID)
	}
	logStageDone(model.StageSummarize, postID, fields)

	return &SummarizeResult{PostID: postID, Summary: summary, Keywords: keywords}, nil
}

// cleanStrings trims, drops empties, dedupes case-insensitively and caps the
// list length.
func cleanStrings(values []string, maxLen int) []string {
	var out []string
	seen := make(map[string]bool)
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		key := strings.ToLower(v)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, v)
		if maxLen > 0 && len(out) >= maxLen {
			break
		}
	}
	return out
}
