// Package pipeline implements the staged content-analysis pipeline: four
// escalating LLM stages over stored posts, coordinated by a batch
// orchestrator that routes each post to the stages it still needs.
package pipeline

import (
	"context"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/meridian-intel/sentinel-cli/internal/cost"
	"github.com/meridian-intel/sentinel-cli/internal/llm"
	"github.com/meridian-intel/sentinel-cli/internal/model"
	"github.com/meridian-intel/sentinel-cli/internal/resilience"
	"github.com/meridian-intel/sentinel-cli/internal/store"
)

// ErrPostNotFound is returned when a stage is invoked for an unknown post ID.
var ErrPostNotFound = eris.New("post not found")

// ErrEmptyContent is returned when a post has no text to analyze.
var ErrEmptyContent = eris.New("post has no content")

// AnalyzerOptions bundles the knobs shared by all four stages.
type AnalyzerOptions struct {
	// Provider and Model identify the upstream for audit rows when a call
	// fails before producing a completion.
	Provider string
	Model    string

	Retry   resilience.RetryConfig
	Circuit resilience.CircuitBreakerConfig

	// CallsPerMinute paces LLM calls across a batch. Zero disables pacing.
	CallsPerMinute int

	// MaxContentChars truncates post content embedded in prompts.
	MaxContentChars int
}

// Analyzer runs the four analysis stages. Each stage is stateless: it
// re-reads the post, calls the LLM, and writes back only the fields the
// stage produced.
type Analyzer struct {
	store     store.Store
	completer llm.Completer
	auditor   *cost.Auditor

	provider        string
	model           string
	retry           resilience.RetryConfig
	breaker         *resilience.CircuitBreaker
	limiter         *rate.Limiter
	maxContentChars int
}

// NewAnalyzer creates an Analyzer over the given store and completer.
func NewAnalyzer(st store.Store, completer llm.Completer, auditor *cost.Auditor, opts AnalyzerOptions) *Analyzer {
	maxChars := opts.MaxContentChars
	if maxChars <= 0 {
		maxChars = 4000
	}

	var limiter *rate.Limiter
	if opts.CallsPerMinute > 0 {
		limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(opts.CallsPerMinute)), 1)
	}

	retryCfg := opts.Retry
	retryCfg.ShouldRetry = llm.ShouldRetry

	return &Analyzer{
		store:           st,
		completer:       completer,
		auditor:         auditor,
		provider:        opts.Provider,
		model:           opts.Model,
		retry:           retryCfg,
		breaker:         resilience.NewCircuitBreaker(opts.Circuit),
		limiter:         limiter,
		maxContentChars: maxChars,
	}
}

// fetchPost loads a post and validates it is analyzable.
func (a *Analyzer) fetchPost(ctx context.Context, postID string) (*model.Post, error) {
	if strings.TrimSpace(postID) == "" {
		return nil, eris.Wrap(ErrPostNotFound, "empty post id")
	}
	post, err := a.store.GetPost(ctx, postID)
	if err != nil {
		return nil, eris.Wrapf(err, "fetch post %s", postID)
	}
	if post == nil {
		return nil, eris.Wrapf(ErrPostNotFound, "%s", postID)
	}
	if strings.TrimSpace(post.Content) == "" {
		return nil, eris.Wrapf(ErrEmptyContent, "%s", postID)
	}
	return post, nil
}

// complete executes one rate-limited, retried, breaker-guarded LLM call and
// records an audit row for success and failure alike.
func (a *Analyzer) complete(ctx context.Context, stage model.AnalysisStage, postID string, req llm.Request) (*llm.Completion, error) {
	if a.limiter != nil {
		if err := a.limiter.Wait(ctx); err != nil {
			return nil, eris.Wrap(err, "rate limiter")
		}
	}

	// Copy the retry config: the Analyzer is shared across handlers, so the
	// per-stage callback must not touch shared state.
	retryCfg := a.retry
	retryCfg.OnRetry = resilience.RetryLogger(a.provider, string(stage))

	completion, err := resilience.DoVal(ctx, retryCfg, func(ctx context.Context) (*llm.Completion, error) {
		return resilience.ExecuteVal(ctx, a.breaker, func(ctx context.Context) (*llm.Completion, error) {
			return a.completer.Complete(ctx, req)
		})
	})

	provider, modelName := a.provider, a.model
	var usage model.TokenUsage
	if completion != nil {
		provider = completion.Provider
		modelName = completion.Model
		usage = completion.Usage
	}
	a.auditor.Record(ctx, provider, modelName, string(stage), postID, usage, err)

	if err != nil {
		return nil, eris.Wrapf(err, "%s: llm call for post %s", stage, postID)
	}
	return completion, nil
}

// truncate caps prompt content, backing up to a rune boundary so multi-byte
// text is never cut mid-rune.
func (a *Analyzer) truncate(content string) string {
	if len(content) <= a.maxContentChars {
		return content
	}
	cut := a.maxContentChars
	for cut > 0 && !utf8.RuneStart(content[cut]) {
		cut--
	}
	return content[:cut]
}

// stageFields appends the bookkeeping columns every successful stage write
// carries.
func stageFields(fields map[string]any, stage model.AnalysisStage) map[string]any {
	fields["last_analyzed_stage"] = string(stage)
	fields["analyzed_at"] = time.Now().UTC()
	return fields
}

func logStageDone(stage model.AnalysisStage, postID string, fields map[string]any) {
	zap.L().Info("stage complete",
		zap.String("stage", string(stage)),
		zap.String("post_id", postID),
		zap.Int("fields_written", len(fields)),
	)
}
