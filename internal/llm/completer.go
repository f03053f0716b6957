// Package llm provides a provider-neutral completion interface plus the
// shared decode-and-validate routine for model output.
package llm

import (
	"context"
	"errors"

	"github.com/rotisserie/eris"

	"github.com/meridian-intel/sentinel-cli/internal/model"
	"github.com/meridian-intel/sentinel-cli/internal/resilience"
	"github.com/meridian-intel/sentinel-cli/pkg/anthropic"
	"github.com/meridian-intel/sentinel-cli/pkg/deepseek"
)

// Request is a single system+user prompt pair expecting a JSON completion.
type Request struct {
	System      string
	Prompt      string
	MaxTokens   int
	Temperature *float64
}

// Completion is the provider-neutral result of a chat completion.
type Completion struct {
	Text     string
	Model    string
	Provider string
	Usage    model.TokenUsage
}

// Completer executes one chat completion.
type Completer interface {
	Complete(ctx context.Context, req Request) (*Completion, error)
}

// ShouldRetry classifies completion errors as retryable: rate limits and
// server errors from the provider, plus generic transient network failures.
func ShouldRetry(err error) bool {
	var apiErr *deepseek.APIError
	if errors.As(err, &apiErr) {
		return resilience.IsTransientHTTPStatus(apiErr.StatusCode)
	}
	return resilience.IsTransient(err)
}

// deepseekCompleter adapts the DeepSeek client.
type deepseekCompleter struct {
	client    deepseek.Client
	model     string
	maxTokens int
}

// NewDeepSeek wraps a DeepSeek client as a Completer.
func NewDeepSeek(client deepseek.Client, modelName string, maxTokens int) Completer {
	return &deepseekCompleter{client: client, model: modelName, maxTokens: maxTokens}
}

func (c *deepseekCompleter) Complete(ctx context.Context, req Request) (*Completion, error) {
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = c.maxTokens
	}

	messages := make([]deepseek.Message, 0, 2)
	if req.System != "" {
		messages = append(messages, deepseek.Message{Role: "system", Content: req.System})
	}
	messages = append(messages, deepseek.Message{Role: "user", Content: req.Prompt})

	resp, err := c.client.ChatCompletion(ctx, deepseek.ChatCompletionRequest{
		Model:          c.model,
		Messages:       messages,
		Temperature:    req.Temperature,
		MaxTokens:      &maxTokens,
		ResponseFormat: &deepseek.ResponseFormat{Type: "json_object"},
	})
	if err != nil {
		return nil, err
	}
	if len(resp.Choices) == 0 {
		return nil, eris.New("llm: empty completion from deepseek")
	}

	return &Completion{
		Text:     resp.Choices[0].Message.Content,
		Model:    resp.Model,
		Provider: "deepseek",
		Usage: model.TokenUsage{
			InputTokens:  resp.Usage.PromptTokens,
			OutputTokens: resp.Usage.CompletionTokens,
		},
	}, nil
}

// anthropicCompleter adapts the Anthropic client.
type anthropicCompleter struct {
	client    anthropic.Client
	model     string
	maxTokens int
}

// NewAnthropic wraps an Anthropic client as a Completer.
func NewAnthropic(client anthropic.Client, modelName string, maxTokens int) Completer {
	return &anthropicCompleter{client: client, model: modelName, maxTokens: maxTokens}
}

func (c *anthropicCompleter) Complete(ctx context.Context, req Request) (*Completion, error) {
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = c.maxTokens
	}

	resp, err := c.client.CreateMessage(ctx, anthropic.MessageRequest{
		Model:       c.model,
		MaxTokens:   int64(maxTokens),
		System:      req.System,
		Messages:    []anthropic.Message{{Role: "user", Content: req.Prompt}},
		Temperature: req.Temperature,
	})
	if err != nil {
		return nil, err
	}

	return &Completion{
		Text:     resp.Text,
		Model:    resp.Model,
		Provider: "anthropic",
		Usage: model.TokenUsage{
			InputTokens:  int(resp.Usage.InputTokens),
			OutputTokens: int(resp.Usage.OutputTokens),
		},
	}, nil
}
