package analysis

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/sashabaranov/go-openai"

	"github.com/c360/annostream/errors"
	"github.com/c360/annostream/pkg/retry"
)

// DefaultModel is used when no model is configured
const DefaultModel = openai.GPT4oMini

// chatClient is the slice of the OpenAI API the analyzer uses.
// Satisfied by *openai.Client, replaced in tests.
type chatClient interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// OpenAIOption is a functional option for configuring the OpenAIAnalyzer
type OpenAIOption func(*OpenAIAnalyzer)

// WithModel overrides the completion model
func WithModel(model string) OpenAIOption {
	return func(a *OpenAIAnalyzer) {
		if model != "" {
			a.model = model
		}
	}
}

// WithRetryConfig overrides the request retry policy
func WithRetryConfig(cfg retry.Config) OpenAIOption {
	return func(a *OpenAIAnalyzer) {
		a.retryConfig = cfg
	}
}

// WithAnalyzerLogger sets a custom logger
func WithAnalyzerLogger(logger *slog.Logger) OpenAIOption {
	return func(a *OpenAIAnalyzer) {
		if logger != nil {
			a.logger = logger
		}
	}
}

// withChatClient swaps the API client (tests)
func withChatClient(client chatClient) OpenAIOption {
	return func(a *OpenAIAnalyzer) {
		a.client = client
	}
}

// OpenAIAnalyzer produces analysis results via the OpenAI chat completion
// API in JSON mode. Transient API failures are retried with backoff.
type OpenAIAnalyzer struct {
	client      chatClient
	model       string
	retryConfig retry.Config
	logger      *slog.Logger
}

// NewOpenAIAnalyzer creates an analyzer backed by the OpenAI API. baseURL
// is optional and supports API-compatible gateways.
func NewOpenAIAnalyzer(apiKey, baseURL string, opts ...OpenAIOption) *OpenAIAnalyzer {
	clientConfig := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		clientConfig.BaseURL = baseURL
	}

	a := &OpenAIAnalyzer{
		client:      openai.NewClientWithConfig(clientConfig),
		model:       DefaultModel,
		retryConfig: retry.Quick(),
		logger:      slog.Default().With("component", "openai-analyzer"),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Analyze runs one bulk analysis over the document text and returns the
// category mapping as raw JSON.
func (a *OpenAIAnalyzer) Analyze(ctx context.Context, req Request) (json.RawMessage, error) {
	if strings.TrimSpace(req.Text) == "" {
		return nil, errors.WrapInvalid(
			fmt.Errorf("document text is empty"),
			"OpenAIAnalyzer", "Analyze", "validate request")
	}

	chatReq := openai.ChatCompletionRequest{
		Model: a.model,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: buildUserPrompt(req)},
		},
	}

	resp, err := retry.DoWithResult(ctx, a.retryConfig, func() (openai.ChatCompletionResponse, error) {
		resp, err := a.client.CreateChatCompletion(ctx, chatReq)
		if err != nil {
			var apiErr *openai.APIError
			if stderrors.As(err, &apiErr) && apiErr.HTTPStatusCode >= 400 && apiErr.HTTPStatusCode < 500 && apiErr.HTTPStatusCode != 429 {
				return resp, retry.NonRetryable(err)
			}
			return resp, err
		}
		return resp, nil
	})
	if err != nil {
		return nil, errors.WrapTransient(err, "OpenAIAnalyzer", "Analyze", "chat completion")
	}

	if len(resp.Choices) == 0 {
		return nil, errors.WrapTransient(
			fmt.Errorf("completion returned no choices"),
			"OpenAIAnalyzer", "Analyze", "read completion")
	}

	content := resp.Choices[0].Message.Content
	if !json.Valid([]byte(content)) {
		a.logger.Warn("Model returned invalid JSON", "model", a.model, "length", len(content))
		return nil, errors.WrapInvalid(
			fmt.Errorf("completion is not valid JSON"),
			"OpenAIAnalyzer", "Analyze", "parse completion")
	}

	a.logger.Debug("Analysis complete",
		"model", a.model, "prompt_tokens", resp.Usage.PromptTokens,
		"completion_tokens", resp.Usage.CompletionTokens)

	return json.RawMessage(content), nil
}

const systemPrompt = `You extract structured research metadata from scientific text. ` +
	`Respond with a single JSON object mapping each requested property key to ` +
	`{"label": "<human label>", "values": [{"sentence": "<evidence>", "confidence": <0..1>}]}. ` +
	`Only include evidence found verbatim in the text. Omit properties with no evidence.`

func buildUserPrompt(req Request) string {
	var b strings.Builder
	if req.Title != "" {
		fmt.Fprintf(&b, "Title: %s\n\n", req.Title)
	}
	if len(req.Categories) > 0 {
		b.WriteString("Properties to extract:\n")
		for _, cat := range req.Categories {
			fmt.Fprintf(&b, "- %s: %s", cat.ID, cat.Label)
			if cat.Description != "" {
				fmt.Fprintf(&b, " (%s)", cat.Description)
			}
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}
	b.WriteString("Document text:\n")
	b.WriteString(req.Text)
	return b.String()
}
