package router

import (
	"context"
	"fmt"

	"github.com/openai/openai-go/v2"
)

// OpenAIAdapter implements Adapter directly over openai-go/v2, independent
// of the fantasy abstraction, to exercise a second concrete SDK and
// demonstrate the Router dispatching to distinct providers by id.
type OpenAIAdapter struct {
	client  openai.Client
	pricing map[string]ModelPricing
}

// NewOpenAIAdapter wraps an already-configured openai.Client (built by the
// caller via openai.NewClient(option.WithAPIKey(...))).
func NewOpenAIAdapter(client openai.Client, pricing map[string]ModelPricing) *OpenAIAdapter {
	return &OpenAIAdapter{client: client, pricing: pricing}
}

// Complete implements Adapter.
func (a *OpenAIAdapter) Complete(ctx context.Context, req CompletionRequest) (CompletionResponse, error) {
	maxTokens := int64(req.MaxTokens)
	if maxTokens == 0 {
		maxTokens = 8192
	}

	messages := []openai.ChatCompletionMessageParamUnion{}
	if req.SystemPrompt != "" {
		messages = append(messages, openai.SystemMessage(req.SystemPrompt))
	}
	messages = append(messages, openai.UserMessage(req.UserPrompt))

	params := openai.ChatCompletionNewParams{
		Model:               req.Model,
		Messages:            messages,
		MaxCompletionTokens: openai.Int(maxTokens),
	}

	resp, err := a.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return CompletionResponse{}, fmt.Errorf("openai adapter: %w", err)
	}
	if len(resp.Choices) == 0 {
		return CompletionResponse{}, fmt.Errorf("openai adapter: no choices returned")
	}

	content := resp.Choices[0].Message.Content
	inputTokens := resp.Usage.PromptTokens
	outputTokens := resp.Usage.CompletionTokens

	var cost float64
	if p, ok := a.pricing[req.Model]; ok {
		cost = p.cost(inputTokens, outputTokens)
	}

	return CompletionResponse{
		Content:      content,
		InputTokens:  inputTokens,
		OutputTokens: outputTokens,
		Cost:         cost,
	}, nil
}
