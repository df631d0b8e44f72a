package router

import (
	"context"
	"fmt"

	"charm.land/fantasy"
)

// ModelPricing is the per-million-token cost of one model, used to compute
// CompletionResponse.Cost for adapters whose SDK does not report cost
// directly.
type ModelPricing struct {
	InputCostPerMillion  float64
	OutputCostPerMillion float64
}

func (p ModelPricing) cost(inputTokens, outputTokens int64) float64 {
	return float64(inputTokens)*p.InputCostPerMillion/1_000_000 +
		float64(outputTokens)*p.OutputCostPerMillion/1_000_000
}

// FantasyAdapter implements Adapter over a charm.land/fantasy provider
// (Anthropic, OpenRouter, or any other fantasy.Provider implementation).
type FantasyAdapter struct {
	provider fantasy.Provider
	pricing  map[string]ModelPricing
}

// NewFantasyAdapter wraps a fantasy.Provider. pricing maps model id to its
// per-million-token rates; models absent from pricing report Cost 0.
func NewFantasyAdapter(provider fantasy.Provider, pricing map[string]ModelPricing) (*FantasyAdapter, error) {
	if provider == nil {
		return nil, fmt.Errorf("fantasy adapter: provider is required")
	}
	return &FantasyAdapter{provider: provider, pricing: pricing}, nil
}

// Complete implements Adapter.
func (a *FantasyAdapter) Complete(ctx context.Context, req CompletionRequest) (CompletionResponse, error) {
	lm, err := a.provider.LanguageModel(ctx, req.Model)
	if err != nil {
		return CompletionResponse{}, fmt.Errorf("fantasy adapter: resolve model %q: %w", req.Model, err)
	}

	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = 8192
	}
	maxTokens64 := int64(maxTokens)

	prompt := fantasy.Prompt{}
	if req.SystemPrompt != "" {
		prompt = append(prompt, fantasy.NewSystemMessage(req.SystemPrompt))
	}
	prompt = append(prompt, fantasy.NewUserMessage(req.UserPrompt))

	call := fantasy.Call{
		Prompt:          prompt,
		MaxOutputTokens: &maxTokens64,
	}

	resp, err := lm.Generate(ctx, call)
	if err != nil {
		return CompletionResponse{}, fmt.Errorf("fantasy adapter: generate: %w", err)
	}

	content := resp.Content.Text()
	if content == "" {
		return CompletionResponse{}, fmt.Errorf("fantasy adapter: empty response")
	}

	inputTokens := int64(resp.Usage.InputTokens)
	outputTokens := int64(resp.Usage.OutputTokens)

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
