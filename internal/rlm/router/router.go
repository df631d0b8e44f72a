// Package router dispatches completion requests to named LLM adapters and
// reports usage uniformly, regardless of which concrete provider served
// the request.
package router

import (
	"context"
	"fmt"
)

// CompletionRequest is what the Executor asks an Adapter to complete.
type CompletionRequest struct {
	Model        string
	SystemPrompt string
	UserPrompt   string
	MaxTokens    int // 0 means "adapter default"
}

// CompletionResponse is what an Adapter returns. Cost is 0 for local/free
// providers; the adapter alone is responsible for pricing.
type CompletionResponse struct {
	Content      string
	InputTokens  int64
	OutputTokens int64
	Cost         float64
}

// Adapter is the single-method contract every concrete LLM provider
// implements. Adapter failures propagate unchanged to the caller.
type Adapter interface {
	Complete(ctx context.Context, req CompletionRequest) (CompletionResponse, error)
}

// UnknownProviderError is returned by Complete when no adapter is
// registered under the requested provider id.
type UnknownProviderError struct {
	ProviderID string
}

func (e *UnknownProviderError) Error() string {
	return fmt.Sprintf("router: unknown provider %q", e.ProviderID)
}

// Router is a mapping from provider id to Adapter. It is read-only after
// setup and is the only object shared across an entire recursion tree
// (spec §5), so concurrent reads from multiple executors are safe as long
// as all Register calls happen before execution begins.
type Router struct {
	adapters map[string]Adapter
}

// New creates an empty Router.
func New() *Router {
	return &Router{adapters: make(map[string]Adapter)}
}

// Register associates an adapter with a provider id, replacing any
// previous registration under the same id.
func (r *Router) Register(id string, adapter Adapter) {
	r.adapters[id] = adapter
}

// GetAdapter returns the adapter registered under id, or nil if none.
func (r *Router) GetAdapter(id string) Adapter {
	return r.adapters[id]
}

// Complete dispatches req to the adapter registered under id.
func (r *Router) Complete(ctx context.Context, id string, req CompletionRequest) (CompletionResponse, error) {
	adapter, ok := r.adapters[id]
	if !ok {
		return CompletionResponse{}, &UnknownProviderError{ProviderID: id}
	}
	return adapter.Complete(ctx, req)
}
