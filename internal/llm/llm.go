// Package llm provides chat-completion clients for the model backends
// used by SQL generation. A Registry routes each request to the backend
// that serves the requested model.
package llm

import (
	"context"
	"fmt"
	"strings"
)

// Client produces a single completion for a fully assembled prompt.
type Client interface {
	Complete(ctx context.Context, model, prompt string) (string, error)
}

// Registry routes Complete calls by model name. Models prefixed with
// "claude" go to the Anthropic backend, everything else to the
// OpenAI-compatible backend.
type Registry struct {
	openAI    Client
	anthropic Client
}

func NewRegistry(openAI, anthropic Client) *Registry {
	return &Registry{openAI: openAI, anthropic: anthropic}
}

func (r *Registry) Complete(ctx context.Context, model, prompt string) (string, error) {
	backend, err := r.backendFor(model)
	if err != nil {
		return "", err
	}
	return backend.Complete(ctx, model, prompt)
}

func (r *Registry) backendFor(model string) (Client, error) {
	if strings.HasPrefix(strings.ToLower(strings.TrimSpace(model)), "claude") {
		if r.anthropic == nil {
			return nil, fmt.Errorf("anthropic backend is not configured")
		}
		return r.anthropic, nil
	}
	if r.openAI == nil {
		return nil, fmt.Errorf("openai backend is not configured")
	}
	return r.openAI, nil
}
