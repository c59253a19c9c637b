// Package llm is the single-turn text generation boundary of the assistant.
package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/cexll/agentsdk-go/pkg/model"
	"github.com/zhuqingxun/echo/internal/config"
)

// Gateway produces one completion for a system prompt and a user prompt.
type Gateway interface {
	Complete(ctx context.Context, system, prompt string, maxTokens int) (string, error)
}

var ErrEmptyResponse = errors.New("llm: empty response")

// ModelGateway adapts an agentsdk-go model provider to Gateway.
type ModelGateway struct {
	provider  model.Provider
	modelName string
}

var _ Gateway = (*ModelGateway)(nil)

func NewModelGateway(provider model.Provider, modelName string) *ModelGateway {
	return &ModelGateway{provider: provider, modelName: modelName}
}

// NewGateway builds the provider selected by cfg.Provider.Type.
func NewGateway(cfg *config.Config) (*ModelGateway, error) {
	if strings.TrimSpace(cfg.Provider.APIKey) == "" {
		return nil, fmt.Errorf("llm: API key not set")
	}
	return NewModelGateway(NewProvider(cfg), cfg.Agent.Model), nil
}

func NewProvider(cfg *config.Config) model.Provider {
	switch cfg.Provider.Type {
	case config.ProviderOpenAI:
		return &model.OpenAIProvider{
			APIKey:    cfg.Provider.APIKey,
			BaseURL:   cfg.Provider.BaseURL,
			ModelName: cfg.Agent.Model,
			MaxTokens: cfg.Agent.MaxTokens,
		}
	default: // "anthropic" or empty
		return &model.AnthropicProvider{
			APIKey:    cfg.Provider.APIKey,
			BaseURL:   cfg.Provider.BaseURL,
			ModelName: cfg.Agent.Model,
			MaxTokens: cfg.Agent.MaxTokens,
		}
	}
}

// Complete returns the assistant text verbatim. The gateway does not retry;
// retries and timeouts belong to the provider.
func (g *ModelGateway) Complete(ctx context.Context, system, prompt string, maxTokens int) (string, error) {
	if g.provider == nil {
		return "", fmt.Errorf("llm: no model provider")
	}
	mdl, err := g.provider.Model(ctx)
	if err != nil {
		return "", fmt.Errorf("resolve model: %w", err)
	}

	resp, err := mdl.Complete(ctx, model.Request{
		Messages:  []model.Message{{Role: "user", Content: prompt}},
		System:    system,
		MaxTokens: maxTokens,
		Model:     g.modelName,
	})
	if err != nil {
		return "", fmt.Errorf("complete: %w", err)
	}
	if resp == nil || strings.TrimSpace(resp.Message.Content) == "" {
		return "", ErrEmptyResponse
	}
	return resp.Message.Content, nil
}
