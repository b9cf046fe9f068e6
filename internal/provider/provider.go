// Package provider builds the model-service client for the configured
// backend.
package provider

import (
	"context"
	"errors"
	"fmt"

	"github.com/stellarlinkco/sandclaw/internal/agent"
	"github.com/stellarlinkco/sandclaw/internal/config"
)

var ErrUnsupported = errors.New("unsupported provider")

// New returns a Completer for cfg.Provider.Type. Every backend makes exactly
// one request per Complete; sampling temperature is pinned to zero by the
// driver.
func New(ctx context.Context, cfg *config.Config) (agent.Completer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	switch cfg.Provider.Type {
	case config.ProviderGemini:
		g, err := NewGemini(ctx, GeminiConfig{
			APIKey:  cfg.Provider.APIKey,
			BaseURL: cfg.Provider.BaseURL,
			Model:   cfg.Agent.Model,
		})
		if err != nil {
			return nil, err
		}
		return g, nil
	case config.ProviderAnthropic:
		a, err := NewAnthropic(AnthropicConfig{
			APIKey:  cfg.Provider.APIKey,
			BaseURL: cfg.Provider.BaseURL,
			Model:   cfg.Agent.Model,
		})
		if err != nil {
			return nil, err
		}
		return a, nil
	case config.ProviderOpenAI:
		o, err := NewOpenAI(OpenAIConfig{
			APIKey:  cfg.Provider.APIKey,
			BaseURL: cfg.Provider.BaseURL,
			Model:   cfg.Agent.Model,
		})
		if err != nil {
			return nil, err
		}
		return o, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupported, cfg.Provider.Type)
	}
}
