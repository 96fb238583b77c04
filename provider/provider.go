package provider

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aaronlee0321/unified-rag/config"
	openai_provider "github.com/aaronlee0321/unified-rag/provider/openai"
)

// Client represents different LLM providers
type Client string

// OpenAI covers api.openai.com and any OpenAI-compatible endpoint.
const OpenAI Client = "openai"

// Provider is the interface that all LLM implementations must satisfy
type Provider interface {
	Generate(ctx context.Context, prompt, system string, temperature float64) (string, error)
}

// NewProvider creates a new LLM client based on the provided configuration
func NewProvider(cfg config.LLMConfig) (Provider, error) {
	switch Client(strings.ToLower(cfg.Type)) {
	case OpenAI, "":
		hosted := strings.TrimSpace(cfg.BaseURL) == "" || strings.Contains(cfg.BaseURL, "api.openai.com")
		if strings.TrimSpace(cfg.APIKey) == "" && hosted {
			return nil, errors.New("llm.api_key not set")
		}
		return openai_provider.NewOpenAIClient(cfg.APIKey, cfg.BaseURL, cfg.Model, cfg.MaxTokens, cfg.Timeout), nil
	default:
		return nil, fmt.Errorf("unsupported LLM provider %q", cfg.Type)
	}
}
