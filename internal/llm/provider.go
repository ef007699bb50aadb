package llm

import (
	"context"
	"fmt"
	"strings"
)

// ProviderOptions carries the server-side credentials for every provider.
type ProviderOptions struct {
	GeminiAPIKey   string
	GeminiModel    string
	OpenAIAPIKey   string
	OpenAIModel    string
	Bedrock        bedrockConverseAPI
	BedrockModelID string
}

// NewProvider builds the named provider client.
func NewProvider(ctx context.Context, name string, opts ProviderOptions) (Client, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case ProviderGemini:
		return NewGeminiClient(ctx, opts.GeminiAPIKey, opts.GeminiModel)
	case ProviderOpenAI:
		return NewOpenAIClient(opts.OpenAIAPIKey, opts.OpenAIModel)
	case ProviderBedrock:
		if opts.Bedrock == nil {
			return nil, fmt.Errorf("llm: bedrock runtime client is required")
		}
		if strings.TrimSpace(opts.BedrockModelID) == "" {
			return nil, fmt.Errorf("llm: bedrock model id is required")
		}
		return NewBedrockClient(opts.Bedrock, opts.BedrockModelID), nil
	default:
		return nil, fmt.Errorf("llm: unknown provider %q", name)
	}
}
