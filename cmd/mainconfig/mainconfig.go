package mainconfig

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"

	appconfig "github.com/wolfman30/movement-intake/internal/config"
	"github.com/wolfman30/movement-intake/internal/llm"
	"github.com/wolfman30/movement-intake/internal/observability/metrics"
	"github.com/wolfman30/movement-intake/pkg/logging"
)

// LoadAWSConfig centralizes AWS SDK initialization so both binaries share the
// same LocalStack/production wiring.
func LoadAWSConfig(ctx context.Context, cfg *appconfig.Config) (aws.Config, error) {
	loaders := []func(*config.LoadOptions) error{config.WithRegion(cfg.AWSRegion)}
	if strings.TrimSpace(cfg.AWSAccessKeyID) != "" && strings.TrimSpace(cfg.AWSSecretAccessKey) != "" {
		loaders = append(loaders, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AWSAccessKeyID, cfg.AWSSecretAccessKey, ""),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, loaders...)
	if err != nil {
		return aws.Config{}, err
	}
	return awsCfg, nil
}

// NewBedrockRuntime builds the Bedrock runtime client, honoring
// AWS_ENDPOINT_OVERRIDE for local emulators.
func NewBedrockRuntime(awsCfg aws.Config, cfg *appconfig.Config) *bedrockruntime.Client {
	return bedrockruntime.NewFromConfig(awsCfg, func(o *bedrockruntime.Options) {
		if endpoint := strings.TrimSpace(cfg.AWSEndpointOverride); endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
	})
}

// NewModel builds the configured model client: the primary provider, wrapped
// with a timeout and latency metrics, falling back to the secondary provider
// when one is configured. A secondary that cannot be built is logged and
// skipped.
func NewModel(ctx context.Context, cfg *appconfig.Config, m *metrics.IntakeMetrics, logger *logging.Logger) (llm.Client, error) {
	if logger == nil {
		logger = logging.Default()
	}

	primary, err := newProvider(ctx, cfg, cfg.LLMProvider)
	if err != nil {
		return nil, fmt.Errorf("primary model %q: %w", cfg.LLMProvider, err)
	}
	client := llm.Client(llm.Instrument(primary, cfg.LLMProvider, cfg.LLMTimeout, m))

	name := cfg.LLMFallbackProvider
	if name == "" || name == cfg.LLMProvider {
		return client, nil
	}
	secondary, err := newProvider(ctx, cfg, name)
	if err != nil {
		logger.Warn("fallback model unavailable", "provider", name, "error", err)
		return client, nil
	}
	logger.Info("fallback model configured", "primary", cfg.LLMProvider, "fallback", name)
	return llm.NewFallbackClient(client, llm.Instrument(secondary, name, cfg.LLMTimeout, m), logger), nil
}

func newProvider(ctx context.Context, cfg *appconfig.Config, name string) (llm.Client, error) {
	opts := llm.ProviderOptions{
		GeminiAPIKey:   cfg.GeminiAPIKey,
		GeminiModel:    cfg.GeminiModel,
		OpenAIAPIKey:   cfg.OpenAIAPIKey,
		OpenAIModel:    cfg.OpenAIModel,
		BedrockModelID: cfg.BedrockModelID,
	}
	if strings.EqualFold(strings.TrimSpace(name), llm.ProviderBedrock) {
		awsCfg, err := LoadAWSConfig(ctx, cfg)
		if err != nil {
			return nil, fmt.Errorf("load aws config: %w", err)
		}
		opts.Bedrock = NewBedrockRuntime(awsCfg, cfg)
	}
	return llm.NewProvider(ctx, name, opts)
}
