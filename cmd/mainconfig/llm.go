package mainconfig

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"

	appconfig "github.com/wolfman30/clinic-whatsapp-ai/internal/config"
	"github.com/wolfman30/clinic-whatsapp-ai/internal/conversation"
	"github.com/wolfman30/clinic-whatsapp-ai/pkg/logging"
)

// NewLLM builds the completion client selected by AI_PROVIDER and returns it
// with the model name the classifiers should request. With ENABLE_FALLBACK
// a DeepSeek client answers when the primary provider fails.
func NewLLM(ctx context.Context, cfg *appconfig.Config, awsCfg aws.Config, logger *logging.Logger) (conversation.LLMClient, string, error) {
	var (
		primary conversation.LLMClient
		model   string
		err     error
	)
	switch cfg.AIProvider {
	case "", "openai":
		model = cfg.OpenAIModel
		primary, err = conversation.NewOpenAILLMClient(cfg.OpenAIAPIKey, "", model)
	case "deepseek":
		model = cfg.DeepSeekModel
		primary, err = conversation.NewOpenAILLMClient(cfg.DeepSeekAPIKey, cfg.DeepSeekBaseURL, model)
	case "bedrock":
		if cfg.BedrockModelID == "" {
			return nil, "", fmt.Errorf("mainconfig: BEDROCK_MODEL_ID is required for the bedrock provider")
		}
		model = cfg.BedrockModelID
		primary = conversation.NewBedrockLLMClient(bedrockruntime.NewFromConfig(awsCfg), model)
	case "gemini":
		model = cfg.GeminiModel
		primary, err = conversation.NewGeminiLLMClient(ctx, cfg.GeminiAPIKey, model)
	default:
		return nil, "", fmt.Errorf("mainconfig: unknown AI_PROVIDER %q", cfg.AIProvider)
	}
	if err != nil {
		return nil, "", fmt.Errorf("mainconfig: %s client: %w", cfg.AIProvider, err)
	}

	if !cfg.EnableFallback || cfg.AIProvider == "deepseek" {
		return primary, model, nil
	}
	fallback, err := conversation.NewOpenAILLMClient(cfg.DeepSeekAPIKey, cfg.DeepSeekBaseURL, cfg.DeepSeekModel)
	if err != nil {
		logger.Warn("llm fallback disabled", "error", err)
		return primary, model, nil
	}
	logger.Info("llm fallback enabled", "primary", cfg.AIProvider, "fallback_model", cfg.DeepSeekModel)
	return conversation.NewFallbackLLMClient(primary, fallback, cfg.DeepSeekModel, logger), model, nil
}
