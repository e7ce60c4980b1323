package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/cloudwego/eino-ext/components/model/ark"
	openaimodel "github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"
	"github.com/wwwzy/EstateAgent/internal/config"
)

// NewChatModel 按 model.provider 初始化对话模型（ark 或 openai 兼容接口）。
func NewChatModel(ctx context.Context, cfg config.ModelConfig) (model.ToolCallingChatModel, error) {
	var maxTokens *int
	if cfg.MaxTokens > 0 {
		maxTokens = &cfg.MaxTokens
	}
	temperature := cfg.Temperature

	switch cfg.Provider {
	case config.ProviderArk, "":
		if cfg.Ark.APIKey == "" || cfg.Ark.ModelID == "" {
			return nil, fmt.Errorf("ARK_API_KEY, ARK_MODEL_ID must be set")
		}
		cm, err := ark.NewChatModel(ctx, &ark.ChatModelConfig{
			APIKey:      cfg.Ark.APIKey,
			Model:       cfg.Ark.ModelID,
			BaseURL:     cfg.Ark.BaseURL,
			MaxTokens:   maxTokens,
			Temperature: &temperature,
		})
		if err != nil {
			return nil, fmt.Errorf("ark: create chat model: %w", err)
		}
		return cm, nil

	case config.ProviderOpenAI:
		if cfg.OpenAI.APIKey == "" {
			return nil, fmt.Errorf("OPENAI_API_KEY must be set")
		}
		modelName := strings.TrimSpace(cfg.OpenAI.Model)
		if modelName == "" {
			modelName = "gpt-4o"
		}
		cm, err := openaimodel.NewChatModel(ctx, &openaimodel.ChatModelConfig{
			BaseURL:     strings.TrimRight(cfg.OpenAI.BaseURL, "/"),
			APIKey:      strings.TrimSpace(cfg.OpenAI.APIKey),
			Model:       modelName,
			MaxTokens:   maxTokens,
			Temperature: &temperature,
			Timeout:     cfg.Timeout,
		})
		if err != nil {
			return nil, fmt.Errorf("openai: create chat model: %w", err)
		}
		return cm, nil

	default:
		return nil, fmt.Errorf("unknown model provider %q", cfg.Provider)
	}
}
