package bootstrap

import (
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/redis/go-redis/v9"

	appconfig "github.com/wolfman30/chatbot-relay/internal/config"
	"github.com/wolfman30/chatbot-relay/internal/dialogue"
	"github.com/wolfman30/chatbot-relay/pkg/logging"
)

// BuildDialogueBackend wires the backend named by DIALOGUE_BACKEND.
func BuildDialogueBackend(cfg *appconfig.Config, awsCfg aws.Config, redisClient *redis.Client, logger *logging.Logger) (dialogue.Backend, error) {
	if cfg == nil {
		return nil, fmt.Errorf("bootstrap: config is required")
	}
	if logger == nil {
		logger = logging.Default()
	}

	switch cfg.DialogueBackend {
	case "", "watson":
		if cfg.AssistantServiceURL == "" || cfg.AssistantID == "" {
			return nil, fmt.Errorf("bootstrap: assistant service url and id are required")
		}
		logger.Info("using hosted assistant backend", "assistant_id", cfg.AssistantID, "version", cfg.AssistantVersion)
		client, err := dialogue.NewAssistantClient(dialogue.AssistantConfig{
			ServiceURL:  cfg.AssistantServiceURL,
			AssistantID: cfg.AssistantID,
			APIKey:      cfg.AssistantAPIKey,
			Version:     cfg.AssistantVersion,
			Timeout:     cfg.ExternalCallTimeout,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("bootstrap: %w", err)
		}
		return client, nil
	case "bedrock":
		if cfg.BedrockModelID == "" {
			return nil, fmt.Errorf("bootstrap: bedrock model id is required")
		}
		if redisClient == nil {
			return nil, fmt.Errorf("bootstrap: bedrock backend needs redis for session transcripts")
		}
		logger.Info("using bedrock backend", "model", cfg.BedrockModelID)
		return dialogue.NewBedrockBackend(
			bedrockruntime.NewFromConfig(awsCfg),
			redisClient,
			dialogue.BedrockConfig{
				ModelID:      cfg.BedrockModelID,
				SystemPrompt: cfg.BedrockSystemPrompt,
				SessionTTL:   cfg.BedrockSessionTTL,
			},
			logger,
		), nil
	}
	return nil, fmt.Errorf("bootstrap: unknown dialogue backend %q", cfg.DialogueBackend)
}
