package dialogue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	brtypes "github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/wolfman30/chatbot-relay/pkg/logging"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

type bedrockConverseAPI interface {
	Converse(ctx context.Context, params *bedrockruntime.ConverseInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error)
}

// BedrockConfig configures the generative backend.
type BedrockConfig struct {
	ModelID      string
	SystemPrompt string
	// SessionTTL is the inactivity window after which a session is forgotten.
	SessionTTL time.Duration
	// MaxHistory caps the number of turns replayed to the model.
	MaxHistory int
	MaxTokens  int32
}

type chatTurn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// BedrockBackend is a Backend over the Bedrock Converse API. Session
// transcripts live in Redis and expire like hosted assistant sessions do.
type BedrockBackend struct {
	api    bedrockConverseAPI
	redis  *redis.Client
	cfg    BedrockConfig
	logger *logging.Logger
	tracer trace.Tracer
}

var _ Backend = (*BedrockBackend)(nil)

func NewBedrockBackend(api bedrockConverseAPI, client *redis.Client, cfg BedrockConfig, logger *logging.Logger) *BedrockBackend {
	if api == nil {
		panic("dialogue: bedrock converse client cannot be nil")
	}
	if client == nil {
		panic("dialogue: redis client cannot be nil")
	}
	if strings.TrimSpace(cfg.ModelID) == "" {
		panic("dialogue: bedrock model id cannot be empty")
	}
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = 30 * time.Minute
	}
	if cfg.MaxHistory <= 0 {
		cfg.MaxHistory = 20
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 512
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &BedrockBackend{
		api:    api,
		redis:  client,
		cfg:    cfg,
		logger: logger,
		tracer: otel.Tracer("chatbot-relay.internal.dialogue.bedrock"),
	}
}

func (b *BedrockBackend) CreateSession(ctx context.Context) (string, error) {
	id := uuid.NewString()
	if err := b.save(ctx, id, []chatTurn{}); err != nil {
		return "", err
	}
	return id, nil
}

func (b *BedrockBackend) SendTurn(ctx context.Context, sessionID, text string) (*TurnResult, error) {
	ctx, span := b.tracer.Start(ctx, "dialogue.bedrock.converse")
	defer span.End()
	span.SetAttributes(attribute.String("relay.session_id", sessionID))

	history, err := b.load(ctx, sessionID)
	if err != nil {
		if !errors.Is(err, ErrSessionNotFound) {
			span.RecordError(err)
		}
		return nil, err
	}
	history = append(history, chatTurn{Role: "user", Content: text})
	if len(history) > b.cfg.MaxHistory {
		history = history[len(history)-b.cfg.MaxHistory:]
		// Converse requires the first message to come from the user.
		for len(history) > 0 && history[0].Role != "user" {
			history = history[1:]
		}
	}

	input := &bedrockruntime.ConverseInput{
		ModelId:         aws.String(b.cfg.ModelID),
		Messages:        toBedrockMessages(history),
		InferenceConfig: &brtypes.InferenceConfiguration{MaxTokens: aws.Int32(b.cfg.MaxTokens)},
	}
	if strings.TrimSpace(b.cfg.SystemPrompt) != "" {
		input.System = []brtypes.SystemContentBlock{&brtypes.SystemContentBlockMemberText{Value: b.cfg.SystemPrompt}}
	}

	out, err := b.api.Converse(ctx, input)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("dialogue: bedrock converse: %w", err)
	}
	reply, err := extractText(out)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	history = append(history, chatTurn{Role: "assistant", Content: reply})
	if err := b.save(ctx, sessionID, history); err != nil {
		span.RecordError(err)
		return nil, err
	}
	return &TurnResult{Responses: []Response{{Kind: KindText, Text: reply}}}, nil
}

func (b *BedrockBackend) load(ctx context.Context, sessionID string) ([]chatTurn, error) {
	data, err := b.redis.Get(ctx, bedrockSessionKey(sessionID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("dialogue: failed to load session: %w", err)
	}
	var history []chatTurn
	if err := json.Unmarshal(data, &history); err != nil {
		return nil, fmt.Errorf("dialogue: failed to decode session: %w", err)
	}
	return history, nil
}

func (b *BedrockBackend) save(ctx context.Context, sessionID string, history []chatTurn) error {
	data, err := json.Marshal(history)
	if err != nil {
		return fmt.Errorf("dialogue: failed to marshal session: %w", err)
	}
	if err := b.redis.Set(ctx, bedrockSessionKey(sessionID), data, b.cfg.SessionTTL).Err(); err != nil {
		return fmt.Errorf("dialogue: failed to persist session: %w", err)
	}
	return nil
}

func toBedrockMessages(history []chatTurn) []brtypes.Message {
	messages := make([]brtypes.Message, 0, len(history))
	for _, turn := range history {
		role := brtypes.ConversationRoleUser
		if turn.Role == "assistant" {
			role = brtypes.ConversationRoleAssistant
		}
		messages = append(messages, brtypes.Message{
			Role:    role,
			Content: []brtypes.ContentBlock{&brtypes.ContentBlockMemberText{Value: turn.Content}},
		})
	}
	return messages
}

func extractText(out *bedrockruntime.ConverseOutput) (string, error) {
	if out == nil {
		return "", errors.New("dialogue: bedrock response is nil")
	}
	msg, ok := out.Output.(*brtypes.ConverseOutputMemberMessage)
	if !ok {
		return "", errors.New("dialogue: bedrock response did not include a message output")
	}
	var builder strings.Builder
	for _, block := range msg.Value.Content {
		if text, ok := block.(*brtypes.ContentBlockMemberText); ok {
			builder.WriteString(text.Value)
		}
	}
	reply := strings.TrimSpace(builder.String())
	if reply == "" {
		return "", errors.New("dialogue: bedrock response contained no text")
	}
	return reply, nil
}

func bedrockSessionKey(id string) string {
	return fmt.Sprintf("relay:bedrock:%s", id)
}
