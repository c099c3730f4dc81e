package dialogue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/IBM/go-sdk-core/v5/core"
	"github.com/watson-developer-cloud/go-sdk/v3/assistantv2"
	"github.com/wolfman30/chatbot-relay/pkg/logging"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

var assistantTracer = otel.Tracer("chatbot-relay.internal.dialogue.assistant")

// defaultSkill is the context skill that carries user-defined variables.
const defaultSkill = "main skill"

// AssistantConfig configures the hosted assistant client.
type AssistantConfig struct {
	ServiceURL  string
	AssistantID string
	// APIKey is exchanged for IAM bearer tokens. Empty sends no credentials.
	APIKey string
	// IAMURL overrides the IAM token endpoint.
	IAMURL     string
	Version    string
	Timeout    time.Duration
	HTTPClient *http.Client
}

// AssistantClient drives an intent-driven assistant through the Watson v2 SDK.
type AssistantClient struct {
	service     *assistantv2.AssistantV2
	assistantID string
	logger      *logging.Logger
}

var _ Backend = (*AssistantClient)(nil)

func NewAssistantClient(cfg AssistantConfig, logger *logging.Logger) (*AssistantClient, error) {
	if strings.TrimSpace(cfg.ServiceURL) == "" {
		return nil, errors.New("dialogue: assistant service url cannot be empty")
	}
	if strings.TrimSpace(cfg.AssistantID) == "" {
		return nil, errors.New("dialogue: assistant id cannot be empty")
	}
	if logger == nil {
		logger = logging.Default()
	}
	if cfg.Version == "" {
		cfg.Version = "2021-11-27"
	}

	service, err := assistantv2.NewAssistantV2(&assistantv2.AssistantV2Options{
		URL:           strings.TrimRight(cfg.ServiceURL, "/"),
		Version:       core.StringPtr(cfg.Version),
		Authenticator: authenticator(cfg.APIKey, cfg.IAMURL),
	})
	if err != nil {
		return nil, fmt.Errorf("dialogue: configure assistant: %w", err)
	}
	client := cfg.HTTPClient
	if client == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 15 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}
	service.Service.SetHTTPClient(client)

	return &AssistantClient{service: service, assistantID: cfg.AssistantID, logger: logger}, nil
}

// authenticator returns IAM authentication for apiKey, or none when it is empty.
func authenticator(apiKey, iamURL string) core.Authenticator {
	if strings.TrimSpace(apiKey) == "" {
		return &core.NoAuthAuthenticator{}
	}
	return &core.IamAuthenticator{ApiKey: apiKey, URL: iamURL}
}

// CreateSession opens a new assistant session.
func (c *AssistantClient) CreateSession(ctx context.Context) (string, error) {
	ctx, span := assistantTracer.Start(ctx, "dialogue.assistant.create_session")
	defer span.End()

	session, detail, err := c.service.CreateSessionWithContext(ctx, &assistantv2.CreateSessionOptions{
		AssistantID: core.StringPtr(c.assistantID),
	})
	if err != nil {
		err = assistantError("create session", detail, err)
		span.RecordError(err)
		return "", err
	}
	if session == nil || session.SessionID == nil || *session.SessionID == "" {
		err := errors.New("dialogue: assistant returned an empty session id")
		span.RecordError(err)
		return "", err
	}
	return *session.SessionID, nil
}

// genericOutput and messageContext pick the fields the relay reads out of the
// SDK's response models.
type genericOutput struct {
	Generic []struct {
		ResponseType string `json:"response_type"`
		Text         string `json:"text"`
		Source       string `json:"source"`
	} `json:"generic"`
}

type messageContext struct {
	Skills map[string]struct {
		UserDefined map[string]any `json:"user_defined"`
	} `json:"skills"`
}

// SendTurn sends one user utterance and returns the generic response elements.
// A 404 means the session expired.
func (c *AssistantClient) SendTurn(ctx context.Context, sessionID, text string) (*TurnResult, error) {
	if sessionID == "" {
		return nil, errors.New("dialogue: session id required")
	}
	ctx, span := assistantTracer.Start(ctx, "dialogue.assistant.message")
	defer span.End()
	span.SetAttributes(attribute.String("relay.session_id", sessionID))

	resp, detail, err := c.service.MessageWithContext(ctx, &assistantv2.MessageOptions{
		AssistantID: core.StringPtr(c.assistantID),
		SessionID:   core.StringPtr(sessionID),
		Input: &assistantv2.MessageInput{
			MessageType: core.StringPtr("text"),
			Text:        core.StringPtr(text),
			Options: &assistantv2.MessageInputOptions{
				ReturnContext: core.BoolPtr(true),
			},
		},
	})
	if err != nil {
		if detail != nil && detail.StatusCode == http.StatusNotFound {
			c.logger.Info("dialogue: assistant session expired", "session_id", sessionID)
			return nil, ErrSessionNotFound
		}
		err = assistantError("message", detail, err)
		span.RecordError(err)
		return nil, err
	}

	var output genericOutput
	var msgCtx messageContext
	if resp != nil {
		if err := remarshal(resp.Output, &output); err != nil {
			return nil, fmt.Errorf("dialogue: decode output: %w", err)
		}
		if err := remarshal(resp.Context, &msgCtx); err != nil {
			return nil, fmt.Errorf("dialogue: decode context: %w", err)
		}
	}

	result := &TurnResult{Responses: make([]Response, 0, len(output.Generic))}
	for _, g := range output.Generic {
		result.Responses = append(result.Responses, Response{
			Kind:   ResponseKind(g.ResponseType),
			Text:   g.Text,
			Source: g.Source,
		})
	}
	if skill, ok := msgCtx.Skills[defaultSkill]; ok && len(skill.UserDefined) > 0 {
		result.Features = skill.UserDefined
	}
	span.SetAttributes(attribute.Int("relay.response_count", len(result.Responses)))
	return result, nil
}

// remarshal copies an SDK model into a local view through its JSON form.
func remarshal(in, out any) error {
	if in == nil {
		return nil
	}
	raw, err := json.Marshal(in)
	if err != nil {
		return err
	}
	if string(raw) == "null" {
		return nil
	}
	return json.Unmarshal(raw, out)
}

func assistantError(op string, detail *core.DetailedResponse, err error) error {
	if detail != nil {
		return fmt.Errorf("dialogue: assistant %s: status %d: %w", op, detail.StatusCode, err)
	}
	return fmt.Errorf("dialogue: assistant %s: %w", op, err)
}
