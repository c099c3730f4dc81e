package speech

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/IBM/go-sdk-core/v5/core"
	"github.com/watson-developer-cloud/go-sdk/v3/speechtotextv1"
	"github.com/wolfman30/chatbot-relay/pkg/logging"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

var sttTracer = otel.Tracer("chatbot-relay.internal.speech.stt")

// STTClient transcribes audio with the hosted speech-to-text service.
type STTClient struct {
	service *speechtotextv1.SpeechToTextV1
	model   string
	logger  *logging.Logger
}

var _ Transcriber = (*STTClient)(nil)

func NewSTTClient(cfg ServiceConfig, model string, logger *logging.Logger) (*STTClient, error) {
	if strings.TrimSpace(cfg.ServiceURL) == "" {
		return nil, errors.New("speech: stt service url cannot be empty")
	}
	if logger == nil {
		logger = logging.Default()
	}
	service, err := speechtotextv1.NewSpeechToTextV1(&speechtotextv1.SpeechToTextV1Options{
		URL:           cfg.url(),
		Authenticator: cfg.authenticator(),
	})
	if err != nil {
		return nil, fmt.Errorf("speech: configure stt: %w", err)
	}
	service.Service.SetHTTPClient(cfg.client())
	return &STTClient{service: service, model: model, logger: logger}, nil
}

// Transcribe returns the best transcript, or Unrecognized when nothing was heard.
func (c *STTClient) Transcribe(ctx context.Context, audio []byte, contentType string) (string, error) {
	ctx, span := sttTracer.Start(ctx, "speech.stt.recognize")
	defer span.End()
	span.SetAttributes(attribute.Int("relay.audio_bytes", len(audio)))

	if contentType == "" {
		contentType = "audio/ogg"
	}
	opts := &speechtotextv1.RecognizeOptions{
		Audio:       io.NopCloser(bytes.NewReader(audio)),
		ContentType: core.StringPtr(contentType),
	}
	if c.model != "" {
		opts.Model = core.StringPtr(c.model)
	}

	results, detail, err := c.service.RecognizeWithContext(ctx, opts)
	if err != nil {
		err = serviceError("stt", detail, err)
		span.RecordError(err)
		return "", err
	}
	if results == nil || len(results.Results) == 0 || len(results.Results[0].Alternatives) == 0 {
		c.logger.Info("speech: no speech detected", "audio_bytes", len(audio))
		return Unrecognized, nil
	}
	best := results.Results[0].Alternatives[0].Transcript
	if best == nil || strings.TrimSpace(*best) == "" {
		return Unrecognized, nil
	}
	return strings.TrimSpace(*best), nil
}
