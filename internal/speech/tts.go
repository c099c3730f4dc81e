package speech

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/IBM/go-sdk-core/v5/core"
	"github.com/watson-developer-cloud/go-sdk/v3/texttospeechv1"
	"go.opentelemetry.io/otel"
)

var ttsTracer = otel.Tracer("chatbot-relay.internal.speech.tts")

const maxSynthesizedBytes = 25 << 20

// TTSClient synthesizes mp3 speech with the hosted text-to-speech service.
type TTSClient struct {
	service *texttospeechv1.TextToSpeechV1
	voice   string
}

var _ Synthesizer = (*TTSClient)(nil)

func NewTTSClient(cfg ServiceConfig, voice string) (*TTSClient, error) {
	if strings.TrimSpace(cfg.ServiceURL) == "" {
		return nil, errors.New("speech: tts service url cannot be empty")
	}
	service, err := texttospeechv1.NewTextToSpeechV1(&texttospeechv1.TextToSpeechV1Options{
		URL:           cfg.url(),
		Authenticator: cfg.authenticator(),
	})
	if err != nil {
		return nil, fmt.Errorf("speech: configure tts: %w", err)
	}
	service.Service.SetHTTPClient(cfg.client())
	return &TTSClient{service: service, voice: voice}, nil
}

func (c *TTSClient) Synthesize(ctx context.Context, text string) ([]byte, error) {
	ctx, span := ttsTracer.Start(ctx, "speech.tts.synthesize")
	defer span.End()

	opts := &texttospeechv1.SynthesizeOptions{
		Text:   core.StringPtr(text),
		Accept: core.StringPtr("audio/mp3"),
	}
	if c.voice != "" {
		opts.Voice = core.StringPtr(c.voice)
	}

	body, detail, err := c.service.SynthesizeWithContext(ctx, opts)
	if err != nil {
		err = serviceError("tts", detail, err)
		span.RecordError(err)
		return nil, err
	}
	if body == nil {
		return nil, errors.New("speech: tts returned no audio")
	}
	defer body.Close()

	audio, err := io.ReadAll(io.LimitReader(body, maxSynthesizedBytes))
	if err != nil {
		return nil, fmt.Errorf("speech: read tts audio: %w", err)
	}
	if len(audio) == 0 {
		return nil, errors.New("speech: tts returned no audio")
	}
	return audio, nil
}
