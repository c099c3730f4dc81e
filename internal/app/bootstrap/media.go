package bootstrap

import (
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	appconfig "github.com/wolfman30/chatbot-relay/internal/config"
	"github.com/wolfman30/chatbot-relay/internal/media"
	"github.com/wolfman30/chatbot-relay/internal/speech"
	"github.com/wolfman30/chatbot-relay/pkg/logging"
)

// BuildBlobStore returns the S3 media store, or nil when no bucket is set.
func BuildBlobStore(cfg *appconfig.Config, awsCfg aws.Config, logger *logging.Logger) (media.BlobStore, error) {
	if strings.TrimSpace(cfg.MediaBucket) == "" {
		return nil, nil
	}
	publicBase := cfg.MediaPublicBaseURL
	if publicBase == "" {
		publicBase = fmt.Sprintf("https://%s.s3.%s.amazonaws.com", cfg.MediaBucket, cfg.AWSRegion)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.S3UsePathStyle
	})
	return media.NewS3Store(client, cfg.MediaBucket, publicBase, logger), nil
}

// BuildSpeech returns the transcriber and synthesizer; either is nil when its
// service URL is unset.
func BuildSpeech(cfg *appconfig.Config, logger *logging.Logger) (speech.Transcriber, speech.Synthesizer, error) {
	var (
		stt speech.Transcriber
		tts speech.Synthesizer
	)
	if cfg.STTServiceURL != "" {
		client, err := speech.NewSTTClient(speech.ServiceConfig{
			ServiceURL: cfg.STTServiceURL,
			APIKey:     cfg.STTAPIKey,
			Timeout:    cfg.ExternalCallTimeout,
		}, cfg.STTModel, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("bootstrap: %w", err)
		}
		stt = client
	}
	if cfg.TTSServiceURL != "" {
		client, err := speech.NewTTSClient(speech.ServiceConfig{
			ServiceURL: cfg.TTSServiceURL,
			APIKey:     cfg.TTSAPIKey,
			Timeout:    cfg.ExternalCallTimeout,
		}, cfg.TTSDefaultVoice)
		if err != nil {
			return nil, nil, fmt.Errorf("bootstrap: %w", err)
		}
		tts = client
	}
	return stt, tts, nil
}
