package relay

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/wolfman30/chatbot-relay/internal/media"
	"github.com/wolfman30/chatbot-relay/internal/speech"
	"github.com/wolfman30/chatbot-relay/pkg/logging"
)

const voiceContentType = "audio/ogg"

// Fetcher downloads inbound media from a channel.
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, string, error)
}

// Ingestor turns channel media into payloads: the file is copied to the blob
// store and voice notes are transcribed.
type Ingestor struct {
	fetcher     Fetcher
	blobs       media.BlobStore
	transcriber speech.Transcriber
	timeout     time.Duration
	logger      *logging.Logger
}

func NewIngestor(fetcher Fetcher, blobs media.BlobStore, transcriber speech.Transcriber, timeout time.Duration, logger *logging.Logger) *Ingestor {
	if fetcher == nil {
		panic("relay: fetcher cannot be nil")
	}
	if blobs == nil {
		panic("relay: blob store cannot be nil")
	}
	if timeout <= 0 {
		timeout = defaultCallTimeout
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Ingestor{fetcher: fetcher, blobs: blobs, transcriber: transcriber, timeout: timeout, logger: logger}
}

// Audio stores a voice note and transcribes it.
func (i *Ingestor) Audio(ctx context.Context, userToken string, ts time.Time, sourceURL string) (AudioPayload, error) {
	if i.transcriber == nil {
		return AudioPayload{}, errors.New("relay: speech recognition not configured")
	}
	data, err := i.fetch(ctx, sourceURL)
	if err != nil {
		return AudioPayload{}, err
	}
	url, err := i.store(ctx, media.InboundAudioKey(userToken, ts), voiceContentType, data)
	if err != nil {
		return AudioPayload{}, err
	}

	callCtx, cancel := context.WithTimeout(ctx, i.timeout)
	defer cancel()
	transcript, err := i.transcriber.Transcribe(callCtx, data, voiceContentType)
	if err != nil {
		return AudioPayload{}, fmt.Errorf("relay: transcribe voice note: %w", err)
	}
	i.logger.Debug("relay: voice note ingested", "user", userToken, "url", url)
	return AudioPayload{URL: url, Transcript: transcript}, nil
}

// Unsupported stores a media file the dialogue backend cannot handle.
func (i *Ingestor) Unsupported(ctx context.Context, userToken string, ts time.Time, sourceURL, ext string) (UnsupportedMediaPayload, error) {
	data, contentType, err := i.fetchWithType(ctx, sourceURL)
	if err != nil {
		return UnsupportedMediaPayload{}, err
	}
	if ext == "" {
		ext = media.Extension(sourceURL)
	}
	url, err := i.store(ctx, media.UserMediaKey(userToken, ts, ext), contentType, data)
	if err != nil {
		return UnsupportedMediaPayload{}, err
	}
	return UnsupportedMediaPayload{URL: url}, nil
}

func (i *Ingestor) fetch(ctx context.Context, url string) ([]byte, error) {
	data, _, err := i.fetchWithType(ctx, url)
	return data, err
}

func (i *Ingestor) fetchWithType(ctx context.Context, url string) ([]byte, string, error) {
	callCtx, cancel := context.WithTimeout(ctx, i.timeout)
	defer cancel()
	data, contentType, err := i.fetcher.Fetch(callCtx, url)
	if err != nil {
		return nil, "", fmt.Errorf("relay: download media: %w", err)
	}
	return data, contentType, nil
}

func (i *Ingestor) store(ctx context.Context, key, contentType string, data []byte) (string, error) {
	callCtx, cancel := context.WithTimeout(ctx, i.timeout)
	defer cancel()
	url, err := i.blobs.Store(callCtx, key, contentType, data)
	if err != nil {
		return "", fmt.Errorf("relay: store media: %w", err)
	}
	return url, nil
}
