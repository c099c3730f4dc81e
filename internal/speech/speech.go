// Package speech wraps the hosted speech-to-text and text-to-speech services.
package speech

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/IBM/go-sdk-core/v5/core"
)

// Unrecognized is the transcript used when the service detects no speech.
const Unrecognized = "Message unrecognizable"

// Transcriber converts recorded audio to text.
type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte, contentType string) (string, error)
}

// Synthesizer converts text to encoded audio.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string) ([]byte, error)
}

// ServiceConfig points a client at one hosted speech service.
type ServiceConfig struct {
	ServiceURL string
	// APIKey is exchanged for IAM bearer tokens. Empty sends no credentials.
	APIKey     string
	IAMURL     string
	Timeout    time.Duration
	HTTPClient *http.Client
}

func (c ServiceConfig) client() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	timeout := c.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &http.Client{Timeout: timeout}
}

func (c ServiceConfig) url() string {
	return strings.TrimRight(c.ServiceURL, "/")
}

func (c ServiceConfig) authenticator() core.Authenticator {
	if strings.TrimSpace(c.APIKey) == "" {
		return &core.NoAuthAuthenticator{}
	}
	return &core.IamAuthenticator{ApiKey: c.APIKey, URL: c.IAMURL}
}

func serviceError(service string, detail *core.DetailedResponse, err error) error {
	if detail != nil {
		return fmt.Errorf("speech: %s status %d: %w", service, detail.StatusCode, err)
	}
	return fmt.Errorf("speech: %s: %w", service, err)
}
