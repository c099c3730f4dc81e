package media

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Downloader fetches media from channel-hosted URLs.
type Downloader struct {
	httpClient *http.Client
	username   string
	password   string
	maxBytes   int64
}

// NewDownloader builds a downloader. username/password enable basic auth,
// which Twilio requires for media URLs.
func NewDownloader(timeout time.Duration, username, password string) *Downloader {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Downloader{
		httpClient: &http.Client{Timeout: timeout},
		username:   username,
		password:   password,
		maxBytes:   25 << 20,
	}
}

// Fetch downloads url and returns its body and content type.
func (d *Downloader) Fetch(ctx context.Context, url string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", fmt.Errorf("media: build download request: %w", err)
	}
	if d.username != "" {
		req.SetBasicAuth(d.username, d.password)
	}
	resp, err := d.httpClient.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("media: download failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("media: download status %d", resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, d.maxBytes+1))
	if err != nil {
		return nil, "", fmt.Errorf("media: read download: %w", err)
	}
	if int64(len(data)) > d.maxBytes {
		return nil, "", fmt.Errorf("media: file exceeds %d bytes", d.maxBytes)
	}
	return data, resp.Header.Get("Content-Type"), nil
}
