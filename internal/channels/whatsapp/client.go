package whatsapp

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/twilio/twilio-go"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"
)

// messageCreator is the Twilio Messages resource.
type messageCreator interface {
	CreateMessage(params *twilioApi.CreateMessageParams) (*twilioApi.ApiV2010Message, error)
}

// ClientConfig holds Twilio REST credentials.
type ClientConfig struct {
	AccountSID string
	AuthToken  string
	// From is the sending WhatsApp number, with or without the whatsapp: prefix.
	From string
}

// Client sends WhatsApp messages through the Twilio REST API.
type Client struct {
	api  messageCreator
	from string
}

// NewClient builds a client backed by the Twilio SDK.
func NewClient(cfg ClientConfig) (*Client, error) {
	if cfg.AccountSID == "" || cfg.AuthToken == "" {
		return nil, errors.New("whatsapp: account SID and auth token must be provided")
	}
	if cfg.From == "" {
		return nil, errors.New("whatsapp: sending number must be provided")
	}
	rest := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: cfg.AccountSID,
		Password: cfg.AuthToken,
	})
	return newClient(rest.Api, cfg.From), nil
}

func newClient(api messageCreator, from string) *Client {
	return &Client{api: api, from: address(from)}
}

// SendText sends a text body to the WhatsApp user waID.
func (c *Client) SendText(ctx context.Context, waID, text string) error {
	params := &twilioApi.CreateMessageParams{}
	params.SetBody(text)
	return c.send(ctx, waID, params)
}

// SendPhoto sends an image by URL.
func (c *Client) SendPhoto(ctx context.Context, waID, url string) error {
	return c.sendMedia(ctx, waID, url)
}

// SendAudio sends an audio file by URL.
func (c *Client) SendAudio(ctx context.Context, waID, url string) error {
	return c.sendMedia(ctx, waID, url)
}

func (c *Client) sendMedia(ctx context.Context, waID, url string) error {
	params := &twilioApi.CreateMessageParams{}
	params.SetMediaUrl([]string{url})
	return c.send(ctx, waID, params)
}

func (c *Client) send(ctx context.Context, waID string, params *twilioApi.CreateMessageParams) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	params.SetTo(address(waID))
	params.SetFrom(c.from)
	if _, err := c.api.CreateMessage(params); err != nil {
		return fmt.Errorf("whatsapp: create message: %w", err)
	}
	return nil
}

// address formats a phone number as a Twilio WhatsApp address.
func address(number string) string {
	number = strings.TrimSpace(number)
	if strings.HasPrefix(number, "whatsapp:") {
		return number
	}
	if !strings.HasPrefix(number, "+") {
		number = "+" + number
	}
	return "whatsapp:" + number
}
