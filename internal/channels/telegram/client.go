package telegram

import (
	"context"
	"fmt"
	"strconv"

	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"
)

// botAPI is the part of *telego.Bot the adapter uses.
type botAPI interface {
	SendMessage(ctx context.Context, params *telego.SendMessageParams) (*telego.Message, error)
	SendPhoto(ctx context.Context, params *telego.SendPhotoParams) (*telego.Message, error)
	SendAudio(ctx context.Context, params *telego.SendAudioParams) (*telego.Message, error)
	GetFile(ctx context.Context, params *telego.GetFileParams) (*telego.File, error)
	FileDownloadURL(filepath string) string
}

var _ botAPI = (*telego.Bot)(nil)

// NewBot builds a Bot API client for token.
func NewBot(token string) (*telego.Bot, error) {
	bot, err := telego.NewBot(token)
	if err != nil {
		return nil, fmt.Errorf("telegram: create bot: %w", err)
	}
	return bot, nil
}

// Client sends answers to Telegram chats.
type Client struct {
	bot botAPI
}

func NewClient(bot botAPI) *Client {
	if bot == nil {
		panic("telegram: bot cannot be nil")
	}
	return &Client{bot: bot}
}

// SendText sends MarkdownV2 text. The caller escapes it.
func (c *Client) SendText(ctx context.Context, chatID, text string) error {
	id, err := parseChatID(chatID)
	if err != nil {
		return err
	}
	_, err = c.bot.SendMessage(ctx, &telego.SendMessageParams{
		ChatID:    tu.ID(id),
		Text:      text,
		ParseMode: telego.ModeMarkdownV2,
	})
	if err != nil {
		return fmt.Errorf("telegram: send message: %w", err)
	}
	return nil
}

// SendPhoto sends an image Telegram fetches from url.
func (c *Client) SendPhoto(ctx context.Context, chatID, url string) error {
	id, err := parseChatID(chatID)
	if err != nil {
		return err
	}
	if _, err := c.bot.SendPhoto(ctx, &telego.SendPhotoParams{
		ChatID: tu.ID(id),
		Photo:  tu.FileFromURL(url),
	}); err != nil {
		return fmt.Errorf("telegram: send photo: %w", err)
	}
	return nil
}

// SendAudio sends an audio file Telegram fetches from url.
func (c *Client) SendAudio(ctx context.Context, chatID, url string) error {
	id, err := parseChatID(chatID)
	if err != nil {
		return err
	}
	if _, err := c.bot.SendAudio(ctx, &telego.SendAudioParams{
		ChatID: tu.ID(id),
		Audio:  tu.FileFromURL(url),
	}); err != nil {
		return fmt.Errorf("telegram: send audio: %w", err)
	}
	return nil
}

// FileURL resolves a file id to a download URL.
func (c *Client) FileURL(ctx context.Context, fileID string) (string, error) {
	file, err := c.bot.GetFile(ctx, &telego.GetFileParams{FileID: fileID})
	if err != nil {
		return "", fmt.Errorf("telegram: get file: %w", err)
	}
	if file.FilePath == "" {
		return "", fmt.Errorf("telegram: file %s has no path", fileID)
	}
	return c.bot.FileDownloadURL(file.FilePath), nil
}

func parseChatID(chatID string) (int64, error) {
	id, err := strconv.ParseInt(chatID, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("telegram: invalid chat id %q: %w", chatID, err)
	}
	return id, nil
}
