package telegram

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/mymmrac/telego"
	"github.com/wolfman30/chatbot-relay/internal/identity"
	"github.com/wolfman30/chatbot-relay/internal/media"
	"github.com/wolfman30/chatbot-relay/internal/observability/metrics"
	"github.com/wolfman30/chatbot-relay/internal/relay"
	"github.com/wolfman30/chatbot-relay/pkg/logging"
)

const (
	Channel = "telegram"

	secretHeader       = "X-Telegram-Bot-Api-Secret-Token"
	maxUpdateBodyBytes = 1 << 20
)

// DefaultHelpMessage answers /help when no message is configured.
const DefaultHelpMessage = "Send me a text or a voice message and I will answer. Type /start to begin a new conversation."

// Pipeline runs a relay turn.
type Pipeline interface {
	HandleEvent(ctx context.Context, ev relay.InboundEvent) (relay.Answer, error)
	ResetKeyword() string
}

// Ingest turns Telegram media into relay payloads.
type Ingest interface {
	Audio(ctx context.Context, userToken string, ts time.Time, sourceURL string) (relay.AudioPayload, error)
	Unsupported(ctx context.Context, userToken string, ts time.Time, sourceURL, ext string) (relay.UnsupportedMediaPayload, error)
}

// Deliverer sends an answer to a chat.
type Deliverer interface {
	Deliver(ctx context.Context, to string, answer relay.Answer) error
}

// fileResolver maps a Telegram file id to a download URL.
type fileResolver interface {
	FileURL(ctx context.Context, fileID string) (string, error)
}

// WebhookConfig holds adapter settings.
type WebhookConfig struct {
	// Secret must match the secret token registered with setWebhook. Empty
	// disables the check.
	Secret      string
	HelpMessage string
}

// WebhookHandler receives Bot API updates and runs one relay turn per message.
type WebhookHandler struct {
	files    fileResolver
	pipeline Pipeline
	ingest   Ingest
	deliver  Deliverer
	cfg      WebhookConfig
	metrics  *metrics.RelayMetrics
	logger   *logging.Logger
}

func NewWebhookHandler(files fileResolver, pipeline Pipeline, ingest Ingest, deliver Deliverer, cfg WebhookConfig, m *metrics.RelayMetrics, logger *logging.Logger) *WebhookHandler {
	if files == nil || pipeline == nil || ingest == nil || deliver == nil {
		panic("telegram: webhook dependencies cannot be nil")
	}
	if strings.TrimSpace(cfg.HelpMessage) == "" {
		cfg.HelpMessage = DefaultHelpMessage
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &WebhookHandler{
		files:    files,
		pipeline: pipeline,
		ingest:   ingest,
		deliver:  deliver,
		cfg:      cfg,
		metrics:  m,
		logger:   logger.Component("telegram"),
	}
}

var errIgnored = errors.New("telegram: nothing to relay")

func (h *WebhookHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.cfg.Secret != "" && subtle.ConstantTimeCompare([]byte(r.Header.Get(secretHeader)), []byte(h.cfg.Secret)) != 1 {
		h.metrics.ObserveWebhook(Channel, "unauthorized")
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	var update telego.Update
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxUpdateBodyBytes)).Decode(&update); err != nil {
		h.metrics.ObserveWebhook(Channel, "bad_request")
		http.Error(w, "Bad Request", http.StatusBadRequest)
		return
	}

	status := h.handleUpdate(r.Context(), update)
	h.metrics.ObserveWebhook(Channel, strconv.Itoa(status))
	w.WriteHeader(status)
}

func (h *WebhookHandler) handleUpdate(ctx context.Context, update telego.Update) int {
	msg := update.Message
	if msg == nil {
		return http.StatusOK
	}
	// One conversation per chat: members of a group share its history.
	chatID := strconv.FormatInt(msg.Chat.ID, 10)
	userToken := identity.Token(chatID)
	ts := time.Unix(msg.Date, 0).UTC()
	if msg.Date == 0 {
		ts = time.Now().UTC()
	}

	if isCommand(msg.Text, "help") {
		if err := h.deliver.Deliver(ctx, chatID, relay.Single(h.cfg.HelpMessage)); err != nil {
			h.logger.Error("telegram: help reply failed", "chat_id", chatID, "error", err)
		}
		return http.StatusOK
	}

	payload, err := h.payload(ctx, msg, userToken, ts)
	if errors.Is(err, errIgnored) {
		h.logger.Debug("telegram: ignoring update", "update_id", update.UpdateID)
		return http.StatusOK
	}
	if err != nil {
		h.logger.Error("telegram: failed to ingest media", "user", userToken, "error", err)
		return http.StatusInternalServerError
	}

	answer, err := h.pipeline.HandleEvent(ctx, relay.InboundEvent{
		Channel:   Channel,
		UserToken: userToken,
		Timestamp: ts,
		Payload:   payload,
	})
	if err != nil {
		return http.StatusInternalServerError
	}
	if err := h.deliver.Deliver(ctx, chatID, answer); err != nil {
		// the turn is already logged; a redelivery would run it twice
		h.logger.Error("telegram: delivery failed", "chat_id", chatID, "error", err)
	}
	return http.StatusOK
}

func (h *WebhookHandler) payload(ctx context.Context, msg *telego.Message, userToken string, ts time.Time) (relay.Payload, error) {
	switch {
	case isCommand(msg.Text, "start"):
		return relay.TextPayload{Text: h.pipeline.ResetKeyword()}, nil
	case msg.Voice != nil:
		url, err := h.files.FileURL(ctx, msg.Voice.FileID)
		if err != nil {
			return nil, err
		}
		return h.ingest.Audio(ctx, userToken, ts, url)
	case len(msg.Photo) > 0:
		largest := msg.Photo[len(msg.Photo)-1]
		url, err := h.files.FileURL(ctx, largest.FileID)
		if err != nil {
			return nil, err
		}
		return h.ingest.Unsupported(ctx, userToken, ts, url, "jpg")
	case msg.Document != nil:
		url, err := h.files.FileURL(ctx, msg.Document.FileID)
		if err != nil {
			return nil, err
		}
		return h.ingest.Unsupported(ctx, userToken, ts, url, documentExtension(msg.Document))
	case strings.TrimSpace(msg.Text) != "":
		return relay.TextPayload{Text: msg.Text}, nil
	}
	return nil, errIgnored
}

// isCommand matches /name and /name@botname.
func isCommand(text, name string) bool {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") {
		return false
	}
	cmd := strings.Fields(text)[0][1:]
	if i := strings.Index(cmd, "@"); i >= 0 {
		cmd = cmd[:i]
	}
	return strings.EqualFold(cmd, name)
}

func documentExtension(doc *telego.Document) string {
	if ext := strings.TrimPrefix(path.Ext(doc.FileName), "."); ext != "" {
		return strings.ToLower(ext)
	}
	return media.ExtensionForContentType(doc.MimeType)
}
