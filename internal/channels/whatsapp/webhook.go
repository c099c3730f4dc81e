package whatsapp

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/wolfman30/chatbot-relay/internal/identity"
	"github.com/wolfman30/chatbot-relay/internal/media"
	"github.com/wolfman30/chatbot-relay/internal/observability/metrics"
	"github.com/wolfman30/chatbot-relay/internal/relay"
	"github.com/wolfman30/chatbot-relay/pkg/logging"
	"go.opentelemetry.io/otel"
)

const (
	Channel = "whatsapp"

	voiceContentType = "audio/ogg"
	emptyTwiML       = `<?xml version="1.0" encoding="UTF-8"?><Response/>`
)

var whatsappTracer = otel.Tracer("chatbot-relay.internal.channels.whatsapp")

// Pipeline runs a relay turn.
type Pipeline interface {
	HandleEvent(ctx context.Context, ev relay.InboundEvent) (relay.Answer, error)
}

// Ingest turns Twilio media into relay payloads.
type Ingest interface {
	Audio(ctx context.Context, userToken string, ts time.Time, sourceURL string) (relay.AudioPayload, error)
	Unsupported(ctx context.Context, userToken string, ts time.Time, sourceURL, ext string) (relay.UnsupportedMediaPayload, error)
}

// Deliverer sends an answer to a WhatsApp user.
type Deliverer interface {
	Deliver(ctx context.Context, to string, answer relay.Answer) error
}

// InboundMessage is the subset of the Twilio messaging webhook the relay reads.
type InboundMessage struct {
	MessageSid        string
	WaID              string
	Body              string
	NumMedia          string
	MediaURL0         string
	MediaContentType0 string
}

// ParseInbound reads a Twilio webhook form.
func ParseInbound(r *http.Request) (*InboundMessage, error) {
	if err := r.ParseForm(); err != nil {
		return nil, fmt.Errorf("whatsapp: parse form: %w", err)
	}
	msg := &InboundMessage{
		MessageSid:        r.PostFormValue("MessageSid"),
		WaID:              r.PostFormValue("WaId"),
		Body:              r.PostFormValue("Body"),
		NumMedia:          r.PostFormValue("NumMedia"),
		MediaURL0:         r.PostFormValue("MediaUrl0"),
		MediaContentType0: r.PostFormValue("MediaContentType0"),
	}
	if msg.WaID == "" {
		// sandbox numbers omit WaId; fall back to the sender address
		msg.WaID = strings.TrimPrefix(strings.TrimPrefix(r.PostFormValue("From"), "whatsapp:"), "+")
	}
	return msg, nil
}

// HasMedia reports whether the message carries an attachment.
func (m *InboundMessage) HasMedia() bool {
	return m.MediaURL0 != "" && m.NumMedia != "" && m.NumMedia != "0"
}

// WebhookHandler serves the Twilio WhatsApp messaging webhook.
type WebhookHandler struct {
	authToken string
	pipeline  Pipeline
	ingest    Ingest
	deliver   Deliverer
	metrics   *metrics.RelayMetrics
	logger    *logging.Logger
	now       func() time.Time
}

// NewWebhookHandler builds the handler. An empty authToken disables
// signature validation.
func NewWebhookHandler(authToken string, pipeline Pipeline, ingest Ingest, deliver Deliverer, m *metrics.RelayMetrics, logger *logging.Logger) *WebhookHandler {
	if pipeline == nil || ingest == nil || deliver == nil {
		panic("whatsapp: webhook dependencies cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &WebhookHandler{
		authToken: authToken,
		pipeline:  pipeline,
		ingest:    ingest,
		deliver:   deliver,
		metrics:   m,
		logger:    logger.Component("whatsapp"),
		now:       time.Now,
	}
}

func (h *WebhookHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx, span := whatsappTracer.Start(r.Context(), "whatsapp.webhook")
	defer span.End()

	if h.authToken != "" && !ValidateSignature(r, h.authToken) {
		h.logger.Warn("invalid twilio signature")
		h.metrics.ObserveWebhook(Channel, "unauthorized")
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	msg, err := ParseInbound(r)
	if err != nil || msg.WaID == "" {
		h.metrics.ObserveWebhook(Channel, "bad_request")
		http.Error(w, "Bad Request", http.StatusBadRequest)
		return
	}

	userToken := identity.Token(msg.WaID)
	ts := h.now().UTC()
	payload, err := h.payload(ctx, msg, userToken, ts)
	if err != nil {
		span.RecordError(err)
		h.logger.Error("failed to ingest media", "user", userToken, "message_sid", msg.MessageSid, "error", err)
		h.metrics.ObserveWebhook(Channel, "500")
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	answer, err := h.pipeline.HandleEvent(ctx, relay.InboundEvent{
		Channel:   Channel,
		UserToken: userToken,
		Timestamp: ts,
		Payload:   payload,
	})
	if err != nil {
		span.RecordError(err)
		h.metrics.ObserveWebhook(Channel, "500")
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	if err := h.deliver.Deliver(ctx, msg.WaID, answer); err != nil {
		span.RecordError(err)
		h.logger.Error("delivery failed", "user", userToken, "error", err)
	}

	h.metrics.ObserveWebhook(Channel, "200")
	w.Header().Set("Content-Type", "application/xml")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(emptyTwiML))
}

func (h *WebhookHandler) payload(ctx context.Context, msg *InboundMessage, userToken string, ts time.Time) (relay.Payload, error) {
	if !msg.HasMedia() {
		return relay.TextPayload{Text: strings.ReplaceAll(msg.Body, "\n", " ")}, nil
	}
	contentType := strings.ToLower(strings.TrimSpace(msg.MediaContentType0))
	if contentType == voiceContentType {
		return h.ingest.Audio(ctx, userToken, ts, msg.MediaURL0)
	}
	return h.ingest.Unsupported(ctx, userToken, ts, msg.MediaURL0, media.ExtensionForContentType(contentType))
}
