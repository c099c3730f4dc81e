package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/wolfman30/chatbot-relay/internal/audit"
	"github.com/wolfman30/chatbot-relay/internal/conversation"
	httpmiddleware "github.com/wolfman30/chatbot-relay/internal/http/middleware"
	"github.com/wolfman30/chatbot-relay/pkg/logging"
)

// DocumentReader loads a conversation document.
type DocumentReader interface {
	Load(ctx context.Context, userID string) (*conversation.Document, error)
}

// EventReader lists audit events.
type EventReader interface {
	QueryEvents(ctx context.Context, filter audit.Filter) ([]audit.Event, error)
}

// AdminConversationsHandler exposes stored transcripts to operators.
type AdminConversationsHandler struct {
	docs   DocumentReader
	events EventReader
	logger *logging.Logger
}

// NewAdminConversationsHandler builds the handler. events may be nil when the
// audit trail is disabled.
func NewAdminConversationsHandler(docs DocumentReader, events EventReader, logger *logging.Logger) *AdminConversationsHandler {
	if docs == nil {
		panic("handlers: document reader cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &AdminConversationsHandler{docs: docs, events: events, logger: logger}
}

// GetConversation handles GET /admin/conversations/{userToken}.
func (h *AdminConversationsHandler) GetConversation(w http.ResponseWriter, r *http.Request) {
	userToken := chi.URLParam(r, "userToken")
	if userToken == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "user token required"})
		return
	}

	doc, err := h.docs.Load(r.Context(), userToken)
	if errors.Is(err, conversation.ErrDocumentNotFound) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "conversation not found"})
		return
	}
	if err != nil {
		h.logger.Error("failed to load conversation", "user", userToken, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to load conversation"})
		return
	}
	operator, _ := httpmiddleware.AdminSubject(r.Context())
	h.logger.Info("admin transcript read", "user", userToken, "operator", operator)
	writeJSON(w, http.StatusOK, doc)
}

// ListEvents handles GET /admin/conversations/{userToken}/events.
func (h *AdminConversationsHandler) ListEvents(w http.ResponseWriter, r *http.Request) {
	if h.events == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "audit trail disabled"})
		return
	}
	filter := audit.Filter{
		UserToken: chi.URLParam(r, "userToken"),
		EventType: audit.EventType(r.URL.Query().Get("type")),
		Limit:     50,
	}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit <= 0 || limit > 500 {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "limit must be between 1 and 500"})
			return
		}
		filter.Limit = limit
	}
	if raw := r.URL.Query().Get("since"); raw != "" {
		since, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "since must be RFC3339"})
			return
		}
		filter.Since = since
	}

	events, err := h.events.QueryEvents(r.Context(), filter)
	if err != nil {
		h.logger.Error("failed to query audit events", "user", filter.UserToken, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to query events"})
		return
	}
	if events == nil {
		events = []audit.Event{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": events})
}
