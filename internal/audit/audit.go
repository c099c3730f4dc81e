// Package audit keeps an append-only record of notable relay decisions.
package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// EventType names an audited relay decision.
type EventType string

const (
	EventSessionReset   EventType = "relay.session_reset"
	EventUnsupported    EventType = "relay.unsupported_media"
	EventSessionExpired EventType = "relay.session_expired_retry"
	EventDefaultError   EventType = "relay.default_error"
	EventTurnFailed     EventType = "relay.turn_failed"
)

// Event is one immutable audit record.
type Event struct {
	ID        string          `json:"id"`
	EventType EventType       `json:"event_type"`
	UserToken string          `json:"user_token"`
	Channel   string          `json:"channel,omitempty"`
	SessionID string          `json:"session_id,omitempty"`
	Details   json.RawMessage `json:"details,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// Details carries event-specific fields.
type Details struct {
	PreviousSessionID string `json:"previous_session_id,omitempty"`
	MediaURL          string `json:"media_url,omitempty"`
	Reason            string `json:"reason,omitempty"`
	Error             string `json:"error,omitempty"`
}

// Filter narrows QueryEvents.
type Filter struct {
	UserToken string
	EventType EventType
	Since     time.Time
	Limit     int
}

// Service writes audit events to Postgres. A nil Service discards events.
type Service struct {
	db *sql.DB
}

func NewService(db *sql.DB) *Service {
	if db == nil {
		return nil
	}
	return &Service{db: db}
}

// LogEvent records one event.
func (s *Service) LogEvent(ctx context.Context, event Event) error {
	if s == nil || s.db == nil {
		return nil
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}
	var details any
	if len(event.Details) > 0 {
		details = []byte(event.Details)
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO relay_audit_events (
			id, event_type, user_token, channel, session_id, details, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
	`,
		event.ID,
		string(event.EventType),
		event.UserToken,
		nullString(event.Channel),
		nullString(event.SessionID),
		details,
		event.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("audit: failed to log event: %w", err)
	}
	return nil
}

func (s *Service) log(ctx context.Context, kind EventType, userToken, channel, sessionID string, details Details) error {
	raw, _ := json.Marshal(details)
	return s.LogEvent(ctx, Event{
		EventType: kind,
		UserToken: userToken,
		Channel:   channel,
		SessionID: sessionID,
		Details:   raw,
	})
}

// LogSessionReset records a user-initiated reset.
func (s *Service) LogSessionReset(ctx context.Context, userToken, channel, newSessionID string) error {
	return s.log(ctx, EventSessionReset, userToken, channel, newSessionID, Details{})
}

// LogUnsupportedMedia records media the relay declined to forward.
func (s *Service) LogUnsupportedMedia(ctx context.Context, userToken, channel, sessionID, mediaURL string) error {
	return s.log(ctx, EventUnsupported, userToken, channel, sessionID, Details{MediaURL: mediaURL})
}

// LogSessionExpired records a backend session replaced mid-turn.
func (s *Service) LogSessionExpired(ctx context.Context, userToken, channel, expiredID, newID string) error {
	return s.log(ctx, EventSessionExpired, userToken, channel, newID, Details{PreviousSessionID: expiredID})
}

// LogDefaultError records a turn answered with the fallback message.
func (s *Service) LogDefaultError(ctx context.Context, userToken, channel, sessionID, reason string) error {
	return s.log(ctx, EventDefaultError, userToken, channel, sessionID, Details{Reason: reason})
}

// LogTurnFailed records a turn that produced no answer.
func (s *Service) LogTurnFailed(ctx context.Context, userToken, channel, sessionID string, cause error) error {
	d := Details{}
	if cause != nil {
		d.Error = cause.Error()
	}
	return s.log(ctx, EventTurnFailed, userToken, channel, sessionID, d)
}

// QueryEvents returns events newest first.
func (s *Service) QueryEvents(ctx context.Context, filter Filter) ([]Event, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	query := `
		SELECT id, event_type, user_token, channel, session_id, details, created_at
		FROM relay_audit_events
		WHERE user_token = $1
	`
	args := []interface{}{filter.UserToken}
	argIdx := 2
	if filter.EventType != "" {
		query += fmt.Sprintf(" AND event_type = $%d", argIdx)
		args = append(args, string(filter.EventType))
		argIdx++
	}
	if !filter.Since.IsZero() {
		query += fmt.Sprintf(" AND created_at >= $%d", argIdx)
		args = append(args, filter.Since)
	}
	query += " ORDER BY created_at DESC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("audit: failed to query events: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var (
			e                  Event
			eventType          string
			channel, sessionID sql.NullString
			details            []byte
		)
		if err := rows.Scan(&e.ID, &eventType, &e.UserToken, &channel, &sessionID, &details, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("audit: failed to scan event: %w", err)
		}
		e.EventType = EventType(eventType)
		e.Channel = channel.String
		e.SessionID = sessionID.String
		if len(details) > 0 {
			e.Details = json.RawMessage(details)
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("audit: failed to iterate events: %w", err)
	}
	return events, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
