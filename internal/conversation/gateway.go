package conversation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/wolfman30/chatbot-relay/pkg/logging"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var gatewayTracer = otel.Tracer("chatbot-relay.internal.conversation")

const maxWriteAttempts = 3

// Gateway applies transcript mutations on top of a Store. Every write is a
// read-modify-write retried on revision conflicts.
type Gateway struct {
	store  Store
	now    func() time.Time
	logger *logging.Logger
}

// GatewayOption customizes a Gateway.
type GatewayOption func(*Gateway)

// WithClock overrides the clock used to stamp shifts.
func WithClock(now func() time.Time) GatewayOption {
	return func(g *Gateway) {
		if now != nil {
			g.now = now
		}
	}
}

// NewGateway wraps store.
func NewGateway(store Store, logger *logging.Logger, opts ...GatewayOption) *Gateway {
	if store == nil {
		panic("conversation: store cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	g := &Gateway{store: store, now: time.Now, logger: logger}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Exists reports whether userID has a transcript.
func (g *Gateway) Exists(ctx context.Context, userID string) (bool, error) {
	ok, err := g.store.Exists(ctx, userID)
	if err != nil {
		return false, fmt.Errorf("conversation: exists: %w", err)
	}
	return ok, nil
}

// Load returns the stored transcript or ErrDocumentNotFound.
func (g *Gateway) Load(ctx context.Context, userID string) (*Document, error) {
	doc, err := g.store.Get(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrDocumentNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("conversation: load: %w", err)
	}
	return doc, nil
}

// LastSessionID returns the most recent session id recorded for userID.
func (g *Gateway) LastSessionID(ctx context.Context, userID string) (string, bool, error) {
	doc, err := g.Load(ctx, userID)
	if errors.Is(err, ErrDocumentNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	id := doc.LastSessionID()
	return id, id != "", nil
}

// CreateIfAbsent creates a transcript holding one empty session. An existing
// document is left untouched.
func (g *Gateway) CreateIfAbsent(ctx context.Context, userID, sessionID string) error {
	return g.mutate(ctx, "create", userID, func(doc *Document, exists bool) (bool, error) {
		if exists {
			return false, nil
		}
		doc.Conversation = []Session{{SessionID: sessionID, Timestamp: g.stamp(doc)}}
		return true, nil
	})
}

// AppendShift appends one shift under sessionID, opening the session entry
// (and the document) when missing.
func (g *Gateway) AppendShift(ctx context.Context, userID, sessionID string, speaker Speaker, msg Utterance) error {
	if sessionID == "" {
		return errors.New("conversation: session id required")
	}
	return g.mutate(ctx, "append_shift", userID, func(doc *Document, _ bool) (bool, error) {
		ts := g.stamp(doc)
		session, ok := doc.Session(sessionID)
		if !ok {
			doc.Conversation = append(doc.Conversation, Session{SessionID: sessionID, Timestamp: ts})
			session = &doc.Conversation[len(doc.Conversation)-1]
		}
		session.Conversation = append(session.Conversation, Shift{Speaker: speaker, Message: msg, Timestamp: ts})
		return true, nil
	})
}

// UpsertFeatures sets top-level document keys. Envelope keys are skipped.
func (g *Gateway) UpsertFeatures(ctx context.Context, userID string, features map[string]any) error {
	clean := make(map[string]any, len(features))
	for k, v := range features {
		if k == "" || IsReservedKey(k) {
			g.logger.Warn("conversation: ignoring reserved feature key", "key", k)
			continue
		}
		clean[k] = v
	}
	if len(clean) == 0 {
		return nil
	}
	return g.mutate(ctx, "upsert_features", userID, func(doc *Document, _ bool) (bool, error) {
		if doc.Features == nil {
			doc.Features = make(map[string]any, len(clean))
		}
		for k, v := range clean {
			doc.Features[k] = v
		}
		return true, nil
	})
}

// stamp returns the current time, clamped so shifts never go backwards.
func (g *Gateway) stamp(doc *Document) time.Time {
	now := g.now().UTC()
	if last := doc.LastTimestamp(); now.Before(last) {
		return last
	}
	return now
}

func (g *Gateway) mutate(ctx context.Context, op, userID string, apply func(doc *Document, exists bool) (bool, error)) error {
	if userID == "" {
		return errors.New("conversation: user id required")
	}
	ctx, span := gatewayTracer.Start(ctx, "conversation."+op, trace.WithAttributes(
		attribute.String("relay.user", userID),
	))
	defer span.End()

	for attempt := 1; ; attempt++ {
		doc, err := g.store.Get(ctx, userID)
		exists := true
		switch {
		case errors.Is(err, ErrDocumentNotFound):
			doc = &Document{ID: userID}
			exists = false
		case err != nil:
			span.RecordError(err)
			return fmt.Errorf("conversation: %s: %w", op, err)
		}

		changed, err := apply(doc, exists)
		if err != nil {
			span.RecordError(err)
			return err
		}
		if !changed {
			return nil
		}

		err = g.store.Put(ctx, doc)
		if err == nil {
			span.SetAttributes(attribute.Int64("relay.revision", doc.Revision))
			return nil
		}
		if !errors.Is(err, ErrRevisionConflict) || attempt >= maxWriteAttempts {
			span.RecordError(err)
			return fmt.Errorf("conversation: %s: %w", op, err)
		}
		g.logger.Warn("conversation: write conflict, retrying", "op", op, "user", userID, "attempt", attempt)
	}
}
