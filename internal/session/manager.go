package session

import (
	"context"
	"errors"
	"fmt"

	"github.com/wolfman30/chatbot-relay/internal/conversation"
	"github.com/wolfman30/chatbot-relay/pkg/logging"
)

// Minter creates new sessions on the dialogue backend.
type Minter interface {
	CreateSession(ctx context.Context) (string, error)
}

// Transcripts is the part of the conversation gateway the manager needs.
type Transcripts interface {
	Load(ctx context.Context, userID string) (*conversation.Document, error)
	CreateIfAbsent(ctx context.Context, userID, sessionID string) error
}

// Manager owns the user -> current session mapping.
type Manager struct {
	cache       Cache
	transcripts Transcripts
	minter      Minter
	logger      *logging.Logger
}

func NewManager(cache Cache, transcripts Transcripts, minter Minter, logger *logging.Logger) *Manager {
	if cache == nil {
		panic("session: cache cannot be nil")
	}
	if transcripts == nil {
		panic("session: transcripts cannot be nil")
	}
	if minter == nil {
		panic("session: minter cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Manager{cache: cache, transcripts: transcripts, minter: minter, logger: logger}
}

// Resolve returns the user's current session id. On a cache miss the id is
// rebuilt from the transcript; a user without one gets a fresh session and a
// new document.
func (m *Manager) Resolve(ctx context.Context, userID string) (string, error) {
	if id, ok, err := m.cache.Get(ctx, userID); err != nil {
		return "", fmt.Errorf("session: resolve: %w", err)
	} else if ok && id != "" {
		return id, nil
	}

	doc, err := m.transcripts.Load(ctx, userID)
	switch {
	case errors.Is(err, conversation.ErrDocumentNotFound):
		id, err := m.mint(ctx)
		if err != nil {
			return "", err
		}
		if err := m.transcripts.CreateIfAbsent(ctx, userID, id); err != nil {
			return "", fmt.Errorf("session: resolve: %w", err)
		}
		m.logger.Info("session: opened first session", "user", userID, "session_id", id)
		return id, m.put(ctx, userID, id)
	case err != nil:
		return "", fmt.Errorf("session: resolve: %w", err)
	}

	id := doc.LastSessionID()
	if id == "" {
		if id, err = m.mint(ctx); err != nil {
			return "", err
		}
	}
	return id, m.put(ctx, userID, id)
}

// Reset mints a new session unconditionally. The document is created when
// absent; an existing one gains the session on its first write.
func (m *Manager) Reset(ctx context.Context, userID string) (string, error) {
	id, err := m.mint(ctx)
	if err != nil {
		return "", err
	}
	if err := m.put(ctx, userID, id); err != nil {
		return "", err
	}
	if err := m.transcripts.CreateIfAbsent(ctx, userID, id); err != nil {
		return "", fmt.Errorf("session: reset: %w", err)
	}
	m.logger.Info("session: reset", "user", userID, "session_id", id)
	return id, nil
}

// Adopt makes sessionID current for userID.
func (m *Manager) Adopt(ctx context.Context, userID, sessionID string) error {
	return m.put(ctx, userID, sessionID)
}

func (m *Manager) mint(ctx context.Context) (string, error) {
	id, err := m.minter.CreateSession(ctx)
	if err != nil {
		return "", fmt.Errorf("session: create backend session: %w", err)
	}
	if id == "" {
		return "", errors.New("session: backend returned an empty session id")
	}
	return id, nil
}

func (m *Manager) put(ctx context.Context, userID, sessionID string) error {
	if err := m.cache.Put(ctx, userID, sessionID); err != nil {
		return fmt.Errorf("session: %w", err)
	}
	return nil
}
