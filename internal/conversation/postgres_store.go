package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

type pgxQuerier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStore persists conversation documents as JSONB rows.
type PostgresStore struct {
	db pgxQuerier
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore builds a store over a pgx pool (or anything with the same query surface).
func NewPostgresStore(db pgxQuerier) *PostgresStore {
	if db == nil {
		panic("conversation: pgx pool cannot be nil")
	}
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Exists(ctx context.Context, id string) (bool, error) {
	var exists bool
	err := s.db.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM conversation_documents WHERE id = $1)`, id).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("conversation: failed to probe document: %w", err)
	}
	return exists, nil
}

func (s *PostgresStore) Get(ctx context.Context, id string) (*Document, error) {
	var (
		body     []byte
		revision int64
	)
	err := s.db.QueryRow(ctx, `
		SELECT body, revision
		FROM conversation_documents
		WHERE id = $1
	`, id).Scan(&body, &revision)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrDocumentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("conversation: failed to fetch document: %w", err)
	}

	var doc Document
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("conversation: failed to decode document: %w", err)
	}
	doc.ID = id
	doc.Revision = revision
	return &doc, nil
}

func (s *PostgresStore) Put(ctx context.Context, doc *Document) error {
	if doc == nil || doc.ID == "" {
		return errors.New("conversation: document id required")
	}
	next := doc.Revision + 1
	snapshot := *doc
	snapshot.Revision = next
	body, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("conversation: failed to marshal document: %w", err)
	}

	var tag pgconn.CommandTag
	if doc.Revision == 0 {
		tag, err = s.db.Exec(ctx, `
			INSERT INTO conversation_documents (id, body, revision, updated_at)
			VALUES ($1, $2, $3, now())
			ON CONFLICT (id) DO NOTHING
		`, doc.ID, body, next)
	} else {
		tag, err = s.db.Exec(ctx, `
			UPDATE conversation_documents
			SET body = $2,
			    revision = $3,
			    updated_at = now()
			WHERE id = $1 AND revision = $4
		`, doc.ID, body, next, doc.Revision)
	}
	if err != nil {
		return fmt.Errorf("conversation: failed to persist document: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrRevisionConflict
	}
	doc.Revision = next
	return nil
}
