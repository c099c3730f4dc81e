package conversation

import (
	"context"
	"errors"
	"sync"
)

var (
	// ErrDocumentNotFound indicates no transcript exists for the user.
	ErrDocumentNotFound = errors.New("conversation: document not found")
	// ErrRevisionConflict indicates another writer updated the document first.
	ErrRevisionConflict = errors.New("conversation: revision conflict")
)

// Store is the document store contract. Put is a full overwrite guarded by the
// document revision: revision 0 creates the document only if it is absent, any
// other revision must match the stored one. On success Put bumps doc.Revision.
type Store interface {
	Exists(ctx context.Context, id string) (bool, error)
	Get(ctx context.Context, id string) (*Document, error)
	Put(ctx context.Context, doc *Document) error
}

// MemoryStore keeps documents in process memory.
type MemoryStore struct {
	mu   sync.RWMutex
	docs map[string]*Document
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{docs: make(map[string]*Document)}
}

func (s *MemoryStore) Exists(_ context.Context, id string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.docs[id]
	return ok, nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (*Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	doc, ok := s.docs[id]
	if !ok {
		return nil, ErrDocumentNotFound
	}
	return doc.Clone(), nil
}

func (s *MemoryStore) Put(_ context.Context, doc *Document) error {
	if doc == nil || doc.ID == "" {
		return errors.New("conversation: document id required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.docs[doc.ID]
	switch {
	case doc.Revision == 0 && ok:
		return ErrRevisionConflict
	case doc.Revision != 0 && (!ok || current.Revision != doc.Revision):
		return ErrRevisionConflict
	}
	stored := doc.Clone()
	stored.Revision = doc.Revision + 1
	s.docs[doc.ID] = stored
	doc.Revision = stored.Revision
	return nil
}
