package persistence

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/petrijr/lendflow/pkg/api"
)

// InMemoryStore is a goroutine-safe ConversationStore backed by a map.
// It is non-durable and intended for tests and local development.
type InMemoryStore struct {
	mu      sync.RWMutex
	records map[string]*api.ConversationRecord
}

// NewInMemoryStore creates a new InMemoryStore.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		records: make(map[string]*api.ConversationRecord),
	}
}

// Ensure InMemoryStore implements ConversationStore.
var _ ConversationStore = (*InMemoryStore)(nil)

func (s *InMemoryStore) Create(ctx context.Context, rec *api.ConversationRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.records[rec.ID]; ok {
		return fmt.Errorf("conversation already exists: %s", rec.ID)
	}

	cp := rec.Clone()
	cp.Version = 1
	now := time.Now()
	cp.CreatedAt = now
	cp.UpdatedAt = now
	s.records[rec.ID] = cp
	rec.Version = 1
	rec.CreatedAt = now
	rec.UpdatedAt = now
	return nil
}

func (s *InMemoryStore) Load(ctx context.Context, id string) (*api.ConversationRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[id]
	if !ok {
		return nil, api.ErrConversationNotFound
	}
	return rec.Clone(), nil
}

func (s *InMemoryStore) Update(ctx context.Context, rec *api.ConversationRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.records[rec.ID]
	if !ok {
		return api.ErrConversationNotFound
	}
	if stored.Stage == api.StageClosure {
		return api.ErrConversationClosed
	}
	if stored.Version != rec.Version {
		return api.ErrConcurrencyConflict
	}

	cp := rec.Clone()
	cp.Version = stored.Version + 1
	cp.CreatedAt = stored.CreatedAt
	cp.UpdatedAt = time.Now()
	s.records[rec.ID] = cp
	return nil
}

func (s *InMemoryStore) ListForVerification(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var ids []string
	for id, rec := range s.records {
		if !rec.Superseded && rec.OpenDocuments() > 0 {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (s *InMemoryStore) ListForSanction(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var ids []string
	for id, rec := range s.records {
		if !rec.Superseded &&
			rec.Verification.Confirmed &&
			rec.Underwriting.Decision == api.DecisionApproved &&
			!rec.SanctionRequested {
			ids = append(ids, id)
		}
	}
	return ids, nil
}
