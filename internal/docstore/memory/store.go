package memory

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/google/uuid"

	"entityid/internal/docstore"
	"entityid/pkg/platform/sentinel"
	"entityid/pkg/requestcontext"
)

// Store is an in-memory docstore.Store. Payloads are copied on the way in and
// out so callers cannot mutate stored bytes.
type Store struct {
	mu      sync.RWMutex
	records map[string]docstore.Record
}

func New() *Store {
	return &Store{records: make(map[string]docstore.Record)}
}

func (s *Store) Create(ctx context.Context, rec docstore.Record) (docstore.Record, error) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	now := requestcontext.Now(ctx)
	rec.CreatedAt = now
	rec.UpdatedAt = now
	if rec.UpdatedBy == "" {
		rec.UpdatedBy = rec.CreatedBy
	}
	rec.Payload = slices.Clone(rec.Payload)

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[rec.ID]; ok {
		return docstore.Record{}, fmt.Errorf("record %s: %w", rec.ID, sentinel.ErrConflict)
	}
	s.records[rec.ID] = rec
	return clone(rec), nil
}

func (s *Store) Read(_ context.Context, id string) (docstore.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[id]
	if !ok {
		return docstore.Record{}, fmt.Errorf("record %s: %w", id, sentinel.ErrNotFound)
	}
	return clone(rec), nil
}

func (s *Store) Update(ctx context.Context, id string, patch map[string]any, actor string) (docstore.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	if !ok {
		return docstore.Record{}, fmt.Errorf("record %s: %w", id, sentinel.ErrNotFound)
	}
	payload, err := docstore.MergePatch(rec.Payload, patch)
	if err != nil {
		return docstore.Record{}, fmt.Errorf("record %s: %w", id, err)
	}
	rec.Payload = payload
	rec.UpdatedAt = requestcontext.Now(ctx)
	rec.UpdatedBy = actor
	s.records[id] = rec
	return clone(rec), nil
}

func (s *Store) Delete(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[id]; !ok {
		return false, nil
	}
	delete(s.records, id)
	return true, nil
}

func (s *Store) Query(_ context.Context, q docstore.Query) ([]docstore.Record, error) {
	s.mu.RLock()
	recs := make([]docstore.Record, 0, len(s.records))
	for _, rec := range s.records {
		if q.Kind != "" && rec.Kind != q.Kind {
			continue
		}
		recs = append(recs, clone(rec))
	}
	s.mu.RUnlock()
	return docstore.Apply(recs, q), nil
}

// Put stores rec as-is, overwriting any existing record and keeping its
// timestamps. Used to seed raw or backdated data.
func (s *Store) Put(rec docstore.Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[rec.ID] = clone(rec)
}

// Len reports how many records are stored.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

func clone(rec docstore.Record) docstore.Record {
	rec.Payload = slices.Clone(rec.Payload)
	return rec
}
