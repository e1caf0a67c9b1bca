package store

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-memory Store for tests and single-process
// simulations. It applies the same revision discipline as the durable
// backends so concurrency bugs show up in tests, not in production.
type MemoryStore struct {
	mu          sync.RWMutex
	collections map[string]map[string]*Record
	closed      bool
	nowFunc     func() time.Time // for testing
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		collections: make(map[string]map[string]*Record),
		nowFunc:     time.Now,
	}
}

// Insert creates a new record with revision 1.
func (s *MemoryStore) Insert(ctx context.Context, collection, id string, doc []byte) (*Record, error) {
	if id == "" {
		return nil, ErrInvalidID
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrClosed
	}

	coll := s.collections[collection]
	if coll == nil {
		coll = make(map[string]*Record)
		s.collections[collection] = coll
	}

	if _, exists := coll[id]; exists {
		return nil, ErrDuplicateID
	}

	now := s.nowFunc().UTC()
	rec := &Record{
		ID:         id,
		Collection: collection,
		Revision:   1,
		Data:       append([]byte(nil), doc...),
		Created:    now,
		Modified:   now,
	}
	coll[id] = rec

	return rec.Clone(), nil
}

// FindByID retrieves one record by id.
func (s *MemoryStore) FindByID(ctx context.Context, collection, id string) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrClosed
	}

	rec, ok := s.collections[collection][id]
	if !ok {
		return nil, ErrNotFound
	}
	return rec.Clone(), nil
}

// FindOne returns the first matching record by id order.
func (s *MemoryStore) FindOne(ctx context.Context, collection string, filter Filter) (*Record, error) {
	recs, err := s.Find(ctx, collection, filter)
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return nil, ErrNotFound
	}
	return recs[0], nil
}

// Find returns all matching records sorted by id.
func (s *MemoryStore) Find(ctx context.Context, collection string, filter Filter) ([]*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrClosed
	}

	var result []*Record
	for _, rec := range s.collections[collection] {
		if filter != nil {
			fields, err := rec.Fields()
			if err != nil {
				continue
			}
			if !filter.Matches(fields) {
				continue
			}
		}
		result = append(result, rec.Clone())
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].ID < result[j].ID
	})

	return result, nil
}

// Save replaces the document if the caller's revision is current.
func (s *MemoryStore) Save(ctx context.Context, rec *Record) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrClosed
	}

	current, ok := s.collections[rec.Collection][rec.ID]
	if !ok {
		return nil, ErrNotFound
	}
	if current.Revision != rec.Revision {
		return nil, ErrConflict
	}

	current.Data = append([]byte(nil), rec.Data...)
	current.Revision++
	current.Modified = s.nowFunc().UTC()

	return current.Clone(), nil
}

// UpdateFields merges top-level fields into the current document.
func (s *MemoryStore) UpdateFields(ctx context.Context, collection, id string, fields map[string]any) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrClosed
	}

	current, ok := s.collections[collection][id]
	if !ok {
		return nil, ErrNotFound
	}

	merged, err := MergeFields(current.Data, fields)
	if err != nil {
		return nil, err
	}

	current.Data = merged
	current.Revision++
	current.Modified = s.nowFunc().UTC()

	return current.Clone(), nil
}

// Delete removes a record. Absent records are ignored.
func (s *MemoryStore) Delete(ctx context.Context, collection, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}

	delete(s.collections[collection], id)
	return nil
}

// Close shuts down the store.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
