// Package memory is an in-memory storage.Store, used by unit tests and as
// a reference implementation of the replace-on-kind and deletion rules.
// It is not intended for production use.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/paul/glienicke/pkg/event"
	"github.com/paul/glienicke/pkg/storage"
)

// Store is an in-memory implementation of storage.Store. A single mutex
// guards both the event map and the tombstone set so SaveEvent's
// pre-insert deletions and the append stay atomic (spec.md §4.5).
type Store struct {
	mu      sync.Mutex
	events  map[string]*event.Event
	deleted map[string]bool
}

var _ storage.Store = (*Store)(nil)

// New creates an empty in-memory store.
func New() *Store {
	return &Store{
		events:  make(map[string]*event.Event),
		deleted: make(map[string]bool),
	}
}

// SaveEvent applies the replace-on-kind table then appends evt, all under
// one critical section.
func (s *Store) SaveEvent(ctx context.Context, evt *event.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.deleted[evt.ID] {
		return fmt.Errorf("event has been deleted")
	}

	switch {
	case evt.IsReplaceable():
		for id, existing := range s.events {
			if id == evt.ID || s.deleted[id] || existing.PubKey != evt.PubKey || existing.Kind != evt.Kind {
				continue
			}
			s.deleted[id] = true
		}
	case evt.IsDeletion():
		for _, targetID := range evt.DeletedEventIDs() {
			if target, ok := s.events[targetID]; ok && target.PubKey == evt.PubKey {
				s.deleted[targetID] = true
			}
		}
	}

	s.events[evt.ID] = evt
	return nil
}

// QueryEvents implements the C5 range query: OR across filters, most
// recent first, id ascending on ties, capped by the lesser of the first
// filter's Limit and storage.DefaultQueryLimit (later filters' Limit is
// not consulted).
func (s *Store) QueryEvents(ctx context.Context, filters []*event.Filter) ([]*event.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var results []*event.Event
	seen := make(map[string]bool)

	for _, evt := range s.events {
		if s.deleted[evt.ID] || seen[evt.ID] {
			continue
		}
		if evt.MatchesAny(filters) {
			results = append(results, evt)
			seen[evt.ID] = true
		}
	}

	sortResults(results)

	limit := storage.DefaultQueryLimit
	if len(filters) > 0 && filters[0].Limit != nil && *filters[0].Limit < limit {
		limit = *filters[0].Limit
	}
	if len(results) > limit {
		results = results[:limit]
	}

	return results, nil
}

// CountEvents mirrors QueryEvents but only returns a count, unbounded by
// the backfill limit.
func (s *Store) CountEvents(ctx context.Context, filters []*event.Filter) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	count := 0
	seen := make(map[string]bool)
	for _, evt := range s.events {
		if s.deleted[evt.ID] || seen[evt.ID] {
			continue
		}
		if evt.MatchesAny(filters) {
			count++
			seen[evt.ID] = true
		}
	}
	return count, nil
}

// DeleteEvent removes eventID if its stored author matches deleterPubKey.
func (s *Store) DeleteEvent(ctx context.Context, eventID string, deleterPubKey string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	evt, exists := s.events[eventID]
	if !exists {
		return storage.ErrNotFound
	}
	if evt.PubKey != deleterPubKey {
		return fmt.Errorf("unauthorized: only event author can delete")
	}

	s.deleted[eventID] = true
	return nil
}

// GetEvent retrieves a single event by id.
func (s *Store) GetEvent(ctx context.Context, eventID string) (*event.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.deleted[eventID] {
		return nil, storage.ErrNotFound
	}
	evt, exists := s.events[eventID]
	if !exists {
		return nil, storage.ErrNotFound
	}
	return evt, nil
}

// Close is a no-op for the in-memory store.
func (s *Store) Close() error {
	return nil
}

// Count returns the number of live (non-deleted) stored events, for tests.
func (s *Store) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events) - len(s.deleted)
}

func sortResults(events []*event.Event) {
	sort.Slice(events, func(i, j int) bool {
		if events[i].CreatedAt != events[j].CreatedAt {
			return events[i].CreatedAt > events[j].CreatedAt
		}
		return events[i].ID < events[j].ID
	})
}
