// Package registry is the C6 subscription registry: it tracks which
// filters each connected client has open and fans out incoming events
// to the subscriptions they match. Broadcast takes a snapshot under a
// single read lock and sweeps stale connections after iterating, so a
// slow or dead client can never block delivery to the rest (spec.md §6).
package registry

import (
	"sync"

	"github.com/paul/glienicke/pkg/event"
)

// Subscriber is anything that can receive an EVENT frame for a
// subscription id. protocol.Client satisfies this.
type Subscriber interface {
	SendEvent(subID string, evt *event.Event) error
}

// Registry maps connected subscribers to their open subscriptions.
type Registry struct {
	mu      sync.RWMutex
	clients map[Subscriber]map[string][]*event.Filter
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{
		clients: make(map[Subscriber]map[string][]*event.Filter),
	}
}

// Add registers (or replaces) subID's filters for sub.
func (r *Registry) Add(sub Subscriber, subID string, filters []*event.Filter) {
	r.mu.Lock()
	defer r.mu.Unlock()

	subs, ok := r.clients[sub]
	if !ok {
		subs = make(map[string][]*event.Filter)
		r.clients[sub] = subs
	}
	subs[subID] = filters
}

// RemoveSubscription closes a single subscription, leaving the
// connection's other subscriptions intact.
func (r *Registry) RemoveSubscription(sub Subscriber, subID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if subs, ok := r.clients[sub]; ok {
		delete(subs, subID)
	}
}

// RemoveByConnection drops every subscription belonging to sub, called
// when its connection closes.
func (r *Registry) RemoveByConnection(sub Subscriber) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.clients, sub)
}

// Count returns the number of connections currently registered.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.clients)
}

// Broadcast sends evt to every subscription it matches, once per
// matching subscription (a connection with two matching subscriptions
// gets two frames). A subscriber whose SendEvent fails is assumed dead
// and dropped after the broadcast, never mid-iteration.
func (r *Registry) Broadcast(evt *event.Event) {
	type subscription struct {
		sub   Subscriber
		subID string
	}

	r.mu.RLock()
	snapshot := make([]subscription, 0, len(r.clients))
	filtersBySub := make(map[Subscriber]map[string][]*event.Filter, len(r.clients))
	for sub, subs := range r.clients {
		copied := make(map[string][]*event.Filter, len(subs))
		for subID, filters := range subs {
			copied[subID] = filters
		}
		filtersBySub[sub] = copied
		for subID := range subs {
			snapshot = append(snapshot, subscription{sub: sub, subID: subID})
		}
	}
	r.mu.RUnlock()

	var stale []Subscriber
	var staleMu sync.Mutex
	var wg sync.WaitGroup

	for _, s := range snapshot {
		filters := filtersBySub[s.sub][s.subID]
		if !evt.MatchesAny(filters) {
			continue
		}
		wg.Add(1)
		go func(s subscription) {
			defer wg.Done()
			if err := s.sub.SendEvent(s.subID, evt); err != nil {
				staleMu.Lock()
				stale = append(stale, s.sub)
				staleMu.Unlock()
			}
		}(s)
	}
	wg.Wait()

	if len(stale) == 0 {
		return
	}
	r.mu.Lock()
	for _, sub := range stale {
		delete(r.clients, sub)
	}
	r.mu.Unlock()
}
