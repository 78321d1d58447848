// Package storage defines the C5 Event Store contract (spec.md §4.5, §6):
// atomic replace-on-kind insertion, filtered range queries, and NIP-09
// deletion. Concrete backends live in internal/store/memory and
// internal/store/sqlite.
package storage

import (
	"context"
	"errors"

	"github.com/paul/glienicke/pkg/event"
)

// ErrNotFound is returned by GetEvent when no event with the given id exists.
var ErrNotFound = errors.New("event not found")

// DefaultQueryLimit is the backfill cap applied when a REQ filter omits
// Limit. It is an implementation-chosen knob, not a protocol constant
// (spec.md §4.5).
const DefaultQueryLimit = 100

// Store is the backend contract any storage engine (SQL, in-memory, or
// otherwise) must satisfy.
type Store interface {
	// SaveEvent persists evt. The pre-insert replace-on-kind rules
	// (spec.md §4.5 table) and the insertion itself happen atomically:
	// kind 0/3 (and parameterized-replaceable kinds) delete the
	// author's prior event of the same kind first, kind 5 deletes its
	// "e"-tagged targets authored by the same pubkey first, then the
	// incoming event is appended regardless of its kind.
	SaveEvent(ctx context.Context, evt *event.Event) error

	// QueryEvents returns events matching any of filters (OR semantics
	// across filters, AND within one), most-recent-first by CreatedAt
	// with ties broken by ascending id. The combined result is capped at
	// the lesser of the first filter's Limit and DefaultQueryLimit; the
	// Limit of any later filter is not consulted.
	QueryEvents(ctx context.Context, filters []*event.Filter) ([]*event.Event, error)

	// CountEvents returns how many stored events match filters, selected
	// as QueryEvents selects them but without any Limit or
	// DefaultQueryLimit cap, and without transferring them.
	CountEvents(ctx context.Context, filters []*event.Filter) (int, error)

	// GetEvent retrieves a single event by id, or ErrNotFound.
	GetEvent(ctx context.Context, eventID string) (*event.Event, error)

	// DeleteEvent removes the stored event with the given id, but only
	// if its author matches deleterPubKey (NIP-09 deletion authority).
	DeleteEvent(ctx context.Context, eventID string, deleterPubKey string) error

	// Close releases any resources held by the backend.
	Close() error
}
