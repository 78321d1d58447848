// Package nip09 validates NIP-09 deletion requests. The actual
// tombstoning happens atomically inside storage.Store.SaveEvent
// (spec.md §4.5); this package only checks that a kind-5 event is
// shaped correctly before it gets that far.
package nip09

import (
	"errors"

	"github.com/paul/glienicke/pkg/event"
)

// ErrNoTargets is returned when a kind-5 event carries no "e" tags,
// leaving nothing for the relay to delete.
var ErrNoTargets = errors.New("deletion event has no \"e\" tags")

// Validate checks that evt is a well-formed deletion request. It is a
// no-op for non-deletion events.
func Validate(evt *event.Event) error {
	if !evt.IsDeletion() {
		return nil
	}
	if len(evt.DeletedEventIDs()) == 0 {
		return ErrNoTargets
	}
	return nil
}
