// Package nip45 implements the COUNT extension: report how many
// stored events match a set of filters without transferring them.
package nip45

import (
	"context"
	"fmt"

	"github.com/paul/glienicke/pkg/event"
	"github.com/paul/glienicke/pkg/storage"
)

// Count returns how many stored events match filters, delegating to
// the store's own CountEvents. Unlike a REQ for the same filters, the
// count is not capped by a limit and still includes NIP-40 expired
// events.
func Count(ctx context.Context, store storage.Store, filters []*event.Filter) (int, error) {
	if len(filters) == 0 {
		return 0, fmt.Errorf("COUNT request requires at least one filter")
	}
	return store.CountEvents(ctx, filters)
}
