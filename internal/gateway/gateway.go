// Package gateway is the client of the remote message store: a PostgREST
// style HTTP API for queries and inserts over the messages table, and a NATS
// subject per room carrying inserted rows as a live feed.
package gateway

import (
	"context"
	"fmt"
	"time"

	"github.com/gapchat/gap/internal/store"
)

// Gateway is the remote store contract the sync engine depends on.
type Gateway interface {
	// Fetch returns the room's confirmed messages ordered by (created_at, id).
	// When since is non-zero only messages with created_at strictly greater
	// than it are returned, so the boundary record is never re-delivered.
	Fetch(ctx context.Context, roomID string, since time.Time) ([]store.Message, error)

	// Insert writes a new message and returns the confirmed record with its
	// server-assigned id and timestamp.
	Insert(ctx context.Context, roomID, senderID, content string) (store.Message, error)

	// Subscribe opens a live feed of newly inserted messages for the room.
	// Delivery is at-least-once and not ordered relative to concurrent Fetch
	// or Insert results; callers must tolerate duplicates and reordering.
	Subscribe(roomID string, onInsert func(store.Message)) (Subscription, error)
}

// Subscription is a room's live feed handle. Err yields at most one error
// when the underlying transport drops; Close releases the feed and is safe
// to call more than once.
type Subscription interface {
	Close() error
	Err() <-chan error
}

// TransportError wraps a connectivity or remote failure from the gateway.
type TransportError struct {
	Op     string // fetch, insert or subscribe
	Status int    // HTTP status when the remote answered, 0 otherwise
	Err    error
}

func (e *TransportError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("gateway %s: remote status %d: %v", e.Op, e.Status, e.Err)
	}
	return fmt.Sprintf("gateway %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}
