package sync

import (
	"github.com/gapchat/gap/internal/store"
)

// reconciler matches server-confirmed messages against this session's
// outstanding pending sends so a message settles in place instead of
// appearing twice. It is not safe for concurrent use; the engine loop owns
// it exclusively.
type reconciler struct {
	pending []*pendingEntry
}

// pendingEntry tracks one unconfirmed send. cycles counts poll ticks since
// the send; past the configured window the message is presumed delivered.
type pendingEntry struct {
	tempID   string
	roomID   string
	senderID string
	content  string
	cycles   int
}

func newReconciler() *reconciler {
	return &reconciler{}
}

// track registers a freshly sent pending message as matchable.
func (r *reconciler) track(m store.Message) {
	r.pending = append(r.pending, &pendingEntry{
		tempID:   m.ID,
		roomID:   m.RoomID,
		senderID: m.SenderID,
		content:  m.Content,
	})
}

// resolve matches a confirmed message against the oldest unmatched pending
// entry with the same room, sender and content. First-in-first-matched:
// with rapid repeated identical sends each echo settles the earliest send
// still outstanding, never the most recent. On a match the entry is consumed
// and its temp id returned.
func (r *reconciler) resolve(confirmed store.Message) (string, bool) {
	for i, p := range r.pending {
		if p.roomID == confirmed.RoomID &&
			p.senderID == confirmed.SenderID &&
			p.content == confirmed.Content {
			r.pending = append(r.pending[:i], r.pending[i+1:]...)
			return p.tempID, true
		}
	}
	return "", false
}

// drop removes a pending entry without a match, used when a send fails.
func (r *reconciler) drop(tempID string) bool {
	for i, p := range r.pending {
		if p.tempID == tempID {
			r.pending = append(r.pending[:i], r.pending[i+1:]...)
			return true
		}
	}
	return false
}

// tick advances every entry's poll-cycle counter and consumes those whose
// matching window has elapsed. The returned temp ids are presumed delivered:
// the send succeeded but its echo was missed.
func (r *reconciler) tick(window int) []string {
	var expired []string
	kept := r.pending[:0]
	for _, p := range r.pending {
		p.cycles++
		if p.cycles >= window {
			expired = append(expired, p.tempID)
			continue
		}
		kept = append(kept, p)
	}
	r.pending = kept
	return expired
}

// outstanding returns the number of unmatched pending entries.
func (r *reconciler) outstanding() int {
	return len(r.pending)
}
