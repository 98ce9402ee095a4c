// Package store holds the per-room in-memory message collection that the
// sync engine works against. It is ordered, deduplicated by id and safe for
// concurrent readers; every mutation publishes a change event on the bus.
package store

import (
	"iter"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/gapchat/gap/internal/bus"
)

// Store is the working set of one room's messages.
type Store struct {
	mu      sync.Mutex
	roomID  string
	bus     *bus.Bus
	byID    map[string]*entry
	nextSeq int
}

// entry wraps a message with its local insertion sequence. The sequence
// orders pending messages among themselves; confirmed messages order by
// (CreatedAt, ID) instead.
type entry struct {
	msg Message
	seq int
}

// New creates an empty store for the given room. b may be nil in tests.
func New(roomID string, b *bus.Bus) *Store {
	return &Store{
		roomID: roomID,
		bus:    b,
		byID:   make(map[string]*entry),
	}
}

// RoomID returns the room this store belongs to.
func (s *Store) RoomID() string {
	return s.roomID
}

// Upsert inserts a message if its id is unseen. A seen id is replaced only
// when the incoming message is Confirmed and the existing entry is Pending or
// carries an older timestamp; a stale re-delivery never overwrites a newer
// record. The read flag only ever advances. Returns whether the store changed.
func (s *Store) Upsert(m Message) bool {
	s.mu.Lock()
	if existing, ok := s.byID[m.ID]; ok {
		cur := existing.msg
		switch {
		case m.State != StateConfirmed:
			s.mu.Unlock()
			return false
		case cur.State == StatePending || cur.CreatedAt.Before(m.CreatedAt):
			existing.msg = m
		case m.Read && !cur.Read:
			existing.msg.Read = true
		default:
			s.mu.Unlock()
			return false
		}
	} else {
		e := &entry{msg: m, seq: s.nextSeq}
		s.nextSeq++
		s.byID[m.ID] = e
	}
	s.mu.Unlock()

	s.publish(bus.KindMessageUpserted, m.ID)
	return true
}

// Confirm replaces the pending message identified by tempID with its
// server-confirmed counterpart. The entry keeps a single logical position:
// no new list entry is created, the identity switches from temp id to server
// id. If tempID is unknown the confirmed message is upserted as new.
func (s *Store) Confirm(tempID string, confirmed Message) {
	s.mu.Lock()
	if _, ok := s.byID[tempID]; !ok {
		s.mu.Unlock()
		s.Upsert(confirmed)
		return
	}
	delete(s.byID, tempID)
	s.byID[confirmed.ID] = &entry{msg: confirmed, seq: s.nextSeq}
	s.nextSeq++
	s.mu.Unlock()

	s.publish(bus.KindMessageUpserted, confirmed.ID)
}

// MarkConfirmed flips a pending message to Confirmed in place, keeping its
// temp id and provisional timestamp. Used when a pending message's echo was
// missed for long enough that it is presumed delivered.
func (s *Store) MarkConfirmed(tempID string) bool {
	s.mu.Lock()
	e, ok := s.byID[tempID]
	if !ok || e.msg.State != StatePending {
		s.mu.Unlock()
		return false
	}
	e.msg.State = StateConfirmed
	s.mu.Unlock()

	s.publish(bus.KindMessageUpserted, tempID)
	return true
}

// RemovePending deletes a message by temporary id, used on send failure or
// rollback. Server-confirmed messages never carry a temp id and are never
// removed; an entry confirmed by presumption keeps its temp id and is still
// removed here when its send ultimately fails.
func (s *Store) RemovePending(tempID string) bool {
	s.mu.Lock()
	e, ok := s.byID[tempID]
	if !ok || !IsTempID(e.msg.ID) {
		s.mu.Unlock()
		return false
	}
	delete(s.byID, tempID)
	s.mu.Unlock()

	s.publish(bus.KindMessageRemoved, tempID)
	return true
}

// Get returns the message with the given id, if present.
func (s *Store) Get(id string) (Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.byID[id]
	if !ok {
		return Message{}, false
	}
	return e.msg, true
}

// Len returns the number of messages held.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.byID)
}

// All returns the ordered view of the store as a restartable sequence.
// Confirmed messages sort by (CreatedAt, ID); pending messages follow all
// confirmed ones, ordered among themselves by local insertion order. The
// sequence iterates over a snapshot, so it is safe to mutate the store while
// ranging.
func (s *Store) All() iter.Seq[Message] {
	return func(yield func(Message) bool) {
		for _, m := range s.snapshot() {
			if !yield(m) {
				return
			}
		}
	}
}

// Messages returns the ordered view as a slice.
func (s *Store) Messages() []Message {
	return s.snapshot()
}

// LastCreatedAt returns the latest confirmed timestamp held, or the zero
// time when no confirmed message is present.
func (s *Store) LastCreatedAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	var last time.Time
	for _, e := range s.byID {
		if e.msg.State == StateConfirmed && e.msg.CreatedAt.After(last) {
			last = e.msg.CreatedAt
		}
	}
	return last
}

func (s *Store) snapshot() []Message {
	s.mu.Lock()
	entries := make([]entry, 0, len(s.byID))
	for _, e := range s.byID {
		entries = append(entries, *e)
	}
	s.mu.Unlock()

	slices.SortFunc(entries, compareEntries)

	msgs := make([]Message, len(entries))
	for i, e := range entries {
		msgs[i] = e.msg
	}
	return msgs
}

// compareEntries orders confirmed messages by (CreatedAt, ID) and places
// pending messages after every confirmed one, in insertion order.
func compareEntries(a, b entry) int {
	ap, bp := a.msg.State == StatePending, b.msg.State == StatePending
	switch {
	case ap && bp:
		return a.seq - b.seq
	case ap:
		return 1
	case bp:
		return -1
	}
	if c := a.msg.CreatedAt.Compare(b.msg.CreatedAt); c != 0 {
		return c
	}
	return strings.Compare(a.msg.ID, b.msg.ID)
}

func (s *Store) publish(kind, msgID string) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(bus.Event{
		Kind:      kind,
		Timestamp: time.Now(),
		Payload: map[string]string{
			"room_id": s.roomID,
			"msg_id":  msgID,
		},
	})
}
