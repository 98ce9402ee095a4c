package sync

import (
	"testing"
	"time"

	"github.com/gapchat/gap/internal/store"
)

func pendingMsg(tempID, content string) store.Message {
	return store.Message{
		ID:        tempID,
		RoomID:    "room_a_b",
		SenderID:  "a",
		Content:   content,
		Type:      "text",
		CreatedAt: time.Now(),
		State:     store.StatePending,
	}
}

func confirmedMsg(id, sender, content string) store.Message {
	return store.Message{
		ID:       id,
		RoomID:   "room_a_b",
		SenderID: sender,
		Content:  content,
		Type:     "text",
		State:    store.StateConfirmed,
	}
}

func TestResolveMatchesBySenderRoomContent(t *testing.T) {
	r := newReconciler()
	r.track(pendingMsg("temp-1", "hello"))

	tempID, ok := r.resolve(confirmedMsg("m1", "a", "hello"))
	if !ok || tempID != "temp-1" {
		t.Errorf("resolve = (%q, %v), want (temp-1, true)", tempID, ok)
	}
	if r.outstanding() != 0 {
		t.Errorf("outstanding = %d, want 0 after match", r.outstanding())
	}
}

func TestResolveNoMatchForOtherSender(t *testing.T) {
	r := newReconciler()
	r.track(pendingMsg("temp-1", "hello"))

	// The peer saying the same thing is not this session's echo.
	if _, ok := r.resolve(confirmedMsg("m1", "b", "hello")); ok {
		t.Error("resolve matched a message from a different sender")
	}
	if r.outstanding() != 1 {
		t.Errorf("outstanding = %d, want 1", r.outstanding())
	}
}

func TestResolveOldestUnmatchedFirst(t *testing.T) {
	r := newReconciler()
	// Two rapid sends of identical content.
	r.track(pendingMsg("temp-1", "hi"))
	r.track(pendingMsg("temp-2", "hi"))

	first, ok := r.resolve(confirmedMsg("m1", "a", "hi"))
	if !ok || first != "temp-1" {
		t.Errorf("first echo matched %q, want temp-1 (oldest)", first)
	}
	second, ok := r.resolve(confirmedMsg("m2", "a", "hi"))
	if !ok || second != "temp-2" {
		t.Errorf("second echo matched %q, want temp-2", second)
	}
}

func TestResolveConsumesEntry(t *testing.T) {
	r := newReconciler()
	r.track(pendingMsg("temp-1", "hi"))

	if _, ok := r.resolve(confirmedMsg("m1", "a", "hi")); !ok {
		t.Fatal("first resolve should match")
	}
	// A duplicate echo (live feed + poll) finds nothing to match.
	if _, ok := r.resolve(confirmedMsg("m1", "a", "hi")); ok {
		t.Error("second resolve matched an already-consumed entry")
	}
}

func TestDrop(t *testing.T) {
	r := newReconciler()
	r.track(pendingMsg("temp-1", "hi"))

	if !r.drop("temp-1") {
		t.Error("drop should remove the tracked entry")
	}
	if r.drop("temp-1") {
		t.Error("drop of unknown temp id should report false")
	}
}

func TestTickExpiresAfterWindow(t *testing.T) {
	r := newReconciler()
	r.track(pendingMsg("temp-1", "hi"))

	if expired := r.tick(3); len(expired) != 0 {
		t.Fatalf("expired after 1 cycle: %v", expired)
	}
	if expired := r.tick(3); len(expired) != 0 {
		t.Fatalf("expired after 2 cycles: %v", expired)
	}
	expired := r.tick(3)
	if len(expired) != 1 || expired[0] != "temp-1" {
		t.Errorf("expired = %v, want [temp-1] after window elapses", expired)
	}
	if r.outstanding() != 0 {
		t.Errorf("outstanding = %d, want 0 after expiry", r.outstanding())
	}
}

func TestTickKeepsYoungerEntries(t *testing.T) {
	r := newReconciler()
	r.track(pendingMsg("temp-1", "old"))
	r.tick(3)
	r.track(pendingMsg("temp-2", "young"))

	r.tick(3)
	expired := r.tick(3)
	if len(expired) != 1 || expired[0] != "temp-1" {
		t.Errorf("expired = %v, want [temp-1] only", expired)
	}
	if r.outstanding() != 1 {
		t.Errorf("outstanding = %d, want 1 (temp-2 still tracked)", r.outstanding())
	}
}
