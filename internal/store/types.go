package store

import (
	"strings"
	"time"
)

// State is the lifecycle tag of a message. It is client-side only and never
// persisted remotely.
type State string

const (
	// StatePending marks a locally-created message awaiting server confirmation.
	StatePending State = "pending"
	// StateConfirmed marks a message acknowledged by the remote store.
	StateConfirmed State = "confirmed"
	// StateFailed marks a message whose send was rejected.
	StateFailed State = "failed"
)

// TempIDPrefix is the reserved prefix of locally-generated message ids.
// A server-assigned id never starts with it.
const TempIDPrefix = "temp-"

// IsTempID reports whether id is a locally-generated temporary id.
func IsTempID(id string) bool {
	return strings.HasPrefix(id, TempIDPrefix)
}

// Message is a chat message as held by the sync core. Confirmed messages
// carry the server-assigned id and timestamp; pending ones carry a temp id
// and a provisional local timestamp.
type Message struct {
	ID        string
	RoomID    string
	SenderID  string
	Content   string
	Type      string // message_type: text, image or system
	CreatedAt time.Time
	Read      bool
	State     State
}

// Pending reports whether the message is still awaiting confirmation.
func (m Message) Pending() bool {
	return m.State == StatePending
}
