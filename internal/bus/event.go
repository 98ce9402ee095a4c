package bus

import "time"

// Event represents a domain event published on the bus.
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}

// Event kinds published by the sync core. Subscribers filter by namespace
// prefix, e.g. "message." receives every message event.
const (
	KindMessageUpserted = "message.upserted"
	KindMessageRemoved  = "message.removed"
	KindSendAck         = "message.send_ack"
	KindSendFailed      = "message.send_failed"
	KindStatusChanged   = "session.status_changed"
	KindGapPoll         = "sync.gap_poll"
)
