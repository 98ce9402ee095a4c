package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/gapchat/gap/internal/store"
)

// subjectPrefix is the NATS subject namespace the backend publishes inserted
// rows on, one subject per room.
const subjectPrefix = "chat.room."

// messageRecord is the wire shape of a row in the remote messages table.
type messageRecord struct {
	ID          string `json:"id,omitempty"`
	ChatRoomID  string `json:"chat_room_id"`
	SenderID    string `json:"sender_id"`
	Content     string `json:"content"`
	MessageType string `json:"message_type"`
	CreatedAt   string `json:"created_at,omitempty"`
	Read        bool   `json:"read"`
}

func (r messageRecord) toMessage() (store.Message, error) {
	ts, err := time.Parse(time.RFC3339Nano, r.CreatedAt)
	if err != nil {
		return store.Message{}, fmt.Errorf("parse created_at %q: %w", r.CreatedAt, err)
	}
	return store.Message{
		ID:        r.ID,
		RoomID:    r.ChatRoomID,
		SenderID:  r.SenderID,
		Content:   r.Content,
		Type:      r.MessageType,
		CreatedAt: ts,
		Read:      r.Read,
		State:     store.StateConfirmed,
	}, nil
}

// Client implements Gateway against an HTTP remote store plus a NATS
// connection for the live feed. The NATS connection may be shared across
// rooms; each room's subscription is an independent handle.
type Client struct {
	rest   *resty.Client
	nc     *nats.Conn
	logger *zap.Logger
}

// New builds a client from an existing NATS connection. nc may be nil, in
// which case Subscribe fails and callers run on polling alone.
func New(serverURL string, nc *nats.Conn, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	rest := resty.New().
		SetBaseURL(serverURL).
		SetHeader("Accept", "application/json")
	return &Client{rest: rest, nc: nc, logger: logger}
}

// Dial connects to the remote store and the NATS feed. The NATS connection
// reconnects indefinitely on its own; the sync engine closes resulting feed
// gaps with incremental polls.
func Dial(serverURL, natsURL string, logger *zap.Logger) (*Client, error) {
	nc, err := nats.Connect(natsURL,
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
	)
	if err != nil {
		return nil, &TransportError{Op: "subscribe", Err: fmt.Errorf("connect nats: %w", err)}
	}
	return New(serverURL, nc, logger), nil
}

// Close releases the NATS connection.
func (c *Client) Close() {
	if c.nc != nil {
		c.nc.Close()
	}
}

// Fetch implements Gateway.
func (c *Client) Fetch(ctx context.Context, roomID string, since time.Time) ([]store.Message, error) {
	req := c.rest.R().
		SetContext(ctx).
		SetQueryParam("chat_room_id", "eq."+roomID).
		SetQueryParam("order", "created_at.asc,id.asc")
	if !since.IsZero() {
		// Strict inequality: the boundary record was already applied.
		req.SetQueryParam("created_at", "gt."+since.UTC().Format(time.RFC3339Nano))
	}

	resp, err := req.Get("/messages")
	if err != nil {
		return nil, &TransportError{Op: "fetch", Err: err}
	}
	if resp.IsError() {
		return nil, &TransportError{Op: "fetch", Status: resp.StatusCode(), Err: errors.New(resp.String())}
	}

	var records []messageRecord
	if err := json.Unmarshal(resp.Body(), &records); err != nil {
		return nil, &TransportError{Op: "fetch", Err: fmt.Errorf("decode response: %w", err)}
	}

	msgs := make([]store.Message, 0, len(records))
	for _, r := range records {
		m, err := r.toMessage()
		if err != nil {
			c.logger.Warn("skipping malformed message record", zap.String("msg_id", r.ID), zap.Error(err))
			continue
		}
		msgs = append(msgs, m)
	}
	return msgs, nil
}

// Insert implements Gateway.
func (c *Client) Insert(ctx context.Context, roomID, senderID, content string) (store.Message, error) {
	body := []messageRecord{{
		ChatRoomID:  roomID,
		SenderID:    senderID,
		Content:     content,
		MessageType: "text",
	}}

	resp, err := c.rest.R().
		SetContext(ctx).
		SetHeader("Prefer", "return=representation").
		SetBody(body).
		Post("/messages")
	if err != nil {
		return store.Message{}, &TransportError{Op: "insert", Err: err}
	}
	if resp.IsError() {
		return store.Message{}, &TransportError{Op: "insert", Status: resp.StatusCode(), Err: errors.New(resp.String())}
	}

	var records []messageRecord
	if err := json.Unmarshal(resp.Body(), &records); err != nil {
		return store.Message{}, &TransportError{Op: "insert", Err: fmt.Errorf("decode response: %w", err)}
	}
	if len(records) != 1 {
		return store.Message{}, &TransportError{Op: "insert", Err: fmt.Errorf("got %d records, want 1", len(records))}
	}
	m, err := records[0].toMessage()
	if err != nil {
		return store.Message{}, &TransportError{Op: "insert", Err: err}
	}
	return m, nil
}

// Subscribe implements Gateway.
func (c *Client) Subscribe(roomID string, onInsert func(store.Message)) (Subscription, error) {
	if c.nc == nil {
		return nil, &TransportError{Op: "subscribe", Err: errors.New("no feed connection")}
	}

	subject := subjectPrefix + roomID
	sub, err := c.nc.Subscribe(subject, func(nm *nats.Msg) {
		var r messageRecord
		if err := json.Unmarshal(nm.Data, &r); err != nil {
			c.logger.Warn("dropping malformed feed payload", zap.String("subject", subject), zap.Error(err))
			return
		}
		m, err := r.toMessage()
		if err != nil {
			c.logger.Warn("dropping malformed feed message", zap.String("msg_id", r.ID), zap.Error(err))
			return
		}
		// Cross-room leakage guard: the backend publishes per-room subjects,
		// but a mislabeled row must not surface in this feed.
		if m.RoomID != roomID {
			return
		}
		onInsert(m)
	})
	if err != nil {
		return nil, &TransportError{Op: "subscribe", Err: err}
	}

	s := &natsSubscription{
		sub:    sub,
		nc:     c.nc,
		status: c.nc.StatusChanged(nats.DISCONNECTED, nats.CLOSED),
		errCh:  make(chan error, 1),
		done:   make(chan struct{}),
	}
	go s.watch()
	return s, nil
}

// natsSubscription watches the shared connection for drops so the engine can
// run its gap-closing poll; the connection itself keeps reconnecting.
type natsSubscription struct {
	sub    *nats.Subscription
	nc     *nats.Conn
	status chan nats.Status
	errCh  chan error
	done   chan struct{}
	closed sync.Once
}

func (s *natsSubscription) watch() {
	for {
		select {
		case st := <-s.status:
			select {
			case s.errCh <- fmt.Errorf("feed connection %s", st):
			default:
			}
		case <-s.done:
			return
		}
	}
}

func (s *natsSubscription) Err() <-chan error {
	return s.errCh
}

func (s *natsSubscription) Close() error {
	var err error
	s.closed.Do(func() {
		s.nc.RemoveStatusListener(s.status)
		close(s.done)
		err = s.sub.Unsubscribe()
	})
	return err
}
