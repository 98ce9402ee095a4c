package cache

import (
	"time"

	"github.com/gapchat/gap/internal/store"
)

// Put inserts or refreshes a confirmed message (idempotent on id). Pending
// messages are never cached; their temp ids are meaningless across restarts.
func (db *DB) Put(m store.Message) error {
	if m.State != store.StateConfirmed || store.IsTempID(m.ID) {
		return nil
	}
	_, err := db.Exec(`
		INSERT INTO messages (id, chat_room_id, sender_id, content, message_type, created_at, read)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			content = excluded.content,
			read = excluded.read`,
		m.ID, m.RoomID, m.SenderID, m.Content, m.Type, m.CreatedAt.UnixMilli(), m.Read)
	return err
}

// List returns a room's cached messages ordered by (created_at, id).
func (db *DB) List(roomID string) ([]store.Message, error) {
	rows, err := db.Query(`
		SELECT id, chat_room_id, sender_id, content, message_type, created_at, read
		FROM messages
		WHERE chat_room_id = ?
		ORDER BY created_at ASC, id ASC`, roomID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var msgs []store.Message
	for rows.Next() {
		var m store.Message
		var ts int64
		if err := rows.Scan(&m.ID, &m.RoomID, &m.SenderID, &m.Content, &m.Type, &ts, &m.Read); err != nil {
			return nil, err
		}
		m.CreatedAt = time.UnixMilli(ts)
		m.State = store.StateConfirmed
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// Prune deletes a room's cached messages older than the cutoff.
func (db *DB) Prune(roomID string, before time.Time) (int64, error) {
	res, err := db.Exec(`DELETE FROM messages WHERE chat_room_id = ? AND created_at < ?`,
		roomID, before.UnixMilli())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
