// Copyright © 2024 Niko Carpenter <niko@nikocarpenter.com>
//
// This source code is governed by the MIT license, which can be found in the LICENSE file.

// Package sqlite implements store.Store on an SQLite database.
package sqlite

import (
	"context"
	"database/sql"
	"math"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"
	_ "modernc.org/sqlite" // Registers the "sqlite" driver

	"github.com/n0ot/teamchat/pkg/store"
)

const schema = `
CREATE TABLE IF NOT EXISTS messages (
	id         TEXT    NOT NULL PRIMARY KEY,
	room_id    TEXT    NOT NULL,
	sequence   INTEGER NOT NULL,
	sender_id  TEXT    NOT NULL,
	content    TEXT    NOT NULL,
	client_id  TEXT    NOT NULL DEFAULT '',
	sent_at    INTEGER NOT NULL,
	UNIQUE (room_id, sequence)
);

CREATE TABLE IF NOT EXISTS read_markers (
	room_id  TEXT    NOT NULL,
	user_id  TEXT    NOT NULL,
	sequence INTEGER NOT NULL,
	PRIMARY KEY (room_id, user_id)
);
`

// Store is a store.Store backed by SQLite.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

var _ store.Store = (*Store)(nil)

// Open opens the database at path, creating it and its tables if needed.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("Store path is required")
	}
	dsn := filepath.Clean(path) + "?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, errors.Wrap(err, "Open sqlite database")
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "Ping sqlite database")
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "Create tables")
	}
	return &Store{db: db, now: time.Now}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Append implements store.Store.
// The sequence is assigned by the insert itself, so concurrent appends to a room never share one.
func (s *Store) Append(ctx context.Context, msg store.Message) (store.Message, error) {
	msg, err := store.Prepare(msg, s.now())
	if err != nil {
		return store.Message{}, err
	}

	row := s.db.QueryRowContext(ctx, `
INSERT INTO messages (id, room_id, sequence, sender_id, content, client_id, sent_at)
SELECT ?, ?, COALESCE(MAX(sequence), 0) + 1, ?, ?, ?, ?
FROM messages WHERE room_id = ?
RETURNING sequence
`,
		msg.ID,
		msg.RoomID,
		msg.SenderID,
		msg.Content,
		msg.ClientID,
		msg.SentAt.UnixMilli(),
		msg.RoomID,
	)
	if err := row.Scan(&msg.Sequence); err != nil {
		return store.Message{}, errors.Wrap(err, "Append message")
	}
	return msg, nil
}

// Before implements store.Store.
func (s *Store) Before(ctx context.Context, roomID string, before int64, limit int) ([]store.Message, bool, error) {
	roomID = strings.TrimSpace(roomID)
	if roomID == "" {
		return nil, false, errors.Wrap(store.ErrInvalid, "room id is required")
	}
	limit = store.ClampLimit(limit)
	if before <= 0 {
		before = math.MaxInt64
	}

	// One extra row tells whether older messages remain.
	rows, err := s.db.QueryContext(ctx, `
SELECT id, room_id, sequence, sender_id, content, client_id, sent_at
FROM messages
WHERE room_id = ? AND sequence < ?
ORDER BY sequence DESC
LIMIT ?
`, roomID, before, limit+1)
	if err != nil {
		return nil, false, errors.Wrap(err, "Query messages")
	}
	defer rows.Close()

	var messages []store.Message
	for rows.Next() {
		var msg store.Message
		var sentAt int64
		if err := rows.Scan(&msg.ID, &msg.RoomID, &msg.Sequence, &msg.SenderID, &msg.Content, &msg.ClientID, &sentAt); err != nil {
			return nil, false, errors.Wrap(err, "Scan message")
		}
		msg.SentAt = time.UnixMilli(sentAt).UTC()
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, false, errors.Wrap(err, "Iterate messages")
	}

	hasMore := len(messages) > limit
	if hasMore {
		messages = messages[:limit]
	}
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	if messages == nil {
		messages = []store.Message{}
	}
	return messages, hasMore, nil
}

// MarkRead implements store.Store.
func (s *Store) MarkRead(ctx context.Context, roomID, userID string, seq int64) error {
	if err := store.ValidateRead(roomID, userID); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO read_markers (room_id, user_id, sequence) VALUES (?, ?, ?)
ON CONFLICT (room_id, user_id) DO UPDATE SET sequence = MAX(sequence, excluded.sequence)
`, strings.TrimSpace(roomID), strings.TrimSpace(userID), seq)
	if err != nil {
		return errors.Wrap(err, "Mark read")
	}
	return nil
}

// LastRead implements store.Store.
func (s *Store) LastRead(ctx context.Context, roomID, userID string) (int64, error) {
	if err := store.ValidateRead(roomID, userID); err != nil {
		return 0, err
	}
	var seq int64
	err := s.db.QueryRowContext(ctx, `
SELECT sequence FROM read_markers WHERE room_id = ? AND user_id = ?
`, strings.TrimSpace(roomID), strings.TrimSpace(userID)).Scan(&seq)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, errors.Wrap(err, "Read marker")
	}
	return seq, nil
}
