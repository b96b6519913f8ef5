// Copyright © 2024 Niko Carpenter <niko@nikocarpenter.com>
//
// This source code is governed by the MIT license, which can be found in the LICENSE file.

package store

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
)

// Memory is a Store kept in process memory.
type Memory struct {
	mu    sync.RWMutex
	rooms map[string][]Message // Indexed by sequence - 1
	reads map[readKey]int64
	now   func() time.Time
}

type readKey struct {
	roomID string
	userID string
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		rooms: make(map[string][]Message),
		reads: make(map[readKey]int64),
		now:   time.Now,
	}
}

// Append implements Store.
func (m *Memory) Append(ctx context.Context, msg Message) (Message, error) {
	if err := ctx.Err(); err != nil {
		return Message{}, err
	}
	msg, err := Prepare(msg, m.now())
	if err != nil {
		return Message{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	msg.Sequence = int64(len(m.rooms[msg.RoomID])) + 1
	m.rooms[msg.RoomID] = append(m.rooms[msg.RoomID], msg)
	return msg, nil
}

// Before implements Store.
func (m *Memory) Before(ctx context.Context, roomID string, before int64, limit int) ([]Message, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	roomID = strings.TrimSpace(roomID)
	if roomID == "" {
		return nil, false, errors.Wrap(ErrInvalid, "room id is required")
	}
	limit = ClampLimit(limit)

	m.mu.RLock()
	defer m.mu.RUnlock()
	history := m.rooms[roomID]
	end := int64(len(history))
	if before > 0 && before-1 < end {
		end = before - 1
	}
	start := end - int64(limit)
	if start < 0 {
		start = 0
	}
	page := make([]Message, end-start)
	copy(page, history[start:end])
	return page, start > 0, nil
}

// MarkRead implements Store.
func (m *Memory) MarkRead(ctx context.Context, roomID, userID string, seq int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := ValidateRead(roomID, userID); err != nil {
		return err
	}
	key := readKey{roomID: strings.TrimSpace(roomID), userID: strings.TrimSpace(userID)}

	m.mu.Lock()
	defer m.mu.Unlock()
	if seq > m.reads[key] {
		m.reads[key] = seq
	}
	return nil
}

// LastRead implements Store.
func (m *Memory) LastRead(ctx context.Context, roomID, userID string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if err := ValidateRead(roomID, userID); err != nil {
		return 0, err
	}
	key := readKey{roomID: strings.TrimSpace(roomID), userID: strings.TrimSpace(userID)}

	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.reads[key], nil
}

// Close implements Store. The memory store holds no resources.
func (m *Memory) Close() error {
	return nil
}
