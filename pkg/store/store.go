// Copyright © 2024 Niko Carpenter <niko@nikocarpenter.com>
//
// This source code is governed by the MIT license, which can be found in the LICENSE file.

// Package store persists room chat history and read markers.
package store

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

const (
	// DefaultLimit is the page size used when a caller asks for 0 messages.
	DefaultLimit = 50

	// MaxLimit caps the page size.
	MaxLimit = 200
)

// ErrInvalid is returned for messages or queries missing a required field.
var ErrInvalid = errors.New("invalid store request")

// Message is a chat message as stored.
type Message struct {
	ID       string
	RoomID   string
	SenderID string
	Content  string
	ClientID string // Set by the sender for optimistic reconciliation; may be empty
	Sequence int64  // Assigned on append; increases by 1 per room, starting at 1
	SentAt   time.Time
}

// Store holds the history of every room.
type Store interface {
	// Append assigns msg a sequence number, and an ID and timestamp if it has none, and stores it.
	Append(ctx context.Context, msg Message) (Message, error)

	// Before returns up to limit of the newest messages in roomID with a sequence below before, oldest first.
	// A before of 0 or less means the latest messages.
	// hasMore reports whether older messages remain.
	Before(ctx context.Context, roomID string, before int64, limit int) (messages []Message, hasMore bool, err error)

	// MarkRead records that userID has read roomID through seq.
	// The marker never moves backwards.
	MarkRead(ctx context.Context, roomID, userID string, seq int64) error

	// LastRead returns the read marker for userID in roomID, or 0.
	LastRead(ctx context.Context, roomID, userID string) (int64, error)

	Close() error
}

// ClampLimit maps a requested page size into [1, MaxLimit], defaulting to DefaultLimit.
func ClampLimit(limit int) int {
	if limit <= 0 {
		return DefaultLimit
	}
	if limit > MaxLimit {
		return MaxLimit
	}
	return limit
}

// Prepare validates msg for appending, and fills in its ID and timestamp.
// Implementations call it before assigning a sequence.
func Prepare(msg Message, now time.Time) (Message, error) {
	msg.RoomID = strings.TrimSpace(msg.RoomID)
	msg.SenderID = strings.TrimSpace(msg.SenderID)
	if msg.RoomID == "" {
		return msg, errors.Wrap(ErrInvalid, "room id is required")
	}
	if msg.SenderID == "" {
		return msg, errors.Wrap(ErrInvalid, "sender id is required")
	}
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.SentAt.IsZero() {
		msg.SentAt = now
	}
	msg.SentAt = msg.SentAt.UTC().Truncate(time.Millisecond)
	return msg, nil
}

// ValidateRead checks the arguments of MarkRead and LastRead.
func ValidateRead(roomID, userID string) error {
	if strings.TrimSpace(roomID) == "" {
		return errors.Wrap(ErrInvalid, "room id is required")
	}
	if strings.TrimSpace(userID) == "" {
		return errors.Wrap(ErrInvalid, "user id is required")
	}
	return nil
}
