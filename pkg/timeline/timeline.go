// Copyright © 2024 Niko Carpenter <niko@nikocarpenter.com>
//
// This source code is governed by the MIT license, which can be found in the LICENSE file.

// Package timeline keeps a room's messages in display order,
// showing a sender's own messages right away and reconciling them with the server's echo.
package timeline

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/n0ot/teamchat/pkg/protocol"
)

// Entry is one line of the timeline.
type Entry struct {
	protocol.ChatMessage

	// Pending is true for a local message the server has not echoed yet.
	// Pending entries have no ID or sequence.
	Pending bool
}

// Timeline holds confirmed messages ordered by sequence, followed by pending local messages.
// It is safe for concurrent use.
type Timeline struct {
	mu        sync.Mutex
	userID    string
	confirmed []protocol.ChatMessage
	ids       map[string]bool // IDs of confirmed messages
	pending   []Entry
	now       func() time.Time
}

// New creates an empty timeline for userID, who is the sender of pending entries.
func New(userID string) *Timeline {
	return &Timeline{
		userID: userID,
		ids:    make(map[string]bool),
		now:    time.Now,
	}
}

// AddPending adds a local message, and returns the client ID to send it with.
func (t *Timeline) AddPending(content string) string {
	clientID := uuid.NewString()

	t.mu.Lock()
	defer t.mu.Unlock()
	t.pending = append(t.pending, Entry{
		ChatMessage: protocol.ChatMessage{
			SenderID: t.userID,
			Content:  content,
			ClientID: clientID,
			SentAt:   t.now().UTC(),
		},
		Pending: true,
	})
	return clientID
}

// Confirm adds a message received from the server.
// A pending entry with the same client ID is replaced.
// It returns false if the message was already in the timeline.
func (t *Timeline) Confirm(msg protocol.ChatMessage) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if msg.ClientID != "" {
		t.removePending(msg.ClientID)
	}
	return t.insert(msg)
}

// Fail removes the pending entry with clientID, returning it so its content can be offered again.
func (t *Timeline) Fail(clientID string) (Entry, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.removePending(clientID)
}

// Prepend merges a page of older history, skipping messages already present.
// It returns the number of messages added.
func (t *Timeline) Prepend(history []protocol.ChatMessage) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	added := 0
	for _, msg := range history {
		if t.insert(msg) {
			added++
		}
	}
	return added
}

// Entries returns the confirmed messages in sequence order, followed by pending ones in the order they were added.
func (t *Timeline) Entries() []Entry {
	t.mu.Lock()
	defer t.mu.Unlock()

	entries := make([]Entry, 0, len(t.confirmed)+len(t.pending))
	for _, msg := range t.confirmed {
		entries = append(entries, Entry{ChatMessage: msg})
	}
	return append(entries, t.pending...)
}

// Oldest returns the lowest confirmed sequence, or 0 if there are no confirmed messages.
// Pass it as before to page further back.
func (t *Timeline) Oldest() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.confirmed) == 0 {
		return 0
	}
	return t.confirmed[0].Sequence
}

// Latest returns the highest confirmed sequence, or 0.
func (t *Timeline) Latest() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.confirmed) == 0 {
		return 0
	}
	return t.confirmed[len(t.confirmed)-1].Sequence
}

func (t *Timeline) insert(msg protocol.ChatMessage) bool {
	if msg.ID != "" && t.ids[msg.ID] {
		return false
	}
	i := sort.Search(len(t.confirmed), func(i int) bool {
		return t.confirmed[i].Sequence >= msg.Sequence
	})
	if i < len(t.confirmed) && t.confirmed[i].Sequence == msg.Sequence {
		return false
	}

	t.confirmed = append(t.confirmed, protocol.ChatMessage{})
	copy(t.confirmed[i+1:], t.confirmed[i:])
	t.confirmed[i] = msg
	if msg.ID != "" {
		t.ids[msg.ID] = true
	}
	return true
}

func (t *Timeline) removePending(clientID string) (Entry, bool) {
	for i, entry := range t.pending {
		if entry.ClientID == clientID {
			t.pending = append(t.pending[:i], t.pending[i+1:]...)
			return entry, true
		}
	}
	return Entry{}, false
}
