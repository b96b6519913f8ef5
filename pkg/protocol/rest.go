// Copyright © 2024 Niko Carpenter <niko@nikocarpenter.com>
//
// This source code is governed by the MIT license, which can be found in the LICENSE file.

package protocol

// HistoryPage is the body of GET /rooms/{roomID}/messages.
type HistoryPage struct {
	RoomID string `json:"roomId"`

	// Messages are ordered oldest first.
	Messages []ChatMessage `json:"messages"`

	// HasMore reports whether messages older than the first one remain.
	HasMore bool `json:"hasMore"`

	// LastRead is the requesting user's read marker for the room.
	LastRead int64 `json:"lastRead"`
}

// ReadMarker is the body of POST /rooms/{roomID}/read.
type ReadMarker struct {
	Sequence int64 `json:"sequence"`
}

// HTTPError is the body of every unsuccessful REST response.
type HTTPError struct {
	Error string `json:"error"`
}
