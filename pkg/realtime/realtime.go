// Copyright © 2024 Niko Carpenter <niko@nikocarpenter.com>
//
// This source code is governed by the MIT license, which can be found in the LICENSE file.

// Package realtime implements the client side of a room chat connection.
//
// A Channel owns one websocket to the chat server at a time.
// It authenticates, joins a single room, keeps the room's participant list,
// fans inbound events out to subscribers, and reconnects with exponential backoff
// when the connection is lost abnormally.
package realtime

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	// DefaultMaxReconnectAttempts is used when Config.MaxReconnectAttempts is 0.
	DefaultMaxReconnectAttempts = 5

	initialReconnectDelay = time.Second
	maxReconnectDelay     = 10 * time.Second

	// Time allowed to write a frame to the server.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong from the server.
	pongWait = 60 * time.Second

	// Pings are sent with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	maxMessageSize = 64 * 1024

	sendBuffSize  = 32 // Outbound frames queued per connection
	eventBuffSize = 16 // Transport events queued for the event loop
)

// State is the lifecycle state of a Channel.
type State int

// Channel states, in handshake order.
// StateFailed is reachable from any state.
const (
	StateDisconnected State = iota
	StateConnecting
	StateAuthenticating
	StateJoining
	StateReady
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateAuthenticating:
		return "authenticating"
	case StateJoining:
		return "joining"
	case StateReady:
		return "ready"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Config holds the settings for a Channel.
type Config struct {
	// URL is the ws:// or wss:// endpoint of the chat server.
	URL string

	// RoomID is the room joined after authentication.
	RoomID string

	// Tokens supplies the credential sent in the auth request.
	// It is consulted on every connection attempt.
	Tokens TokenSource

	// MaxReconnectAttempts bounds automatic reconnection after abnormal closure.
	// 0 selects DefaultMaxReconnectAttempts; a negative value disables reconnection.
	MaxReconnectAttempts int

	// Dialer opens transports. If nil, a gorilla websocket dialer is used.
	Dialer Dialer

	// Header is sent with the websocket handshake.
	Header http.Header

	// Log receives channel diagnostics. If nil, the logrus standard logger is used.
	Log *logrus.Logger
}

// Status is a snapshot of a Channel's observable state.
type Status struct {
	State State

	// Err is the most recent error, or nil.
	Err error

	// Participants is the room membership as last reported by the server.
	Participants []string

	// Attempt is the number of reconnects scheduled since the last successful authentication.
	Attempt int
}

// Event is an application level event received from the server, such as a chat message or typing indicator.
type Event struct {
	Type string

	// Payload is the complete envelope as received.
	Payload json.RawMessage
}

// Handler receives events of the type it was subscribed to.
type Handler func(Event)
