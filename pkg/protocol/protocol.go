// Copyright © 2024 Niko Carpenter <niko@nikocarpenter.com>
//
// This source code is governed by the MIT license, which can be found in the LICENSE file.

// Package protocol defines the JSON envelopes exchanged between chat clients and the room server.
// Every envelope carries a "type" key; the remaining keys depend on the type.
package protocol

import (
	"encoding/json"
	"time"

	"github.com/pkg/errors"
)

// Envelope types.
const (
	TypeAuth              = "auth"
	TypeJoin              = "join"
	TypeLeave             = "leave"
	TypeMessage           = "message"
	TypeTyping            = "typing"
	TypeParticipantJoined = "participant_joined"
	TypeParticipantLeft   = "participant_left"
	TypeError             = "error"
)

// CloseNormal is the websocket close code for a deliberate, client initiated closure.
// Any other close code is treated as abnormal by clients.
const CloseNormal = 1000

// A Message is sent to and from clients.
// All Messages should wrap DefaultMessage, so they have a Type field which marshals to json as "type."
type Message interface {
	MessageType() string
}

// DefaultMessage implements Message, and has a type.
type DefaultMessage struct {
	Type string `json:"type"`
}

// MessageType gets the type of a DefaultMessage.
func (msg DefaultMessage) MessageType() string {
	return msg.Type
}

// ClientMessage is any envelope sent from a client to the server.
// Only the fields relevant to Type are populated.
type ClientMessage struct {
	DefaultMessage
	Token    string `json:"token,omitempty"`
	RoomID   string `json:"roomId,omitempty"`
	Message  string `json:"message,omitempty"`
	ClientID string `json:"clientId,omitempty"`
}

// NewAuth creates an authentication request.
func NewAuth(token string) ClientMessage {
	return ClientMessage{DefaultMessage: DefaultMessage{TypeAuth}, Token: token}
}

// NewJoin creates a request to join a room.
func NewJoin(roomID string) ClientMessage {
	return ClientMessage{DefaultMessage: DefaultMessage{TypeJoin}, RoomID: roomID}
}

// NewLeave creates a notification that the client is leaving a room.
func NewLeave(roomID string) ClientMessage {
	return ClientMessage{DefaultMessage: DefaultMessage{TypeLeave}, RoomID: roomID}
}

// NewChat creates a chat message for a room.
// clientID is optional, and is echoed back by the server so senders can reconcile local entries.
func NewChat(roomID, content, clientID string) ClientMessage {
	return ClientMessage{
		DefaultMessage: DefaultMessage{TypeMessage},
		RoomID:         roomID,
		Message:        content,
		ClientID:       clientID,
	}
}

// NewTyping creates a typing indicator for a room.
func NewTyping(roomID string) ClientMessage {
	return ClientMessage{DefaultMessage: DefaultMessage{TypeTyping}, RoomID: roomID}
}

// DecodeClient parses an envelope sent by a client.
func DecodeClient(data []byte) (ClientMessage, error) {
	var msg ClientMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return ClientMessage{}, errors.Wrap(err, "decode client message")
	}
	if msg.Type == "" {
		return ClientMessage{}, errors.New(`"type" key must be a non-empty string`)
	}
	return msg, nil
}

// ChatMessage is a persisted chat message as seen by clients.
type ChatMessage struct {
	ID       string    `json:"id"`
	Sequence int64     `json:"sequence"`
	SenderID string    `json:"senderId"`
	Content  string    `json:"content"`
	ClientID string    `json:"clientId,omitempty"`
	SentAt   time.Time `json:"sentAt"`
}

// ChatEvent is broadcast to every member of a room when a message is posted.
type ChatEvent struct {
	DefaultMessage
	RoomID  string      `json:"roomId"`
	Message ChatMessage `json:"message"`
}

// NewChatEvent wraps a chat message for broadcast.
func NewChatEvent(roomID string, msg ChatMessage) ChatEvent {
	return ChatEvent{DefaultMessage: DefaultMessage{TypeMessage}, RoomID: roomID, Message: msg}
}

// TypingEvent is broadcast to the other members of a room when someone is typing.
type TypingEvent struct {
	DefaultMessage
	RoomID string `json:"roomId"`
	UserID string `json:"userId"`
}

// NewTypingEvent creates a typing notification.
func NewTypingEvent(roomID, userID string) TypingEvent {
	return TypingEvent{DefaultMessage: DefaultMessage{TypeTyping}, RoomID: roomID, UserID: userID}
}

// DecodeChat parses the payload of a custom "message" event.
func DecodeChat(payload []byte) (ChatEvent, error) {
	var ev ChatEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		return ChatEvent{}, errors.Wrap(err, "decode chat event")
	}
	if ev.Type != TypeMessage {
		return ChatEvent{}, errors.Errorf("not a chat event: %q", ev.Type)
	}
	return ev, nil
}

// DecodeTyping parses the payload of a custom "typing" event.
func DecodeTyping(payload []byte) (TypingEvent, error) {
	var ev TypingEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		return TypingEvent{}, errors.Wrap(err, "decode typing event")
	}
	if ev.Type != TypeTyping {
		return TypingEvent{}, errors.Errorf("not a typing event: %q", ev.Type)
	}
	return ev, nil
}
