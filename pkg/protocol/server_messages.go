// Copyright © 2024 Niko Carpenter <niko@nikocarpenter.com>
//
// This source code is governed by the MIT license, which can be found in the LICENSE file.

package protocol

import (
	"encoding/json"

	"github.com/pkg/errors"
)

// ServerMessage is one of the envelopes a server can send to a client:
// *AuthResponse, *JoinResponse, *ParticipantsResponse, *ErrorResponse, or Custom.
// The set is closed; anything with an unrecognized type decodes to Custom.
type ServerMessage interface {
	Message
	isServerMessage()
}

// AuthResponse answers an auth request.
type AuthResponse struct {
	DefaultMessage
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

func (*AuthResponse) isServerMessage() {}

// NewAuthResponse creates an auth response. A non-empty reason marks failure.
func NewAuthResponse(reason string) *AuthResponse {
	return &AuthResponse{
		DefaultMessage: DefaultMessage{TypeAuth},
		Success:        reason == "",
		Error:          reason,
	}
}

// JoinResponse answers a join request.
// On success, Participants holds the room's membership including the joiner.
type JoinResponse struct {
	DefaultMessage
	Success      bool     `json:"success"`
	Error        string   `json:"error,omitempty"`
	RoomID       string   `json:"roomId,omitempty"`
	Participants []string `json:"participants,omitempty"`
}

func (*JoinResponse) isServerMessage() {}

// NewJoinResponse creates a successful join response.
func NewJoinResponse(roomID string, participants []string) *JoinResponse {
	return &JoinResponse{
		DefaultMessage: DefaultMessage{TypeJoin},
		Success:        true,
		RoomID:         roomID,
		Participants:   participants,
	}
}

// NewJoinFailure creates a failed join response.
func NewJoinFailure(roomID, reason string) *JoinResponse {
	return &JoinResponse{
		DefaultMessage: DefaultMessage{TypeJoin},
		RoomID:         roomID,
		Error:          reason,
	}
}

// ParticipantsResponse carries the complete membership of a room after someone joined or left.
type ParticipantsResponse struct {
	DefaultMessage
	RoomID       string   `json:"roomId,omitempty"`
	Participants []string `json:"participants"`
}

func (*ParticipantsResponse) isServerMessage() {}

// Joined reports whether this membership change was caused by a join.
func (msg *ParticipantsResponse) Joined() bool {
	return msg.Type == TypeParticipantJoined
}

// NewParticipantsResponse creates a membership update. joined selects participant_joined over participant_left.
func NewParticipantsResponse(roomID string, participants []string, joined bool) *ParticipantsResponse {
	typ := TypeParticipantLeft
	if joined {
		typ = TypeParticipantJoined
	}
	if participants == nil {
		participants = []string{}
	}
	return &ParticipantsResponse{
		DefaultMessage: DefaultMessage{typ},
		RoomID:         roomID,
		Participants:   participants,
	}
}

// ErrorResponse reports a server side error that is not tied to auth or join.
type ErrorResponse struct {
	DefaultMessage
	Message string `json:"message"`
}

func (*ErrorResponse) isServerMessage() {}

// NewErrorResponse creates an error envelope with the given reason.
func NewErrorResponse(reason string) *ErrorResponse {
	return &ErrorResponse{
		DefaultMessage: DefaultMessage{TypeError},
		Message:        reason,
	}
}

// Custom is any application level event without a dedicated type, such as chat messages and typing indicators.
// Payload holds the complete envelope as received.
type Custom struct {
	Type    string
	Payload json.RawMessage
}

// MessageType returns the custom event's type.
func (c Custom) MessageType() string {
	return c.Type
}

func (Custom) isServerMessage() {}

var serverMessages = map[string]func() ServerMessage{
	TypeAuth:              func() ServerMessage { return &AuthResponse{} },
	TypeJoin:              func() ServerMessage { return &JoinResponse{} },
	TypeParticipantJoined: func() ServerMessage { return &ParticipantsResponse{} },
	TypeParticipantLeft:   func() ServerMessage { return &ParticipantsResponse{} },
	TypeError:             func() ServerMessage { return &ErrorResponse{} },
}

// Decode parses an envelope sent by the server.
func Decode(data []byte) (ServerMessage, error) {
	var head DefaultMessage
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, errors.Wrap(err, "decode server message")
	}
	if head.Type == "" {
		return nil, errors.New(`"type" key must be a non-empty string`)
	}

	newMessage, ok := serverMessages[head.Type]
	if !ok {
		payload := make(json.RawMessage, len(data))
		copy(payload, data)
		return Custom{Type: head.Type, Payload: payload}, nil
	}

	msg := newMessage()
	if err := json.Unmarshal(data, msg); err != nil {
		return nil, errors.Wrapf(err, "decode %s message", head.Type)
	}
	return msg, nil
}
