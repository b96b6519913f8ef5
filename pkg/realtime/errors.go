// Copyright © 2024 Niko Carpenter <niko@nikocarpenter.com>
//
// This source code is governed by the MIT license, which can be found in the LICENSE file.

package realtime

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	// ErrMissingCredential is reported when no token is available; no connection is attempted.
	ErrMissingCredential = errors.New("no credential token available")

	// ErrConnection matches every transport level failure. See ConnectionError.
	ErrConnection = errors.New("connection error")

	// ErrReconnectBudgetExhausted is reported once automatic reconnection gives up.
	// Only an explicit Connect starts a new attempt.
	ErrReconnectBudgetExhausted = errors.New("reconnect attempts exhausted")

	// ErrDisposed is returned by Connect after Dispose.
	ErrDisposed = errors.New("channel disposed")
)

// ConnectionError is a dial failure or an abnormal closure of the transport.
type ConnectionError struct {
	Code int // Websocket close code, or 0 if the dial failed
	Err  error
}

func (e *ConnectionError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("connection error (close %d)", e.Code)
	}
	return "connection error: " + e.Err.Error()
}

// Unwrap returns the transport error.
func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// Is reports whether target is ErrConnection.
func (e *ConnectionError) Is(target error) bool {
	return target == ErrConnection
}

// AuthError is reported when the server rejects the credential.
// Its message is the server supplied reason.
type AuthError struct {
	Reason string
}

func (e *AuthError) Error() string {
	if e.Reason == "" {
		return "authentication failed"
	}
	return e.Reason
}

// JoinError is reported when the server refuses to let the channel join its room.
// Its message is the server supplied reason.
type JoinError struct {
	RoomID string
	Reason string
}

func (e *JoinError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("cannot join room %s", e.RoomID)
	}
	return e.Reason
}

// ServerError carries the text of an error event pushed by the server.
type ServerError struct {
	Message string
}

func (e *ServerError) Error() string {
	return e.Message
}
