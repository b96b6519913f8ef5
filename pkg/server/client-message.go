package server

import (
	"strings"
	"unicode/utf8"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/n0ot/teamchat/pkg/protocol"
)

// MaxMessageLength is the longest chat message, in characters, the server accepts.
const MaxMessageLength = 4000

var clientMessageHandlers map[string]clientMessageHandlerFunc

type clientMessageHandlerFunc func(*client, protocol.ClientMessage)

func init() {
	clientMessageHandlers = map[string]clientMessageHandlerFunc{
		protocol.TypeAuth:    handleClientAuth,
		protocol.TypeJoin:    handleClientJoin,
		protocol.TypeLeave:   handleClientLeave,
		protocol.TypeMessage: handleClientChatMessage,
		protocol.TypeTyping:  handleClientTyping,
	}
}

// handle dispatches msg to the handler for its type.
// Only auth is accepted before the client authenticates.
func (c *client) handle(msg protocol.ClientMessage) {
	handler, ok := clientMessageHandlers[msg.Type]
	if !ok {
		c.sendError("unknown message type: " + msg.Type)
		return
	}
	if c.identity == nil && msg.Type != protocol.TypeAuth {
		if msg.Type == protocol.TypeJoin {
			c.sendMessage(protocol.NewJoinFailure(msg.RoomID, "not authenticated"))
			return
		}
		c.sendError("not authenticated")
		return
	}
	handler(c, msg)
}

func handleClientAuth(c *client, msg protocol.ClientMessage) {
	if c.identity != nil {
		c.sendMessage(protocol.NewAuthResponse("already authenticated"))
		return
	}

	if c.srv.Authenticator == nil {
		c.sendMessage(protocol.NewAuthResponse("authentication unavailable"))
		return
	}
	identity, err := c.srv.Authenticator.Authenticate(msg.Token)
	if err != nil {
		c.log.WithField("error", err).Info("Authentication failed")
		c.sendMessage(protocol.NewAuthResponse(err.Error()))
		return
	}

	c.identity = &identity
	c.log.WithField("user", identity.UserID).Info("Authenticated")
	c.sendMessage(protocol.NewAuthResponse(""))
}

func handleClientJoin(c *client, msg protocol.ClientMessage) {
	roomID := strings.TrimSpace(msg.RoomID)
	if roomID == "" {
		c.sendMessage(protocol.NewJoinFailure(msg.RoomID, "no room specified"))
		return
	}
	if !c.identity.CanJoin(roomID) {
		c.sendMessage(protocol.NewJoinFailure(roomID, "not a member of "+roomID))
		return
	}
	if c.room != nil {
		if c.room.id == roomID {
			c.sendMessage(protocol.NewJoinFailure(roomID, "already in room"))
			return
		}
		// One room per connection; joining another leaves the current one.
		c.room.leave(c.id)
		c.room = nil
	}

	member := roomMember{
		clientID: c.id,
		userID:   c.identity.UserID,
		send:     c.sendMessage,
	}
	r, participants, err := joinRoom(roomID, member, c.registry, c.srv.Store, c.srv.Log)
	if err != nil {
		c.sendMessage(protocol.NewJoinFailure(roomID, err.Error()))
		return
	}
	c.room = r
	c.log.WithFields(logrus.Fields{
		"user":         c.identity.UserID,
		"room":         roomID,
		"participants": len(participants),
	}).Info("Joined room")
}

func handleClientLeave(c *client, msg protocol.ClientMessage) {
	if c.room == nil {
		return
	}
	if msg.RoomID != "" && msg.RoomID != c.room.id {
		c.sendError("not in room " + msg.RoomID)
		return
	}
	c.log.WithField("room", c.room.id).Info("Left room")
	c.room.leave(c.id)
	c.room = nil
}

func handleClientChatMessage(c *client, msg protocol.ClientMessage) {
	if !c.checkRoom(msg.RoomID) {
		return
	}
	content := strings.TrimSpace(msg.Message)
	if content == "" {
		c.sendError("empty message")
		return
	}
	if utf8.RuneCountInString(content) > MaxMessageLength {
		c.sendError("message too long")
		return
	}

	err := c.room.post(roomMessage{
		origin:   c.id,
		userID:   c.identity.UserID,
		content:  content,
		clientID: msg.ClientID,
	})
	if err != nil {
		c.sendError(err.Error())
	}
}

func handleClientTyping(c *client, msg protocol.ClientMessage) {
	if !c.checkRoom(msg.RoomID) {
		return
	}
	c.room.typing <- roomTyping{origin: c.id, userID: c.identity.UserID}
}

// checkRoom reports whether the client is in roomID, telling it why not otherwise.
func (c *client) checkRoom(roomID string) bool {
	if c.room == nil {
		c.sendError("not in a room")
		return false
	}
	if roomID != "" && roomID != c.room.id {
		c.sendError("not in room " + roomID)
		return false
	}
	return true
}

// kick disconnects the client, telling it to go away.
func (c *client) kick(reason string) {
	c.stop(reason, websocket.CloseGoingAway)
}
