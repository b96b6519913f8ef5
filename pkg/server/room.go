// Copyright © 2024 Niko Carpenter <niko@nikocarpenter.com>
//
// This source code is governed by the MIT license, which can be found in the LICENSE file.

package server

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/n0ot/teamchat/pkg/protocol"
	"github.com/n0ot/teamchat/pkg/store"
)

// Time allowed to persist a chat message.
const storeTimeout = 5 * time.Second

var errAlreadyInRoom = errors.New("already in room")

// room serializes joins, parts and messages for one chat room on its own goroutine.
type room struct {
	id      string
	members []roomMember
	store   store.Store
	log     *logrus.Entry

	// messages receives chat messages to be stored and broadcast.
	messages chan roomMessage
	// typing receives typing indicators to be broadcast to the other members.
	typing chan roomTyping
	// joins receives members to add to the room.
	joins chan joinRoomRequest
	// parts receives members to remove from the room.
	// If there are no more members, and no pending joins, the room will be destroyed.
	parts chan leaveRoomRequest

	pendingJoinsLock sync.Mutex // Protects pendingJoins
	// pendingJoins is the number of clients who have fetched this room from the registry, but have not yet joined
	pendingJoins int
}

// roomMember is one connection in a room.
// A user with several connections is one participant.
type roomMember struct {
	clientID uint64
	userID   string
	send     func(protocol.Message) bool
}

type joinRoomRequest struct {
	member roomMember
	resp   chan interface{} // response could either be the participant list or an error
}

type leaveRoomRequest struct {
	clientID uint64
	resp     chan struct{}
}

type roomMessage struct {
	origin   uint64
	userID   string
	content  string
	clientID string
	resp     chan error
}

type roomTyping struct {
	origin uint64
	userID string
}

// joinRoom adds a member to the room, creating it if it doesn't already exist.
// On success, the room sends the member its join response,
// and joinRoom returns the room's participants, including the new member.
func joinRoom(roomID string, member roomMember, reg *registry, st store.Store, log *logrus.Logger) (*room, []string, error) {
	reg.lock.Lock()
	r, ok := reg.rooms[roomID]
	if !ok {
		r = &room{
			id:       roomID,
			members:  []roomMember{},
			store:    st,
			log:      log.WithField("room", roomID),
			messages: make(chan roomMessage),
			typing:   make(chan roomTyping),
			joins:    make(chan joinRoomRequest),
			parts:    make(chan leaveRoomRequest),
		}
		reg.rooms[roomID] = r
		go r.start(reg)

		if len(reg.rooms) > reg.maxRooms {
			reg.maxRooms = len(reg.rooms)
			reg.maxRoomsTime = time.Now()
		}
	}

	// We don't want to join the room while the registry is locked, because slow room goroutines will bog it down for everyone.
	// But we do need to note that there is a join pending, so that if the room becomes empty before this member joins,
	// it doesn't spin down and remove itself from the registry.
	r.pendingJoinsLock.Lock()
	r.pendingJoins++
	r.pendingJoinsLock.Unlock()
	reg.lock.Unlock()

	req := joinRoomRequest{
		member: member,
		resp:   make(chan interface{}),
	}
	r.joins <- req

	switch result := (<-req.resp).(type) {
	case error:
		return r, nil, result
	case []string:
		return r, result, nil
	}
	return r, nil, errors.New("Received unknown type from room")
}

// leave removes a member from the room, destroying the room if it is empty.
func (r *room) leave(clientID uint64) {
	req := leaveRoomRequest{
		clientID: clientID,
		resp:     make(chan struct{}),
	}
	r.parts <- req
	<-req.resp
}

// post stores a chat message, and broadcasts it to every member including the sender.
func (r *room) post(msg roomMessage) error {
	msg.resp = make(chan error)
	r.messages <- msg
	return <-msg.resp
}

func (r *room) start(reg *registry) {
	r.log.Debug("Room opened")
	for {
		select {
		case req := <-r.joins:
			if r.isMember(req.member.clientID) {
				req.resp <- errAlreadyInRoom
			} else {
				newParticipant := !r.hasUser(req.member.userID)
				r.members = append(r.members, req.member)
				participants := r.participants()
				// Answered from here, so the joiner hears about the join before any room traffic.
				req.member.send(protocol.NewJoinResponse(r.id, participants))
				req.resp <- participants
				if newParticipant {
					r.broadcast(protocol.NewParticipantsResponse(r.id, participants, true), req.member.clientID)
				}
			}
			r.pendingJoinsLock.Lock()
			r.pendingJoins--
			r.pendingJoinsLock.Unlock()

		case req := <-r.parts:
			for i, member := range r.members {
				if req.clientID != member.clientID {
					continue
				}
				r.members = append(r.members[:i], r.members[i+1:]...)
				if !r.hasUser(member.userID) {
					r.broadcast(protocol.NewParticipantsResponse(r.id, r.participants(), false), 0)
				}
				break
			}
			// Tell the requester the removal is complete.
			// This does not mean a member was actually removed, if the specified ID wasn't already in the room.
			req.resp <- struct{}{}

			reg.lock.Lock()
			// Destroy the room if there are no more members and no more pending joins
			r.pendingJoinsLock.Lock()
			if len(r.members) == 0 && r.pendingJoins == 0 {
				delete(reg.rooms, r.id)
				r.pendingJoinsLock.Unlock()
				reg.lock.Unlock()
				r.log.Debug("Room closed")
				return
			}
			r.pendingJoinsLock.Unlock()
			reg.lock.Unlock()

		case msg := <-r.messages:
			msg.resp <- r.handleMessage(msg)

		case ev := <-r.typing:
			if !r.isMember(ev.origin) {
				continue
			}
			r.broadcast(protocol.NewTypingEvent(r.id, ev.userID), ev.origin)
		}
	}
}

func (r *room) handleMessage(msg roomMessage) error {
	if !r.isMember(msg.origin) {
		return errors.New("not in room")
	}

	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()
	stored, err := r.store.Append(ctx, store.Message{
		RoomID:   r.id,
		SenderID: msg.userID,
		Content:  msg.content,
		ClientID: msg.clientID,
	})
	if err != nil {
		r.log.WithFields(logrus.Fields{
			"error":  err,
			"sender": msg.userID,
		}).Error("Cannot store message")
		return errors.New("message could not be stored")
	}

	r.broadcast(protocol.NewChatEvent(r.id, chatMessage(stored)), 0)
	return nil
}

// broadcast sends msg to every member except the one with clientID except.
// Client IDs start at 1, so an except of 0 reaches everyone.
func (r *room) broadcast(msg protocol.Message, except uint64) {
	for _, member := range r.members {
		if member.clientID != except {
			member.send(msg)
		}
	}
}

func (r *room) isMember(clientID uint64) bool {
	for _, member := range r.members {
		if member.clientID == clientID {
			return true
		}
	}
	return false
}

func (r *room) hasUser(userID string) bool {
	for _, member := range r.members {
		if member.userID == userID {
			return true
		}
	}
	return false
}

// participants lists the distinct user IDs in the room, in the order they joined.
func (r *room) participants() []string {
	seen := make(map[string]bool, len(r.members))
	participants := make([]string, 0, len(r.members))
	for _, member := range r.members {
		if !seen[member.userID] {
			seen[member.userID] = true
			participants = append(participants, member.userID)
		}
	}
	return participants
}

// chatMessage converts a stored message to its wire form.
func chatMessage(msg store.Message) protocol.ChatMessage {
	return protocol.ChatMessage{
		ID:       msg.ID,
		Sequence: msg.Sequence,
		SenderID: msg.SenderID,
		Content:  msg.Content,
		ClientID: msg.ClientID,
		SentAt:   msg.SentAt,
	}
}
