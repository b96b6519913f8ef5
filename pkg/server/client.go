// Copyright © 2019 Niko Carpenter <nikoacarpenter@gmail.com>
//
// This source code is governed by the MIT license, which can be found in the LICENSE file.

package server

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/n0ot/teamchat/pkg/protocol"
)

const (
	sendBuffSize = 64 // Buffer size of channel for sending data to clients

	// Time allowed to write a frame to a client.
	writeWait = 10 * time.Second

	maxMessageSize = 64 * 1024
)

// client is one websocket connection to the server.
// A client may join one room at a time.
type client struct {
	id       uint64
	srv      *Server
	conn     *websocket.Conn
	registry *registry
	log      *logrus.Entry

	// send holds encoded frames waiting for writePump.
	send chan []byte

	done          chan struct{} // Closed when client is stopped
	stopOnce      sync.Once
	stoppedReason string // Reason the client was stopped; set before done is closed
	closeCode     int    // Close code sent to the client; set before done is closed

	// Owned by the goroutine running readPump.
	identity *Identity
	room     *room
}

func newClient(srv *Server, conn *websocket.Conn, id uint64, remoteAddr string) *client {
	return &client{
		id:       id,
		srv:      srv,
		conn:     conn,
		registry: srv.registry,
		log: srv.Log.WithFields(logrus.Fields{
			"client": id,
			"remote": remoteAddr,
		}),
		send: make(chan []byte, sendBuffSize),
		done: make(chan struct{}),
	}
}

// serve runs the client until it disconnects or is stopped.
func (c *client) serve() {
	c.registry.addClient(c)
	c.log.Info("Client connected")

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		c.writePump()
	}()
	c.readPump()

	if c.room != nil {
		c.room.leave(c.id)
		c.room = nil
	}
	c.registry.removeClient(c.id)
	c.stop("Client disconnected", websocket.CloseNormalClosure)
	<-writerDone
	c.log.WithField("reason", c.stoppedReason).Info("Client exited")
}

// readPump reads frames from the connection, and dispatches them to message handlers.
func (c *client) readPump() {
	c.conn.SetReadLimit(maxMessageSize)
	pongWait := c.srv.pongWait()
	if pongWait > 0 {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		c.conn.SetPongHandler(func(string) error {
			c.conn.SetReadDeadline(time.Now().Add(pongWait))
			return nil
		})
	}

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.log.WithField("error", err).Debug("Unexpected close")
			}
			return
		}

		msg, err := protocol.DecodeClient(data)
		if err != nil {
			c.sendError(err.Error())
			continue
		}
		c.handle(msg)
		if c.stopped() {
			return
		}
	}
}

// writePump writes queued frames and pings to the connection.
func (c *client) writePump() {
	var pings <-chan time.Time
	if c.srv.TimeBetweenPings > 0 {
		ticker := time.NewTicker(c.srv.TimeBetweenPings)
		defer ticker.Stop()
		pings = ticker.C
	}
	defer c.conn.Close()

	for {
		select {
		case data := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				c.stop("Send error", websocket.CloseAbnormalClosure)
				return
			}

		case <-pings:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.stop("Ping error", websocket.CloseAbnormalClosure)
				return
			}

		case <-c.done:
			// Flush what was queued before the stop, such as a final error.
			for {
				select {
				case data := <-c.send:
					c.conn.SetWriteDeadline(time.Now().Add(writeWait))
					if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
						return
					}
					continue
				default:
				}
				break
			}
			c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(c.closeCode, c.stoppedReason),
				time.Now().Add(writeWait))
			return
		}
	}
}

// sendMessage queues msg for the client without blocking.
// A client that can't keep up is stopped.
func (c *client) sendMessage(msg protocol.Message) bool {
	data, err := json.Marshal(msg)
	if err != nil {
		c.log.WithField("error", err).Error("Cannot serialize message")
		return false
	}

	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- data:
		return true
	default:
		c.stop("Send buffer full", websocket.ClosePolicyViolation)
		return false
	}
}

func (c *client) sendError(reason string) {
	c.sendMessage(protocol.NewErrorResponse(reason))
}

// stopped returns true if the client was stopped.
func (c *client) stopped() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// stop stops a client, closing its connection with code once queued frames are written.
// stop is idempotent; only the first reason and code are used.
func (c *client) stop(reason string, code int) {
	c.stopOnce.Do(func() {
		c.stoppedReason = reason
		c.closeCode = code
		close(c.done)
	})
}

func (c *client) String() string {
	return fmt.Sprintf("Client(%d)", c.id)
}
