// Copyright © 2024 Niko Carpenter <niko@nikocarpenter.com>
//
// This source code is governed by the MIT license, which can be found in the LICENSE file.

package realtime

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/n0ot/teamchat/pkg/protocol"
)

// Channel is an authenticated, room scoped connection to the chat server.
//
// All state transitions happen on the channel's event loop goroutine:
// transport reads, dial results and reconnect timers are posted to it and handled in order.
// Subscribers and watchers are called from that goroutine,
// so they must not call Connect, which waits on the loop.
type Channel struct {
	url         string
	roomID      string
	tokens      TokenSource
	dialer      Dialer
	header      http.Header
	maxAttempts int
	log         *logrus.Entry
	afterFunc   func(time.Duration, func()) (stop func() bool)

	events      chan interface{}
	quit        chan struct{} // Closed by Dispose
	stopped     chan struct{} // Closed when the event loop returns
	disposeOnce sync.Once

	subscribers *registry[Handler]
	watchers    *registry[func(Status)]

	// Owned by the event loop.
	gen        uint64 // Incremented for every connection attempt
	current    *link
	dialing    bool
	dialCancel context.CancelFunc
	retryStop  func() bool
	backoff    *backoff.ExponentialBackOff
	token      string

	mu     sync.RWMutex // Protects status and live
	status Status
	live   *link // Link accepting application sends; set only while ready
}

type connectRequest struct {
	resp chan error
}

type dialResult struct {
	gen  uint64
	conn Conn
	err  error
}

type linkMessage struct {
	link *link
	data []byte
}

type linkClosed struct {
	link *link
	code int
	err  error
}

type retryFired struct {
	gen uint64
}

// New creates a channel and starts its event loop.
// The channel stays disconnected until Connect is called.
// Call Dispose to release it.
func New(config Config) (*Channel, error) {
	if err := validateURL(config.URL); err != nil {
		return nil, err
	}
	roomID := strings.TrimSpace(config.RoomID)
	if roomID == "" {
		return nil, errors.New("No room specified")
	}
	if config.Tokens == nil {
		return nil, errors.New("No token source specified")
	}

	maxAttempts := config.MaxReconnectAttempts
	if maxAttempts == 0 {
		maxAttempts = DefaultMaxReconnectAttempts
	} else if maxAttempts < 0 {
		maxAttempts = 0
	}

	dialer := config.Dialer
	if dialer == nil {
		dialer = WebsocketDialer{Dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: writeWait,
		}}
	}

	logger := config.Log
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	c := &Channel{
		url:         config.URL,
		roomID:      roomID,
		tokens:      config.Tokens,
		dialer:      dialer,
		header:      config.Header,
		maxAttempts: maxAttempts,
		log: logger.WithFields(logrus.Fields{
			"room": roomID,
			"url":  config.URL,
		}),
		afterFunc: func(d time.Duration, f func()) func() bool {
			return time.AfterFunc(d, f).Stop
		},
		events:      make(chan interface{}, eventBuffSize),
		quit:        make(chan struct{}),
		stopped:     make(chan struct{}),
		subscribers: newRegistry[Handler](),
		watchers:    newRegistry[func(Status)](),
		backoff: &backoff.ExponentialBackOff{
			InitialInterval:     initialReconnectDelay,
			RandomizationFactor: 0,
			Multiplier:          2,
			MaxInterval:         maxReconnectDelay,
		},
		status: Status{State: StateDisconnected},
	}
	c.backoff.Reset()

	go c.run()
	return c, nil
}

// RoomID returns the room this channel joins.
func (c *Channel) RoomID() string {
	return c.roomID
}

// Connect starts a connection attempt and returns without waiting for it to complete.
// Progress is reported to watchers.
//
// If no credential is available, Connect fails with ErrMissingCredential and nothing is dialed.
// Connecting while a connection is open or in progress has no effect,
// unless the channel failed, in which case the old connection is closed and a new one started.
// Connect resets the reconnect budget.
func (c *Channel) Connect() error {
	req := connectRequest{resp: make(chan error, 1)}
	if !c.post(req) {
		return ErrDisposed
	}
	select {
	case err := <-req.resp:
		return err
	case <-c.stopped:
		return ErrDisposed
	}
}

// Dispose leaves the room, closes the connection with a normal closure, and cancels any pending reconnect.
// Dispose does not wait; use Done to wait for the channel to finish.
// A disposed channel cannot be connected again.
func (c *Channel) Dispose() {
	c.disposeOnce.Do(func() {
		close(c.quit)
	})
}

// Done is closed once a disposed channel has shut down.
func (c *Channel) Done() <-chan struct{} {
	return c.stopped
}

// Subscribe registers fn for events of eventType, such as "message" or "typing".
// Subscribers of the same type are called in registration order.
// A panicking subscriber is logged and does not affect the others.
// The returned function removes exactly this registration.
func (c *Channel) Subscribe(eventType string, fn Handler) (unsubscribe func()) {
	return c.subscribers.add(eventType, fn)
}

// Watch registers fn to be called with a snapshot after every change of state, error or participants.
// The returned function removes the watcher.
func (c *Channel) Watch(fn func(Status)) (unwatch func()) {
	return c.watchers.add("", fn)
}

// Status returns a snapshot of the channel's observable state.
func (c *Channel) Status() Status {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snapshotLocked()
}

// State returns the channel's current state.
func (c *Channel) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.status.State
}

// Err returns the most recent error, or nil.
func (c *Channel) Err() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.status.Err
}

// Participants returns the room membership as last reported by the server.
func (c *Channel) Participants() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]string(nil), c.status.Participants...)
}

// SendMessage queues a chat message for the room.
// It returns false without sending anything if the channel is not ready.
// Delivery is not acknowledged; the server echoes accepted messages as "message" events.
func (c *Channel) SendMessage(content string) bool {
	return c.SendMessageWithID(content, "")
}

// SendMessageWithID is like SendMessage, but tags the message with clientID,
// which the server copies into its echo.
func (c *Channel) SendMessageWithID(content, clientID string) bool {
	return c.sendReady(protocol.NewChat(c.roomID, content, clientID))
}

// SendTyping queues a typing indicator for the room.
// It returns false without sending anything if the channel is not ready.
func (c *Channel) SendTyping() bool {
	return c.sendReady(protocol.NewTyping(c.roomID))
}

func (c *Channel) sendReady(msg protocol.ClientMessage) bool {
	c.mu.RLock()
	l := c.live
	ready := c.status.State == StateReady
	c.mu.RUnlock()
	if !ready || l == nil {
		return false
	}
	return l.send(msg)
}

// post hands ev to the event loop.
// It returns false if the channel was disposed.
func (c *Channel) post(ev interface{}) bool {
	select {
	case c.events <- ev:
		return true
	case <-c.quit:
		return false
	}
}

func (c *Channel) run() {
	defer close(c.stopped)
	for {
		select {
		case ev := <-c.events:
			c.handle(ev)
		case <-c.quit:
			c.shutdown()
			return
		}
	}
}

func (c *Channel) handle(ev interface{}) {
	switch ev := ev.(type) {
	case connectRequest:
		ev.resp <- c.connect()

	case dialResult:
		c.handleDial(ev)

	case linkMessage:
		if ev.link != c.current {
			return // Superseded
		}
		msg, err := protocol.Decode(ev.data)
		if err != nil {
			c.log.WithField("error", err).Warn("Ignoring undecodable message from server")
			return
		}
		c.dispatch(msg)

	case linkClosed:
		c.handleClosed(ev)

	case retryFired:
		if ev.gen != c.gen || c.current != nil || c.dialing {
			return // Superseded by an explicit Connect
		}
		c.retryStop = nil
		c.log.WithField("attempt", c.attempt()).Info("Reconnecting")
		c.dial()
	}
}

func (c *Channel) connect() error {
	if c.retryStop != nil {
		c.retryStop()
		c.retryStop = nil
	}
	if c.dialing {
		return nil
	}
	if c.current != nil {
		if c.State() != StateFailed {
			return nil
		}
		c.closeCurrent(protocol.CloseNormal)
	}

	c.backoff.Reset()
	if c.attempt() != 0 {
		c.update(func(s *Status) { s.Attempt = 0 })
	}
	return c.dial()
}

// dial reads the credential and starts a connection attempt.
func (c *Channel) dial() error {
	token, err := c.tokens.Token()
	if err != nil {
		c.log.WithField("error", err).Error("Cannot connect without a credential")
		c.update(func(s *Status) {
			s.State = StateFailed
			s.Err = err
		})
		return err
	}
	c.token = token

	c.gen++
	gen := c.gen
	ctx, cancel := context.WithCancel(context.Background())
	c.dialCancel = cancel
	c.dialing = true
	c.update(func(s *Status) {
		s.State = StateConnecting
	})

	go func() {
		conn, err := c.dialer.DialContext(ctx, c.url, c.header)
		if !c.post(dialResult{gen: gen, conn: conn, err: err}) && conn != nil {
			conn.Close()
		}
	}()
	return nil
}

func (c *Channel) handleDial(ev dialResult) {
	if ev.gen != c.gen || !c.dialing {
		if ev.conn != nil {
			ev.conn.Close()
		}
		return
	}
	c.dialing = false
	c.dialCancel()
	c.dialCancel = nil

	if ev.err != nil {
		c.lost(&ConnectionError{Err: ev.err})
		return
	}

	l := newLink(ev.gen, ev.conn, c.log)
	c.current = l
	go l.writePump()
	go c.readPump(l)

	c.log.Debug("Connected; authenticating")
	c.update(func(s *Status) {
		s.State = StateAuthenticating
	})
	l.send(protocol.NewAuth(c.token))
}

func (c *Channel) readPump(l *link) {
	l.conn.SetReadLimit(maxMessageSize)
	l.conn.SetReadDeadline(time.Now().Add(pongWait))
	l.conn.SetPongHandler(func(string) error {
		l.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := l.conn.ReadMessage()
		if err != nil {
			c.post(linkClosed{link: l, code: closeCodeOf(err), err: err})
			return
		}
		if !c.post(linkMessage{link: l, data: data}) {
			return
		}
	}
}

func (c *Channel) handleClosed(ev linkClosed) {
	if ev.link != c.current {
		return // Superseded, or closed by us
	}
	c.detach()
	ev.link.close(0)

	if ev.code == protocol.CloseNormal {
		c.log.Info("Connection closed normally")
		c.update(func(s *Status) {
			s.State = StateDisconnected
		})
		return
	}
	c.lost(&ConnectionError{Code: ev.code, Err: ev.err})
}

// lost handles an abnormal loss of the transport, scheduling a reconnect if the budget allows.
func (c *Channel) lost(cause error) {
	attempt := c.attempt()
	if attempt >= c.maxAttempts {
		c.log.WithFields(logrus.Fields{
			"error":    cause,
			"attempts": attempt,
		}).Error("Connection lost; giving up")
		c.update(func(s *Status) {
			s.State = StateDisconnected
			s.Err = ErrReconnectBudgetExhausted
		})
		return
	}

	delay := c.backoff.NextBackOff()
	gen := c.gen
	c.log.WithFields(logrus.Fields{
		"error":   cause,
		"attempt": attempt + 1,
		"delay":   delay,
	}).Warn("Connection lost; scheduling reconnect")
	c.update(func(s *Status) {
		s.State = StateDisconnected
		s.Err = cause
		s.Attempt = attempt + 1
	})
	c.retryStop = c.afterFunc(delay, func() {
		c.post(retryFired{gen: gen})
	})
}

func (c *Channel) dispatch(msg protocol.ServerMessage) {
	state := c.State()

	switch m := msg.(type) {
	case *protocol.AuthResponse:
		if state != StateAuthenticating {
			c.log.WithField("state", state).Debug("Ignoring unexpected auth response")
			return
		}
		if !m.Success {
			err := &AuthError{Reason: m.Error}
			c.log.WithField("error", err).Error("Authentication rejected")
			c.closeCurrent(protocol.CloseNormal)
			c.update(func(s *Status) {
				s.State = StateFailed
				s.Err = err
			})
			return
		}
		c.backoff.Reset()
		c.update(func(s *Status) {
			s.State = StateJoining
			s.Attempt = 0
		})
		c.current.send(protocol.NewJoin(c.roomID))

	case *protocol.JoinResponse:
		if state != StateJoining {
			c.log.WithField("state", state).Debug("Ignoring unexpected join response")
			return
		}
		if !m.Success {
			err := &JoinError{RoomID: c.roomID, Reason: m.Error}
			c.log.WithField("error", err).Error("Join rejected")
			c.update(func(s *Status) {
				s.State = StateFailed
				s.Err = err
			})
			return
		}
		c.log.WithField("participants", len(m.Participants)).Info("Joined room")
		l := c.current
		c.update(func(s *Status) {
			s.State = StateReady
			s.Err = nil
			s.Participants = append([]string(nil), m.Participants...)
			c.live = l
		})

	case *protocol.ParticipantsResponse:
		if state != StateReady {
			return
		}
		c.update(func(s *Status) {
			s.Participants = append([]string(nil), m.Participants...)
		})

	case *protocol.ErrorResponse:
		err := &ServerError{Message: m.Message}
		c.log.WithField("error", err).Warn("Server reported an error")
		c.update(func(s *Status) {
			s.Err = err
		})

	case protocol.Custom:
		if state != StateReady {
			c.log.WithFields(logrus.Fields{
				"type":  m.Type,
				"state": state,
			}).Debug("Dropping event received before the room was joined")
			return
		}
		c.deliver(Event{Type: m.Type, Payload: m.Payload})
	}
}

// deliver calls every subscriber of ev.Type in registration order.
func (c *Channel) deliver(ev Event) {
	for _, fn := range c.subscribers.snapshot(ev.Type) {
		c.invoke(ev.Type, func() { fn(ev) })
	}
}

func (c *Channel) invoke(name string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			c.log.WithFields(logrus.Fields{
				"event": name,
				"panic": r,
			}).Error("Subscriber panicked")
		}
	}()
	fn()
}

// update applies fn to the status under lock, then notifies watchers.
func (c *Channel) update(fn func(*Status)) {
	c.mu.Lock()
	fn(&c.status)
	if c.status.State != StateReady {
		c.live = nil
	}
	snapshot := c.snapshotLocked()
	c.mu.Unlock()

	for _, watch := range c.watchers.snapshot("") {
		c.invoke("status", func() { watch(snapshot) })
	}
}

func (c *Channel) snapshotLocked() Status {
	s := c.status
	s.Participants = append([]string(nil), c.status.Participants...)
	return s
}

func (c *Channel) attempt() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.status.Attempt
}

// detach forgets the current link without closing it.
func (c *Channel) detach() {
	c.current = nil
	c.mu.Lock()
	c.live = nil
	c.mu.Unlock()
}

// closeCurrent detaches the current link, and closes it with code.
// Events the link produces afterwards are ignored.
func (c *Channel) closeCurrent(code int) *link {
	l := c.current
	if l == nil {
		return nil
	}
	c.detach()
	l.close(code)
	return l
}

func (c *Channel) shutdown() {
	if c.retryStop != nil {
		c.retryStop()
		c.retryStop = nil
	}
	if c.dialCancel != nil {
		c.dialCancel()
		c.dialCancel = nil
	}
	c.dialing = false

	if l := c.current; l != nil {
		l.send(protocol.NewLeave(c.roomID))
		c.closeCurrent(protocol.CloseNormal)
		<-l.writerDone
	}

	c.log.Debug("Channel disposed")
	c.update(func(s *Status) {
		s.State = StateDisconnected
		s.Participants = nil
	})
}
