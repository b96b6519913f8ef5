// Copyright © 2024 Niko Carpenter <niko@nikocarpenter.com>
//
// This source code is governed by the MIT license, which can be found in the LICENSE file.

package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Conn is the subset of *websocket.Conn a Channel uses.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	SetPongHandler(h func(appData string) error)
	SetReadLimit(limit int64)
	Close() error
}

// Dialer opens a transport to the chat server.
type Dialer interface {
	DialContext(ctx context.Context, urlStr string, header http.Header) (Conn, error)
}

// WebsocketDialer dials with gorilla/websocket.
type WebsocketDialer struct {
	Dialer *websocket.Dialer // If nil, websocket.DefaultDialer is used
}

// DialContext opens a websocket connection.
func (d WebsocketDialer) DialContext(ctx context.Context, urlStr string, header http.Header) (Conn, error) {
	dialer := d.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	conn, resp, err := dialer.DialContext(ctx, urlStr, header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		if resp != nil {
			return nil, errors.Wrapf(err, "Dial %s (status %d)", urlStr, resp.StatusCode)
		}
		return nil, errors.Wrapf(err, "Dial %s", urlStr)
	}
	return conn, nil
}

// validateURL checks that urlStr can be dialed as a websocket endpoint.
func validateURL(urlStr string) error {
	if urlStr == "" {
		return errors.New("Can't dial an empty URL")
	}
	u, err := url.Parse(urlStr)
	if err != nil {
		return errors.Wrap(err, "Parse URL")
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return errors.New("URL needs to start with ws or wss")
	}
	if u.User != nil {
		return errors.New("URL can't contain user name and password")
	}
	return nil
}

// link is one transport handle.
// A Channel replaces its link on every reconnect; events from a superseded link are ignored.
type link struct {
	gen        uint64
	conn       Conn
	out        chan []byte
	done       chan struct{} // Closed to request a close frame and shutdown
	closeOnce  sync.Once
	closeCode  int
	writerDone chan struct{} // Closed when writePump returns
	log        *logrus.Entry
}

func newLink(gen uint64, conn Conn, log *logrus.Entry) *link {
	return &link{
		gen:        gen,
		conn:       conn,
		out:        make(chan []byte, sendBuffSize),
		done:       make(chan struct{}),
		writerDone: make(chan struct{}),
		log:        log.WithField("link", gen),
	}
}

// send queues msg without blocking.
// It returns false if the link is closing or its queue is full.
func (l *link) send(msg interface{}) bool {
	select {
	case <-l.done:
		return false
	case <-l.writerDone:
		return false
	default:
	}

	data, err := json.Marshal(msg)
	if err != nil {
		l.log.WithField("error", err).Error("Cannot serialize outbound message")
		return false
	}

	select {
	case l.out <- data:
		return true
	default:
		l.log.Warn("Send queue full; dropping outbound message")
		return false
	}
}

// close asks the writer to flush queued frames, send a close frame with code, and close the transport.
// A code of 0 skips the close frame, for transports the peer already closed.
// close is idempotent; only the first code is used.
func (l *link) close(code int) {
	l.closeOnce.Do(func() {
		l.closeCode = code
		close(l.done)
	})
}

// writePump owns all writes to the transport.
func (l *link) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		l.conn.Close()
		close(l.writerDone)
	}()

	for {
		select {
		case data := <-l.out:
			if err := l.write(websocket.TextMessage, data); err != nil {
				l.log.WithField("error", err).Debug("Write failed")
				return
			}

		case <-ticker.C:
			if err := l.write(websocket.PingMessage, nil); err != nil {
				l.log.WithField("error", err).Debug("Ping failed")
				return
			}

		case <-l.done:
			// Frames queued before the close, such as a leave notification, go out first.
			for {
				select {
				case data := <-l.out:
					if err := l.write(websocket.TextMessage, data); err != nil {
						return
					}
					continue
				default:
				}
				break
			}
			if l.closeCode != 0 {
				l.write(websocket.CloseMessage, websocket.FormatCloseMessage(l.closeCode, ""))
			}
			return
		}
	}
}

func (l *link) write(messageType int, data []byte) error {
	l.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return l.conn.WriteMessage(messageType, data)
}

// closeCodeOf extracts the websocket close code from a read error.
// Errors without a close frame count as an abnormal closure.
func closeCodeOf(err error) int {
	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) {
		return closeErr.Code
	}
	return websocket.CloseAbnormalClosure
}
