// Copyright © 2019 Niko Carpenter <nikoacarpenter@gmail.com>
//
// This source code is governed by the MIT license, which can be found in the LICENSE file.

// Package server implements a room chat server.
//
// Clients connect over websocket at /ws, authenticate with a token,
// and join one room at a time. Room history is served over REST.
package server

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/n0ot/teamchat/pkg/store"
)

// pingsUntilTimeout is the number of pings that can go unanswered before a client is dropped.
const pingsUntilTimeout = 2

// Server Contains state for a teamchat server.
type Server struct {
	// TimeBetweenPings specifies the amount of time that will elapse before clients will be sent a ping.
	// Clients that don't answer two pings in a row are dropped.
	// If 0, no pings will be sent.
	TimeBetweenPings time.Duration

	// TLSConfig optionally provides a TLS configuration for use by ListenAndServeTLS.
	TLSConfig *tls.Config

	// StatsPassword sets the password for retreiving stats.
	// If empty, stats are not served.
	StatsPassword string

	// Authenticator checks the tokens clients send.
	Authenticator Authenticator

	// Store keeps room history. If nil, an in-memory store is used.
	Store store.Store

	// ResolveHosts enables reverse DNS lookups of client addresses for logging.
	ResolveHosts bool

	// CheckOrigin is passed to the websocket upgrader. If nil, all origins are accepted.
	CheckOrigin func(r *http.Request) bool

	Log *logrus.Logger

	initOnce sync.Once
	// registry stores information about clients and rooms on the server.
	registry *registry
	upgrader websocket.Upgrader
	nextID   uint64 // Accessed atomically

	httpLock   sync.Mutex // Protects httpServer
	httpServer *http.Server
}

func (srv *Server) init() {
	srv.initOnce.Do(func() {
		if srv.Log == nil {
			srv.Log = logrus.New()
		}
		if srv.Store == nil {
			srv.Store = store.NewMemory()
		}
		checkOrigin := srv.CheckOrigin
		if checkOrigin == nil {
			checkOrigin = func(*http.Request) bool { return true }
		}
		srv.upgrader = websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     checkOrigin,
		}
		srv.registry = newRegistry(time.Now())
	})
}

func (srv *Server) pongWait() time.Duration {
	return srv.TimeBetweenPings * pingsUntilTimeout
}

// Stats gets stats for the server.
func (srv *Server) Stats() Stats {
	srv.init()
	return srv.registry.Stats()
}

// ListenAndServe listens for connections on the network, and serves the chat service on them.
func (srv *Server) ListenAndServe(addr string) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return errors.Wrap(err, "Listen")
	}
	defer listener.Close()

	srv.init()
	srv.Log.WithFields(logrus.Fields{
		"addr":        addr,
		"tls_enabled": false,
	}).Info("Listening for incoming connections")
	return srv.Serve(listener)
}

// ListenAndServeTLS behaves just like ListenAndServe, but wraps the connection with TLS.
func (srv *Server) ListenAndServeTLS(addr, certFile, keyFile string) error {
	if certFile != "" && keyFile != "" {
		cert, err := tls.LoadX509KeyPair(certFile, keyFile)
		if err != nil {
			return errors.Wrap(err, "Load X.509 key pair")
		}
		srv.TLSConfig = &tls.Config{Certificates: []tls.Certificate{cert}}
	}
	if srv.TLSConfig == nil {
		return errors.New("No TLSConfig set in server, and no certFile/keyFile given")
	}

	listener, err := tls.Listen("tcp", addr, srv.TLSConfig)
	if err != nil {
		return errors.Wrap(err, "Listen TLS")
	}
	defer listener.Close()

	srv.init()
	srv.Log.WithFields(logrus.Fields{
		"addr":        addr,
		"tls_enabled": true,
	}).Info("Listening for incoming connections")
	return srv.Serve(listener)
}

// Serve serves the chat service on listener until Shutdown is called.
func (srv *Server) Serve(listener net.Listener) error {
	srv.init()
	hs := &http.Server{
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	srv.httpLock.Lock()
	srv.httpServer = hs
	srv.httpLock.Unlock()

	srv.Log.WithFields(logrus.Fields{
		"time_between_pings":  srv.TimeBetweenPings,
		"pings_until_timeout": pingsUntilTimeout,
	}).Info("Server started")

	if err := hs.Serve(listener); err != nil && err != http.ErrServerClosed {
		return errors.Wrap(err, "Serve")
	}
	return nil
}

// Shutdown stops accepting connections, and disconnects every client with a going away closure,
// so they reconnect elsewhere.
// It waits for clients to leave until ctx is done.
func (srv *Server) Shutdown(ctx context.Context) error {
	srv.init()
	srv.httpLock.Lock()
	hs := srv.httpServer
	srv.httpLock.Unlock()

	var err error
	if hs != nil {
		err = hs.Shutdown(ctx)
	}

	srv.registry.eachClient(func(c *client) {
		c.kick("Server shutting down")
	})

	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for srv.registry.Stats().NumClients > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
	return err
}

// Handler returns the server's HTTP routes.
func (srv *Server) Handler() http.Handler {
	srv.init()
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", srv.serveWS)
	mux.HandleFunc("GET /health", srv.serveHealth)
	mux.HandleFunc("GET /stats", srv.serveStats)
	mux.HandleFunc("GET /rooms/{roomID}/messages", srv.requireIdentity(srv.serveHistory))
	mux.HandleFunc("POST /rooms/{roomID}/read", srv.requireIdentity(srv.serveMarkRead))
	return mux
}

func (srv *Server) serveWS(w http.ResponseWriter, r *http.Request) {
	conn, err := srv.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// The upgrader has already replied with an HTTP error.
		srv.Log.WithField("error", err).Debug("Websocket upgrade failed")
		return
	}

	remoteAddr, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		remoteAddr = r.RemoteAddr
	}
	if srv.ResolveHosts {
		remoteAddr = getHostFromAddrIfPossible(remoteAddr)
	}
	id := atomic.AddUint64(&srv.nextID, 1)
	newClient(srv, conn, id, remoteAddr).serve()
}

// getHostFromAddrIfPossible tries to get the reverse dns host for an address.
// If that isn't possible, it just returns the address.
func getHostFromAddrIfPossible(addr string) string {
	var hosts string
	names, err := net.LookupAddr(addr)
	if err == nil { // No need to report errors; just fallback to IP
		hosts = strings.Join(names, ", ")
	}

	if hosts == "" {
		return addr
	}

	return fmt.Sprintf("%s (%s)", hosts, addr)
}
