// Copyright © 2024 Niko Carpenter <niko@nikocarpenter.com>
//
// This source code is governed by the MIT license, which can be found in the LICENSE file.

package server

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/n0ot/teamchat/pkg/protocol"
	"github.com/n0ot/teamchat/pkg/store"
)

// wrongPasswordDelay slows down guessing the stats password.
var wrongPasswordDelay = 5 * time.Second

// StatsPasswordHeader carries the stats password on GET /stats.
const StatsPasswordHeader = "X-Stats-Password"

type identityHandlerFunc func(http.ResponseWriter, *http.Request, Identity)

// requireIdentity authenticates the request's bearer token before calling next.
func (srv *Server) requireIdentity(next identityHandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token, ok := bearerToken(r)
		if !ok {
			w.Header().Set("WWW-Authenticate", "Bearer")
			writeError(w, http.StatusUnauthorized, "bearer token required")
			return
		}
		if srv.Authenticator == nil {
			writeError(w, http.StatusUnauthorized, "authentication unavailable")
			return
		}
		identity, err := srv.Authenticator.Authenticate(token)
		if err != nil {
			w.Header().Set("WWW-Authenticate", "Bearer")
			writeError(w, http.StatusUnauthorized, err.Error())
			return
		}
		next(w, r, identity)
	}
}

func bearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

func (srv *Server) serveHistory(w http.ResponseWriter, r *http.Request, identity Identity) {
	roomID := r.PathValue("roomID")
	if !identity.CanJoin(roomID) {
		writeError(w, http.StatusForbidden, "not a member of "+roomID)
		return
	}

	query := r.URL.Query()
	var before int64
	if s := query.Get("before"); s != "" {
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "before must be an integer")
			return
		}
		before = n
	}
	var limit int
	if s := query.Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}

	messages, hasMore, err := srv.Store.Before(r.Context(), roomID, before, limit)
	if err != nil {
		srv.storeError(w, err, "Cannot load history")
		return
	}
	lastRead, err := srv.Store.LastRead(r.Context(), roomID, identity.UserID)
	if err != nil {
		srv.storeError(w, err, "Cannot load read marker")
		return
	}

	page := protocol.HistoryPage{
		RoomID:   roomID,
		Messages: make([]protocol.ChatMessage, 0, len(messages)),
		HasMore:  hasMore,
		LastRead: lastRead,
	}
	for _, msg := range messages {
		page.Messages = append(page.Messages, chatMessage(msg))
	}
	writeJSON(w, http.StatusOK, page)
}

func (srv *Server) serveMarkRead(w http.ResponseWriter, r *http.Request, identity Identity) {
	roomID := r.PathValue("roomID")
	if !identity.CanJoin(roomID) {
		writeError(w, http.StatusForbidden, "not a member of "+roomID)
		return
	}

	var marker protocol.ReadMarker
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1024)).Decode(&marker); err != nil {
		writeError(w, http.StatusBadRequest, "invalid read marker")
		return
	}
	if marker.Sequence < 0 {
		writeError(w, http.StatusBadRequest, "sequence must not be negative")
		return
	}

	if err := srv.Store.MarkRead(r.Context(), roomID, identity.UserID, marker.Sequence); err != nil {
		srv.storeError(w, err, "Cannot mark read")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (srv *Server) serveStats(w http.ResponseWriter, r *http.Request) {
	if srv.StatsPassword == "" {
		writeError(w, http.StatusForbidden, "stats are disabled")
		return
	}
	password := r.Header.Get(StatsPasswordHeader)
	if password == "" {
		writeError(w, http.StatusUnauthorized, "no password")
		return
	}
	if subtle.ConstantTimeCompare([]byte(password), []byte(srv.StatsPassword)) != 1 {
		srv.Log.WithField("remote", r.RemoteAddr).Warn("Wrong stats password")
		time.Sleep(wrongPasswordDelay) // Prevent brute forcing
		writeError(w, http.StatusUnauthorized, "wrong password")
		return
	}
	writeJSON(w, http.StatusOK, srv.registry.Stats())
}

func (srv *Server) serveHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (srv *Server) storeError(w http.ResponseWriter, err error, msg string) {
	if errors.Is(err, store.ErrInvalid) {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	srv.Log.WithField("error", err).Error(msg)
	writeError(w, http.StatusInternalServerError, "internal error")
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, protocol.HTTPError{Error: msg})
}
