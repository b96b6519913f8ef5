// Copyright © 2024 Niko Carpenter <niko@nikocarpenter.com>
//
// This source code is governed by the MIT license, which can be found in the LICENSE file.

// Package history fetches room history and updates read markers over the server's REST API.
package history

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/n0ot/teamchat/pkg/protocol"
)

// Page is one page of room history, oldest message first.
type Page struct {
	Messages []protocol.ChatMessage
	HasMore  bool  // Older messages remain before Messages[0]
	LastRead int64 // The caller's read marker
}

// StatusError is returned when the server answers with a non-2xx status.
type StatusError struct {
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("server returned %d %s", e.StatusCode, http.StatusText(e.StatusCode))
	}
	return fmt.Sprintf("server returned %d: %s", e.StatusCode, e.Message)
}

// Client talks to the REST API of a teamchat server.
type Client struct {
	// BaseURL is the server's http:// or https:// root, such as https://chat.example.com.
	BaseURL string

	// Token is sent as a bearer token.
	Token string

	// HTTPClient is used for requests. If nil, http.DefaultClient is used.
	HTTPClient *http.Client
}

// Before fetches up to limit messages older than sequence before.
// A before of 0 fetches the latest messages; a limit of 0 uses the server's default.
func (c *Client) Before(ctx context.Context, roomID string, before int64, limit int) (Page, error) {
	query := url.Values{}
	if before > 0 {
		query.Set("before", strconv.FormatInt(before, 10))
	}
	if limit > 0 {
		query.Set("limit", strconv.Itoa(limit))
	}

	var body protocol.HistoryPage
	if err := c.do(ctx, http.MethodGet, roomPath(roomID, "messages"), query, nil, &body); err != nil {
		return Page{}, err
	}
	return Page{
		Messages: body.Messages,
		HasMore:  body.HasMore,
		LastRead: body.LastRead,
	}, nil
}

// MarkRead moves the caller's read marker for roomID forward to seq.
func (c *Client) MarkRead(ctx context.Context, roomID string, seq int64) error {
	return c.do(ctx, http.MethodPost, roomPath(roomID, "read"), nil, protocol.ReadMarker{Sequence: seq}, nil)
}

func roomPath(roomID, action string) string {
	return "/rooms/" + url.PathEscape(roomID) + "/" + action
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, in, out interface{}) error {
	base, err := url.Parse(strings.TrimSuffix(c.BaseURL, "/"))
	if err != nil {
		return errors.Wrap(err, "Parse base URL")
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return errors.Errorf("Base URL needs to start with http or https: %q", c.BaseURL)
	}
	u := base.JoinPath(path)
	u.RawQuery = query.Encode()

	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return errors.Wrap(err, "Encode request")
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return errors.Wrap(err, "Create request")
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}

	httpClient := c.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return errors.Wrapf(err, "%s %s", method, path)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		statusErr := &StatusError{StatusCode: resp.StatusCode}
		var httpErr protocol.HTTPError
		if json.NewDecoder(io.LimitReader(resp.Body, 64*1024)).Decode(&httpErr) == nil {
			statusErr.Message = httpErr.Error
		}
		return statusErr
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errors.Wrap(err, "Decode response")
	}
	return nil
}
