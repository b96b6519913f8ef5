package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"testing"

	"github.com/n0ot/teamchat/pkg/protocol"
	"github.com/n0ot/teamchat/pkg/store"
)

func (ts *testServer) request(t *testing.T, method, path, token, body string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, ts.http.URL+path, strings.NewReader(body))
	if err != nil {
		t.Fatalf("NewRequest: %s", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %s", method, path, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestHistoryRequiresToken(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.request(t, http.MethodGet, "/rooms/R1/messages", "", "")
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("No token: wanted 401, got %d", resp.StatusCode)
	}
	resp = ts.request(t, http.MethodGet, "/rooms/R1/messages", "bogus", "")
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("Bad token: wanted 401, got %d", resp.StatusCode)
	}
	resp = ts.request(t, http.MethodGet, "/rooms/R1/messages", ts.token(t, "u1", "R2"), "")
	if resp.StatusCode != http.StatusForbidden {
		t.Errorf("Other room: wanted 403, got %d", resp.StatusCode)
	}
	var body protocol.HTTPError
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil || body.Error != "not a member of R1" {
		t.Errorf("Unexpected error body: %+v (%v)", body, err)
	}
}

func TestHistoryPages(t *testing.T) {
	ts := newTestServer(t)
	for i := 1; i <= 5; i++ {
		_, err := ts.srv.Store.Append(context.Background(), store.Message{
			RoomID:   "R1",
			SenderID: "u1",
			Content:  fmt.Sprintf("message %d", i),
		})
		if err != nil {
			t.Fatalf("Append: %s", err)
		}
	}
	token := ts.token(t, "u1")

	tests := []struct {
		query   string
		want    []int64
		hasMore bool
	}{
		{"", []int64{1, 2, 3, 4, 5}, false},
		{"?limit=2", []int64{4, 5}, true},
		{"?before=4&limit=2", []int64{2, 3}, true},
		{"?before=2", []int64{1}, false},
	}
	for _, test := range tests {
		resp := ts.request(t, http.MethodGet, "/rooms/R1/messages"+test.query, token, "")
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("%s: wanted 200, got %d", test.query, resp.StatusCode)
		}
		var page protocol.HistoryPage
		if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
			t.Fatalf("%s: decode: %s", test.query, err)
		}
		var got []int64
		for _, msg := range page.Messages {
			got = append(got, msg.Sequence)
		}
		if fmt.Sprint(got) != fmt.Sprint(test.want) || page.HasMore != test.hasMore || page.RoomID != "R1" {
			t.Errorf("%s: wanted %v (more: %t), got %v (more: %t)", test.query, test.want, test.hasMore, got, page.HasMore)
		}
	}

	for _, query := range []string{"?before=x", "?limit=-1", "?limit=many"} {
		resp := ts.request(t, http.MethodGet, "/rooms/R1/messages"+query, token, "")
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("%s: wanted 400, got %d", query, resp.StatusCode)
		}
	}
}

func TestMarkRead(t *testing.T) {
	ts := newTestServer(t)
	token := ts.token(t, "u1")

	resp := ts.request(t, http.MethodPost, "/rooms/R1/read", token, `{"sequence":4}`)
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("Wanted 204, got %d", resp.StatusCode)
	}
	resp = ts.request(t, http.MethodPost, "/rooms/R1/read", token, `{"sequence":2}`)
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("Wanted 204, got %d", resp.StatusCode)
	}

	resp = ts.request(t, http.MethodGet, "/rooms/R1/messages", token, "")
	var page protocol.HistoryPage
	if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
		t.Fatalf("Decode: %s", err)
	}
	if page.LastRead != 4 {
		t.Errorf("Wanted read marker 4, got %d", page.LastRead)
	}
	if page.Messages == nil {
		t.Error("Messages must encode as an empty list, not null")
	}

	for _, body := range []string{`{"sequence":-1}`, `not json`} {
		resp := ts.request(t, http.MethodPost, "/rooms/R1/read", token, body)
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("%s: wanted 400, got %d", body, resp.StatusCode)
		}
	}
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t)
	resp := ts.request(t, http.MethodGet, "/health", "", "")
	if resp.StatusCode != http.StatusOK {
		t.Errorf("Wanted 200, got %d", resp.StatusCode)
	}
}
