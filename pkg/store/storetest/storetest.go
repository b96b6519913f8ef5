// Copyright © 2024 Niko Carpenter <niko@nikocarpenter.com>
//
// This source code is governed by the MIT license, which can be found in the LICENSE file.

// Package storetest checks that a store.Store behaves like the others.
package storetest

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/pkg/errors"

	"github.com/n0ot/teamchat/pkg/store"
)

// Run runs the conformance tests against stores made by open.
// Every subtest gets a fresh, empty store.
func Run(t *testing.T, open func(t *testing.T) store.Store) {
	t.Run("AppendAssignsSequences", func(t *testing.T) { testAppend(t, open(t)) })
	t.Run("AppendRejectsInvalid", func(t *testing.T) { testAppendInvalid(t, open(t)) })
	t.Run("Before", func(t *testing.T) { testBefore(t, open(t)) })
	t.Run("BeforeClampsLimit", func(t *testing.T) { testBeforeLimit(t, open(t)) })
	t.Run("ReadMarkers", func(t *testing.T) { testReadMarkers(t, open(t)) })
}

func fill(t *testing.T, s store.Store, roomID string, n int) []store.Message {
	t.Helper()
	var out []store.Message
	for i := 0; i < n; i++ {
		msg, err := s.Append(context.Background(), store.Message{
			RoomID:   roomID,
			SenderID: "u1",
			Content:  fmt.Sprintf("message %d", i+1),
		})
		if err != nil {
			t.Fatalf("Append: %s", err)
		}
		out = append(out, msg)
	}
	return out
}

func testAppend(t *testing.T, s store.Store) {
	ctx := context.Background()
	sentAt := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	first, err := s.Append(ctx, store.Message{
		ID:       "m1",
		RoomID:   "R1",
		SenderID: "u1",
		Content:  "hello",
		ClientID: "c1",
		SentAt:   sentAt,
	})
	if err != nil {
		t.Fatalf("Append: %s", err)
	}
	if first.Sequence != 1 || first.ID != "m1" || !first.SentAt.Equal(sentAt) {
		t.Errorf("Unexpected first message: %+v", first)
	}

	second, err := s.Append(ctx, store.Message{RoomID: "R1", SenderID: "u2", Content: "hi"})
	if err != nil {
		t.Fatalf("Append: %s", err)
	}
	if second.Sequence != 2 {
		t.Errorf("Wanted sequence 2, got %d", second.Sequence)
	}
	if second.ID == "" || second.SentAt.IsZero() {
		t.Errorf("Append did not fill in ID and time: %+v", second)
	}

	other, err := s.Append(ctx, store.Message{RoomID: "R2", SenderID: "u1", Content: "elsewhere"})
	if err != nil {
		t.Fatalf("Append: %s", err)
	}
	if other.Sequence != 1 {
		t.Errorf("Sequences must be per room; got %d", other.Sequence)
	}

	page, _, err := s.Before(ctx, "R1", 0, 10)
	if err != nil {
		t.Fatalf("Before: %s", err)
	}
	if len(page) != 2 {
		t.Fatalf("Wanted 2 messages, got %d", len(page))
	}
	if got := page[0]; got.ID != "m1" || got.ClientID != "c1" || got.Content != "hello" || got.SenderID != "u1" || !got.SentAt.Equal(sentAt) {
		t.Errorf("Stored message differs: %+v", got)
	}
}

func testAppendInvalid(t *testing.T, s store.Store) {
	tests := []store.Message{
		{RoomID: "", SenderID: "u1", Content: "x"},
		{RoomID: "R1", SenderID: " ", Content: "x"},
	}
	for _, msg := range tests {
		if _, err := s.Append(context.Background(), msg); !errors.Is(err, store.ErrInvalid) {
			t.Errorf("Append(%+v): wanted ErrInvalid, got %v", msg, err)
		}
	}
}

func testBefore(t *testing.T, s store.Store) {
	ctx := context.Background()
	fill(t, s, "R1", 7)

	tests := []struct {
		before  int64
		limit   int
		want    []int64
		hasMore bool
	}{
		{0, 3, []int64{5, 6, 7}, true},
		{5, 3, []int64{2, 3, 4}, true},
		{2, 3, []int64{1}, false},
		{1, 3, []int64{}, false},
		{0, 10, []int64{1, 2, 3, 4, 5, 6, 7}, false},
		{100, 7, []int64{1, 2, 3, 4, 5, 6, 7}, false},
	}
	for _, test := range tests {
		page, hasMore, err := s.Before(ctx, "R1", test.before, test.limit)
		if err != nil {
			t.Fatalf("Before(%d, %d): %s", test.before, test.limit, err)
		}
		got := []int64{}
		for _, msg := range page {
			got = append(got, msg.Sequence)
		}
		if fmt.Sprint(got) != fmt.Sprint(test.want) || hasMore != test.hasMore {
			t.Errorf("Before(%d, %d): wanted %v (more: %t), got %v (more: %t)",
				test.before, test.limit, test.want, test.hasMore, got, hasMore)
		}
	}

	page, hasMore, err := s.Before(ctx, "empty", 0, 0)
	if err != nil || len(page) != 0 || hasMore {
		t.Errorf("Empty room: got %v, %t, %v", page, hasMore, err)
	}
	if _, _, err := s.Before(ctx, "", 0, 0); !errors.Is(err, store.ErrInvalid) {
		t.Errorf("Missing room: wanted ErrInvalid, got %v", err)
	}
}

func testBeforeLimit(t *testing.T, s store.Store) {
	fill(t, s, "R1", store.MaxLimit+5)

	page, hasMore, err := s.Before(context.Background(), "R1", 0, 0)
	if err != nil {
		t.Fatalf("Before: %s", err)
	}
	if len(page) != store.DefaultLimit || !hasMore {
		t.Errorf("Default limit: got %d messages (more: %t)", len(page), hasMore)
	}

	page, _, err = s.Before(context.Background(), "R1", 0, store.MaxLimit*2)
	if err != nil {
		t.Fatalf("Before: %s", err)
	}
	if len(page) != store.MaxLimit {
		t.Errorf("Maximum limit: got %d messages", len(page))
	}
	if last := page[len(page)-1].Sequence; last != store.MaxLimit+5 {
		t.Errorf("Wanted the newest message last, got sequence %d", last)
	}
}

func testReadMarkers(t *testing.T, s store.Store) {
	ctx := context.Background()

	seq, err := s.LastRead(ctx, "R1", "u1")
	if err != nil || seq != 0 {
		t.Fatalf("Unset marker: got %d, %v", seq, err)
	}

	for _, mark := range []int64{3, 7, 5} {
		if err := s.MarkRead(ctx, "R1", "u1", mark); err != nil {
			t.Fatalf("MarkRead(%d): %s", mark, err)
		}
	}
	if seq, _ := s.LastRead(ctx, "R1", "u1"); seq != 7 {
		t.Errorf("Marker moved backwards or was lost: got %d, wanted 7", seq)
	}
	if seq, _ := s.LastRead(ctx, "R1", "u2"); seq != 0 {
		t.Errorf("Markers must be per user; got %d", seq)
	}
	if seq, _ := s.LastRead(ctx, "R2", "u1"); seq != 0 {
		t.Errorf("Markers must be per room; got %d", seq)
	}

	if err := s.MarkRead(ctx, "R1", "", 1); !errors.Is(err, store.ErrInvalid) {
		t.Errorf("Missing user: wanted ErrInvalid, got %v", err)
	}
}
