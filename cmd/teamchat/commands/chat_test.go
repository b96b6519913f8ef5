package commands

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/n0ot/teamchat/pkg/realtime"
	"github.com/n0ot/teamchat/pkg/server"
)

func TestHTTPBase(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"ws://127.0.0.1:6837/ws", "http://127.0.0.1:6837", false},
		{"wss://chat.example.com/ws?x=1", "https://chat.example.com", false},
		{"http://chat.example.com/ws", "", true},
	}
	for _, tt := range tests {
		got, err := httpBase(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("%s: wanted error %v, got %v", tt.in, tt.wantErr, err)
			continue
		}
		if got != tt.want {
			t.Errorf("%s: wanted %q, got %q", tt.in, tt.want, got)
		}
	}
}

func TestTokenSubject(t *testing.T) {
	auth := &server.JWTAuthenticator{Secret: []byte("secret"), Issuer: "teamchat"}
	token, err := auth.IssueToken("alice", []string{"R1"}, time.Hour)
	if err != nil {
		t.Fatalf("IssueToken: %s", err)
	}
	user, err := tokenSubject(token)
	if err != nil || user != "alice" {
		t.Errorf("Wanted alice, got %q (%v)", user, err)
	}

	if _, err := tokenSubject("not-a-token"); err == nil {
		t.Error("Accepted a malformed token")
	}
}

func TestWatchStatusPrintsChanges(t *testing.T) {
	var out bytes.Buffer
	watch := watchStatus(&out)

	watch(realtime.Status{State: realtime.StateConnecting})
	watch(realtime.Status{State: realtime.StateReady, Participants: []string{"alice"}})
	watch(realtime.Status{State: realtime.StateReady, Participants: []string{"alice"}})
	watch(realtime.Status{State: realtime.StateReady, Participants: []string{"alice", "bob"}})

	want := strings.Join([]string{
		"* connecting",
		"* Connected",
		"* In the room: alice",
		"* In the room: alice, bob",
	}, "\n") + "\n"
	if got := out.String(); got != want {
		t.Errorf("Wanted:\n%s\nGot:\n%s", want, got)
	}
}
