package realtime_test

import (
	"context"
	"net/http/httptest"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/n0ot/teamchat/pkg/protocol"
	"github.com/n0ot/teamchat/pkg/realtime"
	"github.com/n0ot/teamchat/pkg/server"
	"github.com/n0ot/teamchat/pkg/store"
)

func quietLogger() *logrus.Logger {
	log := logrus.New()
	log.Level = logrus.ErrorLevel
	return log
}

func startServer(t *testing.T) (string, *server.JWTAuthenticator) {
	t.Helper()
	auth := &server.JWTAuthenticator{Secret: []byte("integration secret")}
	srv := &server.Server{
		Authenticator: auth,
		Store:         store.NewMemory(),
		Log:           quietLogger(),
	}
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		srv.Shutdown(ctx)
		ts.Close()
	})
	return "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws", auth
}

func connect(t *testing.T, url string, auth *server.JWTAuthenticator, userID string) *realtime.Channel {
	t.Helper()
	token, err := auth.IssueToken(userID, nil, time.Hour)
	if err != nil {
		t.Fatalf("IssueToken: %s", err)
	}
	c, err := realtime.New(realtime.Config{
		URL:    url,
		RoomID: "R1",
		Tokens: realtime.StaticToken(token),
		Log:    quietLogger(),
	})
	if err != nil {
		t.Fatalf("New: %s", err)
	}
	t.Cleanup(func() {
		c.Dispose()
		<-c.Done()
	})
	if err := c.Connect(); err != nil {
		t.Fatalf("Connect: %s", err)
	}
	return c
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("Timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestChannelAgainstServer(t *testing.T) {
	url, auth := startServer(t)

	alice := connect(t, url, auth, "alice")
	eventually(t, "alice ready", func() bool { return alice.State() == realtime.StateReady })

	bob := connect(t, url, auth, "bob")
	eventually(t, "bob ready", func() bool { return bob.State() == realtime.StateReady })
	eventually(t, "alice sees bob", func() bool {
		return reflect.DeepEqual([]string{"alice", "bob"}, alice.Participants())
	})

	var mu sync.Mutex
	var received []protocol.ChatEvent
	bob.Subscribe(protocol.TypeMessage, func(ev realtime.Event) {
		chat, err := protocol.DecodeChat(ev.Payload)
		if err != nil {
			t.Errorf("DecodeChat: %s", err)
			return
		}
		mu.Lock()
		received = append(received, chat)
		mu.Unlock()
	})
	typing := make(chan string, 1)
	bob.Subscribe(protocol.TypeTyping, func(ev realtime.Event) {
		if typingEv, err := protocol.DecodeTyping(ev.Payload); err == nil {
			typing <- typingEv.UserID
		}
	})

	if !alice.SendTyping() {
		t.Fatal("SendTyping returned false")
	}
	select {
	case user := <-typing:
		if user != "alice" {
			t.Errorf("Typing from %q", user)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Typing indicator not delivered")
	}

	if !alice.SendMessageWithID("hello bob", "c-1") {
		t.Fatal("SendMessage returned false")
	}
	eventually(t, "bob receives the message", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(received) == 1
	})
	mu.Lock()
	got := received[0]
	mu.Unlock()
	if got.Message.Content != "hello bob" || got.Message.SenderID != "alice" || got.Message.ClientID != "c-1" || got.Message.Sequence != 1 {
		t.Errorf("Unexpected message: %+v", got)
	}

	bob.Dispose()
	<-bob.Done()
	eventually(t, "alice sees bob leave", func() bool {
		return reflect.DeepEqual([]string{"alice"}, alice.Participants())
	})
	if alice.State() != realtime.StateReady {
		t.Errorf("Alice lost her connection: %s", alice.State())
	}
}

func TestChannelRejectedToken(t *testing.T) {
	url, _ := startServer(t)
	other := &server.JWTAuthenticator{Secret: []byte("someone else's secret")}
	c := connect(t, url, other, "mallory")

	eventually(t, "failure", func() bool { return c.State() == realtime.StateFailed })
	var authErr *realtime.AuthError
	if err := c.Err(); !errors.As(err, &authErr) || authErr.Reason != "invalid token signature" {
		t.Errorf("Wanted an AuthError, got %v", err)
	}
}
