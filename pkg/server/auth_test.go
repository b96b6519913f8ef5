package server

import (
	"reflect"
	"strings"
	"testing"
	"time"
)

func TestIssueAndAuthenticate(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	auth := &JWTAuthenticator{
		Secret: []byte("test secret"),
		Issuer: "teamchat-test",
		Now:    func() time.Time { return now },
	}

	token, err := auth.IssueToken(" u1 ", []string{"R1", "R2"}, time.Hour)
	if err != nil {
		t.Fatalf("IssueToken: %s", err)
	}
	identity, err := auth.Authenticate(token)
	if err != nil {
		t.Fatalf("Authenticate: %s", err)
	}
	want := Identity{UserID: "u1", Rooms: []string{"R1", "R2"}}
	if !reflect.DeepEqual(want, identity) {
		t.Errorf("Wanted %+v, got %+v", want, identity)
	}
}

func TestAuthenticateRejects(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	auth := &JWTAuthenticator{Secret: []byte("test secret"), Issuer: "teamchat-test", Now: clock}

	valid, err := auth.IssueToken("u1", nil, time.Hour)
	if err != nil {
		t.Fatalf("IssueToken: %s", err)
	}
	otherSecret, _ := (&JWTAuthenticator{Secret: []byte("other"), Issuer: "teamchat-test", Now: clock}).IssueToken("u1", nil, time.Hour)
	otherIssuer, _ := (&JWTAuthenticator{Secret: []byte("test secret"), Issuer: "elsewhere", Now: clock}).IssueToken("u1", nil, time.Hour)
	past := &JWTAuthenticator{Secret: []byte("test secret"), Issuer: "teamchat-test", Now: func() time.Time { return now.Add(-2 * time.Hour) }}
	expired, _ := past.IssueToken("u1", nil, time.Hour)

	tests := []struct {
		name   string
		token  string
		reason string
	}{
		{"empty", "  ", "no token provided"},
		{"garbage", "not-a-jwt", "invalid token"},
		{"wrong secret", otherSecret, "invalid token signature"},
		{"wrong issuer", otherIssuer, "token issuer not accepted"},
		{"expired", expired, "token expired"},
	}
	for _, test := range tests {
		_, err := auth.Authenticate(test.token)
		if err == nil {
			t.Errorf("%s: token accepted", test.name)
			continue
		}
		if err.Error() != test.reason {
			t.Errorf("%s: wanted reason %q, got %q", test.name, test.reason, err)
		}
	}

	if _, err := auth.Authenticate(valid); err != nil {
		t.Errorf("Valid token rejected: %s", err)
	}
}

func TestIssueTokenValidates(t *testing.T) {
	auth := &JWTAuthenticator{Secret: []byte("test secret")}
	if _, err := auth.IssueToken("", nil, time.Hour); err == nil {
		t.Error("Issued a token without a user")
	}
	if _, err := auth.IssueToken("u1", nil, 0); err == nil {
		t.Error("Issued a token without a lifetime")
	}
	if _, err := (&JWTAuthenticator{}).IssueToken("u1", nil, time.Hour); err == nil || !strings.Contains(err.Error(), "secret") {
		t.Errorf("Issued a token without a secret: %v", err)
	}
}

func TestCanJoin(t *testing.T) {
	open := Identity{UserID: "u1"}
	if !open.CanJoin("anything") {
		t.Error("Identity without a room list must be able to join any room")
	}
	restricted := Identity{UserID: "u1", Rooms: []string{"R1"}}
	if !restricted.CanJoin("R1") || restricted.CanJoin("R2") {
		t.Error("Room list not honored")
	}
}
