package protocol

import (
	"encoding/json"
	"reflect"
	"testing"
	"time"
)

func TestDecodeKnownServerMessages(t *testing.T) {
	tests := []struct {
		name string
		data string
		want ServerMessage
	}{
		{
			name: "auth success",
			data: `{"type":"auth","success":true}`,
			want: &AuthResponse{DefaultMessage: DefaultMessage{TypeAuth}, Success: true},
		},
		{
			name: "auth failure",
			data: `{"type":"auth","success":false,"error":"bad token"}`,
			want: &AuthResponse{DefaultMessage: DefaultMessage{TypeAuth}, Error: "bad token"},
		},
		{
			name: "join success",
			data: `{"type":"join","success":true,"participants":["u1","u2"]}`,
			want: &JoinResponse{DefaultMessage: DefaultMessage{TypeJoin}, Success: true, Participants: []string{"u1", "u2"}},
		},
		{
			name: "participant left",
			data: `{"type":"participant_left","participants":["u1"]}`,
			want: &ParticipantsResponse{DefaultMessage: DefaultMessage{TypeParticipantLeft}, Participants: []string{"u1"}},
		},
		{
			name: "error",
			data: `{"type":"error","message":"slow down"}`,
			want: &ErrorResponse{DefaultMessage: DefaultMessage{TypeError}, Message: "slow down"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Decode([]byte(tt.data))
			if err != nil {
				t.Fatalf("Decode: %v", err)
			}
			if !reflect.DeepEqual(tt.want, got) {
				t.Errorf("wanted %+v, got %+v", tt.want, got)
			}
		})
	}
}

func TestDecodeUnknownTypeIsCustom(t *testing.T) {
	data := []byte(`{"type":"message","roomId":"R1","message":{"id":"m1","sequence":3,"senderId":"u1","content":"hi","sentAt":"2024-05-01T10:00:00Z"}}`)
	msg, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	custom, ok := msg.(Custom)
	if !ok {
		t.Fatalf("wanted Custom, got %T", msg)
	}
	if custom.Type != TypeMessage {
		t.Errorf("custom type = %q, want %q", custom.Type, TypeMessage)
	}
	if string(custom.Payload) != string(data) {
		t.Errorf("payload was not kept verbatim: %s", custom.Payload)
	}

	ev, err := DecodeChat(custom.Payload)
	if err != nil {
		t.Fatalf("DecodeChat: %v", err)
	}
	want := ChatMessage{
		ID:       "m1",
		Sequence: 3,
		SenderID: "u1",
		Content:  "hi",
		SentAt:   time.Date(2024, time.May, 1, 10, 0, 0, 0, time.UTC),
	}
	if !reflect.DeepEqual(want, ev.Message) {
		t.Errorf("wanted %+v, got %+v", want, ev.Message)
	}
}

func TestDecodeRejectsMissingType(t *testing.T) {
	for _, data := range []string{`{}`, `{"type":""}`, `not json`} {
		if _, err := Decode([]byte(data)); err == nil {
			t.Errorf("Decode(%s): expected error", data)
		}
	}
}

func TestClientMessagesEncodeWireNames(t *testing.T) {
	tests := []struct {
		msg  ClientMessage
		want string
	}{
		{NewAuth("tok"), `{"type":"auth","token":"tok"}`},
		{NewJoin("R1"), `{"type":"join","roomId":"R1"}`},
		{NewLeave("R1"), `{"type":"leave","roomId":"R1"}`},
		{NewChat("R1", "hello", ""), `{"type":"message","roomId":"R1","message":"hello"}`},
		{NewChat("R1", "hello", "c1"), `{"type":"message","roomId":"R1","message":"hello","clientId":"c1"}`},
		{NewTyping("R1"), `{"type":"typing","roomId":"R1"}`},
	}

	for _, tt := range tests {
		got, err := json.Marshal(tt.msg)
		if err != nil {
			t.Fatalf("Marshal: %v", err)
		}
		if string(got) != tt.want {
			t.Errorf("wanted %s, got %s", tt.want, got)
		}
	}
}

func TestDecodeClient(t *testing.T) {
	msg, err := DecodeClient([]byte(`{"type":"message","roomId":"R1","message":"hi","clientId":"c9"}`))
	if err != nil {
		t.Fatalf("DecodeClient: %v", err)
	}
	if want := NewChat("R1", "hi", "c9"); !reflect.DeepEqual(want, msg) {
		t.Errorf("wanted %+v, got %+v", want, msg)
	}
	if _, err := DecodeClient([]byte(`{"roomId":"R1"}`)); err == nil {
		t.Error("expected error for envelope without type")
	}
}

func TestParticipantsResponseNeverEncodesNull(t *testing.T) {
	got, err := json.Marshal(NewParticipantsResponse("R1", nil, false))
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if want := `{"type":"participant_left","roomId":"R1","participants":[]}`; string(got) != want {
		t.Errorf("wanted %s, got %s", want, got)
	}
}
