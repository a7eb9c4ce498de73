package ws

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/tbourn/go-chat-server/internal/services"
)

func TestDecodePayload_CreateRoom(t *testing.T) {
	cases := []struct {
		name    string
		raw     string
		wantErr bool
	}{
		{"valid group", `{"type":"GROUP","name":"general","participants":["u1","u2"]}`, false},
		{"valid direct no name", `{"type":"DIRECT","participants":["u1"]}`, false},
		{"missing type", `{"participants":["u1"]}`, true},
		{"bad type", `{"type":"BROADCAST","participants":["u1"]}`, true},
		{"missing participants", `{"type":"GROUP"}`, true},
		{"empty participant id", `{"type":"GROUP","participants":["u1",""]}`, true},
		{"empty name", `{"type":"GROUP","name":"","participants":["u1"]}`, true},
		{"long name", `{"type":"GROUP","name":"` + strings.Repeat("x", 256) + `","participants":["u1"]}`, true},
		{"malformed json", `{"type":`, true},
		{"empty body", ``, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var p CreateRoomPayload
			err := DecodePayload(json.RawMessage(tc.raw), &p)
			if tc.wantErr {
				if !errors.Is(err, services.ErrValidation) {
					t.Fatalf("expected ErrValidation, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

func TestDecodePayload_UpdateRoom_ParticipantsOptional(t *testing.T) {
	var p UpdateRoomPayload
	if err := DecodePayload(json.RawMessage(`{"room_id":"r1","name":"renamed"}`), &p); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if p.Participants != nil {
		t.Fatal("absent participants should decode to nil")
	}

	var q UpdateRoomPayload
	if err := DecodePayload(json.RawMessage(`{"room_id":"r1","participants":["u1"]}`), &q); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if q.Participants == nil || len(*q.Participants) != 1 {
		t.Fatalf("present participants lost: %v", q.Participants)
	}
}

func TestDecodePayload_FilterMessages_Bounds(t *testing.T) {
	var p FilterMessagesPayload
	if err := DecodePayload(json.RawMessage(`{"room_id":"r1","filter":"hi","first":20,"rows":50}`), &p); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if p.First != 20 || p.Rows != 50 {
		t.Fatalf("window lost: %+v", p)
	}

	for _, raw := range []string{
		`{"room_id":"r1","first":-1}`,
		`{"room_id":"r1","rows":101}`,
		`{"filter":"hi"}`,
	} {
		var q FilterMessagesPayload
		if err := DecodePayload(json.RawMessage(raw), &q); !errors.Is(err, services.ErrValidation) {
			t.Fatalf("expected ErrValidation for %s, got %v", raw, err)
		}
	}
}

func TestDecodePayload_Messages(t *testing.T) {
	var send CreateMessagePayload
	if err := DecodePayload(json.RawMessage(`{"room_id":"r1","text":"hello"}`), &send); err != nil {
		t.Fatalf("decode send: %v", err)
	}
	var q CreateMessagePayload
	if err := DecodePayload(json.RawMessage(`{"room_id":"r1","text":""}`), &q); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected ErrValidation for empty text, got %v", err)
	}

	var del DeleteMessagePayload
	if err := DecodePayload(json.RawMessage(`{"room_id":"r1","message_ids":["m1","m2"]}`), &del); err != nil {
		t.Fatalf("decode delete: %v", err)
	}
	for _, raw := range []string{
		`{"room_id":"r1","message_ids":[]}`,
		`{"room_id":"r1","message_ids":["m1",""]}`,
		`{"message_ids":["m1"]}`,
	} {
		var d DeleteMessagePayload
		if err := DecodePayload(json.RawMessage(raw), &d); !errors.Is(err, services.ErrValidation) {
			t.Fatalf("expected ErrValidation for %s, got %v", raw, err)
		}
	}
}
