package events

import (
	"encoding/json"
	"testing"
)

func TestParse_KnownTypes(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want func(t *testing.T, msg any)
	}{
		{
			name: "hello",
			raw:  `{"type":"hello","userId":"u1","userName":"alice"}`,
			want: func(t *testing.T, msg any) {
				m, ok := msg.(*Hello)
				if !ok {
					t.Fatalf("expected *Hello, got %T", msg)
				}
				if m.UserID != "u1" || m.UserName != "alice" {
					t.Fatalf("unexpected hello: %+v", m)
				}
			},
		},
		{
			name: "join room with create intent",
			raw:  `{"type":"join-room","roomId":"AB12CD34","create":true,"password":"s"}`,
			want: func(t *testing.T, msg any) {
				m, ok := msg.(*JoinRoom)
				if !ok {
					t.Fatalf("expected *JoinRoom, got %T", msg)
				}
				if m.RoomID != "AB12CD34" || !m.Create || m.Password != "s" {
					t.Fatalf("unexpected join-room: %+v", m)
				}
			},
		},
		{
			name: "signal keeps data opaque",
			raw:  `{"type":"signal","to":"u2","data":{"type":"offer","sdp":"v=0"}}`,
			want: func(t *testing.T, msg any) {
				m, ok := msg.(*Signal)
				if !ok {
					t.Fatalf("expected *Signal, got %T", msg)
				}
				if m.To != "u2" {
					t.Fatalf("unexpected target: %q", m.To)
				}
				var payload map[string]any
				if err := json.Unmarshal(m.Data, &payload); err != nil {
					t.Fatalf("data is not raw JSON: %v", err)
				}
				if payload["sdp"] != "v=0" {
					t.Fatalf("unexpected data: %v", payload)
				}
			},
		},
		{
			name: "speaking without volume",
			raw:  `{"type":"speaking","speaking":true}`,
			want: func(t *testing.T, msg any) {
				m, ok := msg.(*Speaking)
				if !ok {
					t.Fatalf("expected *Speaking, got %T", msg)
				}
				if !m.Speaking || m.VolumeDb != nil {
					t.Fatalf("unexpected speaking: %+v", m)
				}
			},
		},
		{
			name: "error with code",
			raw:  `{"type":"error","code":"ROOM_FULL","message":"room is full"}`,
			want: func(t *testing.T, msg any) {
				m, ok := msg.(*Error)
				if !ok {
					t.Fatalf("expected *Error, got %T", msg)
				}
				if m.Code != CodeRoomFull {
					t.Fatalf("unexpected code: %q", m.Code)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, ok := Parse([]byte(tt.raw))
			if !ok {
				t.Fatalf("Parse(%q) rejected valid message", tt.raw)
			}
			tt.want(t, msg)
		})
	}
}

func TestParse_IgnoresGarbage(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"broken json", `{"type":`},
		{"not an object", `[1,2,3]`},
		{"missing type", `{"roomId":"X"}`},
		{"unknown type", `{"type":"self-destruct"}`},
		{"wrong field type", `{"type":"join-room","roomId":42}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if msg, ok := Parse([]byte(tt.raw)); ok {
				t.Fatalf("Parse(%q) = %T, expected rejection", tt.raw, msg)
			}
		})
	}
}

func TestNewError(t *testing.T) {
	e := NewError(CodeWrongPassword, "wrong password")

	raw, err := json.Marshal(e)
	if err != nil {
		t.Fatalf("marshal error message: %v", err)
	}

	msg, ok := Parse(raw)
	if !ok {
		t.Fatalf("error message did not round-trip: %s", raw)
	}
	parsed, ok := msg.(*Error)
	if !ok {
		t.Fatalf("expected *Error, got %T", msg)
	}
	if parsed.Code != CodeWrongPassword || parsed.Message != "wrong password" {
		t.Fatalf("unexpected error: %+v", parsed)
	}
}
