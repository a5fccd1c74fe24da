package chat

import (
	"encoding/json"
	"errors"
	"testing"

	"IMCore/service/storage"
	"IMCore/tools/errs"
)

func TestDecodeInboundVocabulary(t *testing.T) {
	cases := []struct {
		name string
		raw  string
		want any
	}{
		{"auth", `{"type":"AUTH","userId":42}`, AuthFrame{UserID: 42}},
		{"auth token", `{"type":"AUTH","token":"abc"}`, AuthFrame{Token: "abc"}},
		{"ping upper", `{"type":"PING"}`, PingFrame{}},
		{"ping lower", `{"type":"ping"}`, PingFrame{}},
		{"send", `{"type":"SEND_MESSAGE","data":{"recipientId":9,"content":"hi","type":"text"}}`,
			SendMessageCommand{RecipientID: 9, Content: "hi", Type: "text"}},
		{"send group", `{"type":"SEND_MESSAGE","data":{"groupId":"g1","content":"hi"}}`,
			SendMessageCommand{GroupID: "g1", Content: "hi"}},
		{"typing", `{"type":"TYPING","data":{"recipientId":9,"isTyping":true,"senderName":"ann"}}`,
			TypingSignal{RecipientID: 9, IsTyping: true, SenderName: "ann"}},
		{"status", `{"type":"USER_STATUS","data":{"status":"ONLINE"}}`,
			UserStatusUpdate{Status: "ONLINE"}},
		{"conversations", `{"type":"GET_CONVERSATIONS"}`, GetConversationsFrame{}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := DecodeInbound([]byte(tc.raw))
			if err != nil {
				t.Fatalf("DecodeInbound(%s): %v", tc.raw, err)
			}
			if got != tc.want {
				t.Fatalf("DecodeInbound(%s) = %#v, want %#v", tc.raw, got, tc.want)
			}
		})
	}
}

func TestDecodeInboundUnknownType(t *testing.T) {
	_, err := DecodeInbound([]byte(`{"type":"TELEPORT"}`))
	if !errors.Is(err, errs.ErrUnknownFrame) {
		t.Fatalf("err = %v, want ErrUnknownFrame", err)
	}
}

func TestDecodeInboundMalformed(t *testing.T) {
	for _, raw := range []string{`{not json`, `{"data":{}}`, `{"type":""}`} {
		_, err := DecodeInbound([]byte(raw))
		if !errors.Is(err, errs.ErrValidation) {
			t.Fatalf("DecodeInbound(%s) err = %v, want ErrValidation", raw, err)
		}
	}
}

func TestOutboundFrameMarshal(t *testing.T) {
	f := BuildError("nope")
	raw, err := json.Marshal(f)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if m["type"] != string(FrameError) {
		t.Fatalf("type = %v, want ERROR", m["type"])
	}
	if m["message"] != "nope" {
		t.Fatalf("message = %v, want nope", m["message"])
	}
	if _, ok := m["timestamp"]; !ok {
		t.Fatal("timestamp missing")
	}
}

func TestBuildSendMessageResponseCarriesGroup(t *testing.T) {
	f := BuildSendMessageResponse(&storage.MessageRecord{ID: "m1", SenderID: 1, GroupID: "g1", Status: storage.StatusSent})
	if f.Field("groupId") != "g1" {
		t.Fatalf("groupId = %v, want g1", f.Field("groupId"))
	}
	if f.Field("messageId") != "m1" {
		t.Fatalf("messageId = %v, want m1", f.Field("messageId"))
	}
}
