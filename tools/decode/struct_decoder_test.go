package decode

import (
	"encoding/json"
	"testing"
)

type samplePayload struct {
	RecipientID int64  `json:"recipientId"`
	Content     string `json:"content"`
	IsTyping    bool   `json:"isTyping"`
}

func TestMapDecodesByJSONTag(t *testing.T) {
	out, err := Map[samplePayload](map[string]any{
		"recipientId": float64(42),
		"content":     "hi",
		"isTyping":    true,
	})
	if err != nil {
		t.Fatalf("Map: %v", err)
	}
	if out.RecipientID != 42 || out.Content != "hi" || !out.IsTyping {
		t.Fatalf("decoded = %+v", out)
	}
}

func TestMapWeakTyping(t *testing.T) {
	out, err := Map[samplePayload](map[string]any{
		"recipientId": "42",
		"content":     "hi",
	})
	if err != nil {
		t.Fatalf("Map: %v", err)
	}
	if out.RecipientID != 42 {
		t.Fatalf("recipientId = %d, want 42", out.RecipientID)
	}
}

func TestRawDecodesJSONNumbers(t *testing.T) {
	raw := json.RawMessage(`{"recipientId":9007199254740993,"content":"big"}`)
	out, err := Raw[samplePayload](raw)
	if err != nil {
		t.Fatalf("Raw: %v", err)
	}
	if out.RecipientID != 9007199254740993 {
		t.Fatalf("recipientId = %d, precision lost", out.RecipientID)
	}
}
