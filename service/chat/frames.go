package chat

import (
	"encoding/json"
	"fmt"
	"time"

	"IMCore/service/storage"
	decode "IMCore/tools/decode"
	errs "IMCore/tools/errs"
)

// FrameType is the closed wire vocabulary. Inbound frames outside this set
// decode to ErrUnknownFrame instead of falling into a silent default.
type FrameType string

const (
	// inbound
	FrameAuth             FrameType = "AUTH"
	FramePing             FrameType = "PING"
	FrameSendMessage      FrameType = "SEND_MESSAGE"
	FrameTyping           FrameType = "TYPING"
	FrameUserStatus       FrameType = "USER_STATUS"
	FrameGetConversations FrameType = "GET_CONVERSATIONS"

	// outbound
	FrameConnection          FrameType = "CONNECTION"
	FrameAuthRequest         FrameType = "AUTH_REQUEST"
	FrameAuthSuccess         FrameType = "AUTH_SUCCESS"
	FramePong                FrameType = "PONG"
	FrameNewMessage          FrameType = "NEW_MESSAGE"
	FrameSendMessageResponse FrameType = "SEND_MESSAGE_RESPONSE"
	FrameMessageStatus       FrameType = "MESSAGE_STATUS"
	FrameTypingPush          FrameType = "TYPING"
	FrameTypingResponse      FrameType = "TYPING_RESPONSE"
	FrameUserStatusResponse  FrameType = "USER_STATUS_RESPONSE"
	FrameUserStatusBroadcast FrameType = "USER_STATUS_BROADCAST"
	FrameConversationList    FrameType = "CONVERSATION_LIST"
	FrameUnreadCount         FrameType = "UNREAD_COUNT"
	FrameError               FrameType = "ERROR"
)

// Presence states pushed in USER_STATUS_BROADCAST frames.
const (
	StatusOnline  = "ONLINE"
	StatusOffline = "OFFLINE"
)

// ===== outbound =====

// OutboundFrame is the typed envelope written to the wire. It is immutable
// once built; the extra per-type fields are fixed by the builder.
type OutboundFrame struct {
	Type      FrameType
	Timestamp int64
	fields    map[string]any
}

func (f OutboundFrame) MarshalJSON() ([]byte, error) {
	m := make(map[string]any, len(f.fields)+2)
	for k, v := range f.fields {
		m[k] = v
	}
	m["type"] = f.Type
	m["timestamp"] = f.Timestamp
	return json.Marshal(m)
}

// Field exposes a builder-set field, mostly for tests and logging.
func (f OutboundFrame) Field(key string) any { return f.fields[key] }

func newFrame(t FrameType, fields map[string]any) OutboundFrame {
	return OutboundFrame{Type: t, Timestamp: time.Now().UnixMilli(), fields: fields}
}

func BuildConnection(connID string) OutboundFrame {
	return newFrame(FrameConnection, map[string]any{"connectionId": connID})
}

func BuildAuthRequest() OutboundFrame {
	return newFrame(FrameAuthRequest, map[string]any{
		"message": "authentication required",
	})
}

func BuildAuthSuccess(userID int64) OutboundFrame {
	return newFrame(FrameAuthSuccess, map[string]any{"userId": userID})
}

func BuildPong() OutboundFrame {
	return newFrame(FramePong, nil)
}

func BuildNewMessage(rec *storage.MessageRecord) OutboundFrame {
	data := map[string]any{
		"messageId":  rec.ID,
		"senderId":   rec.SenderID,
		"receiverId": rec.RecipientID,
		"content":    rec.Content,
		"type":       rec.Type,
		"timestamp":  rec.Timestamp,
		"status":     rec.Status,
	}
	if rec.GroupID != "" {
		data["groupId"] = rec.GroupID
	}
	return newFrame(FrameNewMessage, map[string]any{"data": data})
}

func BuildSendMessageResponse(rec *storage.MessageRecord) OutboundFrame {
	fields := map[string]any{
		"messageId":   rec.ID,
		"recipientId": rec.RecipientID,
		"status":      rec.Status,
	}
	if rec.GroupID != "" {
		fields["groupId"] = rec.GroupID
	}
	return newFrame(FrameSendMessageResponse, fields)
}

func BuildMessageStatus(messageID, status string) OutboundFrame {
	return newFrame(FrameMessageStatus, map[string]any{
		"messageId": messageID,
		"status":    status,
	})
}

func BuildTypingPush(senderID int64, senderName string, isTyping bool) OutboundFrame {
	return newFrame(FrameTypingPush, map[string]any{
		"data": map[string]any{
			"senderId":   senderID,
			"senderName": senderName,
			"isTyping":   isTyping,
		},
	})
}

func BuildTypingResponse(recipientID int64) OutboundFrame {
	return newFrame(FrameTypingResponse, map[string]any{"recipientId": recipientID})
}

func BuildUserStatusResponse(status string) OutboundFrame {
	return newFrame(FrameUserStatusResponse, map[string]any{"status": status})
}

func BuildUserStatusBroadcast(userID int64, status string) OutboundFrame {
	return newFrame(FrameUserStatusBroadcast, map[string]any{
		"userId": userID,
		"status": status,
	})
}

func BuildConversationList(convs []storage.Conversation, totalUnread int64) OutboundFrame {
	if convs == nil {
		convs = []storage.Conversation{}
	}
	return newFrame(FrameConversationList, map[string]any{
		"conversations":    convs,
		"count":            len(convs),
		"totalUnreadCount": totalUnread,
	})
}

func BuildUnreadCount(totalUnread int64) OutboundFrame {
	return newFrame(FrameUnreadCount, map[string]any{"totalUnreadCount": totalUnread})
}

func BuildError(message string) OutboundFrame {
	return newFrame(FrameError, map[string]any{"message": message})
}

// ===== inbound =====

// Inbound is the decoded form of a client frame: a closed sum over the
// recognized vocabulary.
type Inbound interface{ inboundFrame() }

type AuthFrame struct {
	UserID int64  `json:"userId"`
	Token  string `json:"token"`
}

type PingFrame struct{}

// SendMessageCommand is ephemeral: built per send request, handed to the
// pipeline, never retained.
type SendMessageCommand struct {
	RecipientID int64  `json:"recipientId"`
	GroupID     string `json:"groupId"`
	Content     string `json:"content"`
	Type        string `json:"type"`
}

type TypingSignal struct {
	RecipientID int64  `json:"recipientId"`
	IsTyping    bool   `json:"isTyping"`
	SenderName  string `json:"senderName"`
}

type UserStatusUpdate struct {
	Status string `json:"status"`
}

type GetConversationsFrame struct{}

func (AuthFrame) inboundFrame()             {}
func (PingFrame) inboundFrame()             {}
func (SendMessageCommand) inboundFrame()    {}
func (TypingSignal) inboundFrame()          {}
func (UserStatusUpdate) inboundFrame()      {}
func (GetConversationsFrame) inboundFrame() {}

type inboundEnvelope struct {
	Type   string         `json:"type"`
	UserID int64          `json:"userId"`
	Token  string         `json:"token"`
	Data   map[string]any `json:"data"`
}

// DecodeInbound parses a raw wire frame into its typed variant. Unknown
// types return ErrUnknownFrame; malformed JSON or payloads return
// ErrValidation. Field-level requirements (non-empty recipient, content)
// are the pipeline's job, not the decoder's.
func DecodeInbound(raw []byte) (Inbound, error) {
	var env inboundEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, errs.ErrValidation.WrapMsg("malformed frame", "err", err)
	}

	switch FrameType(env.Type) {
	case FrameAuth:
		return AuthFrame{UserID: env.UserID, Token: env.Token}, nil
	case FramePing, FrameType("ping"):
		return PingFrame{}, nil
	case FrameSendMessage:
		cmd, err := decodeData[SendMessageCommand](env.Data)
		if err != nil {
			return nil, err
		}
		return *cmd, nil
	case FrameTyping:
		sig, err := decodeData[TypingSignal](env.Data)
		if err != nil {
			return nil, err
		}
		return *sig, nil
	case FrameUserStatus:
		upd, err := decodeData[UserStatusUpdate](env.Data)
		if err != nil {
			return nil, err
		}
		return *upd, nil
	case FrameGetConversations:
		return GetConversationsFrame{}, nil
	case FrameType(""):
		return nil, errs.ErrValidation.WrapMsg("missing frame type")
	default:
		return nil, errs.ErrUnknownFrame.WithDetail(env.Type)
	}
}

func decodeData[T any](data map[string]any) (*T, error) {
	if data == nil {
		data = map[string]any{}
	}
	out, err := decode.Map[T](data)
	if err != nil {
		return nil, errs.ErrValidation.WrapMsg(fmt.Sprintf("bad payload: %v", err))
	}
	return out, nil
}
