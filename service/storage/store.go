package storage

import (
	"context"
)

// Message status values as persisted and pushed on the wire.
const (
	StatusSent      = "SENT"
	StatusDelivered = "DELIVERED"
	StatusRead      = "READ"
)

// NewMessage is the ephemeral write request handed to the store; it is
// never retained by the caller once persisted.
type NewMessage struct {
	SenderID    int64
	RecipientID int64
	GroupID     string
	Content     string
	Type        string
}

// MessageRecord is the durable view of a message. The store assigns the
// identifier, timestamp, and initial status.
type MessageRecord struct {
	ID          string `bson:"_id"          json:"messageId"`
	SenderID    int64  `bson:"sender_id"    json:"senderId"`
	RecipientID int64  `bson:"recipient_id" json:"receiverId"`
	GroupID     string `bson:"group_id,omitempty" json:"groupId,omitempty"`
	Content     string `bson:"content"      json:"content"`
	Type        string `bson:"type"         json:"type"`
	Status      string `bson:"status"       json:"status"`
	Timestamp   int64  `bson:"timestamp"    json:"timestamp"`
}

// Conversation is one row of a user's conversation list: the peer (or
// group), the last message, and the caller's unread counter.
type Conversation struct {
	PeerID        int64  `bson:"peer_id,omitempty"  json:"peerId,omitempty"`
	GroupID       string `bson:"group_id,omitempty" json:"groupId,omitempty"`
	LastMessageID string `bson:"last_message_id"    json:"lastMessageId"`
	LastContent   string `bson:"last_content"       json:"lastContent"`
	LastType      string `bson:"last_type"          json:"lastType"`
	LastSenderID  int64  `bson:"last_sender_id"     json:"lastSenderId"`
	LastTimestamp int64  `bson:"last_timestamp"     json:"lastTimestamp"`
	UnreadCount   int64  `bson:"unread_count"       json:"unreadCount"`
}

// MessageStore is the persistence collaborator consumed by the delivery
// core. Implementations must be safe for concurrent use; the core calls
// them with a bounded context and does not retry.
type MessageStore interface {
	// CreateMessage persists msg, assigning id, timestamp, and StatusSent.
	CreateMessage(ctx context.Context, msg NewMessage) (*MessageRecord, error)

	// UpdateStatus transitions a stored message to the given status and
	// returns the updated record.
	UpdateStatus(ctx context.Context, messageID string, status string) (*MessageRecord, error)

	// ListConversations returns the user's conversation view, most recent
	// first.
	ListConversations(ctx context.Context, userID int64) ([]Conversation, error)

	// TotalUnreadCount returns the sum of unread counters across all of
	// the user's conversations.
	TotalUnreadCount(ctx context.Context, userID int64) (int64, error)

	// MarkConversationRead zeroes the unread counter the user holds
	// against the given peer.
	MarkConversationRead(ctx context.Context, userID, peerID int64) error
}
