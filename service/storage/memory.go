package storage

import (
	"context"
	"errors"
	"sort"
	"strconv"
	"sync"
	"time"

	"IMCore/tools/ids"
)

var ErrMessageNotFound = errors.New("message not found")

// MemoryStore is an in-memory MessageStore for development and tests.
// It keeps the same conversation bookkeeping the Mongo store does.
type MemoryStore struct {
	mu       sync.RWMutex
	messages map[string]*MessageRecord
	convs    map[string]*convState

	// Clock is injectable for tests; nil means time.Now.
	Clock func() time.Time
}

type convState struct {
	peerA   int64 // 0 for group conversations
	peerB   int64
	groupID string
	last    *MessageRecord
	unread  map[int64]int64 // userID -> unread counter
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		messages: make(map[string]*MessageRecord),
		convs:    make(map[string]*convState),
	}
}

func (s *MemoryStore) now() time.Time {
	if s.Clock != nil {
		return s.Clock()
	}
	return time.Now()
}

// convKey normalizes a direct pair so both directions share one state.
func convKey(a, b int64, groupID string) string {
	if groupID != "" {
		return "g:" + groupID
	}
	if a > b {
		a, b = b, a
	}
	return "d:" + strconv.FormatInt(a, 10) + ":" + strconv.FormatInt(b, 10)
}

func (s *MemoryStore) CreateMessage(ctx context.Context, msg NewMessage) (*MessageRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	rec := &MessageRecord{
		ID:          ids.GenerateString(),
		SenderID:    msg.SenderID,
		RecipientID: msg.RecipientID,
		GroupID:     msg.GroupID,
		Content:     msg.Content,
		Type:        msg.Type,
		Status:      StatusSent,
		Timestamp:   s.now().UnixMilli(),
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.messages[rec.ID] = rec

	key := convKey(msg.SenderID, msg.RecipientID, msg.GroupID)
	cs := s.convs[key]
	if cs == nil {
		cs = &convState{
			peerA:   msg.SenderID,
			peerB:   msg.RecipientID,
			groupID: msg.GroupID,
			unread:  make(map[int64]int64),
		}
		s.convs[key] = cs
	}
	cs.last = rec
	if msg.RecipientID != 0 {
		cs.unread[msg.RecipientID]++
	}
	return cloneRecord(rec), nil
}

func (s *MemoryStore) UpdateStatus(ctx context.Context, messageID string, status string) (*MessageRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.messages[messageID]
	if !ok {
		return nil, ErrMessageNotFound
	}
	rec.Status = status
	return cloneRecord(rec), nil
}

func (s *MemoryStore) ListConversations(ctx context.Context, userID int64) ([]Conversation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Conversation
	for _, cs := range s.convs {
		if cs.last == nil {
			continue
		}
		if cs.groupID == "" && cs.peerA != userID && cs.peerB != userID {
			continue
		}
		peer := cs.peerA
		if peer == userID {
			peer = cs.peerB
		}
		if cs.groupID != "" {
			peer = 0
		}
		out = append(out, Conversation{
			PeerID:        peer,
			GroupID:       cs.groupID,
			LastMessageID: cs.last.ID,
			LastContent:   cs.last.Content,
			LastType:      cs.last.Type,
			LastSenderID:  cs.last.SenderID,
			LastTimestamp: cs.last.Timestamp,
			UnreadCount:   cs.unread[userID],
		})
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].LastTimestamp > out[j].LastTimestamp
	})
	return out, nil
}

func (s *MemoryStore) TotalUnreadCount(ctx context.Context, userID int64) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var total int64
	for _, cs := range s.convs {
		total += cs.unread[userID]
	}
	return total, nil
}

func (s *MemoryStore) MarkConversationRead(ctx context.Context, userID, peerID int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := convKey(userID, peerID, "")
	if cs := s.convs[key]; cs != nil {
		cs.unread[userID] = 0
	}
	return nil
}

func cloneRecord(rec *MessageRecord) *MessageRecord {
	cp := *rec
	return &cp
}
