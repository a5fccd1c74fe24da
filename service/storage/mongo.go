package storage

import (
	"context"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"IMCore/tools/ids"
)

// MongoConfig carries the MongoDB connection settings.
type MongoConfig struct {
	URI         string
	Database    string
	Username    string
	Password    string
	AuthSource  string
	MaxPoolSize uint64
}

// MongoStore persists messages and conversation rollups in two
// collections. Conversation documents are updated in the same call that
// inserts the message, so the list/unread queries are single reads.
type MongoStore struct {
	db            *mongo.Database
	messages      *mongo.Collection
	conversations *mongo.Collection
}

func applyConfigToOptions(cfg *MongoConfig) (*options.ClientOptions, error) {
	if cfg.URI == "" {
		return nil, errors.New("mongo uri is required")
	}
	opts := options.Client().ApplyURI(cfg.URI)
	if cfg.MaxPoolSize > 0 {
		opts.SetMaxPoolSize(cfg.MaxPoolSize)
	}
	if cfg.Username != "" {
		opts.SetAuth(options.Credential{
			Username:   cfg.Username,
			Password:   cfg.Password,
			AuthSource: cfg.AuthSource,
		})
	}
	return opts, nil
}

// NewMongoStore connects and pings within the given context.
func NewMongoStore(ctx context.Context, cfg *MongoConfig) (*MongoStore, error) {
	opts, err := applyConfigToOptions(cfg)
	if err != nil {
		return nil, err
	}
	cli, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, errors.Wrap(err, "mongo connect")
	}
	if err := cli.Ping(ctx, nil); err != nil {
		return nil, errors.Wrap(err, "mongo ping")
	}
	db := cli.Database(cfg.Database)
	return &MongoStore{
		db:            db,
		messages:      db.Collection("messages"),
		conversations: db.Collection("conversations"),
	}, nil
}

func (s *MongoStore) Close(ctx context.Context) error {
	return s.db.Client().Disconnect(ctx)
}

type convDoc struct {
	ID           string           `bson:"_id"`
	Participants []int64          `bson:"participants,omitempty"`
	GroupID      string           `bson:"group_id,omitempty"`
	Last         *MessageRecord   `bson:"last"`
	Unread       map[string]int64 `bson:"unread"`
}

func (s *MongoStore) CreateMessage(ctx context.Context, msg NewMessage) (*MessageRecord, error) {
	rec := &MessageRecord{
		ID:          ids.GenerateString(),
		SenderID:    msg.SenderID,
		RecipientID: msg.RecipientID,
		GroupID:     msg.GroupID,
		Content:     msg.Content,
		Type:        msg.Type,
		Status:      StatusSent,
		Timestamp:   time.Now().UnixMilli(),
	}

	if _, err := s.messages.InsertOne(ctx, rec); err != nil {
		return nil, errors.Wrap(err, "insert message")
	}

	update := bson.M{
		"$set": bson.M{"last": rec},
		"$setOnInsert": bson.M{
			"participants": []int64{msg.SenderID, msg.RecipientID},
			"group_id":     msg.GroupID,
		},
	}
	if msg.RecipientID != 0 {
		update["$inc"] = bson.M{"unread." + strconv.FormatInt(msg.RecipientID, 10): 1}
	}
	key := convKey(msg.SenderID, msg.RecipientID, msg.GroupID)
	opts := options.Update().SetUpsert(true)
	if _, err := s.conversations.UpdateByID(ctx, key, update, opts); err != nil {
		return nil, errors.Wrap(err, "upsert conversation")
	}
	return rec, nil
}

func (s *MongoStore) UpdateStatus(ctx context.Context, messageID string, status string) (*MessageRecord, error) {
	after := options.After
	res := s.messages.FindOneAndUpdate(ctx,
		bson.M{"_id": messageID},
		bson.M{"$set": bson.M{"status": status}},
		&options.FindOneAndUpdateOptions{ReturnDocument: &after},
	)
	var rec MessageRecord
	if err := res.Decode(&rec); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrMessageNotFound
		}
		return nil, errors.Wrap(err, "update status")
	}
	return &rec, nil
}

func (s *MongoStore) ListConversations(ctx context.Context, userID int64) ([]Conversation, error) {
	cur, err := s.conversations.Find(ctx,
		bson.M{"participants": userID},
		options.Find().SetSort(bson.D{{Key: "last.timestamp", Value: -1}}),
	)
	if err != nil {
		return nil, errors.Wrap(err, "find conversations")
	}
	defer cur.Close(ctx)

	var out []Conversation
	for cur.Next(ctx) {
		var doc convDoc
		if err := cur.Decode(&doc); err != nil {
			return nil, errors.Wrap(err, "decode conversation")
		}
		if doc.Last == nil {
			continue
		}
		var peer int64
		for _, p := range doc.Participants {
			if p != userID {
				peer = p
			}
		}
		out = append(out, Conversation{
			PeerID:        peer,
			GroupID:       doc.GroupID,
			LastMessageID: doc.Last.ID,
			LastContent:   doc.Last.Content,
			LastType:      doc.Last.Type,
			LastSenderID:  doc.Last.SenderID,
			LastTimestamp: doc.Last.Timestamp,
			UnreadCount:   doc.Unread[strconv.FormatInt(userID, 10)],
		})
	}
	return out, errors.Wrap(cur.Err(), "cursor")
}

func (s *MongoStore) TotalUnreadCount(ctx context.Context, userID int64) (int64, error) {
	field := "$unread." + strconv.FormatInt(userID, 10)
	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: bson.M{"participants": userID}}},
		{{Key: "$group", Value: bson.M{
			"_id":   nil,
			"total": bson.M{"$sum": bson.M{"$ifNull": bson.A{field, 0}}},
		}}},
	}
	cur, err := s.conversations.Aggregate(ctx, pipeline)
	if err != nil {
		return 0, errors.Wrap(err, "aggregate unread")
	}
	defer cur.Close(ctx)

	var row struct {
		Total int64 `bson:"total"`
	}
	if cur.Next(ctx) {
		if err := cur.Decode(&row); err != nil {
			return 0, errors.Wrap(err, "decode unread total")
		}
	}
	return row.Total, cur.Err()
}

func (s *MongoStore) MarkConversationRead(ctx context.Context, userID, peerID int64) error {
	key := convKey(userID, peerID, "")
	_, err := s.conversations.UpdateByID(ctx, key,
		bson.M{"$set": bson.M{"unread." + strconv.FormatInt(userID, 10): 0}},
	)
	return errors.Wrap(err, "mark conversation read")
}
