package storage

import (
	"context"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

// PresenceMirror mirrors ONLINE/OFFLINE into Redis so that external CRUD
// services can render presence without talking to the gateway. The mirror
// is strictly best-effort: the in-process session registry stays the
// single authority, and the TTL lets stale entries age out on their own.
type PresenceMirror struct {
	rdb  *redis.Client
	node string
	ttl  time.Duration
}

type PresenceConfig struct {
	Addr     string
	Password string
	DB       int
	NodeID   string
	TTL      time.Duration
}

func NewPresenceMirror(cfg PresenceConfig) (*PresenceMirror, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		return nil, errors.Wrap(err, "redis ping")
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = 2 * time.Minute
	}
	return &PresenceMirror{rdb: rdb, node: cfg.NodeID, ttl: ttl}, nil
}

// presence key: im:presence:<user>; value: node id, TTL bounds staleness.
func presenceKey(userID int64) string {
	return "im:presence:" + strconv.FormatInt(userID, 10)
}

// Online marks the user online and renews the TTL.
func (m *PresenceMirror) Online(ctx context.Context, userID int64) error {
	return m.rdb.Set(ctx, presenceKey(userID), m.node, m.ttl).Err()
}

// Offline removes the presence key.
func (m *PresenceMirror) Offline(ctx context.Context, userID int64) error {
	return m.rdb.Del(ctx, presenceKey(userID)).Err()
}

func (m *PresenceMirror) Close() error {
	return m.rdb.Close()
}
