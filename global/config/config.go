package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"IMCore/tools/ids"
)

// AppConfig carries everything the gateway process needs: the listen
// surface, protocol timings, and the collaborator endpoints.
type AppConfig struct {
	NodeID         string
	SnowflakeNode  int64
	Port           int
	WSPath         string
	AllowedOrigins []string // empty means any origin is accepted

	// Identity
	JwtSecret []byte

	// Protocol timings
	AuthTimeout   time.Duration // max time a connection may stay unauthenticated
	WriteTimeout  time.Duration // per-frame write deadline
	PongTimeout   time.Duration // read deadline window refreshed on pong
	PingInterval  time.Duration // server ping cadence, must be < PongTimeout
	SweepEvery    time.Duration // reaper scan interval
	PersistWindow time.Duration // timeout budget for a persistence call

	MaxMessageSize int64

	// Collaborators
	StoreBackend  string // "memory" or "mongo"
	MongoURI      string
	MongoDatabase string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	PresenceTTL   time.Duration
	NatsServers   string
	NatsSubject   string
}

// Load builds the config from environment, falling back to defaults fit
// for local development.
func Load() AppConfig {
	return AppConfig{
		NodeID:         envStr("IM_NODE_ID", "gateway_1"),
		SnowflakeNode:  int64(envInt("IM_SNOWFLAKE_NODE", 1)),
		Port:           envInt("IM_PORT", 8080),
		WSPath:         envStr("IM_WS_PATH", "/ws"),
		AllowedOrigins: envList("IM_ALLOWED_ORIGINS"),

		JwtSecret: []byte(os.Getenv("IM_JWT_SECRET")),

		AuthTimeout:   envDur("IM_AUTH_TIMEOUT", 60*time.Second),
		WriteTimeout:  envDur("IM_WRITE_TIMEOUT", 5*time.Second),
		PongTimeout:   envDur("IM_PONG_TIMEOUT", 75*time.Second),
		PingInterval:  envDur("IM_PING_INTERVAL", 25*time.Second),
		SweepEvery:    envDur("IM_SWEEP_EVERY", 30*time.Second),
		PersistWindow: envDur("IM_PERSIST_WINDOW", 5*time.Second),

		MaxMessageSize: int64(envInt("IM_MAX_MESSAGE_SIZE", 64*1024)),

		StoreBackend:  envStr("IM_STORE_BACKEND", "memory"),
		MongoURI:      envStr("IM_MONGO_URI", "mongodb://localhost:27017"),
		MongoDatabase: envStr("IM_MONGO_DATABASE", "imcore"),
		RedisAddr:     os.Getenv("IM_REDIS_ADDR"),
		RedisPassword: os.Getenv("IM_REDIS_PASSWORD"),
		RedisDB:       envInt("IM_REDIS_DB", 0),
		PresenceTTL:   envDur("IM_PRESENCE_TTL", 2*time.Minute),
		NatsServers:   os.Getenv("IM_NATS_SERVERS"),
		NatsSubject:   envStr("IM_NATS_SUBJECT", "im.message.stored"),
	}
}

// ConfigIds seeds the snowflake node for connection identifiers.
func ConfigIds(node int64) {
	ids.SetNodeID(node)
}

func envStr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func envList(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func envDur(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
