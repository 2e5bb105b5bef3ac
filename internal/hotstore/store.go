// Package hotstore implements the low-latency tier of the conversation
// memory: a per-conversation turn log (Redis list) and a scratch context
// (Redis hash), both bounded by a TTL that is refreshed on every write.
package hotstore

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/vieroc/vieroc-backend/internal/config"
)

// Key namespacing separates the turn log from the scratch record for the
// same conversation id.
const (
	chatKeyPrefix    = "agent:stm:chat:"
	contextKeyPrefix = "agent:stm:context:"
)

// Store is an explicitly constructed handle on the hot tier. Lifecycle
// (Open/Close) is owned by the caller; there is no package-level client.
type Store struct {
	client *goredis.Client
	ttl    time.Duration
}

// Open connects to Redis and verifies the connection
func Open(ctx context.Context, cfg config.RedisConfig, ttl time.Duration) (*Store, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("hotstore: ping failed: %w", err)
	}

	if ttl <= 0 {
		ttl = time.Hour
	}

	return &Store{client: client, ttl: ttl}, nil
}

// Close releases the underlying connection pool
func (s *Store) Close() error {
	return s.client.Close()
}

// Buffer returns the conversation turn log for the given conversation
func (s *Store) Buffer(conversationID string) *Buffer {
	return &Buffer{
		client: s.client,
		key:    chatKey(conversationID),
		ttl:    s.ttl,
	}
}

// Scratch returns the scratch context for the given conversation
func (s *Store) Scratch(conversationID string) *Scratch {
	return &Scratch{
		client: s.client,
		key:    contextKey(conversationID),
		ttl:    s.ttl,
	}
}

func chatKey(conversationID string) string {
	return chatKeyPrefix + conversationID
}

func contextKey(conversationID string) string {
	return contextKeyPrefix + conversationID
}
