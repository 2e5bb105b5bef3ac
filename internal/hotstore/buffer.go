package hotstore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/vieroc/vieroc-backend/internal/models"
)

// Buffer is the append-only ordered log of recent turns for one
// conversation, backed by a Redis list. Append order is chronological order;
// the buffer never reorders or timestamp-sorts on write.
type Buffer struct {
	client *goredis.Client
	key    string
	ttl    time.Duration
}

// Append pushes a turn onto the end of the log and refreshes the TTL
func (b *Buffer) Append(ctx context.Context, turn models.Turn) error {
	payload, err := json.Marshal(turn)
	if err != nil {
		return fmt.Errorf("hotstore: failed to marshal turn: %w", err)
	}

	if err := b.client.RPush(ctx, b.key, payload).Err(); err != nil {
		return fmt.Errorf("hotstore: failed to append turn: %w", err)
	}

	return b.client.Expire(ctx, b.key, b.ttl).Err()
}

// Range returns the turns between the given list indexes (inclusive, Redis
// semantics: 0 is the oldest, -1 the newest).
func (b *Buffer) Range(ctx context.Context, start, stop int64) ([]models.Turn, error) {
	raw, err := b.client.LRange(ctx, b.key, start, stop).Result()
	if err != nil {
		return nil, fmt.Errorf("hotstore: failed to read turns: %w", err)
	}

	turns := make([]models.Turn, 0, len(raw))
	for _, item := range raw {
		var turn models.Turn
		if err := json.Unmarshal([]byte(item), &turn); err != nil {
			return nil, fmt.Errorf("hotstore: corrupt turn in buffer: %w", err)
		}
		turns = append(turns, turn)
	}

	return turns, nil
}

// Len returns the current number of turns in the log
func (b *Buffer) Len(ctx context.Context) (int, error) {
	n, err := b.client.LLen(ctx, b.key).Result()
	if err != nil {
		return 0, fmt.Errorf("hotstore: failed to read buffer length: %w", err)
	}
	return int(n), nil
}

// TruncateToLast keeps only the newest n turns
func (b *Buffer) TruncateToLast(ctx context.Context, n int) error {
	if n <= 0 {
		return nil
	}
	if err := b.client.LTrim(ctx, b.key, int64(-n), -1).Err(); err != nil {
		return fmt.Errorf("hotstore: failed to truncate buffer: %w", err)
	}
	return nil
}

// RefreshTTL extends the log's lifetime by the configured TTL
func (b *Buffer) RefreshTTL(ctx context.Context) error {
	return b.client.Expire(ctx, b.key, b.ttl).Err()
}

// Clear drops the whole log
func (b *Buffer) Clear(ctx context.Context) error {
	return b.client.Del(ctx, b.key).Err()
}
