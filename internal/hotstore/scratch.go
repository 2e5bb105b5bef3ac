package hotstore

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/vieroc/vieroc-backend/internal/models"
)

// Scratch field names as stored in the Redis hash.
const (
	fieldCurrentGoal       = "current_goal"
	fieldExtractedEntities = "extracted_entities"
	fieldLastToolUsed      = "last_tool_used"
	fieldUserMood          = "user_mood"
	fieldTotalTokens       = "total_tokens"
	fieldCreatedAt         = "created_at"
	fieldUpdatedAt         = "updated_at"
)

// Scratch is the small mutable per-conversation key/value record, backed by
// a Redis hash. updated_at is refreshed on every field write; total_tokens
// is only ever adjusted by signed increments.
type Scratch struct {
	client *goredis.Client
	key    string
	ttl    time.Duration
}

// Init seeds the hash with a zero token counter and timestamps. Calling it
// on an existing context is harmless for total_tokens (HSETNX).
func (s *Scratch) Init(ctx context.Context) error {
	now := strconv.FormatInt(time.Now().Unix(), 10)

	if err := s.client.HSetNX(ctx, s.key, fieldTotalTokens, 0).Err(); err != nil {
		return fmt.Errorf("hotstore: failed to init scratch: %w", err)
	}
	if err := s.client.HSetNX(ctx, s.key, fieldCreatedAt, now).Err(); err != nil {
		return fmt.Errorf("hotstore: failed to init scratch: %w", err)
	}
	if err := s.client.HSet(ctx, s.key, fieldUpdatedAt, now).Err(); err != nil {
		return fmt.Errorf("hotstore: failed to init scratch: %w", err)
	}

	return s.client.Expire(ctx, s.key, s.ttl).Err()
}

// SetField writes a single field, stamping updated_at and refreshing the TTL.
// Maps and slices are stored as JSON.
func (s *Scratch) SetField(ctx context.Context, field string, value interface{}) error {
	stored, err := encodeValue(value)
	if err != nil {
		return fmt.Errorf("hotstore: failed to encode scratch field %s: %w", field, err)
	}

	if err := s.client.HSet(ctx, s.key, field, stored).Err(); err != nil {
		return fmt.Errorf("hotstore: failed to set scratch field %s: %w", field, err)
	}
	if err := s.client.HSet(ctx, s.key, fieldUpdatedAt, time.Now().Unix()).Err(); err != nil {
		return fmt.Errorf("hotstore: failed to stamp scratch update: %w", err)
	}

	return s.client.Expire(ctx, s.key, s.ttl).Err()
}

// IncrTokens adjusts the running token counter by a signed delta and returns
// the new total. The counter is never overwritten wholesale.
func (s *Scratch) IncrTokens(ctx context.Context, delta int) (int, error) {
	total, err := s.client.HIncrBy(ctx, s.key, fieldTotalTokens, int64(delta)).Result()
	if err != nil {
		return 0, fmt.Errorf("hotstore: failed to increment tokens: %w", err)
	}
	if err := s.client.HSet(ctx, s.key, fieldUpdatedAt, time.Now().Unix()).Err(); err != nil {
		return 0, fmt.Errorf("hotstore: failed to stamp scratch update: %w", err)
	}

	if err := s.client.Expire(ctx, s.key, s.ttl).Err(); err != nil {
		return 0, err
	}

	return int(total), nil
}

// GetAll reads the whole scratch record
func (s *Scratch) GetAll(ctx context.Context) (models.ScratchContext, error) {
	raw, err := s.client.HGetAll(ctx, s.key).Result()
	if err != nil {
		return models.ScratchContext{}, fmt.Errorf("hotstore: failed to read scratch: %w", err)
	}

	return decodeScratch(raw), nil
}

// RefreshTTL extends the record's lifetime by the configured TTL
func (s *Scratch) RefreshTTL(ctx context.Context) error {
	return s.client.Expire(ctx, s.key, s.ttl).Err()
}

// Clear drops the whole record
func (s *Scratch) Clear(ctx context.Context) error {
	return s.client.Del(ctx, s.key).Err()
}

func encodeValue(value interface{}) (string, error) {
	switch v := value.(type) {
	case string:
		return v, nil
	case int:
		return strconv.Itoa(v), nil
	case int64:
		return strconv.FormatInt(v, 10), nil
	default:
		payload, err := json.Marshal(v)
		if err != nil {
			return "", err
		}
		return string(payload), nil
	}
}

func decodeScratch(raw map[string]string) models.ScratchContext {
	var sc models.ScratchContext
	sc.CurrentGoal = raw[fieldCurrentGoal]
	sc.LastToolUsed = raw[fieldLastToolUsed]
	sc.UserMood = raw[fieldUserMood]

	if v := raw[fieldExtractedEntities]; v != "" {
		// Best effort: a malformed entities blob degrades to nil, not an error.
		var entities map[string]interface{}
		if err := json.Unmarshal([]byte(v), &entities); err == nil {
			sc.ExtractedEntities = entities
		}
	}

	sc.TotalTokens = parseInt(raw[fieldTotalTokens])
	sc.CreatedAt = int64(parseInt(raw[fieldCreatedAt]))
	sc.UpdatedAt = int64(parseInt(raw[fieldUpdatedAt]))

	return sc
}

func parseInt(s string) int {
	if s == "" {
		return 0
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0
	}
	return n
}
