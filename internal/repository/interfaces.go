package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
)

// Session represents the durable per-conversation record (episodic memory).
// It shares its id with the hot buffer/scratch pair for the same conversation
// but lives in a different store; consistency between the tiers is eventual.
type Session struct {
	ID             string         `db:"id"`
	UserID         uuid.UUID      `db:"user_id"`
	Title          sql.NullString `db:"title"`
	HandoffReason  sql.NullString `db:"handoff_reason"`
	CurrentStageID sql.NullInt64  `db:"current_stage_id"`
	CreatedAt      time.Time      `db:"created_at"`
	UpdatedAt      time.Time      `db:"updated_at"`
	Metadata       []byte         `db:"metadata"`
}

// Turn represents an archived conversation turn. Rows are append-only and
// are only ever removed by compaction's tail trim.
type Turn struct {
	ID         string         `db:"id"`
	SessionID  string         `db:"session_id"`
	Role       string         `db:"role"`
	Content    string         `db:"content"`
	ToolCalls  sql.NullString `db:"tool_calls"`
	TokenCount int            `db:"token_count"`
	CreatedAt  time.Time      `db:"created_at"`
}

// Customer represents a shop customer. Identity fields are filled in
// opportunistically by compaction's extraction step.
type Customer struct {
	ID             uuid.UUID      `db:"id"`
	ShopID         uuid.UUID      `db:"shop_id"`
	FullName       string         `db:"full_name"`
	Phone          sql.NullString `db:"phone"`
	Email          sql.NullString `db:"email"`
	MembershipTier sql.NullString `db:"membership_tier"`
	Preferences    []byte         `db:"preferences"`
	CreatedAt      time.Time      `db:"created_at"`
	UpdatedAt      time.Time      `db:"updated_at"`
}

// CustomerIdentity is the partial identity record produced by the
// information-extraction step. Empty fields are left untouched on upsert.
type CustomerIdentity struct {
	Name        string
	Phone       string
	Email       string
	Preferences map[string]interface{}
}

// Product represents a catalog product offered by a shop.
type Product struct {
	ID            uuid.UUID      `db:"id"`
	ShopID        uuid.UUID      `db:"shop_id"`
	Name          string         `db:"name"`
	SKU           sql.NullString `db:"sku"`
	Price         float64        `db:"price"`
	StockQuantity int            `db:"stock_quantity"`
	Description   sql.NullString `db:"description"`
}

// TurnRepository defines archived-turn storage operations
type TurnRepository interface {
	Append(ctx context.Context, sessionID string, turns []Turn) error
	Count(ctx context.Context, sessionID string) (int, error)
	ListLastN(ctx context.Context, sessionID string, n int) ([]Turn, error)
	DeleteKeepingLastN(ctx context.Context, sessionID string, n int) error
}

// SessionRepository defines durable session storage operations
type SessionRepository interface {
	Get(ctx context.Context, id string) (*Session, error)
	GetOrCreate(ctx context.Context, id string, userRef uuid.UUID) (*Session, error)
	// UpdateMetadata merges the given keys into the session's metadata JSONB,
	// preserving unrelated keys.
	UpdateMetadata(ctx context.Context, id string, merge map[string]interface{}) error
	// UpdateHandoff sets handoff_reason (and optionally merges metadata).
	// handoff_reason is only ever changed by this explicit call.
	UpdateHandoff(ctx context.Context, id string, reason string, merge map[string]interface{}) error
}

// CustomerRepository defines customer storage operations
type CustomerRepository interface {
	UpsertIdentity(ctx context.Context, userRef uuid.UUID, fields CustomerIdentity) error
}

// ProductRepository defines read-only catalog access
type ProductRepository interface {
	ListByShop(ctx context.Context, shopID uuid.UUID, limit int) ([]Product, error)
}
