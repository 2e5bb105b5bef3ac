package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/vieroc/vieroc-backend/internal/repository"
)

// SessionRepository implements repository.SessionRepository using PostgreSQL
type SessionRepository struct {
	db *sqlx.DB
}

// NewSessionRepository creates a new PostgreSQL session repository
func NewSessionRepository(db *sqlx.DB) repository.SessionRepository {
	return &SessionRepository{db: db}
}

// Get retrieves a session by ID
func (r *SessionRepository) Get(ctx context.Context, id string) (*repository.Session, error) {
	var session repository.Session
	query := `
		SELECT id, user_id, title, handoff_reason, current_stage_id, created_at, updated_at, metadata
		FROM sessions
		WHERE id = $1
	`

	err := r.db.GetContext(ctx, &session, query, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get session: %w", err)
	}

	return &session, nil
}

// GetOrCreate returns the session with the given id, creating it lazily on
// the first durable write for a conversation.
func (r *SessionRepository) GetOrCreate(ctx context.Context, id string, userRef uuid.UUID) (*repository.Session, error) {
	now := time.Now()
	insert := `
		INSERT INTO sessions (id, user_id, created_at, updated_at, metadata)
		VALUES ($1, $2, $3, $3, '{}')
		ON CONFLICT (id) DO NOTHING
	`

	if _, err := r.db.ExecContext(ctx, insert, id, userRef, now); err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	session, err := r.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if session == nil {
		return nil, fmt.Errorf("session %s not found after create", id)
	}

	return session, nil
}

// UpdateMetadata merges the given keys into the session metadata JSONB.
// Unrelated metadata keys are preserved.
func (r *SessionRepository) UpdateMetadata(ctx context.Context, id string, merge map[string]interface{}) error {
	if len(merge) == 0 {
		return nil
	}

	payload, err := json.Marshal(merge)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}

	query := `
		UPDATE sessions
		SET metadata = COALESCE(metadata, '{}'::jsonb) || $2::jsonb,
		    updated_at = CURRENT_TIMESTAMP
		WHERE id = $1
	`

	if _, err := r.db.ExecContext(ctx, query, id, payload); err != nil {
		return fmt.Errorf("failed to update session metadata: %w", err)
	}

	return nil
}

// UpdateHandoff persists the escalation reason and optionally merges
// additional metadata. handoff_reason is never cleared implicitly; only this
// explicit update touches it.
func (r *SessionRepository) UpdateHandoff(ctx context.Context, id string, reason string, merge map[string]interface{}) error {
	query := `
		UPDATE sessions
		SET handoff_reason = $2,
		    updated_at = CURRENT_TIMESTAMP
		WHERE id = $1
	`

	if _, err := r.db.ExecContext(ctx, query, id, reason); err != nil {
		return fmt.Errorf("failed to update session handoff: %w", err)
	}

	if len(merge) > 0 {
		return r.UpdateMetadata(ctx, id, merge)
	}

	return nil
}
