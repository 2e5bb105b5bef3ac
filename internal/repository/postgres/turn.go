package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/vieroc/vieroc-backend/internal/repository"
)

// TurnRepository implements repository.TurnRepository using PostgreSQL
type TurnRepository struct {
	db *sqlx.DB
}

// NewTurnRepository creates a new PostgreSQL turn repository
func NewTurnRepository(db *sqlx.DB) repository.TurnRepository {
	return &TurnRepository{db: db}
}

// Append writes turns as new rows in a single transaction. Rows are
// append-only; archived turns are never updated. The transaction matters:
// a partially archived eviction set would break the hot-buffer truncation
// contract.
func (r *TurnRepository) Append(ctx context.Context, sessionID string, turns []repository.Turn) error {
	if len(turns) == 0 {
		return nil
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	query := `
		INSERT INTO messages (id, session_id, role, content, tool_calls, token_count, created_at)
		VALUES (:id, :session_id, :role, :content, :tool_calls, :token_count, :created_at)
	`

	for _, turn := range turns {
		if turn.ID == "" {
			turn.ID = uuid.New().String()
		}
		if turn.CreatedAt.IsZero() {
			turn.CreatedAt = time.Now()
		}
		turn.SessionID = sessionID

		if _, err := tx.NamedExecContext(ctx, query, turn); err != nil {
			return fmt.Errorf("failed to archive turn: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit archived turns: %w", err)
	}

	return nil
}

// Count returns the number of archived turns for a session
func (r *TurnRepository) Count(ctx context.Context, sessionID string) (int, error) {
	var count int
	query := `SELECT COUNT(*) FROM messages WHERE session_id = $1`

	if err := r.db.GetContext(ctx, &count, query, sessionID); err != nil {
		return 0, fmt.Errorf("failed to count turns: %w", err)
	}

	return count, nil
}

// ListLastN returns the newest n archived turns in chronological order
func (r *TurnRepository) ListLastN(ctx context.Context, sessionID string, n int) ([]repository.Turn, error) {
	var turns []repository.Turn
	query := `
		SELECT id, session_id, role, content, tool_calls, token_count, created_at
		FROM (
			SELECT id, seq, session_id, role, content, tool_calls, token_count, created_at
			FROM messages
			WHERE session_id = $1
			ORDER BY seq DESC
			LIMIT $2
		) recent
		ORDER BY seq ASC
	`

	if err := r.db.SelectContext(ctx, &turns, query, sessionID, n); err != nil {
		return nil, fmt.Errorf("failed to list turns: %w", err)
	}

	return turns, nil
}

// DeleteKeepingLastN removes all archived turns for a session except the
// newest n. Used by compaction to bound the durable tail.
func (r *TurnRepository) DeleteKeepingLastN(ctx context.Context, sessionID string, n int) error {
	query := `
		DELETE FROM messages
		WHERE session_id = $1
		AND seq NOT IN (
			SELECT seq FROM messages
			WHERE session_id = $1
			ORDER BY seq DESC
			LIMIT $2
		)
	`

	if _, err := r.db.ExecContext(ctx, query, sessionID, n); err != nil {
		return fmt.Errorf("failed to trim archived turns: %w", err)
	}

	return nil
}
