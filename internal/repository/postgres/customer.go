package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/vieroc/vieroc-backend/internal/repository"
)

// CustomerRepository implements repository.CustomerRepository using PostgreSQL
type CustomerRepository struct {
	db *sqlx.DB
}

// NewCustomerRepository creates a new PostgreSQL customer repository
func NewCustomerRepository(db *sqlx.DB) repository.CustomerRepository {
	return &CustomerRepository{db: db}
}

// UpsertIdentity merges non-empty extracted identity fields into an existing
// customer row. Creation is skipped when no row exists: a new customer needs
// a shop_id, which the extraction step does not know.
func (r *CustomerRepository) UpsertIdentity(ctx context.Context, userRef uuid.UUID, fields repository.CustomerIdentity) error {
	var prefs []byte
	if len(fields.Preferences) > 0 {
		var err error
		prefs, err = json.Marshal(fields.Preferences)
		if err != nil {
			return fmt.Errorf("failed to marshal preferences: %w", err)
		}
	} else {
		prefs = []byte("{}")
	}

	query := `
		UPDATE customers
		SET full_name = COALESCE(NULLIF($2, ''), full_name),
		    phone = COALESCE(NULLIF($3, ''), phone),
		    email = COALESCE(NULLIF($4, ''), email),
		    preferences = COALESCE(preferences, '{}'::jsonb) || $5::jsonb,
		    updated_at = CURRENT_TIMESTAMP
		WHERE id = $1
	`

	if _, err := r.db.ExecContext(ctx, query, userRef, fields.Name, fields.Phone, fields.Email, prefs); err != nil {
		return fmt.Errorf("failed to upsert customer identity: %w", err)
	}

	return nil
}
