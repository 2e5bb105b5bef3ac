package database

import (
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/vieroc/vieroc-backend/internal/config"
)

// DB wraps the PostgreSQL connection pool shared by the repositories.
type DB struct {
	*sqlx.DB
}

// Pool fallbacks for callers that build a DatabaseConfig by hand and leave
// the pool knobs at zero.
const (
	defaultMaxOpenConns        = 25
	defaultMaxIdleConns        = 5
	defaultConnLifetimeMinutes = 5
)

// NewConnection opens a pooled connection sized by the configured limits.
func NewConnection(cfg config.DatabaseConfig) (*DB, error) {
	db, err := sqlx.Connect("postgres", GetDSN(cfg))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	open, idle, lifetime := poolLimits(cfg)
	db.SetMaxOpenConns(open)
	db.SetMaxIdleConns(idle)
	db.SetConnMaxLifetime(lifetime)

	return &DB{db}, nil
}

func poolLimits(cfg config.DatabaseConfig) (open, idle int, lifetime time.Duration) {
	open = cfg.MaxOpenConns
	if open <= 0 {
		open = defaultMaxOpenConns
	}
	idle = cfg.MaxIdleConns
	if idle <= 0 {
		idle = defaultMaxIdleConns
	}
	minutes := cfg.ConnMaxLifetimeMinutes
	if minutes <= 0 {
		minutes = defaultConnLifetimeMinutes
	}
	return open, idle, time.Duration(minutes) * time.Minute
}

// Close closes the database connection
func (db *DB) Close() error {
	return db.DB.Close()
}

// GetDSN returns the connection string (also used by migrations)
func GetDSN(cfg config.DatabaseConfig) string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		cfg.User, cfg.Password, cfg.Host, cfg.Port, cfg.Database, cfg.SSLMode)
}
