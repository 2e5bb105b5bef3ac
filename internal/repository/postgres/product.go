package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/vieroc/vieroc-backend/internal/repository"
)

// ProductRepository implements repository.ProductRepository using PostgreSQL
type ProductRepository struct {
	db *sqlx.DB
}

// NewProductRepository creates a new PostgreSQL product repository
func NewProductRepository(db *sqlx.DB) repository.ProductRepository {
	return &ProductRepository{db: db}
}

// ListByShop returns the products for a shop, ordered by name
func (r *ProductRepository) ListByShop(ctx context.Context, shopID uuid.UUID, limit int) ([]repository.Product, error) {
	var products []repository.Product
	query := `
		SELECT id, shop_id, name, sku, price, stock_quantity, description
		FROM products
		WHERE shop_id = $1
		ORDER BY name ASC
		LIMIT $2
	`

	if err := r.db.SelectContext(ctx, &products, query, shopID, limit); err != nil {
		return nil, fmt.Errorf("failed to list products: %w", err)
	}

	return products, nil
}
