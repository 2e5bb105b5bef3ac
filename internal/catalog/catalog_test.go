package catalog

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vieroc/vieroc-backend/internal/repository"
)

type stubProducts struct {
	products []repository.Product
	err      error
}

func (s *stubProducts) ListByShop(_ context.Context, _ uuid.UUID, _ int) ([]repository.Product, error) {
	return s.products, s.err
}

const testShopID = "11111111-1111-1111-1111-111111111111"

func TestOffersFromDatabaseCatalog(t *testing.T) {
	products := &stubProducts{products: []repository.Product{
		{
			ID:            uuid.New(),
			Name:          "áo khoác dù",
			SKU:           sql.NullString{String: "AK-001", Valid: true},
			Price:         599000,
			StockQuantity: 7,
		},
		{
			ID:            uuid.MustParse("22222222-2222-2222-2222-222222222222"),
			Name:          "quần jean slim",
			Price:         459000,
			StockQuantity: 3,
		},
	}}

	source := NewSource(products, testShopID, true, nil)
	offers := source.Offers(context.Background())

	require.Len(t, offers, 2)
	assert.Equal(t, "AK-001", offers[0].ComboID)
	assert.Equal(t, []string{"áo khoác dù"}, offers[0].Products)
	assert.Equal(t, 599000.0, offers[0].Price)

	// Without a SKU the product id stands in as the combo id.
	assert.Equal(t, "22222222-2222-2222-2222-222222222222", offers[1].ComboID)
}

func TestOffersFallsBackToDemoCatalog(t *testing.T) {
	tests := []struct {
		name   string
		source *Source
	}{
		{
			name:   "db catalog disabled",
			source: NewSource(&stubProducts{}, testShopID, false, nil),
		},
		{
			name:   "empty shop",
			source: NewSource(&stubProducts{}, testShopID, true, nil),
		},
		{
			name:   "catalog read failure",
			source: NewSource(&stubProducts{err: errors.New("connection refused")}, testShopID, true, nil),
		},
		{
			name:   "invalid shop id",
			source: NewSource(&stubProducts{}, "not-a-uuid", true, nil),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			offers := tt.source.Offers(context.Background())
			require.Len(t, offers, 3)
			assert.Equal(t, "DEMO-01", offers[0].ComboID)
			assert.Equal(t, "DEMO-03", offers[2].ComboID)
			assert.Equal(t, 499000.0, offers[2].Price)
		})
	}
}
