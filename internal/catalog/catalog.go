// Package catalog adapts the read-only product list into candidate offers
// for the sales flow.
package catalog

import (
	"context"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/vieroc/vieroc-backend/internal/models"
	"github.com/vieroc/vieroc-backend/internal/repository"
)

const maxCatalogProducts = 50

// demoOffers back the sales flow when the database catalog is disabled or
// empty, so a fresh install can hold a full conversation.
var demoOffers = []models.Offer{
	{ComboID: "DEMO-01", Products: []string{"áo thun basic"}, Stock: 10, Price: 199000},
	{ComboID: "DEMO-02", Products: []string{"áo sơ mi"}, Stock: 5, Price: 349000},
	{ComboID: "DEMO-03", Products: []string{"áo hoodie"}, Stock: 12, Price: 499000},
}

// Source builds the candidate offer list for one shop.
type Source struct {
	products repository.ProductRepository
	shopID   uuid.UUID
	useDB    bool
	logger   *logrus.Logger
}

// NewSource creates a catalog source. When useDB is false, or the shop id is
// not a valid UUID, only the demo offers are served.
func NewSource(products repository.ProductRepository, shopID string, useDB bool, logger *logrus.Logger) *Source {
	if logger == nil {
		logger = logrus.New()
	}

	id, err := uuid.Parse(shopID)
	if err != nil {
		if useDB {
			logger.WithField("shop_id", shopID).Warn("invalid shop id, falling back to demo catalog")
		}
		useDB = false
	}

	return &Source{
		products: products,
		shopID:   id,
		useDB:    useDB,
		logger:   logger,
	}
}

// Offers returns the candidate offers. It never fails: a catalog read error
// or an empty shop degrades to the demo offers.
func (s *Source) Offers(ctx context.Context) []models.Offer {
	if !s.useDB || s.products == nil {
		return demoOffers
	}

	products, err := s.products.ListByShop(ctx, s.shopID, maxCatalogProducts)
	if err != nil {
		s.logger.WithError(err).Warn("failed to load catalog, serving demo offers")
		return demoOffers
	}
	if len(products) == 0 {
		return demoOffers
	}

	offers := make([]models.Offer, 0, len(products))
	for _, p := range products {
		offers = append(offers, productOffer(p))
	}
	return offers
}

// productOffer maps one catalog product to a single-product offer. The SKU
// doubles as the combo id when present.
func productOffer(p repository.Product) models.Offer {
	id := p.ID.String()
	if p.SKU.Valid && p.SKU.String != "" {
		id = p.SKU.String
	}
	return models.Offer{
		ComboID:  id,
		Products: []string{p.Name},
		Stock:    p.StockQuantity,
		Price:    p.Price,
	}
}
