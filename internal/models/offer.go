package models

// Offer is a priced, stocked candidate product bundle considered for
// up-sell/cross-sell suggestion. Single products are represented as
// one-product offers.
type Offer struct {
	ComboID  string   `json:"combo_id"`
	Products []string `json:"products"`
	Stock    int      `json:"stock"`
	Price    float64  `json:"price"`
}
