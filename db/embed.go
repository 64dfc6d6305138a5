// Package db embeds the database schema and the demo catalog.
package db

import (
	_ "embed"
	"encoding/json"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/kart-orders/internal/domain/product"
)

// Schema creates the products, orders, status history, audit, cart and API
// key tables. Every statement is idempotent.
//
//go:embed migrations/001_schema.sql
var Schema string

//go:embed seed/products.json
var seedProducts []byte

type productJSON struct {
	ID       string          `json:"id"`
	Name     string          `json:"name"`
	Price    decimal.Decimal `json:"price"`
	Category string          `json:"category"`
	Stock    int             `json:"stock"`
}

// SeedProducts returns the demo catalog.
func SeedProducts() ([]product.Product, error) {
	return ParseProducts(seedProducts)
}

// ParseProducts decodes a JSON product list in the seed file format.
func ParseProducts(data []byte) ([]product.Product, error) {
	var raw []productJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, errors.Wrap(err, "parse products JSON")
	}
	out := make([]product.Product, len(raw))
	for i, p := range raw {
		if p.ID == "" {
			return nil, errors.Errorf("product %d: missing id", i)
		}
		if p.Stock < 0 {
			return nil, errors.Errorf("product %s: negative stock", p.ID)
		}
		out[i] = product.Product{
			ID:       p.ID,
			Name:     p.Name,
			Price:    p.Price,
			Category: p.Category,
			Stock:    p.Stock,
		}
	}
	return out, nil
}
