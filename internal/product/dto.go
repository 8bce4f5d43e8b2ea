package product

import (
	"time"

	"github.com/shopspring/decimal"
	productmodel "github.com/sokocart/sokocart/internal/core/datamodel/product"
)

type VariantResponse struct {
	ID            int64  `json:"id"`
	SKU           string `json:"sku"`
	Name          string `json:"name,omitempty"`
	StockQuantity int    `json:"stock_quantity"`
	InStock       bool   `json:"in_stock"`
}

type ProductResponse struct {
	ID            int64             `json:"id"`
	Name          string            `json:"name"`
	Slug          string            `json:"slug"`
	Description   string            `json:"description,omitempty"`
	Price         decimal.Decimal   `json:"price"`
	Currency      string            `json:"currency"`
	RatingAverage decimal.Decimal   `json:"rating_average"`
	RatingCount   int               `json:"rating_count"`
	Variants      []VariantResponse `json:"variants"`
	CreatedAt     time.Time         `json:"created_at"`
}

func toProductResponse(p *productmodel.Product) *ProductResponse {
	resp := &ProductResponse{
		ID:            p.ID,
		Name:          p.Name,
		Slug:          p.Slug,
		Description:   p.Description,
		Price:         p.Price,
		Currency:      p.Currency,
		RatingAverage: p.RatingAverage,
		RatingCount:   p.RatingCount,
		Variants:      make([]VariantResponse, 0, len(p.Variants)),
		CreatedAt:     p.CreatedAt,
	}
	for _, v := range p.Variants {
		resp.Variants = append(resp.Variants, VariantResponse{
			ID:            v.ID,
			SKU:           v.SKU,
			Name:          v.Name,
			StockQuantity: v.StockQuantity,
			InStock:       v.StockQuantity > 0,
		})
	}
	return resp
}
