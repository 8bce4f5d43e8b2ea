package product

import (
	"context"

	"github.com/shopspring/decimal"
	productmodel "github.com/sokocart/sokocart/internal/core/datamodel/product"
	"github.com/sokocart/sokocart/internal/core/events"
)

// Repository defines the data access methods for the catalog.
type Repository interface {
	GetAll(limit, offset int) ([]*productmodel.Product, error)
	GetByID(id int64) (*productmodel.Product, error)
	GetBySlug(slug string) (*productmodel.Product, error)
	GetVariant(variantID int64) (*productmodel.ProductVariant, error)
	// AdjustStock applies delta atomically and fails when the result would
	// go negative.
	AdjustStock(variantID int64, delta int) error
	UpdateRating(productID int64, average decimal.Decimal, count int) error
}

type ServiceAPI interface {
	ListProducts(ctx context.Context, limit, offset int) ([]*ProductResponse, error)
	GetProduct(ctx context.Context, id int64) (*ProductResponse, error)
	GetVariantForPurchase(productID, variantID int64) (*productmodel.Product, *productmodel.ProductVariant, error)
	// AdjustStock applies the deltas in order. Negative quantities consume
	// stock, positive quantities restore it.
	AdjustStock(ctx context.Context, adjustments []events.StockAdjustment) error
	// UpdateRating overwrites the denormalized rating columns. Called by the
	// review service after a review is written.
	UpdateRating(ctx context.Context, productID int64, average decimal.Decimal, count int) error
}
