package analytics

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// StatusBreakdown is one row of the sales summary, grouped by order status.
type StatusBreakdown struct {
	Status  string          `json:"status"`
	Orders  int             `json:"orders"`
	Revenue decimal.Decimal `json:"revenue"`
}

// MethodBreakdown groups completed payment volume by provider.
type MethodBreakdown struct {
	Provider string          `json:"provider"`
	Payments int             `json:"payments"`
	Volume   decimal.Decimal `json:"volume"`
}

// TopProduct is a best-seller row over the reporting window.
type TopProduct struct {
	ProductID int64           `json:"product_id"`
	Name      string          `json:"name"`
	Units     int             `json:"units"`
	Revenue   decimal.Decimal `json:"revenue"`
}

// Repository runs the read-only reporting queries.
type Repository interface {
	OrdersByStatus(from, to time.Time) ([]StatusBreakdown, error)
	PaymentsByProvider(from, to time.Time) ([]MethodBreakdown, error)
	TopProducts(from, to time.Time, limit int) ([]TopProduct, error)
	RefundVolume(from, to time.Time) (decimal.Decimal, int, error)
}

type ServiceAPI interface {
	SalesSummary(ctx context.Context, from, to time.Time) (*SalesSummaryResponse, error)
	PaymentBreakdown(ctx context.Context, from, to time.Time) (*PaymentBreakdownResponse, error)
}
