package order

import (
	"context"
	"time"

	ordermodel "github.com/sokocart/sokocart/internal/core/datamodel/order"
	productmodel "github.com/sokocart/sokocart/internal/core/datamodel/product"
	"github.com/sokocart/sokocart/internal/core/events"
)

// Repository defines the data access methods for orders.
type Repository interface {
	Transact(fn func(tx Repository) error) error
	Create(o *ordermodel.Order) error
	GetByID(id int64) (*ordermodel.Order, error)
	GetByOrderNumber(orderNumber string) (*ordermodel.Order, error)
	GetByUserID(userID int64, limit, offset int) ([]*ordermodel.Order, error)
	Update(o *ordermodel.Order) error
	UpdateStatus(id int64, status string, shippedAt, deliveredAt *time.Time) error
}

// CatalogAPI is what checkout needs from the product service.
type CatalogAPI interface {
	GetVariantForPurchase(productID, variantID int64) (*productmodel.Product, *productmodel.ProductVariant, error)
	AdjustStock(ctx context.Context, adjustments []events.StockAdjustment) error
}

type ServiceAPI interface {
	Checkout(ctx context.Context, userID int64, req *CheckoutRequest) (*OrderResponse, error)
	GetOrder(ctx context.Context, orderID, userID int64, isStaff bool) (*OrderResponse, error)
	ListUserOrders(ctx context.Context, userID int64, limit, offset int) ([]*OrderResponse, error)
	CancelOrder(ctx context.Context, orderID, userID int64) error
	UpdateOrderStatus(ctx context.Context, orderID int64, status string) (*OrderResponse, error)
}
