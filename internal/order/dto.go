package order

import (
	"time"

	"github.com/shopspring/decimal"
	errors "github.com/sokocart/sokocart/internal"
	"github.com/sokocart/sokocart/internal/core/common/validation"
	ordermodel "github.com/sokocart/sokocart/internal/core/datamodel/order"
)

type CheckoutItem struct {
	ProductID int64 `json:"product_id"`
	VariantID int64 `json:"variant_id"`
	Quantity  int   `json:"quantity"`
}

type CheckoutRequest struct {
	Currency        string         `json:"currency"`
	Items           []CheckoutItem `json:"items"`
	ShippingName    string         `json:"shipping_name"`
	ShippingAddress string         `json:"shipping_address"`
	ShippingCity    string         `json:"shipping_city"`
	ShippingCountry string         `json:"shipping_country"`
	ShippingPhone   string         `json:"shipping_phone"`
}

func (r *CheckoutRequest) Validate() error {
	validator := validation.NewValidator()

	validator.Field("currency", r.Currency).Required().Currency()
	validator.Field("shipping_name", r.ShippingName).Required().MaxLength(100)
	validator.Field("shipping_address", r.ShippingAddress).Required().MaxLength(255)
	validator.Field("shipping_city", r.ShippingCity).Required().MaxLength(100)
	validator.Field("shipping_country", r.ShippingCountry).Required().MaxLength(100)

	if appErr := validator.Validate(); appErr != nil {
		return appErr
	}

	if len(r.Items) == 0 {
		return errors.NewValidationError("order must contain at least one item", errors.ErrCodeValidationFailed)
	}
	for _, item := range r.Items {
		if item.ProductID == 0 || item.VariantID == 0 {
			return errors.NewValidationError("each item needs a product and variant", errors.ErrCodeValidationFailed)
		}
		if item.Quantity <= 0 {
			return errors.NewValidationError("item quantity must be positive", errors.ErrCodeInvalidQuantity)
		}
	}
	return nil
}

type UpdateStatusRequest struct {
	Status string `json:"status"`
}

type OrderItemResponse struct {
	ID        int64           `json:"id"`
	ProductID int64           `json:"product_id"`
	VariantID *int64          `json:"variant_id,omitempty"`
	Quantity  int             `json:"quantity"`
	Price     decimal.Decimal `json:"price"`
	Total     decimal.Decimal `json:"total"`
}

type OrderResponse struct {
	ID            int64               `json:"id"`
	OrderNumber   string              `json:"order_number"`
	Status        string              `json:"status"`
	PaymentStatus string              `json:"payment_status"`
	Currency      string              `json:"currency"`
	Subtotal      decimal.Decimal     `json:"subtotal"`
	ShippingCost  decimal.Decimal     `json:"shipping_cost"`
	TaxAmount     decimal.Decimal     `json:"tax_amount"`
	Total         decimal.Decimal     `json:"total"`
	Items         []OrderItemResponse `json:"items"`
	PaidAt        *time.Time          `json:"paid_at,omitempty"`
	ShippedAt     *time.Time          `json:"shipped_at,omitempty"`
	DeliveredAt   *time.Time          `json:"delivered_at,omitempty"`
	CreatedAt     time.Time           `json:"created_at"`
}

func toOrderResponse(o *ordermodel.Order) *OrderResponse {
	resp := &OrderResponse{
		ID:            o.ID,
		OrderNumber:   o.OrderNumber,
		Status:        o.Status,
		PaymentStatus: o.PaymentStatus,
		Currency:      o.Currency,
		Subtotal:      o.Subtotal,
		ShippingCost:  o.ShippingCost,
		TaxAmount:     o.TaxAmount,
		Total:         o.Total,
		Items:         make([]OrderItemResponse, 0, len(o.Items)),
		PaidAt:        o.PaidAt,
		ShippedAt:     o.ShippedAt,
		DeliveredAt:   o.DeliveredAt,
		CreatedAt:     o.CreatedAt,
	}
	for _, item := range o.Items {
		resp.Items = append(resp.Items, OrderItemResponse{
			ID:        item.ID,
			ProductID: item.ProductID,
			VariantID: item.VariantID,
			Quantity:  item.Quantity,
			Price:     item.Price,
			Total:     item.TotalPrice(),
		})
	}
	return resp
}
