package order

import (
	"time"

	"github.com/shopspring/decimal"
)

// Order lifecycle statuses.
const (
	StatusPending    = "pending"
	StatusConfirmed  = "confirmed"
	StatusProcessing = "processing"
	StatusShipped    = "shipped"
	StatusDelivered  = "delivered"
	StatusCancelled  = "cancelled"
	StatusRefunded   = "refunded"
)

// Payment statuses carried on the order. These only move through payment
// events, never directly.
const (
	PaymentStatusPending           = "pending"
	PaymentStatusPaid              = "paid"
	PaymentStatusFailed            = "failed"
	PaymentStatusRefunded          = "refunded"
	PaymentStatusPartiallyRefunded = "partially_refunded"
)

type Order struct {
	ID            int64           `gorm:"primaryKey"`
	UserID        int64           `gorm:"column:user_id;not null;index"`
	OrderNumber   string          `gorm:"column:order_number;size:20;uniqueIndex;not null"`
	Status        string          `gorm:"column:status;default:pending"`
	PaymentStatus string          `gorm:"column:payment_status;default:pending"`
	Currency      string          `gorm:"column:currency;size:3;not null"`
	Subtotal      decimal.Decimal `gorm:"column:subtotal;type:numeric(10,2);not null"`
	ShippingCost  decimal.Decimal `gorm:"column:shipping_cost;type:numeric(10,2);not null"`
	TaxAmount     decimal.Decimal `gorm:"column:tax_amount;type:numeric(10,2);not null"`
	Total         decimal.Decimal `gorm:"column:total;type:numeric(10,2);not null"`

	ShippingName    string `gorm:"column:shipping_name"`
	ShippingAddress string `gorm:"column:shipping_address"`
	ShippingCity    string `gorm:"column:shipping_city"`
	ShippingCountry string `gorm:"column:shipping_country"`
	ShippingPhone   string `gorm:"column:shipping_phone;size:20"`

	Items []OrderItem `gorm:"foreignKey:OrderID"`

	PaidAt      *time.Time `gorm:"column:paid_at"`
	ShippedAt   *time.Time `gorm:"column:shipped_at"`
	DeliveredAt *time.Time `gorm:"column:delivered_at"`
	CreatedAt   time.Time  `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt   time.Time  `gorm:"column:updated_at;autoUpdateTime"`
}

// Payable reports whether a new payment attempt may start for this order.
// A paid order never accepts another attempt; a failed one may retry.
func (o *Order) Payable() bool {
	if o.Status != StatusPending && o.Status != StatusConfirmed {
		return false
	}
	return o.PaymentStatus == PaymentStatusPending || o.PaymentStatus == PaymentStatusFailed
}

// Cancellable reports whether the order may still be cancelled by the buyer.
func (o *Order) Cancellable() bool {
	return o.Status == StatusPending || o.Status == StatusConfirmed
}

type OrderItem struct {
	ID        int64           `gorm:"primaryKey"`
	OrderID   int64           `gorm:"column:order_id;not null;index"`
	ProductID int64           `gorm:"column:product_id;not null"`
	VariantID *int64          `gorm:"column:variant_id"`
	Quantity  int             `gorm:"column:quantity;not null"`
	Price     decimal.Decimal `gorm:"column:price;type:numeric(10,2);not null"`
	CreatedAt time.Time       `gorm:"column:created_at;autoCreateTime"`
}

// TotalPrice is the line total for the item.
func (i *OrderItem) TotalPrice() decimal.Decimal {
	return i.Price.Mul(decimal.NewFromInt(int64(i.Quantity)))
}
