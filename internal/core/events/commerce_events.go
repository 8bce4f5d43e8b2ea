package events

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	EventTypeOrderCreated     = "order.created"
	EventTypeOrderCancelled   = "order.cancelled"
	EventTypePaymentCompleted = "payment.completed"
	EventTypePaymentFailed    = "payment.failed"
	EventTypeRefundCompleted  = "refund.completed"
)

// StockAdjustment describes one variant quantity delta carried on order
// lifecycle events. Positive Quantity means stock is returned.
type StockAdjustment struct {
	VariantID int64 `json:"variant_id"`
	Quantity  int   `json:"quantity"`
}

type OrderCreatedEvent struct {
	BaseEvent
	OrderID     int64             `json:"order_id"`
	OrderNumber string            `json:"order_number"`
	UserID      int64             `json:"user_id"`
	Total       decimal.Decimal   `json:"total"`
	Currency    string            `json:"currency"`
	Adjustments []StockAdjustment `json:"adjustments"`
}

func NewOrderCreatedEvent(orderID int64, orderNumber string, userID int64, total decimal.Decimal, currency string, adjustments []StockAdjustment) *OrderCreatedEvent {
	return &OrderCreatedEvent{
		BaseEvent: BaseEvent{
			ID:        uuid.New().String(),
			Type:      EventTypeOrderCreated,
			Timestamp: time.Now(),
			Data: map[string]interface{}{
				"order_id":     orderID,
				"order_number": orderNumber,
				"user_id":      userID,
				"total":        total.String(),
				"currency":     currency,
			},
		},
		OrderID:     orderID,
		OrderNumber: orderNumber,
		UserID:      userID,
		Total:       total,
		Currency:    currency,
		Adjustments: adjustments,
	}
}

type OrderCancelledEvent struct {
	BaseEvent
	OrderID     int64             `json:"order_id"`
	OrderNumber string            `json:"order_number"`
	Adjustments []StockAdjustment `json:"adjustments"`
}

func NewOrderCancelledEvent(orderID int64, orderNumber string, adjustments []StockAdjustment) *OrderCancelledEvent {
	return &OrderCancelledEvent{
		BaseEvent: BaseEvent{
			ID:        uuid.New().String(),
			Type:      EventTypeOrderCancelled,
			Timestamp: time.Now(),
			Data: map[string]interface{}{
				"order_id":     orderID,
				"order_number": orderNumber,
			},
		},
		OrderID:     orderID,
		OrderNumber: orderNumber,
		Adjustments: adjustments,
	}
}

type PaymentCompletedEvent struct {
	BaseEvent
	PaymentID         string          `json:"payment_id"`
	OrderID           int64           `json:"order_id"`
	Provider          string          `json:"provider"`
	Amount            decimal.Decimal `json:"amount"`
	Currency          string          `json:"currency"`
	ProviderPaymentID string          `json:"provider_payment_id"`
}

func NewPaymentCompletedEvent(paymentID string, orderID int64, provider string, amount decimal.Decimal, currency, providerPaymentID string) *PaymentCompletedEvent {
	return &PaymentCompletedEvent{
		BaseEvent: BaseEvent{
			ID:        uuid.New().String(),
			Type:      EventTypePaymentCompleted,
			Timestamp: time.Now(),
			Data: map[string]interface{}{
				"payment_id":          paymentID,
				"order_id":            orderID,
				"provider":            provider,
				"amount":              amount.String(),
				"currency":            currency,
				"provider_payment_id": providerPaymentID,
			},
		},
		PaymentID:         paymentID,
		OrderID:           orderID,
		Provider:          provider,
		Amount:            amount,
		Currency:          currency,
		ProviderPaymentID: providerPaymentID,
	}
}

type PaymentFailedEvent struct {
	BaseEvent
	PaymentID    string          `json:"payment_id"`
	OrderID      int64           `json:"order_id"`
	Provider     string          `json:"provider"`
	Amount       decimal.Decimal `json:"amount"`
	ErrorMessage string          `json:"error_message"`
}

func NewPaymentFailedEvent(paymentID string, orderID int64, provider string, amount decimal.Decimal, errorMessage string) *PaymentFailedEvent {
	return &PaymentFailedEvent{
		BaseEvent: BaseEvent{
			ID:        uuid.New().String(),
			Type:      EventTypePaymentFailed,
			Timestamp: time.Now(),
			Data: map[string]interface{}{
				"payment_id":    paymentID,
				"order_id":      orderID,
				"provider":      provider,
				"amount":        amount.String(),
				"error_message": errorMessage,
			},
		},
		PaymentID:    paymentID,
		OrderID:      orderID,
		Provider:     provider,
		Amount:       amount,
		ErrorMessage: errorMessage,
	}
}

type RefundCompletedEvent struct {
	BaseEvent
	RefundID  string          `json:"refund_id"`
	PaymentID string          `json:"payment_id"`
	OrderID   int64           `json:"order_id"`
	Amount    decimal.Decimal `json:"amount"`
}

func NewRefundCompletedEvent(refundID, paymentID string, orderID int64, amount decimal.Decimal) *RefundCompletedEvent {
	return &RefundCompletedEvent{
		BaseEvent: BaseEvent{
			ID:        uuid.New().String(),
			Type:      EventTypeRefundCompleted,
			Timestamp: time.Now(),
			Data: map[string]interface{}{
				"refund_id":  refundID,
				"payment_id": paymentID,
				"order_id":   orderID,
				"amount":     amount.String(),
			},
		},
		RefundID:  refundID,
		PaymentID: paymentID,
		OrderID:   orderID,
		Amount:    amount,
	}
}
