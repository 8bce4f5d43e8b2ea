package payment

import (
	"time"

	"github.com/shopspring/decimal"
	errors "github.com/sokocart/sokocart/internal"
	"github.com/sokocart/sokocart/internal/core/common/validation"
	paymentmodel "github.com/sokocart/sokocart/internal/core/datamodel/payment"
)

// InitiatePaymentRequest starts a card payment for an order.
type InitiatePaymentRequest struct {
	OrderID int64 `json:"order_id"`
}

func (r *InitiatePaymentRequest) Validate() error {
	validator := validation.NewValidator()

	validator.Field("order_id", r.OrderID).Required()

	if appErr := validator.Validate(); appErr != nil {
		return appErr
	}
	return nil
}

// InitiateMpesaRequest starts an STK push to the buyer's handset.
type InitiateMpesaRequest struct {
	OrderID     int64  `json:"order_id"`
	PhoneNumber string `json:"phone_number"`
}

func (r *InitiateMpesaRequest) Validate() error {
	validator := validation.NewValidator()

	validator.Field("order_id", r.OrderID).Required()
	validator.Field("phone_number", r.PhoneNumber).Required()

	if appErr := validator.Validate(); appErr != nil {
		return appErr
	}
	return nil
}

type RefundRequest struct {
	Amount decimal.Decimal `json:"amount"`
	Reason string          `json:"reason"`
}

func (r *RefundRequest) Validate() error {
	validator := validation.NewValidator()

	validator.Field("amount", r.Amount).Required().PositiveAmount(errors.ErrCodeInvalidAmount)
	validator.Field("reason", r.Reason).MaxLength(255)

	if appErr := validator.Validate(); appErr != nil {
		return appErr
	}
	return nil
}

type PaymentResponse struct {
	ID           string          `json:"id"`
	OrderID      int64           `json:"order_id"`
	Amount       decimal.Decimal `json:"amount"`
	Currency     string          `json:"currency"`
	Provider     string          `json:"provider"`
	Status       string          `json:"status"`
	ClientSecret string          `json:"client_secret,omitempty"`
	ErrorCode    *string         `json:"error_code,omitempty"`
	ErrorMessage *string         `json:"error_message,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
}

func toPaymentResponse(p *paymentmodel.Payment) *PaymentResponse {
	return &PaymentResponse{
		ID:           p.ID,
		OrderID:      p.OrderID,
		Amount:       p.Amount,
		Currency:     p.Currency,
		Provider:     p.Provider,
		Status:       p.Status,
		ClientSecret: p.ProviderClientSecret,
		ErrorCode:    p.ErrorCode,
		ErrorMessage: p.ErrorMessage,
		CreatedAt:    p.CreatedAt,
	}
}

type MpesaPaymentResponse struct {
	PaymentID         string `json:"payment_id"`
	CheckoutRequestID string `json:"checkout_request_id"`
	CustomerMessage   string `json:"customer_message"`
	Status            string `json:"status"`
}

type TransactionResponse struct {
	ID                    int64           `json:"id"`
	Type                  string          `json:"type"`
	Amount                decimal.Decimal `json:"amount"`
	Currency              string          `json:"currency"`
	ProviderTransactionID string          `json:"provider_transaction_id,omitempty"`
	Success               bool            `json:"success"`
	CreatedAt             time.Time       `json:"created_at"`
}

// PaymentStatusResponse is the full ledger view of one payment.
type PaymentStatusResponse struct {
	Payment        *PaymentResponse      `json:"payment"`
	Transactions   []TransactionResponse `json:"transactions"`
	RefundedAmount decimal.Decimal       `json:"refunded_amount"`
	MpesaReceipt   string                `json:"mpesa_receipt,omitempty"`
	ProcessedAt    *time.Time            `json:"processed_at,omitempty"`
}

type RefundResponse struct {
	ID        string          `json:"id"`
	PaymentID string          `json:"payment_id"`
	Amount    decimal.Decimal `json:"amount"`
	Reason    string          `json:"reason,omitempty"`
	Status    string          `json:"status"`
	CreatedAt time.Time       `json:"created_at"`
}

func toRefundResponse(r *paymentmodel.Refund) *RefundResponse {
	return &RefundResponse{
		ID:        r.ID,
		PaymentID: r.PaymentID,
		Amount:    r.Amount,
		Reason:    r.Reason,
		Status:    r.Status,
		CreatedAt: r.CreatedAt,
	}
}
