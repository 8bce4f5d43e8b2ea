package payment

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// Payment statuses. Completed, failed and cancelled are terminal for the
// collection flow; refunded/partially_refunded only follow completed.
const (
	StatusPending           = "pending"
	StatusProcessing        = "processing"
	StatusCompleted         = "completed"
	StatusFailed            = "failed"
	StatusCancelled         = "cancelled"
	StatusRefunded          = "refunded"
	StatusPartiallyRefunded = "partially_refunded"
)

// Payment providers (rails).
const (
	ProviderCard  = "card"
	ProviderMpesa = "mpesa"
)

type Payment struct {
	ID                   string          `gorm:"primaryKey;type:uuid"`
	OrderID              int64           `gorm:"column:order_id;not null;index;index:idx_payments_active_order,unique,where:status = 'pending' OR status = 'processing'"`
	Amount               decimal.Decimal `gorm:"column:amount;type:numeric(10,2);not null"`
	Currency             string          `gorm:"column:currency;size:3;not null"`
	Provider             string          `gorm:"column:provider;not null"`
	Status               string          `gorm:"column:status;default:pending"`
	ProviderPaymentID    string          `gorm:"column:provider_payment_id;index"`
	ProviderClientSecret string          `gorm:"column:provider_client_secret"`
	ErrorCode            *string         `gorm:"column:error_code"`
	ErrorMessage         *string         `gorm:"column:error_message"`
	ProcessedAt          *time.Time      `gorm:"column:processed_at"`
	CreatedAt            time.Time       `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt            time.Time       `gorm:"column:updated_at;autoUpdateTime"`
}

// IsTerminal reports whether no further collection transition is permitted.
// Refund bookkeeping may still move a completed payment to refunded states.
func (p *Payment) IsTerminal() bool {
	switch p.Status {
	case StatusCompleted, StatusFailed, StatusCancelled, StatusRefunded, StatusPartiallyRefunded:
		return true
	}
	return false
}

// Cancellable reports whether the payment may still be cancelled locally.
func (p *Payment) Cancellable() bool {
	return p.Status == StatusPending || p.Status == StatusProcessing
}

// Refund statuses.
const (
	RefundStatusPending    = "pending"
	RefundStatusProcessing = "processing"
	RefundStatusCompleted  = "completed"
	RefundStatusFailed     = "failed"
	RefundStatusCancelled  = "cancelled"
)

type Refund struct {
	ID               string          `gorm:"primaryKey;type:uuid"`
	PaymentID        string          `gorm:"column:payment_id;type:uuid;not null;index"`
	Amount           decimal.Decimal `gorm:"column:amount;type:numeric(10,2);not null"`
	Reason           string          `gorm:"column:reason"`
	Status           string          `gorm:"column:status;default:pending"`
	ProviderRefundID string          `gorm:"column:provider_refund_id"`
	CreatedAt        time.Time       `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt        time.Time       `gorm:"column:updated_at;autoUpdateTime"`
}

// Transaction types. One row is written per gateway interaction and rows are
// never updated afterwards.
const (
	TransactionTypePayment       = "payment"
	TransactionTypeRefund        = "refund"
	TransactionTypeAuthorization = "authorization"
	TransactionTypeCapture       = "capture"
	TransactionTypeVoid          = "void"
)

type Transaction struct {
	ID                    int64           `gorm:"primaryKey"`
	PaymentID             string          `gorm:"column:payment_id;type:uuid;not null;index"`
	Type                  string          `gorm:"column:type;not null"`
	Amount                decimal.Decimal `gorm:"column:amount;type:numeric(10,2);not null"`
	Currency              string          `gorm:"column:currency;size:3;not null"`
	ProviderTransactionID string          `gorm:"column:provider_transaction_id"`
	ProviderData          json.RawMessage `gorm:"column:provider_data;type:jsonb"`
	Success               bool            `gorm:"column:success;default:false"`
	ErrorMessage          string          `gorm:"column:error_message"`
	CreatedAt             time.Time       `gorm:"column:created_at;autoCreateTime"`
}

// Mobile money transaction statuses.
const (
	MpesaStatusRequested  = "requested"
	MpesaStatusPending    = "pending"
	MpesaStatusSuccessful = "successful"
	MpesaStatusFailed     = "failed"
	MpesaStatusCancelled  = "cancelled"
)

// MpesaResultSuccess is the Daraja result code reported for a completed
// STK push.
const MpesaResultSuccess = 0

type MpesaTransaction struct {
	ID                int64           `gorm:"primaryKey"`
	PaymentID         string          `gorm:"column:payment_id;type:uuid;not null;uniqueIndex"`
	PhoneNumber       string          `gorm:"column:phone_number;size:15;not null"`
	Amount            decimal.Decimal `gorm:"column:amount;type:numeric(10,2);not null"`
	MpesaReceipt      string          `gorm:"column:mpesa_receipt;size:50"`
	MerchantRequestID string          `gorm:"column:merchant_request_id;size:50"`
	CheckoutRequestID string          `gorm:"column:checkout_request_id;size:50;index:idx_mpesa_transactions_checkout_request_id,unique,where:checkout_request_id <> ''"`
	ResultCode        *int            `gorm:"column:result_code"`
	ResultDescription string          `gorm:"column:result_description"`
	Status            string          `gorm:"column:status;default:requested"`
	CompletedAt       *time.Time      `gorm:"column:completed_at"`
	CreatedAt         time.Time       `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt         time.Time       `gorm:"column:updated_at;autoUpdateTime"`
}

func (t *MpesaTransaction) IsTerminal() bool {
	switch t.Status {
	case MpesaStatusSuccessful, MpesaStatusFailed, MpesaStatusCancelled:
		return true
	}
	return false
}

// MpesaCallback keeps every raw callback payload for audit and replay
// debugging. TransactionID is nil when the payload could not be matched.
type MpesaCallback struct {
	ID            int64           `gorm:"primaryKey"`
	TransactionID *int64          `gorm:"column:transaction_id;index"`
	CallbackData  json.RawMessage `gorm:"column:callback_data;type:jsonb;not null"`
	ReceivedAt    time.Time       `gorm:"column:received_at;autoCreateTime"`
}
