package payment

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	ordermodel "github.com/sokocart/sokocart/internal/core/datamodel/order"
	paymentmodel "github.com/sokocart/sokocart/internal/core/datamodel/payment"
)

// Repository is the ledger store. Payments, refunds, transactions and
// mobile money rows live behind it, together with the order columns that
// must move in the same commit as a payment transition.
type Repository interface {
	// Transact runs fn inside one database transaction. The repository
	// passed to fn is bound to that transaction; GetPaymentForUpdate is
	// only meaningful there.
	Transact(fn func(tx Repository) error) error

	CreatePayment(p *paymentmodel.Payment) error
	GetPaymentByID(id string) (*paymentmodel.Payment, error)
	// GetPaymentForUpdate locks the payment row for the duration of the
	// surrounding transaction so concurrent transitions serialize.
	GetPaymentForUpdate(id string) (*paymentmodel.Payment, error)
	GetPaymentByProviderRef(ref string) (*paymentmodel.Payment, error)
	// GetActivePaymentForOrder returns the newest pending or processing
	// payment for the order, or nil when none is in flight.
	GetActivePaymentForOrder(orderID int64) (*paymentmodel.Payment, error)
	GetPaymentsByOrderID(orderID int64) ([]*paymentmodel.Payment, error)
	UpdatePayment(p *paymentmodel.Payment) error
	// ListProcessingOlderThan feeds the reconciliation sweep.
	ListProcessingOlderThan(cutoff time.Time) ([]*paymentmodel.Payment, error)

	CreateTransaction(t *paymentmodel.Transaction) error
	ListTransactions(paymentID string) ([]*paymentmodel.Transaction, error)

	CreateRefund(r *paymentmodel.Refund) error
	UpdateRefund(r *paymentmodel.Refund) error
	SumCompletedRefunds(paymentID string) (decimal.Decimal, error)

	CreateMpesaTransaction(t *paymentmodel.MpesaTransaction) error
	UpdateMpesaTransaction(t *paymentmodel.MpesaTransaction) error
	GetMpesaByCheckoutID(checkoutRequestID string) (*paymentmodel.MpesaTransaction, error)
	GetMpesaByPaymentID(paymentID string) (*paymentmodel.MpesaTransaction, error)

	SaveCallback(cb *paymentmodel.MpesaCallback) error
	LinkCallback(callbackID, mpesaTransactionID int64) error

	GetOrderByID(id int64) (*ordermodel.Order, error)
	UpdateOrderPayment(orderID int64, status, paymentStatus string, paidAt *time.Time) error
	// ConfirmOrderPayment marks the order confirmed and paid, but only while
	// it is still pending or confirmed. A cancelled order is never revived;
	// the return value reports whether the order actually moved.
	ConfirmOrderPayment(orderID int64, paidAt time.Time) (bool, error)
}

// ServiceAPI is what the HTTP handlers depend on.
type ServiceAPI interface {
	InitiatePayment(ctx context.Context, req *InitiatePaymentRequest) (*PaymentResponse, error)
	InitiateMpesaPayment(ctx context.Context, req *InitiateMpesaRequest) (*MpesaPaymentResponse, error)
	ConfirmPayment(ctx context.Context, paymentID string) (*PaymentResponse, error)
	CancelPayment(ctx context.Context, paymentID string) error
	GetPaymentStatus(ctx context.Context, paymentID string) (*PaymentStatusResponse, error)
	RequestRefund(ctx context.Context, paymentID string, req *RefundRequest) (*RefundResponse, error)
	QueryMpesaStatus(ctx context.Context, paymentID string) (*PaymentStatusResponse, error)

	HandleCardWebhook(ctx context.Context, raw []byte, signature string) error
	HandleMpesaCallback(ctx context.Context, raw []byte) error
}
