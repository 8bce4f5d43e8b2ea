package gateway

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/shopspring/decimal"
	paymentmodel "github.com/sokocart/sokocart/internal/core/datamodel/payment"
)

// Sentinel error kinds for provider interactions. Callers classify with
// errors.Is and must not inspect provider messages.
var (
	// ErrUnavailable covers network failures and timeouts. Retryable: the
	// payment stays in its last non-terminal state.
	ErrUnavailable = errors.New("payment gateway unavailable")

	// ErrRejected is a provider-side decline or validation failure. Terminal.
	ErrRejected = errors.New("payment gateway rejected request")

	// ErrInsufficientCapture rejects a refund larger than the capturable
	// amount remaining on the provider side.
	ErrInsufficientCapture = errors.New("refund amount exceeds capturable amount")

	// ErrMalformedCallback means the payload lacks a correlation id. The raw
	// payload must still be persisted by the caller before rejecting.
	ErrMalformedCallback = errors.New("malformed callback payload")
)

// Intent is the provider-side handle for an in-progress payment attempt.
type Intent struct {
	ProviderRef  string
	ClientSecret string
	// Reused is true when an already-issued provider ref was returned
	// instead of creating a new intent.
	Reused bool
	Raw    json.RawMessage
}

// ConfirmResult reports the terminal outcome of a synchronous confirmation.
type ConfirmResult struct {
	Succeeded             bool
	ProviderTransactionID string
	ErrorCode             string
	ErrorMessage          string
	Raw                   json.RawMessage
}

type RefundResult struct {
	ProviderRef string
	Succeeded   bool
	Raw         json.RawMessage
}

// CallbackResult is the parsed, rail-neutral view of an asynchronous
// provider notification.
type CallbackResult struct {
	// CorrelationID matches the notification to its originating payment:
	// checkout request id for mobile money, provider payment id for cards.
	CorrelationID     string
	ResultCode        int
	ResultDescription string
	// Amount as reported by the provider. Audit field only; the requested
	// amount stays authoritative.
	Amount        *decimal.Decimal
	ExternalTxnID string
	PhoneNumber   string
}

// Succeeded reports whether the provider outcome is the success sentinel.
func (r *CallbackResult) Succeeded() bool {
	return r.ResultCode == paymentmodel.MpesaResultSuccess
}

// Refunder returns funds against a captured payment. capturable is the
// amount still refundable according to the local ledger.
type Refunder interface {
	Refund(ctx context.Context, r *paymentmodel.Refund, p *paymentmodel.Payment, capturable decimal.Decimal) (*RefundResult, error)
}

// CardGateway is the synchronous rail: Confirm returns a terminal status
// immediately, and out-of-band webhooks may still arrive later.
type CardGateway interface {
	Refunder

	// CreateIntent registers a payment attempt with the provider. Must be
	// idempotent per payment id: when the payment already carries a provider
	// ref the stored handle is returned with Reused set.
	CreateIntent(ctx context.Context, p *paymentmodel.Payment) (*Intent, error)

	Confirm(ctx context.Context, p *paymentmodel.Payment) (*ConfirmResult, error)

	// ParseWebhook validates and decodes a provider webhook body.
	ParseWebhook(raw []byte, signature string) (*CallbackResult, error)
}

// PushRequest describes a mobile money push to a subscriber handset.
type PushRequest struct {
	PhoneNumber      string
	Amount           decimal.Decimal
	AccountReference string
	Description      string
}

// PushResult is only an acknowledgement; the terminal outcome arrives later
// through the callback endpoint.
type PushResult struct {
	MerchantRequestID string
	CheckoutRequestID string
	CustomerMessage   string
	Raw               json.RawMessage
}

// MobileMoneyGateway is the asynchronous rail: a push returns only an
// acknowledgement and the terminal outcome arrives via callback.
type MobileMoneyGateway interface {
	Refunder

	STKPush(ctx context.Context, req PushRequest) (*PushResult, error)

	ParseCallback(raw []byte) (*CallbackResult, error)

	// QueryStatus asks the provider for the current state of a push,
	// used to reconcile payments stuck in processing.
	QueryStatus(ctx context.Context, checkoutRequestID string) (*CallbackResult, error)
}
