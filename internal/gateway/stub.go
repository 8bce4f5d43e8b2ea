package gateway

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	paymentmodel "github.com/sokocart/sokocart/internal/core/datamodel/payment"
)

// Stub is an in-memory provider used when payment.use_stub is enabled. It
// implements both rails with deterministic success and keeps issued refs so
// idempotent re-calls behave like the real providers.
type Stub struct {
	mu      sync.Mutex
	intents map[string]*Intent
	pushes  map[string]string
}

func NewStub() *Stub {
	return &Stub{
		intents: make(map[string]*Intent),
		pushes:  make(map[string]string),
	}
}

func (s *Stub) CreateIntent(_ context.Context, p *paymentmodel.Payment) (*Intent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if p.ProviderPaymentID != "" {
		return &Intent{
			ProviderRef:  p.ProviderPaymentID,
			ClientSecret: p.ProviderClientSecret,
			Reused:       true,
		}, nil
	}
	if existing, ok := s.intents[p.ID]; ok {
		reused := *existing
		reused.Reused = true
		return &reused, nil
	}

	intent := &Intent{
		ProviderRef:  "pi_stub_" + uuid.New().String(),
		ClientSecret: "secret_stub_" + uuid.New().String(),
	}
	s.intents[p.ID] = intent
	return intent, nil
}

func (s *Stub) Confirm(_ context.Context, p *paymentmodel.Payment) (*ConfirmResult, error) {
	if p.ProviderPaymentID == "" {
		return nil, fmt.Errorf("%w: no intent to confirm", ErrRejected)
	}
	return &ConfirmResult{
		Succeeded:             true,
		ProviderTransactionID: "txn_stub_" + uuid.New().String(),
	}, nil
}

func (s *Stub) ParseWebhook(raw []byte, signature string) (*CallbackResult, error) {
	real := &CardClient{}
	return real.ParseWebhook(raw, signature)
}

func (s *Stub) STKPush(_ context.Context, req PushRequest) (*PushResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	checkoutID := "ws_CO_stub_" + uuid.New().String()
	s.pushes[checkoutID] = req.PhoneNumber
	return &PushResult{
		MerchantRequestID: "mr_stub_" + uuid.New().String(),
		CheckoutRequestID: checkoutID,
		CustomerMessage:   "Success. Request accepted for processing",
	}, nil
}

func (s *Stub) ParseCallback(raw []byte) (*CallbackResult, error) {
	real := &MpesaClient{}
	return real.ParseCallback(raw)
}

// QueryStatus reports every known push as successful so reconciliation
// sweeps complete stuck payments in development.
func (s *Stub) QueryStatus(_ context.Context, checkoutRequestID string) (*CallbackResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.pushes[checkoutRequestID]; !ok {
		return nil, fmt.Errorf("%w: unknown checkout request", ErrRejected)
	}
	return &CallbackResult{
		CorrelationID:     checkoutRequestID,
		ResultCode:        paymentmodel.MpesaResultSuccess,
		ResultDescription: "The service request is processed successfully.",
		ExternalTxnID:     "STUB" + uuid.New().String()[:8],
	}, nil
}

func (s *Stub) Refund(_ context.Context, r *paymentmodel.Refund, _ *paymentmodel.Payment, capturable decimal.Decimal) (*RefundResult, error) {
	if r.Amount.GreaterThan(capturable) {
		return nil, fmt.Errorf("%w: requested %s, capturable %s", ErrInsufficientCapture, r.Amount, capturable)
	}
	return &RefundResult{
		ProviderRef: "re_stub_" + uuid.New().String(),
		Succeeded:   true,
	}, nil
}
