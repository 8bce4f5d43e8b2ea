package payment_test

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	apperrors "github.com/sokocart/sokocart/internal"
	ordermodel "github.com/sokocart/sokocart/internal/core/datamodel/order"
	paymentmodel "github.com/sokocart/sokocart/internal/core/datamodel/payment"
	"github.com/sokocart/sokocart/internal/core/events"
	"github.com/sokocart/sokocart/internal/gateway"
	"github.com/sokocart/sokocart/internal/payment"
	"gorm.io/gorm"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func TestPaymentService(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Payment Service Suite")
}

// mockStore holds shared state behind the mock repository. The mutex plays
// the role of the row lock: Transact holds it for the whole callback.
type mockStore struct {
	mu               sync.Mutex
	payments         map[string]*paymentmodel.Payment
	transactions     []*paymentmodel.Transaction
	refunds          map[string]*paymentmodel.Refund
	mpesa            map[string]*paymentmodel.MpesaTransaction
	callbacks        []*paymentmodel.MpesaCallback
	orders           map[int64]*ordermodel.Order
	nextID           int64
	createPaymentErr error
}

type MockRepository struct {
	store *mockStore
	inTx  bool
}

func NewMockRepository() *MockRepository {
	return &MockRepository{
		store: &mockStore{
			payments: make(map[string]*paymentmodel.Payment),
			refunds:  make(map[string]*paymentmodel.Refund),
			mpesa:    make(map[string]*paymentmodel.MpesaTransaction),
			orders:   make(map[int64]*ordermodel.Order),
		},
	}
}

func (m *MockRepository) lock() func() {
	if m.inTx {
		return func() {}
	}
	m.store.mu.Lock()
	return m.store.mu.Unlock
}

func (m *MockRepository) Transact(fn func(tx payment.Repository) error) error {
	m.store.mu.Lock()
	defer m.store.mu.Unlock()
	return fn(&MockRepository{store: m.store, inTx: true})
}

func (m *MockRepository) CreatePayment(p *paymentmodel.Payment) error {
	defer m.lock()()
	if m.store.createPaymentErr != nil {
		return m.store.createPaymentErr
	}
	cp := *p
	cp.CreatedAt = time.Now()
	m.store.payments[p.ID] = &cp
	return nil
}

func (m *MockRepository) GetPaymentByID(id string) (*paymentmodel.Payment, error) {
	defer m.lock()()
	p, ok := m.store.payments[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *MockRepository) GetPaymentForUpdate(id string) (*paymentmodel.Payment, error) {
	return m.GetPaymentByID(id)
}

func (m *MockRepository) GetPaymentByProviderRef(ref string) (*paymentmodel.Payment, error) {
	defer m.lock()()
	for _, p := range m.store.payments {
		if p.ProviderPaymentID == ref {
			cp := *p
			return &cp, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (m *MockRepository) GetActivePaymentForOrder(orderID int64) (*paymentmodel.Payment, error) {
	defer m.lock()()
	for _, p := range m.store.payments {
		if p.OrderID == orderID &&
			(p.Status == paymentmodel.StatusPending || p.Status == paymentmodel.StatusProcessing) {
			cp := *p
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *MockRepository) GetPaymentsByOrderID(orderID int64) ([]*paymentmodel.Payment, error) {
	defer m.lock()()
	var out []*paymentmodel.Payment
	for _, p := range m.store.payments {
		if p.OrderID == orderID {
			cp := *p
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *MockRepository) UpdatePayment(p *paymentmodel.Payment) error {
	defer m.lock()()
	cp := *p
	m.store.payments[p.ID] = &cp
	return nil
}

func (m *MockRepository) ListProcessingOlderThan(cutoff time.Time) ([]*paymentmodel.Payment, error) {
	defer m.lock()()
	var out []*paymentmodel.Payment
	for _, p := range m.store.payments {
		if p.Status == paymentmodel.StatusProcessing && p.UpdatedAt.Before(cutoff) {
			cp := *p
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *MockRepository) CreateTransaction(t *paymentmodel.Transaction) error {
	defer m.lock()()
	m.store.nextID++
	ct := *t
	ct.ID = m.store.nextID
	ct.CreatedAt = time.Now()
	m.store.transactions = append(m.store.transactions, &ct)
	return nil
}

func (m *MockRepository) ListTransactions(paymentID string) ([]*paymentmodel.Transaction, error) {
	defer m.lock()()
	var out []*paymentmodel.Transaction
	for _, t := range m.store.transactions {
		if t.PaymentID == paymentID {
			ct := *t
			out = append(out, &ct)
		}
	}
	return out, nil
}

func (m *MockRepository) CreateRefund(r *paymentmodel.Refund) error {
	defer m.lock()()
	cr := *r
	m.store.refunds[r.ID] = &cr
	return nil
}

func (m *MockRepository) UpdateRefund(r *paymentmodel.Refund) error {
	defer m.lock()()
	cr := *r
	m.store.refunds[r.ID] = &cr
	return nil
}

func (m *MockRepository) SumCompletedRefunds(paymentID string) (decimal.Decimal, error) {
	defer m.lock()()
	total := decimal.Zero
	for _, r := range m.store.refunds {
		if r.PaymentID == paymentID && r.Status == paymentmodel.RefundStatusCompleted {
			total = total.Add(r.Amount)
		}
	}
	return total, nil
}

func (m *MockRepository) CreateMpesaTransaction(t *paymentmodel.MpesaTransaction) error {
	defer m.lock()()
	m.store.nextID++
	ct := *t
	ct.ID = m.store.nextID
	m.store.mpesa[t.PaymentID] = &ct
	return nil
}

func (m *MockRepository) UpdateMpesaTransaction(t *paymentmodel.MpesaTransaction) error {
	defer m.lock()()
	ct := *t
	m.store.mpesa[t.PaymentID] = &ct
	return nil
}

func (m *MockRepository) GetMpesaByCheckoutID(checkoutRequestID string) (*paymentmodel.MpesaTransaction, error) {
	defer m.lock()()
	for _, t := range m.store.mpesa {
		if t.CheckoutRequestID == checkoutRequestID {
			ct := *t
			return &ct, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (m *MockRepository) GetMpesaByPaymentID(paymentID string) (*paymentmodel.MpesaTransaction, error) {
	defer m.lock()()
	t, ok := m.store.mpesa[paymentID]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	ct := *t
	return &ct, nil
}

func (m *MockRepository) SaveCallback(cb *paymentmodel.MpesaCallback) error {
	defer m.lock()()
	m.store.nextID++
	cb.ID = m.store.nextID
	stored := *cb
	m.store.callbacks = append(m.store.callbacks, &stored)
	return nil
}

func (m *MockRepository) LinkCallback(callbackID, mpesaTransactionID int64) error {
	defer m.lock()()
	for _, cb := range m.store.callbacks {
		if cb.ID == callbackID {
			cb.TransactionID = &mpesaTransactionID
		}
	}
	return nil
}

func (m *MockRepository) GetOrderByID(id int64) (*ordermodel.Order, error) {
	defer m.lock()()
	o, ok := m.store.orders[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	co := *o
	return &co, nil
}

func (m *MockRepository) UpdateOrderPayment(orderID int64, status, paymentStatus string, paidAt *time.Time) error {
	defer m.lock()()
	o, ok := m.store.orders[orderID]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	o.Status = status
	o.PaymentStatus = paymentStatus
	if paidAt != nil {
		o.PaidAt = paidAt
	}
	return nil
}

func (m *MockRepository) ConfirmOrderPayment(orderID int64, paidAt time.Time) (bool, error) {
	defer m.lock()()
	o, ok := m.store.orders[orderID]
	if !ok {
		return false, nil
	}
	if o.Status != ordermodel.StatusPending && o.Status != ordermodel.StatusConfirmed {
		return false, nil
	}
	o.Status = ordermodel.StatusConfirmed
	o.PaymentStatus = ordermodel.PaymentStatusPaid
	t := paidAt
	o.PaidAt = &t
	return true, nil
}

// test helpers reading store state directly

func (m *MockRepository) payment(id string) *paymentmodel.Payment {
	m.store.mu.Lock()
	defer m.store.mu.Unlock()
	cp := *m.store.payments[id]
	return &cp
}

func (m *MockRepository) order(id int64) *ordermodel.Order {
	m.store.mu.Lock()
	defer m.store.mu.Unlock()
	co := *m.store.orders[id]
	return &co
}

func (m *MockRepository) transactionCount(paymentID, txnType string) int {
	m.store.mu.Lock()
	defer m.store.mu.Unlock()
	n := 0
	for _, t := range m.store.transactions {
		if t.PaymentID == paymentID && t.Type == txnType {
			n++
		}
	}
	return n
}

func (m *MockRepository) callbackCount() int {
	m.store.mu.Lock()
	defer m.store.mu.Unlock()
	return len(m.store.callbacks)
}

func (m *MockRepository) addOrder(o *ordermodel.Order) {
	m.store.mu.Lock()
	defer m.store.mu.Unlock()
	m.store.orders[o.ID] = o
}

// MockCardGateway implements gateway.CardGateway.
type MockCardGateway struct {
	mu            sync.Mutex
	intentCalls   int
	confirmResult *gateway.ConfirmResult
	confirmErr    error
	refundErr     error
	// refundGate holds refund calls until all expected callers arrive, to
	// exercise interleavings the provider round trip opens up.
	refundGate *sync.WaitGroup
}

func (g *MockCardGateway) CreateIntent(_ context.Context, p *paymentmodel.Payment) (*gateway.Intent, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if p.ProviderPaymentID != "" {
		return &gateway.Intent{ProviderRef: p.ProviderPaymentID, ClientSecret: p.ProviderClientSecret, Reused: true}, nil
	}
	g.intentCalls++
	return &gateway.Intent{ProviderRef: "pi_test_1", ClientSecret: "cs_test_1"}, nil
}

func (g *MockCardGateway) Confirm(_ context.Context, _ *paymentmodel.Payment) (*gateway.ConfirmResult, error) {
	if g.confirmErr != nil {
		return g.confirmResult, g.confirmErr
	}
	if g.confirmResult != nil {
		return g.confirmResult, nil
	}
	return &gateway.ConfirmResult{Succeeded: true, ProviderTransactionID: "txn_test_1"}, nil
}

func (g *MockCardGateway) ParseWebhook(raw []byte, _ string) (*gateway.CallbackResult, error) {
	c := &gateway.CardClient{}
	return c.ParseWebhook(raw, "")
}

func (g *MockCardGateway) Refund(_ context.Context, r *paymentmodel.Refund, _ *paymentmodel.Payment, capturable decimal.Decimal) (*gateway.RefundResult, error) {
	if g.refundGate != nil {
		g.refundGate.Done()
		g.refundGate.Wait()
	}
	if g.refundErr != nil {
		return nil, g.refundErr
	}
	if r.Amount.GreaterThan(capturable) {
		return nil, gateway.ErrInsufficientCapture
	}
	return &gateway.RefundResult{ProviderRef: "re_test_1", Succeeded: true}, nil
}

// MockMpesaGateway implements gateway.MobileMoneyGateway.
type MockMpesaGateway struct {
	pushErr     error
	queryResult *gateway.CallbackResult
	queryErr    error
}

func (g *MockMpesaGateway) STKPush(_ context.Context, req gateway.PushRequest) (*gateway.PushResult, error) {
	if g.pushErr != nil {
		return nil, g.pushErr
	}
	return &gateway.PushResult{
		MerchantRequestID: "mr_test_1",
		CheckoutRequestID: "ws_CO_test_1",
		CustomerMessage:   "Success. Request accepted for processing",
	}, nil
}

func (g *MockMpesaGateway) ParseCallback(raw []byte) (*gateway.CallbackResult, error) {
	c := &gateway.MpesaClient{}
	return c.ParseCallback(raw)
}

func (g *MockMpesaGateway) QueryStatus(_ context.Context, checkoutRequestID string) (*gateway.CallbackResult, error) {
	if g.queryErr != nil {
		return nil, g.queryErr
	}
	if g.queryResult != nil {
		return g.queryResult, nil
	}
	return &gateway.CallbackResult{CorrelationID: checkoutRequestID, ResultCode: 0}, nil
}

func (g *MockMpesaGateway) Refund(_ context.Context, r *paymentmodel.Refund, _ *paymentmodel.Payment, capturable decimal.Decimal) (*gateway.RefundResult, error) {
	if r.Amount.GreaterThan(capturable) {
		return nil, gateway.ErrInsufficientCapture
	}
	return &gateway.RefundResult{ProviderRef: "rev_test_1", Succeeded: true}, nil
}

var _ = Describe("Payment Service", func() {
	var (
		repo    *MockRepository
		card    *MockCardGateway
		mpesa   *MockMpesaGateway
		service *payment.Service
		ctx     context.Context
	)

	kes1000 := decimal.NewFromInt(1000)

	newOrder := func(id int64) *ordermodel.Order {
		return &ordermodel.Order{
			ID:          id,
			UserID:      7,
			OrderNumber: "ORD-20260901-000001",
			Status:      ordermodel.StatusPending,
			PaymentStatus: ordermodel.PaymentStatusPending,
			Currency:    "KES",
			Subtotal:    kes1000,
			Total:       kes1000,
		}
	}

	BeforeEach(func() {
		repo = NewMockRepository()
		card = &MockCardGateway{}
		mpesa = &MockMpesaGateway{}
		logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
		bus := events.NewEventBus(logger)
		service = payment.NewService(repo, card, mpesa, bus, logger)
		ctx = context.Background()
		repo.addOrder(newOrder(1))
	})

	successCallback := func(checkoutID, receipt string) *gateway.CallbackResult {
		amount := kes1000
		return &gateway.CallbackResult{
			CorrelationID:     checkoutID,
			ResultCode:        0,
			ResultDescription: "The service request is processed successfully.",
			Amount:            &amount,
			ExternalTxnID:     receipt,
			PhoneNumber:       "254712345678",
		}
	}

	Describe("InitiatePayment", func() {
		It("should create a pending payment with the order total and a provider ref", func() {
			resp, err := service.InitiatePayment(ctx, &payment.InitiatePaymentRequest{OrderID: 1})
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.Status).To(Equal(paymentmodel.StatusPending))
			Expect(resp.Amount.Equal(kes1000)).To(BeTrue())
			Expect(resp.Currency).To(Equal("KES"))
			Expect(resp.ClientSecret).To(Equal("cs_test_1"))

			Expect(repo.transactionCount(resp.ID, paymentmodel.TransactionTypeAuthorization)).To(Equal(1))
		})

		It("should be idempotent: re-initiating reuses the payment and provider ref", func() {
			first, err := service.InitiatePayment(ctx, &payment.InitiatePaymentRequest{OrderID: 1})
			Expect(err).NotTo(HaveOccurred())

			second, err := service.InitiatePayment(ctx, &payment.InitiatePaymentRequest{OrderID: 1})
			Expect(err).NotTo(HaveOccurred())
			Expect(second.ID).To(Equal(first.ID))
			Expect(card.intentCalls).To(Equal(1))
			Expect(repo.transactionCount(first.ID, paymentmodel.TransactionTypeAuthorization)).To(Equal(1))
		})

		It("should reject an unknown order", func() {
			_, err := service.InitiatePayment(ctx, &payment.InitiatePaymentRequest{OrderID: 999})
			Expect(err).To(Equal(apperrors.ErrOrderNotFound))
		})

		It("should map a duplicate active payment insert to the in-flight conflict", func() {
			repo.store.createPaymentErr = gorm.ErrDuplicatedKey

			_, err := service.InitiatePayment(ctx, &payment.InitiatePaymentRequest{OrderID: 1})
			Expect(err).To(Equal(apperrors.ErrPaymentInFlight))
		})

		It("should reject an order that is not payable", func() {
			o := newOrder(2)
			o.Status = ordermodel.StatusCancelled
			repo.addOrder(o)

			_, err := service.InitiatePayment(ctx, &payment.InitiatePaymentRequest{OrderID: 2})
			Expect(err).To(Equal(apperrors.ErrOrderNotPayable))
		})
	})

	Describe("ConfirmPayment", func() {
		var paymentID string

		BeforeEach(func() {
			resp, err := service.InitiatePayment(ctx, &payment.InitiatePaymentRequest{OrderID: 1})
			Expect(err).NotTo(HaveOccurred())
			paymentID = resp.ID
		})

		It("should complete the payment and confirm the order in one transition", func() {
			resp, err := service.ConfirmPayment(ctx, paymentID)
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.Status).To(Equal(paymentmodel.StatusCompleted))

			o := repo.order(1)
			Expect(o.Status).To(Equal(ordermodel.StatusConfirmed))
			Expect(o.PaymentStatus).To(Equal(ordermodel.PaymentStatusPaid))
			Expect(o.PaidAt).NotTo(BeNil())

			Expect(repo.transactionCount(paymentID, paymentmodel.TransactionTypePayment)).To(Equal(1))
		})

		It("should leave the payment in processing when the provider is unreachable", func() {
			card.confirmErr = gateway.ErrUnavailable

			_, err := service.ConfirmPayment(ctx, paymentID)
			Expect(err).To(HaveOccurred())
			appErr, ok := apperrors.IsAppError(err)
			Expect(ok).To(BeTrue())
			Expect(appErr.Code).To(Equal(apperrors.ErrCodeGatewayUnavailable))
			Expect(appErr.Retryable).To(BeTrue())

			Expect(repo.payment(paymentID).Status).To(Equal(paymentmodel.StatusProcessing))
			Expect(repo.order(1).PaymentStatus).To(Equal(ordermodel.PaymentStatusPending))
		})

		It("should fail the payment and keep the error detail on a decline", func() {
			card.confirmErr = gateway.ErrRejected
			card.confirmResult = &gateway.ConfirmResult{
				Succeeded:    false,
				ErrorCode:    "card_declined",
				ErrorMessage: "Your card was declined.",
			}

			_, err := service.ConfirmPayment(ctx, paymentID)
			appErr, ok := apperrors.IsAppError(err)
			Expect(ok).To(BeTrue())
			Expect(appErr.Code).To(Equal(apperrors.ErrCodeGatewayRejected))

			p := repo.payment(paymentID)
			Expect(p.Status).To(Equal(paymentmodel.StatusFailed))
			Expect(*p.ErrorCode).To(Equal("card_declined"))
			Expect(*p.ErrorMessage).To(Equal("Your card was declined."))

			// failed collection leaves the order untouched so the buyer can retry
			o := repo.order(1)
			Expect(o.Status).To(Equal(ordermodel.StatusPending))
			Expect(o.PaymentStatus).To(Equal(ordermodel.PaymentStatusPending))
		})

		It("should not mark a cancelled order paid when confirmation settles late", func() {
			cancelled := newOrder(1)
			cancelled.Status = ordermodel.StatusCancelled
			repo.addOrder(cancelled)

			resp, err := service.ConfirmPayment(ctx, paymentID)
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.Status).To(Equal(paymentmodel.StatusCompleted))

			o := repo.order(1)
			Expect(o.Status).To(Equal(ordermodel.StatusCancelled))
			Expect(o.PaymentStatus).To(Equal(ordermodel.PaymentStatusPending))
			Expect(o.PaidAt).To(BeNil())
		})

		It("should return the completed payment when confirmed twice", func() {
			_, err := service.ConfirmPayment(ctx, paymentID)
			Expect(err).NotTo(HaveOccurred())

			resp, err := service.ConfirmPayment(ctx, paymentID)
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.Status).To(Equal(paymentmodel.StatusCompleted))
			Expect(repo.transactionCount(paymentID, paymentmodel.TransactionTypePayment)).To(Equal(1))
		})
	})

	Describe("InitiateMpesaPayment", func() {
		It("should push 1000 KES and move the payment to processing", func() {
			resp, err := service.InitiateMpesaPayment(ctx, &payment.InitiateMpesaRequest{
				OrderID:     1,
				PhoneNumber: "0712345678",
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.Status).To(Equal(paymentmodel.StatusProcessing))
			Expect(resp.CheckoutRequestID).To(Equal("ws_CO_test_1"))

			p := repo.payment(resp.PaymentID)
			Expect(p.Provider).To(Equal(paymentmodel.ProviderMpesa))
			Expect(p.Amount.Equal(kes1000)).To(BeTrue())

			mt, err := repo.GetMpesaByPaymentID(resp.PaymentID)
			Expect(err).NotTo(HaveOccurred())
			Expect(mt.PhoneNumber).To(Equal("254712345678"))
			Expect(mt.Status).To(Equal(paymentmodel.MpesaStatusPending))
		})

		It("should reject an invalid phone number before touching the provider", func() {
			_, err := service.InitiateMpesaPayment(ctx, &payment.InitiateMpesaRequest{
				OrderID:     1,
				PhoneNumber: "12345",
			})
			Expect(err).To(HaveOccurred())
			appErr, ok := apperrors.IsAppError(err)
			Expect(ok).To(BeTrue())
			Expect(appErr.Type).To(Equal(apperrors.ErrorTypeValidation))
		})

		It("should refuse a second push while one is in flight", func() {
			_, err := service.InitiateMpesaPayment(ctx, &payment.InitiateMpesaRequest{
				OrderID:     1,
				PhoneNumber: "0712345678",
			})
			Expect(err).NotTo(HaveOccurred())

			_, err = service.InitiateMpesaPayment(ctx, &payment.InitiateMpesaRequest{
				OrderID:     1,
				PhoneNumber: "0712345678",
			})
			Expect(err).To(Equal(apperrors.ErrPaymentInFlight))
		})

		It("should leave the payment pending when the provider is unreachable", func() {
			mpesa.pushErr = gateway.ErrUnavailable

			_, err := service.InitiateMpesaPayment(ctx, &payment.InitiateMpesaRequest{
				OrderID:     1,
				PhoneNumber: "0712345678",
			})
			appErr, ok := apperrors.IsAppError(err)
			Expect(ok).To(BeTrue())
			Expect(appErr.Retryable).To(BeTrue())
		})

		It("should keep the attempt on file when the push never leaves", func() {
			mpesa.pushErr = gateway.ErrUnavailable

			_, err := service.InitiateMpesaPayment(ctx, &payment.InitiateMpesaRequest{
				OrderID:     1,
				PhoneNumber: "0712345678",
			})
			Expect(err).To(HaveOccurred())

			active, err := repo.GetActivePaymentForOrder(1)
			Expect(err).NotTo(HaveOccurred())
			Expect(active).NotTo(BeNil())

			mt, err := repo.GetMpesaByPaymentID(active.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(mt.Status).To(Equal(paymentmodel.MpesaStatusRequested))
			Expect(mt.PhoneNumber).To(Equal("254712345678"))
			Expect(mt.CheckoutRequestID).To(BeEmpty())
		})
	})

	Describe("Reconcile", func() {
		var paymentID string

		BeforeEach(func() {
			resp, err := service.InitiateMpesaPayment(ctx, &payment.InitiateMpesaRequest{
				OrderID:     1,
				PhoneNumber: "0712345678",
			})
			Expect(err).NotTo(HaveOccurred())
			paymentID = resp.PaymentID
		})

		It("should complete the payment, store the receipt and mark the order paid", func() {
			err := service.Reconcile(ctx, paymentID, successCallback("ws_CO_test_1", "NLJ7RT61SV"))
			Expect(err).NotTo(HaveOccurred())

			p := repo.payment(paymentID)
			Expect(p.Status).To(Equal(paymentmodel.StatusCompleted))
			Expect(p.ProcessedAt).NotTo(BeNil())

			mt, _ := repo.GetMpesaByPaymentID(paymentID)
			Expect(mt.Status).To(Equal(paymentmodel.MpesaStatusSuccessful))
			Expect(mt.MpesaReceipt).To(Equal("NLJ7RT61SV"))
			Expect(*mt.ResultCode).To(Equal(0))

			o := repo.order(1)
			Expect(o.Status).To(Equal(ordermodel.StatusConfirmed))
			Expect(o.PaymentStatus).To(Equal(ordermodel.PaymentStatusPaid))

			Expect(repo.transactionCount(paymentID, paymentmodel.TransactionTypePayment)).To(Equal(1))
		})

		It("should fail the payment and leave the order untouched on a failure result", func() {
			err := service.Reconcile(ctx, paymentID, &gateway.CallbackResult{
				CorrelationID:     "ws_CO_test_1",
				ResultCode:        1032,
				ResultDescription: "Request cancelled by user",
			})
			Expect(err).NotTo(HaveOccurred())

			p := repo.payment(paymentID)
			Expect(p.Status).To(Equal(paymentmodel.StatusFailed))
			Expect(*p.ErrorMessage).To(Equal("Request cancelled by user"))

			mt, _ := repo.GetMpesaByPaymentID(paymentID)
			Expect(mt.Status).To(Equal(paymentmodel.MpesaStatusCancelled))

			o := repo.order(1)
			Expect(o.Status).To(Equal(ordermodel.StatusPending))
			Expect(o.PaymentStatus).To(Equal(ordermodel.PaymentStatusPending))
		})

		It("should not resurrect a cancelled order when a late success callback arrives", func() {
			cancelled := newOrder(1)
			cancelled.Status = ordermodel.StatusCancelled
			repo.addOrder(cancelled)

			err := service.Reconcile(ctx, paymentID, successCallback("ws_CO_test_1", "NLJ7RT61SV"))
			Expect(err).NotTo(HaveOccurred())

			// the money moved, so the ledger records the completion
			Expect(repo.payment(paymentID).Status).To(Equal(paymentmodel.StatusCompleted))

			o := repo.order(1)
			Expect(o.Status).To(Equal(ordermodel.StatusCancelled))
			Expect(o.PaymentStatus).To(Equal(ordermodel.PaymentStatusPending))
			Expect(o.PaidAt).To(BeNil())
		})

		It("should treat a duplicate success callback as a no-op", func() {
			cb := successCallback("ws_CO_test_1", "NLJ7RT61SV")
			Expect(service.Reconcile(ctx, paymentID, cb)).To(Succeed())
			Expect(service.Reconcile(ctx, paymentID, cb)).To(Succeed())

			Expect(repo.payment(paymentID).Status).To(Equal(paymentmodel.StatusCompleted))
			Expect(repo.transactionCount(paymentID, paymentmodel.TransactionTypePayment)).To(Equal(1))
		})

		It("should keep terminal states sticky against conflicting late results", func() {
			Expect(service.Reconcile(ctx, paymentID, successCallback("ws_CO_test_1", "NLJ7RT61SV"))).To(Succeed())

			err := service.Reconcile(ctx, paymentID, &gateway.CallbackResult{
				CorrelationID:     "ws_CO_test_1",
				ResultCode:        1,
				ResultDescription: "The balance is insufficient",
			})
			Expect(err).NotTo(HaveOccurred())

			Expect(repo.payment(paymentID).Status).To(Equal(paymentmodel.StatusCompleted))
			Expect(repo.order(1).PaymentStatus).To(Equal(ordermodel.PaymentStatusPaid))
		})

		It("should let exactly one of many concurrent callbacks win", func() {
			cb := successCallback("ws_CO_test_1", "NLJ7RT61SV")

			var wg sync.WaitGroup
			for i := 0; i < 20; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					defer GinkgoRecover()
					Expect(service.Reconcile(ctx, paymentID, cb)).To(Succeed())
				}()
			}
			wg.Wait()

			Expect(repo.payment(paymentID).Status).To(Equal(paymentmodel.StatusCompleted))
			Expect(repo.transactionCount(paymentID, paymentmodel.TransactionTypePayment)).To(Equal(1))
		})
	})

	Describe("HandleMpesaCallback", func() {
		BeforeEach(func() {
			_, err := service.InitiateMpesaPayment(ctx, &payment.InitiateMpesaRequest{
				OrderID:     1,
				PhoneNumber: "0712345678",
			})
			Expect(err).NotTo(HaveOccurred())
		})

		It("should store the raw payload before applying it", func() {
			raw := []byte(`{
				"Body": {"stkCallback": {
					"CheckoutRequestID": "ws_CO_test_1",
					"ResultCode": 0,
					"ResultDesc": "ok",
					"CallbackMetadata": {"Item": [
						{"Name": "MpesaReceiptNumber", "Value": "NLJ7RT61SV"},
						{"Name": "Amount", "Value": 1000}
					]}
				}}
			}`)

			Expect(service.HandleMpesaCallback(ctx, raw)).To(Succeed())
			Expect(repo.callbackCount()).To(Equal(1))
		})

		It("should store malformed payloads and report them without applying", func() {
			err := service.HandleMpesaCallback(ctx, []byte(`{"garbage": true}`))
			Expect(err).To(HaveOccurred())
			appErr, ok := apperrors.IsAppError(err)
			Expect(ok).To(BeTrue())
			Expect(appErr.Code).To(Equal(apperrors.ErrCodeMalformedCallback))
			Expect(repo.callbackCount()).To(Equal(1))
		})

		It("should store and skip callbacks for unknown checkout requests", func() {
			raw := []byte(`{"Body":{"stkCallback":{"CheckoutRequestID":"ws_CO_unknown","ResultCode":0}}}`)
			Expect(service.HandleMpesaCallback(ctx, raw)).To(Succeed())
			Expect(repo.callbackCount()).To(Equal(1))
		})
	})

	Describe("CancelPayment", func() {
		It("should cancel a pending payment", func() {
			resp, err := service.InitiatePayment(ctx, &payment.InitiatePaymentRequest{OrderID: 1})
			Expect(err).NotTo(HaveOccurred())

			Expect(service.CancelPayment(ctx, resp.ID)).To(Succeed())
			Expect(repo.payment(resp.ID).Status).To(Equal(paymentmodel.StatusCancelled))
		})

		It("should refuse to cancel a completed payment", func() {
			resp, err := service.InitiatePayment(ctx, &payment.InitiatePaymentRequest{OrderID: 1})
			Expect(err).NotTo(HaveOccurred())
			_, err = service.ConfirmPayment(ctx, resp.ID)
			Expect(err).NotTo(HaveOccurred())

			err = service.CancelPayment(ctx, resp.ID)
			appErr, ok := apperrors.IsAppError(err)
			Expect(ok).To(BeTrue())
			Expect(appErr.Code).To(Equal(apperrors.ErrCodePaymentNotCancelable))
			Expect(repo.payment(resp.ID).Status).To(Equal(paymentmodel.StatusCompleted))
		})
	})

	Describe("RequestRefund", func() {
		var paymentID string

		BeforeEach(func() {
			resp, err := service.InitiatePayment(ctx, &payment.InitiatePaymentRequest{OrderID: 1})
			Expect(err).NotTo(HaveOccurred())
			_, err = service.ConfirmPayment(ctx, resp.ID)
			Expect(err).NotTo(HaveOccurred())
			paymentID = resp.ID
		})

		It("should complete a partial refund and mark the payment partially refunded", func() {
			resp, err := service.RequestRefund(ctx, paymentID, &payment.RefundRequest{
				Amount: decimal.NewFromInt(400),
				Reason: "damaged item",
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.Status).To(Equal(paymentmodel.RefundStatusCompleted))

			p := repo.payment(paymentID)
			Expect(p.Status).To(Equal(paymentmodel.StatusPartiallyRefunded))
			Expect(repo.order(1).PaymentStatus).To(Equal(ordermodel.PaymentStatusPartiallyRefunded))
			Expect(repo.transactionCount(paymentID, paymentmodel.TransactionTypeRefund)).To(Equal(1))
		})

		It("should mark the payment refunded once refunds cover the full amount", func() {
			_, err := service.RequestRefund(ctx, paymentID, &payment.RefundRequest{Amount: decimal.NewFromInt(400)})
			Expect(err).NotTo(HaveOccurred())
			_, err = service.RequestRefund(ctx, paymentID, &payment.RefundRequest{Amount: decimal.NewFromInt(600)})
			Expect(err).NotTo(HaveOccurred())

			Expect(repo.payment(paymentID).Status).To(Equal(paymentmodel.StatusRefunded))
			Expect(repo.order(1).PaymentStatus).To(Equal(ordermodel.PaymentStatusRefunded))
		})

		It("should reject a refund that would exceed the captured amount", func() {
			_, err := service.RequestRefund(ctx, paymentID, &payment.RefundRequest{Amount: decimal.NewFromInt(700)})
			Expect(err).NotTo(HaveOccurred())

			_, err = service.RequestRefund(ctx, paymentID, &payment.RefundRequest{Amount: decimal.NewFromInt(500)})
			appErr, ok := apperrors.IsAppError(err)
			Expect(ok).To(BeTrue())
			Expect(appErr.Code).To(Equal(apperrors.ErrCodeConsistencyViolation))
		})

		It("should reject refunds for payments that never completed", func() {
			repo.addOrder(newOrder(3))
			pending, err := service.InitiatePayment(ctx, &payment.InitiatePaymentRequest{OrderID: 3})
			Expect(err).NotTo(HaveOccurred())

			_, err = service.RequestRefund(ctx, pending.ID, &payment.RefundRequest{Amount: decimal.NewFromInt(100)})
			appErr, ok := apperrors.IsAppError(err)
			Expect(ok).To(BeTrue())
			Expect(appErr.Code).To(Equal(apperrors.ErrCodeConsistencyViolation))
		})

		It("should refuse a new payment attempt for an order already paid", func() {
			_, err := service.InitiatePayment(ctx, &payment.InitiatePaymentRequest{OrderID: 1})
			Expect(err).To(Equal(apperrors.ErrOrderNotPayable))
		})

		It("should never record completed refunds beyond the payment amount under contention", func() {
			gate := &sync.WaitGroup{}
			gate.Add(2)
			card.refundGate = gate

			errs := make(chan error, 2)
			var wg sync.WaitGroup
			for i := 0; i < 2; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					defer GinkgoRecover()
					_, err := service.RequestRefund(ctx, paymentID, &payment.RefundRequest{
						Amount: kes1000,
						Reason: "order cancelled",
					})
					errs <- err
				}()
			}
			wg.Wait()
			close(errs)

			refunded, err := repo.SumCompletedRefunds(paymentID)
			Expect(err).NotTo(HaveOccurred())
			Expect(refunded.Equal(kes1000)).To(BeTrue())
			Expect(repo.payment(paymentID).Status).To(Equal(paymentmodel.StatusRefunded))

			var violations int
			for err := range errs {
				if err == nil {
					continue
				}
				appErr, ok := apperrors.IsAppError(err)
				Expect(ok).To(BeTrue())
				Expect(appErr.Code).To(Equal(apperrors.ErrCodeConsistencyViolation))
				violations++
			}
			Expect(violations).To(Equal(1))
		})

		It("should leave the refund pending when the provider is unreachable", func() {
			card.refundErr = gateway.ErrUnavailable

			_, err := service.RequestRefund(ctx, paymentID, &payment.RefundRequest{Amount: decimal.NewFromInt(400)})
			appErr, ok := apperrors.IsAppError(err)
			Expect(ok).To(BeTrue())
			Expect(appErr.Retryable).To(BeTrue())

			Expect(repo.payment(paymentID).Status).To(Equal(paymentmodel.StatusCompleted))
		})
	})

	Describe("QueryMpesaStatus", func() {
		It("should reconcile a stuck payment from the provider answer", func() {
			resp, err := service.InitiateMpesaPayment(ctx, &payment.InitiateMpesaRequest{
				OrderID:     1,
				PhoneNumber: "0712345678",
			})
			Expect(err).NotTo(HaveOccurred())

			mpesa.queryResult = successCallback("ws_CO_test_1", "NLJ7RT61SV")

			status, err := service.QueryMpesaStatus(ctx, resp.PaymentID)
			Expect(err).NotTo(HaveOccurred())
			Expect(status.Payment.Status).To(Equal(paymentmodel.StatusCompleted))
			Expect(status.MpesaReceipt).To(Equal("NLJ7RT61SV"))
		})
	})
})
