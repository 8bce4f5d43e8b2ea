package payment

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	apperrors "github.com/sokocart/sokocart/internal"
	"github.com/sokocart/sokocart/internal/core/common/validation"
	ordermodel "github.com/sokocart/sokocart/internal/core/datamodel/order"
	paymentmodel "github.com/sokocart/sokocart/internal/core/datamodel/payment"
	"github.com/sokocart/sokocart/internal/core/events"
	"github.com/sokocart/sokocart/internal/gateway"
	"gorm.io/gorm"
)

// mpesaResultCancelled is the Daraja code for a push cancelled on the
// handset.
const mpesaResultCancelled = 1032

// Service is the payment orchestrator. Every state transition runs inside
// one repository transaction with the payment row locked, so concurrent
// confirmations and callbacks serialize per payment and terminal states
// stay terminal.
type Service struct {
	repo     Repository
	card     gateway.CardGateway
	mpesa    gateway.MobileMoneyGateway
	eventBus *events.EventBus
	logger   *slog.Logger
}

func NewService(repo Repository, card gateway.CardGateway, mpesa gateway.MobileMoneyGateway, eventBus *events.EventBus, logger *slog.Logger) *Service {
	return &Service{
		repo:     repo,
		card:     card,
		mpesa:    mpesa,
		eventBus: eventBus,
		logger:   logger,
	}
}

// payableOrder loads the order and checks a new payment attempt may start.
func (s *Service) payableOrder(orderID int64) (*ordermodel.Order, error) {
	order, err := s.repo.GetOrderByID(orderID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.ErrOrderNotFound
		}
		return nil, apperrors.NewInternalError("failed to load order", err)
	}
	if !order.Payable() {
		return nil, apperrors.ErrOrderNotPayable
	}
	return order, nil
}

func (s *Service) InitiatePayment(ctx context.Context, req *InitiatePaymentRequest) (*PaymentResponse, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	order, err := s.payableOrder(req.OrderID)
	if err != nil {
		return nil, err
	}

	p, err := s.repo.GetActivePaymentForOrder(order.ID)
	if err != nil {
		return nil, apperrors.NewInternalError("failed to check in-flight payments", err)
	}
	if p != nil && p.Provider != paymentmodel.ProviderCard {
		return nil, apperrors.ErrPaymentInFlight
	}

	if p == nil {
		p = &paymentmodel.Payment{
			ID:       uuid.New().String(),
			OrderID:  order.ID,
			Amount:   order.Total,
			Currency: order.Currency,
			Provider: paymentmodel.ProviderCard,
			Status:   paymentmodel.StatusPending,
		}
		if err := s.repo.CreatePayment(p); err != nil {
			// the partial unique index on active payments catches the race
			// two concurrent initiations can win against the read above
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return nil, apperrors.ErrPaymentInFlight
			}
			return nil, apperrors.NewInternalError("failed to create payment", err)
		}
		s.logger.Info("payment created",
			"payment_id", p.ID,
			"order_id", order.ID,
			"amount", p.Amount.String(),
			"currency", p.Currency)
	}

	intent, err := s.card.CreateIntent(ctx, p)
	if err != nil {
		return nil, s.mapGatewayError(ctx, p, err, "intent creation")
	}

	p.ProviderPaymentID = intent.ProviderRef
	p.ProviderClientSecret = intent.ClientSecret
	if err := s.repo.UpdatePayment(p); err != nil {
		return nil, apperrors.NewInternalError("failed to store provider reference", err)
	}

	if !intent.Reused {
		if err := s.repo.CreateTransaction(&paymentmodel.Transaction{
			PaymentID:             p.ID,
			Type:                  paymentmodel.TransactionTypeAuthorization,
			Amount:                p.Amount,
			Currency:              p.Currency,
			ProviderTransactionID: intent.ProviderRef,
			ProviderData:          intent.Raw,
			Success:               true,
		}); err != nil {
			return nil, apperrors.NewInternalError("failed to record authorization", err)
		}
	}

	return toPaymentResponse(p), nil
}

func (s *Service) InitiateMpesaPayment(ctx context.Context, req *InitiateMpesaRequest) (*MpesaPaymentResponse, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	phone, appErr := validation.NormalizePhoneNumber(req.PhoneNumber)
	if appErr != nil {
		return nil, appErr
	}

	order, err := s.payableOrder(req.OrderID)
	if err != nil {
		return nil, err
	}

	active, err := s.repo.GetActivePaymentForOrder(order.ID)
	if err != nil {
		return nil, apperrors.NewInternalError("failed to check in-flight payments", err)
	}
	if active != nil && active.Status == paymentmodel.StatusProcessing {
		return nil, apperrors.ErrPaymentInFlight
	}

	p := active
	if p == nil {
		p = &paymentmodel.Payment{
			ID:       uuid.New().String(),
			OrderID:  order.ID,
			Amount:   order.Total,
			Currency: order.Currency,
			Provider: paymentmodel.ProviderMpesa,
			Status:   paymentmodel.StatusPending,
		}
		if err := s.repo.CreatePayment(p); err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return nil, apperrors.ErrPaymentInFlight
			}
			return nil, apperrors.NewInternalError("failed to create payment", err)
		}
	}

	// The attempt row goes down in requested state before the push, so a
	// crash between the push and its record still leaves the attempt on file.
	mt, err := s.repo.GetMpesaByPaymentID(p.ID)
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		mt = &paymentmodel.MpesaTransaction{
			PaymentID:   p.ID,
			PhoneNumber: phone,
			Amount:      p.Amount,
			Status:      paymentmodel.MpesaStatusRequested,
		}
		if err := s.repo.CreateMpesaTransaction(mt); err != nil {
			return nil, apperrors.NewInternalError("failed to record push attempt", err)
		}
	case err != nil:
		return nil, apperrors.NewInternalError("failed to load mobile money transaction", err)
	default:
		mt.PhoneNumber = phone
		mt.Status = paymentmodel.MpesaStatusRequested
		if err := s.repo.UpdateMpesaTransaction(mt); err != nil {
			return nil, apperrors.NewInternalError("failed to refresh push attempt", err)
		}
	}

	push, err := s.mpesa.STKPush(ctx, gateway.PushRequest{
		PhoneNumber:      phone,
		Amount:           p.Amount,
		AccountReference: order.OrderNumber,
		Description:      "Payment for order " + order.OrderNumber,
	})
	if err != nil {
		return nil, s.mapGatewayError(ctx, p, err, "stk push")
	}

	err = s.repo.Transact(func(tx Repository) error {
		locked, err := tx.GetPaymentForUpdate(p.ID)
		if err != nil {
			return err
		}
		locked.Status = paymentmodel.StatusProcessing
		locked.Provider = paymentmodel.ProviderMpesa
		locked.ProviderPaymentID = push.CheckoutRequestID
		if err := tx.UpdatePayment(locked); err != nil {
			return err
		}
		mt.Status = paymentmodel.MpesaStatusPending
		mt.MerchantRequestID = push.MerchantRequestID
		mt.CheckoutRequestID = push.CheckoutRequestID
		if err := tx.UpdateMpesaTransaction(mt); err != nil {
			return err
		}
		return tx.CreateTransaction(&paymentmodel.Transaction{
			PaymentID:             locked.ID,
			Type:                  paymentmodel.TransactionTypeAuthorization,
			Amount:                locked.Amount,
			Currency:              locked.Currency,
			ProviderTransactionID: push.CheckoutRequestID,
			ProviderData:          push.Raw,
			Success:               true,
		})
	})
	if err != nil {
		return nil, apperrors.NewInternalError("failed to record stk push", err)
	}

	s.logger.Info("stk push initiated",
		"payment_id", p.ID,
		"order_id", order.ID,
		"checkout_request_id", push.CheckoutRequestID)

	return &MpesaPaymentResponse{
		PaymentID:         p.ID,
		CheckoutRequestID: push.CheckoutRequestID,
		CustomerMessage:   push.CustomerMessage,
		Status:            paymentmodel.StatusProcessing,
	}, nil
}

func (s *Service) ConfirmPayment(ctx context.Context, paymentID string) (*PaymentResponse, error) {
	var p *paymentmodel.Payment
	err := s.repo.Transact(func(tx Repository) error {
		locked, err := tx.GetPaymentForUpdate(paymentID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return apperrors.ErrPaymentNotFound
			}
			return err
		}
		if locked.Status == paymentmodel.StatusCompleted {
			p = locked
			return nil
		}
		if locked.IsTerminal() {
			return apperrors.NewConflictError("payment is already in a terminal state", apperrors.ErrCodePaymentNotConfirmable)
		}
		locked.Status = paymentmodel.StatusProcessing
		if err := tx.UpdatePayment(locked); err != nil {
			return err
		}
		p = locked
		return nil
	})
	if err != nil {
		if appErr, ok := apperrors.IsAppError(err); ok {
			return nil, appErr
		}
		return nil, apperrors.NewInternalError("failed to start confirmation", err)
	}
	if p.Status == paymentmodel.StatusCompleted {
		return toPaymentResponse(p), nil
	}

	result, err := s.card.Confirm(ctx, p)
	if err != nil {
		if errors.Is(err, gateway.ErrRejected) && result != nil {
			if failErr := s.failPayment(ctx, p.ID, result.ErrorCode, result.ErrorMessage, result.Raw); failErr != nil {
				s.logger.Error("failed to record declined payment", "error", failErr, "payment_id", p.ID)
			}
			return nil, apperrors.NewGatewayRejectedError("payment was declined by the provider", err)
		}
		return nil, s.mapGatewayError(ctx, p, err, "confirmation")
	}

	if err := s.completePayment(ctx, p.ID, result.ProviderTransactionID, result.Raw); err != nil {
		return nil, apperrors.NewInternalError("failed to record completed payment", err)
	}

	completed, err := s.repo.GetPaymentByID(p.ID)
	if err != nil {
		return nil, apperrors.NewInternalError("failed to reload payment", err)
	}
	return toPaymentResponse(completed), nil
}

func (s *Service) CancelPayment(ctx context.Context, paymentID string) error {
	err := s.repo.Transact(func(tx Repository) error {
		p, err := tx.GetPaymentForUpdate(paymentID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return apperrors.ErrPaymentNotFound
			}
			return err
		}
		if !p.Cancellable() {
			return apperrors.NewConflictError("payment cannot be cancelled in its current state", apperrors.ErrCodePaymentNotCancelable)
		}
		p.Status = paymentmodel.StatusCancelled
		if err := tx.UpdatePayment(p); err != nil {
			return err
		}

		if mt, err := tx.GetMpesaByPaymentID(p.ID); err == nil && mt != nil && !mt.IsTerminal() {
			mt.Status = paymentmodel.MpesaStatusCancelled
			if err := tx.UpdateMpesaTransaction(mt); err != nil {
				return err
			}
		}

		s.logger.Info("payment cancelled", "payment_id", p.ID, "order_id", p.OrderID)
		return nil
	})
	if err != nil {
		if appErr, ok := apperrors.IsAppError(err); ok {
			return appErr
		}
		return apperrors.NewInternalError("failed to cancel payment", err)
	}
	return nil
}

func (s *Service) GetPaymentStatus(ctx context.Context, paymentID string) (*PaymentStatusResponse, error) {
	p, err := s.repo.GetPaymentByID(paymentID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.ErrPaymentNotFound
		}
		return nil, apperrors.NewInternalError("failed to load payment", err)
	}

	txns, err := s.repo.ListTransactions(p.ID)
	if err != nil {
		return nil, apperrors.NewInternalError("failed to load transactions", err)
	}
	refunded, err := s.repo.SumCompletedRefunds(p.ID)
	if err != nil {
		return nil, apperrors.NewInternalError("failed to sum refunds", err)
	}

	resp := &PaymentStatusResponse{
		Payment:        toPaymentResponse(p),
		Transactions:   make([]TransactionResponse, 0, len(txns)),
		RefundedAmount: refunded,
		ProcessedAt:    p.ProcessedAt,
	}
	for _, t := range txns {
		resp.Transactions = append(resp.Transactions, TransactionResponse{
			ID:                    t.ID,
			Type:                  t.Type,
			Amount:                t.Amount,
			Currency:              t.Currency,
			ProviderTransactionID: t.ProviderTransactionID,
			Success:               t.Success,
			CreatedAt:             t.CreatedAt,
		})
	}

	if p.Provider == paymentmodel.ProviderMpesa {
		if mt, err := s.repo.GetMpesaByPaymentID(p.ID); err == nil && mt != nil {
			resp.MpesaReceipt = mt.MpesaReceipt
		}
	}

	return resp, nil
}

func (s *Service) RequestRefund(ctx context.Context, paymentID string, req *RefundRequest) (*RefundResponse, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	var (
		p          *paymentmodel.Payment
		refund     *paymentmodel.Refund
		capturable decimal.Decimal
	)
	err := s.repo.Transact(func(tx Repository) error {
		locked, err := tx.GetPaymentForUpdate(paymentID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return apperrors.ErrPaymentNotFound
			}
			return err
		}
		if locked.Status != paymentmodel.StatusCompleted && locked.Status != paymentmodel.StatusPartiallyRefunded {
			return apperrors.NewConsistencyViolationError("only completed payments can be refunded")
		}

		refunded, err := tx.SumCompletedRefunds(locked.ID)
		if err != nil {
			return err
		}
		capturable = locked.Amount.Sub(refunded)
		if req.Amount.GreaterThan(capturable) {
			return apperrors.NewConsistencyViolationError("refund amount exceeds the refundable balance")
		}

		refund = &paymentmodel.Refund{
			ID:        uuid.New().String(),
			PaymentID: locked.ID,
			Amount:    req.Amount,
			Reason:    req.Reason,
			Status:    paymentmodel.RefundStatusPending,
		}
		if err := tx.CreateRefund(refund); err != nil {
			return err
		}
		p = locked
		return nil
	})
	if err != nil {
		if appErr, ok := apperrors.IsAppError(err); ok {
			return nil, appErr
		}
		return nil, apperrors.NewInternalError("failed to create refund", err)
	}

	var refunder gateway.Refunder = s.card
	if p.Provider == paymentmodel.ProviderMpesa {
		refunder = s.mpesa
	}

	result, err := refunder.Refund(ctx, refund, p, capturable)
	if err != nil {
		switch {
		case errors.Is(err, gateway.ErrInsufficientCapture):
			s.markRefundFailed(refund)
			return nil, apperrors.NewConsistencyViolationError("provider reports the refund exceeds the capturable amount")
		case errors.Is(err, gateway.ErrUnavailable):
			// refund stays pending; the caller may retry
			return nil, apperrors.NewGatewayUnavailableError("refund could not reach the provider", err)
		default:
			s.markRefundFailed(refund)
			return nil, apperrors.NewGatewayRejectedError("refund was rejected by the provider", err)
		}
	}

	var evts []events.Event
	err = s.repo.Transact(func(tx Repository) error {
		locked, err := tx.GetPaymentForUpdate(p.ID)
		if err != nil {
			return err
		}

		// Re-check under the lock: another refund may have completed while
		// this one was at the provider. The ledger never records completed
		// refunds beyond the payment amount.
		alreadyRefunded, err := tx.SumCompletedRefunds(locked.ID)
		if err != nil {
			return err
		}
		if alreadyRefunded.Add(refund.Amount).GreaterThan(locked.Amount) {
			s.logger.Error("refund settled at the provider beyond the refundable balance, manual reconciliation required",
				"refund_id", refund.ID,
				"payment_id", locked.ID,
				"already_refunded", alreadyRefunded.String(),
				"refund_amount", refund.Amount.String())
			return apperrors.NewConsistencyViolationError("refund would exceed the refundable balance")
		}

		refund.Status = paymentmodel.RefundStatusCompleted
		refund.ProviderRefundID = result.ProviderRef
		if err := tx.UpdateRefund(refund); err != nil {
			return err
		}
		if err := tx.CreateTransaction(&paymentmodel.Transaction{
			PaymentID:             locked.ID,
			Type:                  paymentmodel.TransactionTypeRefund,
			Amount:                refund.Amount,
			Currency:              locked.Currency,
			ProviderTransactionID: result.ProviderRef,
			ProviderData:          result.Raw,
			Success:               true,
		}); err != nil {
			return err
		}

		refunded, err := tx.SumCompletedRefunds(locked.ID)
		if err != nil {
			return err
		}
		paymentStatus := paymentmodel.StatusPartiallyRefunded
		orderPaymentStatus := ordermodel.PaymentStatusPartiallyRefunded
		if refunded.GreaterThanOrEqual(locked.Amount) {
			paymentStatus = paymentmodel.StatusRefunded
			orderPaymentStatus = ordermodel.PaymentStatusRefunded
		}
		locked.Status = paymentStatus
		if err := tx.UpdatePayment(locked); err != nil {
			return err
		}

		order, err := tx.GetOrderByID(locked.OrderID)
		if err != nil {
			return err
		}
		if err := tx.UpdateOrderPayment(order.ID, order.Status, orderPaymentStatus, order.PaidAt); err != nil {
			return err
		}

		evts = append(evts, events.NewRefundCompletedEvent(refund.ID, locked.ID, locked.OrderID, refund.Amount))
		return nil
	})
	if err != nil {
		if appErr, ok := apperrors.IsAppError(err); ok {
			return nil, appErr
		}
		return nil, apperrors.NewInternalError("failed to record refund", err)
	}

	for _, e := range evts {
		s.eventBus.Publish(ctx, e)
	}

	s.logger.Info("refund completed",
		"refund_id", refund.ID,
		"payment_id", p.ID,
		"amount", refund.Amount.String())

	return toRefundResponse(refund), nil
}

func (s *Service) markRefundFailed(refund *paymentmodel.Refund) {
	refund.Status = paymentmodel.RefundStatusFailed
	if err := s.repo.UpdateRefund(refund); err != nil {
		s.logger.Error("failed to mark refund failed", "error", err, "refund_id", refund.ID)
	}
}

// HandleCardWebhook processes an asynchronous card provider notification.
func (s *Service) HandleCardWebhook(ctx context.Context, raw []byte, signature string) error {
	result, err := s.card.ParseWebhook(raw, signature)
	if err != nil {
		s.logger.Warn("malformed card webhook", "error", err)
		return apperrors.NewValidationError("malformed webhook payload", apperrors.ErrCodeMalformedCallback)
	}

	p, err := s.repo.GetPaymentByProviderRef(result.CorrelationID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			s.logger.Warn("webhook for unknown payment", "provider_ref", result.CorrelationID)
			return nil
		}
		return apperrors.NewInternalError("failed to match webhook", err)
	}

	return s.Reconcile(ctx, p.ID, result)
}

// HandleMpesaCallback stores the raw payload first, then parses and applies
// it. Storage before parsing means even garbage payloads leave an audit row.
func (s *Service) HandleMpesaCallback(ctx context.Context, raw []byte) error {
	cb := &paymentmodel.MpesaCallback{CallbackData: raw}
	if err := s.repo.SaveCallback(cb); err != nil {
		return apperrors.NewInternalError("failed to store callback", err)
	}

	result, err := s.mpesa.ParseCallback(raw)
	if err != nil {
		s.logger.Warn("malformed mpesa callback stored and skipped", "callback_id", cb.ID, "error", err)
		return apperrors.NewValidationError("malformed callback payload", apperrors.ErrCodeMalformedCallback)
	}

	mt, err := s.repo.GetMpesaByCheckoutID(result.CorrelationID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			s.logger.Warn("callback for unknown checkout request",
				"callback_id", cb.ID,
				"checkout_request_id", result.CorrelationID)
			return nil
		}
		return apperrors.NewInternalError("failed to match callback", err)
	}

	if err := s.repo.LinkCallback(cb.ID, mt.ID); err != nil {
		s.logger.Error("failed to link callback to transaction", "error", err, "callback_id", cb.ID)
	}

	return s.Reconcile(ctx, mt.PaymentID, result)
}

// Reconcile applies a provider-reported outcome to a payment. Duplicate and
// late notifications for payments already in a terminal state are no-ops.
func (s *Service) Reconcile(ctx context.Context, paymentID string, result *gateway.CallbackResult) error {
	var evts []events.Event
	err := s.repo.Transact(func(tx Repository) error {
		p, err := tx.GetPaymentForUpdate(paymentID)
		if err != nil {
			return err
		}
		if p.IsTerminal() {
			s.logger.Info("duplicate reconciliation ignored",
				"payment_id", p.ID,
				"status", p.Status,
				"result_code", result.ResultCode)
			return nil
		}

		// The requested amount stays authoritative; a differing provider
		// figure is an audit signal, not a blocker.
		if result.Amount != nil && !result.Amount.Equal(p.Amount) {
			s.logger.Warn("provider reported a different amount",
				"payment_id", p.ID,
				"expected", p.Amount.String(),
				"reported", result.Amount.String())
		}

		now := time.Now()
		mt, mtErr := tx.GetMpesaByPaymentID(p.ID)
		if mtErr != nil && !errors.Is(mtErr, gorm.ErrRecordNotFound) {
			return mtErr
		}

		if result.Succeeded() {
			p.Status = paymentmodel.StatusCompleted
			p.ProcessedAt = &now
			if err := tx.UpdatePayment(p); err != nil {
				return err
			}

			if mt != nil {
				code := result.ResultCode
				mt.Status = paymentmodel.MpesaStatusSuccessful
				mt.MpesaReceipt = result.ExternalTxnID
				mt.ResultCode = &code
				mt.ResultDescription = result.ResultDescription
				mt.CompletedAt = &now
				if err := tx.UpdateMpesaTransaction(mt); err != nil {
					return err
				}
			}

			if err := tx.CreateTransaction(&paymentmodel.Transaction{
				PaymentID:             p.ID,
				Type:                  paymentmodel.TransactionTypePayment,
				Amount:                p.Amount,
				Currency:              p.Currency,
				ProviderTransactionID: result.ExternalTxnID,
				Success:               true,
			}); err != nil {
				return err
			}

			confirmed, err := tx.ConfirmOrderPayment(p.OrderID, now)
			if err != nil {
				return err
			}
			if !confirmed {
				s.logger.Error("payment settled for an order that can no longer be confirmed, refund required",
					"payment_id", p.ID,
					"order_id", p.OrderID)
			}

			evts = append(evts, events.NewPaymentCompletedEvent(
				p.ID, p.OrderID, p.Provider, p.Amount, p.Currency, result.ExternalTxnID))

			s.logger.Info("payment completed via reconciliation",
				"payment_id", p.ID,
				"order_id", p.OrderID,
				"external_txn_id", result.ExternalTxnID)
			return nil
		}

		code := strconv.Itoa(result.ResultCode)
		message := result.ResultDescription
		p.Status = paymentmodel.StatusFailed
		p.ErrorCode = &code
		p.ErrorMessage = &message
		p.ProcessedAt = &now
		if err := tx.UpdatePayment(p); err != nil {
			return err
		}

		if mt != nil {
			rc := result.ResultCode
			mt.Status = paymentmodel.MpesaStatusFailed
			if result.ResultCode == mpesaResultCancelled {
				mt.Status = paymentmodel.MpesaStatusCancelled
			}
			mt.ResultCode = &rc
			mt.ResultDescription = result.ResultDescription
			mt.CompletedAt = &now
			if err := tx.UpdateMpesaTransaction(mt); err != nil {
				return err
			}
		}

		if err := tx.CreateTransaction(&paymentmodel.Transaction{
			PaymentID:    p.ID,
			Type:         paymentmodel.TransactionTypePayment,
			Amount:       p.Amount,
			Currency:     p.Currency,
			Success:      false,
			ErrorMessage: result.ResultDescription,
		}); err != nil {
			return err
		}

		evts = append(evts, events.NewPaymentFailedEvent(
			p.ID, p.OrderID, p.Provider, p.Amount, result.ResultDescription))

		s.logger.Info("payment failed via reconciliation",
			"payment_id", p.ID,
			"order_id", p.OrderID,
			"result_code", result.ResultCode,
			"result_desc", result.ResultDescription)
		return nil
	})
	if err != nil {
		return apperrors.NewInternalError("reconciliation failed", err)
	}

	for _, e := range evts {
		s.eventBus.Publish(ctx, e)
	}
	return nil
}

// QueryMpesaStatus asks the provider for the current state of a push and
// reconciles the answer. Used for payments stuck in processing when the
// callback never arrived.
func (s *Service) QueryMpesaStatus(ctx context.Context, paymentID string) (*PaymentStatusResponse, error) {
	p, err := s.repo.GetPaymentByID(paymentID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.ErrPaymentNotFound
		}
		return nil, apperrors.NewInternalError("failed to load payment", err)
	}

	if !p.IsTerminal() {
		mt, err := s.repo.GetMpesaByPaymentID(p.ID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, apperrors.NewValidationError("payment has no mobile money transaction", apperrors.ErrCodeValidationFailed)
			}
			return nil, apperrors.NewInternalError("failed to load mobile money transaction", err)
		}

		result, err := s.mpesa.QueryStatus(ctx, mt.CheckoutRequestID)
		if err != nil {
			if errors.Is(err, gateway.ErrUnavailable) {
				return nil, apperrors.NewGatewayUnavailableError("status query could not reach the provider", err)
			}
			return nil, apperrors.NewGatewayRejectedError("status query was rejected", err)
		}

		if err := s.Reconcile(ctx, p.ID, result); err != nil {
			return nil, err
		}
	}

	return s.GetPaymentStatus(ctx, paymentID)
}

// ReconcileStuck sweeps payments left in processing longer than maxAge and
// queries the provider for each. Returns how many payments were checked.
func (s *Service) ReconcileStuck(ctx context.Context, maxAge time.Duration) (int, error) {
	cutoff := time.Now().Add(-maxAge)
	stuck, err := s.repo.ListProcessingOlderThan(cutoff)
	if err != nil {
		return 0, apperrors.NewInternalError("failed to list stuck payments", err)
	}

	checked := 0
	for _, p := range stuck {
		if p.Provider != paymentmodel.ProviderMpesa {
			continue
		}
		if _, err := s.QueryMpesaStatus(ctx, p.ID); err != nil {
			s.logger.Error("reconciliation sweep failed for payment",
				"payment_id", p.ID,
				"error", err)
			continue
		}
		checked++
	}

	s.logger.Info("reconciliation sweep finished", "stuck", len(stuck), "checked", checked)
	return checked, nil
}

// completePayment records a successful synchronous confirmation.
func (s *Service) completePayment(ctx context.Context, paymentID, providerTxnID string, raw []byte) error {
	var evts []events.Event
	err := s.repo.Transact(func(tx Repository) error {
		p, err := tx.GetPaymentForUpdate(paymentID)
		if err != nil {
			return err
		}
		if p.IsTerminal() {
			s.logger.Info("completion skipped, payment already terminal",
				"payment_id", p.ID, "status", p.Status)
			return nil
		}

		now := time.Now()
		p.Status = paymentmodel.StatusCompleted
		p.ProcessedAt = &now
		if err := tx.UpdatePayment(p); err != nil {
			return err
		}
		if err := tx.CreateTransaction(&paymentmodel.Transaction{
			PaymentID:             p.ID,
			Type:                  paymentmodel.TransactionTypePayment,
			Amount:                p.Amount,
			Currency:              p.Currency,
			ProviderTransactionID: providerTxnID,
			ProviderData:          raw,
			Success:               true,
		}); err != nil {
			return err
		}
		confirmed, err := tx.ConfirmOrderPayment(p.OrderID, now)
		if err != nil {
			return err
		}
		if !confirmed {
			s.logger.Error("payment settled for an order that can no longer be confirmed, refund required",
				"payment_id", p.ID,
				"order_id", p.OrderID)
		}

		evts = append(evts, events.NewPaymentCompletedEvent(
			p.ID, p.OrderID, p.Provider, p.Amount, p.Currency, providerTxnID))
		return nil
	})
	if err != nil {
		return err
	}

	for _, e := range evts {
		s.eventBus.Publish(ctx, e)
	}
	return nil
}

// failPayment records a synchronous decline. The order is left untouched so
// the buyer can retry with another method.
func (s *Service) failPayment(ctx context.Context, paymentID, errorCode, errorMessage string, raw []byte) error {
	var evts []events.Event
	err := s.repo.Transact(func(tx Repository) error {
		p, err := tx.GetPaymentForUpdate(paymentID)
		if err != nil {
			return err
		}
		if p.IsTerminal() {
			return nil
		}

		now := time.Now()
		p.Status = paymentmodel.StatusFailed
		p.ProcessedAt = &now
		if errorCode != "" {
			p.ErrorCode = &errorCode
		}
		if errorMessage != "" {
			p.ErrorMessage = &errorMessage
		}
		if err := tx.UpdatePayment(p); err != nil {
			return err
		}
		if err := tx.CreateTransaction(&paymentmodel.Transaction{
			PaymentID:    p.ID,
			Type:         paymentmodel.TransactionTypePayment,
			Amount:       p.Amount,
			Currency:     p.Currency,
			ProviderData: raw,
			Success:      false,
			ErrorMessage: errorMessage,
		}); err != nil {
			return err
		}

		evts = append(evts, events.NewPaymentFailedEvent(
			p.ID, p.OrderID, p.Provider, p.Amount, errorMessage))
		return nil
	})
	if err != nil {
		return err
	}

	for _, e := range evts {
		s.eventBus.Publish(ctx, e)
	}
	return nil
}

// mapGatewayError converts adapter sentinel errors to API errors. Rejections
// during initiation fail the payment; unavailability leaves it untouched.
func (s *Service) mapGatewayError(ctx context.Context, p *paymentmodel.Payment, err error, op string) error {
	switch {
	case errors.Is(err, gateway.ErrUnavailable):
		s.logger.Warn("gateway unavailable",
			"payment_id", p.ID,
			"operation", op,
			"error", err)
		return apperrors.NewGatewayUnavailableError("payment provider is unavailable, try again", err)
	case errors.Is(err, gateway.ErrRejected):
		if failErr := s.failPayment(ctx, p.ID, "", err.Error(), nil); failErr != nil {
			s.logger.Error("failed to record rejected payment", "error", failErr, "payment_id", p.ID)
		}
		return apperrors.NewGatewayRejectedError("payment was rejected by the provider", err)
	default:
		return apperrors.NewInternalError("gateway "+op+" failed", err)
	}
}
