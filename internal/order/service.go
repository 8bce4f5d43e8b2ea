package order

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	apperrors "github.com/sokocart/sokocart/internal"
	ordermodel "github.com/sokocart/sokocart/internal/core/datamodel/order"
	"github.com/sokocart/sokocart/internal/core/events"
	"gorm.io/gorm"
)

// Checkout pricing rules. Shipping is waived above the threshold; tax is
// applied to the subtotal.
var (
	flatShippingRate      = decimal.NewFromInt(250)
	freeShippingThreshold = decimal.NewFromInt(5000)
	taxRate               = decimal.NewFromFloat(0.16)
)

type Service struct {
	repo     Repository
	catalog  CatalogAPI
	eventBus *events.EventBus
	logger   *slog.Logger
}

func NewService(repo Repository, catalog CatalogAPI, eventBus *events.EventBus, logger *slog.Logger) *Service {
	return &Service{
		repo:     repo,
		catalog:  catalog,
		eventBus: eventBus,
		logger:   logger,
	}
}

// generateOrderNumber builds a short human-readable reference like
// ORD-20260901-3F2A19.
func generateOrderNumber() string {
	suffix := uuid.New().String()[:6]
	return fmt.Sprintf("ORD-%s-%s", time.Now().Format("20060102"), suffix)
}

func (s *Service) Checkout(ctx context.Context, userID int64, req *CheckoutRequest) (*OrderResponse, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	order := &ordermodel.Order{
		UserID:          userID,
		OrderNumber:     generateOrderNumber(),
		Status:          ordermodel.StatusPending,
		PaymentStatus:   ordermodel.PaymentStatusPending,
		Currency:        req.Currency,
		ShippingName:    req.ShippingName,
		ShippingAddress: req.ShippingAddress,
		ShippingCity:    req.ShippingCity,
		ShippingCountry: req.ShippingCountry,
		ShippingPhone:   req.ShippingPhone,
	}

	subtotal := decimal.Zero
	adjustments := make([]events.StockAdjustment, 0, len(req.Items))
	for _, item := range req.Items {
		product, variant, err := s.catalog.GetVariantForPurchase(item.ProductID, item.VariantID)
		if err != nil {
			return nil, err
		}
		if product.Currency != req.Currency {
			return nil, apperrors.NewValidationError(
				"product currency does not match order currency", apperrors.ErrCodeInvalidCurrency)
		}
		if variant.StockQuantity < item.Quantity {
			return nil, apperrors.NewConflictError(
				fmt.Sprintf("insufficient stock for %s", variant.SKU), apperrors.ErrCodeInsufficientStock)
		}

		variantID := variant.ID
		order.Items = append(order.Items, ordermodel.OrderItem{
			ProductID: product.ID,
			VariantID: &variantID,
			Quantity:  item.Quantity,
			Price:     product.Price,
		})
		subtotal = subtotal.Add(product.Price.Mul(decimal.NewFromInt(int64(item.Quantity))))
		adjustments = append(adjustments, events.StockAdjustment{
			VariantID: variant.ID,
			Quantity:  -item.Quantity,
		})
	}

	order.Subtotal = subtotal
	order.ShippingCost = flatShippingRate
	if subtotal.GreaterThanOrEqual(freeShippingThreshold) {
		order.ShippingCost = decimal.Zero
	}
	order.TaxAmount = subtotal.Mul(taxRate).Round(2)
	order.Total = order.Subtotal.Add(order.ShippingCost).Add(order.TaxAmount)

	// stock is consumed before the order commits; a failed adjustment
	// aborts checkout, a failed create restores what was taken
	if err := s.catalog.AdjustStock(ctx, adjustments); err != nil {
		return nil, err
	}
	if err := s.repo.Create(order); err != nil {
		s.logger.Error("failed to create order, restoring stock", "error", err, "user_id", userID)
		if restoreErr := s.catalog.AdjustStock(ctx, invertAdjustments(adjustments)); restoreErr != nil {
			s.logger.Error("stock restore after failed checkout also failed", "error", restoreErr)
		}
		return nil, apperrors.NewInternalError("failed to create order", err)
	}

	s.eventBus.Publish(ctx, events.NewOrderCreatedEvent(
		order.ID, order.OrderNumber, userID, order.Total, order.Currency, adjustments))

	s.logger.Info("order created",
		"order_id", order.ID,
		"order_number", order.OrderNumber,
		"user_id", userID,
		"total", order.Total.String())

	return toOrderResponse(order), nil
}

func invertAdjustments(adjustments []events.StockAdjustment) []events.StockAdjustment {
	out := make([]events.StockAdjustment, 0, len(adjustments))
	for _, a := range adjustments {
		out = append(out, events.StockAdjustment{VariantID: a.VariantID, Quantity: -a.Quantity})
	}
	return out
}

func (s *Service) GetOrder(ctx context.Context, orderID, userID int64, isStaff bool) (*OrderResponse, error) {
	order, err := s.repo.GetByID(orderID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.ErrOrderNotFound
		}
		return nil, apperrors.NewInternalError("failed to load order", err)
	}
	if !isStaff && order.UserID != userID {
		return nil, apperrors.ErrUnauthorizedAccess
	}
	return toOrderResponse(order), nil
}

func (s *Service) ListUserOrders(ctx context.Context, userID int64, limit, offset int) ([]*OrderResponse, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}

	orders, err := s.repo.GetByUserID(userID, limit, offset)
	if err != nil {
		return nil, apperrors.NewInternalError("failed to list orders", err)
	}

	out := make([]*OrderResponse, 0, len(orders))
	for _, o := range orders {
		out = append(out, toOrderResponse(o))
	}
	return out, nil
}

// CancelOrder cancels a buyer's own order and restores the stock its items
// consumed. Paid orders must go through a refund first.
func (s *Service) CancelOrder(ctx context.Context, orderID, userID int64) error {
	order, err := s.repo.GetByID(orderID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return apperrors.ErrOrderNotFound
		}
		return apperrors.NewInternalError("failed to load order", err)
	}
	if order.UserID != userID {
		return apperrors.ErrUnauthorizedAccess
	}
	if !order.Cancellable() {
		return apperrors.NewConflictError("order cannot be cancelled in its current status", apperrors.ErrCodeOrderNotCancelable)
	}
	if order.PaymentStatus == ordermodel.PaymentStatusPaid {
		return apperrors.NewConflictError("paid orders must be refunded before cancellation", apperrors.ErrCodeOrderNotCancelable)
	}

	order.Status = ordermodel.StatusCancelled
	if err := s.repo.Update(order); err != nil {
		return apperrors.NewInternalError("failed to cancel order", err)
	}

	adjustments := make([]events.StockAdjustment, 0, len(order.Items))
	for _, item := range order.Items {
		if item.VariantID == nil {
			continue
		}
		adjustments = append(adjustments, events.StockAdjustment{
			VariantID: *item.VariantID,
			Quantity:  item.Quantity,
		})
	}

	// synchronous so stock is back before the response goes out
	if err := s.eventBus.PublishSync(ctx, events.NewOrderCancelledEvent(
		order.ID, order.OrderNumber, adjustments)); err != nil {
		s.logger.Error("stock restore on cancellation failed",
			"order_id", order.ID, "error", err)
	}

	s.logger.Info("order cancelled", "order_id", order.ID, "order_number", order.OrderNumber)
	return nil
}

// validStatusTransitions for staff updates. Payment transitions are owned by
// the payment service and are not reachable here.
var validStatusTransitions = map[string][]string{
	ordermodel.StatusConfirmed:  {ordermodel.StatusProcessing, ordermodel.StatusShipped},
	ordermodel.StatusProcessing: {ordermodel.StatusShipped},
	ordermodel.StatusShipped:    {ordermodel.StatusDelivered},
}

func (s *Service) UpdateOrderStatus(ctx context.Context, orderID int64, status string) (*OrderResponse, error) {
	order, err := s.repo.GetByID(orderID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.ErrOrderNotFound
		}
		return nil, apperrors.NewInternalError("failed to load order", err)
	}

	allowed := false
	for _, next := range validStatusTransitions[order.Status] {
		if next == status {
			allowed = true
			break
		}
	}
	if !allowed {
		return nil, apperrors.NewConflictError(
			fmt.Sprintf("cannot move order from %s to %s", order.Status, status),
			apperrors.ErrCodeInvalidOrderStatus)
	}

	now := time.Now()
	var shippedAt, deliveredAt *time.Time
	if status == ordermodel.StatusShipped {
		shippedAt = &now
	}
	if status == ordermodel.StatusDelivered {
		deliveredAt = &now
	}

	if err := s.repo.UpdateStatus(order.ID, status, shippedAt, deliveredAt); err != nil {
		return nil, apperrors.NewInternalError("failed to update order status", err)
	}

	updated, err := s.repo.GetByID(orderID)
	if err != nil {
		return nil, apperrors.NewInternalError("failed to reload order", err)
	}

	s.logger.Info("order status updated",
		"order_id", orderID,
		"from", order.Status,
		"to", status)

	return toOrderResponse(updated), nil
}
