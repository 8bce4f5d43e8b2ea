package product

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/sokocart/sokocart/internal/core/events"
)

// StockEventHandler restores variant stock when an order is cancelled. The
// order service publishes the cancellation synchronously so the restore is
// applied before the cancel response goes out.
type StockEventHandler struct {
	service ServiceAPI
	logger  *slog.Logger
}

func NewStockEventHandler(service ServiceAPI, logger *slog.Logger) *StockEventHandler {
	return &StockEventHandler{
		service: service,
		logger:  logger,
	}
}

func (h *StockEventHandler) HandleOrderCancelled(ctx context.Context, event events.Event) error {
	cancelled, ok := event.(*events.OrderCancelledEvent)
	if !ok {
		return fmt.Errorf("expected OrderCancelledEvent, got %T", event)
	}

	if err := h.service.AdjustStock(ctx, cancelled.Adjustments); err != nil {
		return fmt.Errorf("stock restore failed for order %d: %w", cancelled.OrderID, err)
	}

	h.logger.Info("stock restored for cancelled order",
		"order_id", cancelled.OrderID,
		"order_number", cancelled.OrderNumber,
		"adjustments", len(cancelled.Adjustments))
	return nil
}

func (h *StockEventHandler) RegisterEventHandlers(eventBus *events.EventBus) {
	eventBus.Subscribe(events.EventTypeOrderCancelled, h.HandleOrderCancelled)
}
