package analytics

import (
	"context"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"
	apperrors "github.com/sokocart/sokocart/internal"
	ordermodel "github.com/sokocart/sokocart/internal/core/datamodel/order"
)

const topProductLimit = 10

type Service struct {
	repo   Repository
	logger *slog.Logger
}

func NewService(repo Repository, logger *slog.Logger) *Service {
	return &Service{
		repo:   repo,
		logger: logger,
	}
}

// normalizeWindow defaults to the trailing 30 days and refuses inverted
// ranges.
func normalizeWindow(from, to time.Time) (time.Time, time.Time, error) {
	if to.IsZero() {
		to = time.Now()
	}
	if from.IsZero() {
		from = to.AddDate(0, 0, -30)
	}
	if from.After(to) {
		return from, to, apperrors.NewValidationError(
			"from must be before to", apperrors.ErrCodeValidationFailed)
	}
	return from, to, nil
}

func (s *Service) SalesSummary(ctx context.Context, from, to time.Time) (*SalesSummaryResponse, error) {
	from, to, err := normalizeWindow(from, to)
	if err != nil {
		return nil, err
	}

	byStatus, err := s.repo.OrdersByStatus(from, to)
	if err != nil {
		s.logger.Error("failed to load order stats", "error", err)
		return nil, apperrors.NewInternalError("failed to load sales summary", err)
	}

	top, err := s.repo.TopProducts(from, to, topProductLimit)
	if err != nil {
		s.logger.Error("failed to load top products", "error", err)
		return nil, apperrors.NewInternalError("failed to load sales summary", err)
	}

	resp := &SalesSummaryResponse{
		From:         from,
		To:           to,
		GrossRevenue: decimal.Zero,
		ByStatus:     byStatus,
		TopProducts:  top,
	}
	for _, row := range byStatus {
		resp.TotalOrders += row.Orders
		// revenue counts orders that made it past payment
		if row.Status != ordermodel.StatusPending && row.Status != ordermodel.StatusCancelled {
			resp.GrossRevenue = resp.GrossRevenue.Add(row.Revenue)
		}
	}
	return resp, nil
}

func (s *Service) PaymentBreakdown(ctx context.Context, from, to time.Time) (*PaymentBreakdownResponse, error) {
	from, to, err := normalizeWindow(from, to)
	if err != nil {
		return nil, err
	}

	byProvider, err := s.repo.PaymentsByProvider(from, to)
	if err != nil {
		s.logger.Error("failed to load payment breakdown", "error", err)
		return nil, apperrors.NewInternalError("failed to load payment breakdown", err)
	}

	refunded, refundCount, err := s.repo.RefundVolume(from, to)
	if err != nil {
		s.logger.Error("failed to load refund volume", "error", err)
		return nil, apperrors.NewInternalError("failed to load payment breakdown", err)
	}

	return &PaymentBreakdownResponse{
		From:           from,
		To:             to,
		ByProvider:     byProvider,
		RefundedAmount: refunded,
		RefundCount:    refundCount,
	}, nil
}
