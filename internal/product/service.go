package product

import (
	"context"
	"errors"
	"log/slog"

	"github.com/shopspring/decimal"
	apperrors "github.com/sokocart/sokocart/internal"
	productmodel "github.com/sokocart/sokocart/internal/core/datamodel/product"
	"github.com/sokocart/sokocart/internal/core/events"
	"gorm.io/gorm"
)

const defaultPageSize = 20

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

func (s *Service) ListProducts(ctx context.Context, limit, offset int) ([]*ProductResponse, error) {
	if limit <= 0 || limit > 100 {
		limit = defaultPageSize
	}
	if offset < 0 {
		offset = 0
	}

	products, err := s.repo.GetAll(limit, offset)
	if err != nil {
		s.logger.Error("failed to list products", "error", err)
		return nil, apperrors.NewInternalError("failed to list products", err)
	}

	out := make([]*ProductResponse, 0, len(products))
	for _, p := range products {
		out = append(out, toProductResponse(p))
	}
	return out, nil
}

func (s *Service) GetProduct(ctx context.Context, id int64) (*ProductResponse, error) {
	p, err := s.repo.GetByID(id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.ErrProductNotFound
		}
		s.logger.Error("failed to get product", "error", err, "product_id", id)
		return nil, apperrors.NewInternalError("failed to get product", err)
	}
	return toProductResponse(p), nil
}

// GetVariantForPurchase resolves a product and variant for order checkout.
// Inactive products and soft-deleted variants are not purchasable.
func (s *Service) GetVariantForPurchase(productID, variantID int64) (*productmodel.Product, *productmodel.ProductVariant, error) {
	p, err := s.repo.GetByID(productID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil, apperrors.ErrProductNotFound
		}
		return nil, nil, apperrors.NewInternalError("failed to load product", err)
	}
	if !p.IsActive {
		return nil, nil, apperrors.ErrProductNotFound
	}

	v, err := s.repo.GetVariant(variantID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil, apperrors.ErrProductNotFound
		}
		return nil, nil, apperrors.NewInternalError("failed to load variant", err)
	}
	if v.ProductID != p.ID || v.DeletedAt != nil {
		return nil, nil, apperrors.ErrProductNotFound
	}

	return p, v, nil
}

func (s *Service) UpdateRating(ctx context.Context, productID int64, average decimal.Decimal, count int) error {
	if err := s.repo.UpdateRating(productID, average, count); err != nil {
		s.logger.Error("failed to update product rating", "error", err, "product_id", productID)
		return apperrors.NewInternalError("failed to update product rating", err)
	}
	return nil
}

func (s *Service) AdjustStock(ctx context.Context, adjustments []events.StockAdjustment) error {
	for _, adj := range adjustments {
		if err := s.repo.AdjustStock(adj.VariantID, adj.Quantity); err != nil {
			s.logger.Warn("stock adjustment failed",
				"variant_id", adj.VariantID,
				"quantity", adj.Quantity,
				"error", err)
			return err
		}
	}
	return nil
}
