package review

import (
	"context"
	"log/slog"

	apperrors "github.com/sokocart/sokocart/internal"
	reviewmodel "github.com/sokocart/sokocart/internal/core/datamodel/review"
)

const defaultPageSize = 20

type Service struct {
	repo    Repository
	catalog CatalogAPI
	logger  *slog.Logger
}

func NewService(repo Repository, catalog CatalogAPI, logger *slog.Logger) *Service {
	return &Service{
		repo:    repo,
		catalog: catalog,
		logger:  logger,
	}
}

func (s *Service) CreateReview(ctx context.Context, userID, productID int64, req *CreateReviewRequest) (*ReviewResponse, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	if _, err := s.catalog.GetProduct(ctx, productID); err != nil {
		return nil, err
	}

	existing, err := s.repo.GetByProductAndUser(productID, userID)
	if err != nil {
		return nil, apperrors.NewInternalError("failed to check existing review", err)
	}
	if existing != nil {
		return nil, apperrors.NewConflictError(
			"you have already reviewed this product", apperrors.ErrCodeReviewExists)
	}

	rev := &reviewmodel.Review{
		ProductID: productID,
		UserID:    userID,
		Rating:    req.Rating,
		Title:     req.Title,
		Comment:   req.Comment,
	}
	if err := s.repo.Create(rev); err != nil {
		s.logger.Error("failed to create review", "error", err, "product_id", productID, "user_id", userID)
		return nil, apperrors.NewInternalError("failed to create review", err)
	}

	s.refreshRating(ctx, productID)

	s.logger.Info("review created",
		"review_id", rev.ID,
		"product_id", productID,
		"user_id", userID,
		"rating", rev.Rating)

	return toReviewResponse(rev), nil
}

// UpdateReview replaces the caller's existing review of the product.
func (s *Service) UpdateReview(ctx context.Context, userID, productID int64, req *CreateReviewRequest) (*ReviewResponse, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	existing, err := s.repo.GetByProductAndUser(productID, userID)
	if err != nil {
		return nil, apperrors.NewInternalError("failed to load review", err)
	}
	if existing == nil {
		return nil, apperrors.NewNotFoundError("Review not found", apperrors.ErrCodeProductNotFound)
	}

	existing.Rating = req.Rating
	existing.Title = req.Title
	existing.Comment = req.Comment
	if err := s.repo.Update(existing); err != nil {
		return nil, apperrors.NewInternalError("failed to update review", err)
	}

	s.refreshRating(ctx, productID)

	return toReviewResponse(existing), nil
}

func (s *Service) ListProductReviews(ctx context.Context, productID int64, limit, offset int) ([]*ReviewResponse, error) {
	if limit <= 0 || limit > 100 {
		limit = defaultPageSize
	}
	if offset < 0 {
		offset = 0
	}

	reviews, err := s.repo.GetByProduct(productID, limit, offset)
	if err != nil {
		return nil, apperrors.NewInternalError("failed to list reviews", err)
	}

	out := make([]*ReviewResponse, 0, len(reviews))
	for _, rev := range reviews {
		out = append(out, toReviewResponse(rev))
	}
	return out, nil
}

// refreshRating recomputes the product's denormalized rating columns. A
// failure here leaves the review in place; the aggregate catches up on the
// next write.
func (s *Service) refreshRating(ctx context.Context, productID int64) {
	average, count, err := s.repo.Aggregate(productID)
	if err != nil {
		s.logger.Error("failed to aggregate ratings", "error", err, "product_id", productID)
		return
	}
	if err := s.catalog.UpdateRating(ctx, productID, average, count); err != nil {
		s.logger.Error("failed to push rating aggregate", "error", err, "product_id", productID)
	}
}
