package review

import (
	"context"

	"github.com/shopspring/decimal"
	reviewmodel "github.com/sokocart/sokocart/internal/core/datamodel/review"
	"github.com/sokocart/sokocart/internal/product"
)

// Repository defines the data access methods for product reviews.
type Repository interface {
	Create(rev *reviewmodel.Review) error
	Update(rev *reviewmodel.Review) error
	GetByProduct(productID int64, limit, offset int) ([]*reviewmodel.Review, error)
	// GetByProductAndUser returns nil without error when the user has not
	// reviewed the product.
	GetByProductAndUser(productID, userID int64) (*reviewmodel.Review, error)
	// Aggregate computes the average rating and review count for a product.
	Aggregate(productID int64) (decimal.Decimal, int, error)
}

// CatalogAPI is what the review service needs from the product service.
type CatalogAPI interface {
	GetProduct(ctx context.Context, id int64) (*product.ProductResponse, error)
	UpdateRating(ctx context.Context, productID int64, average decimal.Decimal, count int) error
}

type ServiceAPI interface {
	CreateReview(ctx context.Context, userID, productID int64, req *CreateReviewRequest) (*ReviewResponse, error)
	UpdateReview(ctx context.Context, userID, productID int64, req *CreateReviewRequest) (*ReviewResponse, error)
	ListProductReviews(ctx context.Context, productID int64, limit, offset int) ([]*ReviewResponse, error)
}
