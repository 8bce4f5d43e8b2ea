package review

import (
	"time"

	"github.com/sokocart/sokocart/internal/core/common/validation"
	reviewmodel "github.com/sokocart/sokocart/internal/core/datamodel/review"
	errors "github.com/sokocart/sokocart/internal"
)

type CreateReviewRequest struct {
	Rating  int    `json:"rating"`
	Title   string `json:"title"`
	Comment string `json:"comment"`
}

func (r *CreateReviewRequest) Validate() error {
	validator := validation.NewValidator()

	validator.Field("rating", r.Rating).
		MinInt(1, errors.ErrCodeInvalidRating).
		MaxInt(5, errors.ErrCodeInvalidRating)
	validator.Field("title", r.Title).MaxLength(150)
	validator.Field("comment", r.Comment).MaxLength(2000)

	if appErr := validator.Validate(); appErr != nil {
		return appErr
	}
	return nil
}

type ReviewResponse struct {
	ID        int64     `json:"id"`
	ProductID int64     `json:"product_id"`
	UserID    int64     `json:"user_id"`
	Rating    int       `json:"rating"`
	Title     string    `json:"title,omitempty"`
	Comment   string    `json:"comment,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func toReviewResponse(rev *reviewmodel.Review) *ReviewResponse {
	return &ReviewResponse{
		ID:        rev.ID,
		ProductID: rev.ProductID,
		UserID:    rev.UserID,
		Rating:    rev.Rating,
		Title:     rev.Title,
		Comment:   rev.Comment,
		CreatedAt: rev.CreatedAt,
		UpdatedAt: rev.UpdatedAt,
	}
}
