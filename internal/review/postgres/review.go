package postgres

import (
	"errors"

	"github.com/shopspring/decimal"
	reviewmodel "github.com/sokocart/sokocart/internal/core/datamodel/review"
	reviewpkg "github.com/sokocart/sokocart/internal/review"
	"gorm.io/gorm"
)

type ReviewRepository struct {
	db *gorm.DB
}

func NewReviewRepository(db *gorm.DB) reviewpkg.Repository {
	return &ReviewRepository{
		db: db,
	}
}

func (r *ReviewRepository) Create(rev *reviewmodel.Review) error {
	return r.db.Create(rev).Error
}

func (r *ReviewRepository) Update(rev *reviewmodel.Review) error {
	return r.db.Save(rev).Error
}

func (r *ReviewRepository) GetByProduct(productID int64, limit, offset int) ([]*reviewmodel.Review, error) {
	var reviews []*reviewmodel.Review
	err := r.db.Where("product_id = ?", productID).
		Order("created_at DESC").
		Limit(limit).Offset(offset).
		Find(&reviews).Error
	return reviews, err
}

func (r *ReviewRepository) GetByProductAndUser(productID, userID int64) (*reviewmodel.Review, error) {
	var rev reviewmodel.Review
	err := r.db.Where("product_id = ? AND user_id = ?", productID, userID).First(&rev).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &rev, nil
}

func (r *ReviewRepository) Aggregate(productID int64) (decimal.Decimal, int, error) {
	var result struct {
		Average decimal.NullDecimal
		Count   int
	}
	err := r.db.Model(&reviewmodel.Review{}).
		Select("AVG(rating) AS average, COUNT(*) AS count").
		Where("product_id = ?", productID).
		Scan(&result).Error
	if err != nil {
		return decimal.Zero, 0, err
	}
	if !result.Average.Valid {
		return decimal.Zero, 0, nil
	}
	return result.Average.Decimal.Round(2), result.Count, nil
}
