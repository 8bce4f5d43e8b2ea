package postgres

import (
	"fmt"

	"github.com/shopspring/decimal"
	apperrors "github.com/sokocart/sokocart/internal"
	productmodel "github.com/sokocart/sokocart/internal/core/datamodel/product"
	productpkg "github.com/sokocart/sokocart/internal/product"
	"gorm.io/gorm"
)

func errInsufficientStock(variantID int64) error {
	return apperrors.NewConflictError(
		fmt.Sprintf("insufficient stock for variant %d", variantID),
		apperrors.ErrCodeInsufficientStock)
}

type ProductRepository struct {
	db *gorm.DB
}

func NewProductRepository(db *gorm.DB) productpkg.Repository {
	return &ProductRepository{
		db: db,
	}
}

func (r *ProductRepository) GetAll(limit, offset int) ([]*productmodel.Product, error) {
	var products []*productmodel.Product
	err := r.db.Preload("Variants", "deleted_at IS NULL").
		Where("is_active = ?", true).
		Order("created_at DESC").
		Limit(limit).Offset(offset).
		Find(&products).Error
	return products, err
}

func (r *ProductRepository) GetByID(id int64) (*productmodel.Product, error) {
	var p productmodel.Product
	err := r.db.Preload("Variants", "deleted_at IS NULL").
		Where("id = ?", id).First(&p).Error
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *ProductRepository) GetBySlug(slug string) (*productmodel.Product, error) {
	var p productmodel.Product
	err := r.db.Preload("Variants", "deleted_at IS NULL").
		Where("slug = ?", slug).First(&p).Error
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *ProductRepository) GetVariant(variantID int64) (*productmodel.ProductVariant, error) {
	var v productmodel.ProductVariant
	err := r.db.Where("id = ?", variantID).First(&v).Error
	if err != nil {
		return nil, err
	}
	return &v, nil
}

// AdjustStock applies the delta in one guarded UPDATE so concurrent
// checkouts cannot drive stock negative.
func (r *ProductRepository) AdjustStock(variantID int64, delta int) error {
	res := r.db.Model(&productmodel.ProductVariant{}).
		Where("id = ? AND stock_quantity + ? >= 0", variantID, delta).
		UpdateColumn("stock_quantity", gorm.Expr("stock_quantity + ?", delta))
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return errInsufficientStock(variantID)
	}
	return nil
}

func (r *ProductRepository) UpdateRating(productID int64, average decimal.Decimal, count int) error {
	return r.db.Model(&productmodel.Product{}).
		Where("id = ?", productID).
		Updates(map[string]interface{}{
			"rating_average": average,
			"rating_count":   count,
		}).Error
}
