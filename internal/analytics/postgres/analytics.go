package postgres

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/sokocart/sokocart/internal/analytics"
	ordermodel "github.com/sokocart/sokocart/internal/core/datamodel/order"
	paymentmodel "github.com/sokocart/sokocart/internal/core/datamodel/payment"
	"gorm.io/gorm"
)

type AnalyticsRepository struct {
	db *gorm.DB
}

func NewAnalyticsRepository(db *gorm.DB) analytics.Repository {
	return &AnalyticsRepository{
		db: db,
	}
}

func (r *AnalyticsRepository) OrdersByStatus(from, to time.Time) ([]analytics.StatusBreakdown, error) {
	var rows []analytics.StatusBreakdown
	err := r.db.Model(&ordermodel.Order{}).
		Select("status, COUNT(*) AS orders, COALESCE(SUM(total), 0) AS revenue").
		Where("created_at >= ? AND created_at < ?", from, to).
		Group("status").
		Order("status").
		Scan(&rows).Error
	return rows, err
}

func (r *AnalyticsRepository) PaymentsByProvider(from, to time.Time) ([]analytics.MethodBreakdown, error) {
	var rows []analytics.MethodBreakdown
	err := r.db.Model(&paymentmodel.Payment{}).
		Select("provider, COUNT(*) AS payments, COALESCE(SUM(amount), 0) AS volume").
		Where("status IN ?", []string{
			paymentmodel.StatusCompleted,
			paymentmodel.StatusRefunded,
			paymentmodel.StatusPartiallyRefunded,
		}).
		Where("processed_at >= ? AND processed_at < ?", from, to).
		Group("provider").
		Order("provider").
		Scan(&rows).Error
	return rows, err
}

func (r *AnalyticsRepository) TopProducts(from, to time.Time, limit int) ([]analytics.TopProduct, error) {
	var rows []analytics.TopProduct
	err := r.db.Table("order_items").
		Select("order_items.product_id AS product_id, products.name AS name, "+
			"SUM(order_items.quantity) AS units, "+
			"COALESCE(SUM(order_items.price * order_items.quantity), 0) AS revenue").
		Joins("JOIN orders ON orders.id = order_items.order_id").
		Joins("JOIN products ON products.id = order_items.product_id").
		Where("orders.payment_status = ?", ordermodel.PaymentStatusPaid).
		Where("orders.created_at >= ? AND orders.created_at < ?", from, to).
		Group("order_items.product_id, products.name").
		Order("units DESC").
		Limit(limit).
		Scan(&rows).Error
	return rows, err
}

func (r *AnalyticsRepository) RefundVolume(from, to time.Time) (decimal.Decimal, int, error) {
	var result struct {
		Volume decimal.NullDecimal
		Count  int
	}
	err := r.db.Model(&paymentmodel.Refund{}).
		Select("COALESCE(SUM(amount), 0) AS volume, COUNT(*) AS count").
		Where("status = ?", paymentmodel.RefundStatusCompleted).
		Where("created_at >= ? AND created_at < ?", from, to).
		Scan(&result).Error
	if err != nil {
		return decimal.Zero, 0, err
	}
	if !result.Volume.Valid {
		return decimal.Zero, 0, nil
	}
	return result.Volume.Decimal, result.Count, nil
}
