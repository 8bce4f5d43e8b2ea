package postgres

import (
	"time"

	ordermodel "github.com/sokocart/sokocart/internal/core/datamodel/order"
	orderpkg "github.com/sokocart/sokocart/internal/order"
	"gorm.io/gorm"
)

type OrderRepository struct {
	db *gorm.DB
}

func NewOrderRepository(db *gorm.DB) orderpkg.Repository {
	return &OrderRepository{
		db: db,
	}
}

// Transact runs fn inside a database transaction. The callback receives a
// repository bound to the transaction.
func (r *OrderRepository) Transact(fn func(tx orderpkg.Repository) error) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		return fn(&OrderRepository{db: tx})
	})
}

func (r *OrderRepository) Create(o *ordermodel.Order) error {
	return r.db.Create(o).Error
}

func (r *OrderRepository) GetByID(id int64) (*ordermodel.Order, error) {
	var o ordermodel.Order
	err := r.db.Preload("Items").Where("id = ?", id).First(&o).Error
	if err != nil {
		return nil, err
	}
	return &o, nil
}

func (r *OrderRepository) GetByOrderNumber(orderNumber string) (*ordermodel.Order, error) {
	var o ordermodel.Order
	err := r.db.Preload("Items").Where("order_number = ?", orderNumber).First(&o).Error
	if err != nil {
		return nil, err
	}
	return &o, nil
}

func (r *OrderRepository) GetByUserID(userID int64, limit, offset int) ([]*ordermodel.Order, error) {
	var orders []*ordermodel.Order
	err := r.db.Preload("Items").
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Limit(limit).Offset(offset).
		Find(&orders).Error
	return orders, err
}

func (r *OrderRepository) Update(o *ordermodel.Order) error {
	return r.db.Save(o).Error
}

// UpdateStatus writes the status column plus whichever lifecycle timestamp
// applies, without touching the rest of the row.
func (r *OrderRepository) UpdateStatus(id int64, status string, shippedAt, deliveredAt *time.Time) error {
	updates := map[string]interface{}{"status": status}
	if shippedAt != nil {
		updates["shipped_at"] = shippedAt
	}
	if deliveredAt != nil {
		updates["delivered_at"] = deliveredAt
	}
	return r.db.Model(&ordermodel.Order{}).Where("id = ?", id).Updates(updates).Error
}
