package product

import (
	"time"

	"github.com/shopspring/decimal"
)

type Product struct {
	ID            int64           `gorm:"primaryKey"`
	Name          string          `gorm:"column:name;not null"`
	Slug          string          `gorm:"column:slug;uniqueIndex;not null"`
	Description   string          `gorm:"column:description"`
	Price         decimal.Decimal `gorm:"column:price;type:numeric(10,2);not null"`
	Currency      string          `gorm:"column:currency;size:3;not null"`
	IsActive      bool            `gorm:"column:is_active;default:true"`
	RatingAverage decimal.Decimal `gorm:"column:rating_average;type:numeric(3,2);default:0"`
	RatingCount   int             `gorm:"column:rating_count;default:0"`
	CreatedAt     time.Time       `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt     time.Time       `gorm:"column:updated_at;autoUpdateTime"`

	Variants []ProductVariant `gorm:"foreignKey:ProductID"`
}

type ProductVariant struct {
	ID            int64      `gorm:"primaryKey"`
	ProductID     int64      `gorm:"column:product_id;not null;index"`
	SKU           string     `gorm:"column:sku;uniqueIndex;not null"`
	Name          string     `gorm:"column:name"`
	StockQuantity int        `gorm:"column:stock_quantity;not null;default:0"`
	CreatedAt     time.Time  `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt     time.Time  `gorm:"column:updated_at;autoUpdateTime"`
	DeletedAt     *time.Time `gorm:"column:deleted_at"`
}
