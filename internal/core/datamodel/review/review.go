package review

import "time"

type Review struct {
	ID        int64     `gorm:"primaryKey"`
	ProductID int64     `gorm:"column:product_id;not null;uniqueIndex:idx_reviews_product_user"`
	UserID    int64     `gorm:"column:user_id;not null;uniqueIndex:idx_reviews_product_user"`
	Rating    int       `gorm:"column:rating;not null"`
	Title     string    `gorm:"column:title"`
	Comment   string    `gorm:"column:comment"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}
