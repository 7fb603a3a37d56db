package models

import (
	"time"

	"github.com/google/uuid"
)

// Product is a sellable listing. Stock and SoldCount are only mutated through
// guarded single-statement updates so concurrent orders cannot oversell.
type Product struct {
	ID          uuid.UUID `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	Name        string    `gorm:"column:name;not null"`
	Description *string   `gorm:"column:description"`
	Price       int64     `gorm:"column:price;not null"`
	Stock       int       `gorm:"column:stock;not null;default:0"`
	SoldCount   int       `gorm:"column:sold_count;not null;default:0"`
	IsActive    bool      `gorm:"column:is_active;not null;default:true"`
	CreatedAt   time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt   time.Time `gorm:"column:updated_at;autoUpdateTime"`
}
