package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/shopmall/shopmall-backend/pkg/enums"
)

// User represents the canonical identity entity. Points mirrors the sum of
// the user's point_histories rows and is only mutated through atomic updates.
type User struct {
	ID           uuid.UUID            `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	Email        string               `gorm:"type:text;not null;uniqueIndex"`
	PasswordHash string               `gorm:"column:password_hash;not null"`
	Name         string               `gorm:"column:name;not null"`
	Phone        *string              `gorm:"column:phone"`
	Tier         enums.MembershipTier `gorm:"column:tier;type:membership_tier;not null;default:'bronze'"`
	Points       int64                `gorm:"column:points;not null;default:0"`
	IsActive     bool                 `gorm:"column:is_active;not null;default:true"`
	CreatedAt    time.Time            `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt    time.Time            `gorm:"column:updated_at;autoUpdateTime"`
}
