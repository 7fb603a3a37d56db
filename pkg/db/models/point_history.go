package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/shopmall/shopmall-backend/pkg/enums"
)

// PointHistory is an append-only ledger row. Points is the signed delta and
// Balance snapshots the user's balance after applying it. Credit rows carry
// Remaining so debits can consume them oldest-first.
type PointHistory struct {
	ID          uuid.UUID              `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	UserID      uuid.UUID              `gorm:"column:user_id;type:uuid;not null;index"`
	OrderID     *uuid.UUID             `gorm:"column:order_id;type:uuid;index"`
	Type        enums.PointHistoryType `gorm:"column:type;type:point_history_type;not null"`
	Points      int64                  `gorm:"column:points;not null"`
	Balance     int64                  `gorm:"column:balance;not null"`
	Remaining   *int64                 `gorm:"column:remaining"`
	Description string                 `gorm:"column:description;not null"`
	CreatedAt   time.Time              `gorm:"column:created_at;autoCreateTime"`
}
