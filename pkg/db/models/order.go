package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/shopmall/shopmall-backend/pkg/enums"
)

// Order is the buyer-facing purchase. TotalAmount is the order total in won
// and is what the gateway approves; UsedPoints is the portion covered from the
// point balance and only shrinks the earn base, never the gateway charge.
type Order struct {
	ID           uuid.UUID         `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	UserID       uuid.UUID         `gorm:"column:user_id;type:uuid;not null;index"`
	OrderNumber  string            `gorm:"column:order_number;not null;uniqueIndex"`
	Status       enums.OrderStatus `gorm:"column:status;type:order_status;not null;default:'pending'"`
	TotalAmount  int64             `gorm:"column:total_amount;not null"`
	UsedPoints   int64             `gorm:"column:used_points;not null;default:0"`
	EarnedPoints int64             `gorm:"column:earned_points;not null;default:0"`
	ShippingFee  int64             `gorm:"column:shipping_fee;not null;default:0"`

	RecipientName   string  `gorm:"column:recipient_name;not null"`
	RecipientPhone  string  `gorm:"column:recipient_phone;not null"`
	ShippingAddress string  `gorm:"column:shipping_address;not null"`
	ShippingMemo    *string `gorm:"column:shipping_memo"`

	Items     []OrderItem `gorm:"foreignKey:OrderID;constraint:OnDelete:CASCADE"`
	PaidAt    *time.Time  `gorm:"column:paid_at"`
	CreatedAt time.Time   `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time   `gorm:"column:updated_at;autoUpdateTime"`
}

// PayableAmount is the cash portion after points, the base for point earning.
func (o Order) PayableAmount() int64 {
	return o.TotalAmount - o.UsedPoints
}

// OrderItem snapshots a product line at order time.
type OrderItem struct {
	ID          uuid.UUID `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	OrderID     uuid.UUID `gorm:"column:order_id;type:uuid;not null;index"`
	ProductID   uuid.UUID `gorm:"column:product_id;type:uuid;not null"`
	ProductName string    `gorm:"column:product_name;not null"`
	UnitPrice   int64     `gorm:"column:unit_price;not null"`
	Quantity    int       `gorm:"column:quantity;not null"`
	CreatedAt   time.Time `gorm:"column:created_at;autoCreateTime"`
}
