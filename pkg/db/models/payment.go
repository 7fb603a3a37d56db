package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/shopmall/shopmall-backend/pkg/enums"
)

// Payment is a single attempt to settle an order through the gateway. An
// order has at most one live payment row; re-requesting deletes the stale
// unconfirmed row and creates a fresh one with a new TossOrderID.
type Payment struct {
	ID          uuid.UUID           `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	OrderID     uuid.UUID           `gorm:"column:order_id;type:uuid;not null;uniqueIndex"`
	UserID      uuid.UUID           `gorm:"column:user_id;type:uuid;not null;index"`
	TossOrderID string              `gorm:"column:toss_order_id;not null;uniqueIndex"`
	PaymentKey  *string             `gorm:"column:payment_key;uniqueIndex"`
	Method      enums.PaymentMethod `gorm:"column:method;type:payment_method;not null"`
	Amount      int64               `gorm:"column:amount;not null"`
	Status      enums.PaymentStatus `gorm:"column:status;type:payment_status;not null;default:'ready'"`
	IsPaid      bool                `gorm:"column:is_paid;not null;default:false"`
	IsCanceled  bool                `gorm:"column:is_canceled;not null;default:false"`
	ReceiptURL  *string             `gorm:"column:receipt_url"`

	CanceledAmount int64           `gorm:"column:canceled_amount;not null;default:0"`
	CancelReason   *string         `gorm:"column:cancel_reason"`
	FailureReason  *string         `gorm:"column:failure_reason"`
	RawResponse    json.RawMessage `gorm:"column:raw_response;type:jsonb"`

	RequestedAt time.Time  `gorm:"column:requested_at;not null"`
	ApprovedAt  *time.Time `gorm:"column:approved_at"`
	CanceledAt  *time.Time `gorm:"column:canceled_at"`
	CreatedAt   time.Time  `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt   time.Time  `gorm:"column:updated_at;autoUpdateTime"`
}

// IsConfirmable reports whether a confirm call may proceed from the current
// state. An in_progress payment is already being settled by the worker, so it
// is not confirmable again.
func (p Payment) IsConfirmable() bool {
	return !p.IsPaid && p.Status == enums.PaymentStatusReady
}
