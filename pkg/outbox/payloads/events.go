package payloads

import (
	"time"

	"github.com/google/uuid"

	"github.com/shopmall/shopmall-backend/pkg/enums"
)

// PaymentConfirmRequestedEvent asks the settlement worker to confirm a payment
// with the gateway asynchronously.
type PaymentConfirmRequestedEvent struct {
	PaymentID   uuid.UUID `json:"payment_id"`
	OrderID     uuid.UUID `json:"order_id"`
	TossOrderID string    `json:"toss_order_id"`
	PaymentKey  string    `json:"payment_key"`
	Amount      int64     `json:"amount"`
	UserID      uuid.UUID `json:"user_id"`
}

// PaymentSettledEvent is emitted once a payment is fully settled: approved,
// stock committed and points applied.
type PaymentSettledEvent struct {
	PaymentID   uuid.UUID           `json:"payment_id"`
	OrderID     uuid.UUID           `json:"order_id"`
	TossOrderID string              `json:"toss_order_id"`
	Amount      int64               `json:"amount"`
	Method      enums.PaymentMethod `json:"method,omitempty"`
	ApprovedAt  time.Time           `json:"approved_at"`
}

// PaymentAbortedEvent reports a confirm that failed terminally.
type PaymentAbortedEvent struct {
	PaymentID   uuid.UUID `json:"payment_id"`
	OrderID     uuid.UUID `json:"order_id"`
	TossOrderID string    `json:"toss_order_id"`
	Reason      string    `json:"reason,omitempty"`
}

// PaymentCanceledEvent is emitted when a settled payment is canceled and its
// side effects (stock, points) have been rolled back.
type PaymentCanceledEvent struct {
	PaymentID      uuid.UUID `json:"payment_id"`
	OrderID        uuid.UUID `json:"order_id"`
	TossOrderID    string    `json:"toss_order_id"`
	CancelAmount   int64     `json:"cancel_amount"`
	RefundedPoints int64     `json:"refunded_points"`
	CanceledAt     time.Time `json:"canceled_at"`
}

// OrderPlacedEvent signals a new order awaiting payment.
type OrderPlacedEvent struct {
	OrderID     uuid.UUID `json:"order_id"`
	OrderNumber string    `json:"order_number"`
	UserID      uuid.UUID `json:"user_id"`
	TotalAmount int64     `json:"total_amount"`
	UsedPoints  int64     `json:"used_points"`
	ItemCount   int       `json:"item_count"`
}
