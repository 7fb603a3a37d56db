package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/shopmall/shopmall-backend/pkg/enums"
)

// PaymentLog is an append-only audit row. PaymentID is nullable because logs
// must survive the delete-and-recreate of an unconfirmed payment and because
// error logs are written in their own transaction after a rollback.
type PaymentLog struct {
	ID          uuid.UUID            `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	PaymentID   *uuid.UUID           `gorm:"column:payment_id;type:uuid;index"`
	TossOrderID string               `gorm:"column:toss_order_id;not null;index"`
	Type        enums.PaymentLogType `gorm:"column:type;type:payment_log_type;not null"`
	Message     string               `gorm:"column:message;not null"`
	Payload     json.RawMessage      `gorm:"column:payload;type:jsonb"`
	CreatedAt   time.Time            `gorm:"column:created_at;autoCreateTime"`
}
