package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/shopmall/shopmall-backend/pkg/enums"
)

// OutboxDLQ parks events the publisher will never retry again.
type OutboxDLQ struct {
	ID            uuid.UUID                  `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	EventID       uuid.UUID                  `gorm:"column:event_id;type:uuid;not null;uniqueIndex"`
	EventType     enums.OutboxEventType      `gorm:"column:event_type;type:event_type_enum;not null"`
	AggregateType enums.OutboxAggregateType  `gorm:"column:aggregate_type;type:aggregate_type_enum;not null"`
	AggregateID   uuid.UUID                  `gorm:"column:aggregate_id;type:uuid;not null"`
	Payload       json.RawMessage            `gorm:"column:payload;type:jsonb;not null"`
	ErrorReason   enums.OutboxDLQErrorReason `gorm:"column:error_reason;type:outbox_dlq_error_reason;not null"`
	ErrorMessage  string                     `gorm:"column:error_message;not null"`
	AttemptCount  int                        `gorm:"column:attempt_count;not null;default:0"`
	Topic         *string                    `gorm:"column:topic"`
	CreatedAt     time.Time                  `gorm:"column:created_at;autoCreateTime"`
}

// TableName pins the DLQ table name.
func (OutboxDLQ) TableName() string {
	return "outbox_dlq"
}
