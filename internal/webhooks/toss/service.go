package tosswebhook

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/shopmall/shopmall-backend/internal/payments"
	"github.com/shopmall/shopmall-backend/pkg/db/models"
	"github.com/shopmall/shopmall-backend/pkg/enums"
	pkgerrors "github.com/shopmall/shopmall-backend/pkg/errors"
	"github.com/shopmall/shopmall-backend/pkg/logger"
	"github.com/shopmall/shopmall-backend/pkg/metrics"
	"github.com/shopmall/shopmall-backend/pkg/toss"
)

// Event is the provider's webhook delivery. Data carries the full payment
// resource in the same shape the REST API returns.
type Event struct {
	EventType string       `json:"eventType"`
	CreatedAt string       `json:"createdAt"`
	Data      toss.Payment `json:"data"`
}

const (
	eventTypeStatusChanged = "PAYMENT_STATUS_CHANGED"
	eventTypeDone          = "PAYMENT.DONE"
	eventTypeCanceled      = "PAYMENT.CANCELED"
	eventTypeFailed        = "PAYMENT.FAILED"
)

type paymentService interface {
	Settle(ctx context.Context, paymentID uuid.UUID, gw *toss.Payment, mode string) error
	Cancel(ctx context.Context, input payments.CancelInput) (*payments.CancelResult, error)
	Fail(ctx context.Context, input payments.FailInput) error
}

type paymentFinder interface {
	FindByTossOrderID(ctx context.Context, tossOrderID string) (*models.Payment, error)
	CreateLog(ctx context.Context, log *models.PaymentLog) error
}

type ServiceParams struct {
	Payments paymentService
	Repo     paymentFinder
	Logger   *logger.Logger
	Metrics  *metrics.SettlementMetrics
}

// Service reconciles provider webhook deliveries against local payment state.
// Deliveries can arrive out of order and more than once; every transition it
// triggers is row-locked and idempotent on the payments side.
type Service struct {
	payments paymentService
	repo     paymentFinder
	logg     *logger.Logger
	metrics  *metrics.SettlementMetrics
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Payments == nil {
		return nil, fmt.Errorf("payments service required")
	}
	if params.Repo == nil {
		return nil, fmt.Errorf("payments repository required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &Service{
		payments: params.Payments,
		repo:     params.Repo,
		logg:     params.Logger,
		metrics:  params.Metrics,
	}, nil
}

// HandleEvent applies one webhook delivery. A nil return means the delivery
// was durably handled and must be acknowledged with 200, including verdicts
// we disagree with; an error means processing genuinely failed and the
// provider should redeliver.
func (s *Service) HandleEvent(ctx context.Context, event *Event) error {
	if event == nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "webhook event required")
	}
	status := strings.ToUpper(strings.TrimSpace(event.Data.Status))
	logCtx := s.logg.WithFields(ctx, map[string]any{
		"event_type":    event.EventType,
		"toss_order_id": event.Data.OrderID,
		"toss_status":   status,
	})

	eventType := strings.ToUpper(strings.TrimSpace(event.EventType))
	if strings.TrimSpace(event.Data.OrderID) == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "webhook payload missing order id")
	}

	var err error
	switch eventType {
	case eventTypeDone:
		s.audit(ctx, event)
		err = s.settle(ctx, event)
	case eventTypeCanceled:
		s.audit(ctx, event)
		err = s.cancel(ctx, event)
	case eventTypeFailed:
		s.audit(ctx, event)
		err = s.fail(ctx, event, status)
	case eventTypeStatusChanged:
		// legacy delivery shape, the transition rides in data.status
		s.audit(ctx, event)
		switch status {
		case "DONE":
			err = s.settle(ctx, event)
		case "CANCELED":
			err = s.cancel(ctx, event)
		case "ABORTED", "EXPIRED":
			err = s.fail(ctx, event, status)
		default:
			s.logg.Info(logCtx, "webhook status not handled")
			s.metrics.IncWebhookEvent(status, "ignored")
			return nil
		}
	default:
		s.logg.Info(logCtx, "webhook event type not handled")
		s.metrics.IncWebhookEvent(status, "ignored")
		return nil
	}

	if err == nil {
		s.metrics.IncWebhookEvent(status, "applied")
		s.logg.Info(logCtx, "webhook event applied")
		return nil
	}
	if durable(err) {
		// recorded and done: replaying the delivery cannot change the verdict
		s.metrics.IncWebhookEvent(status, "mismatch")
		s.logg.Warn(s.logg.WithField(logCtx, "error", err.Error()), "webhook event acknowledged without effect")
		return nil
	}
	s.metrics.IncWebhookEvent(status, "error")
	s.logg.Error(logCtx, "webhook event processing failed", err)
	return err
}

func (s *Service) settle(ctx context.Context, event *Event) error {
	payment, err := s.repo.FindByTossOrderID(ctx, event.Data.OrderID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return pkgerrors.New(pkgerrors.CodeNotFound, "payment not found")
		}
		return err
	}
	data := event.Data
	return s.payments.Settle(ctx, payment.ID, &data, "webhook")
}

func (s *Service) cancel(ctx context.Context, event *Event) error {
	_, err := s.payments.Cancel(ctx, payments.CancelInput{
		TossOrderID: event.Data.OrderID,
		Reason:      "provider reported cancel",
		SkipGateway: true,
	})
	return err
}

func (s *Service) fail(ctx context.Context, event *Event, status string) error {
	code := status
	if code == "" {
		code = "FAILED"
	}
	return s.payments.Fail(ctx, payments.FailInput{
		TossOrderID: event.Data.OrderID,
		ErrorCode:   code,
		Message:     "provider reported failure",
	})
}

// audit writes the raw delivery to the payment log trail. Failures here are
// logged but never block reconciliation.
func (s *Service) audit(ctx context.Context, event *Event) {
	var paymentID *uuid.UUID
	if payment, err := s.repo.FindByTossOrderID(ctx, event.Data.OrderID); err == nil {
		id := payment.ID
		paymentID = &id
	}
	if err := s.repo.CreateLog(ctx, &models.PaymentLog{
		PaymentID:   paymentID,
		TossOrderID: event.Data.OrderID,
		Type:        enums.PaymentLogTypeWebhook,
		Message:     "webhook " + strings.ToUpper(event.Data.Status),
		Payload:     payments.LogPayload(event),
	}); err != nil {
		s.logg.Warn(s.logg.WithField(ctx, "error", err.Error()), "webhook audit log failed")
	}
}

// durable reports whether the failure is a final verdict about this delivery
// rather than a transient fault. Those deliveries are acknowledged so the
// provider stops replaying them.
func durable(err error) bool {
	typed := pkgerrors.As(err)
	if typed == nil {
		return false
	}
	switch typed.Code() {
	case pkgerrors.CodeValidation, pkgerrors.CodeConflict, pkgerrors.CodeNotFound, pkgerrors.CodeInsufficientPoints:
		return true
	default:
		return false
	}
}
