package settlement

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	pubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"

	"github.com/shopmall/shopmall-backend/internal/payments"
	"github.com/shopmall/shopmall-backend/pkg/config"
	"github.com/shopmall/shopmall-backend/pkg/enums"
	pkgerrors "github.com/shopmall/shopmall-backend/pkg/errors"
	"github.com/shopmall/shopmall-backend/pkg/logger"
	"github.com/shopmall/shopmall-backend/pkg/metrics"
	"github.com/shopmall/shopmall-backend/pkg/outbox"
	"github.com/shopmall/shopmall-backend/pkg/outbox/payloads"
	"github.com/shopmall/shopmall-backend/pkg/outbox/registry"
	"github.com/shopmall/shopmall-backend/pkg/toss"
)

const (
	consumerName = "settlement"
	confirmMode  = "async"
)

type gateway interface {
	Confirm(ctx context.Context, params toss.ConfirmParams) (*toss.Payment, error)
	Query(ctx context.Context, orderID string) (*toss.Payment, error)
}

type paymentSettler interface {
	Settle(ctx context.Context, paymentID uuid.UUID, gw *toss.Payment, mode string) error
	Fail(ctx context.Context, input payments.FailInput) error
}

type idempotencyChecker interface {
	CheckAndMarkProcessed(ctx context.Context, consumer string, eventID uuid.UUID) (bool, error)
	Delete(ctx context.Context, consumer string, eventID uuid.UUID) error
}

// Consumer runs the two-stage async confirm: stage one calls the gateway with
// bounded retries on transport errors, stage two applies the verdict through
// the row-locked settlement transaction.
type Consumer struct {
	subscription *pubsub.Subscriber
	gateway      gateway
	payments     paymentSettler
	manager      idempotencyChecker
	decoders     *registry.DecoderRegistry
	logg         *logger.Logger
	metrics      *metrics.SettlementMetrics
	maxAttempts  int
	retryDelay   time.Duration
	nowFn        func() time.Time
	sleepFn      func(ctx context.Context, d time.Duration) error
}

// NewConsumer builds a settlement consumer for the configured subscription.
func NewConsumer(
	subscription *pubsub.Subscriber,
	gw gateway,
	paymentsSvc paymentSettler,
	manager idempotencyChecker,
	cfg config.SettlementConfig,
	logg *logger.Logger,
	settlementMetrics *metrics.SettlementMetrics,
) (*Consumer, error) {
	if gw == nil {
		return nil, errors.New("payment gateway is required")
	}
	if paymentsSvc == nil {
		return nil, errors.New("payments service is required")
	}
	if manager == nil {
		return nil, errors.New("idempotency manager is required")
	}
	if logg == nil {
		return nil, errors.New("logger is required")
	}

	maxAttempts := cfg.ConfirmMaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	retryDelay := cfg.ConfirmRetryDelay
	if retryDelay <= 0 {
		retryDelay = 2 * time.Second
	}

	decoders := registry.NewDecoderRegistry()
	decoders.Register(enums.EventPaymentConfirmRequested, 1, func(payload json.RawMessage) (interface{}, error) {
		var event payloads.PaymentConfirmRequestedEvent
		if err := json.Unmarshal(payload, &event); err != nil {
			return nil, err
		}
		return &event, nil
	})

	return &Consumer{
		subscription: subscription,
		gateway:      gw,
		payments:     paymentsSvc,
		manager:      manager,
		decoders:     decoders,
		logg:         logg,
		metrics:      settlementMetrics,
		maxAttempts:  maxAttempts,
		retryDelay:   retryDelay,
		nowFn:        time.Now,
		sleepFn:      sleepContext,
	}, nil
}

// Run processes messages until the context is canceled or the subscription errors.
func (c *Consumer) Run(ctx context.Context) error {
	if c.subscription == nil {
		return errors.New("settlement subscription is required")
	}
	return c.subscription.Receive(ctx, func(ctx context.Context, msg *pubsub.Message) {
		result := c.process(ctx, msg)
		if result.nack {
			msg.Nack()
			return
		}
		msg.Ack()
	})
}

type processResult struct {
	ack  bool
	nack bool
}

func (c *Consumer) process(ctx context.Context, msg *pubsub.Message) processResult {
	eventType := enums.OutboxEventType(msg.Attributes["event_type"])
	logCtx := c.logg.WithFields(ctx, map[string]any{
		"message_id": msg.ID,
		"event_type": eventType,
		"event_id":   msg.Attributes["event_id"],
	})

	var envelope outbox.PayloadEnvelope
	if err := json.Unmarshal(msg.Data, &envelope); err != nil {
		c.logg.Error(logCtx, "malformed outbox envelope", err)
		return processResult{ack: true}
	}

	if err := c.Process(ctx, eventType, envelope); err != nil {
		c.logg.Error(logCtx, "settlement event processing failed", err)
		return processResult{nack: true}
	}
	return processResult{ack: true}
}

// Process handles one settlement event. A nil return acknowledges the
// message; an error requests redelivery.
func (c *Consumer) Process(ctx context.Context, eventType enums.OutboxEventType, envelope outbox.PayloadEnvelope) error {
	logCtx := c.logg.WithFields(ctx, map[string]any{
		"event_id":   envelope.EventID,
		"event_type": eventType,
	})

	if eventType != enums.EventPaymentConfirmRequested {
		// settled/canceled events share the topic but are for downstream readers
		c.logg.Info(logCtx, "event not handled by settlement consumer")
		return nil
	}
	if envelope.EventID == "" {
		return fmt.Errorf("event id missing")
	}
	eventID, err := uuid.Parse(envelope.EventID)
	if err != nil {
		return fmt.Errorf("parse event id: %w", err)
	}

	already, err := c.manager.CheckAndMarkProcessed(ctx, consumerName, eventID)
	if err != nil {
		return fmt.Errorf("idempotency check: %w", err)
	}
	if already {
		c.logg.Info(logCtx, "event already processed")
		return nil
	}

	decoded, err := c.decoders.Decode(eventType, envelope.Version, envelope.Data)
	if err != nil {
		// undecodable payloads can never succeed, drop them
		c.logg.Error(logCtx, "malformed confirm request payload", err)
		return nil
	}
	request, ok := decoded.(*payloads.PaymentConfirmRequestedEvent)
	if !ok {
		c.logg.Error(logCtx, "unexpected confirm request payload", fmt.Errorf("decoded %T", decoded))
		return nil
	}
	logCtx = c.logg.WithPaymentID(logCtx, request.PaymentID.String())

	if err := c.confirmAndSettle(logCtx, *request); err != nil {
		// release the key so the redelivered message gets another run
		if delErr := c.manager.Delete(ctx, consumerName, eventID); delErr != nil {
			c.logg.Error(logCtx, "failed to release idempotency key", delErr)
		}
		return err
	}
	return nil
}

func (c *Consumer) confirmAndSettle(ctx context.Context, request payloads.PaymentConfirmRequestedEvent) error {
	gw, err := c.confirmWithRetry(ctx, request)
	if err != nil {
		apiErr := toss.AsAPIError(err)
		switch {
		case apiErr != nil && apiErr.Code == toss.CodeAlreadyProcessedPayment:
			// a previous attempt reached the provider; fetch the verdict
			gw, err = c.gateway.Query(ctx, request.TossOrderID)
			if err != nil {
				return fmt.Errorf("query after duplicate confirm: %w", err)
			}
			if !strings.EqualFold(gw.Status, "DONE") {
				return c.abort(ctx, request, toss.CodeAlreadyProcessedPayment,
					"duplicate confirm resolved to status "+gw.Status)
			}
		case toss.IsRetryable(err):
			// retry budget exhausted without a provider verdict; redeliver
			c.metrics.IncConfirmFailure(confirmMode, gatewayCode(err))
			return fmt.Errorf("gateway confirm: %w", err)
		default:
			// the provider rejected the payment; record and stop
			code := gatewayCode(err)
			c.metrics.IncConfirmFailure(confirmMode, code)
			return c.abort(ctx, request, code, err.Error())
		}
	}

	if err := c.payments.Settle(ctx, request.PaymentID, gw, confirmMode); err != nil {
		if typed := pkgerrors.As(err); typed != nil &&
			(typed.Code() == pkgerrors.CodeConflict || typed.Code() == pkgerrors.CodeValidation) {
			c.logg.Warn(c.logg.WithField(ctx, "error", err.Error()), "settlement skipped")
			return nil
		}
		return fmt.Errorf("apply settlement: %w", err)
	}
	c.metrics.IncConfirmSuccess(confirmMode)
	c.logg.Info(ctx, "payment settled")
	return nil
}

func (c *Consumer) confirmWithRetry(ctx context.Context, request payloads.PaymentConfirmRequestedEvent) (*toss.Payment, error) {
	var lastErr error
	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		started := c.nowFn()
		gw, err := c.gateway.Confirm(ctx, toss.ConfirmParams{
			PaymentKey: request.PaymentKey,
			OrderID:    request.TossOrderID,
			Amount:     request.Amount,
		})
		c.metrics.ObserveConfirmDuration(confirmMode, c.nowFn().Sub(started))
		if err == nil {
			return gw, nil
		}
		lastErr = err
		if !toss.IsRetryable(err) || attempt == c.maxAttempts {
			break
		}
		c.metrics.IncConfirmRetry(confirmMode)
		if err := c.sleepFn(ctx, c.retryDelay); err != nil {
			return nil, err
		}
	}
	return nil, lastErr
}

// abort records the failed confirm. Fail errors propagate so the message is
// redelivered and the abort retried.
func (c *Consumer) abort(ctx context.Context, request payloads.PaymentConfirmRequestedEvent, code, message string) error {
	err := c.payments.Fail(ctx, payments.FailInput{
		TossOrderID: request.TossOrderID,
		ErrorCode:   code,
		Message:     message,
	})
	if err != nil {
		if typed := pkgerrors.As(err); typed != nil && typed.Code() == pkgerrors.CodeConflict {
			// a concurrent webhook already moved the payment on
			return nil
		}
		return fmt.Errorf("record confirm failure: %w", err)
	}
	c.logg.Warn(c.logg.WithField(ctx, "gateway_code", code), "payment confirm aborted")
	return nil
}

func gatewayCode(err error) string {
	if apiErr := toss.AsAPIError(err); apiErr != nil {
		return apiErr.Code
	}
	return "UNKNOWN"
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
