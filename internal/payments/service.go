package payments

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/shopmall/shopmall-backend/internal/carts"
	"github.com/shopmall/shopmall-backend/internal/orders"
	"github.com/shopmall/shopmall-backend/internal/points"
	"github.com/shopmall/shopmall-backend/internal/stock"
	"github.com/shopmall/shopmall-backend/pkg/db/models"
	"github.com/shopmall/shopmall-backend/pkg/enums"
	pkgerrors "github.com/shopmall/shopmall-backend/pkg/errors"
	"github.com/shopmall/shopmall-backend/pkg/metrics"
	"github.com/shopmall/shopmall-backend/pkg/outbox"
	"github.com/shopmall/shopmall-backend/pkg/outbox/payloads"
	"github.com/shopmall/shopmall-backend/pkg/pagination"
	"github.com/shopmall/shopmall-backend/pkg/toss"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// Gateway is the provider surface the service needs.
type Gateway interface {
	Confirm(ctx context.Context, params toss.ConfirmParams) (*toss.Payment, error)
	Cancel(ctx context.Context, paymentKey string, params toss.CancelParams) (*toss.Payment, error)
}

type pointsLedger interface {
	Earn(ctx context.Context, tx *gorm.DB, input points.EarnInput) (*models.PointHistory, error)
	RefundUsed(ctx context.Context, tx *gorm.DB, input points.RefundInput) (*models.PointHistory, error)
	DeductEarned(ctx context.Context, tx *gorm.DB, input points.DeductInput) (*models.PointHistory, error)
	EarnedForOrder(ctx context.Context, tx *gorm.DB, orderID uuid.UUID) (int64, error)
}

type userLoader interface {
	FindByID(ctx context.Context, id uuid.UUID) (*models.User, error)
}

// Service drives the payment lifecycle: request, confirm (sync or async),
// settlement, failure and cancel.
type Service interface {
	Request(ctx context.Context, input RequestInput) (*models.Payment, error)
	Confirm(ctx context.Context, input ConfirmInput) (*ConfirmResult, error)
	BeginConfirm(ctx context.Context, input ConfirmInput) (*models.Payment, error)
	Settle(ctx context.Context, paymentID uuid.UUID, gw *toss.Payment, mode string) error
	Cancel(ctx context.Context, input CancelInput) (*CancelResult, error)
	Fail(ctx context.Context, input FailInput) error
	Get(ctx context.Context, userID, paymentID uuid.UUID) (*models.Payment, error)
	GetByOrderID(ctx context.Context, userID, orderID uuid.UUID) (*models.Payment, error)
	List(ctx context.Context, userID uuid.UUID, params pagination.Params) (*PaymentList, error)
}

// RequestInput starts (or restarts) a payment attempt for an order.
type RequestInput struct {
	UserID  uuid.UUID
	OrderID uuid.UUID
	Method  enums.PaymentMethod
}

// ConfirmInput carries the gateway redirect parameters.
type ConfirmInput struct {
	UserID      uuid.UUID
	TossOrderID string
	PaymentKey  string
	Amount      int64
}

// CancelInput reverses a settled payment. SkipGateway is set when the
// provider already canceled on its side (webhook-driven cancels).
type CancelInput struct {
	UserID      uuid.UUID
	TossOrderID string
	Reason      string
	SkipGateway bool
}

// FailInput records a failed checkout redirect. The order stays open so the
// buyer can retry with a fresh payment.
type FailInput struct {
	UserID      uuid.UUID
	TossOrderID string
	ErrorCode   string
	Message     string
}

// ConfirmResult reports the settled payment and the points the settlement
// credited.
type ConfirmResult struct {
	Payment      *models.Payment
	PointsEarned int64
}

// CancelResult summarizes what the cancel reversed.
type CancelResult struct {
	Payment        *models.Payment
	RefundAmount   int64
	RefundedPoints int64
	DeductedPoints int64
}

// PaymentList is a cursor page of a user's payments.
type PaymentList struct {
	Payments   []models.Payment `json:"payments"`
	NextCursor string           `json:"next_cursor,omitempty"`
}

type service struct {
	repo    Repository
	orders  orders.Repository
	carts   carts.Repository
	tx      txRunner
	gateway Gateway
	points  pointsLedger
	users   userLoader
	outbox  outboxPublisher
	metrics *metrics.SettlementMetrics
	nowFn   func() time.Time
}

// NewService builds a payments service with the required dependencies.
func NewService(
	repo Repository,
	ordersRepo orders.Repository,
	cartsRepo carts.Repository,
	tx txRunner,
	gateway Gateway,
	pointsSvc pointsLedger,
	users userLoader,
	publisher outboxPublisher,
	settlementMetrics *metrics.SettlementMetrics,
) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("payments repository required")
	}
	if ordersRepo == nil {
		return nil, fmt.Errorf("orders repository required")
	}
	if cartsRepo == nil {
		return nil, fmt.Errorf("carts repository required")
	}
	if tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if gateway == nil {
		return nil, fmt.Errorf("payment gateway required")
	}
	if pointsSvc == nil {
		return nil, fmt.Errorf("points service required")
	}
	if users == nil {
		return nil, fmt.Errorf("users repository required")
	}
	if publisher == nil {
		return nil, fmt.Errorf("outbox publisher required")
	}
	return &service{
		repo:    repo,
		orders:  ordersRepo,
		carts:   cartsRepo,
		tx:      tx,
		gateway: gateway,
		points:  pointsSvc,
		users:   users,
		outbox:  publisher,
		metrics: settlementMetrics,
		nowFn:   time.Now,
	}, nil
}

// Request creates a fresh payment row for the order. A stale unconfirmed row
// is deleted and replaced so the gateway always sees a new merchant order id;
// a paid row is never touched.
func (s *service) Request(ctx context.Context, input RequestInput) (*models.Payment, error) {
	if input.UserID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "user identity missing")
	}
	if input.OrderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}
	if !input.Method.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid payment method")
	}

	var created *models.Payment
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		ordersRepo := s.orders.WithTx(tx)
		repo := s.repo.WithTx(tx)

		order, err := ordersRepo.FindByIDForUpdate(ctx, input.OrderID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
			}
			return err
		}
		if order.UserID != input.UserID {
			return pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
		}
		if order.Status != enums.OrderStatusPending {
			return pkgerrors.New(pkgerrors.CodeConflict, "order is not awaiting payment")
		}
		if order.TotalAmount <= 0 {
			return pkgerrors.New(pkgerrors.CodeValidation, "order has nothing to charge")
		}

		existing, err := repo.FindByOrderIDForUpdate(ctx, input.OrderID)
		switch {
		case err == nil:
			if existing.IsPaid {
				return pkgerrors.New(pkgerrors.CodeConflict, "order is already paid")
			}
			deleted, derr := repo.DeleteUnconfirmed(ctx, existing.ID)
			if derr != nil {
				return derr
			}
			if !deleted {
				return pkgerrors.New(pkgerrors.CodeConflict, "payment state changed, retry")
			}
		case errors.Is(err, gorm.ErrRecordNotFound):
		default:
			return err
		}

		now := s.nowFn()
		payment := &models.Payment{
			OrderID:     order.ID,
			UserID:      input.UserID,
			TossOrderID: newTossOrderID(order.OrderNumber),
			Method:      input.Method,
			Amount:      order.TotalAmount,
			Status:      enums.PaymentStatusReady,
			RequestedAt: now,
		}
		if err := repo.Create(ctx, payment); err != nil {
			return err
		}

		if err := repo.CreateLog(ctx, &models.PaymentLog{
			PaymentID:   &payment.ID,
			TossOrderID: payment.TossOrderID,
			Type:        enums.PaymentLogTypeRequest,
			Message:     "payment requested",
			Payload: LogPayload(map[string]any{
				"order_id": order.ID,
				"amount":   order.TotalAmount,
				"method":   input.Method,
			}),
		}); err != nil {
			return err
		}

		created = payment
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// Confirm approves the payment synchronously: gateway first, then the
// settlement transaction. The settlement re-checks state under a row lock so
// a concurrent webhook delivery cannot double-apply.
func (s *service) Confirm(ctx context.Context, input ConfirmInput) (*ConfirmResult, error) {
	payment, err := s.loadConfirmable(ctx, input)
	if err != nil {
		return nil, err
	}

	started := s.nowFn()
	gw, err := s.gateway.Confirm(ctx, toss.ConfirmParams{
		PaymentKey: input.PaymentKey,
		OrderID:    input.TossOrderID,
		Amount:     input.Amount,
	})
	s.metrics.ObserveConfirmDuration("sync", s.nowFn().Sub(started))
	if err != nil {
		s.logGatewayError(ctx, payment, "confirm rejected", err)
		s.metrics.IncConfirmFailure("sync", gatewayCode(err))
		return nil, mapGatewayError(err)
	}

	if err := s.Settle(ctx, payment.ID, gw, "sync"); err != nil {
		return nil, err
	}
	s.metrics.IncConfirmSuccess("sync")

	settled, err := s.repo.FindByID(ctx, payment.ID)
	if err != nil {
		return nil, err
	}
	order, err := s.orders.FindByID(ctx, settled.OrderID)
	if err != nil {
		return nil, err
	}
	return &ConfirmResult{Payment: settled, PointsEarned: order.EarnedPoints}, nil
}

// BeginConfirm accepts the redirect parameters, flips the payment to
// in_progress and hands the gateway call to the settlement worker through the
// outbox. The caller gets an immediate answer; settlement completes async.
func (s *service) BeginConfirm(ctx context.Context, input ConfirmInput) (*models.Payment, error) {
	if _, err := s.loadConfirmable(ctx, input); err != nil {
		return nil, err
	}

	var accepted *models.Payment
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		payment, err := repo.FindByTossOrderIDForUpdate(ctx, input.TossOrderID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return pkgerrors.New(pkgerrors.CodeNotFound, "payment not found")
			}
			return err
		}
		if payment.IsPaid {
			accepted = payment
			return nil
		}
		if payment.Status == enums.PaymentStatusInProgress {
			return pkgerrors.New(pkgerrors.CodeConflict, "payment confirmation already in progress")
		}
		if !payment.IsConfirmable() {
			return pkgerrors.New(pkgerrors.CodeConflict, "payment cannot be confirmed from its current state")
		}

		if err := repo.Updates(ctx, payment.ID, map[string]any{
			"status":      enums.PaymentStatusInProgress,
			"payment_key": input.PaymentKey,
		}); err != nil {
			return err
		}

		if err := s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventPaymentConfirmRequested,
			AggregateType: enums.AggregatePayment,
			AggregateID:   payment.ID,
			Actor:         &outbox.ActorRef{UserID: input.UserID},
			Version:       1,
			Data: payloads.PaymentConfirmRequestedEvent{
				PaymentID:   payment.ID,
				OrderID:     payment.OrderID,
				TossOrderID: payment.TossOrderID,
				PaymentKey:  input.PaymentKey,
				Amount:      payment.Amount,
				UserID:      payment.UserID,
			},
		}); err != nil {
			return err
		}

		payment.Status = enums.PaymentStatusInProgress
		key := input.PaymentKey
		payment.PaymentKey = &key
		accepted = payment
		return nil
	})
	if err != nil {
		return nil, err
	}
	return accepted, nil
}

// Settle applies an approved gateway payment: marks the payment done, the
// order paid, commits sold counts, retires the buyer's cart, credits tier
// points on the cash portion and emits payment_settled. It is safe to call
// more than once; the IsPaid re-check under the row lock makes replays no-ops.
func (s *service) Settle(ctx context.Context, paymentID uuid.UUID, gw *toss.Payment, mode string) error {
	if gw == nil {
		return pkgerrors.New(pkgerrors.CodeInternal, "gateway payment required")
	}
	return s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		ordersRepo := s.orders.WithTx(tx)
		cartsRepo := s.carts.WithTx(tx)

		payment, err := repo.FindByIDForUpdate(ctx, paymentID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return pkgerrors.New(pkgerrors.CodeNotFound, "payment not found")
			}
			return err
		}
		if payment.IsPaid {
			return nil
		}
		if payment.Status.IsTerminal() {
			return pkgerrors.New(pkgerrors.CodeConflict, "payment reached a terminal state")
		}
		if gw.TotalAmount != payment.Amount {
			return pkgerrors.New(pkgerrors.CodeValidation, "approved amount does not match payment amount")
		}

		order, err := ordersRepo.FindByIDForUpdate(ctx, payment.OrderID)
		if err != nil {
			return err
		}

		now := s.nowFn()
		approvedAt := now
		if gw.ApprovedAt != nil {
			approvedAt = *gw.ApprovedAt
		}
		fields := map[string]any{
			"status":       enums.PaymentStatusDone,
			"is_paid":      true,
			"payment_key":  gw.PaymentKey,
			"method":       enums.PaymentMethodFromToss(gw.Method),
			"approved_at":  approvedAt,
			"raw_response": LogPayload(gw),
		}
		if gw.Receipt != nil && gw.Receipt.URL != "" {
			fields["receipt_url"] = gw.Receipt.URL
		}
		if err := repo.Updates(ctx, payment.ID, fields); err != nil {
			return err
		}

		for _, item := range order.Items {
			if err := stock.CommitSold(ctx, tx, item.ProductID, item.Quantity); err != nil {
				return err
			}
		}

		user, err := s.users.FindByID(ctx, payment.UserID)
		if err != nil {
			return err
		}
		var earned int64
		if history, err := s.points.Earn(ctx, tx, points.EarnInput{
			UserID:      payment.UserID,
			OrderID:     payment.OrderID,
			PaidAmount:  order.PayableAmount(),
			Tier:        user.Tier,
			Description: "payment " + payment.TossOrderID,
		}); err != nil {
			return err
		} else if history != nil {
			earned = history.Points
		}

		if err := ordersRepo.MarkPaid(ctx, payment.OrderID, approvedAt, earned); err != nil {
			return err
		}

		switch cart, err := cartsRepo.FindActiveByUserID(ctx, payment.UserID); {
		case err == nil:
			if err := cartsRepo.Deactivate(ctx, cart.ID); err != nil {
				return err
			}
		case errors.Is(err, gorm.ErrRecordNotFound):
		default:
			return err
		}

		if err := repo.CreateLog(ctx, &models.PaymentLog{
			PaymentID:   &payment.ID,
			TossOrderID: payment.TossOrderID,
			Type:        enums.PaymentLogTypeApprove,
			Message:     "payment approved",
			Payload:     LogPayload(gw),
		}); err != nil {
			return err
		}

		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventPaymentSettled,
			AggregateType: enums.AggregatePayment,
			AggregateID:   payment.ID,
			Version:       1,
			Data: payloads.PaymentSettledEvent{
				PaymentID:   payment.ID,
				OrderID:     payment.OrderID,
				TossOrderID: payment.TossOrderID,
				Amount:      payment.Amount,
				Method:      enums.PaymentMethodFromToss(gw.Method),
				ApprovedAt:  approvedAt,
			},
		})
	})
}

// Cancel reverses a settled payment in one transaction: gateway cancel,
// stock restore, point refund and claw-back, then the status flips. Any
// failure, including the buyer having already spent the earned points, rolls
// the whole thing back. A provider-side cancel of a payment that never
// settled still flips the payment and order to canceled, with nothing to
// reverse.
func (s *service) Cancel(ctx context.Context, input CancelInput) (*CancelResult, error) {
	if strings.TrimSpace(input.TossOrderID) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "toss order id required")
	}
	reason := strings.TrimSpace(input.Reason)
	if reason == "" {
		reason = "user requested cancel"
	}

	var logPayment *models.Payment
	var result *CancelResult
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		ordersRepo := s.orders.WithTx(tx)

		payment, err := repo.FindByTossOrderIDForUpdate(ctx, input.TossOrderID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return pkgerrors.New(pkgerrors.CodeNotFound, "payment not found")
			}
			return err
		}
		logPayment = payment
		if input.UserID != uuid.Nil && payment.UserID != input.UserID {
			return pkgerrors.New(pkgerrors.CodeNotFound, "payment not found")
		}
		if payment.IsCanceled {
			result = &CancelResult{Payment: payment}
			return nil
		}
		if !payment.IsPaid {
			if !input.SkipGateway {
				return pkgerrors.New(pkgerrors.CodeConflict, "payment is not settled")
			}
			res, err := s.cancelUnsettled(ctx, tx, payment, reason)
			if err != nil {
				return err
			}
			result = res
			return nil
		}

		order, err := ordersRepo.FindByIDForUpdate(ctx, payment.OrderID)
		if err != nil {
			return err
		}
		if !order.Status.IsCancelable() {
			return pkgerrors.New(pkgerrors.CodeConflict, "order can no longer be canceled")
		}

		canceledAt := s.nowFn()
		var gw *toss.Payment
		if !input.SkipGateway {
			if payment.PaymentKey == nil {
				return pkgerrors.New(pkgerrors.CodeInternal, "settled payment missing payment key")
			}
			gw, err = s.gateway.Cancel(ctx, *payment.PaymentKey, toss.CancelParams{CancelReason: reason})
			if err != nil {
				return mapGatewayError(err)
			}
			if len(gw.Cancels) > 0 {
				canceledAt = gw.Cancels[len(gw.Cancels)-1].CanceledAt
			}
		}

		for _, item := range order.Items {
			if err := stock.Restore(ctx, tx, item.ProductID, item.Quantity); err != nil {
				return err
			}
		}

		if order.UsedPoints > 0 {
			if _, err := s.points.RefundUsed(ctx, tx, points.RefundInput{
				UserID:      payment.UserID,
				OrderID:     order.ID,
				Amount:      order.UsedPoints,
				Description: "cancel " + payment.TossOrderID,
			}); err != nil {
				return err
			}
		}

		earned, err := s.points.EarnedForOrder(ctx, tx, order.ID)
		if err != nil {
			return err
		}
		if earned > 0 {
			if _, err := s.points.DeductEarned(ctx, tx, points.DeductInput{
				UserID:      payment.UserID,
				OrderID:     order.ID,
				Amount:      earned,
				Description: "cancel " + payment.TossOrderID,
			}); err != nil {
				return err
			}
		}

		fields := map[string]any{
			"status":          enums.PaymentStatusCanceled,
			"is_canceled":     true,
			"canceled_at":     canceledAt,
			"canceled_amount": payment.Amount,
			"cancel_reason":   reason,
		}
		if gw != nil {
			fields["raw_response"] = LogPayload(gw)
		}
		if err := repo.Updates(ctx, payment.ID, fields); err != nil {
			return err
		}
		if err := ordersRepo.UpdateStatus(ctx, order.ID, enums.OrderStatusCanceled); err != nil {
			return err
		}

		if err := repo.CreateLog(ctx, &models.PaymentLog{
			PaymentID:   &payment.ID,
			TossOrderID: payment.TossOrderID,
			Type:        enums.PaymentLogTypeCancel,
			Message:     "payment canceled: " + reason,
			Payload:     LogPayload(gw),
		}); err != nil {
			return err
		}

		if err := s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventPaymentCanceled,
			AggregateType: enums.AggregatePayment,
			AggregateID:   payment.ID,
			Version:       1,
			Data: payloads.PaymentCanceledEvent{
				PaymentID:      payment.ID,
				OrderID:        order.ID,
				TossOrderID:    payment.TossOrderID,
				CancelAmount:   payment.Amount,
				RefundedPoints: order.UsedPoints,
				CanceledAt:     canceledAt,
			},
		}); err != nil {
			return err
		}

		result = &CancelResult{
			Payment:        payment,
			RefundAmount:   payment.Amount,
			RefundedPoints: order.UsedPoints,
			DeductedPoints: earned,
		}
		return nil
	})
	if err != nil {
		if logPayment != nil {
			s.logGatewayError(ctx, logPayment, "cancel failed", err)
		}
		return nil, err
	}
	if result != nil && result.Payment != nil {
		if fresh, ferr := s.repo.FindByID(ctx, result.Payment.ID); ferr == nil {
			result.Payment = fresh
		}
	}
	return result, nil
}

// cancelUnsettled flips a never-paid payment and its order to canceled. The
// provider already voided the attempt, so there is no charge, stock commit or
// point movement to reverse.
func (s *service) cancelUnsettled(ctx context.Context, tx *gorm.DB, payment *models.Payment, reason string) (*CancelResult, error) {
	repo := s.repo.WithTx(tx)
	ordersRepo := s.orders.WithTx(tx)

	canceledAt := s.nowFn()
	if err := repo.Updates(ctx, payment.ID, map[string]any{
		"status":        enums.PaymentStatusCanceled,
		"is_canceled":   true,
		"canceled_at":   canceledAt,
		"cancel_reason": reason,
	}); err != nil {
		return nil, err
	}
	if err := ordersRepo.UpdateStatus(ctx, payment.OrderID, enums.OrderStatusCanceled); err != nil {
		return nil, err
	}
	if err := repo.CreateLog(ctx, &models.PaymentLog{
		PaymentID:   &payment.ID,
		TossOrderID: payment.TossOrderID,
		Type:        enums.PaymentLogTypeCancel,
		Message:     "payment canceled before settlement: " + reason,
	}); err != nil {
		return nil, err
	}
	return &CancelResult{Payment: payment}, nil
}

// Fail records a failed checkout redirect. The payment is aborted but the
// order stays pending, so the buyer can request a fresh payment.
func (s *service) Fail(ctx context.Context, input FailInput) error {
	if strings.TrimSpace(input.TossOrderID) == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "toss order id required")
	}

	return s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		payment, err := repo.FindByTossOrderIDForUpdate(ctx, input.TossOrderID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return pkgerrors.New(pkgerrors.CodeNotFound, "payment not found")
			}
			return err
		}
		if input.UserID != uuid.Nil && payment.UserID != input.UserID {
			return pkgerrors.New(pkgerrors.CodeNotFound, "payment not found")
		}
		if payment.IsPaid {
			return pkgerrors.New(pkgerrors.CodeConflict, "payment already settled")
		}
		if payment.Status.IsTerminal() {
			return nil
		}

		failureReason := strings.TrimSpace(input.Message)
		if failureReason == "" {
			failureReason = input.ErrorCode
		}
		if err := repo.Updates(ctx, payment.ID, map[string]any{
			"status":         enums.PaymentStatusAborted,
			"failure_reason": failureReason,
		}); err != nil {
			return err
		}

		message := "payment failed"
		if input.Message != "" {
			message = "payment failed: " + input.Message
		}
		return repo.CreateLog(ctx, &models.PaymentLog{
			PaymentID:   &payment.ID,
			TossOrderID: payment.TossOrderID,
			Type:        enums.PaymentLogTypeError,
			Message:     message,
			Payload: LogPayload(map[string]any{
				"error_code": input.ErrorCode,
			}),
		})
	})
}

func (s *service) Get(ctx context.Context, userID, paymentID uuid.UUID) (*models.Payment, error) {
	if paymentID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "payment id required")
	}
	payment, err := s.repo.FindByID(ctx, paymentID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "payment not found")
		}
		return nil, err
	}
	if payment.UserID != userID {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "payment not found")
	}
	return payment, nil
}

func (s *service) GetByOrderID(ctx context.Context, userID, orderID uuid.UUID) (*models.Payment, error) {
	if orderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}
	payment, err := s.repo.FindByOrderID(ctx, orderID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "payment not found")
		}
		return nil, err
	}
	if payment.UserID != userID {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "payment not found")
	}
	return payment, nil
}

func (s *service) List(ctx context.Context, userID uuid.UUID, params pagination.Params) (*PaymentList, error) {
	if userID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "user identity missing")
	}
	payments, next, err := s.repo.ListByUserID(ctx, userID, params)
	if err != nil {
		return nil, err
	}
	list := &PaymentList{Payments: payments}
	if next != nil {
		list.NextCursor = pagination.EncodeCursor(*next)
	}
	return list, nil
}

// loadConfirmable runs the cheap pre-checks shared by the sync and async
// confirm paths. The authoritative re-check happens later under a row lock.
func (s *service) loadConfirmable(ctx context.Context, input ConfirmInput) (*models.Payment, error) {
	if input.UserID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "user identity missing")
	}
	if strings.TrimSpace(input.TossOrderID) == "" || strings.TrimSpace(input.PaymentKey) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "payment key and order id required")
	}

	payment, err := s.repo.FindByTossOrderID(ctx, input.TossOrderID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "payment not found")
		}
		return nil, err
	}
	if payment.UserID != input.UserID {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "payment not found")
	}
	if payment.IsPaid {
		return payment, nil
	}
	if payment.Status == enums.PaymentStatusInProgress {
		return nil, pkgerrors.New(pkgerrors.CodeConflict, "payment confirmation already in progress")
	}
	if !payment.IsConfirmable() {
		return nil, pkgerrors.New(pkgerrors.CodeConflict, "payment cannot be confirmed from its current state")
	}
	if input.Amount != payment.Amount {
		s.logError(ctx, payment, "confirm amount mismatch", map[string]any{
			"expected": payment.Amount,
			"received": input.Amount,
		})
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "confirm amount does not match the requested payment")
	}
	return payment, nil
}

// logError writes an audit row outside the caller's transaction so the
// record survives a rollback.
func (s *service) logError(ctx context.Context, payment *models.Payment, message string, payload any) {
	var paymentID *uuid.UUID
	tossOrderID := ""
	if payment != nil {
		id := payment.ID
		paymentID = &id
		tossOrderID = payment.TossOrderID
	}
	_ = s.repo.CreateLog(ctx, &models.PaymentLog{
		PaymentID:   paymentID,
		TossOrderID: tossOrderID,
		Type:        enums.PaymentLogTypeError,
		Message:     message,
		Payload:     LogPayload(payload),
	})
}

func (s *service) logGatewayError(ctx context.Context, payment *models.Payment, message string, err error) {
	payload := map[string]any{"error": err.Error()}
	if apiErr := toss.AsAPIError(err); apiErr != nil {
		payload["code"] = apiErr.Code
		payload["http_status"] = apiErr.HTTPStatus
	}
	s.logError(ctx, payment, message, payload)
}

// mapGatewayError converts provider failures into coded errors with a
// user-facing Korean message.
func mapGatewayError(err error) error {
	apiErr := toss.AsAPIError(err)
	if apiErr == nil {
		return pkgerrors.Wrap(pkgerrors.CodePaymentGateway, err, "payment provider request failed")
	}
	return pkgerrors.Wrap(pkgerrors.CodePaymentGateway, err, toss.UserMessage(apiErr.Code)).
		WithDetails(map[string]any{"provider_code": apiErr.Code})
}

func gatewayCode(err error) string {
	if apiErr := toss.AsAPIError(err); apiErr != nil {
		return apiErr.Code
	}
	return "UNKNOWN"
}

// newTossOrderID derives the merchant order id sent to the gateway. The
// random suffix keeps retried requests unique even for the same order.
func newTossOrderID(orderNumber string) string {
	return orderNumber + "-" + uuid.NewString()[:8]
}
