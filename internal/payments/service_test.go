package payments

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/shopmall/shopmall-backend/internal/carts"
	"github.com/shopmall/shopmall-backend/internal/orders"
	"github.com/shopmall/shopmall-backend/internal/points"
	"github.com/shopmall/shopmall-backend/internal/users"
	"github.com/shopmall/shopmall-backend/pkg/db/models"
	"github.com/shopmall/shopmall-backend/pkg/enums"
	pkgerrors "github.com/shopmall/shopmall-backend/pkg/errors"
	"github.com/shopmall/shopmall-backend/pkg/outbox"
	"github.com/shopmall/shopmall-backend/pkg/toss"
)

type testTxRunner struct {
	db *gorm.DB
}

func (r testTxRunner) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return r.db.WithContext(ctx).Transaction(fn)
}

type fakeGateway struct {
	confirmFn    func(params toss.ConfirmParams) (*toss.Payment, error)
	cancelFn     func(paymentKey string, params toss.CancelParams) (*toss.Payment, error)
	confirmCalls int
	cancelCalls  int
}

func (g *fakeGateway) Confirm(_ context.Context, params toss.ConfirmParams) (*toss.Payment, error) {
	g.confirmCalls++
	if g.confirmFn == nil {
		approvedAt := time.Now()
		return &toss.Payment{
			PaymentKey:  params.PaymentKey,
			OrderID:     params.OrderID,
			Status:      "DONE",
			Method:      "카드",
			TotalAmount: params.Amount,
			ApprovedAt:  &approvedAt,
			Receipt:     &toss.Receipt{URL: "https://dashboard.tosspayments.com/receipt"},
		}, nil
	}
	return g.confirmFn(params)
}

func (g *fakeGateway) Cancel(_ context.Context, paymentKey string, params toss.CancelParams) (*toss.Payment, error) {
	g.cancelCalls++
	if g.cancelFn == nil {
		return &toss.Payment{
			PaymentKey: paymentKey,
			Status:     "CANCELED",
			Cancels: []toss.Cancellation{{
				CancelReason: params.CancelReason,
				CanceledAt:   time.Now(),
			}},
		}, nil
	}
	return g.cancelFn(paymentKey, params)
}

type paymentFixture struct {
	db          *gorm.DB
	svc         Service
	gateway     *fakeGateway
	userID      uuid.UUID
	orderID     uuid.UUID
	productID   uuid.UUID
	cartID      uuid.UUID
	orderNumber string
	total       int64
	usedPoints  int64
}

// newPaymentFixture seeds a placed-but-unpaid order: the product stock is
// already decremented, the used points already spent and the cart still
// active, matching the state the order flow leaves behind.
func newPaymentFixture(t *testing.T, usedPoints int64) *paymentFixture {
	t.Helper()
	db := newTestDB(t)

	pointsSvc, err := points.NewService(points.NewRepository(db))
	if err != nil {
		t.Fatalf("build points service: %v", err)
	}
	gateway := &fakeGateway{}
	publisher := outbox.NewService(outbox.NewRepository(db), nil)
	svc, err := NewService(
		NewRepository(db),
		orders.NewRepository(db),
		carts.NewRepository(db),
		testTxRunner{db: db},
		gateway,
		pointsSvc,
		users.NewRepository(db),
		publisher,
		nil,
	)
	if err != nil {
		t.Fatalf("build payments service: %v", err)
	}

	userID := uuid.New()
	if err := db.Create(&models.User{
		ID:           userID,
		Email:        userID.String() + "@example.com",
		PasswordHash: "x",
		Name:         "tester",
		Tier:         enums.MembershipTierBronze,
		IsActive:     true,
	}).Error; err != nil {
		t.Fatalf("seed user: %v", err)
	}

	productID := uuid.New()
	if err := db.Create(&models.Product{
		ID:        productID,
		Name:      "product",
		Price:     25000,
		Stock:     3,
		SoldCount: 0,
		IsActive:  true,
	}).Error; err != nil {
		t.Fatalf("seed product: %v", err)
	}

	cartID := uuid.New()
	if err := db.Create(&models.Cart{
		ID:       cartID,
		UserID:   userID,
		IsActive: true,
		Items: []models.CartItem{{
			ID:        uuid.New(),
			ProductID: productID,
			Quantity:  2,
		}},
	}).Error; err != nil {
		t.Fatalf("seed cart: %v", err)
	}

	total := int64(25000*2 + 3000)
	orderID := uuid.New()
	orderNumber := time.Now().Format("20060102") + "-000042"
	if err := db.Create(&models.Order{
		ID:              orderID,
		UserID:          userID,
		OrderNumber:     orderNumber,
		Status:          enums.OrderStatusPending,
		TotalAmount:     total,
		UsedPoints:      usedPoints,
		ShippingFee:     3000,
		RecipientName:   "Kim",
		RecipientPhone:  "010-0000-0000",
		ShippingAddress: "Seoul",
		Items: []models.OrderItem{{
			ID:          uuid.New(),
			ProductID:   productID,
			ProductName: "product",
			UnitPrice:   25000,
			Quantity:    2,
		}},
	}).Error; err != nil {
		t.Fatalf("seed order: %v", err)
	}

	return &paymentFixture{
		db:          db,
		svc:         svc,
		gateway:     gateway,
		userID:      userID,
		orderID:     orderID,
		productID:   productID,
		cartID:      cartID,
		orderNumber: orderNumber,
		total:       total,
		usedPoints:  usedPoints,
	}
}

func (f *paymentFixture) request(t *testing.T) *models.Payment {
	t.Helper()
	payment, err := f.svc.Request(context.Background(), RequestInput{
		UserID:  f.userID,
		OrderID: f.orderID,
		Method:  enums.PaymentMethodCard,
	})
	if err != nil {
		t.Fatalf("request payment: %v", err)
	}
	return payment
}

func (f *paymentFixture) confirm(t *testing.T, payment *models.Payment) *ConfirmResult {
	t.Helper()
	result, err := f.svc.Confirm(context.Background(), ConfirmInput{
		UserID:      f.userID,
		TossOrderID: payment.TossOrderID,
		PaymentKey:  "pk_" + uuid.NewString()[:8],
		Amount:      payment.Amount,
	})
	if err != nil {
		t.Fatalf("confirm payment: %v", err)
	}
	return result
}

func (f *paymentFixture) countLogs(t *testing.T, tossOrderID string, logType enums.PaymentLogType) int64 {
	t.Helper()
	var count int64
	if err := f.db.Model(&models.PaymentLog{}).
		Where("toss_order_id = ? AND type = ?", tossOrderID, logType).
		Count(&count).Error; err != nil {
		t.Fatalf("count logs: %v", err)
	}
	return count
}

func TestRequestCreatesPayment(t *testing.T) {
	t.Parallel()

	f := newPaymentFixture(t, 3000)
	payment := f.request(t)

	// the gateway approves the full order total; points only shrink the earn base
	if payment.Amount != f.total {
		t.Fatalf("expected amount %d, got %d", f.total, payment.Amount)
	}
	if payment.Status != enums.PaymentStatusReady || payment.IsPaid {
		t.Fatalf("unexpected initial state: %+v", payment)
	}
	if !strings.HasPrefix(payment.TossOrderID, f.orderNumber+"-") {
		t.Fatalf("merchant order id %q should derive from order number", payment.TossOrderID)
	}
	if got := f.countLogs(t, payment.TossOrderID, enums.PaymentLogTypeRequest); got != 1 {
		t.Fatalf("expected one request log, got %d", got)
	}
}

func TestRequestReplacesStalePayment(t *testing.T) {
	t.Parallel()

	f := newPaymentFixture(t, 0)
	first := f.request(t)
	second := f.request(t)

	if first.TossOrderID == second.TossOrderID {
		t.Fatal("expected a fresh merchant order id on re-request")
	}
	var count int64
	if err := f.db.Model(&models.Payment{}).Where("order_id = ?", f.orderID).Count(&count).Error; err != nil {
		t.Fatalf("count payments: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected the stale row replaced, got %d rows", count)
	}
}

func TestRequestRejectsPaidOrder(t *testing.T) {
	t.Parallel()

	f := newPaymentFixture(t, 0)
	payment := f.request(t)
	f.confirm(t, payment)

	_, err := f.svc.Request(context.Background(), RequestInput{
		UserID:  f.userID,
		OrderID: f.orderID,
		Method:  enums.PaymentMethodCard,
	})
	if typed := pkgerrors.As(err); typed == nil || typed.Code() != pkgerrors.CodeConflict {
		t.Fatalf("expected conflict, got %v", err)
	}
}

func TestConfirmHappyPath(t *testing.T) {
	t.Parallel()

	f := newPaymentFixture(t, 3000)
	payment := f.request(t)
	result := f.confirm(t, payment)

	settled := result.Payment
	if !settled.IsPaid || settled.Status != enums.PaymentStatusDone {
		t.Fatalf("expected settled payment, got %+v", settled)
	}
	if settled.ApprovedAt == nil || settled.PaymentKey == nil {
		t.Fatalf("expected approval metadata, got %+v", settled)
	}
	if len(settled.RawResponse) == 0 {
		t.Fatal("expected the provider response stored on the payment")
	}
	if f.gateway.confirmCalls != 1 {
		t.Fatalf("expected one gateway call, got %d", f.gateway.confirmCalls)
	}

	var order models.Order
	if err := f.db.First(&order, "id = ?", f.orderID).Error; err != nil {
		t.Fatalf("load order: %v", err)
	}
	if order.Status != enums.OrderStatusPaid || order.PaidAt == nil {
		t.Fatalf("expected paid order, got %+v", order)
	}

	// bronze earns 1% of the cash portion, recorded on the order
	want := (f.total - 3000) / 100
	if result.PointsEarned != want {
		t.Fatalf("expected %d points earned, got %d", want, result.PointsEarned)
	}
	if order.EarnedPoints != want {
		t.Fatalf("expected %d earned points on the order, got %d", want, order.EarnedPoints)
	}
	var user models.User
	if err := f.db.First(&user, "id = ?", f.userID).Error; err != nil {
		t.Fatalf("load user: %v", err)
	}
	if user.Points != want {
		t.Fatalf("expected %d earned points, got %d", want, user.Points)
	}

	// sold counts commit and the cart retires at settlement, not at placement
	var product models.Product
	if err := f.db.First(&product, "id = ?", f.productID).Error; err != nil {
		t.Fatalf("load product: %v", err)
	}
	if product.SoldCount != 2 {
		t.Fatalf("expected sold count 2, got %d", product.SoldCount)
	}
	var cart models.Cart
	if err := f.db.First(&cart, "id = ?", f.cartID).Error; err != nil {
		t.Fatalf("load cart: %v", err)
	}
	if cart.IsActive {
		t.Fatal("expected the cart deactivated after settlement")
	}

	if got := f.countLogs(t, payment.TossOrderID, enums.PaymentLogTypeApprove); got != 1 {
		t.Fatalf("expected one approve log, got %d", got)
	}

	var events []models.OutboxEvent
	if err := f.db.Where("aggregate_id = ?", payment.ID).Find(&events).Error; err != nil {
		t.Fatalf("load outbox: %v", err)
	}
	if len(events) != 1 || events[0].EventType != enums.EventPaymentSettled {
		t.Fatalf("expected one payment_settled event, got %+v", events)
	}
}

func TestConfirmFullyPointPaidOrder(t *testing.T) {
	t.Parallel()

	f := newPaymentFixture(t, 25000*2+3000)
	payment := f.request(t)

	if payment.Amount != f.total {
		t.Fatalf("expected amount %d, got %d", f.total, payment.Amount)
	}

	result := f.confirm(t, payment)
	if !result.Payment.IsPaid {
		t.Fatalf("expected settled payment, got %+v", result.Payment)
	}
	// the whole total was covered by points, so nothing earns
	if result.PointsEarned != 0 {
		t.Fatalf("expected no points earned, got %d", result.PointsEarned)
	}

	var user models.User
	if err := f.db.First(&user, "id = ?", f.userID).Error; err != nil {
		t.Fatalf("load user: %v", err)
	}
	if user.Points != 0 {
		t.Fatalf("expected no credited points, got %d", user.Points)
	}

	var order models.Order
	if err := f.db.First(&order, "id = ?", f.orderID).Error; err != nil {
		t.Fatalf("load order: %v", err)
	}
	if order.Status != enums.OrderStatusPaid || order.EarnedPoints != 0 {
		t.Fatalf("expected paid order with no earned points, got %+v", order)
	}
}

func TestConfirmAmountMismatch(t *testing.T) {
	t.Parallel()

	f := newPaymentFixture(t, 0)
	payment := f.request(t)

	_, err := f.svc.Confirm(context.Background(), ConfirmInput{
		UserID:      f.userID,
		TossOrderID: payment.TossOrderID,
		PaymentKey:  "pk_test",
		Amount:      payment.Amount - 1000,
	})
	if typed := pkgerrors.As(err); typed == nil || typed.Code() != pkgerrors.CodeValidation {
		t.Fatalf("expected validation error, got %v", err)
	}
	if f.gateway.confirmCalls != 0 {
		t.Fatal("gateway must not be called on amount mismatch")
	}
	if got := f.countLogs(t, payment.TossOrderID, enums.PaymentLogTypeError); got != 1 {
		t.Fatalf("expected one error log, got %d", got)
	}
}

func TestConfirmGatewayRejection(t *testing.T) {
	t.Parallel()

	f := newPaymentFixture(t, 0)
	payment := f.request(t)
	f.gateway.confirmFn = func(toss.ConfirmParams) (*toss.Payment, error) {
		return nil, &toss.APIError{Code: "REJECT_CARD_PAYMENT", Message: "rejected", HTTPStatus: 403}
	}

	_, err := f.svc.Confirm(context.Background(), ConfirmInput{
		UserID:      f.userID,
		TossOrderID: payment.TossOrderID,
		PaymentKey:  "pk_test",
		Amount:      payment.Amount,
	})
	typed := pkgerrors.As(err)
	if typed == nil || typed.Code() != pkgerrors.CodePaymentGateway {
		t.Fatalf("expected gateway error, got %v", err)
	}

	var stored models.Payment
	if err := f.db.First(&stored, "id = ?", payment.ID).Error; err != nil {
		t.Fatalf("load payment: %v", err)
	}
	if stored.IsPaid {
		t.Fatal("rejected payment must not be marked paid")
	}
	if got := f.countLogs(t, payment.TossOrderID, enums.PaymentLogTypeError); got != 1 {
		t.Fatalf("expected one error log, got %d", got)
	}
}

func TestBeginConfirmQueuesSettlement(t *testing.T) {
	t.Parallel()

	f := newPaymentFixture(t, 0)
	payment := f.request(t)

	accepted, err := f.svc.BeginConfirm(context.Background(), ConfirmInput{
		UserID:      f.userID,
		TossOrderID: payment.TossOrderID,
		PaymentKey:  "pk_async",
		Amount:      payment.Amount,
	})
	if err != nil {
		t.Fatalf("begin confirm: %v", err)
	}
	if accepted.Status != enums.PaymentStatusInProgress {
		t.Fatalf("expected in_progress, got %s", accepted.Status)
	}
	if f.gateway.confirmCalls != 0 {
		t.Fatal("async confirm must not touch the gateway inline")
	}

	var stored models.Payment
	if err := f.db.First(&stored, "id = ?", payment.ID).Error; err != nil {
		t.Fatalf("load payment: %v", err)
	}
	if stored.PaymentKey == nil || *stored.PaymentKey != "pk_async" {
		t.Fatalf("expected stored payment key, got %+v", stored.PaymentKey)
	}

	var events []models.OutboxEvent
	if err := f.db.Where("aggregate_id = ?", payment.ID).Find(&events).Error; err != nil {
		t.Fatalf("load outbox: %v", err)
	}
	if len(events) != 1 || events[0].EventType != enums.EventPaymentConfirmRequested {
		t.Fatalf("expected one payment_confirm_requested event, got %+v", events)
	}
}

func TestConfirmRejectsInFlightSettlement(t *testing.T) {
	t.Parallel()

	f := newPaymentFixture(t, 0)
	payment := f.request(t)

	if _, err := f.svc.BeginConfirm(context.Background(), ConfirmInput{
		UserID:      f.userID,
		TossOrderID: payment.TossOrderID,
		PaymentKey:  "pk_async",
		Amount:      payment.Amount,
	}); err != nil {
		t.Fatalf("begin confirm: %v", err)
	}

	// the worker owns the payment now; a second confirm must not race it
	_, err := f.svc.Confirm(context.Background(), ConfirmInput{
		UserID:      f.userID,
		TossOrderID: payment.TossOrderID,
		PaymentKey:  "pk_retry",
		Amount:      payment.Amount,
	})
	if typed := pkgerrors.As(err); typed == nil || typed.Code() != pkgerrors.CodeConflict {
		t.Fatalf("expected conflict, got %v", err)
	}
	if f.gateway.confirmCalls != 0 {
		t.Fatalf("gateway must not be called while settlement is in flight, got %d calls", f.gateway.confirmCalls)
	}

	_, err = f.svc.BeginConfirm(context.Background(), ConfirmInput{
		UserID:      f.userID,
		TossOrderID: payment.TossOrderID,
		PaymentKey:  "pk_retry",
		Amount:      payment.Amount,
	})
	if typed := pkgerrors.As(err); typed == nil || typed.Code() != pkgerrors.CodeConflict {
		t.Fatalf("expected conflict on repeated begin, got %v", err)
	}

	var events int64
	if err := f.db.Model(&models.OutboxEvent{}).
		Where("aggregate_id = ? AND event_type = ?", payment.ID, enums.EventPaymentConfirmRequested).
		Count(&events).Error; err != nil {
		t.Fatalf("count events: %v", err)
	}
	if events != 1 {
		t.Fatalf("repeated begin must not queue a second settlement, got %d events", events)
	}
}

func TestSettleIsIdempotent(t *testing.T) {
	t.Parallel()

	f := newPaymentFixture(t, 0)
	payment := f.request(t)
	settled := f.confirm(t, payment).Payment

	approvedAt := time.Now()
	err := f.svc.Settle(context.Background(), settled.ID, &toss.Payment{
		PaymentKey:  *settled.PaymentKey,
		Status:      "DONE",
		Method:      "카드",
		TotalAmount: settled.Amount,
		ApprovedAt:  &approvedAt,
	}, "async")
	if err != nil {
		t.Fatalf("replayed settle: %v", err)
	}

	var earnCount int64
	if err := f.db.Model(&models.PointHistory{}).
		Where("user_id = ? AND type = ?", f.userID, enums.PointHistoryTypeEarn).
		Count(&earnCount).Error; err != nil {
		t.Fatalf("count earns: %v", err)
	}
	if earnCount != 1 {
		t.Fatalf("replay must not earn twice, got %d rows", earnCount)
	}

	var product models.Product
	if err := f.db.First(&product, "id = ?", f.productID).Error; err != nil {
		t.Fatalf("load product: %v", err)
	}
	if product.SoldCount != 2 {
		t.Fatalf("replay must not commit sold counts twice, got %d", product.SoldCount)
	}

	var events int64
	if err := f.db.Model(&models.OutboxEvent{}).
		Where("aggregate_id = ? AND event_type = ?", payment.ID, enums.EventPaymentSettled).
		Count(&events).Error; err != nil {
		t.Fatalf("count events: %v", err)
	}
	if events != 1 {
		t.Fatalf("replay must not emit twice, got %d events", events)
	}
}

func TestCancelReversesSettlement(t *testing.T) {
	t.Parallel()

	f := newPaymentFixture(t, 3000)
	payment := f.request(t)
	f.confirm(t, payment)

	result, err := f.svc.Cancel(context.Background(), CancelInput{
		UserID:      f.userID,
		TossOrderID: payment.TossOrderID,
		Reason:      "changed my mind",
	})
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if f.gateway.cancelCalls != 1 {
		t.Fatalf("expected one gateway cancel, got %d", f.gateway.cancelCalls)
	}

	earned := (f.total - 3000) / 100
	if result.RefundAmount != f.total || result.RefundedPoints != 3000 || result.DeductedPoints != earned {
		t.Fatalf("unexpected cancel summary: %+v", result)
	}

	var stored models.Payment
	if err := f.db.First(&stored, "id = ?", payment.ID).Error; err != nil {
		t.Fatalf("load payment: %v", err)
	}
	if !stored.IsCanceled || stored.Status != enums.PaymentStatusCanceled || stored.CanceledAt == nil {
		t.Fatalf("expected canceled payment, got %+v", stored)
	}
	if stored.CanceledAmount != f.total {
		t.Fatalf("expected canceled amount %d, got %d", f.total, stored.CanceledAmount)
	}
	if stored.CancelReason == nil || *stored.CancelReason != "changed my mind" {
		t.Fatalf("expected the cancel reason stored, got %+v", stored.CancelReason)
	}

	var order models.Order
	if err := f.db.First(&order, "id = ?", f.orderID).Error; err != nil {
		t.Fatalf("load order: %v", err)
	}
	if order.Status != enums.OrderStatusCanceled {
		t.Fatalf("expected canceled order, got %s", order.Status)
	}

	var product models.Product
	if err := f.db.First(&product, "id = ?", f.productID).Error; err != nil {
		t.Fatalf("load product: %v", err)
	}
	if product.Stock != 5 || product.SoldCount != 0 {
		t.Fatalf("expected stock restored, got %+v", product)
	}

	// used points come back, the settlement earn is clawed back
	var user models.User
	if err := f.db.First(&user, "id = ?", f.userID).Error; err != nil {
		t.Fatalf("load user: %v", err)
	}
	if user.Points != 3000 {
		t.Fatalf("expected 3000 refunded points, got %d", user.Points)
	}

	if got := f.countLogs(t, payment.TossOrderID, enums.PaymentLogTypeCancel); got != 1 {
		t.Fatalf("expected one cancel log, got %d", got)
	}

	var events int64
	if err := f.db.Model(&models.OutboxEvent{}).
		Where("aggregate_id = ? AND event_type = ?", payment.ID, enums.EventPaymentCanceled).
		Count(&events).Error; err != nil {
		t.Fatalf("count events: %v", err)
	}
	if events != 1 {
		t.Fatalf("expected one payment_canceled event, got %d", events)
	}
}

func TestCancelIsIdempotent(t *testing.T) {
	t.Parallel()

	f := newPaymentFixture(t, 0)
	payment := f.request(t)
	f.confirm(t, payment)

	for i := 0; i < 2; i++ {
		if _, err := f.svc.Cancel(context.Background(), CancelInput{
			UserID:      f.userID,
			TossOrderID: payment.TossOrderID,
			Reason:      "dup delivery",
		}); err != nil {
			t.Fatalf("cancel attempt %d: %v", i+1, err)
		}
	}
	if f.gateway.cancelCalls != 1 {
		t.Fatalf("replayed cancel must not hit the gateway again, got %d calls", f.gateway.cancelCalls)
	}

	var product models.Product
	if err := f.db.First(&product, "id = ?", f.productID).Error; err != nil {
		t.Fatalf("load product: %v", err)
	}
	if product.Stock != 5 {
		t.Fatalf("replayed cancel must not restore stock twice, got %d", product.Stock)
	}
}

func TestProviderCancelBeforeSettlement(t *testing.T) {
	t.Parallel()

	f := newPaymentFixture(t, 3000)
	payment := f.request(t)

	// the provider voided the attempt before any approval happened
	result, err := f.svc.Cancel(context.Background(), CancelInput{
		TossOrderID: payment.TossOrderID,
		Reason:      "provider canceled",
		SkipGateway: true,
	})
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if f.gateway.cancelCalls != 0 {
		t.Fatalf("nothing was charged, gateway must not be called, got %d calls", f.gateway.cancelCalls)
	}
	if result.RefundAmount != 0 || result.RefundedPoints != 0 || result.DeductedPoints != 0 {
		t.Fatalf("nothing settled, nothing to reverse: %+v", result)
	}

	var stored models.Payment
	if err := f.db.First(&stored, "id = ?", payment.ID).Error; err != nil {
		t.Fatalf("load payment: %v", err)
	}
	if !stored.IsCanceled || stored.Status != enums.PaymentStatusCanceled {
		t.Fatalf("expected canceled payment, got %+v", stored)
	}

	var order models.Order
	if err := f.db.First(&order, "id = ?", f.orderID).Error; err != nil {
		t.Fatalf("load order: %v", err)
	}
	if order.Status != enums.OrderStatusCanceled {
		t.Fatalf("expected canceled order, got %s", order.Status)
	}

	// the placement-time stock hold is untouched and no points move
	var product models.Product
	if err := f.db.First(&product, "id = ?", f.productID).Error; err != nil {
		t.Fatalf("load product: %v", err)
	}
	if product.Stock != 3 || product.SoldCount != 0 {
		t.Fatalf("expected product untouched, got %+v", product)
	}
	var user models.User
	if err := f.db.First(&user, "id = ?", f.userID).Error; err != nil {
		t.Fatalf("load user: %v", err)
	}
	if user.Points != 0 {
		t.Fatalf("expected no point movement, got %d", user.Points)
	}
}

func TestCancelAbortsWhenEarnedPointsAlreadySpent(t *testing.T) {
	t.Parallel()

	f := newPaymentFixture(t, 0)
	payment := f.request(t)
	f.confirm(t, payment)

	// the buyer drains the earned points before canceling
	if err := f.db.Model(&models.User{}).Where("id = ?", f.userID).
		Update("points", 0).Error; err != nil {
		t.Fatalf("spend points: %v", err)
	}
	if err := f.db.Model(&models.PointHistory{}).Where("user_id = ?", f.userID).
		Update("remaining", 0).Error; err != nil {
		t.Fatalf("drain credits: %v", err)
	}

	_, err := f.svc.Cancel(context.Background(), CancelInput{
		UserID:      f.userID,
		TossOrderID: payment.TossOrderID,
		Reason:      "too late",
	})
	if typed := pkgerrors.As(err); typed == nil || typed.Code() != pkgerrors.CodeInsufficientPoints {
		t.Fatalf("expected insufficient points, got %v", err)
	}

	// the whole cancel rolled back
	var stored models.Payment
	if err := f.db.First(&stored, "id = ?", payment.ID).Error; err != nil {
		t.Fatalf("load payment: %v", err)
	}
	if stored.IsCanceled || !stored.IsPaid {
		t.Fatalf("expected payment untouched, got %+v", stored)
	}
	var product models.Product
	if err := f.db.First(&product, "id = ?", f.productID).Error; err != nil {
		t.Fatalf("load product: %v", err)
	}
	if product.Stock != 3 {
		t.Fatalf("expected stock untouched, got %d", product.Stock)
	}
}

func TestFailKeepsOrderOpen(t *testing.T) {
	t.Parallel()

	f := newPaymentFixture(t, 0)
	payment := f.request(t)

	if err := f.svc.Fail(context.Background(), FailInput{
		UserID:      f.userID,
		TossOrderID: payment.TossOrderID,
		ErrorCode:   "PAY_PROCESS_CANCELED",
		Message:     "buyer closed the checkout window",
	}); err != nil {
		t.Fatalf("fail: %v", err)
	}

	var stored models.Payment
	if err := f.db.First(&stored, "id = ?", payment.ID).Error; err != nil {
		t.Fatalf("load payment: %v", err)
	}
	if stored.Status != enums.PaymentStatusAborted {
		t.Fatalf("expected aborted, got %s", stored.Status)
	}
	if stored.FailureReason == nil || *stored.FailureReason != "buyer closed the checkout window" {
		t.Fatalf("expected the failure reason stored, got %+v", stored.FailureReason)
	}
	if got := f.countLogs(t, payment.TossOrderID, enums.PaymentLogTypeError); got != 1 {
		t.Fatalf("expected one error log, got %d", got)
	}

	var order models.Order
	if err := f.db.First(&order, "id = ?", f.orderID).Error; err != nil {
		t.Fatalf("load order: %v", err)
	}
	if order.Status != enums.OrderStatusPending {
		t.Fatalf("order must stay open for a retry, got %s", order.Status)
	}

	// and a fresh request succeeds
	if _, err := f.svc.Request(context.Background(), RequestInput{
		UserID:  f.userID,
		OrderID: f.orderID,
		Method:  enums.PaymentMethodCard,
	}); err != nil {
		t.Fatalf("re-request after fail: %v", err)
	}
}

func TestGetScopedToOwner(t *testing.T) {
	t.Parallel()

	f := newPaymentFixture(t, 0)
	payment := f.request(t)

	if _, err := f.svc.Get(context.Background(), f.userID, payment.ID); err != nil {
		t.Fatalf("owner get: %v", err)
	}
	_, err := f.svc.Get(context.Background(), uuid.New(), payment.ID)
	if typed := pkgerrors.As(err); typed == nil || typed.Code() != pkgerrors.CodeNotFound {
		t.Fatalf("expected not found for other user, got %v", err)
	}
}
