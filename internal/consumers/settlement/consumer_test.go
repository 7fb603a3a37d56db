package settlement

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/shopmall/shopmall-backend/internal/payments"
	"github.com/shopmall/shopmall-backend/pkg/config"
	"github.com/shopmall/shopmall-backend/pkg/enums"
	pkgerrors "github.com/shopmall/shopmall-backend/pkg/errors"
	"github.com/shopmall/shopmall-backend/pkg/logger"
	"github.com/shopmall/shopmall-backend/pkg/outbox"
	"github.com/shopmall/shopmall-backend/pkg/outbox/payloads"
	"github.com/shopmall/shopmall-backend/pkg/toss"
)

type scriptedGateway struct {
	confirmErrs  []error
	confirmCalls int
	queryStatus  string
	queryErr     error
	queryCalls   int
}

func (g *scriptedGateway) Confirm(_ context.Context, params toss.ConfirmParams) (*toss.Payment, error) {
	g.confirmCalls++
	if g.confirmCalls <= len(g.confirmErrs) {
		if err := g.confirmErrs[g.confirmCalls-1]; err != nil {
			return nil, err
		}
	}
	approvedAt := time.Now()
	return &toss.Payment{
		PaymentKey:  params.PaymentKey,
		OrderID:     params.OrderID,
		Status:      "DONE",
		Method:      "카드",
		TotalAmount: params.Amount,
		ApprovedAt:  &approvedAt,
	}, nil
}

func (g *scriptedGateway) Query(_ context.Context, orderID string) (*toss.Payment, error) {
	g.queryCalls++
	if g.queryErr != nil {
		return nil, g.queryErr
	}
	status := g.queryStatus
	if status == "" {
		status = "DONE"
	}
	return &toss.Payment{OrderID: orderID, Status: status, TotalAmount: 50000}, nil
}

type recordingSettler struct {
	settleErr   error
	failErr     error
	settled     []uuid.UUID
	settledGW   *toss.Payment
	failedCodes []string
}

func (s *recordingSettler) Settle(_ context.Context, paymentID uuid.UUID, gw *toss.Payment, _ string) error {
	s.settled = append(s.settled, paymentID)
	s.settledGW = gw
	return s.settleErr
}

func (s *recordingSettler) Fail(_ context.Context, input payments.FailInput) error {
	s.failedCodes = append(s.failedCodes, input.ErrorCode)
	return s.failErr
}

type memoryManager struct {
	processed map[uuid.UUID]bool
	deletes   int
	checkErr  error
}

func newMemoryManager() *memoryManager {
	return &memoryManager{processed: map[uuid.UUID]bool{}}
}

func (m *memoryManager) CheckAndMarkProcessed(_ context.Context, _ string, eventID uuid.UUID) (bool, error) {
	if m.checkErr != nil {
		return false, m.checkErr
	}
	if m.processed[eventID] {
		return true, nil
	}
	m.processed[eventID] = true
	return false, nil
}

func (m *memoryManager) Delete(_ context.Context, _ string, eventID uuid.UUID) error {
	m.deletes++
	delete(m.processed, eventID)
	return nil
}

func newTestConsumer(t *testing.T, gw *scriptedGateway, settler *recordingSettler, manager *memoryManager) *Consumer {
	t.Helper()
	c, err := NewConsumer(
		nil,
		gw,
		settler,
		manager,
		config.SettlementConfig{ConfirmMaxAttempts: 3, ConfirmRetryDelay: time.Millisecond},
		logger.New(logger.Options{ServiceName: "test", Output: io.Discard}),
		nil,
	)
	if err != nil {
		t.Fatalf("build consumer: %v", err)
	}
	c.sleepFn = func(context.Context, time.Duration) error { return nil }
	return c
}

func confirmEnvelope(t *testing.T, paymentID uuid.UUID) outbox.PayloadEnvelope {
	t.Helper()
	data, err := json.Marshal(payloads.PaymentConfirmRequestedEvent{
		PaymentID:   paymentID,
		OrderID:     uuid.New(),
		TossOrderID: "20250101-000001-abcd1234",
		PaymentKey:  "pk_test",
		Amount:      50000,
		UserID:      uuid.New(),
	})
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	return outbox.PayloadEnvelope{
		Version:    1,
		EventID:    uuid.NewString(),
		OccurredAt: time.Now(),
		Data:       data,
	}
}

func TestProcessConfirmsAndSettles(t *testing.T) {
	t.Parallel()

	gw := &scriptedGateway{}
	settler := &recordingSettler{}
	manager := newMemoryManager()
	c := newTestConsumer(t, gw, settler, manager)

	paymentID := uuid.New()
	env := confirmEnvelope(t, paymentID)
	if err := c.Process(context.Background(), enums.EventPaymentConfirmRequested, env); err != nil {
		t.Fatalf("process: %v", err)
	}
	if gw.confirmCalls != 1 {
		t.Fatalf("expected one confirm call, got %d", gw.confirmCalls)
	}
	if len(settler.settled) != 1 || settler.settled[0] != paymentID {
		t.Fatalf("expected settle for %s, got %v", paymentID, settler.settled)
	}
	if settler.settledGW == nil || settler.settledGW.TotalAmount != 50000 {
		t.Fatalf("expected gateway verdict forwarded, got %+v", settler.settledGW)
	}
}

func TestProcessSkipsAlreadyProcessedEvent(t *testing.T) {
	t.Parallel()

	gw := &scriptedGateway{}
	settler := &recordingSettler{}
	manager := newMemoryManager()
	c := newTestConsumer(t, gw, settler, manager)

	env := confirmEnvelope(t, uuid.New())
	for i := 0; i < 2; i++ {
		if err := c.Process(context.Background(), enums.EventPaymentConfirmRequested, env); err != nil {
			t.Fatalf("process attempt %d: %v", i+1, err)
		}
	}
	if gw.confirmCalls != 1 {
		t.Fatalf("redelivery must not reach the gateway, got %d calls", gw.confirmCalls)
	}
}

func TestProcessIgnoresOtherEventTypes(t *testing.T) {
	t.Parallel()

	gw := &scriptedGateway{}
	settler := &recordingSettler{}
	c := newTestConsumer(t, gw, settler, newMemoryManager())

	env := confirmEnvelope(t, uuid.New())
	if err := c.Process(context.Background(), enums.EventPaymentSettled, env); err != nil {
		t.Fatalf("process: %v", err)
	}
	if gw.confirmCalls != 0 || len(settler.settled) != 0 {
		t.Fatal("settled events must pass through untouched")
	}
}

func TestProcessDropsUndecodablePayload(t *testing.T) {
	t.Parallel()

	gw := &scriptedGateway{}
	settler := &recordingSettler{}
	c := newTestConsumer(t, gw, settler, newMemoryManager())

	env := confirmEnvelope(t, uuid.New())
	env.Version = 2 // no decoder registered for this version
	if err := c.Process(context.Background(), enums.EventPaymentConfirmRequested, env); err != nil {
		t.Fatalf("undecodable payload must be acknowledged, got %v", err)
	}

	env = confirmEnvelope(t, uuid.New())
	env.Data = json.RawMessage(`{"payment_id":42}`)
	if err := c.Process(context.Background(), enums.EventPaymentConfirmRequested, env); err != nil {
		t.Fatalf("malformed payload must be acknowledged, got %v", err)
	}

	if gw.confirmCalls != 0 || len(settler.settled) != 0 {
		t.Fatal("undecodable payloads must never reach the gateway")
	}
}

func TestProcessRetriesTransportErrors(t *testing.T) {
	t.Parallel()

	gw := &scriptedGateway{confirmErrs: []error{
		&toss.APIError{Code: toss.CodeTimeout, Message: "timeout"},
		&toss.APIError{Code: toss.CodeNetworkError, Message: "reset"},
		nil,
	}}
	settler := &recordingSettler{}
	c := newTestConsumer(t, gw, settler, newMemoryManager())

	if err := c.Process(context.Background(), enums.EventPaymentConfirmRequested, confirmEnvelope(t, uuid.New())); err != nil {
		t.Fatalf("process: %v", err)
	}
	if gw.confirmCalls != 3 {
		t.Fatalf("expected 3 attempts, got %d", gw.confirmCalls)
	}
	if len(settler.settled) != 1 {
		t.Fatalf("expected settle after retries, got %v", settler.settled)
	}
}

func TestProcessRedeliversWhenRetryBudgetExhausted(t *testing.T) {
	t.Parallel()

	timeout := &toss.APIError{Code: toss.CodeTimeout, Message: "timeout"}
	gw := &scriptedGateway{confirmErrs: []error{timeout, timeout, timeout}}
	settler := &recordingSettler{}
	manager := newMemoryManager()
	c := newTestConsumer(t, gw, settler, manager)

	err := c.Process(context.Background(), enums.EventPaymentConfirmRequested, confirmEnvelope(t, uuid.New()))
	if err == nil {
		t.Fatal("expected error so the message is redelivered")
	}
	if gw.confirmCalls != 3 {
		t.Fatalf("expected the full retry budget, got %d calls", gw.confirmCalls)
	}
	if len(settler.settled) != 0 || len(settler.failedCodes) != 0 {
		t.Fatal("no verdict must be recorded without a provider answer")
	}
	if manager.deletes != 1 {
		t.Fatalf("idempotency key must be released for the retry, got %d deletes", manager.deletes)
	}
}

func TestProcessRecordsTerminalRejection(t *testing.T) {
	t.Parallel()

	gw := &scriptedGateway{confirmErrs: []error{
		&toss.APIError{Code: "REJECT_CARD_PAYMENT", Message: "rejected", HTTPStatus: 403},
	}}
	settler := &recordingSettler{}
	c := newTestConsumer(t, gw, settler, newMemoryManager())

	if err := c.Process(context.Background(), enums.EventPaymentConfirmRequested, confirmEnvelope(t, uuid.New())); err != nil {
		t.Fatalf("terminal rejection must be acknowledged, got %v", err)
	}
	if gw.confirmCalls != 1 {
		t.Fatalf("provider verdicts must not be retried, got %d calls", gw.confirmCalls)
	}
	if len(settler.failedCodes) != 1 || settler.failedCodes[0] != "REJECT_CARD_PAYMENT" {
		t.Fatalf("expected recorded failure, got %v", settler.failedCodes)
	}
	if len(settler.settled) != 0 {
		t.Fatal("rejected payment must not settle")
	}
}

func TestProcessResolvesDuplicateConfirmByQuery(t *testing.T) {
	t.Parallel()

	gw := &scriptedGateway{
		confirmErrs: []error{&toss.APIError{Code: toss.CodeAlreadyProcessedPayment, Message: "dup"}},
		queryStatus: "DONE",
	}
	settler := &recordingSettler{}
	c := newTestConsumer(t, gw, settler, newMemoryManager())

	if err := c.Process(context.Background(), enums.EventPaymentConfirmRequested, confirmEnvelope(t, uuid.New())); err != nil {
		t.Fatalf("process: %v", err)
	}
	if gw.queryCalls != 1 {
		t.Fatalf("expected one query, got %d", gw.queryCalls)
	}
	if len(settler.settled) != 1 {
		t.Fatalf("expected settle from queried verdict, got %v", settler.settled)
	}
}

func TestProcessAcknowledgesConcurrentSettlement(t *testing.T) {
	t.Parallel()

	gw := &scriptedGateway{}
	settler := &recordingSettler{
		settleErr: pkgerrors.New(pkgerrors.CodeConflict, "payment reached a terminal state"),
	}
	c := newTestConsumer(t, gw, settler, newMemoryManager())

	if err := c.Process(context.Background(), enums.EventPaymentConfirmRequested, confirmEnvelope(t, uuid.New())); err != nil {
		t.Fatalf("conflict must be acknowledged, got %v", err)
	}
}

func TestProcessRedeliversOnSettleFailure(t *testing.T) {
	t.Parallel()

	gw := &scriptedGateway{}
	settler := &recordingSettler{settleErr: errors.New("db write failed")}
	manager := newMemoryManager()
	c := newTestConsumer(t, gw, settler, manager)

	if err := c.Process(context.Background(), enums.EventPaymentConfirmRequested, confirmEnvelope(t, uuid.New())); err == nil {
		t.Fatal("expected error so the message is redelivered")
	}
	if manager.deletes != 1 {
		t.Fatalf("idempotency key must be released, got %d deletes", manager.deletes)
	}
}
