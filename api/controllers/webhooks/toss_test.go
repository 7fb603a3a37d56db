package webhooks

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	tosswebhook "github.com/shopmall/shopmall-backend/internal/webhooks/toss"
	pkgerrors "github.com/shopmall/shopmall-backend/pkg/errors"
	"github.com/shopmall/shopmall-backend/pkg/toss"
)

const webhookSecret = "whsec_test"

type stubWebhookService struct {
	err    error
	events []*tosswebhook.Event
}

func (s *stubWebhookService) HandleEvent(_ context.Context, event *tosswebhook.Event) error {
	s.events = append(s.events, event)
	return s.err
}

type memoryGuard struct {
	seen    map[string]bool
	deletes int
}

func newMemoryGuard() *memoryGuard {
	return &memoryGuard{seen: map[string]bool{}}
}

func (g *memoryGuard) CheckAndMark(_ context.Context, eventID string) (bool, error) {
	if g.seen[eventID] {
		return true, nil
	}
	g.seen[eventID] = true
	return false, nil
}

func (g *memoryGuard) Delete(_ context.Context, eventID string) error {
	g.deletes++
	delete(g.seen, eventID)
	return nil
}

type secretVerifier string

func (v secretVerifier) VerifyWebhookSignature(payload []byte, signature string) bool {
	return toss.VerifySignature(payload, string(v), signature)
}

func signedRequest(t *testing.T, body string) *http.Request {
	t.Helper()
	sig, err := toss.Sign([]byte(body), webhookSecret)
	if err != nil {
		t.Fatalf("sign payload: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/toss", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Toss-Webhook-Signature", sig)
	return req
}

func statusChangedBody(status string) string {
	return `{"eventType":"PAYMENT_STATUS_CHANGED","createdAt":"2026-08-23T10:00:00+09:00","data":{"paymentKey":"pk_test","orderId":"20260823-000001-abcd1234","status":"` + status + `","totalAmount":50000}}`
}

func TestTossWebhookDelivers(t *testing.T) {
	svc := &stubWebhookService{}
	handler := TossWebhook(svc, secretVerifier(webhookSecret), newMemoryGuard(), nil)

	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, signedRequest(t, statusChangedBody("DONE")))

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d: %s", resp.Code, resp.Body.String())
	}
	if len(svc.events) != 1 || svc.events[0].Data.Status != "DONE" {
		t.Fatalf("unexpected events: %+v", svc.events)
	}
}

func TestTossWebhookMissingSignature(t *testing.T) {
	svc := &stubWebhookService{}
	handler := TossWebhook(svc, secretVerifier(webhookSecret), newMemoryGuard(), nil)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/toss", strings.NewReader(statusChangedBody("DONE")))
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)

	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 got %d", resp.Code)
	}
	if len(svc.events) != 0 {
		t.Fatal("unsigned delivery must not reach the service")
	}
}

func TestTossWebhookBadSignature(t *testing.T) {
	svc := &stubWebhookService{}
	handler := TossWebhook(svc, secretVerifier("other_secret"), newMemoryGuard(), nil)

	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, signedRequest(t, statusChangedBody("DONE")))

	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 got %d", resp.Code)
	}
}

func TestTossWebhookDeduplicatesDeliveries(t *testing.T) {
	svc := &stubWebhookService{}
	guard := newMemoryGuard()
	handler := TossWebhook(svc, secretVerifier(webhookSecret), guard, nil)

	for i := 0; i < 2; i++ {
		resp := httptest.NewRecorder()
		handler.ServeHTTP(resp, signedRequest(t, statusChangedBody("DONE")))
		if resp.Code != http.StatusOK {
			t.Fatalf("delivery %d: expected 200 got %d", i+1, resp.Code)
		}
	}
	if len(svc.events) != 1 {
		t.Fatalf("redelivered payload must be handled once, got %d", len(svc.events))
	}
}

func TestTossWebhookReleasesKeyOnFailure(t *testing.T) {
	svc := &stubWebhookService{err: pkgerrors.New(pkgerrors.CodeInternal, "db write failed")}
	guard := newMemoryGuard()
	handler := TossWebhook(svc, secretVerifier(webhookSecret), guard, nil)

	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, signedRequest(t, statusChangedBody("DONE")))

	if resp.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500 got %d", resp.Code)
	}
	if guard.deletes != 1 {
		t.Fatalf("failed handling must release the dedup key, got %d deletes", guard.deletes)
	}

	// the provider retries; the redelivery must get through
	svc.err = nil
	resp = httptest.NewRecorder()
	handler.ServeHTTP(resp, signedRequest(t, statusChangedBody("DONE")))
	if resp.Code != http.StatusOK {
		t.Fatalf("redelivery: expected 200 got %d", resp.Code)
	}
	if len(svc.events) != 2 {
		t.Fatalf("expected redelivery to be handled, got %d events", len(svc.events))
	}
}
