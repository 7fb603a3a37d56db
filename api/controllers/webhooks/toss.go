package webhooks

import (
	"context"
	"encoding/json"
	"io"
	"net/http"

	"github.com/shopmall/shopmall-backend/api/responses"
	tosswebhook "github.com/shopmall/shopmall-backend/internal/webhooks/toss"
	pkgerrors "github.com/shopmall/shopmall-backend/pkg/errors"
	"github.com/shopmall/shopmall-backend/pkg/logger"
)

const tossSignatureHeader = "X-Toss-Webhook-Signature"

type TossWebhookService interface {
	HandleEvent(ctx context.Context, event *tosswebhook.Event) error
}

type tossWebhookGuard interface {
	CheckAndMark(ctx context.Context, eventID string) (bool, error)
	Delete(ctx context.Context, eventID string) error
}

type tossVerifier interface {
	VerifyWebhookSignature(payload []byte, signature string) bool
}

// TossWebhook handles payment status deliveries from Toss. A 2xx response
// acknowledges the delivery; anything else makes Toss redeliver.
func TossWebhook(svc TossWebhookService, verifier tossVerifier, guard tossWebhookGuard, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "webhook service unavailable"))
			return
		}
		if verifier == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "signature verifier unavailable"))
			return
		}
		if guard == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "idempotency guard unavailable"))
			return
		}

		payload, err := io.ReadAll(r.Body)
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "read request body"))
			return
		}

		signature := r.Header.Get(tossSignatureHeader)
		if signature == "" {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "webhook signature missing"))
			return
		}
		if !verifier.VerifyWebhookSignature(payload, signature) {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "webhook signature mismatch"))
			return
		}

		// Toss sends no delivery id, so the dedup key is a payload digest.
		eventID := tosswebhook.EventID(payload)
		alreadyProcessed, err := guard.CheckAndMark(ctx, eventID)
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "check idempotency"))
			return
		}
		if alreadyProcessed {
			responses.WriteSuccess(w, nil)
			return
		}

		var event tosswebhook.Event
		if err := json.Unmarshal(payload, &event); err != nil {
			// malformed payloads never become parseable; acknowledge
			if logg != nil {
				logg.Warn(ctx, "discarding malformed toss webhook payload")
			}
			responses.WriteSuccess(w, nil)
			return
		}

		if err := svc.HandleEvent(ctx, &event); err != nil {
			_ = guard.Delete(ctx, eventID)
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, nil)
	}
}
