package controllers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/shopmall/shopmall-backend/api/middleware"
	"github.com/shopmall/shopmall-backend/api/responses"
	"github.com/shopmall/shopmall-backend/api/validators"
	paymentsvc "github.com/shopmall/shopmall-backend/internal/payments"
	"github.com/shopmall/shopmall-backend/pkg/db/models"
	"github.com/shopmall/shopmall-backend/pkg/enums"
	pkgerrors "github.com/shopmall/shopmall-backend/pkg/errors"
	"github.com/shopmall/shopmall-backend/pkg/logger"
	"github.com/shopmall/shopmall-backend/pkg/pagination"
)

func currentUserID(r *http.Request) (uuid.UUID, error) {
	raw := middleware.UserIDFromContext(r.Context())
	if raw == "" {
		return uuid.Nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "missing credentials")
	}
	userID, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, pkgerrors.Wrap(pkgerrors.CodeUnauthorized, err, "invalid user identity")
	}
	return userID, nil
}

func paginationParams(r *http.Request) pagination.Params {
	params := pagination.Params{Cursor: r.URL.Query().Get("cursor")}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if limit, err := strconv.Atoi(raw); err == nil {
			params.Limit = limit
		}
	}
	return params
}

type paymentRequestBody struct {
	OrderID uuid.UUID `json:"order_id" validate:"required"`
	Method  string    `json:"method" validate:"required"`
}

// PaymentRequest creates a fresh payment attempt for a pending order.
func PaymentRequest(svc paymentsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, err := currentUserID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload paymentRequestBody
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		method, err := enums.ParsePaymentMethod(payload.Method)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid payment method"))
			return
		}

		payment, err := svc.Request(r.Context(), paymentsvc.RequestInput{
			UserID:  userID,
			OrderID: payload.OrderID,
			Method:  method,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, newPaymentResponse(payment))
	}
}

type paymentConfirmBody struct {
	PaymentKey string `json:"payment_key" validate:"required"`
	OrderID    string `json:"order_id" validate:"required"`
	Amount     int64  `json:"amount" validate:"required,min=1"`
}

// PaymentConfirm approves the payment synchronously against the gateway.
func PaymentConfirm(svc paymentsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, err := currentUserID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload paymentConfirmBody
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		result, err := svc.Confirm(r.Context(), paymentsvc.ConfirmInput{
			UserID:      userID,
			TossOrderID: payload.OrderID,
			PaymentKey:  payload.PaymentKey,
			Amount:      payload.Amount,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, paymentConfirmResponse{
			Payment:      newPaymentResponse(result.Payment),
			PointsEarned: result.PointsEarned,
			ReceiptURL:   result.Payment.ReceiptURL,
		})
	}
}

// PaymentConfirmAsync accepts the confirm parameters and settles through the
// worker. The response reports the in-progress payment.
func PaymentConfirmAsync(svc paymentsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, err := currentUserID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload paymentConfirmBody
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		payment, err := svc.BeginConfirm(r.Context(), paymentsvc.ConfirmInput{
			UserID:      userID,
			TossOrderID: payload.OrderID,
			PaymentKey:  payload.PaymentKey,
			Amount:      payload.Amount,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusAccepted, newPaymentResponse(payment))
	}
}

type paymentCancelBody struct {
	OrderID string `json:"order_id" validate:"required"`
	Reason  string `json:"reason"`
}

// PaymentCancel reverses a settled payment.
func PaymentCancel(svc paymentsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, err := currentUserID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload paymentCancelBody
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		result, err := svc.Cancel(r.Context(), paymentsvc.CancelInput{
			UserID:      userID,
			TossOrderID: payload.OrderID,
			Reason:      payload.Reason,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, paymentCancelResponse{
			Payment:        newPaymentResponse(result.Payment),
			RefundAmount:   result.RefundAmount,
			RefundedPoints: result.RefundedPoints,
			DeductedPoints: result.DeductedPoints,
		})
	}
}

type paymentFailBody struct {
	OrderID   string `json:"order_id" validate:"required"`
	ErrorCode string `json:"error_code"`
	Message   string `json:"message"`
}

// PaymentFail records a failed checkout redirect from the hosted payment UI.
func PaymentFail(svc paymentsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, err := currentUserID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload paymentFailBody
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		if err := svc.Fail(r.Context(), paymentsvc.FailInput{
			UserID:      userID,
			TossOrderID: payload.OrderID,
			ErrorCode:   payload.ErrorCode,
			Message:     payload.Message,
		}); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]string{"status": "recorded"})
	}
}

// PaymentList returns the caller's payments, newest first.
func PaymentList(svc paymentsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, err := currentUserID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		list, err := svc.List(r.Context(), userID, paginationParams(r))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		items := make([]paymentResponse, 0, len(list.Payments))
		for i := range list.Payments {
			items = append(items, newPaymentResponse(&list.Payments[i]))
		}
		responses.WriteSuccess(w, paymentListResponse{
			Payments:   items,
			NextCursor: list.NextCursor,
		})
	}
}

// PaymentDetail returns one payment owned by the caller.
func PaymentDetail(svc paymentsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, err := currentUserID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		paymentID, err := uuid.Parse(chi.URLParam(r, "paymentId"))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid payment id"))
			return
		}

		payment, err := svc.Get(r.Context(), userID, paymentID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, newPaymentResponse(payment))
	}
}

type paymentResponse struct {
	ID          uuid.UUID  `json:"id"`
	OrderID     uuid.UUID  `json:"order_id"`
	TossOrderID string     `json:"toss_order_id"`
	Method      string     `json:"method"`
	Amount      int64      `json:"amount"`
	Status      string     `json:"status"`
	IsPaid      bool       `json:"is_paid"`
	IsCanceled  bool       `json:"is_canceled"`
	ReceiptURL  *string    `json:"receipt_url,omitempty"`
	RequestedAt time.Time  `json:"requested_at"`
	ApprovedAt  *time.Time `json:"approved_at,omitempty"`
	CanceledAt  *time.Time `json:"canceled_at,omitempty"`
}

type paymentConfirmResponse struct {
	Payment      paymentResponse `json:"payment"`
	PointsEarned int64           `json:"points_earned"`
	ReceiptURL   *string         `json:"receipt_url,omitempty"`
}

type paymentCancelResponse struct {
	Payment        paymentResponse `json:"payment"`
	RefundAmount   int64           `json:"refund_amount"`
	RefundedPoints int64           `json:"refunded_points"`
	DeductedPoints int64           `json:"deducted_points"`
}

type paymentListResponse struct {
	Payments   []paymentResponse `json:"payments"`
	NextCursor string            `json:"next_cursor,omitempty"`
}

func newPaymentResponse(payment *models.Payment) paymentResponse {
	return paymentResponse{
		ID:          payment.ID,
		OrderID:     payment.OrderID,
		TossOrderID: payment.TossOrderID,
		Method:      string(payment.Method),
		Amount:      payment.Amount,
		Status:      string(payment.Status),
		IsPaid:      payment.IsPaid,
		IsCanceled:  payment.IsCanceled,
		ReceiptURL:  payment.ReceiptURL,
		RequestedAt: payment.RequestedAt,
		ApprovedAt:  payment.ApprovedAt,
		CanceledAt:  payment.CanceledAt,
	}
}
