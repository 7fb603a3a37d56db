package controllers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/shopmall/shopmall-backend/api/responses"
	"github.com/shopmall/shopmall-backend/api/validators"
	ordersvc "github.com/shopmall/shopmall-backend/internal/orders"
	pointsvc "github.com/shopmall/shopmall-backend/internal/points"
	"github.com/shopmall/shopmall-backend/pkg/db/models"
	pkgerrors "github.com/shopmall/shopmall-backend/pkg/errors"
	"github.com/shopmall/shopmall-backend/pkg/logger"
)

type orderPlaceBody struct {
	UsedPoints      int64   `json:"used_points" validate:"min=0"`
	RecipientName   string  `json:"recipient_name" validate:"required"`
	RecipientPhone  string  `json:"recipient_phone" validate:"required"`
	ShippingAddress string  `json:"shipping_address" validate:"required"`
	ShippingMemo    *string `json:"shipping_memo"`
	ShippingFee     int64   `json:"shipping_fee" validate:"min=0"`
}

// OrderPlace converts the caller's active cart into an order.
func OrderPlace(svc ordersvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, err := currentUserID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload orderPlaceBody
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		order, err := svc.Place(r.Context(), ordersvc.PlaceOrderInput{
			UserID:          userID,
			UsedPoints:      payload.UsedPoints,
			RecipientName:   payload.RecipientName,
			RecipientPhone:  payload.RecipientPhone,
			ShippingAddress: payload.ShippingAddress,
			ShippingMemo:    payload.ShippingMemo,
			ShippingFee:     payload.ShippingFee,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, newOrderResponse(order))
	}
}

// OrderList returns the caller's orders, newest first.
func OrderList(svc ordersvc.Service, logg *logger.Logger) http.HandlerFunc {
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

		items := make([]orderResponse, 0, len(list.Orders))
		for i := range list.Orders {
			items = append(items, newOrderResponse(&list.Orders[i]))
		}
		responses.WriteSuccess(w, orderListResponse{
			Orders:     items,
			NextCursor: list.NextCursor,
		})
	}
}

// OrderDetail returns one order owned by the caller.
func OrderDetail(svc ordersvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, err := currentUserID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		orderID, err := uuid.Parse(chi.URLParam(r, "orderId"))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid order id"))
			return
		}

		order, err := svc.Get(r.Context(), userID, orderID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, newOrderResponse(order))
	}
}

// PointHistory returns the caller's point ledger entries, newest first.
func PointHistory(svc pointsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, err := currentUserID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		limit := 0
		if raw := r.URL.Query().Get("limit"); raw != "" {
			if parsed, err := strconv.Atoi(raw); err == nil {
				limit = parsed
			}
		}

		histories, err := svc.History(r.Context(), userID, limit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		items := make([]pointHistoryResponse, 0, len(histories))
		for i := range histories {
			items = append(items, newPointHistoryResponse(&histories[i]))
		}
		responses.WriteSuccess(w, pointHistoryListResponse{Histories: items})
	}
}

type orderItemResponse struct {
	ProductID   uuid.UUID `json:"product_id"`
	ProductName string    `json:"product_name"`
	UnitPrice   int64     `json:"unit_price"`
	Quantity    int       `json:"quantity"`
}

type orderResponse struct {
	ID              uuid.UUID           `json:"id"`
	OrderNumber     string              `json:"order_number"`
	Status          string              `json:"status"`
	TotalAmount     int64               `json:"total_amount"`
	UsedPoints      int64               `json:"used_points"`
	ShippingFee     int64               `json:"shipping_fee"`
	RecipientName   string              `json:"recipient_name"`
	RecipientPhone  string              `json:"recipient_phone"`
	ShippingAddress string              `json:"shipping_address"`
	ShippingMemo    *string             `json:"shipping_memo,omitempty"`
	Items           []orderItemResponse `json:"items"`
	CreatedAt       time.Time           `json:"created_at"`
}

type orderListResponse struct {
	Orders     []orderResponse `json:"orders"`
	NextCursor string          `json:"next_cursor,omitempty"`
}

func newOrderResponse(order *models.Order) orderResponse {
	items := make([]orderItemResponse, 0, len(order.Items))
	for _, item := range order.Items {
		items = append(items, orderItemResponse{
			ProductID:   item.ProductID,
			ProductName: item.ProductName,
			UnitPrice:   item.UnitPrice,
			Quantity:    item.Quantity,
		})
	}
	return orderResponse{
		ID:              order.ID,
		OrderNumber:     order.OrderNumber,
		Status:          string(order.Status),
		TotalAmount:     order.TotalAmount,
		UsedPoints:      order.UsedPoints,
		ShippingFee:     order.ShippingFee,
		RecipientName:   order.RecipientName,
		RecipientPhone:  order.RecipientPhone,
		ShippingAddress: order.ShippingAddress,
		ShippingMemo:    order.ShippingMemo,
		Items:           items,
		CreatedAt:       order.CreatedAt,
	}
}

type pointHistoryResponse struct {
	ID          uuid.UUID  `json:"id"`
	OrderID     *uuid.UUID `json:"order_id,omitempty"`
	Type        string     `json:"type"`
	Points      int64      `json:"points"`
	Balance     int64      `json:"balance"`
	Description string     `json:"description,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

type pointHistoryListResponse struct {
	Histories []pointHistoryResponse `json:"histories"`
}

func newPointHistoryResponse(history *models.PointHistory) pointHistoryResponse {
	return pointHistoryResponse{
		ID:          history.ID,
		OrderID:     history.OrderID,
		Type:        string(history.Type),
		Points:      history.Points,
		Balance:     history.Balance,
		Description: history.Description,
		CreatedAt:   history.CreatedAt,
	}
}
