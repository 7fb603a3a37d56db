package orders

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/shopmall/shopmall-backend/internal/carts"
	"github.com/shopmall/shopmall-backend/internal/points"
	"github.com/shopmall/shopmall-backend/internal/stock"
	"github.com/shopmall/shopmall-backend/pkg/db/models"
	"github.com/shopmall/shopmall-backend/pkg/enums"
	pkgerrors "github.com/shopmall/shopmall-backend/pkg/errors"
	"github.com/shopmall/shopmall-backend/pkg/outbox"
	"github.com/shopmall/shopmall-backend/pkg/outbox/payloads"
	"github.com/shopmall/shopmall-backend/pkg/pagination"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

type stockAdjuster interface {
	TryAdjust(ctx context.Context, tx *gorm.DB, requests []stock.AdjustRequest) ([]stock.AdjustResult, error)
}

type pointsDebiter interface {
	Use(ctx context.Context, tx *gorm.DB, input points.UseInput) (*models.PointHistory, error)
}

type stockEngine struct{}

func (stockEngine) TryAdjust(ctx context.Context, tx *gorm.DB, requests []stock.AdjustRequest) ([]stock.AdjustResult, error) {
	return stock.TryAdjust(ctx, tx, requests)
}

// Service defines order-level operations beyond repository reads.
type Service interface {
	Place(ctx context.Context, input PlaceOrderInput) (*models.Order, error)
	Get(ctx context.Context, userID, orderID uuid.UUID) (*models.Order, error)
	List(ctx context.Context, userID uuid.UUID, params pagination.Params) (*OrderList, error)
}

// PlaceOrderInput captures the data required to turn a cart into an order.
type PlaceOrderInput struct {
	UserID          uuid.UUID
	UsedPoints      int64
	RecipientName   string
	RecipientPhone  string
	ShippingAddress string
	ShippingMemo    *string
	ShippingFee     int64
}

// OrderList is a cursor page of a user's orders.
type OrderList struct {
	Orders     []models.Order `json:"orders"`
	NextCursor string         `json:"next_cursor,omitempty"`
}

type service struct {
	repo     Repository
	tx       txRunner
	carts    carts.Repository
	stock    stockAdjuster
	points   pointsDebiter
	outbox   outboxPublisher
	nowFn    func() time.Time
	sequence func(ctx context.Context, repo Repository, now time.Time) (string, error)
}

// NewService builds an orders service with the required dependencies.
func NewService(repo Repository, tx txRunner, cartsRepo carts.Repository, pointsSvc pointsDebiter, publisher outboxPublisher) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("orders repository required")
	}
	if tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if cartsRepo == nil {
		return nil, fmt.Errorf("carts repository required")
	}
	if pointsSvc == nil {
		return nil, fmt.Errorf("points service required")
	}
	if publisher == nil {
		return nil, fmt.Errorf("outbox publisher required")
	}
	return &service{
		repo:     repo,
		tx:       tx,
		carts:    cartsRepo,
		stock:    stockEngine{},
		points:   pointsSvc,
		outbox:   publisher,
		nowFn:    time.Now,
		sequence: nextOrderNumber,
	}, nil
}

// Place converts the user's active cart into an order. Stock is reserved at
// placement with guarded decrements; losing a stock race fails the whole
// transaction so no partial order is ever visible. The cart stays active until
// the payment settles, so an abandoned checkout leaves it usable.
func (s *service) Place(ctx context.Context, input PlaceOrderInput) (*models.Order, error) {
	if input.UserID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "user identity missing")
	}
	if input.RecipientName == "" || input.RecipientPhone == "" || input.ShippingAddress == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "shipping recipient details required")
	}
	if input.UsedPoints < 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "used points cannot be negative")
	}

	var created *models.Order
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		cartRepo := s.carts.WithTx(tx)

		cart, err := cartRepo.FindActiveByUserID(ctx, input.UserID)
		if err != nil {
			if err == gorm.ErrRecordNotFound {
				return pkgerrors.New(pkgerrors.CodeNotFound, "active cart not found")
			}
			return err
		}
		if len(cart.Items) == 0 {
			return pkgerrors.New(pkgerrors.CodeValidation, "cart is empty")
		}

		requests := make([]stock.AdjustRequest, len(cart.Items))
		items := make([]models.OrderItem, len(cart.Items))
		var total int64
		for i, item := range cart.Items {
			if item.Product == nil {
				return pkgerrors.New(pkgerrors.CodeInternal, "cart item missing product")
			}
			if !item.Product.IsActive {
				return pkgerrors.New(pkgerrors.CodeValidation, "product no longer available").
					WithDetails(map[string]any{"product_id": item.ProductID})
			}
			requests[i] = stock.AdjustRequest{
				OrderItemID: item.ID,
				ProductID:   item.ProductID,
				Qty:         item.Quantity,
			}
			items[i] = models.OrderItem{
				ProductID:   item.ProductID,
				ProductName: item.Product.Name,
				UnitPrice:   item.Product.Price,
				Quantity:    item.Quantity,
			}
			total += item.Product.Price * int64(item.Quantity)
		}
		total += input.ShippingFee

		results, err := s.stock.TryAdjust(ctx, tx, requests)
		if err != nil {
			return err
		}
		var failed []uuid.UUID
		for _, res := range results {
			if !res.Adjusted {
				failed = append(failed, res.ProductID)
			}
		}
		if len(failed) > 0 {
			return pkgerrors.New(pkgerrors.CodeOutOfStock, "insufficient stock").
				WithDetails(map[string]any{"product_ids": failed})
		}

		if input.UsedPoints > total {
			return pkgerrors.New(pkgerrors.CodeValidation, "used points exceed order total")
		}

		now := s.nowFn()
		orderNumber, err := s.sequence(ctx, repo, now)
		if err != nil {
			return err
		}

		order := &models.Order{
			UserID:          input.UserID,
			OrderNumber:     orderNumber,
			Status:          enums.OrderStatusPending,
			TotalAmount:     total,
			UsedPoints:      input.UsedPoints,
			ShippingFee:     input.ShippingFee,
			RecipientName:   input.RecipientName,
			RecipientPhone:  input.RecipientPhone,
			ShippingAddress: input.ShippingAddress,
			ShippingMemo:    input.ShippingMemo,
			Items:           items,
		}
		if err := repo.Create(ctx, order); err != nil {
			return err
		}

		if input.UsedPoints > 0 {
			if _, err := s.points.Use(ctx, tx, points.UseInput{
				UserID:      input.UserID,
				OrderID:     order.ID,
				Amount:      input.UsedPoints,
				Description: "order " + order.OrderNumber,
			}); err != nil {
				return err
			}
		}

		if err := s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventOrderPlaced,
			AggregateType: enums.AggregateOrder,
			AggregateID:   order.ID,
			Actor:         &outbox.ActorRef{UserID: input.UserID},
			Version:       1,
			Data: payloads.OrderPlacedEvent{
				OrderID:     order.ID,
				OrderNumber: order.OrderNumber,
				UserID:      input.UserID,
				TotalAmount: order.TotalAmount,
				UsedPoints:  order.UsedPoints,
				ItemCount:   len(order.Items),
			},
		}); err != nil {
			return err
		}

		created = order
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

func (s *service) Get(ctx context.Context, userID, orderID uuid.UUID) (*models.Order, error) {
	if orderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}
	order, err := s.repo.FindByID(ctx, orderID)
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
		}
		return nil, err
	}
	if order.UserID != userID {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
	}
	return order, nil
}

func (s *service) List(ctx context.Context, userID uuid.UUID, params pagination.Params) (*OrderList, error) {
	if userID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "user identity missing")
	}
	orders, next, err := s.repo.ListByUserID(ctx, userID, params)
	if err != nil {
		return nil, err
	}
	list := &OrderList{Orders: orders}
	if next != nil {
		list.NextCursor = pagination.EncodeCursor(*next)
	}
	return list, nil
}

// nextOrderNumber derives a YYYYMMDD-NNNNNN number from the per-day insert
// count. The unique index on order_number catches the rare same-instant race;
// callers see a conflict error rather than a duplicate number.
func nextOrderNumber(ctx context.Context, repo Repository, now time.Time) (string, error) {
	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	count, err := repo.CountCreatedSince(ctx, dayStart)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s-%06d", now.Format("20060102"), count+1), nil
}
