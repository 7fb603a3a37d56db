package points

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/shopmall/shopmall-backend/pkg/db/models"
	"github.com/shopmall/shopmall-backend/pkg/enums"
	pkgerrors "github.com/shopmall/shopmall-backend/pkg/errors"
)

// Service applies point credits and debits inside caller-owned transactions.
// Every mutation writes a ledger row and keeps the cached balance in step.
type Service interface {
	Earn(ctx context.Context, tx *gorm.DB, input EarnInput) (*models.PointHistory, error)
	Use(ctx context.Context, tx *gorm.DB, input UseInput) (*models.PointHistory, error)
	RefundUsed(ctx context.Context, tx *gorm.DB, input RefundInput) (*models.PointHistory, error)
	DeductEarned(ctx context.Context, tx *gorm.DB, input DeductInput) (*models.PointHistory, error)
	EarnedForOrder(ctx context.Context, tx *gorm.DB, orderID uuid.UUID) (int64, error)
	History(ctx context.Context, userID uuid.UUID, limit int) ([]models.PointHistory, error)
}

type service struct {
	repo Repository
}

// EarnInput credits a fraction of the cash-paid amount after settlement.
type EarnInput struct {
	UserID      uuid.UUID
	OrderID     uuid.UUID
	PaidAmount  int64
	Tier        enums.MembershipTier
	Description string
}

// UseInput debits points as part of order placement.
type UseInput struct {
	UserID      uuid.UUID
	OrderID     uuid.UUID
	Amount      int64
	Description string
}

// RefundInput credits back the points an order consumed when it is canceled.
type RefundInput struct {
	UserID      uuid.UUID
	OrderID     uuid.UUID
	Amount      int64
	Description string
}

// DeductInput claws back the points an order earned when it is canceled.
type DeductInput struct {
	UserID      uuid.UUID
	OrderID     uuid.UUID
	Amount      int64
	Description string
}

// NewService wires a points service with the provided repository.
func NewService(repo Repository) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("points repository required")
	}
	return &service{repo: repo}, nil
}

// EarnAmount computes the points credited for a cash-paid amount at the given
// tier, truncated toward zero.
func EarnAmount(paidAmount int64, tier enums.MembershipTier) int64 {
	if paidAmount <= 0 {
		return 0
	}
	return decimal.NewFromInt(paidAmount).Mul(tier.EarnRate()).IntPart()
}

func (s *service) Earn(ctx context.Context, tx *gorm.DB, input EarnInput) (*models.PointHistory, error) {
	if input.UserID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user id required")
	}
	amount := EarnAmount(input.PaidAmount, input.Tier)
	if amount <= 0 {
		return nil, nil
	}
	return s.credit(ctx, tx, input.UserID, &input.OrderID, amount, enums.PointHistoryTypeEarn, input.Description)
}

func (s *service) Use(ctx context.Context, tx *gorm.DB, input UseInput) (*models.PointHistory, error) {
	if input.UserID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user id required")
	}
	if input.Amount <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "point amount must be positive")
	}
	return s.debit(ctx, tx, input.UserID, &input.OrderID, input.Amount, enums.PointHistoryTypeUse, input.Description)
}

func (s *service) RefundUsed(ctx context.Context, tx *gorm.DB, input RefundInput) (*models.PointHistory, error) {
	if input.UserID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user id required")
	}
	if input.Amount <= 0 {
		return nil, nil
	}
	return s.credit(ctx, tx, input.UserID, &input.OrderID, input.Amount, enums.PointHistoryTypeCancelRefund, input.Description)
}

func (s *service) DeductEarned(ctx context.Context, tx *gorm.DB, input DeductInput) (*models.PointHistory, error) {
	if input.UserID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user id required")
	}
	if input.Amount <= 0 {
		return nil, nil
	}
	return s.debit(ctx, tx, input.UserID, &input.OrderID, input.Amount, enums.PointHistoryTypeCancelDeduct, input.Description)
}

// EarnedForOrder reports how many points an order credited, so a cancel can
// claw back exactly that amount.
func (s *service) EarnedForOrder(ctx context.Context, tx *gorm.DB, orderID uuid.UUID) (int64, error) {
	if orderID == uuid.Nil {
		return 0, pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}
	return s.repo.WithTx(tx).SumByOrderAndType(ctx, orderID, enums.PointHistoryTypeEarn)
}

func (s *service) History(ctx context.Context, userID uuid.UUID, limit int) ([]models.PointHistory, error) {
	if userID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user id required")
	}
	return s.repo.ListByUserID(ctx, userID, limit)
}

func (s *service) credit(ctx context.Context, tx *gorm.DB, userID uuid.UUID, orderID *uuid.UUID, amount int64, historyType enums.PointHistoryType, description string) (*models.PointHistory, error) {
	repo := s.repo.WithTx(tx)
	balance, ok, err := repo.AdjustBalance(ctx, userID, amount)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "user not found")
	}

	remaining := amount
	row := &models.PointHistory{
		UserID:      userID,
		OrderID:     orderID,
		Type:        historyType,
		Points:      amount,
		Balance:     balance,
		Remaining:   &remaining,
		Description: description,
	}
	if err := repo.Create(ctx, row); err != nil {
		return nil, err
	}
	return row, nil
}

func (s *service) debit(ctx context.Context, tx *gorm.DB, userID uuid.UUID, orderID *uuid.UUID, amount int64, historyType enums.PointHistoryType, description string) (*models.PointHistory, error) {
	repo := s.repo.WithTx(tx)
	balance, ok, err := repo.AdjustBalance(ctx, userID, -amount)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, pkgerrors.New(pkgerrors.CodeInsufficientPoints, "insufficient point balance")
	}

	if err := s.consumeCredits(ctx, repo, userID, amount); err != nil {
		return nil, err
	}

	row := &models.PointHistory{
		UserID:      userID,
		OrderID:     orderID,
		Type:        historyType,
		Points:      -amount,
		Balance:     balance,
		Description: description,
	}
	if err := repo.Create(ctx, row); err != nil {
		return nil, err
	}
	return row, nil
}

// consumeCredits drains open credit rows oldest-first until the debit amount
// is covered. The balance guard already ran, so running out of rows here
// means the ledger and the cached column disagree.
func (s *service) consumeCredits(ctx context.Context, repo Repository, userID uuid.UUID, amount int64) error {
	credits, err := repo.ListOpenCredits(ctx, userID)
	if err != nil {
		return err
	}
	left := amount
	for _, credit := range credits {
		if left == 0 {
			break
		}
		if credit.Remaining == nil || *credit.Remaining <= 0 {
			continue
		}
		take := *credit.Remaining
		if take > left {
			take = left
		}
		ok, err := repo.DecrementRemaining(ctx, credit.ID, take)
		if err != nil {
			return err
		}
		if !ok {
			return pkgerrors.New(pkgerrors.CodeInternal, "point credit row changed concurrently")
		}
		left -= take
	}
	if left != 0 {
		return pkgerrors.New(pkgerrors.CodeInternal, "point ledger out of sync with balance")
	}
	return nil
}
