package points

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/shopmall/shopmall-backend/pkg/db/models"
	"github.com/shopmall/shopmall-backend/pkg/enums"
)

// Repository manages persistence for the point ledger. It is the only writer
// of users.points so the cached column always mirrors the ledger sum.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, row *models.PointHistory) error
	ListOpenCredits(ctx context.Context, userID uuid.UUID) ([]models.PointHistory, error)
	DecrementRemaining(ctx context.Context, id uuid.UUID, amount int64) (bool, error)
	ListByUserID(ctx context.Context, userID uuid.UUID, limit int) ([]models.PointHistory, error)
	SumByOrderAndType(ctx context.Context, orderID uuid.UUID, historyType enums.PointHistoryType) (int64, error)
	AdjustBalance(ctx context.Context, userID uuid.UUID, delta int64) (int64, bool, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a points repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, row *models.PointHistory) error {
	if row.ID == uuid.Nil {
		row.ID = uuid.New()
	}
	return r.db.WithContext(ctx).Create(row).Error
}

// ListOpenCredits returns credit rows that still have unconsumed points,
// oldest first.
func (r *repository) ListOpenCredits(ctx context.Context, userID uuid.UUID) ([]models.PointHistory, error) {
	var rows []models.PointHistory
	if err := r.db.WithContext(ctx).
		Where("user_id = ? AND remaining > 0", userID).
		Order("created_at ASC").
		Order("id ASC").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

// DecrementRemaining consumes part of a credit row. The guard keeps two
// debits from draining the same row past zero.
func (r *repository) DecrementRemaining(ctx context.Context, id uuid.UUID, amount int64) (bool, error) {
	res := r.db.WithContext(ctx).Model(&models.PointHistory{}).
		Where("id = ? AND remaining >= ?", id, amount).
		UpdateColumn("remaining", gorm.Expr("remaining - ?", amount))
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repository) ListByUserID(ctx context.Context, userID uuid.UUID, limit int) ([]models.PointHistory, error) {
	query := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Order("id DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	var rows []models.PointHistory
	if err := query.Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *repository) SumByOrderAndType(ctx context.Context, orderID uuid.UUID, historyType enums.PointHistoryType) (int64, error) {
	var sum int64
	err := r.db.WithContext(ctx).Model(&models.PointHistory{}).
		Where("order_id = ? AND type = ?", orderID, historyType).
		Select("COALESCE(SUM(points), 0)").
		Scan(&sum).Error
	return sum, err
}

// AdjustBalance applies a signed delta to the cached balance and returns the
// resulting value. Debits are guarded so the column can never go negative;
// ok=false means the balance was insufficient and nothing changed.
func (r *repository) AdjustBalance(ctx context.Context, userID uuid.UUID, delta int64) (int64, bool, error) {
	query := r.db.WithContext(ctx).
		Model(&models.User{}).
		Where("id = ?", userID)
	if delta < 0 {
		query = query.Where("points >= ?", -delta)
	}
	res := query.UpdateColumn("points", gorm.Expr("points + ?", delta))
	if res.Error != nil {
		return 0, false, res.Error
	}
	if res.RowsAffected != 1 {
		return 0, false, nil
	}

	var user models.User
	if err := r.db.WithContext(ctx).Select("points").First(&user, "id = ?", userID).Error; err != nil {
		return 0, false, err
	}
	return user.Points, true, nil
}
