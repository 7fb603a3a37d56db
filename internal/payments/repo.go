package payments

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/shopmall/shopmall-backend/internal/repo"
	"github.com/shopmall/shopmall-backend/pkg/db/models"
	"github.com/shopmall/shopmall-backend/pkg/pagination"
)

// Repository manages payment and payment-log persistence.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, payment *models.Payment) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.Payment, error)
	FindByIDForUpdate(ctx context.Context, id uuid.UUID) (*models.Payment, error)
	FindByOrderID(ctx context.Context, orderID uuid.UUID) (*models.Payment, error)
	FindByOrderIDForUpdate(ctx context.Context, orderID uuid.UUID) (*models.Payment, error)
	FindByTossOrderID(ctx context.Context, tossOrderID string) (*models.Payment, error)
	FindByTossOrderIDForUpdate(ctx context.Context, tossOrderID string) (*models.Payment, error)
	Updates(ctx context.Context, id uuid.UUID, fields map[string]any) error
	DeleteUnconfirmed(ctx context.Context, id uuid.UUID) (bool, error)
	ListByUserID(ctx context.Context, userID uuid.UUID, params pagination.Params) ([]models.Payment, *pagination.Cursor, error)
	CreateLog(ctx context.Context, log *models.PaymentLog) error
	ListLogsByTossOrderID(ctx context.Context, tossOrderID string) ([]models.PaymentLog, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a payments repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, payment *models.Payment) error {
	if payment.ID == uuid.Nil {
		payment.ID = uuid.New()
	}
	return r.db.WithContext(ctx).Create(payment).Error
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Payment, error) {
	return r.findOne(ctx, r.db, "id = ?", id)
}

func (r *repository) FindByIDForUpdate(ctx context.Context, id uuid.UUID) (*models.Payment, error) {
	return r.findOne(ctx, repo.WithRowLock(r.db), "id = ?", id)
}

func (r *repository) FindByOrderID(ctx context.Context, orderID uuid.UUID) (*models.Payment, error) {
	return r.findOne(ctx, r.db, "order_id = ?", orderID)
}

func (r *repository) FindByOrderIDForUpdate(ctx context.Context, orderID uuid.UUID) (*models.Payment, error) {
	return r.findOne(ctx, repo.WithRowLock(r.db), "order_id = ?", orderID)
}

func (r *repository) FindByTossOrderID(ctx context.Context, tossOrderID string) (*models.Payment, error) {
	return r.findOne(ctx, r.db, "toss_order_id = ?", tossOrderID)
}

func (r *repository) FindByTossOrderIDForUpdate(ctx context.Context, tossOrderID string) (*models.Payment, error) {
	return r.findOne(ctx, repo.WithRowLock(r.db), "toss_order_id = ?", tossOrderID)
}

func (r *repository) findOne(ctx context.Context, db *gorm.DB, query string, arg any) (*models.Payment, error) {
	var payment models.Payment
	if err := db.WithContext(ctx).First(&payment, query, arg).Error; err != nil {
		return nil, err
	}
	return &payment, nil
}

func (r *repository) Updates(ctx context.Context, id uuid.UUID, fields map[string]any) error {
	return r.db.WithContext(ctx).
		Model(&models.Payment{}).
		Where("id = ?", id).
		Updates(fields).Error
}

// DeleteUnconfirmed removes a stale payment row so a new request can take its
// place. The guard refuses to touch paid rows.
func (r *repository) DeleteUnconfirmed(ctx context.Context, id uuid.UUID) (bool, error) {
	res := r.db.WithContext(ctx).
		Where("id = ? AND is_paid = ?", id, false).
		Delete(&models.Payment{})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repository) ListByUserID(ctx context.Context, userID uuid.UUID, params pagination.Params) ([]models.Payment, *pagination.Cursor, error) {
	cursor, err := pagination.ParseCursor(params.Cursor)
	if err != nil {
		return nil, nil, err
	}
	limit := pagination.LimitWithBuffer(params.Limit)
	normalized := pagination.NormalizeLimit(params.Limit)

	query := r.db.WithContext(ctx).
		Model(&models.Payment{}).
		Where("user_id = ?", userID)
	if cursor != nil {
		query = query.Where("(created_at, id) < (?, ?)", cursor.CreatedAt, cursor.ID)
	}

	var payments []models.Payment
	if err := query.Order("created_at DESC, id DESC").Limit(limit).Find(&payments).Error; err != nil {
		return nil, nil, err
	}

	if len(payments) > normalized {
		next := payments[normalized]
		payments = payments[:normalized]
		return payments, &pagination.Cursor{CreatedAt: next.CreatedAt, ID: next.ID}, nil
	}
	return payments, nil, nil
}

func (r *repository) CreateLog(ctx context.Context, log *models.PaymentLog) error {
	if log.ID == uuid.Nil {
		log.ID = uuid.New()
	}
	return r.db.WithContext(ctx).Create(log).Error
}

func (r *repository) ListLogsByTossOrderID(ctx context.Context, tossOrderID string) ([]models.PaymentLog, error) {
	var logs []models.PaymentLog
	if err := r.db.WithContext(ctx).
		Where("toss_order_id = ?", tossOrderID).
		Order("created_at ASC").
		Find(&logs).Error; err != nil {
		return nil, err
	}
	return logs, nil
}

// LogPayload marshals any value for the audit-log payload column, returning
// nil when marshaling fails so logging never blocks the main flow.
func LogPayload(v any) json.RawMessage {
	if v == nil {
		return nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return data
}
