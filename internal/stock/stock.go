package stock

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/shopmall/shopmall-backend/pkg/db/models"
	pkgerrors "github.com/shopmall/shopmall-backend/pkg/errors"
)

// AdjustRequest asks for a stock decrement against a single product.
type AdjustRequest struct {
	OrderItemID uuid.UUID
	ProductID   uuid.UUID
	Qty         int
}

// AdjustResult reports whether the decrement landed.
type AdjustResult struct {
	OrderItemID uuid.UUID
	ProductID   uuid.UUID
	Adjusted    bool
	Reason      string
}

// TryAdjust decrements stock for each request with a guarded single-statement
// update. The WHERE clause re-checks availability so two competing orders can
// never both take the last unit; a request that loses the race comes back with
// Adjusted=false rather than an error. sold_count is untouched here; it only
// moves once the payment settles, via CommitSold.
func TryAdjust(ctx context.Context, tx *gorm.DB, requests []AdjustRequest) ([]AdjustResult, error) {
	if tx == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "transaction required")
	}
	results := make([]AdjustResult, len(requests))
	for i, req := range requests {
		if req.ProductID == uuid.Nil {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "product id required")
		}
		if req.Qty <= 0 {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "quantity must be positive")
		}

		res := tx.WithContext(ctx).Model(&models.Product{}).
			Where("id = ? AND is_active = ? AND stock >= ?", req.ProductID, true, req.Qty).
			Update("stock", gorm.Expr("stock - ?", req.Qty))
		if res.Error != nil {
			return nil, res.Error
		}

		result := AdjustResult{
			OrderItemID: req.OrderItemID,
			ProductID:   req.ProductID,
			Adjusted:    res.RowsAffected == 1,
		}
		if !result.Adjusted {
			result.Reason = "insufficient stock"
		}
		results[i] = result
	}
	return results, nil
}

// CommitSold bumps sold_count once the payment for the reserved units
// settles. Stock already moved at placement.
func CommitSold(ctx context.Context, tx *gorm.DB, productID uuid.UUID, qty int) error {
	if tx == nil {
		return pkgerrors.New(pkgerrors.CodeInternal, "transaction required")
	}
	if productID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "product id required")
	}
	if qty <= 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "quantity must be positive")
	}

	return tx.WithContext(ctx).Model(&models.Product{}).
		Where("id = ?", productID).
		Update("sold_count", gorm.Expr("sold_count + ?", qty)).Error
}

// Restore returns previously committed stock, e.g. after a payment cancel.
// sold_count floors at zero so replays of the same cancel cannot drive it
// negative.
func Restore(ctx context.Context, tx *gorm.DB, productID uuid.UUID, qty int) error {
	if tx == nil {
		return pkgerrors.New(pkgerrors.CodeInternal, "transaction required")
	}
	if productID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "product id required")
	}
	if qty <= 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "quantity must be positive")
	}

	return tx.WithContext(ctx).Model(&models.Product{}).
		Where("id = ?", productID).
		Updates(map[string]any{
			"stock":      gorm.Expr("stock + ?", qty),
			"sold_count": gorm.Expr("CASE WHEN sold_count >= ? THEN sold_count - ? ELSE 0 END", qty, qty),
		}).Error
}
