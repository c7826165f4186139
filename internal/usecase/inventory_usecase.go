package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"storefront/internal/domain/model"
	"storefront/internal/logging"
	repo "storefront/internal/repository"

	"go.uber.org/zap"
)

// 在庫の管理操作（投入・補充・一覧）
type InventoryUsecase struct {
	tx     repo.TransactionManager
	ledger *InventoryLedger
	logger *zap.Logger
}

func NewInventoryUsecase(tx repo.TransactionManager, ledger *InventoryLedger, logger *zap.Logger) *InventoryUsecase {
	return &InventoryUsecase{
		tx:     tx,
		ledger: ledger,
		logger: logging.OrNop(logger).Named("inventory"),
	}
}

type SeedInventoryInput struct {
	ProductID        int64  `json:"product_id"`
	VariantID        *int64 `json:"variant_id,omitempty"`
	SKU              string `json:"sku"`
	Quantity         int64  `json:"quantity"`
	IsTracked        *bool  `json:"is_tracked,omitempty"`
	ReorderThreshold int64  `json:"reorder_threshold"`
}

// Seed はカタログ投入。SKU が既にあれば数量以外を更新する。
func (u *InventoryUsecase) Seed(ctx context.Context, in SeedInventoryInput) (model.InventoryRecord, error) {
	sku := strings.TrimSpace(in.SKU)
	if sku == "" || len(sku) > 64 {
		return model.InventoryRecord{}, NewHTTPError(http.StatusBadRequest, "invalid sku")
	}
	if in.ProductID <= 0 {
		return model.InventoryRecord{}, NewHTTPError(http.StatusBadRequest, "invalid product_id")
	}
	if in.Quantity < 0 || in.ReorderThreshold < 0 {
		return model.InventoryRecord{}, NewHTTPError(http.StatusBadRequest, "invalid quantity")
	}
	tracked := true
	if in.IsTracked != nil {
		tracked = *in.IsTracked
	}

	var out model.InventoryRecord
	err := u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		var err error
		out, err = r.Inventory().Upsert(ctx, model.InventoryRecord{
			ProductID:        in.ProductID,
			VariantID:        in.VariantID,
			SKU:              sku,
			Quantity:         in.Quantity,
			IsTracked:        tracked,
			ReorderThreshold: in.ReorderThreshold,
		})
		return err
	})
	if err != nil {
		return model.InventoryRecord{}, err
	}
	return out, nil
}

type RestockInput struct {
	ProductID   int64  `json:"product_id"`
	VariantID   *int64 `json:"variant_id,omitempty"`
	NewQuantity int64  `json:"quantity"`
	Reason      string `json:"reason"`
}

// Restock は在庫数を設定する（押さえ中の数より少なくはできない）。
// 調整履歴と監査ログを同じTxで残す。
func (u *InventoryUsecase) Restock(ctx context.Context, adminID int64, in RestockInput) (model.InventoryRecord, error) {
	if adminID <= 0 {
		return model.InventoryRecord{}, NewHTTPError(http.StatusUnauthorized, "unauthorized")
	}
	if in.ProductID <= 0 {
		return model.InventoryRecord{}, NewHTTPError(http.StatusBadRequest, "invalid product_id")
	}
	if in.NewQuantity < 0 {
		return model.InventoryRecord{}, NewHTTPError(http.StatusBadRequest, "invalid quantity")
	}
	reason := strings.TrimSpace(in.Reason)
	if reason == "" {
		reason = "restock"
	}
	if len(reason) > 255 {
		return model.InventoryRecord{}, NewHTTPError(http.StatusBadRequest, "reason too long")
	}

	var out model.InventoryRecord
	err := u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		rec, err := r.Inventory().FindByItemForUpdate(ctx, in.ProductID, in.VariantID)
		if errors.Is(err, repo.ErrNotFound) {
			return fmt.Errorf("%w: product %d", ErrInventoryNotFound, in.ProductID)
		}
		if err != nil {
			return err
		}

		ok, err := r.Inventory().SetQuantity(ctx, rec.ID, in.NewQuantity)
		if err != nil {
			return err
		}
		if !ok {
			return NewHTTPError(http.StatusConflict, fmt.Sprintf("quantity below reserved (%d)", rec.Reserved))
		}

		now := time.Now()
		delta := in.NewQuantity - rec.Quantity
		if err := r.Inventory().CreateAdjustment(ctx, model.InventoryAdjustment{
			InventoryRecordID: rec.ID,
			AdminUserID:       adminID,
			Delta:             delta,
			Reason:            reason,
			CreatedAt:         now,
		}); err != nil {
			return err
		}

		after := rec
		after.Quantity = in.NewQuantity
		if err := r.AuditLogs().Create(ctx, model.AuditLog{
			ActorUserID:  adminID,
			Action:       model.AuditActionUpdateStock,
			ResourceType: model.AuditResourceInventory,
			ResourceID:   rec.ID,
			BeforeJSON:   stockJSON(rec),
			AfterJSON:    stockJSON(after),
			CreatedAt:    now,
		}); err != nil {
			return err
		}

		out = after
		u.logger.Info("inventory restocked",
			zap.String("sku", rec.SKU),
			zap.Int64("delta", delta),
			zap.Int64("admin_user_id", adminID))
		return nil
	})
	if err != nil {
		return model.InventoryRecord{}, err
	}
	return out, nil
}

// 発注点以下の在庫
func (u *InventoryUsecase) LowStock(ctx context.Context, limit int) ([]model.InventoryRecord, error) {
	var out []model.InventoryRecord
	err := u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		var err error
		out, err = r.Inventory().ListLowStock(ctx, limit)
		return err
	})
	return out, err
}

func (u *InventoryUsecase) Available(ctx context.Context, productID int64, variantID *int64) (int64, error) {
	if productID <= 0 {
		return 0, NewHTTPError(http.StatusBadRequest, "invalid product_id")
	}
	var n int64
	err := u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		var err error
		n, err = u.ledger.Available(ctx, r, productID, variantID)
		return err
	})
	return n, err
}

func stockJSON(rec model.InventoryRecord) string {
	b, err := json.Marshal(map[string]any{
		"sku":      rec.SKU,
		"quantity": rec.Quantity,
		"reserved": rec.Reserved,
	})
	if err != nil {
		return ""
	}
	return string(b)
}
