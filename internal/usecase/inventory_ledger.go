package usecase

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"sort"

	"storefront/internal/domain/model"
	"storefront/internal/logging"
	"storefront/internal/metrics"
	repo "storefront/internal/repository"

	"go.uber.org/zap"
)

// 追跡しない在庫の Available
const AlwaysAvailable int64 = math.MaxInt64

// 1商品あたりの上限（同じ商品の行はまとめた後で見る）
const MaxLineQuantity int64 = 1_000_000

// InventoryLedger は在庫の仮押さえ・確定・戻しを行う。
// 全操作は呼び出し側のTx（r）の中で動き、バッチ単位で全部成功か全部失敗。
type InventoryLedger struct {
	logger  *zap.Logger
	metrics *metrics.Metrics
}

func NewInventoryLedger(logger *zap.Logger, m *metrics.Metrics) *InventoryLedger {
	return &InventoryLedger{
		logger:  logging.OrNop(logger).Named("ledger"),
		metrics: m,
	}
}

// Reserve は全行の reserved を増やす。1行でも足りなければ InsufficientStock。
// 途中まで増やした分は呼び出し側のTxごと巻き戻る。
// 戻り値は実際に押さえた（追跡対象の）行。Commit/Release にはこれだけを渡す。
func (l *InventoryLedger) Reserve(ctx context.Context, r repo.TxRepos, lines []model.StockLine) ([]model.StockLine, error) {
	lines, err := normalizeLines(lines)
	if err != nil {
		return nil, err
	}

	reserved := make([]model.StockLine, 0, len(lines))
	for _, ln := range lines {
		rec, err := r.Inventory().FindByItemForUpdate(ctx, ln.ProductID, ln.VariantID)
		if errors.Is(err, repo.ErrNotFound) {
			l.metrics.Reservation("not_found")
			return nil, fmt.Errorf("%w: %s", ErrInventoryNotFound, lineLabel(ln))
		}
		if err != nil {
			return nil, err
		}
		if !rec.IsTracked {
			continue
		}

		if rec.Available() < ln.Quantity {
			l.metrics.Reservation("insufficient")
			l.logger.Info("insufficient stock",
				zap.String("sku", rec.SKU),
				zap.Int64("available", rec.Available()),
				zap.Int64("requested", ln.Quantity))
			return nil, insufficient(rec, ln)
		}

		ok, err := r.Inventory().ReserveIfAvailable(ctx, rec.ID, ln.Quantity)
		if err != nil {
			return nil, err
		}
		if !ok {
			//ロック済みなので通常は来ない
			l.metrics.Reservation("insufficient")
			return nil, insufficient(rec, ln)
		}
		reserved = append(reserved, ln)
	}

	l.metrics.Reservation("ok")
	l.metrics.LedgerUnits("reserve", totalUnits(reserved))
	return reserved, nil
}

// Commit は支払い確定時に quantity と reserved を同じだけ減らす。
// lines は Reserve が押さえた行。今の is_tracked は見ない。
// 押さえた数より多く確定しようとしたら InvariantError。
func (l *InventoryLedger) Commit(ctx context.Context, r repo.TxRepos, lines []model.StockLine) error {
	if len(lines) == 0 {
		return nil
	}
	lines, err := normalizeLines(lines)
	if err != nil {
		return err
	}

	for _, ln := range lines {
		rec, err := r.Inventory().FindByItemForUpdate(ctx, ln.ProductID, ln.VariantID)
		if errors.Is(err, repo.ErrNotFound) {
			return l.violation("commit", lineLabel(ln), "inventory record missing for reserved line")
		}
		if err != nil {
			return err
		}

		ok, err := r.Inventory().CommitReserved(ctx, rec.ID, ln.Quantity)
		if err != nil {
			return err
		}
		if !ok {
			return l.violation("commit", rec.SKU,
				fmt.Sprintf("commit %d but quantity=%d reserved=%d", ln.Quantity, rec.Quantity, rec.Reserved))
		}
	}

	l.metrics.LedgerUnits("commit", totalUnits(lines))
	return nil
}

// Release は reserved だけを戻す。行が消えていれば戻し済みとみなす。
func (l *InventoryLedger) Release(ctx context.Context, r repo.TxRepos, lines []model.StockLine) error {
	if len(lines) == 0 {
		return nil
	}
	lines, err := normalizeLines(lines)
	if err != nil {
		return err
	}

	for _, ln := range lines {
		rec, err := r.Inventory().FindByItemForUpdate(ctx, ln.ProductID, ln.VariantID)
		if errors.Is(err, repo.ErrNotFound) {
			l.logger.Debug("release skipped for missing inventory", zap.String("item", lineLabel(ln)))
			continue
		}
		if err != nil {
			return err
		}

		ok, err := r.Inventory().ReleaseReserved(ctx, rec.ID, ln.Quantity)
		if err != nil {
			return err
		}
		if !ok {
			return l.violation("release", rec.SKU,
				fmt.Sprintf("release %d but reserved=%d", ln.Quantity, rec.Reserved))
		}
	}

	l.metrics.LedgerUnits("release", totalUnits(lines))
	return nil
}

// Available は quantity - reserved（0未満にはしない）。追跡しない在庫は AlwaysAvailable。
func (l *InventoryLedger) Available(ctx context.Context, r repo.TxRepos, productID int64, variantID *int64) (int64, error) {
	rec, err := r.Inventory().FindByItem(ctx, productID, variantID)
	if errors.Is(err, repo.ErrNotFound) {
		return 0, fmt.Errorf("%w: %s", ErrInventoryNotFound, lineLabel(model.StockLine{ProductID: productID, VariantID: variantID}))
	}
	if err != nil {
		return 0, err
	}
	if !rec.IsTracked {
		return AlwaysAvailable, nil
	}
	return rec.Available(), nil
}

func (l *InventoryLedger) violation(op, sku, detail string) error {
	err := &InvariantError{Op: op, SKU: sku, Detail: detail}
	l.logger.Error("ledger invariant violated", zap.Error(err))
	return err
}

// 同じ商品はまとめ、ロック順を揃えるため並べる
func normalizeLines(lines []model.StockLine) ([]model.StockLine, error) {
	if len(lines) == 0 {
		return nil, NewHTTPError(http.StatusBadRequest, "no items")
	}

	type itemKey struct {
		productID int64
		variantID int64
		hasVar    bool
	}
	merged := make(map[itemKey]int, len(lines))
	out := make([]model.StockLine, 0, len(lines))

	for _, ln := range lines {
		if ln.ProductID <= 0 {
			return nil, NewHTTPError(http.StatusBadRequest, "invalid product_id")
		}
		if ln.Quantity <= 0 {
			return nil, NewHTTPError(http.StatusBadRequest, "invalid quantity")
		}
		if ln.Quantity > MaxLineQuantity {
			return nil, NewHTTPError(http.StatusBadRequest, "quantity too large")
		}
		k := itemKey{productID: ln.ProductID}
		if ln.VariantID != nil {
			k.variantID = *ln.VariantID
			k.hasVar = true
		}
		if i, ok := merged[k]; ok {
			//両方 MaxLineQuantity 以下なので足してもあふれない
			if out[i].Quantity+ln.Quantity > MaxLineQuantity {
				return nil, NewHTTPError(http.StatusBadRequest, "quantity too large")
			}
			out[i].Quantity += ln.Quantity
			continue
		}
		merged[k] = len(out)
		out = append(out, ln)
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].ProductID != out[j].ProductID {
			return out[i].ProductID < out[j].ProductID
		}
		return variantOrder(out[i].VariantID) < variantOrder(out[j].VariantID)
	})
	return out, nil
}

func variantOrder(v *int64) int64 {
	if v == nil {
		return -1
	}
	return *v
}

func insufficient(rec model.InventoryRecord, ln model.StockLine) error {
	return &InsufficientStockError{
		SKU:       rec.SKU,
		ProductID: ln.ProductID,
		VariantID: ln.VariantID,
		Available: rec.Available(),
		Requested: ln.Quantity,
	}
}

func lineLabel(ln model.StockLine) string {
	if ln.VariantID == nil {
		return fmt.Sprintf("product %d", ln.ProductID)
	}
	return fmt.Sprintf("product %d variant %d", ln.ProductID, *ln.VariantID)
}

func totalUnits(lines []model.StockLine) int64 {
	var n int64
	for _, ln := range lines {
		n += ln.Quantity
	}
	return n
}
