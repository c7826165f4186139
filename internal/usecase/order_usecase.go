package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strings"
	"time"

	"storefront/internal/domain/model"
	"storefront/internal/logging"
	"storefront/internal/metrics"
	repo "storefront/internal/repository"

	"go.uber.org/zap"
)

const defaultCurrency = "JPY"

// OrderUsecase は注文のライフサイクルを持つ。
// 状態遷移と在庫操作は必ず同じTxで行う。
type OrderUsecase struct {
	tx      repo.TransactionManager
	ledger  *InventoryLedger
	window  time.Duration
	now     func() time.Time
	logger  *zap.Logger
	metrics *metrics.Metrics
}

type OrderOption func(*OrderUsecase)

func WithOrderClock(now func() time.Time) OrderOption {
	return func(u *OrderUsecase) {
		if now != nil {
			u.now = now
		}
	}
}

func NewOrderUsecase(tx repo.TransactionManager, ledger *InventoryLedger, window time.Duration, logger *zap.Logger, m *metrics.Metrics, opts ...OrderOption) *OrderUsecase {
	if window <= 0 {
		window = 60 * time.Minute
	}
	u := &OrderUsecase{
		tx:      tx,
		ledger:  ledger,
		window:  window,
		now:     time.Now,
		logger:  logging.OrNop(logger).Named("orders"),
		metrics: m,
	}
	for _, opt := range opts {
		opt(u)
	}
	return u
}

// 価格計算済みの明細（価格は外部で決まる）
type PricedItem struct {
	ProductID int64  `json:"product_id"`
	VariantID *int64 `json:"variant_id,omitempty"`
	SKU       string `json:"sku,omitempty"`
	Quantity  int64  `json:"quantity"`
	UnitPrice int64  `json:"unit_price"`
}

type Pricing struct {
	ShippingCost   int64  `json:"shipping_cost"`
	TaxAmount      int64  `json:"tax_amount"`
	DiscountAmount int64  `json:"discount_amount"`
	Currency       string `json:"currency"`
}

type CreateOrderInput struct {
	Items   []PricedItem `json:"items"`
	Pricing Pricing      `json:"pricing"`
}

func (u *OrderUsecase) CreatePendingOrder(ctx context.Context, userID int64, in CreateOrderInput) (model.Order, error) {
	var out model.Order
	err := u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		var err error
		out, err = u.CreatePendingOrderTx(ctx, r, userID, in)
		return err
	})
	if err != nil {
		return model.Order{}, err
	}
	return out, nil
}

// CreatePendingOrderTx は在庫の仮押さえと注文作成を呼び出し側のTxで行う。
// 仮押さえに失敗したら注文は作らない。
func (u *OrderUsecase) CreatePendingOrderTx(ctx context.Context, r repo.TxRepos, userID int64, in CreateOrderInput) (model.Order, error) {
	if userID <= 0 {
		return model.Order{}, NewHTTPError(http.StatusUnauthorized, "unauthorized")
	}
	if len(in.Items) == 0 {
		return model.Order{}, NewHTTPError(http.StatusBadRequest, "no items")
	}

	lines := make([]model.StockLine, 0, len(in.Items))
	lineTotals := make([]int64, 0, len(in.Items))
	var subtotal int64
	for _, it := range in.Items {
		if it.Quantity <= 0 || it.Quantity > MaxLineQuantity {
			return model.Order{}, NewHTTPError(http.StatusBadRequest, "invalid quantity")
		}
		if it.UnitPrice < 0 {
			return model.Order{}, NewHTTPError(http.StatusBadRequest, "invalid unit_price")
		}
		lineTotal, ok := mulAmount(it.UnitPrice, it.Quantity)
		if !ok {
			return model.Order{}, errAmountTooLarge
		}
		if subtotal, ok = addAmount(subtotal, lineTotal); !ok {
			return model.Order{}, errAmountTooLarge
		}
		lines = append(lines, model.StockLine{ProductID: it.ProductID, VariantID: it.VariantID, Quantity: it.Quantity})
		lineTotals = append(lineTotals, lineTotal)
	}

	p := in.Pricing
	if p.ShippingCost < 0 || p.TaxAmount < 0 || p.DiscountAmount < 0 {
		return model.Order{}, NewHTTPError(http.StatusBadRequest, "invalid pricing")
	}
	gross, ok := addAmount(subtotal, p.ShippingCost)
	if ok {
		gross, ok = addAmount(gross, p.TaxAmount)
	}
	if !ok {
		return model.Order{}, errAmountTooLarge
	}
	total := gross - p.DiscountAmount
	if total < 0 {
		return model.Order{}, NewHTTPError(http.StatusBadRequest, "discount exceeds order amount")
	}
	currency := strings.ToUpper(strings.TrimSpace(p.Currency))
	if currency == "" {
		currency = defaultCurrency
	}
	if len(currency) != 3 {
		return model.Order{}, NewHTTPError(http.StatusBadRequest, "invalid currency")
	}

	//在庫の仮押さえ（足りなければここで終わり）
	reserved, err := u.ledger.Reserve(ctx, r, lines)
	if err != nil {
		return model.Order{}, err
	}
	heldItems := make(map[string]bool, len(reserved))
	for _, ln := range reserved {
		heldItems[lineLabel(ln)] = true
	}

	now := u.now()
	expiresAt := now.Add(u.window)
	order := model.Order{
		UserID:               userID,
		Status:               model.OrderStatusPendingPayment,
		PaymentStatus:        model.PaymentStatusPending,
		Subtotal:             subtotal,
		ShippingCost:         p.ShippingCost,
		TaxAmount:            p.TaxAmount,
		DiscountAmount:       p.DiscountAmount,
		Total:                total,
		Currency:             currency,
		ReservationExpiresAt: &expiresAt,
		PlacedAt:             now,
		CreatedAt:            now,
		UpdatedAt:            now,
	}
	orderID, err := r.Orders().Create(ctx, order)
	if err != nil {
		return model.Order{}, err
	}
	order.ID = orderID

	//明細のスナップショット
	items := make([]model.OrderItem, 0, len(in.Items))
	for i, it := range in.Items {
		sku := strings.TrimSpace(it.SKU)
		if sku == "" {
			rec, err := r.Inventory().FindByItem(ctx, it.ProductID, it.VariantID)
			if err != nil {
				return model.Order{}, err
			}
			sku = rec.SKU
		}
		items = append(items, model.OrderItem{
			ProductID:     it.ProductID,
			VariantID:     it.VariantID,
			SKU:           sku,
			Quantity:      it.Quantity,
			UnitPrice:     it.UnitPrice,
			TotalPrice:    lineTotals[i],
			StockReserved: heldItems[lineLabel(model.StockLine{ProductID: it.ProductID, VariantID: it.VariantID})],
			CreatedAt:     now,
		})
	}
	if err := r.OrderItems().CreateBulk(ctx, orderID, items); err != nil {
		return model.Order{}, err
	}
	order.Items = items

	if err := u.audit(ctx, r, userID, model.AuditActionOrderPlaced, orderID, nil, order); err != nil {
		return model.Order{}, err
	}

	u.metrics.OrderTransition("NONE", string(model.OrderStatusPendingPayment))
	u.logger.Info("order placed",
		zap.Int64("order_id", orderID),
		zap.Int64("user_id", userID),
		zap.Int64("total", total),
		zap.Time("reservation_expires_at", expiresAt))
	return order, nil
}

// CancelOrder は利用者または管理者のキャンセル。
// 取り消せない状態なら InvalidStateTransition を返す（黙って成功にはしない）。
func (u *OrderUsecase) CancelOrder(ctx context.Context, actor Actor, orderID int64, reason model.CancelReason) (model.Order, error) {
	if actor.UserID <= 0 && !actor.IsAdmin {
		return model.Order{}, NewHTTPError(http.StatusUnauthorized, "unauthorized")
	}
	if orderID <= 0 {
		return model.Order{}, NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	if err := reason.Validate(); err != nil {
		return model.Order{}, NewHTTPError(http.StatusBadRequest, "invalid cancel reason")
	}

	var out model.Order
	err := u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		o, err := u.lockOrder(ctx, r, orderID)
		if err != nil {
			return err
		}
		//他人の注文は存在しない扱い
		if !actor.IsAdmin && o.UserID != actor.UserID {
			return fmt.Errorf("%w: %d", ErrOrderNotFound, orderID)
		}
		out, err = u.cancelTx(ctx, r, o, reason, actor.UserID)
		return err
	})
	if err != nil {
		return model.Order{}, err
	}
	return out, nil
}

// CancelForPaymentFailureTx は決済失敗による取り消し。o はロック済みであること。
func (u *OrderUsecase) CancelForPaymentFailureTx(ctx context.Context, r repo.TxRepos, o model.Order, detail string) (model.Order, error) {
	return u.cancelTx(ctx, r, o, model.CancelReason{Code: model.CancelReasonPaymentFailed, Detail: detail}, model.SystemActorID)
}

func (u *OrderUsecase) cancelTx(ctx context.Context, r repo.TxRepos, o model.Order, reason model.CancelReason, actorID int64) (model.Order, error) {
	if !model.CanTransition(o.Status, model.OrderStatusCancelled) {
		return model.Order{}, u.invalidTransition(o, model.OrderStatusCancelled)
	}

	before := o
	if o.Status.HoldsReservation() {
		if err := u.ledger.Release(ctx, r, o.StockLines()); err != nil {
			return model.Order{}, err
		}
	}

	now := u.now()
	from := o.Status
	o.Status = model.OrderStatusCancelled
	o.ReservationExpiresAt = nil
	o.CancelledAt = &now
	o.CancelReason = reason.Code
	o.CancelDetail = reason.Detail
	if reason.Code == model.CancelReasonPaymentFailed {
		o.PaymentStatus = model.PaymentStatusFailed
	}
	o.UpdatedAt = now

	if err := u.transition(ctx, r, o, from); err != nil {
		return model.Order{}, err
	}
	if err := u.audit(ctx, r, actorID, model.AuditActionOrderCancelled, o.ID, before, o); err != nil {
		return model.Order{}, err
	}

	u.logger.Info("order cancelled",
		zap.Int64("order_id", o.ID),
		zap.String("from", string(from)),
		zap.String("reason", string(reason.Code)))
	return o, nil
}

// MarkPaidTx は在庫を確定して PAID にする。o はロック済みで明細を含むこと。
func (u *OrderUsecase) MarkPaidTx(ctx context.Context, r repo.TxRepos, o model.Order) (model.Order, error) {
	if !model.CanTransition(o.Status, model.OrderStatusPaid) {
		return model.Order{}, u.invalidTransition(o, model.OrderStatusPaid)
	}

	before := o
	if err := u.ledger.Commit(ctx, r, o.StockLines()); err != nil {
		return model.Order{}, err
	}

	now := u.now()
	from := o.Status
	o.Status = model.OrderStatusPaid
	o.PaymentStatus = model.PaymentStatusSucceeded
	o.ReservationExpiresAt = nil
	o.PaidAt = &now
	o.UpdatedAt = now

	if err := u.transition(ctx, r, o, from); err != nil {
		return model.Order{}, err
	}
	if err := u.audit(ctx, r, model.SystemActorID, model.AuditActionOrderPaid, o.ID, before, o); err != nil {
		return model.Order{}, err
	}

	u.logger.Info("order paid", zap.Int64("order_id", o.ID), zap.Int64("total", o.Total))
	return o, nil
}

// ExpireOrder は期限切れの注文を EXPIRED にする。
// PENDING_PAYMENT でない、またはまだ期限前なら何もしない（false）。何度呼んでもよい。
func (u *OrderUsecase) ExpireOrder(ctx context.Context, orderID int64) (bool, error) {
	var expired bool
	err := u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		var err error
		expired, err = u.ExpireOrderTx(ctx, r, orderID)
		return err
	})
	return expired, err
}

func (u *OrderUsecase) ExpireOrderTx(ctx context.Context, r repo.TxRepos, orderID int64) (bool, error) {
	o, err := u.lockOrder(ctx, r, orderID)
	if err != nil {
		return false, err
	}
	if o.Status != model.OrderStatusPendingPayment {
		return false, nil
	}
	now := u.now()
	if o.ReservationExpiresAt != nil && now.Before(*o.ReservationExpiresAt) {
		return false, nil
	}

	before := o
	if err := u.ledger.Release(ctx, r, o.StockLines()); err != nil {
		return false, err
	}

	o.Status = model.OrderStatusExpired
	o.ReservationExpiresAt = nil
	o.CancelReason = model.CancelReasonExpired
	o.UpdatedAt = now
	if err := u.transition(ctx, r, o, model.OrderStatusPendingPayment); err != nil {
		return false, err
	}
	if err := u.audit(ctx, r, model.SystemActorID, model.AuditActionOrderExpired, o.ID, before, o); err != nil {
		return false, err
	}

	u.logger.Info("order expired", zap.Int64("order_id", o.ID))
	return true, nil
}

// 期限切れの PENDING_PAYMENT を id 順に afterID の次から。
// 失敗した id で次のページが止まらないよう、呼び出し側は最後の id を渡して進める。
func (u *OrderUsecase) FindExpiredOrders(ctx context.Context, afterID int64, limit int) ([]int64, error) {
	if limit <= 0 {
		limit = 100
	}
	var ids []int64
	err := u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		var err error
		ids, err = r.Orders().ListExpiredPending(ctx, u.now(), afterID, limit)
		return err
	})
	return ids, err
}

// 自分の注文の詳細
func (u *OrderUsecase) GetOrder(ctx context.Context, userID int64, orderID int64) (model.Order, error) {
	if userID <= 0 {
		return model.Order{}, NewHTTPError(http.StatusUnauthorized, "unauthorized")
	}
	if orderID <= 0 {
		return model.Order{}, NewHTTPError(http.StatusBadRequest, "invalid id")
	}

	o, err := u.FindOrder(ctx, orderID)
	if err != nil {
		return model.Order{}, err
	}
	if o.UserID != userID {
		return model.Order{}, fmt.Errorf("%w: %d", ErrOrderNotFound, orderID)
	}
	return o, nil
}

// 所有者チェックなしで取得（システム用）
func (u *OrderUsecase) FindOrder(ctx context.Context, orderID int64) (model.Order, error) {
	var out model.Order
	err := u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		o, err := r.Orders().FindByID(ctx, orderID)
		if errors.Is(err, repo.ErrNotFound) {
			return fmt.Errorf("%w: %d", ErrOrderNotFound, orderID)
		}
		if err != nil {
			return err
		}
		o.Items, err = r.OrderItems().ListByOrderID(ctx, orderID)
		if err != nil {
			return err
		}
		out = o
		return nil
	})
	return out, err
}

func (u *OrderUsecase) ListOrders(ctx context.Context, userID int64, page, limit int) ([]model.Order, int64, error) {
	if userID <= 0 {
		return nil, 0, NewHTTPError(http.StatusUnauthorized, "unauthorized")
	}
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 100 {
		limit = 20
	}

	var outs []model.Order
	var total int64
	err := u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		orders, n, err := r.Orders().ListByUserID(ctx, userID, page, limit)
		if err != nil {
			return err
		}
		outs = make([]model.Order, 0, len(orders))
		for _, o := range orders {
			o.Items, err = r.OrderItems().ListByOrderID(ctx, o.ID)
			if err != nil {
				return err
			}
			outs = append(outs, o)
		}
		total = n
		return nil
	})
	if err != nil {
		return nil, 0, err
	}
	return outs, total, nil
}

// 行ロックを取って明細ごと読む
func (u *OrderUsecase) lockOrder(ctx context.Context, r repo.TxRepos, orderID int64) (model.Order, error) {
	o, err := r.Orders().FindByIDForUpdate(ctx, orderID)
	if errors.Is(err, repo.ErrNotFound) {
		return model.Order{}, fmt.Errorf("%w: %d", ErrOrderNotFound, orderID)
	}
	if err != nil {
		return model.Order{}, err
	}
	o.Items, err = r.OrderItems().ListByOrderID(ctx, orderID)
	if err != nil {
		return model.Order{}, err
	}
	return o, nil
}

func (u *OrderUsecase) transition(ctx context.Context, r repo.TxRepos, o model.Order, from model.OrderStatus) error {
	if err := r.Orders().Transition(ctx, o, from); err != nil {
		if errors.Is(err, repo.ErrConflict) {
			//ロック中なので通常は来ない
			return u.invalidTransition(model.Order{ID: o.ID, Status: from}, o.Status)
		}
		return err
	}
	u.metrics.OrderTransition(string(from), string(o.Status))
	return nil
}

func (u *OrderUsecase) invalidTransition(o model.Order, to model.OrderStatus) error {
	err := &InvalidTransitionError{OrderID: o.ID, From: o.Status, To: to}
	u.logger.Error("invalid order transition",
		zap.Int64("order_id", o.ID),
		zap.String("from", string(o.Status)),
		zap.String("to", string(to)))
	return err
}

type orderSnapshot struct {
	Status        model.OrderStatus      `json:"status"`
	PaymentStatus model.PaymentStatus    `json:"payment_status"`
	Total         int64                  `json:"total"`
	CancelReason  model.CancelReasonCode `json:"cancel_reason,omitempty"`
	Items         []model.StockLine      `json:"items,omitempty"`
}

func (u *OrderUsecase) audit(ctx context.Context, r repo.TxRepos, actorID int64, action model.AuditAction, orderID int64, before any, after model.Order) error {
	beforeJSON := ""
	if b, ok := before.(model.Order); ok {
		beforeJSON = snapshotJSON(b)
	}
	return r.AuditLogs().Create(ctx, model.AuditLog{
		ActorUserID:  actorID,
		Action:       action,
		ResourceType: model.AuditResourceOrder,
		ResourceID:   orderID,
		BeforeJSON:   beforeJSON,
		AfterJSON:    snapshotJSON(after),
		CreatedAt:    u.now(),
	})
}

var errAmountTooLarge = NewHTTPError(http.StatusBadRequest, "order amount too large")

// 金額は非負なので上限だけ見る
func mulAmount(a, b int64) (int64, bool) {
	if a == 0 || b == 0 {
		return 0, true
	}
	if a > math.MaxInt64/b {
		return 0, false
	}
	return a * b, true
}

func addAmount(a, b int64) (int64, bool) {
	if a > math.MaxInt64-b {
		return 0, false
	}
	return a + b, true
}

func snapshotJSON(o model.Order) string {
	b, err := json.Marshal(orderSnapshot{
		Status:        o.Status,
		PaymentStatus: o.PaymentStatus,
		Total:         o.Total,
		CancelReason:  o.CancelReason,
		Items:         o.StockLines(),
	})
	if err != nil {
		return ""
	}
	return string(b)
}
