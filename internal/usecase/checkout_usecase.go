package usecase

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"storefront/internal/domain/model"
	"storefront/internal/idempotency"
	repo "storefront/internal/repository"
)

// CheckoutUsecase は二重送信されても注文が1件だけになるようにする。
// クライアントのキーは利用者ごとの名前空間で再ハッシュされる。
type CheckoutUsecase struct {
	exec   *idempotency.Executor
	orders *OrderUsecase
}

func NewCheckoutUsecase(exec *idempotency.Executor, orders *OrderUsecase) *CheckoutUsecase {
	return &CheckoutUsecase{exec: exec, orders: orders}
}

func (u *CheckoutUsecase) Checkout(ctx context.Context, userID int64, idempotencyKey string, in CreateOrderInput) (model.Order, error) {
	if userID <= 0 {
		return model.Order{}, NewHTTPError(http.StatusUnauthorized, "unauthorized")
	}
	key := strings.TrimSpace(idempotencyKey)
	if key == "" {
		return model.Order{}, NewHTTPError(http.StatusBadRequest, "X-Idempotency-Key is required")
	}

	hash, err := idempotency.RequestHash("checkout", in)
	if err != nil {
		return model.Order{}, err
	}

	return idempotency.Execute(ctx, u.exec, key, func(ctx context.Context, r repo.TxRepos) (model.Order, error) {
		return u.orders.CreatePendingOrderTx(ctx, r, userID, in)
	},
		idempotency.WithNamespace(fmt.Sprintf("user:%d", userID)),
		idempotency.WithRequestHash(hash),
		idempotency.WithRejection(isCheckoutRejection),
	)
}

// 在庫不足や入力エラーは再試行の失敗に数えない
func isCheckoutRejection(err error) bool {
	if errors.Is(err, ErrInsufficientStock) || errors.Is(err, ErrInventoryNotFound) {
		return true
	}
	he, ok := AsHTTPError(err)
	return ok && he.Status < http.StatusInternalServerError
}
