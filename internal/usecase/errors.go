package usecase

import (
	"errors"
	"fmt"

	"storefront/internal/domain/model"
)

// 入力エラーなど、そのままステータスを返したいもの
type HTTPError struct {
	Status  int
	Message string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("%d: %s", e.Status, e.Message)
}

func NewHTTPError(status int, message string) error {
	return &HTTPError{
		Status:  status,
		Message: message,
	}
}

func AsHTTPError(err error) (*HTTPError, bool) {
	var he *HTTPError
	ok := errors.As(err, &he)
	return he, ok
}

var (
	//在庫不足（利用者に別の商品を案内する）
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrInventoryNotFound = errors.New("inventory not found")
	ErrOrderNotFound     = errors.New("order not found")
	//許可されていない状態遷移
	ErrInvalidStateTransition = errors.New("invalid state transition")
	//在庫の不変条件違反。プログラムの誤り。
	ErrInvariantViolation    = errors.New("ledger invariant violation")
	ErrPaymentAmountMismatch = errors.New("payment amount does not match order total")
)

type InsufficientStockError struct {
	SKU       string
	ProductID int64
	VariantID *int64
	Available int64
	Requested int64
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for %s: available %d < requested %d", e.SKU, e.Available, e.Requested)
}

func (e *InsufficientStockError) Is(target error) bool {
	return target == ErrInsufficientStock
}

type InvalidTransitionError struct {
	OrderID int64
	From    model.OrderStatus
	To      model.OrderStatus
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("order %d: cannot transition from %s to %s", e.OrderID, e.From, e.To)
}

func (e *InvalidTransitionError) Is(target error) bool {
	return target == ErrInvalidStateTransition
}

type InvariantError struct {
	Op     string
	SKU    string
	Detail string
}

func (e *InvariantError) Error() string {
	return fmt.Sprintf("ledger invariant violated during %s on %s: %s", e.Op, e.SKU, e.Detail)
}

func (e *InvariantError) Is(target error) bool {
	return target == ErrInvariantViolation
}
