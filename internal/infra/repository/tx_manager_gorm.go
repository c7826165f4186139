package repository

import (
	"context"

	repo "storefront/internal/repository"

	"gorm.io/gorm"
)

type txReposGorm struct {
	inventory   repo.InventoryRepository
	orders      repo.OrderRepository
	orderItems  repo.OrderItemRepository
	payments    repo.PaymentRepository
	idempotency repo.IdempotencyRepository
	auditLogs   repo.AuditLogRepository
}

func (r *txReposGorm) Inventory() repo.InventoryRepository     { return r.inventory }
func (r *txReposGorm) Orders() repo.OrderRepository            { return r.orders }
func (r *txReposGorm) OrderItems() repo.OrderItemRepository    { return r.orderItems }
func (r *txReposGorm) Payments() repo.PaymentRepository        { return r.payments }
func (r *txReposGorm) Idempotency() repo.IdempotencyRepository { return r.idempotency }
func (r *txReposGorm) AuditLogs() repo.AuditLogRepository      { return r.auditLogs }

type TxManagerGorm struct {
	db *gorm.DB
}

func NewTxManagerGorm(db *gorm.DB) *TxManagerGorm {
	return &TxManagerGorm{db: db}
}

func (tm *TxManagerGorm) WithinTx(ctx context.Context, fn func(r repo.TxRepos) error) error {
	return tm.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		//repoはtxを持ったDBで作り直す
		r := &txReposGorm{
			inventory:   NewInventoryGormRepository(tx),
			orders:      NewOrderGormRepository(tx),
			orderItems:  NewOrderItemGormRepository(tx),
			payments:    NewPaymentGormRepository(tx),
			idempotency: NewIdempotencyGormRepository(tx),
			auditLogs:   NewAuditLogGormRepository(tx),
		}
		return fn(r)
	})
}
