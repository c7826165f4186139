package usecase

import (
	"context"
	"net/http"
	"strings"

	"storefront/internal/domain/model"
	repo "storefront/internal/repository"
)

// 監査ログの閲覧（管理者向け）
type AuditUsecase struct {
	tx repo.TransactionManager
}

func NewAuditUsecase(tx repo.TransactionManager) *AuditUsecase {
	return &AuditUsecase{tx: tx}
}

type AuditQuery struct {
	ResourceType string
	ResourceID   int64
	Action       string
	Limit        int
	Offset       int
}

var knownAuditActions = map[model.AuditAction]bool{
	model.AuditActionUpdateStock:    true,
	model.AuditActionOrderPlaced:    true,
	model.AuditActionOrderPaid:      true,
	model.AuditActionOrderCancelled: true,
	model.AuditActionOrderExpired:   true,
}

func (u *AuditUsecase) List(ctx context.Context, q AuditQuery) ([]model.AuditLog, error) {
	var f repo.AuditLogFilter

	if a := model.AuditAction(strings.ToUpper(strings.TrimSpace(q.Action))); a != "" {
		if !knownAuditActions[a] {
			return nil, NewHTTPError(http.StatusBadRequest, "invalid action")
		}
		f.Action = &a
	}
	switch rt := model.AuditResourceType(strings.ToLower(strings.TrimSpace(q.ResourceType))); rt {
	case "":
	case model.AuditResourceInventory, model.AuditResourceOrder:
		f.ResourceType = &rt
	default:
		return nil, NewHTTPError(http.StatusBadRequest, "invalid resource_type")
	}
	if q.ResourceID < 0 {
		return nil, NewHTTPError(http.StatusBadRequest, "invalid resource_id")
	}
	if q.ResourceID > 0 {
		f.ResourceID = &q.ResourceID
	}
	if q.Limit < 0 || q.Offset < 0 {
		return nil, NewHTTPError(http.StatusBadRequest, "invalid paging")
	}
	f.Limit = q.Limit
	f.Offset = q.Offset

	var out []model.AuditLog
	err := u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		var err error
		out, err = r.AuditLogs().List(ctx, f)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
