package repository

import (
	"context"

	"storefront/internal/domain/model"
	repo "storefront/internal/repository"

	"gorm.io/gorm"
)

const (
	defaultAuditPage = 50
	maxAuditPage     = 200
)

type AuditLogGormRepository struct {
	db *gorm.DB
}

func NewAuditLogGormRepository(db *gorm.DB) *AuditLogGormRepository {
	return &AuditLogGormRepository{db: db}
}

// 監査ログは追記のみ
func (r *AuditLogGormRepository) Create(ctx context.Context, entry model.AuditLog) error {
	return r.db.WithContext(ctx).Create(&entry).Error
}

// 新しい順。未指定の条件は絞り込まない。
func (r *AuditLogGormRepository) List(ctx context.Context, f repo.AuditLogFilter) ([]model.AuditLog, error) {
	var logs []model.AuditLog
	err := r.db.WithContext(ctx).
		Scopes(auditConditions(f), auditPage(f.Limit, f.Offset)).
		Order("id desc").
		Find(&logs).Error
	if err != nil {
		return []model.AuditLog{}, err
	}
	return logs, nil
}

func auditConditions(f repo.AuditLogFilter) func(*gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		conds := []struct {
			set   bool
			query string
			arg   func() any
		}{
			{f.ActorUserID != nil, "actor_user_id = ?", func() any { return *f.ActorUserID }},
			{f.Action != nil, "action = ?", func() any { return *f.Action }},
			{f.ResourceType != nil, "resource_type = ?", func() any { return *f.ResourceType }},
			{f.ResourceID != nil, "resource_id = ?", func() any { return *f.ResourceID }},
			{f.CreatedFrom != nil, "created_at >= ?", func() any { return *f.CreatedFrom }},
			{f.CreatedTo != nil, "created_at <= ?", func() any { return *f.CreatedTo }},
		}
		for _, c := range conds {
			if c.set {
				db = db.Where(c.query, c.arg())
			}
		}
		return db
	}
}

func auditPage(limit, offset int) func(*gorm.DB) *gorm.DB {
	if limit <= 0 || limit > maxAuditPage {
		limit = defaultAuditPage
	}
	if offset < 0 {
		offset = 0
	}
	return func(db *gorm.DB) *gorm.DB {
		return db.Limit(limit).Offset(offset)
	}
}
