package repository

import (
	"context"

	"shopapi/internal/domain/model"
	repo "shopapi/internal/repository"

	"gorm.io/gorm"
)

type AuditLogGormRepository struct {
	db *gorm.DB
}

// DI
func NewAuditLogGormRepository(db *gorm.DB) *AuditLogGormRepository {
	return &AuditLogGormRepository{db: db}
}

// Pay・在庫調整と同じTxで書く
func (r *AuditLogGormRepository) Create(ctx context.Context, log model.AuditLog) error {
	return translateErr(r.db.WithContext(ctx).Create(&log).Error)
}

func (r *AuditLogGormRepository) List(ctx context.Context, f repo.AuditLogFilter) ([]model.AuditLog, int64, error) {
	tx := r.db.WithContext(ctx).Model(&model.AuditLog{})

	if f.ActorUserID != nil {
		tx = tx.Where("actor_user_id = ?", *f.ActorUserID)
	}
	if len(f.Actions) > 0 {
		tx = tx.Where("action IN ?", f.Actions)
	}
	if f.Resource != nil {
		tx = tx.Where("resource_type = ?", f.Resource.Type)
		if f.Resource.ID != "" {
			tx = tx.Where("resource_id = ?", f.Resource.ID)
		}
	}
	if f.Since != nil {
		tx = tx.Where("created_at >= ?", *f.Since)
	}
	if f.Until != nil {
		tx = tx.Where("created_at < ?", *f.Until)
	}

	var total int64
	if err := tx.Count(&total).Error; err != nil {
		return []model.AuditLog{}, 0, translateErr(err)
	}

	// 同じ時刻はIDで並べる
	tx = tx.Order("created_at desc").Order("id desc")
	if f.Limit > 0 {
		tx = tx.Limit(f.Limit)
	}
	if f.Offset > 0 {
		tx = tx.Offset(f.Offset)
	}

	logs := []model.AuditLog{}
	if err := tx.Find(&logs).Error; err != nil {
		return []model.AuditLog{}, 0, translateErr(err)
	}
	return logs, total, nil
}
