package repository

import (
	"context"
	"time"

	"shopapi/internal/domain/model"

	"gorm.io/gorm"
)

type OutboxGormRepository struct {
	db *gorm.DB
}

func NewOutboxGormRepository(db *gorm.DB) *OutboxGormRepository {
	return &OutboxGormRepository{db: db}
}

func (r *OutboxGormRepository) Create(ctx context.Context, ev model.OutboxEvent) error {
	return r.db.WithContext(ctx).Create(&ev).Error
}

// 複数のリレーが動いても同じ行を取らない
func (r *OutboxGormRepository) FetchPending(ctx context.Context, limit int) ([]model.OutboxEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	var events []model.OutboxEvent
	err := r.db.WithContext(ctx).
		Raw(`SELECT * FROM outbox_events WHERE sent_at IS NULL ORDER BY id ASC LIMIT ? FOR UPDATE SKIP LOCKED`, limit).
		Scan(&events).Error
	if err != nil {
		return []model.OutboxEvent{}, err
	}
	return events, nil
}

func (r *OutboxGormRepository) MarkSent(ctx context.Context, ids []int64, at time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).
		Model(&model.OutboxEvent{}).
		Where("id IN ?", ids).
		Update("sent_at", at).Error
}
