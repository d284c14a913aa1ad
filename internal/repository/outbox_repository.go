package repository

import (
	"context"
	"time"

	"shopapi/internal/domain/model"
)

type OutboxRepository interface {
	Create(ctx context.Context, ev model.OutboxEvent) error
	// 未送信を古い順に
	FetchPending(ctx context.Context, limit int) ([]model.OutboxEvent, error)
	MarkSent(ctx context.Context, ids []int64, at time.Time) error
}
