package repository

import (
	"context"
	"time"

	"shopapi/internal/domain/model"
)

// 対象リソース（注文1件の履歴、商品1件の在庫履歴など）
type AuditResource struct {
	Type model.AuditResourceType
	// 空なら種類だけで絞る
	ID string
}

type AuditLogFilter struct {
	ActorUserID *string
	// どれかに一致（空なら全部）
	Actions  []model.AuditAction
	Resource *AuditResource
	Since    *time.Time
	Until    *time.Time
	Limit    int
	Offset   int
}

// 監査ログの保存・一覧取得の約束。一覧は新しい順で、件数はLimit/Offset前の総数。
type AuditLogRepository interface {
	Create(ctx context.Context, log model.AuditLog) error
	List(ctx context.Context, filter AuditLogFilter) ([]model.AuditLog, int64, error)
}
