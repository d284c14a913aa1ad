package usecase

import (
	"context"
	"strings"
	"time"

	"shopapi/internal/domain/model"
	repo "shopapi/internal/repository"
)

const (
	defaultAuditLimit = 50
	maxAuditLimit     = 200
)

type AuditLogUsecase struct {
	auditRepo repo.AuditLogRepository
}

func NewAuditLogUsecase(auditRepo repo.AuditLogRepository) *AuditLogUsecase {
	return &AuditLogUsecase{auditRepo: auditRepo}
}

// ResourceIDだけの指定は不可（種類とセット）
type ListAuditLogsInput struct {
	ActorUserID  string
	Actions      []string
	ResourceType string
	ResourceID   string
	From         *time.Time
	To           *time.Time
	Limit        int
	Offset       int
}

type AuditLogListOutput struct {
	Items  []model.AuditLog `json:"items"`
	Total  int64            `json:"total"`
	Limit  int              `json:"limit"`
	Offset int              `json:"offset"`
}

// 管理者用の監査ログ一覧（新しい順）。注文や商品ごとの履歴もここから引く。
func (u *AuditLogUsecase) List(ctx context.Context, actor Actor, in ListAuditLogsInput) (AuditLogListOutput, error) {
	if err := requireAdmin(actor); err != nil {
		return AuditLogListOutput{}, err
	}

	f, err := in.toFilter()
	if err != nil {
		return AuditLogListOutput{}, err
	}

	logs, total, err := u.auditRepo.List(ctx, f)
	if err != nil {
		return AuditLogListOutput{}, errInternal(err)
	}
	return AuditLogListOutput{Items: logs, Total: total, Limit: f.Limit, Offset: f.Offset}, nil
}

func (in ListAuditLogsInput) toFilter() (repo.AuditLogFilter, error) {
	if in.Limit < 0 || in.Limit > maxAuditLimit || in.Offset < 0 {
		return repo.AuditLogFilter{}, errValidation("invalid limit or offset")
	}
	if in.From != nil && in.To != nil && !in.From.Before(*in.To) {
		return repo.AuditLogFilter{}, errValidation("from must be before to")
	}

	f := repo.AuditLogFilter{
		Since:  in.From,
		Until:  in.To,
		Limit:  in.Limit,
		Offset: in.Offset,
	}
	if f.Limit == 0 {
		f.Limit = defaultAuditLimit
	}
	if id := strings.TrimSpace(in.ActorUserID); id != "" {
		f.ActorUserID = &id
	}

	for _, a := range in.Actions {
		action := model.AuditAction(strings.ToUpper(strings.TrimSpace(a)))
		if action == "" {
			continue
		}
		if !action.Valid() {
			return repo.AuditLogFilter{}, errValidation("unknown action: " + a)
		}
		f.Actions = append(f.Actions, action)
	}

	rt := model.AuditResourceType(strings.ToLower(strings.TrimSpace(in.ResourceType)))
	rid := strings.TrimSpace(in.ResourceID)
	switch {
	case rt != "":
		f.Resource = &repo.AuditResource{Type: rt, ID: rid}
	case rid != "":
		return repo.AuditLogFilter{}, errValidation("resource_id requires resource_type")
	}
	return f, nil
}
