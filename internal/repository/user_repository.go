package repository

import (
	"context"

	"shopapi/internal/domain/model"
)

// 見つからなければErrNotFound、email重複はErrDuplicate
type UserRepository interface {
	Create(ctx context.Context, user *model.User) error
	FindByID(ctx context.Context, userID string) (*model.User, error)
	FindByEmail(ctx context.Context, email string) (*model.User, error)
	// アクティブかどうか・ロールの変更・最後のログイン更新など
	Update(ctx context.Context, user *model.User) error
	IncrementTokenVersion(ctx context.Context, userID string) error
}
