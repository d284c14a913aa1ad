package auth

import (
	"context"
	"errors"
	"fmt"

	"shopapi/internal/domain/model"
	"shopapi/internal/repository"
	"shopapi/internal/usecase"

	"github.com/google/uuid"
)

type ForceLogoutResponse struct {
	UserID          string `json:"user_id"`
	NewTokenVersion int    `json:"new_token_version"`
}

// AccountUsecase はログイン中ユーザーの参照と、管理者による強制ログアウト。
type AccountUsecase struct {
	userRepo repository.UserRepository
	tx       repository.TransactionManager
}

func NewAccountUsecase(userRepo repository.UserRepository, tx repository.TransactionManager) *AccountUsecase {
	return &AccountUsecase{userRepo: userRepo, tx: tx}
}

func (u *AccountUsecase) Me(ctx context.Context, actor usecase.Actor) (UserDTO, error) {
	if actor.UserID == "" {
		return UserDTO{}, usecase.NewError(usecase.KindUnauthorized, "unauthorized")
	}

	user, err := u.userRepo.FindByID(ctx, actor.UserID)
	if errors.Is(err, repository.ErrNotFound) {
		return UserDTO{}, usecase.NewError(usecase.KindUnauthorized, "unauthorized")
	}
	if err != nil {
		return UserDTO{}, &usecase.Error{Kind: usecase.KindInternal, Message: "db error", Err: err}
	}
	if !user.IsActive {
		return UserDTO{}, usecase.NewError(usecase.KindForbidden, "user is inactive")
	}
	return toUserDTO(user), nil
}

// ForceLogout はtoken_versionを+1して、発行済みトークンを全部無効にする。
func (u *AccountUsecase) ForceLogout(ctx context.Context, actor usecase.Actor, targetUserID string) (ForceLogoutResponse, error) {
	if !actor.IsAdmin() {
		return ForceLogoutResponse{}, usecase.NewError(usecase.KindForbidden, "admin only")
	}
	if _, err := uuid.Parse(targetUserID); err != nil {
		return ForceLogoutResponse{}, usecase.NewError(usecase.KindValidation, "invalid user id")
	}

	var out ForceLogoutResponse
	err := u.tx.WithinTx(ctx, func(r repository.TxRepos) error {
		before, err := r.Users().FindByID(ctx, targetUserID)
		if errors.Is(err, repository.ErrNotFound) {
			return usecase.NewError(usecase.KindNotFound, "user not found")
		}
		if err != nil {
			return err
		}

		if err := r.Users().IncrementTokenVersion(ctx, targetUserID); err != nil {
			return err
		}

		if err := r.AuditLogs().Create(ctx, model.AuditLog{
			ActorUserID:  actor.UserID,
			Action:       model.AuditActionForceLogout,
			ResourceType: model.AuditResourceUser,
			ResourceID:   targetUserID,
			BeforeJSON:   fmt.Sprintf(`{"token_version":%d}`, before.TokenVersion),
			AfterJSON:    fmt.Sprintf(`{"token_version":%d}`, before.TokenVersion+1),
		}); err != nil {
			return err
		}

		out = ForceLogoutResponse{UserID: targetUserID, NewTokenVersion: before.TokenVersion + 1}
		return nil
	})
	if err != nil {
		if _, ok := usecase.AsError(err); ok {
			return ForceLogoutResponse{}, err
		}
		return ForceLogoutResponse{}, &usecase.Error{Kind: usecase.KindInternal, Message: "db error", Err: err}
	}
	return out, nil
}
